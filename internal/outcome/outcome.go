// Package outcome draws the payout multiplier for a single wager round.
package outcome

import "math/rand"

// Entry is one row of the multiplier distribution.
type Entry struct {
	Multiplier  int
	Probability float64
}

// Table is the fixed payout distribution, walked in source order. The
// probabilities sum to 1 within floating tolerance.
var Table = []Entry{
	{Multiplier: 0, Probability: 0.6516},
	{Multiplier: 1, Probability: 0.18},
	{Multiplier: 2, Probability: 0.14},
	{Multiplier: 5, Probability: 0.015},
	{Multiplier: 10, Probability: 0.008},
	{Multiplier: 25, Probability: 0.004},
	{Multiplier: 50, Probability: 0.001},
	{Multiplier: 100, Probability: 0.0003},
	{Multiplier: 1000, Probability: 0.0001},
}

// Generator draws multipliers from Table. Draws are stateless and
// independent of stake, user and history.
type Generator struct {
	randFloat func() float64
}

// New returns a Generator backed by the shared math/rand source, which is
// safe for concurrent use.
func New() *Generator {
	return &Generator{randFloat: rand.Float64}
}

// NewWithRand returns a Generator drawing uniform samples from randFloat.
// randFloat must return values in [0,1) and be safe for concurrent use if
// the Generator is shared.
func NewWithRand(randFloat func() float64) *Generator {
	return &Generator{randFloat: randFloat}
}

// Draw samples one multiplier: walk the table accumulating probability and
// return the first entry whose cumulative probability reaches the sample.
// If floating-point rounding leaves the walk short of the sample, the last
// (highest-multiplier) entry is returned. That fallback is part of the
// observable tail behaviour and must not be removed.
func (g *Generator) Draw() int {
	r := g.randFloat()
	acc := 0.0
	for _, e := range Table {
		acc += e.Probability
		if r <= acc {
			return e.Multiplier
		}
	}
	return Table[len(Table)-1].Multiplier
}
