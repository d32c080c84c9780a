package game

import (
	"context"
	"sync"
	"testing"

	"github.com/racetan/plinko/internal/outcome"
	"github.com/racetan/plinko/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedOutcomes yields multipliers from a scripted sequence of uniform
// samples, repeating the last one when exhausted.
func fixedOutcomes(samples ...float64) *outcome.Generator {
	var mu sync.Mutex
	i := 0
	return outcome.NewWithRand(func() float64 {
		mu.Lock()
		defer mu.Unlock()
		s := samples[i]
		if i < len(samples)-1 {
			i++
		}
		return s
	})
}

// Samples inside the cumulative bands of the outcome table.
const (
	sampleZero = 0.3 // multiplier 0
	sampleTwo  = 0.9 // multiplier 2
)

func newTestEngine(samples ...float64) *Engine {
	if len(samples) == 0 {
		samples = []float64{sampleZero}
	}
	return NewEngine(store.NewMemory(), fixedOutcomes(samples...))
}

func TestEngine_OperationsBeforeInitialize(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	_, err := e.Wager(ctx, 1, 2.0)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = e.CashOut(ctx, 1)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestEngine_InitializeIsIdempotent(t *testing.T) {
	e := newTestEngine(sampleTwo)
	ctx := context.Background()

	first, err := e.Initialize(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, InitialBalance, first.Balance)
	assert.Equal(t, 0, first.BallsPlayed)
	assert.False(t, first.CashedOut)
	assert.False(t, first.Finished)

	// Mutate the session, then re-initialize: state must be returned
	// unchanged, not reset.
	_, err = e.Wager(ctx, 1, 3.0)
	require.NoError(t, err)

	second, err := e.Initialize(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 8.0, second.Balance)
	assert.Equal(t, 1, second.BallsPlayed)

	third, err := e.Initialize(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, second, third)
}

func TestEngine_WagerArithmetic(t *testing.T) {
	e := newTestEngine(sampleTwo)
	ctx := context.Background()

	_, err := e.Initialize(ctx, 1)
	require.NoError(t, err)

	res, err := e.Wager(ctx, 1, 3.0)
	require.NoError(t, err)
	// balance_after = balance_before - stake + stake*multiplier
	assert.Equal(t, 5.0-3.0+6.0, res.Balance)
	assert.Equal(t, 2, res.Multiplier)
	assert.Equal(t, 3.0, res.Stake)
	assert.Equal(t, 1, res.BallsPlayed)
}

func TestEngine_StakeClamping(t *testing.T) {
	t.Run("below minimum charges MinBet", func(t *testing.T) {
		e := newTestEngine(sampleZero)
		ctx := context.Background()
		_, err := e.Initialize(ctx, 1)
		require.NoError(t, err)

		res, err := e.Wager(ctx, 1, 0.5)
		require.NoError(t, err)
		assert.Equal(t, MinBet, res.Stake)
		assert.Equal(t, InitialBalance-MinBet, res.Balance)
	})

	t.Run("above maximum charges MaxBet", func(t *testing.T) {
		e := newTestEngine(sampleZero)
		ctx := context.Background()
		_, err := e.Initialize(ctx, 1)
		require.NoError(t, err)

		res, err := e.Wager(ctx, 1, 100)
		require.NoError(t, err)
		assert.Equal(t, MaxBet, res.Stake)
		assert.Equal(t, InitialBalance-MaxBet, res.Balance)
	})
}

func TestEngine_InsufficientBalanceLeavesStateUnchanged(t *testing.T) {
	e := newTestEngine(sampleZero)
	ctx := context.Background()

	_, err := e.Initialize(ctx, 1)
	require.NoError(t, err)

	// Lose everything: 5.0 stake, multiplier 0.
	res, err := e.Wager(ctx, 1, 5.0)
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.Balance)

	_, err = e.Wager(ctx, 1, 1.0)
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	after, err := e.Initialize(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0.0, after.Balance)
	assert.Equal(t, 1, after.BallsPlayed)
}

func TestEngine_ZeroBalanceSessionStaysActive(t *testing.T) {
	// Running out of balance must not finish the session; only cash-out
	// reaches the terminal state.
	e := newTestEngine(sampleZero)
	ctx := context.Background()

	_, err := e.Initialize(ctx, 1)
	require.NoError(t, err)
	res, err := e.Wager(ctx, 1, 5.0)
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.Balance)
	assert.False(t, res.Finished)
	assert.False(t, res.CashedOut)

	_, err = e.Wager(ctx, 1, 1.0)
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.NotErrorIs(t, err, ErrSessionTerminal)
}

func TestEngine_CashOut(t *testing.T) {
	e := newTestEngine(sampleTwo)
	ctx := context.Background()

	_, err := e.Initialize(ctx, 1)
	require.NoError(t, err)
	_, err = e.Wager(ctx, 1, 3.0)
	require.NoError(t, err)

	final, err := e.CashOut(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 8.0, final.Balance)
	assert.True(t, final.CashedOut)
	assert.True(t, final.Finished)

	t.Run("subsequent wager is terminal", func(t *testing.T) {
		_, err := e.Wager(ctx, 1, 1.0)
		assert.ErrorIs(t, err, ErrSessionTerminal)
	})

	t.Run("repeated cashout is a safe no-op", func(t *testing.T) {
		again, err := e.CashOut(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, final, again)
	})

	t.Run("reads still succeed on terminal session", func(t *testing.T) {
		state, err := e.Initialize(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, final, state)
	})
}

func TestEngine_ExampleScenario(t *testing.T) {
	// Fresh user: wager 3.0 draws x2 -> 8.0; wager 10.0 clamps to 5.0 and
	// draws x0 -> 3.0; cash out freezes 3.0; further wagers are terminal.
	e := newTestEngine(sampleTwo, sampleZero)
	ctx := context.Background()

	init, err := e.Initialize(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, 5.0, init.Balance)

	first, err := e.Wager(ctx, 7, 3.0)
	require.NoError(t, err)
	assert.Equal(t, 8.0, first.Balance)
	assert.Equal(t, 2, first.Multiplier)
	assert.Equal(t, 1, first.BallsPlayed)

	second, err := e.Wager(ctx, 7, 10.0)
	require.NoError(t, err)
	assert.Equal(t, 5.0, second.Stake)
	assert.Equal(t, 0, second.Multiplier)
	assert.Equal(t, 3.0, second.Balance)
	assert.Equal(t, 2, second.BallsPlayed)

	final, err := e.CashOut(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 3.0, final.Balance)
	assert.True(t, final.CashedOut)
	assert.True(t, final.Finished)

	_, err = e.Wager(ctx, 7, 1.0)
	assert.ErrorIs(t, err, ErrSessionTerminal)
}

func TestEngine_ConcurrentWagersNoLostUpdates(t *testing.T) {
	// With balance 5.0 and stake 5.0 losing every draw, only one of N
	// concurrent wagers can be satisfied; the rest must fail with
	// insufficient balance and the final state must match a sequential
	// replay of the single winner.
	e := newTestEngine(sampleZero)
	ctx := context.Background()

	_, err := e.Initialize(ctx, 1)
	require.NoError(t, err)

	const n = 16
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.Wager(ctx, 1, 5.0)
		}(i)
	}
	wg.Wait()

	succeeded, insufficient := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case assert.ErrorIs(t, err, ErrInsufficientBalance):
			insufficient++
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, n-1, insufficient)

	state, err := e.Initialize(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0.0, state.Balance)
	assert.Equal(t, 1, state.BallsPlayed)
}

func TestEngine_ConcurrentInitializeCreatesOneSession(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	const n = 8
	var wg sync.WaitGroup
	states := make([]*SessionState, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := e.Initialize(ctx, 1)
			require.NoError(t, err)
			states[i] = s
		}(i)
	}
	wg.Wait()

	for _, s := range states {
		assert.Equal(t, InitialBalance, s.Balance)
		assert.Equal(t, 0, s.BallsPlayed)
	}
}

func TestEngine_DifferentUsersDoNotContend(t *testing.T) {
	e := newTestEngine(sampleTwo)
	ctx := context.Background()

	const users = 8
	var wg sync.WaitGroup
	for u := int64(1); u <= users; u++ {
		wg.Add(1)
		go func(u int64) {
			defer wg.Done()
			_, err := e.Initialize(ctx, u)
			require.NoError(t, err)
			res, err := e.Wager(ctx, u, 3.0)
			require.NoError(t, err)
			assert.Equal(t, 8.0, res.Balance)
		}(u)
	}
	wg.Wait()
}

func TestEngine_RoundsLedger(t *testing.T) {
	e := newTestEngine(sampleTwo, sampleZero)
	ctx := context.Background()

	_, err := e.Initialize(ctx, 1)
	require.NoError(t, err)
	_, err = e.Wager(ctx, 1, 3.0)
	require.NoError(t, err)
	_, err = e.Wager(ctx, 1, 2.0)
	require.NoError(t, err)

	rounds, err := e.Rounds(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, rounds, 2)

	// Newest first.
	assert.Equal(t, 2.0, rounds[0].Stake)
	assert.Equal(t, 0, rounds[0].Multiplier)
	assert.Equal(t, 0.0, rounds[0].WinAmount)
	assert.Equal(t, 3.0, rounds[1].Stake)
	assert.Equal(t, 2, rounds[1].Multiplier)
	assert.Equal(t, 6.0, rounds[1].WinAmount)
	assert.NotEmpty(t, rounds[0].Reference)
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 1.0, Clamp(0.5))
	assert.Equal(t, 1.0, Clamp(-3))
	assert.Equal(t, 2.5, Clamp(2.5))
	assert.Equal(t, 5.0, Clamp(100))
	assert.Equal(t, 1.0, Clamp(1.0))
	assert.Equal(t, 5.0, Clamp(5.0))
}
