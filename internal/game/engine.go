// Package game owns the session lifecycle: creation, wager evaluation,
// cash-out and terminal enforcement. Every mutating operation runs as one
// exclusive transaction against the user's session row.
package game

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"

	"github.com/google/uuid"
	"github.com/racetan/plinko/internal/models"
	"github.com/racetan/plinko/internal/outcome"
	"github.com/racetan/plinko/internal/store"
)

const (
	InitialBalance = 5.0
	MinBet         = 1.0
	MaxBet         = 5.0
)

var (
	// ErrSessionNotFound: a wager or cash-out arrived before init-session.
	ErrSessionNotFound = errors.New("game session not found")
	// ErrSessionTerminal: a wager arrived after cash-out; non-retryable.
	ErrSessionTerminal = errors.New("game session is finished")
	// ErrInsufficientBalance: the clamped stake exceeds the balance.
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// SessionState is the caller-visible snapshot of a session.
type SessionState struct {
	Balance     float64 `json:"balance"`
	BallsPlayed int     `json:"balls_played"`
	CashedOut   bool    `json:"cashed_out"`
	Finished    bool    `json:"finished"`
}

// WagerResult extends SessionState with the drawn multiplier and the
// clamped stake actually charged.
type WagerResult struct {
	SessionState
	Multiplier int     `json:"multiplier"`
	Stake      float64 `json:"stake"`
}

func stateOf(s *models.GameSession) *SessionState {
	return &SessionState{
		Balance:     s.Balance,
		BallsPlayed: s.BallsPlayed,
		CashedOut:   s.CashedOut,
		Finished:    s.Finished,
	}
}

// Clamp forces a requested stake into [MinBet, MaxBet]. Out-of-range input
// is silently corrected, never rejected.
func Clamp(stake float64) float64 {
	return math.Max(MinBet, math.Min(MaxBet, stake))
}

// Engine coordinates the state machine over an injected store. It never
// retries failed operations; all failures surface to the caller and no
// partial state is ever committed.
type Engine struct {
	store    store.Store
	outcomes *outcome.Generator
}

func NewEngine(st store.Store, outcomes *outcome.Generator) *Engine {
	return &Engine{store: st, outcomes: outcomes}
}

// Initialize returns the user's session, creating it with InitialBalance on
// first call. Re-initializing is an idempotent no-op: the existing state is
// returned unchanged. The non-locking lookup keeps the common repeat case
// cheap; the create path re-checks under the lock, so a concurrent creator
// winning the race is treated as the idempotent case rather than an error.
func (e *Engine) Initialize(ctx context.Context, userID int64) (*SessionState, error) {
	s, err := e.store.Session(ctx, userID)
	if err == nil {
		return stateOf(s), nil
	}
	if !errors.Is(err, store.ErrNoSession) {
		return nil, fmt.Errorf("fetch session: %w", err)
	}

	tx, err := e.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	s, err = tx.SessionForUpdate(userID)
	if err == nil {
		return stateOf(s), nil
	}
	if !errors.Is(err, store.ErrNoSession) {
		return nil, fmt.Errorf("fetch session for update: %w", err)
	}

	s, err = tx.CreateSession(userID, InitialBalance)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit session create: %w", err)
	}

	log.Printf("[GAME] Session created for user %d with balance %.2f", userID, s.Balance)
	return stateOf(s), nil
}

// Wager clamps the requested stake, debits it, draws one outcome, credits
// stake*multiplier, increments the play count and appends the round record,
// all inside one exclusive transaction on the user's session row.
func (e *Engine) Wager(ctx context.Context, userID int64, requestedStake float64) (*WagerResult, error) {
	stake := Clamp(requestedStake)

	tx, err := e.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	s, err := tx.SessionForUpdate(userID)
	if errors.Is(err, store.ErrNoSession) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetch session for update: %w", err)
	}

	if s.Terminal() {
		return nil, ErrSessionTerminal
	}
	if s.Balance < stake {
		return nil, ErrInsufficientBalance
	}

	multiplier := e.outcomes.Draw()
	winAmount := stake * float64(multiplier)
	s.Balance = s.Balance - stake + winAmount
	s.BallsPlayed++

	if err := tx.UpdateSession(s); err != nil {
		return nil, err
	}
	if err := tx.InsertRound(&models.Round{
		SessionID:  s.ID,
		Reference:  uuid.NewString(),
		Stake:      stake,
		Multiplier: multiplier,
		WinAmount:  winAmount,
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit wager: %w", err)
	}

	log.Printf("[GAME] User %d wagered %.2f, drew x%d, balance %.2f after %d balls",
		userID, stake, multiplier, s.Balance, s.BallsPlayed)
	return &WagerResult{
		SessionState: *stateOf(s),
		Multiplier:   multiplier,
		Stake:        stake,
	}, nil
}

// CashOut locks in the accumulated balance and makes the session
// permanently terminal. Repeated cash-out calls return the frozen state
// without further mutation.
func (e *Engine) CashOut(ctx context.Context, userID int64) (*SessionState, error) {
	tx, err := e.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	s, err := tx.SessionForUpdate(userID)
	if errors.Is(err, store.ErrNoSession) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetch session for update: %w", err)
	}

	if s.CashedOut {
		return stateOf(s), nil
	}

	s.CashedOut = true
	s.Finished = true
	if err := tx.UpdateSession(s); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit cashout: %w", err)
	}

	log.Printf("[GAME] User %d cashed out at %.2f after %d balls", userID, s.Balance, s.BallsPlayed)
	return stateOf(s), nil
}

// Rounds returns the caller's most recent rounds, newest first. Read-only
// and permitted on terminal sessions.
func (e *Engine) Rounds(ctx context.Context, userID int64, limit int) ([]models.Round, error) {
	if limit <= 0 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}
	return e.store.Rounds(ctx, userID, limit)
}
