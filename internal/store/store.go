// Package store persists game sessions and their round history. The engine
// consumes the Store/Tx contract; Postgres is the production implementation
// and Memory is a storage-free implementation used in tests and dev mode.
package store

import (
	"context"
	"errors"

	"github.com/racetan/plinko/internal/models"
)

// ErrNoSession is returned by session lookups when the user has no game
// session row yet.
var ErrNoSession = errors.New("no game session for user")

// Store provides non-locking reads and transaction boundaries over the
// per-user session rows.
type Store interface {
	// Session fetches the user's session without acquiring a lock. Used for
	// idempotent lookups that may not lead to a write.
	Session(ctx context.Context, userID int64) (*models.GameSession, error)

	// Rounds returns the newest rounds of the user's session, most recent
	// first, up to limit. Allowed on terminal sessions.
	Rounds(ctx context.Context, userID int64, limit int) ([]models.Round, error)

	// Begin opens a transaction. Every mutating engine operation runs inside
	// exactly one transaction and must end it with Commit or Rollback.
	Begin(ctx context.Context) (Tx, error)
}

// Tx is one all-or-nothing unit of work against a single user's session.
// SessionForUpdate and CreateSession acquire the exclusive per-user
// acquisition which is held until Commit or Rollback; this serializes all
// mutating operations for one user while different users proceed in
// parallel.
type Tx interface {
	// SessionForUpdate fetches the user's session and acquires the
	// exclusive lock on it for the remainder of the transaction.
	SessionForUpdate(userID int64) (*models.GameSession, error)

	// CreateSession inserts the user's session row with the given starting
	// balance. If a concurrent request created the row first, the existing
	// row is locked and returned instead; creation is idempotent.
	CreateSession(userID int64, balance float64) (*models.GameSession, error)

	// UpdateSession persists the session's balance, play count and flags
	// and refreshes updated_at.
	UpdateSession(s *models.GameSession) error

	// InsertRound appends one immutable wager record.
	InsertRound(r *models.Round) error

	Commit() error
	Rollback() error
}
