package models

import "time"

// GameSession is the per-user game state. There is exactly one row per user
// (unique constraint on user_id); it is created lazily on the first
// init-session call and never deleted. Once Finished is set the row is
// read-only apart from updated_at.
type GameSession struct {
	ID          int64     `json:"id" db:"id"`
	UserID      int64     `json:"user_id" db:"user_id"`
	Balance     float64   `json:"balance" db:"balance"`
	BallsPlayed int       `json:"balls_played" db:"balls_played"`
	CashedOut   bool      `json:"cashed_out" db:"cashed_out"`
	Finished    bool      `json:"finished" db:"finished"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// Terminal reports whether the session may no longer be wagered on.
func (s *GameSession) Terminal() bool {
	return s.Finished || s.CashedOut
}

// Round is one immutable wager record. Rounds are append-only and together
// form the ledger proving the session's balance arithmetic.
type Round struct {
	ID         int64     `json:"id" db:"id"`
	SessionID  int64     `json:"session_id" db:"session_id"`
	Reference  string    `json:"reference" db:"reference"`
	Stake      float64   `json:"stake" db:"stake"`
	Multiplier int       `json:"multiplier" db:"multiplier"`
	WinAmount  float64   `json:"win_amount" db:"win_amount"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}
