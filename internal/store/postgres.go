package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/racetan/plinko/internal/models"
)

// Postgres implements Store over database/sql. The exclusive per-user
// acquisition is the row-level lock taken by SELECT ... FOR UPDATE, released
// by the enclosing transaction's commit or rollback.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

const sessionColumns = `id, user_id, balance, balls_played, cashed_out, finished, updated_at`

func scanSession(row *sql.Row) (*models.GameSession, error) {
	var s models.GameSession
	err := row.Scan(&s.ID, &s.UserID, &s.Balance, &s.BallsPlayed, &s.CashedOut, &s.Finished, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("scan game session: %w", err)
	}
	return &s, nil
}

func (p *Postgres) Session(ctx context.Context, userID int64) (*models.GameSession, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM game_sessions
		WHERE user_id = $1`, userID)
	return scanSession(row)
}

func (p *Postgres) Rounds(ctx context.Context, userID int64, limit int) ([]models.Round, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT r.id, r.session_id, r.reference, r.stake, r.multiplier, r.win_amount, r.created_at
		FROM game_rounds r
		JOIN game_sessions s ON s.id = r.session_id
		WHERE s.user_id = $1
		ORDER BY r.created_at DESC, r.id DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query rounds: %w", err)
	}
	defer rows.Close()

	rounds := []models.Round{}
	for rows.Next() {
		var r models.Round
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Reference, &r.Stake, &r.Multiplier, &r.WinAmount, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan round: %w", err)
		}
		rounds = append(rounds, r)
	}
	return rounds, rows.Err()
}

func (p *Postgres) Begin(ctx context.Context) (Tx, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &pgTx{tx: tx}, nil
}

type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) SessionForUpdate(userID int64) (*models.GameSession, error) {
	row := t.tx.QueryRow(`
		SELECT `+sessionColumns+`
		FROM game_sessions
		WHERE user_id = $1
		FOR UPDATE`, userID)
	return scanSession(row)
}

func (t *pgTx) CreateSession(userID int64, balance float64) (*models.GameSession, error) {
	// ON CONFLICT DO NOTHING returns no row when another request created the
	// session first; the existing row is then locked and returned, making
	// creation idempotent under the unique owner constraint.
	row := t.tx.QueryRow(`
		INSERT INTO game_sessions (user_id, balance)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO NOTHING
		RETURNING `+sessionColumns, userID, balance)
	s, err := scanSession(row)
	if err == ErrNoSession {
		return t.SessionForUpdate(userID)
	}
	return s, err
}

func (t *pgTx) UpdateSession(s *models.GameSession) error {
	result, err := t.tx.Exec(`
		UPDATE game_sessions
		SET balance = $1, balls_played = $2, cashed_out = $3, finished = $4, updated_at = NOW()
		WHERE id = $5`,
		s.Balance, s.BallsPlayed, s.CashedOut, s.Finished, s.ID)
	if err != nil {
		return fmt.Errorf("update game session %d: %w", s.ID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("update game session %d: no row", s.ID)
	}
	return nil
}

func (t *pgTx) InsertRound(r *models.Round) error {
	_, err := t.tx.Exec(`
		INSERT INTO game_rounds (session_id, reference, stake, multiplier, win_amount)
		VALUES ($1, $2, $3, $4, $5)`,
		r.SessionID, r.Reference, r.Stake, r.Multiplier, r.WinAmount)
	if err != nil {
		return fmt.Errorf("insert round: %w", err)
	}
	return nil
}

func (t *pgTx) Commit() error {
	return t.tx.Commit()
}

func (t *pgTx) Rollback() error {
	return t.tx.Rollback()
}
