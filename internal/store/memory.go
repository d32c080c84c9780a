package store

import (
	"context"
	"sync"
	"time"

	"github.com/racetan/plinko/internal/models"
)

// Memory implements Store with an in-process map and one mutex per user.
// Holding the per-user mutex from SessionForUpdate/CreateSession until
// Commit or Rollback gives the same serialized read-modify-write guarantee
// as the Postgres row lock. Used by tests and as a storage-free dev mode.
type Memory struct {
	mu            sync.Mutex
	locks         map[int64]*sync.Mutex
	sessions      map[int64]*models.GameSession
	rounds        map[int64][]models.Round
	nextSessionID int64
	nextRoundID   int64
}

func NewMemory() *Memory {
	return &Memory{
		locks:    make(map[int64]*sync.Mutex),
		sessions: make(map[int64]*models.GameSession),
		rounds:   make(map[int64][]models.Round),
	}
}

func (m *Memory) userLock(userID int64) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[userID] = l
	}
	return l
}

func (m *Memory) snapshot(userID int64) *models.GameSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	if !ok {
		return nil
	}
	cp := *s
	return &cp
}

func (m *Memory) Session(_ context.Context, userID int64) (*models.GameSession, error) {
	s := m.snapshot(userID)
	if s == nil {
		return nil, ErrNoSession
	}
	return s, nil
}

func (m *Memory) Rounds(_ context.Context, userID int64, limit int) ([]models.Round, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	if !ok {
		return []models.Round{}, nil
	}
	all := m.rounds[s.ID]
	out := []models.Round{}
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func (m *Memory) Begin(_ context.Context) (Tx, error) {
	return &memTx{m: m}, nil
}

type memTx struct {
	m *Memory

	lockedUser int64
	userLock   *sync.Mutex

	created *models.GameSession
	updated *models.GameSession
	staged  []models.Round
	done    bool
}

func (t *memTx) acquire(userID int64) {
	if t.userLock != nil && t.lockedUser == userID {
		return
	}
	l := t.m.userLock(userID)
	l.Lock()
	t.lockedUser = userID
	t.userLock = l
}

func (t *memTx) SessionForUpdate(userID int64) (*models.GameSession, error) {
	t.acquire(userID)
	s := t.m.snapshot(userID)
	if s == nil {
		// Lock stays held so a follow-up CreateSession in this transaction
		// cannot race another creator.
		return nil, ErrNoSession
	}
	return s, nil
}

func (t *memTx) CreateSession(userID int64, balance float64) (*models.GameSession, error) {
	t.acquire(userID)
	if s := t.m.snapshot(userID); s != nil {
		return s, nil
	}

	t.m.mu.Lock()
	t.m.nextSessionID++
	id := t.m.nextSessionID
	t.m.mu.Unlock()

	s := &models.GameSession{
		ID:        id,
		UserID:    userID,
		Balance:   balance,
		UpdatedAt: time.Now(),
	}
	t.created = s
	cp := *s
	return &cp, nil
}

func (t *memTx) UpdateSession(s *models.GameSession) error {
	cp := *s
	t.updated = &cp
	return nil
}

func (t *memTx) InsertRound(r *models.Round) error {
	t.staged = append(t.staged, *r)
	return nil
}

func (t *memTx) finish() {
	t.done = true
	if t.userLock != nil {
		t.userLock.Unlock()
		t.userLock = nil
	}
}

func (t *memTx) Commit() error {
	if t.done {
		return nil
	}
	t.m.mu.Lock()
	now := time.Now()
	if t.created != nil {
		t.created.UpdatedAt = now
		t.m.sessions[t.created.UserID] = t.created
	}
	if t.updated != nil {
		t.updated.UpdatedAt = now
		t.m.sessions[t.updated.UserID] = t.updated
	}
	for _, r := range t.staged {
		t.m.nextRoundID++
		r.ID = t.m.nextRoundID
		r.CreatedAt = now
		t.m.rounds[r.SessionID] = append(t.m.rounds[r.SessionID], r)
	}
	t.m.mu.Unlock()
	t.finish()
	return nil
}

func (t *memTx) Rollback() error {
	if t.done {
		return nil
	}
	t.created, t.updated, t.staged = nil, nil, nil
	t.finish()
	return nil
}
