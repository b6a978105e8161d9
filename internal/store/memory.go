package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cashoutai/tradedesk/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	users     map[string]*model.User
	positions map[string]*model.Position
	trades    []model.Trade
	messages  []model.Message
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:     make(map[string]*model.User),
		positions: make(map[string]*model.Position),
	}
}

func (s *MemoryStore) CreateUser(_ context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[u.ID]; ok {
		return fmt.Errorf("user %s: %w", u.ID, model.ErrConflict)
	}
	for _, existing := range s.users {
		if existing.Username == u.Username {
			return fmt.Errorf("username %s: %w", u.Username, model.ErrConflict)
		}
	}

	// Store a copy to avoid external mutation.
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *MemoryStore) GetUser(_ context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, model.ErrNotFound)
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) GetUserByUsername(_ context.Context, username string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("username %s: %w", username, model.ErrNotFound)
}

func (s *MemoryStore) ListUsers(_ context.Context) ([]model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]model.User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, *u)
	}
	sort.SliceStable(users, func(i, j int) bool {
		return users[i].CreatedAt.Before(users[j].CreatedAt)
	})
	return users, nil
}

func (s *MemoryStore) UpdateUser(_ context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.users[u.ID]
	if !ok {
		return fmt.Errorf("user %s: %w", u.ID, model.ErrNotFound)
	}
	for id, other := range s.users {
		if id != u.ID && other.Username == u.Username {
			return fmt.Errorf("username %s: %w", u.Username, model.ErrConflict)
		}
	}

	// Performance is owned by UpdatePerformance, presence by SetPresence.
	cp := *u
	cp.Performance = existing.Performance
	cp.IsOnline = existing.IsOnline
	cp.LastSeen = existing.LastSeen
	s.users[u.ID] = &cp
	return nil
}

func (s *MemoryStore) SetPresence(_ context.Context, userID string, online bool, lastSeen time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return fmt.Errorf("user %s: %w", userID, model.ErrNotFound)
	}
	u.IsOnline = online
	u.LastSeen = lastSeen
	return nil
}

func (s *MemoryStore) DeleteUser(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[id]; !ok {
		return fmt.Errorf("user %s: %w", id, model.ErrNotFound)
	}
	delete(s.users, id)
	return nil
}

func (s *MemoryStore) UpdatePerformance(_ context.Context, userID string, perf model.Performance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return fmt.Errorf("user %s: %w", userID, model.ErrNotFound)
	}
	u.Performance = perf
	return nil
}

func (s *MemoryStore) InsertTrade(_ context.Context, t *model.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.trades = append(s.trades, *t)
	return nil
}

func (s *MemoryStore) ListTradesByUser(_ context.Context, userID string) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Trade
	for _, t := range s.trades {
		if t.UserID == userID {
			result = append(result, t)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	return result, nil
}

func (s *MemoryStore) CreatePosition(_ context.Context, p *model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.positions[p.ID]; ok {
		return fmt.Errorf("position %s: %w", p.ID, model.ErrConflict)
	}
	if p.IsOpen {
		for _, existing := range s.positions {
			if existing.IsOpen && existing.UserID == p.UserID && existing.Symbol == p.Symbol {
				return fmt.Errorf("open position for %s/%s: %w", p.UserID, p.Symbol, model.ErrConflict)
			}
		}
	}
	s.positions[p.ID] = copyPosition(p)
	return nil
}

func (s *MemoryStore) GetPosition(_ context.Context, id string) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[id]
	if !ok {
		return nil, fmt.Errorf("position %s: %w", id, model.ErrNotFound)
	}
	return copyPosition(p), nil
}

func (s *MemoryStore) GetOpenPosition(_ context.Context, userID, symbol string) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.positions {
		if p.IsOpen && p.UserID == userID && p.Symbol == symbol {
			return copyPosition(p), nil
		}
	}
	return nil, fmt.Errorf("open position for %s/%s: %w", userID, symbol, model.ErrNotFound)
}

func (s *MemoryStore) ListPositions(_ context.Context, userID string, openOnly bool) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Position
	for _, p := range s.positions {
		if p.UserID != userID || (openOnly && !p.IsOpen) {
			continue
		}
		result = append(result, *copyPosition(p))
	}
	sort.SliceStable(result, func(i, j int) bool {
		if result[i].OpenedAt.Equal(result[j].OpenedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].OpenedAt.After(result[j].OpenedAt)
	})
	return result, nil
}

func (s *MemoryStore) UpdatePosition(_ context.Context, p *model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.positions[p.ID]; !ok {
		return fmt.Errorf("position %s: %w", p.ID, model.ErrNotFound)
	}
	s.positions[p.ID] = copyPosition(p)
	return nil
}

func (s *MemoryStore) InsertMessage(_ context.Context, m *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *m
	cp.HighlightedTickers = append([]string(nil), m.HighlightedTickers...)
	s.messages = append(s.messages, cp)
	return nil
}

func (s *MemoryStore) ListMessages(_ context.Context, limit int) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := 0
	if limit > 0 && len(s.messages) > limit {
		start = len(s.messages) - limit
	}
	result := make([]model.Message, 0, len(s.messages)-start)
	result = append(result, s.messages[start:]...)
	return result, nil
}

func copyPosition(p *model.Position) *model.Position {
	cp := *p
	if p.ClosedAt != nil {
		t := *p.ClosedAt
		cp.ClosedAt = &t
	}
	return &cp
}
