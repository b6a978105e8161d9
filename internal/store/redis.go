package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cashoutai/tradedesk/internal/model"
)

// CachedStore wraps a primary Store with a Redis read-through cache. Writes
// go to the primary store and invalidate the affected keys; reads check
// Redis first then fall back to the primary. The cache is derived state
// only: every trade or position write drops the user's cached lists.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateUser(ctx context.Context, u *model.User) error {
	return s.primary.CreateUser(ctx, u)
}

func (s *CachedStore) UpdateUser(ctx context.Context, u *model.User) error {
	if err := s.primary.UpdateUser(ctx, u); err != nil {
		return err
	}
	s.rdb.Del(ctx, userKey(u.ID))
	return nil
}

func (s *CachedStore) SetPresence(ctx context.Context, userID string, online bool, lastSeen time.Time) error {
	if err := s.primary.SetPresence(ctx, userID, online, lastSeen); err != nil {
		return err
	}
	s.rdb.Del(ctx, userKey(userID))
	return nil
}

func (s *CachedStore) DeleteUser(ctx context.Context, id string) error {
	if err := s.primary.DeleteUser(ctx, id); err != nil {
		return err
	}
	s.rdb.Del(ctx, userKey(id))
	return nil
}

func (s *CachedStore) UpdatePerformance(ctx context.Context, userID string, perf model.Performance) error {
	if err := s.primary.UpdatePerformance(ctx, userID, perf); err != nil {
		return err
	}
	s.rdb.Del(ctx, userKey(userID))
	return nil
}

func (s *CachedStore) InsertTrade(ctx context.Context, t *model.Trade) error {
	if err := s.primary.InsertTrade(ctx, t); err != nil {
		return err
	}
	s.rdb.Del(ctx, tradesKey(t.UserID))
	return nil
}

func (s *CachedStore) CreatePosition(ctx context.Context, p *model.Position) error {
	if err := s.primary.CreatePosition(ctx, p); err != nil {
		return err
	}
	s.invalidatePositions(ctx, p.UserID)
	return nil
}

func (s *CachedStore) UpdatePosition(ctx context.Context, p *model.Position) error {
	if err := s.primary.UpdatePosition(ctx, p); err != nil {
		return err
	}
	s.invalidatePositions(ctx, p.UserID)
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	var cached cachedUser
	if s.get(ctx, userKey(id), &cached) {
		u := cached.User
		u.PasswordHash = cached.PasswordHash
		return &u, nil
	}

	u, err := s.primary.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	// PasswordHash is hidden from JSON; carry it alongside.
	s.set(ctx, userKey(id), cachedUser{User: *u, PasswordHash: u.PasswordHash})
	return u, nil
}

func (s *CachedStore) ListTradesByUser(ctx context.Context, userID string) ([]model.Trade, error) {
	var trades []model.Trade
	if s.get(ctx, tradesKey(userID), &trades) {
		return trades, nil
	}

	trades, err := s.primary.ListTradesByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.set(ctx, tradesKey(userID), trades)
	return trades, nil
}

func (s *CachedStore) ListPositions(ctx context.Context, userID string, openOnly bool) ([]model.Position, error) {
	key := positionsKey(userID, openOnly)
	var positions []model.Position
	if s.get(ctx, key, &positions) {
		return positions, nil
	}

	positions, err := s.primary.ListPositions(ctx, userID, openOnly)
	if err != nil {
		return nil, err
	}
	s.set(ctx, key, positions)
	return positions, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	return s.primary.GetUserByUsername(ctx, username)
}

func (s *CachedStore) ListUsers(ctx context.Context) ([]model.User, error) {
	return s.primary.ListUsers(ctx)
}

// Single positions are read under the ledger's key lock and must never be
// stale, so they bypass the cache.
func (s *CachedStore) GetPosition(ctx context.Context, id string) (*model.Position, error) {
	return s.primary.GetPosition(ctx, id)
}

func (s *CachedStore) GetOpenPosition(ctx context.Context, userID, symbol string) (*model.Position, error) {
	return s.primary.GetOpenPosition(ctx, userID, symbol)
}

func (s *CachedStore) InsertMessage(ctx context.Context, m *model.Message) error {
	return s.primary.InsertMessage(ctx, m)
}

func (s *CachedStore) ListMessages(ctx context.Context, limit int) ([]model.Message, error) {
	return s.primary.ListMessages(ctx, limit)
}

// --- Cache helpers ---

type cachedUser struct {
	User         model.User `json:"user"`
	PasswordHash string     `json:"password_hash"`
}

func (s *CachedStore) get(ctx context.Context, key string, dst any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func (s *CachedStore) set(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func (s *CachedStore) invalidatePositions(ctx context.Context, userID string) {
	s.rdb.Del(ctx, positionsKey(userID, true), positionsKey(userID, false))
}

func userKey(id string) string { return fmt.Sprintf("user:%s", id) }
func tradesKey(uid string) string { return fmt.Sprintf("trades:%s", uid) }
func positionsKey(uid string, openOnly bool) string {
	if openOnly {
		return fmt.Sprintf("positions:%s:open", uid)
	}
	return fmt.Sprintf("positions:%s:all", uid)
}
