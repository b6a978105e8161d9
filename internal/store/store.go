// Package store defines the persistence interface for the trade desk.
// Implementations include PostgreSQL (source of truth), SQLite (embedded,
// single-node), Redis (read-through cache) and in-memory (for testing).
package store

import (
	"context"
	"time"

	"github.com/cashoutai/tradedesk/internal/model"
)

// Store is the persistence interface. Every entity is keyed by a generated
// unique id. Lookups that find nothing return an error wrapping
// model.ErrNotFound.
type Store interface {
	// --- Users ---

	// CreateUser persists a new user. Usernames are unique (model.ErrConflict).
	CreateUser(ctx context.Context, user *model.User) error

	// GetUser retrieves a user by id.
	GetUser(ctx context.Context, id string) (*model.User, error)

	// GetUserByUsername retrieves a user by username.
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)

	// ListUsers returns all users ordered by creation time.
	ListUsers(ctx context.Context) ([]model.User, error)

	// UpdateUser overwrites the mutable profile, role and status fields.
	// Presence and performance are left untouched.
	UpdateUser(ctx context.Context, user *model.User) error

	// SetPresence updates only is_online and last_seen.
	SetPresence(ctx context.Context, userID string, online bool, lastSeen time.Time) error

	// DeleteUser removes a user.
	DeleteUser(ctx context.Context, id string) error

	// UpdatePerformance overwrites the user's performance snapshot.
	UpdatePerformance(ctx context.Context, userID string, perf model.Performance) error

	// --- Trade event log (append-only) ---

	// InsertTrade appends an immutable trade record.
	InsertTrade(ctx context.Context, trade *model.Trade) error

	// ListTradesByUser returns all trades for a user, oldest first. Trades
	// with equal timestamps keep insertion order.
	ListTradesByUser(ctx context.Context, userID string) ([]model.Trade, error)

	// --- Positions ---

	// CreatePosition persists a new position.
	CreatePosition(ctx context.Context, pos *model.Position) error

	// GetPosition retrieves a position by id.
	GetPosition(ctx context.Context, id string) (*model.Position, error)

	// GetOpenPosition returns the open position for (userID, symbol).
	GetOpenPosition(ctx context.Context, userID, symbol string) (*model.Position, error)

	// ListPositions returns a user's positions, newest first. When openOnly
	// is set closed positions are skipped.
	ListPositions(ctx context.Context, userID string, openOnly bool) ([]model.Position, error)

	// UpdatePosition overwrites a position's mutable state.
	UpdatePosition(ctx context.Context, pos *model.Position) error

	// --- Chat ---

	// InsertMessage persists a chat message.
	InsertMessage(ctx context.Context, msg *model.Message) error

	// ListMessages returns the latest limit messages, oldest first.
	ListMessages(ctx context.Context, limit int) ([]model.Message, error)
}
