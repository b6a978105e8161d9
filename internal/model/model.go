// Package model defines the core domain types shared across the trade desk.
// Monetary values are shopspring/decimal throughout, never float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// MoneyScale is the number of decimal places currency-like values are
// rounded to at the point of computation.
const MoneyScale int32 = 2

// Action is the direction of a paper trade.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
)

// Valid reports whether a is BUY or SELL.
func (a Action) Valid() bool {
	return a == ActionBuy || a == ActionSell
}

// CloseReason records why a position was closed.
type CloseReason string

const (
	CloseStopLoss   CloseReason = "STOP_LOSS"
	CloseTakeProfit CloseReason = "TAKE_PROFIT"
	CloseManual     CloseReason = "MANUAL"
	CloseManualSell CloseReason = "MANUAL_SELL"
)

// Trade is an immutable record of a paper trade. Once created it is never
// modified or deleted; the position reference and closed flag are set
// before the record is written.
type Trade struct {
	ID         string              `json:"id"`
	UserID     string              `json:"user_id"`
	Symbol     string              `json:"symbol"`
	Action     Action              `json:"action"`
	Quantity   int64               `json:"quantity"`
	Price      decimal.Decimal     `json:"price"`
	Timestamp  time.Time           `json:"timestamp"`
	Notes      string              `json:"notes,omitempty"`
	PositionID string              `json:"position_id,omitempty"`
	StopLoss   decimal.NullDecimal `json:"stop_loss"`
	TakeProfit decimal.NullDecimal `json:"take_profit"`
	IsClosed   bool                `json:"is_closed"`
}

// Position is the net open holding of one symbol for one user.
// At most one open position exists per (user, symbol).
type Position struct {
	ID                      string              `json:"id"`
	UserID                  string              `json:"user_id"`
	Symbol                  string              `json:"symbol"`
	Quantity                int64               `json:"quantity"`
	AvgPrice                decimal.Decimal     `json:"avg_price"`
	EntryPrice              decimal.Decimal     `json:"entry_price"`
	CurrentPrice            decimal.NullDecimal `json:"current_price"`
	UnrealizedPnL           decimal.NullDecimal `json:"unrealized_pnl"`
	UnrealizedPnLPercentage decimal.NullDecimal `json:"unrealized_pnl_percentage"`
	RealizedPnL             decimal.Decimal     `json:"realized_pnl"`
	StopLoss                decimal.NullDecimal `json:"stop_loss"`
	TakeProfit              decimal.NullDecimal `json:"take_profit"`
	IsOpen                  bool                `json:"is_open"`
	OpenedAt                time.Time           `json:"opened_at"`
	ClosedAt                *time.Time          `json:"closed_at"`
	Notes                   string              `json:"notes,omitempty"`
	AutoCloseReason         CloseReason         `json:"auto_close_reason,omitempty"`
}

// Performance is a derived snapshot of a user's trading results. It is
// recomputed from the full trade history and never maintained incrementally.
type Performance struct {
	TotalProfit     decimal.Decimal `json:"total_profit"`
	WinPercentage   decimal.Decimal `json:"win_percentage"`
	TradesCount     int             `json:"trades_count"`
	AverageGain     decimal.Decimal `json:"average_gain"`
	CompletedTrades int             `json:"completed_trades"`
	WinningTrades   int             `json:"winning_trades"`
}

// UserStatus is the approval state of a registered user.
type UserStatus string

const (
	StatusPending  UserStatus = "PENDING"
	StatusApproved UserStatus = "APPROVED"
	StatusRejected UserStatus = "REJECTED"
)

// Roles assignable by an admin.
const (
	RoleMember    = "member"
	RoleModerator = "moderator"
	RoleAdmin     = "admin"
)

// User is a registered chat member. Performance fields are overwritten by
// every recomputation.
type User struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	RealName     string     `json:"real_name"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	IsAdmin      bool       `json:"is_admin"`
	IsModerator  bool       `json:"is_moderator"`
	Status       UserStatus `json:"status"`
	AvatarURL    string     `json:"avatar_url,omitempty"`
	IsOnline     bool       `json:"is_online"`
	LastSeen     time.Time  `json:"last_seen"`
	CreatedAt    time.Time  `json:"created_at"`
	ApprovedAt   *time.Time `json:"approved_at"`
	ApprovedBy   string     `json:"approved_by,omitempty"`
	Performance
}

// Approved reports whether the user may trade and chat.
func (u *User) Approved() bool {
	return u.Status == StatusApproved
}

// Role returns the highest role the user holds.
func (u *User) Role() string {
	switch {
	case u.IsAdmin:
		return RoleAdmin
	case u.IsModerator:
		return RoleModerator
	default:
		return RoleMember
	}
}

// Message is a chat message. Tickers mentioned as $SYMBOL are extracted
// into HighlightedTickers when the message is posted.
type Message struct {
	ID                 string    `json:"id"`
	UserID             string    `json:"user_id"`
	Username           string    `json:"username"`
	RealName           string    `json:"real_name"`
	Content            string    `json:"content"`
	IsAdmin            bool      `json:"is_admin"`
	IsModerator        bool      `json:"is_moderator"`
	AvatarURL          string    `json:"avatar_url,omitempty"`
	Timestamp          time.Time `json:"timestamp"`
	HighlightedTickers []string  `json:"highlighted_tickers"`
	ImageURL           string    `json:"image_url,omitempty"`
	MessageType        string    `json:"message_type"`
}

// RoundMoney rounds a currency-like value to MoneyScale places.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyScale)
}
