// Package ledger implements the Position Ledger: it folds BUY/SELL trades
// for one (user, symbol) pair into a single running position and appends
// every trade to the trade event log.
//
// Mutations of one (user, symbol) key are serialised with a per-key mutex;
// distinct keys proceed concurrently.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cashoutai/tradedesk/internal/model"
	"github.com/cashoutai/tradedesk/internal/store"
)

// Request describes one trade to apply.
type Request struct {
	UserID     string
	Symbol     string
	Action     model.Action
	Quantity   int64
	Price      decimal.Decimal
	StopLoss   decimal.NullDecimal
	TakeProfit decimal.NullDecimal
	Notes      string

	// CloseReason is recorded when a SELL closes the position.
	// Empty means model.CloseManual.
	CloseReason model.CloseReason

	// PositionID, when set, requires the open position for the key to be
	// this one; otherwise the request fails with model.ErrNotFound.
	PositionID string

	// Strict rejects a SELL larger than the open quantity instead of
	// clamping it.
	Strict bool

	// CloseAll makes a SELL take its quantity from the open position as read
	// under the key lock, so shares bought after the caller looked are
	// closed too. Quantity is ignored.
	CloseAll bool
}

// Result reports what a request actually did. AppliedQuantity differs from
// RequestedQuantity when an over-sell was clamped or a SELL found no open
// position.
type Result struct {
	Trade             model.Trade     `json:"trade"`
	Position          *model.Position `json:"position"`
	RequestedQuantity int64           `json:"requested_quantity"`
	AppliedQuantity   int64           `json:"applied_quantity"`
	RealizedPnL       decimal.Decimal `json:"realized_pnl"`
	Closed            bool            `json:"closed"`
}

// Clamped reports whether part of a SELL was dropped because the open
// position held fewer shares. A SELL with no open position is not a clamp.
func (r *Result) Clamped() bool {
	return r.Position != nil && r.AppliedQuantity != r.RequestedQuantity
}

// Ledger owns open/closed positions and the trade event log.
type Ledger struct {
	store store.Store
	locks *keyLocks
	now   func() time.Time
}

// New creates a ledger over st.
func New(st store.Store) *Ledger {
	return &Ledger{
		store: st,
		locks: newKeyLocks(),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source. Intended for tests.
func (l *Ledger) SetClock(now func() time.Time) {
	l.now = now
}

// Lock serialises access to the (userID, symbol) position and returns the
// unlock function. Callers that read-modify-write a position outside Apply
// (the auto-close monitor) must hold it and then use ApplyLocked.
func (l *Ledger) Lock(userID, symbol string) func() {
	return l.locks.lock(userID + "\x00" + symbol)
}

// Apply validates req, updates or creates the position and appends the
// trade, all under the key lock.
func (l *Ledger) Apply(ctx context.Context, req Request) (*Result, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	unlock := l.Lock(req.UserID, req.Symbol)
	defer unlock()
	return l.applyLocked(ctx, req)
}

// ApplyLocked is Apply for callers already holding Lock(req.UserID, req.Symbol).
func (l *Ledger) ApplyLocked(ctx context.Context, req Request) (*Result, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	return l.applyLocked(ctx, req)
}

func validate(req Request) error {
	switch {
	case req.UserID == "":
		return fmt.Errorf("user id is required: %w", model.ErrInvalidState)
	case req.Symbol == "":
		return fmt.Errorf("symbol is required: %w", model.ErrInvalidState)
	case !req.Action.Valid():
		return fmt.Errorf("action must be BUY or SELL, got %q: %w", req.Action, model.ErrInvalidState)
	case req.CloseAll && req.Action != model.ActionSell:
		return fmt.Errorf("close-all requires a SELL: %w", model.ErrInvalidState)
	case req.Quantity <= 0 && !req.CloseAll:
		return fmt.Errorf("quantity must be positive, got %d: %w", req.Quantity, model.ErrInvalidState)
	case !req.Price.IsPositive():
		return fmt.Errorf("price must be positive, got %s: %w", req.Price, model.ErrInvalidState)
	case req.StopLoss.Valid && !req.StopLoss.Decimal.IsPositive():
		return fmt.Errorf("stop loss must be positive: %w", model.ErrInvalidState)
	case req.TakeProfit.Valid && !req.TakeProfit.Decimal.IsPositive():
		return fmt.Errorf("take profit must be positive: %w", model.ErrInvalidState)
	}
	return nil
}

func (l *Ledger) applyLocked(ctx context.Context, req Request) (*Result, error) {
	pos, err := l.store.GetOpenPosition(ctx, req.UserID, req.Symbol)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return nil, fmt.Errorf("load open position: %w", err)
	}
	if err != nil {
		pos = nil
	}
	if req.PositionID != "" && (pos == nil || pos.ID != req.PositionID) {
		return nil, fmt.Errorf("open position %s for %s: %w", req.PositionID, req.Symbol, model.ErrNotFound)
	}
	if req.CloseAll {
		if pos == nil {
			return nil, fmt.Errorf("no open %s position to close: %w", req.Symbol, model.ErrNotFound)
		}
		req.Quantity = pos.Quantity
	}

	now := l.now()
	res := &Result{
		RequestedQuantity: req.Quantity,
		RealizedPnL:       decimal.Zero,
	}

	switch req.Action {
	case model.ActionBuy:
		pos, err = l.buy(ctx, pos, req, now)
		if err != nil {
			return nil, err
		}
		res.AppliedQuantity = req.Quantity

	case model.ActionSell:
		if pos != nil {
			if req.Strict && req.Quantity > pos.Quantity {
				return nil, fmt.Errorf("cannot sell %d shares of %s, only %d held: %w",
					req.Quantity, req.Symbol, pos.Quantity, model.ErrInvalidState)
			}
			applied, realized, closed := sell(pos, req, now)
			if err := l.store.UpdatePosition(ctx, pos); err != nil {
				return nil, fmt.Errorf("update position: %w", err)
			}
			res.AppliedQuantity = applied
			res.RealizedPnL = realized
			res.Closed = closed
		}
	}

	trade := model.Trade{
		ID:         uuid.New().String(),
		UserID:     req.UserID,
		Symbol:     req.Symbol,
		Action:     req.Action,
		Quantity:   req.Quantity,
		Price:      req.Price,
		Timestamp:  now,
		Notes:      req.Notes,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		IsClosed:   res.Closed,
	}
	if pos != nil {
		trade.PositionID = pos.ID
	}
	if err := l.store.InsertTrade(ctx, &trade); err != nil {
		return nil, fmt.Errorf("record trade: %w", err)
	}

	res.Trade = trade
	res.Position = pos

	if res.Closed {
		slog.Info("position closed",
			"position_id", pos.ID,
			"user", pos.UserID,
			"symbol", pos.Symbol,
			"reason", string(pos.AutoCloseReason),
			"realized_pnl", pos.RealizedPnL.String(),
		)
	}
	if res.Clamped() {
		slog.Warn("sell quantity clamped",
			"user", req.UserID,
			"symbol", req.Symbol,
			"requested", res.RequestedQuantity,
			"applied", res.AppliedQuantity,
		)
	}
	return res, nil
}

// buy opens a position or folds the shares into the existing one using a
// weighted-average cost basis.
func (l *Ledger) buy(ctx context.Context, pos *model.Position, req Request, now time.Time) (*model.Position, error) {
	if pos == nil {
		pos = &model.Position{
			ID:          uuid.New().String(),
			UserID:      req.UserID,
			Symbol:      req.Symbol,
			Quantity:    req.Quantity,
			AvgPrice:    model.RoundMoney(req.Price),
			EntryPrice:  req.Price,
			RealizedPnL: decimal.Zero,
			StopLoss:    req.StopLoss,
			TakeProfit:  req.TakeProfit,
			IsOpen:      true,
			OpenedAt:    now,
			Notes:       req.Notes,
		}
		if err := l.store.CreatePosition(ctx, pos); err != nil {
			return nil, fmt.Errorf("create position: %w", err)
		}
		return pos, nil
	}

	existingQty := decimal.NewFromInt(pos.Quantity)
	addQty := decimal.NewFromInt(req.Quantity)
	totalCost := existingQty.Mul(pos.AvgPrice).Add(addQty.Mul(req.Price))
	pos.Quantity += req.Quantity
	pos.AvgPrice = model.RoundMoney(totalCost.Div(decimal.NewFromInt(pos.Quantity)))

	if req.StopLoss.Valid {
		pos.StopLoss = req.StopLoss
	}
	if req.TakeProfit.Valid {
		pos.TakeProfit = req.TakeProfit
	}

	if err := l.store.UpdatePosition(ctx, pos); err != nil {
		return nil, fmt.Errorf("update position: %w", err)
	}
	return pos, nil
}

// sell removes up to req.Quantity shares from pos in place. The cost basis
// of the remaining shares is left unchanged. It returns the quantity
// actually sold, the realized P&L and whether the position closed.
func sell(pos *model.Position, req Request, now time.Time) (int64, decimal.Decimal, bool) {
	sellQty := req.Quantity
	if sellQty > pos.Quantity {
		sellQty = pos.Quantity
	}

	realized := model.RoundMoney(req.Price.Sub(pos.AvgPrice).Mul(decimal.NewFromInt(sellQty)))
	pos.RealizedPnL = pos.RealizedPnL.Add(realized)

	if sellQty >= pos.Quantity {
		reason := req.CloseReason
		if reason == "" {
			reason = model.CloseManual
		}
		closedAt := now
		pos.Quantity = 0
		pos.IsOpen = false
		pos.ClosedAt = &closedAt
		pos.AutoCloseReason = reason
		pos.CurrentPrice = decimal.NewNullDecimal(req.Price)
		pos.UnrealizedPnL = decimal.NewNullDecimal(decimal.Zero)
		pos.UnrealizedPnLPercentage = decimal.NewNullDecimal(decimal.Zero)
		return sellQty, realized, true
	}

	pos.Quantity -= sellQty
	return sellQty, realized, false
}
