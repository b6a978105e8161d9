// Package trade is the engine facade the HTTP layer talks to: it records
// paper trades through the Position Ledger, keeps performance current,
// refreshes open positions through the Auto-Close Monitor and serves the
// resulting records over chi handlers.
//
// All monetary values use shopspring/decimal, never float64.
package trade

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cashoutai/tradedesk/internal/autoclose"
	"github.com/cashoutai/tradedesk/internal/ledger"
	"github.com/cashoutai/tradedesk/internal/limits"
	"github.com/cashoutai/tradedesk/internal/metrics"
	"github.com/cashoutai/tradedesk/internal/model"
	"github.com/cashoutai/tradedesk/internal/performance"
	"github.com/cashoutai/tradedesk/internal/pricefeed"
	"github.com/cashoutai/tradedesk/internal/store"
	"github.com/cashoutai/tradedesk/internal/ticker"
)

// Event types published to the Notifier.
const (
	EventTradeRecorded  = "trade_recorded"
	EventPositionClosed = "position_closed"
)

// Notifier receives engine events for fan-out to connected clients. The
// engine never holds transport handles itself.
type Notifier interface {
	Publish(event, userID string, payload any)
}

// Service is the trade engine facade.
type Service struct {
	store    store.Store
	ledger   *ledger.Ledger
	perf     *performance.Aggregator
	monitor  *autoclose.Monitor
	oracle   pricefeed.Oracle
	limiter  *limits.ExposureLimiter
	notifier Notifier
}

// NewService wires the engine over st. limiter and notifier may be nil.
// refreshConcurrency bounds parallel price lookups per refresh.
func NewService(st store.Store, oracle pricefeed.Oracle, limiter *limits.ExposureLimiter, notifier Notifier, refreshConcurrency int) *Service {
	l := ledger.New(st)
	return &Service{
		store:    st,
		ledger:   l,
		perf:     performance.NewAggregator(st),
		monitor:  autoclose.NewMonitor(st, l, oracle, refreshConcurrency),
		oracle:   oracle,
		limiter:  limiter,
		notifier: notifier,
	}
}

// Ledger exposes the underlying Position Ledger.
func (s *Service) Ledger() *ledger.Ledger {
	return s.ledger
}

// TradeInput is an inbound trade request.
type TradeInput struct {
	UserID     string              `json:"user_id"`
	Symbol     string              `json:"symbol"`
	Action     model.Action        `json:"action"`
	Quantity   int64               `json:"quantity"`
	Price      decimal.Decimal     `json:"price"`
	StopLoss   decimal.NullDecimal `json:"stop_loss"`
	TakeProfit decimal.NullDecimal `json:"take_profit"`
	Notes      string              `json:"notes"`
}

// TradeResult is the ledger outcome plus the recomputed performance.
type TradeResult struct {
	*ledger.Result
	Performance model.Performance `json:"performance"`
}

// PositionsView is a position listing together with what the preceding
// auto-close refresh did.
type PositionsView struct {
	Positions     []model.Position    `json:"positions"`
	AutoClosed    []autoclose.Closure `json:"auto_closed"`
	RefreshErrors []autoclose.Failure `json:"refresh_errors"`
}

// RecordTrade applies a BUY or SELL for an approved user. Over-sells are
// clamped; the result reports requested and applied quantities.
func (s *Service) RecordTrade(ctx context.Context, in TradeInput) (*TradeResult, error) {
	start := time.Now()

	if _, err := s.approvedUser(ctx, in.UserID); err != nil {
		return nil, err
	}
	symbol, err := ticker.Normalize(in.Symbol)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, model.ErrInvalidState)
	}
	if !in.Action.Valid() {
		return nil, fmt.Errorf("action must be BUY or SELL: %w", model.ErrInvalidState)
	}

	res, err := s.apply(ctx, ledger.Request{
		UserID:     in.UserID,
		Symbol:     symbol,
		Action:     in.Action,
		Quantity:   in.Quantity,
		Price:      in.Price,
		StopLoss:   in.StopLoss,
		TakeProfit: in.TakeProfit,
		Notes:      in.Notes,
	})
	if err != nil {
		return nil, err
	}

	metrics.TradeLatency.WithLabelValues(string(in.Action)).Observe(time.Since(start).Seconds())
	slog.Info("trade recorded",
		"trade_id", res.Trade.ID,
		"user", in.UserID,
		"symbol", symbol,
		"action", string(in.Action),
		"requested", res.RequestedQuantity,
		"applied", res.AppliedQuantity,
		"price", in.Price.String(),
	)
	return res, nil
}

// apply runs req through limits and the ledger, then recomputes
// performance and publishes events.
func (s *Service) apply(ctx context.Context, req ledger.Request) (*TradeResult, error) {
	var (
		res *ledger.Result
		err error
	)
	if req.Action == model.ActionBuy && s.limiter.Enabled() {
		unlock := s.ledger.Lock(req.UserID, req.Symbol)
		res, err = s.checkedBuy(ctx, req)
		unlock()
	} else {
		res, err = s.ledger.Apply(ctx, req)
	}
	if err != nil {
		return nil, err
	}

	metrics.TradesTotal.WithLabelValues(string(req.Action)).Inc()
	if res.Clamped() {
		metrics.ClampedSells.Inc()
	}
	if res.Closed {
		metrics.PositionsClosed.WithLabelValues(string(res.Position.AutoCloseReason)).Inc()
	}

	perf, err := s.perf.Recompute(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("recompute performance: %w", err)
	}

	out := &TradeResult{Result: res, Performance: perf}
	s.publish(EventTradeRecorded, req.UserID, out)
	if res.Closed {
		s.publish(EventPositionClosed, req.UserID, res.Position)
	}
	return out, nil
}

// checkedBuy enforces exposure limits. The caller holds the key lock.
func (s *Service) checkedBuy(ctx context.Context, req ledger.Request) (*ledger.Result, error) {
	open, err := s.store.ListPositions(ctx, req.UserID, true)
	if err != nil {
		return nil, fmt.Errorf("load open positions: %w", err)
	}
	if err := s.limiter.CheckBuy(req.Symbol, req.Quantity, req.Price, open); err != nil {
		metrics.LimitRejections.Inc()
		return nil, err
	}
	return s.ledger.ApplyLocked(ctx, req)
}

// ListOpenPositions refreshes the user's open positions against the price
// oracle, auto-closing any that crossed a threshold, and returns what is
// still open.
func (s *Service) ListOpenPositions(ctx context.Context, userID string) (*PositionsView, error) {
	if _, err := s.user(ctx, userID); err != nil {
		return nil, err
	}
	report, err := s.refresh(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &PositionsView{
		Positions:     report.Open,
		AutoClosed:    report.Closed,
		RefreshErrors: report.Failures,
	}, nil
}

// ListPositions is ListOpenPositions, optionally including closed
// positions newest first.
func (s *Service) ListPositions(ctx context.Context, userID string, includeClosed bool) (*PositionsView, error) {
	view, err := s.ListOpenPositions(ctx, userID)
	if err != nil || !includeClosed {
		return view, err
	}
	all, err := s.store.ListPositions(ctx, userID, false)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	view.Positions = all
	return view, nil
}

func (s *Service) refresh(ctx context.Context, userID string) (*autoclose.Report, error) {
	report, err := s.monitor.RefreshOpenPositions(ctx, userID)
	if err != nil {
		return nil, err
	}
	if n := len(report.Failures); n > 0 {
		metrics.OracleFailures.Add(float64(n))
	}
	if len(report.Closed) == 0 {
		return report, nil
	}

	for _, c := range report.Closed {
		metrics.TradesTotal.WithLabelValues(string(model.ActionSell)).Inc()
		metrics.PositionsClosed.WithLabelValues(string(c.Reason)).Inc()
		s.publish(EventPositionClosed, userID, c.Position)
	}
	if _, err := s.perf.Recompute(ctx, userID); err != nil {
		return nil, fmt.Errorf("recompute performance: %w", err)
	}
	return report, nil
}

// ListTrades returns the user's trades, newest first.
func (s *Service) ListTrades(ctx context.Context, userID string) ([]model.Trade, error) {
	if _, err := s.user(ctx, userID); err != nil {
		return nil, err
	}
	trades, err := s.store.ListTradesByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	out := slices.Clone(trades)
	slices.Reverse(out)
	if out == nil {
		out = []model.Trade{}
	}
	return out, nil
}

// GetPerformance recomputes and returns the user's performance snapshot.
func (s *Service) GetPerformance(ctx context.Context, userID string) (model.Performance, error) {
	if _, err := s.user(ctx, userID); err != nil {
		return model.Performance{}, err
	}
	return s.perf.Recompute(ctx, userID)
}

// GetCurrentPrice quotes symbol from the price oracle.
func (s *Service) GetCurrentPrice(ctx context.Context, symbol string) (string, decimal.Decimal, error) {
	sym, err := ticker.Normalize(symbol)
	if err != nil {
		return "", decimal.Zero, fmt.Errorf("%v: %w", err, model.ErrInvalidState)
	}
	price, err := s.oracle.Price(ctx, sym)
	if err != nil {
		return "", decimal.Zero, err
	}
	return sym, price, nil
}

// ClosePosition sells the whole position at price, or at the oracle price
// when price is not set. The close reason is MANUAL. The quantity is taken
// under the key lock, so shares added concurrently are closed as well.
func (s *Service) ClosePosition(ctx context.Context, userID, positionID string, price decimal.NullDecimal) (*TradeResult, error) {
	pos, err := s.ownedOpenPosition(ctx, userID, positionID)
	if err != nil {
		return nil, err
	}
	px := price.Decimal
	if !price.Valid {
		if px, err = s.oracle.Price(ctx, pos.Symbol); err != nil {
			return nil, err
		}
	}
	return s.apply(ctx, ledger.Request{
		UserID:      userID,
		Symbol:      pos.Symbol,
		Action:      model.ActionSell,
		Price:       px,
		Notes:       "Position closed",
		CloseReason: model.CloseManual,
		PositionID:  pos.ID,
		CloseAll:    true,
	})
}

// AddShares buys more of an open position's symbol.
func (s *Service) AddShares(ctx context.Context, userID, positionID string, qty int64, price decimal.Decimal) (*TradeResult, error) {
	pos, err := s.ownedOpenPosition(ctx, userID, positionID)
	if err != nil {
		return nil, err
	}
	return s.apply(ctx, ledger.Request{
		UserID:     userID,
		Symbol:     pos.Symbol,
		Action:     model.ActionBuy,
		Quantity:   qty,
		Price:      price,
		Notes:      "Added to existing position",
		PositionID: pos.ID,
	})
}

// SellShares sells part or all of an open position. Unlike RecordTrade it
// rejects selling more than is held. A full sell closes with MANUAL_SELL.
func (s *Service) SellShares(ctx context.Context, userID, positionID string, qty int64, price decimal.Decimal) (*TradeResult, error) {
	pos, err := s.ownedOpenPosition(ctx, userID, positionID)
	if err != nil {
		return nil, err
	}
	realized := model.RoundMoney(price.Sub(pos.AvgPrice).Mul(decimal.NewFromInt(qty)))
	return s.apply(ctx, ledger.Request{
		UserID:      userID,
		Symbol:      pos.Symbol,
		Action:      model.ActionSell,
		Quantity:    qty,
		Price:       price,
		Notes:       "Sold from position - P&L: $" + realized.StringFixed(model.MoneyScale),
		CloseReason: model.CloseManualSell,
		PositionID:  pos.ID,
		Strict:      true,
	})
}

// ownedOpenPosition loads an open position belonging to userID. Positions
// of other users are reported as not found.
func (s *Service) ownedOpenPosition(ctx context.Context, userID, positionID string) (*model.Position, error) {
	if _, err := s.approvedUser(ctx, userID); err != nil {
		return nil, err
	}
	pos, err := s.store.GetPosition(ctx, positionID)
	if err != nil {
		return nil, err
	}
	if pos.UserID != userID {
		return nil, fmt.Errorf("position %s: %w", positionID, model.ErrNotFound)
	}
	if !pos.IsOpen {
		return nil, fmt.Errorf("position %s is already closed: %w", positionID, model.ErrInvalidState)
	}
	return pos, nil
}

func (s *Service) user(ctx context.Context, userID string) (*model.User, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required: %w", model.ErrInvalidState)
	}
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return u, nil
}

// approvedUser loads userID and requires APPROVED status.
func (s *Service) approvedUser(ctx context.Context, userID string) (*model.User, error) {
	u, err := s.user(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !u.Approved() {
		return nil, fmt.Errorf("user %s is %s, not approved: %w", userID, u.Status, model.ErrInvalidState)
	}
	return u, nil
}

func (s *Service) publish(event, userID string, payload any) {
	if s.notifier == nil {
		return
	}
	s.notifier.Publish(event, userID, payload)
}
