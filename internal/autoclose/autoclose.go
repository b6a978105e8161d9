// Package autoclose re-prices a user's open positions and force-closes the
// ones whose price crossed a stop-loss or take-profit threshold.
package autoclose

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/cashoutai/tradedesk/internal/ledger"
	"github.com/cashoutai/tradedesk/internal/model"
	"github.com/cashoutai/tradedesk/internal/pricefeed"
	"github.com/cashoutai/tradedesk/internal/store"
)

// DefaultConcurrency bounds parallel oracle lookups within one refresh.
const DefaultConcurrency = 4

var hundred = decimal.NewFromInt(100)

// Evaluate returns the close reason triggered by price, or "" if neither
// threshold is crossed. Stop-loss is checked first.
func Evaluate(pos *model.Position, price decimal.Decimal) model.CloseReason {
	if pos.StopLoss.Valid && price.LessThanOrEqual(pos.StopLoss.Decimal) {
		return model.CloseStopLoss
	}
	if pos.TakeProfit.Valid && price.GreaterThanOrEqual(pos.TakeProfit.Decimal) {
		return model.CloseTakeProfit
	}
	return ""
}

// Unrealized returns the paper P&L and its percentage of cost for qty shares
// bought at avg and marked at price. Both are rounded to cents.
func Unrealized(avg, price decimal.Decimal, qty int64) (decimal.Decimal, decimal.Decimal) {
	pnl := model.RoundMoney(price.Sub(avg).Mul(decimal.NewFromInt(qty)))
	if avg.IsZero() {
		return pnl, decimal.Zero
	}
	pct := model.RoundMoney(price.Sub(avg).Div(avg).Mul(hundred))
	return pnl, pct
}

// Closure describes one forced close.
type Closure struct {
	Position model.Position    `json:"position"`
	Trade    model.Trade       `json:"trade"`
	Reason   model.CloseReason `json:"reason"`
	Price    decimal.Decimal   `json:"price"`
}

// Failure is a position whose refresh was skipped.
type Failure struct {
	PositionID string `json:"position_id"`
	Symbol     string `json:"symbol"`
	Message    string `json:"error"`
	err        error
}

func (f Failure) Error() string { return f.Message }

func (f Failure) Unwrap() error { return f.err }

// Report is the outcome of a refresh. Open holds the positions still open
// afterwards, newest first, with refreshed marks where the lookup worked.
type Report struct {
	Open     []model.Position `json:"open"`
	Closed   []Closure        `json:"closed"`
	Failures []Failure        `json:"failures"`
}

// Monitor runs stop-loss/take-profit checks on read.
type Monitor struct {
	store       store.Store
	ledger      *ledger.Ledger
	oracle      pricefeed.Oracle
	concurrency int
}

// NewMonitor creates a monitor. concurrency <= 0 uses DefaultConcurrency.
func NewMonitor(st store.Store, l *ledger.Ledger, oracle pricefeed.Oracle, concurrency int) *Monitor {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Monitor{store: st, ledger: l, oracle: oracle, concurrency: concurrency}
}

// RefreshOpenPositions prices every open position of userID. A failed
// lookup is reported in the Report and does not stop the other positions;
// only a failure to list positions is returned as an error.
func (m *Monitor) RefreshOpenPositions(ctx context.Context, userID string) (*Report, error) {
	positions, err := m.store.ListPositions(ctx, userID, true)
	if err != nil {
		return nil, fmt.Errorf("list open positions: %w", err)
	}

	var (
		mu     sync.Mutex
		report = &Report{Open: []model.Position{}, Closed: []Closure{}, Failures: []Failure{}}
	)

	g := new(errgroup.Group)
	g.SetLimit(m.concurrency)
	for _, p := range positions {
		g.Go(func() error {
			open, closure, err := m.refresh(ctx, &p)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				slog.Warn("position refresh failed",
					"position_id", p.ID, "symbol", p.Symbol, "err", err)
				report.Failures = append(report.Failures, Failure{
					PositionID: p.ID, Symbol: p.Symbol, Message: err.Error(), err: err,
				})
				report.Open = append(report.Open, p)
			case closure != nil:
				report.Closed = append(report.Closed, *closure)
			case open != nil:
				report.Open = append(report.Open, *open)
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.SliceStable(report.Open, func(i, j int) bool {
		return report.Open[i].OpenedAt.After(report.Open[j].OpenedAt)
	})
	sort.SliceStable(report.Closed, func(i, j int) bool {
		return report.Closed[i].Position.Symbol < report.Closed[j].Position.Symbol
	})
	sort.SliceStable(report.Failures, func(i, j int) bool {
		return report.Failures[i].Symbol < report.Failures[j].Symbol
	})
	return report, nil
}

// refresh prices one position. The oracle is called outside the key lock;
// the position is re-read under the lock before anything is written, so a
// concurrent manual trade is never overwritten.
func (m *Monitor) refresh(ctx context.Context, p *model.Position) (*model.Position, *Closure, error) {
	price, err := m.oracle.Price(ctx, p.Symbol)
	if err != nil {
		return nil, nil, err
	}

	unlock := m.ledger.Lock(p.UserID, p.Symbol)
	defer unlock()

	cur, err := m.store.GetPosition(ctx, p.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("reload position: %w", err)
	}
	if !cur.IsOpen {
		// Closed by a concurrent trade; nothing left to mark.
		return nil, nil, nil
	}

	if reason := Evaluate(cur, price); reason != "" {
		res, err := m.ledger.ApplyLocked(ctx, ledger.Request{
			UserID:      cur.UserID,
			Symbol:      cur.Symbol,
			Action:      model.ActionSell,
			Price:       price,
			Notes:       fmt.Sprintf("Auto-closed: %s at %s", reason, price.StringFixed(model.MoneyScale)),
			CloseReason: reason,
			PositionID:  cur.ID,
			CloseAll:    true,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("auto-close: %w", err)
		}
		return nil, &Closure{Position: *res.Position, Trade: res.Trade, Reason: reason, Price: price}, nil
	}

	pnl, pct := Unrealized(cur.AvgPrice, price, cur.Quantity)
	cur.CurrentPrice = decimal.NewNullDecimal(price)
	cur.UnrealizedPnL = decimal.NewNullDecimal(pnl)
	cur.UnrealizedPnLPercentage = decimal.NewNullDecimal(pct)
	if err := m.store.UpdatePosition(ctx, cur); err != nil {
		return nil, nil, fmt.Errorf("store marks: %w", err)
	}
	return cur, nil, nil
}

// Err folds the report's failures into one error, or nil if there were none.
func (r *Report) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Failures))
	for _, f := range r.Failures {
		errs = append(errs, fmt.Errorf("%s: %w", f.Symbol, f))
	}
	return errors.Join(errs...)
}
