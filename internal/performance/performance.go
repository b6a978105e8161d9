// Package performance replays a user's trade history into win-rate and
// profit statistics. The replay is independent of live positions and is a
// pure function of the trade list, so recomputing is always safe.
package performance

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/cashoutai/tradedesk/internal/model"
	"github.com/cashoutai/tradedesk/internal/store"
)

var hundred = decimal.NewFromInt(100)

// holding is the per-symbol replay accumulator.
type holding struct {
	shares    int64
	totalCost decimal.Decimal
}

// Compute folds trades, oldest first, into a performance snapshot. Every
// SELL that meets accumulated shares counts as one completed trade.
func Compute(trades []model.Trade) model.Performance {
	ordered := make([]model.Trade, len(trades))
	copy(ordered, trades)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})

	book := make(map[string]*holding)
	total := decimal.Zero
	completed, winning := 0, 0

	for _, t := range ordered {
		h, ok := book[t.Symbol]
		if !ok {
			h = &holding{totalCost: decimal.Zero}
			book[t.Symbol] = h
		}
		switch t.Action {
		case model.ActionBuy:
			h.shares += t.Quantity
			h.totalCost = h.totalCost.Add(t.Price.Mul(decimal.NewFromInt(t.Quantity)))

		case model.ActionSell:
			if h.shares <= 0 {
				continue
			}
			avgCost := h.totalCost.Div(decimal.NewFromInt(h.shares))
			sellQty := t.Quantity
			if sellQty > h.shares {
				sellQty = h.shares
			}
			pl := t.Price.Sub(avgCost).Mul(decimal.NewFromInt(sellQty))
			total = total.Add(pl)
			completed++
			if pl.IsPositive() {
				winning++
			}

			h.shares -= sellQty
			if h.shares == 0 {
				h.totalCost = decimal.Zero
			} else {
				h.totalCost = avgCost.Mul(decimal.NewFromInt(h.shares))
			}
		}
	}

	perf := model.Performance{
		TotalProfit:     model.RoundMoney(total),
		WinPercentage:   decimal.Zero,
		TradesCount:     len(ordered),
		AverageGain:     decimal.Zero,
		CompletedTrades: completed,
		WinningTrades:   winning,
	}
	if completed > 0 {
		n := decimal.NewFromInt(int64(completed))
		perf.WinPercentage = model.RoundMoney(decimal.NewFromInt(int64(winning)).Mul(hundred).Div(n))
		perf.AverageGain = model.RoundMoney(total.Div(n))
	}
	return perf
}

// Aggregator recomputes and stores user performance.
type Aggregator struct {
	store store.Store
}

// NewAggregator creates an aggregator backed by st.
func NewAggregator(st store.Store) *Aggregator {
	return &Aggregator{store: st}
}

// Recompute replays the user's full trade log and overwrites the stored
// performance fields with the result.
func (a *Aggregator) Recompute(ctx context.Context, userID string) (model.Performance, error) {
	trades, err := a.store.ListTradesByUser(ctx, userID)
	if err != nil {
		return model.Performance{}, fmt.Errorf("list trades: %w", err)
	}
	perf := Compute(trades)
	if err := a.store.UpdatePerformance(ctx, userID, perf); err != nil {
		return model.Performance{}, fmt.Errorf("store performance: %w", err)
	}
	return perf, nil
}
