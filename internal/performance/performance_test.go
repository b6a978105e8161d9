package performance_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cashoutai/tradedesk/internal/model"
	"github.com/cashoutai/tradedesk/internal/performance"
	"github.com/cashoutai/tradedesk/internal/store"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var t0 = time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)

func tr(i int, symbol string, action model.Action, qty int64, price string) model.Trade {
	return model.Trade{
		ID:        symbol + string(action) + time.Duration(i).String(),
		UserID:    "u1",
		Symbol:    symbol,
		Action:    action,
		Quantity:  qty,
		Price:     d(price),
		Timestamp: t0.Add(time.Duration(i) * time.Minute),
	}
}

func TestCompute_WinRate(t *testing.T) {
	trades := []model.Trade{
		tr(0, "TSLA", model.ActionBuy, 10, "100"),
		tr(1, "TSLA", model.ActionSell, 10, "110"),
		tr(2, "AAPL", model.ActionBuy, 10, "100"),
		tr(3, "AAPL", model.ActionSell, 10, "90"),
	}

	perf := performance.Compute(trades)

	if perf.TradesCount != 4 {
		t.Errorf("trades count: got %d, want 4", perf.TradesCount)
	}
	if perf.CompletedTrades != 2 || perf.WinningTrades != 1 {
		t.Errorf("completed/winning: got %d/%d, want 2/1", perf.CompletedTrades, perf.WinningTrades)
	}
	if !perf.WinPercentage.Equal(d("50")) {
		t.Errorf("win pct: got %s, want 50", perf.WinPercentage)
	}
	if !perf.TotalProfit.IsZero() {
		t.Errorf("total profit: got %s, want 0", perf.TotalProfit)
	}
	if !perf.AverageGain.IsZero() {
		t.Errorf("average gain: got %s, want 0", perf.AverageGain)
	}
}

func TestCompute_Empty(t *testing.T) {
	perf := performance.Compute(nil)
	if perf.TradesCount != 0 || !perf.WinPercentage.IsZero() || !perf.AverageGain.IsZero() || !perf.TotalProfit.IsZero() {
		t.Errorf("expected zero snapshot, got %+v", perf)
	}
}

func TestCompute_SellWithoutSharesIsNotCompleted(t *testing.T) {
	perf := performance.Compute([]model.Trade{
		tr(0, "TSLA", model.ActionSell, 5, "100"),
	})
	if perf.TradesCount != 1 {
		t.Errorf("trades count: got %d, want 1", perf.TradesCount)
	}
	if perf.CompletedTrades != 0 {
		t.Errorf("completed: got %d, want 0", perf.CompletedTrades)
	}
}

func TestCompute_PartialSellsUseRunningAverage(t *testing.T) {
	trades := []model.Trade{
		tr(0, "TSLA", model.ActionBuy, 100, "250"),
		tr(1, "TSLA", model.ActionBuy, 50, "260"),
		tr(2, "TSLA", model.ActionSell, 50, "270"),
		tr(3, "TSLA", model.ActionSell, 200, "240"),
	}

	perf := performance.Compute(trades)

	// avg 253.333..: +16.666..*50 then -13.333..*100 (clamped to 100 held)
	// = 833.33.. - 1333.33.. = -500
	if !perf.TotalProfit.Equal(d("-500")) {
		t.Errorf("total profit: got %s, want -500", perf.TotalProfit)
	}
	if perf.CompletedTrades != 2 || perf.WinningTrades != 1 {
		t.Errorf("completed/winning: got %d/%d, want 2/1", perf.CompletedTrades, perf.WinningTrades)
	}
	if !perf.AverageGain.Equal(d("-250")) {
		t.Errorf("average gain: got %s, want -250", perf.AverageGain)
	}
}

func TestCompute_OrdersByTimestamp(t *testing.T) {
	inOrder := []model.Trade{
		tr(0, "TSLA", model.ActionBuy, 10, "100"),
		tr(1, "TSLA", model.ActionSell, 10, "120"),
	}
	shuffled := []model.Trade{inOrder[1], inOrder[0]}

	a := performance.Compute(inOrder)
	b := performance.Compute(shuffled)
	if !a.TotalProfit.Equal(b.TotalProfit) || a.CompletedTrades != b.CompletedTrades {
		t.Errorf("replay depends on slice order: %+v vs %+v", a, b)
	}
	if !a.TotalProfit.Equal(d("200")) {
		t.Errorf("total profit: got %s, want 200", a.TotalProfit)
	}
}

func TestCompute_RoundsToCents(t *testing.T) {
	perf := performance.Compute([]model.Trade{
		tr(0, "TSLA", model.ActionBuy, 3, "10"),
		tr(1, "TSLA", model.ActionSell, 1, "10.333"),
		tr(2, "TSLA", model.ActionSell, 1, "9"),
		tr(3, "TSLA", model.ActionSell, 1, "11"),
	})
	if !perf.WinPercentage.Equal(d("66.67")) {
		t.Errorf("win pct: got %s, want 66.67", perf.WinPercentage)
	}
	if !perf.TotalProfit.Equal(d("0.33")) {
		t.Errorf("total profit: got %s, want 0.33", perf.TotalProfit)
	}
	if !perf.AverageGain.Equal(d("0.11")) {
		t.Errorf("average gain: got %s, want 0.11", perf.AverageGain)
	}
}

func TestAggregator_RecomputeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	if err := ms.CreateUser(ctx, &model.User{ID: "u1", Username: "alice", Status: model.StatusApproved}); err != nil {
		t.Fatal(err)
	}
	for _, trade := range []model.Trade{
		tr(0, "TSLA", model.ActionBuy, 10, "100"),
		tr(1, "TSLA", model.ActionSell, 4, "105.5"),
	} {
		if err := ms.InsertTrade(ctx, &trade); err != nil {
			t.Fatal(err)
		}
	}

	agg := performance.NewAggregator(ms)
	first, err := agg.Recompute(ctx, "u1")
	if err != nil {
		t.Fatalf("Recompute: %v", err)
	}
	second, err := agg.Recompute(ctx, "u1")
	if err != nil {
		t.Fatalf("Recompute: %v", err)
	}
	if first.TotalProfit.String() != second.TotalProfit.String() ||
		first.WinPercentage.String() != second.WinPercentage.String() ||
		first.AverageGain.String() != second.AverageGain.String() ||
		first.TradesCount != second.TradesCount {
		t.Errorf("recompute not idempotent: %+v vs %+v", first, second)
	}

	u, _ := ms.GetUser(ctx, "u1")
	if !u.Performance.TotalProfit.Equal(d("22")) {
		t.Errorf("stored total profit: got %s, want 22", u.Performance.TotalProfit)
	}
}

func TestAggregator_UnknownUser(t *testing.T) {
	agg := performance.NewAggregator(store.NewMemoryStore())
	if _, err := agg.Recompute(context.Background(), "ghost"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
