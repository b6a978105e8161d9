package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/cashoutai/tradedesk/internal/ledger"
	"github.com/cashoutai/tradedesk/internal/model"
	"github.com/cashoutai/tradedesk/internal/store"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestLedger(t *testing.T) (*ledger.Ledger, *store.MemoryStore) {
	t.Helper()
	ms := store.NewMemoryStore()
	return ledger.New(ms), ms
}

func buy(qty int64, price string) ledger.Request {
	return ledger.Request{UserID: "u1", Symbol: "TSLA", Action: model.ActionBuy, Quantity: qty, Price: d(price)}
}

func sellReq(qty int64, price string) ledger.Request {
	return ledger.Request{UserID: "u1", Symbol: "TSLA", Action: model.ActionSell, Quantity: qty, Price: d(price)}
}

func mustApply(t *testing.T, l *ledger.Ledger, req ledger.Request) *ledger.Result {
	t.Helper()
	res, err := l.Apply(context.Background(), req)
	if err != nil {
		t.Fatalf("Apply(%s %d @ %s): %v", req.Action, req.Quantity, req.Price, err)
	}
	return res
}

func TestBuy_OpensPosition(t *testing.T) {
	l, ms := newTestLedger(t)

	res := mustApply(t, l, buy(100, "250"))

	if res.Position == nil || !res.Position.IsOpen {
		t.Fatalf("expected open position, got %+v", res.Position)
	}
	if res.Position.Quantity != 100 {
		t.Errorf("quantity: got %d, want 100", res.Position.Quantity)
	}
	if !res.Position.AvgPrice.Equal(d("250")) {
		t.Errorf("avg price: got %s, want 250", res.Position.AvgPrice)
	}
	if res.Trade.PositionID != res.Position.ID {
		t.Errorf("trade position id: got %q, want %q", res.Trade.PositionID, res.Position.ID)
	}

	trades, _ := ms.ListTradesByUser(context.Background(), "u1")
	if len(trades) != 1 {
		t.Fatalf("expected 1 trade recorded, got %d", len(trades))
	}
}

func TestBuy_WeightedAverageCost(t *testing.T) {
	l, _ := newTestLedger(t)

	mustApply(t, l, buy(100, "250"))
	res := mustApply(t, l, buy(50, "260"))

	if res.Position.Quantity != 150 {
		t.Errorf("quantity: got %d, want 150", res.Position.Quantity)
	}
	// (100*250 + 50*260) / 150 = 253.333...
	if !res.Position.AvgPrice.Equal(d("253.33")) {
		t.Errorf("avg price: got %s, want 253.33", res.Position.AvgPrice)
	}
	if !res.Position.EntryPrice.Equal(d("250")) {
		t.Errorf("entry price should stay at first fill, got %s", res.Position.EntryPrice)
	}
}

func TestSell_PartialKeepsCostBasis(t *testing.T) {
	l, _ := newTestLedger(t)

	mustApply(t, l, buy(100, "250"))
	mustApply(t, l, buy(50, "260"))
	res := mustApply(t, l, sellReq(30, "270"))

	if res.Closed {
		t.Fatal("partial sell must not close the position")
	}
	if res.Position.Quantity != 120 {
		t.Errorf("quantity: got %d, want 120", res.Position.Quantity)
	}
	if !res.Position.AvgPrice.Equal(d("253.33")) {
		t.Errorf("avg price changed on sell: got %s", res.Position.AvgPrice)
	}
	// (270 - 253.33) * 30
	if !res.RealizedPnL.Equal(d("500.10")) {
		t.Errorf("realized pnl: got %s, want 500.10", res.RealizedPnL)
	}
}

func TestSell_OverSellClampsAndCloses(t *testing.T) {
	l, ms := newTestLedger(t)

	mustApply(t, l, buy(10, "100"))
	res := mustApply(t, l, sellReq(25, "110"))

	if !res.Closed {
		t.Fatal("expected position to close")
	}
	if res.AppliedQuantity != 10 || res.RequestedQuantity != 25 {
		t.Errorf("applied/requested: got %d/%d, want 10/25", res.AppliedQuantity, res.RequestedQuantity)
	}
	if !res.Clamped() {
		t.Error("expected Clamped() to report the dropped quantity")
	}
	p := res.Position
	if p.Quantity != 0 || p.IsOpen || p.ClosedAt == nil {
		t.Errorf("closed position state wrong: qty=%d open=%v closed_at=%v", p.Quantity, p.IsOpen, p.ClosedAt)
	}
	if p.AutoCloseReason != model.CloseManual {
		t.Errorf("close reason: got %q, want MANUAL", p.AutoCloseReason)
	}
	if !res.Trade.IsClosed {
		t.Error("closing trade should be flagged is_closed")
	}
	if res.Trade.Quantity != 25 {
		t.Errorf("trade should record the requested quantity, got %d", res.Trade.Quantity)
	}

	if _, err := ms.GetOpenPosition(context.Background(), "u1", "TSLA"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected no open position after close, got %v", err)
	}
}

func TestSell_StrictRejectsOverSell(t *testing.T) {
	l, ms := newTestLedger(t)

	mustApply(t, l, buy(10, "100"))
	req := sellReq(11, "110")
	req.Strict = true

	_, err := l.Apply(context.Background(), req)
	if !errors.Is(err, model.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}

	pos, _ := ms.GetOpenPosition(context.Background(), "u1", "TSLA")
	if pos.Quantity != 10 {
		t.Errorf("rejected sell must not touch the position, qty=%d", pos.Quantity)
	}
	trades, _ := ms.ListTradesByUser(context.Background(), "u1")
	if len(trades) != 1 {
		t.Errorf("rejected sell must not be recorded, got %d trades", len(trades))
	}
}

func TestSell_WithoutPositionIsRecordedNoOp(t *testing.T) {
	l, ms := newTestLedger(t)

	res := mustApply(t, l, sellReq(5, "100"))

	if res.Position != nil {
		t.Errorf("expected no position, got %+v", res.Position)
	}
	if res.AppliedQuantity != 0 {
		t.Errorf("applied: got %d, want 0", res.AppliedQuantity)
	}
	if res.Clamped() {
		t.Error("a SELL with no open position must not count as a clamp")
	}
	trades, _ := ms.ListTradesByUser(context.Background(), "u1")
	if len(trades) != 1 || trades[0].Action != model.ActionSell {
		t.Fatalf("expected the SELL to be recorded, got %+v", trades)
	}
	positions, _ := ms.ListPositions(context.Background(), "u1", false)
	if len(positions) != 0 {
		t.Errorf("expected no positions, got %d", len(positions))
	}
}

func TestSell_CloseAllUsesQuantityUnderLock(t *testing.T) {
	l, ms := newTestLedger(t)

	opened := mustApply(t, l, buy(100, "250"))
	mustApply(t, l, buy(50, "260"))

	req := sellReq(0, "270")
	req.CloseAll = true
	req.PositionID = opened.Position.ID
	req.CloseReason = model.CloseManual
	res := mustApply(t, l, req)

	if !res.Closed || res.Position.IsOpen || res.Position.Quantity != 0 {
		t.Fatalf("expected closed position, got %+v", res.Position)
	}
	if res.AppliedQuantity != 150 || res.Trade.Quantity != 150 || res.Clamped() {
		t.Errorf("expected all 150 shares sold, got applied=%d trade=%d", res.AppliedQuantity, res.Trade.Quantity)
	}
	if res.Position.AutoCloseReason != model.CloseManual {
		t.Errorf("reason: got %q, want MANUAL", res.Position.AutoCloseReason)
	}
	if open, _ := ms.ListPositions(context.Background(), "u1", true); len(open) != 0 {
		t.Errorf("expected no open positions, got %d", len(open))
	}
}

func TestSell_CloseAllWithoutPosition(t *testing.T) {
	l, _ := newTestLedger(t)

	req := sellReq(0, "270")
	req.CloseAll = true
	if _, err := l.Apply(context.Background(), req); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	req = buy(0, "270")
	req.CloseAll = true
	if _, err := l.Apply(context.Background(), req); !errors.Is(err, model.ErrInvalidState) {
		t.Fatalf("close-all BUY: expected ErrInvalidState, got %v", err)
	}
}

func TestBuy_AfterCloseOpensFreshPosition(t *testing.T) {
	l, ms := newTestLedger(t)

	first := mustApply(t, l, buy(10, "100"))
	mustApply(t, l, sellReq(10, "90"))
	second := mustApply(t, l, buy(5, "95"))

	if second.Position.ID == first.Position.ID {
		t.Fatal("expected a new position after the previous one closed")
	}
	if !second.Position.AvgPrice.Equal(d("95")) {
		t.Errorf("fresh position avg: got %s, want 95", second.Position.AvgPrice)
	}

	all, _ := ms.ListPositions(context.Background(), "u1", false)
	if len(all) != 2 {
		t.Errorf("expected 2 positions (1 closed, 1 open), got %d", len(all))
	}
	open, _ := ms.ListPositions(context.Background(), "u1", true)
	if len(open) != 1 {
		t.Errorf("expected exactly 1 open position, got %d", len(open))
	}
}

func TestBuy_StopsOverwrittenOnlyWhenSupplied(t *testing.T) {
	l, _ := newTestLedger(t)

	first := buy(10, "100")
	first.StopLoss = decimal.NewNullDecimal(d("90"))
	first.TakeProfit = decimal.NewNullDecimal(d("120"))
	mustApply(t, l, first)

	second := buy(10, "100")
	second.TakeProfit = decimal.NewNullDecimal(d("130"))
	res := mustApply(t, l, second)

	if !res.Position.StopLoss.Valid || !res.Position.StopLoss.Decimal.Equal(d("90")) {
		t.Errorf("stop loss should be kept, got %+v", res.Position.StopLoss)
	}
	if !res.Position.TakeProfit.Decimal.Equal(d("130")) {
		t.Errorf("take profit should be replaced, got %s", res.Position.TakeProfit.Decimal)
	}
}

func TestApply_RejectsInvalidInput(t *testing.T) {
	l, _ := newTestLedger(t)

	cases := map[string]ledger.Request{
		"zero quantity":  buy(0, "100"),
		"negative price": buy(1, "-1"),
		"zero price":     buy(1, "0"),
		"bad action":     {UserID: "u1", Symbol: "TSLA", Action: "HOLD", Quantity: 1, Price: d("1")},
		"missing symbol": {UserID: "u1", Action: model.ActionBuy, Quantity: 1, Price: d("1")},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := l.Apply(context.Background(), req); !errors.Is(err, model.ErrInvalidState) {
				t.Errorf("expected ErrInvalidState, got %v", err)
			}
		})
	}
}

func TestApply_PositionIDMustMatchOpenPosition(t *testing.T) {
	l, _ := newTestLedger(t)

	mustApply(t, l, buy(10, "100"))
	req := sellReq(1, "100")
	req.PositionID = "some-other-position"

	if _, err := l.Apply(context.Background(), req); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestApply_ConcurrentBuysSerialise(t *testing.T) {
	l, ms := newTestLedger(t)

	const n = 50
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Apply(context.Background(), buy(1, "100")); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent buy failed: %v", err)
	}

	open, _ := ms.ListPositions(context.Background(), "u1", true)
	if len(open) != 1 {
		t.Fatalf("expected a single open position, got %d", len(open))
	}
	if open[0].Quantity != n {
		t.Errorf("quantity: got %d, want %d", open[0].Quantity, n)
	}
	trades, _ := ms.ListTradesByUser(context.Background(), "u1")
	if len(trades) != n {
		t.Errorf("trades: got %d, want %d", len(trades), n)
	}
}
