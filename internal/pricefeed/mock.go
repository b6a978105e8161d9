package pricefeed

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"sync"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/cashoutai/tradedesk/internal/model"
)

// DefaultPrices seeds the mock feed when no price table is configured.
func DefaultPrices() map[string]decimal.Decimal {
	return map[string]decimal.Decimal{
		"TSLA":  decimal.RequireFromString("275.50"),
		"AAPL":  decimal.RequireFromString("188.20"),
		"MSFT":  decimal.RequireFromString("420.50"),
		"NVDA":  decimal.RequireFromString("875.30"),
		"GOOGL": decimal.RequireFromString("142.80"),
		"AMZN":  decimal.RequireFromString("155.90"),
		"META":  decimal.RequireFromString("485.60"),
	}
}

// MockOracle quotes each symbol at its base price moved by a uniform random
// jitter of up to JitterPct percent either way. Symbols missing from the
// table are quoted around Fallback; a zero Fallback makes them unknown.
type MockOracle struct {
	mu        sync.Mutex
	base      map[string]decimal.Decimal
	fallback  decimal.Decimal
	jitterPct float64
	rnd       *rand.Rand
}

// NewMockOracle creates a mock feed. seed fixes the jitter sequence.
func NewMockOracle(base map[string]decimal.Decimal, fallback decimal.Decimal, jitterPct float64, seed int64) *MockOracle {
	table := make(map[string]decimal.Decimal, len(base))
	for sym, p := range base {
		table[sym] = p
	}
	return &MockOracle{
		base:      table,
		fallback:  fallback,
		jitterPct: jitterPct,
		rnd:       rand.New(rand.NewSource(seed)),
	}
}

func (o *MockOracle) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, fmt.Errorf("price %s: %v: %w", symbol, err, model.ErrExternalUnavailable)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	base, ok := o.base[symbol]
	if !ok {
		if !o.fallback.IsPositive() {
			return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
		}
		base = o.fallback
	}

	if o.jitterPct <= 0 {
		return model.RoundMoney(base), nil
	}
	// u in [-1, 1)
	u := o.rnd.Float64()*2 - 1
	factor := decimal.NewFromFloat(1 + u*o.jitterPct/100)
	price := model.RoundMoney(base.Mul(factor))

	floor := decimal.New(1, -model.MoneyScale)
	if price.LessThan(floor) {
		price = floor
	}
	return price, nil
}

// priceTable is the YAML layout of a price table file:
//
//	fallback: "100.00"
//	prices:
//	  TSLA: 275.50
//	  AAPL: 188.20
type priceTable struct {
	Fallback string            `yaml:"fallback"`
	Prices   map[string]string `yaml:"prices"`
}

// LoadTable reads a YAML price table. Prices are kept as written so no
// binary floating point rounding is introduced.
func LoadTable(path string) (map[string]decimal.Decimal, decimal.Decimal, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, decimal.Zero, fmt.Errorf("read price table: %w", err)
	}

	var pt priceTable
	if err := yaml.Unmarshal(data, &pt); err != nil {
		return nil, decimal.Zero, fmt.Errorf("parse price table: %w", err)
	}

	prices := make(map[string]decimal.Decimal, len(pt.Prices))
	for sym, raw := range pt.Prices {
		p, err := decimal.NewFromString(raw)
		if err != nil || !p.IsPositive() {
			return nil, decimal.Zero, fmt.Errorf("price table: invalid price %q for %s", raw, sym)
		}
		prices[sym] = p
	}

	fallback := decimal.Zero
	if pt.Fallback != "" {
		fallback, err = decimal.NewFromString(pt.Fallback)
		if err != nil {
			return nil, decimal.Zero, fmt.Errorf("price table: invalid fallback %q", pt.Fallback)
		}
	}
	return prices, fallback, nil
}
