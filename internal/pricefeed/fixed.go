package pricefeed

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// FixedOracle quotes prices set explicitly with Set and fails with errors
// set with Fail. It is safe for concurrent use and intended for tests and
// demos.
type FixedOracle struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
	errs   map[string]error
}

// NewFixedOracle creates an empty FixedOracle.
func NewFixedOracle() *FixedOracle {
	return &FixedOracle{
		prices: make(map[string]decimal.Decimal),
		errs:   make(map[string]error),
	}
}

// Set quotes symbol at price and clears any failure.
func (o *FixedOracle) Set(symbol string, price decimal.Decimal) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.prices[symbol] = price
	delete(o.errs, symbol)
}

// Fail makes lookups of symbol return err.
func (o *FixedOracle) Fail(symbol string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.errs[symbol] = err
}

func (o *FixedOracle) Price(_ context.Context, symbol string) (decimal.Decimal, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if err, ok := o.errs[symbol]; ok {
		return decimal.Zero, err
	}
	p, ok := o.prices[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	return p, nil
}
