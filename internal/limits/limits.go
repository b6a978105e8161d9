// Package limits enforces paper-trading exposure caps on BUY orders.
//
// Two caps apply, each disabled when zero:
//   - MaxSharesPerSymbol bounds the open quantity in any one symbol
//   - MaxGrossExposure bounds the summed cost basis of all open positions
//
// SELLs only ever reduce exposure and are never checked.
package limits

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/cashoutai/tradedesk/internal/model"
)

var (
	// ErrSymbolLimitExceeded is returned when a BUY would push one
	// symbol's open quantity beyond the per-symbol maximum.
	ErrSymbolLimitExceeded = fmt.Errorf("limits: per-symbol share limit exceeded: %w", model.ErrInvalidState)

	// ErrGrossLimitExceeded is returned when a BUY would push the total
	// cost basis across all open positions beyond the gross maximum.
	ErrGrossLimitExceeded = fmt.Errorf("limits: gross exposure limit exceeded: %w", model.ErrInvalidState)
)

// ExposureLimiter checks BUYs against a user's open positions.
type ExposureLimiter struct {
	MaxSharesPerSymbol int64
	MaxGrossExposure   decimal.Decimal
}

// NewExposureLimiter creates a limiter. Zero values disable a cap.
func NewExposureLimiter(maxShares int64, maxGross decimal.Decimal) *ExposureLimiter {
	return &ExposureLimiter{
		MaxSharesPerSymbol: maxShares,
		MaxGrossExposure:   maxGross,
	}
}

// Enabled reports whether any cap is active.
func (l *ExposureLimiter) Enabled() bool {
	return l != nil && (l.MaxSharesPerSymbol > 0 || l.MaxGrossExposure.IsPositive())
}

// CheckBuy validates buying qty shares of symbol at price against the
// user's current open positions. A nil limiter allows everything.
func (l *ExposureLimiter) CheckBuy(symbol string, qty int64, price decimal.Decimal, open []model.Position) error {
	if !l.Enabled() {
		return nil
	}

	// 1. Per-symbol quantity.
	held := int64(0)
	for _, p := range open {
		if p.IsOpen && p.Symbol == symbol {
			held += p.Quantity
		}
	}
	if l.MaxSharesPerSymbol > 0 && held+qty > l.MaxSharesPerSymbol {
		return fmt.Errorf("%w: %s would hold %d, max %d", ErrSymbolLimitExceeded, symbol, held+qty, l.MaxSharesPerSymbol)
	}

	// 2. Gross exposure at cost across every open position.
	if l.MaxGrossExposure.IsPositive() {
		gross := price.Mul(decimal.NewFromInt(qty))
		for _, p := range open {
			if p.IsOpen {
				gross = gross.Add(p.AvgPrice.Mul(decimal.NewFromInt(p.Quantity)))
			}
		}
		if gross.GreaterThan(l.MaxGrossExposure) {
			return fmt.Errorf("%w: %s exceeds %s", ErrGrossLimitExceeded,
				gross.StringFixed(model.MoneyScale), l.MaxGrossExposure.StringFixed(model.MoneyScale))
		}
	}

	return nil
}
