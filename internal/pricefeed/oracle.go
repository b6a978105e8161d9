// Package pricefeed provides the Price Oracle the engine re-prices positions
// with. The production feed is a randomised mock around a base price table;
// real market data is out of scope.
package pricefeed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/cashoutai/tradedesk/internal/model"
)

// Oracle returns a current price for a symbol.
type Oracle interface {
	Price(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// ErrUnknownSymbol is returned for symbols the feed has no price for.
var ErrUnknownSymbol = fmt.Errorf("pricefeed: unknown symbol: %w", model.ErrNotFound)

// WithTimeout bounds every lookup on next to d so a hanging feed cannot
// stall a refresh batch. Deadline and transport failures are reported as
// model.ErrExternalUnavailable.
func WithTimeout(next Oracle, d time.Duration) Oracle {
	return &timeoutOracle{next: next, timeout: d}
}

type timeoutOracle struct {
	next    Oracle
	timeout time.Duration
}

func (o *timeoutOracle) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	type result struct {
		price decimal.Decimal
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		p, err := o.next.Price(ctx, symbol)
		ch <- result{p, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil && !errors.Is(r.err, model.ErrNotFound) && !errors.Is(r.err, model.ErrExternalUnavailable) {
			return decimal.Zero, fmt.Errorf("price %s: %v: %w", symbol, r.err, model.ErrExternalUnavailable)
		}
		return r.price, r.err
	case <-ctx.Done():
		return decimal.Zero, fmt.Errorf("price %s: %v: %w", symbol, ctx.Err(), model.ErrExternalUnavailable)
	}
}

// RateLimited throttles lookups on next to rps requests per second with the
// given burst. Callers wait for a token until their context expires.
func RateLimited(next Oracle, rps float64, burst int) Oracle {
	if rps <= 0 {
		return next
	}
	if burst < 1 {
		burst = 1
	}
	return &limitedOracle{next: next, lim: rate.NewLimiter(rate.Limit(rps), burst)}
}

type limitedOracle struct {
	next Oracle
	lim  *rate.Limiter
}

func (o *limitedOracle) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if err := o.lim.Wait(ctx); err != nil {
		return decimal.Zero, fmt.Errorf("price %s rate limited: %v: %w", symbol, err, model.ErrExternalUnavailable)
	}
	return o.next.Price(ctx, symbol)
}
