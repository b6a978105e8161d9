// Package ticker handles stock symbol validation and extraction of $TICKER
// mentions from chat text.
package ticker

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// symbolRegex matches listed equity symbols: 1-5 letters with an optional
// share-class suffix. Examples: TSLA, BRK.B
var symbolRegex = regexp.MustCompile(`^[A-Z]{1,5}(\.[A-Z]{1,2})?$`)

// mentionRegex matches $TSLA-style mentions in free text. The symbol must
// not be followed by another letter or digit so "$TSLAQQ1" is not a mention.
var mentionRegex = regexp.MustCompile(`\$([A-Za-z]{1,5}(?:\.[A-Za-z]{1,2})?)(?:[^A-Za-z0-9]|$)`)

var ErrInvalidSymbol = errors.New("ticker: invalid symbol")

// Normalize trims and upper-cases a symbol, then validates it.
func Normalize(symbol string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	s = strings.TrimPrefix(s, "$")
	if !symbolRegex.MatchString(s) {
		return "", fmt.Errorf("%w: %q (expected 1-5 letters, optional .CLASS suffix)", ErrInvalidSymbol, symbol)
	}
	return s, nil
}

// Extract returns the unique symbols mentioned as $SYMBOL in text,
// upper-cased, in order of first appearance. It never returns nil.
func Extract(text string) []string {
	tickers := []string{}
	seen := make(map[string]bool)
	for _, m := range mentionRegex.FindAllStringSubmatch(text, -1) {
		sym := strings.ToUpper(m[1])
		if seen[sym] {
			continue
		}
		seen[sym] = true
		tickers = append(tickers, sym)
	}
	return tickers
}
