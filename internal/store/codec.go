package store

import (
	"embed"
	"time"

	"github.com/shopspring/decimal"
)

//go:embed schema/*.sql
var schemaFS embed.FS

func schema(name string) string {
	b, err := schemaFS.ReadFile("schema/" + name)
	if err != nil {
		panic("store: missing embedded schema " + name)
	}
	return string(b)
}

// Decimals cross the SQL boundary as text so NUMERIC precision survives
// both drivers unchanged.

func nullDecimalArg(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	s := d.Decimal.String()
	return &s
}

func parseDecimal(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

func parseNullDecimal(s *string) decimal.NullDecimal {
	if s == nil {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

// SQLite has no timestamp type; times are stored as UTC unix nanoseconds.

func unixNanos(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromUnixNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func optUnixNanos(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	n := unixNanos(*t)
	return &n
}

func fromOptUnixNanos(n *int64) *time.Time {
	if n == nil {
		return nil
	}
	t := fromUnixNanos(*n)
	return &t
}
