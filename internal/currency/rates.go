package currency

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// EURPeg is the fixed parity between the euro and the CFA franc.
var EURPeg = decimal.RequireFromString("655.957")

// StaticRates is a fixed table of rates into XOF keyed by source currency.
type StaticRates map[string]decimal.Decimal

// DefaultRates carries the rates that never move.
func DefaultRates() StaticRates {
	return StaticRates{"EUR": EURPeg}
}

// ParseRates builds a table from textual rates such as {"USD": "602.5"}.
func ParseRates(in map[string]string) (StaticRates, error) {
	out := make(StaticRates, len(in))
	for code, v := range in {
		rate, err := decimal.NewFromString(v)
		if err != nil {
			return nil, fmt.Errorf("rate for %s: %w", code, err)
		}
		out[Code(code)] = rate
	}
	return out, nil
}

func (s StaticRates) Rate(_ context.Context, from, to string) (decimal.Decimal, error) {
	if Code(to) != XOF {
		return decimal.Zero, fmt.Errorf("%s to %s: %w", from, to, ErrRateUnavailable)
	}
	rate, ok := s[Code(from)]
	if !ok {
		return decimal.Zero, fmt.Errorf("%s to %s: %w", from, to, ErrRateUnavailable)
	}
	return rate, nil
}

// ChainRates asks each source in turn and returns the first rate found.
type ChainRates []RateSource

func (c ChainRates) Rate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	for _, src := range c {
		rate, err := src.Rate(ctx, from, to)
		if err == nil {
			return rate, nil
		}
		if !errors.Is(err, ErrRateUnavailable) {
			return decimal.Zero, err
		}
	}
	return decimal.Zero, fmt.Errorf("%s to %s: %w", from, to, ErrRateUnavailable)
}
