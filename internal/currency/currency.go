package currency

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// XOF is the settlement currency required by the aggregator.
const XOF = "XOF"

var ErrRateUnavailable = errors.New("conversion rate unavailable")

// RateSource returns how many units of `to` one unit of `from` is worth.
// Implementations return an error matching ErrRateUnavailable when they have no rate.
type RateSource interface {
	Rate(ctx context.Context, from, to string) (decimal.Decimal, error)
}

type Normalizer struct {
	rates RateSource
}

func NewNormalizer(rates RateSource) *Normalizer {
	return &Normalizer{rates: rates}
}

// Normalize converts amount from the given currency into XOF and returns the rate applied.
// XOF amounts are returned unchanged with a rate of 1.
func (n *Normalizer) Normalize(ctx context.Context, amount decimal.Decimal, from string) (decimal.Decimal, decimal.Decimal, error) {
	code := Code(from)
	if code == XOF {
		return amount, decimal.NewFromInt(1), nil
	}
	if n.rates == nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("%s to %s: %w", code, XOF, ErrRateUnavailable)
	}

	rate, err := n.rates.Rate(ctx, code, XOF)
	if err != nil {
		if errors.Is(err, ErrRateUnavailable) {
			return decimal.Zero, decimal.Zero, err
		}
		return decimal.Zero, decimal.Zero, fmt.Errorf("looking up %s rate: %v: %w", code, err, ErrRateUnavailable)
	}
	if !rate.IsPositive() {
		return decimal.Zero, decimal.Zero, fmt.Errorf("%s to %s rate %s: %w", code, XOF, rate, ErrRateUnavailable)
	}

	return amount.Mul(rate), rate, nil
}

// Code normalizes a currency code to its upper-case ISO form.
func Code(c string) string {
	return strings.ToUpper(strings.TrimSpace(c))
}

// Round rounds an XOF amount to its minor unit. XOF has no decimals.
func Round(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(0)
}

// Symbol returns the display symbol shops use for a currency.
func Symbol(code string) string {
	if Code(code) == XOF {
		return "FCFA"
	}
	return Code(code)
}
