package application

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var ErrInvalidAmount = errors.New("invalid amount")

// parseAmount accepts a decimal string with at most two fraction digits.
// Positivity is enforced by the domain constructor.
func parseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: not a decimal number", ErrInvalidAmount)
	}
	if d.Exponent() < -2 {
		return decimal.Zero, fmt.Errorf("%w: at most two decimal places", ErrInvalidAmount)
	}
	return d, nil
}
