package httpapi

import (
	"fmt"
	"math"

	"github.com/MarkoPoloResearchLab/gamewallet/pkg/ledger"
	"github.com/shopspring/decimal"
)

var maxCents = decimal.NewFromInt(math.MaxInt64)

// toCents converts an amount in major units into minor units.
// Amounts with more precision than the currency allows are rejected, never rounded.
func toCents(value *decimal.Decimal, minorUnits int32) (ledger.AmountCents, error) {
	if value == nil {
		return 0, fmt.Errorf("%w: amount is required", ledger.ErrInvalidAmountCents)
	}
	if value.IsNegative() {
		return 0, fmt.Errorf("%w: amount must not be negative", ledger.ErrInvalidAmountCents)
	}
	cents := value.Shift(minorUnits)
	if !cents.Equal(cents.Truncate(0)) {
		return 0, fmt.Errorf("%w: %s has more than %d decimal places", ledger.ErrInvalidAmountCents, value.String(), minorUnits)
	}
	if cents.GreaterThan(maxCents) {
		return 0, fmt.Errorf("%w: amount out of range", ledger.ErrInvalidAmountCents)
	}
	return ledger.NewAmountCents(cents.IntPart())
}

func toPositiveCents(value *decimal.Decimal, minorUnits int32) (ledger.PositiveAmountCents, error) {
	amount, err := toCents(value, minorUnits)
	if err != nil {
		return 0, err
	}
	if amount.IsZero() {
		return 0, fmt.Errorf("%w: amount must be positive", ledger.ErrInvalidAmountCents)
	}
	return ledger.NewPositiveAmountCents(amount.Int64())
}

// formatAmount renders cents as a fixed-point decimal string.
func formatAmount(cents int64, minorUnits int32) string {
	return decimal.New(cents, -minorUnits).StringFixed(minorUnits)
}
