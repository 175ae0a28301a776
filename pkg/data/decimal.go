package data

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ParseScaled converts a decimal string ("187.25") into scaled integer
// units for the given number of decimal digits, without going through
// float64. Input with more precision than the scale allows is rejected.
func ParseScaled(s string, scale uint8) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("data: parse decimal %q: %w", s, err)
	}
	shifted := d.Shift(int32(scale))
	if !shifted.IsInteger() {
		return 0, fmt.Errorf("data: %q has more than %d decimal digits", s, scale)
	}
	return shifted.IntPart(), nil
}

// FormatScaled renders scaled integer units back into a decimal string.
func FormatScaled(v int64, scale uint8) string {
	return decimal.New(v, -int32(scale)).String()
}
