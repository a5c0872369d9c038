// Package money converts between integer minor units (kobo) and display amounts.
package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// MinorUnitsExponent is the number of decimal places in one naira.
	MinorUnitsExponent = 2
	CurrencySymbol     = "₦"
)

// FromMinor returns the decimal naira value of kobo.
func FromMinor(kobo int64) decimal.Decimal {
	return decimal.New(kobo, -MinorUnitsExponent)
}

// ToMinor converts a naira amount string such as "1,250.50" to kobo. Amounts with
// more than two decimal places are rejected rather than rounded.
func ToMinor(naira string) (int64, error) {
	clean := strings.TrimSpace(strings.ReplaceAll(naira, ",", ""))
	clean = strings.TrimPrefix(clean, CurrencySymbol)
	if clean == "" {
		return 0, fmt.Errorf("empty amount")
	}
	d, err := decimal.NewFromString(clean)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", naira, err)
	}
	scaled := d.Shift(MinorUnitsExponent)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("amount %q has more than %d decimal places", naira, MinorUnitsExponent)
	}
	return scaled.IntPart(), nil
}

// Format renders kobo as a grouped naira string, e.g. 1234550 -> "₦12,345.50".
func Format(kobo int64) string {
	sign := ""
	if kobo < 0 {
		sign = "-"
		kobo = -kobo
	}
	fixed := FromMinor(kobo).StringFixed(MinorUnitsExponent)
	whole, frac, _ := strings.Cut(fixed, ".")
	return sign + CurrencySymbol + groupThousands(whole) + "." + frac
}

func groupThousands(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	var b strings.Builder
	lead := len(digits) % 3
	if lead > 0 {
		b.WriteString(digits[:lead])
	}
	for i := lead; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}
