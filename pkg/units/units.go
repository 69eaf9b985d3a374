// Package units converts between decimal amount strings and integer minor units.
package units

import (
	"fmt"
	"math/big"
	"strings"
)

var ten = big.NewInt(10)

// Parse converts a decimal string such as "1.25" into minor units for the
// given number of decimals. Extra fractional digits are truncated.
func Parse(amount string, decimals int) (*big.Int, error) {
	if decimals < 0 {
		return nil, fmt.Errorf("invalid decimals: %d", decimals)
	}

	s := strings.TrimSpace(amount)
	if s == "" {
		return nil, fmt.Errorf("empty amount")
	}

	negative := false
	switch s[0] {
	case '-':
		negative = true
		s = s[1:]
	case '+':
		s = s[1:]
	}

	whole, frac, hasDot := strings.Cut(s, ".")
	if hasDot && strings.Contains(frac, ".") {
		return nil, fmt.Errorf("invalid amount format: %q", amount)
	}
	if whole == "" && frac == "" {
		return nil, fmt.Errorf("invalid amount format: %q", amount)
	}
	if !digitsOnly(whole) || !digitsOnly(frac) {
		return nil, fmt.Errorf("invalid amount format: %q", amount)
	}

	if len(frac) > decimals {
		frac = frac[:decimals]
	} else {
		frac += strings.Repeat("0", decimals-len(frac))
	}

	combined := strings.TrimLeft(whole+frac, "0")
	if combined == "" {
		return new(big.Int), nil
	}

	v, ok := new(big.Int).SetString(combined, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount format: %q", amount)
	}
	if negative {
		v.Neg(v)
	}
	return v, nil
}

// ParsePositive is Parse restricted to amounts greater than zero.
func ParsePositive(amount string, decimals int) (*big.Int, error) {
	v, err := Parse(amount, decimals)
	if err != nil {
		return nil, err
	}
	if v.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive: %q", amount)
	}
	return v, nil
}

// Format renders minor units as a decimal string with trailing fractional
// zeros stripped.
func Format(v *big.Int, decimals int) string {
	if v == nil {
		return "0"
	}
	if decimals <= 0 {
		return v.String()
	}

	abs := new(big.Int).Abs(v)
	divisor := new(big.Int).Exp(ten, big.NewInt(int64(decimals)), nil)
	whole, rem := new(big.Int).QuoRem(abs, divisor, new(big.Int))

	sign := ""
	if v.Sign() < 0 {
		sign = "-"
	}
	if rem.Sign() == 0 {
		return sign + whole.String()
	}

	frac := rem.String()
	frac = strings.Repeat("0", decimals-len(frac)) + frac
	frac = strings.TrimRight(frac, "0")
	return sign + whole.String() + "." + frac
}

// FormatInt64 is Format for int64 minor units.
func FormatInt64(v int64, decimals int) string {
	return Format(big.NewInt(v), decimals)
}

// FormatUint64 is Format for uint64 minor units.
func FormatUint64(v uint64, decimals int) string {
	return Format(new(big.Int).SetUint64(v), decimals)
}

// Normalize re-renders a decimal string at the given precision.
func Normalize(amount string, decimals int) (string, error) {
	v, err := Parse(amount, decimals)
	if err != nil {
		return "", err
	}
	return Format(v, decimals), nil
}

func digitsOnly(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
