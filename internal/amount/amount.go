// Package amount converts between human-readable token amounts and raw
// base-unit integers. Conversions are exact decimal string arithmetic; no
// floating point is involved except in FromFloat's formatting step.
package amount

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/holiman/uint256"
)

// MaxDecimals is the largest exponent for which 10^decimals fits in 256 bits.
const MaxDecimals = 77

var ErrInvalid = errors.New("invalid amount")

// Multiplier returns 10^decimals.
func Multiplier(decimals uint8) (*uint256.Int, error) {
	if decimals > MaxDecimals {
		return nil, fmt.Errorf("%w: %d decimals exceeds %d", ErrInvalid, decimals, MaxDecimals)
	}
	return new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(decimals))), nil
}

// ToRaw parses a non-negative decimal such as "100.5" into base units.
func ToRaw(human string, decimals uint8) (*uint256.Int, error) {
	if human == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalid)
	}
	if strings.Count(human, ".") > 1 {
		return nil, fmt.Errorf("%w: %q has more than one decimal point", ErrInvalid, human)
	}
	whole, frac, _ := strings.Cut(human, ".")
	if whole == "" && frac == "" {
		return nil, fmt.Errorf("%w: %q has no digits", ErrInvalid, human)
	}
	if !digitsOnly(whole) || !digitsOnly(frac) {
		return nil, fmt.Errorf("%w: %q is not a non-negative decimal", ErrInvalid, human)
	}
	if len(frac) > int(decimals) {
		return nil, fmt.Errorf("%w: %q has more than %d fractional digits", ErrInvalid, human, decimals)
	}
	digits := strings.TrimLeft(whole+frac+strings.Repeat("0", int(decimals)-len(frac)), "0")
	if digits == "" {
		digits = "0"
	}
	v, err := uint256.FromDecimal(digits)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalid, human, err)
	}
	return v, nil
}

// FromFloat formats f with the shortest representation that round-trips and
// parses it with ToRaw. Values that need exponent notation are rejected.
func FromFloat(f float64, decimals uint8) (*uint256.Int, error) {
	if f < 0 {
		return nil, fmt.Errorf("%w: negative %v", ErrInvalid, f)
	}
	return ToRaw(strconv.FormatFloat(f, 'f', -1, 64), decimals)
}

// ToHuman renders raw base units with trailing fractional zeros removed and
// the fraction omitted when it is zero.
func ToHuman(raw *uint256.Int, decimals uint8) string {
	return Format(raw, decimals, -1)
}

// Format is ToHuman with the fraction truncated to maxFractionDigits.
// A negative maxFractionDigits means no limit. Works for any decimals,
// including those above MaxDecimals whose multiplier overflows 256 bits.
func Format(raw *uint256.Int, decimals uint8, maxFractionDigits int) string {
	if raw == nil {
		raw = new(uint256.Int)
	}
	digits := raw.Dec()
	d := int(decimals)
	if d == 0 {
		return digits
	}
	if len(digits) <= d {
		digits = strings.Repeat("0", d-len(digits)+1) + digits
	}
	whole, frac := digits[:len(digits)-d], digits[len(digits)-d:]
	if maxFractionDigits >= 0 && len(frac) > maxFractionDigits {
		frac = frac[:maxFractionDigits]
	}
	frac = strings.TrimRight(frac, "0")
	if frac == "" {
		return whole
	}
	return whole + "." + frac
}

func digitsOnly(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
