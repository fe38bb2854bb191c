package protocol

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
)

// Decimals is the number of fractional digits in one whole unit
const Decimals = 9

var unitScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(Decimals), nil)

// ParseUnits converts a decimal string such as "0.2" into nano units
func ParseUnits(s string) (*uint256.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty amount")
	}
	if !isDecimal(s) {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	r.Mul(r, new(big.Rat).SetInt(unitScale))
	if !r.IsInt() {
		return nil, fmt.Errorf("amount %q has more than %d fractional digits", s, Decimals)
	}
	v, overflow := uint256.FromBig(r.Num())
	if overflow {
		return nil, fmt.Errorf("amount %q overflows", s)
	}
	return v, nil
}

// isDecimal accepts digits with at most one fractional point, e.g. "2" or "0.05"
func isDecimal(s string) bool {
	whole, frac, hasPoint := strings.Cut(s, ".")
	if whole == "" || (hasPoint && frac == "") {
		return false
	}
	for _, part := range []string{whole, frac} {
		for _, c := range part {
			if c < '0' || c > '9' {
				return false
			}
		}
	}
	return true
}

// MustParseUnits is ParseUnits for constants and tests
func MustParseUnits(s string) *uint256.Int {
	v, err := ParseUnits(s)
	if err != nil {
		panic(err)
	}
	return v
}

// FormatUnits renders nano units as a decimal string, trimming trailing zeros
func FormatUnits(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	whole, frac := new(big.Int).QuoRem(v.ToBig(), unitScale, new(big.Int))
	if frac.Sign() == 0 {
		return whole.String()
	}
	fs := fmt.Sprintf("%0*s", Decimals, frac.String())
	return whole.String() + "." + strings.TrimRight(fs, "0")
}
