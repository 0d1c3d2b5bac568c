// Package amount converts between integer minor units (cents) and the
// two-decimal string form used at the system boundary.
package amount

import (
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits carried by every amount string.
const Scale = 2

// ErrMalformedAmount is returned when a string does not match the
// "optional minus, digits, dot, two digits" grammar.
var ErrMalformedAmount = errors.New("malformed amount")

var amountRegex = regexp.MustCompile(`^-?[0-9]+\.[0-9]{2}$`)

// Decode parses an amount string such as "-12.34" into cents.
func Decode(text string) (*big.Int, error) {
	if !amountRegex.MatchString(text) {
		return nil, fmt.Errorf("%w: unexpected amount string %q", ErrMalformedAmount, text)
	}
	d, err := decimal.NewFromString(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedAmount, err)
	}
	return d.Shift(Scale).BigInt(), nil
}

// Parse reads a user supplied amount such as "12", "12.5" or "12.50".
// It is looser than Decode but still rejects sub-cent precision.
func Parse(text string) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(text))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedAmount, err)
	}
	shifted := d.Shift(Scale)
	if !shifted.Equal(shifted.Truncate(0)) {
		return nil, fmt.Errorf("%w: more than %d fractional digits in %q", ErrMalformedAmount, Scale, text)
	}
	return shifted.BigInt(), nil
}

// Encode formats cents as a string with exactly two fractional digits.
// Zero never carries a sign.
func Encode(cents *big.Int) string {
	if cents == nil {
		cents = new(big.Int)
	}
	return decimal.NewFromBigInt(cents, -Scale).StringFixed(Scale)
}

// EncodeInt64 is Encode for values that fit a machine word.
func EncodeInt64(cents int64) string {
	return Encode(big.NewInt(cents))
}

// Sum adds cents values. Nil values count as zero.
func Sum(values ...*big.Int) *big.Int {
	total := new(big.Int)
	for _, v := range values {
		if v != nil {
			total.Add(total, v)
		}
	}
	return total
}

// Neg returns -cents without modifying its argument.
func Neg(cents *big.Int) *big.Int {
	return new(big.Int).Neg(cents)
}
