// Package fixed implements the unsigned 64.64 fixed-point price type used by
// every quotation and distribution calculation. All arithmetic saturates at
// the bounds of the type; division by zero reports "no result" instead of
// panicking.
package fixed

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"math/bits"

	"github.com/shopspring/decimal"
)

// FractionalBits is the number of binary fractional digits carried by Price.
const FractionalBits = 64

var (
	// ErrInvalidPrice is returned when a textual or decimal price cannot be
	// represented (negative, malformed or larger than Max).
	ErrInvalidPrice = errors.New("invalid price")

	scale    = new(big.Int).Lsh(big.NewInt(1), FractionalBits)
	scaleDec = decimal.NewFromBigInt(scale, 0)
	// 2^-64 = 5^64 × 10^-64, so every Price has an exact 64 place decimal form.
	pow5     = new(big.Int).Exp(big.NewInt(5), big.NewInt(FractionalBits), nil)
	lowMask  = new(big.Int).SetUint64(math.MaxUint64)
	maxRaw   = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))
	maxU64   = new(big.Int).SetUint64(math.MaxUint64)
)

// Price is a non-negative fixed-point rational with 64 integer and 64
// fractional bits. The zero value is 0 and Price values are comparable.
type Price struct {
	hi uint64
	lo uint64
}

var (
	// Zero is the zero price.
	Zero = Price{}
	// One is exactly 1.
	One = Price{hi: 1}
	// Max is the largest representable price.
	Max = Price{hi: math.MaxUint64, lo: math.MaxUint64}
)

// FromInteger returns n as a price.
func FromInteger(n uint64) Price {
	return Price{hi: n}
}

// FromRational returns n/d. ok is false when d is zero.
func FromRational(n, d uint64) (Price, bool) {
	if d == 0 {
		return Zero, false
	}
	lo, _ := bits.Div64(n%d, 0, d)
	return Price{hi: n / d, lo: lo}, true
}

// FromBits builds a price from its raw 128-bit representation, clamping to
// [Zero, Max].
func FromBits(raw *big.Int) Price {
	if raw == nil || raw.Sign() <= 0 {
		return Zero
	}
	if raw.Cmp(maxRaw) > 0 {
		return Max
	}
	hi := new(big.Int).Rsh(raw, FractionalBits).Uint64()
	lo := new(big.Int).And(raw, lowMask).Uint64()
	return Price{hi: hi, lo: lo}
}

// Bits returns the raw 128-bit representation (value × 2^64).
func (p Price) Bits() *big.Int {
	raw := new(big.Int).SetUint64(p.hi)
	raw.Lsh(raw, FractionalBits)
	return raw.Or(raw, new(big.Int).SetUint64(p.lo))
}

// IsZero reports whether p is exactly zero.
func (p Price) IsZero() bool {
	return p.hi == 0 && p.lo == 0
}

// Integer returns the integer part of p.
func (p Price) Integer() uint64 {
	return p.hi
}

// Cmp returns -1, 0 or +1 when p is less than, equal to or greater than q.
func (p Price) Cmp(q Price) int {
	switch {
	case p.hi < q.hi:
		return -1
	case p.hi > q.hi:
		return 1
	case p.lo < q.lo:
		return -1
	case p.lo > q.lo:
		return 1
	}
	return 0
}

// SaturatingAdd returns p + q, or Max on overflow.
func (p Price) SaturatingAdd(q Price) Price {
	lo, carry := bits.Add64(p.lo, q.lo, 0)
	hi, carry := bits.Add64(p.hi, q.hi, carry)
	if carry != 0 {
		return Max
	}
	return Price{hi: hi, lo: lo}
}

// SaturatingSub returns p - q, or Zero when q > p.
func (p Price) SaturatingSub(q Price) Price {
	lo, borrow := bits.Sub64(p.lo, q.lo, 0)
	hi, borrow := bits.Sub64(p.hi, q.hi, borrow)
	if borrow != 0 {
		return Zero
	}
	return Price{hi: hi, lo: lo}
}

// SaturatingMul returns p × q, or Max on overflow.
func (p Price) SaturatingMul(q Price) Price {
	raw := new(big.Int).Mul(p.Bits(), q.Bits())
	return FromBits(raw.Rsh(raw, FractionalBits))
}

// CheckedDiv returns p / q. ok is false when q is zero.
func (p Price) CheckedDiv(q Price) (Price, bool) {
	if q.IsZero() {
		return Zero, false
	}
	raw := new(big.Int).Lsh(p.Bits(), FractionalBits)
	return FromBits(raw.Quo(raw, q.Bits())), true
}

// SaturatingMulInt returns p × n as a price.
func (p Price) SaturatingMulInt(n uint64) Price {
	raw := new(big.Int).Mul(p.Bits(), new(big.Int).SetUint64(n))
	return FromBits(raw)
}

// CheckedDivInt returns p / n as a price. ok is false when n is zero.
func (p Price) CheckedDivInt(n uint64) (Price, bool) {
	if n == 0 {
		return Zero, false
	}
	raw := new(big.Int).Quo(p.Bits(), new(big.Int).SetUint64(n))
	return FromBits(raw), true
}

// MulFloor returns floor(p × n) as an integer amount, saturating at
// math.MaxUint64.
func (p Price) MulFloor(n uint64) uint64 {
	raw := new(big.Int).Mul(p.Bits(), new(big.Int).SetUint64(n))
	return saturateU64(raw.Rsh(raw, FractionalBits))
}

// ScaleFloor returns floor(p × n / d) as an integer amount without
// intermediate rounding, saturating at math.MaxUint64. ok is false when d is
// zero.
func (p Price) ScaleFloor(n, d uint64) (uint64, bool) {
	if d == 0 {
		return 0, false
	}
	raw := new(big.Int).Mul(p.Bits(), new(big.Int).SetUint64(n))
	raw.Quo(raw, new(big.Int).SetUint64(d))
	return saturateU64(raw.Rsh(raw, FractionalBits)), true
}

// DivFloor returns floor(n / p) as an integer amount, saturating at
// math.MaxUint64. ok is false when p is zero.
func DivFloor(n uint64, p Price) (uint64, bool) {
	if p.IsZero() {
		return 0, false
	}
	raw := new(big.Int).Lsh(new(big.Int).SetUint64(n), FractionalBits)
	return saturateU64(raw.Quo(raw, p.Bits())), true
}

// MulDivFloor returns floor(a × b / c) computed without intermediate
// overflow, saturating at math.MaxUint64. ok is false when c is zero.
func MulDivFloor(a, b, c uint64) (uint64, bool) {
	if c == 0 {
		return 0, false
	}
	hi, lo := bits.Mul64(a, b)
	if hi >= c {
		return math.MaxUint64, true
	}
	q, _ := bits.Div64(hi, lo, c)
	return q, true
}

func saturateU64(v *big.Int) uint64 {
	if v.Cmp(maxU64) > 0 {
		return math.MaxUint64
	}
	return v.Uint64()
}

// Decimal renders p exactly. Parsing the result yields p again.
func (p Price) Decimal() decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).Mul(p.Bits(), pow5), -FractionalBits)
}

// String renders p in plain decimal notation, e.g. "1.5".
func (p Price) String() string {
	return p.Decimal().String()
}

// FromDecimal converts d to the nearest price not above it.
func FromDecimal(d decimal.Decimal) (Price, error) {
	if d.IsNegative() {
		return Zero, fmt.Errorf("%w: %s is negative", ErrInvalidPrice, d)
	}
	raw := d.Mul(scaleDec).BigInt()
	if raw.Cmp(maxRaw) > 0 {
		return Zero, fmt.Errorf("%w: %s out of range", ErrInvalidPrice, d)
	}
	return FromBits(raw), nil
}

// ParsePrice parses a plain decimal string such as "1.25".
func ParsePrice(s string) (Price, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, fmt.Errorf("%w: %v", ErrInvalidPrice, err)
	}
	return FromDecimal(d)
}

// MarshalText implements encoding.TextMarshaler.
func (p Price) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Price) UnmarshalText(text []byte) error {
	parsed, err := ParsePrice(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
