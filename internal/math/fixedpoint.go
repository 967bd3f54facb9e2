// Package math holds the fixed-point helpers shared by the strategy and the
// simulated protocols. Amounts are 256-bit unsigned integers in token base
// units; ratios are basis points.
package math

import (
	"math/big"
	"sync"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// BpsScale is 100% expressed in basis points.
const BpsScale uint64 = 10_000

// WadDecimals is the precision of WAD-scaled values (oracle prices, fractions).
const WadDecimals = 18

var (
	bpsInt = uint256.NewInt(BpsScale)
	wadInt = new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(WadDecimals))
	maxInt = new(uint256.Int).SetAllOne()
)

// Wad returns a fresh 1e18.
func Wad() *uint256.Int { return new(uint256.Int).Set(wadInt) }

// Bps returns a fresh 10000.
func Bps() *uint256.Int { return new(uint256.Int).Set(bpsInt) }

// Zero returns a fresh zero amount.
func Zero() *uint256.Int { return new(uint256.Int) }

type RoundingMode int

const (
	RoundHalfEven RoundingMode = iota // Banker's rounding
	RoundDown
	RoundUp
)

var bigPool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getBig() *big.Int {
	return bigPool.Get().(*big.Int)
}

func putBig(v *big.Int) {
	v.SetInt64(0) // Clear before returning to pool
	bigPool.Put(v)
}

// MulDiv returns floor(x*y/d) with a 512-bit intermediate product.
// A zero divisor yields zero; a quotient wider than 256 bits saturates.
func MulDiv(x, y, d *uint256.Int) *uint256.Int {
	z, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return new(uint256.Int).Set(maxInt)
	}
	return z
}

// MulDivRound is MulDiv with an explicit rounding mode.
func MulDivRound(x, y, d *uint256.Int, mode RoundingMode) *uint256.Int {
	if d.IsZero() {
		return new(uint256.Int)
	}
	num := getBig()
	den := getBig()
	quo := getBig()
	rem := getBig()
	defer func() {
		putBig(num)
		putBig(den)
		putBig(quo)
		putBig(rem)
	}()

	num.Mul(x.ToBig(), y.ToBig())
	den.Set(d.ToBig())
	quo.QuoRem(num, den, rem)

	if rem.Sign() != 0 {
		switch mode {
		case RoundUp:
			quo.Add(quo, big.NewInt(1))
		case RoundHalfEven:
			// compare 2*rem with den
			rem.Lsh(rem, 1)
			cmp := rem.Cmp(den)
			if cmp > 0 || (cmp == 0 && quo.Bit(0) == 1) {
				quo.Add(quo, big.NewInt(1))
			}
		}
	}

	z, overflow := uint256.FromBig(quo)
	if overflow {
		return new(uint256.Int).Set(maxInt)
	}
	return z
}

// MulWad returns x*y/1e18.
func MulWad(x, y *uint256.Int) *uint256.Int {
	return MulDiv(x, y, wadInt)
}

// DivWad returns x*1e18/y, zero when y is zero.
func DivWad(x, y *uint256.Int) *uint256.Int {
	return MulDiv(x, wadInt, y)
}

// ApplyBps returns x*b/10000.
func ApplyBps(x *uint256.Int, b uint64) *uint256.Int {
	return MulDiv(x, uint256.NewInt(b), bpsInt)
}

// RatioBps returns num*10000/den rounded half-even, 0 when den is zero and
// saturated at MaxUint64.
func RatioBps(num, den *uint256.Int) uint64 {
	if den.IsZero() {
		return 0
	}
	r := MulDivRound(num, bpsInt, den, RoundHalfEven)
	if !r.IsUint64() {
		return ^uint64(0)
	}
	return r.Uint64()
}

// SubFloor returns max(a-b, 0).
func SubFloor(a, b *uint256.Int) *uint256.Int {
	if a.Cmp(b) <= 0 {
		return new(uint256.Int)
	}
	return new(uint256.Int).Sub(a, b)
}

// Min returns a copy of the smaller operand.
func Min(a, b *uint256.Int) *uint256.Int {
	if a.Cmp(b) <= 0 {
		return new(uint256.Int).Set(a)
	}
	return new(uint256.Int).Set(b)
}

// Max returns a copy of the larger operand.
func Max(a, b *uint256.Int) *uint256.Int {
	if a.Cmp(b) >= 0 {
		return new(uint256.Int).Set(a)
	}
	return new(uint256.Int).Set(b)
}

// AbsDiff returns |a-b|.
func AbsDiff(a, b *uint256.Int) *uint256.Int {
	if a.Cmp(b) >= 0 {
		return new(uint256.Int).Sub(a, b)
	}
	return new(uint256.Int).Sub(b, a)
}

// Units returns n whole tokens at the given decimals.
func Units(n uint64, decimals uint8) *uint256.Int {
	scale := new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(decimals)))
	return new(uint256.Int).Mul(uint256.NewInt(n), scale)
}

// ToDecimal converts a base-unit amount to a decimal with the given precision.
func ToDecimal(x *uint256.Int, decimals int32) decimal.Decimal {
	return decimal.NewFromBigInt(x.ToBig(), -decimals)
}

// FromDecimal converts a decimal to base units, truncating extra precision.
// Negative values clamp to zero.
func FromDecimal(d decimal.Decimal, decimals int32) *uint256.Int {
	if d.Sign() <= 0 {
		return new(uint256.Int)
	}
	scaled := d.Shift(decimals).Truncate(0).BigInt()
	z, overflow := uint256.FromBig(scaled)
	if overflow {
		return new(uint256.Int).Set(maxInt)
	}
	return z
}
