package math_test

import (
	"testing"

	fpmath "LevFarm/internal/math"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

func u(n uint64) *uint256.Int { return uint256.NewInt(n) }

// ============================================================================
// Test: MulDiv and rounding
// ============================================================================

func TestMulDiv_WideIntermediate(t *testing.T) {
	// (2^200 * 2^100) / 2^150 overflows 256 bits in the product only.
	x := new(uint256.Int).Lsh(u(1), 200)
	y := new(uint256.Int).Lsh(u(1), 100)
	d := new(uint256.Int).Lsh(u(1), 150)
	want := new(uint256.Int).Lsh(u(1), 150)
	if got := fpmath.MulDiv(x, y, d); !got.Eq(want) {
		t.Errorf("got %s, want %s", got.Hex(), want.Hex())
	}
}

func TestMulDivRound_Modes(t *testing.T) {
	cases := []struct {
		x, y, d uint64
		mode    fpmath.RoundingMode
		want    uint64
	}{
		{7, 1, 2, fpmath.RoundDown, 3},
		{7, 1, 2, fpmath.RoundUp, 4},
		{7, 1, 2, fpmath.RoundHalfEven, 4},
		{5, 1, 2, fpmath.RoundHalfEven, 2},
		{10, 1, 3, fpmath.RoundHalfEven, 3},
		{6, 1, 3, fpmath.RoundUp, 2},
	}
	for _, c := range cases {
		got := fpmath.MulDivRound(u(c.x), u(c.y), u(c.d), c.mode)
		if got.Uint64() != c.want {
			t.Errorf("MulDivRound(%d, %d, %d, %d) = %d, want %d", c.x, c.y, c.d, c.mode, got.Uint64(), c.want)
		}
	}
}

func TestMulDivRound_ZeroDivisor(t *testing.T) {
	if got := fpmath.MulDivRound(u(5), u(5), u(0), fpmath.RoundUp); !got.IsZero() {
		t.Errorf("expected 0, got %s", got.Dec())
	}
}

// ============================================================================
// Test: Ratios and helpers
// ============================================================================

func TestRatioBps(t *testing.T) {
	if got := fpmath.RatioBps(u(6), u(10)); got != 6_000 {
		t.Errorf("got %d, want 6000", got)
	}
	if got := fpmath.RatioBps(u(1), u(0)); got != 0 {
		t.Errorf("zero denominator: got %d, want 0", got)
	}
	if got := fpmath.RatioBps(u(2), u(3)); got != 6_667 {
		t.Errorf("got %d, want 6667", got)
	}
}

func TestApplyBps(t *testing.T) {
	if got := fpmath.ApplyBps(fpmath.Units(100, 18), 6_000); !got.Eq(fpmath.Units(60, 18)) {
		t.Errorf("got %s, want 60e18", got.Dec())
	}
}

func TestSubFloor(t *testing.T) {
	if got := fpmath.SubFloor(u(3), u(5)); !got.IsZero() {
		t.Errorf("got %s, want 0", got.Dec())
	}
	if got := fpmath.SubFloor(u(5), u(3)); got.Uint64() != 2 {
		t.Errorf("got %s, want 2", got.Dec())
	}
}

func TestMinReturnsCopy(t *testing.T) {
	a := u(1)
	m := fpmath.Min(a, u(2))
	m.AddUint64(m, 10)
	if a.Uint64() != 1 {
		t.Errorf("Min aliased its operand: a = %d", a.Uint64())
	}
}

func TestDecimalRoundTrip(t *testing.T) {
	d := decimal.RequireFromString("1234.5678")
	x := fpmath.FromDecimal(d, 18)
	if got := fpmath.ToDecimal(x, 18); !got.Equal(d) {
		t.Errorf("got %s, want %s", got, d)
	}
	if got := fpmath.FromDecimal(decimal.NewFromInt(-1), 18); !got.IsZero() {
		t.Errorf("negative input: got %s, want 0", got.Dec())
	}
	if got := fpmath.FromDecimal(decimal.RequireFromString("0.0000000000000000019"), 18); got.Uint64() != 1 {
		t.Errorf("expected truncation to 1 wei, got %s", got.Dec())
	}
}
