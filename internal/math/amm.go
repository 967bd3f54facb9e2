package math

import (
	"errors"

	"github.com/holiman/uint256"
)

var (
	ErrInsufficientInput     = errors.New("insufficient input amount")
	ErrInsufficientOutput    = errors.New("insufficient output amount")
	ErrInsufficientReserves  = errors.New("insufficient reserves")
	ErrIdenticalTokens       = errors.New("identical tokens")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity minted")
)

// GetAmountOut is the constant-product output for amountIn with a fee in bps.
func GetAmountOut(amountIn, reserveIn, reserveOut *uint256.Int, feeBps uint64) (*uint256.Int, error) {
	if amountIn.IsZero() {
		return nil, ErrInsufficientInput
	}
	if reserveIn.IsZero() || reserveOut.IsZero() {
		return nil, ErrInsufficientReserves
	}
	inWithFee := new(uint256.Int).Mul(amountIn, uint256.NewInt(BpsScale-feeBps))
	num := new(uint256.Int).Mul(inWithFee, reserveOut)
	den := new(uint256.Int).Mul(reserveIn, bpsInt)
	den.Add(den, inWithFee)
	return num.Div(num, den), nil
}

// GetAmountIn is the minimum input that yields amountOut.
func GetAmountIn(amountOut, reserveIn, reserveOut *uint256.Int, feeBps uint64) (*uint256.Int, error) {
	if amountOut.IsZero() {
		return nil, ErrInsufficientOutput
	}
	if reserveIn.IsZero() || amountOut.Cmp(reserveOut) >= 0 {
		return nil, ErrInsufficientReserves
	}
	num := new(uint256.Int).Mul(reserveIn, amountOut)
	num.Mul(num, bpsInt)
	den := new(uint256.Int).Sub(reserveOut, amountOut)
	den.Mul(den, uint256.NewInt(BpsScale-feeBps))
	num.Div(num, den)
	return num.AddUint64(num, 1), nil
}

// Quote returns the amount of B equivalent to amountA at the reserve ratio.
func Quote(amountA, reserveA, reserveB *uint256.Int) (*uint256.Int, error) {
	if amountA.IsZero() {
		return nil, ErrInsufficientInput
	}
	if reserveA.IsZero() || reserveB.IsZero() {
		return nil, ErrInsufficientReserves
	}
	return MulDiv(amountA, reserveB, reserveA), nil
}

// ProRata returns share*amount/total, the underlying owed to a share of a pool.
func ProRata(share, amount, total *uint256.Int) *uint256.Int {
	if total.IsZero() {
		return new(uint256.Int)
	}
	return MulDiv(share, amount, total)
}
