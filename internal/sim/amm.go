package sim

import (
	"bytes"
	"errors"
	"fmt"

	fpmath "LevFarm/internal/math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrPairNotFound = errors.New("pair not found")
	ErrInvalidPath  = errors.New("invalid swap path")
	ErrSlippage     = errors.New("slippage limit exceeded")
)

// MinimumLiquidity is locked forever on the first mint of every pair.
const MinimumLiquidity = 1000

var deadAddress = common.HexToAddress("0x000000000000000000000000000000000000dEaD")

type pairKey struct {
	token0 common.Address
	token1 common.Address
}

func sortTokens(a, b common.Address) (common.Address, common.Address) {
	if bytes.Compare(a.Bytes(), b.Bytes()) < 0 {
		return a, b
	}
	return b, a
}

// AMM is a constant-product exchange with a flat fee. Each pair's pool token
// is a regular Bank token whose address is the pair address; reserves are
// tracked apart from balances so donations only count after Sync.
type AMM struct {
	chain  *Chain
	bank   *Bank
	feeBps uint64

	pairs    map[pairKey]common.Address
	tokens   map[common.Address]pairKey
	reserves map[holding]*uint256.Int
}

func NewAMM(chain *Chain, bank *Bank, feeBps uint64) *AMM {
	return &AMM{
		chain:    chain,
		bank:     bank,
		feeBps:   feeBps,
		pairs:    make(map[pairKey]common.Address),
		tokens:   make(map[common.Address]pairKey),
		reserves: make(map[holding]*uint256.Int),
	}
}

func (a *AMM) FeeBps() uint64 { return a.feeBps }

// CreatePair registers the pair for two tokens, returning the existing one if
// already present.
func (a *AMM) CreatePair(x, y common.Address) common.Address {
	t0, t1 := sortTokens(x, y)
	key := pairKey{t0, t1}
	if p, ok := a.pairs[key]; ok {
		return p
	}
	p := Address("pair:" + t0.Hex() + ":" + t1.Hex())
	a.pairs[key] = p
	a.tokens[p] = key
	a.bank.symbols[p] = a.bank.Symbol(t0) + "-" + a.bank.Symbol(t1) + "-LP"
	return p
}

func (a *AMM) PairFor(x, y common.Address) (common.Address, error) {
	if x == y {
		return common.Address{}, fpmath.ErrIdenticalTokens
	}
	t0, t1 := sortTokens(x, y)
	p, ok := a.pairs[pairKey{t0, t1}]
	if !ok {
		return common.Address{}, fmt.Errorf("%s/%s: %w", a.bank.Symbol(x), a.bank.Symbol(y), ErrPairNotFound)
	}
	return p, nil
}

// GetReserves returns the reserves ordered as the arguments.
func (a *AMM) GetReserves(x, y common.Address) (*uint256.Int, *uint256.Int, error) {
	p, err := a.PairFor(x, y)
	if err != nil {
		return nil, nil, err
	}
	return amountOf(a.reserves, holding{x, p}), amountOf(a.reserves, holding{y, p}), nil
}

func (a *AMM) TotalSupply(pair common.Address) *uint256.Int {
	return a.bank.TotalSupply(pair)
}

// Tokens returns the two tokens of a pair.
func (a *AMM) Tokens(pair common.Address) (common.Address, common.Address, error) {
	key, ok := a.tokens[pair]
	if !ok {
		return common.Address{}, common.Address{}, ErrPairNotFound
	}
	return key.token0, key.token1, nil
}

// Sync sets reserves to the pair's actual balances, absorbing donations.
func (a *AMM) Sync(pair common.Address) error {
	key, ok := a.tokens[pair]
	if !ok {
		return ErrPairNotFound
	}
	setAmount(a.chain, a.reserves, holding{key.token0, pair}, a.bank.BalanceOf(key.token0, pair))
	setAmount(a.chain, a.reserves, holding{key.token1, pair}, a.bank.BalanceOf(key.token1, pair))
	return nil
}

// AddLiquidity deposits at the current reserve ratio, never exceeding either
// desired amount, and mints pool tokens to account.
func (a *AMM) AddLiquidity(account, x, y common.Address, desiredX, desiredY *uint256.Int) (usedX, usedY, liquidity *uint256.Int, err error) {
	p, err := a.PairFor(x, y)
	if err != nil {
		return nil, nil, nil, err
	}
	rx, ry, _ := a.GetReserves(x, y)
	supply := a.bank.TotalSupply(p)

	if rx.IsZero() && ry.IsZero() {
		usedX, usedY = new(uint256.Int).Set(desiredX), new(uint256.Int).Set(desiredY)
		root := new(uint256.Int).Mul(usedX, usedY)
		root.Sqrt(root)
		if root.CmpUint64(MinimumLiquidity) <= 0 {
			return nil, nil, nil, fpmath.ErrInsufficientLiquidity
		}
		liquidity = root.SubUint64(root, MinimumLiquidity)
		a.bank.Mint(p, deadAddress, uint256.NewInt(MinimumLiquidity))
	} else {
		optY, err := fpmath.Quote(desiredX, rx, ry)
		if err != nil {
			return nil, nil, nil, err
		}
		if optY.Cmp(desiredY) <= 0 {
			usedX, usedY = new(uint256.Int).Set(desiredX), optY
		} else {
			optX, err := fpmath.Quote(desiredY, ry, rx)
			if err != nil {
				return nil, nil, nil, err
			}
			usedX, usedY = fpmath.Min(optX, desiredX), new(uint256.Int).Set(desiredY)
		}
		liquidity = fpmath.Min(
			fpmath.MulDiv(usedX, supply, rx),
			fpmath.MulDiv(usedY, supply, ry),
		)
		if liquidity.IsZero() {
			return nil, nil, nil, fpmath.ErrInsufficientLiquidity
		}
	}

	if err := a.bank.Transfer(x, account, p, usedX); err != nil {
		return nil, nil, nil, fmt.Errorf("add liquidity: %w", err)
	}
	if err := a.bank.Transfer(y, account, p, usedY); err != nil {
		return nil, nil, nil, fmt.Errorf("add liquidity: %w", err)
	}
	a.bank.Mint(p, account, liquidity)
	if err := a.Sync(p); err != nil {
		return nil, nil, nil, err
	}
	return usedX, usedY, liquidity, nil
}

// RemoveLiquidity burns pool tokens for the pro-rata share of the pair's
// balances.
func (a *AMM) RemoveLiquidity(account, x, y common.Address, liquidity *uint256.Int) (outX, outY *uint256.Int, err error) {
	p, err := a.PairFor(x, y)
	if err != nil {
		return nil, nil, err
	}
	if liquidity.IsZero() {
		return new(uint256.Int), new(uint256.Int), nil
	}
	supply := a.bank.TotalSupply(p)
	outX = fpmath.ProRata(liquidity, a.bank.BalanceOf(x, p), supply)
	outY = fpmath.ProRata(liquidity, a.bank.BalanceOf(y, p), supply)
	if outX.IsZero() || outY.IsZero() {
		return nil, nil, fpmath.ErrInsufficientLiquidity
	}
	if err := a.bank.Burn(p, account, liquidity); err != nil {
		return nil, nil, fmt.Errorf("remove liquidity: %w", err)
	}
	if err := a.bank.Transfer(x, p, account, outX); err != nil {
		return nil, nil, err
	}
	if err := a.bank.Transfer(y, p, account, outY); err != nil {
		return nil, nil, err
	}
	if err := a.Sync(p); err != nil {
		return nil, nil, err
	}
	return outX, outY, nil
}

// GetAmountsOut quotes every hop of path for an exact input.
func (a *AMM) GetAmountsOut(amountIn *uint256.Int, path []common.Address) ([]*uint256.Int, error) {
	if len(path) < 2 {
		return nil, ErrInvalidPath
	}
	amounts := make([]*uint256.Int, len(path))
	amounts[0] = new(uint256.Int).Set(amountIn)
	for i := 0; i < len(path)-1; i++ {
		rIn, rOut, err := a.GetReserves(path[i], path[i+1])
		if err != nil {
			return nil, err
		}
		out, err := fpmath.GetAmountOut(amounts[i], rIn, rOut, a.feeBps)
		if err != nil {
			return nil, fmt.Errorf("hop %d: %w", i, err)
		}
		amounts[i+1] = out
	}
	return amounts, nil
}

// GetAmountsIn quotes every hop of path for an exact output.
func (a *AMM) GetAmountsIn(amountOut *uint256.Int, path []common.Address) ([]*uint256.Int, error) {
	if len(path) < 2 {
		return nil, ErrInvalidPath
	}
	amounts := make([]*uint256.Int, len(path))
	amounts[len(path)-1] = new(uint256.Int).Set(amountOut)
	for i := len(path) - 1; i > 0; i-- {
		rIn, rOut, err := a.GetReserves(path[i-1], path[i])
		if err != nil {
			return nil, err
		}
		in, err := fpmath.GetAmountIn(amounts[i], rIn, rOut, a.feeBps)
		if err != nil {
			return nil, fmt.Errorf("hop %d: %w", i-1, err)
		}
		amounts[i-1] = in
	}
	return amounts, nil
}

func (a *AMM) SwapExactTokensForTokens(account common.Address, amountIn, minOut *uint256.Int, path []common.Address) ([]*uint256.Int, error) {
	amounts, err := a.GetAmountsOut(amountIn, path)
	if err != nil {
		return nil, err
	}
	if amounts[len(amounts)-1].Lt(minOut) {
		return nil, ErrSlippage
	}
	return amounts, a.execute(account, amounts, path)
}

func (a *AMM) SwapTokensForExactTokens(account common.Address, amountOut, maxIn *uint256.Int, path []common.Address) ([]*uint256.Int, error) {
	amounts, err := a.GetAmountsIn(amountOut, path)
	if err != nil {
		return nil, err
	}
	if amounts[0].Gt(maxIn) {
		return nil, ErrSlippage
	}
	return amounts, a.execute(account, amounts, path)
}

// Swap runs a direct swap for a market participant (arbitrage, sandwiches).
func (a *AMM) Swap(account common.Address, amountIn *uint256.Int, path ...common.Address) (*uint256.Int, error) {
	amounts, err := a.SwapExactTokensForTokens(account, amountIn, new(uint256.Int), path)
	if err != nil {
		return nil, err
	}
	return amounts[len(amounts)-1], nil
}

func (a *AMM) execute(account common.Address, amounts []*uint256.Int, path []common.Address) error {
	first, err := a.PairFor(path[0], path[1])
	if err != nil {
		return err
	}
	if err := a.bank.Transfer(path[0], account, first, amounts[0]); err != nil {
		return fmt.Errorf("swap: %w", err)
	}
	for i := 0; i < len(path)-1; i++ {
		p, _ := a.PairFor(path[i], path[i+1])
		to := account
		if i < len(path)-2 {
			to, _ = a.PairFor(path[i+1], path[i+2])
		}
		if err := a.bank.Transfer(path[i+1], p, to, amounts[i+1]); err != nil {
			return fmt.Errorf("swap hop %d: %w", i, err)
		}
		if err := a.Sync(p); err != nil {
			return err
		}
	}
	return nil
}
