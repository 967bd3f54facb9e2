package sim

import (
	"errors"
	"fmt"

	fpmath "LevFarm/internal/math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrMarketNotListed    = errors.New("market not listed")
	ErrPriceUnavailable   = errors.New("price unavailable")
	ErrInsufficientCash   = errors.New("insufficient market cash")
	ErrShortfall          = errors.New("account shortfall")
	ErrInsufficientSupply = errors.New("insufficient supplied balance")
)

// LendingMarket is a pooled money market in the Compound mould: accounts
// supply collateral, borrow against collateral factors and are priced by a
// settable oracle quoting USD per whole token in 1e18 precision.
type LendingMarket struct {
	chain   *Chain
	bank    *Bank
	address common.Address

	assets           []common.Address
	decimals         map[common.Address]uint8
	collateralFactor map[common.Address]uint64
	prices           map[common.Address]*uint256.Int
	supplied         map[holding]*uint256.Int
	borrowed         map[holding]*uint256.Int
}

func NewLendingMarket(chain *Chain, bank *Bank, label string) *LendingMarket {
	return &LendingMarket{
		chain:            chain,
		bank:             bank,
		address:          Address("market:" + label),
		decimals:         make(map[common.Address]uint8),
		collateralFactor: make(map[common.Address]uint64),
		prices:           make(map[common.Address]*uint256.Int),
		supplied:         make(map[holding]*uint256.Int),
		borrowed:         make(map[holding]*uint256.Int),
	}
}

func (m *LendingMarket) Address() common.Address { return m.address }

// List adds a token with its decimals, collateral factor and oracle price.
func (m *LendingMarket) List(token common.Address, decimals uint8, collateralFactorBps uint64, priceWad *uint256.Int) {
	if _, ok := m.decimals[token]; !ok {
		m.assets = append(m.assets, token)
	}
	m.decimals[token] = decimals
	m.collateralFactor[token] = collateralFactorBps
	m.prices[token] = new(uint256.Int).Set(priceWad)
}

// SetPrice moves the oracle. Journaled so rollbacks restore it.
func (m *LendingMarket) SetPrice(token common.Address, priceWad *uint256.Int) {
	setAmount(m.chain, m.prices, token, priceWad)
}

// SeedCash mints borrowable liquidity into the market.
func (m *LendingMarket) SeedCash(token common.Address, amount *uint256.Int) {
	m.bank.Mint(token, m.address, amount)
}

func (m *LendingMarket) AssetPrice(token common.Address) (*uint256.Int, error) {
	p, ok := m.prices[token]
	if !ok {
		return nil, fmt.Errorf("price %s: %w", m.bank.Symbol(token), ErrMarketNotListed)
	}
	if p.IsZero() {
		return nil, fmt.Errorf("price %s: %w", m.bank.Symbol(token), ErrPriceUnavailable)
	}
	return new(uint256.Int).Set(p), nil
}

func (m *LendingMarket) SupplyBalance(account, token common.Address) *uint256.Int {
	return amountOf(m.supplied, holding{token, account})
}

func (m *LendingMarket) BorrowBalance(account, token common.Address) *uint256.Int {
	return amountOf(m.borrowed, holding{token, account})
}

func (m *LendingMarket) Supply(account, token common.Address, amount *uint256.Int) error {
	if _, ok := m.decimals[token]; !ok {
		return fmt.Errorf("supply %s: %w", m.bank.Symbol(token), ErrMarketNotListed)
	}
	if amount.IsZero() {
		return nil
	}
	if err := m.bank.Transfer(token, account, m.address, amount); err != nil {
		return fmt.Errorf("supply: %w", err)
	}
	k := holding{token, account}
	setAmount(m.chain, m.supplied, k, new(uint256.Int).Add(amountOf(m.supplied, k), amount))
	return nil
}

func (m *LendingMarket) WithdrawCollateral(account, token common.Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	k := holding{token, account}
	bal := amountOf(m.supplied, k)
	if bal.Lt(amount) {
		return fmt.Errorf("withdraw %s %s: %w", amount.Dec(), m.bank.Symbol(token), ErrInsufficientSupply)
	}
	_, shortfall, err := m.hypotheticalLiquidity(account, token, amount, fpmath.Zero())
	if err != nil {
		return err
	}
	if !shortfall.IsZero() {
		return fmt.Errorf("withdraw %s %s: %w", amount.Dec(), m.bank.Symbol(token), ErrShortfall)
	}
	setAmount(m.chain, m.supplied, k, new(uint256.Int).Sub(bal, amount))
	if err := m.bank.Transfer(token, m.address, account, amount); err != nil {
		return fmt.Errorf("withdraw: %w", err)
	}
	return nil
}

func (m *LendingMarket) Borrow(account, token common.Address, amount *uint256.Int) error {
	if _, ok := m.decimals[token]; !ok {
		return fmt.Errorf("borrow %s: %w", m.bank.Symbol(token), ErrMarketNotListed)
	}
	if amount.IsZero() {
		return nil
	}
	if m.bank.BalanceOf(token, m.address).Lt(amount) {
		return fmt.Errorf("borrow %s %s: %w", amount.Dec(), m.bank.Symbol(token), ErrInsufficientCash)
	}
	_, shortfall, err := m.hypotheticalLiquidity(account, token, fpmath.Zero(), amount)
	if err != nil {
		return err
	}
	if !shortfall.IsZero() {
		return fmt.Errorf("borrow %s %s: %w", amount.Dec(), m.bank.Symbol(token), ErrShortfall)
	}
	k := holding{token, account}
	setAmount(m.chain, m.borrowed, k, new(uint256.Int).Add(amountOf(m.borrowed, k), amount))
	return m.bank.Transfer(token, m.address, account, amount)
}

// Repay pays down debt. Amounts above the outstanding balance are capped.
func (m *LendingMarket) Repay(account, token common.Address, amount *uint256.Int) error {
	k := holding{token, account}
	owed := amountOf(m.borrowed, k)
	pay := fpmath.Min(owed, amount)
	if pay.IsZero() {
		return nil
	}
	if err := m.bank.Transfer(token, account, m.address, pay); err != nil {
		return fmt.Errorf("repay: %w", err)
	}
	setAmount(m.chain, m.borrowed, k, new(uint256.Int).Sub(owed, pay))
	return nil
}

// AccountLiquidity returns the USD (1e18) headroom above the borrow limit, or
// the shortfall below it.
func (m *LendingMarket) AccountLiquidity(account common.Address) (liquidity, shortfall *uint256.Int, err error) {
	return m.hypotheticalLiquidity(account, common.Address{}, fpmath.Zero(), fpmath.Zero())
}

func (m *LendingMarket) hypotheticalLiquidity(account, token common.Address, redeem, borrow *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	limit := new(uint256.Int)
	debt := new(uint256.Int)
	for _, asset := range m.assets {
		price, err := m.AssetPrice(asset)
		if err != nil {
			return nil, nil, err
		}
		supplied := m.SupplyBalance(account, asset)
		owed := m.BorrowBalance(account, asset)
		if asset == token {
			supplied = fpmath.SubFloor(supplied, redeem)
			owed.Add(owed, borrow)
		}
		value := m.value(asset, supplied, price)
		limit.Add(limit, fpmath.ApplyBps(value, m.collateralFactor[asset]))
		debt.Add(debt, m.value(asset, owed, price))
	}
	if limit.Cmp(debt) >= 0 {
		return new(uint256.Int).Sub(limit, debt), new(uint256.Int), nil
	}
	return new(uint256.Int), new(uint256.Int).Sub(debt, limit), nil
}

func (m *LendingMarket) value(token common.Address, amount, price *uint256.Int) *uint256.Int {
	scale := new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(m.decimals[token])))
	return fpmath.MulDiv(amount, price, scale)
}

// AccrueInterest grows every borrow of token by rateBps.
func (m *LendingMarket) AccrueInterest(token common.Address, rateBps uint64) {
	for k, owed := range m.borrowed {
		if k.token != token || owed.IsZero() {
			continue
		}
		grown := new(uint256.Int).Add(owed, fpmath.ApplyBps(owed, rateBps))
		setAmount(m.chain, m.borrowed, k, grown)
	}
}

// MigratePosition moves every supplied and borrowed balance of from onto to.
func (m *LendingMarket) MigratePosition(from, to common.Address) error {
	if from == to {
		return nil
	}
	for _, asset := range m.assets {
		src := holding{asset, from}
		dst := holding{asset, to}
		if s := amountOf(m.supplied, src); !s.IsZero() {
			setAmount(m.chain, m.supplied, dst, new(uint256.Int).Add(amountOf(m.supplied, dst), s))
			setAmount(m.chain, m.supplied, src, new(uint256.Int))
		}
		if b := amountOf(m.borrowed, src); !b.IsZero() {
			setAmount(m.chain, m.borrowed, dst, new(uint256.Int).Add(amountOf(m.borrowed, dst), b))
			setAmount(m.chain, m.borrowed, src, new(uint256.Int))
		}
	}
	return nil
}
