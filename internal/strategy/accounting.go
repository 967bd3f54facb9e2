package strategy

import (
	"fmt"

	fpmath "LevFarm/internal/math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// usdValue prices amount of token at the lending oracle, 1e18 USD.
func (s *Strategy) usdValue(token common.Address, amount *uint256.Int) (*uint256.Int, error) {
	if amount.IsZero() {
		return new(uint256.Int), nil
	}
	price, err := s.market.AssetPrice(token)
	if err != nil {
		return nil, fmt.Errorf("price %s: %w", token.Hex(), err)
	}
	return fpmath.MulDiv(amount, price, fpmath.Units(1, s.cfg.decimals(token))), nil
}

// wantValue converts amount of token into want at oracle prices.
func (s *Strategy) wantValue(token common.Address, amount *uint256.Int) (*uint256.Int, error) {
	if token == s.cfg.Want || amount.IsZero() {
		return new(uint256.Int).Set(amount), nil
	}
	usd, err := s.usdValue(token, amount)
	if err != nil {
		return nil, err
	}
	wantPrice, err := s.market.AssetPrice(s.cfg.Want)
	if err != nil {
		return nil, fmt.Errorf("price want: %w", err)
	}
	return fpmath.MulDiv(usd, fpmath.Units(1, s.cfg.WantDecimals), wantPrice), nil
}

// poolTokens is the staked plus loose pool token balance.
func (s *Strategy) poolTokens() *uint256.Int {
	staked := s.farm.Staked(s.cfg.FarmPID, s.cfg.Address)
	return new(uint256.Int).Add(staked, s.bank.BalanceOf(s.lp, s.cfg.Address))
}

// lpShares returns how much of each short the pool tokens would redeem for
// at current reserves.
func (s *Strategy) lpShares() (lpA, lpB *uint256.Int, err error) {
	held := s.poolTokens()
	if held.IsZero() {
		return new(uint256.Int), new(uint256.Int), nil
	}
	ra, rb, err := s.amm.GetReserves(s.cfg.ShortA, s.cfg.ShortB)
	if err != nil {
		return nil, nil, fmt.Errorf("short reserves: %w", err)
	}
	supply := s.amm.TotalSupply(s.lp)
	return fpmath.ProRata(held, ra, supply), fpmath.ProRata(held, rb, supply), nil
}

// estimatedTotalAssets is idle want plus collateral plus the oracle value of
// each short's net exposure (pool share and loose balance minus debt).
// Unclaimed rewards are not counted.
func (s *Strategy) estimatedTotalAssets() (*uint256.Int, error) {
	addr := s.cfg.Address
	plus := new(uint256.Int).Add(s.bank.BalanceOf(s.cfg.Want, addr), s.market.SupplyBalance(addr, s.cfg.Want))
	minus := new(uint256.Int)

	lpA, lpB, err := s.lpShares()
	if err != nil {
		return nil, err
	}
	for _, leg := range []struct {
		token common.Address
		share *uint256.Int
	}{{s.cfg.ShortA, lpA}, {s.cfg.ShortB, lpB}} {
		held := new(uint256.Int).Add(leg.share, s.bank.BalanceOf(leg.token, addr))
		debt := s.market.BorrowBalance(addr, leg.token)
		if held.Cmp(debt) >= 0 {
			v, err := s.wantValue(leg.token, new(uint256.Int).Sub(held, debt))
			if err != nil {
				return nil, err
			}
			plus.Add(plus, v)
		} else {
			v, err := s.wantValue(leg.token, new(uint256.Int).Sub(debt, held))
			if err != nil {
				return nil, err
			}
			minus.Add(minus, v)
		}
	}
	return fpmath.SubFloor(plus, minus), nil
}

// EstimatedTotalAssets is the strategy's value in want.
func (s *Strategy) EstimatedTotalAssets() (*uint256.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.estimatedTotalAssets()
}

// BalanceOfWant is the idle want held by the strategy.
func (s *Strategy) BalanceOfWant() *uint256.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bank.BalanceOf(s.cfg.Want, s.cfg.Address)
}

func (s *Strategy) idleWant() *uint256.Int {
	return s.bank.BalanceOf(s.cfg.Want, s.cfg.Address)
}
