package sim

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var ErrInsufficientBalance = errors.New("insufficient balance")

type holding struct {
	token   common.Address
	account common.Address
}

// Bank is the ledger of every fungible token in the world, pool and vault
// share tokens included.
type Bank struct {
	chain    *Chain
	balances map[holding]*uint256.Int
	supply   map[common.Address]*uint256.Int
	symbols  map[common.Address]string
}

func NewBank(chain *Chain) *Bank {
	return &Bank{
		chain:    chain,
		balances: make(map[holding]*uint256.Int),
		supply:   make(map[common.Address]*uint256.Int),
		symbols:  make(map[common.Address]string),
	}
}

// NewToken registers a token under a symbol and returns its address.
func (b *Bank) NewToken(symbol string) common.Address {
	addr := Address("token:" + symbol)
	b.symbols[addr] = symbol
	return addr
}

func (b *Bank) Symbol(token common.Address) string {
	if s, ok := b.symbols[token]; ok {
		return s
	}
	return token.Hex()
}

func (b *Bank) BalanceOf(token, account common.Address) *uint256.Int {
	return amountOf(b.balances, holding{token, account})
}

func (b *Bank) TotalSupply(token common.Address) *uint256.Int {
	return amountOf(b.supply, token)
}

func (b *Bank) Transfer(token, from, to common.Address, amount *uint256.Int) error {
	if amount.IsZero() || from == to {
		return nil
	}
	bal := b.BalanceOf(token, from)
	if bal.Lt(amount) {
		return fmt.Errorf("transfer %s %s from %s: %w", amount.Dec(), b.Symbol(token), from.Hex(), ErrInsufficientBalance)
	}
	setAmount(b.chain, b.balances, holding{token, from}, new(uint256.Int).Sub(bal, amount))
	setAmount(b.chain, b.balances, holding{token, to}, new(uint256.Int).Add(b.BalanceOf(token, to), amount))
	return nil
}

func (b *Bank) Mint(token, to common.Address, amount *uint256.Int) {
	if amount.IsZero() {
		return
	}
	setAmount(b.chain, b.balances, holding{token, to}, new(uint256.Int).Add(b.BalanceOf(token, to), amount))
	setAmount(b.chain, b.supply, token, new(uint256.Int).Add(b.TotalSupply(token), amount))
}

func (b *Bank) Burn(token, from common.Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	bal := b.BalanceOf(token, from)
	if bal.Lt(amount) {
		return fmt.Errorf("burn %s %s: %w", amount.Dec(), b.Symbol(token), ErrInsufficientBalance)
	}
	setAmount(b.chain, b.balances, holding{token, from}, new(uint256.Int).Sub(bal, amount))
	setAmount(b.chain, b.supply, token, new(uint256.Int).Sub(b.TotalSupply(token), amount))
	return nil
}
