package strategy

import "github.com/holiman/uint256"

// Position is the strategy's ledger of what it holds and owes.
type Position struct {
	SuppliedCollateral *uint256.Int `json:"supplied_collateral"`
	BorrowedA          *uint256.Int `json:"borrowed_a"`
	BorrowedB          *uint256.Int `json:"borrowed_b"`
	PoolTokens         *uint256.Int `json:"pool_tokens"`
	IdleWant           *uint256.Int `json:"idle_want"`
}

func clone(x *uint256.Int) *uint256.Int {
	if x == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(x)
}

func (p Position) Clone() Position {
	return Position{
		SuppliedCollateral: clone(p.SuppliedCollateral),
		BorrowedA:          clone(p.BorrowedA),
		BorrowedB:          clone(p.BorrowedB),
		PoolTokens:         clone(p.PoolTokens),
		IdleWant:           clone(p.IdleWant),
	}
}

// IsZero reports whether nothing is held or owed.
func (p Position) IsZero() bool {
	for _, v := range []*uint256.Int{p.SuppliedCollateral, p.BorrowedA, p.BorrowedB, p.PoolTokens, p.IdleWant} {
		if v != nil && !v.IsZero() {
			return false
		}
	}
	return true
}
