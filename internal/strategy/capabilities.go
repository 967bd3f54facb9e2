package strategy

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// TokenBank moves fungible tokens between accounts.
type TokenBank interface {
	BalanceOf(token, account common.Address) *uint256.Int
	Transfer(token, from, to common.Address, amount *uint256.Int) error
}

// LendingMarket is the money market holding the collateral and both borrows.
// AssetPrice quotes USD per whole token with 18 decimals.
type LendingMarket interface {
	Supply(account, token common.Address, amount *uint256.Int) error
	WithdrawCollateral(account, token common.Address, amount *uint256.Int) error
	Borrow(account, token common.Address, amount *uint256.Int) error
	Repay(account, token common.Address, amount *uint256.Int) error
	SupplyBalance(account, token common.Address) *uint256.Int
	BorrowBalance(account, token common.Address) *uint256.Int
	AccountLiquidity(account common.Address) (liquidity, shortfall *uint256.Int, err error)
	AssetPrice(token common.Address) (*uint256.Int, error)
}

// PositionMigrator is an optional market capability that re-homes an
// account's supply and borrow balances.
type PositionMigrator interface {
	MigratePosition(from, to common.Address) error
}

// AMM is a constant-product router. Reserves are returned in argument order.
type AMM interface {
	PairFor(x, y common.Address) (common.Address, error)
	GetReserves(x, y common.Address) (*uint256.Int, *uint256.Int, error)
	TotalSupply(pair common.Address) *uint256.Int
	GetAmountsOut(amountIn *uint256.Int, path []common.Address) ([]*uint256.Int, error)
	GetAmountsIn(amountOut *uint256.Int, path []common.Address) ([]*uint256.Int, error)
	SwapExactTokensForTokens(account common.Address, amountIn, minOut *uint256.Int, path []common.Address) ([]*uint256.Int, error)
	SwapTokensForExactTokens(account common.Address, amountOut, maxIn *uint256.Int, path []common.Address) ([]*uint256.Int, error)
	AddLiquidity(account, x, y common.Address, desiredX, desiredY *uint256.Int) (usedX, usedY, liquidity *uint256.Int, err error)
	RemoveLiquidity(account, x, y common.Address, liquidity *uint256.Int) (outX, outY *uint256.Int, err error)
}

// Farm stakes pool tokens. Deposit with a zero amount claims rewards.
// Withdrawal comes in two flavours, see Unstaker and RecipientUnstaker.
type Farm interface {
	Deposit(account common.Address, pid uint64, amount *uint256.Int) error
	Staked(pid uint64, account common.Address) *uint256.Int
	PendingReward(pid uint64, account common.Address) *uint256.Int
}

// Unstaker is a farm whose withdraw pays the caller.
type Unstaker interface {
	Withdraw(account common.Address, pid uint64, amount *uint256.Int) error
}

// RecipientUnstaker is a farm whose withdraw names the recipient.
type RecipientUnstaker interface {
	Withdraw(account common.Address, pid uint64, amount *uint256.Int, to common.Address) error
}

// Vault is the owner of the strategy's capital.
type Vault interface {
	Address() common.Address
	Token() common.Address
	DebtRatio(strategy common.Address) uint64
	TotalDebt(strategy common.Address) *uint256.Int
	DebtOutstanding(strategy common.Address) *uint256.Int
	CreditAvailable(strategy common.Address) *uint256.Int
	LastReport(strategy common.Address) time.Time
	Report(strategy common.Address, gain, loss, debtPayment *uint256.Int) (*uint256.Int, error)
	RevokeStrategy(strategy common.Address) error
	MigrateDebt(from, to common.Address) error
}

// Checkpointer snapshots and restores all collaborator state.
type Checkpointer interface {
	Snapshot() int
	RevertToSnapshot(id int)
	Commit(id int)
}

type Clock interface {
	Now() time.Time
}

// PriceSource quotes the price of one whole base token in quote tokens.
type PriceSource interface {
	Price() (decimal.Decimal, error)
}
