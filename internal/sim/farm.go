package sim

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrUnknownPool     = errors.New("unknown farm pool")
	ErrWithdrawTooMuch = errors.New("withdraw exceeds staked balance")
)

type stakeKey struct {
	pid     uint64
	account common.Address
}

// chef is the staking core shared by both farm flavours. Rewards are not
// emitted on a schedule; tests and the daemon credit them with Accrue.
type chef struct {
	chain   *Chain
	bank    *Bank
	address common.Address
	reward  common.Address

	pools   []common.Address
	staked  map[stakeKey]*uint256.Int
	pending map[stakeKey]*uint256.Int
}

func newChef(chain *Chain, bank *Bank, label string, reward common.Address) chef {
	return chef{
		chain:   chain,
		bank:    bank,
		address: Address("farm:" + label),
		reward:  reward,
		staked:  make(map[stakeKey]*uint256.Int),
		pending: make(map[stakeKey]*uint256.Int),
	}
}

func (f *chef) Address() common.Address     { return f.address }
func (f *chef) RewardToken() common.Address { return f.reward }

// AddPool registers a pool token and returns its pid.
func (f *chef) AddPool(lp common.Address) uint64 {
	f.pools = append(f.pools, lp)
	return uint64(len(f.pools) - 1)
}

func (f *chef) lpToken(pid uint64) (common.Address, error) {
	if pid >= uint64(len(f.pools)) {
		return common.Address{}, fmt.Errorf("pid %d: %w", pid, ErrUnknownPool)
	}
	return f.pools[pid], nil
}

func (f *chef) Staked(pid uint64, account common.Address) *uint256.Int {
	return amountOf(f.staked, stakeKey{pid, account})
}

func (f *chef) PendingReward(pid uint64, account common.Address) *uint256.Int {
	return amountOf(f.pending, stakeKey{pid, account})
}

// Accrue mints reward into the farm and credits it to a staker.
func (f *chef) Accrue(pid uint64, account common.Address, amount *uint256.Int) {
	f.bank.Mint(f.reward, f.address, amount)
	k := stakeKey{pid, account}
	setAmount(f.chain, f.pending, k, new(uint256.Int).Add(amountOf(f.pending, k), amount))
}

// Deposit stakes amount and pays out pending reward. A zero amount only claims.
func (f *chef) Deposit(account common.Address, pid uint64, amount *uint256.Int) error {
	lp, err := f.lpToken(pid)
	if err != nil {
		return err
	}
	if err := f.claim(pid, account, account); err != nil {
		return err
	}
	if amount.IsZero() {
		return nil
	}
	if err := f.bank.Transfer(lp, account, f.address, amount); err != nil {
		return fmt.Errorf("farm deposit: %w", err)
	}
	k := stakeKey{pid, account}
	setAmount(f.chain, f.staked, k, new(uint256.Int).Add(amountOf(f.staked, k), amount))
	return nil
}

func (f *chef) withdraw(account common.Address, pid uint64, amount *uint256.Int, to common.Address) error {
	lp, err := f.lpToken(pid)
	if err != nil {
		return err
	}
	k := stakeKey{pid, account}
	staked := amountOf(f.staked, k)
	if staked.Lt(amount) {
		return fmt.Errorf("farm withdraw %s: %w", amount.Dec(), ErrWithdrawTooMuch)
	}
	if err := f.claim(pid, account, to); err != nil {
		return err
	}
	setAmount(f.chain, f.staked, k, new(uint256.Int).Sub(staked, amount))
	return f.bank.Transfer(lp, f.address, to, amount)
}

func (f *chef) claim(pid uint64, account, to common.Address) error {
	k := stakeKey{pid, account}
	owed := amountOf(f.pending, k)
	if owed.IsZero() {
		return nil
	}
	setAmount(f.chain, f.pending, k, new(uint256.Int))
	return f.bank.Transfer(f.reward, f.address, to, owed)
}

// MasterChef is the plain farm: withdraw(pid, amount) pays the caller.
type MasterChef struct {
	chef
}

func NewMasterChef(chain *Chain, bank *Bank, label string, reward common.Address) *MasterChef {
	return &MasterChef{chef: newChef(chain, bank, label, reward)}
}

func (f *MasterChef) Withdraw(account common.Address, pid uint64, amount *uint256.Int) error {
	return f.withdraw(account, pid, amount, account)
}

// RecipientChef takes an explicit recipient on withdraw.
type RecipientChef struct {
	chef
}

func NewRecipientChef(chain *Chain, bank *Bank, label string, reward common.Address) *RecipientChef {
	return &RecipientChef{chef: newChef(chain, bank, label, reward)}
}

func (f *RecipientChef) Withdraw(account common.Address, pid uint64, amount *uint256.Int, to common.Address) error {
	return f.withdraw(account, pid, amount, to)
}
