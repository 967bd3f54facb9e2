package sim

import (
	"errors"
	"fmt"
	"time"

	fpmath "LevFarm/internal/math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrUnknownStrategy  = errors.New("unknown strategy")
	ErrStrategyActive   = errors.New("strategy already active")
	ErrDebtRatioLimit   = errors.New("debt ratio above 100%")
	ErrVaultLoss        = errors.New("withdrawal loss above limit")
	ErrInsufficientGain = errors.New("strategy balance below gain plus debt payment")
	ErrNoShares         = errors.New("no shares")
)

// VaultStrategy is what the vault needs from a strategy to pull funds back.
type VaultStrategy interface {
	Address() common.Address
	Withdraw(from common.Address, amount *uint256.Int, maxLossBps uint64) (*uint256.Int, error)
}

type strategyParams struct {
	active     bool
	debtRatio  uint64
	totalDebt  *uint256.Int
	totalGain  *uint256.Int
	totalLoss  *uint256.Int
	lastReport time.Time
}

// Vault is a single-asset yield vault in the Yearn mould. It lends to its
// strategies up to their debt ratio, takes reports and pulls funds back on
// withdrawal following the queue order.
type Vault struct {
	chain      *Chain
	bank       *Bank
	address    common.Address
	token      common.Address
	governance common.Address

	strategies map[common.Address]VaultStrategy
	params     map[common.Address]*strategyParams
	queue      []common.Address
	debtRatio  uint64
	totalDebt  *uint256.Int
	shutdown   bool
}

func NewVault(chain *Chain, bank *Bank, token common.Address, label string, governance common.Address) *Vault {
	addr := Address("vault:" + label)
	bank.symbols[addr] = "yv" + bank.Symbol(token)
	return &Vault{
		chain:      chain,
		bank:       bank,
		address:    addr,
		token:      token,
		governance: governance,
		strategies: make(map[common.Address]VaultStrategy),
		params:     make(map[common.Address]*strategyParams),
		totalDebt:  new(uint256.Int),
	}
}

func (v *Vault) Address() common.Address    { return v.address }
func (v *Vault) ShareToken() common.Address { return v.address }
func (v *Vault) Token() common.Address      { return v.token }

// Register makes a strategy known without lending to it, so it can receive a
// migration.
func (v *Vault) Register(s VaultStrategy) {
	v.strategies[s.Address()] = s
}

func (v *Vault) AddStrategy(s VaultStrategy, debtRatio uint64) error {
	addr := s.Address()
	if p, ok := v.params[addr]; ok && p.active {
		return ErrStrategyActive
	}
	if v.debtRatio+debtRatio > fpmath.BpsScale {
		return ErrDebtRatioLimit
	}
	v.Register(s)
	v.params[addr] = &strategyParams{
		active:     true,
		debtRatio:  debtRatio,
		totalDebt:  new(uint256.Int),
		totalGain:  new(uint256.Int),
		totalLoss:  new(uint256.Int),
		lastReport: v.chain.Now(),
	}
	v.debtRatio += debtRatio
	v.queue = append(v.queue, addr)
	return nil
}

func (v *Vault) param(strategy common.Address) (*strategyParams, error) {
	p, ok := v.params[strategy]
	if !ok || !p.active {
		return nil, fmt.Errorf("%s: %w", strategy.Hex(), ErrUnknownStrategy)
	}
	return p, nil
}

func (v *Vault) UpdateDebtRatio(strategy common.Address, debtRatio uint64) error {
	p, err := v.param(strategy)
	if err != nil {
		return err
	}
	total := v.debtRatio - p.debtRatio + debtRatio
	if total > fpmath.BpsScale {
		return ErrDebtRatioLimit
	}
	setValue(v.chain, &v.debtRatio, total)
	setValue(v.chain, &p.debtRatio, debtRatio)
	return nil
}

// RevokeStrategy sets the strategy's debt ratio to zero so its next report
// returns everything.
func (v *Vault) RevokeStrategy(strategy common.Address) error {
	return v.UpdateDebtRatio(strategy, 0)
}

// SetEmergencyShutdown stops new credit and recalls all debt.
func (v *Vault) SetEmergencyShutdown(on bool) {
	setValue(v.chain, &v.shutdown, on)
}

func (v *Vault) Idle() *uint256.Int {
	return v.bank.BalanceOf(v.token, v.address)
}

func (v *Vault) TotalAssets() *uint256.Int {
	return new(uint256.Int).Add(v.Idle(), v.totalDebt)
}

func (v *Vault) TotalShares() *uint256.Int {
	return v.bank.TotalSupply(v.address)
}

// PricePerShare is the value of 1e18 shares.
func (v *Vault) PricePerShare() *uint256.Int {
	shares := v.TotalShares()
	if shares.IsZero() {
		return fpmath.Wad()
	}
	return fpmath.MulDiv(v.TotalAssets(), fpmath.Wad(), shares)
}

func (v *Vault) DebtRatio(strategy common.Address) uint64 {
	if p, ok := v.params[strategy]; ok && p.active {
		return p.debtRatio
	}
	return 0
}

func (v *Vault) TotalDebt(strategy common.Address) *uint256.Int {
	if p, ok := v.params[strategy]; ok && p.active {
		return new(uint256.Int).Set(p.totalDebt)
	}
	return new(uint256.Int)
}

func (v *Vault) LastReport(strategy common.Address) time.Time {
	if p, ok := v.params[strategy]; ok {
		return p.lastReport
	}
	return time.Time{}
}

func (v *Vault) DebtOutstanding(strategy common.Address) *uint256.Int {
	p, ok := v.params[strategy]
	if !ok || !p.active {
		return new(uint256.Int)
	}
	if v.debtRatio == 0 || v.shutdown {
		return new(uint256.Int).Set(p.totalDebt)
	}
	limit := fpmath.ApplyBps(v.TotalAssets(), p.debtRatio)
	return fpmath.SubFloor(p.totalDebt, limit)
}

func (v *Vault) CreditAvailable(strategy common.Address) *uint256.Int {
	p, ok := v.params[strategy]
	if !ok || !p.active || v.shutdown {
		return new(uint256.Int)
	}
	total := v.TotalAssets()
	vaultLimit := fpmath.ApplyBps(total, v.debtRatio)
	strategyLimit := fpmath.ApplyBps(total, p.debtRatio)
	if strategyLimit.Cmp(p.totalDebt) <= 0 || vaultLimit.Cmp(v.totalDebt) <= 0 {
		return new(uint256.Int)
	}
	avail := fpmath.Min(
		new(uint256.Int).Sub(strategyLimit, p.totalDebt),
		new(uint256.Int).Sub(vaultLimit, v.totalDebt),
	)
	return fpmath.Min(avail, v.Idle())
}

// Report settles a harvest: books the loss, takes gain and debt payment,
// extends credit and returns what the strategy still owes.
func (v *Vault) Report(strategy common.Address, gain, loss, debtPayment *uint256.Int) (*uint256.Int, error) {
	p, err := v.param(strategy)
	if err != nil {
		return nil, err
	}
	bal := v.bank.BalanceOf(v.token, strategy)
	if bal.Lt(new(uint256.Int).Add(gain, debtPayment)) {
		return nil, ErrInsufficientGain
	}

	if !loss.IsZero() {
		v.reportLoss(p, loss)
	}
	setValue(v.chain, &p.totalGain, new(uint256.Int).Add(p.totalGain, gain))

	debt := v.DebtOutstanding(strategy)
	payment := fpmath.Min(debtPayment, debt)
	if !payment.IsZero() {
		setValue(v.chain, &p.totalDebt, new(uint256.Int).Sub(p.totalDebt, payment))
		setValue(v.chain, &v.totalDebt, new(uint256.Int).Sub(v.totalDebt, payment))
		debt = new(uint256.Int).Sub(debt, payment)
	}

	// Credit is computed with gain and payment still on the strategy's books.
	credit := v.creditAfter(p, new(uint256.Int).Add(gain, payment))
	if !credit.IsZero() {
		setValue(v.chain, &p.totalDebt, new(uint256.Int).Add(p.totalDebt, credit))
		setValue(v.chain, &v.totalDebt, new(uint256.Int).Add(v.totalDebt, credit))
	}

	available := new(uint256.Int).Add(gain, payment)
	switch available.Cmp(credit) {
	case -1:
		if err := v.bank.Transfer(v.token, v.address, strategy, new(uint256.Int).Sub(credit, available)); err != nil {
			return nil, err
		}
	case 1:
		if err := v.bank.Transfer(v.token, strategy, v.address, new(uint256.Int).Sub(available, credit)); err != nil {
			return nil, err
		}
	}
	setValue(v.chain, &p.lastReport, v.chain.Now())

	if p.debtRatio == 0 || v.shutdown {
		return new(uint256.Int).Set(p.totalDebt), nil
	}
	return debt, nil
}

// creditAfter is CreditAvailable with incoming funds counted as idle.
func (v *Vault) creditAfter(p *strategyParams, incoming *uint256.Int) *uint256.Int {
	if v.shutdown {
		return new(uint256.Int)
	}
	idle := new(uint256.Int).Add(v.Idle(), incoming)
	total := new(uint256.Int).Add(idle, v.totalDebt)
	vaultLimit := fpmath.ApplyBps(total, v.debtRatio)
	strategyLimit := fpmath.ApplyBps(total, p.debtRatio)
	if strategyLimit.Cmp(p.totalDebt) <= 0 || vaultLimit.Cmp(v.totalDebt) <= 0 {
		return new(uint256.Int)
	}
	avail := fpmath.Min(
		new(uint256.Int).Sub(strategyLimit, p.totalDebt),
		new(uint256.Int).Sub(vaultLimit, v.totalDebt),
	)
	return fpmath.Min(avail, idle)
}

func (v *Vault) reportLoss(p *strategyParams, loss *uint256.Int) {
	loss = fpmath.Min(loss, p.totalDebt)
	setValue(v.chain, &p.totalLoss, new(uint256.Int).Add(p.totalLoss, loss))
	setValue(v.chain, &p.totalDebt, new(uint256.Int).Sub(p.totalDebt, loss))
	setValue(v.chain, &v.totalDebt, fpmath.SubFloor(v.totalDebt, loss))
}

// MigrateDebt moves the debt record of from onto the registered strategy to.
func (v *Vault) MigrateDebt(from, to common.Address) error {
	p, err := v.param(from)
	if err != nil {
		return err
	}
	if _, ok := v.strategies[to]; !ok {
		return fmt.Errorf("%s: %w", to.Hex(), ErrUnknownStrategy)
	}
	if q, ok := v.params[to]; ok && q.active {
		return ErrStrategyActive
	}
	moved := &strategyParams{
		active:     true,
		debtRatio:  p.debtRatio,
		totalDebt:  new(uint256.Int).Set(p.totalDebt),
		totalGain:  new(uint256.Int),
		totalLoss:  new(uint256.Int),
		lastReport: p.lastReport,
	}
	prev, existed := v.params[to]
	v.chain.record(func() {
		if existed {
			v.params[to] = prev
		} else {
			delete(v.params, to)
		}
	})
	v.params[to] = moved

	setValue(v.chain, &p.active, false)
	setValue(v.chain, &p.debtRatio, 0)
	setValue(v.chain, &p.totalDebt, new(uint256.Int))

	queue := make([]common.Address, len(v.queue))
	for i, addr := range v.queue {
		if addr == from {
			addr = to
		}
		queue[i] = addr
	}
	setValue(v.chain, &v.queue, queue)
	return nil
}

// Deposit takes amount of the vault token from user and mints shares.
func (v *Vault) Deposit(user common.Address, amount *uint256.Int) (*uint256.Int, error) {
	total := v.TotalAssets()
	supply := v.TotalShares()
	shares := new(uint256.Int).Set(amount)
	if !supply.IsZero() {
		shares = fpmath.MulDiv(amount, supply, total)
	}
	if shares.IsZero() {
		return nil, ErrNoShares
	}
	if err := v.bank.Transfer(v.token, user, v.address, amount); err != nil {
		return nil, fmt.Errorf("deposit: %w", err)
	}
	v.bank.Mint(v.address, user, shares)
	return shares, nil
}

// Withdraw burns shares for their value, pulling from strategies in queue
// order when idle funds fall short. The whole call is rolled back when a
// strategy fails or the realized loss exceeds maxLossBps.
func (v *Vault) Withdraw(user common.Address, shares *uint256.Int, maxLossBps uint64) (value *uint256.Int, err error) {
	snap := v.chain.Snapshot()
	defer func() {
		if err != nil {
			v.chain.RevertToSnapshot(snap)
			return
		}
		v.chain.Commit(snap)
	}()

	if shares.IsZero() || v.bank.BalanceOf(v.address, user).Lt(shares) {
		return nil, ErrNoShares
	}
	value = fpmath.MulDiv(shares, v.TotalAssets(), v.TotalShares())
	totalLoss := new(uint256.Int)

	for _, addr := range v.queue {
		if value.Cmp(v.Idle()) <= 0 {
			break
		}
		p := v.params[addr]
		need := fpmath.Min(new(uint256.Int).Sub(value, v.Idle()), p.totalDebt)
		if need.IsZero() {
			continue
		}
		before := v.Idle()
		loss, err := v.strategies[addr].Withdraw(v.address, need, maxLossBps)
		if err != nil {
			return nil, fmt.Errorf("strategy %s withdraw: %w", addr.Hex(), err)
		}
		withdrawn := fpmath.SubFloor(v.Idle(), before)
		if !loss.IsZero() {
			value = fpmath.SubFloor(value, loss)
			totalLoss.Add(totalLoss, loss)
			v.reportLoss(p, loss)
		}
		setValue(v.chain, &p.totalDebt, fpmath.SubFloor(p.totalDebt, withdrawn))
		setValue(v.chain, &v.totalDebt, fpmath.SubFloor(v.totalDebt, withdrawn))
	}

	if value.Gt(v.Idle()) {
		value = v.Idle()
	}
	gross := new(uint256.Int).Add(value, totalLoss)
	if totalLoss.Gt(fpmath.ApplyBps(gross, maxLossBps)) {
		return nil, ErrVaultLoss
	}
	if err := v.bank.Burn(v.address, user, shares); err != nil {
		return nil, err
	}
	if err := v.bank.Transfer(v.token, v.address, user, value); err != nil {
		return nil, err
	}
	return value, nil
}
