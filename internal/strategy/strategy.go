// Package strategy implements a leveraged dual-borrow liquidity strategy.
//
// Want is supplied to a lending market, two short assets are borrowed
// against it and paired in an AMM pool, and the pool tokens are staked in a
// farm. The strategy keeps the collateral ratio and both debt ratios inside
// their bands, harvests farm rewards for its vault and unwinds slices of the
// position on withdrawal. Every public operation is atomic: it runs under
// the strategy mutex inside a collaborator snapshot and is rolled back as a
// whole on any error.
package strategy

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

// Deps are the collaborators a strategy drives.
type Deps struct {
	Bank         TokenBank
	Market       LendingMarket
	AMM          AMM
	Farm         Farm
	Vault        Vault
	Checkpointer Checkpointer
	Clock        Clock
	// Guard overrides the default oracle-referenced price guard.
	Guard  *PriceGuard
	Logger *zerolog.Logger
}

type Role int

const (
	RoleGovernance Role = iota
	RoleManagement
	RoleKeeper
	RoleVault
)

func (r Role) String() string {
	switch r {
	case RoleGovernance:
		return "governance"
	case RoleManagement:
		return "management"
	case RoleKeeper:
		return "keeper"
	case RoleVault:
		return "vault"
	default:
		return fmt.Sprintf("Role(%d)", int(r))
	}
}

// keepers may run the maintenance entry points.
var keepers = []Role{RoleKeeper, RoleManagement, RoleGovernance}

type Strategy struct {
	mu sync.Mutex

	cfg    Config
	bank   TokenBank
	market LendingMarket
	amm    AMM
	farm   Farm
	vault  Vault
	chk    Checkpointer
	clock  Clock
	guard  *PriceGuard
	logger zerolog.Logger

	lp        common.Address
	position  Position
	emergency bool
}

// New validates the configuration and the farm capability and returns a
// strategy with an empty position.
func New(cfg Config, deps Deps) (*Strategy, error) {
	if len(cfg.RewardPath) == 0 {
		cfg.RewardPath = []common.Address{cfg.Reward, cfg.Want}
	}
	if cfg.Dust == nil {
		cfg.Dust = new(uint256.Int)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Bank == nil || deps.Market == nil || deps.AMM == nil || deps.Farm == nil ||
		deps.Vault == nil || deps.Checkpointer == nil || deps.Clock == nil {
		return nil, fmt.Errorf("%w: missing collaborator", ErrConfiguration)
	}
	if deps.Vault.Token() != cfg.Want {
		return nil, fmt.Errorf("%w: vault token %s is not want %s", ErrConfiguration, deps.Vault.Token().Hex(), cfg.Want.Hex())
	}
	switch cfg.FarmKind {
	case FarmMasterChef:
		if _, ok := deps.Farm.(Unstaker); !ok {
			return nil, fmt.Errorf("%w: farm does not support withdraw(pid, amount)", ErrConfiguration)
		}
	case FarmRecipient:
		if _, ok := deps.Farm.(RecipientUnstaker); !ok {
			return nil, fmt.Errorf("%w: farm does not support withdraw(pid, amount, to)", ErrConfiguration)
		}
	default:
		return nil, fmt.Errorf("%w: farm kind %s", ErrConfiguration, cfg.FarmKind)
	}

	lp, err := deps.AMM.PairFor(cfg.ShortA, cfg.ShortB)
	if err != nil {
		return nil, fmt.Errorf("%w: short pair: %v", ErrConfiguration, err)
	}

	logger := zerolog.Nop()
	if deps.Logger != nil {
		logger = deps.Logger.With().Str("strategy", cfg.Address.Hex()).Logger()
	}

	s := &Strategy{
		cfg:    cfg,
		bank:   deps.Bank,
		market: deps.Market,
		amm:    deps.AMM,
		farm:   deps.Farm,
		vault:  deps.Vault,
		chk:    deps.Checkpointer,
		clock:  deps.Clock,
		guard:  deps.Guard,
		logger: logger,
		lp:     lp,
	}
	if s.guard == nil {
		s.guard = DefaultPriceGuard(cfg, deps.Market, deps.AMM)
	}
	s.sync()
	return s, nil
}

func (s *Strategy) Address() common.Address { return s.cfg.Address }

// PoolToken is the short/short pair the strategy provides liquidity to.
func (s *Strategy) PoolToken() common.Address { return s.lp }

func (s *Strategy) Guard() *PriceGuard { return s.guard }

func (s *Strategy) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

func (s *Strategy) EmergencyExit() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.emergency
}

// Position returns the ledger as of the last committed operation.
func (s *Strategy) Position() Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position.Clone()
}

func (s *Strategy) authorize(from common.Address, roles ...Role) error {
	for _, r := range roles {
		var holder common.Address
		switch r {
		case RoleGovernance:
			holder = s.cfg.Governance
		case RoleManagement:
			holder = s.cfg.Management
		case RoleKeeper:
			holder = s.cfg.Keeper
		case RoleVault:
			holder = s.vault.Address()
		}
		if holder != (common.Address{}) && from == holder {
			return nil
		}
	}
	return fmt.Errorf("%w: %s is not %v", ErrUnauthorized, from.Hex(), roles)
}

// SetKeeper replaces the keeper account.
func (s *Strategy) SetKeeper(from, keeper common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.authorize(from, RoleManagement, RoleGovernance); err != nil {
		return err
	}
	s.cfg.Keeper = keeper
	return nil
}

// atomic runs fn inside a collaborator snapshot. On error every external
// effect and the in-memory ledger are restored; on success the ledger is
// re-read from live state and the account is checked for shortfall.
func (s *Strategy) atomic(op string, fn func() error) error {
	snap := s.chk.Snapshot()
	saved := s.position.Clone()
	emergency := s.emergency

	err := fn()
	if err == nil {
		err = s.postCheck()
	}
	if err != nil {
		s.chk.RevertToSnapshot(snap)
		s.position = saved
		s.emergency = emergency
		s.logger.Warn().Str("op", op).Err(err).Msg("operation rolled back")
		return err
	}
	s.chk.Commit(snap)
	s.sync()
	s.logger.Info().
		Str("op", op).
		Str("collateral", s.position.SuppliedCollateral.Dec()).
		Str("borrowed_a", s.position.BorrowedA.Dec()).
		Str("borrowed_b", s.position.BorrowedB.Dec()).
		Str("pool_tokens", s.position.PoolTokens.Dec()).
		Str("idle_want", s.position.IdleWant.Dec()).
		Msg("operation committed")
	return nil
}

func (s *Strategy) postCheck() error {
	_, shortfall, err := s.market.AccountLiquidity(s.cfg.Address)
	if err != nil {
		return fmt.Errorf("account liquidity: %w", err)
	}
	if !shortfall.IsZero() {
		return fmt.Errorf("%w: account shortfall %s after operation", ErrInsufficientLiquidity, shortfall.Dec())
	}
	return nil
}

func (s *Strategy) sync() {
	addr := s.cfg.Address
	s.position = Position{
		SuppliedCollateral: s.market.SupplyBalance(addr, s.cfg.Want),
		BorrowedA:          s.market.BorrowBalance(addr, s.cfg.ShortA),
		BorrowedB:          s.market.BorrowBalance(addr, s.cfg.ShortB),
		PoolTokens:         s.poolTokens(),
		IdleWant:           s.bank.BalanceOf(s.cfg.Want, addr),
	}
}
