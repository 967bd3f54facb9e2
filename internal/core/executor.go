package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"LevFarm/internal/event"
	"LevFarm/internal/ledger"
	fpmath "LevFarm/internal/math"
	"LevFarm/internal/observability"
	"LevFarm/internal/strategy"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// ErrDuplicate is returned for a command whose idempotency key was already
// processed. Nothing is emitted for it.
var ErrDuplicate = errors.New("duplicate command")

// ErrPaperOnly rejects market-moving commands outside a simulated world.
var ErrPaperOnly = errors.New("command requires a paper world")

// Vault is the slice of the vault the executor drives for deposits and
// redemptions.
type Vault interface {
	ShareToken() common.Address
	Deposit(user common.Address, amount *uint256.Int) (*uint256.Int, error)
	Withdraw(user common.Address, shares *uint256.Int, maxLossBps uint64) (*uint256.Int, error)
	PricePerShare() *uint256.Int
	TotalAssets() *uint256.Int
	TotalDebt(strategy common.Address) *uint256.Int
}

type TokenBalances interface {
	BalanceOf(token, account common.Address) *uint256.Int
}

type Clock interface {
	Now() time.Time
	Advance(d time.Duration)
}

// Paper moves a simulated market. Nil on a live deployment.
type Paper interface {
	SetPrice(token common.Address, usd decimal.Decimal)
	AccrueRewards(account common.Address, amount *uint256.Int)
}

// SuccessorFunc deploys the strategy a Migrate command moves onto.
type SuccessorFunc func(label string) (*strategy.Strategy, error)

type Deps struct {
	Strategy       *strategy.Strategy
	Vault          Vault
	Bank           TokenBalances
	Clock          Clock
	Paper          Paper
	Successors     SuccessorFunc
	RewardDecimals uint8

	DBChecker   DBIdempotencyChecker
	LRUCapacity int
	Metrics     *observability.Metrics
	Logger      *zerolog.Logger
}

// CoreOutput is everything one processed command produced.
type CoreOutput struct {
	Envelope *event.OutcomeEnvelope
	Batch    *ledger.Batch
	Status   *StrategyStatus
}

// StrategyStatus is the strategy as of one sequence.
type StrategyStatus struct {
	Sequence             int64               `json:"sequence"`
	Strategy             common.Address      `json:"strategy"`
	Position             strategy.Position   `json:"position"`
	CollateralRatioBps   uint64              `json:"collateral_ratio_bps"`
	DebtRatioABps        uint64              `json:"debt_ratio_a_bps"`
	DebtRatioBBps        uint64              `json:"debt_ratio_b_bps"`
	EstimatedTotalAssets *uint256.Int        `json:"estimated_total_assets"`
	EmergencyExit        bool                `json:"emergency_exit"`
	CollateralThresholds strategy.Thresholds `json:"collateral_thresholds"`
	DebtThresholds       strategy.Thresholds `json:"debt_thresholds"`
	PricePerShare        *uint256.Int        `json:"price_per_share"`
	VaultTotalAssets     *uint256.Int        `json:"vault_total_assets"`
	TotalDebt            *uint256.Int        `json:"total_debt"`
	UpdatedAt            time.Time           `json:"updated_at"`
}

type DepositResult struct {
	Shares *uint256.Int `json:"shares"`
}

type RedeemResult struct {
	Shares *uint256.Int `json:"shares"`
	Value  *uint256.Int `json:"value"`
}

type LiquidateResult struct {
	Liquidated *uint256.Int `json:"liquidated"`
	Loss       *uint256.Int `json:"loss"`
}

type SweepResult struct {
	Token  common.Address `json:"token"`
	Amount *uint256.Int   `json:"amount"`
}

type MigrateResult struct {
	From common.Address `json:"from"`
	To   common.Address `json:"to"`
}

// Executor applies commands to the strategy one at a time, books the
// position delta as journals and chains a state hash over the result.
// Not thread-safe: the Runner owns it.
type Executor struct {
	sequence          int64 // next sequence to assign
	hasher            *StateHasher
	balanceTracker    *ledger.BalanceTracker
	journalGen        *ledger.JournalGenerator
	validator         *ledger.InvariantValidator
	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator

	strategy       *strategy.Strategy
	vault          Vault
	bank           TokenBalances
	clock          Clock
	paper          Paper
	successors     SuccessorFunc
	rewardDecimals uint8

	metrics *observability.Metrics
	logger  zerolog.Logger

	replaying      bool
	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

func NewExecutor(deps Deps, persistChan, projectionChan chan<- CoreOutput) (*Executor, error) {
	if deps.Strategy == nil || deps.Vault == nil || deps.Bank == nil || deps.Clock == nil {
		return nil, fmt.Errorf("executor: strategy, vault, bank and clock are required")
	}
	capacity := deps.LRUCapacity
	if capacity <= 0 {
		capacity = 100_000
	}
	rewardDecimals := deps.RewardDecimals
	if rewardDecimals == 0 {
		rewardDecimals = 18
	}
	logger := zerolog.Nop()
	if deps.Logger != nil {
		logger = *deps.Logger
	}

	tracker := ledger.NewBalanceTracker()
	return &Executor{
		sequence:          1,
		hasher:            NewStateHasher(),
		balanceTracker:    tracker,
		journalGen:        ledger.NewJournalGenerator(1),
		validator:         ledger.NewInvariantValidator(tracker),
		idempotency:       NewIdempotencyChecker(capacity, deps.DBChecker, deps.Metrics),
		sequenceValidator: NewSequenceValidator(deps.Metrics),
		strategy:          deps.Strategy,
		vault:             deps.Vault,
		bank:              deps.Bank,
		clock:             deps.Clock,
		paper:             deps.Paper,
		successors:        deps.Successors,
		rewardDecimals:    rewardDecimals,
		metrics:           deps.Metrics,
		logger:            logger,
		persistChan:       persistChan,
		projectionChan:    projectionChan,
	}, nil
}

// ProcessCommand is the main processing pipeline. A command the strategy
// refuses is still sequenced and logged with status rejected; the returned
// error is reserved for commands that never reach the log (invalid,
// duplicate, out of sequence).
func (e *Executor) ProcessCommand(cmd event.Command) (*event.OutcomeEnvelope, error) {
	start := time.Now()
	commandType := cmd.CommandType().String()
	key := cmd.IdempotencyKey()

	if err := cmd.Validate(); err != nil {
		e.reject(commandType, "invalid")
		return nil, fmt.Errorf("invalid %s: %w", commandType, err)
	}

	// Step 1: Idempotency check (two-tier). The log never holds duplicates,
	// so replay skips it.
	isDuplicate := !e.replaying && e.idempotency.IsDuplicate(commandType, key)

	// Step 2: Sequence validation
	if err := e.sequenceValidator.ValidateSequence(cmd.Partition(), cmd.SourceSequence(), isDuplicate); err != nil {
		e.reject(commandType, "sequence")
		return nil, fmt.Errorf("sequence validation failed: %w", err)
	}
	if isDuplicate {
		e.reject(commandType, "duplicate")
		return nil, fmt.Errorf("%w: %s %s", ErrDuplicate, commandType, key)
	}

	payload, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", commandType, err)
	}

	// Step 3: Chain time follows the command's issue time
	if d := cmd.Timestamp().Sub(e.clock.Now()); d > 0 {
		e.clock.Advance(d)
	}

	// Step 4: Dispatch with the position captured around it
	active := e.strategy
	before := active.Position()
	result, successor, opErr := e.dispatch(cmd)

	changes := []ledger.PositionChange{{
		Strategy: active.Address(),
		Assets:   assetsOf(active),
		Before:   before,
		After:    active.Position(),
	}}
	if successor != nil {
		changes = append(changes, ledger.PositionChange{
			Strategy: successor.Address(),
			Assets:   assetsOf(successor),
			Before:   strategy.Position{},
			After:    successor.Position(),
		})
	}

	// Step 5: Journals for the position delta
	batch, err := e.journalGen.GeneratePositionChanges(key, e.clock.Now().UnixMicro(), changes...)
	if err != nil {
		panic(fmt.Sprintf("FATAL: journal generation: %v", err))
	}
	if err := e.validator.ValidateBatchBalance(batch); err != nil {
		panic(fmt.Sprintf("FATAL: unbalanced batch: %v", err))
	}
	if err := e.balanceTracker.ApplyBatch(batch); err != nil {
		panic(fmt.Sprintf("FATAL: apply batch: %v", err))
	}

	// Step 6: Post-checks. The books must equal the live position.
	for _, c := range changes {
		if err := e.validator.ValidateReconciled(c.Strategy, c.Assets, c.After); err != nil {
			panic(fmt.Sprintf("FATAL: ledger drift at seq %d: %v", e.sequence, err))
		}
	}

	if successor != nil && opErr == nil {
		e.strategy = successor
	}

	// Step 7: Envelope and state hash
	envelope := &event.OutcomeEnvelope{
		Sequence:       e.sequence,
		IdempotencyKey: key,
		CommandType:    cmd.CommandType(),
		Sender:         cmd.Sender(),
		Strategy:       active.Address(),
		Timestamp:      e.clock.Now().UTC(),
		SourceSequence: cmd.SourceSequence(),
		Status:         event.StatusApplied,
		Payload:        payload,
		PrevHash:       e.hasher.GetPrevHash(),
	}
	if opErr != nil {
		envelope.Status = event.StatusRejected
		envelope.Error = opErr.Error()
	} else if result != nil {
		raw, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("encode %s result: %w", commandType, err)
		}
		envelope.Result = raw
	}
	envelope.StateHash = e.hasher.ComputeHash(e.sequence, e.computeStateDigest(envelope, batch))

	output := CoreOutput{
		Envelope: envelope,
		Batch:    batch,
		Status:   e.Status(),
	}
	e.sequence++

	// Step 8: Emit. Persistence blocks (backpressure); projections drop.
	if !e.replaying {
		if e.persistChan != nil {
			e.persistChan <- output
		}
		if e.projectionChan != nil {
			select {
			case e.projectionChan <- output:
			default:
				if e.metrics != nil {
					e.metrics.ProjectionDrops.Inc()
				}
			}
		}
	}

	// Step 9: Mark as processed
	e.idempotency.MarkProcessed(commandType, key)
	e.record(commandType, envelope, batch, output.Status, result, opErr, start)

	ev := e.logger.Info()
	if opErr != nil {
		ev = e.logger.Warn().Str("error", opErr.Error())
	}
	ev.Int64("sequence", envelope.Sequence).
		Str("command_type", commandType).
		Str("idempotency_key", key).
		Str("status", envelope.Status).
		Int("journals", len(batch.Journals)).
		Msg("command processed")

	return envelope, nil
}

// dispatch runs the command against the strategy or the vault. The strategy
// rolls its own state back on error, so a failed op leaves the position as
// it was.
func (e *Executor) dispatch(cmd event.Command) (result any, successor *strategy.Strategy, err error) {
	s := e.strategy
	from := cmd.Sender()
	wantDecimals := s.Config().WantDecimals

	switch c := cmd.(type) {
	case *event.Harvest:
		report, err := s.Harvest(from)
		return report, nil, err

	case *event.Tend:
		return nil, nil, s.Tend(from)

	case *event.RebalanceDebt:
		return nil, nil, s.RebalanceDebt(from)

	case *event.RebalanceCollateral:
		return nil, nil, s.RebalanceCollateral(from)

	case *event.EmergencyExit:
		return nil, nil, s.SetEmergencyExit(from)

	case *event.Deposit:
		shares, err := e.vault.Deposit(from, fpmath.FromDecimal(c.Amount, int32(wantDecimals)))
		return DepositResult{Shares: shares}, nil, err

	case *event.Redeem:
		shares := fpmath.FromDecimal(c.Shares, int32(wantDecimals))
		if c.Shares.IsZero() {
			shares = e.bank.BalanceOf(e.vault.ShareToken(), from)
		}
		value, err := e.vault.Withdraw(from, shares, c.MaxLossBps)
		return RedeemResult{Shares: shares, Value: value}, nil, err

	case *event.Liquidate:
		liquidated, loss, err := s.LiquidatePositionAuth(from, fpmath.FromDecimal(c.Amount, int32(wantDecimals)))
		return LiquidateResult{Liquidated: liquidated, Loss: loss}, nil, err

	case *event.SetThresholds:
		if c.Band == event.BandDebt {
			return nil, nil, s.SetDebtThresholds(from, c.Min, c.Target, c.Max)
		}
		return nil, nil, s.SetCollateralThresholds(from, c.Min, c.Target, c.Max)

	case *event.SetKeeper:
		return nil, nil, s.SetKeeper(from, c.Keeper)

	case *event.Sweep:
		amount, err := s.Sweep(from, c.Token)
		return SweepResult{Token: c.Token, Amount: amount}, nil, err

	case *event.Migrate:
		if e.successors == nil {
			return nil, nil, fmt.Errorf("%w: no successor deployer", strategy.ErrMigrationUnsupported)
		}
		next, err := e.successors(c.Successor)
		if err != nil {
			return nil, nil, err
		}
		if err := s.Migrate(from, next); err != nil {
			return nil, next, err
		}
		return MigrateResult{From: s.Address(), To: next.Address()}, next, nil

	case *event.SetPrice:
		if err := e.authorizePaper(from); err != nil {
			return nil, nil, err
		}
		e.paper.SetPrice(c.Token, c.Price)
		return nil, nil, nil

	case *event.AccrueRewards:
		if err := e.authorizePaper(from); err != nil {
			return nil, nil, err
		}
		e.paper.AccrueRewards(s.Address(), fpmath.FromDecimal(c.Amount, int32(e.rewardDecimals)))
		return nil, nil, nil

	default:
		return nil, nil, fmt.Errorf("unhandled command type %T", cmd)
	}
}

func (e *Executor) authorizePaper(from common.Address) error {
	if e.paper == nil {
		return ErrPaperOnly
	}
	if gov := e.strategy.Config().Governance; from != gov {
		return fmt.Errorf("%w: %s is not governance", strategy.ErrUnauthorized, from.Hex())
	}
	return nil
}

func assetsOf(s *strategy.Strategy) ledger.Assets {
	cfg := s.Config()
	return ledger.Assets{
		Want:   cfg.Want,
		ShortA: cfg.ShortA,
		ShortB: cfg.ShortB,
		Pool:   s.PoolToken(),
	}
}

// computeStateDigest creates canonical bytes for the state hash: the
// outcome, then every account the batch touched in path order with its
// balance after the batch.
func (e *Executor) computeStateDigest(env *event.OutcomeEnvelope, batch *ledger.Batch) []byte {
	affected := make(map[ledger.AccountKey]bool)
	for _, j := range batch.Journals {
		affected[j.DebitAccount] = true
		affected[j.CreditAccount] = true
	}
	accounts := make([]ledger.AccountKey, 0, len(affected))
	for key := range affected {
		accounts = append(accounts, key)
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].AccountPath() < accounts[j].AccountPath()
	})

	digest := make([]byte, 0, 64+len(accounts)*96)
	digest = appendField(digest, env.CommandType.String())
	digest = appendField(digest, env.IdempotencyKey)
	digest = appendField(digest, env.Status)
	digest = appendField(digest, env.Error)
	digest = append(digest, env.Result...)
	for _, key := range accounts {
		digest = appendField(digest, key.AccountPath())
		digest = appendField(digest, e.balanceTracker.GetBalance(key).String())
	}
	return digest
}

func appendField(buf []byte, s string) []byte {
	n := len(s)
	buf = append(buf, byte(n), byte(n>>8))
	return append(buf, s...)
}

// Status reads the active strategy. Read failures leave the field zero.
func (e *Executor) Status() *StrategyStatus {
	s := e.strategy
	st := &StrategyStatus{
		Sequence:             e.sequence - 1,
		Strategy:             s.Address(),
		Position:             s.Position(),
		EstimatedTotalAssets: new(uint256.Int),
		EmergencyExit:        s.EmergencyExit(),
		CollateralThresholds: s.CollateralThresholds(),
		DebtThresholds:       s.DebtThresholds(),
		PricePerShare:        e.vault.PricePerShare(),
		VaultTotalAssets:     e.vault.TotalAssets(),
		TotalDebt:            e.vault.TotalDebt(s.Address()),
		UpdatedAt:            e.clock.Now().UTC(),
	}
	if cr, err := s.CalcCollateral(); err == nil {
		st.CollateralRatioBps = cr
	}
	if ra, err := s.CalcDebtRatioA(); err == nil {
		st.DebtRatioABps = ra
	}
	if rb, err := s.CalcDebtRatioB(); err == nil {
		st.DebtRatioBBps = rb
	}
	if eta, err := s.EstimatedTotalAssets(); err == nil {
		st.EstimatedTotalAssets = eta
	}
	return st
}

func (e *Executor) reject(commandType, reason string) {
	if e.metrics != nil {
		e.metrics.CommandsRejected.WithLabelValues(commandType, reason).Inc()
	}
}

func (e *Executor) record(commandType string, env *event.OutcomeEnvelope, batch *ledger.Batch, st *StrategyStatus, result any, opErr error, start time.Time) {
	if e.metrics == nil {
		return
	}
	m := e.metrics
	if opErr != nil {
		m.CommandsRejected.WithLabelValues(commandType, RejectReason(opErr)).Inc()
		var pme *strategy.PriceManipulationError
		if errors.As(opErr, &pme) {
			m.GuardTrips.WithLabelValues(pme.Pair).Inc()
		}
	} else {
		m.CommandsApplied.WithLabelValues(commandType).Inc()
	}
	if report, ok := result.(strategy.HarvestReport); ok && opErr == nil {
		wantDecimals := e.strategy.Config().WantDecimals
		if report.Gain != nil {
			m.RealizedGain.Add(fpmath.ToDecimal(report.Gain, int32(wantDecimals)).InexactFloat64())
		}
		if report.Loss != nil {
			m.RealizedLoss.Add(fpmath.ToDecimal(report.Loss, int32(wantDecimals)).InexactFloat64())
		}
	}
	for _, j := range batch.Journals {
		m.Journals.WithLabelValues(j.JournalType.String()).Inc()
	}
	m.CollateralRatio.Set(float64(st.CollateralRatioBps))
	m.DebtRatio.WithLabelValues("a").Set(float64(st.DebtRatioABps))
	m.DebtRatio.WithLabelValues("b").Set(float64(st.DebtRatioBBps))
	m.EstimatedTotalAssets.Set(fpmath.ToDecimal(st.EstimatedTotalAssets, int32(e.strategy.Config().WantDecimals)).InexactFloat64())
	m.CommandDuration.WithLabelValues(commandType).Observe(time.Since(start).Seconds())
	m.Sequence.Set(float64(env.Sequence))
	if e.replaying {
		m.ReplayCommands.Inc()
	}
}

// RejectReason maps a strategy error to a metric label.
func RejectReason(err error) string {
	switch {
	case errors.Is(err, strategy.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, strategy.ErrPriceManipulation):
		return "price_manipulation"
	case errors.Is(err, strategy.ErrExcessiveLoss):
		return "excessive_loss"
	case errors.Is(err, strategy.ErrInsufficientLiquidity):
		return "insufficient_liquidity"
	case errors.Is(err, strategy.ErrProtectedToken):
		return "protected_token"
	case errors.Is(err, strategy.ErrMigrationUnsupported), errors.Is(err, strategy.ErrMigrationMismatch):
		return "migration"
	case errors.Is(err, strategy.ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrPaperOnly):
		return "paper_only"
	default:
		return "failed"
	}
}

// Strategy returns the active strategy (the successor after a migrate).
func (e *Executor) Strategy() *strategy.Strategy {
	return e.strategy
}

// GetSequence returns the last assigned sequence.
func (e *Executor) GetSequence() int64 {
	return e.sequence - 1
}

// GetStateHash returns the current state hash (chain tip).
func (e *Executor) GetStateHash() [32]byte {
	return e.hasher.GetPrevHash()
}

// Balances exposes a copy of the booked balances.
func (e *Executor) Balances() map[ledger.AccountKey]decimal.Decimal {
	return e.balanceTracker.Snapshot()
}
