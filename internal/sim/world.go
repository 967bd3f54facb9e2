package sim

import (
	"time"

	fpmath "LevFarm/internal/math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// Farm is the surface shared by both farm flavours.
type Farm interface {
	Address() common.Address
	RewardToken() common.Address
	AddPool(lp common.Address) uint64
	Deposit(account common.Address, pid uint64, amount *uint256.Int) error
	Staked(pid uint64, account common.Address) *uint256.Int
	PendingReward(pid uint64, account common.Address) *uint256.Int
	Accrue(pid uint64, account common.Address, amount *uint256.Int)
}

// WorldConfig describes a market deployment. Prices are USD per whole token.
type WorldConfig struct {
	Start               time.Time
	FeeBps              uint64
	WantPrice           decimal.Decimal
	ShortAPrice         decimal.Decimal
	ShortBPrice         decimal.Decimal
	RewardPrice         decimal.Decimal
	PoolDepthUSD        decimal.Decimal
	MarketCashUSD       decimal.Decimal
	CollateralFactorBps uint64
	RecipientFarm       bool
}

func DefaultWorldConfig() WorldConfig {
	return WorldConfig{
		Start:               time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		FeeBps:              30,
		WantPrice:           decimal.NewFromInt(1),
		ShortAPrice:         decimal.NewFromInt(2),
		ShortBPrice:         decimal.RequireFromString("0.5"),
		RewardPrice:         decimal.NewFromInt(1),
		PoolDepthUSD:        decimal.NewFromInt(20_000_000),
		MarketCashUSD:       decimal.NewFromInt(50_000_000),
		CollateralFactorBps: 7500,
	}
}

// Decimals of every token in the world.
const Decimals = 18

// World wires one deployment: want, two shorts and a reward token, the
// lending market, the AMM pairs, a farm with the short/short pair and a vault.
type World struct {
	Chain  *Chain
	Bank   *Bank
	Market *LendingMarket
	AMM    *AMM
	Farm   Farm
	Vault  *Vault

	Want   common.Address
	ShortA common.Address
	ShortB common.Address
	Reward common.Address

	LP         common.Address
	WantAPair  common.Address
	WantBPair  common.Address
	RewardPair common.Address
	PID        uint64

	Governance common.Address
	Management common.Address
	Keeper     common.Address
	Whale      common.Address
}

func NewWorld(cfg WorldConfig) *World {
	chain := NewChain(cfg.Start)
	bank := NewBank(chain)
	w := &World{
		Chain:      chain,
		Bank:       bank,
		Want:       bank.NewToken("WANT"),
		ShortA:     bank.NewToken("SHORTA"),
		ShortB:     bank.NewToken("SHORTB"),
		Reward:     bank.NewToken("REWARD"),
		Governance: Address("role:governance"),
		Management: Address("role:management"),
		Keeper:     Address("role:keeper"),
		Whale:      Address("role:whale"),
	}

	w.Market = NewLendingMarket(chain, bank, "lend")
	w.Market.List(w.Want, Decimals, cfg.CollateralFactorBps, priceWad(cfg.WantPrice))
	w.Market.List(w.ShortA, Decimals, 0, priceWad(cfg.ShortAPrice))
	w.Market.List(w.ShortB, Decimals, 0, priceWad(cfg.ShortBPrice))
	w.Market.SeedCash(w.ShortA, units(cfg.MarketCashUSD.Div(cfg.ShortAPrice)))
	w.Market.SeedCash(w.ShortB, units(cfg.MarketCashUSD.Div(cfg.ShortBPrice)))

	w.AMM = NewAMM(chain, bank, cfg.FeeBps)
	w.LP = w.seedPair(w.ShortA, cfg.ShortAPrice, w.ShortB, cfg.ShortBPrice, cfg.PoolDepthUSD)
	w.WantAPair = w.seedPair(w.Want, cfg.WantPrice, w.ShortA, cfg.ShortAPrice, cfg.PoolDepthUSD)
	w.WantBPair = w.seedPair(w.Want, cfg.WantPrice, w.ShortB, cfg.ShortBPrice, cfg.PoolDepthUSD)
	w.RewardPair = w.seedPair(w.Reward, cfg.RewardPrice, w.Want, cfg.WantPrice, cfg.PoolDepthUSD)

	if cfg.RecipientFarm {
		w.Farm = NewRecipientChef(chain, bank, "chef", w.Reward)
	} else {
		w.Farm = NewMasterChef(chain, bank, "chef", w.Reward)
	}
	w.PID = w.Farm.AddPool(w.LP)

	w.Vault = NewVault(chain, bank, w.Want, "want", w.Governance)
	return w
}

// seedPair creates a pair holding depthUSD on each side, owned by the whale.
func (w *World) seedPair(x common.Address, px decimal.Decimal, y common.Address, py decimal.Decimal, depthUSD decimal.Decimal) common.Address {
	p := w.AMM.CreatePair(x, y)
	ax := units(depthUSD.Div(px))
	ay := units(depthUSD.Div(py))
	w.Bank.Mint(x, w.Whale, ax)
	w.Bank.Mint(y, w.Whale, ay)
	if _, _, _, err := w.AMM.AddLiquidity(w.Whale, x, y, ax, ay); err != nil {
		panic(err)
	}
	return p
}

// Fund mints tokens to an account.
func (w *World) Fund(token, to common.Address, amount *uint256.Int) {
	w.Bank.Mint(token, to, amount)
}

// Units returns n whole tokens.
func Units(n uint64) *uint256.Int {
	return fpmath.Units(n, Decimals)
}

func units(d decimal.Decimal) *uint256.Int {
	return fpmath.FromDecimal(d, Decimals)
}

func priceWad(d decimal.Decimal) *uint256.Int {
	return fpmath.FromDecimal(d, fpmath.WadDecimals)
}

// SetPrice moves the oracle price of token to usd.
func (w *World) SetPrice(token common.Address, usd decimal.Decimal) {
	w.Market.SetPrice(token, priceWad(usd))
}

// AccrueRewards credits amount of the reward token to account's stake in
// the world's farm pool.
func (w *World) AccrueRewards(account common.Address, amount *uint256.Int) {
	w.Farm.Accrue(w.PID, account, amount)
}
