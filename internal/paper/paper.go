// Package paper deploys strategies onto the simulated world for the keeper
// daemon and for tests.
package paper

import (
	"fmt"

	fpmath "LevFarm/internal/math"
	"LevFarm/internal/sim"
	"LevFarm/internal/strategy"

	"github.com/rs/zerolog"
)

// Deployment is one strategy attached to a simulated world's vault.
type Deployment struct {
	World    *sim.World
	Strategy *strategy.Strategy

	base   strategy.Config
	logger *zerolog.Logger
}

// StrategyConfig copies the tunables of base and wires the world's tokens,
// farm and roles under the address derived from label.
func StrategyConfig(w *sim.World, label string, base strategy.Config) strategy.Config {
	cfg := base
	cfg.Address = sim.Address(label)
	cfg.Want = w.Want
	cfg.ShortA = w.ShortA
	cfg.ShortB = w.ShortB
	cfg.Reward = w.Reward
	cfg.WantDecimals = sim.Decimals
	cfg.ShortADecimals = sim.Decimals
	cfg.ShortBDecimals = sim.Decimals
	cfg.FarmPID = w.PID
	cfg.FarmKind = strategy.FarmMasterChef
	if _, ok := w.Farm.(*sim.RecipientChef); ok {
		cfg.FarmKind = strategy.FarmRecipient
	}
	cfg.RewardPath = nil
	cfg.Governance = w.Governance
	cfg.Management = w.Management
	cfg.Keeper = w.Keeper
	return cfg
}

// Deps returns the world's collaborators as strategy dependencies.
func Deps(w *sim.World, logger *zerolog.Logger) strategy.Deps {
	return strategy.Deps{
		Bank:         w.Bank,
		Market:       w.Market,
		AMM:          w.AMM,
		Farm:         w.Farm,
		Vault:        w.Vault,
		Checkpointer: w.Chain,
		Clock:        w.Chain,
		Logger:       logger,
	}
}

// Deploy builds a world, a strategy named label and attaches it to the
// vault at debtRatioBps.
func Deploy(wcfg sim.WorldConfig, base strategy.Config, label string, debtRatioBps uint64, logger *zerolog.Logger) (*Deployment, error) {
	if debtRatioBps > fpmath.BpsScale {
		return nil, fmt.Errorf("debt ratio %d exceeds %d", debtRatioBps, fpmath.BpsScale)
	}
	w := sim.NewWorld(wcfg)
	d := &Deployment{World: w, base: base, logger: logger}

	s, err := strategy.New(StrategyConfig(w, label, base), Deps(w, logger))
	if err != nil {
		return nil, fmt.Errorf("deploy %s: %w", label, err)
	}
	if err := w.Vault.AddStrategy(s, debtRatioBps); err != nil {
		return nil, fmt.Errorf("attach %s: %w", label, err)
	}
	d.Strategy = s
	return d, nil
}

// Successor builds a strategy with the deployment's tunables under label
// and registers it with the vault so that debt can migrate onto it.
func (d *Deployment) Successor(label string) (*strategy.Strategy, error) {
	s, err := strategy.New(StrategyConfig(d.World, label, d.base), Deps(d.World, d.logger))
	if err != nil {
		return nil, fmt.Errorf("successor %s: %w", label, err)
	}
	d.World.Vault.Register(s)
	return s, nil
}
