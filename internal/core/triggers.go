package core

import (
	"strconv"

	"LevFarm/internal/strategy"

	"github.com/holiman/uint256"
)

// TriggerReport is the keeper advice for the active strategy at one
// sequence.
type TriggerReport struct {
	Sequence   int64                `json:"sequence"`
	CallCost   *uint256.Int         `json:"call_cost"`
	Harvest    bool                 `json:"harvest"`
	Tend       bool                 `json:"tend"`
	GuardOK    bool                 `json:"guard_ok"`
	GuardError string               `json:"guard_error,omitempty"`
	Deviations []strategy.Deviation `json:"deviations,omitempty"`
}

// Triggers evaluates both keeper triggers and the price guard. callCost is
// denominated in want.
func (e *Executor) Triggers(callCost *uint256.Int) TriggerReport {
	if callCost == nil {
		callCost = new(uint256.Int)
	}
	s := e.strategy
	report := TriggerReport{
		Sequence: e.sequence - 1,
		CallCost: callCost,
		Harvest:  s.HarvestTrigger(callCost),
		Tend:     s.TendTrigger(callCost),
		GuardOK:  true,
	}
	if err := s.Guard().Check(); err != nil {
		report.GuardOK = false
		report.GuardError = err.Error()
	}
	if devs, err := s.Guard().Deviations(); err == nil {
		report.Deviations = devs
	}

	if e.metrics != nil {
		e.metrics.TriggerEvaluations.WithLabelValues("harvest", strconv.FormatBool(report.Harvest)).Inc()
		e.metrics.TriggerEvaluations.WithLabelValues("tend", strconv.FormatBool(report.Tend)).Inc()
	}
	return report
}
