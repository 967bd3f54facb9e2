package projection

import (
	"sync"

	"LevFarm/internal/core"
	"LevFarm/internal/event"
)

// StatusStore keeps the latest strategy status and a window of recent
// outcomes for the query layer.
type StatusStore struct {
	mu       sync.RWMutex
	status   *core.StrategyStatus
	outcomes []*event.OutcomeEnvelope
	capacity int
}

func NewStatusStore(capacity int) *StatusStore {
	if capacity <= 0 {
		capacity = 1
	}
	return &StatusStore{capacity: capacity}
}

// Apply records one executor output. Outputs older than the stored status
// are ignored.
func (s *StatusStore) Apply(out core.CoreOutput) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if out.Status != nil && (s.status == nil || out.Status.Sequence >= s.status.Sequence) {
		s.status = out.Status
	}
	if out.Envelope != nil {
		s.outcomes = append(s.outcomes, out.Envelope)
		if over := len(s.outcomes) - s.capacity; over > 0 {
			s.outcomes = append(s.outcomes[:0:0], s.outcomes[over:]...)
		}
	}
}

// Seed sets the status after a replay, which emits nothing.
func (s *StatusStore) Seed(st *core.StrategyStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = st
}

// Status returns the latest status or nil before the first command.
func (s *StatusStore) Status() *core.StrategyStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Recent returns up to limit outcomes, newest first, optionally filtered
// by command type.
func (s *StatusStore) Recent(limit int, commandType string) []*event.OutcomeEnvelope {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*event.OutcomeEnvelope, 0)
	for i := len(s.outcomes) - 1; i >= 0 && len(result) < limit; i-- {
		if commandType == "" || s.outcomes[i].CommandType.String() == commandType {
			result = append(result, s.outcomes[i])
		}
	}
	return result
}
