package core

import (
	"fmt"

	"LevFarm/internal/observability"
)

// SequenceValidator validates source sequences per partition. Sequenced
// sources number their commands from 1; sequence 0 marks an unsequenced
// command (keeper loop, HTTP) and is never checked.
// Not thread-safe: only the executor goroutine touches it.
type SequenceValidator struct {
	expectedNextSeq map[string]int64 // partition -> next expected sequence
	metrics         *observability.Metrics
}

func NewSequenceValidator(metrics *observability.Metrics) *SequenceValidator {
	return &SequenceValidator{
		expectedNextSeq: make(map[string]int64),
		metrics:         metrics,
	}
}

// ValidateSequence checks source sequence ordering
func (sv *SequenceValidator) ValidateSequence(partition string, sourceSequence int64, isDuplicate bool) error {
	if sourceSequence == 0 {
		return nil
	}
	expected := sv.GetExpectedSequence(partition)

	switch {
	case sourceSequence < expected:
		if isDuplicate {
			return nil
		}
		if sv.metrics != nil {
			sv.metrics.OutOfOrder.WithLabelValues(partition).Inc()
		}
		return fmt.Errorf("out-of-order command: partition=%s, expected=%d, got=%d",
			partition, expected, sourceSequence)

	case sourceSequence == expected:
		if !isDuplicate {
			sv.expectedNextSeq[partition] = expected + 1
		}
		return nil

	default:
		if sv.metrics != nil {
			sv.metrics.SequenceGaps.WithLabelValues(partition).Inc()
		}
		return fmt.Errorf("sequence gap: partition=%s, expected=%d, got=%d",
			partition, expected, sourceSequence)
	}
}

// GetExpectedSequence returns next expected sequence for a partition
func (sv *SequenceValidator) GetExpectedSequence(partition string) int64 {
	if seq, ok := sv.expectedNextSeq[partition]; ok {
		return seq
	}
	return 1
}

// SetExpectedSequence initializes expected sequence (used during recovery)
func (sv *SequenceValidator) SetExpectedSequence(partition string, seq int64) {
	sv.expectedNextSeq[partition] = seq
}

// Partitions returns a copy of every partition's next expected sequence.
func (sv *SequenceValidator) Partitions() map[string]int64 {
	out := make(map[string]int64, len(sv.expectedNextSeq))
	for k, v := range sv.expectedNextSeq {
		out[k] = v
	}
	return out
}
