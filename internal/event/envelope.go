package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// CommandType discriminator for command payloads
type CommandType int32

const (
	CommandTypeUnknown CommandType = iota
	CommandTypeHarvest
	CommandTypeTend
	CommandTypeRebalanceDebt
	CommandTypeRebalanceCollateral
	CommandTypeEmergencyExit
	CommandTypeDeposit
	CommandTypeRedeem
	CommandTypeLiquidate
	CommandTypeSetThresholds
	CommandTypeSetKeeper
	CommandTypeSweep
	CommandTypeMigrate
	CommandTypeSetPrice
	CommandTypeAccrueRewards
)

var commandTypeNames = map[CommandType]string{
	CommandTypeHarvest:             "harvest",
	CommandTypeTend:                "tend",
	CommandTypeRebalanceDebt:       "rebalance_debt",
	CommandTypeRebalanceCollateral: "rebalance_collateral",
	CommandTypeEmergencyExit:       "emergency_exit",
	CommandTypeDeposit:             "deposit",
	CommandTypeRedeem:              "redeem",
	CommandTypeLiquidate:           "liquidate",
	CommandTypeSetThresholds:       "set_thresholds",
	CommandTypeSetKeeper:           "set_keeper",
	CommandTypeSweep:               "sweep",
	CommandTypeMigrate:             "migrate",
	CommandTypeSetPrice:            "set_price",
	CommandTypeAccrueRewards:       "accrue_rewards",
}

func (ct CommandType) String() string {
	if name, ok := commandTypeNames[ct]; ok {
		return name
	}
	return "unknown"
}

// ParseCommandType maps a wire name (as used in NATS subjects and HTTP
// paths) to its CommandType.
func ParseCommandType(name string) (CommandType, error) {
	for ct, n := range commandTypeNames {
		if n == name {
			return ct, nil
		}
	}
	return CommandTypeUnknown, fmt.Errorf("unknown command type %q", name)
}

// AllCommandTypes lists every known command type in declaration order.
func AllCommandTypes() []CommandType {
	out := make([]CommandType, 0, len(commandTypeNames))
	for ct := CommandTypeHarvest; ct <= CommandTypeAccrueRewards; ct++ {
		out = append(out, ct)
	}
	return out
}

// Command is the interface all command payloads must implement
type Command interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// CommandType returns the discriminator
	CommandType() CommandType

	// Sender is the address the command acts as
	Sender() common.Address

	// Partition groups commands whose source sequences are validated together
	Partition() string

	// SourceSequence returns the upstream ordering key, 0 when unsequenced
	SourceSequence() int64

	// Timestamp is when the command was issued (versioned input)
	Timestamp() time.Time

	Validate() error
}

// Header carries the fields every command shares.
type Header struct {
	CommandID uuid.UUID      `json:"command_id"`
	From      common.Address `json:"from"`
	Source    string         `json:"source,omitempty"`
	Sequence  int64          `json:"sequence,omitempty"`
	IssuedAt  time.Time      `json:"issued_at"`
}

func (h *Header) IdempotencyKey() string { return h.CommandID.String() }
func (h *Header) Sender() common.Address { return h.From }
func (h *Header) SourceSequence() int64  { return h.Sequence }
func (h *Header) Timestamp() time.Time   { return h.IssuedAt }

func (h *Header) Partition() string {
	if h.Source == "" {
		return "global"
	}
	return "source:" + h.Source
}

// Head exposes the header for the shell layers that stamp it.
func (h *Header) Head() *Header { return h }

func (h *Header) validate() error {
	if h.CommandID == uuid.Nil {
		return fmt.Errorf("command_id is required")
	}
	if h.From == (common.Address{}) {
		return fmt.Errorf("from is required")
	}
	if h.Sequence < 0 {
		return fmt.Errorf("sequence must be >= 0, got %d", h.Sequence)
	}
	if h.IssuedAt.IsZero() {
		return fmt.Errorf("issued_at is required")
	}
	return nil
}

// Outcome status values
const (
	StatusApplied  = "applied"
	StatusRejected = "rejected"
)

// OutcomeEnvelope wraps every processed command in the operation log
type OutcomeEnvelope struct {
	// Global monotonic sequence assigned by the executor
	Sequence int64 `json:"sequence"`

	// Stable idempotency key from upstream
	IdempotencyKey string `json:"idempotency_key"`

	CommandType CommandType    `json:"-"`
	Sender      common.Address `json:"sender"`
	Strategy    common.Address `json:"strategy"`

	// Chain time the command ran at (NOT wall-clock)
	Timestamp time.Time `json:"timestamp"`

	// Upstream sequence for ordering validation
	SourceSequence int64 `json:"source_sequence"`

	Status string `json:"status"`
	Error  string `json:"error,omitempty"`

	// JSON-encoded command as received
	Payload json.RawMessage `json:"payload"`

	// JSON-encoded operation result (harvest report, amounts)
	Result json.RawMessage `json:"result,omitempty"`

	// SHA-256 of state AFTER applying this command
	StateHash [32]byte `json:"-"`

	// Previous command's state hash (chain integrity)
	PrevHash [32]byte `json:"-"`
}

// Applied reports whether the command changed state.
func (e *OutcomeEnvelope) Applied() bool { return e.Status == StatusApplied }

func (e *OutcomeEnvelope) MarshalJSON() ([]byte, error) {
	type plain OutcomeEnvelope
	return json.Marshal(struct {
		*plain
		CommandType string `json:"command_type"`
		StateHash   string `json:"state_hash"`
		PrevHash    string `json:"prev_hash"`
	}{
		plain:       (*plain)(e),
		CommandType: e.CommandType.String(),
		StateHash:   fmt.Sprintf("%x", e.StateHash),
		PrevHash:    fmt.Sprintf("%x", e.PrevHash),
	})
}
