package ingestion

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"LevFarm/internal/event"

	"github.com/google/uuid"
)

// ParseCommand converts a JSON payload and its wire type name into a typed,
// validated event.Command. The shell validates and parses raw input before
// it reaches the executor.
func ParseCommand(commandType string, data []byte) (event.Command, error) {
	ct, err := event.ParseCommandType(commandType)
	if err != nil {
		return nil, err
	}
	cmd := newCommand(ct)
	if err := decodeStrict(data, cmd); err != nil {
		return nil, err
	}
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", commandType, err)
	}
	return cmd, nil
}

func decodeStrict(data []byte, cmd event.Command) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cmd); err != nil {
		return fmt.Errorf("parse %s: %w", cmd.CommandType(), err)
	}
	return nil
}

func newCommand(ct event.CommandType) event.Command {
	switch ct {
	case event.CommandTypeHarvest:
		return &event.Harvest{}
	case event.CommandTypeTend:
		return &event.Tend{}
	case event.CommandTypeRebalanceDebt:
		return &event.RebalanceDebt{}
	case event.CommandTypeRebalanceCollateral:
		return &event.RebalanceCollateral{}
	case event.CommandTypeEmergencyExit:
		return &event.EmergencyExit{}
	case event.CommandTypeDeposit:
		return &event.Deposit{}
	case event.CommandTypeRedeem:
		return &event.Redeem{}
	case event.CommandTypeLiquidate:
		return &event.Liquidate{}
	case event.CommandTypeSetThresholds:
		return &event.SetThresholds{}
	case event.CommandTypeSetKeeper:
		return &event.SetKeeper{}
	case event.CommandTypeSweep:
		return &event.Sweep{}
	case event.CommandTypeMigrate:
		return &event.Migrate{}
	case event.CommandTypeSetPrice:
		return &event.SetPrice{}
	case event.CommandTypeAccrueRewards:
		return &event.AccrueRewards{}
	default:
		panic(fmt.Sprintf("newCommand: unhandled command type %d", ct))
	}
}

// headed is implemented by every command through its embedded event.Header.
type headed interface {
	Head() *event.Header
}

// Stamp fills a missing command ID and issue time. HTTP and keeper commands
// arrive without them; NATS producers normally set both.
func Stamp(cmd event.Command, source string, now time.Time) {
	h, ok := cmd.(headed)
	if !ok {
		return
	}
	hd := h.Head()
	if hd.CommandID == uuid.Nil {
		hd.CommandID = uuid.New()
	}
	if hd.IssuedAt.IsZero() {
		hd.IssuedAt = now.UTC()
	}
	if hd.Source == "" {
		hd.Source = source
	}
}

// CommandTypeFromSubject extracts the command type from a subject of the
// form levfarm.command.<type>[.<anything>].
func CommandTypeFromSubject(subject string) (string, error) {
	rest, ok := strings.CutPrefix(subject, CommandSubjectPrefix+".")
	if !ok || rest == "" {
		return "", fmt.Errorf("subject %q is not a command subject", subject)
	}
	typ, _, _ := strings.Cut(rest, ".")
	return typ, nil
}
