package control

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type CommandType string

const (
	TypeShock   CommandType = "shock"
	TypeVibrate CommandType = "vibrate"
	TypeSound   CommandType = "sound"
	TypeStop    CommandType = "stop"
)

func ParseCommandType(raw string) (CommandType, error) {
	switch CommandType(strings.ToLower(strings.TrimSpace(raw))) {
	case TypeShock:
		return TypeShock, nil
	case TypeVibrate:
		return TypeVibrate, nil
	case TypeSound:
		return TypeSound, nil
	case TypeStop:
		return TypeStop, nil
	default:
		return "", fmt.Errorf("unknown command type %q", raw)
	}
}

// Hard bounds every command is clamped into, regardless of envelope.
const (
	MinDurationMS     uint  = 300
	DefaultDurationMS uint  = 30000
	MinIntensityPct   uint8 = 1
	DefaultIntensityPct uint8 = 100
)

// Envelope is the effective permission and limit bundle governing what a
// caller may do to one shocker. It is a closed sum: Unrestricted for owners,
// LimitedBy for share recipients. Ownership always wins, so the resolver
// never attaches LimitedBy to a shocker the caller owns.
type Envelope interface {
	Allows(t CommandType) bool
	MaxDurationMS() uint
	MaxIntensityPct() uint8
}

// Unrestricted is the owner envelope: every command type, default limits.
type Unrestricted struct{}

func (Unrestricted) Allows(CommandType) bool  { return true }
func (Unrestricted) MaxDurationMS() uint      { return DefaultDurationMS }
func (Unrestricted) MaxIntensityPct() uint8   { return DefaultIntensityPct }

// LimitedBy is the share envelope. Nil limits fall back to the defaults.
type LimitedBy struct {
	Shock      bool
	Vibrate    bool
	Sound      bool
	Live       bool
	DurationMS *uint
	Intensity  *uint8
}

func (e LimitedBy) Allows(t CommandType) bool {
	switch t {
	case TypeShock:
		return e.Shock
	case TypeVibrate:
		return e.Vibrate
	case TypeSound:
		return e.Sound
	case TypeStop:
		// Stop is allowed whenever the caller can start anything at all.
		return e.Shock || e.Vibrate || e.Sound
	default:
		return false
	}
}

func (e LimitedBy) MaxDurationMS() uint {
	if e.DurationMS == nil {
		return DefaultDurationMS
	}
	return *e.DurationMS
}

func (e LimitedBy) MaxIntensityPct() uint8 {
	if e.Intensity == nil {
		return DefaultIntensityPct
	}
	return *e.Intensity
}

// AccessEntry is one shocker reachable by the caller, resolved fresh per
// request.
type AccessEntry struct {
	ShockerID   uuid.UUID
	DeviceID    uuid.UUID
	OwnerUserID uuid.UUID
	Name        string
	RadioID     uint16
	Model       string
	Paused      bool
	Envelope    Envelope
}

// Command is a caller-submitted, unvalidated control request.
type Command struct {
	ShockerID    uuid.UUID
	Type         CommandType
	IntensityPct uint8
	DurationMS   uint
}

// AcceptedCommand is a command that survived normalization: clamped into
// bounds and resolved to its physical device.
type AcceptedCommand struct {
	ShockerID    uuid.UUID
	DeviceID     uuid.UUID
	OwnerUserID  uuid.UUID
	ShockerName  string
	RadioID      uint16
	Model        string
	Type         CommandType
	IntensityPct uint8
	DurationMS   uint
}

type RejectReason string

const (
	// ReasonNotFound covers both nonexistent shockers and shockers the
	// caller has no visibility into; the two are deliberately
	// indistinguishable so callers cannot probe for existence.
	ReasonNotFound  RejectReason = "not_found"
	ReasonPaused    RejectReason = "paused"
	ReasonForbidden RejectReason = "forbidden"
)

type Rejection struct {
	ShockerID uuid.UUID    `json:"shocker_id"`
	Reason    RejectReason `json:"reason"`
}
