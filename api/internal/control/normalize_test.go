package control

import (
	"testing"

	"github.com/google/uuid"
)

func ownedEntry(deviceID uuid.UUID, ownerID uuid.UUID) AccessEntry {
	return AccessEntry{
		ShockerID:   uuid.New(),
		DeviceID:    deviceID,
		OwnerUserID: ownerID,
		Name:        "left",
		RadioID:     1234,
		Model:       "caixianlin",
		Envelope:    Unrestricted{},
	}
}

func TestNormalizeClampsOwnerToDefaults(t *testing.T) {
	entry := ownedEntry(uuid.New(), uuid.New())
	accepted, rejections := Normalize([]Command{
		{ShockerID: entry.ShockerID, Type: TypeShock, DurationMS: 100000, IntensityPct: 255},
	}, []AccessEntry{entry})

	if len(rejections) != 0 {
		t.Fatalf("unexpected rejections: %#v", rejections)
	}
	if len(accepted) != 1 {
		t.Fatalf("expected 1 accepted, got %d", len(accepted))
	}
	if accepted[0].DurationMS != DefaultDurationMS {
		t.Fatalf("expected duration clamped to %d, got %d", DefaultDurationMS, accepted[0].DurationMS)
	}
	if accepted[0].IntensityPct != DefaultIntensityPct {
		t.Fatalf("expected intensity clamped to %d, got %d", DefaultIntensityPct, accepted[0].IntensityPct)
	}
}

func TestNormalizeClampsLowEndSaturating(t *testing.T) {
	entry := ownedEntry(uuid.New(), uuid.New())
	accepted, _ := Normalize([]Command{
		{ShockerID: entry.ShockerID, Type: TypeVibrate, DurationMS: 0, IntensityPct: 0},
	}, []AccessEntry{entry})

	if len(accepted) != 1 {
		t.Fatalf("expected 1 accepted, got %d", len(accepted))
	}
	if accepted[0].DurationMS != MinDurationMS {
		t.Fatalf("expected duration raised to %d, got %d", MinDurationMS, accepted[0].DurationMS)
	}
	if accepted[0].IntensityPct != MinIntensityPct {
		t.Fatalf("expected intensity raised to %d, got %d", MinIntensityPct, accepted[0].IntensityPct)
	}
}

func TestNormalizeClampsToShareLimits(t *testing.T) {
	dur := uint(5000)
	intensity := uint8(50)
	entry := ownedEntry(uuid.New(), uuid.New())
	entry.Envelope = LimitedBy{Shock: true, DurationMS: &dur, Intensity: &intensity}

	accepted, _ := Normalize([]Command{
		{ShockerID: entry.ShockerID, Type: TypeShock, DurationMS: 10000, IntensityPct: 90},
	}, []AccessEntry{entry})

	if len(accepted) != 1 {
		t.Fatalf("expected 1 accepted, got %d", len(accepted))
	}
	if accepted[0].DurationMS != 5000 || accepted[0].IntensityPct != 50 {
		t.Fatalf("expected clamp to share limits, got duration=%d intensity=%d", accepted[0].DurationMS, accepted[0].IntensityPct)
	}
}

func TestNormalizeRejectsForbiddenType(t *testing.T) {
	entry := ownedEntry(uuid.New(), uuid.New())
	entry.Envelope = LimitedBy{Vibrate: true}

	accepted, rejections := Normalize([]Command{
		{ShockerID: entry.ShockerID, Type: TypeShock, DurationMS: 400, IntensityPct: 60},
	}, []AccessEntry{entry})

	if len(accepted) != 0 {
		t.Fatalf("forbidden type must never be clamped into acceptance: %#v", accepted)
	}
	if len(rejections) != 1 || rejections[0].Reason != ReasonForbidden {
		t.Fatalf("expected forbidden rejection, got %#v", rejections)
	}
}

func TestNormalizeRejectsUnknownTarget(t *testing.T) {
	entry := ownedEntry(uuid.New(), uuid.New())
	stranger := uuid.New()

	accepted, rejections := Normalize([]Command{
		{ShockerID: stranger, Type: TypeSound, DurationMS: 400, IntensityPct: 10},
	}, []AccessEntry{entry})

	if len(accepted) != 0 {
		t.Fatalf("expected no accepted commands, got %#v", accepted)
	}
	if len(rejections) != 1 || rejections[0].Reason != ReasonNotFound {
		t.Fatalf("expected not_found rejection, got %#v", rejections)
	}
}

func TestNormalizeRejectsPaused(t *testing.T) {
	entry := ownedEntry(uuid.New(), uuid.New())
	entry.Paused = true

	accepted, rejections := Normalize([]Command{
		{ShockerID: entry.ShockerID, Type: TypeShock, DurationMS: 400, IntensityPct: 10},
	}, []AccessEntry{entry})

	if len(accepted) != 0 {
		t.Fatalf("paused shocker must never be accepted, got %#v", accepted)
	}
	if len(rejections) != 1 || rejections[0].Reason != ReasonPaused {
		t.Fatalf("expected paused rejection, got %#v", rejections)
	}
}

func TestNormalizeDuplicateTargetFirstWins(t *testing.T) {
	entry := ownedEntry(uuid.New(), uuid.New())

	accepted, rejections := Normalize([]Command{
		{ShockerID: entry.ShockerID, Type: TypeShock, DurationMS: 400, IntensityPct: 10},
		{ShockerID: entry.ShockerID, Type: TypeVibrate, DurationMS: 900, IntensityPct: 90},
	}, []AccessEntry{entry})

	if len(rejections) != 0 {
		t.Fatalf("duplicates are dropped silently, not rejected: %#v", rejections)
	}
	if len(accepted) != 1 {
		t.Fatalf("expected 1 accepted, got %d", len(accepted))
	}
	if accepted[0].Type != TypeShock || accepted[0].DurationMS != 400 {
		t.Fatalf("expected first submitted entry to win, got %#v", accepted[0])
	}
}

func TestNormalizePreservesSubmittedOrder(t *testing.T) {
	a := ownedEntry(uuid.New(), uuid.New())
	b := ownedEntry(uuid.New(), uuid.New())
	c := ownedEntry(uuid.New(), uuid.New())

	accepted, _ := Normalize([]Command{
		{ShockerID: c.ShockerID, Type: TypeSound, DurationMS: 400, IntensityPct: 10},
		{ShockerID: a.ShockerID, Type: TypeShock, DurationMS: 400, IntensityPct: 10},
		{ShockerID: b.ShockerID, Type: TypeVibrate, DurationMS: 400, IntensityPct: 10},
	}, []AccessEntry{a, b, c})

	if len(accepted) != 3 {
		t.Fatalf("expected 3 accepted, got %d", len(accepted))
	}
	want := []uuid.UUID{c.ShockerID, a.ShockerID, b.ShockerID}
	for i, cmd := range accepted {
		if cmd.ShockerID != want[i] {
			t.Fatalf("order not preserved at %d: got %s want %s", i, cmd.ShockerID, want[i])
		}
	}
}

func TestStopAllowedWithAnyPermission(t *testing.T) {
	cases := []struct {
		name string
		env  LimitedBy
		want bool
	}{
		{"shock only", LimitedBy{Shock: true}, true},
		{"vibrate only", LimitedBy{Vibrate: true}, true},
		{"sound only", LimitedBy{Sound: true}, true},
		{"none", LimitedBy{}, false},
	}
	for _, tc := range cases {
		if got := tc.env.Allows(TypeStop); got != tc.want {
			t.Fatalf("%s: Allows(stop) = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestOwnershipEnvelopeAllowsEverything(t *testing.T) {
	env := Unrestricted{}
	for _, ct := range []CommandType{TypeShock, TypeVibrate, TypeSound, TypeStop} {
		if !env.Allows(ct) {
			t.Fatalf("owner envelope must allow %s", ct)
		}
	}
}

func TestParseCommandType(t *testing.T) {
	if ct, err := ParseCommandType(" Shock "); err != nil || ct != TypeShock {
		t.Fatalf("expected shock, got %v %v", ct, err)
	}
	if _, err := ParseCommandType("explode"); err == nil {
		t.Fatalf("expected error for unknown type")
	}
}
