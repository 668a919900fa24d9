package control

import (
	"testing"

	"github.com/google/uuid"
)

func TestAggregateGroupsByDevice(t *testing.T) {
	d1 := uuid.New()
	d2 := uuid.New()
	accepted := []AcceptedCommand{
		{ShockerID: uuid.New(), DeviceID: d1, Type: TypeShock},
		{ShockerID: uuid.New(), DeviceID: d2, Type: TypeVibrate},
		{ShockerID: uuid.New(), DeviceID: d1, Type: TypeSound},
	}

	groups := Aggregate(accepted)

	if len(groups.DeviceIDs) != 2 {
		t.Fatalf("expected 2 device groups, got %d", len(groups.DeviceIDs))
	}
	if groups.DeviceIDs[0] != d1 || groups.DeviceIDs[1] != d2 {
		t.Fatalf("device order must follow first appearance: %#v", groups.DeviceIDs)
	}
	if len(groups.ByDevice[d1]) != 2 || len(groups.ByDevice[d2]) != 1 {
		t.Fatalf("unexpected group sizes: d1=%d d2=%d", len(groups.ByDevice[d1]), len(groups.ByDevice[d2]))
	}
	if groups.ByDevice[d1][0] != accepted[0] || groups.ByDevice[d1][1] != accepted[2] {
		t.Fatalf("in-group order must match normalizer output")
	}
}

func TestAggregateNoDuplicateTargetsAcrossGroups(t *testing.T) {
	d1 := uuid.New()
	d2 := uuid.New()
	var accepted []AcceptedCommand
	for i := 0; i < 6; i++ {
		dev := d1
		if i%2 == 0 {
			dev = d2
		}
		accepted = append(accepted, AcceptedCommand{ShockerID: uuid.New(), DeviceID: dev})
	}

	groups := Aggregate(accepted)

	seen := map[uuid.UUID]bool{}
	for _, dev := range groups.DeviceIDs {
		for _, cmd := range groups.ByDevice[dev] {
			if seen[cmd.ShockerID] {
				t.Fatalf("duplicate target %s across groups", cmd.ShockerID)
			}
			seen[cmd.ShockerID] = true
		}
	}
	if len(seen) != len(accepted) {
		t.Fatalf("expected %d distinct targets, got %d", len(accepted), len(seen))
	}
}

func TestAggregateEmpty(t *testing.T) {
	groups := Aggregate(nil)
	if len(groups.DeviceIDs) != 0 || len(groups.ByDevice) != 0 {
		t.Fatalf("expected empty groups, got %#v", groups)
	}
}
