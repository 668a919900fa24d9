package control

import "github.com/google/uuid"

// Groups holds accepted commands bucketed by physical device, preserving the
// order the normalizer produced within each bucket. DeviceIDs preserves
// first-appearance order so publishing is deterministic.
type Groups struct {
	DeviceIDs []uuid.UUID
	ByDevice  map[uuid.UUID][]AcceptedCommand
}

// Aggregate groups accepted commands by their owning device. The normalizer
// already guarantees at most one command per shocker, so no group ever holds
// two commands for the same target.
func Aggregate(accepted []AcceptedCommand) Groups {
	groups := Groups{
		ByDevice: make(map[uuid.UUID][]AcceptedCommand),
	}
	for _, cmd := range accepted {
		if _, ok := groups.ByDevice[cmd.DeviceID]; !ok {
			groups.DeviceIDs = append(groups.DeviceIDs, cmd.DeviceID)
		}
		groups.ByDevice[cmd.DeviceID] = append(groups.ByDevice[cmd.DeviceID], cmd)
	}
	return groups
}
