package control

import "github.com/google/uuid"

// Normalize validates a command batch against the caller's resolved access
// set. Duplicate targets are silently collapsed to the first submitted entry.
// Surviving commands come back clamped, in caller-submitted order; everything
// else comes back as a rejection with a reason.
func Normalize(commands []Command, access []AccessEntry) ([]AcceptedCommand, []Rejection) {
	byShocker := make(map[uuid.UUID]AccessEntry, len(access))
	for _, entry := range access {
		byShocker[entry.ShockerID] = entry
	}

	accepted := make([]AcceptedCommand, 0, len(commands))
	rejections := make([]Rejection, 0)
	seen := make(map[uuid.UUID]bool, len(commands))

	for _, cmd := range commands {
		if seen[cmd.ShockerID] {
			continue
		}
		seen[cmd.ShockerID] = true

		entry, ok := byShocker[cmd.ShockerID]
		if !ok {
			rejections = append(rejections, Rejection{ShockerID: cmd.ShockerID, Reason: ReasonNotFound})
			continue
		}
		if entry.Paused {
			rejections = append(rejections, Rejection{ShockerID: cmd.ShockerID, Reason: ReasonPaused})
			continue
		}
		if !entry.Envelope.Allows(cmd.Type) {
			rejections = append(rejections, Rejection{ShockerID: cmd.ShockerID, Reason: ReasonForbidden})
			continue
		}

		accepted = append(accepted, AcceptedCommand{
			ShockerID:    entry.ShockerID,
			DeviceID:     entry.DeviceID,
			OwnerUserID:  entry.OwnerUserID,
			ShockerName:  entry.Name,
			RadioID:      entry.RadioID,
			Model:        entry.Model,
			Type:         cmd.Type,
			IntensityPct: clampIntensity(cmd.IntensityPct, entry.Envelope.MaxIntensityPct()),
			DurationMS:   clampDuration(cmd.DurationMS, entry.Envelope.MaxDurationMS()),
		})
	}

	return accepted, rejections
}

// Clamping saturates rather than rejects: out-of-range values are corrected.

func clampDuration(v uint, max uint) uint {
	if v < MinDurationMS {
		return MinDurationMS
	}
	if v > max {
		return max
	}
	return v
}

func clampIntensity(v uint8, max uint8) uint8 {
	if v < MinIntensityPct {
		return MinIntensityPct
	}
	if v > max {
		return max
	}
	return v
}
