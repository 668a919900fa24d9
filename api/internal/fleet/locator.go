package fleet

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"stim-control-platform/shared/devstate"
)

// ErrRegistryInconsistent marks backend drift: a device claims a gateway
// assignment but the registry has no record of that node. Surfaced distinctly
// from Offline because it signals fleet-side breakage, not device state.
var ErrRegistryInconsistent = errors.New("gateway registry entry missing for assigned node")

type State int

const (
	StateNotFound State = iota
	StateNotAuthorized
	StateOffline
	// StateOnlineNoGateway: the device is connected but carries no gateway
	// assignment, which means legacy firmware that cannot use live control.
	StateOnlineNoGateway
	StateOnline
)

type Location struct {
	State   State
	Gateway *devstate.LcgNode
}

// KV is the ephemeral-state read surface the locator needs.
type KV interface {
	GetJSON(ctx context.Context, key string, dest any) (bool, error)
}

// DeviceAccessChecker reports whether a device exists and whether the caller
// owns it or holds a share on any shocker under it.
type DeviceAccessChecker interface {
	DeviceAccess(ctx context.Context, deviceID uuid.UUID, callerID uuid.UUID) (exists bool, allowed bool, err error)
}

type Locator struct {
	Devices DeviceAccessChecker
	KV      KV
}

func (l *Locator) Locate(ctx context.Context, deviceID uuid.UUID, callerID uuid.UUID) (Location, error) {
	exists, allowed, err := l.Devices.DeviceAccess(ctx, deviceID, callerID)
	if err != nil {
		return Location{}, fmt.Errorf("device access check: %w", err)
	}
	if !exists {
		return Location{State: StateNotFound}, nil
	}
	if !allowed {
		return Location{State: StateNotAuthorized}, nil
	}

	var online devstate.DeviceOnline
	found, err := l.KV.GetJSON(ctx, devstate.OnlineKey(deviceID), &online)
	if err != nil {
		return Location{}, fmt.Errorf("online lookup: %w", err)
	}
	if !found {
		return Location{State: StateOffline}, nil
	}
	if online.GatewayID == "" {
		return Location{State: StateOnlineNoGateway}, nil
	}

	var node devstate.LcgNode
	found, err = l.KV.GetJSON(ctx, devstate.NodeKey(online.GatewayID), &node)
	if err != nil {
		return Location{}, fmt.Errorf("node lookup: %w", err)
	}
	if !found {
		return Location{}, fmt.Errorf("%w: %s", ErrRegistryInconsistent, online.GatewayID)
	}

	return Location{State: StateOnline, Gateway: &node}, nil
}
