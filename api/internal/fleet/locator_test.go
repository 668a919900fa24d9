package fleet

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"

	"stim-control-platform/shared/devstate"
)

type fakeKV struct {
	data map[string]any
	err  error
}

func (f *fakeKV) GetJSON(ctx context.Context, key string, dest any) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	v, ok := f.data[key]
	if !ok {
		return false, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal(b, dest)
}

type fakeAccess struct {
	exists  bool
	allowed bool
	err     error
}

func (f *fakeAccess) DeviceAccess(ctx context.Context, deviceID uuid.UUID, callerID uuid.UUID) (bool, bool, error) {
	return f.exists, f.allowed, f.err
}

func TestLocateOffline(t *testing.T) {
	l := &Locator{
		Devices: &fakeAccess{exists: true, allowed: true},
		KV:      &fakeKV{data: map[string]any{}},
	}
	loc, err := l.Locate(context.Background(), uuid.New(), uuid.New())
	if err != nil {
		t.Fatalf("locate failed: %v", err)
	}
	if loc.State != StateOffline {
		t.Fatalf("expected offline, got %v", loc.State)
	}
}

// A presence record without a gateway assignment is a distinct state, not
// offline and not an error: the device needs a firmware upgrade.
func TestLocateOnlineWithoutGateway(t *testing.T) {
	deviceID := uuid.New()
	l := &Locator{
		Devices: &fakeAccess{exists: true, allowed: true},
		KV: &fakeKV{data: map[string]any{
			devstate.OnlineKey(deviceID): devstate.DeviceOnline{DeviceID: deviceID},
		}},
	}
	loc, err := l.Locate(context.Background(), deviceID, uuid.New())
	if err != nil {
		t.Fatalf("locate failed: %v", err)
	}
	if loc.State != StateOnlineNoGateway {
		t.Fatalf("expected online-no-gateway, got %v", loc.State)
	}
}

func TestLocateOnline(t *testing.T) {
	deviceID := uuid.New()
	l := &Locator{
		Devices: &fakeAccess{exists: true, allowed: true},
		KV: &fakeKV{data: map[string]any{
			devstate.OnlineKey(deviceID): devstate.DeviceOnline{DeviceID: deviceID, GatewayID: "lcg-eu-1"},
			devstate.NodeKey("lcg-eu-1"): devstate.LcgNode{NodeID: "lcg-eu-1", Fqdn: "eu1.lcg.example.com", Country: "DE"},
		}},
	}
	loc, err := l.Locate(context.Background(), deviceID, uuid.New())
	if err != nil {
		t.Fatalf("locate failed: %v", err)
	}
	if loc.State != StateOnline {
		t.Fatalf("expected online, got %v", loc.State)
	}
	if loc.Gateway == nil || loc.Gateway.Fqdn != "eu1.lcg.example.com" || loc.Gateway.Country != "DE" {
		t.Fatalf("unexpected gateway: %#v", loc.Gateway)
	}
}

// Assigned gateway with no registry record is backend drift, surfaced as an
// error rather than any normal state.
func TestLocateRegistryDrift(t *testing.T) {
	deviceID := uuid.New()
	l := &Locator{
		Devices: &fakeAccess{exists: true, allowed: true},
		KV: &fakeKV{data: map[string]any{
			devstate.OnlineKey(deviceID): devstate.DeviceOnline{DeviceID: deviceID, GatewayID: "lcg-gone"},
		}},
	}
	_, err := l.Locate(context.Background(), deviceID, uuid.New())
	if !errors.Is(err, ErrRegistryInconsistent) {
		t.Fatalf("expected registry inconsistency error, got %v", err)
	}
}

func TestLocateNotFoundAndNotAuthorized(t *testing.T) {
	l := &Locator{Devices: &fakeAccess{exists: false}, KV: &fakeKV{}}
	loc, err := l.Locate(context.Background(), uuid.New(), uuid.New())
	if err != nil || loc.State != StateNotFound {
		t.Fatalf("expected not-found, got %v %v", loc.State, err)
	}

	l = &Locator{Devices: &fakeAccess{exists: true, allowed: false}, KV: &fakeKV{}}
	loc, err = l.Locate(context.Background(), uuid.New(), uuid.New())
	if err != nil || loc.State != StateNotAuthorized {
		t.Fatalf("expected not-authorized, got %v %v", loc.State, err)
	}
}
