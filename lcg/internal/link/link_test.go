package link

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"stim-control-platform/shared/devstate"
	"stim-control-platform/shared/events"
	"stim-control-platform/shared/logx"
)

type fakeKV struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newFakeKV() *fakeKV {
	return &fakeKV{data: make(map[string][]byte)}
}

func (f *fakeKV) SetJSON(_ context.Context, key string, value any, _ time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = b
	return nil
}

func (f *fakeKV) Refresh(_ context.Context, key string, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.data[key]
	return ok, nil
}

func (f *fakeKV) get(key string, dest any) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.data[key]
	if !ok {
		return false
	}
	_ = json.Unmarshal(raw, dest)
	return true
}

func (f *fakeKV) drop(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, key)
}

func testPresence(kv KV, devices []uuid.UUID) *Presence {
	return &Presence{
		KV:      kv,
		Node:    devstate.LcgNode{NodeID: "node-1", Fqdn: "eu1.gateway.example.com", Country: "DE"},
		Devices: devices,
		TTL:     time.Minute,
		Logger:  logx.New("link-test", "test", "", "error"),
	}
}

func TestRegisterWritesNodeAndDeviceRecords(t *testing.T) {
	kv := newFakeKV()
	d1, d2 := uuid.New(), uuid.New()
	p := testPresence(kv, []uuid.UUID{d1, d2})

	if err := p.Register(context.Background()); err != nil {
		t.Fatalf("Register: %v", err)
	}

	var node devstate.LcgNode
	if !kv.get(devstate.NodeKey("node-1"), &node) {
		t.Fatal("node record missing")
	}
	if node.Fqdn != "eu1.gateway.example.com" || node.Country != "DE" {
		t.Fatalf("unexpected node record: %+v", node)
	}

	for _, id := range []uuid.UUID{d1, d2} {
		var online devstate.DeviceOnline
		if !kv.get(devstate.OnlineKey(id), &online) {
			t.Fatalf("presence record missing for %s", id)
		}
		if online.GatewayID != "node-1" {
			t.Fatalf("device %s assigned to %q, want node-1", id, online.GatewayID)
		}
	}
}

func TestRefreshRewritesExpiredRecords(t *testing.T) {
	kv := newFakeKV()
	deviceID := uuid.New()
	p := testPresence(kv, []uuid.UUID{deviceID})

	if err := p.Register(context.Background()); err != nil {
		t.Fatalf("Register: %v", err)
	}

	kv.drop(devstate.OnlineKey(deviceID))
	p.refresh(context.Background())

	var online devstate.DeviceOnline
	if !kv.get(devstate.OnlineKey(deviceID), &online) {
		t.Fatal("expired presence record was not rewritten")
	}
}

func TestFrameStoreAppliesHostedTraffic(t *testing.T) {
	deviceID := uuid.New()
	shockerID := uuid.New()
	store := NewFrameStore([]uuid.UUID{deviceID})

	senderID := uuid.New()
	msg := events.ControlMessage{
		DeviceID: deviceID,
		SenderID: senderID,
		Frames: []events.ControlFrame{
			{ShockerID: shockerID, RadioID: 1234, Type: "vibrate", IntensityPct: 40, DurationMS: 2000},
		},
	}

	at := time.Now().UTC()
	if n := store.Apply(msg, at); n != 1 {
		t.Fatalf("applied %d frames, want 1", n)
	}

	frame, ok := store.Last(shockerID)
	if !ok {
		t.Fatal("stored frame not found")
	}
	if frame.SenderID != senderID || frame.Frame.IntensityPct != 40 || !frame.ReceivedAt.Equal(at) {
		t.Fatalf("unexpected stored frame: %+v", frame)
	}
}

func TestFrameStoreIgnoresForeignDevices(t *testing.T) {
	store := NewFrameStore([]uuid.UUID{uuid.New()})

	msg := events.ControlMessage{
		DeviceID: uuid.New(),
		Frames: []events.ControlFrame{
			{ShockerID: uuid.New(), Type: "shock", IntensityPct: 10, DurationMS: 500},
		},
	}
	if n := store.Apply(msg, time.Now()); n != 0 {
		t.Fatalf("applied %d frames for a foreign device, want 0", n)
	}
}

func TestFrameStoreKeepsLatestFrame(t *testing.T) {
	deviceID := uuid.New()
	shockerID := uuid.New()
	store := NewFrameStore([]uuid.UUID{deviceID})

	first := events.ControlMessage{
		DeviceID: deviceID,
		Frames:   []events.ControlFrame{{ShockerID: shockerID, Type: "shock", IntensityPct: 50, DurationMS: 1000}},
	}
	second := events.ControlMessage{
		DeviceID: deviceID,
		Frames:   []events.ControlFrame{{ShockerID: shockerID, Type: "stop", IntensityPct: 1, DurationMS: 300}},
	}
	store.Apply(first, time.Now())
	store.Apply(second, time.Now())

	frame, ok := store.Last(shockerID)
	if !ok {
		t.Fatal("stored frame not found")
	}
	if frame.Frame.Type != "stop" {
		t.Fatalf("last frame type = %q, want stop", frame.Frame.Type)
	}
}
