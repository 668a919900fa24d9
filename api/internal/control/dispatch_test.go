package control

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"stim-control-platform/shared/events"
	"stim-control-platform/shared/logx"
)

type fakeAccess struct {
	entries []AccessEntry
	err     error
}

func (f *fakeAccess) ResolveAccess(ctx context.Context, callerID uuid.UUID) ([]AccessEntry, error) {
	return f.entries, f.err
}

type auditCall struct {
	accepted     []AcceptedCommand
	controllerID uuid.UUID
	at           time.Time
}

type fakeAudit struct {
	mu    sync.Mutex
	calls []auditCall
	err   error
}

func (f *fakeAudit) RecordControl(ctx context.Context, accepted []AcceptedCommand, controllerID uuid.UUID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, auditCall{accepted: accepted, controllerID: controllerID, at: at})
	return f.err
}

type publishCall struct {
	senderID uuid.UUID
	groups   Groups
	at       time.Time
}

type fakePublisher struct {
	mu    sync.Mutex
	calls []publishCall
	err   error
}

func (f *fakePublisher) PublishControl(ctx context.Context, senderID uuid.UUID, groups Groups, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, publishCall{senderID: senderID, groups: groups, at: at})
	return f.err
}

type fakeSenders struct {
	sender events.SenderInfo
	err    error
}

func (f *fakeSenders) GetSender(ctx context.Context, userID uuid.UUID) (events.SenderInfo, error) {
	return f.sender, f.err
}

type hubPush struct {
	ownerID uuid.UUID
	msg     events.HubLogMessage
}

type fakeHub struct {
	pushes chan hubPush
	err    error
}

func (f *fakeHub) PushLogs(ctx context.Context, ownerID uuid.UUID, msg events.HubLogMessage) error {
	f.pushes <- hubPush{ownerID: ownerID, msg: msg}
	return f.err
}

func testDispatcher(access *fakeAccess, audit *fakeAudit, pub *fakePublisher, hub *fakeHub) *Dispatcher {
	return &Dispatcher{
		Access:    access,
		Audit:     audit,
		Publisher: pub,
		Senders:   &fakeSenders{sender: events.SenderInfo{ID: uuid.New(), Name: "sender"}},
		Hub:       hub,
		Logger:    logx.New("control-test", "test", "", "error"),
	}
}

func collectPushes(t *testing.T, hub *fakeHub, want int) []hubPush {
	t.Helper()
	pushes := make([]hubPush, 0, want)
	for i := 0; i < want; i++ {
		select {
		case p := <-hub.pushes:
			pushes = append(pushes, p)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for owner push %d of %d", i+1, want)
		}
	}
	return pushes
}

// Caller owns shocker A and holds a share on shocker B, both on device D1.
// A passes through with default bounds, B is clamped to the share limits;
// the group for D1 carries both; two audit rows share one timestamp; the
// caller and the other owner each get one log push.
func TestDispatchMixedOwnershipSameDevice(t *testing.T) {
	caller := uuid.New()
	otherOwner := uuid.New()
	d1 := uuid.New()

	shareDur := uint(5000)
	shareIntensity := uint8(50)
	entryA := AccessEntry{
		ShockerID: uuid.New(), DeviceID: d1, OwnerUserID: caller,
		Name: "A", RadioID: 11, Model: "caixianlin", Envelope: Unrestricted{},
	}
	entryB := AccessEntry{
		ShockerID: uuid.New(), DeviceID: d1, OwnerUserID: otherOwner,
		Name: "B", RadioID: 22, Model: "caixianlin",
		Envelope: LimitedBy{Shock: true, DurationMS: &shareDur, Intensity: &shareIntensity},
	}

	access := &fakeAccess{entries: []AccessEntry{entryA, entryB}}
	audit := &fakeAudit{}
	pub := &fakePublisher{}
	hub := &fakeHub{pushes: make(chan hubPush, 4)}
	d := testDispatcher(access, audit, pub, hub)

	result, err := d.Dispatch(context.Background(), caller, []Command{
		{ShockerID: entryA.ShockerID, Type: TypeShock, DurationMS: 400, IntensityPct: 60},
		{ShockerID: entryB.ShockerID, Type: TypeShock, DurationMS: 10000, IntensityPct: 90},
	})
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if result.AcceptedCount != 2 || len(result.Rejections) != 0 {
		t.Fatalf("unexpected result: %#v", result)
	}

	if len(audit.calls) != 1 {
		t.Fatalf("expected 1 audit batch, got %d", len(audit.calls))
	}
	rows := audit.calls[0].accepted
	if len(rows) != 2 {
		t.Fatalf("expected 2 audit rows, got %d", len(rows))
	}
	if rows[0].DurationMS != 400 || rows[0].IntensityPct != 60 {
		t.Fatalf("owner command must pass unclamped within defaults: %#v", rows[0])
	}
	if rows[1].DurationMS != 5000 || rows[1].IntensityPct != 50 {
		t.Fatalf("shared command must clamp to share limits: %#v", rows[1])
	}

	if len(pub.calls) != 1 {
		t.Fatalf("expected 1 publish call, got %d", len(pub.calls))
	}
	group := pub.calls[0].groups.ByDevice[d1]
	if len(group) != 2 {
		t.Fatalf("expected both commands grouped under one device, got %d", len(group))
	}
	if !pub.calls[0].at.Equal(audit.calls[0].at) {
		t.Fatalf("audit and publish must share one batch timestamp")
	}

	pushes := collectPushes(t, hub, 2)
	byOwner := map[uuid.UUID]hubPush{}
	for _, p := range pushes {
		byOwner[p.ownerID] = p
	}
	callerPush, ok := byOwner[caller]
	if !ok || len(callerPush.msg.Logs) != 1 || callerPush.msg.Logs[0].ShockerID != entryA.ShockerID {
		t.Fatalf("caller should be notified for shocker A: %#v", callerPush)
	}
	ownerPush, ok := byOwner[otherOwner]
	if !ok || len(ownerPush.msg.Logs) != 1 || ownerPush.msg.Logs[0].ShockerID != entryB.ShockerID {
		t.Fatalf("other owner should be notified for shocker B: %#v", ownerPush)
	}
}

func TestDispatchAuditFaultFailsEvenIfPublishSucceeded(t *testing.T) {
	caller := uuid.New()
	entry := ownedEntry(uuid.New(), caller)

	access := &fakeAccess{entries: []AccessEntry{entry}}
	audit := &fakeAudit{err: errors.New("pg down")}
	pub := &fakePublisher{}
	hub := &fakeHub{pushes: make(chan hubPush, 1)}
	d := testDispatcher(access, audit, pub, hub)

	_, err := d.Dispatch(context.Background(), caller, []Command{
		{ShockerID: entry.ShockerID, Type: TypeShock, DurationMS: 400, IntensityPct: 60},
	})
	if err == nil {
		t.Fatalf("audit fault must fail the dispatch")
	}
	if len(pub.calls) != 1 {
		t.Fatalf("publish is issued concurrently and still runs, got %d calls", len(pub.calls))
	}
	select {
	case p := <-hub.pushes:
		t.Fatalf("no owner notification after failed dispatch, got %#v", p)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDispatchPublishFaultFails(t *testing.T) {
	caller := uuid.New()
	entry := ownedEntry(uuid.New(), caller)

	access := &fakeAccess{entries: []AccessEntry{entry}}
	audit := &fakeAudit{}
	pub := &fakePublisher{err: errors.New("broker down")}
	hub := &fakeHub{pushes: make(chan hubPush, 1)}
	d := testDispatcher(access, audit, pub, hub)

	_, err := d.Dispatch(context.Background(), caller, []Command{
		{ShockerID: entry.ShockerID, Type: TypeShock, DurationMS: 400, IntensityPct: 60},
	})
	if err == nil {
		t.Fatalf("publish fault must fail the dispatch")
	}
}

func TestDispatchNotifyFaultDoesNotFail(t *testing.T) {
	caller := uuid.New()
	entry := ownedEntry(uuid.New(), caller)

	access := &fakeAccess{entries: []AccessEntry{entry}}
	audit := &fakeAudit{}
	pub := &fakePublisher{}
	hub := &fakeHub{pushes: make(chan hubPush, 1), err: errors.New("hub down")}
	d := testDispatcher(access, audit, pub, hub)

	result, err := d.Dispatch(context.Background(), caller, []Command{
		{ShockerID: entry.ShockerID, Type: TypeShock, DurationMS: 400, IntensityPct: 60},
	})
	if err != nil {
		t.Fatalf("notify fault must not fail the dispatch: %v", err)
	}
	if result.AcceptedCount != 1 {
		t.Fatalf("unexpected result: %#v", result)
	}
	collectPushes(t, hub, 1)
}

// A batch that normalizes to nothing touches neither the audit store nor the
// device channel.
func TestDispatchEmptyAcceptedSkipsBackends(t *testing.T) {
	caller := uuid.New()
	entry := ownedEntry(uuid.New(), uuid.New())
	entry.Envelope = LimitedBy{Sound: true}

	access := &fakeAccess{entries: []AccessEntry{entry}}
	audit := &fakeAudit{}
	pub := &fakePublisher{}
	hub := &fakeHub{pushes: make(chan hubPush, 1)}
	d := testDispatcher(access, audit, pub, hub)

	result, err := d.Dispatch(context.Background(), caller, []Command{
		{ShockerID: entry.ShockerID, Type: TypeVibrate, DurationMS: 400, IntensityPct: 60},
	})
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if result.AcceptedCount != 0 || len(result.Rejections) != 1 {
		t.Fatalf("unexpected result: %#v", result)
	}
	if len(audit.calls) != 0 || len(pub.calls) != 0 {
		t.Fatalf("no backend calls expected for an empty accepted set")
	}
}

func TestDispatchAccessFaultPropagates(t *testing.T) {
	access := &fakeAccess{err: errors.New("pg down")}
	d := testDispatcher(access, &fakeAudit{}, &fakePublisher{}, &fakeHub{pushes: make(chan hubPush, 1)})

	_, err := d.Dispatch(context.Background(), uuid.New(), []Command{
		{ShockerID: uuid.New(), Type: TypeShock, DurationMS: 400, IntensityPct: 60},
	})
	if err == nil {
		t.Fatalf("access fault must propagate with no partial results")
	}
}
