package workflow

import "testing"

func TestCanTransition(t *testing.T) {
	if !CanTransition(StatusPending, StatusSending) {
		t.Fatalf("expected pending -> sending to be allowed")
	}
	if !CanTransition(StatusSending, StatusPending) {
		t.Fatalf("expected sending -> pending (retry) to be allowed")
	}
	if CanTransition(StatusDelivered, StatusSending) {
		t.Fatalf("expected delivered -> sending to be blocked")
	}
	if CanTransition(StatusDead, StatusPending) {
		t.Fatalf("expected dead -> pending to be blocked")
	}
}

func TestSameStatusIsAlwaysAllowed(t *testing.T) {
	for _, status := range AllStatuses() {
		if !CanTransition(status, status) {
			t.Fatalf("expected %s -> %s to be allowed", status, status)
		}
	}
}

func TestEventForTransition(t *testing.T) {
	if ev := EventForTransition(StatusSending, StatusDelivered); ev != EventDelivered {
		t.Fatalf("sending -> delivered event = %q, want %q", ev, EventDelivered)
	}
	if ev := EventForTransition(StatusSending, StatusPending); ev != EventRetried {
		t.Fatalf("sending -> pending event = %q, want %q", ev, EventRetried)
	}
	if ev := EventForTransition(StatusDelivered, StatusDelivered); ev != "" {
		t.Fatalf("no-op transition should carry no event, got %q", ev)
	}
}
