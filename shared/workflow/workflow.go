// Package workflow defines the delivery lifecycle of outbox events. The
// status stored on each row must only ever move along these transitions;
// anything else indicates a bug in a worker or a manual edit.
package workflow

import "strings"

const (
	StatusPending   = "pending"
	StatusSending   = "sending"
	StatusDelivered = "delivered"
	StatusDead      = "dead"
)

const (
	EventClaimed   = "outbox_claimed"
	EventDelivered = "outbox_delivered"
	EventRetried   = "outbox_retried"
	EventDead      = "outbox_dead"
)

var transitions = map[string]map[string]string{
	StatusPending: {
		StatusSending: EventClaimed,
		StatusDead:    EventDead,
	},
	StatusSending: {
		StatusDelivered: EventDelivered,
		StatusPending:   EventRetried,
		StatusDead:      EventDead,
	},
}

func NormalizeStatus(status string) string {
	return strings.ToLower(strings.TrimSpace(status))
}

func CanTransition(fromStatus string, toStatus string) bool {
	fromStatus = NormalizeStatus(fromStatus)
	toStatus = NormalizeStatus(toStatus)
	if fromStatus == toStatus {
		return true
	}
	next := transitions[fromStatus]
	if next == nil {
		return false
	}
	_, ok := next[toStatus]
	return ok
}

func EventForTransition(fromStatus string, toStatus string) string {
	fromStatus = NormalizeStatus(fromStatus)
	toStatus = NormalizeStatus(toStatus)
	if fromStatus == toStatus {
		return ""
	}
	next := transitions[fromStatus]
	if next == nil {
		return ""
	}
	return next[toStatus]
}

func AllStatuses() []string {
	return []string{
		StatusPending,
		StatusSending,
		StatusDelivered,
		StatusDead,
	}
}
