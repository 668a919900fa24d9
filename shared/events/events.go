package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	// TopicDeviceControl carries grouped control frames, one message per
	// physical device, keyed by the device id so a partition preserves
	// per-device ordering.
	TopicDeviceControl = "device.control"
	// TopicDeviceUpdates carries metadata-change notifications for devices
	// (rename, shocker added/removed), published through the outbox.
	TopicDeviceUpdates = "device.updates"
	// TopicDeviceTelemetry carries device-originated readings (heartbeat,
	// battery, RSSI) ingested through the telemetry gateway.
	TopicDeviceTelemetry = "device.telemetry"
)

// TelemetryEnvelope is the unit published on TopicDeviceTelemetry.
type TelemetryEnvelope struct {
	EventID    uuid.UUID       `json:"event_id"`
	DeviceID   uuid.UUID       `json:"device_id"`
	EventType  string          `json:"event_type"`
	Region     string          `json:"region,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// ControlFrame is one command destined for a single shocker, already
// permission-checked and clamped.
type ControlFrame struct {
	ShockerID  uuid.UUID `json:"shocker_id"`
	RadioID    uint16    `json:"radio_id"`
	Type       string    `json:"type"`
	IntensityPct uint8   `json:"intensity_pct"`
	DurationMS uint      `json:"duration_ms"`
	Model      string    `json:"model"`
}

// ControlMessage is the unit published on TopicDeviceControl. The gateway
// node holding the live connection to DeviceID relays the frames.
type ControlMessage struct {
	DeviceID uuid.UUID      `json:"device_id"`
	SenderID uuid.UUID      `json:"sender_id"`
	SentAt   time.Time      `json:"sent_at"`
	Frames   []ControlFrame `json:"frames"`
}

// DeviceUpdated is the unit published on TopicDeviceUpdates.
type DeviceUpdated struct {
	DeviceID  uuid.UUID `json:"device_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SenderInfo identifies the user who issued a command batch, as shown to
// shocker owners in their live log feed.
type SenderInfo struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	ImageURL string    `json:"image_url"`
}

// HubLogEntry is one executed command rendered for the owner-side feed.
type HubLogEntry struct {
	ShockerID    uuid.UUID `json:"shocker_id"`
	ShockerName  string    `json:"shocker_name"`
	Type         string    `json:"type"`
	IntensityPct uint8     `json:"intensity_pct"`
	DurationMS   uint      `json:"duration_ms"`
	ExecutedAt   time.Time `json:"executed_at"`
}

// HubLogMessage is pushed to every live session of one shocker owner after a
// dispatch that touched their shockers.
type HubLogMessage struct {
	Sender SenderInfo    `json:"sender"`
	Logs   []HubLogEntry `json:"logs"`
}

// UserChannel returns the redis pub/sub channel name for a user's live
// sessions.
func UserChannel(userID uuid.UUID) string {
	return "user:" + userID.String()
}
