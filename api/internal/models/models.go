package models

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	UserID      uuid.UUID
	Subject     string
	Email       string
	DisplayName string
	ImageURL    string
	CreatedAt   time.Time
	LastLoginAt *time.Time
}

type Device struct {
	DeviceID    uuid.UUID
	OwnerUserID uuid.UUID
	Name        string
	Token       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Shocker struct {
	ShockerID uuid.UUID
	DeviceID  uuid.UUID
	RadioID   uint16
	Model     string
	Name      string
	Paused    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ShockerShare grants limited control of one shocker to a user other than
// the device owner.
type ShockerShare struct {
	ShockerID       uuid.UUID
	SharedWithUserID uuid.UUID
	PermShock       bool
	PermVibrate     bool
	PermSound       bool
	PermLive        bool
	LimitDurationMS *uint
	LimitIntensity  *uint8
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ControlLog is one immutable audit row for an executed command. Rows from
// one dispatch share the same CreatedAt so batch boundaries stay observable.
type ControlLog struct {
	LogID              uuid.UUID
	ShockerID          uuid.UUID
	ControlledByUserID uuid.UUID
	Type               string
	IntensityPct       uint8
	DurationMS         uint
	CreatedAt          time.Time
}

type OutboxEvent struct {
	EventID       uuid.UUID
	AggregateType string
	AggregateID   uuid.UUID
	Topic         string
	Payload       []byte
	Status        string
	Attempts      int
	NextRetryAt   *time.Time
	LockedAt      *time.Time
	LockedBy      *string
	LastError     *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	PublishedAt   *time.Time
}
