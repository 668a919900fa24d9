// Package devstate defines the redis-backed ephemeral state shared between
// the API and the gateway fleet: device presence, gateway registry entries
// and pairing codes. All records are TTL-bound; absence of a key is the only
// expiry signal.
package devstate

import (
	"github.com/google/uuid"
)

// DeviceOnline is the presence record a gateway node maintains for each
// device it holds a live connection to. An empty GatewayID means the device
// is connected through a legacy path with no gateway assignment.
type DeviceOnline struct {
	DeviceID  uuid.UUID `json:"device_id"`
	GatewayID string    `json:"gateway_id,omitempty"`
}

// LcgNode is the self-registration record of one gateway node.
type LcgNode struct {
	NodeID  string `json:"node_id"`
	Fqdn    string `json:"fqdn"`
	Country string `json:"country"`
}

// DevicePair is a short-lived pairing code for device registration.
type DevicePair struct {
	DeviceID uuid.UUID `json:"device_id"`
	PairCode string    `json:"pair_code"`
}

func OnlineKey(deviceID uuid.UUID) string {
	return "device:online:" + deviceID.String()
}

func NodeKey(nodeID string) string {
	return "lcg:node:" + nodeID
}

func PairKey(deviceID uuid.UUID) string {
	return "device:pair:" + deviceID.String()
}
