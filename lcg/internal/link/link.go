// Package link keeps one gateway node visible to the control plane: it
// maintains the node's registry entry and the presence record of every device
// it terminates, and applies inbound control traffic to those devices.
package link

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"stim-control-platform/shared/devstate"
	"stim-control-platform/shared/events"
	"stim-control-platform/shared/logx"
)

// KV is the ephemeral-state write surface presence maintenance needs.
type KV interface {
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	Refresh(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// Presence advertises the node and its devices in redis. Every record is
// TTL-bound; a node that dies simply stops refreshing and its devices go
// offline when the TTL runs out.
type Presence struct {
	KV      KV
	Node    devstate.LcgNode
	Devices []uuid.UUID
	TTL     time.Duration
	Logger  logx.Logger
}

// Register writes the node record and one presence record per hosted device.
func (p *Presence) Register(ctx context.Context) error {
	if err := p.KV.SetJSON(ctx, devstate.NodeKey(p.Node.NodeID), p.Node, p.TTL); err != nil {
		return err
	}
	for _, deviceID := range p.Devices {
		online := devstate.DeviceOnline{DeviceID: deviceID, GatewayID: p.Node.NodeID}
		if err := p.KV.SetJSON(ctx, devstate.OnlineKey(deviceID), online, p.TTL); err != nil {
			return err
		}
	}
	return nil
}

// Run refreshes all records until the context is canceled. A record that
// expired between refreshes (redis restart, eviction) is rewritten in full.
func (p *Presence) Run(ctx context.Context) {
	interval := p.TTL / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.refresh(ctx)
		}
	}
}

func (p *Presence) refresh(ctx context.Context) {
	keys := make([]string, 0, len(p.Devices)+1)
	keys = append(keys, devstate.NodeKey(p.Node.NodeID))
	for _, deviceID := range p.Devices {
		keys = append(keys, devstate.OnlineKey(deviceID))
	}

	missing := false
	for _, key := range keys {
		alive, err := p.KV.Refresh(ctx, key, p.TTL)
		if err != nil {
			p.Logger.Warn(ctx, "presence_refresh_failed", "presence refresh failed",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
			return
		}
		if !alive {
			missing = true
		}
	}
	if missing {
		if err := p.Register(ctx); err != nil {
			p.Logger.Warn(ctx, "presence_reregister_failed", "presence re-registration failed",
				slog.String("error", err.Error()),
			)
		}
	}
}

// FrameStore holds the most recent control frame applied to each shocker on
// this node. The radio transmit path polls it; everything older than the
// frame's duration has already stopped on its own.
type FrameStore struct {
	mu     sync.RWMutex
	hosted map[uuid.UUID]bool
	frames map[uuid.UUID]StoredFrame
}

type StoredFrame struct {
	Frame      events.ControlFrame
	SenderID   uuid.UUID
	ReceivedAt time.Time
}

func NewFrameStore(devices []uuid.UUID) *FrameStore {
	hosted := make(map[uuid.UUID]bool, len(devices))
	for _, id := range devices {
		hosted[id] = true
	}
	return &FrameStore{
		hosted: hosted,
		frames: make(map[uuid.UUID]StoredFrame),
	}
}

// Apply stores the frames of a control message addressed to a hosted device.
// Messages for devices this node does not terminate are ignored; the topic
// carries traffic for the whole fleet. Returns the number of frames applied.
func (s *FrameStore) Apply(msg events.ControlMessage, at time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hosted[msg.DeviceID] {
		return 0
	}
	for _, frame := range msg.Frames {
		s.frames[frame.ShockerID] = StoredFrame{
			Frame:      frame,
			SenderID:   msg.SenderID,
			ReceivedAt: at,
		}
	}
	return len(msg.Frames)
}

// Last returns the most recent frame for a shocker, if any.
func (s *FrameStore) Last(shockerID uuid.UUID) (StoredFrame, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.frames[shockerID]
	return f, ok
}

func (s *FrameStore) Hosts(deviceID uuid.UUID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hosted[deviceID]
}
