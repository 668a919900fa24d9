package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"stim-control-platform/api/internal/control"
	"stim-control-platform/shared/cachex"
	"stim-control-platform/shared/events"
	"stim-control-platform/shared/mqx"
)

// KafkaDevicePublisher carries accepted command groups onto the device
// control topic. One message per device, keyed by device id so every frame
// for a device lands on the same partition in order.
type KafkaDevicePublisher struct {
	Producer *mqx.Producer
}

func (p *KafkaDevicePublisher) PublishControl(ctx context.Context, senderID uuid.UUID, groups control.Groups, at time.Time) error {
	for _, deviceID := range groups.DeviceIDs {
		cmds := groups.ByDevice[deviceID]
		frames := make([]events.ControlFrame, 0, len(cmds))
		for _, cmd := range cmds {
			frames = append(frames, events.ControlFrame{
				ShockerID:    cmd.ShockerID,
				RadioID:      cmd.RadioID,
				Type:         string(cmd.Type),
				IntensityPct: cmd.IntensityPct,
				DurationMS:   cmd.DurationMS,
				Model:        cmd.Model,
			})
		}
		msg := events.ControlMessage{
			DeviceID: deviceID,
			SenderID: senderID,
			SentAt:   at,
			Frames:   frames,
		}
		payload, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("marshal control message: %w", err)
		}
		if err := p.Producer.Publish(ctx, events.TopicDeviceControl, []byte(deviceID.String()), payload, nil); err != nil {
			return fmt.Errorf("publish device %s: %w", deviceID, err)
		}
	}
	return nil
}

// RedisHubNotifier pushes owner-facing log batches over redis pub/sub. Each
// user has one channel; session frontends subscribed to it render the feed.
type RedisHubNotifier struct {
	Cache *cachex.Client
}

func (n *RedisHubNotifier) PushLogs(ctx context.Context, ownerID uuid.UUID, msg events.HubLogMessage) error {
	return n.Cache.PublishJSON(ctx, events.UserChannel(ownerID), msg)
}
