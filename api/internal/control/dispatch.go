package control

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"stim-control-platform/shared/events"
	"stim-control-platform/shared/logx"
	"stim-control-platform/shared/metricsx"
)

type AccessSource interface {
	ResolveAccess(ctx context.Context, callerID uuid.UUID) ([]AccessEntry, error)
}

type AuditRecorder interface {
	RecordControl(ctx context.Context, accepted []AcceptedCommand, controllerID uuid.UUID, at time.Time) error
}

type DevicePublisher interface {
	PublishControl(ctx context.Context, senderID uuid.UUID, groups Groups, at time.Time) error
}

type SenderSource interface {
	GetSender(ctx context.Context, userID uuid.UUID) (events.SenderInfo, error)
}

type HubNotifier interface {
	PushLogs(ctx context.Context, ownerID uuid.UUID, msg events.HubLogMessage) error
}

type TelemetrySink interface {
	WriteCommandPoint(ctx context.Context, deviceID string, shockerID string, commandType string, intensityPct uint8, durationMS uint, ts time.Time) error
}

type Result struct {
	AcceptedCount int         `json:"accepted"`
	Rejections    []Rejection `json:"rejections"`
}

// Dispatcher runs one command batch through resolve, normalize, aggregate,
// audit, publish and notify. The audit write and the device publish are
// issued concurrently and joined; a fault in either fails the dispatch, which
// accepts an at-least-once risk: the device channel may have already carried
// a command whose audit row never committed. Owner notification and
// telemetry run after the join, fire-and-forget, and never fail the result.
type Dispatcher struct {
	Access    AccessSource
	Audit     AuditRecorder
	Publisher DevicePublisher
	Senders   SenderSource
	Hub       HubNotifier
	Telemetry TelemetrySink
	Logger    logx.Logger

	// NotifyTimeout bounds the detached owner-notification push.
	NotifyTimeout time.Duration
}

func (d *Dispatcher) Dispatch(ctx context.Context, callerID uuid.UUID, commands []Command) (Result, error) {
	ctx, span := otel.Tracer("control").Start(ctx, "control.dispatch")
	span.SetAttributes(attribute.Int("commands", len(commands)))
	defer span.End()
	start := time.Now()

	access, err := d.Access.ResolveAccess(ctx, callerID)
	if err != nil {
		return Result{}, fmt.Errorf("resolve access: %w", err)
	}

	accepted, rejections := Normalize(commands, access)
	metricsx.AddCommandsAccepted(len(accepted))
	for _, rej := range rejections {
		metricsx.IncCommandRejected(string(rej.Reason))
	}

	result := Result{AcceptedCount: len(accepted), Rejections: rejections}
	if len(accepted) == 0 {
		// Nothing survived: no audit rows, no publishes, no notifications.
		metricsx.ObserveDispatchLatency(time.Since(start))
		return result, nil
	}

	groups := Aggregate(accepted)
	executedAt := time.Now().UTC()

	// Two independent I/O operations overlapped for latency. The join's
	// failure policy is asymmetric on purpose: either fault fails the
	// dispatch, but only after both have finished, so a publish that
	// already went out is never rolled back.
	auditCh := make(chan error, 1)
	publishCh := make(chan error, 1)
	go func() {
		auditCh <- d.Audit.RecordControl(ctx, accepted, callerID, executedAt)
	}()
	go func() {
		publishCh <- d.Publisher.PublishControl(ctx, callerID, groups, executedAt)
	}()
	auditErr := <-auditCh
	publishErr := <-publishCh

	if auditErr != nil {
		return Result{}, fmt.Errorf("audit write: %w", auditErr)
	}
	if publishErr != nil {
		metricsx.IncDevicePublishFailure()
		return Result{}, fmt.Errorf("device publish: %w", publishErr)
	}

	d.notifyOwners(ctx, callerID, accepted, executedAt)
	d.recordTelemetry(accepted, executedAt)

	metricsx.ObserveDispatchLatency(time.Since(start))
	return result, nil
}

// notifyOwners partitions the accepted commands by the owning user of each
// shocker and pushes one log batch per owner, so owners see what someone
// they shared with just executed. Pushes run detached from the request;
// failures are logged and dropped.
func (d *Dispatcher) notifyOwners(ctx context.Context, callerID uuid.UUID, accepted []AcceptedCommand, executedAt time.Time) {
	if d.Hub == nil || d.Senders == nil {
		return
	}

	sender, err := d.Senders.GetSender(ctx, callerID)
	if err != nil {
		d.Logger.Warn(ctx, "sender_lookup_failed", "owner notification skipped",
			slog.String("user_id", callerID.String()),
			slog.String("error", err.Error()),
		)
		metricsx.IncHubNotifyFailure()
		return
	}

	byOwner := make(map[uuid.UUID][]events.HubLogEntry)
	var owners []uuid.UUID
	for _, cmd := range accepted {
		if _, ok := byOwner[cmd.OwnerUserID]; !ok {
			owners = append(owners, cmd.OwnerUserID)
		}
		byOwner[cmd.OwnerUserID] = append(byOwner[cmd.OwnerUserID], events.HubLogEntry{
			ShockerID:    cmd.ShockerID,
			ShockerName:  cmd.ShockerName,
			Type:         string(cmd.Type),
			IntensityPct: cmd.IntensityPct,
			DurationMS:   cmd.DurationMS,
			ExecutedAt:   executedAt,
		})
	}

	timeout := d.NotifyTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	go func() {
		pushCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		var wg sync.WaitGroup
		for _, ownerID := range owners {
			wg.Add(1)
			go func(ownerID uuid.UUID, logs []events.HubLogEntry) {
				defer wg.Done()
				msg := events.HubLogMessage{Sender: sender, Logs: logs}
				if err := d.Hub.PushLogs(pushCtx, ownerID, msg); err != nil {
					d.Logger.Warn(pushCtx, "hub_notify_failed", "owner log push failed",
						slog.String("owner_id", ownerID.String()),
						slog.String("error", err.Error()),
					)
					metricsx.IncHubNotifyFailure()
				}
			}(ownerID, byOwner[ownerID])
		}
		wg.Wait()
	}()
}

func (d *Dispatcher) recordTelemetry(accepted []AcceptedCommand, executedAt time.Time) {
	if d.Telemetry == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, cmd := range accepted {
			if err := d.Telemetry.WriteCommandPoint(ctx, cmd.DeviceID.String(), cmd.ShockerID.String(), string(cmd.Type), cmd.IntensityPct, cmd.DurationMS, executedAt); err != nil {
				metricsx.IncInfluxWriteFailure()
				d.Logger.Warn(ctx, "telemetry_write_failed", "command telemetry dropped",
					slog.String("error", err.Error()),
				)
				return
			}
		}
	}()
}
