package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"stim-control-platform/lcg/internal/link"
	"stim-control-platform/shared/cachex"
	"stim-control-platform/shared/config"
	"stim-control-platform/shared/devstate"
	"stim-control-platform/shared/events"
	"stim-control-platform/shared/logx"
	"stim-control-platform/shared/metricsx"
	"stim-control-platform/shared/mqx"
	"stim-control-platform/shared/observability"
)

func main() {
	cfg, problems := config.Load("lcg", 8084)
	version := strings.TrimSpace(os.Getenv("VERSION"))
	logger := logx.New(cfg.ServiceName, cfg.Env, version, cfg.LogLevel)

	if cfg.LcgNodeID == "" {
		problems = append(problems, config.Problem{Field: "LCG_NODE_ID", Message: "LCG_NODE_ID is required"})
	}
	if cfg.LcgFqdn == "" {
		problems = append(problems, config.Problem{Field: "LCG_FQDN", Message: "LCG_FQDN is required"})
	}
	if cfg.RedisAddr == "" {
		problems = append(problems, config.Problem{Field: "REDIS_ADDR", Message: "REDIS_ADDR is required"})
	}
	if len(cfg.KafkaBrokers) == 0 {
		problems = append(problems, config.Problem{Field: "KAFKA_BROKERS", Message: "KAFKA_BROKERS is required"})
	}
	devices := make([]uuid.UUID, 0, len(cfg.LcgDeviceIDs))
	for _, raw := range cfg.LcgDeviceIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			problems = append(problems, config.Problem{Field: "LCG_DEVICE_IDS", Message: "LCG_DEVICE_IDS contains an invalid uuid"})
			break
		}
		devices = append(devices, id)
	}
	if len(devices) == 0 {
		problems = append(problems, config.Problem{Field: "LCG_DEVICE_IDS", Message: "LCG_DEVICE_IDS is required"})
	}
	if len(problems) > 0 {
		logger.Error(context.Background(), "config_invalid", "invalid config",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.Any("problems", problems),
		)
		os.Exit(1)
	}

	if cfg.OtelEnabled {
		if shutdown, err := observability.InitTracer(context.Background(), observability.TracerConfig{
			ServiceName: cfg.ServiceName,
			Env:         cfg.Env,
			Endpoint:    cfg.OtelEndpoint,
			Insecure:    cfg.OtelInsecure,
			SampleRatio: cfg.OtelSampleRatio,
		}); err == nil {
			defer func() { _ = shutdown(context.Background()) }()
		}
	}

	cache, err := cachex.New(cfg)
	if err != nil {
		logger.Error(context.Background(), "redis_init_failed", "redis init failed",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	defer cache.Close()

	// Each node consumes the whole control topic under its own group and
	// filters for the devices it terminates.
	groupID := "lcg-" + cfg.LcgNodeID
	reader, err := mqx.NewConsumer(cfg, events.TopicDeviceControl, groupID)
	if err != nil {
		logger.Error(context.Background(), "kafka_init_failed", "kafka reader init failed",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	defer reader.Close()

	presence := &link.Presence{
		KV: cache,
		Node: devstate.LcgNode{
			NodeID:  cfg.LcgNodeID,
			Fqdn:    cfg.LcgFqdn,
			Country: cfg.LcgCountry,
		},
		Devices: devices,
		TTL:     time.Duration(cfg.LcgOnlineTTLSec) * time.Second,
		Logger:  logger,
	}
	store := link.NewFrameStore(devices)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := presence.Register(ctx); err != nil {
		logger.Error(ctx, "presence_register_failed", "initial presence registration failed",
			slog.String("error_code", "INTERNAL_ERROR"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	go presence.Run(ctx)

	logger.Info(ctx, "lcg_start", "gateway node started",
		slog.String("node_id", cfg.LcgNodeID),
		slog.String("fqdn", cfg.LcgFqdn),
		slog.Int("devices", len(devices)),
		slog.String("group", groupID),
	)

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				break
			}
			logger.Error(ctx, "kafka_fetch_failed", "failed to fetch message",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("error", err.Error()),
			)
			time.Sleep(500 * time.Millisecond)
			continue
		}

		spanCtx, span := otel.Tracer("mqx").Start(ctx, "kafka.consume")
		span.SetAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", events.TopicDeviceControl),
		)
		handleControlMessage(spanCtx, logger, store, msg.Value)
		span.End()

		if err := reader.CommitMessages(ctx, msg); err != nil {
			logger.Error(ctx, "kafka_commit_failed", "failed to commit message",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("error", err.Error()),
			)
		}
		stats := reader.Stats()
		metricsx.SetKafkaLag(stats.Topic, groupID, stats.Lag)
	}

	logger.Info(context.Background(), "lcg_stop", "gateway node stopped")
}

func handleControlMessage(ctx context.Context, logger logx.Logger, store *link.FrameStore, payload []byte) {
	var msg events.ControlMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		logger.Error(ctx, "control_decode_failed", "failed to decode control message",
			slog.String("error_code", "INTERNAL_ERROR"),
			slog.String("error", err.Error()),
		)
		return
	}
	applied := store.Apply(msg, time.Now().UTC())
	if applied == 0 {
		return
	}
	logger.Info(ctx, "control_applied", "control frames applied",
		slog.String("device_id", msg.DeviceID.String()),
		slog.String("sender_id", msg.SenderID.String()),
		slog.Int("frames", applied),
	)
}
