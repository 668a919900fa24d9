package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"stim-control-platform/shared/config"
	"stim-control-platform/shared/events"
	"stim-control-platform/shared/httpx"
	"stim-control-platform/shared/influxx"
	"stim-control-platform/shared/logx"
	"stim-control-platform/shared/metricsx"
	"stim-control-platform/shared/mqx"
	"stim-control-platform/shared/observability"
)

type statusResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Env     string `json:"env,omitempty"`
	Version string `json:"version,omitempty"`
}

func main() {
	cfg, readyProblems := config.Load("telemetry-sink", 8091)
	version := strings.TrimSpace(os.Getenv("VERSION"))
	logger := logx.New(cfg.ServiceName, cfg.Env, version, cfg.LogLevel)
	metricsx.Register()

	var shutdownTracer func(context.Context) error
	if cfg.OtelEnabled {
		var err error
		shutdownTracer, err = observability.InitTracer(context.Background(), observability.TracerConfig{
			ServiceName: cfg.ServiceName,
			Env:         cfg.Env,
			Endpoint:    cfg.OtelEndpoint,
			Insecure:    cfg.OtelInsecure,
			SampleRatio: cfg.OtelSampleRatio,
		})
		if err != nil {
			logger.Error(context.Background(), "otel_init_failed", "otel init failed",
				slog.String("error_code", "FAILED_PRECONDITION"),
				slog.String("error", err.Error()),
			)
		}
	}

	if len(cfg.KafkaBrokers) == 0 {
		readyProblems = append(readyProblems, config.Problem{Field: "KAFKA_BROKERS", Message: "KAFKA_BROKERS is required"})
	}
	if cfg.KafkaGroupID == "" {
		readyProblems = append(readyProblems, config.Problem{Field: "KAFKA_CONSUMER_GROUP", Message: "KAFKA_CONSUMER_GROUP is required"})
	}

	influx, err := influxx.New(cfg)
	if err != nil {
		readyProblems = append(readyProblems, config.Problem{Field: "INFLUX_URL", Message: err.Error()})
	}

	var reader *kafka.Reader
	if len(cfg.KafkaBrokers) > 0 && cfg.KafkaGroupID != "" {
		reader, err = mqx.NewConsumer(cfg, events.TopicDeviceTelemetry, cfg.KafkaGroupID)
		if err != nil {
			readyProblems = append(readyProblems, config.Problem{Field: "KAFKA_BROKERS", Message: err.Error()})
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	consumerDone := make(chan struct{})
	if len(readyProblems) == 0 {
		go func() {
			defer close(consumerDone)
			runSink(ctx, logger, cfg, reader, influx)
		}()
	} else {
		close(consumerDone)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, statusResponse{
			Status:  "ok",
			Service: cfg.ServiceName,
			Env:     cfg.Env,
			Version: version,
		})
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if len(readyProblems) > 0 {
			httpx.WriteError(
				w,
				r,
				http.StatusServiceUnavailable,
				"FAILED_PRECONDITION",
				"service not ready: invalid configuration",
				map[string]any{"problems": readyProblems},
			)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, statusResponse{
			Status:  "ready",
			Service: cfg.ServiceName,
			Env:     cfg.Env,
			Version: version,
		})
	})
	mux.Handle("GET /metrics", metricsx.Handler())

	notFound := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteError(w, r, http.StatusNotFound, "NOT_FOUND", "route not found", nil)
	})
	handler := httpx.WrapServeMux(mux, notFound)
	handler = httpx.WithTimeout(cfg.RequestTimeout, handler)
	handler = httpx.WithRequestID(handler)
	handler = httpx.WithRecover(logger, handler)
	handler = metricsx.Instrument(handler)
	handler = httpx.WithRequestLog(logger, httpx.RequestLogOptions{SkipPaths: map[string]bool{"/healthz": true, "/metrics": true}}, handler)
	handler = otelhttp.NewHandler(handler, "http")

	server := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(cfg.HTTPPort)),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "service_start", "starting service",
			slog.String("addr", server.Addr),
			slog.Int("http_port", cfg.HTTPPort),
			slog.String("log_level", cfg.LogLevel),
			slog.String("topic", events.TopicDeviceTelemetry),
		)
		errCh <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info(context.Background(), "shutdown_signal", "received signal", slog.String("signal", sig.String()))
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "server_failed", "server failed",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	}

	cancel()
	<-consumerDone
	if err := server.Shutdown(context.Background()); err != nil {
		logger.Error(context.Background(), "shutdown_failed", "shutdown failed",
			slog.String("error_code", "INTERNAL_ERROR"),
			slog.String("error", err.Error()),
		)
	}
	if reader != nil {
		_ = reader.Close()
	}
	if influx != nil {
		influx.Close()
	}
	if shutdownTracer != nil {
		_ = shutdownTracer(context.Background())
	}
	logger.Info(context.Background(), "service_stop", "service stopped")
}

// runSink drains the telemetry topic into influx. Malformed messages are
// logged and committed anyway; they would never become parseable on retry.
func runSink(ctx context.Context, logger logx.Logger, cfg config.Config, reader *kafka.Reader, influx *influxx.Client) {
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			logger.Error(ctx, "kafka_fetch_failed", "failed to fetch message",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("error", err.Error()),
			)
			time.Sleep(500 * time.Millisecond)
			continue
		}

		if err := writeTelemetry(ctx, influx, msg.Value); err != nil {
			metricsx.IncInfluxWriteFailure()
			logger.Error(ctx, "telemetry_write_failed", "failed to write telemetry point",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("error", err.Error()),
			)
			// Influx faults are retryable: leave the message uncommitted.
			if !errors.Is(err, errMalformedTelemetry) {
				time.Sleep(500 * time.Millisecond)
				continue
			}
		}
		if err := reader.CommitMessages(ctx, msg); err != nil {
			logger.Error(ctx, "kafka_commit_failed", "failed to commit message",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("error", err.Error()),
			)
		}
		stats := reader.Stats()
		metricsx.SetKafkaLag(stats.Topic, cfg.KafkaGroupID, stats.Lag)
	}
}

var errMalformedTelemetry = errors.New("malformed telemetry message")

func writeTelemetry(ctx context.Context, influx *influxx.Client, payload []byte) error {
	var envelope events.TelemetryEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return errMalformedTelemetry
	}

	fields := map[string]any{}
	var numeric map[string]float64
	if len(envelope.Payload) > 0 {
		if err := json.Unmarshal(envelope.Payload, &numeric); err == nil {
			for k, v := range numeric {
				fields[k] = v
			}
		}
	}
	if len(fields) == 0 {
		fields["count"] = int64(1)
	}

	return influx.WritePoint(ctx, "device_telemetry",
		map[string]string{
			"device_id":  envelope.DeviceID.String(),
			"event_type": envelope.EventType,
			"region":     envelope.Region,
		},
		fields,
		envelope.OccurredAt,
	)
}
