package metricsx

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	commandsAccepted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "control_commands_accepted_total",
			Help: "Total control commands accepted for dispatch.",
		},
	)
	commandsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "control_commands_rejected_total",
			Help: "Total control commands rejected, by reason.",
		},
		[]string{"reason"},
	)
	dispatchLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "control_dispatch_duration_seconds",
			Help:    "End-to-end dispatch latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)
	devicePublishFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "device_publish_failures_total",
			Help: "Total failures publishing control messages to the device channel.",
		},
	)
	hubNotifyFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_notify_failures_total",
			Help: "Total failures pushing log batches to owner sessions.",
		},
	)
	kafkaConsumerLag = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kafka_consumer_lag",
			Help: "Kafka consumer lag by topic.",
		},
		[]string{"topic", "group"},
	)
	influxWriteFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "influx_write_failures_total",
			Help: "Total InfluxDB write failures.",
		},
	)
	asynqQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "asynq_queue_depth",
			Help: "Asynq queue depth by queue.",
		},
		[]string{"queue"},
	)
)

func Register() {
	prometheus.MustRegister(httpRequests, httpLatency, commandsAccepted, commandsRejected, dispatchLatency, devicePublishFailures, hubNotifyFailures, kafkaConsumerLag, influxWriteFailures, asynqQueueDepth)
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &statusResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(lrw, r)
		status := strconv.Itoa(lrw.statusCode)
		httpRequests.WithLabelValues(r.Method, r.URL.Path, status).Inc()
		httpLatency.WithLabelValues(r.Method, r.URL.Path, status).Observe(time.Since(start).Seconds())
	})
}

func AddCommandsAccepted(n int) {
	if n > 0 {
		commandsAccepted.Add(float64(n))
	}
}

func IncCommandRejected(reason string) {
	commandsRejected.WithLabelValues(reason).Inc()
}

func ObserveDispatchLatency(d time.Duration) {
	dispatchLatency.Observe(d.Seconds())
}

func IncDevicePublishFailure() {
	devicePublishFailures.Inc()
}

func IncHubNotifyFailure() {
	hubNotifyFailures.Inc()
}

func SetKafkaLag(topic string, group string, lag int64) {
	kafkaConsumerLag.WithLabelValues(topic, group).Set(float64(lag))
}

func IncInfluxWriteFailure() {
	influxWriteFailures.Inc()
}

func SetAsynqQueueDepth(queue string, depth int) {
	asynqQueueDepth.WithLabelValues(queue).Set(float64(depth))
}

type statusResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusResponseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
