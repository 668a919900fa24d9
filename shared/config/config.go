package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Problem struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type Config struct {
	Env              string
	ServiceName      string
	HTTPPort         int
	LogLevel         string
	RequestTimeoutMS int
	RequestTimeout   time.Duration

	OIDCIssuer      string
	OIDCAudience    string
	OIDCJWKSURL     string
	JWKSTTLSeconds  int
	JWTClockSkewSec int

	DatabaseURL      string
	DBMaxConns       int
	DBMinConns       int
	DBConnMaxIdleSec int
	DBConnMaxLifeSec int

	KafkaBrokers  []string
	KafkaClientID string
	KafkaGroupID  string
	KafkaRetryMax int
	KafkaWriteMS  int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	AsynqRedisAddr   string
	AsynqRedisPass   string
	AsynqRedisDB     int
	AsynqQueue       string
	AsynqConcurrency int

	OutboxScanSec     int
	OutboxBatchSize   int
	OutboxMaxAttempts int

	InfluxURL        string
	InfluxToken      string
	InfluxOrg        string
	InfluxBucket     string
	InfluxTimeoutMS  int
	TelemetryEnabled bool

	RateLimitRPS   float64
	RateLimitBurst int

	PairCodeTTLMin int

	LcgNodeID       string
	LcgFqdn         string
	LcgCountry      string
	LcgDeviceIDs    []string
	LcgOnlineTTLSec int

	OtelEnabled     bool
	OtelEndpoint    string
	OtelInsecure    bool
	OtelSampleRatio float64
}

func Load(serviceNameDefault string, httpPortDefault int) (Config, []Problem) {
	cfg := Config{
		Env:               strings.TrimSpace(os.Getenv("ENV")),
		ServiceName:       serviceNameDefault,
		HTTPPort:          httpPortDefault,
		LogLevel:          "info",
		RequestTimeoutMS:  30000,
		OIDCIssuer:        strings.TrimSpace(os.Getenv("OIDC_ISSUER")),
		OIDCAudience:      strings.TrimSpace(os.Getenv("OIDC_AUDIENCE")),
		OIDCJWKSURL:       strings.TrimSpace(os.Getenv("OIDC_JWKS_URL")),
		JWKSTTLSeconds:    300,
		JWTClockSkewSec:   60,
		DatabaseURL:       strings.TrimSpace(os.Getenv("DATABASE_URL")),
		DBMaxConns:        10,
		DBMinConns:        1,
		DBConnMaxIdleSec:  300,
		DBConnMaxLifeSec:  1800,
		KafkaBrokers:      parseCSV(os.Getenv("KAFKA_BROKERS")),
		KafkaClientID:     strings.TrimSpace(os.Getenv("KAFKA_CLIENT_ID")),
		KafkaGroupID:      strings.TrimSpace(os.Getenv("KAFKA_CONSUMER_GROUP")),
		KafkaRetryMax:     5,
		KafkaWriteMS:      5000,
		RedisAddr:         strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		AsynqRedisAddr:    strings.TrimSpace(os.Getenv("ASYNQ_REDIS_ADDR")),
		AsynqRedisPass:    os.Getenv("ASYNQ_REDIS_PASSWORD"),
		AsynqQueue:        "default",
		AsynqConcurrency:  10,
		OutboxScanSec:     5,
		OutboxBatchSize:   50,
		OutboxMaxAttempts: 20,
		InfluxURL:         strings.TrimSpace(os.Getenv("INFLUX_URL")),
		InfluxToken:       strings.TrimSpace(os.Getenv("INFLUX_TOKEN")),
		InfluxOrg:         strings.TrimSpace(os.Getenv("INFLUX_ORG")),
		InfluxBucket:      strings.TrimSpace(os.Getenv("INFLUX_BUCKET")),
		InfluxTimeoutMS:   5000,
		RateLimitRPS:      5,
		RateLimitBurst:    10,
		PairCodeTTLMin:    15,
		LcgNodeID:         strings.TrimSpace(os.Getenv("LCG_NODE_ID")),
		LcgFqdn:           strings.TrimSpace(os.Getenv("LCG_FQDN")),
		LcgCountry:        strings.TrimSpace(os.Getenv("LCG_COUNTRY")),
		LcgDeviceIDs:      parseCSV(os.Getenv("LCG_DEVICE_IDS")),
		LcgOnlineTTLSec:   65,
		OtelInsecure:      true,
		OtelSampleRatio:   1.0,
		OtelEndpoint:      strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
	}

	problems := make([]Problem, 0, 4)

	if v := strings.TrimSpace(os.Getenv("LOG_LEVEL")); v != "" {
		cfg.LogLevel = v
	}
	if v := strings.TrimSpace(os.Getenv("ASYNQ_QUEUE")); v != "" {
		cfg.AsynqQueue = v
	}
	readInt(&cfg.HTTPPort, "HTTP_PORT", &problems)
	readInt(&cfg.RequestTimeoutMS, "REQUEST_TIMEOUT_MS", &problems)
	readInt(&cfg.JWKSTTLSeconds, "JWKS_CACHE_TTL_SECONDS", &problems)
	readInt(&cfg.JWTClockSkewSec, "JWT_CLOCK_SKEW_SECONDS", &problems)
	readInt(&cfg.DBMaxConns, "DB_MAX_CONNS", &problems)
	readInt(&cfg.DBMinConns, "DB_MIN_CONNS", &problems)
	readInt(&cfg.DBConnMaxIdleSec, "DB_CONN_MAX_IDLE_SECONDS", &problems)
	readInt(&cfg.DBConnMaxLifeSec, "DB_CONN_MAX_LIFE_SECONDS", &problems)
	readInt(&cfg.KafkaRetryMax, "KAFKA_RETRY_MAX", &problems)
	readInt(&cfg.KafkaWriteMS, "KAFKA_WRITE_TIMEOUT_MS", &problems)
	readInt(&cfg.RedisDB, "REDIS_DB", &problems)
	readInt(&cfg.AsynqRedisDB, "ASYNQ_REDIS_DB", &problems)
	readInt(&cfg.AsynqConcurrency, "ASYNQ_CONCURRENCY", &problems)
	readInt(&cfg.OutboxScanSec, "OUTBOX_SCAN_SECONDS", &problems)
	readInt(&cfg.OutboxBatchSize, "OUTBOX_BATCH_SIZE", &problems)
	readInt(&cfg.OutboxMaxAttempts, "OUTBOX_MAX_ATTEMPTS", &problems)
	readInt(&cfg.InfluxTimeoutMS, "INFLUX_TIMEOUT_MS", &problems)
	readInt(&cfg.RateLimitBurst, "RATE_LIMIT_BURST", &problems)
	readInt(&cfg.PairCodeTTLMin, "PAIR_CODE_TTL_MINUTES", &problems)
	readInt(&cfg.LcgOnlineTTLSec, "LCG_ONLINE_TTL_SECONDS", &problems)
	readFloat(&cfg.RateLimitRPS, "RATE_LIMIT_RPS", &problems)
	readFloat(&cfg.OtelSampleRatio, "OTEL_SAMPLE_RATIO", &problems)
	readBool(&cfg.TelemetryEnabled, "TELEMETRY_ENABLED", &problems)
	readBool(&cfg.OtelEnabled, "OTEL_ENABLED", &problems)
	readBool(&cfg.OtelInsecure, "OTEL_INSECURE", &problems)

	// If issuer is set and no explicit JWKS URL is provided, default to issuer/.well-known/jwks.json.
	if cfg.OIDCIssuer != "" && cfg.OIDCJWKSURL == "" {
		cfg.OIDCJWKSURL = strings.TrimRight(cfg.OIDCIssuer, "/") + "/.well-known/jwks.json"
	}

	if cfg.Env == "" {
		cfg.Env = "dev"
		problems = append(problems, Problem{Field: "ENV", Message: "ENV is required"})
	}
	if cfg.HTTPPort <= 0 || cfg.HTTPPort > 65535 {
		problems = append(problems, Problem{Field: "HTTP_PORT", Message: "HTTP_PORT must be 1-65535"})
		cfg.HTTPPort = httpPortDefault
	}
	if cfg.RequestTimeoutMS <= 0 {
		problems = append(problems, Problem{Field: "REQUEST_TIMEOUT_MS", Message: "REQUEST_TIMEOUT_MS must be > 0"})
		cfg.RequestTimeoutMS = 30000
	}
	cfg.RequestTimeout = time.Duration(cfg.RequestTimeoutMS) * time.Millisecond
	if cfg.JWKSTTLSeconds <= 0 {
		problems = append(problems, Problem{Field: "JWKS_CACHE_TTL_SECONDS", Message: "JWKS_CACHE_TTL_SECONDS must be > 0"})
		cfg.JWKSTTLSeconds = 300
	}
	if cfg.JWTClockSkewSec < 0 {
		problems = append(problems, Problem{Field: "JWT_CLOCK_SKEW_SECONDS", Message: "JWT_CLOCK_SKEW_SECONDS must be >= 0"})
		cfg.JWTClockSkewSec = 60
	}
	if cfg.DBMaxConns <= 0 {
		problems = append(problems, Problem{Field: "DB_MAX_CONNS", Message: "DB_MAX_CONNS must be > 0"})
		cfg.DBMaxConns = 10
	}
	if cfg.DBMinConns < 0 {
		problems = append(problems, Problem{Field: "DB_MIN_CONNS", Message: "DB_MIN_CONNS must be >= 0"})
		cfg.DBMinConns = 1
	}
	if cfg.DBMinConns > cfg.DBMaxConns {
		problems = append(problems, Problem{Field: "DB_MIN_CONNS", Message: "DB_MIN_CONNS must be <= DB_MAX_CONNS"})
		cfg.DBMinConns = cfg.DBMaxConns
	}
	if cfg.OutboxScanSec <= 0 {
		problems = append(problems, Problem{Field: "OUTBOX_SCAN_SECONDS", Message: "OUTBOX_SCAN_SECONDS must be > 0"})
		cfg.OutboxScanSec = 5
	}
	if cfg.OutboxBatchSize <= 0 {
		problems = append(problems, Problem{Field: "OUTBOX_BATCH_SIZE", Message: "OUTBOX_BATCH_SIZE must be > 0"})
		cfg.OutboxBatchSize = 50
	}
	if cfg.OutboxMaxAttempts <= 0 {
		problems = append(problems, Problem{Field: "OUTBOX_MAX_ATTEMPTS", Message: "OUTBOX_MAX_ATTEMPTS must be > 0"})
		cfg.OutboxMaxAttempts = 20
	}
	if cfg.PairCodeTTLMin <= 0 {
		problems = append(problems, Problem{Field: "PAIR_CODE_TTL_MINUTES", Message: "PAIR_CODE_TTL_MINUTES must be > 0"})
		cfg.PairCodeTTLMin = 15
	}
	if cfg.LcgOnlineTTLSec <= 0 {
		problems = append(problems, Problem{Field: "LCG_ONLINE_TTL_SECONDS", Message: "LCG_ONLINE_TTL_SECONDS must be > 0"})
		cfg.LcgOnlineTTLSec = 65
	}
	if cfg.OtelSampleRatio < 0 || cfg.OtelSampleRatio > 1 {
		problems = append(problems, Problem{Field: "OTEL_SAMPLE_RATIO", Message: "OTEL_SAMPLE_RATIO must be within [0,1]"})
		cfg.OtelSampleRatio = 1.0
	}

	return cfg, problems
}

func readInt(dst *int, key string, problems *[]Problem) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		*problems = append(*problems, Problem{Field: key, Message: key + " must be an integer"})
		return
	}
	*dst = v
}

func readFloat(dst *float64, key string, problems *[]Problem) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		*problems = append(*problems, Problem{Field: key, Message: key + " must be a number"})
		return
	}
	*dst = v
}

func readBool(dst *bool, key string, problems *[]Problem) {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if raw == "" {
		return
	}
	switch raw {
	case "1", "true", "yes", "on":
		*dst = true
	case "0", "false", "no", "off":
		*dst = false
	default:
		*problems = append(*problems, Problem{Field: key, Message: key + " must be a boolean"})
	}
}

// ParseCSVEnv reads a comma separated environment variable.
func ParseCSVEnv(key string) []string {
	return parseCSV(os.Getenv(key))
}

func parseCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
