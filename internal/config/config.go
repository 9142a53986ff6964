package config

import (
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type Config struct {
	Env       string
	API       APIConfig
	Storage   StorageConfig
	Transform TransformConfig
	Queue     QueueConfig
	Worker    WorkerConfig
	Export    ExportConfig
	RateLimit RateLimitConfig
	Database  DatabaseConfig
	Telemetry TelemetryConfig
	Webhook   WebhookConfig
}

type APIConfig struct {
	Addr string
	// StrictClientErrors reports malformed edits and formats as 400 instead
	// of 500.
	StrictClientErrors bool
	CORSOrigins        []string
	ShutdownTimeout    time.Duration
}

type StorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

type TransformConfig struct {
	MaxConcurrency int
	Timeout        time.Duration
}

type QueueConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Name          string
}

func (q QueueConfig) RedisClientOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     q.RedisAddr,
		Password: q.RedisPassword,
		DB:       q.RedisDB,
	}
}

type WorkerConfig struct {
	Concurrency int
	MetricsAddr string
}

type ExportConfig struct {
	// Bucket receives exported renditions. Empty disables exports.
	Bucket     string
	WebhookURL string
}

func (e ExportConfig) Enabled() bool {
	return e.Bucket != ""
}

type RateLimitConfig struct {
	Enabled  bool
	Capacity int
	Window   time.Duration
	// Token prices per request kind.
	PassThroughCost int64
	TransformCost   int64
	ExportCost      int64
}

type DatabaseConfig struct {
	// DSN selects the postgres transform log. Empty keeps it in memory.
	DSN string
	// MemoryRecords caps the in-memory log.
	MemoryRecords int
}

type TelemetryConfig struct {
	ServiceName  string
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
	SampleRatio  float64
}

type WebhookConfig struct {
	SigningSecret  string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Load reads the configuration from the environment, after merging a .env
// file in the working directory when one exists.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Env: strings.ToLower(env("APP_ENV", "production")),
		API: APIConfig{
			Addr:               env("API_ADDR", ":8080"),
			StrictClientErrors: envBool("STRICT_CLIENT_ERRORS", false),
			CORSOrigins:        envList("CORS_ALLOWED_ORIGINS", []string{"*"}),
			ShutdownTimeout:    envDuration("API_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Storage: StorageConfig{
			Endpoint:  env("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey: env("MINIO_ACCESS_KEY", "minioadmin"),
			SecretKey: env("MINIO_SECRET_KEY", "minioadmin"),
			Region:    env("MINIO_REGION", "us-east-1"),
			UseSSL:    envBool("MINIO_USE_SSL", false),
		},
		Transform: TransformConfig{
			MaxConcurrency: envInt("TRANSFORM_MAX_CONCURRENCY", max(1, runtime.NumCPU())),
			Timeout:        envDuration("TRANSFORM_TIMEOUT", 30*time.Second),
		},
		Queue: QueueConfig{
			RedisAddr:     env("REDIS_ADDR", "localhost:6379"),
			RedisPassword: env("REDIS_PASSWORD", ""),
			RedisDB:       envInt("REDIS_DB", 0),
			Name:          env("ASYNC_QUEUE", "default"),
		},
		Worker: WorkerConfig{
			Concurrency: envInt("WORKER_CONCURRENCY", max(2, runtime.NumCPU())),
			MetricsAddr: env("WORKER_METRICS_ADDR", ":9091"),
		},
		Export: ExportConfig{
			Bucket:     env("EXPORT_BUCKET", ""),
			WebhookURL: env("EXPORT_WEBHOOK_URL", ""),
		},
		RateLimit: RateLimitConfig{
			Enabled:  envBool("RATE_LIMIT_ENABLED", false),
			Capacity: envInt("RATE_LIMIT_CAPACITY", 120),
			Window:   envDuration("RATE_LIMIT_WINDOW", time.Minute),

			PassThroughCost: int64(envInt("RATE_LIMIT_PASSTHROUGH_COST", 1)),
			TransformCost:   int64(envInt("RATE_LIMIT_TRANSFORM_COST", 4)),
			ExportCost:      int64(envInt("RATE_LIMIT_EXPORT_COST", 8)),
		},
		Database: DatabaseConfig{
			DSN:           env("POSTGRES_DSN", ""),
			MemoryRecords: envInt("TRANSFORM_LOG_MEMORY_RECORDS", 10000),
		},
		Telemetry: TelemetryConfig{
			ServiceName:  env("OTEL_SERVICE_NAME", "imagehandler"),
			Exporter:     env("OTEL_TRACES_EXPORTER", "none"),
			OTLPEndpoint: env("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			OTLPInsecure: envBool("OTEL_EXPORTER_OTLP_INSECURE", true),
			SampleRatio:  envFloat("OTEL_TRACES_SAMPLE_RATIO", 1),
		},
		Webhook: WebhookConfig{
			SigningSecret:  env("WEBHOOK_SIGNING_SECRET", ""),
			Timeout:        envDuration("WEBHOOK_TIMEOUT", 10*time.Second),
			MaxAttempts:    envInt("WEBHOOK_MAX_ATTEMPTS", 3),
			InitialBackoff: envDuration("WEBHOOK_INITIAL_BACKOFF", time.Second),
			MaxBackoff:     envDuration("WEBHOOK_MAX_BACKOFF", 10*time.Second),
		},
	}
}

// Warnings lists settings that load but do not behave as an operator would
// expect.
func (c Config) Warnings() []string {
	var out []string
	if c.Export.Enabled() && c.Database.DSN == "" {
		out = append(out, "EXPORT_BUCKET is set without POSTGRES_DSN: the api and worker keep separate in-memory transform logs, so GET /exports/{id} stays queued")
	}
	return out
}

// NewLogger returns a development logger for local environments and a JSON
// production logger otherwise.
func NewLogger(appEnv string) (*zap.Logger, error) {
	switch strings.ToLower(appEnv) {
	case "local", "dev", "development":
		return zap.NewDevelopment()
	default:
		return zap.NewProduction()
	}
}

func env(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	return value
}

func envInt(key string, fallback int) int {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envFloat(key string, fallback float64) float64 {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envDuration(key string, fallback time.Duration) time.Duration {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envList(key string, fallback []string) []string {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
