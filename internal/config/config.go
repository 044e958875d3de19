package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is built once at startup and passed to component constructors.
// Nothing mutates it after Load returns.
type Config struct {
	Server      ServerConfig     `yaml:"server"`
	Database    DatabaseConfig   `yaml:"database"`
	Logging     LoggingConfig    `yaml:"logging"`
	Ingest      IngestConfig     `yaml:"ingest"`
	Reconciler  ReconcilerConfig `yaml:"reconciler"`
	Kafka       KafkaConfig      `yaml:"kafka"`
	Tracing     TracingConfig    `yaml:"tracing"`
	ServiceName string           `yaml:"service_name"`
	Environment string           `yaml:"environment"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type DatabaseConfig struct {
	URL            string `yaml:"url"`
	MaxConnections int    `yaml:"max_connections"`
	MigrationsPath string `yaml:"migrations_path"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type IngestConfig struct {
	// ExpectedDomain is the deployment's tenant domain. Event identifiers
	// whose namespace does not match are rejected; "*" accepts any domain.
	ExpectedDomain string `yaml:"expected_domain"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
	TempDir        string `yaml:"temp_dir"`
	RatePerMinute  int    `yaml:"rate_per_minute"`
}

type ReconcilerConfig struct {
	SweepInterval time.Duration `yaml:"sweep_interval"`
	GraceWindow   time.Duration `yaml:"grace_window"`
}

type KafkaConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Brokers       []string `yaml:"brokers"`
	RequestTopic  string   `yaml:"request_topic"`
	ResponseTopic string   `yaml:"response_topic"`
	GroupID       string   `yaml:"group_id"`
	BridgeSecret  string   `yaml:"bridge_secret"`
	ValidTopics   []string `yaml:"valid_topics"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	SampleRate   float64 `yaml:"sample_rate"`
}

// Load builds the configuration from an optional YAML file overlaid with
// environment variables. Env always wins so container deployments can
// override a baked-in file.
func Load(configPath string) (Config, error) {
	cfg := defaults()

	if configPath != "" {
		raw, err := os.ReadFile(configPath)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(&cfg)

	if cfg.Database.URL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.Ingest.ExpectedDomain == "" {
		return Config{}, fmt.Errorf("PF_EXPECTED_DOMAIN is required")
	}
	if cfg.Reconciler.SweepInterval <= 0 {
		return Config{}, fmt.Errorf("reconciler sweep interval must be positive")
	}
	if cfg.Reconciler.GraceWindow <= 0 {
		return Config{}, fmt.Errorf("reconciler grace window must be positive")
	}
	if cfg.Kafka.Enabled {
		if len(cfg.Kafka.Brokers) == 0 {
			return Config{}, fmt.Errorf("KAFKA_BROKERS is required when kafka is enabled")
		}
		if cfg.Kafka.BridgeSecret == "" {
			return Config{}, fmt.Errorf("PF_MQ_BRIDGE_SECRET is required when kafka is enabled")
		}
	}
	return cfg, nil
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database: DatabaseConfig{
			MaxConnections: 25,
			MigrationsPath: "internal/storage/postgres/migrations",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Ingest: IngestConfig{
			MaxUploadBytes: 64 << 20,
			TempDir:        os.TempDir(),
			RatePerMinute:  120,
		},
		Reconciler: ReconcilerConfig{
			SweepInterval: time.Minute,
			GraceWindow:   2 * time.Minute,
		},
		Kafka: KafkaConfig{
			RequestTopic:  "input-service-requests",
			ResponseTopic: "input-service-responses",
			GroupID:       "input-service",
		},
		Tracing: TracingConfig{
			Exporter:   "none",
			SampleRate: 1.0,
		},
		ServiceName: "input-service",
		Environment: "development",
	}
}

func applyEnv(cfg *Config) {
	cfg.Server.Host = getEnv("SERVER_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvInt("SERVER_PORT", cfg.Server.Port)

	cfg.Database.URL = getEnv("DATABASE_URL", cfg.Database.URL)
	cfg.Database.MaxConnections = getEnvInt("DATABASE_MAX_CONNECTIONS", cfg.Database.MaxConnections)
	cfg.Database.MigrationsPath = getEnv("DATABASE_MIGRATIONS_PATH", cfg.Database.MigrationsPath)

	cfg.Logging.Level = getEnv("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("LOG_FORMAT", cfg.Logging.Format)

	cfg.Ingest.ExpectedDomain = getEnv("PF_EXPECTED_DOMAIN", cfg.Ingest.ExpectedDomain)
	cfg.Ingest.MaxUploadBytes = getEnvInt64("PF_MAX_UPLOAD_BYTES", cfg.Ingest.MaxUploadBytes)
	cfg.Ingest.TempDir = getEnv("PF_TEMP_DIR", cfg.Ingest.TempDir)
	cfg.Ingest.RatePerMinute = getEnvInt("PF_INGEST_RATE_PER_MINUTE", cfg.Ingest.RatePerMinute)

	cfg.Reconciler.SweepInterval = getEnvDuration("RECONCILER_SWEEP_INTERVAL", cfg.Reconciler.SweepInterval)
	cfg.Reconciler.GraceWindow = getEnvDuration("RECONCILER_GRACE_WINDOW", cfg.Reconciler.GraceWindow)

	cfg.Kafka.Enabled = getEnvBool("KAFKA_ENABLED", cfg.Kafka.Enabled)
	cfg.Kafka.Brokers = getEnvList("KAFKA_BROKERS", cfg.Kafka.Brokers)
	cfg.Kafka.RequestTopic = getEnv("KAFKA_REQUEST_TOPIC", cfg.Kafka.RequestTopic)
	cfg.Kafka.ResponseTopic = getEnv("KAFKA_RESPONSE_TOPIC", cfg.Kafka.ResponseTopic)
	cfg.Kafka.GroupID = getEnv("KAFKA_GROUP_ID", cfg.Kafka.GroupID)
	cfg.Kafka.BridgeSecret = getEnv("PF_MQ_BRIDGE_SECRET", cfg.Kafka.BridgeSecret)
	cfg.Kafka.ValidTopics = getEnvList("PF_MQ_VALID_TOPICS", cfg.Kafka.ValidTopics)

	cfg.Tracing.Enabled = getEnvBool("TRACING_ENABLED", cfg.Tracing.Enabled)
	cfg.Tracing.Exporter = getEnv("TRACING_EXPORTER", cfg.Tracing.Exporter)
	cfg.Tracing.OTLPEndpoint = getEnv("TRACING_OTLP_ENDPOINT", cfg.Tracing.OTLPEndpoint)

	cfg.ServiceName = getEnv("SERVICE_NAME", cfg.ServiceName)
	cfg.Environment = getEnv("ENVIRONMENT", cfg.Environment)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvInt64(key string, fallback int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}
