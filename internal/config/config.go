package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the dispatch engine.
type Config struct {
	HTTP     HTTPConfig
	MongoDB  MongoDBConfig
	Redis    RedisConfig
	NATS     NATSConfig
	Agent    AgentConfig
	Dispatch DispatchConfig
	Callback CallbackConfig
	Secrets  SecretsConfig
	Leader   LeaderConfig

	DataDir string
	DevMode bool
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port        int
	CORSOrigins []string
	// AppURL is this service's externally reachable base URL, used to build
	// the callback URL handed to the agent provider on dispatch.
	AppURL string
}

// MongoDBConfig holds MongoDB connection configuration (Durable Store).
type MongoDBConfig struct {
	URI      string
	Database string
}

// RedisConfig holds Redis connection configuration (Queue Store).
type RedisConfig struct {
	URL string
}

// NATSConfig holds NATS configuration (Event Bus transport).
type NATSConfig struct {
	// Embedded runs an in-process NATS server instead of dialing URL.
	Embedded bool
	URL      string
	DataDir  string
}

// AgentConfig holds the outbound Agent Provider client configuration.
type AgentConfig struct {
	ProviderURL string
	// WebhookSecret and ProviderAPIKey may arrive here from a plain env var
	// or, when Secrets.Provider names a secret manager, be overwritten by
	// ResolveSecrets after Load returns (spec §1.2).
	WebhookSecret      string
	ProviderAPIKey     string
	RequestTimeout     time.Duration
	MaxRetries         int
	RateLimitPerSecond float64
	RateLimitBurst     int
}

// DispatchConfig holds the batching/dispatch tuning knobs from spec §6.
type DispatchConfig struct {
	MaxPOsPerBatch           int
	BatchProcessingChunkSize int
	QueuePollInterval        time.Duration
	MaxConcurrentCalls       int
	MaxAttempts              int
	SupplierRequeueDelay     time.Duration
	StaleProcessingThreshold time.Duration
	BusinessHoursStart       int
	BusinessHoursEnd         int
	BusinessTimezone         string
	ResetConfirmToken        string
}

// CallbackConfig holds the callback scheduler's sweep tuning knobs, kept
// separate from DispatchConfig since the two poll loops scale independently
// (spec §6's callback scheduler runs far less often than the dispatcher).
type CallbackConfig struct {
	PollInterval time.Duration
	BatchSize    int64
}

// SecretsConfig selects where runtime secrets (webhook secret, provider API
// key) are sourced from.
type SecretsConfig struct {
	// Provider is one of "env", "aws-sm", "gcp-sm", "vault", "encrypted".
	Provider string
	AWS      AWSSecretsConfig
	GCP      GCPSecretsConfig
	Vault    VaultSecretsConfig
}

type AWSSecretsConfig struct {
	Region   string
	SecretID string
}

type GCPSecretsConfig struct {
	ProjectID string
	SecretID  string
}

type VaultSecretsConfig struct {
	Address string
	Path    string
}

// LeaderConfig holds leader election configuration for the Dispatcher and
// Callback Scheduler poll loops.
type LeaderConfig struct {
	Enabled         bool
	InstanceID      string
	TTL             time.Duration
	RefreshInterval time.Duration
}

// Load loads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		HTTP: HTTPConfig{
			Port:        getEnvInt("HTTP_PORT", 8080),
			CORSOrigins: getEnvSlice("CORS_ORIGINS", []string{"http://localhost:4200"}),
			AppURL:      getEnv("APP_URL", "http://localhost:8080"),
		},

		MongoDB: MongoDBConfig{
			URI:      getEnv("DATABASE_URL", "mongodb://localhost:27017/?replicaSet=rs0&directConnection=true"),
			Database: getEnv("MONGODB_DATABASE", "poresolve"),
		},

		Redis: RedisConfig{
			URL: getEnv("QUEUE_STORE_URL", "redis://localhost:6379/0"),
		},

		NATS: NATSConfig{
			Embedded: getEnvBool("NATS_EMBEDDED", true),
			URL:      getEnv("NATS_URL", "nats://localhost:4222"),
			DataDir:  getEnv("NATS_DATA_DIR", "./data/nats"),
		},

		Agent: AgentConfig{
			ProviderURL:        getEnv("AGENT_PROVIDER_URL", ""),
			WebhookSecret:      getEnv("AGENT_WEBHOOK_SECRET", ""),
			ProviderAPIKey:     getEnv("AGENT_PROVIDER_API_KEY", ""),
			RequestTimeout:     getEnvDuration("AGENT_PROVIDER_TIMEOUT", 30*time.Second),
			MaxRetries:         getEnvInt("AGENT_PROVIDER_MAX_RETRIES", 2),
			RateLimitPerSecond: getEnvFloat("AGENT_PROVIDER_RATE_LIMIT", 5),
			RateLimitBurst:     getEnvInt("AGENT_PROVIDER_RATE_BURST", 10),
		},

		Dispatch: DispatchConfig{
			MaxPOsPerBatch:           getEnvInt("MAX_POS_PER_BATCH", 10),
			BatchProcessingChunkSize: getEnvInt("BATCH_PROCESSING_CHUNK_SIZE", 50),
			MaxConcurrentCalls:       getEnvInt("MAX_CONCURRENT_CALLS", 5),
			MaxAttempts:              getEnvInt("MAX_BATCH_ATTEMPTS", 5),
			SupplierRequeueDelay:     getEnvDuration("SUPPLIER_REQUEUE_DELAY", 30*time.Second),
			StaleProcessingThreshold: getEnvDuration("STALE_PROCESSING_THRESHOLD", 20*time.Minute),
			BusinessHoursStart:       getEnvInt("BUSINESS_HOURS_START", 8),
			BusinessHoursEnd:         getEnvInt("BUSINESS_HOURS_END", 18),
			BusinessTimezone:         getEnv("BUSINESS_TIMEZONE", "America/Chicago"),
			ResetConfirmToken:        getEnv("RESET_CONFIRM_TOKEN", ""),
		},

		Callback: CallbackConfig{
			PollInterval: getEnvDuration("CALLBACK_POLL_INTERVAL", 60*time.Second),
			BatchSize:    int64(getEnvInt("CALLBACK_BATCH_SIZE", 100)),
		},

		Secrets: SecretsConfig{
			Provider: getEnv("SECRETS_PROVIDER", "env"),
			AWS: AWSSecretsConfig{
				Region:   getEnv("AWS_REGION", "us-east-1"),
				SecretID: getEnv("AWS_SECRETS_ID", ""),
			},
			GCP: GCPSecretsConfig{
				ProjectID: getEnv("GCP_PROJECT_ID", ""),
				SecretID:  getEnv("GCP_SECRETS_ID", ""),
			},
			Vault: VaultSecretsConfig{
				Address: getEnv("VAULT_ADDR", ""),
				Path:    getEnv("VAULT_SECRETS_PATH", ""),
			},
		},

		Leader: LeaderConfig{
			Enabled:         getEnvBool("LEADER_ELECTION_ENABLED", true),
			InstanceID:      getEnv("HOSTNAME", ""),
			TTL:             getEnvDuration("LEADER_TTL", 30*time.Second),
			RefreshInterval: getEnvDuration("LEADER_REFRESH_INTERVAL", 10*time.Second),
		},

		DataDir: getEnv("DATA_DIR", "./data"),
		DevMode: getEnvBool("PORESOLVE_DEV", false),
	}

	// QUEUE_POLL_INTERVAL_MS is specified in milliseconds per spec §6.
	cfg.Dispatch.QueuePollInterval = time.Duration(getEnvInt("QUEUE_POLL_INTERVAL_MS", 5000)) * time.Millisecond

	return cfg, nil
}

// Helper functions for environment variable parsing

func getEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, ok := os.LookupEnv(key); ok {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value, ok := os.LookupEnv(key); ok {
		return strings.Split(value, ",")
	}
	return defaultValue
}
