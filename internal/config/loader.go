package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// TOMLConfig represents the subset of Config that ops teams pin with a
// static defaults file, layered underneath environment variable overrides.
type TOMLConfig struct {
	HTTP     TOMLHTTPConfig     `toml:"http"`
	MongoDB  TOMLMongoDBConfig  `toml:"mongodb"`
	Redis    TOMLRedisConfig    `toml:"redis"`
	NATS     TOMLNATSConfig     `toml:"nats"`
	Dispatch TOMLDispatchConfig `toml:"dispatch"`
	DataDir  string             `toml:"data_dir"`
	DevMode  bool               `toml:"dev_mode"`
}

type TOMLHTTPConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	AppURL      string   `toml:"app_url"`
}

type TOMLMongoDBConfig struct {
	URI      string `toml:"uri"`
	Database string `toml:"database"`
}

type TOMLRedisConfig struct {
	URL string `toml:"url"`
}

type TOMLNATSConfig struct {
	Embedded bool   `toml:"embedded"`
	URL      string `toml:"url"`
	DataDir  string `toml:"data_dir"`
}

type TOMLDispatchConfig struct {
	MaxPOsPerBatch           int `toml:"max_pos_per_batch"`
	BatchProcessingChunkSize int `toml:"batch_processing_chunk_size"`
	MaxConcurrentCalls       int `toml:"max_concurrent_calls"`
	MaxAttempts              int `toml:"max_attempts"`
}

// ConfigPaths lists the paths to search for a static config file.
var ConfigPaths = []string{
	"config.toml",
	"poresolve.toml",
	"./config/config.toml",
	"/etc/poresolve/config.toml",
}

// LoadFromFile loads the static defaults layer from a TOML file.
func LoadFromFile(path string) (*Config, error) {
	var tc TOMLConfig
	if _, err := toml.DecodeFile(path, &tc); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg, _ := Load()
	if tc.HTTP.Port != 0 {
		cfg.HTTP.Port = tc.HTTP.Port
	}
	if len(tc.HTTP.CORSOrigins) > 0 {
		cfg.HTTP.CORSOrigins = tc.HTTP.CORSOrigins
	}
	if tc.HTTP.AppURL != "" {
		cfg.HTTP.AppURL = tc.HTTP.AppURL
	}
	if tc.MongoDB.URI != "" {
		cfg.MongoDB.URI = tc.MongoDB.URI
	}
	if tc.MongoDB.Database != "" {
		cfg.MongoDB.Database = tc.MongoDB.Database
	}
	if tc.Redis.URL != "" {
		cfg.Redis.URL = tc.Redis.URL
	}
	if tc.NATS.URL != "" {
		cfg.NATS.URL = tc.NATS.URL
	}
	if tc.NATS.DataDir != "" {
		cfg.NATS.DataDir = tc.NATS.DataDir
	}
	cfg.NATS.Embedded = tc.NATS.Embedded || cfg.NATS.Embedded
	if tc.Dispatch.MaxPOsPerBatch != 0 {
		cfg.Dispatch.MaxPOsPerBatch = tc.Dispatch.MaxPOsPerBatch
	}
	if tc.Dispatch.BatchProcessingChunkSize != 0 {
		cfg.Dispatch.BatchProcessingChunkSize = tc.Dispatch.BatchProcessingChunkSize
	}
	if tc.Dispatch.MaxConcurrentCalls != 0 {
		cfg.Dispatch.MaxConcurrentCalls = tc.Dispatch.MaxConcurrentCalls
	}
	if tc.Dispatch.MaxAttempts != 0 {
		cfg.Dispatch.MaxAttempts = tc.Dispatch.MaxAttempts
	}
	if tc.DataDir != "" {
		cfg.DataDir = tc.DataDir
	}
	if tc.DevMode {
		cfg.DevMode = true
	}

	return cfg, nil
}

// LoadWithFile loads the static file (if present) as a base layer, then lets
// Load's environment-variable reads override every field the environment
// actually sets. Env vars always win; the TOML file only fills gaps a fresh
// checkout wouldn't otherwise have in non-secret defaults.
func LoadWithFile() (*Config, error) {
	envCfg, err := Load()
	if err != nil {
		return nil, err
	}

	configPath := os.Getenv("PORESOLVE_CONFIG")
	if configPath == "" {
		for _, path := range ConfigPaths {
			if _, err := os.Stat(path); err == nil {
				configPath = path
				break
			}
		}
	}
	if configPath == "" {
		return envCfg, nil
	}

	fileCfg, err := LoadFromFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
	}

	// Re-apply explicit env overrides on top of the file-seeded config so
	// an operator-set environment variable always wins.
	applyEnvOverrides(fileCfg)
	return fileCfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v, ok := os.LookupEnv("HTTP_PORT"); ok {
		if n, err := parseInt(v); err == nil {
			cfg.HTTP.Port = n
		}
	}
	if v, ok := os.LookupEnv("DATABASE_URL"); ok {
		cfg.MongoDB.URI = v
	}
	if v, ok := os.LookupEnv("QUEUE_STORE_URL"); ok {
		cfg.Redis.URL = v
	}
	if v, ok := os.LookupEnv("AGENT_PROVIDER_URL"); ok {
		cfg.Agent.ProviderURL = v
	}
	if v, ok := os.LookupEnv("AGENT_WEBHOOK_SECRET"); ok {
		cfg.Agent.WebhookSecret = v
	}
	if v, ok := os.LookupEnv("AGENT_PROVIDER_API_KEY"); ok {
		cfg.Agent.ProviderAPIKey = v
	}
	if v, ok := os.LookupEnv("APP_URL"); ok {
		cfg.HTTP.AppURL = v
	}
}

func parseInt(s string) (int, error) {
	var n int
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}

// WriteExampleConfig writes an example configuration file.
func WriteExampleConfig(path string) error {
	example := `# poresolve engine static configuration
# Environment variables always override these settings.

[http]
port = 8080
cors_origins = ["http://localhost:4200"]
app_url = "http://localhost:8080"

[mongodb]
uri = "mongodb://localhost:27017/?replicaSet=rs0&directConnection=true"
database = "poresolve"

[redis]
url = "redis://localhost:6379/0"

[nats]
embedded = true
url = "nats://localhost:4222"
data_dir = "./data/nats"

[dispatch]
max_pos_per_batch = 10
batch_processing_chunk_size = 50
max_concurrent_calls = 5
max_attempts = 5

data_dir = "./data"
dev_mode = false
`

	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	return os.WriteFile(path, []byte(example), 0644)
}
