package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.poresolve.tech/internal/common/secrets"
)

// Secret keys the engine resolves through a configured secrets.Provider,
// namespaced under whatever prefix/path the provider backend applies.
const (
	secretKeyAgentWebhook  = "agent-webhook-secret"
	secretKeyAgentProvider = "agent-provider-api-key"
)

// ToSecretsConfig adapts the engine's top-level secrets selection into the
// shape the secrets package's provider factory expects. Region/project/path
// here come from the engine's own env vars (AWS_REGION, GCP_PROJECT_ID, ...);
// the secrets package also reads its own PORESOLVE_SECRETS_* overrides on top
// of whatever base we hand it, so operators can repoint a single provider
// knob without duplicating every field.
func (s SecretsConfig) ToSecretsConfig() *secrets.Config {
	cfg := secrets.LoadConfigFromEnv()
	cfg.Provider = secrets.ProviderType(s.Provider)

	if s.AWS.Region != "" {
		cfg.AWSRegion = s.AWS.Region
	}
	if s.GCP.ProjectID != "" {
		cfg.GCPProject = s.GCP.ProjectID
	}
	if s.Vault.Address != "" {
		cfg.VaultAddr = s.Vault.Address
	}
	if s.Vault.Path != "" {
		cfg.VaultPath = s.Vault.Path
	}

	return cfg
}

// ResolveSecrets overwrites cfg.Agent.WebhookSecret and cfg.Agent.ProviderAPIKey
// from a secret manager when cfg.Secrets.Provider names one (spec §1.2). A
// provider of "env" (the default) leaves the env-sourced values from Load
// untouched. A secret the backend doesn't have is not an error: the
// env-sourced default, if any, stands.
func ResolveSecrets(ctx context.Context, cfg *Config) error {
	if cfg.Secrets.Provider == "" || secrets.ProviderType(cfg.Secrets.Provider) == secrets.ProviderTypeEnv {
		return nil
	}

	provider, err := secrets.NewProvider(cfg.Secrets.ToSecretsConfig())
	if err != nil {
		return fmt.Errorf("init %s secrets provider: %w", cfg.Secrets.Provider, err)
	}

	if v, err := provider.Get(ctx, secretKeyAgentWebhook); err == nil {
		cfg.Agent.WebhookSecret = v
	} else if !errors.Is(err, secrets.ErrSecretNotFound) {
		return fmt.Errorf("resolve %s from %s: %w", secretKeyAgentWebhook, provider.Name(), err)
	} else {
		slog.Warn("Secret not found in provider, keeping env-sourced value", "key", secretKeyAgentWebhook, "provider", provider.Name())
	}

	if v, err := provider.Get(ctx, secretKeyAgentProvider); err == nil {
		cfg.Agent.ProviderAPIKey = v
	} else if !errors.Is(err, secrets.ErrSecretNotFound) {
		return fmt.Errorf("resolve %s from %s: %w", secretKeyAgentProvider, provider.Name(), err)
	} else {
		slog.Warn("Secret not found in provider, keeping env-sourced value", "key", secretKeyAgentProvider, "provider", provider.Name())
	}

	return nil
}
