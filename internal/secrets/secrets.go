// Package secrets resolves broker credentials and webhook URLs from
// HashiCorp Vault, falling back to environment variables when Vault is
// disabled or a secret is absent.
package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/hashicorp/vault/api"
	"github.com/rs/zerolog/log"
)

// Config holds Vault connection settings.
type Config struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`
	SecretPath string `json:"secret_path"`
	TLSEnabled bool   `json:"tls_enabled"`
	CACert     string `json:"ca_cert"`
}

// BrokerCredentials authenticate the engine against the broker API.
type BrokerCredentials struct {
	APIToken  string `json:"api_token"`
	AccountID string `json:"account_id"`
}

// Client reads secrets from Vault KV v2 with an in-process cache.
type Client struct {
	client *api.Client
	config Config
	mu     sync.RWMutex
	cache  map[string]map[string]string
}

// NewClient creates a Vault client. With Vault disabled the client
// serves secrets from environment variables only.
func NewClient(cfg Config) (*Client, error) {
	c := &Client{
		config: cfg,
		cache:  make(map[string]map[string]string),
	}
	if !cfg.Enabled {
		return c, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	if cfg.TLSEnabled && cfg.CACert != "" {
		tlsConfig := &api.TLSConfig{CACert: cfg.CACert}
		if err := vaultConfig.ConfigureTLS(tlsConfig); err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
	}

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	c.client = client
	return c, nil
}

// IsEnabled returns whether Vault lookups are active.
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

// Broker returns the broker API credentials. Vault path
// {mount}/data/{secret_path}/broker with keys api_token and
// account_id; environment fallback BROKER_API_TOKEN and
// BROKER_ACCOUNT_ID.
func (c *Client) Broker(ctx context.Context) (*BrokerCredentials, error) {
	data, err := c.read(ctx, "broker")
	if err != nil {
		log.Warn().Err(err).Msg("vault broker lookup failed, trying environment")
	}

	creds := &BrokerCredentials{
		APIToken:  pick(data, "api_token", "BROKER_API_TOKEN"),
		AccountID: pick(data, "account_id", "BROKER_ACCOUNT_ID"),
	}
	if creds.APIToken == "" || creds.AccountID == "" {
		return nil, fmt.Errorf("broker credentials not found in vault or environment")
	}
	return creds, nil
}

// WebhookURL returns the webhook URL for a notification channel.
// Vault path {mount}/data/{secret_path}/webhooks with the channel name
// as key; environment fallback {CHANNEL}_WEBHOOK_URL.
func (c *Client) WebhookURL(ctx context.Context, channel string) string {
	data, err := c.read(ctx, "webhooks")
	if err != nil {
		log.Debug().Err(err).Str("channel", channel).Msg("vault webhook lookup failed, trying environment")
	}
	return pick(data, channel, strings.ToUpper(channel)+"_WEBHOOK_URL")
}

// read fetches one KV v2 secret, consulting the cache first.
func (c *Client) read(ctx context.Context, name string) (map[string]string, error) {
	c.mu.RLock()
	if cached, ok := c.cache[name]; ok {
		c.mu.RUnlock()
		return cached, nil
	}
	c.mu.RUnlock()

	if !c.config.Enabled {
		return nil, nil
	}

	path := fmt.Sprintf("%s/data/%s/%s", c.config.MountPath, c.config.SecretPath, name)
	secret, err := c.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read secret %s: %w", name, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("secret %s not found", name)
	}

	inner, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("secret %s has invalid format", name)
	}

	flat := make(map[string]string, len(inner))
	for k, v := range inner {
		if s, ok := v.(string); ok {
			flat[k] = s
		}
	}

	c.mu.Lock()
	c.cache[name] = flat
	c.mu.Unlock()

	return flat, nil
}

// Health checks the Vault connection and seal status.
func (c *Client) Health(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	health, err := c.client.Sys().HealthWithContext(ctx)
	if err != nil {
		return fmt.Errorf("vault health check failed: %w", err)
	}
	if health.Sealed {
		return fmt.Errorf("vault is sealed")
	}
	return nil
}

// pick returns the secret value if present, otherwise the environment
// variable.
func pick(data map[string]string, key, envVar string) string {
	if v, ok := data[key]; ok && v != "" {
		return v
	}
	return os.Getenv(envVar)
}
