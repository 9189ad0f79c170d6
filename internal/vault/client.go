// Package vault fetches venue credentials from HashiCorp Vault. With Vault
// disabled the credentials come straight from config, which itself reads the
// environment.
package vault

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/vault/api"

	"deriv-bot/config"
)

// VenueCredentials is the secret material for the venue REST API.
type VenueCredentials struct {
	APIKeyID  string `json:"api_key_id"`
	APISecret string `json:"api_secret"`
}

// Client wraps the HashiCorp Vault client for a single operator's venue
// credentials.
type Client struct {
	client *api.Client
	config config.VaultConfig

	mu     sync.RWMutex
	cached *VenueCredentials
}

// NewClient creates a new Vault client. With Vault disabled the client is a
// pass-through for cached credentials set via StoreCredentials.
func NewClient(cfg config.VaultConfig) (*Client, error) {
	if !cfg.Enabled {
		return &Client{config: cfg}, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	if cfg.TLSEnabled && cfg.CACert != "" {
		tlsConfig := &api.TLSConfig{
			CACert: cfg.CACert,
		}
		if err := vaultConfig.ConfigureTLS(tlsConfig); err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
	}

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}

	client.SetToken(cfg.Token)

	return &Client{client: client, config: cfg}, nil
}

// StoreCredentials writes the venue credentials to Vault. With Vault disabled
// they are kept in memory only.
func (c *Client) StoreCredentials(ctx context.Context, creds VenueCredentials) error {
	c.mu.Lock()
	c.cached = &creds
	c.mu.Unlock()

	if !c.config.Enabled {
		return nil
	}

	secretData := map[string]interface{}{
		"data": map[string]interface{}{
			"api_key_id": creds.APIKeyID,
			"api_secret": creds.APISecret,
		},
	}

	if _, err := c.client.Logical().WriteWithContext(ctx, c.secretPath(), secretData); err != nil {
		return fmt.Errorf("failed to store venue credentials in vault: %w", err)
	}
	return nil
}

// GetCredentials retrieves the venue credentials, preferring the in-memory
// cache.
func (c *Client) GetCredentials(ctx context.Context) (*VenueCredentials, error) {
	c.mu.RLock()
	if c.cached != nil {
		cached := *c.cached
		c.mu.RUnlock()
		return &cached, nil
	}
	c.mu.RUnlock()

	if !c.config.Enabled {
		return nil, fmt.Errorf("venue credentials not found and vault is disabled")
	}

	secret, err := c.client.Logical().ReadWithContext(ctx, c.secretPath())
	if err != nil {
		return nil, fmt.Errorf("failed to read venue credentials from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("venue credentials not found")
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid secret format")
	}

	creds := &VenueCredentials{
		APIKeyID:  getString(data, "api_key_id"),
		APISecret: getString(data, "api_secret"),
	}
	if creds.APIKeyID == "" || creds.APISecret == "" {
		return nil, fmt.Errorf("venue credentials incomplete in vault")
	}

	c.mu.Lock()
	c.cached = creds
	c.mu.Unlock()

	return creds, nil
}

// ClearCache drops the in-memory copy, forcing a Vault read on next use.
func (c *Client) ClearCache() {
	c.mu.Lock()
	c.cached = nil
	c.mu.Unlock()
}

// IsEnabled returns whether Vault is enabled
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

// Health checks the Vault connection
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

func (c *Client) secretPath() string {
	return fmt.Sprintf("%s/data/%s", c.config.MountPath, c.config.SecretPath)
}

func getString(data map[string]interface{}, key string) string {
	if val, ok := data[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}
