// Package vault retrieves application secrets from HashiCorp Vault and
// validates CRM credentials against them. The provider is treated as
// possibly unavailable: every lookup failure makes the caller fail closed.
package vault

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	vaultapi "github.com/hashicorp/vault/api"
)

// ErrSecretNotFound is returned when the path or key does not exist.
var ErrSecretNotFound = errors.New("secret not found")

// Config holds Vault connection settings.
type Config struct {
	Address string
	Token   string
	// Mount is the KV v2 mount point, "secret" by default.
	Mount string
	// Environment selects the per-environment secret paths
	// (jamf-bootstrap-<env>, jamf-pro-<env>).
	Environment string
	Timeout     time.Duration
}

// Client reads KV v2 secrets.
type Client struct {
	kv          *vaultapi.KVv2
	sys         *vaultapi.Sys
	environment string
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.Address == "" {
		return nil, errors.New("vault address is required")
	}

	apiConfig := vaultapi.DefaultConfig()
	apiConfig.Address = cfg.Address
	if cfg.Timeout > 0 {
		apiConfig.Timeout = cfg.Timeout
	}

	client, err := vaultapi.NewClient(apiConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	if cfg.Token != "" {
		client.SetToken(cfg.Token)
	}

	mount := cfg.Mount
	if mount == "" {
		mount = "secret"
	}
	environment := cfg.Environment
	if environment == "" {
		environment = "dev"
	}

	return &Client{
		kv:          client.KVv2(mount),
		sys:         client.Sys(),
		environment: environment,
	}, nil
}

// GetSecret reads one key from a KV v2 secret. An empty key returns an
// error; use GetSecretData for whole-secret reads.
func (c *Client) GetSecret(ctx context.Context, path, key string) (string, error) {
	data, err := c.GetSecretData(ctx, path)
	if err != nil {
		return "", err
	}

	value, ok := data[key]
	if !ok {
		return "", fmt.Errorf("%w: key %q at %s", ErrSecretNotFound, key, path)
	}

	str, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("secret %s/%s is not a string", path, key)
	}
	return str, nil
}

// GetSecretData reads the full data map of a KV v2 secret.
func (c *Client) GetSecretData(ctx context.Context, path string) (map[string]any, error) {
	secret, err := c.kv.Get(ctx, path)
	if err != nil {
		if errors.Is(err, vaultapi.ErrSecretNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrSecretNotFound, path)
		}
		return nil, fmt.Errorf("failed to read secret %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("%w: %s", ErrSecretNotFound, path)
	}
	return secret.Data, nil
}

func (c *Client) bootstrapPath() string {
	return "jamf-bootstrap-" + c.environment
}

// EncryptionSecret returns the shared secret used to derive the payload
// encryption key.
func (c *Client) EncryptionSecret(ctx context.Context) (string, error) {
	return c.GetSecret(ctx, c.bootstrapPath(), "encryption_key")
}

// APISecret returns the secret CRM callers must present.
func (c *Client) APISecret(ctx context.Context) (string, error) {
	return c.GetSecret(ctx, c.bootstrapPath(), "api_secret")
}

// ValidateToken compares a presented token against the stored API secret.
// Any provider failure yields an error so callers reject the request
// rather than accepting it unauthenticated.
func (c *Client) ValidateToken(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}

	stored, err := c.APISecret(ctx)
	if err != nil {
		return false, err
	}
	if stored == "" {
		return false, nil
	}

	return subtle.ConstantTimeCompare([]byte(stored), []byte(token)) == 1, nil
}

// Health reports whether Vault is reachable and unsealed.
func (c *Client) Health(ctx context.Context) bool {
	health, err := c.sys.HealthWithContext(ctx)
	if err != nil {
		return false
	}
	return health.Initialized && !health.Sealed
}
