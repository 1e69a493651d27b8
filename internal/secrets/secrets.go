// Package secrets resolves operator-managed secrets: prompt templates and
// provider API tokens. The backing store is pluggable so deployments can
// swap environment variables for a managed secret service.
package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/shiranui/newsdigest/internal/apperr"
	"github.com/shiranui/newsdigest/internal/logger"
	"github.com/shiranui/newsdigest/internal/summary"
)

// Store fetches a named secret string.
type Store interface {
	Get(ctx context.Context, name string) (string, error)
}

// EnvStore reads secrets from environment variables, using the secret name
// as the variable name.
type EnvStore struct{}

func (EnvStore) Get(_ context.Context, name string) (string, error) {
	value := os.Getenv(name)
	if value == "" {
		return "", fmt.Errorf("secret %s not set", name)
	}
	return value, nil
}

// FileStore reads secrets from files under a base directory, one file per
// secret name. Useful for mounted secret volumes.
type FileStore struct {
	Dir string
}

func (s FileStore) Get(_ context.Context, name string) (string, error) {
	data, err := os.ReadFile(s.Dir + "/" + name)
	if err != nil {
		return "", fmt.Errorf("reading secret %s: %w", name, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Cache memoizes successful lookups for the lifetime of the process. Secret
// rotation takes effect on restart.
type Cache struct {
	store  Store
	mu     sync.RWMutex
	values map[string]string
}

func NewCache(store Store) *Cache {
	return &Cache{store: store, values: make(map[string]string)}
}

func (c *Cache) Get(ctx context.Context, name string) (string, error) {
	c.mu.RLock()
	value, ok := c.values[name]
	c.mu.RUnlock()
	if ok {
		return value, nil
	}

	value, err := c.store.Get(ctx, name)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	c.values[name] = value
	c.mu.Unlock()
	logger.Debug("secret cached", "name", name)
	return value, nil
}

// LoadPromptConfig fetches and decodes the prompt template secret, stored as
// JSON with system_prompt and user_template fields.
func LoadPromptConfig(ctx context.Context, store Store, name string) (summary.PromptConfig, error) {
	if name == "" {
		return summary.PromptConfig{}, apperr.NewConfigError("prompt secret name must be configured")
	}
	raw, err := store.Get(ctx, name)
	if err != nil {
		return summary.PromptConfig{}, &apperr.ExternalServiceError{Service: "secrets", Err: fmt.Errorf("loading prompt secret: %w", err)}
	}

	var cfg summary.PromptConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return summary.PromptConfig{}, fmt.Errorf("decoding prompt secret %s: %w", name, err)
	}
	return cfg, nil
}

// ResolveAPIToken returns a provider API token. An inline token from config
// wins; otherwise the named secret is fetched, accepting either a bare token
// string or a JSON object with an api_token or token field.
func ResolveAPIToken(ctx context.Context, store Store, inline, secretName string) (string, error) {
	if token := strings.TrimSpace(inline); token != "" {
		return token, nil
	}
	if secretName == "" {
		return "", apperr.NewConfigError("API token must be configured inline or via a secret name")
	}

	raw, err := store.Get(ctx, secretName)
	if err != nil {
		return "", &apperr.ExternalServiceError{Service: "secrets", Err: fmt.Errorf("loading API token secret: %w", err)}
	}
	token := strings.TrimSpace(raw)
	if strings.HasPrefix(token, "{") {
		var parsed struct {
			APIToken string `json:"api_token"`
			Token    string `json:"token"`
		}
		if err := json.Unmarshal([]byte(token), &parsed); err == nil {
			if candidate := strings.TrimSpace(parsed.APIToken); candidate != "" {
				token = candidate
			} else if candidate := strings.TrimSpace(parsed.Token); candidate != "" {
				token = candidate
			}
		}
	}
	if token == "" {
		return "", &apperr.ExternalServiceError{Service: "secrets", Err: fmt.Errorf("API token secret %s is empty", secretName)}
	}
	return token, nil
}
