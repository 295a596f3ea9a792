package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"sync"
)

// Default values applied when neither the UI, the config file, nor the
// environment provides a field. Secrets have no defaults.
const (
	DefaultModel      = "gpt-4o-mini"
	DefaultAPIVersion = "2024-02-01"
	DefaultTPMLimit   = 500
)

// Effective is the merged dashboard configuration. A zero value for a field
// means "not set"; merging layers treat it as absent.
type Effective struct {
	GatewayURL     string `json:"gateway_url"`
	APIKey         string `json:"api_key"`
	ModelName      string `json:"model_name"`
	APIVersion     string `json:"api_version"`
	TPMLimit       int    `json:"tpm_limit"`
	SubscriptionID string `json:"subscription_id"`
	ResourceGroup  string `json:"resource_group"`
	APIMName       string `json:"apim_name"`
}

// IncompleteError reports which required fields are missing for an operation.
type IncompleteError struct {
	Missing []string
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("configuration incomplete: missing %s", strings.Join(e.Missing, ", "))
}

// ValidateProbe checks the fields required to call the gateway.
func (c Effective) ValidateProbe() error {
	var missing []string
	if c.GatewayURL == "" {
		missing = append(missing, "gateway_url")
	}
	if c.APIKey == "" {
		missing = append(missing, "api_key")
	}
	if c.ModelName == "" {
		missing = append(missing, "model_name")
	}
	if len(missing) > 0 {
		return &IncompleteError{Missing: missing}
	}
	return nil
}

// ValidateMetrics checks the fields required to query Azure Monitor.
func (c Effective) ValidateMetrics() error {
	var missing []string
	if c.SubscriptionID == "" {
		missing = append(missing, "subscription_id")
	}
	if c.ResourceGroup == "" {
		missing = append(missing, "resource_group")
	}
	if c.APIMName == "" {
		missing = append(missing, "apim_name")
	}
	if len(missing) > 0 {
		return &IncompleteError{Missing: missing}
	}
	return nil
}

// Masked returns a copy safe for display: all but the last four characters of
// the API key are replaced.
func (c Effective) Masked() Effective {
	if n := len(c.APIKey); n > 4 {
		c.APIKey = strings.Repeat("*", n-4) + c.APIKey[n-4:]
	} else if n > 0 {
		c.APIKey = strings.Repeat("*", n)
	}
	return c
}

// Resolver merges configuration layers and owns the JSON config file.
type Resolver struct {
	path   string
	logger *slog.Logger
	mu     sync.Mutex
}

// NewResolver builds a resolver persisting to the given file path.
func NewResolver(path string, logger *slog.Logger) *Resolver {
	return &Resolver{path: path, logger: logger}
}

// Resolve merges, highest precedence first: the supplied overrides (UI-entered
// values), the config file, process environment, built-in defaults. The result
// is normalized; an invalid gateway URL is rejected.
func (r *Resolver) Resolve(overrides Effective) (Effective, error) {
	cfg := defaults()
	merge(&cfg, fromEnv())
	if file, ok := r.readFile(); ok {
		merge(&cfg, file)
	}
	merge(&cfg, overrides)
	return normalize(cfg)
}

// Save resolves overrides against the existing layers and persists the merged
// result to the config file, overwriting it.
func (r *Resolver) Save(overrides Effective) (Effective, error) {
	cfg, err := r.Resolve(overrides)
	if err != nil {
		return Effective{}, err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return Effective{}, fmt.Errorf("encode config: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := os.WriteFile(r.path, append(data, '\n'), 0o600); err != nil {
		return Effective{}, fmt.Errorf("write config file: %w", err)
	}
	return cfg, nil
}

// Reset removes the config file, returning resolution to env and defaults.
func (r *Resolver) Reset() (Effective, error) {
	r.mu.Lock()
	if err := os.Remove(r.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		r.mu.Unlock()
		return Effective{}, fmt.Errorf("remove config file: %w", err)
	}
	r.mu.Unlock()
	return r.Resolve(Effective{})
}

func (r *Resolver) readFile() (Effective, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	data, err := os.ReadFile(r.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) && r.logger != nil {
			r.logger.Warn("config file unreadable", "path", r.path, "error", err)
		}
		return Effective{}, false
	}
	var cfg Effective
	if err := json.Unmarshal(data, &cfg); err != nil {
		if r.logger != nil {
			r.logger.Warn("config file malformed, ignoring", "path", r.path, "error", err)
		}
		return Effective{}, false
	}
	return cfg, true
}

func defaults() Effective {
	return Effective{
		ModelName:  DefaultModel,
		APIVersion: DefaultAPIVersion,
		TPMLimit:   DefaultTPMLimit,
	}
}

func fromEnv() Effective {
	cfg := Effective{
		GatewayURL:     os.Getenv("APIM_GATEWAY_URL"),
		APIKey:         os.Getenv("APIM_API_KEY"),
		ModelName:      os.Getenv("OPENAI_MODEL"),
		APIVersion:     os.Getenv("OPENAI_API_VERSION"),
		SubscriptionID: os.Getenv("AZURE_SUBSCRIPTION_ID"),
		ResourceGroup:  os.Getenv("AZURE_RESOURCE_GROUP"),
		APIMName:       os.Getenv("AZURE_APIM_NAME"),
	}
	if v := os.Getenv("TPM_LIMIT"); v != "" {
		var limit int
		if _, err := fmt.Sscanf(v, "%d", &limit); err == nil && limit > 0 {
			cfg.TPMLimit = limit
		}
	}
	return cfg
}

// merge copies set fields of src over dst.
func merge(dst *Effective, src Effective) {
	if src.GatewayURL != "" {
		dst.GatewayURL = src.GatewayURL
	}
	if src.APIKey != "" {
		dst.APIKey = src.APIKey
	}
	if src.ModelName != "" {
		dst.ModelName = src.ModelName
	}
	if src.APIVersion != "" {
		dst.APIVersion = src.APIVersion
	}
	if src.TPMLimit > 0 {
		dst.TPMLimit = src.TPMLimit
	}
	if src.SubscriptionID != "" {
		dst.SubscriptionID = src.SubscriptionID
	}
	if src.ResourceGroup != "" {
		dst.ResourceGroup = src.ResourceGroup
	}
	if src.APIMName != "" {
		dst.APIMName = src.APIMName
	}
}

func normalize(cfg Effective) (Effective, error) {
	cfg.GatewayURL = strings.TrimRight(strings.TrimSpace(cfg.GatewayURL), "/")
	if cfg.GatewayURL != "" {
		parsed, err := url.Parse(cfg.GatewayURL)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			return Effective{}, fmt.Errorf("invalid gateway URL %q", cfg.GatewayURL)
		}
	}
	return cfg, nil
}
