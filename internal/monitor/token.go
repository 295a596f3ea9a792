package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"
	"time"
)

const (
	managementResource = "https://management.azure.com"
	tokenExpirySkew    = 2 * time.Minute
)

// TokenProvider supplies bearer tokens for the Azure management API.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticTokenProvider returns a fixed token, for tests and pre-acquired
// credentials.
type StaticTokenProvider string

func (p StaticTokenProvider) Token(ctx context.Context) (string, error) {
	return string(p), nil
}

// AzCLITokenProvider acquires tokens by shelling out to the Azure CLI, the
// same credential source the lab's setup scripts use. Tokens are cached until
// shortly before expiry.
type AzCLITokenProvider struct {
	path string
	exec func(ctx context.Context, name string, args ...string) ([]byte, error)
	now  func() time.Time

	mu     sync.Mutex
	token  string
	expiry time.Time
}

// NewAzCLITokenProvider locates the az binary on PATH, falling back to "az".
func NewAzCLITokenProvider() *AzCLITokenProvider {
	path := "az"
	if resolved, err := exec.LookPath("az"); err == nil {
		path = resolved
	}
	return &AzCLITokenProvider{
		path: path,
		exec: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).Output()
		},
		now: time.Now,
	}
}

type accessToken struct {
	AccessToken string `json:"accessToken"`
	ExpiresOn   string `json:"expiresOn"`
}

// Token returns a cached token or runs `az account get-access-token`.
func (p *AzCLITokenProvider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.token != "" && p.now().Before(p.expiry.Add(-tokenExpirySkew)) {
		return p.token, nil
	}

	out, err := p.exec(ctx, p.path,
		"account", "get-access-token", "--resource", managementResource, "--output", "json")
	if err != nil {
		return "", fmt.Errorf("az account get-access-token: %w", err)
	}
	var parsed accessToken
	if err := json.Unmarshal(out, &parsed); err != nil {
		return "", fmt.Errorf("parse az token output: %w", err)
	}
	if parsed.AccessToken == "" {
		return "", fmt.Errorf("az returned an empty access token")
	}

	p.token = parsed.AccessToken
	p.expiry = parseExpiry(parsed.ExpiresOn, p.now())
	return p.token, nil
}

// parseExpiry handles the timestamp formats az emits across versions. An
// unparseable value yields a short validity so the token is refreshed soon.
func parseExpiry(value string, now time.Time) time.Time {
	for _, layout := range []string{
		"2006-01-02 15:04:05.000000",
		"2006-01-02 15:04:05",
		time.RFC3339,
	} {
		if ts, err := time.ParseInLocation(layout, value, time.Local); err == nil {
			return ts
		}
	}
	return now.Add(5 * time.Minute)
}
