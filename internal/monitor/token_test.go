package monitor

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestAzCLITokenProviderParsesAndCaches(t *testing.T) {
	calls := 0
	provider := &AzCLITokenProvider{
		path: "az",
		exec: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			calls++
			return []byte(`{"accessToken": "tok-abc", "expiresOn": "2026-08-24 12:00:00.000000"}`), nil
		},
		now: func() time.Time {
			return time.Date(2026, 8, 24, 10, 0, 0, 0, time.Local)
		},
	}

	token, err := provider.Token(context.Background())
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if token != "tok-abc" {
		t.Fatalf("token = %q", token)
	}

	// Second call inside the validity window hits the cache.
	if _, err := provider.Token(context.Background()); err != nil {
		t.Fatalf("token: %v", err)
	}
	if calls != 1 {
		t.Fatalf("az invoked %d times, want 1", calls)
	}
}

func TestAzCLITokenProviderRefreshesExpired(t *testing.T) {
	calls := 0
	current := time.Date(2026, 8, 24, 10, 0, 0, 0, time.Local)
	provider := &AzCLITokenProvider{
		path: "az",
		exec: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			calls++
			return []byte(`{"accessToken": "tok-abc", "expiresOn": "2026-08-24 10:30:00"}`), nil
		},
		now: func() time.Time { return current },
	}

	if _, err := provider.Token(context.Background()); err != nil {
		t.Fatalf("token: %v", err)
	}
	current = current.Add(29 * time.Minute) // inside the expiry skew
	if _, err := provider.Token(context.Background()); err != nil {
		t.Fatalf("token: %v", err)
	}
	if calls != 2 {
		t.Fatalf("az invoked %d times, want refresh near expiry", calls)
	}
}

func TestAzCLITokenProviderCommandFailure(t *testing.T) {
	provider := &AzCLITokenProvider{
		path: "az",
		exec: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return nil, errors.New("az not logged in")
		},
		now: time.Now,
	}
	if _, err := provider.Token(context.Background()); err == nil {
		t.Fatal("expected error when az fails")
	}
}

func TestParseExpiryFallback(t *testing.T) {
	now := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	got := parseExpiry("garbage", now)
	if !got.After(now) || got.Sub(now) > 10*time.Minute {
		t.Fatalf("fallback expiry = %v, want a short validity after now", got)
	}
}
