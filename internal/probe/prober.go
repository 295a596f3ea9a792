package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/odaibert/apim-token-monitor/internal/config"
	"github.com/odaibert/apim-token-monitor/internal/domain"
)

const (
	defaultTimeout  = 30 * time.Second
	probeMaxTokens  = 100
	remainingHeader = "x-ratelimit-remaining-tokens"
)

// Prober issues single chat-completion calls through the APIM gateway and
// classifies the raw HTTP outcome. It never retries; each call is one
// accounting unit against the token policy.
type Prober struct {
	client *http.Client
	logger *slog.Logger
	now    func() time.Time
}

// Option customises prober construction.
type Option func(*Prober)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(p *Prober) {
		if h != nil {
			p.client = h
		}
	}
}

// WithTimeout bounds each probe call.
func WithTimeout(d time.Duration) Option {
	return func(p *Prober) {
		if d > 0 {
			p.client.Timeout = d
		}
	}
}

// New constructs a Prober.
func New(logger *slog.Logger, opts ...Option) *Prober {
	p := &Prober{
		client: &http.Client{Timeout: defaultTimeout},
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
}

type chatResponse struct {
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// Probe sends one chat-completion request and maps the result: 2xx is
// success, 429 is throttled (capturing Retry-After), anything else including
// transport failure is an error. Transport failures carry HTTP status 0.
func (p *Prober) Probe(ctx context.Context, cfg config.Effective, prompt string) domain.ProbeResult {
	start := p.now()
	result := domain.ProbeResult{Timestamp: start.UTC()}

	endpoint := fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		cfg.GatewayURL, cfg.ModelName, cfg.APIVersion)
	body, err := json.Marshal(chatRequest{
		Messages:  []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens: probeMaxTokens,
	})
	if err != nil {
		return p.transportFailure(result, start, fmt.Errorf("encode request: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return p.transportFailure(result, start, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", cfg.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return p.transportFailure(result, start, err)
	}
	defer resp.Body.Close()

	result.HTTPStatus = resp.StatusCode
	result.LatencyMS = p.now().Sub(start).Milliseconds()
	result.Outcome = domain.ClassifyStatus(resp.StatusCode)

	switch result.Outcome {
	case domain.OutcomeSuccess:
		var payload chatResponse
		if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil {
			result.Tokens = payload.Usage.TotalTokens
		}
	case domain.OutcomeThrottled:
		if v := resp.Header.Get("Retry-After"); v != "" {
			if secs, err := strconv.Atoi(v); err == nil {
				result.RetryAfterSec = &secs
			}
		}
		if v := resp.Header.Get(remainingHeader); v != "" {
			if remaining, err := strconv.ParseInt(v, 10, 64); err == nil {
				result.RemainingTokens = &remaining
			}
		}
	default:
		result.Detail = fmt.Sprintf("unexpected status %d", resp.StatusCode)
	}
	return result
}

func (p *Prober) transportFailure(result domain.ProbeResult, start time.Time, err error) domain.ProbeResult {
	result.HTTPStatus = domain.StatusTransport
	result.LatencyMS = p.now().Sub(start).Milliseconds()
	result.Outcome = domain.OutcomeError
	result.Detail = err.Error()
	if p.logger != nil {
		p.logger.Warn("probe transport failure", "error", err)
	}
	return result
}
