package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/odaibert/apim-token-monitor/internal/config"
	"github.com/odaibert/apim-token-monitor/internal/domain"
)

const (
	defaultBaseURL   = "https://management.azure.com"
	metricsAPIVer    = "2023-10-01"
	defaultTimeout   = 60 * time.Second
	requestedMetrics = "Requests,TotalTokens"
)

// Fetcher reads request and token time series for the APIM resource from
// Azure Monitor. Samples trail real time by 1-2 minutes; the fetcher reports
// what the API returns and leaves the lag to the caller to present.
type Fetcher struct {
	baseURL string
	client  *http.Client
	tokens  TokenProvider
	logger  *slog.Logger
	now     func() time.Time
}

// FetcherOption customises fetcher construction.
type FetcherOption func(*Fetcher)

// WithBaseURL points the fetcher at an alternate management endpoint.
func WithBaseURL(base string) FetcherOption {
	return func(f *Fetcher) {
		if base != "" {
			f.baseURL = base
		}
	}
}

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) FetcherOption {
	return func(f *Fetcher) {
		if h != nil {
			f.client = h
		}
	}
}

// NewFetcher constructs a Fetcher using the given token provider.
func NewFetcher(tokens TokenProvider, logger *slog.Logger, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		baseURL: defaultBaseURL,
		client:  &http.Client{Timeout: defaultTimeout},
		tokens:  tokens,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// metricsResponse mirrors the Azure Monitor metrics payload.
type metricsResponse struct {
	Value []struct {
		Name struct {
			Value string `json:"value"`
		} `json:"name"`
		Timeseries []struct {
			Data []struct {
				TimeStamp time.Time `json:"timeStamp"`
				Total     *float64  `json:"total"`
			} `json:"data"`
		} `json:"timeseries"`
	} `json:"value"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Fetch queries the last `window` of per-minute request and token totals.
// Failures carry an UnavailableError distinguishing authentication, missing
// resource, and transport causes. The fetcher never retries.
func (f *Fetcher) Fetch(ctx context.Context, cfg config.Effective, window time.Duration) (domain.MetricsSnapshot, error) {
	if err := cfg.ValidateMetrics(); err != nil {
		return domain.MetricsSnapshot{}, err
	}
	if window <= 0 {
		window = 30 * time.Minute
	}

	token, err := f.tokens.Token(ctx)
	if err != nil {
		return domain.MetricsSnapshot{}, &UnavailableError{Cause: CauseNotAuthenticated, Err: err}
	}

	end := f.now().UTC().Truncate(time.Minute)
	start := end.Add(-window)

	endpoint := fmt.Sprintf(
		"%s/subscriptions/%s/resourceGroups/%s/providers/Microsoft.ApiManagement/service/%s/providers/microsoft.insights/metrics",
		f.baseURL,
		url.PathEscape(cfg.SubscriptionID),
		url.PathEscape(cfg.ResourceGroup),
		url.PathEscape(cfg.APIMName),
	)
	params := url.Values{}
	params.Set("api-version", metricsAPIVer)
	params.Set("metricnames", requestedMetrics)
	params.Set("interval", "PT1M")
	params.Set("aggregation", "Total")
	params.Set("timespan", start.Format(time.RFC3339)+"/"+end.Format(time.RFC3339))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return domain.MetricsSnapshot{}, &UnavailableError{Cause: CauseTransport, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := f.client.Do(req)
	if err != nil {
		return domain.MetricsSnapshot{}, &UnavailableError{Cause: CauseTransport, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.MetricsSnapshot{}, &UnavailableError{Cause: CauseTransport, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return domain.MetricsSnapshot{}, &UnavailableError{Cause: CauseNotAuthenticated, Err: apiError(resp.StatusCode, body)}
	case resp.StatusCode == http.StatusNotFound:
		return domain.MetricsSnapshot{}, &UnavailableError{Cause: CauseResourceNotFound, Err: apiError(resp.StatusCode, body)}
	case resp.StatusCode != http.StatusOK:
		return domain.MetricsSnapshot{}, &UnavailableError{Cause: CauseTransport, Err: apiError(resp.StatusCode, body)}
	}

	var parsed metricsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return domain.MetricsSnapshot{}, &UnavailableError{Cause: CauseTransport, Err: fmt.Errorf("parse metrics response: %w", err)}
	}

	snapshot := domain.MetricsSnapshot{
		WindowStart: start,
		WindowEnd:   end,
		FetchedAt:   f.now().UTC(),
	}
	for _, metric := range parsed.Value {
		series := domain.MetricSeries{Name: metric.Name.Value}
		for _, ts := range metric.Timeseries {
			for _, point := range ts.Data {
				value := 0.0
				if point.Total != nil {
					value = *point.Total
				}
				series.Samples = append(series.Samples, domain.MetricSample{
					Metric:    metric.Name.Value,
					Timestamp: point.TimeStamp,
					Value:     value,
				})
				series.Total += value
			}
		}
		snapshot.Series = append(snapshot.Series, series)
	}
	return snapshot, nil
}

func apiError(status int, body []byte) error {
	var parsed errorResponse
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Code != "" {
		return fmt.Errorf("azure monitor %d %s: %s", status, parsed.Error.Code, parsed.Error.Message)
	}
	return fmt.Errorf("azure monitor returned status %d", status)
}
