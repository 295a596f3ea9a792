package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/odaibert/apim-token-monitor/internal/burst"
	"github.com/odaibert/apim-token-monitor/internal/config"
	"github.com/odaibert/apim-token-monitor/internal/domain"
	"github.com/odaibert/apim-token-monitor/internal/monitor"
	"github.com/odaibert/apim-token-monitor/internal/session"
	"github.com/odaibert/apim-token-monitor/internal/ws"
)

type stubProber struct {
	status int
}

func (p stubProber) Probe(ctx context.Context, cfg config.Effective, prompt string) domain.ProbeResult {
	return domain.ProbeResult{
		Timestamp:  time.Now().UTC(),
		HTTPStatus: p.status,
		Outcome:    domain.ClassifyStatus(p.status),
	}
}

type fixture struct {
	router  *Router
	runner  *burst.Runner
	state   *session.State
	metrics *httptest.Server
}

func newFixture(t *testing.T, proberStatus int, metricsHandler http.HandlerFunc) *fixture {
	t.Helper()
	for _, key := range []string{
		"APIM_GATEWAY_URL", "APIM_API_KEY", "OPENAI_MODEL", "OPENAI_API_VERSION",
		"AZURE_SUBSCRIPTION_ID", "AZURE_RESOURCE_GROUP", "AZURE_APIM_NAME", "TPM_LIMIT",
	} {
		t.Setenv(key, "")
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	resolver := config.NewResolver(filepath.Join(t.TempDir(), "config.json"), log)
	state, err := session.New(resolver)
	if err != nil {
		t.Fatalf("session: %v", err)
	}

	hub := ws.NewHub()
	runner := burst.NewRunner(stubProber{status: proberStatus}, hub, nil, log)

	if metricsHandler == nil {
		metricsHandler = func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"value": []}`)
		}
	}
	metricsSrv := httptest.NewServer(metricsHandler)
	t.Cleanup(metricsSrv.Close)
	fetcher := monitor.NewFetcher(monitor.StaticTokenProvider("tok"), log, monitor.WithBaseURL(metricsSrv.URL))

	router := NewRouter(log, state, runner, fetcher, nil, hub, 30*time.Minute)
	return &fixture{router: router, runner: runner, state: state, metrics: metricsSrv}
}

func (f *fixture) do(t *testing.T, method, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) saveConfig(t *testing.T, body string) {
	t.Helper()
	rec := f.do(t, http.MethodPut, "/api/config", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("save config: status %d body %s", rec.Code, rec.Body)
	}
}

const probeConfig = `{"gateway_url": "https://apim.azure-api.net", "api_key": "secret-key-1234", "model_name": "gpt-4o-mini"}`
const fullConfig = `{"gateway_url": "https://apim.azure-api.net", "api_key": "secret-key-1234", "model_name": "gpt-4o-mini", "subscription_id": "sub", "resource_group": "rg", "apim_name": "apim"}`

func TestHealthz(t *testing.T) {
	f := newFixture(t, 200, nil)
	rec := f.do(t, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestIndexServesDashboard(t *testing.T) {
	f := newFixture(t, 200, nil)
	rec := f.do(t, http.MethodGet, "/", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Rate Limiting Dashboard") {
		t.Fatal("dashboard page not rendered")
	}
}

func TestConfigMasksAPIKey(t *testing.T) {
	f := newFixture(t, 200, nil)
	f.saveConfig(t, probeConfig)

	rec := f.do(t, http.MethodGet, "/api/config", "")
	var payload struct {
		Config     config.Effective `json:"config"`
		ProbeReady bool             `json:"probe_ready"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if strings.Contains(payload.Config.APIKey, "secret") {
		t.Fatalf("api key leaked: %q", payload.Config.APIKey)
	}
	if !strings.HasSuffix(payload.Config.APIKey, "1234") {
		t.Fatalf("masked key = %q, want visible suffix", payload.Config.APIKey)
	}
	if !payload.ProbeReady {
		t.Fatal("probe_ready = false after full probe config")
	}
}

func TestConfigReportsMissingFields(t *testing.T) {
	f := newFixture(t, 200, nil)
	rec := f.do(t, http.MethodGet, "/api/config", "")
	var payload struct {
		ProbeReady   bool     `json:"probe_ready"`
		MissingProbe []string `json:"missing_probe"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload.ProbeReady {
		t.Fatal("probe_ready = true with empty config")
	}
	if len(payload.MissingProbe) != 3 {
		t.Fatalf("missing = %v, want 3 fields", payload.MissingProbe)
	}
}

func TestStartBurstRejectsZeroCount(t *testing.T) {
	f := newFixture(t, 200, nil)
	f.saveConfig(t, probeConfig)

	rec := f.do(t, http.MethodPost, "/api/bursts", `{"count": 0}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestBurstLifecycle(t *testing.T) {
	f := newFixture(t, 429, nil)
	f.saveConfig(t, probeConfig)

	rec := f.do(t, http.MethodPost, "/api/bursts", `{"count": 4}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body)
	}
	var started domain.Burst
	if err := json.Unmarshal(rec.Body.Bytes(), &started); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if err := f.runner.Wait(started.ID); err != nil {
		t.Fatalf("wait: %v", err)
	}

	rec = f.do(t, http.MethodGet, "/api/bursts/"+started.ID, "")
	var payload struct {
		Results []domain.ProbeResult `json:"results"`
		Summary *domain.BurstSummary `json:"summary"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload.Summary == nil || payload.Summary.ThrottledCount != 4 {
		t.Fatalf("summary = %+v, want 4 throttled", payload.Summary)
	}
	if len(payload.Results) != 4 {
		t.Fatalf("results = %d, want 4", len(payload.Results))
	}
}

func TestAbortUnknownBurst(t *testing.T) {
	f := newFixture(t, 200, nil)
	rec := f.do(t, http.MethodDelete, "/api/bursts/unknown", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestMetricsIncompleteConfig(t *testing.T) {
	f := newFixture(t, 200, nil)
	rec := f.do(t, http.MethodGet, "/api/metrics", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "subscription_id") {
		t.Fatalf("body %s should name missing fields", rec.Body)
	}
}

func TestMetricsResourceNotFound(t *testing.T) {
	f := newFixture(t, 200, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error": {"code": "ResourceNotFound", "message": "nope"}}`)
	})
	f.saveConfig(t, fullConfig)

	rec := f.do(t, http.MethodGet, "/api/metrics", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	var payload struct {
		Cause string `json:"cause"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload.Cause != string(monitor.CauseResourceNotFound) {
		t.Fatalf("cause = %q, want resource_not_found", payload.Cause)
	}
}

func TestMetricsServesCachedSnapshot(t *testing.T) {
	calls := 0
	f := newFixture(t, 200, func(w http.ResponseWriter, r *http.Request) {
		calls++
		fmt.Fprint(w, `{"value": []}`)
	})
	f.saveConfig(t, fullConfig)
	f.state.SetMetrics(domain.MetricsSnapshot{FetchedAt: time.Now().UTC()})

	rec := f.do(t, http.MethodGet, "/api/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if calls != 0 {
		t.Fatalf("fetcher called %d times, want cached snapshot", calls)
	}

	// refresh=true bypasses the cache.
	rec = f.do(t, http.MethodGet, "/api/metrics?refresh=true", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if calls != 1 {
		t.Fatalf("fetcher called %d times, want 1 after refresh", calls)
	}
}

func TestClearResults(t *testing.T) {
	f := newFixture(t, 200, nil)
	f.saveConfig(t, probeConfig)

	rec := f.do(t, http.MethodPost, "/api/bursts", `{"count": 1}`)
	var started domain.Burst
	if err := json.Unmarshal(rec.Body.Bytes(), &started); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if err := f.runner.Wait(started.ID); err != nil {
		t.Fatalf("wait: %v", err)
	}

	if rec := f.do(t, http.MethodDelete, "/api/results", ""); rec.Code != http.StatusOK {
		t.Fatalf("clear status = %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/api/bursts/"+started.ID, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 after clear with no history store", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t, 200, nil)
	if rec := f.do(t, http.MethodPost, "/api/metrics", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
	if rec := f.do(t, http.MethodPatch, "/api/config", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}
