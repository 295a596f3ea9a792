package httpx

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/odaibert/apim-token-monitor/internal/burst"
	"github.com/odaibert/apim-token-monitor/internal/config"
	"github.com/odaibert/apim-token-monitor/internal/domain"
	"github.com/odaibert/apim-token-monitor/internal/monitor"
	"github.com/odaibert/apim-token-monitor/internal/session"
	"github.com/odaibert/apim-token-monitor/internal/storage"
	"github.com/odaibert/apim-token-monitor/internal/ws"
)

//go:embed web/index.html
var webFS embed.FS

const (
	historyLimitDefault = 20
	sseHeartbeat        = 25 * time.Second
	metricsFetchTimeout = 70 * time.Second
)

// Router wires the dashboard HTTP surface to the services behind it.
type Router struct {
	mux      *http.ServeMux
	logger   *slog.Logger
	state    *session.State
	runner   *burst.Runner
	fetcher  *monitor.Fetcher
	repo     storage.BurstRepository
	hub      *ws.Hub
	window   time.Duration
	upgrader websocket.Upgrader
	page     *template.Template
}

// NewRouter assembles routes with dependencies. repo may be nil when the
// history store is unavailable.
func NewRouter(logger *slog.Logger, state *session.State, runner *burst.Runner, fetcher *monitor.Fetcher, repo storage.BurstRepository, hub *ws.Hub, window time.Duration) *Router {
	page := template.Must(template.ParseFS(webFS, "web/index.html"))
	r := &Router{
		mux:     http.NewServeMux(),
		logger:  logger,
		state:   state,
		runner:  runner,
		fetcher: fetcher,
		repo:    repo,
		hub:     hub,
		window:  window,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		page: page,
	}
	r.register()
	return r
}

// ServeHTTP delegates to the underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.handleHealthz)
	r.mux.HandleFunc("/api/config", r.handleConfig)
	r.mux.HandleFunc("/api/bursts", r.handleBursts)
	r.mux.HandleFunc("/api/bursts/", r.handleBurstSubroutes)
	r.mux.HandleFunc("/api/results", r.handleResults)
	r.mux.HandleFunc("/api/metrics", r.handleMetrics)
	r.mux.HandleFunc("/api/events", r.handleEventsSSE)
	r.mux.HandleFunc("/ws/events", r.handleEventsWS)
	r.mux.HandleFunc("/", r.handleIndex)
}

func (r *Router) handleIndex(w http.ResponseWriter, req *http.Request) {
	if req.URL.Path != "/" {
		r.notFound(w)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := r.page.Execute(w, nil); err != nil {
		r.logger.Warn("failed to render dashboard page", "error", err)
	}
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (r *Router) handleConfig(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		cfg := r.state.Config()
		writeJSON(w, http.StatusOK, map[string]any{
			"config":           cfg.Masked(),
			"probe_ready":      cfg.ValidateProbe() == nil,
			"metrics_ready":    cfg.ValidateMetrics() == nil,
			"missing_probe":    missingFields(cfg.ValidateProbe()),
			"missing_metrics":  missingFields(cfg.ValidateMetrics()),
			"session_start_at": r.state.CreatedAt(),
		})
	case http.MethodPut:
		var overrides config.Effective
		if err := decodeJSON(w, req, &overrides); err != nil {
			return
		}
		cfg, err := r.state.SaveConfig(overrides)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"config": cfg.Masked()})
	case http.MethodDelete:
		cfg, err := r.state.ResetConfig()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"config": cfg.Masked()})
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleBursts(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodPost:
		var payload struct {
			Count       int    `json:"count"`
			Prompt      string `json:"prompt"`
			PacingMS    int    `json:"pacing_ms"`
			Concurrency int64  `json:"concurrency"`
		}
		if err := decodeJSON(w, req, &payload); err != nil {
			return
		}
		started, err := r.runner.Start(r.state.Config(), burst.Options{
			Count:       payload.Count,
			Prompt:      payload.Prompt,
			Pacing:      time.Duration(payload.PacingMS) * time.Millisecond,
			Concurrency: payload.Concurrency,
		})
		if err != nil {
			r.burstError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, started)
	case http.MethodGet:
		if r.repo == nil {
			writeJSON(w, http.StatusOK, []domain.BurstSummary{})
			return
		}
		summaries, err := r.repo.ListBursts(req.Context(), historyLimitDefault)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if summaries == nil {
			summaries = []domain.BurstSummary{}
		}
		writeJSON(w, http.StatusOK, summaries)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleBurstSubroutes(w http.ResponseWriter, req *http.Request) {
	id := strings.TrimPrefix(req.URL.Path, "/api/bursts/")
	if id == "" || strings.Contains(id, "/") {
		r.notFound(w)
		return
	}
	switch req.Method {
	case http.MethodGet:
		started, results, summary, err := r.runner.Get(id)
		if errors.Is(err, burst.ErrNotFound) {
			r.burstFromHistory(w, req, id)
			return
		}
		if results == nil {
			results = []domain.ProbeResult{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"burst":   started,
			"results": results,
			"summary": summary,
		})
	case http.MethodDelete:
		if err := r.runner.Abort(id); err != nil {
			r.burstError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "aborting"})
	default:
		r.methodNotAllowed(w)
	}
}

// burstFromHistory serves finished bursts that have aged out of session
// memory from the persistent store.
func (r *Router) burstFromHistory(w http.ResponseWriter, req *http.Request, id string) {
	if r.repo == nil {
		r.notFound(w)
		return
	}
	results, err := r.repo.ListResults(req.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		r.notFound(w)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if results == nil {
		results = []domain.ProbeResult{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (r *Router) handleResults(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodDelete {
		r.methodNotAllowed(w)
		return
	}
	r.runner.Clear()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (r *Router) handleMetrics(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}

	// Serve the cached snapshot unless an immediate fetch was requested.
	if req.URL.Query().Get("refresh") != "true" {
		if snapshot, errMsg := r.state.Metrics(); snapshot != nil || errMsg != "" {
			writeJSON(w, http.StatusOK, map[string]any{"snapshot": snapshot, "error": errMsg})
			return
		}
	}

	ctx, cancel := context.WithTimeout(req.Context(), metricsFetchTimeout)
	defer cancel()
	snapshot, err := r.fetcher.Fetch(ctx, r.state.Config(), r.window)
	if err != nil {
		r.metricsError(w, err)
		return
	}
	r.state.SetMetrics(snapshot)
	writeJSON(w, http.StatusOK, map[string]any{"snapshot": snapshot})
}

func (r *Router) handleEventsSSE(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	client := ws.NewSSEClient(w, flusher, r.logger)
	r.hub.Register(ws.TopicEvents, client)
	defer func() {
		r.hub.Unregister(ws.TopicEvents, client)
		client.Close()
	}()

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case <-req.Context().Done():
			return
		case <-heartbeat.C:
			if err := client.Heartbeat(); err != nil {
				return
			}
		}
	}
}

func (r *Router) handleEventsWS(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	r.hub.Register(ws.TopicEvents, client)
	defer r.hub.Unregister(ws.TopicEvents, client)

	// Reads are discarded; the socket exists to push events out.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (r *Router) burstError(w http.ResponseWriter, err error) {
	var incomplete *config.IncompleteError
	switch {
	case errors.Is(err, burst.ErrInvalidParameter):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, burst.ErrBurstActive):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, burst.ErrNotFound):
		r.notFound(w)
	case errors.As(err, &incomplete):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":   err.Error(),
			"missing": incomplete.Missing,
		})
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// metricsError maps each unavailability cause onto a distinct status and an
// actionable message. Metrics failures never take down the rest of the
// dashboard.
func (r *Router) metricsError(w http.ResponseWriter, err error) {
	var incomplete *config.IncompleteError
	if errors.As(err, &incomplete) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":   err.Error(),
			"missing": incomplete.Missing,
		})
		return
	}
	var unavailable *monitor.UnavailableError
	if errors.As(err, &unavailable) {
		status := http.StatusBadGateway
		switch unavailable.Cause {
		case monitor.CauseNotAuthenticated:
			status = http.StatusUnauthorized
		case monitor.CauseResourceNotFound:
			status = http.StatusNotFound
		}
		writeJSON(w, status, map[string]any{
			"error": monitor.Describe(unavailable.Cause),
			"cause": unavailable.Cause,
		})
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func missingFields(err error) []string {
	var incomplete *config.IncompleteError
	if errors.As(err, &incomplete) {
		return incomplete.Missing
	}
	return nil
}

func decodeJSON(w http.ResponseWriter, req *http.Request, v any) error {
	if err := jsonDecode(req, v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return err
	}
	return nil
}
