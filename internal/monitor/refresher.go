package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/odaibert/apim-token-monitor/internal/session"
	"github.com/odaibert/apim-token-monitor/internal/ws"
)

const defaultRefreshInterval = 30 * time.Second

// Refresher polls Azure Monitor on a fixed cadence, independent of any
// in-flight burst, and publishes each snapshot to the event hub.
type Refresher struct {
	fetcher  *Fetcher
	state    *session.State
	hub      *ws.Hub
	interval time.Duration
	window   time.Duration
	logger   *slog.Logger
}

// NewRefresher constructs a Refresher with sane defaults.
func NewRefresher(fetcher *Fetcher, state *session.State, hub *ws.Hub, interval, window time.Duration, logger *slog.Logger) *Refresher {
	if interval <= 0 {
		interval = defaultRefreshInterval
	}
	if window <= 0 {
		window = 30 * time.Minute
	}
	return &Refresher{
		fetcher:  fetcher,
		state:    state,
		hub:      hub,
		interval: interval,
		window:   window,
		logger:   logger,
	}
}

// Run blocks until the context is cancelled, refreshing on each tick. A tick
// is skipped quietly while the metrics fields are not configured.
func (r *Refresher) Run(ctx context.Context) {
	r.logger.Info("metrics refresher started", "interval", r.interval, "window", r.window)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("metrics refresher stopped")
			return
		case <-ticker.C:
			r.refresh(ctx)
		}
	}
}

func (r *Refresher) refresh(ctx context.Context) {
	cfg := r.state.Config()
	if err := cfg.ValidateMetrics(); err != nil {
		return
	}

	snapshot, err := r.fetcher.Fetch(ctx, cfg, r.window)
	if err != nil {
		var unavailable *UnavailableError
		if errors.As(err, &unavailable) {
			r.state.SetMetricsError(Describe(unavailable.Cause))
		} else {
			r.state.SetMetricsError(err.Error())
		}
		r.logger.Warn("metrics refresh failed", "error", err)
		return
	}

	r.state.SetMetrics(snapshot)
	if data, err := json.Marshal(map[string]any{"type": "metrics", "data": snapshot}); err == nil {
		r.hub.Broadcast(ws.TopicEvents, data)
	}
}

// Describe renders an actionable message for each unavailability cause.
func Describe(cause Cause) string {
	switch cause {
	case CauseNotAuthenticated:
		return "Not signed in to Azure. Run `az login` and try again."
	case CauseResourceNotFound:
		return "APIM resource not found. Check the subscription ID, resource group, and service name."
	default:
		return "Could not reach Azure Monitor. Check your network connection and try again."
	}
}
