package burst

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/odaibert/apim-token-monitor/internal/config"
	"github.com/odaibert/apim-token-monitor/internal/domain"
	"github.com/odaibert/apim-token-monitor/internal/storage"
	"github.com/odaibert/apim-token-monitor/internal/ws"
)

var (
	// ErrInvalidParameter rejects a non-positive request count before any
	// network call is issued.
	ErrInvalidParameter = errors.New("burst: request count must be a positive integer")
	// ErrBurstActive rejects starting a burst while another is running.
	ErrBurstActive = errors.New("burst: a test is already running")
	// ErrNotFound indicates an unknown burst ID.
	ErrNotFound = errors.New("burst: not found")
)

const (
	defaultPrompt      = "Say hello"
	defaultConcurrency = 1
	maxConcurrency     = 16
)

// Prober issues a single classified gateway call.
type Prober interface {
	Probe(ctx context.Context, cfg config.Effective, prompt string) domain.ProbeResult
}

// Options configure one burst run. Pacing is the delay between probe
// launches; it is deliberately caller-chosen rather than a fixed interval.
type Options struct {
	Count       int
	Prompt      string
	Pacing      time.Duration
	Concurrency int64
}

// Runner orchestrates bursts of probes, publishes each completed result to
// the event hub, and persists the run to the history store.
type Runner struct {
	prober Prober
	hub    *ws.Hub
	repo   storage.BurstRepository
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	bursts map[string]*run
	active string
}

// run tracks the in-memory state of a single burst.
type run struct {
	burst  domain.Burst
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	results []domain.ProbeResult
	summary *domain.BurstSummary
	aborted bool
}

// NewRunner constructs a Runner. repo may be nil, in which case history is
// kept in memory only.
func NewRunner(prober Prober, hub *ws.Hub, repo storage.BurstRepository, logger *slog.Logger) *Runner {
	return &Runner{
		prober: prober,
		hub:    hub,
		repo:   repo,
		logger: logger,
		now:    time.Now,
		bursts: make(map[string]*run),
	}
}

// Start validates the request and launches the burst in the background.
// Probe failures never abort the run; every outcome is recorded.
func (r *Runner) Start(cfg config.Effective, opts Options) (domain.Burst, error) {
	if opts.Count <= 0 {
		return domain.Burst{}, ErrInvalidParameter
	}
	if err := cfg.ValidateProbe(); err != nil {
		return domain.Burst{}, err
	}
	if opts.Prompt == "" {
		opts.Prompt = defaultPrompt
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.Concurrency > maxConcurrency {
		opts.Concurrency = maxConcurrency
	}

	burst := domain.Burst{
		ID:        uuid.NewString(),
		Requested: opts.Count,
		Prompt:    opts.Prompt,
		Model:     cfg.ModelName,
		StartedAt: r.now().UTC(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	state := &run{burst: burst, cancel: cancel, done: make(chan struct{})}

	r.mu.Lock()
	if r.active != "" {
		r.mu.Unlock()
		cancel()
		return domain.Burst{}, ErrBurstActive
	}
	r.active = burst.ID
	r.bursts[burst.ID] = state
	r.mu.Unlock()

	if r.repo != nil {
		if err := r.repo.InsertBurst(ctx, burst); err != nil {
			r.logger.Warn("failed to persist burst", "burst_id", burst.ID, "error", err)
		}
	}

	go r.execute(ctx, cfg, opts, state)
	return burst, nil
}

func (r *Runner) execute(ctx context.Context, cfg config.Effective, opts Options, state *run) {
	defer state.cancel()

	sem := semaphore.NewWeighted(opts.Concurrency)
	var wg sync.WaitGroup

	for seq := 1; seq <= opts.Count; seq++ {
		if ctx.Err() != nil {
			break
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(seq int) {
			defer wg.Done()
			defer sem.Release(1)
			result := r.prober.Probe(ctx, cfg, opts.Prompt)
			result.BurstID = state.burst.ID
			result.Seq = seq
			r.record(state, result)
		}(seq)

		if opts.Pacing > 0 && seq < opts.Count {
			select {
			case <-ctx.Done():
			case <-time.After(opts.Pacing):
			}
		}
	}

	wg.Wait()
	r.finalize(state)
}

// record appends a completed result, unless the burst was aborted after the
// probe was issued, in which case the result is discarded.
func (r *Runner) record(state *run, result domain.ProbeResult) {
	state.mu.Lock()
	if state.aborted {
		state.mu.Unlock()
		r.logger.Debug("discarding result from aborted burst",
			"burst_id", result.BurstID, "seq", result.Seq)
		return
	}
	state.results = append(state.results, result)
	state.mu.Unlock()

	if r.repo != nil {
		if err := r.repo.AppendResult(context.Background(), result); err != nil {
			r.logger.Warn("failed to persist probe result",
				"burst_id", result.BurstID, "seq", result.Seq, "error", err)
		}
	}
	r.publish("probe_result", result)
}

func (r *Runner) finalize(state *run) {
	state.mu.Lock()
	results := append([]domain.ProbeResult(nil), state.results...)
	aborted := state.aborted
	summary := domain.Summarize(state.burst.ID, results, state.burst.StartedAt, r.now().UTC(), aborted)
	state.summary = &summary
	state.mu.Unlock()

	if r.repo != nil {
		if err := r.repo.FinishBurst(context.Background(), summary); err != nil {
			r.logger.Warn("failed to persist burst summary", "burst_id", summary.BurstID, "error", err)
		}
	}
	r.publish("burst_summary", summary)

	r.mu.Lock()
	if r.active == state.burst.ID {
		r.active = ""
	}
	r.mu.Unlock()
	close(state.done)

	r.logger.Info("burst finished",
		"burst_id", summary.BurstID,
		"total", summary.Total,
		"success", summary.SuccessCount,
		"throttled", summary.ThrottledCount,
		"errors", summary.ErrorCount,
		"aborted", summary.Aborted)
}

// Abort cancels a running burst. Probes already in flight may complete in the
// background but their results are discarded.
func (r *Runner) Abort(id string) error {
	r.mu.Lock()
	state, ok := r.bursts[id]
	r.mu.Unlock()
	if !ok {
		return ErrNotFound
	}

	state.mu.Lock()
	already := state.summary != nil || state.aborted
	state.aborted = true
	state.mu.Unlock()
	if already {
		return nil
	}
	state.cancel()
	return nil
}

// Get returns a burst with its recorded results and, once finished, summary.
func (r *Runner) Get(id string) (domain.Burst, []domain.ProbeResult, *domain.BurstSummary, error) {
	r.mu.Lock()
	state, ok := r.bursts[id]
	r.mu.Unlock()
	if !ok {
		return domain.Burst{}, nil, nil, ErrNotFound
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	results := append([]domain.ProbeResult(nil), state.results...)
	var summary *domain.BurstSummary
	if state.summary != nil {
		s := *state.summary
		summary = &s
	}
	return state.burst, results, summary, nil
}

// Active reports the ID of the running burst, if any.
func (r *Runner) Active() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active, r.active != ""
}

// Clear drops finished bursts from session memory. Persisted history is kept.
func (r *Runner) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, state := range r.bursts {
		if id == r.active {
			continue
		}
		select {
		case <-state.done:
			delete(r.bursts, id)
		default:
		}
	}
}

// Wait blocks until the burst finishes, for tests and shutdown.
func (r *Runner) Wait(id string) error {
	r.mu.Lock()
	state, ok := r.bursts[id]
	r.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	<-state.done
	return nil
}

func (r *Runner) publish(eventType string, payload any) {
	if r.hub == nil {
		return
	}
	data, err := json.Marshal(map[string]any{"type": eventType, "data": payload})
	if err != nil {
		r.logger.Warn("failed to marshal event payload", "type", eventType, "error", err)
		return
	}
	r.hub.Broadcast(ws.TopicEvents, data)
}
