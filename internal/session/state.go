package session

import (
	"sync"
	"time"

	"github.com/odaibert/apim-token-monitor/internal/config"
	"github.com/odaibert/apim-token-monitor/internal/domain"
)

// State is the explicit per-process session object: the resolved
// configuration plus the latest metrics snapshot. It is created at startup,
// reset on user action, and torn down at exit; nothing else holds ambient
// session state.
type State struct {
	resolver *config.Resolver

	mu         sync.RWMutex
	cfg        config.Effective
	createdAt  time.Time
	metrics    *domain.MetricsSnapshot
	metricsErr string
}

// New resolves the initial configuration and builds the session.
func New(resolver *config.Resolver) (*State, error) {
	cfg, err := resolver.Resolve(config.Effective{})
	if err != nil {
		return nil, err
	}
	return &State{
		resolver:  resolver,
		cfg:       cfg,
		createdAt: time.Now().UTC(),
	}, nil
}

// Config returns the current effective configuration.
func (s *State) Config() config.Effective {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// CreatedAt reports when the session began.
func (s *State) CreatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.createdAt
}

// SaveConfig merges UI-entered values over the existing layers, persists the
// result, and adopts it for the session.
func (s *State) SaveConfig(overrides config.Effective) (config.Effective, error) {
	cfg, err := s.resolver.Save(overrides)
	if err != nil {
		return config.Effective{}, err
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	return cfg, nil
}

// ResetConfig removes the persisted file and re-resolves from environment
// and defaults.
func (s *State) ResetConfig() (config.Effective, error) {
	cfg, err := s.resolver.Reset()
	if err != nil {
		return config.Effective{}, err
	}
	s.mu.Lock()
	s.cfg = cfg
	s.metrics = nil
	s.metricsErr = ""
	s.mu.Unlock()
	return cfg, nil
}

// SetMetrics stores a successful fetch and clears any previous failure.
func (s *State) SetMetrics(snapshot domain.MetricsSnapshot) {
	s.mu.Lock()
	s.metrics = &snapshot
	s.metricsErr = ""
	s.mu.Unlock()
}

// SetMetricsError records the most recent fetch failure message.
func (s *State) SetMetricsError(msg string) {
	s.mu.Lock()
	s.metricsErr = msg
	s.mu.Unlock()
}

// Metrics returns the latest snapshot, if any, and the last failure message.
func (s *State) Metrics() (*domain.MetricsSnapshot, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.metrics == nil {
		return nil, s.metricsErr
	}
	snapshot := *s.metrics
	return &snapshot, s.metricsErr
}
