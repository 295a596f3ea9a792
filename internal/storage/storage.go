package storage

import (
	"context"
	"errors"

	"github.com/odaibert/apim-token-monitor/internal/domain"
)

// ErrNotFound indicates an entity was not located.
var ErrNotFound = errors.New("storage: not found")

// BurstRepository persists bursts and their probe results across restarts.
type BurstRepository interface {
	InsertBurst(ctx context.Context, burst domain.Burst) error
	AppendResult(ctx context.Context, result domain.ProbeResult) error
	FinishBurst(ctx context.Context, summary domain.BurstSummary) error
	ListBursts(ctx context.Context, limit int) ([]domain.BurstSummary, error)
	ListResults(ctx context.Context, burstID string) ([]domain.ProbeResult, error)
	Close() error
}
