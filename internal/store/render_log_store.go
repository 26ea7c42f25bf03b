package store

import (
	"context"

	"github.com/dunamismax/pixelproxy/internal/domain"
)

// RenderLogStore persists one usage record per render attempt.
type RenderLogStore interface {
	Record(ctx context.Context, entry domain.RenderLog) error
	// Recent returns up to limit records, newest first.
	Recent(ctx context.Context, limit int) ([]domain.RenderLog, error)
}

const DefaultRecentLimit = 50

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultRecentLimit
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}
