package domain

import (
	"context"
	"time"
)

// SeenOutpointRepository persists the outpoints spent by the original
// proposals a receiver has processed, so that they survive restarts.
type SeenOutpointRepository interface {
	// AddSeenOutpoints records the given outpoints, each forgotten after ttl.
	AddSeenOutpoints(ctx context.Context, outpoints []string, ttl time.Duration) error
	// IsSeenOutpoint returns whether the outpoint is recorded and not yet
	// expired.
	IsSeenOutpoint(ctx context.Context, outpoint string) (bool, error)
}
