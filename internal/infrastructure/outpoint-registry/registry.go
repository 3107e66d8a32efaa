// Package outpointregistry keeps the outpoints spent by the original
// proposals a receiver has processed, each for a limited time.
package outpointregistry

import (
	"context"
	"time"

	"github.com/btcsuite/btcd/wire"
	cache "github.com/patrickmn/go-cache"
	"github.com/tdex-network/tdex-payjoin/internal/core/domain"
	"github.com/tdex-network/tdex-payjoin/internal/core/ports"
)

// DefaultTTL is how long an outpoint is remembered when no ttl is given.
const DefaultTTL = 7 * 24 * time.Hour

const lookupTimeout = 5 * time.Second

type registry struct {
	repo  domain.SeenOutpointRepository
	cache *cache.Cache
	ttl   time.Duration
}

// NewRegistry returns a registry persisting the outpoints in repo and
// forgetting them after ttl. Known outpoints are cached in memory so that
// repeated lookups do not hit the storage.
func NewRegistry(
	repo domain.SeenOutpointRepository, ttl time.Duration,
) ports.OutpointRegistry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &registry{repo, cache.New(ttl, ttl/2), ttl}
}

func (r *registry) IsKnown(outpoint wire.OutPoint) (bool, error) {
	key := outpoint.String()
	if _, found := r.cache.Get(key); found {
		return true, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	defer cancel()
	known, err := r.repo.IsSeenOutpoint(ctx, key)
	if err != nil {
		return false, err
	}
	if known {
		r.cache.SetDefault(key, struct{}{})
	}
	return known, nil
}

func (r *registry) MarkSeen(ctx context.Context, outpoints []wire.OutPoint) error {
	keys := make([]string, 0, len(outpoints))
	for _, outpoint := range outpoints {
		keys = append(keys, outpoint.String())
	}
	if err := r.repo.AddSeenOutpoints(ctx, keys, r.ttl); err != nil {
		return err
	}
	for _, key := range keys {
		r.cache.SetDefault(key, struct{}{})
	}
	return nil
}
