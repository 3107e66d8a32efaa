package inmemory

import (
	"context"
	"time"

	cache "github.com/patrickmn/go-cache"
	"github.com/tdex-network/tdex-payjoin/internal/core/domain"
)

const seenOutpointsCleanupInterval = time.Hour

type seenOutpointRepositoryImpl struct {
	cache *cache.Cache
}

// NewSeenOutpointRepositoryImpl returns a new inmemory SeenOutpointRepository
// implementation.
func NewSeenOutpointRepositoryImpl() domain.SeenOutpointRepository {
	return &seenOutpointRepositoryImpl{
		cache.New(cache.NoExpiration, seenOutpointsCleanupInterval),
	}
}

func (r *seenOutpointRepositoryImpl) AddSeenOutpoints(
	_ context.Context, outpoints []string, ttl time.Duration,
) error {
	for _, outpoint := range outpoints {
		r.cache.Set(outpoint, struct{}{}, ttl)
	}
	return nil
}

func (r *seenOutpointRepositoryImpl) IsSeenOutpoint(
	_ context.Context, outpoint string,
) (bool, error) {
	_, found := r.cache.Get(outpoint)
	return found, nil
}
