package dbredis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tdex-network/tdex-payjoin/internal/core/domain"
)

const keyPrefixSeenOutpoint = "seen:"

type seenOutpointRepositoryImpl struct {
	client *redis.Client
	prefix string
}

// NewSeenOutpointRepositoryImpl returns a SeenOutpointRepository storing
// every outpoint as a key expiring after its ttl.
func NewSeenOutpointRepositoryImpl(
	client *redis.Client, keyPrefix string,
) domain.SeenOutpointRepository {
	return &seenOutpointRepositoryImpl{client, keyPrefix}
}

func (r *seenOutpointRepositoryImpl) key(outpoint string) string {
	return r.prefix + keyPrefixSeenOutpoint + outpoint
}

func (r *seenOutpointRepositoryImpl) AddSeenOutpoints(
	ctx context.Context, outpoints []string, ttl time.Duration,
) error {
	if len(outpoints) == 0 {
		return nil
	}
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, outpoint := range outpoints {
			pipe.Set(ctx, r.key(outpoint), 1, ttl)
		}
		return nil
	})
	return err
}

func (r *seenOutpointRepositoryImpl) IsSeenOutpoint(
	ctx context.Context, outpoint string,
) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(outpoint)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
