package dbbadger

import (
	"context"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/tdex-network/tdex-payjoin/internal/core/domain"
	"github.com/timshannon/badgerhold/v4"
)

type seenOutpoint struct {
	Outpoint   string
	ExpiryTime int64 // unix millis
}

type seenOutpointRepositoryImpl struct {
	store *badgerhold.Store
}

// NewSeenOutpointRepositoryImpl returns a SeenOutpointRepository backed by
// the given badgerhold store. Expired entries are reported as unseen and
// overwritten on the next insertion.
func NewSeenOutpointRepositoryImpl(
	store *badgerhold.Store,
) domain.SeenOutpointRepository {
	return &seenOutpointRepositoryImpl{store}
}

func (r *seenOutpointRepositoryImpl) AddSeenOutpoints(
	_ context.Context, outpoints []string, ttl time.Duration,
) error {
	expiry := time.Now().Add(ttl).UnixMilli()
	return r.store.Badger().Update(func(tx *badger.Txn) error {
		for _, outpoint := range outpoints {
			entry := seenOutpoint{outpoint, expiry}
			if err := r.store.TxUpsert(tx, outpoint, entry); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *seenOutpointRepositoryImpl) IsSeenOutpoint(
	_ context.Context, outpoint string,
) (bool, error) {
	var entry seenOutpoint
	if err := r.store.Get(outpoint, &entry); err != nil {
		if err == badgerhold.ErrNotFound {
			return false, nil
		}
		return false, err
	}
	return entry.ExpiryTime > time.Now().UnixMilli(), nil
}
