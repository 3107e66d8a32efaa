package dbredis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
	"github.com/tdex-network/tdex-payjoin/internal/core/domain"
)

const (
	defaultKeyPrefix  = "payjoin:"
	keyPrefixSession  = "session:"
	keySetSessions    = "sessions:index"
	maxUpdateAttempts = 10
)

// ErrSessionInvalidRequest ...
var ErrSessionInvalidRequest = errors.New("session is null")

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

type sessionRepositoryImpl struct {
	client *redis.Client
	prefix string
}

// NewSessionRepositoryImpl returns a SessionRepository storing every session
// as a json value, with a set indexing their ids.
func NewSessionRepositoryImpl(
	client *redis.Client, keyPrefix string,
) domain.SessionRepository {
	return &sessionRepositoryImpl{client, keyPrefix}
}

func (r *sessionRepositoryImpl) sessionKey(id string) string {
	return r.prefix + keyPrefixSession + id
}

func (r *sessionRepositoryImpl) indexKey() string {
	return r.prefix + keySetSessions
}

func (r *sessionRepositoryImpl) AddSession(
	ctx context.Context, session *domain.Session,
) error {
	if session == nil {
		return ErrSessionInvalidRequest
	}
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	ok, err := r.client.SetNX(ctx, r.sessionKey(session.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	if !ok {
		return domain.ErrSessionAlreadyExists
	}
	return r.client.SAdd(ctx, r.indexKey(), session.ID).Err()
}

func (r *sessionRepositoryImpl) GetSession(
	ctx context.Context, id string,
) (*domain.Session, error) {
	return r.getSession(ctx, r.client, id)
}

func (r *sessionRepositoryImpl) UpdateSession(
	ctx context.Context,
	id string,
	updateFn func(s *domain.Session) (*domain.Session, error),
) error {
	key := r.sessionKey(id)
	txFn := func(tx *redis.Tx) error {
		session, err := r.getSession(ctx, tx, id)
		if err != nil {
			return err
		}
		updated, err := updateFn(session)
		if err != nil {
			return err
		}
		data, err := json.Marshal(updated)
		if err != nil {
			return fmt.Errorf("failed to marshal session: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}

	// The update is retried when the session changed while being updated.
	for i := 0; i < maxUpdateAttempts; i++ {
		err := r.client.Watch(ctx, txFn, key)
		if err != redis.TxFailedErr {
			return err
		}
	}
	return fmt.Errorf("failed to update session %s: too many conflicts", id)
}

func (r *sessionRepositoryImpl) ListSessions(
	ctx context.Context, role string,
) ([]*domain.Session, error) {
	return r.findSessions(ctx, func(s *domain.Session) bool {
		return role == "" || s.Role == role
	})
}

func (r *sessionRepositoryImpl) ListActiveSessions(
	ctx context.Context,
) ([]*domain.Session, error) {
	return r.findSessions(ctx, func(s *domain.Session) bool {
		return s.IsActive()
	})
}

func (r *sessionRepositoryImpl) DeleteSession(
	ctx context.Context, id string,
) error {
	pipe := r.client.TxPipeline()
	del := pipe.Del(ctx, r.sessionKey(id))
	pipe.SRem(ctx, r.indexKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if del.Val() == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func (r *sessionRepositoryImpl) getSession(
	ctx context.Context, client getter, id string,
) (*domain.Session, error) {
	data, err := client.Get(ctx, r.sessionKey(id)).Bytes()
	if err == redis.Nil {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	session := &domain.Session{}
	if err := json.Unmarshal(data, session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return session, nil
}

func (r *sessionRepositoryImpl) findSessions(
	ctx context.Context, keep func(s *domain.Session) bool,
) ([]*domain.Session, error) {
	ids, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list session ids: %w", err)
	}
	if len(ids) == 0 {
		return []*domain.Session{}, nil
	}

	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, r.sessionKey(id))
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch sessions: %w", err)
	}

	sessions := make([]*domain.Session, 0, len(values))
	for i, val := range values {
		data, ok := val.(string)
		if !ok {
			// Indexed but missing, drop it from the index.
			r.client.SRem(ctx, r.indexKey(), ids[i])
			continue
		}
		session := &domain.Session{}
		if err := json.Unmarshal([]byte(data), session); err != nil {
			return nil, fmt.Errorf("failed to unmarshal session: %w", err)
		}
		if keep(session) {
			sessions = append(sessions, session)
		}
	}
	sort.SliceStable(sessions, func(i, j int) bool {
		if sessions[i].CreatedAt == sessions[j].CreatedAt {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].CreatedAt < sessions[j].CreatedAt
	})
	return sessions, nil
}
