package dbbadger

import (
	"context"
	"sort"

	"github.com/dgraph-io/badger/v3"
	"github.com/tdex-network/tdex-payjoin/internal/core/domain"
	"github.com/timshannon/badgerhold/v4"
)

type sessionRepositoryImpl struct {
	store *badgerhold.Store
}

// NewSessionRepositoryImpl returns a SessionRepository backed by the given
// badgerhold store.
func NewSessionRepositoryImpl(store *badgerhold.Store) domain.SessionRepository {
	return &sessionRepositoryImpl{store}
}

func (r *sessionRepositoryImpl) AddSession(
	_ context.Context, session *domain.Session,
) error {
	if session == nil {
		return ErrSessionInvalidRequest
	}

	if err := r.store.Insert(session.ID, *session); err != nil {
		if err == badgerhold.ErrKeyExists {
			return domain.ErrSessionAlreadyExists
		}
		return err
	}
	return nil
}

func (r *sessionRepositoryImpl) GetSession(
	_ context.Context, id string,
) (*domain.Session, error) {
	var session domain.Session
	if err := r.store.Get(id, &session); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, domain.ErrSessionNotFound
		}
		return nil, err
	}
	return &session, nil
}

func (r *sessionRepositoryImpl) UpdateSession(
	_ context.Context,
	id string,
	updateFn func(s *domain.Session) (*domain.Session, error),
) error {
	return r.store.Badger().Update(func(tx *badger.Txn) error {
		var session domain.Session
		if err := r.store.TxGet(tx, id, &session); err != nil {
			if err == badgerhold.ErrNotFound {
				return domain.ErrSessionNotFound
			}
			return err
		}

		updated, err := updateFn(&session)
		if err != nil {
			return err
		}
		return r.store.TxUpdate(tx, id, *updated)
	})
}

func (r *sessionRepositoryImpl) ListSessions(
	_ context.Context, role string,
) ([]*domain.Session, error) {
	var query *badgerhold.Query
	if role != "" {
		query = badgerhold.Where("Role").Eq(role)
	}
	return r.findSessions(query)
}

func (r *sessionRepositoryImpl) ListActiveSessions(
	_ context.Context,
) ([]*domain.Session, error) {
	query := badgerhold.Where("Status.Failed").Eq(false).
		And("Status.Code").Lt(domain.Completed)
	return r.findSessions(query)
}

func (r *sessionRepositoryImpl) DeleteSession(
	_ context.Context, id string,
) error {
	if err := r.store.Delete(id, domain.Session{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return domain.ErrSessionNotFound
		}
		return err
	}
	return nil
}

func (r *sessionRepositoryImpl) findSessions(
	query *badgerhold.Query,
) ([]*domain.Session, error) {
	var found []domain.Session
	if err := r.store.Find(&found, query); err != nil {
		return nil, err
	}

	sessions := make([]*domain.Session, 0, len(found))
	for i := range found {
		sessions = append(sessions, &found[i])
	}
	sort.SliceStable(sessions, func(i, j int) bool {
		if sessions[i].CreatedAt == sessions[j].CreatedAt {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].CreatedAt < sessions[j].CreatedAt
	})
	return sessions, nil
}
