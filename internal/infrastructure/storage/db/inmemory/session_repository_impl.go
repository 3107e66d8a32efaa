package inmemory

import (
	"context"
	"sort"
	"sync"

	"github.com/tdex-network/tdex-payjoin/internal/core/domain"
)

type sessionRepositoryImpl struct {
	sessions map[string]domain.Session
	locker   *sync.RWMutex
}

// NewSessionRepositoryImpl returns a new inmemory SessionRepository
// implementation.
func NewSessionRepositoryImpl() domain.SessionRepository {
	return &sessionRepositoryImpl{
		sessions: make(map[string]domain.Session),
		locker:   &sync.RWMutex{},
	}
}

func (r *sessionRepositoryImpl) AddSession(
	_ context.Context, session *domain.Session,
) error {
	if session == nil {
		return ErrSessionInvalidRequest
	}

	r.locker.Lock()
	defer r.locker.Unlock()

	if _, ok := r.sessions[session.ID]; ok {
		return domain.ErrSessionAlreadyExists
	}
	r.sessions[session.ID] = copySession(*session)
	return nil
}

func (r *sessionRepositoryImpl) GetSession(
	_ context.Context, id string,
) (*domain.Session, error) {
	r.locker.RLock()
	defer r.locker.RUnlock()

	session, ok := r.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	s := copySession(session)
	return &s, nil
}

func (r *sessionRepositoryImpl) UpdateSession(
	_ context.Context,
	id string,
	updateFn func(s *domain.Session) (*domain.Session, error),
) error {
	r.locker.Lock()
	defer r.locker.Unlock()

	session, ok := r.sessions[id]
	if !ok {
		return domain.ErrSessionNotFound
	}
	current := copySession(session)

	updated, err := updateFn(&current)
	if err != nil {
		return err
	}
	r.sessions[id] = copySession(*updated)
	return nil
}

func (r *sessionRepositoryImpl) ListSessions(
	_ context.Context, role string,
) ([]*domain.Session, error) {
	return r.filter(func(s domain.Session) bool {
		return role == "" || s.Role == role
	}), nil
}

func (r *sessionRepositoryImpl) ListActiveSessions(
	_ context.Context,
) ([]*domain.Session, error) {
	return r.filter(func(s domain.Session) bool {
		return s.IsActive()
	}), nil
}

func (r *sessionRepositoryImpl) DeleteSession(
	_ context.Context, id string,
) error {
	r.locker.Lock()
	defer r.locker.Unlock()

	if _, ok := r.sessions[id]; !ok {
		return domain.ErrSessionNotFound
	}
	delete(r.sessions, id)
	return nil
}

func (r *sessionRepositoryImpl) filter(
	keep func(s domain.Session) bool,
) []*domain.Session {
	r.locker.RLock()
	defer r.locker.RUnlock()

	sessions := make([]*domain.Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		if keep(session) {
			s := copySession(session)
			sessions = append(sessions, &s)
		}
	}
	sort.SliceStable(sessions, func(i, j int) bool {
		if sessions[i].CreatedAt == sessions[j].CreatedAt {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].CreatedAt < sessions[j].CreatedAt
	})
	return sessions
}

func copySession(s domain.Session) domain.Session {
	s.State = append([]byte(nil), s.State...)
	if s.StageSnapshot != nil {
		s.StageSnapshot = append([]byte(nil), s.StageSnapshot...)
	}
	return s
}
