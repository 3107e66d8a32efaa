package domain

import "context"

// SessionRepository is the abstraction for any kind of database intended to
// persist payjoin Sessions.
type SessionRepository interface {
	// AddSession stores a new session. It fails if one with the same id
	// exists already.
	AddSession(ctx context.Context, session *Session) error
	// GetSession returns the session with the given id or ErrSessionNotFound.
	GetSession(ctx context.Context, id string) (*Session, error)
	// UpdateSession allows to commit multiple changes to the same session in
	// a transactional way.
	UpdateSession(
		ctx context.Context,
		id string,
		updateFn func(s *Session) (*Session, error),
	) error
	// ListSessions returns all the sessions of the given role, or all of them
	// if role is empty.
	ListSessions(ctx context.Context, role string) ([]*Session, error)
	// ListActiveSessions returns the sessions that are neither completed nor
	// failed.
	ListActiveSessions(ctx context.Context) ([]*Session, error)
	// DeleteSession removes the session with the given id.
	DeleteSession(ctx context.Context, id string) error
}
