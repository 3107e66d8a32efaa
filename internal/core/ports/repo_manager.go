package ports

import "github.com/tdex-network/tdex-payjoin/internal/core/domain"

// RepoManager gives access to the repositories of a storage backend.
type RepoManager interface {
	SessionRepository() domain.SessionRepository
	SeenOutpointRepository() domain.SeenOutpointRepository
	Close()
}
