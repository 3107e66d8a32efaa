package inmemory

import (
	"github.com/tdex-network/tdex-payjoin/internal/core/domain"
	"github.com/tdex-network/tdex-payjoin/internal/core/ports"
)

type repoManager struct {
	sessionRepository      domain.SessionRepository
	seenOutpointRepository domain.SeenOutpointRepository
}

func NewRepoManager() ports.RepoManager {
	return &repoManager{
		sessionRepository:      NewSessionRepositoryImpl(),
		seenOutpointRepository: NewSeenOutpointRepositoryImpl(),
	}
}

func (d *repoManager) SessionRepository() domain.SessionRepository {
	return d.sessionRepository
}

func (d *repoManager) SeenOutpointRepository() domain.SeenOutpointRepository {
	return d.seenOutpointRepository
}

func (d *repoManager) Close() {}
