package db_test

import (
	"crypto/rand"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/tdex-network/tdex-payjoin/internal/core/domain"
	"github.com/tdex-network/tdex-payjoin/internal/core/ports"
	dbbadger "github.com/tdex-network/tdex-payjoin/internal/infrastructure/storage/db/badger"
	"github.com/tdex-network/tdex-payjoin/internal/infrastructure/storage/db/inmemory"
	dbredis "github.com/tdex-network/tdex-payjoin/internal/infrastructure/storage/db/redis"
)

type sessionRepository struct {
	Name       string
	Repository domain.SessionRepository
}

type seenOutpointRepository struct {
	Name       string
	Repository domain.SeenOutpointRepository
}

func createRepoManagers(t *testing.T) map[string]ports.RepoManager {
	managers := map[string]ports.RepoManager{
		"inmemory": inmemory.NewRepoManager(),
	}

	inMemoryBadger, err := dbbadger.NewRepoManager("", nil)
	require.NoError(t, err)
	managers["badger_inmemory"] = inMemoryBadger

	onDiskBadger, err := dbbadger.NewRepoManager(t.TempDir(), nil)
	require.NoError(t, err)
	managers["badger"] = onDiskBadger

	// Redis is tested only when a server is given.
	if addr := os.Getenv("REDIS_TEST_ADDRESS"); addr != "" {
		redisManager, err := dbredis.NewRepoManager(dbredis.Config{
			Address:   addr,
			DB:        15,
			KeyPrefix: "payjoin-test-" + uuid.New().String() + ":",
		})
		require.NoError(t, err)
		managers["redis"] = redisManager
	}

	for _, manager := range managers {
		t.Cleanup(manager.Close)
	}
	return managers
}

func createSessionRepositories(t *testing.T) []sessionRepository {
	managers := createRepoManagers(t)
	repositories := make([]sessionRepository, 0, len(managers))
	for name, manager := range managers {
		repositories = append(repositories, sessionRepository{
			Name:       name,
			Repository: manager.SessionRepository(),
		})
	}
	return repositories
}

func createSeenOutpointRepositories(t *testing.T) []seenOutpointRepository {
	managers := createRepoManagers(t)
	repositories := make([]seenOutpointRepository, 0, len(managers))
	for name, manager := range managers {
		repositories = append(repositories, seenOutpointRepository{
			Name:       name,
			Repository: manager.SeenOutpointRepository(),
		})
	}
	return repositories
}

func makeRandomSession(t *testing.T, role string) *domain.Session {
	session, err := domain.NewSession(
		role, randomBytes(64), time.Now().Add(time.Hour),
	)
	require.NoError(t, err)
	return session
}

func randomBytes(len int) []byte {
	b := make([]byte, len)
	//nolint
	rand.Read(b)
	return b
}
