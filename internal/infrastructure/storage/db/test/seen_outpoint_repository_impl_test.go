package db_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	dbbadger "github.com/tdex-network/tdex-payjoin/internal/infrastructure/storage/db/badger"
)

func TestSeenOutpointRepositoryImplementations(t *testing.T) {
	repositories := createSeenOutpointRepositories(t)

	for i := range repositories {
		repo := repositories[i]

		t.Run(repo.Name, func(t *testing.T) {
			t.Run("testAddAndCheckSeenOutpoints", func(t *testing.T) {
				testAddAndCheckSeenOutpoints(t, repo)
			})

			t.Run("testSeenOutpointsExpiration", func(t *testing.T) {
				testSeenOutpointsExpiration(t, repo)
			})
		})
	}
}

func TestSeenOutpointsSurviveRestart(t *testing.T) {
	ctx := context.Background()
	datadir := t.TempDir()
	outpoint := randomOutpoint()

	manager, err := dbbadger.NewRepoManager(datadir, nil)
	require.NoError(t, err)
	err = manager.SeenOutpointRepository().AddSeenOutpoints(
		ctx, []string{outpoint}, time.Hour,
	)
	require.NoError(t, err)
	manager.Close()

	manager, err = dbbadger.NewRepoManager(datadir, nil)
	require.NoError(t, err)
	defer manager.Close()

	seen, err := manager.SeenOutpointRepository().IsSeenOutpoint(ctx, outpoint)
	require.NoError(t, err)
	require.True(t, seen)
}

func testAddAndCheckSeenOutpoints(t *testing.T, repo seenOutpointRepository) {
	ctx := context.Background()
	outpoints := []string{randomOutpoint(), randomOutpoint()}

	seen, err := repo.Repository.IsSeenOutpoint(ctx, outpoints[0])
	require.NoError(t, err)
	require.False(t, seen)

	err = repo.Repository.AddSeenOutpoints(ctx, outpoints, time.Hour)
	require.NoError(t, err)

	for _, outpoint := range outpoints {
		seen, err := repo.Repository.IsSeenOutpoint(ctx, outpoint)
		require.NoError(t, err)
		require.True(t, seen)
	}

	// Adding the same outpoints again is not an error.
	err = repo.Repository.AddSeenOutpoints(ctx, outpoints, time.Hour)
	require.NoError(t, err)

	err = repo.Repository.AddSeenOutpoints(ctx, nil, time.Hour)
	require.NoError(t, err)
}

func testSeenOutpointsExpiration(t *testing.T, repo seenOutpointRepository) {
	ctx := context.Background()
	outpoint := randomOutpoint()

	err := repo.Repository.AddSeenOutpoints(ctx, []string{outpoint}, time.Second)
	require.NoError(t, err)

	seen, err := repo.Repository.IsSeenOutpoint(ctx, outpoint)
	require.NoError(t, err)
	require.True(t, seen)

	require.Eventually(t, func() bool {
		seen, err := repo.Repository.IsSeenOutpoint(ctx, outpoint)
		return err == nil && !seen
	}, 5*time.Second, 100*time.Millisecond)
}

func randomOutpoint() string {
	return fmt.Sprintf("%s:%d", uuid.New().String(), 0)
}
