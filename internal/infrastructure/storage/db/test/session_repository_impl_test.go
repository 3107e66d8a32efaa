package db_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tdex-network/tdex-payjoin/internal/core/domain"
)

func TestSessionRepositoryImplementations(t *testing.T) {
	repositories := createSessionRepositories(t)

	for i := range repositories {
		repo := repositories[i]

		t.Run(repo.Name, func(t *testing.T) {
			t.Run("testAddAndGetSession", func(t *testing.T) {
				testAddAndGetSession(t, repo)
			})

			t.Run("testUpdateSession", func(t *testing.T) {
				testUpdateSession(t, repo)
			})

			t.Run("testUpdateSessionRollback", func(t *testing.T) {
				testUpdateSessionRollback(t, repo)
			})

			t.Run("testListSessions", func(t *testing.T) {
				testListSessions(t, repo)
			})

			t.Run("testDeleteSession", func(t *testing.T) {
				testDeleteSession(t, repo)
			})
		})
	}
}

func testAddAndGetSession(t *testing.T, repo sessionRepository) {
	ctx := context.Background()
	session := makeRandomSession(t, domain.RoleReceiver)

	s, err := repo.Repository.GetSession(ctx, session.ID)
	require.ErrorIs(t, err, domain.ErrSessionNotFound)
	require.Nil(t, s)

	err = repo.Repository.AddSession(ctx, session)
	require.NoError(t, err)

	err = repo.Repository.AddSession(ctx, session)
	require.ErrorIs(t, err, domain.ErrSessionAlreadyExists)

	s, err = repo.Repository.GetSession(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, *session, *s)
}

func testUpdateSession(t *testing.T, repo sessionRepository) {
	ctx := context.Background()
	session := makeRandomSession(t, domain.RoleSender)
	require.NoError(t, repo.Repository.AddSession(ctx, session))

	err := repo.Repository.UpdateSession(
		ctx, session.ID, func(s *domain.Session) (*domain.Session, error) {
			if err := s.MarkRequestSent(); err != nil {
				return nil, err
			}
			if err := s.ReceiveProposal("proposal"); err != nil {
				return nil, err
			}
			return s, nil
		},
	)
	require.NoError(t, err)

	s, err := repo.Repository.GetSession(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ProposalReceivedStatus, s.Status)
	require.Equal(t, "proposal", s.Proposal)

	err = repo.Repository.UpdateSession(
		ctx, "unknown", func(s *domain.Session) (*domain.Session, error) {
			return s, nil
		},
	)
	require.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func testUpdateSessionRollback(t *testing.T, repo sessionRepository) {
	ctx := context.Background()
	session := makeRandomSession(t, domain.RoleReceiver)
	require.NoError(t, repo.Repository.AddSession(ctx, session))

	failure := errors.New("failure")
	err := repo.Repository.UpdateSession(
		ctx, session.ID, func(s *domain.Session) (*domain.Session, error) {
			s.Fail("should not be stored")
			return nil, failure
		},
	)
	require.ErrorIs(t, err, failure)

	s, err := repo.Repository.GetSession(ctx, session.ID)
	require.NoError(t, err)
	require.True(t, s.IsActive())
	require.Empty(t, s.FailReason)
}

func testListSessions(t *testing.T, repo sessionRepository) {
	ctx := context.Background()

	receivers, err := repo.Repository.ListSessions(ctx, domain.RoleReceiver)
	require.NoError(t, err)
	senders, err := repo.Repository.ListSessions(ctx, domain.RoleSender)
	require.NoError(t, err)
	all, err := repo.Repository.ListSessions(ctx, "")
	require.NoError(t, err)
	active, err := repo.Repository.ListActiveSessions(ctx)
	require.NoError(t, err)

	receiver := makeRandomSession(t, domain.RoleReceiver)
	sender := makeRandomSession(t, domain.RoleSender)
	failed := makeRandomSession(t, domain.RoleSender)
	failed.Fail("failed")
	for _, s := range []*domain.Session{receiver, sender, failed} {
		require.NoError(t, repo.Repository.AddSession(ctx, s))
	}

	newReceivers, err := repo.Repository.ListSessions(ctx, domain.RoleReceiver)
	require.NoError(t, err)
	require.Len(t, newReceivers, len(receivers)+1)
	newSenders, err := repo.Repository.ListSessions(ctx, domain.RoleSender)
	require.NoError(t, err)
	require.Len(t, newSenders, len(senders)+2)
	newAll, err := repo.Repository.ListSessions(ctx, "")
	require.NoError(t, err)
	require.Len(t, newAll, len(all)+3)

	newActive, err := repo.Repository.ListActiveSessions(ctx)
	require.NoError(t, err)
	require.Len(t, newActive, len(active)+2)
	for _, s := range newActive {
		require.NotEqual(t, failed.ID, s.ID)
	}
}

func testDeleteSession(t *testing.T, repo sessionRepository) {
	ctx := context.Background()
	session := makeRandomSession(t, domain.RoleReceiver)
	require.NoError(t, repo.Repository.AddSession(ctx, session))

	require.NoError(t, repo.Repository.DeleteSession(ctx, session.ID))

	_, err := repo.Repository.GetSession(ctx, session.ID)
	require.ErrorIs(t, err, domain.ErrSessionNotFound)

	err = repo.Repository.DeleteSession(ctx, session.ID)
	require.ErrorIs(t, err, domain.ErrSessionNotFound)
}
