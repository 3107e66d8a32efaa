package application

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-payjoin/internal/core/domain"
	"github.com/tdex-network/tdex-payjoin/pkg/stats"
	"github.com/tdex-network/tdex-payjoin/pkg/transport"
	"golang.org/x/sync/errgroup"
)

type sessionRunner interface {
	Run(ctx context.Context, id string) (*domain.Session, error)
}

// runAll resumes concurrently every active session of the given role.
func runAll(
	ctx context.Context, repo domain.SessionRepository, role string,
	runner sessionRunner,
) error {
	sessions, err := repo.ListActiveSessions(ctx)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range sessions {
		if s.Role != role {
			continue
		}
		id := s.ID
		g.Go(func() error {
			_, err := runner.Run(gctx, id)
			return err
		})
	}
	return g.Wait()
}

func getSessionWithRole(
	ctx context.Context, repo domain.SessionRepository, id, role string,
) (*domain.Session, error) {
	session, err := repo.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.Role != role {
		return nil, ErrSessionRoleMismatch
	}
	return session, nil
}

// update applies fn to the stored session and returns the updated copy.
func update(
	ctx context.Context, repo domain.SessionRepository, id string,
	fn func(s *domain.Session) error,
) (*domain.Session, error) {
	var updated *domain.Session
	err := repo.UpdateSession(
		ctx, id, func(s *domain.Session) (*domain.Session, error) {
			if err := fn(s); err != nil {
				return nil, err
			}
			updated = s
			return s, nil
		},
	)
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// closeSession records the outcome of a session that stopped making
// progress because of err. If ctx is done the session is left untouched so
// that it can be resumed later.
func closeSession(
	ctx context.Context, repo domain.SessionRepository, id string, err error,
) (*domain.Session, error) {
	if ctx.Err() != nil {
		return nil, err
	}

	session, updateErr := update(
		context.Background(), repo, id, func(s *domain.Session) error {
			if errors.Is(err, transport.ErrSessionExpired) && s.IsExpired() {
				return s.Expire()
			}
			s.Fail(err.Error())
			return nil
		},
	)
	if updateErr != nil {
		return nil, updateErr
	}

	logSessionOutcome(session)
	return session, nil
}

func logSessionOutcome(session *domain.Session) {
	stats.Sessions.WithLabelValues(session.Role, session.Status.String()).Inc()

	logger := log.WithFields(log.Fields{
		"session": session.ID,
		"role":    session.Role,
	})
	if session.IsFailed() {
		logger.WithField("reason", session.FailReason).Info("session failed")
		return
	}
	logger.WithField("txid", session.TxID).Info("session completed")
}
