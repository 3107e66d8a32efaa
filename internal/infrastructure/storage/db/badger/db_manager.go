package dbbadger

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/dgraph-io/badger/v3/options"
	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-payjoin/internal/core/domain"
	"github.com/tdex-network/tdex-payjoin/internal/core/ports"
	"github.com/timshannon/badgerhold/v4"
)

const gcInterval = 30 * time.Minute

type repoManager struct {
	store                  *badgerhold.Store
	sessionRepository      domain.SessionRepository
	seenOutpointRepository domain.SeenOutpointRepository
	stopGC                 chan struct{}
}

// NewRepoManager opens (or creates if not exists) the badger store in the
// sessions subdirectory of baseDbDir. An empty baseDbDir makes the store live
// in memory only.
func NewRepoManager(baseDbDir string, logger badger.Logger) (ports.RepoManager, error) {
	var dbDir string
	if len(baseDbDir) > 0 {
		dbDir = filepath.Join(baseDbDir, "sessions")
	}

	store, err := createDb(dbDir, logger)
	if err != nil {
		return nil, fmt.Errorf("opening sessions db: %w", err)
	}

	m := &repoManager{
		store:                  store,
		sessionRepository:      NewSessionRepositoryImpl(store),
		seenOutpointRepository: NewSeenOutpointRepositoryImpl(store),
		stopGC:                 make(chan struct{}),
	}
	if len(dbDir) > 0 {
		go m.runValueLogGC()
	}
	return m, nil
}

func (m *repoManager) SessionRepository() domain.SessionRepository {
	return m.sessionRepository
}

func (m *repoManager) SeenOutpointRepository() domain.SeenOutpointRepository {
	return m.seenOutpointRepository
}

func (m *repoManager) Close() {
	close(m.stopGC)
	if err := m.store.Close(); err != nil {
		log.WithError(err).Warn("failed to close sessions db")
	}
}

func (m *repoManager) runValueLogGC() {
	ticker := time.NewTicker(gcInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := m.store.Badger().RunValueLogGC(0.5); err != nil &&
				err != badger.ErrNoRewrite {
				log.Error(err)
			}
		case <-m.stopGC:
			return
		}
	}
}

func createDb(dbDir string, logger badger.Logger) (*badgerhold.Store, error) {
	isInMemory := len(dbDir) <= 0

	opts := badger.DefaultOptions(dbDir)
	opts.Logger = logger

	if isInMemory {
		opts.InMemory = true
	} else {
		opts.Compression = options.ZSTD
	}

	return badgerhold.Open(badgerhold.Options{
		Encoder:          badgerhold.DefaultEncode,
		Decoder:          badgerhold.DefaultDecode,
		SequenceBandwith: 100,
		Options:          opts,
	})
}
