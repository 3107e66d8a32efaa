package dbredis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-payjoin/internal/core/domain"
	"github.com/tdex-network/tdex-payjoin/internal/core/ports"
)

const connectTimeout = 5 * time.Second

// Config holds the parameters to connect to the redis server.
type Config struct {
	// Address is the server address (host:port).
	Address  string
	Password string
	DB       int
	// KeyPrefix is prepended to every key, defaults to "payjoin:".
	KeyPrefix string
}

type repoManager struct {
	client                 *redis.Client
	sessionRepository      domain.SessionRepository
	seenOutpointRepository domain.SeenOutpointRepository
}

// NewRepoManager connects to the redis server and returns the repositories
// backed by it.
func NewRepoManager(cfg Config) (ports.RepoManager, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Address, err)
	}

	log.WithField("address", cfg.Address).Debug("connected to redis")
	return &repoManager{
		client:                 client,
		sessionRepository:      NewSessionRepositoryImpl(client, prefix),
		seenOutpointRepository: NewSeenOutpointRepositoryImpl(client, prefix),
	}, nil
}

func (m *repoManager) SessionRepository() domain.SessionRepository {
	return m.sessionRepository
}

func (m *repoManager) SeenOutpointRepository() domain.SeenOutpointRepository {
	return m.seenOutpointRepository
}

func (m *repoManager) Close() {
	if err := m.client.Close(); err != nil {
		log.WithError(err).Warn("failed to close redis client")
	}
}
