package main

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tdex-network/tdex-payjoin/internal/core/domain"
	"github.com/tdex-network/tdex-payjoin/pkg/ohttp"
)

func TestLoadOrCreateSeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", directorySeedFile)

	seed, err := loadOrCreateSeed(path)
	require.NoError(t, err)
	require.Len(t, seed, ohttp.KEM.Scheme().SeedSize())

	reloaded, err := loadOrCreateSeed(path)
	require.NoError(t, err)
	require.Equal(t, seed, reloaded)

	first, err := ohttp.NewGatewayFromSeed(directoryKeyID, seed)
	require.NoError(t, err)
	second, err := ohttp.NewGatewayFromSeed(directoryKeyID, reloaded)
	require.NoError(t, err)
	firstKeys, err := ohttp.EncodeKeys(first.KeyConfig())
	require.NoError(t, err)
	secondKeys, err := ohttp.EncodeKeys(second.KeyConfig())
	require.NoError(t, err)
	require.Equal(t, firstKeys, secondKeys)
}

func TestNewSessionInfo(t *testing.T) {
	expiry := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	session, err := domain.NewSession(domain.RoleReceiver, []byte("{}"), expiry)
	require.NoError(t, err)
	session.Fail("boom")

	info := newSessionInfo(session)
	require.Equal(t, session.ID, info.ID)
	require.Equal(t, "created_failed", info.Status)
	require.Equal(t, "boom", info.FailReason)
	require.Equal(t, "2030-01-02T03:04:05Z", info.Expiry)

	session, err = domain.NewSession(domain.RoleSender, []byte("{}"), time.Time{})
	require.NoError(t, err)
	require.Empty(t, newSessionInfo(session).Expiry)
}
