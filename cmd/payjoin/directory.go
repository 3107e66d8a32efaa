package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/tdex-network/tdex-payjoin/internal/config"
	"github.com/tdex-network/tdex-payjoin/pkg/directory"
	"github.com/tdex-network/tdex-payjoin/pkg/ohttp"
)

const (
	directorySeedFile = "directory.seed"
	directoryKeyID    = 1
	shutdownTimeout   = 5 * time.Second
)

var directoryCmd = cli.Command{
	Name:  "directory",
	Usage: "run a payjoin directory for local development",
	Description: "The gateway key pair is derived from a seed stored in the " +
		"datadir so that the ohttp keys survive restarts.",
	Action: directoryAction,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "listen",
			Usage: "address to listen on, overrides PAYJOIN_DIRECTORY_LISTEN_ADDR",
		},
		&cli.DurationFlag{
			Name:  "mailbox-ttl",
			Usage: "how long mailboxes keep their content",
			Value: directory.DefaultMailboxTTL,
		},
	},
}

func directoryAction(ctx *cli.Context) error {
	seed, err := loadOrCreateSeed(filepath.Join(config.GetDatadir(), directorySeedFile))
	if err != nil {
		return err
	}
	gateway, err := ohttp.NewGatewayFromSeed(directoryKeyID, seed)
	if err != nil {
		return err
	}
	server := directory.NewServer(gateway, ctx.Duration("mailbox-ttl"))

	keys, err := ohttp.EncodeKeys(server.KeyConfig())
	if err != nil {
		return err
	}
	log.Infof("ohttp keys: %s", hex.EncodeToString(keys))

	addr := config.GetString(config.DirectoryListenAddrKey)
	if ctx.IsSet("listen") {
		addr = ctx.String("listen")
	}

	runCtx, cancel := signalContext()
	defer cancel()

	errC := make(chan error, 1)
	go func() {
		errC <- server.Start(addr)
	}()

	select {
	case err := <-errC:
		return err
	case <-runCtx.Done():
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(
		context.Background(), shutdownTimeout,
	)
	defer cancelShutdown()
	log.Debug("shutting down directory")
	return server.Shutdown(shutdownCtx)
}

func loadOrCreateSeed(path string) ([]byte, error) {
	if buf, err := os.ReadFile(path); err == nil {
		return hex.DecodeString(string(buf))
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	seed := make([]byte, ohttp.KEM.Scheme().SeedSize())
	if _, err := rand.Read(seed); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), os.ModeDir|0755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(seed)), 0600); err != nil {
		return nil, err
	}
	return seed, nil
}
