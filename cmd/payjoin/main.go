package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/tdex-network/tdex-payjoin/internal/config"
	"github.com/tdex-network/tdex-payjoin/pkg/stats"
)

var (
	datadirFlag = cli.StringFlag{
		Name:  "datadir",
		Usage: "data directory, overrides PAYJOIN_DATADIR",
	}
	networkFlag = cli.StringFlag{
		Name:  "network",
		Usage: "bitcoin network: mainnet, testnet, regtest or signet",
	}
	relayFlag = cli.StringFlag{
		Name:  "relay",
		Usage: "ohttp relay url, overrides PAYJOIN_OHTTP_RELAY_URL",
	}
	directoryFlag = cli.StringFlag{
		Name:  "directory",
		Usage: "payjoin directory url, overrides PAYJOIN_DIRECTORY_URL",
	}
	dbFlag = cli.StringFlag{
		Name:  "db",
		Usage: "session storage: badger, redis or inmemory",
	}

	// flagKeys maps every global flag to the config key it overrides.
	flagKeys = map[string]string{
		datadirFlag.Name:   config.DatadirKey,
		networkFlag.Name:   config.NetworkKey,
		relayFlag.Name:     config.OhttpRelayURLKey,
		directoryFlag.Name: config.DirectoryURLKey,
		dbFlag.Name:        config.DBTypeKey,
	}
)

func main() {
	app := cli.NewApp()

	app.Version = "0.1.0"
	app.Name = "payjoin"
	app.Usage = "Command line interface for asynchronous payjoin sessions"
	app.Flags = []cli.Flag{
		&datadirFlag,
		&networkFlag,
		&relayFlag,
		&directoryFlag,
		&dbFlag,
	}
	app.Before = initConfig
	app.Commands = append(
		app.Commands,
		&keys,
		&uri,
		&receive,
		&send,
		&resume,
		&sessions,
		&directoryCmd,
	)

	if err := app.Run(os.Args); err != nil {
		fatal(err)
	}
}

// initConfig exports the global flags to the environment so that they go
// through the same validation as the env vars.
func initConfig(ctx *cli.Context) error {
	for flag, key := range flagKeys {
		if !ctx.IsSet(flag) {
			continue
		}
		if err := os.Setenv("PAYJOIN_"+key, ctx.String(flag)); err != nil {
			return err
		}
	}
	if err := config.InitConfig(); err != nil {
		return err
	}
	log.SetLevel(log.Level(config.GetInt(config.LogLevelKey)))
	return nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM. When the
// profiler is enabled the memory statistics are logged until the context is
// done.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := signal.NotifyContext(
		context.Background(), syscall.SIGINT, syscall.SIGTERM,
	)
	if config.GetBool(config.EnableProfilerKey) {
		dumpPath := filepath.Join(
			config.GetDatadir(), config.ProfilerLocation, "metrics.txt",
		)
		stats.EnableMemoryStatistics(
			ctx, config.GetSeconds(config.StatsIntervalKey), dumpPath,
		)
	}
	return ctx, cancel
}

func printJSON(resp interface{}) {
	jsonBytes, err := json.MarshalIndent(resp, "", "\t")
	if err != nil {
		fmt.Println("unable to decode response: ", err)
		return
	}
	fmt.Println(string(jsonBytes))
}

type invalidUsageError struct {
	ctx     *cli.Context
	command string
}

func (e *invalidUsageError) Error() string {
	return fmt.Sprintf("invalid usage of command %s", e.command)
}

func fatal(err error) {
	var e *invalidUsageError
	if errors.As(err, &e) {
		_ = cli.ShowCommandHelp(e.ctx, e.command)
	} else {
		_, _ = fmt.Fprintf(os.Stderr, "[payjoin] %v\n", err)
	}
	os.Exit(1)
}
