package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/tdex-network/tdex-payjoin/internal/config"
	"github.com/tdex-network/tdex-payjoin/internal/core/application"
	"github.com/tdex-network/tdex-payjoin/internal/core/ports"
	outpointregistry "github.com/tdex-network/tdex-payjoin/internal/infrastructure/outpoint-registry"
	dbbadger "github.com/tdex-network/tdex-payjoin/internal/infrastructure/storage/db/badger"
	"github.com/tdex-network/tdex-payjoin/internal/infrastructure/storage/db/inmemory"
	dbredis "github.com/tdex-network/tdex-payjoin/internal/infrastructure/storage/db/redis"
	"github.com/tdex-network/tdex-payjoin/pkg/ohttp"
	"github.com/tdex-network/tdex-payjoin/pkg/psbtutil"
	"github.com/tdex-network/tdex-payjoin/pkg/transport"
	"github.com/tdex-network/tdex-payjoin/pkg/wallet"
)

var (
	wifFlag = cli.StringFlag{
		Name:  "wif",
		Usage: "WIF encoded private key of the wallet",
	}
	utxoFlag = cli.StringSliceFlag{
		Name:  "utxo",
		Usage: "wallet utxo as <txid>:<vout>:<sats>, can be repeated",
	}
	ohttpKeysFlag = cli.StringFlag{
		Name:  "ohttp-keys",
		Usage: "hex encoded directory keys, fetched through the relay if missing",
	}
)

func getRepoManager() (ports.RepoManager, error) {
	switch config.GetString(config.DBTypeKey) {
	case config.DBInMemory:
		return inmemory.NewRepoManager(), nil
	case config.DBRedis:
		return dbredis.NewRepoManager(dbredis.Config{
			Address:  config.GetString(config.RedisAddrKey),
			Password: config.GetString(config.RedisPasswordKey),
			DB:       config.GetInt(config.RedisDBKey),
		})
	default:
		dbDir := filepath.Join(config.GetDatadir(), config.DbLocation)
		return dbbadger.NewRepoManager(dbDir, log.StandardLogger())
	}
}

func getRelayClient() *transport.HTTPClient {
	return transport.NewHTTPClient(config.GetMilliseconds(config.RelayTimeoutKey))
}

// getWallet returns the wallet of the --wif flag funded with the --utxo
// ones, or nil if the flag is missing.
func getWallet(ctx *cli.Context) (*wallet.Wallet, error) {
	wif := ctx.String(wifFlag.Name)
	if wif == "" {
		return nil, nil
	}
	w, err := wallet.FromWIF(wif, config.GetNetwork())
	if err != nil {
		return nil, err
	}
	for _, utxo := range ctx.StringSlice(utxoFlag.Name) {
		i := strings.LastIndex(utxo, ":")
		if i < 0 {
			return nil, fmt.Errorf("invalid utxo %s", utxo)
		}
		outpoint, err := psbtutil.ParseOutPoint(utxo[:i])
		if err != nil {
			return nil, err
		}
		value, err := strconv.ParseInt(utxo[i+1:], 10, 64)
		if err != nil || value <= 0 {
			return nil, fmt.Errorf("invalid utxo value %s", utxo[i+1:])
		}
		w.AddUtxo(*outpoint, value)
	}
	return w, nil
}

func getOhttpKeys(ctx context.Context, keysHex string) (*ohttp.KeyConfig, error) {
	if keysHex != "" {
		buf, err := hex.DecodeString(keysHex)
		if err != nil {
			return nil, fmt.Errorf("invalid ohttp keys: %s", err)
		}
		return ohttp.DecodeKeys(buf)
	}
	relay, directory, err := getRelayAndDirectory()
	if err != nil {
		return nil, err
	}
	return ohttp.FetchKeys(ctx, relay, directory)
}

func getRelayAndDirectory() (string, string, error) {
	relay := config.GetString(config.OhttpRelayURLKey)
	directory := config.GetString(config.DirectoryURLKey)
	if relay == "" || directory == "" {
		return "", "", fmt.Errorf("relay and directory urls are required")
	}
	return relay, directory, nil
}

func getMinFeeRate() psbtutil.FeeRate {
	return psbtutil.FeeRateFromSatPerVByte(uint64(config.GetInt(config.MinFeeRateKey)))
}

func getReceiverService(
	ctx *cli.Context, repo ports.RepoManager, w *wallet.Wallet,
) (application.ReceiverService, error) {
	relay, directory, err := getRelayAndDirectory()
	if err != nil {
		return nil, err
	}
	keys, err := getOhttpKeys(ctx.Context, ctx.String(ohttpKeysFlag.Name))
	if err != nil {
		return nil, err
	}

	minFeeRate := getMinFeeRate()
	var maxFeeRate *psbtutil.FeeRate
	if ctx.IsSet(maxFeeRateFlag.Name) {
		rate, err := psbtutil.ParseFeeRate(ctx.String(maxFeeRateFlag.Name))
		if err != nil {
			return nil, err
		}
		maxFeeRate = &rate
	}

	return application.NewReceiverService(
		repo.SessionRepository(),
		getRelayClient(),
		w,
		outpointregistry.NewRegistry(
			repo.SeenOutpointRepository(),
			config.GetSeconds(config.SeenInputsTTLKey),
		),
		application.ReceiverOpts{
			Directory:                 directory,
			Relay:                     relay,
			OhttpKeys:                 keys,
			Network:                   config.GetNetwork(),
			PollInterval:              config.GetMilliseconds(config.PollIntervalKey),
			ExpireAfter:               config.GetSeconds(config.SessionExpiryKey),
			DisableOutputSubstitution: ctx.Bool(disableSubstitutionFlag.Name),
			Interactive:               ctx.Bool(interactiveFlag.Name),
			MinFeeRate:                &minFeeRate,
			MaxFeeRate:                maxFeeRate,
		},
	)
}

// getSenderService returns a sender service signing the proposals with w.
// A nil w leaves the proposals unsigned.
func getSenderService(
	repo ports.RepoManager, w *wallet.Wallet,
) (application.SenderService, error) {
	relay := config.GetString(config.OhttpRelayURLKey)
	if relay == "" {
		return nil, fmt.Errorf("relay url is required")
	}

	var signer ports.Wallet
	if w != nil {
		signer = w
	}
	return application.NewSenderService(
		repo.SessionRepository(),
		getRelayClient(),
		signer,
		application.SenderOpts{
			Relay:        relay,
			Network:      config.GetNetwork(),
			PollInterval: config.GetMilliseconds(config.PollIntervalKey),
		},
	)
}
