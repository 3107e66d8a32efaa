package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/spf13/viper"
	"github.com/tdex-network/tdex-payjoin/pkg/bip21"
)

const (
	// DatadirKey is the local data directory to store the sessions
	DatadirKey = "DATADIR"
	// LogLevelKey are the different logging levels. For reference on the values https://godoc.org/github.com/sirupsen/logrus#Level
	LogLevelKey = "LOG_LEVEL"
	// NetworkKey is one of mainnet, testnet, regtest, signet
	NetworkKey = "NETWORK"
	// OhttpRelayURLKey is the ohttp relay every request to the directory goes
	// through
	OhttpRelayURLKey = "OHTTP_RELAY_URL"
	// DirectoryURLKey is the payjoin directory hosting the mailboxes
	DirectoryURLKey = "DIRECTORY_URL"
	// DBTypeKey is used to switch database type between those supported
	DBTypeKey = "DB_TYPE"
	// RedisAddrKey is the <host:port> of the redis server, required for the
	// redis db type
	RedisAddrKey     = "REDIS_ADDR"
	RedisPasswordKey = "REDIS_PASSWORD"
	RedisDBKey       = "REDIS_DB"
	// PollIntervalKey is the interval in milliseconds between two mailbox
	// polls
	PollIntervalKey = "POLL_INTERVAL"
	// SessionExpiryKey is the lifetime in seconds of a receiver session
	SessionExpiryKey = "SESSION_EXPIRY"
	// RelayTimeoutKey is the timeout in milliseconds of a relay round trip
	RelayTimeoutKey = "RELAY_TIMEOUT"
	// SeenInputsTTLKey is how long in seconds the receiver remembers the
	// inputs of the original proposals
	SeenInputsTTLKey = "SEEN_INPUTS_TTL"
	// MinFeeRateKey is the minimum fee rate in sat/vB of the transactions
	MinFeeRateKey = "MIN_FEE_RATE"
	// DirectoryListenAddrKey is the address the development directory
	// listens on
	DirectoryListenAddrKey = "DIRECTORY_LISTEN_ADDR"
	// EnableProfilerKey periodically logs memory statistics and dumps the
	// prometheus metrics on exit
	EnableProfilerKey = "ENABLE_PROFILER"
	// StatsIntervalKey defines interval in seconds for printing the memory
	// statistics
	StatsIntervalKey = "STATS_INTERVAL"

	DbLocation       = "db"
	ProfilerLocation = "stats"

	DBBadger   = "badger"
	DBRedis    = "redis"
	DBInMemory = "inmemory"

	minPollInterval = 100
)

var vip *viper.Viper
var defaultDatadir = btcutil.AppDataDir("tdex-payjoin", false)

func InitConfig() error {
	vip = viper.New()
	vip.SetEnvPrefix("PAYJOIN")
	vip.AutomaticEnv()

	vip.SetDefault(DatadirKey, defaultDatadir)
	vip.SetDefault(LogLevelKey, 4)
	vip.SetDefault(NetworkKey, "mainnet")
	vip.SetDefault(DBTypeKey, DBBadger)
	vip.SetDefault(RedisDBKey, 0)
	vip.SetDefault(PollIntervalKey, 5000)
	vip.SetDefault(SessionExpiryKey, 86400)
	vip.SetDefault(RelayTimeoutKey, 30000)
	vip.SetDefault(SeenInputsTTLKey, 7*86400)
	vip.SetDefault(MinFeeRateKey, 1)
	vip.SetDefault(DirectoryListenAddrKey, ":8080")
	vip.SetDefault(EnableProfilerKey, false)
	vip.SetDefault(StatsIntervalKey, 600)

	if err := validate(); err != nil {
		return fmt.Errorf("error while validating config: %s", err)
	}

	if err := initDatadir(); err != nil {
		return fmt.Errorf("error while creating datadir: %s", err)
	}

	return nil
}

// Set overrides the value of key, for example with a command line flag.
func Set(key string, value interface{}) {
	vip.Set(key, value)
}

func GetString(key string) string {
	return vip.GetString(key)
}

func GetInt(key string) int {
	return vip.GetInt(key)
}

func GetBool(key string) bool {
	return vip.GetBool(key)
}

func GetDatadir() string {
	return GetString(DatadirKey)
}

// GetNetwork returns the chain params of the configured network.
func GetNetwork() *chaincfg.Params {
	net, _ := bip21.NetworkFromName(GetString(NetworkKey))
	return net
}

// GetMilliseconds returns the value of key as a duration in milliseconds.
func GetMilliseconds(key string) time.Duration {
	return time.Duration(GetInt(key)) * time.Millisecond
}

// GetSeconds returns the value of key as a duration in seconds.
func GetSeconds(key string) time.Duration {
	return time.Duration(GetInt(key)) * time.Second
}

func validate() error {
	datadir := GetString(DatadirKey)
	if len(datadir) <= 0 {
		return fmt.Errorf("missing datadir")
	}

	if _, err := bip21.NetworkFromName(GetString(NetworkKey)); err != nil {
		return err
	}

	for _, key := range []string{OhttpRelayURLKey, DirectoryURLKey} {
		if !vip.IsSet(key) {
			continue
		}
		if err := validateURL(GetString(key)); err != nil {
			return fmt.Errorf("%s: %s", key, err)
		}
	}

	switch GetString(DBTypeKey) {
	case DBBadger, DBInMemory:
	case DBRedis:
		if GetString(RedisAddrKey) == "" {
			return fmt.Errorf("%s is required for db type %s", RedisAddrKey, DBRedis)
		}
	default:
		return fmt.Errorf("unknown db type %s", GetString(DBTypeKey))
	}

	if GetInt(PollIntervalKey) < minPollInterval {
		return fmt.Errorf("%s must be at least %dms", PollIntervalKey, minPollInterval)
	}
	for _, key := range []string{SessionExpiryKey, RelayTimeoutKey, SeenInputsTTLKey} {
		if GetInt(key) <= 0 {
			return fmt.Errorf("%s must be a positive number", key)
		}
	}
	if GetInt(MinFeeRateKey) < 1 {
		return fmt.Errorf("%s must be equal or greater than 1", MinFeeRateKey)
	}

	return nil
}

func validateURL(s string) error {
	u, err := url.Parse(s)
	if err != nil {
		return err
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s is not an absolute http(s) url", s)
	}
	return nil
}

func initDatadir() error {
	datadir := GetDatadir()
	if GetString(DBTypeKey) == DBBadger {
		if err := makeDirectoryIfNotExists(filepath.Join(datadir, DbLocation)); err != nil {
			return err
		}
	}

	profilerEnabled := GetBool(EnableProfilerKey)
	if profilerEnabled {
		if err := makeDirectoryIfNotExists(filepath.Join(datadir, ProfilerLocation)); err != nil {
			return err
		}
	}
	return nil
}

func makeDirectoryIfNotExists(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return os.MkdirAll(path, os.ModeDir|0755)
	}
	return nil
}
