// Package config loads the wallet settings from <datadir>/config.json,
// creating the file with defaults on first run. Every key can be overridden
// by a DOI_ prefixed environment variable, e.g. DOI_GAP_LIMIT=40.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/doichain/go-sdk/network"
	"github.com/doichain/go-sdk/types"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const (
	NetworkKey           = "network"
	ElectrumURLKey       = "electrum_url"
	DatadirKey           = "datadir"
	StoreTypeKey         = "store_type"
	LogLevelKey          = "log_level"
	GapLimitKey          = "gap_limit"
	BatchSizeKey         = "batch_size"
	MinBatchSizeKey      = "min_batch_size"
	MaxBatchSizeKey      = "max_batch_size"
	StorageFeeKey        = "storage_fee"
	UnconfirmedFirstKey  = "unconfirmed_first"
	RequestsPerSecondKey = "requests_per_second"
	PublishAttemptsKey   = "publish_max_attempts"
	PublishDelayKey      = "publish_retry_delay"

	envPrefix  = "DOI"
	configName = "config"
	configType = "json"
)

var DefaultDatadir = btcutil.AppDataDir("doiwallet", false)

var defaultElectrumURLs = map[string]string{
	network.DoichainMainnet: "wss://big-parrot-60.doi.works:50004",
	network.DoichainRegtest: "tcp://localhost:50001",
	network.BitcoinMainnet:  "wss://btcpay.doi.works:50004",
}

type Config struct {
	types.Config
	LogLevel log.Level
}

// LoadConfig reads the configuration of the given datadir, or of the
// default one if empty.
func LoadConfig(datadir string) (*Config, error) {
	if datadir == "" {
		datadir = DefaultDatadir
	}

	vip := viper.New()
	vip.SetConfigName(configName)
	vip.SetConfigType(configType)
	vip.AddConfigPath(datadir)
	vip.SetEnvPrefix(envPrefix)
	vip.AutomaticEnv()
	setDefaults(vip, datadir)

	if err := vip.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if err := createDefaultConfig(vip, datadir); err != nil {
			return nil, err
		}
	}

	if vip.GetString(ElectrumURLKey) == "" {
		vip.Set(ElectrumURLKey, defaultElectrumURLs[vip.GetString(NetworkKey)])
	}

	cfg, err := fromViper(vip)
	if err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(vip *viper.Viper, datadir string) {
	vip.SetDefault(NetworkKey, network.DoichainMainnet)
	vip.SetDefault(ElectrumURLKey, "")
	vip.SetDefault(DatadirKey, datadir)
	vip.SetDefault(StoreTypeKey, types.KVStore)
	vip.SetDefault(LogLevelKey, log.InfoLevel.String())
	vip.SetDefault(GapLimitKey, 20)
	vip.SetDefault(BatchSizeKey, 10)
	vip.SetDefault(MinBatchSizeKey, 5)
	vip.SetDefault(MaxBatchSizeKey, 20)
	vip.SetDefault(StorageFeeKey, 1_000_000)
	vip.SetDefault(UnconfirmedFirstKey, false)
	vip.SetDefault(RequestsPerSecondKey, 0)
	vip.SetDefault(PublishAttemptsKey, 3)
	vip.SetDefault(PublishDelayKey, "2s")
}

func createDefaultConfig(vip *viper.Viper, datadir string) error {
	if err := os.MkdirAll(datadir, os.ModeDir|0755); err != nil {
		return fmt.Errorf("error creating datadir: %w", err)
	}
	path := filepath.Join(datadir, fmt.Sprintf("%s.%s", configName, configType))
	if err := vip.SafeWriteConfigAs(path); err != nil {
		var exists viper.ConfigFileAlreadyExistsError
		if !errors.As(err, &exists) {
			return fmt.Errorf("error creating config file: %w", err)
		}
	}
	log.Debugf("created default configuration file %s", path)
	return nil
}

func fromViper(vip *viper.Viper) (*Config, error) {
	level, err := log.ParseLevel(vip.GetString(LogLevelKey))
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", LogLevelKey, err)
	}

	return &Config{
		Config: types.Config{
			Network:           vip.GetString(NetworkKey),
			ExplorerURL:       vip.GetString(ElectrumURLKey),
			Datadir:           vip.GetString(DatadirKey),
			StoreType:         vip.GetString(StoreTypeKey),
			GapLimit:          vip.GetInt(GapLimitKey),
			BatchSize:         vip.GetInt(BatchSizeKey),
			MinBatchSize:      vip.GetInt(MinBatchSizeKey),
			MaxBatchSize:      vip.GetInt(MaxBatchSizeKey),
			StorageFee:        vip.GetInt64(StorageFeeKey),
			UnconfirmedFirst:  vip.GetBool(UnconfirmedFirstKey),
			RequestsPerSecond: vip.GetInt(RequestsPerSecondKey),
			PublishRetry: types.RetryConfig{
				MaxAttempts: vip.GetInt(PublishAttemptsKey),
				Delay:       vip.GetDuration(PublishDelayKey),
			},
		},
		LogLevel: level,
	}, nil
}

func (c *Config) validate() error {
	if _, err := network.FromString(c.Network); err != nil {
		return fmt.Errorf("%w, expected one of %v", err, network.Names())
	}
	if c.ExplorerURL == "" {
		return fmt.Errorf("%s must not be empty", ElectrumURLKey)
	}
	if c.GapLimit <= 0 {
		return fmt.Errorf("%s must be positive", GapLimitKey)
	}
	if c.MinBatchSize <= 0 || c.MaxBatchSize < c.MinBatchSize {
		return fmt.Errorf(
			"invalid batch bounds: %s %d, %s %d",
			MinBatchSizeKey, c.MinBatchSize, MaxBatchSizeKey, c.MaxBatchSize,
		)
	}
	if c.BatchSize < c.MinBatchSize || c.BatchSize > c.MaxBatchSize {
		return fmt.Errorf(
			"%s must be between %d and %d", BatchSizeKey, c.MinBatchSize, c.MaxBatchSize,
		)
	}
	if c.StorageFee <= 0 {
		return fmt.Errorf("%s must be positive", StorageFeeKey)
	}
	switch c.StoreType {
	case types.KVStore, types.InMemoryStore:
	default:
		return fmt.Errorf("unknown %s %s", StoreTypeKey, c.StoreType)
	}
	return nil
}
