package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"triad-node/logger"

	"github.com/spf13/viper"
)

// Config holds all configuration for the node. Tags map config file keys
// and TRIAD_* environment variables.
type Config struct {
	// Node
	DataDir string `mapstructure:"datadir"`
	RPCAddr string `mapstructure:"rpcaddr"`
	RPCPort int    `mapstructure:"rpcport"`

	// Consensus
	Validators     []string `mapstructure:"validators"`
	QuorumFraction float64  `mapstructure:"quorum_fraction"`

	// Proof-of-work checkpoints
	PowDifficulty      int           `mapstructure:"pow_difficulty"`
	PowMaxAttempts     int           `mapstructure:"pow_max_attempts"`
	Mining             bool          `mapstructure:"mining"`
	CheckpointInterval time.Duration `mapstructure:"checkpoint_interval"`

	// Proof-of-history
	PohJournal bool `mapstructure:"poh_journal"`

	// Logging
	LogLevel  string `mapstructure:"log_level"` // debug, info, warn, error
	Verbosity int    `mapstructure:"verbosity"` // used when log_level is unknown, 0-5

	// Performance
	EnableCache bool `mapstructure:"enable_cache"`
	CacheSize   int  `mapstructure:"cache_size"`
	Workers     int  `mapstructure:"workers"`

	EnableMetrics bool `mapstructure:"enable_metrics"`
}

var defaultConfig = Config{
	DataDir:            "./data_triad",
	RPCAddr:            "127.0.0.1",
	RPCPort:            8645,
	Validators:         []string{"v1", "v2", "v3"},
	QuorumFraction:     0.51,
	PowDifficulty:      3,
	PowMaxAttempts:     1_000_000,
	Mining:             false,
	CheckpointInterval: 30 * time.Second,
	PohJournal:         false,
	LogLevel:           "info",
	Verbosity:          3,
	EnableCache:        true,
	CacheSize:          1024,
	Workers:            4,
	EnableMetrics:      true,
}

// DefaultConfig is exported for flag defaults.
var DefaultConfig = defaultConfig

// keys lists every setting so that TRIAD_* variables are seen by Unmarshal
// even when no flag is bound to them.
var keys = []string{
	"datadir", "rpcaddr", "rpcport", "validators", "quorum_fraction",
	"pow_difficulty", "pow_max_attempts", "mining", "checkpoint_interval",
	"poh_journal", "log_level", "verbosity", "enable_cache", "cache_size",
	"workers", "enable_metrics",
}

// LoadConfig merges defaults with the config file, environment and flags
// already registered in viper.
func LoadConfig() (*Config, error) {
	currentConfig := DefaultConfig
	currentConfig.Validators = append([]string{}, DefaultConfig.Validators...)

	for _, key := range keys {
		viper.BindEnv(key)
	}
	if err := viper.Unmarshal(&currentConfig); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config from Viper: %w", err)
	}

	logger.Debugf("Effective config: DataDir='%s', RPC=%s:%d, Validators=%v, QuorumFraction=%v, PowDifficulty=%d, Mining=%t, PohJournal=%t, LogLevel='%s'",
		currentConfig.DataDir, currentConfig.RPCAddr, currentConfig.RPCPort, currentConfig.Validators,
		currentConfig.QuorumFraction, currentConfig.PowDifficulty, currentConfig.Mining, currentConfig.PohJournal, currentConfig.LogLevel)

	if err := validateAndCreateDirs(&currentConfig); err != nil {
		return nil, fmt.Errorf("config validation and directory creation failed: %w", err)
	}
	return &currentConfig, nil
}

func validateAndCreateDirs(config *Config) error {
	config.Validators = normalizeValidators(config.Validators)
	if len(config.Validators) == 0 {
		return fmt.Errorf("validators cannot be empty")
	}
	if !(config.QuorumFraction > 0 && config.QuorumFraction <= 1) {
		return fmt.Errorf("invalid quorum_fraction: %v. Must be in (0, 1]", config.QuorumFraction)
	}
	if config.PowDifficulty < 0 || config.PowDifficulty > 64 {
		return fmt.Errorf("invalid pow_difficulty: %d. Must be between 0 and 64", config.PowDifficulty)
	}
	if config.RPCPort <= 0 || config.RPCPort > 65535 {
		return fmt.Errorf("invalid RPC port: %d. Must be between 1 and 65535", config.RPCPort)
	}

	if config.PowMaxAttempts <= 0 {
		logger.Warningf("pow_max_attempts is invalid (%d), using default: %d", config.PowMaxAttempts, DefaultConfig.PowMaxAttempts)
		config.PowMaxAttempts = DefaultConfig.PowMaxAttempts
	}
	if config.CheckpointInterval <= 0 {
		logger.Warningf("checkpoint_interval is invalid (%v), using default: %v", config.CheckpointInterval, DefaultConfig.CheckpointInterval)
		config.CheckpointInterval = DefaultConfig.CheckpointInterval
	}
	if config.CacheSize <= 0 && config.EnableCache {
		logger.Warningf("cache_size is invalid (%d items), using default: %d items", config.CacheSize, DefaultConfig.CacheSize)
		config.CacheSize = DefaultConfig.CacheSize
	}
	if config.Workers <= 0 {
		logger.Warningf("workers is invalid (%d), using default: %d", config.Workers, DefaultConfig.Workers)
		config.Workers = DefaultConfig.Workers
	}

	// The data directory only holds the PoH journal.
	if !config.PohJournal {
		return nil
	}
	config.DataDir = strings.TrimSpace(config.DataDir)
	if config.DataDir == "" {
		return fmt.Errorf("datadir cannot be empty when poh_journal is enabled")
	}
	if err := os.MkdirAll(config.GetDataSubDir("poh"), 0755); err != nil {
		return fmt.Errorf("failed to create data directory '%s': %w", config.DataDir, err)
	}
	return nil
}

// normalizeValidators trims ids and splits comma-joined entries, which is
// how a TRIAD_VALIDATORS environment variable arrives.
func normalizeValidators(in []string) []string {
	var out []string
	for _, entry := range in {
		for _, id := range strings.Split(entry, ",") {
			if id = strings.TrimSpace(id); id != "" {
				out = append(out, id)
			}
		}
	}
	return out
}

func (c *Config) GetLogLevel() logger.LogLevel {
	switch strings.ToLower(c.LogLevel) {
	case "debug", "trace":
		return logger.DEBUG
	case "info":
		return logger.INFO
	case "warn", "warning":
		return logger.WARNING
	case "error":
		return logger.ERROR
	case "fatal":
		return logger.FATAL
	default:
		logger.Warningf("Unknown log_level '%s', falling back to verbosity %d", c.LogLevel, c.Verbosity)
		switch c.Verbosity {
		case 0, 1:
			return logger.ERROR
		case 2:
			return logger.WARNING
		case 3:
			return logger.INFO
		case 4, 5:
			return logger.DEBUG
		default:
			logger.Warningf("Unknown verbosity level %d, defaulting to INFO", c.Verbosity)
			return logger.INFO
		}
	}
}

func (c *Config) GetDataSubDir(subdir string) string {
	return filepath.Join(c.DataDir, subdir)
}

// RPCListenAddr is the host:port the HTTP API binds to.
func (c *Config) RPCListenAddr() string {
	return fmt.Sprintf("%s:%d", c.RPCAddr, c.RPCPort)
}
