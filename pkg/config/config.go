// Package config loads csnode's operating parameters through viper
// (environment variables, an optional TOML file, and defaults), exposed
// behind a sync.Once-guarded package-level accessor. Adapted from the
// teacher's pkg/config/groups.go struct shapes and the cfg.Get()
// call-site convention seen in cmd/dusk/voucher.go.
package config

import (
	"sync"
	"time"

	"github.com/spf13/viper"
)

// Configuration is the full set of options csnode recognizes. Only the
// `Consensus` and `Peers` groups are specified by spec.md §6; the rest is
// the ambient stack every component still needs (logging, network
// bootstrap, persistence handle).
type Configuration struct {
	General   generalConfiguration
	Logger    loggerConfiguration
	Network   networkConfiguration
	Database  databaseConfiguration
	Consensus consensusConfiguration
	Peers     networkPeersConfiguration
}

var (
	once   sync.Once
	global *Configuration
)

// defaults mirrors spec.md §6's "default" column.
func defaults() *Configuration {
	return &Configuration{
		General: generalConfiguration{Network: "mainnet", KeyFile: "./csnode.key"},
		Logger:  loggerConfiguration{Level: "info", Output: "stdout"},
		Network: networkConfiguration{Port: "7000", Version: 1, ChainUUID: 1},
		Database: databaseConfiguration{
			Driver: "lmdb",
			Dir:    "./chain.db",
		},
		Consensus: consensusConfiguration{
			MinTrustedNodes:     4,
			MaxTrustedNodes:     100,
			DefaultStateTimeout: 5 * time.Second,
			StageRequestDelay:   400 * time.Millisecond,
			RoundDifferent:      2,
			MaxBlockCount:       25,
			MaxWaitRound:        4,
			MaxWaitReply:        6,
			MetaCapacity:        100,
			CandidateHashLimit:  25,
			LagThreshold:        5,
		},
		Peers: networkPeersConfiguration{
			MaxNeighbours:   128,
			LastSeenTimeout: 30 * time.Second,
			SweepInterval:   10 * time.Second,
		},
	}
}

// Load reads configuration from an optional file path (TOML) on top of
// the defaults. With a path, a CSNODE_-prefixed environment variable
// overrides a key only if the file itself sets that key; fields the file
// does not set keep their defaults. With no path, the defaults are
// returned and the environment is not read. Call once at process start;
// subsequent Get() calls return the same instance.
func Load(path string) (*Configuration, error) {
	cfg := defaults()

	v := viper.New()
	v.SetEnvPrefix("CSNODE")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
		if err := v.Unmarshal(cfg); err != nil {
			return nil, err
		}
	}

	once.Do(func() { global = cfg })
	return cfg, nil
}

// Get returns the process-wide configuration, loading defaults if Load
// was never called. This mirrors the teacher's cfg.Get() accessor used
// throughout cmd/dusk.
func Get() *Configuration {
	once.Do(func() { global = defaults() })
	return global
}
