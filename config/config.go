package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/wot-technology/wellspring/libs/log"
)

// NOTE: Most of the structs & relevant comments + the
// default configuration options were used to manually
// generate the config.toml. Please reflect any changes
// made here in the defaultConfigTemplate constant in
// config/toml.go
var (
	DefaultWellspringDir = ".wellspring"
	defaultConfigDir     = "config"
	defaultDataDir       = "data"

	defaultConfigFileName = "config.toml"
	defaultNodeKeyName    = "node_key.json"

	defaultConfigFilePath = filepath.Join(defaultConfigDir, defaultConfigFileName)
	defaultNodeKeyPath    = filepath.Join(defaultConfigDir, defaultNodeKeyName)
)

// Config defines the top level configuration for a wellspring node.
type Config struct {
	// Top level options use an anonymous struct
	BaseConfig `mapstructure:",squash"`

	Trust           *TrustConfig           `mapstructure:"trust"`
	Sync            *SyncConfig            `mapstructure:"sync"`
	Instrumentation *InstrumentationConfig `mapstructure:"instrumentation"`
}

// ConfigFilePath returns the rooted path of the TOML config file.
func (cfg *Config) ConfigFilePath() string {
	return rootify(defaultConfigFilePath, cfg.RootDir)
}

// DefaultConfig returns a default configuration for a wellspring node.
func DefaultConfig() *Config {
	return &Config{
		BaseConfig:      DefaultBaseConfig(),
		Trust:           DefaultTrustConfig(),
		Sync:            DefaultSyncConfig(),
		Instrumentation: DefaultInstrumentationConfig(),
	}
}

// TestConfig returns a configuration that can be used for testing.
func TestConfig() *Config {
	cfg := DefaultConfig()
	cfg.BaseConfig.DBBackend = "memdb"
	cfg.Sync.Interval = 100 * time.Millisecond
	return cfg
}

// SetRoot sets the RootDir for all Config structs.
func (cfg *Config) SetRoot(root string) *Config {
	cfg.BaseConfig.RootDir = root
	return cfg
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *Config) ValidateBasic() error {
	if err := cfg.BaseConfig.ValidateBasic(); err != nil {
		return err
	}
	if err := cfg.Trust.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [trust] section: %w", err)
	}
	if err := cfg.Sync.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [sync] section: %w", err)
	}
	if err := cfg.Instrumentation.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [instrumentation] section: %w", err)
	}
	return nil
}

//-----------------------------------------------------------------------------
// BaseConfig

// BaseConfig defines the base configuration for a wellspring node.
type BaseConfig struct {
	// The root directory for all data.
	// This should be set in viper so it can unmarshal into this struct
	RootDir string `mapstructure:"home"`

	// A custom human readable name for this node
	Moniker string `mapstructure:"moniker"`

	// TCP address for the sync listener to bind to
	ListenAddr string `mapstructure:"listen-addr"`

	// Database backend: goleveldb | memdb | badgerdb
	DBBackend string `mapstructure:"db-backend"`

	// Database directory
	DBPath string `mapstructure:"db-dir"`

	// Output level for logging
	LogLevel string `mapstructure:"log-level"`

	// Output format: 'plain' (colored text) or 'json'
	LogFormat string `mapstructure:"log-format"`

	// Path to the JSON file containing the node key and identity
	NodeKey string `mapstructure:"node-key-file"`
}

// DefaultBaseConfig returns a default base configuration.
func DefaultBaseConfig() BaseConfig {
	return BaseConfig{
		Moniker:    "anonymous",
		ListenAddr: "tcp://0.0.0.0:26890",
		DBBackend:  "goleveldb",
		DBPath:     defaultDataDir,
		LogLevel:   log.LogLevelInfo,
		LogFormat:  log.LogFormatPlain,
		NodeKey:    defaultNodeKeyPath,
	}
}

// NodeKeyFile returns the full path to the node key file.
func (cfg BaseConfig) NodeKeyFile() string {
	return rootify(cfg.NodeKey, cfg.RootDir)
}

// DBDir returns the full path to the database directory.
func (cfg BaseConfig) DBDir() string {
	return rootify(cfg.DBPath, cfg.RootDir)
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg BaseConfig) ValidateBasic() error {
	switch cfg.LogFormat {
	case log.LogFormatJSON, log.LogFormatPlain, log.LogFormatText:
		return nil
	default:
		return fmt.Errorf("unknown log format: %s", cfg.LogFormat)
	}
}

//-----------------------------------------------------------------------------
// TrustConfig

// TrustConfig defines the parameters of the trust graph engine.
type TrustConfig struct {
	// Per-hop attenuation applied to transitive trust
	Decay float64 `mapstructure:"decay"`

	// Default traversal depth bound for trust queries
	MaxHops int `mapstructure:"max-hops"`

	// Recursion depth bound for groundedness scoring
	GroundednessDepth int `mapstructure:"groundedness-depth"`

	// Cache trust scores until the next write
	CacheScores bool `mapstructure:"cache-scores"`
}

// DefaultTrustConfig returns a default trust engine configuration.
func DefaultTrustConfig() *TrustConfig {
	return &TrustConfig{
		Decay:             0.5,
		MaxHops:           4,
		GroundednessDepth: 6,
		CacheScores:       true,
	}
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *TrustConfig) ValidateBasic() error {
	if cfg.Decay <= 0 || cfg.Decay >= 1 {
		return fmt.Errorf("decay must be in (0, 1), got %v", cfg.Decay)
	}
	if cfg.MaxHops < 1 {
		return fmt.Errorf("max-hops must be at least 1, got %d", cfg.MaxHops)
	}
	if cfg.GroundednessDepth < 1 {
		return fmt.Errorf("groundedness-depth must be at least 1, got %d", cfg.GroundednessDepth)
	}
	return nil
}

//-----------------------------------------------------------------------------
// SyncConfig

// SyncConfig defines the parameters of the scope sync protocol.
type SyncConfig struct {
	// Peer addresses to reconcile with, host:port
	Peers []string `mapstructure:"peers"`

	// Scopes to reconcile, as sha256:<hex> digests; empty syncs every
	// scope this node holds a membership for
	Scopes []string `mapstructure:"scopes"`

	// How often to start a reconciliation pass against each peer
	Interval time.Duration `mapstructure:"interval"`

	// Item count at or below which a range is enumerated instead of
	// sub-fingerprinted
	EnumerateThreshold uint64 `mapstructure:"enumerate-threshold"`

	// Sub-ranges a mismatched range splits into, between 4 and 32
	Branching int `mapstructure:"branching"`

	// Reconciliation rounds before a conversation gives up
	MaxRounds int `mapstructure:"max-rounds"`
}

// DefaultSyncConfig returns a default scope sync configuration.
func DefaultSyncConfig() *SyncConfig {
	return &SyncConfig{
		Interval:           30 * time.Second,
		EnumerateThreshold: 16,
		Branching:          8,
		MaxRounds:          64,
	}
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *SyncConfig) ValidateBasic() error {
	if cfg.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %v", cfg.Interval)
	}
	if cfg.Branching < 4 || cfg.Branching > 32 {
		return fmt.Errorf("branching must be in [4, 32], got %d", cfg.Branching)
	}
	if cfg.MaxRounds < 1 {
		return fmt.Errorf("max-rounds must be at least 1, got %d", cfg.MaxRounds)
	}
	return nil
}

//-----------------------------------------------------------------------------
// InstrumentationConfig

// InstrumentationConfig defines the configuration for metrics reporting.
type InstrumentationConfig struct {
	// When true, Prometheus metrics are served under /metrics on
	// PrometheusListenAddr.
	Prometheus bool `mapstructure:"prometheus"`

	// Address to listen for Prometheus collector(s) connections.
	PrometheusListenAddr string `mapstructure:"prometheus-listen-addr"`

	// Instrumentation namespace.
	Namespace string `mapstructure:"namespace"`
}

// DefaultInstrumentationConfig returns a default configuration for metrics
// reporting.
func DefaultInstrumentationConfig() *InstrumentationConfig {
	return &InstrumentationConfig{
		Prometheus:           false,
		PrometheusListenAddr: ":26660",
		Namespace:            "wellspring",
	}
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *InstrumentationConfig) ValidateBasic() error {
	if cfg.Prometheus && cfg.PrometheusListenAddr == "" {
		return fmt.Errorf("prometheus-listen-addr must be set when prometheus is enabled")
	}
	return nil
}

func rootify(path, root string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}
