package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hivemesh/hivemind/pkg/types"
	"github.com/spf13/viper"
)

// Version of the configuration schema
const Version = 2

// ConfigDirName is the hidden directory holding hive state under the data dir
const ConfigDirName = ".hivemind"

// ConfigFileName is the JSON configuration file written on init
const ConfigFileName = "config.json"

// EnvPrefix is the prefix for environment variable overrides
const EnvPrefix = "HIVEMIND"

// Config is the single JSON object persisted under the hidden directory.
// Environment variables may alter defaults at load time but never change
// the contract of an already-initialized swarm.
type Config struct {
	Version   int      `json:"version" mapstructure:"version"`
	Defaults  Defaults `json:"defaults" mapstructure:"defaults"`
	Features  Features `json:"features" mapstructure:"features"`
	DataDir   string   `json:"data_dir" mapstructure:"data_dir"`
	LogLevel  string   `json:"log_level" mapstructure:"log_level"`
	LogJSON   bool     `json:"log_json" mapstructure:"log_json"`
	CreatedAt string   `json:"created_at,omitempty" mapstructure:"created_at"`
}

// Defaults holds tunable swarm defaults
type Defaults struct {
	QueenMode          string        `json:"queen_mode" mapstructure:"queen_mode"`
	MaxWorkers         int           `json:"max_workers" mapstructure:"max_workers"`
	ConsensusAlgorithm string        `json:"consensus_algorithm" mapstructure:"consensus_algorithm"`
	ParticipationFloor float64       `json:"participation_floor" mapstructure:"participation_floor"`
	QueenVoteWeight    int           `json:"queen_vote_weight" mapstructure:"queen_vote_weight"`
	MemoryCacheSize    int           `json:"memory_cache_size" mapstructure:"memory_cache_size"`
	QueueHighWatermark int           `json:"queue_high_watermark" mapstructure:"queue_high_watermark"`
	StealIdle          time.Duration `json:"steal_idle_ms" mapstructure:"steal_idle_ms"`
	TaskTimeout        time.Duration `json:"task_timeout" mapstructure:"task_timeout"`
	TaskRetries        int           `json:"task_retries" mapstructure:"task_retries"`
	RetryBackoffBase   time.Duration `json:"retry_backoff_base" mapstructure:"retry_backoff_base"`
	DrainWindow        time.Duration `json:"drain_window" mapstructure:"drain_window"`
	RetireDrain        time.Duration `json:"retire_drain" mapstructure:"retire_drain"`
	AutoScaleInterval  time.Duration `json:"auto_scale_interval" mapstructure:"auto_scale_interval"`
	RestartBudget      int           `json:"restart_budget" mapstructure:"restart_budget"`
	RestartWindow      time.Duration `json:"restart_window" mapstructure:"restart_window"`
	QualityThreshold   float64       `json:"quality_threshold" mapstructure:"quality_threshold"`
}

// Features holds feature flags
type Features struct {
	AutoScale  bool `json:"auto_scale" mapstructure:"auto_scale"`
	Encryption bool `json:"encryption" mapstructure:"encryption"`
	Monitor    bool `json:"monitor" mapstructure:"monitor"`
	Verbose    bool `json:"verbose" mapstructure:"verbose"`
}

// Default returns the built-in configuration rooted at dataDir
func Default(dataDir string) *Config {
	return &Config{
		Version:  Version,
		DataDir:  dataDir,
		LogLevel: "info",
		Defaults: Defaults{
			QueenMode:          "centralized",
			MaxWorkers:         8,
			ConsensusAlgorithm: "majority",
			ParticipationFloor: 0.5,
			QueenVoteWeight:    3,
			MemoryCacheSize:    1000,
			QueueHighWatermark: 1000,
			StealIdle:          10 * time.Second,
			TaskTimeout:        5 * time.Minute,
			TaskRetries:        2,
			RetryBackoffBase:   500 * time.Millisecond,
			DrainWindow:        30 * time.Second,
			RetireDrain:        5 * time.Second,
			AutoScaleInterval:  10 * time.Second,
			RestartBudget:      5,
			RestartWindow:      time.Minute,
			QualityThreshold:   0.8,
		},
		Features: Features{
			AutoScale: true,
		},
	}
}

// Dir returns the hidden configuration directory under dataDir
func Dir(dataDir string) string {
	return filepath.Join(dataDir, ConfigDirName)
}

// Path returns the configuration file path under dataDir
func Path(dataDir string) string {
	return filepath.Join(Dir(dataDir), ConfigFileName)
}

// Load reads the configuration from the hidden directory, applying
// HIVEMIND_* environment overrides on top of file values. A missing file
// yields defaults; a file with a newer schema version is rejected.
func Load(dataDir string) (*Config, error) {
	if dir := os.Getenv(EnvPrefix + "_DATA_DIR"); dir != "" {
		dataDir = dir
	}

	v := viper.New()
	v.SetConfigFile(Path(dataDir))
	v.SetConfigType("json")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := Default(dataDir)
	v.SetDefault("version", def.Version)
	v.SetDefault("data_dir", def.DataDir)
	v.SetDefault("log_level", def.LogLevel)
	v.SetDefault("log_json", def.LogJSON)
	v.SetDefault("defaults.queen_mode", def.Defaults.QueenMode)
	v.SetDefault("defaults.max_workers", def.Defaults.MaxWorkers)
	v.SetDefault("defaults.consensus_algorithm", def.Defaults.ConsensusAlgorithm)
	v.SetDefault("defaults.participation_floor", def.Defaults.ParticipationFloor)
	v.SetDefault("defaults.queen_vote_weight", def.Defaults.QueenVoteWeight)
	v.SetDefault("defaults.memory_cache_size", def.Defaults.MemoryCacheSize)
	v.SetDefault("defaults.queue_high_watermark", def.Defaults.QueueHighWatermark)
	v.SetDefault("defaults.steal_idle_ms", def.Defaults.StealIdle)
	v.SetDefault("defaults.task_timeout", def.Defaults.TaskTimeout)
	v.SetDefault("defaults.task_retries", def.Defaults.TaskRetries)
	v.SetDefault("defaults.retry_backoff_base", def.Defaults.RetryBackoffBase)
	v.SetDefault("defaults.drain_window", def.Defaults.DrainWindow)
	v.SetDefault("defaults.retire_drain", def.Defaults.RetireDrain)
	v.SetDefault("defaults.auto_scale_interval", def.Defaults.AutoScaleInterval)
	v.SetDefault("defaults.restart_budget", def.Defaults.RestartBudget)
	v.SetDefault("defaults.restart_window", def.Defaults.RestartWindow)
	v.SetDefault("defaults.quality_threshold", def.Defaults.QualityThreshold)
	v.SetDefault("features.auto_scale", def.Features.AutoScale)
	v.SetDefault("features.encryption", def.Features.Encryption)
	v.SetDefault("features.monitor", def.Features.Monitor)
	v.SetDefault("features.verbose", def.Features.Verbose)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Version > Version {
		return nil, fmt.Errorf("config version %d newer than supported %d: %w",
			cfg.Version, Version, types.ErrSchemaIncompatible)
	}
	cfg.Version = Version
	cfg.DataDir = dataDir

	// Targeted overrides kept for compatibility with older deployments
	if mw := v.GetInt("max_agents"); mw > 0 {
		cfg.Defaults.MaxWorkers = mw
	}

	return &cfg, nil
}

// Save writes the configuration as a single JSON object under the hidden
// directory, creating it if necessary.
func (c *Config) Save() error {
	dir := Dir(c.DataDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if c.CreatedAt == "" {
		c.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(Path(c.DataDir), data, 0o644)
}
