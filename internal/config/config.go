// Package config loads the aggregation engine's run configuration: object
// store location, relational sink DSN, markup defaults, and partition
// selection. Loading follows the teacher's two-path pattern: viper for the
// primary YAML+env merge, with a .env file loaded first via godotenv for
// local runs (spec.md §8).
package config

import (
	"fmt"
	"os"

	yaml "github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type ObjectStoreCfg struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	PodDatasetPath    string `mapstructure:"pod_dataset_path"`
	StorageDatasetPath string `mapstructure:"storage_dataset_path"`
	CloudDatasetPath   string `mapstructure:"cloud_dataset_path"`
	StreamingThresholdBytes int64 `mapstructure:"streaming_threshold_bytes"`
	// MaxCorruptFraction aborts a window's read with exit code 3 once more
	// than this fraction of a partition's rows were dropped for a malformed
	// critical column (spec.md §7 "Corrupt").
	MaxCorruptFraction float64 `mapstructure:"max_corrupt_fraction"`
}

type SinkCfg struct {
	DSN             string `mapstructure:"dsn"`
	BulkBatchSize   int    `mapstructure:"bulk_batch_size"`
	MetadataCacheTTLSeconds int `mapstructure:"metadata_cache_ttl_seconds"`
}

type RedisCfg struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type RetryCfg struct {
	MaxElapsedSeconds int `mapstructure:"max_elapsed_seconds"`
	InitialIntervalMS int `mapstructure:"initial_interval_ms"`
}

type RunCfg struct {
	ClusterID      string `mapstructure:"cluster_id"`
	ClusterAlias   string `mapstructure:"cluster_alias"`
	ReportPeriodID int64  `mapstructure:"report_period_id"`
	Days           int    `mapstructure:"days"`         // 0 = entire report period
	ReportStart    string `mapstructure:"report_start"` // "2006-01-02"
	ReportEnd      string `mapstructure:"report_end"`   // exclusive
}

// ModeCfg controls C1's streaming-vs-in-memory switchover for
// container-only pod aggregation (spec.md §5 "Streaming mode"). The cloud
// side of a container-on-cloud run is never chunked: C12's matching step
// needs the full cloud relation in memory regardless of these settings.
type ModeCfg struct {
	Streaming        bool  `mapstructure:"streaming"`
	ChunkRows        int64 `mapstructure:"chunk_rows"`
	InMemoryRowLimit int64 `mapstructure:"in_memory_row_limit"`
}

// CostCfg holds the two options spec.md §6 groups under "cost.*": the
// markup multiplier and which usage ratio drives C12's proportional split
// across namespaces sharing a node.
type CostCfg struct {
	MarkupRate   float64 `mapstructure:"markup_rate"`
	Distribution string  `mapstructure:"distribution"` // "cpu" | "memory" | "max"
}

type Config struct {
	Environment string         `mapstructure:"environment"`
	ObjectStore ObjectStoreCfg `mapstructure:"object_store"`
	Sink        SinkCfg        `mapstructure:"sink"`
	Redis       RedisCfg       `mapstructure:"redis"`
	Retry       RetryCfg       `mapstructure:"retry"`
	Run         RunCfg         `mapstructure:"run"`
	Cost        CostCfg        `mapstructure:"cost"`
	Mode        ModeCfg        `mapstructure:"mode"`
}

// Load reads configPath (YAML) with viper, first loading envPath (a .env
// file, if present) so secrets can be injected without touching the
// checked-in config file. Missing envPath is not an error.
func Load(configPath, envPath string) (*Config, error) {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("loading env file: %w", err)
		}
	}

	if err := validateYAML(configPath); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetEnvPrefix("AGGREGATOR")
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// validateYAML parses configPath with goccy/go-yaml ahead of viper's own
// read, since viper's error on a malformed YAML file points at the wrong
// underlying decoder and doesn't include a line/column. Used purely for
// the better error message; viper still does the real merge+unmarshal.
func validateYAML(configPath string) error {
	raw, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	var probe map[string]any
	if err := yaml.Unmarshal(raw, &probe); err != nil {
		return fmt.Errorf("invalid config YAML: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("object_store.streaming_threshold_bytes", 512*1024*1024)
	v.SetDefault("object_store.max_corrupt_fraction", 0.05)
	v.SetDefault("sink.bulk_batch_size", 5000)
	v.SetDefault("sink.metadata_cache_ttl_seconds", 300)
	v.SetDefault("retry.max_elapsed_seconds", 120)
	v.SetDefault("retry.initial_interval_ms", 500)
	v.SetDefault("cost.distribution", "max")
	v.SetDefault("mode.streaming", false)
	v.SetDefault("mode.chunk_rows", 100_000)
	v.SetDefault("mode.in_memory_row_limit", 2_000_000)
}

// applyEnvOverrides lets the two credentials that must never live in a
// checked-in YAML file come from the process environment only.
func applyEnvOverrides(cfg *Config) {
	if dsn := os.Getenv("AGGREGATOR_SINK_DSN"); dsn != "" {
		cfg.Sink.DSN = dsn
	}
	if pw := os.Getenv("AGGREGATOR_REDIS_PASSWORD"); pw != "" {
		cfg.Redis.Password = pw
	}
}
