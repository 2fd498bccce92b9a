// Package config loads engine configuration from the environment (CORTEX_
// prefix) with optional overrides from a cortex.yml file next to the
// database.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds every recognized engine option.
type Config struct {
	DatabasePath        string `mapstructure:"database_path" yaml:"database_path"`
	AutoEmbed           bool   `mapstructure:"auto_embed" yaml:"auto_embed"`
	EmbeddingsDimension int    `mapstructure:"embeddings_dimension" yaml:"embeddings_dimension"`
	CheckpointMin       int    `mapstructure:"checkpoint_min" yaml:"checkpoint_min"`
	CheckpointMax       int    `mapstructure:"checkpoint_max" yaml:"checkpoint_max"`
	GraphBackend        string `mapstructure:"graph_backend" yaml:"graph_backend"`     // local | remote
	FederationMode      string `mapstructure:"federation_mode" yaml:"federation_mode"` // single | federated
	ShardDir            string `mapstructure:"shard_dir" yaml:"shard_dir"`
	ContentMaxLength    int    `mapstructure:"content_max_length" yaml:"content_max_length"`
	QueryMaxLength      int    `mapstructure:"query_max_length" yaml:"query_max_length"`
	TagsMaxCount        int    `mapstructure:"tags_max_count" yaml:"tags_max_count"`
}

// Default returns the built-in configuration. The database lives under
// ~/.cortex by default, with shards in a sibling directory.
func Default() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	base := filepath.Join(home, ".cortex")
	return Config{
		DatabasePath:        filepath.Join(base, "cortex.db"),
		AutoEmbed:           true,
		EmbeddingsDimension: 384,
		CheckpointMin:       100,
		CheckpointMax:       1000,
		GraphBackend:        "local",
		FederationMode:      "single",
		ShardDir:            filepath.Join(base, "shards"),
		ContentMaxLength:    50000,
		QueryMaxLength:      2000,
		TagsMaxCount:        50,
	}
}

// Load resolves configuration: defaults, then cortex.yml (if present next to
// the database path or in the working directory), then CORTEX_* environment
// variables.
func Load() (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetEnvPrefix("CORTEX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("database_path", cfg.DatabasePath)
	v.SetDefault("auto_embed", cfg.AutoEmbed)
	v.SetDefault("embeddings_dimension", cfg.EmbeddingsDimension)
	v.SetDefault("checkpoint_min", cfg.CheckpointMin)
	v.SetDefault("checkpoint_max", cfg.CheckpointMax)
	v.SetDefault("graph_backend", cfg.GraphBackend)
	v.SetDefault("federation_mode", cfg.FederationMode)
	v.SetDefault("shard_dir", cfg.ShardDir)
	v.SetDefault("content_max_length", cfg.ContentMaxLength)
	v.SetDefault("query_max_length", cfg.QueryMaxLength)
	v.SetDefault("tags_max_count", cfg.TagsMaxCount)

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}

	// File overrides win over defaults but lose to explicit env vars, so
	// each file value is applied only when its CORTEX_* variable is unset.
	if fileCfg, ok := loadFile(cfg.DatabasePath); ok {
		applyFile(&cfg, fileCfg)
	}
	return cfg, nil
}

// fileConfig mirrors Config with pointer fields so absent keys are
// distinguishable from zero values.
type fileConfig struct {
	DatabasePath        *string `yaml:"database_path"`
	AutoEmbed           *bool   `yaml:"auto_embed"`
	EmbeddingsDimension *int    `yaml:"embeddings_dimension"`
	CheckpointMin       *int    `yaml:"checkpoint_min"`
	CheckpointMax       *int    `yaml:"checkpoint_max"`
	GraphBackend        *string `yaml:"graph_backend"`
	FederationMode      *string `yaml:"federation_mode"`
	ShardDir            *string `yaml:"shard_dir"`
	ContentMaxLength    *int    `yaml:"content_max_length"`
	QueryMaxLength      *int    `yaml:"query_max_length"`
	TagsMaxCount        *int    `yaml:"tags_max_count"`
}

func loadFile(dbPath string) (*fileConfig, bool) {
	candidates := []string{
		filepath.Join(filepath.Dir(dbPath), "cortex.yml"),
		"cortex.yml",
	}
	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var fc fileConfig
		if err := yaml.Unmarshal(data, &fc); err != nil {
			continue
		}
		return &fc, true
	}
	return nil, false
}

func applyFile(cfg *Config, fc *fileConfig) {
	set := func(key string) bool { return os.Getenv("CORTEX_"+strings.ToUpper(key)) == "" }

	if fc.DatabasePath != nil && set("database_path") {
		cfg.DatabasePath = *fc.DatabasePath
	}
	if fc.AutoEmbed != nil && set("auto_embed") {
		cfg.AutoEmbed = *fc.AutoEmbed
	}
	if fc.EmbeddingsDimension != nil && set("embeddings_dimension") {
		cfg.EmbeddingsDimension = *fc.EmbeddingsDimension
	}
	if fc.CheckpointMin != nil && set("checkpoint_min") {
		cfg.CheckpointMin = *fc.CheckpointMin
	}
	if fc.CheckpointMax != nil && set("checkpoint_max") {
		cfg.CheckpointMax = *fc.CheckpointMax
	}
	if fc.GraphBackend != nil && set("graph_backend") {
		cfg.GraphBackend = *fc.GraphBackend
	}
	if fc.FederationMode != nil && set("federation_mode") {
		cfg.FederationMode = *fc.FederationMode
	}
	if fc.ShardDir != nil && set("shard_dir") {
		cfg.ShardDir = *fc.ShardDir
	}
	if fc.ContentMaxLength != nil && set("content_max_length") {
		cfg.ContentMaxLength = *fc.ContentMaxLength
	}
	if fc.QueryMaxLength != nil && set("query_max_length") {
		cfg.QueryMaxLength = *fc.QueryMaxLength
	}
	if fc.TagsMaxCount != nil && set("tags_max_count") {
		cfg.TagsMaxCount = *fc.TagsMaxCount
	}
}
