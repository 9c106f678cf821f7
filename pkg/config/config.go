package config

// Package config provides a reusable loader for merkle-tox configuration
// files and environment variables. It is versioned so that applications can
// depend on a stable API contract.
//
// Version: v0.2.0

import (
	"fmt"

	"github.com/spf13/viper"

	"merkletox/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.2.0"

// Config represents the unified configuration for a merkle-tox node. It
// mirrors the structure of the YAML files under cmd/config.
type Config struct {
	Network struct {
		ID             string   `mapstructure:"id" json:"id"`
		MaxPeers       int      `mapstructure:"max_peers" json:"max_peers"`
		ListenAddr     string   `mapstructure:"listen_addr" json:"listen_addr"`
		BootstrapPeers []string `mapstructure:"bootstrap_peers" json:"bootstrap_peers"`
	} `mapstructure:"network" json:"network"`

	Storage struct {
		DBPath string `mapstructure:"db_path" json:"db_path"`
		Prune  bool   `mapstructure:"prune" json:"prune"`
	} `mapstructure:"storage" json:"storage"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`

	// Merkletox holds the tuning knobs specific to the conversation engine,
	// reconciliation protocol and reliable transport described in the core
	// specification. The core package does not read this section: it uses
	// its own defaults and the values passed to its constructors, and
	// cmd/merkletoxd only prints what was loaded.
	Merkletox struct {
		PayloadMTU           int    `mapstructure:"payload_mtu" json:"payload_mtu"`
		ReassemblyQuotaBytes int    `mapstructure:"reassembly_quota_bytes" json:"reassembly_quota_bytes"`
		KeyRotationMessages  uint64 `mapstructure:"key_rotation_messages" json:"key_rotation_messages"`
		KeyRotationSeconds   int64  `mapstructure:"key_rotation_seconds" json:"key_rotation_seconds"`
		CongestionAlgorithm  string `mapstructure:"congestion_algorithm" json:"congestion_algorithm"`
		SpeculativeCap       int    `mapstructure:"speculative_cap" json:"speculative_cap"`
	} `mapstructure:"merkletox" json:"merkletox"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads configuration files and merges any environment specific
// overrides. The resulting configuration is stored in AppConfig and returned.
//
// The function uses the provided environment name to merge additional config
// files. If env is empty, only the default configuration is loaded.
func Load(env string) (*Config, error) {
	viper.SetConfigName("default")
	viper.AddConfigPath("cmd/config")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		return nil, utils.Wrap(err, "load config")
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.AutomaticEnv() // picks up matching process environment variables

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the MTOX_ENV environment variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("MTOX_ENV", ""))
}
