// Package config loads the core's configuration from a TOML file,
// following the same map[string]interface{} + mapstructure.Decode
// idiom the rest of the corpus's service constructors use, with
// environment-variable overrides for the handful of settings the host
// application is documented to control (§6 of SPEC_FULL.md).
package config

import (
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

// Config is the whole of the core's static configuration.
type Config struct {
	HTTP      HTTPConfig      `mapstructure:"http"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Messaging MessagingConfig `mapstructure:"messaging"`
	Upload    UploadConfig    `mapstructure:"upload"`
	Stream    StreamConfig    `mapstructure:"stream"`
}

// HTTPConfig configures the single localhost listener (§6, §4.E).
type HTTPConfig struct {
	Address      string `mapstructure:"address"`
	TusPrefix    string `mapstructure:"tus_prefix"`
	StreamPrefix string `mapstructure:"stream_prefix"`
}

// DiscoveryConfig configures the UDP discovery hub (§4.F).
type DiscoveryConfig struct {
	Port            int `mapstructure:"port"`
	FallbackAttempts int `mapstructure:"fallback_attempts"`
}

// MessagingConfig configures the peer fabric and peer messaging (§4.G, §4.H).
type MessagingConfig struct {
	UDPPort        int    `mapstructure:"udp_port"`
	TCPPort        int    `mapstructure:"tcp_port"`
	SchoolID       string `mapstructure:"school_id"`
	BroadcastEvery int    `mapstructure:"broadcast_interval_secs"`
	CleanupEvery   int    `mapstructure:"cleanup_interval_secs"`
	HeartbeatEvery int    `mapstructure:"heartbeat_interval_secs"`
	OfflineAfter   int    `mapstructure:"offline_after_secs"`
}

// UploadConfig configures the upload store (§4.A).
type UploadConfig struct {
	DataDir         string `mapstructure:"data_dir"`
	MaxSizeBytes    int64  `mapstructure:"max_size_bytes"`
	ExpirationSecs  int64  `mapstructure:"expiration_secs"`
	CleanupInterval int64  `mapstructure:"cleanup_interval_secs"`
}

// StreamConfig configures the stream store (§4.C).
type StreamConfig struct {
	DatabasePath   string `mapstructure:"database_path"`
	RetentionSecs  int64  `mapstructure:"retention_secs"`
	BroadcastCap   int    `mapstructure:"broadcast_capacity"`
	SSECatchupCap  int    `mapstructure:"sse_catchup_limit"`
}

// Default returns the hard-coded defaults from SPEC_FULL §6.
func Default(dataDir string) Config {
	return Config{
		HTTP: HTTPConfig{
			Address:      "127.0.0.1:41234",
			TusPrefix:    "/tus",
			StreamPrefix: "/api/streams",
		},
		Discovery: DiscoveryConfig{
			Port:             41235,
			FallbackAttempts: 15,
		},
		Messaging: MessagingConfig{
			UDPPort:        41236,
			TCPPort:        41237,
			SchoolID:       "default-school",
			BroadcastEvery: 30,
			CleanupEvery:   60,
			HeartbeatEvery: 60,
			OfflineAfter:   300,
		},
		Upload: UploadConfig{
			DataDir:         dataDir + "/uploads",
			MaxSizeBytes:    10 * 1024 * 1024 * 1024,
			ExpirationSecs:  24 * 60 * 60,
			CleanupInterval: 60 * 60,
		},
		Stream: StreamConfig{
			DatabasePath:  dataDir + "/messages.db",
			RetentionSecs: 7 * 24 * 60 * 60,
			BroadcastCap:  1000,
			SSECatchupCap: 100,
		},
	}
}

// Load reads a TOML file at path and decodes it over the defaults for
// dataDir. A missing file is not an error: the defaults are returned
// unchanged, matching the host's "degrade rather than fail" contract
// for optional collaborators (§6).
func Load(path, dataDir string) (Config, error) {
	cfg := Default(dataDir)

	if path == "" {
		applyEnvOverrides(&cfg)
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		applyEnvOverrides(&cfg)
		return cfg, nil
	}
	if err != nil {
		return cfg, errors.Wrap(err, "could not read config file")
	}

	var m map[string]interface{}
	if err := toml.Unmarshal(raw, &m); err != nil {
		return cfg, errors.Wrap(err, "could not parse config file")
	}
	if err := mapstructure.Decode(m, &cfg); err != nil {
		return cfg, errors.Wrap(err, "could not decode config file")
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

// applyEnvOverrides applies the four port overrides §6 documents as
// environment variables, taking precedence over both defaults and the
// TOML file.
func applyEnvOverrides(cfg *Config) {
	if v := envInt("INTERNAL_P2P_DISCOVERY_PORT"); v != 0 {
		cfg.Discovery.Port = v
	} else if v := envInt("VITE_DISCOVERY_PORT"); v != 0 {
		cfg.Discovery.Port = v
	}
	if v := envInt("INTERNAL_P2P_MESSAGE_PORT"); v != 0 {
		cfg.Messaging.UDPPort = v
	}
	if v := envInt("INTERNAL_P2P_TCP_PORT"); v != 0 {
		cfg.Messaging.TCPPort = v
	}
}

func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}
