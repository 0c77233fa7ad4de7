// Package config reads the broker's flat key=value configuration and
// startup files (spec §4.11, §6) using github.com/joho/godotenv, whose
// line format is exactly the spec's key=value format and which is already
// present in the retrieved dependency pool.
package config

import (
	"fmt"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds every recognized key from spec §6, with defaults applied
// for anything the file omits.
type Config struct {
	SnapshotTimeoutHours   int
	SnapshotPath           string
	SnapshotBacklog        int
	DatabasePath           string
	DatabaseName           string
	DatabaseBufferedAccess bool
	DatabaseQueueSize      int
	DatabaseFlushMinutes   int
	RandomRateLimit        bool
	RateLimitSeconds       int
	RateLimitMultiplier    float64
	LogfilePath            string
	LogVerbose             bool
	Autosave               bool

	// ListenAddress is not named in spec §6's recognized-key list but is a
	// natural config knob alongside the rest; it defaults to the spec's
	// stated default TCP port.
	ListenAddress string
}

// Default returns the configuration that applies when no file is present.
func Default() *Config {
	return &Config{
		SnapshotTimeoutHours:   24,
		SnapshotPath:           "./snapshots",
		SnapshotBacklog:        10,
		DatabasePath:           "./data",
		DatabaseName:           "iplchat.db",
		DatabaseBufferedAccess: true,
		DatabaseQueueSize:      1024,
		DatabaseFlushMinutes:   5,
		RandomRateLimit:        false,
		RateLimitSeconds:       0,
		RateLimitMultiplier:    1.0,
		LogfilePath:            "./iplchat.log",
		LogVerbose:             false,
		Autosave:               true,
		ListenAddress:          ":4589",
	}
}

// Load reads path as a flat key=value file and overlays recognized keys
// onto the default configuration. A missing file is a config error: the
// caller is expected to either prompt the operator interactively or
// abort, per spec §7.
func Load(path string) (*Config, error) {
	values, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return FromMap(values)
}

// FromMap overlays recognized keys from values onto the default
// configuration, returning a config error on any malformed value.
func FromMap(values map[string]string) (*Config, error) {
	cfg := Default()

	var err error
	if v, ok := values["snapshotTimeout"]; ok {
		if cfg.SnapshotTimeoutHours, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("config: snapshotTimeout: %w", err)
		}
	}
	if v, ok := values["snapshotPath"]; ok {
		cfg.SnapshotPath = v
	}
	if v, ok := values["snapshotBacklog"]; ok {
		if cfg.SnapshotBacklog, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("config: snapshotBacklog: %w", err)
		}
	}
	if v, ok := values["databasePath"]; ok {
		cfg.DatabasePath = v
	}
	if v, ok := values["databaseName"]; ok {
		cfg.DatabaseName = v
	}
	if v, ok := values["databaseBufferedAccess"]; ok {
		if cfg.DatabaseBufferedAccess, err = strconv.ParseBool(v); err != nil {
			return nil, fmt.Errorf("config: databaseBufferedAccess: %w", err)
		}
	}
	if v, ok := values["databaseQueueSize"]; ok {
		if cfg.DatabaseQueueSize, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("config: databaseQueueSize: %w", err)
		}
	}
	if v, ok := values["databaseFlushTimeout"]; ok {
		if cfg.DatabaseFlushMinutes, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("config: databaseFlushTimeout: %w", err)
		}
	}
	if v, ok := values["randomRateLimit"]; ok {
		if cfg.RandomRateLimit, err = strconv.ParseBool(v); err != nil {
			return nil, fmt.Errorf("config: randomRateLimit: %w", err)
		}
	}
	if v, ok := values["rateLimit"]; ok {
		if cfg.RateLimitSeconds, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("config: rateLimit: %w", err)
		}
	}
	if v, ok := values["rateLimitMultiplier"]; ok {
		if cfg.RateLimitMultiplier, err = strconv.ParseFloat(v, 64); err != nil {
			return nil, fmt.Errorf("config: rateLimitMultiplier: %w", err)
		}
	}
	if v, ok := values["logfilePath"]; ok {
		cfg.LogfilePath = v
	}
	if v, ok := values["logVerbose"]; ok {
		if cfg.LogVerbose, err = strconv.ParseBool(v); err != nil {
			return nil, fmt.Errorf("config: logVerbose: %w", err)
		}
	}
	if v, ok := values["autosave"]; ok {
		if cfg.Autosave, err = strconv.ParseBool(v); err != nil {
			return nil, fmt.Errorf("config: autosave: %w", err)
		}
	}
	if v, ok := values["listenAddress"]; ok {
		cfg.ListenAddress = v
	}

	return cfg, nil
}

// Startup is the parsed content of the platform startup file, which holds
// a single configPath key pointing at the active config file.
type Startup struct {
	ConfigPath string
}

// LoadStartup reads the startup file at path.
func LoadStartup(path string) (*Startup, error) {
	values, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("config: read startup file %s: %w", path, err)
	}
	configPath, ok := values["configPath"]
	if !ok || configPath == "" {
		return nil, fmt.Errorf("config: startup file %s missing configPath", path)
	}
	return &Startup{ConfigPath: configPath}, nil
}
