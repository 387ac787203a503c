package config

import (
	"strings"
	"time"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Zero values (0, "", false) are replaced with defaults; explicit values
// are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyMetricsDefaults(&cfg.Metrics)
	applyCollabDefaults(&cfg.Collab)
	applyPersistenceDefaults(&cfg.Persistence)

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 5 * time.Minute
	}
	if cfg.ReadLimit == 0 {
		cfg.ReadLimit = 128 * 1024
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	// Enabled defaults to false (opt-in for metrics)
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = 9090
	}
}

func applyCollabDefaults(cfg *CollabConfig) {
	if cfg.RateWindow == 0 {
		cfg.RateWindow = time.Second
	}
	if cfg.RateMaxOps == 0 {
		cfg.RateMaxOps = 50
	}
	if cfg.BackpressureThreshold == 0 {
		cfg.BackpressureThreshold = 100
	}
	if cfg.SendQueueCap == 0 {
		cfg.SendQueueCap = 256
	}
	if cfg.RoomTTL == 0 {
		cfg.RoomTTL = 30 * time.Minute
	}
	if cfg.ReaperInterval == 0 {
		cfg.ReaperInterval = 60 * time.Second
	}
	if cfg.SnapshotOps == 0 {
		cfg.SnapshotOps = 500
	}
	if cfg.SnapshotInterval == 0 {
		cfg.SnapshotInterval = 10 * time.Minute
	}
	if cfg.MaxContentLength == 0 {
		cfg.MaxContentLength = 10000
	}
	if cfg.MaxIDLength == 0 {
		cfg.MaxIDLength = 100
	}
	if cfg.MaxParticipantsPerRoom == 0 {
		cfg.MaxParticipantsPerRoom = 50
	}
}

func applyPersistenceDefaults(cfg *PersistenceConfig) {
	if cfg.Backend == "" {
		cfg.Backend = "memory"
	}
	if cfg.SnapshotTTL == 0 {
		cfg.SnapshotTTL = 60 * 24 * time.Hour
	}
	if cfg.OperationTTL == 0 {
		cfg.OperationTTL = 30 * 24 * time.Hour
	}
	if cfg.CursorTTL == 0 {
		cfg.CursorTTL = 7 * 24 * time.Hour
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
