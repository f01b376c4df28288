package catalog

import (
	"errors"
	"time"
)

type Config struct {
	// ProbeKey authenticates liveness pings. Empty disables probing and
	// admits every classified model.
	ProbeKey string

	Concurrency     int           // concurrent probes (default: 5)
	ProbeRate       float64       // probes started per second (default: 10)
	RefreshInterval time.Duration // diff refresh period (default: 1h)

	VersionID   string        // snapshot key namespace (default: "v1")
	SnapshotTTL time.Duration // 0 keeps snapshots until overwritten
}

func (c *Config) Validate() error {
	if c.Concurrency <= 0 {
		return errors.New("Concurrency must be positive")
	}
	if c.ProbeRate <= 0 {
		return errors.New("ProbeRate must be positive")
	}
	if c.RefreshInterval <= 0 {
		return errors.New("RefreshInterval must be positive")
	}
	return nil
}

// WithDefaults returns a copy of Config with defaults applied.
func (c *Config) WithDefaults() Config {
	cfg := *c
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if cfg.ProbeRate <= 0 {
		cfg.ProbeRate = 10
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = time.Hour
	}
	if cfg.VersionID == "" {
		cfg.VersionID = "v1"
	}
	if cfg.SnapshotTTL < 0 {
		cfg.SnapshotTTL = 0
	}
	return cfg
}
