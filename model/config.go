package model

import (
	"errors"
	"fmt"
	"time"
)

// Config tunes the document cache. The zero value is not valid; start
// from DefaultConfig.
type Config struct {
	// ReapTime is how long an idle document stays cached.
	ReapTime time.Duration `yaml:"reapTime"`
	// NumCachedOps is how many recent ops each document keeps in memory
	// when a gateway is configured. Without one the whole history is kept.
	NumCachedOps int `yaml:"numCachedOps"`
	// ForceReaping evicts idle documents even without a gateway, dropping them.
	ForceReaping bool `yaml:"forceReaping"`
	// OpsBeforeSnapshotCommit is how many ops may accumulate past the last
	// durable snapshot before a new one is written.
	OpsBeforeSnapshotCommit int `yaml:"opsBeforeSnapshotCommit"`
	// MaxOpStaleness is how many versions behind a submitted op may be.
	MaxOpStaleness int `yaml:"maxOpStaleness"`
	// MaxContentLength caps document size; 0 means unbounded.
	MaxContentLength int `yaml:"maxContentLength"`
	// FlushInterval, if set, writes snapshots of all dirty documents periodically.
	FlushInterval time.Duration `yaml:"flushInterval"`
}

func DefaultConfig() Config {
	return Config{
		ReapTime:                3 * time.Second,
		NumCachedOps:            10,
		OpsBeforeSnapshotCommit: 20,
		MaxOpStaleness:          40,
	}
}

func (c Config) Validate() error {
	var errs []error
	if c.ReapTime <= 0 {
		errs = append(errs, fmt.Errorf("reapTime must be > 0, got %s", c.ReapTime))
	}
	if c.NumCachedOps < 0 {
		errs = append(errs, fmt.Errorf("numCachedOps must be >= 0, got %d", c.NumCachedOps))
	}
	if c.OpsBeforeSnapshotCommit < 1 {
		errs = append(errs, fmt.Errorf("opsBeforeSnapshotCommit must be >= 1, got %d", c.OpsBeforeSnapshotCommit))
	}
	if c.MaxOpStaleness < 0 {
		errs = append(errs, fmt.Errorf("maxOpStaleness must be >= 0, got %d", c.MaxOpStaleness))
	}
	if c.MaxContentLength < 0 {
		errs = append(errs, fmt.Errorf("maxContentLength must be >= 0, got %d", c.MaxContentLength))
	}
	if c.FlushInterval < 0 {
		errs = append(errs, fmt.Errorf("flushInterval must be >= 0, got %s", c.FlushInterval))
	}
	return errors.Join(errs...)
}
