// Package config loads the server's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/alimasry/go-collab-model/model"
)

// Store kinds.
const (
	StoreMemory    = "memory"
	StoreRedis     = "redis"
	StoreFirestore = "firestore"
	// StoreNone keeps documents only in the model, without a gateway.
	StoreNone = "none"
)

type Config struct {
	Addr  string       `yaml:"addr"`
	Log   LogConfig    `yaml:"log"`
	Store StoreConfig  `yaml:"store"`
	Model model.Config `yaml:"model"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type StoreConfig struct {
	Kind             string `yaml:"kind"`
	RedisAddr        string `yaml:"redisAddr"`
	RedisPrefix      string `yaml:"redisPrefix"`
	FirestoreProject string `yaml:"firestoreProject"`
}

func Default() Config {
	return Config{
		Addr:  ":8080",
		Log:   LogConfig{Level: "info", Format: "console"},
		Store: StoreConfig{Kind: StoreMemory, RedisAddr: "localhost:6379", RedisPrefix: "collab:"},
		Model: model.DefaultConfig(),
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("addr is required"))
	}
	switch c.Store.Kind {
	case StoreMemory, StoreNone:
	case StoreRedis:
		if c.Store.RedisAddr == "" {
			errs = append(errs, errors.New("store.redisAddr is required for the redis store"))
		}
	case StoreFirestore:
		if c.Store.FirestoreProject == "" {
			errs = append(errs, errors.New("store.firestoreProject is required for the firestore store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store kind %q", c.Store.Kind))
	}
	if err := c.Model.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("model: %w", err))
	}
	return errors.Join(errs...)
}
