package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the gateway configuration. Every field is overridable from the
// environment; the file is optional.
type Config struct {
	ListenAddr      string        `yaml:"listen_addr"`
	PolicyPath      string        `yaml:"policy_path"`
	Upstream        string        `yaml:"upstream"`
	UpstreamTimeout time.Duration `yaml:"upstream_timeout"`
	DB              DBConfig      `yaml:"db"`
}

type DBConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

const (
	DefaultListenAddr = ":4020"
	DefaultUpstream   = "https://x402.org/facilitator"
	DefaultDBDriver   = "sqlite"
	DefaultDBDSN      = "paybound.db"
)

// Load reads a YAML config file with env expansion, so secrets can live in
// the environment rather than on disk.
func Load(path string) (Config, error) {
	// #nosec G304 -- path is operator-provided config path.
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	expanded := os.ExpandEnv(string(raw))
	expanded = strings.ReplaceAll(expanded, "\r\n", "\n")

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch c.DB.Driver {
	case "", "sqlite", "postgres", "memory":
	default:
		return fmt.Errorf("db.driver must be sqlite, postgres or memory, got %q", c.DB.Driver)
	}
	if c.DB.Driver == "postgres" && c.DB.DSN == "" {
		return fmt.Errorf("db.dsn is required when db.driver is postgres")
	}
	if c.UpstreamTimeout < 0 {
		return fmt.Errorf("upstream_timeout must not be negative")
	}
	return nil
}
