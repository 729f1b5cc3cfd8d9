package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Limits are the default per-container resource bounds. Every lab container
// is created with limits; a lab definition may override individual values.
type Limits struct {
	CPULimit   float64 `yaml:"cpu_limit"`
	MemLimitMB int     `yaml:"mem_limit_mb"`
	PidsLimit  int     `yaml:"pids_limit"`
}

type Config struct {
	Listen                string `yaml:"listen"`
	APIKey                string `yaml:"api_key"`
	DBPath                string `yaml:"db_path"`
	CatalogPath           string `yaml:"catalog_path"`
	Network               string `yaml:"network"`
	MaxInstancesPerUser   int    `yaml:"max_instances_per_user"`
	SessionTimeoutSeconds int    `yaml:"session_timeout_seconds"`
	ReaperIntervalSeconds int    `yaml:"reaper_interval_seconds"`
	Limits                Limits `yaml:"limits"`
}

func (c *Config) SessionTimeout() time.Duration {
	return time.Duration(c.SessionTimeoutSeconds) * time.Second
}

func (c *Config) ReaperInterval() time.Duration {
	return time.Duration(c.ReaperIntervalSeconds) * time.Second
}

func Load(yamlPath string) (*Config, error) {
	cfg := &Config{
		Listen:                "127.0.0.1:8080",
		DBPath:                "./labrange.db",
		CatalogPath:           "./labs.yaml",
		Network:               "labrange-isolated",
		MaxInstancesPerUser:   3,
		SessionTimeoutSeconds: 3600,
		ReaperIntervalSeconds: 30,
		Limits: Limits{
			CPULimit:   0.5,
			MemLimitMB: 512,
			PidsLimit:  256,
		},
	}

	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, err
			}
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LABRANGE_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("LABRANGE_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("LABRANGE_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("LABRANGE_CATALOG_PATH"); v != "" {
		cfg.CatalogPath = v
	}
	if v := os.Getenv("LABRANGE_NETWORK"); v != "" {
		cfg.Network = v
	}
	if v := os.Getenv("LABRANGE_MAX_INSTANCES_PER_USER"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxInstancesPerUser = n
		}
	}
	if v := os.Getenv("LABRANGE_SESSION_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SessionTimeoutSeconds = n
		}
	}
	if v := os.Getenv("LABRANGE_REAPER_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ReaperIntervalSeconds = n
		}
	}
	if v := os.Getenv("LABRANGE_CPU_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Limits.CPULimit = f
		}
	}
	if v := os.Getenv("LABRANGE_MEM_LIMIT_MB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Limits.MemLimitMB = n
		}
	}
	if v := os.Getenv("LABRANGE_PIDS_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Limits.PidsLimit = n
		}
	}
}
