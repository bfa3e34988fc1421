// Package config loads the engine configuration from an optional YAML file,
// a .env file and environment variables, in that order of precedence
// (environment wins).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/creasty/defaults"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/atmx/sabr-engine/internal/calibrate"
	"github.com/atmx/sabr-engine/internal/model"
)

// ParamSet is an (alpha, rho, nu) triple completed with a workspace beta.
type ParamSet struct {
	Alpha float64 `yaml:"alpha"`
	Rho   float64 `yaml:"rho"`
	Nu    float64 `yaml:"nu"`
}

// Config is the full service configuration.
type Config struct {
	Environment string `yaml:"environment" default:"development"`
	Server      struct {
		Port            string        `yaml:"port" default:"8080"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"30s"`
		IdleTimeout     time.Duration `yaml:"idle_timeout" default:"60s"`
		RequestTimeout  time.Duration `yaml:"request_timeout" default:"30s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"5s"`
	} `yaml:"server"`
	Database struct {
		URL     string `yaml:"url"`
		Migrate bool   `yaml:"migrate" default:"true"`
	} `yaml:"database"`
	Redis struct {
		URL      string        `yaml:"url"`
		CacheTTL time.Duration `yaml:"cache_ttl" default:"30s"`
	} `yaml:"redis"`
	Model struct {
		Beta            float64  `yaml:"beta" default:"0.5"`
		DefaultRate     float64  `yaml:"default_rate" default:"0.02"`
		CapFallback     ParamSet `yaml:"cap_fallback"`
		SurfaceFallback ParamSet `yaml:"surface_fallback"`
	} `yaml:"model"`
	Calibration struct {
		Workers int                `yaml:"workers"` // 0 means GOMAXPROCS
		Solver  calibrate.Settings `yaml:"solver"`
	} `yaml:"calibration"`
}

// Default returns the configuration with every default applied.
func Default() (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	c.Model.CapFallback = ParamSet{Alpha: 0.04, Rho: -0.2, Nu: 0.4}
	c.Model.SurfaceFallback = ParamSet{Alpha: 0.035, Rho: -0.2, Nu: 0.35}
	return &c, nil
}

// Load reads the YAML file at path over the defaults (path may be empty),
// applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	c, err := Default()
	if err != nil {
		return nil, err
	}

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := c.applyEnv(); err != nil {
		return nil, err
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// LoadWithEnv loads .env files (missing files are ignored), then calls Load
// with the path named by CONFIG_PATH.
func LoadWithEnv(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}
	return Load(os.Getenv("CONFIG_PATH"))
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("PORT"); v != "" {
		c.Server.Port = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Redis.URL = v
	}
	if v := os.Getenv("SABR_BETA"); v != "" {
		beta, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: SABR_BETA %q: %v", model.ErrValidation, v, err)
		}
		c.Model.Beta = beta
	}
	if v := os.Getenv("SABR_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: SABR_WORKERS %q: %v", model.ErrValidation, v, err)
		}
		c.Calibration.Workers = n
	}
	return nil
}

// Validate checks if the configuration is usable.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("%w: server.port is required", model.ErrValidation)
	}
	if c.Model.Beta < 0 || c.Model.Beta > 1 {
		return fmt.Errorf("%w: model.beta must be in [0, 1], got %g", model.ErrValidation, c.Model.Beta)
	}
	for name, p := range map[string]ParamSet{
		"cap_fallback":     c.Model.CapFallback,
		"surface_fallback": c.Model.SurfaceFallback,
	} {
		if _, err := model.NewSABRParams(p.Alpha, c.Model.Beta, p.Rho, p.Nu); err != nil {
			return fmt.Errorf("%w: model.%s: %v", model.ErrValidation, name, err)
		}
	}
	if c.Calibration.Workers < 0 {
		return fmt.Errorf("%w: calibration.workers must be >= 0", model.ErrValidation)
	}
	if err := c.Calibration.Solver.Validate(); err != nil {
		return fmt.Errorf("calibration.solver: %w", err)
	}
	if c.Redis.URL != "" && c.Redis.CacheTTL <= 0 {
		return fmt.Errorf("%w: redis.cache_ttl must be positive", model.ErrValidation)
	}
	return nil
}
