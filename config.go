package goexpr

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ============================================================
// Configuration
// ============================================================

// Config holds the tunables of a Sampler. The zero value is not useful;
// start from DefaultConfig.
type Config struct {
	// Workers is the number of partitions the outer sweep is split into.
	Workers int `json:"workers" yaml:"workers"`
	// MaxDepth and MaxSteps bound a single point evaluation.
	MaxDepth int `json:"max_depth" yaml:"max_depth"`
	MaxSteps int `json:"max_steps" yaml:"max_steps"`
	// MaxPoints bounds the points of a single run, grids included.
	MaxPoints int `json:"max_points" yaml:"max_points"`
	// CacheSize is the number of simplified targets kept per Sampler.
	CacheSize int `json:"cache_size" yaml:"cache_size"`
	// Timeout bounds a whole Sample1D or Sample2D run. Zero disables it.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

func DefaultConfig() Config {
	return Config{
		Workers:   1,
		MaxDepth:  DefaultMaxDepth,
		MaxSteps:  DefaultMaxSteps,
		MaxPoints: DefaultMaxPoints,
		CacheSize: 64,
	}
}

func (c Config) Validate() error {
	var errs []error
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1, got %d", c.Workers))
	}
	if c.MaxDepth < 1 {
		errs = append(errs, fmt.Errorf("max_depth must be at least 1, got %d", c.MaxDepth))
	}
	if c.MaxSteps < 1 {
		errs = append(errs, fmt.Errorf("max_steps must be at least 1, got %d", c.MaxSteps))
	}
	if c.MaxPoints < 1 {
		errs = append(errs, fmt.Errorf("max_points must be at least 1, got %d", c.MaxPoints))
	}
	if c.CacheSize < 1 {
		errs = append(errs, fmt.Errorf("cache_size must be at least 1, got %d", c.CacheSize))
	}
	if c.Timeout < 0 {
		errs = append(errs, fmt.Errorf("timeout must not be negative, got %s", c.Timeout))
	}
	return errors.Join(errs...)
}

// LoadConfig reads a YAML file over DefaultConfig, so omitted keys keep
// their defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Options converts the configuration into Sampler options.
func (c Config) Options() []SamplerOption {
	return []SamplerOption{
		WithWorkers(c.Workers),
		WithEvaluator(&Evaluator{MaxDepth: c.MaxDepth, MaxSteps: c.MaxSteps}),
		WithMaxPoints(c.MaxPoints),
		WithCacheSize(c.CacheSize),
		WithTimeout(c.Timeout),
	}
}
