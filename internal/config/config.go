// Package config provides configuration loading for Lattice.
//
// Configuration is resolved in three layers: compiled defaults, an optional
// YAML file, and LATTICE_* environment variables, each overriding the last.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where config files are searched, in order.
// The first file found wins.
var DefaultConfigPaths = []string{
	"lattice.yaml",
	"lattice.yml",
	"/etc/lattice/config.yaml",
}

// ConfigPathEnvVar overrides the config file path when set.
const ConfigPathEnvVar = "LATTICE_CONFIG"

// Config is the root configuration tree.
type Config struct {
	Server ServerConfig `koanf:"server"`
	Store  StoreConfig  `koanf:"store"`
	Ingest IngestConfig `koanf:"ingest"`
	Decay  DecayConfig  `koanf:"decay"`
	Rank   RankConfig   `koanf:"rank"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr            string        `koanf:"addr"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// StoreConfig configures graph persistence.
type StoreConfig struct {
	// Path is the BadgerDB directory. Ignored when InMemory is set.
	Path string `koanf:"path"`

	// InMemory selects the ephemeral store. Intended for tests and demos.
	InMemory bool `koanf:"in_memory"`
}

// IngestConfig configures the engagement ingestion pipeline and the weight
// each event kind contributes. Event weights mirror the relative strength
// order share > comment > like > view.
type IngestConfig struct {
	Workers int `koanf:"workers"`

	ViewWeight     float64 `koanf:"view_weight"`      // per viewed second
	ViewCapSeconds float64 `koanf:"view_cap_seconds"` // duration cap
	LikeWeight     float64 `koanf:"like_weight"`
	CommentWeight  float64 `koanf:"comment_weight"`
	ShareWeight    float64 `koanf:"share_weight"`
	SkipPenalty    float64 `koanf:"skip_penalty"` // subtracted, clamped at zero
}

// DecayConfig configures the periodic reweighting sweep.
type DecayConfig struct {
	// Factor is the multiplicative decay gamma, in (0,1).
	Factor float64 `koanf:"factor"`

	// Interval is the sweep period.
	Interval time.Duration `koanf:"interval"`

	// PruneEpsilon removes edges whose weight decays below it.
	PruneEpsilon float64 `koanf:"prune_epsilon"`
}

// RankConfig configures traversal ranking and trending.
type RankConfig struct {
	// SeedLimit caps the requester's direct neighborhood (top-K by weight).
	SeedLimit int `koanf:"seed_limit"`

	// HopDecay discounts each expansion hop beyond the seed. Must be < 1.
	HopDecay float64 `koanf:"hop_decay"`

	// SeenThreshold is the engagement weight above which content counts
	// as already seen and is excluded from recommendations.
	SeenThreshold float64 `koanf:"seen_threshold"`

	// RelaxCeiling bounds re-admission of seen content when the pool runs
	// short: items engaged above this weight are never re-admitted.
	RelaxCeiling float64 `koanf:"relax_ceiling"`

	// VisitBudget bounds traversal cost; expansion truncates beyond it.
	VisitBudget int `koanf:"visit_budget"`

	// TrendingWindow is the sliding window for engagement-rate scoring.
	TrendingWindow time.Duration `koanf:"trending_window"`

	// MaxPoolSize clamps requested feed/trending sizes.
	MaxPoolSize int `koanf:"max_pool_size"`
}

// Default returns the compiled-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8712",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Store: StoreConfig{
			Path:     "./data/lattice",
			InMemory: false,
		},
		Ingest: IngestConfig{
			Workers:        4,
			ViewWeight:     0.1,
			ViewCapSeconds: 30,
			LikeWeight:     5,
			CommentWeight:  3,
			ShareWeight:    8,
			SkipPenalty:    0.5,
		},
		Decay: DecayConfig{
			Factor:       0.9,
			Interval:     time.Minute,
			PruneEpsilon: 0.01,
		},
		Rank: RankConfig{
			SeedLimit:      20,
			HopDecay:       0.5,
			SeenThreshold:  3,
			RelaxCeiling:   6,
			VisitBudget:    10000,
			TrendingWindow: time.Hour,
			MaxPoolSize:    100,
		},
	}
}

// Load resolves configuration from defaults, an optional YAML file and
// LATTICE_* environment variables. An explicit path overrides discovery;
// a missing discovered file is not an error.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path == "" {
		path = os.Getenv(ConfigPathEnvVar)
	}
	if path == "" {
		for _, candidate := range DefaultConfigPaths {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	// LATTICE_DECAY_FACTOR=0.8 -> decay.factor. Underscores within a
	// section name are preserved by mapping only the first separator.
	if err := k.Load(env.Provider("LATTICE_", ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, "LATTICE_"))
		return strings.Replace(s, "_", ".", 1)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations that would break reweighting or ranking
// invariants.
func (c *Config) Validate() error {
	if c.Decay.Factor <= 0 || c.Decay.Factor >= 1 {
		return fmt.Errorf("decay.factor must be in (0,1), got %v", c.Decay.Factor)
	}
	if c.Decay.Interval <= 0 {
		return fmt.Errorf("decay.interval must be positive, got %v", c.Decay.Interval)
	}
	if c.Decay.PruneEpsilon < 0 {
		return fmt.Errorf("decay.prune_epsilon must be >= 0, got %v", c.Decay.PruneEpsilon)
	}
	if c.Rank.HopDecay <= 0 || c.Rank.HopDecay >= 1 {
		return fmt.Errorf("rank.hop_decay must be in (0,1), got %v", c.Rank.HopDecay)
	}
	if c.Rank.SeedLimit <= 0 {
		return fmt.Errorf("rank.seed_limit must be positive, got %d", c.Rank.SeedLimit)
	}
	if c.Rank.VisitBudget <= 0 {
		return fmt.Errorf("rank.visit_budget must be positive, got %d", c.Rank.VisitBudget)
	}
	if c.Rank.MaxPoolSize <= 0 {
		return fmt.Errorf("rank.max_pool_size must be positive, got %d", c.Rank.MaxPoolSize)
	}
	if c.Rank.RelaxCeiling < c.Rank.SeenThreshold {
		return fmt.Errorf("rank.relax_ceiling (%v) must be >= rank.seen_threshold (%v)",
			c.Rank.RelaxCeiling, c.Rank.SeenThreshold)
	}
	if c.Ingest.Workers <= 0 {
		return fmt.Errorf("ingest.workers must be positive, got %d", c.Ingest.Workers)
	}
	if c.Ingest.ViewCapSeconds <= 0 {
		return fmt.Errorf("ingest.view_cap_seconds must be positive, got %v", c.Ingest.ViewCapSeconds)
	}
	return nil
}
