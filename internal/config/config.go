// Package config loads the engine settings from an optional YAML file,
// an optional .env file and NEWSRANK_* environment variables, in that
// order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/kennylajara/news/pkg/candidates"
	"github.com/kennylajara/news/pkg/entity"
	"github.com/kennylajara/news/pkg/logger"
	"github.com/kennylajara/news/pkg/pagerank"
	"github.com/kennylajara/news/pkg/relevance"
	"github.com/kennylajara/news/pkg/resolution"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "NEWSRANK_"

// Config is the full engine configuration.
type Config struct {
	DatabasePath string           `yaml:"database_path"`
	Debug        bool             `yaml:"debug"`
	Stopwords    StopwordsConfig  `yaml:"stopwords"`
	Candidates   CandidatesConfig `yaml:"candidates"`
	Resolution   ResolutionConfig `yaml:"resolution"`
	Relevance    relevance.Config `yaml:"relevance"`
	PageRank     pagerank.Config  `yaml:"pagerank"`
	QueueBatch   int              `yaml:"queue_batch"`
}

// StopwordsConfig selects the stopword list used by the token index.
type StopwordsConfig struct {
	Extended bool     `yaml:"extended"` // add the full Spanish list
	Extra    []string `yaml:"extra"`
}

// CandidatesConfig tunes candidate discovery.
type CandidatesConfig struct {
	Max     int                  `yaml:"max"`
	Workers int                  `yaml:"workers"`
	LSH     candidates.LSHConfig `yaml:"lsh"`
	UseLSH  bool                 `yaml:"use_lsh"`
}

// ResolutionConfig tunes the classification engine.
type ResolutionConfig struct {
	MinConfidence float64 `yaml:"min_confidence"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		DatabasePath: "newsrank.db",
		Candidates: CandidatesConfig{
			Max:     candidates.DefaultMaxCandidates,
			Workers: 4,
			LSH:     candidates.DefaultLSHConfig(),
			UseLSH:  true,
		},
		Resolution: ResolutionConfig{MinConfidence: resolution.DefaultMinConfidence},
		Relevance:  relevance.DefaultConfig(),
		PageRank:   pagerank.DefaultConfig(),
		QueueBatch: 100,
	}
}

// Load builds the configuration. path may be empty; a missing .env file
// is not an error.
func Load(path string) (Config, error) {
	LoadEnv()

	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadEnv reads .env into the process environment when present.
func LoadEnv() {
	if err := godotenv.Load(); err != nil {
		logger.Debug("[Config] No .env file found, using system environment variables")
	}
}

func (c *Config) applyEnv() error {
	c.DatabasePath = GetEnvString(EnvPrefix+"DATABASE", c.DatabasePath)
	c.Debug = GetEnvBool(EnvPrefix+"DEBUG", c.Debug)
	c.Stopwords.Extended = GetEnvBool(EnvPrefix+"EXTENDED_STOPWORDS", c.Stopwords.Extended)
	c.Candidates.Max = int(GetEnvNumeric(EnvPrefix+"MAX_CANDIDATES", c.Candidates.Max))
	c.Candidates.Workers = int(GetEnvNumeric(EnvPrefix+"WORKERS", c.Candidates.Workers))
	c.Candidates.UseLSH = GetEnvBool(EnvPrefix+"USE_LSH", c.Candidates.UseLSH)
	c.Resolution.MinConfidence = GetEnvFloat(EnvPrefix+"MIN_CONFIDENCE", c.Resolution.MinConfidence)
	c.PageRank.Damping = GetEnvFloat(EnvPrefix+"DAMPING", c.PageRank.Damping)
	c.PageRank.HalfLifeDays = GetEnvFloat(EnvPrefix+"HALF_LIFE_DAYS", c.PageRank.HalfLifeDays)
	c.QueueBatch = int(GetEnvNumeric(EnvPrefix+"QUEUE_BATCH", c.QueueBatch))

	if raw := GetEnv(EnvPrefix + "RANKED_TYPES"); raw != "" {
		var types []entity.Type
		for _, part := range strings.Split(raw, ",") {
			t, err := entity.ParseType(part)
			if err != nil {
				return fmt.Errorf("%sRANKED_TYPES: %w", EnvPrefix, err)
			}
			types = append(types, t)
		}
		c.PageRank.RankedTypes = types
	}
	return nil
}

// Validate reports every out-of-range setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.DatabasePath == "" {
		errs = append(errs, errors.New("database_path is required"))
	}
	if c.Candidates.Max <= 0 {
		errs = append(errs, fmt.Errorf("candidates.max must be positive, got %d", c.Candidates.Max))
	}
	if t := c.Candidates.LSH.Threshold; t <= 0 || t >= 1 {
		errs = append(errs, fmt.Errorf("candidates.lsh.threshold must be in (0,1), got %g", t))
	}
	if m := c.Resolution.MinConfidence; m < 0 || m > 1 {
		errs = append(errs, fmt.Errorf("resolution.min_confidence must be in [0,1], got %g", m))
	}
	if d := c.PageRank.Damping; d <= 0 || d >= 1 {
		errs = append(errs, fmt.Errorf("pagerank.damping must be in (0,1), got %g", d))
	}
	if c.PageRank.HalfLifeDays < 0 {
		errs = append(errs, fmt.Errorf("pagerank.half_life_days must not be negative, got %g", c.PageRank.HalfLifeDays))
	}
	if c.Relevance.AmbiguityThreshold <= 0 {
		errs = append(errs, fmt.Errorf("relevance.ambiguity_threshold must be positive, got %d", c.Relevance.AmbiguityThreshold))
	}
	for _, t := range c.PageRank.RankedTypes {
		if _, err := entity.ParseType(string(t)); err != nil {
			errs = append(errs, fmt.Errorf("pagerank.ranked_types: %w", err))
		}
	}
	return errors.Join(errs...)
}
