// Package config loads engine configuration from defaults, an optional
// override map, and MEMLAYER_ environment variables, in that order of
// precedence (lowest to highest).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"

	"github.com/AgonDise/memory-layer-lab/compress"
	"github.com/AgonDise/memory-layer-lab/ltm"
	"github.com/AgonDise/memory-layer-lab/memory"
)

const (
	// EnvPrefix is the prefix for environment variables. A double
	// underscore separates nesting levels: MEMLAYER_COMPRESSOR__MAX_TOKENS
	// maps to compressor.max_tokens.
	EnvPrefix = "MEMLAYER_"

	// Delimiter is the key delimiter for nested config.
	Delimiter = "."
)

// Config is the engine configuration.
type Config struct {
	STMMax         int `koanf:"stm_max"`
	STMTTLSeconds  int `koanf:"stm_ttl_seconds"`
	MTMMax         int `koanf:"mtm_max"`
	SummarizeEvery int `koanf:"summarize_every"`
	EmbeddingDim   int `koanf:"embedding_dim"`

	Compressor   CompressorConfig   `koanf:"compressor"`
	Aggregator   AggregatorConfig   `koanf:"aggregator"`
	LTM          LTMConfig          `koanf:"ltm"`
	Orchestrator OrchestratorConfig `koanf:"orchestrator"`
}

// CompressorConfig controls the token-budget stage.
type CompressorConfig struct {
	MaxTokens int     `koanf:"max_tokens"`
	Strategy  string  `koanf:"strategy"`
	MMRLambda float64 `koanf:"mmr_lambda"`
}

// AggregatorConfig controls cross-tier scoring.
type AggregatorConfig struct {
	Weights        WeightsConfig `koanf:"weights"`
	Alpha          float64       `koanf:"alpha"`
	DedupThreshold float64       `koanf:"dedup_threshold"`
}

// WeightsConfig holds the per-tier layer weights.
type WeightsConfig struct {
	STM float64 `koanf:"stm"`
	MTM float64 `koanf:"mtm"`
	LTM float64 `koanf:"ltm"`
}

// LTMConfig controls long-term retrieval.
type LTMConfig struct {
	Strategy    string `koanf:"strategy"`
	ExpandDepth int    `koanf:"expand_depth"`
}

// OrchestratorConfig controls retrieval coordination.
type OrchestratorConfig struct {
	TierDeadlineMS int `koanf:"tier_deadline_ms"`
}

// Default returns the documented defaults.
func Default() Config {
	return Config{
		STMMax:         10,
		STMTTLSeconds:  3600,
		MTMMax:         100,
		SummarizeEvery: 5,
		EmbeddingDim:   384,
		Compressor: CompressorConfig{
			MaxTokens: 2000,
			Strategy:  string(compress.ScoreBased),
			MMRLambda: 0.7,
		},
		Aggregator: AggregatorConfig{
			Weights:        WeightsConfig{STM: 0.5, MTM: 0.3, LTM: 0.2},
			Alpha:          0.7,
			DedupThreshold: 0.85,
		},
		LTM: LTMConfig{
			Strategy:    string(ltm.VectorFirst),
			ExpandDepth: 1,
		},
		Orchestrator: OrchestratorConfig{
			TierDeadlineMS: 2000,
		},
	}
}

// Load builds a Config from defaults, the override map (dot-separated
// keys, e.g. "compressor.max_tokens"), and MEMLAYER_ environment
// variables.
func Load(overrides map[string]any) (Config, error) {
	k := koanf.New(Delimiter)

	if err := k.Load(confmap.Provider(defaultsMap(), Delimiter), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}
	if len(overrides) > 0 {
		if err := k.Load(confmap.Provider(overrides, Delimiter), nil); err != nil {
			return Config{}, fmt.Errorf("apply overrides: %w", err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, Delimiter, func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.ReplaceAll(key, "__", Delimiter)
	}), nil); err != nil {
		return Config{}, fmt.Errorf("load env: %w", err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func defaultsMap() map[string]any {
	d := Default()
	return map[string]any{
		"stm_max":                       d.STMMax,
		"stm_ttl_seconds":               d.STMTTLSeconds,
		"mtm_max":                       d.MTMMax,
		"summarize_every":               d.SummarizeEvery,
		"embedding_dim":                 d.EmbeddingDim,
		"compressor.max_tokens":         d.Compressor.MaxTokens,
		"compressor.strategy":           d.Compressor.Strategy,
		"compressor.mmr_lambda":         d.Compressor.MMRLambda,
		"aggregator.weights.stm":        d.Aggregator.Weights.STM,
		"aggregator.weights.mtm":        d.Aggregator.Weights.MTM,
		"aggregator.weights.ltm":        d.Aggregator.Weights.LTM,
		"aggregator.alpha":              d.Aggregator.Alpha,
		"aggregator.dedup_threshold":    d.Aggregator.DedupThreshold,
		"ltm.strategy":                  d.LTM.Strategy,
		"ltm.expand_depth":              d.LTM.ExpandDepth,
		"orchestrator.tier_deadline_ms": d.Orchestrator.TierDeadlineMS,
	}
}

// Validate checks ranges and vocabularies.
func (c Config) Validate() error {
	fail := func(format string, args ...any) error {
		return fmt.Errorf(format+": %w", append(args, memory.ErrSchemaValidation)...)
	}

	if c.STMMax < 1 {
		return fail("stm_max %d must be >= 1", c.STMMax)
	}
	if c.STMTTLSeconds < 0 {
		return fail("stm_ttl_seconds %d must be >= 0", c.STMTTLSeconds)
	}
	if c.MTMMax < 1 {
		return fail("mtm_max %d must be >= 1", c.MTMMax)
	}
	if c.SummarizeEvery < 1 {
		return fail("summarize_every %d must be >= 1", c.SummarizeEvery)
	}
	if c.EmbeddingDim < 1 {
		return fail("embedding_dim %d must be >= 1", c.EmbeddingDim)
	}
	if c.Compressor.MaxTokens < 0 {
		return fail("compressor.max_tokens %d must be >= 0", c.Compressor.MaxTokens)
	}
	switch compress.Strategy(c.Compressor.Strategy) {
	case compress.Truncate, compress.ScoreBased, compress.MMR:
	default:
		return fail("compressor.strategy %q unknown", c.Compressor.Strategy)
	}
	if c.Compressor.MMRLambda < 0 || c.Compressor.MMRLambda > 1 {
		return fail("compressor.mmr_lambda %v must be in [0,1]", c.Compressor.MMRLambda)
	}
	sum := c.Aggregator.Weights.STM + c.Aggregator.Weights.MTM + c.Aggregator.Weights.LTM
	if sum < 0.99 || sum > 1.01 {
		return fail("aggregator.weights sum %v must be ~1", sum)
	}
	if c.Aggregator.Alpha < 0 || c.Aggregator.Alpha > 1 {
		return fail("aggregator.alpha %v must be in [0,1]", c.Aggregator.Alpha)
	}
	if c.Aggregator.DedupThreshold < 0 || c.Aggregator.DedupThreshold > 1 {
		return fail("aggregator.dedup_threshold %v must be in [0,1]", c.Aggregator.DedupThreshold)
	}
	switch ltm.Strategy(strings.ToLower(c.LTM.Strategy)) {
	case ltm.VectorOnly, ltm.GraphOnly, ltm.VectorFirst, ltm.GraphFirst, ltm.Parallel:
	default:
		return fail("ltm.strategy %q unknown", c.LTM.Strategy)
	}
	if c.LTM.ExpandDepth < 1 {
		return fail("ltm.expand_depth %d must be >= 1", c.LTM.ExpandDepth)
	}
	if c.Orchestrator.TierDeadlineMS < 1 {
		return fail("orchestrator.tier_deadline_ms %d must be >= 1", c.Orchestrator.TierDeadlineMS)
	}
	return nil
}

// STMTTL returns the STM TTL as a duration; zero disables expiry.
func (c Config) STMTTL() time.Duration {
	return time.Duration(c.STMTTLSeconds) * time.Second
}

// TierDeadline returns the per-tier retrieval deadline.
func (c Config) TierDeadline() time.Duration {
	return time.Duration(c.Orchestrator.TierDeadlineMS) * time.Millisecond
}

// CompressStrategy returns the typed compressor strategy.
func (c Config) CompressStrategy() compress.Strategy {
	return compress.Strategy(strings.ToLower(c.Compressor.Strategy))
}

// LTMStrategy returns the typed long-term retrieval strategy.
func (c Config) LTMStrategy() ltm.Strategy {
	return ltm.Strategy(strings.ToLower(c.LTM.Strategy))
}
