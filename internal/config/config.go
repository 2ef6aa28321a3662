// Package config provides configuration for the orchestrator.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the orchestrator configuration. Policy thresholds are
// business constants calibrated by operators; every one of them is a
// config field with a default, never a hard-coded literal in the pipeline.
type Config struct {
	HTTP struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"http"`

	DB struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"db"`

	LLM struct {
		BaseURL   string        `mapstructure:"base_url"`
		Model     string        `mapstructure:"model"`
		APIKey    string        `mapstructure:"api_key"`
		TimeoutMs int           `mapstructure:"timeout_ms"`
		Timeout   time.Duration `mapstructure:"-"`
	} `mapstructure:"llm"`

	Agents struct {
		Dir string `mapstructure:"dir"`
	} `mapstructure:"agents"`

	Pipeline PipelineConfig `mapstructure:"pipeline"`

	Schedule struct {
		Enabled bool   `mapstructure:"enabled"`
		Cron    string `mapstructure:"cron"`
	} `mapstructure:"schedule"`

	Stream struct {
		PollInterval   time.Duration `mapstructure:"-"`
		PollIntervalMs int           `mapstructure:"poll_interval_ms"`
		MaxDurationMs  int           `mapstructure:"max_duration_ms"`
		MaxDuration    time.Duration `mapstructure:"-"`
	} `mapstructure:"stream"`
}

// PipelineConfig carries the coordination policy knobs.
type PipelineConfig struct {
	// TopNCandidates bounds candidates kept per researcher by the
	// pre-filter. This bound keeps reasoning-call volume linear in
	// researcher count.
	TopNCandidates int `mapstructure:"top_n_candidates"`

	// MatchBatchSize bounds pairs per scoring call; cancellation latency
	// is bounded by one batch.
	MatchBatchSize int `mapstructure:"match_batch_size"`

	// MatchParallelism bounds concurrent scoring calls within the match node.
	MatchParallelism int `mapstructure:"match_parallelism"`

	CritiqueBatchSize int `mapstructure:"critique_batch_size"`
	SummaryBatchSize  int `mapstructure:"summary_batch_size"`

	// MaxIterations is the hard ceiling on critique-driven re-scoring passes.
	MaxIterations int `mapstructure:"max_iterations"`

	// FlaggedRevisionRatio: re-score when more than this fraction of
	// matches is flagged by critique.
	FlaggedRevisionRatio float64 `mapstructure:"flagged_revision_ratio"`

	// ScoreDivergencePoints flags a match whose overall score diverges
	// from the justification-strength estimate by more than this.
	ScoreDivergencePoints float64 `mapstructure:"score_divergence_points"`

	// AbortFailureRatio aborts the run when failed steps exceed this
	// fraction of attempted steps.
	AbortFailureRatio float64 `mapstructure:"abort_failure_ratio"`

	// SummaryScoreFloor: only matches at or above it get summaries.
	SummaryScoreFloor float64 `mapstructure:"summary_score_floor"`

	// DiscoverEnrichLimit skips LLM enrichment above this researcher count.
	DiscoverEnrichLimit int `mapstructure:"discover_enrich_limit"`
}

// Load reads configuration from an optional config file and the environment.
// Environment variables use the FUNDMATCH_ prefix with underscores, e.g.
// FUNDMATCH_PIPELINE_TOP_N_CANDIDATES.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("FUNDMATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine; defaults plus env carry the config.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.LLM.Timeout = time.Duration(cfg.LLM.TimeoutMs) * time.Millisecond
	cfg.Stream.PollInterval = time.Duration(cfg.Stream.PollIntervalMs) * time.Millisecond
	cfg.Stream.MaxDuration = time.Duration(cfg.Stream.MaxDurationMs) * time.Millisecond

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.port", 8080)
	v.SetDefault("db.path", "file:fundmatch.db?cache=shared&mode=rwc")

	v.SetDefault("llm.base_url", "http://localhost:4000")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.timeout_ms", 120000)

	v.SetDefault("agents.dir", "agents")

	v.SetDefault("pipeline.top_n_candidates", 20)
	v.SetDefault("pipeline.match_batch_size", 10)
	v.SetDefault("pipeline.match_parallelism", 2)
	v.SetDefault("pipeline.critique_batch_size", 15)
	v.SetDefault("pipeline.summary_batch_size", 20)
	v.SetDefault("pipeline.max_iterations", 2)
	v.SetDefault("pipeline.flagged_revision_ratio", 0.30)
	v.SetDefault("pipeline.score_divergence_points", 15.0)
	v.SetDefault("pipeline.abort_failure_ratio", 0.50)
	v.SetDefault("pipeline.summary_score_floor", 25.0)
	v.SetDefault("pipeline.discover_enrich_limit", 50)

	v.SetDefault("schedule.enabled", false)
	v.SetDefault("schedule.cron", "0 6 * * 1")

	v.SetDefault("stream.poll_interval_ms", 10000)
	v.SetDefault("stream.max_duration_ms", 900000)
}

// Default returns a Config populated with defaults only, for tests and
// embedded use.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(err)
	}
	cfg.LLM.Timeout = time.Duration(cfg.LLM.TimeoutMs) * time.Millisecond
	cfg.Stream.PollInterval = time.Duration(cfg.Stream.PollIntervalMs) * time.Millisecond
	cfg.Stream.MaxDuration = time.Duration(cfg.Stream.MaxDurationMs) * time.Millisecond
	return &cfg
}
