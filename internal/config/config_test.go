package config

import (
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	if cfg.HTTP.Port != 8080 {
		t.Fatalf("unexpected port %d", cfg.HTTP.Port)
	}
	if cfg.LLM.Timeout != 120*time.Second {
		t.Fatalf("unexpected LLM timeout %s", cfg.LLM.Timeout)
	}
	if cfg.Agents.Dir != "agents" {
		t.Fatalf("unexpected agents dir %q", cfg.Agents.Dir)
	}

	p := cfg.Pipeline
	if p.TopNCandidates != 20 {
		t.Fatalf("unexpected top_n_candidates %d", p.TopNCandidates)
	}
	if p.MatchBatchSize != 10 || p.CritiqueBatchSize != 15 || p.SummaryBatchSize != 20 {
		t.Fatalf("unexpected batch sizes: %+v", p)
	}
	if p.MaxIterations != 2 {
		t.Fatalf("unexpected max_iterations %d", p.MaxIterations)
	}
	if p.FlaggedRevisionRatio != 0.30 || p.AbortFailureRatio != 0.50 {
		t.Fatalf("unexpected ratios: %+v", p)
	}
	if p.ScoreDivergencePoints != 15.0 || p.SummaryScoreFloor != 25.0 {
		t.Fatalf("unexpected thresholds: %+v", p)
	}
	if p.DiscoverEnrichLimit != 50 {
		t.Fatalf("unexpected discover_enrich_limit %d", p.DiscoverEnrichLimit)
	}

	if cfg.Schedule.Enabled {
		t.Fatal("schedule should default to disabled")
	}
	if cfg.Stream.PollInterval != 10*time.Second {
		t.Fatalf("unexpected poll interval %s", cfg.Stream.PollInterval)
	}
	if cfg.Stream.MaxDuration != 15*time.Minute {
		t.Fatalf("unexpected stream max duration %s", cfg.Stream.MaxDuration)
	}
}
