package domain

import (
	"math"
	"testing"
)

func TestNewMatchOverallScore(t *testing.T) {
	m, err := NewMatch(1, 2, 85, 70, 75, "high", "Strong overlap in quantum sensing. Prior NSF award in the same program.")
	if err != nil {
		t.Fatalf("NewMatch failed: %v", err)
	}
	want := 85*RelevanceWeight + 70*FeasibilityWeight + 75*ImpactWeight
	if math.Abs(m.OverallScore-want) > ScoreTolerance {
		t.Fatalf("expected overall %.4f, got %.4f", want, m.OverallScore)
	}
	if math.Abs(m.OverallScore-77.25) > ScoreTolerance {
		t.Fatalf("expected overall 77.25, got %.4f", m.OverallScore)
	}
	if m.Confidence != ConfidenceHigh {
		t.Fatalf("expected high confidence, got %s", m.Confidence)
	}
}

func TestNewMatchZeroScoresValid(t *testing.T) {
	// A zero is a deliberate disqualifying signal, not a malformed response.
	m, err := NewMatch(1, 2, 0, 0, 0, "high", "Institution type is ineligible for this program. The researcher cannot apply.")
	if err != nil {
		t.Fatalf("NewMatch rejected zero scores: %v", err)
	}
	if m.OverallScore != 0 {
		t.Fatalf("expected overall 0, got %.4f", m.OverallScore)
	}
}

func TestNewMatchRejectsOutOfRange(t *testing.T) {
	cases := []struct {
		name                           string
		relevance, feasibility, impact float64
	}{
		{"negative", -1, 50, 50},
		{"above hundred", 50, 101, 50},
		{"nan", 50, 50, math.NaN()},
	}
	for _, tc := range cases {
		if _, err := NewMatch(1, 2, tc.relevance, tc.feasibility, tc.impact, "low", "x"); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestNewMatchRejectsUnknownConfidence(t *testing.T) {
	if _, err := NewMatch(1, 2, 50, 50, 50, "very high", "x"); err == nil {
		t.Fatal("expected error for unknown confidence")
	}
	if _, err := NewMatch(1, 2, 50, 50, 50, "", "x"); err == nil {
		t.Fatal("expected error for empty confidence")
	}
}

func TestRescoreMaintainsInvariant(t *testing.T) {
	m, err := NewMatch(1, 2, 85, 70, 75, "medium", "ok. ok.")
	if err != nil {
		t.Fatalf("NewMatch failed: %v", err)
	}
	if err := m.Rescore(60, 55, 50); err != nil {
		t.Fatalf("Rescore failed: %v", err)
	}
	want := OverallScore(60, 55, 50)
	if math.Abs(m.OverallScore-want) > ScoreTolerance {
		t.Fatalf("expected overall %.4f after rescore, got %.4f", want, m.OverallScore)
	}

	// An out-of-range adjustment leaves the last valid scores standing.
	if err := m.Rescore(120, 55, 50); err == nil {
		t.Fatal("expected error for out-of-range rescore")
	}
	if math.Abs(m.OverallScore-want) > ScoreTolerance {
		t.Fatalf("rejected rescore mutated scores: got %.4f", m.OverallScore)
	}
}

func TestPairKey(t *testing.T) {
	m := &Match{ResearcherID: 7, OpportunityID: 31}
	if m.PairKey() != "7:31" {
		t.Fatalf("unexpected pair key %q", m.PairKey())
	}
}
