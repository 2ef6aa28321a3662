package pipeline

import (
	"testing"

	"github.com/fundmatch/orchestrator/internal/domain"
)

func TestPreFilterRanksByOverlap(t *testing.T) {
	researchers := []domain.ResearcherProfile{
		{ID: 1, Summary: "quantum computing error correction", Keywords: []string{"quantum", "qubits"}},
	}
	opportunities := []domain.OpportunityProfile{
		{ID: 10, Title: "Quantum computing research grants", Synopsis: "quantum error correction hardware"},
		{ID: 11, Title: "Marine biology fieldwork", Synopsis: "coral reef ecosystems"},
	}

	pairs := preFilter(researchers, opportunities, 20)
	if len(pairs) != 1 {
		t.Fatalf("expected 1 candidate pair, got %d: %+v", len(pairs), pairs)
	}
	if pairs[0].OpportunityID != 10 {
		t.Fatalf("expected quantum opportunity, got %d", pairs[0].OpportunityID)
	}
	if pairs[0].BaselineScore <= minBaselineScore {
		t.Fatalf("expected baseline above threshold, got %f", pairs[0].BaselineScore)
	}
}

func TestPreFilterTopNBound(t *testing.T) {
	researchers := []domain.ResearcherProfile{
		{ID: 1, Summary: "machine learning systems"},
	}
	var opportunities []domain.OpportunityProfile
	for i := int64(0); i < 10; i++ {
		opportunities = append(opportunities, domain.OpportunityProfile{
			ID:       i,
			Title:    "machine learning program",
			Synopsis: "learning systems research",
		})
	}

	pairs := preFilter(researchers, opportunities, 3)
	if len(pairs) != 3 {
		t.Fatalf("expected top-N bound of 3, got %d", len(pairs))
	}
}

func TestPreFilterEmptyInputs(t *testing.T) {
	if pairs := preFilter(nil, nil, 20); pairs != nil {
		t.Fatalf("expected nil for empty inputs, got %+v", pairs)
	}
	if pairs := preFilter([]domain.ResearcherProfile{{ID: 1}}, nil, 20); pairs != nil {
		t.Fatalf("expected nil without opportunities, got %+v", pairs)
	}
}

func TestPreFilterUsesEnrichedKeywords(t *testing.T) {
	researchers := []domain.ResearcherProfile{
		{ID: 1, Summary: "protein folding", ExpandedKeywords: []string{"structural", "biology"}},
	}
	opportunities := []domain.OpportunityProfile{
		{ID: 10, Title: "Structural biology instrumentation", Synopsis: "structural biology"},
	}

	pairs := preFilter(researchers, opportunities, 20)
	if len(pairs) != 1 {
		t.Fatalf("expected enriched keywords to produce a pair, got %d", len(pairs))
	}
}

func TestTokenize(t *testing.T) {
	tokens := tokenize("The quantum-computing lab, and its 2 qubits!")
	want := []string{"quantum", "computing", "lab", "qubits"}
	if len(tokens) != len(want) {
		t.Fatalf("expected %v, got %v", want, tokens)
	}
	for i := range want {
		if tokens[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, tokens)
		}
	}
}

func TestSplitKeywords(t *testing.T) {
	got := splitKeywords("quantum computing; machine learning, robotics ,")
	want := []string{"quantum computing", "machine learning", "robotics"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
	if splitKeywords("") != nil {
		t.Fatal("expected nil for empty input")
	}
}
