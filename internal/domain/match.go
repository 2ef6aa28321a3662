package domain

import (
	"fmt"
	"math"
	"time"
)

// Score weights for the overall match score. The overall score is always
// the weighted combination of the three sub-scores; it is computed once at
// construction and never recomputed ad hoc.
const (
	RelevanceWeight   = 0.40
	FeasibilityWeight = 0.35
	ImpactWeight      = 0.25
)

// ScoreTolerance is the floating-point tolerance when verifying the overall
// score invariant.
const ScoreTolerance = 1e-6

// Match is one scored (researcher, opportunity) pair produced by the match
// node and refined by critique and summarize.
type Match struct {
	MatchID          string     `json:"match_id"`
	RunID            string     `json:"run_id"`
	ResearcherID     int64      `json:"researcher_id"`
	OpportunityID    int64      `json:"opportunity_id"`
	RelevanceScore   float64    `json:"relevance_score"`
	FeasibilityScore float64    `json:"feasibility_score"`
	ImpactScore      float64    `json:"impact_score"`
	OverallScore     float64    `json:"overall_score"`
	Confidence       Confidence `json:"confidence"`
	Justification    string     `json:"justification"`
	Critique         string     `json:"critique,omitempty"`
	Summary          string     `json:"summary,omitempty"`
	Flagged          bool       `json:"flagged"`
	RevisionNeeded   bool       `json:"revision_needed"`
	ComputedAt       time.Time  `json:"computed_at"`
}

// OverallScore computes the weighted combination of the three sub-scores.
func OverallScore(relevance, feasibility, impact float64) float64 {
	return relevance*RelevanceWeight + feasibility*FeasibilityWeight + impact*ImpactWeight
}

// NewMatch validates the sub-scores and builds a Match with the overall
// score derived from the fixed weights. A zero on any dimension is a valid
// disqualifying signal, not a malformed response; only out-of-range values
// or an unknown confidence are rejected.
func NewMatch(researcherID, opportunityID int64, relevance, feasibility, impact float64, confidence, justification string) (*Match, error) {
	for name, v := range map[string]float64{
		"relevance_score":   relevance,
		"feasibility_score": feasibility,
		"impact_score":      impact,
	} {
		if math.IsNaN(v) || v < 0 || v > 100 {
			return nil, fmt.Errorf("%s out of range: %v", name, v)
		}
	}
	if !ValidConfidence(confidence) {
		return nil, fmt.Errorf("unknown confidence %q", confidence)
	}

	return &Match{
		ResearcherID:     researcherID,
		OpportunityID:    opportunityID,
		RelevanceScore:   relevance,
		FeasibilityScore: feasibility,
		ImpactScore:      impact,
		OverallScore:     OverallScore(relevance, feasibility, impact),
		Confidence:       Confidence(confidence),
		Justification:    justification,
		ComputedAt:       time.Now().UTC(),
	}, nil
}

// Rescore replaces the sub-scores and re-derives the overall score so the
// invariant holds after a critique adjustment.
func (m *Match) Rescore(relevance, feasibility, impact float64) error {
	for name, v := range map[string]float64{
		"relevance_score":   relevance,
		"feasibility_score": feasibility,
		"impact_score":      impact,
	} {
		if math.IsNaN(v) || v < 0 || v > 100 {
			return fmt.Errorf("%s out of range: %v", name, v)
		}
	}
	m.RelevanceScore = relevance
	m.FeasibilityScore = feasibility
	m.ImpactScore = impact
	m.OverallScore = OverallScore(relevance, feasibility, impact)
	return nil
}

// PairKey identifies a match within a run.
func (m *Match) PairKey() string {
	return fmt.Sprintf("%d:%d", m.ResearcherID, m.OpportunityID)
}
