package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/fundmatch/orchestrator/internal/domain"
	"github.com/fundmatch/orchestrator/internal/invoker"
)

// critiqueReview is one entry of the critic agent's output array. The agent
// supplies adjusted scores and observations; the flagging decision itself
// is made server-side by fixed rules.
type critiqueReview struct {
	ResearcherID   int64  `json:"researcher_id"`
	OpportunityID  int64  `json:"opportunity_id"`
	AdjustedScores *struct {
		RelevanceScore   float64 `json:"relevance_score"`
		FeasibilityScore float64 `json:"feasibility_score"`
		ImpactScore      float64 `json:"impact_score"`
	} `json:"adjusted_scores"`
	Critique            string   `json:"critique"`
	EligibilityMismatch bool     `json:"eligibility_mismatch"`
	OmittedStrengths    []string `json:"omitted_strengths"`
}

func (c *Coordinator) critiqueNode(ctx context.Context, st *runState) error {
	agent := st.agents[domain.NodeCritique]
	if !agent.Enabled {
		c.skipNode(ctx, st, domain.NodeCritique, agent.Slug, seqCritique, "agent disabled")
		return nil
	}
	if len(st.matches) == 0 {
		return nil
	}

	reviews := make(map[string]critiqueReview)
	batches := chunkMatches(st.matches, c.cfg.Pipeline.CritiqueBatchSize)
	for i, batch := range batches {
		if c.cancelRequested(st.runID) {
			return domain.ErrCancelled
		}
		c.publish(st.runID, domain.LogEvent{
			Type:    domain.EventTypeInfo,
			Node:    domain.NodeCritique,
			Agent:   agent.Slug,
			Message: fmt.Sprintf("Critique batch %d/%d (%d matches)", i+1, len(batches), len(batch)),
		})

		batchJSON, _ := json.MarshalIndent(batch, "", "  ")
		prompt := fmt.Sprintf(`Review these %d matches for quality, score calibration, and justification strength.

Matches to review:
%s

For each match:
1. Check whether the justification supports the scores
2. Note any eligibility mismatch the justification leaves unaddressed
3. List researcher strengths the scoring omitted
4. Adjust scores if warranted and provide your critique

Respond with a JSON array of reviews with researcher_id, opportunity_id,
adjusted_scores, critique, eligibility_mismatch, omitted_strengths.`, len(batch), batchJSON)

		result, err := c.caller.Invoke(ctx, invoker.Request{
			RunID:    st.runID,
			Node:     domain.NodeCritique,
			Sequence: seqCritique + i + st.seqStride(),
			Agent:    agent,
			Prompt:   prompt,
		})
		if err != nil {
			return err
		}

		var parsed []critiqueReview
		if !invoker.ParseJSONInto(result.Content, &parsed) {
			var wrapper struct {
				Reviews []critiqueReview `json:"reviews"`
			}
			if !invoker.ParseJSONInto(result.Content, &wrapper) {
				continue
			}
			parsed = wrapper.Reviews
		}
		for _, r := range parsed {
			reviews[fmt.Sprintf("%d:%d", r.ResearcherID, r.OpportunityID)] = r
		}
	}

	flagged := 0
	for _, m := range st.matches {
		review, ok := reviews[m.PairKey()]
		if !ok {
			review = critiqueReview{}
		}
		if c.applyCritique(m, review) {
			flagged++
		}
	}

	c.publish(st.runID, domain.LogEvent{
		Type:    domain.EventTypeInfo,
		Node:    domain.NodeCritique,
		Message: fmt.Sprintf("Critique reviewed %d matches, %d flagged", len(st.matches), flagged),
	})
	return nil
}

// applyCritique evaluates the fixed flagging rules against one match and
// its review, applying the critic's adjusted scores when a rule trips.
// Returns whether the match ended up flagged.
func (c *Coordinator) applyCritique(m *domain.Match, review critiqueReview) bool {
	m.Critique = review.Critique

	tripped := weakJustification(m.Justification) ||
		c.scoreDiverges(m, review) ||
		unaddressedEligibilityMismatch(m, review) ||
		len(review.OmittedStrengths) > 0

	if !tripped {
		m.Flagged = false
		m.RevisionNeeded = false
		return false
	}

	m.Flagged = true
	m.RevisionNeeded = true
	if review.AdjustedScores != nil {
		adj := review.AdjustedScores
		// An out-of-range adjustment is ignored; the last valid scores stand.
		if err := m.Rescore(adj.RelevanceScore, adj.FeasibilityScore, adj.ImpactScore); err != nil {
			m.Critique = strings.TrimSpace(m.Critique + " (adjusted scores rejected: out of range)")
		}
	}
	return true
}

// scoreDiverges reports whether the stated overall score and the critic's
// justification-strength assessment differ by more than the configured
// point threshold.
func (c *Coordinator) scoreDiverges(m *domain.Match, review critiqueReview) bool {
	if review.AdjustedScores == nil {
		return false
	}
	adj := review.AdjustedScores
	adjusted := domain.OverallScore(adj.RelevanceScore, adj.FeasibilityScore, adj.ImpactScore)
	return math.Abs(m.OverallScore-adjusted) > c.cfg.Pipeline.ScoreDivergencePoints
}

// unaddressedEligibilityMismatch trips when the critic spotted an
// eligibility problem the justification never mentions.
func unaddressedEligibilityMismatch(m *domain.Match, review critiqueReview) bool {
	if !review.EligibilityMismatch {
		return false
	}
	return !strings.Contains(strings.ToLower(m.Justification), "eligib")
}

var genericPhrases = []string{
	"good fit",
	"strong match",
	"well aligned",
	"aligns well",
	"great opportunity",
	"relevant to their work",
	"seems promising",
}

// weakJustification trips on justifications shorter than two sentences or
// made of purely generic language with no specifics.
func weakJustification(justification string) bool {
	text := strings.TrimSpace(justification)
	if text == "" {
		return true
	}
	if countSentences(text) < 2 {
		return true
	}

	lower := strings.ToLower(text)
	for _, phrase := range genericPhrases {
		if strings.Contains(lower, phrase) && len(strings.Fields(text)) < 15 {
			return true
		}
	}
	return false
}

func countSentences(text string) int {
	count := 0
	for _, r := range text {
		switch r {
		case '.', '!', '?':
			count++
		}
	}
	// Trailing text without a terminator still reads as a sentence.
	last := strings.TrimSpace(text)
	if last != "" && !strings.ContainsAny(last[len(last)-1:], ".!?") {
		count++
	}
	return count
}
