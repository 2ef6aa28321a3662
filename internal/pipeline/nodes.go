package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/fundmatch/orchestrator/internal/domain"
	"github.com/fundmatch/orchestrator/internal/invoker"
	"github.com/fundmatch/orchestrator/internal/profile"
)

// Node step sequence bases. Match and critique offset per batch, plus a
// per-iteration stride so re-scoring passes stay ordered.
const (
	seqPlan      = 1
	seqDiscover  = 2
	seqPreFilter = 3
	seqMatch     = 4
	seqCritique  = 50
	seqSummarize = 70
	seqPersist   = 80
	seqIteration = 100
)

func (c *Coordinator) planNode(ctx context.Context, st *runState) error {
	researchers, err := c.store.ListResearchers(ctx, st.input.ResearcherIDs)
	if err != nil {
		return fmt.Errorf("failed to count researchers: %w", err)
	}
	opportunities, err := c.store.ListOpportunities(ctx, st.input.OpportunityIDs)
	if err != nil {
		return fmt.Errorf("failed to count opportunities: %w", err)
	}

	fallback := matchingPlan{
		Strategy:        "full",
		TopNCandidates:  c.cfg.Pipeline.TopNCandidates,
		BatchSize:       c.cfg.Pipeline.MatchBatchSize,
		ResearcherCount: len(researchers),
		OpportunityCnt:  len(opportunities),
	}

	agent := st.agents[domain.NodePlan]
	if !agent.Enabled {
		c.skipNode(ctx, st, domain.NodePlan, agent.Slug, seqPlan, "agent disabled")
		st.plan = fallback
		return nil
	}

	rScope := "ALL"
	if len(st.input.ResearcherIDs) > 0 {
		rScope = fmt.Sprintf("%v", st.input.ResearcherIDs)
	}
	oScope := "ALL active"
	if len(st.input.OpportunityIDs) > 0 {
		oScope = fmt.Sprintf("%v", st.input.OpportunityIDs)
	}
	prompt := fmt.Sprintf(`Assess the current data state and create a matching strategy.

Data state:
- Total active researchers: %d
- Total active opportunities: %d
- Requested researcher IDs: %s
- Requested opportunity IDs: %s

Create a matching plan. Respond with JSON only.`, len(researchers), len(opportunities), rScope, oScope)

	result, err := c.caller.Invoke(ctx, invoker.Request{
		RunID:    st.runID,
		Node:     domain.NodePlan,
		Sequence: seqPlan,
		Agent:    agent,
		Prompt:   prompt,
	})
	if err != nil {
		return err
	}

	var plan matchingPlan
	if !invoker.ParseJSONInto(result.Content, &plan) || plan.TopNCandidates <= 0 {
		// A planner that rambles instead of planning does not sink the run.
		plan = fallback
	}
	if plan.BatchSize <= 0 {
		plan.BatchSize = c.cfg.Pipeline.MatchBatchSize
	}
	st.plan = plan
	return nil
}

// discoveryEnrichment is one entry of the discovery agent's output array.
type discoveryEnrichment struct {
	ResearcherID     int64    `json:"researcher_id"`
	ID               int64    `json:"id"`
	ExpandedKeywords []string `json:"expanded_keywords"`
	Themes           []string `json:"themes"`
	EligibilityNotes string   `json:"eligibility_notes"`
}

func (c *Coordinator) discoverNode(ctx context.Context, st *runState) error {
	researchers, err := c.store.ListResearchers(ctx, st.input.ResearcherIDs)
	if err != nil {
		return fmt.Errorf("failed to load researchers: %w", err)
	}
	opportunities, err := c.store.ListOpportunities(ctx, st.input.OpportunityIDs)
	if err != nil {
		return fmt.Errorf("failed to load opportunities: %w", err)
	}

	st.researchers = make([]domain.ResearcherProfile, 0, len(researchers))
	for _, r := range researchers {
		st.researchers = append(st.researchers, domain.ResearcherProfile{
			ID:       r.ID,
			Name:     r.FullName,
			Position: r.Position,
			Summary:  r.Summary,
			Keywords: splitKeywords(r.KeywordText),
		})
	}
	st.opportunities = make([]domain.OpportunityProfile, 0, len(opportunities))
	for _, o := range opportunities {
		st.opportunities = append(st.opportunities, domain.OpportunityProfile{
			ID:            o.ID,
			OpportunityNo: o.OpportunityNo,
			Title:         o.Title,
			Synopsis:      truncate(o.Synopsis, 1000),
			AgencyCode:    o.AgencyCode,
			Status:        o.Status,
			CloseDate:     o.CloseDate,
			AwardCeiling:  o.AwardCeiling,
			AwardFloor:    o.AwardFloor,
		})
	}

	agent := st.agents[domain.NodeDiscover]
	if !agent.Enabled {
		c.skipNode(ctx, st, domain.NodeDiscover, agent.Slug, seqDiscover, "agent disabled")
		return nil
	}
	if len(st.researchers) > c.cfg.Pipeline.DiscoverEnrichLimit {
		c.skipNode(ctx, st, domain.NodeDiscover, agent.Slug, seqDiscover,
			fmt.Sprintf("batch too large (%d researchers), skipping LLM enrichment", len(st.researchers)))
		return nil
	}
	if len(st.researchers) == 0 {
		return nil
	}

	preview := st.researchers
	if len(preview) > 5 {
		preview = preview[:5]
	}
	previewJSON, _ := json.MarshalIndent(preview, "", "  ")
	prompt := fmt.Sprintf(`Analyze these researcher profiles and identify key research themes, methods, and matching criteria.

Researcher count: %d, Opportunity count: %d

Top %d researcher profiles:
%s

Respond with a JSON array of enriched profiles with expanded keywords, themes, and eligibility notes.`,
		len(st.researchers), len(st.opportunities), len(preview), previewJSON)

	result, err := c.caller.Invoke(ctx, invoker.Request{
		RunID:    st.runID,
		Node:     domain.NodeDiscover,
		Sequence: seqDiscover,
		Agent:    agent,
		Prompt:   prompt,
	})
	if err != nil {
		return err
	}

	var enrichments []discoveryEnrichment
	if invoker.ParseJSONInto(result.Content, &enrichments) {
		byID := make(map[int64]discoveryEnrichment, len(enrichments))
		for _, e := range enrichments {
			id := e.ResearcherID
			if id == 0 {
				id = e.ID
			}
			byID[id] = e
		}
		for i := range st.researchers {
			if e, ok := byID[st.researchers[i].ID]; ok {
				st.researchers[i].ExpandedKeywords = e.ExpandedKeywords
				st.researchers[i].Themes = e.Themes
				st.researchers[i].EligibilityNotes = e.EligibilityNotes
			}
		}
	}
	return nil
}

func (c *Coordinator) preFilterNode(ctx context.Context, st *runState) error {
	start := time.Now()
	topN := st.plan.TopNCandidates
	if topN <= 0 {
		topN = c.cfg.Pipeline.TopNCandidates
	}

	st.pairs = preFilter(st.researchers, st.opportunities, topN)

	durationMs := time.Since(start).Milliseconds()
	output, _ := json.Marshal(map[string]interface{}{"candidate_pairs": len(st.pairs), "top_n": topN})
	c.recordPureStep(ctx, st, domain.NodePreFilter, seqPreFilter, string(output), durationMs)
	c.publish(st.runID, domain.LogEvent{
		Type:       domain.EventTypeInfo,
		Node:       domain.NodePreFilter,
		Message:    fmt.Sprintf("Pre-filter kept %d candidate pairs", len(st.pairs)),
		DurationMs: durationMs,
	})
	return nil
}

// pairDescription is what the matchmaker sees for one candidate pair.
type pairDescription struct {
	ResearcherID       int64    `json:"researcher_id"`
	ResearcherName     string   `json:"researcher_name"`
	ResearcherKeywords []string `json:"researcher_keywords"`
	ResearcherSummary  string   `json:"researcher_summary"`
	EligibilityNotes   string   `json:"eligibility_notes,omitempty"`
	OpportunityID      int64    `json:"opportunity_id"`
	OpportunityTitle   string   `json:"opportunity_title"`
	OpportunitySyn     string   `json:"opportunity_synopsis"`
	OpportunityAgency  string   `json:"opportunity_agency"`
	BaselineScore      float64  `json:"baseline_score"`
}

// rawMatch is one entry of the matchmaker's output array.
type rawMatch struct {
	ResearcherID     int64   `json:"researcher_id"`
	OpportunityID    int64   `json:"opportunity_id"`
	RelevanceScore   float64 `json:"relevance_score"`
	FeasibilityScore float64 `json:"feasibility_score"`
	ImpactScore      float64 `json:"impact_score"`
	Confidence       string  `json:"confidence"`
	Justification    string  `json:"justification"`
}

func (c *Coordinator) matchNode(ctx context.Context, st *runState) error {
	agent := st.agents[domain.NodeMatch]
	if !agent.Enabled {
		c.skipNode(ctx, st, domain.NodeMatch, agent.Slug, seqMatch, "agent disabled")
		st.matches = nil
		return nil
	}
	if len(st.pairs) == 0 {
		st.matches = nil
		st.iterations++
		return nil
	}

	rByID := make(map[int64]domain.ResearcherProfile, len(st.researchers))
	for _, r := range st.researchers {
		rByID[r.ID] = r
	}
	oByID := make(map[int64]domain.OpportunityProfile, len(st.opportunities))
	for _, o := range st.opportunities {
		oByID[o.ID] = o
	}

	batchSize := st.plan.BatchSize
	if batchSize <= 0 {
		batchSize = c.cfg.Pipeline.MatchBatchSize
	}
	batches := chunkPairs(st.pairs, batchSize)

	var (
		mu          sync.Mutex
		matches     []*domain.Match
		failedPairs int
	)
	parallelism := c.cfg.Pipeline.MatchParallelism
	if parallelism <= 0 {
		parallelism = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)

	dispatched := 0
	for i, batch := range batches {
		if c.cancelRequested(st.runID) {
			break
		}
		dispatched++
		i, batch := i, batch
		g.Go(func() error {
			c.publish(st.runID, domain.LogEvent{
				Type:    domain.EventTypeInfo,
				Node:    domain.NodeMatch,
				Agent:   agent.Slug,
				Message: fmt.Sprintf("Match batch %d/%d (%d pairs)", i+1, len(batches), len(batch)),
			})

			got, failed, err := c.scoreBatch(gctx, st, agent, batch, rByID, oByID, i)
			if err != nil {
				return err
			}
			mu.Lock()
			matches = append(matches, got...)
			failedPairs += failed
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()

	// Results from calls already in flight when cancellation arrived are
	// discarded, not merged.
	if c.cancelRequested(st.runID) {
		return domain.ErrCancelled
	}
	if err != nil {
		return err
	}

	st.matches = matches
	st.failedPairs += failedPairs
	st.iterations++
	c.publish(st.runID, domain.LogEvent{
		Type:    domain.EventTypeInfo,
		Node:    domain.NodeMatch,
		Message: fmt.Sprintf("Match scored %d pairs, %d failed (iteration %d)", len(matches), failedPairs, st.iterations),
	})
	return nil
}

// scoreBatch asks the matchmaker for one batch and validates every pair.
// A malformed pair fails that pair alone, never the batch.
func (c *Coordinator) scoreBatch(ctx context.Context, st *runState, agent *profile.Resolved, batch []domain.CandidatePair,
	rByID map[int64]domain.ResearcherProfile, oByID map[int64]domain.OpportunityProfile, batchIdx int) ([]*domain.Match, int, error) {

	descs := make([]pairDescription, 0, len(batch))
	for _, pair := range batch {
		r := rByID[pair.ResearcherID]
		o := oByID[pair.OpportunityID]
		descs = append(descs, pairDescription{
			ResearcherID:       pair.ResearcherID,
			ResearcherName:     r.Name,
			ResearcherKeywords: capStrings(append(r.Keywords, r.ExpandedKeywords...), 10),
			ResearcherSummary:  truncate(r.Summary, 300),
			EligibilityNotes:   r.EligibilityNotes,
			OpportunityID:      pair.OpportunityID,
			OpportunityTitle:   o.Title,
			OpportunitySyn:     truncate(o.Synopsis, 300),
			OpportunityAgency:  o.AgencyCode,
			BaselineScore:      pair.BaselineScore,
		})
	}
	descsJSON, _ := json.MarshalIndent(descs, "", "  ")

	revisionNote := ""
	if st.iterations > 0 {
		revisionNote = "This is a RE-EVALUATION after critic feedback.\n"
	}
	prompt := fmt.Sprintf(`Evaluate these %d researcher-opportunity pairs.
%s
Pairs to evaluate:
%s

Score each pair on relevance (0-100), feasibility (0-100), and impact (0-100).
Assign confidence: high/medium/low based on the evidence, not the scores.
Provide specific justification for each.

Respond with a JSON array of match objects.`, len(descs), revisionNote, descsJSON)

	result, err := c.caller.Invoke(ctx, invoker.Request{
		RunID:    st.runID,
		Node:     domain.NodeMatch,
		Sequence: seqMatch + batchIdx + st.iterations*seqIteration,
		Agent:    agent,
		Prompt:   prompt,
	})
	if err != nil {
		return nil, 0, err
	}

	var raw []rawMatch
	if !invoker.ParseJSONInto(result.Content, &raw) {
		var wrapper struct {
			Matches []rawMatch `json:"matches"`
		}
		if !invoker.ParseJSONInto(result.Content, &wrapper) || len(wrapper.Matches) == 0 {
			// Whole batch unusable: every pair in it failed.
			return nil, len(batch), nil
		}
		raw = wrapper.Matches
	}

	var matches []*domain.Match
	failed := 0
	for _, m := range raw {
		match, err := domain.NewMatch(m.ResearcherID, m.OpportunityID,
			m.RelevanceScore, m.FeasibilityScore, m.ImpactScore, m.Confidence, m.Justification)
		if err != nil {
			failed++
			continue
		}
		match.RunID = st.runID
		matches = append(matches, match)
	}
	return matches, failed, nil
}

// matchSummary is one entry of the summarizer's output array.
type matchSummary struct {
	ResearcherID  int64  `json:"researcher_id"`
	OpportunityID int64  `json:"opportunity_id"`
	Summary       string `json:"summary"`
}

func (c *Coordinator) summarizeNode(ctx context.Context, st *runState) error {
	agent := st.agents[domain.NodeSummarize]
	if !agent.Enabled {
		c.skipNode(ctx, st, domain.NodeSummarize, agent.Slug, seqSummarize+st.seqStride(), "agent disabled")
		return nil
	}
	if len(st.matches) == 0 {
		return nil
	}

	var worthy []*domain.Match
	for _, m := range st.matches {
		if m.OverallScore >= c.cfg.Pipeline.SummaryScoreFloor {
			worthy = append(worthy, m)
		}
	}
	if len(worthy) == 0 {
		return nil
	}

	summaries := make(map[string]string)
	batches := chunkMatches(worthy, c.cfg.Pipeline.SummaryBatchSize)
	for i, batch := range batches {
		if c.cancelRequested(st.runID) {
			return domain.ErrCancelled
		}
		c.publish(st.runID, domain.LogEvent{
			Type:    domain.EventTypeInfo,
			Node:    domain.NodeSummarize,
			Agent:   agent.Slug,
			Message: fmt.Sprintf("Summary batch %d/%d (%d matches)", i+1, len(batches), len(batch)),
		})

		batchJSON, _ := json.MarshalIndent(batch, "", "  ")
		prompt := fmt.Sprintf(`Create concise 2-3 sentence summaries for these %d researcher-opportunity matches.

Matches:
%s

Each summary should highlight the connection, strengths, and any caveats.

Respond with a JSON array: [{"researcher_id": X, "opportunity_id": Y, "summary": "..."}]`, len(batch), batchJSON)

		result, err := c.caller.Invoke(ctx, invoker.Request{
			RunID:    st.runID,
			Node:     domain.NodeSummarize,
			Sequence: seqSummarize + i + st.seqStride(),
			Agent:    agent,
			Prompt:   prompt,
		})
		if err != nil {
			return err
		}

		var parsed []matchSummary
		if invoker.ParseJSONInto(result.Content, &parsed) {
			for _, s := range parsed {
				summaries[fmt.Sprintf("%d:%d", s.ResearcherID, s.OpportunityID)] = s.Summary
			}
		}
	}

	for _, m := range st.matches {
		if s, ok := summaries[m.PairKey()]; ok {
			m.Summary = s
		}
	}
	c.publish(st.runID, domain.LogEvent{
		Type:    domain.EventTypeInfo,
		Node:    domain.NodeSummarize,
		Message: fmt.Sprintf("Generated %d summaries", len(summaries)),
	})
	return nil
}

func (c *Coordinator) persistNode(ctx context.Context, st *runState) error {
	start := time.Now()
	for _, m := range st.matches {
		if m.MatchID == "" {
			m.MatchID = "match_" + uuid.New().String()[:8]
		}
	}

	inserted, err := c.store.InsertMatches(ctx, st.matches)
	if err != nil {
		return fmt.Errorf("failed to persist matches: %w", err)
	}

	durationMs := time.Since(start).Milliseconds()
	output, _ := json.Marshal(map[string]interface{}{"matches_inserted": inserted})
	c.recordPureStep(ctx, st, domain.NodePersist, seqPersist+st.seqStride(), string(output), durationMs)
	c.publish(st.runID, domain.LogEvent{
		Type:       domain.EventTypeInfo,
		Node:       domain.NodePersist,
		Message:    fmt.Sprintf("Persisted %d matches", inserted),
		DurationMs: durationMs,
	})
	return nil
}

// skipNode records a skipped step so the run history shows why a node did
// not execute.
func (c *Coordinator) skipNode(ctx context.Context, st *runState, node domain.NodeName, agentSlug string, sequence int, reason string) {
	input, _ := json.Marshal(map[string]string{"reason": reason})
	step := &domain.WorkflowStep{
		StepID:    "step_" + uuid.New().String()[:8],
		RunID:     st.runID,
		NodeName:  node,
		AgentSlug: agentSlug,
		Sequence:  sequence,
		Status:    domain.StepStatusSkipped,
		InputData: string(input),
	}
	if err := c.store.AppendStep(ctx, step); err != nil {
		c.publish(st.runID, domain.LogEvent{
			Type:    domain.EventTypeError,
			Node:    node,
			Message: fmt.Sprintf("failed to record skipped step: %v", err),
		})
	}
	c.publish(st.runID, domain.LogEvent{
		Type:    domain.EventTypeInfo,
		Node:    node,
		Message: fmt.Sprintf("Skipped %s: %s", node, reason),
	})
}

func (c *Coordinator) recordPureStep(ctx context.Context, st *runState, node domain.NodeName, sequence int, output string, durationMs int64) {
	now := time.Now().UTC()
	step := &domain.WorkflowStep{
		StepID:      "step_" + uuid.New().String()[:8],
		RunID:       st.runID,
		NodeName:    node,
		AgentSlug:   "none",
		Sequence:    sequence,
		Status:      domain.StepStatusCompleted,
		OutputData:  output,
		DurationMs:  &durationMs,
		CompletedAt: &now,
	}
	if err := c.store.AppendStep(ctx, step); err != nil {
		c.publish(st.runID, domain.LogEvent{
			Type:    domain.EventTypeError,
			Node:    node,
			Message: fmt.Sprintf("failed to record step: %v", err),
		})
	}
}

func chunkPairs(pairs []domain.CandidatePair, size int) [][]domain.CandidatePair {
	if size <= 0 {
		size = len(pairs)
	}
	var chunks [][]domain.CandidatePair
	for i := 0; i < len(pairs); i += size {
		end := i + size
		if end > len(pairs) {
			end = len(pairs)
		}
		chunks = append(chunks, pairs[i:end])
	}
	return chunks
}

func chunkMatches(matches []*domain.Match, size int) [][]*domain.Match {
	if size <= 0 {
		size = len(matches)
	}
	var chunks [][]*domain.Match
	for i := 0; i < len(matches); i += size {
		end := i + size
		if end > len(matches) {
			end = len(matches)
		}
		chunks = append(chunks, matches[i:end])
	}
	return chunks
}

func capStrings(s []string, max int) []string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
