package pipeline

import (
	"github.com/fundmatch/orchestrator/internal/domain"
	"github.com/fundmatch/orchestrator/internal/profile"
)

// matchingPlan is the planner's strategy output. Unparseable planner
// responses degrade to the configured defaults rather than failing the run.
type matchingPlan struct {
	Strategy        string `json:"strategy"`
	TopNCandidates  int    `json:"top_n_candidates"`
	BatchSize       int    `json:"batch_size"`
	ResearcherCount int    `json:"researcher_count"`
	OpportunityCnt  int    `json:"opportunity_count"`
}

// runState is the accumulating context carried through the node sequence.
// Each node consumes the prior node's output from here.
type runState struct {
	runID  string
	input  domain.RunInput
	agents map[domain.NodeName]*profile.Resolved

	plan          matchingPlan
	researchers   []domain.ResearcherProfile
	opportunities []domain.OpportunityProfile
	pairs         []domain.CandidatePair
	matches       []*domain.Match

	iterations     int
	failedPairs    int
	attemptedSteps int
	failedSteps    int
}

// seqStride offsets step sequences for nodes that run after the final
// match pass, so later-iteration match and critique steps never outrank
// summarize and persist in the run order.
func (st *runState) seqStride() int {
	if st.iterations <= 1 {
		return 0
	}
	return (st.iterations - 1) * seqIteration
}

func (st *runState) flaggedRatio() float64 {
	if len(st.matches) == 0 {
		return 0
	}
	flagged := 0
	for _, m := range st.matches {
		if m.Flagged || m.RevisionNeeded {
			flagged++
		}
	}
	return float64(flagged) / float64(len(st.matches))
}

func (st *runState) summary() *domain.RunSummary {
	return &domain.RunSummary{
		MatchesProduced:        len(st.matches),
		CandidatePairs:         len(st.pairs),
		ResearchersProcessed:   len(st.researchers),
		OpportunitiesProcessed: len(st.opportunities),
		Iterations:             st.iterations,
		FailedPairs:            st.failedPairs,
	}
}

// phaseFor and percentFor project node position onto the coarse progress
// view used by the polling fallback.
func phaseFor(node domain.NodeName) string {
	switch node {
	case domain.NodePlan:
		return "planning"
	case domain.NodeDiscover:
		return "discovery"
	case domain.NodePreFilter:
		return "pre-filtering"
	case domain.NodeMatch:
		return "matching"
	case domain.NodeCritique:
		return "critiquing"
	case domain.NodeSummarize:
		return "summarizing"
	case domain.NodePersist:
		return "persisting"
	}
	return string(node)
}

func percentFor(node domain.NodeName) int {
	switch node {
	case domain.NodePlan:
		return 10
	case domain.NodeDiscover:
		return 25
	case domain.NodePreFilter:
		return 35
	case domain.NodeMatch:
		return 60
	case domain.NodeCritique:
		return 75
	case domain.NodeSummarize:
		return 90
	case domain.NodePersist:
		return 95
	}
	return 0
}
