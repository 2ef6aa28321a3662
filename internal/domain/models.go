package domain

import (
	"encoding/json"
	"time"
)

// WorkflowRun is one end-to-end execution of the matchmaking pipeline.
// Mutated only by the coordinator; immutable once terminal.
type WorkflowRun struct {
	RunID        string          `json:"run_id"`
	Status       RunStatus       `json:"status"`
	Trigger      Trigger         `json:"trigger"`
	InputParams  json.RawMessage `json:"input_params,omitempty"`
	Summary      *RunSummary     `json:"output_summary,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

// RunInput is the caller-supplied scope for a run. Empty slices mean
// "all active records".
type RunInput struct {
	ResearcherIDs  []int64 `json:"researcher_ids,omitempty"`
	OpportunityIDs []int64 `json:"opportunity_ids,omitempty"`
}

// RunSummary aggregates what a run produced.
type RunSummary struct {
	MatchesProduced        int `json:"matches_produced"`
	CandidatePairs         int `json:"candidate_pairs"`
	ResearchersProcessed   int `json:"researchers_processed"`
	OpportunitiesProcessed int `json:"opportunities_processed"`
	Iterations             int `json:"iterations"`
	FailedPairs            int `json:"failed_pairs"`
}

// WorkflowStep is one persisted record of a node attempt. Append-only
// within a run; never deleted.
type WorkflowStep struct {
	StepID       string     `json:"step_id"`
	RunID        string     `json:"run_id"`
	NodeName     NodeName   `json:"node_name"`
	AgentSlug    string     `json:"agent_slug"`
	Sequence     int        `json:"sequence"`
	Status       StepStatus `json:"status"`
	InputData    string     `json:"input_data,omitempty"`
	OutputData   string     `json:"output_data,omitempty"`
	LLMModelUsed string     `json:"llm_model_used,omitempty"`
	TokenCount   *int       `json:"token_count,omitempty"`
	DurationMs   *int64     `json:"duration_ms,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// LogEvent is an ephemeral progress event fanned out to live subscribers.
// It is not persisted beyond the run unless echoed into a step record.
type LogEvent struct {
	Type       EventType       `json:"type"`
	Ts         time.Time       `json:"ts"`
	RunID      string          `json:"run_id"`
	Node       NodeName        `json:"node,omitempty"`
	Agent      string          `json:"agent,omitempty"`
	Message    string          `json:"message"`
	DurationMs int64           `json:"duration_ms,omitempty"`
	Tokens     int             `json:"tokens,omitempty"`
	Detail     json.RawMessage `json:"detail,omitempty"`
}

// Progress is the coarse view consumed by the polling fallback.
type Progress struct {
	RunID   string    `json:"run_id"`
	Status  RunStatus `json:"status"`
	Phase   string    `json:"phase"`
	Percent int       `json:"percent"`
	Matches int       `json:"matches_produced,omitempty"`
	Error   string    `json:"error,omitempty"`
}

// ResearcherProfile is the pipeline's read-side view of a researcher,
// enriched during discovery.
type ResearcherProfile struct {
	ID               int64    `json:"id"`
	Name             string   `json:"name"`
	Position         string   `json:"position,omitempty"`
	Summary          string   `json:"summary,omitempty"`
	Keywords         []string `json:"keywords,omitempty"`
	ExpandedKeywords []string `json:"expanded_keywords,omitempty"`
	Themes           []string `json:"themes,omitempty"`
	EligibilityNotes string   `json:"eligibility_notes,omitempty"`
}

// OpportunityProfile is the pipeline's read-side view of a funding opportunity.
type OpportunityProfile struct {
	ID            int64    `json:"id"`
	OpportunityNo string   `json:"opportunity_no,omitempty"`
	Title         string   `json:"title"`
	Synopsis      string   `json:"synopsis,omitempty"`
	AgencyCode    string   `json:"agency_code,omitempty"`
	Status        string   `json:"status,omitempty"`
	CloseDate     string   `json:"close_date,omitempty"`
	AwardCeiling  *float64 `json:"award_ceiling,omitempty"`
	AwardFloor    *float64 `json:"award_floor,omitempty"`
}

// CandidatePair is a (researcher, opportunity) tuple that survived the
// pre-filter bound and is eligible for full scoring.
type CandidatePair struct {
	ResearcherID  int64   `json:"researcher_id"`
	OpportunityID int64   `json:"opportunity_id"`
	BaselineScore float64 `json:"baseline_score"`
}

// AgentProfile is the per-node configuration governing one reasoning call.
// Document files supply factory defaults; stored overrides win.
type AgentProfile struct {
	Slug              string    `json:"slug"`
	Name              string    `json:"name"`
	Description       string    `json:"description,omitempty"`
	Persona           string    `json:"persona,omitempty"`
	SystemPrompt      string    `json:"system_prompt,omitempty"`
	Enabled           bool      `json:"enabled"`
	LLMBaseURL        string    `json:"llm_base_url,omitempty"`
	LLMModel          string    `json:"llm_model,omitempty"`
	LLMAPIKey         string    `json:"llm_api_key,omitempty"`
	Temperature       float64   `json:"temperature"`
	MaxTokens         int       `json:"max_tokens"`
	CapabilityServers []string  `json:"capability_servers,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// CapabilityServer is an external tool provider a node may invoke.
// Only connectivity and tool pass-through are this system's concern.
type CapabilityServer struct {
	Slug      string            `json:"slug"`
	Name      string            `json:"name"`
	Transport string            `json:"transport"` // stdio or sse
	Command   string            `json:"command,omitempty"`
	Args      []string          `json:"args,omitempty"`
	URL       string            `json:"url,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	Enabled   bool              `json:"enabled"`
	CreatedAt time.Time         `json:"created_at"`
}

// Researcher is the stored record the discover node reads.
type Researcher struct {
	ID          int64  `json:"id"`
	FullName    string `json:"full_name"`
	Position    string `json:"position,omitempty"`
	Summary     string `json:"summary,omitempty"`
	KeywordText string `json:"keyword_text,omitempty"`
	Status      string `json:"status"`
}

// Opportunity is the stored record the discover node reads.
type Opportunity struct {
	ID            int64    `json:"id"`
	OpportunityNo string   `json:"opportunity_no"`
	Title         string   `json:"title"`
	Synopsis      string   `json:"synopsis,omitempty"`
	AgencyCode    string   `json:"agency_code,omitempty"`
	Status        string   `json:"status"`
	CloseDate     string   `json:"close_date,omitempty"`
	AwardCeiling  *float64 `json:"award_ceiling,omitempty"`
	AwardFloor    *float64 `json:"award_floor,omitempty"`
}
