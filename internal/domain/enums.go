// Package domain defines the core domain models for the matchmaking orchestrator.
package domain

// RunStatus represents the status of a workflow run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// IsTerminal reports whether the status is one a run never leaves.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return true
	}
	return false
}

// StepStatus represents the status of a single workflow step.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
)

// Trigger identifies how a run was started.
type Trigger string

const (
	TriggerManual    Trigger = "manual"
	TriggerScheduled Trigger = "scheduled"
)

// Confidence is the agent-assigned confidence for a match. It is taken from
// the agent output, never inferred from scores.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// ValidConfidence reports whether s is a recognized confidence level.
func ValidConfidence(s string) bool {
	switch Confidence(s) {
	case ConfidenceLow, ConfidenceMedium, ConfidenceHigh:
		return true
	}
	return false
}

// EventType represents the type of a workflow log event.
type EventType string

const (
	EventTypeWorkflowStart EventType = "workflow_start"
	EventTypeNodeStart     EventType = "node_start"
	EventTypeNodeEnd       EventType = "node_end"
	EventTypeLLMRequest    EventType = "llm_request"
	EventTypeLLMResponse   EventType = "llm_response"
	EventTypeInfo          EventType = "info"
	EventTypeError         EventType = "error"
	EventTypeCancel        EventType = "cancel"
	EventTypeWorkflowEnd   EventType = "workflow_end"
)

// NodeName identifies one stage of the fixed pipeline.
type NodeName string

const (
	NodePlan      NodeName = "plan"
	NodeDiscover  NodeName = "discover"
	NodePreFilter NodeName = "pre_filter"
	NodeMatch     NodeName = "match"
	NodeCritique  NodeName = "critique"
	NodeSummarize NodeName = "summarize"
	NodePersist   NodeName = "persist"
)

// NodeOrder is the fixed execution order of the pipeline.
var NodeOrder = []NodeName{
	NodePlan,
	NodeDiscover,
	NodePreFilter,
	NodeMatch,
	NodeCritique,
	NodeSummarize,
	NodePersist,
}
