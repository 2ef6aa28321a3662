// Package store provides durable persistence for workflow runs, steps and
// matches. It is the only component with write authority over persisted
// run state.
package store

import (
	"context"

	"github.com/fundmatch/orchestrator/internal/domain"
)

// Store is the persistence interface used by the coordinator and the HTTP
// transport.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, run *domain.WorkflowRun) error
	GetRun(ctx context.Context, runID string) (*domain.WorkflowRun, error)
	ListRuns(ctx context.Context, limit int) ([]domain.WorkflowRun, error)
	MarkRunStarted(ctx context.Context, runID string) error
	CompleteRun(ctx context.Context, runID string, status domain.RunStatus, summary *domain.RunSummary, errorMessage string) error
	CountRunningRuns(ctx context.Context) (int, error)

	// Steps (append-only within a run)
	AppendStep(ctx context.Context, step *domain.WorkflowStep) error
	GetSteps(ctx context.Context, runID string) ([]domain.WorkflowStep, error)

	// Matches
	InsertMatches(ctx context.Context, matches []*domain.Match) (int, error)
	GetMatches(ctx context.Context, runID string, limit int) ([]domain.Match, error)

	// Agent profiles
	GetProfile(ctx context.Context, slug string) (*domain.AgentProfile, error)
	ListProfiles(ctx context.Context) ([]domain.AgentProfile, error)
	PutProfile(ctx context.Context, profile *domain.AgentProfile) error

	// Capability servers
	GetCapabilityServer(ctx context.Context, slug string) (*domain.CapabilityServer, error)
	ListCapabilityServers(ctx context.Context) ([]domain.CapabilityServer, error)
	PutCapabilityServer(ctx context.Context, server *domain.CapabilityServer) error

	// Pipeline read path
	ListResearchers(ctx context.Context, ids []int64) ([]domain.Researcher, error)
	ListOpportunities(ctx context.Context, ids []int64) ([]domain.Opportunity, error)
	UpsertResearcher(ctx context.Context, r *domain.Researcher) error
	UpsertOpportunity(ctx context.Context, o *domain.Opportunity) error

	Close() error
}
