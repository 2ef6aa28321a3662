// Package pipeline runs the fixed matchmaking node sequence and owns all
// run state transitions.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fundmatch/orchestrator/internal/bus"
	"github.com/fundmatch/orchestrator/internal/config"
	"github.com/fundmatch/orchestrator/internal/domain"
	"github.com/fundmatch/orchestrator/internal/invoker"
	"github.com/fundmatch/orchestrator/internal/profile"
	"github.com/fundmatch/orchestrator/internal/store"
)

// AgentCaller performs one agent invocation. Satisfied by invoker.Invoker;
// tests substitute stubs.
type AgentCaller interface {
	Invoke(ctx context.Context, req invoker.Request) (*invoker.Result, error)
}

// nodeAgents maps each LLM-backed node to its agent slug. Pure nodes have
// no entry.
var nodeAgents = map[domain.NodeName]string{
	domain.NodePlan:      "planner",
	domain.NodeDiscover:  "discovery",
	domain.NodeMatch:     "matchmaker",
	domain.NodeCritique:  "critic",
	domain.NodeSummarize: "summarizer",
}

// activeRun is the coordinator's slot for the single run allowed to hold
// status running.
type activeRun struct {
	runID     string
	cancelled bool
}

// Coordinator owns the run registry and executes the pipeline. Exactly one
// run may be active at a time; a second start request fails fast.
type Coordinator struct {
	store    store.Store
	bus      *bus.Bus
	caller   AgentCaller
	profiles *profile.Manager
	cfg      *config.Config

	mu       sync.Mutex
	active   *activeRun
	progress map[string]domain.Progress
}

// NewCoordinator creates a coordinator.
func NewCoordinator(s store.Store, b *bus.Bus, caller AgentCaller, profiles *profile.Manager, cfg *config.Config) *Coordinator {
	return &Coordinator{
		store:    s,
		bus:      b,
		caller:   caller,
		profiles: profiles,
		cfg:      cfg,
		progress: make(map[string]domain.Progress),
	}
}

// Start creates a run and launches its execution in the background. Returns
// ErrAlreadyRunning without queueing when another run holds the slot.
func (c *Coordinator) Start(ctx context.Context, trigger domain.Trigger, input domain.RunInput) (*domain.WorkflowRun, error) {
	c.mu.Lock()
	if c.active != nil {
		c.mu.Unlock()
		return nil, domain.ErrAlreadyRunning
	}

	// Guard against a stale running row surviving a crash: the slot is the
	// authority, but a running row with no slot holder means recovery has
	// not happened; refuse rather than run two pipelines against one DB.
	count, err := c.store.CountRunningRuns(ctx)
	if err != nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("failed to check running runs: %w", err)
	}
	if count > 0 {
		c.mu.Unlock()
		return nil, domain.ErrAlreadyRunning
	}

	runID := "run_" + uuid.New().String()[:8]
	c.active = &activeRun{runID: runID}

	// Live state for earlier runs is only needed until the next run starts;
	// terminal runs are served from the store after this point.
	for id := range c.progress {
		delete(c.progress, id)
		c.bus.Drop(id)
	}
	c.mu.Unlock()

	params, _ := json.Marshal(input)
	run := &domain.WorkflowRun{
		RunID:       runID,
		Status:      domain.RunStatusPending,
		Trigger:     trigger,
		InputParams: params,
		CreatedAt:   time.Now().UTC(),
	}
	if err := c.store.CreateRun(ctx, run); err != nil {
		c.releaseSlot(runID)
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	c.publish(runID, domain.LogEvent{
		Type:    domain.EventTypeWorkflowStart,
		Message: fmt.Sprintf("Matchmaking run started (%s)", trigger),
	})

	go c.execute(runID, input)

	return run, nil
}

// Cancel requests cooperative cancellation of a run. The pipeline observes
// the request at node boundaries and between match batches; in-flight
// reasoning calls finish but their results are discarded.
func (c *Coordinator) Cancel(ctx context.Context, runID string) error {
	run, err := c.store.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to get run: %w", err)
	}
	if run == nil {
		return domain.ErrRunNotFound
	}
	if run.Status.IsTerminal() {
		return nil
	}

	c.mu.Lock()
	if c.active != nil && c.active.runID == runID {
		c.active.cancelled = true
	}
	c.mu.Unlock()

	c.publish(runID, domain.LogEvent{
		Type:    domain.EventTypeCancel,
		Message: "Cancellation requested",
	})
	return nil
}

// Progress returns the latest coarse progress for a run, falling back to
// the stored run record when no in-memory projection exists.
func (c *Coordinator) Progress(ctx context.Context, runID string) (*domain.Progress, error) {
	c.mu.Lock()
	p, ok := c.progress[runID]
	c.mu.Unlock()
	if ok {
		return &p, nil
	}

	run, err := c.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, domain.ErrRunNotFound
	}
	fallback := domain.Progress{RunID: runID, Status: run.Status, Error: run.ErrorMessage}
	switch {
	case run.Status.IsTerminal():
		fallback.Phase = "done"
		fallback.Percent = 100
		if run.Summary != nil {
			fallback.Matches = run.Summary.MatchesProduced
		}
	case run.Status == domain.RunStatusRunning:
		fallback.Phase = "running"
	default:
		fallback.Phase = "pending"
	}
	return &fallback, nil
}

func (c *Coordinator) cancelRequested(runID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil && c.active.runID == runID && c.active.cancelled
}

func (c *Coordinator) releaseSlot(runID string) {
	c.mu.Lock()
	if c.active != nil && c.active.runID == runID {
		c.active = nil
	}
	c.mu.Unlock()
}

// execute drives the full node sequence for one run. It runs in its own
// goroutine; all outcomes end in a terminal store update.
func (c *Coordinator) execute(runID string, input domain.RunInput) {
	ctx := context.Background()
	defer c.releaseSlot(runID)
	defer c.bus.Close(runID)

	if err := c.store.MarkRunStarted(ctx, runID); err != nil {
		log.Printf("ERROR: failed to mark run %s started: %v", runID, err)
		c.finish(ctx, runID, domain.RunStatusFailed, nil, err.Error())
		return
	}
	c.setProgress(runID, domain.RunStatusRunning, "initializing", 0, 0, "")

	st := &runState{runID: runID, input: input}
	if err := c.resolveAgents(ctx, st); err != nil {
		log.Printf("ERROR: run %s: %v", runID, err)
		c.finish(ctx, runID, domain.RunStatusFailed, st.summary(), err.Error())
		return
	}

	status, errMsg := c.runNodes(ctx, st)
	c.finish(ctx, runID, status, st.summary(), errMsg)
}

type nodeSpec struct {
	name     domain.NodeName
	critical bool
	fn       func(context.Context, *runState) error
}

// runNodes walks the fixed node order, applying the retry, skip and abort
// policy, and handling the critique-driven revision loop.
func (c *Coordinator) runNodes(ctx context.Context, st *runState) (domain.RunStatus, string) {
	nodes := []nodeSpec{
		{domain.NodePlan, false, c.planNode},
		{domain.NodeDiscover, false, c.discoverNode},
		{domain.NodePreFilter, true, c.preFilterNode},
		{domain.NodeMatch, true, c.matchNode},
		{domain.NodeCritique, false, c.critiqueNode},
		{domain.NodeSummarize, false, c.summarizeNode},
		{domain.NodePersist, true, c.persistNode},
	}

	for i := 0; i < len(nodes); i++ {
		node := nodes[i]
		if c.cancelRequested(st.runID) {
			return domain.RunStatusCancelled, ""
		}
		c.setProgress(st.runID, domain.RunStatusRunning, phaseFor(node.name), percentFor(node.name), len(st.matches), "")

		if err := c.runNode(ctx, st, node.name, node.fn); err != nil {
			if errors.Is(err, domain.ErrCancelled) {
				return domain.RunStatusCancelled, ""
			}
			st.failedSteps++
			if node.critical {
				return domain.RunStatusFailed, fmt.Sprintf("%s failed: %v", node.name, err)
			}
			if st.attemptedSteps > 0 &&
				float64(st.failedSteps)/float64(st.attemptedSteps) > c.cfg.Pipeline.AbortFailureRatio {
				return domain.RunStatusFailed,
					fmt.Sprintf("aborted: %d of %d steps failed", st.failedSteps, st.attemptedSteps)
			}
			log.Printf("WARN: run %s: skipping failed node %s: %v", st.runID, node.name, err)
			c.publish(st.runID, domain.LogEvent{
				Type:    domain.EventTypeError,
				Node:    node.name,
				Message: fmt.Sprintf("Node %s failed, continuing: %v", node.name, err),
			})
		}

		// Revision loop: after critique, re-run match when too many
		// matches were flagged and the iteration ceiling allows it.
		if node.name == domain.NodeCritique && c.shouldRevise(st) {
			log.Printf("INFO: run %s: critic flagged %.0f%% of matches (iteration %d/%d), revising",
				st.runID, st.flaggedRatio()*100, st.iterations, c.cfg.Pipeline.MaxIterations)
			i = indexOf(nodes, domain.NodeMatch) - 1
		}
	}

	return domain.RunStatusCompleted, ""
}

// runNode executes one node, retrying once on a transient failure.
func (c *Coordinator) runNode(ctx context.Context, st *runState, name domain.NodeName, fn func(context.Context, *runState) error) error {
	st.attemptedSteps++
	c.publish(st.runID, domain.LogEvent{
		Type:    domain.EventTypeNodeStart,
		Node:    name,
		Message: fmt.Sprintf("Starting %s phase", name),
	})

	err := fn(ctx, st)
	if err != nil && domain.IsTransient(err) && !c.cancelRequested(st.runID) {
		log.Printf("WARN: run %s: transient failure in %s, retrying once: %v", st.runID, name, err)
		c.publish(st.runID, domain.LogEvent{
			Type:    domain.EventTypeInfo,
			Node:    name,
			Message: "Transient failure, retrying",
		})
		err = fn(ctx, st)
	}
	if err != nil {
		return err
	}

	c.publish(st.runID, domain.LogEvent{
		Type:    domain.EventTypeNodeEnd,
		Node:    name,
		Message: fmt.Sprintf("%s complete", name),
	})
	return nil
}

func (c *Coordinator) shouldRevise(st *runState) bool {
	if len(st.matches) == 0 || st.iterations >= c.cfg.Pipeline.MaxIterations {
		return false
	}
	return st.flaggedRatio() > c.cfg.Pipeline.FlaggedRevisionRatio
}

// resolveAgents evaluates every node's agent profile once at run start.
// Later edits to stored profiles do not affect a run in flight.
func (c *Coordinator) resolveAgents(ctx context.Context, st *runState) error {
	defaults := profile.LLMDefaults{
		BaseURL: c.cfg.LLM.BaseURL,
		Model:   c.cfg.LLM.Model,
		APIKey:  c.cfg.LLM.APIKey,
	}
	st.agents = make(map[domain.NodeName]*profile.Resolved, len(nodeAgents))
	for node, slug := range nodeAgents {
		resolved, err := c.profiles.Resolve(ctx, slug, defaults)
		if err != nil {
			return fmt.Errorf("failed to resolve agent profiles: %w", err)
		}
		st.agents[node] = resolved
	}
	return nil
}

// finish writes the terminal state exactly once and emits the terminal
// event that closes live streams.
func (c *Coordinator) finish(ctx context.Context, runID string, status domain.RunStatus, summary *domain.RunSummary, errMsg string) {
	if c.cancelRequested(runID) && status == domain.RunStatusCompleted {
		status = domain.RunStatusCancelled
	}
	if err := c.store.CompleteRun(ctx, runID, status, summary, errMsg); err != nil {
		log.Printf("ERROR: failed to complete run %s: %v", runID, err)
	}

	matches := 0
	if summary != nil {
		matches = summary.MatchesProduced
	}
	c.setProgress(runID, status, "done", 100, matches, errMsg)
	c.publish(runID, domain.LogEvent{
		Type:    domain.EventTypeWorkflowEnd,
		Message: fmt.Sprintf("Run finished: %s", status),
	})
	log.Printf("INFO: run %s finished with status %s", runID, status)
}

func (c *Coordinator) publish(runID string, event domain.LogEvent) {
	event.Ts = time.Now().UTC()
	event.RunID = runID
	c.bus.Publish(runID, event)
}

func (c *Coordinator) setProgress(runID string, status domain.RunStatus, phase string, percent, matches int, errMsg string) {
	c.mu.Lock()
	c.progress[runID] = domain.Progress{
		RunID:   runID,
		Status:  status,
		Phase:   phase,
		Percent: percent,
		Matches: matches,
		Error:   errMsg,
	}
	c.mu.Unlock()
}

func indexOf(nodes []nodeSpec, name domain.NodeName) int {
	for i, n := range nodes {
		if n.name == name {
			return i
		}
	}
	return -1
}
