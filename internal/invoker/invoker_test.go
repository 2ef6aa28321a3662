package invoker

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/fundmatch/orchestrator/internal/adapter/llm"
	"github.com/fundmatch/orchestrator/internal/bus"
	"github.com/fundmatch/orchestrator/internal/domain"
	"github.com/fundmatch/orchestrator/internal/profile"
	"github.com/fundmatch/orchestrator/internal/store"
)

// fakeLLM returns a canned response or error. When responses is set, each
// call consumes the next entry.
type fakeLLM struct {
	content   string
	responses []string
	err       error
	calls     int
	lastReq   *llm.ChatCompletionRequest
}

func (f *fakeLLM) CreateChatCompletion(ctx context.Context, req *llm.ChatCompletionRequest) (*llm.ChatCompletionResponse, error) {
	f.lastReq = req
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	content := f.content
	if len(f.responses) > 0 {
		content = f.responses[0]
		f.responses = f.responses[1:]
	}
	return &llm.ChatCompletionResponse{
		Model:   req.Model,
		Choices: []llm.Choice{{Message: &llm.ChatMessage{Role: "assistant", Content: content}}},
		Usage:   &llm.Usage{TotalTokens: 42},
	}, nil
}

func (f *fakeLLM) ListModels(ctx context.Context) ([]llm.Model, error) { return nil, nil }

func testAgent() *profile.Resolved {
	return &profile.Resolved{
		Slug:         "matchmaker",
		Name:         "Matchmaker",
		SystemPrompt: "Score pairs.",
		Enabled:      true,
		BaseURL:      "http://llm:4000",
		Model:        "test-model",
		Temperature:  0.4,
		MaxTokens:    4096,
	}
}

func newTestInvoker(t *testing.T, fake *fakeLLM) (*Invoker, store.Store) {
	t.Helper()
	db, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	run := &domain.WorkflowRun{RunID: "run_1", Status: domain.RunStatusRunning, Trigger: domain.TriggerManual, CreatedAt: time.Now().UTC()}
	if err := db.CreateRun(context.Background(), run); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	factory := func(baseURL, apiKey string, timeout time.Duration) llm.LLMClient { return fake }
	return New(db, bus.New(), factory, nil, time.Second), db
}

// fakeBroker serves one tool list and records the tool calls it receives.
type fakeBroker struct {
	tools      map[string][]string
	output     string
	lastServer string
	lastTool   string
	lastArgs   map[string]interface{}
}

func (f *fakeBroker) Tools(ctx context.Context, slug string) ([]string, error) {
	names, ok := f.tools[slug]
	if !ok {
		return nil, errors.New("no such server")
	}
	return names, nil
}

func (f *fakeBroker) Invoke(ctx context.Context, slug, tool string, args map[string]interface{}) (string, error) {
	f.lastServer = slug
	f.lastTool = tool
	f.lastArgs = args
	return f.output, nil
}

func TestInvokeRecordsStep(t *testing.T) {
	fake := &fakeLLM{content: `[]`}
	inv, db := newTestInvoker(t, fake)

	result, err := inv.Invoke(context.Background(), Request{
		RunID:    "run_1",
		Node:     domain.NodeMatch,
		Sequence: 4,
		Agent:    testAgent(),
		Prompt:   "Score these pairs.",
	})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if result.Content != "[]" {
		t.Fatalf("unexpected content %q", result.Content)
	}
	if result.Tokens == nil || *result.Tokens != 42 {
		t.Fatalf("unexpected tokens %v", result.Tokens)
	}

	// System prompt first, then the user prompt.
	if len(fake.lastReq.Messages) != 2 || fake.lastReq.Messages[0].Role != "system" {
		t.Fatalf("unexpected messages: %+v", fake.lastReq.Messages)
	}

	steps, err := db.GetSteps(context.Background(), "run_1")
	if err != nil {
		t.Fatalf("GetSteps failed: %v", err)
	}
	if len(steps) != 1 {
		t.Fatalf("expected 1 step, got %d", len(steps))
	}
	st := steps[0]
	if st.Status != domain.StepStatusCompleted || st.NodeName != domain.NodeMatch || st.Sequence != 4 {
		t.Fatalf("unexpected step: %+v", st)
	}
	if st.TokenCount == nil || *st.TokenCount != 42 {
		t.Fatalf("token count not recorded: %+v", st)
	}
}

func TestInvokeClassifiesRetryableStatus(t *testing.T) {
	fake := &fakeLLM{err: &llm.StatusError{StatusCode: 503, Message: "overloaded"}}
	inv, db := newTestInvoker(t, fake)

	_, err := inv.Invoke(context.Background(), Request{RunID: "run_1", Node: domain.NodePlan, Sequence: 1, Agent: testAgent(), Prompt: "x"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !domain.IsTransient(err) {
		t.Fatalf("503 should be transient, got %v", err)
	}

	steps, err := db.GetSteps(context.Background(), "run_1")
	if err != nil {
		t.Fatalf("GetSteps failed: %v", err)
	}
	if len(steps) != 1 || steps[0].Status != domain.StepStatusFailed {
		t.Fatalf("failed step not recorded: %+v", steps)
	}
}

func TestInvokeNonRetryableStatusNotTransient(t *testing.T) {
	fake := &fakeLLM{err: &llm.StatusError{StatusCode: 401, Message: "bad key"}}
	inv, _ := newTestInvoker(t, fake)

	_, err := inv.Invoke(context.Background(), Request{RunID: "run_1", Node: domain.NodePlan, Sequence: 1, Agent: testAgent(), Prompt: "x"})
	if err == nil {
		t.Fatal("expected error")
	}
	if domain.IsTransient(err) {
		t.Fatalf("401 must not be retried, got %v", err)
	}
}

func TestInvokeNetworkErrorTransient(t *testing.T) {
	fake := &fakeLLM{err: errors.New("dial tcp: connection refused")}
	inv, _ := newTestInvoker(t, fake)

	_, err := inv.Invoke(context.Background(), Request{RunID: "run_1", Node: domain.NodePlan, Sequence: 1, Agent: testAgent(), Prompt: "x"})
	if !domain.IsTransient(err) {
		t.Fatalf("connection failure should be transient, got %v", err)
	}
}

func TestInvokeCancelledContext(t *testing.T) {
	fake := &fakeLLM{content: "[]"}
	inv, db := newTestInvoker(t, fake)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := inv.Invoke(ctx, Request{RunID: "run_1", Node: domain.NodePlan, Sequence: 1, Agent: testAgent(), Prompt: "x"})
	if !errors.Is(err, domain.ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}

	steps, err := db.GetSteps(context.Background(), "run_1")
	if err != nil {
		t.Fatalf("GetSteps failed: %v", err)
	}
	if len(steps) != 0 {
		t.Fatalf("cancelled call recorded a step: %+v", steps)
	}
}

func TestInvokeToolPassThrough(t *testing.T) {
	fake := &fakeLLM{responses: []string{
		`{"tool_request": {"server": "sql", "tool": "query", "args": {"q": "SELECT 1"}}}`,
		`[]`,
	}}
	broker := &fakeBroker{tools: map[string][]string{"sql": {"query"}}, output: "3 rows"}

	db, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer db.Close()
	run := &domain.WorkflowRun{RunID: "run_1", Status: domain.RunStatusRunning, Trigger: domain.TriggerManual, CreatedAt: time.Now().UTC()}
	if err := db.CreateRun(context.Background(), run); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	factory := func(baseURL, apiKey string, timeout time.Duration) llm.LLMClient { return fake }
	inv := New(db, bus.New(), factory, broker, time.Second)

	agent := testAgent()
	agent.CapabilityServers = []string{"sql"}

	result, err := inv.Invoke(context.Background(), Request{
		RunID:    "run_1",
		Node:     domain.NodeDiscover,
		Sequence: 2,
		Agent:    agent,
		Prompt:   "Enrich these profiles.",
	})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if result.Content != "[]" {
		t.Fatalf("expected final answer after tool round, got %q", result.Content)
	}
	if fake.calls != 2 {
		t.Fatalf("expected 2 LLM calls, got %d", fake.calls)
	}
	if broker.lastServer != "sql" || broker.lastTool != "query" {
		t.Fatalf("tool call not passed through: %s/%s", broker.lastServer, broker.lastTool)
	}
	if broker.lastArgs["q"] != "SELECT 1" {
		t.Fatalf("tool args not passed through: %+v", broker.lastArgs)
	}

	// The first call's system prompt advertises the bound server's tools.
	// The follow-up call carries the tool output back to the agent.
	msgs := fake.lastReq.Messages
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages on follow-up, got %d", len(msgs))
	}
	if !strings.Contains(msgs[0].Content, "sql: query") {
		t.Fatalf("tools not advertised in system prompt: %q", msgs[0].Content)
	}
	if !strings.Contains(msgs[3].Content, "3 rows") {
		t.Fatalf("tool output not fed back: %q", msgs[3].Content)
	}

	// One step for the whole invocation, tokens summed over both calls.
	steps, err := db.GetSteps(context.Background(), "run_1")
	if err != nil {
		t.Fatalf("GetSteps failed: %v", err)
	}
	if len(steps) != 1 {
		t.Fatalf("expected 1 step, got %d", len(steps))
	}
	if steps[0].TokenCount == nil || *steps[0].TokenCount != 84 {
		t.Fatalf("unexpected token count: %+v", steps[0].TokenCount)
	}
}

func TestInvokeUnreachableServerNotAdvertised(t *testing.T) {
	fake := &fakeLLM{content: "[]"}
	broker := &fakeBroker{tools: map[string][]string{}}

	db, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer db.Close()
	run := &domain.WorkflowRun{RunID: "run_1", Status: domain.RunStatusRunning, Trigger: domain.TriggerManual, CreatedAt: time.Now().UTC()}
	if err := db.CreateRun(context.Background(), run); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	factory := func(baseURL, apiKey string, timeout time.Duration) llm.LLMClient { return fake }
	inv := New(db, bus.New(), factory, broker, time.Second)

	agent := testAgent()
	agent.CapabilityServers = []string{"ghost"}

	if _, err := inv.Invoke(context.Background(), Request{RunID: "run_1", Node: domain.NodeDiscover, Sequence: 2, Agent: agent, Prompt: "x"}); err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if fake.calls != 1 {
		t.Fatalf("expected a single LLM call, got %d", fake.calls)
	}
	if strings.Contains(fake.lastReq.Messages[0].Content, "tool") {
		t.Fatalf("unreachable server leaked into system prompt: %q", fake.lastReq.Messages[0].Content)
	}
}

func TestProbeSkipsStepRecording(t *testing.T) {
	fake := &fakeLLM{content: "Operational."}
	inv, db := newTestInvoker(t, fake)

	result, err := inv.Probe(context.Background(), testAgent(), "ping")
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if result.Content != "Operational." {
		t.Fatalf("unexpected content %q", result.Content)
	}

	steps, err := db.GetSteps(context.Background(), "run_1")
	if err != nil {
		t.Fatalf("GetSteps failed: %v", err)
	}
	if len(steps) != 0 {
		t.Fatalf("probe recorded a step: %+v", steps)
	}
}
