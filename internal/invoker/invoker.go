// Package invoker executes single agent calls against an LLM endpoint,
// recording step history and emitting progress events.
package invoker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fundmatch/orchestrator/internal/adapter/llm"
	"github.com/fundmatch/orchestrator/internal/bus"
	"github.com/fundmatch/orchestrator/internal/domain"
	"github.com/fundmatch/orchestrator/internal/profile"
	"github.com/fundmatch/orchestrator/internal/store"
)

const (
	promptPreviewLen   = 500
	responsePreviewLen = 500
	inputRecordLen     = 2000
	outputRecordLen    = 5000
)

// ClientFactory builds an LLM client for the given endpoint. Injected so
// tests and mock mode can substitute transports.
type ClientFactory func(baseURL, apiKey string, timeout time.Duration) llm.LLMClient

// ToolBroker exposes capability-server tools to agents that bind them.
// Satisfied by capability.Registry; a nil broker disables tool use.
type ToolBroker interface {
	Tools(ctx context.Context, slug string) ([]string, error)
	Invoke(ctx context.Context, slug, tool string, args map[string]interface{}) (string, error)
}

// Invoker performs agent LLM calls on behalf of pipeline nodes.
type Invoker struct {
	store     store.Store
	bus       *bus.Bus
	newClient ClientFactory
	tools     ToolBroker
	timeout   time.Duration
}

// New creates an invoker. A nil factory defaults to the standard
// mode-aware client constructor.
func New(s store.Store, b *bus.Bus, factory ClientFactory, tools ToolBroker, timeout time.Duration) *Invoker {
	if factory == nil {
		factory = llm.NewLLMClient
	}
	return &Invoker{store: s, bus: b, newClient: factory, tools: tools, timeout: timeout}
}

// Request describes one agent invocation.
type Request struct {
	RunID    string
	Node     domain.NodeName
	Sequence int
	Agent    *profile.Resolved
	Prompt   string
}

// Result carries the response text and call metrics.
type Result struct {
	Content    string
	Model      string
	Tokens     *int
	DurationMs int64
}

// Invoke sends the agent's system prompt plus the request prompt to the
// configured endpoint, records a step, and returns the response text.
// Agents with bound capability servers may answer with a tool request,
// which is executed through the broker and fed back for one follow-up
// round. Transport failures with retryable status codes come back wrapped
// as transient so the caller's retry policy can distinguish them.
func (inv *Invoker) Invoke(ctx context.Context, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.ErrCancelled
	}

	start := time.Now()
	agent := req.Agent
	client := inv.newClient(agent.BaseURL, agent.APIKey, inv.timeout)

	systemPrompt := agent.SystemPrompt
	if instructions := inv.toolInstructions(ctx, req); instructions != "" {
		systemPrompt = strings.TrimSpace(systemPrompt + "\n\n" + instructions)
	}

	messages := make([]llm.ChatMessage, 0, 4)
	if systemPrompt != "" {
		messages = append(messages, llm.ChatMessage{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, llm.ChatMessage{Role: "user", Content: req.Prompt})

	inv.publish(req, domain.LogEvent{
		Type:    domain.EventTypeLLMRequest,
		Message: fmt.Sprintf("Calling %s (%s)", agent.Slug, agent.Model),
		Detail:  detailJSON(map[string]string{"prompt_preview": truncate(req.Prompt, promptPreviewLen), "model": agent.Model}),
	})

	content, tokens, model, err := inv.chat(ctx, client, agent, messages)
	if err != nil {
		return nil, inv.fail(ctx, req, err, time.Since(start).Milliseconds())
	}

	// At most one tool round per invocation: the agent may spend its
	// first answer on a tool request instead of the final output.
	if tr := parseToolRequest(content); tr != nil && inv.tools != nil {
		output, terr := inv.tools.Invoke(ctx, tr.Server, tr.Tool, tr.Args)
		if terr != nil {
			output = fmt.Sprintf("tool call failed: %v", terr)
		}
		inv.publish(req, domain.LogEvent{
			Type:    domain.EventTypeInfo,
			Message: fmt.Sprintf("%s called tool %s/%s", agent.Slug, tr.Server, tr.Tool),
			Detail:  detailJSON(map[string]string{"output_preview": truncate(output, responsePreviewLen)}),
		})

		messages = append(messages,
			llm.ChatMessage{Role: "assistant", Content: content},
			llm.ChatMessage{Role: "user", Content: fmt.Sprintf("Output of %s/%s:\n%s\n\nProduce your final answer now.",
				tr.Server, tr.Tool, truncate(output, outputRecordLen))},
		)
		var followUp *int
		content, followUp, model, err = inv.chat(ctx, client, agent, messages)
		if err != nil {
			return nil, inv.fail(ctx, req, err, time.Since(start).Milliseconds())
		}
		tokens = sumTokens(tokens, followUp)
	}

	durationMs := time.Since(start).Milliseconds()
	tokenLabel := "?"
	if tokens != nil {
		tokenLabel = fmt.Sprintf("%d", *tokens)
	}
	inv.publish(req, domain.LogEvent{
		Type:       domain.EventTypeLLMResponse,
		Message:    fmt.Sprintf("%s responded (%dms, %s tokens)", agent.Slug, durationMs, tokenLabel),
		DurationMs: durationMs,
		Tokens:     derefOrZero(tokens),
		Detail:     detailJSON(map[string]string{"response_preview": truncate(content, responsePreviewLen)}),
	})

	inv.recordStep(ctx, req, domain.StepStatusCompleted, req.Prompt, content, tokens, durationMs, "")

	return &Result{
		Content:    content,
		Model:      model,
		Tokens:     tokens,
		DurationMs: durationMs,
	}, nil
}

// Probe performs a one-off invocation outside any run: no step record, no
// events, no tool round. Used for agent connectivity tests.
func (inv *Invoker) Probe(ctx context.Context, agent *profile.Resolved, prompt string) (*Result, error) {
	start := time.Now()
	client := inv.newClient(agent.BaseURL, agent.APIKey, inv.timeout)

	messages := make([]llm.ChatMessage, 0, 2)
	if agent.SystemPrompt != "" {
		messages = append(messages, llm.ChatMessage{Role: "system", Content: agent.SystemPrompt})
	}
	messages = append(messages, llm.ChatMessage{Role: "user", Content: prompt})

	content, tokens, model, err := inv.chat(ctx, client, agent, messages)
	if err != nil {
		return nil, err
	}
	return &Result{
		Content:    content,
		Model:      model,
		Tokens:     tokens,
		DurationMs: time.Since(start).Milliseconds(),
	}, nil
}

// chat performs one chat completion with the agent's parameters.
func (inv *Invoker) chat(ctx context.Context, client llm.LLMClient, agent *profile.Resolved, messages []llm.ChatMessage) (string, *int, string, error) {
	temperature := agent.Temperature
	maxTokens := agent.MaxTokens
	resp, err := client.CreateChatCompletion(ctx, &llm.ChatCompletionRequest{
		Model:       agent.Model,
		Messages:    messages,
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
	})
	if err != nil {
		return "", nil, "", err
	}

	content := ""
	if len(resp.Choices) > 0 && resp.Choices[0].Message != nil {
		content = resp.Choices[0].Message.Content
	}
	var tokens *int
	if resp.Usage != nil {
		t := resp.Usage.TotalTokens
		tokens = &t
	}
	return content, tokens, resp.Model, nil
}

// fail records the failed step, publishes the error, and classifies it.
func (inv *Invoker) fail(ctx context.Context, req Request, err error, durationMs int64) error {
	if ctx.Err() != nil {
		return domain.ErrCancelled
	}
	inv.publish(req, domain.LogEvent{
		Type:    domain.EventTypeError,
		Message: fmt.Sprintf("Error in %s: %s", req.Agent.Slug, truncate(err.Error(), 200)),
	})
	inv.recordStep(ctx, req, domain.StepStatusFailed, "", "", nil, durationMs, err.Error())
	return classify(req, err)
}

// toolInstructions lists the tools exposed by the agent's bound capability
// servers. Disabled or unreachable servers are left out so the agent is
// never offered a tool that cannot be called.
func (inv *Invoker) toolInstructions(ctx context.Context, req Request) string {
	if inv.tools == nil || len(req.Agent.CapabilityServers) == 0 {
		return ""
	}
	var lines []string
	for _, slug := range req.Agent.CapabilityServers {
		names, err := inv.tools.Tools(ctx, slug)
		if err != nil || len(names) == 0 {
			continue
		}
		lines = append(lines, fmt.Sprintf("- %s: %s", slug, strings.Join(names, ", ")))
	}
	if len(lines) == 0 {
		return ""
	}
	return "You may call one external tool before answering. Available tools:\n" +
		strings.Join(lines, "\n") +
		"\nTo call a tool, respond with ONLY this JSON: {\"tool_request\": {\"server\": \"<server>\", \"tool\": \"<tool>\", \"args\": {}}}"
}

// toolRequest is an agent's ask to run one capability-server tool.
type toolRequest struct {
	Server string                 `json:"server"`
	Tool   string                 `json:"tool"`
	Args   map[string]interface{} `json:"args"`
}

func parseToolRequest(content string) *toolRequest {
	var wrapper struct {
		ToolRequest *toolRequest `json:"tool_request"`
	}
	if !ParseJSONInto(content, &wrapper) || wrapper.ToolRequest == nil {
		return nil
	}
	if wrapper.ToolRequest.Server == "" || wrapper.ToolRequest.Tool == "" {
		return nil
	}
	return wrapper.ToolRequest
}

func (inv *Invoker) publish(req Request, event domain.LogEvent) {
	event.Ts = time.Now().UTC()
	event.RunID = req.RunID
	event.Node = req.Node
	if event.Agent == "" && req.Agent != nil {
		event.Agent = req.Agent.Slug
	}
	inv.bus.Publish(req.RunID, event)
}

func (inv *Invoker) recordStep(ctx context.Context, req Request, status domain.StepStatus, input, output string, tokens *int, durationMs int64, errMsg string) {
	now := time.Now().UTC()
	startedAt := now.Add(-time.Duration(durationMs) * time.Millisecond)
	step := &domain.WorkflowStep{
		StepID:       "step_" + uuid.New().String()[:8],
		RunID:        req.RunID,
		NodeName:     req.Node,
		AgentSlug:    req.Agent.Slug,
		Sequence:     req.Sequence,
		Status:       status,
		InputData:    truncate(input, inputRecordLen),
		OutputData:   truncate(output, outputRecordLen),
		LLMModelUsed: req.Agent.Model,
		TokenCount:   tokens,
		DurationMs:   &durationMs,
		ErrorMessage: truncate(errMsg, 2000),
		StartedAt:    &startedAt,
		CompletedAt:  &now,
	}
	// Step history is best effort; the run outcome does not depend on it.
	if err := inv.store.AppendStep(context.WithoutCancel(ctx), step); err != nil {
		inv.publish(req, domain.LogEvent{
			Type:    domain.EventTypeError,
			Message: fmt.Sprintf("failed to record step for %s: %v", req.Node, err),
		})
	}
}

// classify wraps transport errors so the failure policy can tell
// transient conditions from hard ones.
func classify(req Request, err error) error {
	var statusErr *llm.StatusError
	if errors.As(err, &statusErr) {
		if statusErr.Retryable() {
			return domain.NewTransientError(req.Node, req.Agent.Slug, err)
		}
		return fmt.Errorf("agent %s failed: %w", req.Agent.Slug, err)
	}
	// Connection-level failures are worth one retry.
	return domain.NewTransientError(req.Node, req.Agent.Slug, err)
}

func detailJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func sumTokens(a, b *int) *int {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	t := *a + *b
	return &t
}

func derefOrZero(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
