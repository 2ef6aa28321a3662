package llm

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// MockClient is a mock implementation of LLMClient for testing and
// offline development. It sniffs the prompt to return structured output
// of the shape each pipeline agent expects.
type MockClient struct{}

// NewMockClient creates a new mock LLM client.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// Ensure MockClient implements LLMClient interface.
var _ LLMClient = (*MockClient)(nil)

// CreateChatCompletion returns a canned response based on the prompt.
func (m *MockClient) CreateChatCompletion(ctx context.Context, req *ChatCompletionRequest) (*ChatCompletionResponse, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	content := m.generateMockResponse(req)

	return &ChatCompletionResponse{
		ID:      fmt.Sprintf("mock-chatcmpl-%d", time.Now().UnixNano()),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []Choice{
			{
				Index: 0,
				Message: &ChatMessage{
					Role:    "assistant",
					Content: content,
				},
				FinishReason: "stop",
			},
		},
		Usage: &Usage{
			PromptTokens:     m.estimateTokens(req),
			CompletionTokens: len(content) / 4,
			TotalTokens:      m.estimateTokens(req) + len(content)/4,
		},
	}, nil
}

// ListModels returns a single mock model.
func (m *MockClient) ListModels(ctx context.Context) ([]Model, error) {
	return []Model{{ID: "mock-model", Object: "model", OwnedBy: "mock"}}, nil
}

func (m *MockClient) generateMockResponse(req *ChatCompletionRequest) string {
	var userMsg string
	for _, msg := range req.Messages {
		if msg.Role == "user" {
			userMsg = msg.Content
		}
	}

	lower := strings.ToLower(userMsg)
	switch {
	case strings.Contains(lower, "matching strategy") || strings.Contains(lower, "matching plan"):
		return `{"strategy": "full", "top_n_candidates": 20, "batch_size": 10}`
	case strings.Contains(lower, "enriched profiles"):
		return `[]`
	case strings.Contains(lower, "score each pair"):
		return `[]`
	case strings.Contains(lower, "review these"):
		return `[]`
	case strings.Contains(lower, "summaries"):
		return `[]`
	default:
		return "This is a mock response."
	}
}

func (m *MockClient) estimateTokens(req *ChatCompletionRequest) int {
	total := 0
	for _, msg := range req.Messages {
		total += len(msg.Content) / 4
	}
	return total
}
