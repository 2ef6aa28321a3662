package profile

import (
	"context"
	"fmt"

	"github.com/fundmatch/orchestrator/internal/domain"
)

// LLMDefaults holds the global connection settings used when a profile
// carries no override of its own.
type LLMDefaults struct {
	BaseURL string
	Model   string
	APIKey  string
}

// Resolved is the effective configuration for one agent, with the
// fallback chain already applied: stored profile overrides first, then
// global defaults. It is computed once per run and does not change if
// the stored profile is edited mid-run.
type Resolved struct {
	Slug              string
	Name              string
	SystemPrompt      string
	Enabled           bool
	BaseURL           string
	Model             string
	APIKey            string
	Temperature       float64
	MaxTokens         int
	CapabilityServers []string
}

// Resolve builds the effective configuration for the given agent slug.
// A missing profile resolves to a disabled placeholder on the global
// defaults so the caller can decide how to degrade.
func (m *Manager) Resolve(ctx context.Context, slug string, defaults LLMDefaults) (*Resolved, error) {
	p, err := m.store.GetProfile(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve agent %s: %w", slug, err)
	}
	if p == nil {
		return &Resolved{
			Slug:        slug,
			Name:        titleCase(slug),
			Enabled:     false,
			BaseURL:     defaults.BaseURL,
			Model:       defaults.Model,
			APIKey:      defaults.APIKey,
			Temperature: defaultTemperature,
			MaxTokens:   defaultMaxTokens,
		}, nil
	}

	r := &Resolved{
		Slug:              p.Slug,
		Name:              p.Name,
		SystemPrompt:      systemPrompt(p),
		Enabled:           p.Enabled,
		BaseURL:           p.LLMBaseURL,
		Model:             p.LLMModel,
		APIKey:            p.LLMAPIKey,
		Temperature:       p.Temperature,
		MaxTokens:         p.MaxTokens,
		CapabilityServers: p.CapabilityServers,
	}
	if r.BaseURL == "" {
		r.BaseURL = defaults.BaseURL
	}
	if r.Model == "" {
		r.Model = defaults.Model
	}
	if r.APIKey == "" {
		r.APIKey = defaults.APIKey
	}
	return r, nil
}

// systemPrompt assembles the full system prompt, prefixing the persona
// when one is set.
func systemPrompt(p *domain.AgentProfile) string {
	if p.SystemPrompt == "" {
		return ""
	}
	if p.Persona != "" {
		return fmt.Sprintf("Persona: %s\n\n%s", p.Persona, p.SystemPrompt)
	}
	return p.SystemPrompt
}
