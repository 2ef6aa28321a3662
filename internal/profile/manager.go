package profile

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fundmatch/orchestrator/internal/domain"
	"github.com/fundmatch/orchestrator/internal/store"
)

const (
	defaultTemperature = 0.7
	defaultMaxTokens   = 4096
)

// MaskedAPIKey is the placeholder API reads return in place of a stored
// credential. A patch echoing it back must not overwrite the real key.
const MaskedAPIKey = "***"

// Manager reconciles AGENT.md documents with stored agent profiles.
// Documents carry factory defaults; stored edits take precedence.
type Manager struct {
	store     store.Store
	agentsDir string
}

// NewManager creates a profile manager reading documents from agentsDir.
func NewManager(s store.Store, agentsDir string) *Manager {
	return &Manager{store: s, agentsDir: agentsDir}
}

// SyncFromFiles scans <agentsDir>/<slug>/AGENT.md documents and upserts
// them into the store. Fields already customized in the store are kept;
// documents only fill in blanks for existing profiles. Returns the number
// of profiles synced.
func (m *Manager) SyncFromFiles(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(m.agentsDir)
	if err != nil {
		if os.IsNotExist(err) {
			log.Printf("WARN: agents directory not found: %s", m.agentsDir)
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read agents directory: %w", err)
	}

	count := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		mdPath := filepath.Join(m.agentsDir, entry.Name(), "AGENT.md")
		doc, err := m.loadDocument(mdPath, entry.Name())
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			log.Printf("ERROR: failed to load %s: %v", mdPath, err)
			continue
		}

		existing, err := m.store.GetProfile(ctx, doc.Slug)
		if err != nil {
			return count, fmt.Errorf("failed to look up profile %s: %w", doc.Slug, err)
		}

		merged := doc
		if existing != nil {
			merged = mergeWithExisting(existing, doc)
		}
		if err := m.store.PutProfile(ctx, merged); err != nil {
			return count, fmt.Errorf("failed to save profile %s: %w", doc.Slug, err)
		}
		count++
	}

	log.Printf("INFO: synced %d agent definitions from AGENT.md files", count)
	return count, nil
}

// loadDocument parses an AGENT.md file into a factory-default profile.
func (m *Manager) loadDocument(path, dirName string) (*domain.AgentProfile, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	fm, body, err := ParseFrontmatter(content)
	if err != nil {
		return nil, fmt.Errorf("invalid frontmatter: %w", err)
	}

	slug := fm.Slug
	if slug == "" {
		slug = dirName
	}
	name := fm.Name
	if name == "" {
		name = titleCase(slug)
	}
	temperature := defaultTemperature
	if fm.Temperature != nil {
		temperature = *fm.Temperature
	}
	maxTokens := defaultMaxTokens
	if fm.MaxTokens != nil {
		maxTokens = *fm.MaxTokens
	}

	now := time.Now().UTC()
	return &domain.AgentProfile{
		Slug:              slug,
		Name:              name,
		Description:       fm.Description,
		Persona:           fm.Persona,
		SystemPrompt:      string(body),
		Enabled:           true,
		Temperature:       temperature,
		MaxTokens:         maxTokens,
		CapabilityServers: fm.CapabilityServers,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// mergeWithExisting keeps customized store fields and fills blanks from
// the document. Capability server bindings always follow the document.
func mergeWithExisting(existing *domain.AgentProfile, doc *domain.AgentProfile) *domain.AgentProfile {
	merged := *existing
	if merged.Name == "" {
		merged.Name = doc.Name
	}
	if merged.Description == "" {
		merged.Description = doc.Description
	}
	if merged.Persona == "" {
		merged.Persona = doc.Persona
	}
	if merged.SystemPrompt == "" {
		merged.SystemPrompt = doc.SystemPrompt
	}
	merged.CapabilityServers = doc.CapabilityServers
	merged.UpdatedAt = time.Now().UTC()
	return &merged
}

// Get returns a stored profile by slug, or nil when absent.
func (m *Manager) Get(ctx context.Context, slug string) (*domain.AgentProfile, error) {
	return m.store.GetProfile(ctx, slug)
}

// List returns all stored profiles ordered by slug.
func (m *Manager) List(ctx context.Context) ([]domain.AgentProfile, error) {
	profiles, err := m.store.ListProfiles(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(profiles, func(i, j int) bool { return profiles[i].Slug < profiles[j].Slug })
	return profiles, nil
}

// Update applies edits to a stored profile. Only fields present in the
// patch are changed. Returns the updated profile, or nil when absent.
func (m *Manager) Update(ctx context.Context, slug string, patch ProfilePatch) (*domain.AgentProfile, error) {
	existing, err := m.store.GetProfile(ctx, slug)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, nil
	}

	patch.apply(existing)
	existing.UpdatedAt = time.Now().UTC()
	if err := m.store.PutProfile(ctx, existing); err != nil {
		return nil, err
	}
	return existing, nil
}

// ResetToDefaults discards stored customizations for a profile and
// restores its AGENT.md factory defaults. Returns nil when the document
// does not exist.
func (m *Manager) ResetToDefaults(ctx context.Context, slug string) (*domain.AgentProfile, error) {
	existing, err := m.store.GetProfile(ctx, slug)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, nil
	}

	mdPath := filepath.Join(m.agentsDir, slug, "AGENT.md")
	doc, err := m.loadDocument(mdPath, slug)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	doc.Enabled = existing.Enabled
	doc.CreatedAt = existing.CreatedAt
	doc.UpdatedAt = time.Now().UTC()
	if err := m.store.PutProfile(ctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// ProfilePatch holds optional edits to an agent profile. Nil fields are
// left untouched.
type ProfilePatch struct {
	Name              *string   `json:"name,omitempty"`
	Description       *string   `json:"description,omitempty"`
	Persona           *string   `json:"persona,omitempty"`
	SystemPrompt      *string   `json:"system_prompt,omitempty"`
	Enabled           *bool     `json:"enabled,omitempty"`
	LLMBaseURL        *string   `json:"llm_base_url,omitempty"`
	LLMModel          *string   `json:"llm_model,omitempty"`
	LLMAPIKey         *string   `json:"llm_api_key,omitempty"`
	Temperature       *float64  `json:"temperature,omitempty"`
	MaxTokens         *int      `json:"max_tokens,omitempty"`
	CapabilityServers *[]string `json:"capability_servers,omitempty"`
}

func (p ProfilePatch) apply(profile *domain.AgentProfile) {
	if p.Name != nil {
		profile.Name = *p.Name
	}
	if p.Description != nil {
		profile.Description = *p.Description
	}
	if p.Persona != nil {
		profile.Persona = *p.Persona
	}
	if p.SystemPrompt != nil {
		profile.SystemPrompt = *p.SystemPrompt
	}
	if p.Enabled != nil {
		profile.Enabled = *p.Enabled
	}
	if p.LLMBaseURL != nil {
		profile.LLMBaseURL = *p.LLMBaseURL
	}
	if p.LLMModel != nil {
		profile.LLMModel = *p.LLMModel
	}
	if p.LLMAPIKey != nil && *p.LLMAPIKey != MaskedAPIKey {
		profile.LLMAPIKey = *p.LLMAPIKey
	}
	if p.Temperature != nil {
		profile.Temperature = *p.Temperature
	}
	if p.MaxTokens != nil {
		profile.MaxTokens = *p.MaxTokens
	}
	if p.CapabilityServers != nil {
		profile.CapabilityServers = *p.CapabilityServers
	}
}
