package profile

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/fundmatch/orchestrator/internal/domain"
	"github.com/fundmatch/orchestrator/internal/store"
)

const matchmakerDoc = `---
name: Matchmaker
description: Scores pairs.
persona: A grants officer.
temperature: 0.4
max_tokens: 8192
capability_servers: [sql]
---
Score each pair on relevance, feasibility and impact.
`

func newTestManager(t *testing.T) (*Manager, store.Store, string) {
	t.Helper()
	db, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	dir := t.TempDir()
	writeAgentDoc(t, dir, "matchmaker", matchmakerDoc)
	return NewManager(db, dir), db, dir
}

func writeAgentDoc(t *testing.T, dir, slug, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Join(dir, slug), 0o755); err != nil {
		t.Fatalf("failed to create agent dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, slug, "AGENT.md"), []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write AGENT.md: %v", err)
	}
}

func TestSyncFromFilesCreatesProfiles(t *testing.T) {
	ctx := context.Background()
	m, db, _ := newTestManager(t)

	count, err := m.SyncFromFiles(ctx)
	if err != nil {
		t.Fatalf("SyncFromFiles failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 synced profile, got %d", count)
	}

	p, err := db.GetProfile(ctx, "matchmaker")
	if err != nil {
		t.Fatalf("GetProfile failed: %v", err)
	}
	if p == nil {
		t.Fatal("profile not created")
	}
	if p.Name != "Matchmaker" || p.Temperature != 0.4 || p.MaxTokens != 8192 {
		t.Fatalf("unexpected profile: %+v", p)
	}
	if !p.Enabled {
		t.Fatal("new profile should start enabled")
	}
	if p.SystemPrompt == "" {
		t.Fatal("system prompt not loaded from document body")
	}
}

func TestSyncKeepsStoredCustomizations(t *testing.T) {
	ctx := context.Background()
	m, db, _ := newTestManager(t)

	if _, err := m.SyncFromFiles(ctx); err != nil {
		t.Fatalf("SyncFromFiles failed: %v", err)
	}

	custom := "You are extra cautious with feasibility scores."
	updated, err := m.Update(ctx, "matchmaker", ProfilePatch{SystemPrompt: &custom})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.SystemPrompt != custom {
		t.Fatalf("patch not applied: %q", updated.SystemPrompt)
	}

	// A second sync must not clobber the customization.
	if _, err := m.SyncFromFiles(ctx); err != nil {
		t.Fatalf("SyncFromFiles failed: %v", err)
	}
	p, err := db.GetProfile(ctx, "matchmaker")
	if err != nil {
		t.Fatalf("GetProfile failed: %v", err)
	}
	if p.SystemPrompt != custom {
		t.Fatalf("sync clobbered customization: %q", p.SystemPrompt)
	}
}

func TestResetToDefaults(t *testing.T) {
	ctx := context.Background()
	m, db, _ := newTestManager(t)

	if _, err := m.SyncFromFiles(ctx); err != nil {
		t.Fatalf("SyncFromFiles failed: %v", err)
	}

	custom := "Customized."
	disabled := false
	if _, err := m.Update(ctx, "matchmaker", ProfilePatch{SystemPrompt: &custom, Enabled: &disabled}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	reset, err := m.ResetToDefaults(ctx, "matchmaker")
	if err != nil {
		t.Fatalf("ResetToDefaults failed: %v", err)
	}
	if reset.SystemPrompt == custom {
		t.Fatal("reset kept the customized prompt")
	}
	// The enabled toggle is operator state, not a factory default.
	if reset.Enabled {
		t.Fatal("reset re-enabled a disabled agent")
	}

	p, err := db.GetProfile(ctx, "matchmaker")
	if err != nil {
		t.Fatalf("GetProfile failed: %v", err)
	}
	if p.SystemPrompt != reset.SystemPrompt {
		t.Fatalf("store not updated: %q", p.SystemPrompt)
	}
}

func TestResetToDefaultsMissingDocument(t *testing.T) {
	ctx := context.Background()
	m, db, _ := newTestManager(t)

	// A stored profile without a backing document cannot be reset.
	p := &domain.AgentProfile{Slug: "ghost", Name: "Ghost", Enabled: true, Temperature: 0.5, MaxTokens: 1024}
	if err := db.PutProfile(ctx, p); err != nil {
		t.Fatalf("PutProfile failed: %v", err)
	}
	got, err := m.ResetToDefaults(ctx, "ghost")
	if err != nil {
		t.Fatalf("ResetToDefaults failed: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for missing document, got %+v", got)
	}
}

func TestUpdateMissingProfile(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)

	name := "X"
	got, err := m.Update(ctx, "nope", ProfilePatch{Name: &name})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for missing profile, got %+v", got)
	}
}

func TestResolveFallbackChain(t *testing.T) {
	ctx := context.Background()
	m, db, _ := newTestManager(t)

	if _, err := m.SyncFromFiles(ctx); err != nil {
		t.Fatalf("SyncFromFiles failed: %v", err)
	}

	defaults := LLMDefaults{BaseURL: "http://llm:4000", Model: "gpt-4o-mini", APIKey: "global"}

	// No overrides: global defaults apply.
	r, err := m.Resolve(ctx, "matchmaker", defaults)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if r.BaseURL != "http://llm:4000" || r.Model != "gpt-4o-mini" || r.APIKey != "global" {
		t.Fatalf("defaults not applied: %+v", r)
	}
	if r.Temperature != 0.4 || r.MaxTokens != 8192 {
		t.Fatalf("document settings lost: %+v", r)
	}
	if !r.Enabled {
		t.Fatal("expected enabled")
	}

	// Profile overrides win over defaults.
	model := "claude-sonnet"
	if _, err := m.Update(ctx, "matchmaker", ProfilePatch{LLMModel: &model}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	r, err = m.Resolve(ctx, "matchmaker", defaults)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if r.Model != "claude-sonnet" {
		t.Fatalf("override lost: %+v", r)
	}

	// Missing profile resolves to a disabled placeholder.
	r, err = m.Resolve(ctx, "nope", defaults)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if r.Enabled {
		t.Fatal("missing profile should resolve disabled")
	}

	// Make sure the persona reaches the system prompt.
	p, err := db.GetProfile(ctx, "matchmaker")
	if err != nil {
		t.Fatalf("GetProfile failed: %v", err)
	}
	if p.Persona == "" {
		t.Fatal("persona not synced")
	}
	r, err = m.Resolve(ctx, "matchmaker", defaults)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if want := "Persona: A grants officer."; len(r.SystemPrompt) == 0 || r.SystemPrompt[:len(want)] != want {
		t.Fatalf("persona prefix missing: %q", r.SystemPrompt)
	}
}
