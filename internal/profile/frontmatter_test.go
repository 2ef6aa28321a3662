package profile

import "testing"

func TestParseFrontmatter(t *testing.T) {
	content := []byte(`---
name: Matchmaker
description: Scores pairs.
persona: A grants officer.
temperature: 0.4
max_tokens: 8192
capability_servers: [sql]
---
You score researcher-opportunity pairs.
`)
	fm, body, err := ParseFrontmatter(content)
	if err != nil {
		t.Fatalf("ParseFrontmatter failed: %v", err)
	}
	if fm.Name != "Matchmaker" || fm.Persona != "A grants officer." {
		t.Fatalf("unexpected frontmatter: %+v", fm)
	}
	if fm.Temperature == nil || *fm.Temperature != 0.4 {
		t.Fatalf("unexpected temperature: %v", fm.Temperature)
	}
	if fm.MaxTokens == nil || *fm.MaxTokens != 8192 {
		t.Fatalf("unexpected max_tokens: %v", fm.MaxTokens)
	}
	if len(fm.CapabilityServers) != 1 || fm.CapabilityServers[0] != "sql" {
		t.Fatalf("unexpected capability servers: %v", fm.CapabilityServers)
	}
	if string(body) != "You score researcher-opportunity pairs.\n" {
		t.Fatalf("unexpected body: %q", body)
	}
}

func TestParseFrontmatterAbsent(t *testing.T) {
	content := []byte("Just a prompt with no frontmatter.")
	fm, body, err := ParseFrontmatter(content)
	if err != nil {
		t.Fatalf("ParseFrontmatter failed: %v", err)
	}
	if fm.Name != "" || fm.Temperature != nil {
		t.Fatalf("expected empty frontmatter, got %+v", fm)
	}
	if string(body) != string(content) {
		t.Fatalf("body altered: %q", body)
	}
}

func TestParseFrontmatterUnterminated(t *testing.T) {
	content := []byte("---\nname: Broken\nno closing delimiter")
	fm, body, err := ParseFrontmatter(content)
	if err != nil {
		t.Fatalf("ParseFrontmatter failed: %v", err)
	}
	if fm.Name != "" {
		t.Fatalf("expected empty frontmatter for unterminated block, got %+v", fm)
	}
	if string(body) != string(content) {
		t.Fatalf("body altered: %q", body)
	}
}

func TestParseFrontmatterInvalidYAML(t *testing.T) {
	content := []byte("---\nname: [unclosed\n---\nbody")
	if _, _, err := ParseFrontmatter(content); err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}
