// Package profile loads agent definitions from AGENT.md documents and
// reconciles them with stored overrides.
package profile

import (
	"bytes"

	"gopkg.in/yaml.v3"
)

// Frontmatter represents the YAML frontmatter in an AGENT.md document.
type Frontmatter struct {
	Slug              string   `yaml:"slug"`
	Name              string   `yaml:"name"`
	Description       string   `yaml:"description"`
	Persona           string   `yaml:"persona"`
	Temperature       *float64 `yaml:"temperature"`
	MaxTokens         *int     `yaml:"max_tokens"`
	CapabilityServers []string `yaml:"capability_servers"`
}

// ParseFrontmatter extracts YAML frontmatter from markdown content.
// Returns the frontmatter, remaining content, and any error. Content
// without a frontmatter block parses as an empty Frontmatter.
func ParseFrontmatter(content []byte) (*Frontmatter, []byte, error) {
	if !bytes.HasPrefix(content, []byte("---\n")) {
		return &Frontmatter{}, content, nil
	}

	rest := content[4:]
	endIdx := bytes.Index(rest, []byte("\n---"))
	if endIdx == -1 {
		return &Frontmatter{}, content, nil
	}

	fmData := rest[:endIdx]
	remaining := rest[endIdx+4:] // skip \n---

	var fm Frontmatter
	if err := yaml.Unmarshal(fmData, &fm); err != nil {
		return nil, nil, err
	}

	return &fm, bytes.TrimLeft(remaining, "\n"), nil
}
