// Package capability manages the registry of external tool servers that
// pipeline agents may call during a run.
package capability

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/fundmatch/orchestrator/internal/domain"
	"github.com/fundmatch/orchestrator/internal/store"
)

// Registry provides access to configured capability servers and manages
// their lifecycle in the store.
type Registry struct {
	store  store.Store
	dialer Dialer
}

// NewRegistry creates a registry backed by the given store. A nil dialer
// falls back to the default MCP dialer.
func NewRegistry(s store.Store, dialer Dialer) *Registry {
	if dialer == nil {
		dialer = NewMCPDialer()
	}
	return &Registry{store: s, dialer: dialer}
}

// SeedDefaults inserts the built-in server definitions when they are not
// already present. Existing entries are never overwritten.
func (r *Registry) SeedDefaults(ctx context.Context) error {
	defaults := []domain.CapabilityServer{
		{
			Slug:      "sql",
			Name:      "SQL Query",
			Transport: "stdio",
			Command:   "uvx",
			Args:      []string{"mcp-server-sqlite"},
			Enabled:   false,
		},
		{
			Slug:      "web_search",
			Name:      "Web Search",
			Transport: "sse",
			URL:       "http://localhost:8931/sse",
			Enabled:   false,
		},
		{
			Slug:      "web_crawl",
			Name:      "Web Crawl",
			Transport: "sse",
			URL:       "http://localhost:8932/sse",
			Enabled:   false,
		},
	}

	for _, def := range defaults {
		existing, err := r.store.GetCapabilityServer(ctx, def.Slug)
		if err != nil {
			return fmt.Errorf("failed to look up capability server %s: %w", def.Slug, err)
		}
		if existing != nil {
			continue
		}
		def.CreatedAt = time.Now().UTC()
		if err := r.store.PutCapabilityServer(ctx, &def); err != nil {
			return fmt.Errorf("failed to seed capability server %s: %w", def.Slug, err)
		}
		log.Printf("INFO: seeded capability server %s", def.Slug)
	}
	return nil
}

// Get returns a server by slug, or nil when absent.
func (r *Registry) Get(ctx context.Context, slug string) (*domain.CapabilityServer, error) {
	return r.store.GetCapabilityServer(ctx, slug)
}

// List returns all configured servers ordered by slug.
func (r *Registry) List(ctx context.Context) ([]domain.CapabilityServer, error) {
	servers, err := r.store.ListCapabilityServers(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(servers, func(i, j int) bool { return servers[i].Slug < servers[j].Slug })
	return servers, nil
}

// Put stores a server definition, creating or replacing it.
func (r *Registry) Put(ctx context.Context, server *domain.CapabilityServer) error {
	if server.Transport != "stdio" && server.Transport != "sse" {
		return fmt.Errorf("unsupported transport %q", server.Transport)
	}
	if server.CreatedAt.IsZero() {
		server.CreatedAt = time.Now().UTC()
	}
	return r.store.PutCapabilityServer(ctx, server)
}

// TestResult reports the outcome of a connectivity test.
type TestResult struct {
	OK    bool     `json:"ok"`
	Tools []string `json:"tools,omitempty"`
	Error string   `json:"error,omitempty"`
}

// Test connects to the server, lists its tools, and disconnects. It never
// returns an error for a failed connection; the failure is reported in
// the result so the caller can surface it as data.
func (r *Registry) Test(ctx context.Context, slug string) (*TestResult, error) {
	server, err := r.store.GetCapabilityServer(ctx, slug)
	if err != nil {
		return nil, err
	}
	if server == nil {
		return nil, fmt.Errorf("capability server %s not found", slug)
	}

	conn, err := r.dialer.Dial(ctx, server)
	if err != nil {
		return &TestResult{OK: false, Error: err.Error()}, nil
	}
	defer conn.Close()

	tools, err := conn.ListTools(ctx)
	if err != nil {
		return &TestResult{OK: false, Error: err.Error()}, nil
	}
	return &TestResult{OK: true, Tools: tools}, nil
}

// Tools lists the tool names an enabled server exposes. Unlike Test,
// a disabled or unreachable server is an error here: callers advertise
// the result to agents and must not offer tools that cannot be called.
func (r *Registry) Tools(ctx context.Context, slug string) ([]string, error) {
	server, err := r.store.GetCapabilityServer(ctx, slug)
	if err != nil {
		return nil, err
	}
	if server == nil {
		return nil, fmt.Errorf("capability server %s not found", slug)
	}
	if !server.Enabled {
		return nil, fmt.Errorf("capability server %s is disabled", slug)
	}

	conn, err := r.dialer.Dial(ctx, server)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", slug, err)
	}
	defer conn.Close()

	return conn.ListTools(ctx)
}

// Invoke connects to the server and calls a single tool, returning the
// text content of the result.
func (r *Registry) Invoke(ctx context.Context, slug, tool string, args map[string]interface{}) (string, error) {
	server, err := r.store.GetCapabilityServer(ctx, slug)
	if err != nil {
		return "", err
	}
	if server == nil {
		return "", fmt.Errorf("capability server %s not found", slug)
	}
	if !server.Enabled {
		return "", fmt.Errorf("capability server %s is disabled", slug)
	}

	conn, err := r.dialer.Dial(ctx, server)
	if err != nil {
		return "", fmt.Errorf("failed to connect to %s: %w", slug, err)
	}
	defer conn.Close()

	return conn.CallTool(ctx, tool, args)
}
