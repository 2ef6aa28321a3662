package capability

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/fundmatch/orchestrator/internal/domain"
)

// Conn is an open connection to one capability server.
type Conn interface {
	ListTools(ctx context.Context) ([]string, error)
	CallTool(ctx context.Context, name string, args map[string]interface{}) (string, error)
	Close() error
}

// Dialer opens connections to capability servers. Tests substitute a
// fake to avoid spawning processes.
type Dialer interface {
	Dial(ctx context.Context, server *domain.CapabilityServer) (Conn, error)
}

// MCPDialer connects over the Model Context Protocol, spawning a child
// process for stdio transports or attaching to an SSE endpoint.
type MCPDialer struct{}

// NewMCPDialer creates the default dialer.
func NewMCPDialer() *MCPDialer {
	return &MCPDialer{}
}

// Dial opens and initializes a connection per the server's transport.
func (d *MCPDialer) Dial(ctx context.Context, server *domain.CapabilityServer) (Conn, error) {
	var (
		c   *client.Client
		err error
	)
	switch server.Transport {
	case "stdio":
		env := make([]string, 0, len(server.Env))
		for k, v := range server.Env {
			env = append(env, k+"="+v)
		}
		c, err = client.NewStdioMCPClient(server.Command, env, server.Args...)
		if err != nil {
			return nil, fmt.Errorf("failed to start stdio server: %w", err)
		}
	case "sse":
		c, err = client.NewSSEMCPClient(server.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to create SSE client: %w", err)
		}
		if err := c.Start(ctx); err != nil {
			return nil, fmt.Errorf("failed to connect to SSE server: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported transport %q", server.Transport)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    "fundmatch-orchestrator",
		Version: "1.0.0",
	}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize session: %w", err)
	}

	return &mcpConn{client: c}, nil
}

type mcpConn struct {
	client *client.Client
}

func (c *mcpConn) ListTools(ctx context.Context) ([]string, error) {
	result, err := c.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(result.Tools))
	for _, tool := range result.Tools {
		names = append(names, tool.Name)
	}
	return names, nil
}

func (c *mcpConn) CallTool(ctx context.Context, name string, args map[string]interface{}) (string, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	result, err := c.client.CallTool(ctx, req)
	if err != nil {
		return "", err
	}
	if result.IsError {
		return "", fmt.Errorf("tool %s returned an error", name)
	}

	var parts []string
	for _, content := range result.Content {
		if text, ok := mcp.AsTextContent(content); ok {
			parts = append(parts, text.Text)
		}
	}
	return strings.Join(parts, "\n"), nil
}

func (c *mcpConn) Close() error {
	return c.client.Close()
}
