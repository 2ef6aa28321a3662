package v1

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/fundmatch/orchestrator/internal/domain"
)

// ListCapabilityServers lists all configured capability servers.
// GET /v1/capability-servers
func (h *Handler) ListCapabilityServers(c echo.Context) error {
	ctx := c.Request().Context()

	servers, err := h.registry.List(ctx)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"servers": servers})
}

// UpdateCapabilityServerRequest is the full server definition to store.
type UpdateCapabilityServerRequest struct {
	Name      string            `json:"name"`
	Transport string            `json:"transport"`
	Command   string            `json:"command,omitempty"`
	Args      []string          `json:"args,omitempty"`
	URL       string            `json:"url,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	Enabled   bool              `json:"enabled"`
}

// UpdateCapabilityServer creates or replaces a server definition.
// PUT /v1/capability-servers/:slug
func (h *Handler) UpdateCapabilityServer(c echo.Context) error {
	ctx := c.Request().Context()
	slug := c.Param("slug")

	var req UpdateCapabilityServerRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Name == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "name is required"})
	}

	existing, err := h.registry.Get(ctx, slug)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	server := &domain.CapabilityServer{
		Slug:      slug,
		Name:      req.Name,
		Transport: req.Transport,
		Command:   req.Command,
		Args:      req.Args,
		URL:       req.URL,
		Env:       req.Env,
		Enabled:   req.Enabled,
		CreatedAt: time.Now().UTC(),
	}
	if existing != nil {
		server.CreatedAt = existing.CreatedAt
	}

	if err := h.registry.Put(ctx, server); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, server)
}

// TestCapabilityServer connects to the server and lists its tools.
// POST /v1/capability-servers/:slug/test
func (h *Handler) TestCapabilityServer(c echo.Context) error {
	ctx := c.Request().Context()
	slug := c.Param("slug")

	result, err := h.registry.Test(ctx, slug)
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, result)
}
