package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/fundmatch/orchestrator/internal/domain"
	"github.com/fundmatch/orchestrator/internal/profile"
)

// maskAPIKey hides stored credentials in API responses.
func maskAPIKey(p *domain.AgentProfile) *domain.AgentProfile {
	masked := *p
	if masked.LLMAPIKey != "" {
		masked.LLMAPIKey = profile.MaskedAPIKey
	}
	return &masked
}

// ListAgentProfiles lists all agent profiles.
// GET /v1/agents
func (h *Handler) ListAgentProfiles(c echo.Context) error {
	ctx := c.Request().Context()

	profiles, err := h.profiles.List(ctx)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	masked := make([]*domain.AgentProfile, len(profiles))
	for i := range profiles {
		masked[i] = maskAPIKey(&profiles[i])
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"agents": masked})
}

// GetAgentProfile returns one agent profile.
// GET /v1/agents/:slug
func (h *Handler) GetAgentProfile(c echo.Context) error {
	ctx := c.Request().Context()
	slug := c.Param("slug")

	p, err := h.profiles.Get(ctx, slug)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if p == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "agent not found"})
	}
	return c.JSON(http.StatusOK, maskAPIKey(p))
}

// UpdateAgentProfile applies a partial update to an agent profile.
// PUT /v1/agents/:slug
func (h *Handler) UpdateAgentProfile(c echo.Context) error {
	ctx := c.Request().Context()
	slug := c.Param("slug")

	var patch profile.ProfilePatch
	if err := c.Bind(&patch); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	updated, err := h.profiles.Update(ctx, slug, patch)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if updated == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "agent not found"})
	}
	return c.JSON(http.StatusOK, maskAPIKey(updated))
}

// ResetAgentProfile restores an agent's document defaults.
// POST /v1/agents/:slug/reset
func (h *Handler) ResetAgentProfile(c echo.Context) error {
	ctx := c.Request().Context()
	slug := c.Param("slug")

	reset, err := h.profiles.ResetToDefaults(ctx, slug)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if reset == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "agent or its definition file not found"})
	}
	return c.JSON(http.StatusOK, maskAPIKey(reset))
}

// TestAgentRequest carries an optional custom test prompt.
type TestAgentRequest struct {
	Prompt string `json:"prompt,omitempty"`
}

// TestAgentProfile performs a single live invocation of the agent with a
// short test prompt and returns the raw response.
// POST /v1/agents/:slug/test
func (h *Handler) TestAgentProfile(c echo.Context) error {
	ctx := c.Request().Context()
	slug := c.Param("slug")

	var req TestAgentRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Prompt == "" {
		req.Prompt = "Reply with a one-sentence confirmation that you are operational."
	}

	resolved, err := h.profiles.Resolve(ctx, slug, profile.LLMDefaults{
		BaseURL: h.cfg.LLM.BaseURL,
		Model:   h.cfg.LLM.Model,
		APIKey:  h.cfg.LLM.APIKey,
	})
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	result, err := h.prober.Probe(ctx, resolved, req.Prompt)
	if err != nil {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"ok":    false,
			"error": err.Error(),
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"ok":          true,
		"response":    result.Content,
		"model":       result.Model,
		"duration_ms": result.DurationMs,
		"tokens":      result.Tokens,
	})
}
