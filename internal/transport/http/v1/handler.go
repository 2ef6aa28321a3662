// Package v1 provides the HTTP handlers for the matchmaking API.
package v1

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/fundmatch/orchestrator/internal/bus"
	"github.com/fundmatch/orchestrator/internal/capability"
	"github.com/fundmatch/orchestrator/internal/config"
	"github.com/fundmatch/orchestrator/internal/invoker"
	"github.com/fundmatch/orchestrator/internal/pipeline"
	"github.com/fundmatch/orchestrator/internal/profile"
	"github.com/fundmatch/orchestrator/internal/store"
)

// AgentProber performs one-off agent invocations outside any run.
// Satisfied by invoker.Invoker.
type AgentProber interface {
	Probe(ctx context.Context, agent *profile.Resolved, prompt string) (*invoker.Result, error)
}

// Handler handles HTTP requests.
type Handler struct {
	coordinator *pipeline.Coordinator
	store       store.Store
	bus         *bus.Bus
	profiles    *profile.Manager
	registry    *capability.Registry
	prober      AgentProber
	cfg         *config.Config
}

// NewHandler creates a new handler.
func NewHandler(coordinator *pipeline.Coordinator, s store.Store, b *bus.Bus, profiles *profile.Manager, registry *capability.Registry, prober AgentProber, cfg *config.Config) *Handler {
	return &Handler{
		coordinator: coordinator,
		store:       s,
		bus:         b,
		profiles:    profiles,
		registry:    registry,
		prober:      prober,
		cfg:         cfg,
	}
}

// RegisterRoutes registers all routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	// Workflow runs
	e.POST("/v1/workflows/matchmaking/run", h.StartRun)
	e.GET("/v1/workflows/runs", h.ListRuns)
	e.GET("/v1/workflows/runs/:run_id", h.GetRun)
	e.GET("/v1/workflows/runs/:run_id/progress", h.GetProgress)
	e.POST("/v1/workflows/runs/:run_id/cancel", h.CancelRun)
	e.GET("/v1/workflows/runs/:run_id/logs/stream", h.StreamLogs)
	e.GET("/v1/workflows/runs/:run_id/matches/csv", h.ExportMatchesCSV)

	// Agent profiles
	e.GET("/v1/agents", h.ListAgentProfiles)
	e.GET("/v1/agents/:slug", h.GetAgentProfile)
	e.PUT("/v1/agents/:slug", h.UpdateAgentProfile)
	e.POST("/v1/agents/:slug/reset", h.ResetAgentProfile)
	e.POST("/v1/agents/:slug/test", h.TestAgentProfile)

	// Capability servers
	e.GET("/v1/capability-servers", h.ListCapabilityServers)
	e.PUT("/v1/capability-servers/:slug", h.UpdateCapabilityServer)
	e.POST("/v1/capability-servers/:slug/test", h.TestCapabilityServer)

	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
	})
}
