// Package http provides the HTTP server for the matchmaking orchestrator.
package http

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/fundmatch/orchestrator/internal/bus"
	"github.com/fundmatch/orchestrator/internal/capability"
	"github.com/fundmatch/orchestrator/internal/config"
	"github.com/fundmatch/orchestrator/internal/pipeline"
	"github.com/fundmatch/orchestrator/internal/profile"
	"github.com/fundmatch/orchestrator/internal/store"
	v1 "github.com/fundmatch/orchestrator/internal/transport/http/v1"
)

// NewServer creates and configures the HTTP server.
func NewServer(coordinator *pipeline.Coordinator, s store.Store, b *bus.Bus, profiles *profile.Manager, registry *capability.Registry, prober v1.AgentProber, cfg *config.Config) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Handlers
	handler := v1.NewHandler(coordinator, s, b, profiles, registry, prober, cfg)
	handler.RegisterRoutes(e)

	return e
}
