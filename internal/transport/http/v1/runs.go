package v1

import (
	"encoding/csv"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/fundmatch/orchestrator/internal/domain"
)

// StartRunRequest scopes a matchmaking run. Empty ID lists mean all
// active records.
type StartRunRequest struct {
	ResearcherIDs  []int64 `json:"researcher_ids,omitempty"`
	OpportunityIDs []int64 `json:"opportunity_ids,omitempty"`
}

// StartRun starts a matchmaking run.
// POST /v1/workflows/matchmaking/run
func (h *Handler) StartRun(c echo.Context) error {
	ctx := c.Request().Context()

	var req StartRunRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	run, err := h.coordinator.Start(ctx, domain.TriggerManual, domain.RunInput{
		ResearcherIDs:  req.ResearcherIDs,
		OpportunityIDs: req.OpportunityIDs,
	})
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyRunning) {
			return c.JSON(http.StatusConflict, map[string]string{"error": "a matchmaking run is already in progress"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusAccepted, run)
}

// ListRuns lists recent runs, newest first.
// GET /v1/workflows/runs
func (h *Handler) ListRuns(c echo.Context) error {
	ctx := c.Request().Context()

	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid limit"})
		}
		limit = parsed
	}

	runs, err := h.store.ListRuns(ctx, limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{"runs": runs})
}

// GetRun returns one run with its ordered steps and matches.
// GET /v1/workflows/runs/:run_id
func (h *Handler) GetRun(c echo.Context) error {
	ctx := c.Request().Context()
	runID := c.Param("run_id")

	run, err := h.store.GetRun(ctx, runID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if run == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "run not found"})
	}

	steps, err := h.store.GetSteps(ctx, runID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	matches, err := h.store.GetMatches(ctx, runID, 100)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"run":     run,
		"steps":   steps,
		"matches": matches,
	})
}

// GetProgress returns the coarse progress view for the polling fallback.
// GET /v1/workflows/runs/:run_id/progress
func (h *Handler) GetProgress(c echo.Context) error {
	ctx := c.Request().Context()
	runID := c.Param("run_id")

	progress, err := h.coordinator.Progress(ctx, runID)
	if err != nil {
		if errors.Is(err, domain.ErrRunNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "run not found"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, progress)
}

// CancelRun requests cooperative cancellation.
// POST /v1/workflows/runs/:run_id/cancel
func (h *Handler) CancelRun(c echo.Context) error {
	ctx := c.Request().Context()
	runID := c.Param("run_id")

	if err := h.coordinator.Cancel(ctx, runID); err != nil {
		if errors.Is(err, domain.ErrRunNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "run not found"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{"ok": true})
}

// ExportMatchesCSV streams a run's matches as CSV, highest score first.
// GET /v1/workflows/runs/:run_id/matches/csv
func (h *Handler) ExportMatchesCSV(c echo.Context) error {
	ctx := c.Request().Context()
	runID := c.Param("run_id")

	run, err := h.store.GetRun(ctx, runID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if run == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "run not found"})
	}

	matches, err := h.store.GetMatches(ctx, runID, 10000)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	c.Response().Header().Set(echo.HeaderContentType, "text/csv")
	c.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf(`attachment; filename="matches_%s.csv"`, runID))
	c.Response().WriteHeader(http.StatusOK)

	w := csv.NewWriter(c.Response())
	header := []string{
		"researcher_id", "opportunity_id", "overall_score", "relevance_score",
		"feasibility_score", "impact_score", "confidence", "justification",
		"critique", "summary", "flagged",
	}
	if err := w.Write(header); err != nil {
		return err
	}
	for _, m := range matches {
		record := []string{
			strconv.FormatInt(m.ResearcherID, 10),
			strconv.FormatInt(m.OpportunityID, 10),
			strconv.FormatFloat(m.OverallScore, 'f', 2, 64),
			strconv.FormatFloat(m.RelevanceScore, 'f', 2, 64),
			strconv.FormatFloat(m.FeasibilityScore, 'f', 2, 64),
			strconv.FormatFloat(m.ImpactScore, 'f', 2, 64),
			string(m.Confidence),
			m.Justification,
			m.Critique,
			m.Summary,
			strconv.FormatBool(m.Flagged),
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
