package v1

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/fundmatch/orchestrator/internal/domain"
)

const keepaliveInterval = 15 * time.Second

// StreamLogs streams a run's log events as server-sent events. Events
// already published before the client connected are replayed first, then
// the stream goes live. The stream ends on workflow_end, on client
// disconnect, or when the maximum stream duration elapses; a disconnected
// client falls back to progress polling.
// GET /v1/workflows/runs/:run_id/logs/stream
func (h *Handler) StreamLogs(c echo.Context) error {
	ctx := c.Request().Context()
	runID := c.Param("run_id")

	run, err := h.store.GetRun(ctx, runID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if run == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "run not found"})
	}

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)

	replay, sub := h.bus.Subscribe(runID)
	defer h.bus.Unsubscribe(runID, sub)

	for _, event := range replay {
		if err := writeSSE(resp, event); err != nil {
			return nil
		}
		if event.Type == domain.EventTypeWorkflowEnd {
			return nil
		}
	}
	resp.Flush()

	// A run already terminal with no terminal event in the replay buffer
	// (e.g. after restart) still needs a closing event.
	if run.Status.IsTerminal() {
		writeSSE(resp, domain.LogEvent{
			Type:    domain.EventTypeWorkflowEnd,
			Ts:      time.Now().UTC(),
			RunID:   runID,
			Message: fmt.Sprintf("Run finished: %s", run.Status),
		})
		return nil
	}

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()
	deadline := time.NewTimer(h.cfg.Stream.MaxDuration)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-deadline.C:
			return nil
		case <-keepalive.C:
			if _, err := fmt.Fprint(resp, ": keepalive\n\n"); err != nil {
				return nil
			}
			resp.Flush()
		case event, ok := <-sub.C:
			if !ok {
				return nil
			}
			if err := writeSSE(resp, event); err != nil {
				return nil
			}
			if event.Type == domain.EventTypeWorkflowEnd {
				return nil
			}
		}
	}
}

func writeSSE(resp *echo.Response, event domain.LogEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(resp, "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
		return err
	}
	resp.Flush()
	return nil
}
