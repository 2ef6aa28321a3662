package v1

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fundmatch/orchestrator/internal/capability"
	"github.com/fundmatch/orchestrator/internal/domain"
)

func putServer(t *testing.T, e *echo.Echo, h *Handler, slug, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPut, "/v1/capability-servers/"+slug, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("slug")
	c.SetParamValues(slug)
	require.NoError(t, h.UpdateCapabilityServer(c))
	return rec
}

func TestUpdateCapabilityServerValidation(t *testing.T) {
	e := echo.New()
	h, _ := newTestHandler(t, nil)

	rec := putServer(t, e, h, "sql", `{"transport": "stdio"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = putServer(t, e, h, "sql", `{"name": "SQL", "transport": "grpc"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateCapabilityServerRoundTrip(t *testing.T) {
	e := echo.New()
	h, db := newTestHandler(t, nil)

	rec := putServer(t, e, h, "sql", `{"name": "SQL", "transport": "stdio", "command": "uvx", "args": ["mcp-server-sqlite"], "enabled": true}`)
	require.Equal(t, http.StatusOK, rec.Code)

	got, err := db.GetCapabilityServer(context.Background(), "sql")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "uvx", got.Command)
	assert.True(t, got.Enabled)

	// A replacement keeps the original creation time.
	created := got.CreatedAt
	rec = putServer(t, e, h, "sql", `{"name": "SQL v2", "transport": "stdio", "command": "uvx"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	got, err = db.GetCapabilityServer(context.Background(), "sql")
	require.NoError(t, err)
	assert.Equal(t, "SQL v2", got.Name)
	assert.Equal(t, created.Unix(), got.CreatedAt.Unix())
}

func TestListCapabilityServers(t *testing.T) {
	e := echo.New()
	h, db := newTestHandler(t, nil)

	require.NoError(t, capability.NewRegistry(db, &fakeDialer{}).SeedDefaults(context.Background()))

	req := httptest.NewRequest(http.MethodGet, "/v1/capability-servers", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, h.ListCapabilityServers(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Servers []domain.CapabilityServer `json:"servers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Servers, 3)
}

func TestTestCapabilityServer(t *testing.T) {
	e := echo.New()
	h, _ := newTestHandler(t, nil)

	putServer(t, e, h, "sql", `{"name": "SQL", "transport": "stdio", "command": "uvx"}`)

	req := httptest.NewRequest(http.MethodPost, "/v1/capability-servers/sql/test", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("slug")
	c.SetParamValues("sql")

	require.NoError(t, h.TestCapabilityServer(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var result capability.TestResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.OK)
	assert.Equal(t, []string{"query"}, result.Tools)
}

func TestTestCapabilityServerUnknown(t *testing.T) {
	e := echo.New()
	h, _ := newTestHandler(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/capability-servers/ghost/test", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("slug")
	c.SetParamValues("ghost")

	require.NoError(t, h.TestCapabilityServer(c))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
