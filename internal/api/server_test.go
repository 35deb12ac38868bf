package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	artifactmemory "github.com/mkrause/newsharvest/internal/artifact/memory"
	"github.com/mkrause/newsharvest/internal/backup"
	"github.com/mkrause/newsharvest/internal/config"
	"github.com/mkrause/newsharvest/internal/dedup"
	"github.com/mkrause/newsharvest/internal/harvest"
	"github.com/mkrause/newsharvest/internal/hash/sha256"
	"github.com/mkrause/newsharvest/internal/orchestrator"
	"github.com/mkrause/newsharvest/internal/processor"
	storememory "github.com/mkrause/newsharvest/internal/store/memory"
	"github.com/mkrause/newsharvest/internal/taskqueue"
)

type fakeClock struct {
	now time.Time
}

func (c fakeClock) Now() time.Time { return c.now }

type seqIDGen struct {
	n int
}

func (g *seqIDGen) NewID() (string, error) {
	g.n++
	return fmt.Sprintf("id-%d", g.n), nil
}

type stubSearcher struct{}

func (stubSearcher) Search(context.Context, []string, harvest.SearchOptions) (harvest.SearchResult, error) {
	return harvest.SearchResult{Success: true}, nil
}

func (stubSearcher) Name() string { return "stub" }

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T, cfg config.Config) (*Server, *storememory.Store) {
	t.Helper()
	store := storememory.New()
	clock := fakeClock{now: testNow}
	idGen := &seqIDGen{}

	detector := dedup.New(store, clock, dedup.Config{}, nil)
	proc := processor.New(store, detector, clock, idGen, processor.Config{}, nil)
	backupSvc := backup.New(store, artifactmemory.New(), sha256.New(), clock, nil)
	orch := orchestrator.New(store, stubSearcher{}, proc, backupSvc, nil, clock, idGen, orchestrator.Config{}, nil)
	queue := taskqueue.New(store, orch, clock, idGen, taskqueue.Config{}, nil)

	return NewServer(store, queue, orch, proc, backupSvc, idGen, clock, cfg, nil), store
}

func doRequest(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, config.Config{})

	rec := doRequest(t, s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])

	rec = doRequest(t, s, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", decodeBody(t, rec)["status"])
}

func TestSubmitTask(t *testing.T) {
	t.Parallel()

	s, store := newTestServer(t, config.Config{})

	rec := doRequest(t, s, http.MethodPost, "/v1/tasks", `{"keywords":["bitcoin"," ethereum "],"priority":3}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	taskID, _ := body["task_id"].(string)
	jobID, _ := body["job_id"].(string)
	require.NotEmpty(t, taskID)
	require.NotEmpty(t, jobID)

	query, found, err := store.GetQuery(context.Background(), jobID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, harvest.QueryStatusPending, query.Status)
	assert.Equal(t, []string{"bitcoin", "ethereum"}, query.Keywords)

	rec = doRequest(t, s, http.MethodGet, "/v1/tasks/"+taskID, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/v1/queue/status", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decodeBody(t, rec)["pending"])
}

func TestSubmitTaskValidation(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, config.Config{})

	cases := []struct {
		name string
		body string
	}{
		{"invalid json", `{broken`},
		{"no keywords", `{"keywords":[]}`},
		{"blank keywords", `{"keywords":["  "]}`},
		{"priority out of range", `{"keywords":["x"],"priority":5}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doRequest(t, s, http.MethodPost, "/v1/tasks", tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestGetTaskNotFound(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, config.Config{})

	rec := doRequest(t, s, http.MethodGet, "/v1/tasks/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestJobStatus(t *testing.T) {
	t.Parallel()

	s, store := newTestServer(t, config.Config{})

	rec := doRequest(t, s, http.MethodGet, "/v1/jobs/missing/status", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	_, err := store.CreateQuery(context.Background(), harvest.SearchQuery{
		ID:     "job-1",
		Status: harvest.QueryStatusCompleted,
	})
	require.NoError(t, err)

	rec = doRequest(t, s, http.MethodGet, "/v1/jobs/job-1/status", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSources(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, config.Config{})

	rec := doRequest(t, s, http.MethodPost, "/v1/sources", `{"name":"Example","url":"https://news.example.com","kind":"rss"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doRequest(t, s, http.MethodPost, "/v1/sources", `{"name":"NoURL"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, s, http.MethodPost, "/v1/sources", `{"url":"https://x.example.com","kind":"carrier-pigeon"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/v1/sources", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decodeBody(t, rec)["count"])
}

func TestBackupLifecycle(t *testing.T) {
	t.Parallel()

	s, store := newTestServer(t, config.Config{})

	_, err := store.CreateArticle(context.Background(), harvest.Article{
		ID:        "a1",
		URL:       "https://news.example.com/a",
		CreatedAt: testNow.Add(-time.Hour),
		UpdatedAt: testNow.Add(-time.Hour),
	})
	require.NoError(t, err)

	rec := doRequest(t, s, http.MethodPost, "/v1/backups", `{"kind":"full","description":"test"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	snapshotID, _ := decodeBody(t, rec)["id"].(string)
	require.NotEmpty(t, snapshotID)

	rec = doRequest(t, s, http.MethodGet, "/v1/backups", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decodeBody(t, rec)["count"])

	rec = doRequest(t, s, http.MethodGet, "/v1/backups/"+snapshotID+"/verify", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["is_valid"])

	rec = doRequest(t, s, http.MethodPost, "/v1/backups", `{"kind":"weekly"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSystemMetrics(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, config.Config{})

	rec := doRequest(t, s, http.MethodGet, "/v1/system/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(0), decodeBody(t, rec)["total_articles"])
}

func TestNormalizeValidation(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, config.Config{})

	rec := doRequest(t, s, http.MethodPost, "/v1/maintenance/normalize?batch_size=-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, s, http.MethodPost, "/v1/maintenance/normalize", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPIKeyMiddleware(t *testing.T) {
	t.Parallel()

	cfg := config.Config{}
	cfg.Auth.Enabled = true
	cfg.Auth.APIKey = "secret"
	s, _ := newTestServer(t, cfg)

	rec := doRequest(t, s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-API-Key", "secret")
	out := httptest.NewRecorder()
	s.Handler().ServeHTTP(out, req)
	assert.Equal(t, http.StatusOK, out.Code)

	rec = doRequest(t, s, http.MethodGet, "/healthz?api_key=secret", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
