package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kilnproject/kiln/pkg/coordinator"
	"github.com/kilnproject/kiln/pkg/events"
	"github.com/kilnproject/kiln/pkg/storage"
	"github.com/kilnproject/kiln/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWatchdog struct{ running bool }

func (f *fakeWatchdog) Running() bool { return f.running }

type testServer struct {
	server *Server
	coord  *coordinator.Coordinator
	store  *storage.BoltStore
	dir    string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	dir := t.TempDir()
	store, err := storage.NewBoltStore(dir)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(func() { broker.Stop() })

	coord := coordinator.New(store, broker, 30*time.Second)
	server := NewServer(coord, &fakeWatchdog{running: true}, broker, dir, false)

	return &testServer{server: server, coord: coord, store: store, dir: dir}
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	return m
}

func (ts *testServer) createJob(t *testing.T, body string) string {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/post", body)
	require.Equal(t, http.StatusOK, rec.Code)
	return decode(t, rec)["uid"].(string)
}

func (ts *testServer) heartbeat(t *testing.T, name string) {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/worker/heartbeat",
		fmt.Sprintf(`{"worker_name": %q, "status": "idle"}`, name))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthReturnsStatus(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, float64(0), body["workers_online"])
	assert.Equal(t, true, body["watchdog_running"])
}

func TestCreateJobWithoutWorkers(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/post", `{"name": "a", "umap_path": "/Game/Maps/X"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "", body["worker"])
	assert.Equal(t, "un-assigned", body["status"])
	assert.Equal(t, "a", body["name"])
	assert.Len(t, body["uid"].(string), 8)
}

func TestCreateJobAssignsHeartbeatingWorker(t *testing.T) {
	ts := newTestServer(t)
	ts.heartbeat(t, "n1")

	rec := ts.do(t, http.MethodPost, "/api/post", `{"name": "b", "umap_path": "/Game/Maps/X"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "n1", body["worker"])
	assert.Equal(t, "ready to start", body["status"])
}

func TestGetJob(t *testing.T) {
	ts := newTestServer(t)
	uid := ts.createJob(t, `{"name": "fetchme"}`)

	rec := ts.do(t, http.MethodGet, "/api/get/"+uid, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "fetchme", decode(t, rec)["name"])
}

func TestGetNonexistentJobReturns404(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/get/nope1234", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "job not found", decode(t, rec)["error"])
}

func TestGetAllJobs(t *testing.T) {
	ts := newTestServer(t)
	ts.createJob(t, `{"name": "one"}`)
	ts.createJob(t, `{"name": "two"}`)

	rec := ts.do(t, http.MethodGet, "/api/get", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["results"], 2)
}

func TestGetMyJobs(t *testing.T) {
	ts := newTestServer(t)
	ts.heartbeat(t, "n1")
	ts.createJob(t, `{"name": "mine"}`)
	ts.createJob(t, `{"name": "nobody", "worker": "other"}`)

	rec := ts.do(t, http.MethodGet, "/api/jobs/mine/n1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	jobs := decode(t, rec)["jobs"].([]interface{})
	require.Len(t, jobs, 1)
	assert.Equal(t, "mine", jobs[0].(map[string]interface{})["name"])
}

func TestUpdateJob(t *testing.T) {
	ts := newTestServer(t)
	uid := ts.createJob(t, `{"name": "up", "status": "ready to start", "worker": "n1"}`)

	rec := ts.do(t, http.MethodPut, "/api/put/"+uid,
		`{"status": "in progress", "progress": 10, "started_at": "2026-08-01T10:00:00Z"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "in progress", body["status"])
	assert.Equal(t, float64(10), body["progress"])
	assert.Equal(t, "2026-08-01T10:00:00Z", body["started_at"])
}

func TestUpdateNonexistentJobReturns404(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPut, "/api/put/nope1234", `{"progress": 10}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInvalidTransitionReturns400(t *testing.T) {
	ts := newTestServer(t)
	uid := ts.createJob(t, `{"name": "done", "status": "finished", "worker": "n1"}`)

	rec := ts.do(t, http.MethodPut, "/api/put/"+uid, `{"status": "in progress"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "invalid state transition", body["error"])
	assert.Equal(t, "finished", body["current_status"])
	assert.Equal(t, "in progress", body["requested_status"])
	assert.Equal(t, []interface{}{}, body["allowed_transitions"])
}

func TestErrorResponseIncludesAllowedTransitions(t *testing.T) {
	ts := newTestServer(t)
	uid := ts.createJob(t, `{"name": "err", "status": "errored", "worker": "n1"}`)

	rec := ts.do(t, http.MethodPut, "/api/put/"+uid, `{"status": "in progress"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	allowed := decode(t, rec)["allowed_transitions"].([]interface{})
	assert.ElementsMatch(t, []interface{}{"ready to start", "failed"}, allowed)
}

func TestLegacyPlaintextUpdateBody(t *testing.T) {
	ts := newTestServer(t)
	uid := ts.createJob(t, `{"name": "legacy", "status": "in progress", "worker": "n1"}`)

	req := httptest.NewRequest(http.MethodPut, "/api/put/"+uid,
		strings.NewReader("42.5;1h:2m:3s;in progress"))
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, float64(42), body["progress"])
	assert.Equal(t, "1h:2m:3s", body["time_estimate"])
	assert.Equal(t, "in progress", body["status"])
}

func TestCancelJob(t *testing.T) {
	ts := newTestServer(t)
	uid := ts.createJob(t, `{"name": "c", "status": "in progress", "worker": "n1"}`)

	rec := ts.do(t, http.MethodPost, "/api/cancel/"+uid, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cancelled", decode(t, rec)["status"])
}

func TestCancelNonexistentReturns404(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/cancel/nope1234", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRetryErroredJob(t *testing.T) {
	ts := newTestServer(t)
	uid := ts.createJob(t, `{"name": "r", "status": "errored", "worker": "n1"}`)

	rec := ts.do(t, http.MethodPost, "/api/retry/"+uid, "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "ready to start", body["status"])
	assert.Equal(t, float64(1), body["retry_count"])
}

func TestRetryInProgressFails(t *testing.T) {
	ts := newTestServer(t)
	uid := ts.createJob(t, `{"name": "ri", "status": "in progress", "worker": "n1"}`)

	rec := ts.do(t, http.MethodPost, "/api/retry/"+uid, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], "can only retry")
}

func TestMaxRetriesExceeded(t *testing.T) {
	ts := newTestServer(t)
	uid := ts.createJob(t, fmt.Sprintf(
		`{"name": "spent", "status": "errored", "worker": "n1", "retry_count": %d}`,
		types.MaxRetries))

	rec := ts.do(t, http.MethodPost, "/api/retry/"+uid, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], "max retries")

	// The stored job is now failed
	stored := ts.do(t, http.MethodGet, "/api/get/"+uid, "")
	assert.Equal(t, "failed", decode(t, stored)["status"])
}

func TestDeleteJob(t *testing.T) {
	ts := newTestServer(t)
	uid := ts.createJob(t, `{"name": "del"}`)

	rec := ts.do(t, http.MethodDelete, "/api/delete/"+uid, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["ok"])

	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/get/"+uid, "").Code)
}

func TestDeleteAllJobs(t *testing.T) {
	ts := newTestServer(t)
	ts.createJob(t, `{"name": "one"}`)
	ts.createJob(t, `{"name": "two"}`)

	rec := ts.do(t, http.MethodDelete, "/api/delete-all", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, float64(2), body["deleted"])
}

func TestHeartbeatRequiresWorkerName(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/worker/heartbeat", `{"status": "idle"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "worker_name required", decode(t, rec)["error"])
}

func TestGetWorkers(t *testing.T) {
	ts := newTestServer(t)
	ts.heartbeat(t, "n1")

	rec := ts.do(t, http.MethodGet, "/api/workers", "")
	require.Equal(t, http.StatusOK, rec.Code)

	workers := decode(t, rec)["workers"].([]interface{})
	require.Len(t, workers, 1)
	worker := workers[0].(map[string]interface{})
	assert.Equal(t, "n1", worker["name"])
	assert.Equal(t, true, worker["online"])
}

func TestWorkerErrorAndErrorLog(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/worker/error",
		`{"worker": "n1", "message": "render exploded", "job_uid": "abc12345"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/errors", "")
	require.Equal(t, http.StatusOK, rec.Code)
	errs := decode(t, rec)["errors"].([]interface{})
	require.Len(t, errs, 1)
	record := errs[0].(map[string]interface{})
	assert.Equal(t, "render exploded", record["message"])
	assert.Equal(t, "abc12345", record["job_uid"])

	rec = ts.do(t, http.MethodDelete, "/api/errors", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/errors", "")
	assert.Len(t, decode(t, rec)["errors"], 0)
}

func TestDashboardReturnsAggregates(t *testing.T) {
	ts := newTestServer(t)
	ts.heartbeat(t, "n1")
	ts.createJob(t, `{"name": "d1"}`)

	rec := ts.do(t, http.MethodGet, "/api/dashboard", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	workers := body["workers"].(map[string]interface{})
	jobs := body["jobs"].(map[string]interface{})

	assert.Equal(t, float64(1), workers["total"])
	assert.Equal(t, float64(1), workers["online"])
	assert.Equal(t, float64(1), jobs["total"])
	assert.Contains(t, body, "recent_errors")
	assert.Equal(t, float64(1), jobs["by_status"].(map[string]interface{})["ready to start"])
}

func TestSubmitProject(t *testing.T) {
	ts := newTestServer(t)
	ts.heartbeat(t, "n1")

	project := `{"name": "demo", "map": "/Game/Maps/M", "config": "/Game/Presets/P",
		"sequences": ["/Game/Seqs/Shot010.Shot010", "/Game/Seqs/Shot020.Shot020"]}`
	require.NoError(t, os.WriteFile(filepath.Join(ts.dir, "demo.json"), []byte(project), 0644))

	rec := ts.do(t, http.MethodPost, "/api/submit/demo.json", "")
	require.Equal(t, http.StatusOK, rec.Code)

	submitted := decode(t, rec)["submitted"].([]interface{})
	assert.Len(t, submitted, 2)

	all := ts.do(t, http.MethodGet, "/api/get", "")
	results := decode(t, all)["results"].([]interface{})
	require.Len(t, results, 2)
	first := results[0].(map[string]interface{})
	assert.Contains(t, []interface{}{"Shot010", "Shot020"}, first["name"])
	assert.Equal(t, "/Game/Maps/M", first["umap_path"])
}

func TestSubmitUnknownProjectReturns404(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/submit/ghost.json", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEventsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.createJob(t, `{"name": "evt"}`)

	// The broker consumes the publish asynchronously
	time.Sleep(50 * time.Millisecond)

	rec := ts.do(t, http.MethodGet, "/api/events", "")
	require.Equal(t, http.StatusOK, rec.Code)
	events := decode(t, rec)["events"].([]interface{})
	assert.NotEmpty(t, events)
}

func TestMetricsExposition(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "kiln_workers_total")
}
