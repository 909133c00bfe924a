package client

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/kilnproject/kiln/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFastClient(baseURL string) *Client {
	c := New(baseURL)
	c.policy = Policy{MaxAttempts: 3, Backoff: 0}
	return c
}

func TestGetMyJobs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/jobs/mine/n1", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"jobs": []*types.Job{
				types.NewJob(types.Job{Name: "one", Worker: "n1", Status: types.StatusReadyToStart}),
			},
		})
	}))
	defer server.Close()

	jobs, err := newFastClient(server.URL).GetMyJobs("n1")
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "one", jobs[0].Name)
	assert.Equal(t, types.StatusReadyToStart, jobs[0].Status)
}

func TestGetMyJobsRetriesOnServerError(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"jobs": []*types.Job{}})
	}))
	defer server.Close()

	jobs, err := newFastClient(server.URL).GetMyJobs("n1")
	require.NoError(t, err)
	assert.Empty(t, jobs)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestGetMyJobsReturnsErrorWhenExhausted(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := newFastClient(server.URL).GetMyJobs("n1")
	assert.Error(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestAddJobPostsPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/post", r.URL.Path)

		var partial types.Job
		require.NoError(t, json.NewDecoder(r.Body).Decode(&partial))
		assert.Equal(t, "submitted", partial.Name)

		json.NewEncoder(w).Encode(types.NewJob(partial))
	}))
	defer server.Close()

	job, err := newFastClient(server.URL).AddJob(types.Job{Name: "submitted"})
	require.NoError(t, err)
	assert.Equal(t, "submitted", job.Name)
	assert.Len(t, job.UID, 8)
}

// Heartbeats are fire-and-forget: a down server must not surface an
// error to the caller.
func TestSendHeartbeatSwallowsFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer server.Close()

	c := newFastClient(server.URL)
	c.SendHeartbeat(types.Heartbeat{WorkerName: "n1", Status: types.WorkerIdle})
}

func TestSendHeartbeatIsNotRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer server.Close()

	newFastClient(server.URL).SendHeartbeat(types.Heartbeat{WorkerName: "n1"})
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestUpdateJobReturnsNilOnFailure(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "conflict", http.StatusBadRequest)
	}))
	defer server.Close()

	progress := 50.0
	job := newFastClient(server.URL).UpdateJob("abc12345", types.JobUpdate{Progress: &progress})
	assert.Nil(t, job)
	// Status updates are not retried
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestUpdateJobSendsOnlyProvidedFields(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)

		var raw map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		assert.Equal(t, float64(75), raw["progress"])
		assert.Nil(t, raw["status"])

		json.NewEncoder(w).Encode(types.NewJob(types.Job{UID: "abc12345", Progress: 75}))
	}))
	defer server.Close()

	progress := 75.0
	job := newFastClient(server.URL).UpdateJob("abc12345", types.JobUpdate{Progress: &progress})
	require.NotNil(t, job)
	assert.Equal(t, 75, job.Progress)
}

func TestRemoveJob(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/api/delete/abc12345", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]bool{"ok": true})
	}))
	defer server.Close()

	assert.NoError(t, newFastClient(server.URL).RemoveJob("abc12345"))
}

func TestReportErrorPostsRecord(t *testing.T) {
	var got types.ErrorReport
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/worker/error", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(map[string]bool{"ok": true})
	}))
	defer server.Close()

	newFastClient(server.URL).ReportError("n1", "renderer crashed", "abc12345")
	assert.Equal(t, "n1", got.Worker)
	assert.Equal(t, "renderer crashed", got.Message)
	assert.Equal(t, "abc12345", got.JobUID)
}
