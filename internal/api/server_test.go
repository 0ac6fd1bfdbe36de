package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/docweave/internal/graph"
	"github.com/ShayCichocki/docweave/internal/orchestrator"
	"github.com/ShayCichocki/docweave/internal/registry"
	"github.com/ShayCichocki/docweave/internal/state"
	"github.com/ShayCichocki/docweave/pkg/models"
)

type fakeEngine struct {
	mu        sync.Mutex
	submitted []string
	params    []models.Params
	cancelled []string
	filter    state.RequestFilter
	submitErr error
	statuses  map[string]*models.RequestStatus
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{statuses: make(map[string]*models.RequestStatus)}
}

func (f *fakeEngine) Submit(ctx context.Context, requestType string, params models.Params) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return "", f.submitErr
	}
	id := fmt.Sprintf("req-%d", len(f.submitted)+1)
	f.submitted = append(f.submitted, requestType)
	f.params = append(f.params, params)
	f.statuses[id] = &models.RequestStatus{ID: id, Type: requestType, State: models.RequestStateSucceeded}
	return id, nil
}

func (f *fakeEngine) GetStatus(ctx context.Context, id string) (*models.RequestStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.statuses[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", orchestrator.ErrRequestNotFound, id)
	}
	return st, nil
}

func (f *fakeEngine) Wait(ctx context.Context, id string) (*models.RequestStatus, error) {
	return f.GetStatus(ctx, id)
}

func (f *fakeEngine) Cancel(ctx context.Context, id string) error {
	if _, err := f.GetStatus(ctx, id); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, id)
	return nil
}

func (f *fakeEngine) List(ctx context.Context, filter state.RequestFilter) ([]models.Request, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filter = filter
	return nil, nil
}

func (f *fakeEngine) Count() int { return 0 }

// locked runs fn while holding the engine lock, for reads and writes made
// by the test goroutine.
func (f *fakeEngine) locked(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn()
}

type staticTypes []registry.RequestType

func (s staticTypes) Types() []registry.RequestType { return s }

func newTestServer(t *testing.T, eng Engine) *httptest.Server {
	t.Helper()
	log, _ := test.NewNullLogger()
	srv := httptest.NewServer(NewServer(eng, staticTypes{{Name: "report"}}, log).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func get(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestServer_Health(t *testing.T) {
	srv := newTestServer(t, newFakeEngine())
	resp := get(t, srv.URL+"/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", decodeBody[map[string]any](t, resp)["status"])
}

func TestServer_Submit(t *testing.T) {
	eng := newFakeEngine()
	srv := newTestServer(t, eng)

	resp := postJSON(t, srv.URL+"/v1/requests", `{"type":"report","params":{"topic":"tides"}}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "req-1", decodeBody[SubmitResponse](t, resp).ID)
	eng.locked(func() {
		assert.Equal(t, []string{"report"}, eng.submitted)
		assert.Equal(t, "tides", eng.params[0]["topic"])
	})

	resp = postJSON(t, srv.URL+"/v1/requests", `{"type":"report","wait":true}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody[SubmitResponse](t, resp)
	require.NotNil(t, body.Status)
	assert.Equal(t, models.RequestStateSucceeded, body.Status.State)
}

func TestServer_SubmitErrors(t *testing.T) {
	eng := newFakeEngine()
	srv := newTestServer(t, eng)

	tests := []struct {
		name   string
		body   string
		err    error
		status int
		reason string
	}{
		{"malformed body", `{"type":`, nil, http.StatusBadRequest, ""},
		{"unknown field", `{"type":"report","colour":"red"}`, nil, http.StatusBadRequest, ""},
		{"missing type", `{"params":{}}`, nil, http.StatusBadRequest, ""},
		{"invalid graph", `{"type":"nope"}`,
			&graph.InvalidGraphError{Reason: graph.ReasonUnknownRequestType, Detail: "no request type named nope"},
			http.StatusBadRequest, string(graph.ReasonUnknownRequestType)},
		{"engine stopped", `{"type":"report"}`, orchestrator.ErrEngineStopped, http.StatusServiceUnavailable, ""},
		{"store failure", `{"type":"report"}`, errors.New("disk full"), http.StatusInternalServerError, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng.locked(func() { eng.submitErr = tt.err })
			resp := postJSON(t, srv.URL+"/v1/requests", tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			body := decodeBody[ErrorResponse](t, resp)
			assert.NotEmpty(t, body.Error)
			assert.Equal(t, tt.reason, body.Reason)
		})
	}
}

func TestServer_StatusAndCancel(t *testing.T) {
	eng := newFakeEngine()
	srv := newTestServer(t, eng)
	postJSON(t, srv.URL+"/v1/requests", `{"type":"report"}`)

	resp := get(t, srv.URL+"/v1/requests/req-1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "report", decodeBody[models.RequestStatus](t, resp).Type)

	assert.Equal(t, http.StatusNotFound, get(t, srv.URL+"/v1/requests/missing").StatusCode)

	resp = postJSON(t, srv.URL+"/v1/requests/req-1/cancel", "")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	eng.locked(func() { assert.Equal(t, []string{"req-1"}, eng.cancelled) })

	resp = postJSON(t, srv.URL+"/v1/requests/missing/cancel", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_List(t *testing.T) {
	eng := newFakeEngine()
	srv := newTestServer(t, eng)

	resp := get(t, srv.URL+"/v1/requests?type=report&state=failed,interrupted&limit=5")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decodeBody[[]models.Request](t, resp))
	eng.locked(func() {
		assert.Equal(t, state.RequestFilter{
			Type:   "report",
			States: []models.RequestState{models.RequestStateFailed, models.RequestStateInterrupted},
			Limit:  5,
		}, eng.filter)
	})

	assert.Equal(t, http.StatusBadRequest, get(t, srv.URL+"/v1/requests?state=sleeping").StatusCode)
	assert.Equal(t, http.StatusBadRequest, get(t, srv.URL+"/v1/requests?limit=-1").StatusCode)
}

func TestServer_RequestTypes(t *testing.T) {
	srv := newTestServer(t, newFakeEngine())
	resp := get(t, srv.URL+"/v1/request-types")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	types := decodeBody[[]registry.RequestType](t, resp)
	require.Len(t, types, 1)
	assert.Equal(t, "report", types[0].Name)
}

func TestServer_MethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, newFakeEngine())
	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/v1/requests", bytes.NewReader(nil))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestServer_ServeShutsDownOnCancel(t *testing.T) {
	log, _ := test.NewNullLogger()
	s := NewServer(newFakeEngine(), staticTypes{}, log)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(ShutdownTimeout):
		t.Fatal("server did not shut down")
	}
}

func TestLogEvents(t *testing.T) {
	log, hook := test.NewNullLogger()
	events := make(chan orchestrator.Event, 3)
	events <- orchestrator.Event{Type: orchestrator.EventRequestStarted, RequestID: "r1"}
	events <- orchestrator.Event{Type: orchestrator.EventTaskFailed, RequestID: "r1", Task: "intro", Attempt: 2, Error: "boom"}
	events <- orchestrator.Event{Type: orchestrator.EventTaskReady, RequestID: "r1", Task: "body"}
	close(events)

	LogEvents(events, log)

	entries := hook.AllEntries()
	require.Len(t, entries, 2, "debug entries are filtered at info level")
	assert.Equal(t, "request_started", entries[0].Message)
	assert.Equal(t, "intro", entries[1].Data["task"])
	assert.Equal(t, "boom", entries[1].Data["error"])
}
