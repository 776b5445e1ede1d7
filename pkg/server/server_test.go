package server

import (
	"encoding/json"
	"errors"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/histsync/histsync/pkg/daemon"
	"github.com/histsync/histsync/pkg/logbuf"
)

type fakeController struct {
	status daemon.Status

	initErr  error
	syncErr  error
	pullErr  error
	pushErr  error
	written  int
	trackErr error

	targets  []string
	excludes []string
	setErr   error

	calls []string
}

func (f *fakeController) Status() daemon.Status { return f.status }

func (f *fakeController) Init() error {
	f.calls = append(f.calls, "Init")
	return f.initErr
}

func (f *fakeController) SyncOnce() error {
	f.calls = append(f.calls, "SyncOnce")
	return f.syncErr
}

func (f *fakeController) Pull() error {
	f.calls = append(f.calls, "Pull")
	return f.pullErr
}

func (f *fakeController) Push() error {
	f.calls = append(f.calls, "Push")
	return f.pushErr
}

func (f *fakeController) Relink() error {
	f.calls = append(f.calls, "Relink")
	return nil
}

func (f *fakeController) TrackEmpty() (int, error) {
	f.calls = append(f.calls, "TrackEmpty")
	return f.written, f.trackErr
}

func (f *fakeController) SetTargets(targets []string) error {
	f.targets = targets
	return f.setErr
}

func (f *fakeController) SetExcludes(excludes []string) error {
	f.excludes = excludes
	return f.setErr
}

func do(t *testing.T, controller *fakeController, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	New(controller).Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	return payload
}

func TestStatusEndpoint(t *testing.T) {
	controller := &fakeController{status: daemon.Status{
		Branch:  "main",
		State:   "SYNC_LOOP",
		Targets: []string{"data/"},
	}}

	rec := do(t, controller, http.MethodGet, "/sync/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	payload := decode(t, rec)
	assert.Equal(t, "main", payload["branch"])
	assert.Equal(t, "SYNC_LOOP", payload["state"])
}

func TestOneShotEndpoints(t *testing.T) {
	tests := []struct {
		path string
		call string
	}{
		{path: "/sync/api/init", call: "Init"},
		{path: "/sync/api/sync-now", call: "SyncOnce"},
		{path: "/sync/api/pull", call: "Pull"},
		{path: "/sync/api/push", call: "Push"},
		{path: "/sync/api/relink", call: "Relink"},
	}

	for _, test := range tests {
		test := test
		t.Run(test.path, func(t *testing.T) {
			controller := &fakeController{}
			rec := do(t, controller, http.MethodPost, test.path, "")
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, true, decode(t, rec)["ok"])
			assert.Equal(t, []string{test.call}, controller.calls)
		})
	}
}

func TestOneShotReportsFailure(t *testing.T) {
	controller := &fakeController{pullErr: errors.New("no route to host")}

	rec := do(t, controller, http.MethodPost, "/sync/api/pull", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	payload := decode(t, rec)
	assert.Equal(t, false, payload["ok"])
	assert.Equal(t, "no route to host", payload["error"])
}

func TestTrackEmptyReportsCount(t *testing.T) {
	controller := &fakeController{written: 4}

	rec := do(t, controller, http.MethodPost, "/sync/api/track-empty", "")
	require.Equal(t, http.StatusOK, rec.Code)

	payload := decode(t, rec)
	assert.Equal(t, true, payload["ok"])
	assert.Equal(t, float64(4), payload["written"])
}

func TestTargetsRoundTrip(t *testing.T) {
	controller := &fakeController{status: daemon.Status{
		Targets: []string{"data/", "etc/app.conf"},
	}}

	rec := do(t, controller, http.MethodGet, "/sync/api/targets", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t,
		[]interface{}{"data/", "etc/app.conf"},
		decode(t, rec)["targets"])

	rec = do(t, controller, http.MethodPost, "/sync/api/targets",
		`{"targets": ["logs/"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"logs/"}, controller.targets)
}

func TestExcludesPost(t *testing.T) {
	controller := &fakeController{}

	rec := do(t, controller, http.MethodPost, "/sync/api/excludes",
		`{"excludes": ["data/cache"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"data/cache"}, controller.excludes)
}

func TestMalformedBodyRejected(t *testing.T) {
	controller := &fakeController{}

	rec := do(t, controller, http.MethodPost, "/sync/api/targets", `{"targets": `)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Nil(t, controller.targets)
}

func TestMethodNotAllowed(t *testing.T) {
	tests := []struct {
		method string
		path   string
	}{
		{method: http.MethodPost, path: "/sync/api/status"},
		{method: http.MethodGet, path: "/sync/api/init"},
		{method: http.MethodGet, path: "/sync/api/track-empty"},
		{method: http.MethodDelete, path: "/sync/api/targets"},
	}

	for _, test := range tests {
		test := test
		t.Run(test.method+" "+test.path, func(t *testing.T) {
			controller := &fakeController{}
			rec := do(t, controller, test.method, test.path, "")
			assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
			assert.Empty(t, controller.calls)
		})
	}
}

func TestLogEndpoint(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(ioutil.Discard)
	logger.AddHook(logbuf.Buffer)
	logger.Warn("push failed")

	rec := do(t, &fakeController{}, http.MethodGet, "/sync/api/log", "")
	require.Equal(t, http.StatusOK, rec.Code)

	entries, ok := decode(t, rec)["entries"].([]interface{})
	require.True(t, ok)
	require.NotEmpty(t, entries)
	last := entries[len(entries)-1].(map[string]interface{})
	assert.Equal(t, "push failed", last["message"])
}

func TestStatusPageRenders(t *testing.T) {
	controller := &fakeController{status: daemon.Status{
		Branch: "main",
		State:  "SYNC_LOOP",
	}}

	rec := do(t, controller, http.MethodGet, "/sync/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "SYNC_LOOP")
}
