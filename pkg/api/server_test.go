package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/choir-run/choir/pkg/eventbus"
	"github.com/choir-run/choir/pkg/eventlog"
	"github.com/choir-run/choir/pkg/harness"
	"github.com/choir-run/choir/pkg/signals"
	"github.com/choir-run/choir/pkg/supervisor"
	"github.com/choir-run/choir/pkg/writer"
)

type stubRouter struct{}

func (stubRouter) Route(actorID string) (*harness.Harness, harness.Input, bool) {
	return nil, harness.Input{}, false
}

func newTestServer(t *testing.T) (*Server, *httptest.Server, eventlog.Store) {
	t.Helper()
	events := eventlog.NewMemoryStore()
	bus := eventbus.New()
	writerRt := writer.NewRuntime(t.TempDir(), nil, nil)
	sup := supervisor.NewApplicationSupervisor(events, bus)
	policy := signals.NewPolicy(2, 1, 1, 8, 0.5, time.Minute, time.Minute)

	s := NewServer(events, bus, writerRt, stubRouter{}, sup, policy)
	ts := httptest.NewServer(s.engine)
	t.Cleanup(ts.Close)
	return s, ts, events
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealthHandlerReportsDegradedBeforeSupervisorStarted(t *testing.T) {
	_, ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestWriterOpenThenSaveThenVersions(t *testing.T) {
	_, ts, _ := newTestServer(t)

	openResp := postJSON(t, ts.URL+"/writer/open", writerOpenRequest{RunID: "run-1", Objective: "investigate"})
	assert.Equal(t, http.StatusOK, openResp.StatusCode)

	saveResp := postJSON(t, ts.URL+"/writer/save", writerSaveRequest{
		RunID: "run-1", Author: writer.AuthorWriter, SectionID: writer.SectionConductor,
		Ops: []writer.PatchOp{{Kind: writer.OpAppend, Text: "notes"}},
	})
	require.Equal(t, http.StatusOK, saveResp.StatusCode)
	var applyResult writer.ApplyResult
	require.NoError(t, json.NewDecoder(saveResp.Body).Decode(&applyResult))
	assert.Equal(t, 1, applyResult.LinesModified)

	versionsResp := postJSON(t, ts.URL+"/writer/versions", writerVersionsRequest{RunID: "run-1"})
	assert.Equal(t, http.StatusOK, versionsResp.StatusCode)
}

func TestWriterSaveUnknownRunReturns404(t *testing.T) {
	_, ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/writer/save", writerSaveRequest{
		RunID: "never-opened", Author: writer.AuthorWriter,
		Ops: []writer.PatchOp{{Kind: writer.OpAppend, Text: "x"}},
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestConductorRunsListReflectsOpenedRuns(t *testing.T) {
	_, ts, _ := newTestServer(t)

	postJSON(t, ts.URL+"/writer/open", writerOpenRequest{RunID: "run-a"})
	postJSON(t, ts.URL+"/writer/open", writerOpenRequest{RunID: "run-b"})

	resp, err := http.Post(ts.URL+"/conductor/runs/list", "application/json", bytes.NewReader([]byte("{}")))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		RunIDs []string `json:"run_ids"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.ElementsMatch(t, []string{"run-a", "run-b"}, body.RunIDs)
}

func TestConductorRunStatusAppendsEvent(t *testing.T) {
	_, ts, events := newTestServer(t)

	resp := postJSON(t, ts.URL+"/conductor/runs/run-1/status", conductorRunStatusRequest{Status: "running", Message: "started"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	evts, err := events.Query(context.Background(), 0, 0, eventlog.Filter{EventType: "conductor.run.status"})
	require.NoError(t, err)
	require.Len(t, evts, 1)
}

func TestLogsEventsAndLatestSeq(t *testing.T) {
	_, ts, events := newTestServer(t)

	e, err := eventlog.NewEvent("worker.task.started", "actor-1", "", nil)
	require.NoError(t, err)
	_, err = events.Append(context.Background(), e)
	require.NoError(t, err)

	seqResp, err := http.Get(ts.URL + "/logs/latest_seq")
	require.NoError(t, err)
	defer seqResp.Body.Close()
	var seqBody struct {
		Seq int64 `json:"seq"`
	}
	require.NoError(t, json.NewDecoder(seqResp.Body).Decode(&seqBody))
	assert.Equal(t, int64(1), seqBody.Seq)

	listResp, err := http.Get(ts.URL + "/logs/events")
	require.NoError(t, err)
	defer listResp.Body.Close()
	assert.Equal(t, http.StatusOK, listResp.StatusCode)
}
