package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskflow-run/orchestrator/httpapi"
	"github.com/taskflow-run/orchestrator/transport"
	"github.com/taskflow-run/orchestrator/workflow"
)

type fakeEngine struct {
	startedTask string
	startedMeta map[string]any
	returnID    string
	snapshots   map[string]workflow.Workflow
	cancelled   []string
}

func (f *fakeEngine) Start(ctx context.Context, initialTask string, metadata map[string]any) string {
	f.startedTask = initialTask
	f.startedMeta = metadata
	return f.returnID
}

func (f *fakeEngine) Snapshot(workflowID string) (workflow.Workflow, bool) {
	wf, ok := f.snapshots[workflowID]
	return wf, ok
}

func (f *fakeEngine) Cancel(workflowID string) bool {
	f.cancelled = append(f.cancelled, workflowID)
	return true
}

type fakeBroadcaster struct {
	active []string
}

func (f *fakeBroadcaster) ActiveTasks() []string { return f.active }

type fakeManager struct {
	accepted []string
}

func (f *fakeManager) Accept(ctx context.Context, clientID string, sink transport.Sink) {
	f.accepted = append(f.accepted, clientID)
}
func (f *fakeManager) Disconnect(clientID string)                    {}
func (f *fakeManager) HandleClientMessage(clientID string, raw []byte) {}

type fakeFlow struct {
	startedTask string
	returnID    string
}

func (f *fakeFlow) Start(ctx context.Context, initialTask string, metadata map[string]any) string {
	f.startedTask = initialTask
	return f.returnID
}

func newTestServer() (*httpapi.Server, *fakeEngine, *fakeBroadcaster) {
	engine := &fakeEngine{returnID: "wf-123", snapshots: map[string]workflow.Workflow{}}
	b := &fakeBroadcaster{active: []string{"wf-1", "wf-2"}}
	m := &fakeManager{}
	return httpapi.New(engine, b, m, nil, "v1.0.0"), engine, b
}

func TestHandleSubmitMultiAgent_OnlyMountedWhenFlowProvided(t *testing.T) {
	engine := &fakeEngine{returnID: "wf-123", snapshots: map[string]workflow.Workflow{}}
	b := &fakeBroadcaster{}
	m := &fakeManager{}

	withoutFlow := httpapi.New(engine, b, m, nil, "v1.0.0")
	req := httptest.NewRequest(http.MethodPost, "/workflows/multi-agent", bytes.NewReader([]byte(`{"initial_task":"go"}`)))
	rec := httptest.NewRecorder()
	withoutFlow.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	flow := &fakeFlow{returnID: "task-1"}
	withFlow := httpapi.New(engine, b, m, nil, "v1.0.0", httpapi.WithMultiAgentFlow(flow))
	req2 := httptest.NewRequest(http.MethodPost, "/workflows/multi-agent", bytes.NewReader([]byte(`{"initial_task":"go"}`)))
	rec2 := httptest.NewRecorder()
	withFlow.ServeHTTP(rec2, req2)
	require.Equal(t, http.StatusAccepted, rec2.Code)
	assert.Equal(t, "go", flow.startedTask)
}

func TestHandleSubmit_AcceptsAndReturnsWorkflowID(t *testing.T) {
	s, engine, _ := newTestServer()
	body, _ := json.Marshal(map[string]any{"initial_task": "summarize the report"})
	req := httptest.NewRequest(http.MethodPost, "/workflows/simple", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "wf-123", resp["workflow_id"])
	assert.Equal(t, "accepted", resp["status"])
	assert.Equal(t, "summarize the report", engine.startedTask)
}

func TestHandleSubmit_RejectsMissingInitialTask(t *testing.T) {
	s, _, _ := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/workflows/simple", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()

	s.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleSnapshot_ReturnsWorkflowRecord(t *testing.T) {
	s, engine, _ := newTestServer()
	engine.snapshots["wf-9"] = workflow.Workflow{WorkflowID: "wf-9", Status: workflow.StatusCompleted, Plan: []workflow.Step{{Index: 1, Description: "do it"}}}
	req := httptest.NewRequest(http.MethodGet, "/workflows/wf-9", nil)
	rec := httptest.NewRecorder()

	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "wf-9", resp["workflow_id"])
	assert.Equal(t, "completed", resp["status"])
}

func TestHandleSnapshot_UnknownIDReturns404(t *testing.T) {
	s, _, _ := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/workflows/does-not-exist", nil)
	rec := httptest.NewRecorder()

	s.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleCancel_IsAcceptedAndIdempotent(t *testing.T) {
	s, engine, _ := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/workflows/wf-9/cancel", nil)
	rec := httptest.NewRecorder()

	s.ServeHTTP(rec, req)
	s.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/workflows/wf-9/cancel", nil))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"wf-9", "wf-9"}, engine.cancelled)
}

func TestHandleHealth_ReportsStatusAndVersion(t *testing.T) {
	s, _, _ := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/workflows/health", nil)
	rec := httptest.NewRecorder()

	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp["status"])
	assert.Equal(t, "v1.0.0", resp["version"])
}

func TestHandleActive_ListsActiveTaskIDs(t *testing.T) {
	s, _, _ := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/workflows/active", nil)
	rec := httptest.NewRecorder()

	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string][]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.ElementsMatch(t, []string{"wf-1", "wf-2"}, resp["active_tasks"])
}
