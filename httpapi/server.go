// Package httpapi exposes the orchestrator's submission and push
// subscription interfaces over HTTP and WebSocket. It is a thin transport
// layer: every handler translates a request into a call on the Workflow
// Engine, Progress Broadcaster, or Connection Manager and has no
// orchestration logic of its own.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/taskflow-run/orchestrator/telemetry"
	"github.com/taskflow-run/orchestrator/transport"
	"github.com/taskflow-run/orchestrator/workflow"
)

// Engine is the narrow capability the Server needs from the Workflow
// Engine: start a workflow asynchronously, read back its current state,
// and request cooperative cancellation.
type Engine interface {
	Start(ctx context.Context, initialTask string, metadata map[string]any) string
	Snapshot(workflowID string) (workflow.Workflow, bool)
	Cancel(workflowID string) bool
}

// Broadcaster is the narrow capability the Server needs from the Progress
// Broadcaster for the supplemental active-tasks introspection endpoint.
type Broadcaster interface {
	ActiveTasks() []string
}

// ConnectionManager is the narrow capability the Server needs from the
// Connection Manager to host the /ws/{client_id} push subscription
// endpoint.
type ConnectionManager interface {
	Accept(ctx context.Context, clientID string, sink transport.Sink)
	Disconnect(clientID string)
	HandleClientMessage(clientID string, raw []byte)
}

// MultiAgentFlow is the narrow capability the Server needs from the
// Multi-Agent Flow to host the supplemental POST /workflows/multi-agent
// entry point, which picks a strategy by complexity score instead of
// always running the Workflow Engine's fixed per-step loop.
type MultiAgentFlow interface {
	Start(ctx context.Context, initialTask string, metadata map[string]any) string
}

// Server wires the submission interface (§6), the push subscription
// interface, and the supplemental active-tasks and multi-agent endpoints
// onto a single http.Handler.
type Server struct {
	engine      Engine
	broadcaster Broadcaster
	manager     ConnectionManager
	flow        MultiAgentFlow
	logger      telemetry.Logger
	version     string
	mux         *http.ServeMux
}

// Option configures a Server at construction time.
type Option func(*Server)

// WithMultiAgentFlow registers the supplemental POST /workflows/multi-agent
// route. Without this option the route is not mounted.
func WithMultiAgentFlow(flow MultiAgentFlow) Option {
	return func(s *Server) { s.flow = flow }
}

// New constructs a Server and registers every route. version is reported
// verbatim by GET /workflows/health.
func New(engine Engine, broadcaster Broadcaster, manager ConnectionManager, logger telemetry.Logger, version string, opts ...Option) *Server {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	s := &Server{engine: engine, broadcaster: broadcaster, manager: manager, logger: logger, version: version, mux: http.NewServeMux()}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /workflows/simple", s.handleSubmit)
	s.mux.HandleFunc("GET /workflows/active", s.handleActive)
	s.mux.HandleFunc("GET /workflows/health", s.handleHealth)
	s.mux.HandleFunc("GET /workflows/{id}", s.handleSnapshot)
	s.mux.HandleFunc("POST /workflows/{id}/cancel", s.handleCancel)
	s.mux.HandleFunc("GET /ws/{client_id}", s.handleWebSocket)
	if s.flow != nil {
		s.mux.HandleFunc("POST /workflows/multi-agent", s.handleSubmitMultiAgent)
	}
}

type submitRequest struct {
	InitialTask string         `json:"initial_task"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type submitResponse struct {
	WorkflowID string `json:"workflow_id"`
	Status     string `json:"status"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.InitialTask == "" {
		writeError(w, http.StatusBadRequest, "initial_task is required")
		return
	}
	workflowID := s.engine.Start(r.Context(), req.InitialTask, req.Metadata)
	writeJSON(w, http.StatusAccepted, submitResponse{WorkflowID: workflowID, Status: "accepted"})
}

func (s *Server) handleSubmitMultiAgent(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.InitialTask == "" {
		writeError(w, http.StatusBadRequest, "initial_task is required")
		return
	}
	taskID := s.flow.Start(r.Context(), req.InitialTask, req.Metadata)
	writeJSON(w, http.StatusAccepted, submitResponse{WorkflowID: taskID, Status: "accepted"})
}

type snapshotResponse struct {
	WorkflowID   string              `json:"workflow_id"`
	Status       workflow.Status     `json:"status"`
	Plan         []workflow.Step     `json:"plan,omitempty"`
	Results      []workflow.StepResult `json:"results,omitempty"`
	StartedAt    time.Time           `json:"started_at"`
	CompletedAt  *time.Time          `json:"completed_at,omitempty"`
	ErrorKind    workflow.ErrorKind  `json:"error_kind,omitempty"`
	ErrorMessage string              `json:"error_message,omitempty"`
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	wf, ok := s.engine.Snapshot(id)
	if !ok {
		writeError(w, http.StatusNotFound, "workflow not found")
		return
	}
	writeJSON(w, http.StatusOK, snapshotResponse{
		WorkflowID: wf.WorkflowID, Status: wf.Status, Plan: wf.Plan, Results: wf.Results,
		StartedAt: wf.CreatedAt, CompletedAt: wf.CompletedAt,
		ErrorKind: wf.ErrorKind, ErrorMessage: wf.ErrorMessage,
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.engine.Cancel(id)
	writeJSON(w, http.StatusAccepted, map[string]string{"workflow_id": id, "status": "accepted"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "version": s.version})
}

func (s *Server) handleActive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"active_tasks": s.broadcaster.ActiveTasks()})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	clientID := r.PathValue("client_id")
	if clientID == "" {
		writeError(w, http.StatusBadRequest, "client_id is required")
		return
	}
	conn, err := transport.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn(r.Context(), "httpapi: websocket upgrade failed", "client_id", clientID, "error", err.Error())
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	sink := transport.NewWebSocketSink(conn)
	s.manager.Accept(ctx, clientID, sink)
	transport.ReadClientMessages(ctx, conn, func(raw []byte) {
		s.manager.HandleClientMessage(clientID, raw)
	})
	cancel()
	s.manager.Disconnect(clientID)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
