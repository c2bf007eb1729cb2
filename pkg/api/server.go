// Package api exposes the HTTP/WS surface of spec §6: event log
// tailing, writer runtime operations, conductor run status, and a chat
// WebSocket that drives a worker harness and streams its trace back to
// the client.
//
// Grounded on the teacher's cmd/tarsy/main.go (gin router wiring) and
// pkg/api/handler_ws.go (coder/websocket upgrade inside a gin/echo
// handler); generalized from TARSy's session/alert endpoints to choir's
// log/writer/conductor endpoints.
package api

import (
	"context"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/choir-run/choir/pkg/eventbus"
	"github.com/choir-run/choir/pkg/eventlog"
	"github.com/choir-run/choir/pkg/harness"
	"github.com/choir-run/choir/pkg/signals"
	"github.com/choir-run/choir/pkg/supervisor"
	"github.com/choir-run/choir/pkg/writer"
)

// HarnessRouter resolves the worker harness responsible for an actor_id
// so the chat WebSocket handler can dispatch an incoming message without
// pkg/api importing pkg/workers directly.
type HarnessRouter interface {
	Route(actorID string) (*harness.Harness, harness.Input, bool)
}

// Server is the choir HTTP/WS API server.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server

	events     eventlog.Store
	bus        *eventbus.Bus
	writerRt   *writer.Runtime
	router     HarnessRouter
	supervisor *supervisor.ApplicationSupervisor
	signals    *signals.Policy
	emitter    *signals.Emitter
}

// NewServer wires routes over already-constructed services. Every
// dependency is required except router, which may be nil in
// configurations that only expose the log/writer surface.
func NewServer(events eventlog.Store, bus *eventbus.Bus, writerRt *writer.Runtime, router HarnessRouter, sup *supervisor.ApplicationSupervisor, policy *signals.Policy) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		engine:     engine,
		events:     events,
		bus:        bus,
		writerRt:   writerRt,
		router:     router,
		supervisor: sup,
		signals:    policy,
		emitter:    &signals.Emitter{Store: events},
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/health", s.healthHandler)

	s.engine.GET("/logs/events", s.listEventsHandler)
	s.engine.GET("/logs/latest_seq", s.latestSeqHandler)
	s.engine.GET("/ws/logs/events", s.wsLogsHandler)
	s.engine.GET("/ws/chat/:actor_id/:user_id", s.wsChatHandler)

	s.engine.POST("/writer/open", s.writerOpenHandler)
	s.engine.POST("/writer/save", s.writerSaveHandler)
	s.engine.POST("/writer/save_version", s.writerSaveVersionHandler)
	s.engine.POST("/writer/prompt", s.writerPromptHandler)
	s.engine.POST("/writer/version", s.writerVersionHandler)
	s.engine.POST("/writer/versions", s.writerVersionsHandler)
	s.engine.POST("/writer/dismiss_overlay", s.writerDismissOverlayHandler)

	s.engine.POST("/conductor/runs/:run_id/status", s.conductorRunStatusHandler)
	s.engine.POST("/conductor/runs/list", s.conductorRunsListHandler)
	s.engine.POST("/conductor/worker_report", s.conductorWorkerReportHandler)
}

// Start runs the HTTP server on addr (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.engine}
	return s.httpServer.ListenAndServe()
}

// StartWithListener runs the HTTP server on a pre-created listener, used
// by tests that need an OS-assigned port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.engine}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) healthHandler(c *gin.Context) {
	health := s.supervisor.GetHealth()
	status := http.StatusOK
	if !health.EventRelayHealthy || !health.SessionSupervisorHealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"status":              statusString(status),
		"event_bus_healthy":   health.EventBusHealthy,
		"event_relay_healthy": health.EventRelayHealthy,
		"session_supervisor_healthy": health.SessionSupervisorHealthy,
		"supervision_events": gin.H{
			"started":    health.SupervisionEventCounts.Started,
			"failed":     health.SupervisionEventCounts.Failed,
			"terminated": health.SupervisionEventCounts.Terminated,
		},
		"last_supervision_failure": health.LastSupervisionFailure,
	})
}

func statusString(code int) string {
	if code == http.StatusOK {
		return "healthy"
	}
	return "degraded"
}
