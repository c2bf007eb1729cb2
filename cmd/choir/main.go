// choir is the durable multi-agent orchestration runtime's conductor
// process: it wires the event log, bus, relay, writer runtime,
// supervision tree, worker harnesses, and HTTP/WS API into one binary.
//
// Grounded on the teacher's cmd/tarsy/main.go service-wiring order
// (config -> database -> services -> router -> listen), generalized to
// choir's own component set.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/choir-run/choir/pkg/api"
	"github.com/choir-run/choir/pkg/config"
	"github.com/choir-run/choir/pkg/eventbus"
	"github.com/choir-run/choir/pkg/eventlog"
	"github.com/choir-run/choir/pkg/harness"
	"github.com/choir-run/choir/pkg/llm"
	"github.com/choir-run/choir/pkg/signals"
	"github.com/choir-run/choir/pkg/store"
	"github.com/choir-run/choir/pkg/supervisor"
	"github.com/choir-run/choir/pkg/tools"
	"github.com/choir-run/choir/pkg/workers"
	"github.com/choir-run/choir/pkg/writer"
)

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "Path to configuration directory")
	flag.Parse()

	cfg, err := config.Load(*configDir)
	if err != nil {
		slog.Error("choir: loading configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	events, closeEvents := mustEventStore(ctx, cfg)
	defer closeEvents()
	slog.Info("choir: event log ready")

	bus := eventbus.New()
	appSup := supervisor.NewApplicationSupervisor(events, bus)
	go appSup.Run(ctx)

	writerRt := writer.NewRuntime(cfg.RunsDir, nil, &eventlogEmitter{events: events})

	sandbox := tools.NewSandbox(cfg.Sandbox.Root, cfg.Sandbox.WritableGlobs)
	llmClient := llm.NewFake()
	policy := signals.NewPolicyFromConfig(
		cfg.SignalPolicy.MaxFindingsPerTurn, cfg.SignalPolicy.MaxLearningsPerTurn,
		cfg.SignalPolicy.MaxEscalationsPerTurn, cfg.SignalPolicy.MaxArtifactsPerTurn,
		cfg.SignalPolicy.MinConfidence, cfg.SignalPolicy.DuplicateWindow, cfg.SignalPolicy.EscalationCooldown,
	)

	harnessCfg := harness.Config{TimeoutBudgetMS: 120_000, MaxSteps: 16, EmitProgress: true, EmitWorkerReport: true}
	router := newRoleRouter(harnessCfg, llmClient, events, sandbox, writerRt)

	server := api.NewServer(events, bus, writerRt, router, appSup, policy)

	addr := ":" + cfg.HTTPPort
	slog.Info("choir: listening", "addr", addr)
	go func() {
		if err := server.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("choir: http server stopped", "error", err)
		}
	}()

	<-ctx.Done()
	slog.Info("choir: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("choir: error during http shutdown", "error", err)
	}
}

const shutdownGrace = 10 * time.Second

func mustEventStore(ctx context.Context, cfg *config.Config) (eventlog.Store, func()) {
	if cfg.Database.Host == "" {
		slog.Warn("choir: no database host configured, using in-memory event log (not durable across restarts)")
		return eventlog.NewMemoryStore(), func() {}
	}
	dsn := store.DSNConfig{
		Host: cfg.Database.Host, Port: cfg.Database.Port, User: cfg.Database.User,
		Password: cfg.Database.Password, Database: cfg.Database.Database, SSLMode: cfg.Database.SSLMode,
	}
	pg, err := eventlog.NewPostgresStore(ctx, dsn)
	if err != nil {
		slog.Error("choir: connecting to postgres event log, falling back to in-memory", "error", err)
		return eventlog.NewMemoryStore(), func() {}
	}
	return pg, pg.Close
}

// eventlogEmitter adapts eventlog.Store to writer.EventEmitter.
type eventlogEmitter struct {
	events eventlog.Store
}

func (e *eventlogEmitter) Emit(eventType, actorID string, payload map[string]any) {
	evt, err := eventlog.NewEvent(eventType, actorID, "", payload)
	if err != nil {
		slog.Warn("choir: dropping malformed writer event", "event_type", eventType, "error", err)
		return
	}
	e.events.AppendAsync(evt)
}

// noopSearchProvider stands in for the external web-search collaborator
// (spec §1: search providers are explicitly out of scope as a concrete
// implementation) until an operator wires a real one.
type noopSearchProvider struct{}

func (noopSearchProvider) Search(ctx context.Context, query string) ([]tools.SearchHit, error) {
	return nil, nil
}

// roleRouter dispatches a chat actor_id to the harness for its role,
// implementing api.HarnessRouter. actor_id convention: "<role>:<run_id>",
// falling back to a fixed "default" run when no run id is present.
type roleRouter struct {
	cfg       harness.Config
	llmClient llm.Client
	events    eventlog.Store
	sandbox   *tools.Sandbox
	writerRt  *writer.Runtime
}

func newRoleRouter(cfg harness.Config, client llm.Client, events eventlog.Store, sandbox *tools.Sandbox, writerRt *writer.Runtime) *roleRouter {
	return &roleRouter{cfg: cfg, llmClient: client, events: events, sandbox: sandbox, writerRt: writerRt}
}

func (r *roleRouter) Route(actorID string) (*harness.Harness, harness.Input, bool) {
	role, runID := splitActorID(actorID)

	if _, err := r.writerRt.Ensure(context.Background(), runID, "", ""); err != nil {
		slog.Warn("choir: could not ensure run document for chat actor", "run_id", runID, "error", err)
		return nil, harness.Input{}, false
	}

	writerActive := func() bool { return true }

	var registry *tools.Registry
	author := writer.OverlayAuthor(role)
	switch role {
	case workers.RoleResearcher, workers.RoleTerminal, workers.RoleWriterDelegation:
		registry = workers.NewSandboxedRegistry(r.sandbox, r.writerRt, runID, author, writerActive, noopSearchProvider{}, func() {})
	default:
		return nil, harness.Input{}, false
	}

	var h *harness.Harness
	switch role {
	case workers.RoleResearcher:
		h = workers.BuildResearcher(r.cfg, r.llmClient, r.events, registry, writerActive, "")
	case workers.RoleTerminal:
		h = workers.BuildTerminal(r.cfg, r.llmClient, r.events, registry, writerActive, "")
	case workers.RoleWriterDelegation:
		h = workers.BuildWriterDelegation(r.cfg, r.llmClient, r.events, registry, writerActive, "")
	}

	return h, harness.Input{RunID: runID, Role: role}, true
}

func splitActorID(actorID string) (role, runID string) {
	for i := 0; i < len(actorID); i++ {
		if actorID[i] == ':' {
			return actorID[:i], actorID[i+1:]
		}
	}
	return actorID, "default"
}
