package harness

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/choir-run/choir/pkg/eventlog"
	"github.com/choir-run/choir/pkg/llm"
	"github.com/choir-run/choir/pkg/tools"
)

func waitForEvent(t *testing.T, store eventlog.Store, eventType string) eventlog.Event {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		events, err := store.Query(context.Background(), 0, 0, eventlog.Filter{EventType: eventType})
		require.NoError(t, err)
		if len(events) > 0 {
			return events[len(events)-1]
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for event %q", eventType)
	return eventlog.Event{}
}

func TestHarnessRunFinishesOnFirstTurn(t *testing.T) {
	store := eventlog.NewMemoryStore()
	client := llm.NewFake(llm.Decision{Finished: "investigation complete"})
	cfg := Config{TimeoutBudgetMS: 5000, MaxSteps: 4, EmitProgress: true}
	h := New(cfg, client, tools.NewRegistry(), store, nil, "test-model")

	result := h.Run(context.Background(), Input{RunID: "run-1", ActorID: "researcher:run-1", Role: "researcher", Objective: "look into it"})

	assert.Equal(t, ReasonFinished, result.Reason)
	assert.Equal(t, "investigation complete", result.FinalMessage)
	assert.Equal(t, 1, result.TurnsTaken)

	waitForEvent(t, store, "worker.task.completed")
}

func TestHarnessRunExhaustsStepBudget(t *testing.T) {
	store := eventlog.NewMemoryStore()
	blocked := llm.Decision{ToolCalls: []llm.ToolCall{{Name: "unregistered_tool"}}}
	client := llm.NewFake(blocked, blocked, blocked)
	cfg := Config{TimeoutBudgetMS: 5000, MaxSteps: 3}
	h := New(cfg, client, tools.NewRegistry(), store, nil, "test-model")

	result := h.Run(context.Background(), Input{RunID: "run-1", ActorID: "researcher:run-1", Role: "researcher"})

	assert.Equal(t, ReasonStepBudget, result.Reason)
	assert.Equal(t, 3, result.TurnsTaken)

	waitForEvent(t, store, "worker.task.blocked")
}

func TestHarnessRunRespectsBlockedDecision(t *testing.T) {
	store := eventlog.NewMemoryStore()
	client := llm.NewFake(llm.Decision{Blocked: "missing credentials"})
	cfg := Config{TimeoutBudgetMS: 5000, MaxSteps: 4}
	h := New(cfg, client, tools.NewRegistry(), store, nil, "test-model")

	result := h.Run(context.Background(), Input{RunID: "run-1", ActorID: "terminal:run-1", Role: "terminal"})

	assert.Equal(t, ReasonFailed, result.Reason)
	assert.Equal(t, "missing credentials", result.BlockedReason)
}

func TestHarnessWriterDelegationRequiresMessageWriterBeforeFinishing(t *testing.T) {
	store := eventlog.NewMemoryStore()
	toolCallTurn := llm.Decision{ToolCalls: []llm.ToolCall{{Name: "message_writer", Arguments: map[string]any{"text": "draft"}}}}
	finishTurn := llm.Decision{Finished: "delegation complete"}
	client := llm.NewFake(toolCallTurn, finishTurn)

	registry := tools.NewRegistry(fakeMessageWriterTool{})
	cfg := Config{TimeoutBudgetMS: 5000, MaxSteps: 4, WriterActive: func() bool { return true }}
	h := New(cfg, client, registry, store, nil, "test-model")

	result := h.Run(context.Background(), Input{RunID: "run-1", ActorID: "writer_delegation:run-1", Role: "writer_delegation"})

	assert.Equal(t, ReasonFinished, result.Reason)
	assert.Equal(t, "delegation complete", result.FinalMessage)
	assert.Equal(t, 2, result.TurnsTaken)
}

func TestHarnessBlocksFinishBeforeMessageWriterWhenWriterActiveRegardlessOfRole(t *testing.T) {
	store := eventlog.NewMemoryStore()
	client := llm.NewFake(llm.Decision{Finished: "premature answer"})
	cfg := Config{TimeoutBudgetMS: 5000, MaxSteps: 2, WriterActive: func() bool { return true }}
	h := New(cfg, client, tools.NewRegistry(), store, nil, "test-model")

	result := h.Run(context.Background(), Input{RunID: "run-1", ActorID: "researcher:run-1", Role: "researcher"})

	assert.Equal(t, ReasonStepBudget, result.Reason)
}

func TestHarnessSkipsMessageWriterGateWhenWriterActiveUnset(t *testing.T) {
	store := eventlog.NewMemoryStore()
	client := llm.NewFake(llm.Decision{Finished: "no writer document in play"})
	cfg := Config{TimeoutBudgetMS: 5000, MaxSteps: 2}
	h := New(cfg, client, tools.NewRegistry(), store, nil, "test-model")

	result := h.Run(context.Background(), Input{RunID: "run-1", ActorID: "writer_delegation:run-1", Role: "writer_delegation"})

	assert.Equal(t, ReasonFinished, result.Reason)
	assert.Equal(t, "no writer document in play", result.FinalMessage)
}

func TestHarnessValidatorRejectionForcesRetry(t *testing.T) {
	store := eventlog.NewMemoryStore()
	client := llm.NewFake(llm.Decision{Finished: "draft"}, llm.Decision{Finished: "final answer"})
	cfg := Config{TimeoutBudgetMS: 5000, MaxSteps: 4}
	validate := func(final string) error {
		if final == "draft" {
			return &emptyFinalError{}
		}
		return nil
	}
	h := New(cfg, client, tools.NewRegistry(), store, validate, "test-model")

	result := h.Run(context.Background(), Input{RunID: "run-1", ActorID: "researcher:run-1", Role: "researcher"})
	assert.Equal(t, ReasonFinished, result.Reason)
	assert.Equal(t, "final answer", result.FinalMessage)
	assert.Equal(t, 2, result.TurnsTaken)
}

type emptyFinalError struct{}

func (e *emptyFinalError) Error() string { return "draft answers are not accepted" }

// fakeMessageWriterTool lets the writer-delegation test satisfy the
// harness's "must call message_writer before finishing" gate.
type fakeMessageWriterTool struct{}

func (fakeMessageWriterTool) Name() string { return "message_writer" }
func (fakeMessageWriterTool) Execute(ctx context.Context, args map[string]any) tools.Result {
	return tools.Result{Success: true, Output: "written"}
}
