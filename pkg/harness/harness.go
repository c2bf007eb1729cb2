// Package harness drives a single worker role through a step-bounded
// ReAct-style loop (spec §4.5): build a prompt, call the LLM, interpret
// its decision, dispatch tool calls, and emit trace events — until the
// model finishes, is blocked, the step/time budget is exhausted, or the
// adapter fails unrecoverably.
//
// Grounded directly on the teacher's pkg/agent/controller/react.go
// iteration loop (build messages, call LLM, parse decision, dispatch
// tool calls, create timeline events, forced conclusion on max
// iterations).
package harness

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/choir-run/choir/pkg/eventlog"
	"github.com/choir-run/choir/pkg/llm"
	"github.com/choir-run/choir/pkg/tools"
)

// CompletionReason identifies why a harness run terminated.
type CompletionReason string

const (
	ReasonFinished        CompletionReason = "finished"
	ReasonStepBudget      CompletionReason = "step_budget_exhausted"
	ReasonTimeout         CompletionReason = "timeout"
	ReasonFailed          CompletionReason = "failed"
)

// Config bounds a single harness run (spec §4.5).
type Config struct {
	TimeoutBudgetMS int64
	MaxSteps        int
	EmitProgress    bool
	EmitWorkerReport bool

	// WriterActive reports whether a writer document is active for the
	// run being driven. When it reports true, invariant 6 (spec §4.5)
	// requires at least one successful message_writer call before a
	// finish decision is accepted — the same rule regardless of which
	// role is running against that document. Nil means no writer
	// document is in play for this harness.
	WriterActive func() bool
}

// Input is the per-run context a harness is driven with.
type Input struct {
	RunID     string
	UserID    string
	Objective string
	SessionID string
	ThreadID  string
	TaskID    string
	CallID    string
	ActorID   string
	Role      string
}

// Result is the terminal outcome of Run.
type Result struct {
	Reason         CompletionReason
	FinalMessage   string
	BlockedReason  string
	TurnsTaken     int
	TraceID        string
}

// RoleValidator accepts or rejects a model's "finished" decision for a
// given role (e.g. the writer-delegation role rejects an empty final
// message). The message_writer-before-finish rule is enforced separately,
// through Config.WriterActive.
type RoleValidator func(final string) error

// Harness drives one worker step loop.
type Harness struct {
	cfg       Config
	llmClient llm.Client
	toolset   *tools.Registry
	events    eventlog.Store
	validate  RoleValidator
	model     string
}

// New constructs a Harness.
func New(cfg Config, client llm.Client, toolset *tools.Registry, events eventlog.Store, validate RoleValidator, model string) *Harness {
	if validate == nil {
		validate = func(string) error { return nil }
	}
	return &Harness{cfg: cfg, llmClient: client, toolset: toolset, events: events, validate: validate, model: model}
}

// historyEntry is one compact record of a prior step's tool outputs,
// folded into later prompts as spec §4.5 step 1 requires.
type historyEntry struct {
	toolName string
	excerpt  string
}

// Run drives the step loop to completion.
func (h *Harness) Run(ctx context.Context, in Input) Result {
	traceID := uuid.NewString()
	deadline := time.Now().Add(time.Duration(h.cfg.TimeoutBudgetMS) * time.Millisecond)

	h.emit("worker.task.started", in, traceID, map[string]any{"objective": in.Objective, "role": in.Role})

	var history []historyEntry
	messageWriterSucceeded := false

	for step := 1; step <= h.cfg.MaxSteps; step++ {
		if time.Now().After(deadline) {
			return h.terminate(in, traceID, step-1, ReasonTimeout, "timeout", fmt.Sprintf("timeout: exceeded %dms budget after %d turns", h.cfg.TimeoutBudgetMS, step-1))
		}
		select {
		case <-ctx.Done():
			return h.terminate(in, traceID, step-1, ReasonFailed, "cancelled", "context cancelled")
		default:
		}

		decision, err := h.callLLM(ctx, in, traceID, history)
		if err != nil {
			return h.terminate(in, traceID, step, ReasonFailed, "", err.Error())
		}

		if decision.Finished != "" {
			if messageWriterSucceeded || !h.requiresMessageWriter() {
				if verr := h.validate(decision.Finished); verr != nil {
					// re-prompt with the rejection as a hint entry; each
					// retry uses a step, so MaxSteps bounds the retries.
					history = append(history, historyEntry{toolName: "_validation", excerpt: verr.Error()})
					continue
				}
				return h.terminate(in, traceID, step, ReasonFinished, "", decision.Finished)
			}
			history = append(history, historyEntry{toolName: "_validation", excerpt: "must call message_writer before finishing"})
			continue
		}

		if decision.Blocked != "" {
			return h.terminate(in, traceID, step, ReasonFailed, decision.Blocked, decision.Blocked)
		}

		if h.cfg.EmitProgress {
			h.emit("worker.task.progress", in, traceID, map[string]any{"step": step})
		}

		for _, call := range decision.ToolCalls {
			corrID := uuid.NewString()
			h.emit("worker.tool.call", in, traceID, map[string]any{
				"correlation_id": corrID, "tool": call.Name, "arguments": call.Arguments,
			})
			res := h.toolset.Execute(ctx, tools.Call{Name: call.Name, Arguments: call.Arguments})
			h.emit("worker.tool.result", in, traceID, map[string]any{
				"correlation_id": corrID, "tool": call.Name, "success": res.Success,
				"output_excerpt": excerpt(res.Output), "error": res.Error,
			})
			if call.Name == "message_writer" && res.Success {
				messageWriterSucceeded = true
			}
			history = append(history, historyEntry{toolName: call.Name, excerpt: excerpt(res.Output)})
		}
	}

	return h.terminate(in, traceID, h.cfg.MaxSteps, ReasonStepBudget, "step_budget_exhausted", "step_budget_exhausted")
}

func (h *Harness) requiresMessageWriter() bool {
	return h.cfg.WriterActive != nil && h.cfg.WriterActive()
}

func (h *Harness) callLLM(ctx context.Context, in Input, traceID string, history []historyEntry) (llm.Decision, error) {
	start := time.Now()
	h.emit("llm.call.started", in, traceID, map[string]any{"model_used": h.model})

	genIn := llm.GenerateInput{Model: h.model, Messages: toMessages(in, history), ToolNames: h.toolset.Names()}
	chunks, err := h.llmClient.Generate(ctx, genIn)
	if err != nil {
		h.emit("llm.call.failed", in, traceID, map[string]any{"error": err.Error(), "duration_ms": time.Since(start).Milliseconds()})
		return llm.Decision{}, err
	}

	var decision llm.Decision
	var usage llm.Usage
	for chunk := range chunks {
		switch chunk.Kind {
		case llm.ChunkToolCall:
			decision.ToolCalls = append(decision.ToolCalls, chunk.ToolCalls...)
		case llm.ChunkText:
			decision = interpretText(chunk.Text)
		case llm.ChunkUsage:
			if chunk.Usage != nil {
				usage = *chunk.Usage
			}
		case llm.ChunkError:
			h.emit("llm.call.failed", in, traceID, map[string]any{"error": chunk.Err.Error(), "duration_ms": time.Since(start).Milliseconds()})
			return llm.Decision{}, chunk.Err
		}
	}

	h.emit("llm.call.completed", in, traceID, map[string]any{
		"model_used": h.model, "duration_ms": time.Since(start).Milliseconds(),
		"input_tokens": usage.InputTokens, "output_tokens": usage.OutputTokens,
		"cached_input_tokens": usage.CachedInputTokens,
	})
	return decision, nil
}

func (h *Harness) terminate(in Input, traceID string, turns int, reason CompletionReason, blockedReason, message string) Result {
	eventType := "worker.task.completed"
	switch reason {
	case ReasonStepBudget, ReasonTimeout:
		eventType = "worker.task.blocked"
	case ReasonFailed:
		eventType = "worker.task.failed"
	}
	h.emit(eventType, in, traceID, map[string]any{"reason": reason, "message": message, "turns_taken": turns})
	return Result{Reason: reason, FinalMessage: message, BlockedReason: blockedReason, TurnsTaken: turns, TraceID: traceID}
}

func (h *Harness) emit(eventType string, in Input, traceID string, fields map[string]any) {
	payload := map[string]any{"trace_id": traceID}
	if in.RunID != "" {
		payload["run_id"] = in.RunID
	}
	if in.TaskID != "" {
		payload["task_id"] = in.TaskID
	}
	if in.SessionID != "" {
		payload["session_id"] = in.SessionID
	}
	if in.ThreadID != "" {
		payload["thread_id"] = in.ThreadID
	}
	for k, v := range fields {
		payload[k] = v
	}
	e, err := eventlog.NewEvent(eventType, in.ActorID, in.UserID, payload)
	if err != nil {
		return
	}
	h.events.AppendAsync(e)
}

func excerpt(s string) string {
	const max = 500
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}

func toMessages(in Input, history []historyEntry) []llm.Message {
	msgs := []llm.Message{{Role: "user", Content: in.Objective}}
	for _, h := range history {
		msgs = append(msgs, llm.Message{Role: "tool", Content: fmt.Sprintf("%s: %s", h.toolName, h.excerpt)})
	}
	return msgs
}

// interpretText parses the Fake LLM double's "FINISHED: "/"BLOCKED: "
// convention into a Decision. A real adapter would parse structured
// tool-call/finish/block output instead; this keeps the harness
// independently testable without a live provider.
func interpretText(text string) llm.Decision {
	const finishedPrefix = "FINISHED: "
	const blockedPrefix = "BLOCKED: "
	switch {
	case len(text) >= len(finishedPrefix) && text[:len(finishedPrefix)] == finishedPrefix:
		return llm.Decision{Finished: text[len(finishedPrefix):]}
	case len(text) >= len(blockedPrefix) && text[:len(blockedPrefix)] == blockedPrefix:
		return llm.Decision{Blocked: text[len(blockedPrefix):]}
	default:
		return llm.Decision{Finished: text}
	}
}
