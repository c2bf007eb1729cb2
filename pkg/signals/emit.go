package signals

import (
	"time"

	"github.com/choir-run/choir/pkg/eventlog"
)

// Emitter publishes ingestion outcomes as canonical events. Researcher-
// role findings/learnings are published on researcher-specific topics;
// all others on generic worker topics (spec §4.8). Escalations
// additionally notify the conductor target.
type Emitter struct {
	Store eventlog.Store
}

// EmitAll appends one event per Outcome plus the original
// worker.report.received event, preserving the ADR rule that all state
// changes go through the log first.
func (e *Emitter) EmitAll(r WorkerTurnReport, outcomes []Outcome) error {
	received, err := eventlog.NewEvent("worker.report.received", r.WorkerID, "", map[string]any{
		"turn_id": r.TurnID, "task_id": r.TaskID, "worker_role": r.WorkerRole, "status": r.Status,
	})
	if err != nil {
		return err
	}
	e.Store.AppendAsync(received)

	for _, o := range outcomes {
		if !o.Accepted {
			evt, err := eventlog.NewEvent("worker.signal.rejected", r.WorkerID, "", map[string]any{
				"turn_id": r.TurnID, "task_id": r.TaskID, "kind": o.Kind, "reason": o.Reason,
			})
			if err != nil {
				return err
			}
			e.Store.AppendAsync(evt)
			continue
		}

		eventType, payload := acceptedEvent(r, o)
		evt, err := eventlog.NewEvent(eventType, r.WorkerID, "", payload)
		if err != nil {
			return err
		}
		e.Store.AppendAsync(evt)

		if o.Kind == KindEscalation {
			notify, err := eventlog.NewEvent("conductor.worker.call", r.WorkerID, "", map[string]any{
				"task_id": r.TaskID, "reason": "escalation", "escalation_id": o.Signal.ID,
			})
			if err == nil {
				e.Store.AppendAsync(notify)
			}
		}
	}
	return nil
}

func acceptedEvent(r WorkerTurnReport, o Outcome) (string, map[string]any) {
	base := map[string]any{
		"turn_id": r.TurnID, "task_id": r.TaskID, "worker_role": r.WorkerRole,
		"signal_id": o.Signal.ID, "confidence": o.Signal.Confidence,
	}
	switch o.Kind {
	case KindFinding:
		base["claim"] = o.Signal.Claim
		base["evidence_refs"] = o.Signal.EvidenceRefs
		if r.WorkerRole == "researcher" {
			return "worker.task.finding", base
		}
		return "worker.finding.created", base
	case KindLearning:
		base["insight"] = o.Signal.Insight
		if r.WorkerRole == "researcher" {
			return "worker.task.learning", base
		}
		return "worker.learning.created", base
	case KindEscalation:
		base["reason"] = o.Signal.Reason
		base["escalation_kind"] = o.Signal.EscalationKind
		return "worker.escalation.requested", base
	default:
		base["reference"] = o.Signal.Reference
		return "artifact.created", base
	}
}

// DefaultPolicyFromEnv-style construction is intentionally left to
// pkg/config, which owns env parsing; this helper just adapts the
// resolved config values into a Policy.
func NewPolicyFromConfig(maxFindings, maxLearnings, maxEscalations, maxArtifacts int, minConfidence float64, dupWindow, cooldown time.Duration) *Policy {
	return NewPolicy(maxFindings, maxLearnings, maxEscalations, maxArtifacts, minConfidence, dupWindow, cooldown)
}
