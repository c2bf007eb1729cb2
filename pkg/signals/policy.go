// Package signals implements the worker signal ingestion policy (spec
// §4.8): converting a WorkerTurnReport into canonical
// worker.finding.created / worker.learning.created /
// worker.escalation.requested / artifact.created events, rejecting noise
// through an ordered validation chain.
package signals

import (
	"strings"
	"sync"
	"time"

	"github.com/zeebo/blake3"
)

// Status mirrors spec §3's WorkerTurnReport.status.
type Status string

const (
	StatusRunning   Status = "Running"
	StatusCompleted Status = "Completed"
	StatusFailed    Status = "Failed"
	StatusBlocked   Status = "Blocked"
)

// RejectReason enumerates spec §4.8's rejection reasons, in check order.
type RejectReason string

const (
	ReasonMaxPerTurnExceeded   RejectReason = "MaxPerTurnExceeded"
	ReasonInvalidPayload       RejectReason = "InvalidPayload"
	ReasonMissingEvidence      RejectReason = "MissingEvidence"
	ReasonLowConfidence        RejectReason = "LowConfidence"
	ReasonDuplicateWithinWindow RejectReason = "DuplicateWithinWindow"
	ReasonEscalationCooldown   RejectReason = "EscalationCooldown"
)

// SignalKind discriminates the four signal shapes carried in a report.
type SignalKind string

const (
	KindFinding    SignalKind = "finding"
	KindLearning   SignalKind = "learning"
	KindEscalation SignalKind = "escalation"
	KindArtifact   SignalKind = "artifact"
)

// Signal is the common shape of one finding/learning/escalation/artifact
// (spec §3).
type Signal struct {
	ID             string   `json:"id"`
	Kind           SignalKind `json:"kind,omitempty"`
	Reason         string   `json:"reason,omitempty"`
	Claim          string   `json:"claim,omitempty"`
	Insight        string   `json:"insight,omitempty"`
	Reference      string   `json:"reference,omitempty"`
	Confidence     float64  `json:"confidence"`
	EvidenceRefs   []string `json:"evidence_refs,omitempty"`
	EscalationKind string   `json:"escalation_kind,omitempty"` // only for escalations; part of the cooldown key
}

// WorkerTurnReport is the unit of ingestion (spec §3).
type WorkerTurnReport struct {
	TurnID      string   `json:"turn_id"`
	TaskID      string   `json:"task_id"`
	WorkerID    string   `json:"worker_id"`
	WorkerRole  string   `json:"worker_role"`
	Status      Status   `json:"status"`
	Summary     string   `json:"summary"`
	Findings    []Signal `json:"findings"`
	Learnings   []Signal `json:"learnings"`
	Escalations []Signal `json:"escalations"`
	Artifacts   []Signal `json:"artifacts"`
}

// Outcome is the per-signal verdict.
type Outcome struct {
	Signal   Signal       `json:"signal"`
	Kind     SignalKind   `json:"kind"`
	Accepted bool         `json:"accepted"`
	Reason   RejectReason `json:"reason,omitempty"` // empty if accepted
}

// Policy holds the configurable thresholds (spec §4.8, CHOIR_SIGNAL_* env
// vars) and the dedup/cooldown state needed to enforce them.
type Policy struct {
	MaxFindingsPerTurn    int
	MaxLearningsPerTurn   int
	MaxEscalationsPerTurn int
	MaxArtifactsPerTurn   int
	MinConfidence         float64
	DuplicateWindow       time.Duration
	EscalationCooldown    time.Duration

	mu            sync.Mutex
	seenAt        map[string]time.Time // dedup key -> last seen
	escalatedAt   map[string]time.Time // (kind,reason) key -> last accepted
}

// NewPolicy constructs a Policy from the given thresholds.
func NewPolicy(maxFindings, maxLearnings, maxEscalations, maxArtifacts int, minConfidence float64, dupWindow, cooldown time.Duration) *Policy {
	return &Policy{
		MaxFindingsPerTurn: maxFindings, MaxLearningsPerTurn: maxLearnings,
		MaxEscalationsPerTurn: maxEscalations, MaxArtifactsPerTurn: maxArtifacts,
		MinConfidence: minConfidence, DuplicateWindow: dupWindow, EscalationCooldown: cooldown,
		seenAt: make(map[string]time.Time), escalatedAt: make(map[string]time.Time),
	}
}

// Ingest runs every signal in r through the ordered validation chain and
// returns one Outcome per input signal (spec §8 invariant: accepted +
// rejected counts equal the input count).
func (p *Policy) Ingest(r WorkerTurnReport, now time.Time) []Outcome {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []Outcome
	out = append(out, p.ingestGroup(r.Findings, KindFinding, p.MaxFindingsPerTurn, now, r.WorkerRole)...)
	out = append(out, p.ingestGroup(r.Learnings, KindLearning, p.MaxLearningsPerTurn, now, r.WorkerRole)...)
	out = append(out, p.ingestGroup(r.Escalations, KindEscalation, p.MaxEscalationsPerTurn, now, r.WorkerRole)...)
	out = append(out, p.ingestGroup(r.Artifacts, KindArtifact, p.MaxArtifactsPerTurn, now, r.WorkerRole)...)
	return out
}

func (p *Policy) ingestGroup(signals []Signal, kind SignalKind, quota int, now time.Time, role string) []Outcome {
	out := make([]Outcome, 0, len(signals))
	for i, s := range signals {
		if i >= quota {
			out = append(out, Outcome{Signal: s, Kind: kind, Accepted: false, Reason: ReasonMaxPerTurnExceeded})
			continue
		}
		if reason, ok := p.reject(s, kind, now); ok {
			out = append(out, Outcome{Signal: s, Kind: kind, Accepted: false, Reason: reason})
			continue
		}
		out = append(out, Outcome{Signal: s, Kind: kind, Accepted: true})
	}
	return out
}

// reject runs the ordered per-signal checks of spec §4.8 (quota is
// checked by the caller, since it needs the group index). Returns the
// first matching rejection reason, if any.
func (p *Policy) reject(s Signal, kind SignalKind, now time.Time) (RejectReason, bool) {
	if isEmptyPayload(s, kind) {
		return ReasonInvalidPayload, true
	}
	if kind == KindFinding && len(s.EvidenceRefs) == 0 {
		return ReasonMissingEvidence, true
	}
	if s.Confidence < p.MinConfidence && kind != KindArtifact && kind != KindEscalation {
		return ReasonLowConfidence, true
	}
	if kind == KindFinding || kind == KindLearning {
		key := dedupKey(s)
		if last, ok := p.seenAt[key]; ok && now.Sub(last) < p.DuplicateWindow {
			return ReasonDuplicateWithinWindow, true
		}
		p.seenAt[key] = now
	}
	if kind == KindEscalation {
		key := cooldownKey(s)
		if last, ok := p.escalatedAt[key]; ok && now.Sub(last) < p.EscalationCooldown {
			return ReasonEscalationCooldown, true
		}
		p.escalatedAt[key] = now
	}
	return "", false
}

func isEmptyPayload(s Signal, kind SignalKind) bool {
	switch kind {
	case KindFinding:
		return strings.TrimSpace(s.Claim) == ""
	case KindLearning:
		return strings.TrimSpace(s.Insight) == ""
	case KindEscalation:
		return strings.TrimSpace(s.Reason) == ""
	case KindArtifact:
		return strings.TrimSpace(s.Reference) == ""
	default:
		return true
	}
}

// dedupKey normalizes whitespace+case of claim/insight and hashes it with
// blake3 so the dedup index is a fixed-size key regardless of claim
// length (spec §4.8).
func dedupKey(s Signal) string {
	text := s.Claim
	if text == "" {
		text = s.Insight
	}
	normalized := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	sum := blake3.Sum256([]byte(normalized))
	return string(sum[:])
}

// cooldownKey keys escalation cooldown tracking on (kind, reason) per
// spec §4.8.
func cooldownKey(s Signal) string {
	return s.EscalationKind + "|" + strings.ToLower(strings.TrimSpace(s.Reason))
}
