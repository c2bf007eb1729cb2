package rlm

import "time"

// ActorKind discriminates a PendingReply's counterpart (spec §3).
type ActorKind string

const (
	ActorHarness ActorKind = "harness"
	ActorTool    ActorKind = "tool"
)

// PendingReply is an outstanding correlation id a harness is waiting on.
type PendingReply struct {
	CorrID          string
	ActorKind       ActorKind
	ObjectiveSummary string
	SentAt          time.Time
	TimeoutAt       *time.Time
}

// TurnSummary is a compact record of one completed turn, folded into
// later prompts as history (mirrors pkg/harness's historyEntry at the
// recursive-harness granularity).
type TurnSummary struct {
	TurnNumber int
	Summary    string
}

// Checkpoint is the harness durability record (spec §3): written after
// any turn that fires outbound async messages (FanOut/Recurse/async
// tools). The latest checkpoint by RunID fully determines recovery.
type Checkpoint struct {
	RunID           string
	ActorID         string
	TurnNumber      int
	WorkingMemory   map[string]any
	Objective       string
	PendingReplies  []PendingReply
	TurnSummaries   []TurnSummary
	CheckpointedAt  time.Time
}

// CheckpointStore persists and retrieves the latest Checkpoint per run.
// A file-backed or event-log-backed implementation can satisfy this; only
// the contract is fixed here.
type CheckpointStore interface {
	Save(cp Checkpoint) error
	Latest(runID string) (Checkpoint, bool, error)
}

// MemoryCheckpointStore is an in-process CheckpointStore, sufficient for
// single-node recovery within a process lifetime and for tests.
type MemoryCheckpointStore struct {
	byRun map[string]Checkpoint
}

func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{byRun: make(map[string]Checkpoint)}
}

func (s *MemoryCheckpointStore) Save(cp Checkpoint) error {
	s.byRun[cp.RunID] = cp
	return nil
}

func (s *MemoryCheckpointStore) Latest(runID string) (Checkpoint, bool, error) {
	cp, ok := s.byRun[runID]
	return cp, ok, nil
}

// SubHarnessTimeoutError marks a pending reply whose TimeoutAt has passed
// without a reply, surfaced on recovery (spec §4.6).
type SubHarnessTimeoutError struct {
	CorrID string
}

func (e *SubHarnessTimeoutError) Error() string {
	return "rlm: sub-harness reply timed out: " + e.CorrID
}

// Recover reads the latest checkpoint for runID and reports any pending
// replies whose deadline has already passed.
func Recover(store CheckpointStore, runID string, now time.Time) (Checkpoint, []SubHarnessTimeoutError, error) {
	cp, ok, err := store.Latest(runID)
	if err != nil || !ok {
		return cp, nil, err
	}
	var timeouts []SubHarnessTimeoutError
	for _, p := range cp.PendingReplies {
		if p.TimeoutAt != nil && now.After(*p.TimeoutAt) {
			timeouts = append(timeouts, SubHarnessTimeoutError{CorrID: p.CorrID})
		}
	}
	return cp, timeouts, nil
}
