package rlm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrMaxRecurseDepth is returned when a FanOut/Recurse dispatch would
// exceed max_recurse_depth; the caller should turn the action into a
// Block with this reason (spec §4.6).
var ErrMaxRecurseDepth = errors.New("rlm: max_recurse_depth reached")

// SpawnFunc starts one sub-harness run in the background and reports its
// result (as op output text) once complete. Implementations run the
// actual pkg/harness.Harness.Run and translate its Result to a string.
type SpawnFunc func(ctx context.Context, objective string, context_ map[string]any, corrID string) <-chan string

// Dispatcher manages non-blocking FanOut/Recurse sub-harness dispatch,
// grounded on the teacher's SubAgentRunner: reserve-then-register before
// starting the goroutine (avoiding a register-after-start race), a
// buffered completion channel, and depth-capped dispatch.
type Dispatcher struct {
	spawn         SpawnFunc
	maxDepth      int
	subHarnessTTL time.Duration

	mu          sync.Mutex
	depth       map[string]int // runID -> cumulative FanOut+Recurse dispatch count
	pending     map[string]PendingReply
	pendingRun  map[string]string // corrID -> runID
	results     chan dispatchResult
	cancel      map[string]context.CancelFunc
}

type dispatchResult struct {
	runID  string
	corrID string
	output string
}

// NewDispatcher constructs a Dispatcher. subHarnessTTL bounds how long a
// dispatched sub-harness may run before its reply is considered timed out.
func NewDispatcher(spawn SpawnFunc, maxDepth int, subHarnessTTL time.Duration) *Dispatcher {
	return &Dispatcher{
		spawn: spawn, maxDepth: maxDepth, subHarnessTTL: subHarnessTTL,
		depth: make(map[string]int), pending: make(map[string]PendingReply),
		pendingRun: make(map[string]string),
		results: make(chan dispatchResult, 256), cancel: make(map[string]context.CancelFunc),
	}
}

// FanOut spawns n child sub-harnesses for runID, returning their
// correlation ids immediately without waiting for results (spec §4.6:
// non-blocking, the step result is the list of correlation ids).
func (d *Dispatcher) FanOut(ctx context.Context, runID string, objectives []string, contextData map[string]any) ([]string, error) {
	d.mu.Lock()
	if d.depth[runID]+len(objectives) > d.maxDepth {
		d.mu.Unlock()
		return nil, ErrMaxRecurseDepth
	}
	d.depth[runID] += len(objectives)

	corrIDs := make([]string, len(objectives))
	for i := range objectives {
		corrIDs[i] = uuid.NewString()
		timeoutAt := time.Now().Add(d.subHarnessTTL)
		d.pending[corrIDs[i]] = PendingReply{
			CorrID: corrIDs[i], ActorKind: ActorHarness,
			ObjectiveSummary: objectives[i], SentAt: time.Now(), TimeoutAt: &timeoutAt,
		}
		d.pendingRun[corrIDs[i]] = runID
	}
	d.mu.Unlock()

	for i, obj := range objectives {
		d.startChild(ctx, runID, obj, contextData, corrIDs[i])
	}
	return corrIDs, nil
}

// Recurse spawns exactly one child (spec §4.6).
func (d *Dispatcher) Recurse(ctx context.Context, runID, objective string, contextData map[string]any) (string, error) {
	ids, err := d.FanOut(ctx, runID, []string{objective}, contextData)
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

func (d *Dispatcher) startChild(ctx context.Context, runID, objective string, contextData map[string]any, corrID string) {
	childCtx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.cancel[corrID] = cancel
	d.mu.Unlock()

	go func() {
		defer cancel()
		out := d.spawn(childCtx, objective, contextData, corrID)
		var output string
		select {
		case output = <-out:
		case <-childCtx.Done():
			output = fmt.Sprintf("cancelled: %v", childCtx.Err())
		}

		d.mu.Lock()
		delete(d.pending, corrID)
		delete(d.pendingRun, corrID)
		delete(d.cancel, corrID)
		d.mu.Unlock()

		select {
		case d.results <- dispatchResult{runID: runID, corrID: corrID, output: output}:
		default:
		}
	}()
}

// TryGetNext returns a completed sub-harness result without blocking, or
// ok=false if none is ready yet.
func (d *Dispatcher) TryGetNext() (runID, corrID, output string, ok bool) {
	select {
	case r := <-d.results:
		return r.runID, r.corrID, r.output, true
	default:
		return "", "", "", false
	}
}

// WaitForNext blocks until a result is available or ctx is cancelled.
func (d *Dispatcher) WaitForNext(ctx context.Context) (runID, corrID, output string, err error) {
	select {
	case r := <-d.results:
		return r.runID, r.corrID, r.output, nil
	case <-ctx.Done():
		return "", "", "", ctx.Err()
	}
}

// CancelAll cancels every in-flight child dispatch for runID.
func (d *Dispatcher) CancelAll(runID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for corrID, owner := range d.pendingRun {
		if owner != runID {
			continue
		}
		if cancel, ok := d.cancel[corrID]; ok {
			cancel()
		}
	}
}

// PendingFor returns a snapshot of outstanding correlation ids for runID,
// for checkpointing.
func (d *Dispatcher) PendingFor(runID string) []PendingReply {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []PendingReply
	for corrID, p := range d.pending {
		if d.pendingRun[corrID] == runID {
			out = append(out, p)
		}
	}
	return out
}
