package writer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

const defaultChangesetTimeout = 20 * time.Second

// Errors matching spec §7's error taxonomy.
var (
	ErrDocumentIoFailed  = errors.New("writer: document io failed")
	ErrStaleBaseVersion  = errors.New("writer: stale base version")
	ErrUnknownRun        = errors.New("writer: unknown run")
	ErrUnknownOverlay    = errors.New("writer: unknown overlay")
	ErrUnknownSection    = errors.New("writer: unknown section")
)

// EventEmitter is the narrow surface the writer runtime needs from the
// event log: fire-and-forget emission of its own trace/state events.
// Implemented by pkg/eventlog.Store.AppendAsync via an adapter in cmd/choir.
type EventEmitter interface {
	Emit(eventType, actorID string, payload map[string]any)
}

// run holds one run's document plus the mutex that serializes every
// operation against it, realizing spec §4.4's "single owning actor"
// concurrency contract without a dedicated goroutine-per-run: Go's
// sync.Mutex gives the same total-order guarantee for a request/response
// API that never needs to interleave with other unrelated work.
type run struct {
	mu  sync.Mutex
	doc *Document
}

// Runtime is the writer document runtime (spec §4.4): the only component
// allowed to mutate a run document.
type Runtime struct {
	runsRoot   string
	summarizer ChangesetSummarizer
	emitter    EventEmitter

	mu   sync.Mutex
	runs map[string]*run
}

// NewRuntime constructs a Runtime rooted at runsRoot (spec §6:
// conductor/runs/{run_id}/). A nil summarizer falls back to a
// deterministic, non-LLM summary.
func NewRuntime(runsRoot string, summarizer ChangesetSummarizer, emitter EventEmitter) *Runtime {
	if summarizer == nil {
		summarizer = noopSummarizer{}
	}
	return &Runtime{runsRoot: runsRoot, summarizer: summarizer, emitter: emitter, runs: make(map[string]*run)}
}

func (rt *Runtime) runFor(runID string) *run {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	r, ok := rt.runs[runID]
	if !ok {
		r = &run{}
		rt.runs[runID] = r
	}
	return r
}

// Ensure idempotently creates or loads a run document.
func (rt *Runtime) Ensure(ctx context.Context, runID, desktopID, objective string) (*Document, error) {
	r := rt.runFor(runID)
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.doc != nil {
		return r.doc, nil
	}

	loaded, found, err := load(rt.runsRoot, runID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDocumentIoFailed, err)
	}
	if found {
		r.doc = loaded
		return r.doc, nil
	}

	doc := newDocument(runID, desktopID, objective)
	if err := save(rt.runsRoot, doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDocumentIoFailed, err)
	}
	r.doc = doc
	return doc, nil
}

// ApplyResult is returned by ApplyPatch.
type ApplyResult struct {
	Revision      uint64
	LinesModified int
	OverlayID     string // set only when proposal=true
}

// ApplyPatch mutates canonical head (proposal=false) or registers an
// overlay on current head (proposal=true).
func (rt *Runtime) ApplyPatch(ctx context.Context, runID string, source OverlayAuthor, sectionID string, ops []PatchOp, proposal bool) (ApplyResult, error) {
	r := rt.runFor(runID)
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := rt.mustDoc(r, runID)
	if err != nil {
		return ApplyResult{}, err
	}

	head := doc.head()

	if proposal {
		overlay := &Overlay{
			OverlayID:     ulid.Make().String(),
			BaseVersionID: doc.HeadVersionID,
			Author:        source,
			Kind:          OverlayKindProposal,
			DiffOps:       ops,
			SectionID:     sectionID,
			Status:        OverlayPending,
			CreatedAt:     time.Now().UTC(),
		}
		doc.Overlays[overlay.OverlayID] = overlay
		doc.Revision++
		if err := save(rt.runsRoot, doc); err != nil {
			return ApplyResult{}, fmt.Errorf("%w: %v", ErrDocumentIoFailed, err)
		}
		rt.emit("writer.run.overlay.created", map[string]any{
			"run_id": runID, "overlay_id": overlay.OverlayID, "section_id": sectionID,
			"author": source, "base_version_id": overlay.BaseVersionID,
		})
		return ApplyResult{Revision: doc.Revision, LinesModified: len(ops), OverlayID: overlay.OverlayID}, nil
	}

	newContent, modified, err := ApplyPatches(head.Content, ops)
	if err != nil {
		return ApplyResult{}, err
	}
	if modified > 0 {
		parent := doc.HeadVersionID
		v := DocumentVersion{
			VersionID:       nextVersionID(doc),
			ParentVersionID: &parent,
			Content:         newContent,
			Source:          SourceWriter,
			CreatedAt:       time.Now().UTC(),
		}
		doc.Versions = append(doc.Versions, v)
		doc.HeadVersionID = v.VersionID
		doc.Revision++
		if err := save(rt.runsRoot, doc); err != nil {
			return ApplyResult{}, fmt.Errorf("%w: %v", ErrDocumentIoFailed, err)
		}
		rt.emit("writer.actor.apply_text", map[string]any{
			"run_id": runID, "section_id": sectionID, "revision": doc.Revision, "lines_modified": modified,
		})
	}
	return ApplyResult{Revision: doc.Revision, LinesModified: modified}, nil
}

// CreateVersion creates a new canonical version and kicks off background
// changeset summarization. parentVersionID defaults to the current head
// when nil.
func (rt *Runtime) CreateVersion(ctx context.Context, runID string, parentVersionID *uint64, content string, source VersionSource) (DocumentVersion, error) {
	r := rt.runFor(runID)
	r.mu.Lock()
	doc, err := rt.mustDoc(r, runID)
	if err != nil {
		r.mu.Unlock()
		return DocumentVersion{}, err
	}

	parent := doc.HeadVersionID
	if parentVersionID != nil {
		parent = *parentVersionID
	}
	before := doc.head().Content

	v := DocumentVersion{
		VersionID:       nextVersionID(doc),
		ParentVersionID: &parent,
		Content:         content,
		Source:          source,
		CreatedAt:       time.Now().UTC(),
	}
	doc.Versions = append(doc.Versions, v)
	doc.HeadVersionID = v.VersionID
	doc.Revision++

	for _, ov := range doc.Overlays {
		if ov.Status == OverlayPending {
			if ov.BaseVersionID == parent {
				ov.Status = OverlayAccepted
			} else if ov.BaseVersionID < doc.HeadVersionID {
				ov.Status = OverlaySuperseded
			}
		}
	}

	if err := save(rt.runsRoot, doc); err != nil {
		r.mu.Unlock()
		return DocumentVersion{}, fmt.Errorf("%w: %v", ErrDocumentIoFailed, err)
	}
	r.mu.Unlock()

	rt.emit("writer.run.version.created", map[string]any{
		"run_id": runID, "version_id": v.VersionID, "parent_version_id": parent, "source": source,
	})

	runChangeset(rt.summarizer, rt.emit, runID, v.VersionID, before, content, nil)

	return v, nil
}

// CreateOverlay registers a new overlay proposal. baseVersionID must equal
// the current head, else ErrStaleBaseVersion.
func (rt *Runtime) CreateOverlay(ctx context.Context, runID string, baseVersionID uint64, author OverlayAuthor, kind OverlayKind, ops []PatchOp) (Overlay, error) {
	r := rt.runFor(runID)
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := rt.mustDoc(r, runID)
	if err != nil {
		return Overlay{}, err
	}
	if baseVersionID != doc.HeadVersionID {
		return Overlay{}, ErrStaleBaseVersion
	}

	ov := Overlay{
		OverlayID: ulid.Make().String(), BaseVersionID: baseVersionID, Author: author,
		Kind: kind, DiffOps: ops, Status: OverlayPending, CreatedAt: time.Now().UTC(),
	}
	doc.Overlays[ov.OverlayID] = &ov
	doc.Revision++
	if err := save(rt.runsRoot, doc); err != nil {
		return Overlay{}, fmt.Errorf("%w: %v", ErrDocumentIoFailed, err)
	}
	rt.emit("writer.run.overlay.created", map[string]any{
		"run_id": runID, "overlay_id": ov.OverlayID, "author": author, "base_version_id": baseVersionID,
	})
	return ov, nil
}

// DismissOverlay transitions an overlay to dismissed. No-op if already
// terminal.
func (rt *Runtime) DismissOverlay(ctx context.Context, runID, overlayID string) error {
	r := rt.runFor(runID)
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := rt.mustDoc(r, runID)
	if err != nil {
		return err
	}
	ov, ok := doc.Overlays[overlayID]
	if !ok {
		return ErrUnknownOverlay
	}
	if ov.Status.Terminal() {
		return nil
	}
	ov.Status = OverlayDismissed
	doc.Revision++
	if err := save(rt.runsRoot, doc); err != nil {
		return fmt.Errorf("%w: %v", ErrDocumentIoFailed, err)
	}
	rt.emit("writer.run.overlay.dismissed", map[string]any{"run_id": runID, "overlay_id": overlayID})
	return nil
}

// ReportSectionProgress updates SectionInfo.last_progress without
// touching content.
func (rt *Runtime) ReportSectionProgress(ctx context.Context, runID string, source OverlayAuthor, sectionID, phase, message string) (uint64, error) {
	r := rt.runFor(runID)
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := rt.mustDoc(r, runID)
	if err != nil {
		return 0, err
	}
	info := doc.Sections[sectionID]
	info.LastProgress = &SectionProgress{Phase: phase, Message: message, At: time.Now().UTC()}
	doc.Sections[sectionID] = info
	doc.Revision++
	if err := save(rt.runsRoot, doc); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDocumentIoFailed, err)
	}
	rt.emit("writer.actor.progress", map[string]any{
		"run_id": runID, "section_id": sectionID, "phase": phase, "message": message, "source": source,
	})
	return doc.Revision, nil
}

// legalTransitions encodes the section state machine from spec §4.4.
// Transitions not in this set are accepted but logged as anomalies,
// never rejected.
var legalTransitions = map[SectionState]map[SectionState]bool{
	SectionPending:  {SectionRunning: true},
	SectionRunning:  {SectionRunning: true, SectionComplete: true, SectionFailed: true},
	SectionComplete: {SectionRunning: true},
	SectionFailed:   {SectionRunning: true},
}

// MarkSectionState sets a section's state, honoring (and logging
// anomalies outside of) the legal transition table.
func (rt *Runtime) MarkSectionState(ctx context.Context, runID, sectionID string, state SectionState) error {
	r := rt.runFor(runID)
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := rt.mustDoc(r, runID)
	if err != nil {
		return err
	}
	info, ok := doc.Sections[sectionID]
	if !ok {
		info = SectionInfo{State: SectionPending}
	}

	anomaly := !legalTransitions[info.State][state] && info.State != state
	info.State = state
	doc.Sections[sectionID] = info
	doc.Revision++
	if err := save(rt.runsRoot, doc); err != nil {
		return fmt.Errorf("%w: %v", ErrDocumentIoFailed, err)
	}
	rt.emit("writer.run.section_state_changed", map[string]any{
		"run_id": runID, "section_id": sectionID, "state": state, "anomalous_transition": anomaly,
	})
	return nil
}

// HeadVersion returns the current canonical head version.
func (rt *Runtime) HeadVersion(ctx context.Context, runID string) (DocumentVersion, error) {
	r := rt.runFor(runID)
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, err := rt.mustDoc(r, runID)
	if err != nil {
		return DocumentVersion{}, err
	}
	return doc.head(), nil
}

// GetVersion returns a specific version by id.
func (rt *Runtime) GetVersion(ctx context.Context, runID string, versionID uint64) (DocumentVersion, error) {
	r := rt.runFor(runID)
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, err := rt.mustDoc(r, runID)
	if err != nil {
		return DocumentVersion{}, err
	}
	v, ok := doc.getVersion(versionID)
	if !ok {
		return DocumentVersion{}, fmt.Errorf("writer: version %d not found for run %s", versionID, runID)
	}
	return v, nil
}

// ListVersions returns every version in creation order.
func (rt *Runtime) ListVersions(ctx context.Context, runID string) ([]DocumentVersion, error) {
	r := rt.runFor(runID)
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, err := rt.mustDoc(r, runID)
	if err != nil {
		return nil, err
	}
	out := make([]DocumentVersion, len(doc.Versions))
	copy(out, doc.Versions)
	return out, nil
}

// ListOverlays returns overlays optionally filtered by base version and/or
// status.
func (rt *Runtime) ListOverlays(ctx context.Context, runID string, base *uint64, status *OverlayStatus) ([]Overlay, error) {
	r := rt.runFor(runID)
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, err := rt.mustDoc(r, runID)
	if err != nil {
		return nil, err
	}
	var out []Overlay
	for _, ov := range doc.Overlays {
		if base != nil && ov.BaseVersionID != *base {
			continue
		}
		if status != nil && ov.Status != *status {
			continue
		}
		out = append(out, *ov)
	}
	return out, nil
}

// ListRuns returns the ids of every run this runtime has ensured since
// process start (conductor/runs/list serves this from the in-memory set
// rather than a filesystem scan, since a crashed/unstarted run has no
// in-process state to list anyway).
func (rt *Runtime) ListRuns() []string {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	out := make([]string, 0, len(rt.runs))
	for id, r := range rt.runs {
		// other operations register a run entry on first touch, even
		// for an unknown run; only entries with a document were ensured.
		r.mu.Lock()
		ensured := r.doc != nil
		r.mu.Unlock()
		if ensured {
			out = append(out, id)
		}
	}
	return out
}

func (rt *Runtime) mustDoc(r *run, runID string) (*Document, error) {
	if r.doc == nil {
		return nil, ErrUnknownRun
	}
	return r.doc, nil
}

func (rt *Runtime) emit(eventType string, payload map[string]any) {
	if rt.emitter == nil {
		return
	}
	rt.emitter.Emit(eventType, "writer", payload)
}

func nextVersionID(doc *Document) uint64 {
	var max uint64
	for _, v := range doc.Versions {
		if v.VersionID > max {
			max = v.VersionID
		}
	}
	return max + 1
}
