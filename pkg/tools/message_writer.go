package tools

import (
	"context"
	"fmt"

	"github.com/choir-run/choir/pkg/writer"
)

// MessageWriterTool is the only channel by which a worker may mutate the
// run document (spec §4.5). It dispatches on mode_arg/mode:
//   - proposal_append — posts an overlay proposal on the named section.
//   - canon_append     — appends text canonically (bumps head).
//   - progress         — emits a section progress record.
//   - state            — sets section state.
type MessageWriterTool struct {
	Runtime *writer.Runtime
	RunID   string
	Author  writer.OverlayAuthor

	// Called after any mode succeeds, so the caller can track spec
	// §4.5's "at least one successful message_writer call"
	// terminal-decision precondition. Nil is allowed.
	OnSuccess func()
}

func (t *MessageWriterTool) Name() string { return "message_writer" }

func (t *MessageWriterTool) Execute(ctx context.Context, args map[string]any) Result {
	mode, _ := args["mode"].(string)
	sectionID, _ := args["section_id"].(string)
	content, _ := args["content"].(string)

	var result Result
	switch mode {
	case "proposal_append":
		res, err := t.Runtime.ApplyPatch(ctx, t.RunID, t.Author, sectionID,
			[]writer.PatchOp{{Kind: writer.OpAppend, Text: content}}, true)
		result = resultFromApply(res, err)

	case "canon_append":
		res, err := t.Runtime.ApplyPatch(ctx, t.RunID, t.Author, sectionID,
			[]writer.PatchOp{{Kind: writer.OpAppend, Text: content}}, false)
		result = resultFromApply(res, err)

	case "progress":
		phase, _ := args["phase"].(string)
		message, _ := args["message"].(string)
		revision, err := t.Runtime.ReportSectionProgress(ctx, t.RunID, t.Author, sectionID, phase, message)
		if err != nil {
			return Result{Success: false, Error: err.Error()}
		}
		result = Result{Success: true, Output: fmt.Sprintf("revision=%d", revision)}

	case "state":
		modeArg, _ := args["mode_arg"].(string)
		if err := t.Runtime.MarkSectionState(ctx, t.RunID, sectionID, writer.SectionState(modeArg)); err != nil {
			return Result{Success: false, Error: err.Error()}
		}
		result = Result{Success: true, Output: "state updated"}

	default:
		return Result{Success: false, Error: fmt.Sprintf("tools: unknown message_writer mode %q", mode)}
	}

	if result.Success && t.OnSuccess != nil {
		t.OnSuccess()
	}
	return result
}

func resultFromApply(res writer.ApplyResult, err error) Result {
	if err != nil {
		return Result{Success: false, Error: err.Error()}
	}
	out := fmt.Sprintf("revision=%d lines_modified=%d", res.Revision, res.LinesModified)
	if res.OverlayID != "" {
		out += fmt.Sprintf(" overlay_id=%s", res.OverlayID)
	}
	return Result{Success: true, Output: out}
}
