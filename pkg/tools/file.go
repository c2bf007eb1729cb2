package tools

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// FileReadTool reads a sandboxed relative path.
type FileReadTool struct{ Sandbox *Sandbox }

func (t *FileReadTool) Name() string { return "file_read" }

func (t *FileReadTool) Execute(ctx context.Context, args map[string]any) Result {
	rel, _ := args["path"].(string)
	abs, err := t.Sandbox.ValidateSandboxPath(rel)
	if err != nil {
		return Result{Success: false, Error: err.Error()}
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return Result{Success: false, Error: err.Error()}
	}
	return Result{Success: true, Output: string(data)}
}

// FileWriteTool overwrites a sandboxed relative path. Writing a run's
// draft.md directly is rejected with ErrWriterModeRequired when writer
// mode is active (spec §4.5); writerModeActive is supplied by the
// harness per-run.
type FileWriteTool struct {
	Sandbox          *Sandbox
	WriterModeActive func() bool
}

func (t *FileWriteTool) Name() string { return "file_write" }

func (t *FileWriteTool) Execute(ctx context.Context, args map[string]any) Result {
	rel, _ := args["path"].(string)
	content, _ := args["content"].(string)

	if t.WriterModeActive != nil && t.WriterModeActive() && IsDraftPath(rel) {
		return Result{Success: false, Error: ErrWriterModeRequired.Error()}
	}

	abs, err := t.Sandbox.ValidateSandboxPath(rel)
	if err != nil {
		return Result{Success: false, Error: err.Error()}
	}
	if !t.Sandbox.Writable(rel) {
		return Result{Success: false, Error: fmt.Sprintf("tools: %s is not writable", rel)}
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return Result{Success: false, Error: err.Error()}
	}
	return Result{Success: true, Output: fmt.Sprintf("wrote %d bytes to %s", len(content), rel)}
}

// FileEditTool replaces the first occurrence of a literal substring in a
// sandboxed file — a minimal, deterministic edit primitive distinct from
// pkg/writer's typed PatchOp model (which applies only to run documents).
type FileEditTool struct {
	Sandbox          *Sandbox
	WriterModeActive func() bool
}

func (t *FileEditTool) Name() string { return "file_edit" }

func (t *FileEditTool) Execute(ctx context.Context, args map[string]any) Result {
	rel, _ := args["path"].(string)
	oldStr, _ := args["old_string"].(string)
	newStr, _ := args["new_string"].(string)

	if t.WriterModeActive != nil && t.WriterModeActive() && IsDraftPath(rel) {
		return Result{Success: false, Error: ErrWriterModeRequired.Error()}
	}

	abs, err := t.Sandbox.ValidateSandboxPath(rel)
	if err != nil {
		return Result{Success: false, Error: err.Error()}
	}
	if !t.Sandbox.Writable(rel) {
		return Result{Success: false, Error: fmt.Sprintf("tools: %s is not writable", rel)}
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return Result{Success: false, Error: err.Error()}
	}
	existing := string(data)
	if !strings.Contains(existing, oldStr) {
		return Result{Success: false, Error: "tools: old_string not found"}
	}
	updated := strings.Replace(existing, oldStr, newStr, 1)
	if err := os.WriteFile(abs, []byte(updated), 0o644); err != nil {
		return Result{Success: false, Error: err.Error()}
	}
	return Result{Success: true, Output: "edit applied"}
}
