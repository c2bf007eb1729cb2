package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"
)

// BashTool shells out via os/exec with a hard timeout. No library in the
// retrieval pack wraps subprocess execution; this is the one tool path
// deliberately kept on the standard library (see DESIGN.md).
type BashTool struct {
	Sandbox *Sandbox
	Timeout time.Duration
}

func (t *BashTool) Name() string { return "bash" }

func (t *BashTool) Execute(ctx context.Context, args map[string]any) Result {
	command, _ := args["command"].(string)
	if command == "" {
		return Result{Success: false, Error: "tools: bash command must not be empty"}
	}

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, "/bin/sh", "-c", command)
	cmd.Dir = t.Sandbox.Root

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	combined := stdout.String()
	if stderr.Len() > 0 {
		combined += "\n[stderr]\n" + stderr.String()
	}

	if cctx.Err() == context.DeadlineExceeded {
		return Result{Success: false, Output: combined, Error: fmt.Sprintf("tools: bash command timed out after %s", timeout)}
	}
	if err != nil {
		return Result{Success: false, Output: combined, Error: err.Error()}
	}
	return Result{Success: true, Output: combined}
}
