package tools

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBashExecutesCommandInSandboxRoot(t *testing.T) {
	sb := newTestSandbox(t)
	bash := &BashTool{Sandbox: sb}

	res := bash.Execute(context.Background(), map[string]any{"command": "pwd"})
	assert.True(t, res.Success)
	assert.Contains(t, res.Output, sb.Root)
}

func TestBashRejectsEmptyCommand(t *testing.T) {
	sb := newTestSandbox(t)
	bash := &BashTool{Sandbox: sb}

	res := bash.Execute(context.Background(), map[string]any{"command": ""})
	assert.False(t, res.Success)
}

func TestBashReportsNonZeroExitAsFailure(t *testing.T) {
	sb := newTestSandbox(t)
	bash := &BashTool{Sandbox: sb}

	res := bash.Execute(context.Background(), map[string]any{"command": "exit 1"})
	assert.False(t, res.Success)
}

func TestBashTimesOutLongRunningCommand(t *testing.T) {
	sb := newTestSandbox(t)
	bash := &BashTool{Sandbox: sb, Timeout: 50 * time.Millisecond}

	res := bash.Execute(context.Background(), map[string]any{"command": "sleep 5"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "timed out")
}
