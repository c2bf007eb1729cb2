// Package tools implements the canonical worker tool set (spec §4.5):
// web_search, fetch_url, file_read/write/edit, bash, and message_writer.
// Grounded on the teacher's pkg/mcp/executor.go Execute/ListTools shape,
// generalized from "MCP server tool" to this fixed, in-process tool set.
package tools

import (
	"context"
	"errors"
)

// ErrPathEscape is returned when a file path fails sandbox validation
// (spec §4.5 Path safety).
var ErrPathEscape = errors.New("tools: path escapes sandbox")

// ErrWriterModeRequired is returned when a role attempts to write the
// run's draft.md directly while a writer document is active for that run
// (spec §4.5 role constraints).
var ErrWriterModeRequired = errors.New("tools: writer mode active, use message_writer")

// Call is one requested tool invocation, already parsed.
type Call struct {
	Name      string
	Arguments map[string]any
}

// Result is the outcome of executing a Call.
type Result struct {
	Success bool
	Output  string // excerpt fed back into harness history
	Error   string
}

// Tool is a single named capability a worker role may invoke.
type Tool interface {
	Name() string
	Execute(ctx context.Context, args map[string]any) Result
}

// Registry resolves tool names to implementations. It runs any tool it
// was built with; it does not check calls against the role tool sets
// listed below.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry builds a registry from a fixed tool list.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		r.tools[t.Name()] = t
	}
	return r
}

// Execute resolves name against the registry and runs it. Unknown tool
// names report a failed Result rather than panicking — tool errors are
// non-fatal to the enclosing harness step.
func (r *Registry) Execute(ctx context.Context, call Call) Result {
	t, ok := r.tools[call.Name]
	if !ok {
		return Result{Success: false, Error: "unknown tool: " + call.Name}
	}
	return t.Execute(ctx, call.Arguments)
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.tools[name]
	return ok
}

// Names returns every registered tool name, for prompt construction.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.tools))
	for name := range r.tools {
		out = append(out, name)
	}
	return out
}

// Canonical role tool sets (spec §4.5).
var (
	ResearcherTools     = []string{"web_search", "fetch_url", "file_read", "file_write", "file_edit", "message_writer"}
	TerminalTools       = []string{"bash", "file_read", "file_write", "file_edit", "message_writer"}
	WriterDelegateTools = []string{"message_writer"}
)
