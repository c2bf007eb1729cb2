// Package workers adapts pkg/harness into the canonical worker roles
// named in spec §4.5: researcher, terminal, writer synthesis, and writer
// delegation. Each adapter wires the role's terminal-decision validator;
// the tools a role can call are whatever the caller's registry holds, and
// no adapter checks them against the role's canonical tool set.
package workers

import (
	"context"
	"fmt"

	"github.com/choir-run/choir/pkg/eventlog"
	"github.com/choir-run/choir/pkg/harness"
	"github.com/choir-run/choir/pkg/llm"
	"github.com/choir-run/choir/pkg/tools"
	"github.com/choir-run/choir/pkg/writer"
)

// Role names used across events and the harness Input.Role field.
const (
	RoleResearcher       = "researcher"
	RoleTerminal         = "terminal"
	RoleWriterSynthesis  = "writer_synthesis"
	RoleWriterDelegation = "writer_delegation"
)

// BuildResearcher constructs a researcher-role Harness over the given
// registry (canonical set: tools.ResearcherTools). writerActive reports
// whether a writer document is active for the run, gating the
// message_writer-before-finish invariant (spec §4.5 invariant 6)
// regardless of role.
func BuildResearcher(cfg harness.Config, client llm.Client, events eventlog.Store, registry *tools.Registry, writerActive func() bool, model string) *harness.Harness {
	cfg.WriterActive = writerActive
	return harness.New(cfg, client, registry, events, nil, model)
}

// BuildTerminal constructs a terminal-role Harness over the given
// registry (canonical set: tools.TerminalTools). writerActive gates the same
// invariant as BuildResearcher's.
func BuildTerminal(cfg harness.Config, client llm.Client, events eventlog.Store, registry *tools.Registry, writerActive func() bool, model string) *harness.Harness {
	cfg.WriterActive = writerActive
	return harness.New(cfg, client, registry, events, nil, model)
}

// BuildWriterDelegation constructs a writer-delegation-role Harness over
// the given registry (canonical set: tools.WriterDelegateTools), requiring
// at least one successful
// message_writer call before accepting a finish (spec §4.5) and a
// non-empty final message.
func BuildWriterDelegation(cfg harness.Config, client llm.Client, events eventlog.Store, registry *tools.Registry, writerActive func() bool, model string) *harness.Harness {
	cfg.WriterActive = writerActive
	validate := func(final string) error {
		if final == "" {
			return fmt.Errorf("workers: writer delegation must produce a non-empty final message")
		}
		return nil
	}
	return harness.New(cfg, client, registry, events, validate, model)
}

// WriterSynthesis performs pure composition with no tool calls: it asks
// the LLM to synthesize markdown directly from a set of section
// contents, returning content for writer.Runtime.CreateVersion.
func WriterSynthesis(ctx context.Context, client llm.Client, model string, sections map[string]string) (string, error) {
	var prompt string
	for id, content := range sections {
		prompt += fmt.Sprintf("## %s\n%s\n\n", id, content)
	}
	chunks, err := client.Generate(ctx, llm.GenerateInput{
		Model:    model,
		System:   "Synthesize the following section drafts into one coherent run document.",
		Messages: []llm.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", err
	}
	var out string
	for c := range chunks {
		if c.Kind == llm.ChunkText {
			out = c.Text
		}
		if c.Kind == llm.ChunkError {
			return "", c.Err
		}
	}
	return out, nil
}

// NewSandboxedRegistry builds the tool registry shared by researcher and
// terminal roles, wired to the run's writer document and message_writer
// callback. onMessageWriterSuccess lets the caller track whether the
// spec §4.5 "at least one successful message_writer call" precondition
// has been met for this run.
func NewSandboxedRegistry(sandbox *tools.Sandbox, wr *writer.Runtime, runID string, author writer.OverlayAuthor, writerModeActive func() bool, search tools.SearchProvider, onMessageWriterSuccess func()) *tools.Registry {
	return tools.NewRegistry(
		&tools.WebSearchTool{Provider: search},
		&tools.FetchURLTool{},
		&tools.FileReadTool{Sandbox: sandbox},
		&tools.FileWriteTool{Sandbox: sandbox, WriterModeActive: writerModeActive},
		&tools.FileEditTool{Sandbox: sandbox, WriterModeActive: writerModeActive},
		&tools.BashTool{Sandbox: sandbox},
		&tools.MessageWriterTool{Runtime: wr, RunID: runID, Author: author, OnSuccess: onMessageWriterSuccess},
	)
}
