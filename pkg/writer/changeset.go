package writer

import (
	"context"
	"log/slog"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// ChangesetSummarizer produces the human-readable summary/impact for a
// newly created version. Its concrete implementation is an LLM call
// (outside this package's scope per spec §1's external-collaborator
// boundary); a deterministic fallback is provided for when none is
// configured.
type ChangesetSummarizer interface {
	Summarize(ctx context.Context, before, after string) (summary string, impact string, err error)
}

// noopSummarizer always reports the summary "content updated" with impact
// "low", used when no LLM summarizer is wired. The markdown AST diff goes
// into the changeset's op_taxonomy, not into this summary.
type noopSummarizer struct{}

func (noopSummarizer) Summarize(ctx context.Context, before, after string) (string, string, error) {
	return "content updated", "low", nil
}

// markdownStructure counts headings/paragraphs/list-items in md, parsed
// with goldmark — used to compute op_taxonomy cheaply before (optionally)
// handing a snippet to the LLM summarizer, per spec §4.4.
func markdownStructure(md string) map[string]int {
	counts := map[string]int{"heading": 0, "paragraph": 0, "list_item": 0}
	doc := goldmark.DefaultParser().Parse(text.NewReader([]byte(md)))
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch n.Kind() {
		case ast.KindHeading:
			counts["heading"]++
		case ast.KindParagraph:
			counts["paragraph"]++
		case ast.KindListItem:
			counts["list_item"]++
		}
		return ast.WalkContinue, nil
	})
	return counts
}

// diffTaxonomy merges the patch-op taxonomy with a structural before/after
// heading/paragraph delta, giving writer.run.changeset.op_taxonomy a
// richer shape than raw op counts alone.
func diffTaxonomy(ops []PatchOp, before, after string) map[string]int {
	t := opTaxonomy(ops)
	beforeCounts := markdownStructure(before)
	afterCounts := markdownStructure(after)
	for k, v := range afterCounts {
		if d := v - beforeCounts[k]; d != 0 {
			t["structural_"+k+"_delta"] = d
		}
	}
	return t
}

// runChangeset spawns the background changeset job for a newly created
// version. It must never block or fail the caller (spec §4.4): any error
// from the summarizer is logged and swallowed, and the resulting event is
// emitted best-effort via emit.
func runChangeset(summarizer ChangesetSummarizer, emit func(eventType string, payload map[string]any), runID string, targetVersionID uint64, before, after string, ops []PatchOp) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), defaultChangesetTimeout)
		defer cancel()

		summary, impact, err := summarizer.Summarize(ctx, before, after)
		if err != nil {
			slog.Warn("writer: changeset summarization failed", "run_id", runID, "error", err)
			return
		}

		emit("writer.run.changeset", map[string]any{
			"run_id":            runID,
			"target_version_id": targetVersionID,
			"summary":           summary,
			"impact":            impact,
			"op_taxonomy":       diffTaxonomy(ops, before, after),
		})
	}()
}
