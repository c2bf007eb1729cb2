package writer

import (
	"fmt"
)

// PatchOpKind discriminates the PatchOp sum type (spec §3).
type PatchOpKind string

const (
	OpInsert  PatchOpKind = "insert"
	OpDelete  PatchOpKind = "delete"
	OpReplace PatchOpKind = "replace"
	OpRetain  PatchOpKind = "retain"
	OpAppend  PatchOpKind = "append"
)

// PatchOp is a single typed diff primitive. Positions/ranges are
// character (codepoint) offsets into the content as left by the
// preceding ops in the same list (the parent version content for the
// first op). Only the fields relevant to Kind are populated.
type PatchOp struct {
	Kind     PatchOpKind `json:"kind"`
	Position int         `json:"position,omitempty"` // Insert
	Start    int         `json:"start,omitempty"`    // Delete, Replace
	End      int         `json:"end,omitempty"`      // Delete, Replace
	Text     string      `json:"text,omitempty"`     // Insert, Replace, Append
	Count    int         `json:"count,omitempty"`    // Retain
}

// ApplyPatches applies ops to content in order and returns the result.
// Retain changes nothing, since each op carries its own offsets; Append
// is equivalent to Insert at end. Application is deterministic. The int
// result counts the ops that changed the content.
func ApplyPatches(content string, ops []PatchOp) (string, int, error) {
	runes := []rune(content)
	modified := 0

	for _, op := range ops {
		switch op.Kind {
		case OpRetain:
			// no-op on content

		case OpAppend:
			runes = append(runes, []rune(op.Text)...)
			modified++

		case OpInsert:
			if op.Position < 0 || op.Position > len(runes) {
				return "", 0, fmt.Errorf("writer: insert position %d out of range [0,%d]", op.Position, len(runes))
			}
			out := make([]rune, 0, len(runes)+len([]rune(op.Text)))
			out = append(out, runes[:op.Position]...)
			out = append(out, []rune(op.Text)...)
			out = append(out, runes[op.Position:]...)
			runes = out
			modified++

		case OpDelete:
			if err := validateRange(op.Start, op.End, len(runes)); err != nil {
				return "", 0, err
			}
			out := make([]rune, 0, len(runes)-(op.End-op.Start))
			out = append(out, runes[:op.Start]...)
			out = append(out, runes[op.End:]...)
			runes = out
			modified++

		case OpReplace:
			if err := validateRange(op.Start, op.End, len(runes)); err != nil {
				return "", 0, err
			}
			out := make([]rune, 0, len(runes)-(op.End-op.Start)+len([]rune(op.Text)))
			out = append(out, runes[:op.Start]...)
			out = append(out, []rune(op.Text)...)
			out = append(out, runes[op.End:]...)
			runes = out
			modified++

		default:
			return "", 0, fmt.Errorf("writer: unknown patch op kind %q", op.Kind)
		}
	}

	return string(runes), modified, nil
}

func validateRange(start, end, length int) error {
	if start < 0 || end < start || end > length {
		return fmt.Errorf("writer: invalid range [%d,%d) for content of length %d", start, end, length)
	}
	return nil
}

// opTaxonomy is a coarse structural summary of a PatchOp list, used as a
// cheap pre-pass before a version's changeset is handed to the LLM
// summarizer.
func opTaxonomy(ops []PatchOp) map[string]int {
	t := make(map[string]int)
	for _, op := range ops {
		t[string(op.Kind)]++
	}
	return t
}
