package llm

import "context"

// Decision is the parsed, high-level outcome of a Fake turn: either a list
// of tool calls, a finished answer, or a blocked reason (the three
// decision kinds the harness must distinguish per spec §4.5 step 3).
type Decision struct {
	ToolCalls []ToolCall
	Finished  string
	Blocked   string
}

// Fake is a deterministic test double driven by a canned sequence of
// Decisions, one per call to Generate. It never actually streams partial
// chunks — it emits the whole decision as a single text/tool_call batch,
// which is sufficient to drive pkg/harness deterministically in tests.
type Fake struct {
	turns []Decision
	i     int
}

// NewFake returns a Client that replays turns in order, repeating the
// final turn if Generate is called more times than len(turns).
func NewFake(turns ...Decision) *Fake {
	return &Fake{turns: turns}
}

func (f *Fake) Generate(ctx context.Context, in GenerateInput) (<-chan Chunk, error) {
	d := f.next()
	ch := make(chan Chunk, 2)
	go func() {
		defer close(ch)
		if len(d.ToolCalls) > 0 {
			ch <- Chunk{Kind: ChunkToolCall, ToolCalls: d.ToolCalls}
		} else if d.Blocked != "" {
			ch <- Chunk{Kind: ChunkText, Text: "BLOCKED: " + d.Blocked}
		} else {
			ch <- Chunk{Kind: ChunkText, Text: "FINISHED: " + d.Finished}
		}
		ch <- Chunk{Kind: ChunkUsage, Usage: &Usage{InputTokens: 10, OutputTokens: 10}}
	}()
	return ch, nil
}

func (f *Fake) next() Decision {
	if f.i >= len(f.turns) {
		if len(f.turns) == 0 {
			return Decision{Finished: "no turns configured"}
		}
		return f.turns[len(f.turns)-1]
	}
	d := f.turns[f.i]
	f.i++
	return d
}
