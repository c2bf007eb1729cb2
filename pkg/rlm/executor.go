package rlm

import (
	"context"
	"fmt"

	"github.com/choir-run/choir/pkg/llm"
	"github.com/choir-run/choir/pkg/tools"
)

// ToolExecutor is the narrow surface the DAG executor needs from
// pkg/tools, to avoid a direct dependency cycle concern and keep this
// package independently testable.
type ToolExecutor interface {
	Execute(ctx context.Context, call tools.Call) tools.Result
}

// LlmCaller is the narrow surface the DAG executor needs from an LLM
// client for LlmCall steps.
type LlmCaller interface {
	Generate(ctx context.Context, in llm.GenerateInput) (<-chan llm.Chunk, error)
}

// EmitFunc sends a message to the parent actor (spec §4.6 Emit step).
type EmitFunc func(text string)

// Executor runs a Program to completion. Steps execute in topological
// order; tool/LLM step failures do NOT abort the DAG — they are recorded
// so downstream Gates can react (spec §4.6).
type Executor struct {
	Tools ToolExecutor
	LLM   LlmCaller
	Model string
	Emit  EmitFunc
}

// Run executes every step of p in dependency order and returns one
// StepResult per step, in execution order.
func (x *Executor) Run(ctx context.Context, p *Program) ([]StepResult, error) {
	outputs := make(map[string]string, len(p.order))
	gates := make(map[string]bool, len(p.order))
	var results []StepResult

	for _, id := range p.order {
		step := p.byID[id]

		if step.Condition != "" && !gates[step.Condition] {
			results = append(results, StepResult{StepID: id, Skipped: true, Success: true})
			continue
		}

		res := x.runStep(ctx, step, outputs)
		outputs[id] = res.Output
		if res.GateValue != nil {
			gates[id] = *res.GateValue
		}
		results = append(results, res)
	}

	return results, nil
}

func (x *Executor) runStep(ctx context.Context, step *Step, outputs map[string]string) StepResult {
	switch step.Op {
	case OpToolCall:
		args := make(map[string]any, len(step.Args))
		for k, v := range step.Args {
			if s, ok := v.(string); ok {
				args[k] = substitute(s, outputs)
			} else {
				args[k] = v
			}
		}
		res := x.Tools.Execute(ctx, tools.Call{Name: step.ToolName, Arguments: args})
		if !res.Success {
			return StepResult{StepID: step.ID, Success: false, Output: res.Output, Err: fmt.Errorf("%s", res.Error)}
		}
		return StepResult{StepID: step.ID, Success: true, Output: res.Output}

	case OpLlmCall:
		prompt := substitute(step.Prompt, outputs)
		chunks, err := x.LLM.Generate(ctx, llm.GenerateInput{Model: x.Model, Messages: []llm.Message{{Role: "user", Content: prompt}}})
		if err != nil {
			return StepResult{StepID: step.ID, Success: false, Err: err}
		}
		var text string
		for c := range chunks {
			if c.Kind == llm.ChunkText {
				text = c.Text
			}
			if c.Kind == llm.ChunkError {
				return StepResult{StepID: step.ID, Success: false, Err: c.Err}
			}
		}
		return StepResult{StepID: step.ID, Success: true, Output: text}

	case OpTransform:
		input := substitute(step.TransformArg, outputs)
		// For template, TransformArg already *is* the template text.
		if step.TransformOp == "template" {
			input = step.TransformArg
		}
		out, err := applyTransform(step.TransformOp, input, outputs[firstDep(step)])
		if step.TransformOp == "template" {
			out = substitute(step.TransformArg, outputs)
			err = nil
		}
		if err != nil {
			return StepResult{StepID: step.ID, Success: false, Err: err}
		}
		return StepResult{StepID: step.ID, Success: true, Output: out}

	case OpGate:
		against := outputs[firstDep(step)]
		v := evalGate(step.GateOp, step.GateValue, against)
		return StepResult{StepID: step.ID, Success: true, GateValue: &v, Output: fmt.Sprintf("%v", v)}

	case OpEmit:
		text := substitute(step.EmitText, outputs)
		if x.Emit != nil {
			x.Emit(text)
		}
		return StepResult{StepID: step.ID, Success: true, Output: text}

	case OpEval:
		return StepResult{StepID: step.ID, Success: false, Err: ErrEvalNotWired}

	default:
		return StepResult{StepID: step.ID, Success: false, Err: fmt.Errorf("rlm: unknown step op %q", step.Op)}
	}
}

func firstDep(step *Step) string {
	if len(step.DependsOn) == 0 {
		return ""
	}
	return step.DependsOn[0]
}
