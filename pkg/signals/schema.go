package signals

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// reportSchemaDoc is the compiled-once JSON Schema for a raw
// WorkerTurnReport payload, validated before it is parsed into typed
// signals — the same "compile once, validate many" shape the teacher
// uses for masking patterns (pkg/masking/service.go).
const reportSchemaDoc = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["turn_id", "task_id", "worker_id", "worker_role", "status"],
  "properties": {
    "turn_id": {"type": "string", "minLength": 1},
    "task_id": {"type": "string", "minLength": 1},
    "worker_id": {"type": "string", "minLength": 1},
    "worker_role": {"type": "string", "minLength": 1},
    "status": {"enum": ["Running", "Completed", "Failed", "Blocked"]},
    "summary": {"type": "string"},
    "findings": {"type": "array"},
    "learnings": {"type": "array"},
    "escalations": {"type": "array"},
    "artifacts": {"type": "array"}
  }
}`

var reportSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("report.json", strings.NewReader(reportSchemaDoc)); err != nil {
		panic(fmt.Sprintf("signals: compiling report schema: %v", err))
	}
	schema, err := compiler.Compile("report.json")
	if err != nil {
		panic(fmt.Sprintf("signals: compiling report schema: %v", err))
	}
	return schema
}

// ValidateReportPayload checks a raw WorkerTurnReport payload against the
// compiled schema before it is decoded into typed signals. A failure here
// corresponds to spec §4.8's InvalidPayload rejection at the report
// level (distinct from per-signal InvalidPayload, which covers an
// individual empty claim/insight/reason/reference).
func ValidateReportPayload(raw []byte) error {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("signals: invalid json: %w", err)
	}
	if err := reportSchema.Validate(doc); err != nil {
		return fmt.Errorf("signals: schema validation failed: %w", err)
	}
	return nil
}
