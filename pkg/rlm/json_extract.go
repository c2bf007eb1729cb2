package rlm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// jsonExtract walks a dotted path ("a.b.c") through a JSON document.
func jsonExtract(doc, path string) (string, error) {
	var v any
	if err := json.Unmarshal([]byte(doc), &v); err != nil {
		return "", fmt.Errorf("rlm: json_extract: invalid json: %w", err)
	}
	for _, part := range strings.Split(path, ".") {
		m, ok := v.(map[string]any)
		if !ok {
			return "", fmt.Errorf("rlm: json_extract: %q is not an object", part)
		}
		v, ok = m[part]
		if !ok {
			return "", fmt.Errorf("rlm: json_extract: field %q not found", part)
		}
	}
	switch t := v.(type) {
	case string:
		return t, nil
	default:
		b, err := json.Marshal(t)
		return string(b), err
	}
}
