package engine

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

const (
	// maxOutputBytes is the size above which values are truncated when
	// returned outwards. Full results always remain on disk in the session
	// directory.
	maxOutputBytes = 10000
	previewBytes   = 500
)

// Summarize builds the compact result payload returned to callers after a
// completed run: reserved metadata, the final output, the available output
// keys, and a pointer to the session directory holding the full state.
func (e *Executor) Summarize(rs *runState) map[string]any {
	summary := map[string]any{
		"session": rs.context["session"],
		"recipe_metadata": map[string]any{
			"name":    rs.recipe.Name,
			"version": rs.recipe.Version,
		},
	}

	if stepMeta, ok := rs.context["step"].(map[string]any); ok {
		summary["last_step"] = stepMeta["id"]
		if stage, ok := stepMeta["stage"]; ok {
			summary["last_stage"] = stage
		}
	}

	if skipped, ok := rs.context["_skipped_steps"].([]any); ok && len(skipped) > 0 {
		summary["skipped_steps"] = skipped
	}

	finalKey := "final_output"
	if _, ok := rs.context[finalKey]; !ok {
		finalKey = rs.recipe.LastOutputKey()
	}
	if finalKey != "" {
		if v, ok := rs.context[finalKey]; ok {
			summary["final_output"] = TruncateValue(v)
			summary["final_output_key"] = finalKey
		}
	}

	var outputs []string
	for k := range rs.context {
		if strings.HasPrefix(k, "_") {
			continue
		}
		switch k {
		case "recipe", "session", "step", "stage":
			continue
		}
		outputs = append(outputs, k)
	}
	sort.Strings(outputs)
	summary["available_outputs"] = outputs
	summary["full_results_location"] = e.store.SessionDir(rs.sessionID, e.projectPath)

	return summary
}

// TruncateValue applies the oversized-output policy: strings are cut with a
// trailing marker; maps and lists too large to inline are replaced by a
// small envelope describing what was withheld.
func TruncateValue(v any) any {
	switch t := v.(type) {
	case string:
		if len(t) <= maxOutputBytes {
			return t
		}
		return t[:maxOutputBytes] + "... [truncated]"
	case map[string]any, []any:
		data, err := json.Marshal(t)
		if err != nil || len(data) <= maxOutputBytes {
			return t
		}
		preview := string(data)
		if len(preview) > previewBytes {
			preview = preview[:previewBytes]
		}
		return map[string]any{
			"_truncated":       true,
			"_type":            fmt.Sprintf("%T", t),
			"_full_size_bytes": len(data),
			"_preview":         preview,
			"_message":         "result too large to return inline, full value stored in the session directory",
		}
	default:
		return v
	}
}
