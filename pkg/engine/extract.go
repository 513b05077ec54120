package engine

import (
	"encoding/json"
	"regexp"
	"strings"
)

var fencedBlockPattern = regexp.MustCompile("(?s)```(?:json)?\\s*\\n(.*?)```")

// ExtractJSON recovers structured data from agent text output.
//
// Conservative mode parses the whole string as JSON only when it is strictly
// valid after trimming, otherwise the original string comes back unchanged.
// Aggressive mode (parse_json steps, and bash output as a fallback) tries
// harder: whole string, then fenced code blocks, then a greedy scan for the
// first top-level object or array. Prose without embedded JSON always comes
// back as the original string.
func ExtractJSON(text string, aggressive bool) any {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return text
	}

	if v, ok := parseStrict(trimmed); ok {
		return v
	}
	if !aggressive {
		return text
	}

	for _, match := range fencedBlockPattern.FindAllStringSubmatch(trimmed, -1) {
		if v, ok := parseStrict(strings.TrimSpace(match[1])); ok {
			return v
		}
	}

	if v, ok := scanForJSON(trimmed); ok {
		return v
	}
	return text
}

// parseStrict accepts a single JSON value that spans the entire string:
// objects, arrays, and bare scalars like 42 or true. Anything with trailing
// content beyond the value is left alone.
func parseStrict(s string) (any, bool) {
	var v any
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}
	// Reject trailing garbage.
	if strings.TrimSpace(s[dec.InputOffset():]) != "" {
		return nil, false
	}
	return normalizeNumbers(v), true
}

// scanForJSON finds the first top-level { or [ and greedily decodes from
// there, ignoring whatever trails the decoded value.
func scanForJSON(s string) (any, bool) {
	for i := 0; i < len(s); i++ {
		if s[i] != '{' && s[i] != '[' {
			continue
		}
		dec := json.NewDecoder(strings.NewReader(s[i:]))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err == nil {
			switch v.(type) {
			case map[string]any, []any:
				return normalizeNumbers(v), true
			}
		}
	}
	return nil, false
}

// normalizeNumbers converts json.Number values into int64 where exact, else
// float64, so downstream template stringification and condition evaluation
// see ordinary Go numbers.
func normalizeNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]any:
		for k, vv := range t {
			t[k] = normalizeNumbers(vv)
		}
		return t
	case []any:
		for i, vv := range t {
			t[i] = normalizeNumbers(vv)
		}
		return t
	default:
		return v
	}
}
