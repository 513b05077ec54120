package recipe

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// refPattern matches {{identifier}} and dotted paths like {{a.b.c}}.
var refPattern = regexp.MustCompile(`\{\{(\w+(?:\.\w+)*)\}\}`)

// Substitute replaces {{variable}} references in template with context
// values. Scalars become their string form; maps and lists become JSON. An
// undefined path produces an error naming the missing key and the keys
// available at that depth.
func Substitute(template string, context map[string]any) (string, error) {
	var substErr error
	result := refPattern.ReplaceAllStringFunc(template, func(match string) string {
		if substErr != nil {
			return match
		}
		ref := refPattern.FindStringSubmatch(match)[1]
		value, err := resolvePath(ref, context)
		if err != nil {
			substErr = err
			return match
		}
		return stringify(value)
	})
	if substErr != nil {
		return "", substErr
	}
	return result, nil
}

// SubstituteAny recursively substitutes template references in nested
// structures: strings are substituted directly, maps and lists are walked,
// and other values pass through unchanged. Used to assemble sub-recipe
// context from a step's context block.
func SubstituteAny(value any, context map[string]any) (any, error) {
	switch v := value.(type) {
	case string:
		return Substitute(v, context)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			sub, err := SubstituteAny(item, context)
			if err != nil {
				return nil, err
			}
			out[k] = sub
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			sub, err := SubstituteAny(item, context)
			if err != nil {
				return nil, err
			}
			out[i] = sub
		}
		return out, nil
	default:
		return value, nil
	}
}

// ResolveRef resolves a bare {{variable}} reference (such as a foreach
// expression) to its raw context value without stringifying it.
func ResolveRef(expr string, context map[string]any) (any, error) {
	match := refPattern.FindStringSubmatch(strings.TrimSpace(expr))
	if match == nil || match[0] != strings.TrimSpace(expr) {
		return nil, fmt.Errorf("invalid foreach syntax: %s", expr)
	}
	value, err := resolvePath(match[1], context)
	if err != nil {
		return nil, fmt.Errorf("undefined variable in foreach: %s", expr)
	}
	return value, nil
}

// resolvePath walks a dotted path through nested maps.
func resolvePath(ref string, context map[string]any) (any, error) {
	if !strings.Contains(ref, ".") {
		value, ok := context[ref]
		if !ok {
			return nil, fmt.Errorf("undefined variable {{%s}}; available variables: %s",
				ref, joinedKeys(context))
		}
		return value, nil
	}

	parts := strings.Split(ref, ".")
	var value any = context
	for i, part := range parts {
		m, ok := value.(map[string]any)
		if !ok {
			// Parent is not a map, likely a string from failed JSON parsing.
			parentPath := strings.Join(parts[:i], ".")
			return nil, fmt.Errorf(
				"cannot access '%s' on {{%s}}: it is a %T, not a map; "+
					"hint: the step producing '%s' may have failed to parse JSON, "+
					"check that it outputs clean JSON or add 'parse_json: true'",
				part, parentPath, value, parentPath)
		}
		next, ok := m[part]
		if !ok {
			at := strings.Join(parts[:i], ".")
			if at == "" {
				at = "root"
			}
			return nil, fmt.Errorf("undefined variable {{%s}}: key '%s' not found; available keys at '%s': %s",
				ref, part, at, joinedKeys(m))
		}
		value = next
	}
	return value, nil
}

// stringify renders a context value for inline substitution. Maps and lists
// become JSON so downstream parsing round-trips; nil becomes "null".
func stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return "null"
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case map[string]any, []any:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func joinedKeys(m map[string]any) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return strings.Join(keys, ", ")
}
