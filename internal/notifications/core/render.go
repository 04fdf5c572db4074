package core

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
)

var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.-]+)\s*\}\}`)

// FlattenVariables converts request variables into placeholder values. The
// entries of a nested "meta" object are lifted to the top level without
// overriding existing keys. Nested values beyond that are JSON-encoded.
func FlattenVariables(vars map[string]any) map[string]string {
	out := make(map[string]string, len(vars))
	for k, v := range vars {
		if k == "meta" {
			if _, isMap := v.(map[string]any); isMap {
				continue
			}
		}
		out[k] = stringify(v)
	}
	if meta, ok := vars["meta"].(map[string]any); ok {
		for k, v := range meta {
			if _, exists := out[k]; !exists {
				out[k] = stringify(v)
			}
		}
	}
	return out
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	default:
		return fmt.Sprint(t)
	}
}

// RenderTemplate replaces {{name}} placeholders with values from vars.
// Placeholders with no value are left as written. escape, when non-nil, is
// applied to every substituted value.
func RenderTemplate(tmpl string, vars map[string]string, escape func(string) string) string {
	if tmpl == "" {
		return ""
	}
	return placeholderRe.ReplaceAllStringFunc(tmpl, func(match string) string {
		name := placeholderRe.FindStringSubmatch(match)[1]
		v, ok := vars[name]
		if !ok {
			return match
		}
		if escape != nil {
			return escape(v)
		}
		return v
	})
}
