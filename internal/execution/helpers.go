package execution

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var templateRe = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// InterpolateTemplate replaces {{path.to.value}} placeholders with values
// resolved from inputs. Unresolvable placeholders are left as-is.
func InterpolateTemplate(template string, inputs map[string]any) string {
	if template == "" {
		return ""
	}

	return templateRe.ReplaceAllStringFunc(template, func(match string) string {
		path := strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(match, "{{"), "}}"))

		value := ResolvePath(inputs, path)
		if value == nil {
			return match
		}

		switch v := value.(type) {
		case string:
			return v
		case float64:
			if v == float64(int(v)) {
				return strconv.Itoa(int(v))
			}
			return fmt.Sprintf("%g", v)
		case int:
			return strconv.Itoa(v)
		case bool:
			return strconv.FormatBool(v)
		default:
			// Complex types are JSON encoded
			jsonBytes, err := json.Marshal(v)
			if err != nil {
				return match
			}
			return string(jsonBytes)
		}
	})
}

// InterpolateMapValues recursively interpolates template strings in map values
func InterpolateMapValues(data map[string]any, inputs map[string]any) map[string]any {
	result := make(map[string]any, len(data))
	for key, value := range data {
		result[key] = interpolateValue(value, inputs)
	}
	return result
}

func interpolateValue(value any, inputs map[string]any) any {
	switch v := value.(type) {
	case string:
		return InterpolateTemplate(v, inputs)
	case map[string]any:
		return InterpolateMapValues(v, inputs)
	case []any:
		result := make([]any, len(v))
		for i, elem := range v {
			result[i] = interpolateValue(elem, inputs)
		}
		return result
	default:
		return value
	}
}

// ResolvePath resolves a dot-notation path in a map.
// Supports: input.field, input.nested.field, input.items[0].field,
// and dot-notation numeric indexes (items.0.field).
func ResolvePath(data map[string]any, path string) any {
	parts := strings.Split(path, ".")
	var current any = data

	for _, part := range parts {
		if current == nil {
			return nil
		}

		// Array access: field[0]
		if idx := strings.Index(part, "["); idx != -1 {
			fieldName := part[:idx]
			indexStr := strings.TrimSuffix(part[idx+1:], "]")

			m, ok := current.(map[string]any)
			if !ok {
				return nil
			}
			current = m[fieldName]

			index, err := strconv.Atoi(indexStr)
			if err != nil {
				return nil
			}
			arr, ok := current.([]any)
			if !ok || index < 0 || index >= len(arr) {
				return nil
			}
			current = arr[index]
			continue
		}

		switch c := current.(type) {
		case map[string]any:
			val, exists := c[part]
			if !exists {
				return nil
			}
			current = val
		case []any:
			index, err := strconv.Atoi(part)
			if err != nil || index < 0 || index >= len(c) {
				return nil
			}
			current = c[index]
		default:
			return nil
		}
	}

	return current
}

// StripTemplateBraces removes a {{ }} wrapper from a path string.
// e.g. "{{fetch.data.message}}" → "fetch.data.message"
// Leaves non-template strings unchanged.
func StripTemplateBraces(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "{{") && strings.HasSuffix(s, "}}") {
		return strings.TrimSpace(s[2 : len(s)-2])
	}
	return s
}

// Config accessors. Node data maps come from JSON, so numbers are float64.

func getString(data map[string]any, key, defaultVal string) string {
	if v, ok := data[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return defaultVal
}

func getInt(data map[string]any, key string, defaultVal int) int {
	if v, ok := data[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case float64:
			return int(n)
		}
	}
	return defaultVal
}

func getFloat(data map[string]any, key string, defaultVal float64) float64 {
	if v, ok := data[key]; ok {
		switch f := v.(type) {
		case float64:
			return f
		case int:
			return float64(f)
		}
	}
	return defaultVal
}

func getMap(data map[string]any, key string) map[string]any {
	if v, ok := data[key]; ok {
		if m, ok := v.(map[string]any); ok {
			return m
		}
	}
	return nil
}
