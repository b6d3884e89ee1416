package lesson

import (
	"fmt"
	"strconv"
	"strings"
)

// str returns the first non-empty string found under keys. Numbers and
// booleans are rendered as text; anything else is ignored.
func str(m map[string]any, keys ...string) string {
	for _, k := range keys {
		v, ok := m[k]
		if !ok || v == nil {
			continue
		}
		var s string
		switch t := v.(type) {
		case string:
			s = t
		case bool:
			s = strconv.FormatBool(t)
		case float64:
			s = strconv.FormatFloat(t, 'f', -1, 64)
		case int:
			s = strconv.Itoa(t)
		default:
			continue
		}
		if strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

// num returns the first integer found under keys, or zero.
func num(m map[string]any, keys ...string) int {
	for _, k := range keys {
		switch t := m[k].(type) {
		case int:
			return t
		case float64:
			return int(t)
		case string:
			if n, err := strconv.Atoi(strings.TrimSpace(t)); err == nil {
				return n
			}
		}
	}
	return 0
}

// strs returns the string elements of the first list found under keys.
func strs(m map[string]any, keys ...string) []string {
	for _, k := range keys {
		list, ok := m[k].([]any)
		if !ok {
			continue
		}
		out := make([]string, 0, len(list))
		for _, v := range list {
			switch t := v.(type) {
			case string:
				out = append(out, t)
			case nil:
				out = append(out, "")
			default:
				out = append(out, fmt.Sprint(t))
			}
		}
		return out
	}
	return nil
}

// objects returns the mapping elements of the first list found under keys.
// Non-mapping elements are dropped.
func objects(m map[string]any, keys ...string) []map[string]any {
	for _, k := range keys {
		list, ok := m[k].([]any)
		if !ok {
			continue
		}
		out := make([]map[string]any, 0, len(list))
		for _, v := range list {
			if obj, ok := v.(map[string]any); ok {
				out = append(out, obj)
			}
		}
		return out
	}
	return nil
}
