package parse

import (
	"fmt"
	"strconv"
	"strings"
)

// String returns a record field as a string. List values yield their
// first element.
func String(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []string:
		if len(t) > 0 {
			return t[0]
		}
		return ""
	case []interface{}:
		if len(t) > 0 {
			return String(t[0])
		}
		return ""
	default:
		return fmt.Sprint(t)
	}
}

// StringList returns a record field as a list. Scalar values yield a
// one-element list, empty scalars an empty one.
func StringList(v interface{}) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case []string:
		return append([]string(nil), t...)
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, e := range t {
			out = append(out, String(e))
		}
		return out
	default:
		if s := String(t); s != "" {
			return []string{s}
		}
		return nil
	}
}

// Int64 returns a numeric record field. Digit grouping characters are
// ignored; non-numeric values are an error.
func Int64(v interface{}) (int64, error) {
	s := strings.NewReplacer(",", "", "_", "").Replace(strings.TrimSpace(String(v)))
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", String(v))
	}
	return n, nil
}
