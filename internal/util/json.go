package util

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Lookup walks nested JSON maps by key path. It returns nil when any step is
// missing or not an object.
func Lookup(v any, path ...string) any {
	cur := v
	for _, p := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = m[p]
		if !ok {
			return nil
		}
	}
	return cur
}

// String returns the first path that resolves to a non-empty string or number.
func String(v any, paths ...[]string) string {
	for _, p := range paths {
		switch x := Lookup(v, p...).(type) {
		case string:
			if s := strings.TrimSpace(x); s != "" {
				return s
			}
		case json.Number:
			return x.String()
		case float64:
			return strconv.FormatFloat(x, 'f', -1, 64)
		}
	}
	return ""
}

// Strings collects string values from a JSON value that is a string, or an
// array of strings or of objects carrying idKey.
func Strings(v any, idKey string) []string {
	switch x := v.(type) {
	case string:
		if s := strings.TrimSpace(x); s != "" {
			return []string{s}
		}
	case map[string]any:
		if s := String(x, []string{idKey}); s != "" {
			return []string{s}
		}
	case []any:
		var out []string
		for _, item := range x {
			out = append(out, Strings(item, idKey)...)
		}
		return out
	}
	return nil
}

// ParseTimestamp accepts RFC3339 strings and unix epochs in seconds or
// milliseconds, as string or number. ok is false when nothing parses or the
// epoch is not positive.
func ParseTimestamp(v any) (time.Time, bool) {
	switch x := v.(type) {
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return time.Time{}, false
		}
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t.UTC(), true
		}
		return epoch(strconv.ParseFloat(s, 64))
	case json.Number:
		return epoch(x.Float64())
	case float64:
		return epoch(x, nil)
	}
	return time.Time{}, false
}

// epochs above this are treated as milliseconds (year 5138 in seconds).
const msThreshold = 1e11

func epoch(n float64, err error) (time.Time, bool) {
	if err != nil || n <= 0 {
		return time.Time{}, false
	}
	return fromEpoch(n), true
}

func fromEpoch(n float64) time.Time {
	if n >= msThreshold {
		return time.UnixMilli(int64(n)).UTC()
	}
	return time.Unix(int64(n), 0).UTC()
}
