package ghl

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"esphub/internal/providers/esphttp"
)

func decode(raw []byte, out any) error {
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode ghl response: %w", err)
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func splitScopes(s string) []string {
	return strings.Fields(s)
}

// rejection turns an auth failure into a validation verdict instead of an error.
func rejection(err error) (string, bool) {
	var se *esphttp.StatusError
	if errors.As(err, &se) && (se.Status == http.StatusUnauthorized || se.Status == http.StatusForbidden) {
		return "provider rejected the credentials", true
	}
	return "", false
}
