package util

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		name string
		in   any
		ok   bool
	}{
		{"rfc3339", "2024-05-01T12:00:00Z", true},
		{"seconds", float64(want.Unix()), true},
		{"millis", float64(want.UnixMilli()), true},
		{"seconds string", "1714564800", true},
		{"number", json.Number("1714564800"), true},
		{"zero string", "0", false},
		{"negative string", "-5", false},
		{"zero number", float64(0), false},
		{"negative json number", json.Number("-5"), false},
		{"empty", "", false},
		{"garbage", "yesterday", false},
		{"nil", nil, false},
	}
	for _, tc := range cases {
		got, ok := ParseTimestamp(tc.in)
		if ok != tc.ok {
			t.Fatalf("%s: ok=%v want %v", tc.name, ok, tc.ok)
		}
		if ok && !got.Equal(want) {
			t.Fatalf("%s: got %v want %v", tc.name, got, want)
		}
	}
}

func TestStringsAcceptsObjectsAndArrays(t *testing.T) {
	in := []any{map[string]any{"id": "c1"}, "c2", map[string]any{"other": "x"}}
	got := Strings(in, "id")
	if len(got) != 2 || got[0] != "c1" || got[1] != "c2" {
		t.Fatalf("got %v", got)
	}
	if got := Strings(map[string]any{"id": "c9"}, "id"); len(got) != 1 || got[0] != "c9" {
		t.Fatalf("single object: got %v", got)
	}
}

func TestStringFallsThroughPaths(t *testing.T) {
	doc := map[string]any{"webhookPayload": map[string]any{"campaignId": "abc"}}
	got := String(doc, []string{"campaignId"}, []string{"webhookPayload", "campaignId"})
	if got != "abc" {
		t.Fatalf("got %q", got)
	}
}

func TestStringKeepsLargeNumericIDs(t *testing.T) {
	doc := map[string]any{"id": json.Number("12345678901234567890")}
	if got := String(doc, []string{"id"}); got != "12345678901234567890" {
		t.Fatalf("got %q", got)
	}
}
