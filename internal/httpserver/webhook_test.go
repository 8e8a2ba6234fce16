package httpserver

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"esphub/internal/domain"
	"esphub/internal/providers/klaviyo"
	"esphub/internal/webhook"
)

const klaviyoBatch = `{"meta":{"account_id":"K1"},"data":[
	{"type":"event","id":"e1","attributes":{"metric_name":"Received Email","datetime":"2024-05-01T12:00:00Z"},
	 "relationships":{"campaign":{"data":{"id":"C1"}}}},
	{"type":"event","id":"e2","attributes":{"metric_name":"Opened Email","datetime":"2024-05-01T12:05:00Z"},
	 "relationships":{"campaign":{"data":{"id":"C1"}}}},
	{"type":"event","id":"e3","attributes":{"metric_name":"Viewed Product"},
	 "relationships":{"campaign":{"data":{"id":"C1"}}}}
]}`

func signed(body string) http.Header {
	return http.Header{"Klaviyo-Webhook-Signature": {klaviyo.Sign([]byte(whSecret), []byte(body))}}
}

func TestWebhookAppliesSignedBatch(t *testing.T) {
	h := newHarness(t, false)
	rec := h.do(t, http.MethodPost, "/webhooks/esp/klaviyo/events", klaviyoBatch, signed(klaviyoBatch))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var sum webhook.Summary
	decodeBody(t, rec, &sum)
	if sum.Updated != 2 || sum.Skipped != 1 || sum.Failed != 0 {
		t.Fatalf("summary: %+v", sum)
	}

	stats, err := h.mem.GetCampaignStats(context.Background(), "klaviyo", "K1", []string{"C1"})
	if err != nil {
		t.Fatal(err)
	}
	if st := stats["C1"]; st.DeliveredCount != 1 || st.OpenedCount != 1 {
		t.Fatalf("stats: %+v", st)
	}

	// Redelivery of the same batch is acknowledged but not counted again.
	rec = h.do(t, http.MethodPost, "/webhooks/esp/klaviyo/events", klaviyoBatch, signed(klaviyoBatch))
	decodeBody(t, rec, &sum)
	if rec.Code != http.StatusOK || sum.Updated != 0 || sum.Duplicates != 2 {
		t.Fatalf("redelivery: %d %+v", rec.Code, sum)
	}
}

func TestWebhookStatusCodes(t *testing.T) {
	h := newHarness(t, false)
	badJSON := `{"data":[`
	profile := `{"data":[{"type":"profile","id":"p1"}]}`

	cases := []struct {
		name   string
		path   string
		body   string
		header http.Header
		want   int
	}{
		{"tampered body", "/webhooks/esp/klaviyo/events", klaviyoBatch + " ", signed(klaviyoBatch), http.StatusUnauthorized},
		{"missing signature", "/webhooks/esp/klaviyo/events", klaviyoBatch, nil, http.StatusUnauthorized},
		{"malformed json", "/webhooks/esp/klaviyo/events", badJSON, signed(badJSON), http.StatusBadRequest},
		{"unsupported type", "/webhooks/esp/klaviyo/events", profile, signed(profile), http.StatusBadRequest},
		{"unknown family", "/webhooks/esp/klaviyo/nope", klaviyoBatch, signed(klaviyoBatch), http.StatusNotFound},
		{"unknown provider", "/webhooks/esp/mailchimp/events", klaviyoBatch, signed(klaviyoBatch), http.StatusNotFound},
		{"no webhook module", "/webhooks/esp/ghl/email-stats", `{}`, nil, http.StatusNotImplemented},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := h.do(t, http.MethodPost, tc.path, tc.body, tc.header)
			if rec.Code != tc.want {
				t.Fatalf("status %d want %d: %s", rec.Code, tc.want, rec.Body.String())
			}
		})
	}
}

func TestWebhookNotImplementedNamesCapability(t *testing.T) {
	h := newHarness(t, false)
	rec := h.do(t, http.MethodPost, "/webhooks/esp/ghl/email-stats", `{}`, nil)
	var body errorBody
	decodeBody(t, rec, &body)
	if body.Provider != "ghl" || body.Capability != string(domain.CapWebhook) {
		t.Fatalf("body: %+v", body)
	}
}

func TestWebhookBodyLimit(t *testing.T) {
	h := newHarness(t, false)
	s := New()
	(&Webhook{Pipeline: h.ic.Webhooks, MaxBodyBytes: 16}).Register(s.Mux)
	h.handler = s.Mux
	rec := h.do(t, http.MethodPost, "/webhooks/esp/klaviyo/events", klaviyoBatch, signed(klaviyoBatch))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status %d", rec.Code)
	}
}

type brokenBody struct{}

func (brokenBody) Read([]byte) (int, error) { return 0, io.ErrUnexpectedEOF }

func TestWebhookUnreadableBodyIsBadRequest(t *testing.T) {
	h := newHarness(t, false)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/esp/klaviyo/events", brokenBody{})
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d", rec.Code)
	}
	var body errorBody
	decodeBody(t, rec, &body)
	if body.Error != ErrBodyUnreadable {
		t.Fatalf("body %+v", body)
	}
}
