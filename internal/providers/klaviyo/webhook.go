package klaviyo

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"esphub/internal/domain"
	"esphub/internal/util"
)

// Verifier checks a base64 HMAC-SHA256 of the raw body keyed by the shared
// webhook secret.
type Verifier struct {
	Secret []byte
}

func (v *Verifier) VerifySignature(body []byte, signature string, _ http.Header) bool {
	if len(v.Secret) == 0 || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, v.Secret)
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.TrimSpace(signature)))
}

func (v *Verifier) SignatureHeaderCandidates() []string {
	return []string{"klaviyo-webhook-signature", "x-klaviyo-signature"}
}

// Sign produces the header value a valid webhook would carry.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// metric names Klaviyo uses that do not contain a tracked keyword.
var aliases = map[string]string{
	"received email": "delivered",
}

// ExtractEvents maps a JSON:API event batch ({"data": [...]}) to provider
// events. Campaign ids come from relationships.campaign.data (one or many) or
// from the event properties Klaviyo attaches to flow and campaign sends.
func ExtractEvents(payload any, receivedAt time.Time) ([]domain.ProviderEvent, error) {
	root, ok := payload.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: expected object", domain.ErrUnsupportedPayload)
	}
	var items []any
	switch d := root["data"].(type) {
	case []any:
		items = d
	case map[string]any:
		items = []any{d}
	default:
		return nil, fmt.Errorf("%w: missing data", domain.ErrUnsupportedPayload)
	}
	accountID := util.String(root, []string{"meta", "account_id"})

	out := make([]domain.ProviderEvent, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if typ := util.String(obj, []string{"type"}); typ != "" && typ != "event" {
			return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedPayload, typ)
		}
		raw := util.String(obj,
			[]string{"attributes", "metric", "name"},
			[]string{"attributes", "metric_name"},
			[]string{"relationships", "metric", "data", "name"},
		)
		name := raw
		if alias, ok := aliases[strings.ToLower(raw)]; ok {
			name = alias
		}

		ev := domain.ProviderEvent{
			EventID: util.String(obj, []string{"id"}),
			Name:    name,
			RawName: raw,
			AccountID: firstNonEmpty(
				util.String(obj, []string{"attributes", "account_id"}),
				util.String(obj, []string{"relationships", "account", "data", "id"}),
				accountID,
			),
		}
		ev.CampaignIDs = util.Strings(util.Lookup(obj, "relationships", "campaign", "data"), "id")
		if len(ev.CampaignIDs) == 0 {
			if id := util.String(obj,
				[]string{"attributes", "event_properties", "$message"},
				[]string{"attributes", "event_properties", "campaign_id"},
			); id != "" {
				ev.CampaignIDs = []string{id}
			}
		}

		ev.OccurredAt = receivedAt
		for _, path := range [][]string{{"attributes", "datetime"}, {"attributes", "timestamp"}} {
			if t, ok := util.ParseTimestamp(util.Lookup(obj, path...)); ok {
				ev.OccurredAt = t
				break
			}
		}
		out = append(out, ev)
	}
	return out, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
