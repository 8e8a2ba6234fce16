package ghl

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"esphub/internal/domain"
	"esphub/internal/util"
)

// Verifier checks HighLevel's base64 RSA-SHA256 (PKCS#1 v1.5) signature over
// the raw request body.
type Verifier struct {
	key *rsa.PublicKey
}

func NewVerifier(publicKeyPEM string) (*Verifier, error) {
	block, _ := pem.Decode([]byte(strings.TrimSpace(publicKeyPEM)))
	if block == nil {
		return nil, errors.New("no PEM block found")
	}
	var pub any
	var err error
	switch block.Type {
	case "RSA PUBLIC KEY":
		pub, err = x509.ParsePKCS1PublicKey(block.Bytes)
	default:
		pub, err = x509.ParsePKIXPublicKey(block.Bytes)
	}
	if err != nil {
		return nil, err
	}
	key, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("expected RSA public key, got %T", pub)
	}
	return &Verifier{key: key}, nil
}

func (v *Verifier) VerifySignature(body []byte, signature string, _ http.Header) bool {
	if v == nil || v.key == nil || signature == "" {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	sum := sha256.Sum256(body)
	return rsa.VerifyPKCS1v15(v.key, crypto.SHA256, sum[:], sig) == nil
}

func (v *Verifier) SignatureHeaderCandidates() []string {
	return []string{"x-wh-signature", "x-ghl-signature"}
}

const emailStatsType = "LCEmailStats"

// ExtractEmailStats maps an LCEmailStats webhook (a single object or an array
// of them) to provider events. An event may reference its campaign at the top
// level, inside webhookPayload, or as a campaigns array naming several.
func ExtractEmailStats(payload any, receivedAt time.Time) ([]domain.ProviderEvent, error) {
	var items []any
	switch p := payload.(type) {
	case map[string]any:
		items = []any{p}
	case []any:
		items = p
	default:
		return nil, fmt.Errorf("%w: expected object or array", domain.ErrUnsupportedPayload)
	}

	out := make([]domain.ProviderEvent, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: array element is not an object", domain.ErrUnsupportedPayload)
		}
		if typ := util.String(obj, []string{"type"}); typ != "" && typ != emailStatsType {
			return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedPayload, typ)
		}

		name := util.String(obj, []string{"webhookPayload", "event"}, []string{"event"})
		ev := domain.ProviderEvent{
			EventID:   util.String(obj, []string{"webhookPayload", "id"}, []string{"id"}),
			Name:      name,
			RawName:   name,
			AccountID: util.String(obj, []string{"locationId"}, []string{"webhookPayload", "locationId"}),
		}

		if id := util.String(obj, []string{"campaignId"}, []string{"webhookPayload", "campaignId"}); id != "" {
			ev.CampaignIDs = append(ev.CampaignIDs, id)
		}
		ev.CampaignIDs = appendUnique(ev.CampaignIDs, util.Strings(util.Lookup(obj, "campaigns"), "id")...)

		ev.OccurredAt = receivedAt
		for _, path := range [][]string{{"webhookPayload", "timestamp"}, {"timestamp"}, {"dateAdded"}} {
			if t, ok := util.ParseTimestamp(util.Lookup(obj, path...)); ok {
				ev.OccurredAt = t
				break
			}
		}
		out = append(out, ev)
	}
	return out, nil
}

func appendUnique(dst []string, ids ...string) []string {
	for _, id := range ids {
		dup := false
		for _, have := range dst {
			if have == id {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, id)
		}
	}
	return dst
}
