package klaviyo

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"esphub/internal/domain"
	"esphub/internal/providers"
	"esphub/internal/providers/esphttp"
	"esphub/internal/util"
)

type client struct {
	http *esphttp.Client
}

func apiKey(key string) esphttp.Auth {
	return esphttp.Header("Authorization", "Klaviyo-API-Key "+key)
}

// resource is the JSON:API envelope element Klaviyo returns.
type resource struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Attributes map[string]any `json:"attributes"`
}

type list struct {
	Data []resource `json:"data"`
}

type contacts struct {
	client   *client
	resolver *providers.CredentialResolver
}

func (m *contacts) ResolveCredentials(ctx context.Context, accountKey string) (*domain.Credentials, error) {
	return m.resolver.ResolveCredentials(ctx, accountKey)
}

func (m *contacts) ListContacts(ctx context.Context, creds domain.Credentials, limit int) ([]domain.Contact, error) {
	q := url.Values{}
	if limit > 0 {
		if limit > 100 {
			limit = 100
		}
		q.Set("page[size]", strconv.Itoa(limit))
	}
	var resp list
	if err := m.client.http.JSON(ctx, http.MethodGet, "/profiles/", q, nil, apiKey(creds.AccessToken), &resp); err != nil {
		return nil, err
	}
	out := make([]domain.Contact, 0, len(resp.Data))
	for _, r := range resp.Data {
		out = append(out, domain.Contact{
			ID:         r.ID,
			Email:      util.String(r.Attributes, []string{"email"}),
			FirstName:  util.String(r.Attributes, []string{"first_name"}),
			LastName:   util.String(r.Attributes, []string{"last_name"}),
			Provider:   Provider,
			AccountKey: creds.AccountKey,
		})
	}
	return out, nil
}

type campaigns struct{ client *client }

func (m *campaigns) FetchCampaigns(ctx context.Context, creds domain.Credentials) ([]domain.Campaign, error) {
	q := url.Values{"filter": {"equals(messages.channel,'email')"}}
	var resp list
	if err := m.client.http.JSON(ctx, http.MethodGet, "/campaigns/", q, nil, apiKey(creds.AccessToken), &resp); err != nil {
		return nil, err
	}
	out := make([]domain.Campaign, 0, len(resp.Data))
	for _, r := range resp.Data {
		c := domain.Campaign{
			ID:         r.ID,
			Name:       util.String(r.Attributes, []string{"name"}),
			Status:     util.String(r.Attributes, []string{"status"}),
			Provider:   Provider,
			AccountKey: creds.AccountKey,
			AccountID:  creds.ScopedID(),
		}
		if t, ok := util.ParseTimestamp(util.Lookup(r.Attributes, "send_time")); ok {
			c.SentAt = &t
		}
		out = append(out, c)
	}
	return out, nil
}

var statistics = []string{"delivered", "opens_unique", "clicks_unique", "bounced", "spam_complaints", "unsubscribes"}

// FetchAnalytics reads all-time campaign totals from the values report.
func (m *campaigns) FetchAnalytics(ctx context.Context, creds domain.Credentials, campaignID string) (domain.CampaignAnalytics, error) {
	body := map[string]any{
		"data": map[string]any{
			"type": "campaign-values-report",
			"attributes": map[string]any{
				"statistics": statistics,
				"timeframe":  map[string]any{"key": "last_365_days"},
				"filter":     "equals(campaign_id,\"" + campaignID + "\")",
			},
		},
	}
	var resp struct {
		Data struct {
			Attributes struct {
				Results []struct {
					Statistics map[string]float64 `json:"statistics"`
				} `json:"results"`
			} `json:"attributes"`
		} `json:"data"`
	}
	if err := m.client.http.JSON(ctx, http.MethodPost, "/campaign-values-reports/", nil, body, apiKey(creds.AccessToken), &resp); err != nil {
		return domain.CampaignAnalytics{}, err
	}
	a := domain.CampaignAnalytics{CampaignID: campaignID}
	for _, r := range resp.Data.Attributes.Results {
		a.Delivered += int64(r.Statistics["delivered"])
		a.Opened += int64(r.Statistics["opens_unique"])
		a.Clicked += int64(r.Statistics["clicks_unique"])
		a.Bounced += int64(r.Statistics["bounced"])
		a.Complained += int64(r.Statistics["spam_complaints"])
		a.Unsubscribed += int64(r.Statistics["unsubscribes"])
	}
	return a, nil
}

type templates struct{ client *client }

func (m *templates) CreateTemplate(ctx context.Context, creds domain.Credentials, in domain.TemplateInput) (domain.TemplateRef, error) {
	body := map[string]any{
		"data": map[string]any{
			"type": "template",
			"attributes": map[string]any{
				"name":        in.Name,
				"editor_type": "CODE",
				"html":        in.HTML,
			},
		},
	}
	var resp struct {
		Data resource `json:"data"`
	}
	if err := m.client.http.JSON(ctx, http.MethodPost, "/templates/", nil, body, apiKey(creds.AccessToken), &resp); err != nil {
		return domain.TemplateRef{}, err
	}
	name := util.String(resp.Data.Attributes, []string{"name"})
	if name == "" {
		name = in.Name
	}
	return domain.TemplateRef{ID: resp.Data.ID, Name: name}, nil
}

// validation checks a private key by reading the account it belongs to.
type validation struct{ client *client }

func (m *validation) Validate(ctx context.Context, in domain.APIKeyInput) (domain.ValidationResult, error) {
	if in.APIKey == "" {
		return domain.ValidationResult{Valid: false, Reason: "apiKey is required"}, nil
	}
	var resp list
	err := m.client.http.JSON(ctx, http.MethodGet, "/accounts/", nil, nil, apiKey(in.APIKey), &resp)
	var se *esphttp.StatusError
	if errors.As(err, &se) && (se.Status == http.StatusUnauthorized || se.Status == http.StatusForbidden) {
		return domain.ValidationResult{Valid: false, Reason: "provider rejected the credentials"}, nil
	}
	if err != nil {
		return domain.ValidationResult{}, err
	}
	if len(resp.Data) == 0 {
		return domain.ValidationResult{Valid: false, Reason: "no account visible to this key"}, nil
	}
	acc := resp.Data[0]
	return domain.ValidationResult{
		Valid:       true,
		AccountID:   acc.ID,
		AccountName: util.String(acc.Attributes, []string{"contact_information", "organization_name"}),
	}, nil
}
