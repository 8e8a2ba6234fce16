package ghl

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"esphub/internal/domain"
	"esphub/internal/providers"
	"esphub/internal/providers/esphttp"
	"esphub/internal/util"
)

type client struct {
	http *esphttp.Client
}

func (c *client) get(ctx context.Context, creds domain.Credentials, path string, q url.Values, out any) error {
	return c.http.JSON(ctx, http.MethodGet, path, q, nil, esphttp.Bearer(creds.AccessToken), out)
}

func locationQuery(creds domain.Credentials) url.Values {
	return url.Values{"locationId": {creds.ScopedID()}}
}

type contacts struct {
	client   *client
	resolver *providers.CredentialResolver
}

func (m *contacts) ResolveCredentials(ctx context.Context, accountKey string) (*domain.Credentials, error) {
	return m.resolver.ResolveCredentials(ctx, accountKey)
}

func (m *contacts) ListContacts(ctx context.Context, creds domain.Credentials, limit int) ([]domain.Contact, error) {
	q := locationQuery(creds)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp struct {
		Contacts []struct {
			ID        string `json:"id"`
			Email     string `json:"email"`
			FirstName string `json:"firstName"`
			LastName  string `json:"lastName"`
		} `json:"contacts"`
	}
	if err := m.client.get(ctx, creds, "/contacts/", q, &resp); err != nil {
		return nil, err
	}
	out := make([]domain.Contact, 0, len(resp.Contacts))
	for _, c := range resp.Contacts {
		out = append(out, domain.Contact{
			ID: c.ID, Email: c.Email, FirstName: c.FirstName, LastName: c.LastName,
			Provider: Provider, AccountKey: creds.AccountKey,
		})
	}
	return out, nil
}

type campaigns struct{ client *client }

type schedule struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	SentAt    any    `json:"sentAt"`
	UpdatedAt any    `json:"updatedAt"`
}

func (m *campaigns) FetchCampaigns(ctx context.Context, creds domain.Credentials) ([]domain.Campaign, error) {
	var resp struct {
		Schedules []schedule `json:"schedules"`
	}
	if err := m.client.get(ctx, creds, "/emails/schedule", locationQuery(creds), &resp); err != nil {
		return nil, err
	}
	out := make([]domain.Campaign, 0, len(resp.Schedules))
	for _, s := range resp.Schedules {
		c := domain.Campaign{
			ID: s.ID, Name: s.Name, Status: s.Status,
			Provider: Provider, AccountKey: creds.AccountKey, AccountID: creds.ScopedID(),
		}
		if t, ok := util.ParseTimestamp(s.SentAt); ok {
			c.SentAt = &t
		}
		out = append(out, c)
	}
	return out, nil
}

func (m *campaigns) FetchAnalytics(ctx context.Context, creds domain.Credentials, campaignID string) (domain.CampaignAnalytics, error) {
	var resp struct {
		Delivered    int64 `json:"delivered"`
		Opened       int64 `json:"opened"`
		Clicked      int64 `json:"clicked"`
		Bounced      int64 `json:"bounced"`
		Complained   int64 `json:"complained"`
		Unsubscribed int64 `json:"unsubscribed"`
		FirstSentAt  any   `json:"firstSentAt"`
		LastEventAt  any   `json:"lastEventAt"`
	}
	path := "/emails/schedule/" + url.PathEscape(campaignID) + "/stats"
	if err := m.client.get(ctx, creds, path, locationQuery(creds), &resp); err != nil {
		return domain.CampaignAnalytics{}, err
	}
	a := domain.CampaignAnalytics{
		CampaignID: campaignID,
		Delivered:  resp.Delivered, Opened: resp.Opened, Clicked: resp.Clicked,
		Bounced: resp.Bounced, Complained: resp.Complained, Unsubscribed: resp.Unsubscribed,
	}
	if t, ok := util.ParseTimestamp(resp.FirstSentAt); ok {
		a.FirstSentAt = &t
	}
	if t, ok := util.ParseTimestamp(resp.LastEventAt); ok {
		a.LastEventAt = &t
	}
	return a, nil
}

type workflows struct{ client *client }

func (m *workflows) FetchWorkflows(ctx context.Context, creds domain.Credentials) ([]domain.Workflow, error) {
	var resp struct {
		Workflows []struct {
			ID     string `json:"id"`
			Name   string `json:"name"`
			Status string `json:"status"`
		} `json:"workflows"`
	}
	if err := m.client.get(ctx, creds, "/workflows/", locationQuery(creds), &resp); err != nil {
		return nil, err
	}
	out := make([]domain.Workflow, 0, len(resp.Workflows))
	for _, w := range resp.Workflows {
		out = append(out, domain.Workflow{ID: w.ID, Name: w.Name, Status: w.Status, Provider: Provider, AccountKey: creds.AccountKey})
	}
	return out, nil
}

type templates struct{ client *client }

func (m *templates) CreateTemplate(ctx context.Context, creds domain.Credentials, in domain.TemplateInput) (domain.TemplateRef, error) {
	body := map[string]any{
		"locationId": creds.ScopedID(),
		"title":      in.Name,
		"type":       "html",
		"html":       in.HTML,
	}
	if in.Subject != "" {
		body["subject"] = in.Subject
	}
	var resp struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := m.client.http.JSON(ctx, http.MethodPost, "/emails/builder", nil, body, esphttp.Bearer(creds.AccessToken), &resp); err != nil {
		return domain.TemplateRef{}, err
	}
	name := resp.Name
	if name == "" {
		name = in.Name
	}
	return domain.TemplateRef{ID: resp.ID, Name: name}, nil
}

type media struct{ client *client }

func (m *media) UploadMedia(ctx context.Context, creds domain.Credentials, in domain.MediaUpload) (domain.MediaRef, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", in.FileName)
	if err != nil {
		return domain.MediaRef{}, err
	}
	if _, err := fw.Write(in.Data); err != nil {
		return domain.MediaRef{}, err
	}
	if err := mw.Close(); err != nil {
		return domain.MediaRef{}, err
	}

	q := url.Values{"altId": {creds.ScopedID()}, "altType": {"location"}}
	raw, err := m.client.http.Do(ctx, http.MethodPost, "/medias/upload-file", q, mw.FormDataContentType(), buf.Bytes(), esphttp.Bearer(creds.AccessToken))
	if err != nil {
		return domain.MediaRef{}, err
	}
	var resp struct {
		FileID string `json:"fileId"`
		URL    string `json:"url"`
	}
	if err := decode(raw, &resp); err != nil {
		return domain.MediaRef{}, err
	}
	return domain.MediaRef{ID: resp.FileID, URL: resp.URL}, nil
}

type customValues struct{ client *client }

func (m *customValues) SyncCustomValues(ctx context.Context, creds domain.Credentials, values map[string]string) (int, error) {
	path := "/locations/" + url.PathEscape(creds.ScopedID()) + "/customValues"
	n := 0
	for _, name := range sortedKeys(values) {
		body := map[string]string{"name": name, "value": values[name]}
		if err := m.client.http.JSON(ctx, http.MethodPost, path, nil, body, esphttp.Bearer(creds.AccessToken), nil); err != nil {
			return n, fmt.Errorf("custom value %q: %w", name, err)
		}
		n++
	}
	return n, nil
}

type accountDetails struct{ client *client }

func (m *accountDetails) SyncBusinessDetails(ctx context.Context, creds domain.Credentials, d domain.BusinessDetails) error {
	path := "/locations/" + url.PathEscape(creds.ScopedID())
	return m.client.http.JSON(ctx, http.MethodPut, path, nil, d, esphttp.Bearer(creds.AccessToken), nil)
}

// validation checks a location API key by reading the location it belongs to.
type validation struct{ client *client }

func (m *validation) Validate(ctx context.Context, in domain.APIKeyInput) (domain.ValidationResult, error) {
	if in.APIKey == "" || in.AccountID == "" {
		return domain.ValidationResult{Valid: false, Reason: "apiKey and accountId (location id) are required"}, nil
	}
	var resp struct {
		Location struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"location"`
	}
	path := "/locations/" + url.PathEscape(in.AccountID)
	err := m.client.http.JSON(ctx, http.MethodGet, path, nil, nil, esphttp.Bearer(in.APIKey), &resp)
	if reason, rejected := rejection(err); rejected {
		return domain.ValidationResult{Valid: false, Reason: reason}, nil
	}
	if err != nil {
		return domain.ValidationResult{}, err
	}
	return domain.ValidationResult{Valid: true, AccountID: resp.Location.ID, AccountName: resp.Location.Name}, nil
}

type refresher struct {
	client       *client
	clientID     string
	clientSecret string
}

func (r *refresher) RefreshToken(ctx context.Context, conn domain.OAuthConnection) (domain.OAuthConnection, error) {
	form := url.Values{
		"client_id":     {r.clientID},
		"client_secret": {r.clientSecret},
		"grant_type":    {"refresh_token"},
		"refresh_token": {conn.RefreshToken},
		"user_type":     {"Location"},
	}
	raw, err := r.client.http.Do(ctx, http.MethodPost, "/oauth/token", nil, "application/x-www-form-urlencoded", []byte(form.Encode()), nil)
	if err != nil {
		return domain.OAuthConnection{}, err
	}
	var resp struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int64  `json:"expires_in"`
		Scope        string `json:"scope"`
		LocationID   string `json:"locationId"`
	}
	if err := decode(raw, &resp); err != nil {
		return domain.OAuthConnection{}, err
	}
	if resp.AccessToken == "" {
		return domain.OAuthConnection{}, fmt.Errorf("ghl token refresh: empty access token")
	}
	out := conn
	out.AccessToken = resp.AccessToken
	if resp.RefreshToken != "" {
		out.RefreshToken = resp.RefreshToken
	}
	if resp.ExpiresIn > 0 {
		exp := util.NowUTC().Add(time.Duration(resp.ExpiresIn) * time.Second)
		out.ExpiresAt = &exp
	}
	if scopes := splitScopes(resp.Scope); len(scopes) > 0 {
		out.Scopes = scopes
	}
	if resp.LocationID != "" {
		out.LocationID = resp.LocationID
	}
	return out, nil
}
