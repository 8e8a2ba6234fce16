package domain

import "time"

type AuthMode string

const (
	AuthOAuth  AuthMode = "oauth"
	AuthAPIKey AuthMode = "apiKey"
	AuthBoth   AuthMode = "both"
)

// Credentials are resolved, decrypted auth material for one (account, provider) pair.
// They are never persisted.
type Credentials struct {
	Provider    string     `json:"provider"`
	AccountKey  string     `json:"accountKey"`
	AccessToken string     `json:"-"`
	LocationID  string     `json:"locationId,omitempty"`
	AccountID   string     `json:"accountId,omitempty"`
	Scopes      []string   `json:"scopes,omitempty"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	Source      AuthMode   `json:"source"`
}

// ScopedID is the provider-scoped account identifier (location id for OAuth
// providers, account id for API-key providers).
func (c Credentials) ScopedID() string {
	if c.LocationID != "" {
		return c.LocationID
	}
	return c.AccountID
}

type OAuthConnection struct {
	AccountKey   string     `json:"accountKey"`
	Provider     string     `json:"provider"`
	AccessToken  string     `json:"-"`
	RefreshToken string     `json:"-"`
	LocationID   string     `json:"locationId"`
	LocationName string     `json:"locationName,omitempty"`
	Scopes       []string   `json:"scopes,omitempty"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
	InstalledAt  time.Time  `json:"installedAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// Expired reports whether the access token is past its expiry (with skew).
func (c OAuthConnection) Expired(now time.Time, skew time.Duration) bool {
	if c.ExpiresAt == nil {
		return false
	}
	return !now.Add(skew).Before(*c.ExpiresAt)
}

// HasScopes reports whether every required scope was granted.
func (c OAuthConnection) HasScopes(required []string) bool {
	if len(required) == 0 {
		return true
	}
	granted := make(map[string]struct{}, len(c.Scopes))
	for _, s := range c.Scopes {
		granted[s] = struct{}{}
	}
	for _, r := range required {
		if _, ok := granted[r]; !ok {
			return false
		}
	}
	return true
}

type APIKeyConnection struct {
	AccountKey  string    `json:"accountKey"`
	Provider    string    `json:"provider"`
	APIKey      string    `json:"-"`
	AccountID   string    `json:"accountId"`
	AccountName string    `json:"accountName,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type Account struct {
	Key      string `json:"key"`
	Provider string `json:"provider"`
	Name     string `json:"name,omitempty"`
}

type Campaign struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Status     string         `json:"status,omitempty"`
	Provider   string         `json:"provider"`
	AccountKey string         `json:"accountKey"`
	AccountID  string         `json:"accountId"`
	SentAt     *time.Time     `json:"sentAt,omitempty"`
	Stats      *CampaignStats `json:"stats,omitempty"`
}

type Workflow struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Status     string `json:"status,omitempty"`
	Provider   string `json:"provider"`
	AccountKey string `json:"accountKey"`
}

type Contact struct {
	ID         string `json:"id"`
	Email      string `json:"email,omitempty"`
	FirstName  string `json:"firstName,omitempty"`
	LastName   string `json:"lastName,omitempty"`
	Provider   string `json:"provider"`
	AccountKey string `json:"accountKey"`
}

// CampaignAnalytics is a provider-reported snapshot of campaign totals.
type CampaignAnalytics struct {
	CampaignID   string     `json:"campaignId"`
	Delivered    int64      `json:"delivered"`
	Opened       int64      `json:"opened"`
	Clicked      int64      `json:"clicked"`
	Bounced      int64      `json:"bounced"`
	Complained   int64      `json:"complained"`
	Unsubscribed int64      `json:"unsubscribed"`
	FirstSentAt  *time.Time `json:"firstSentAt,omitempty"`
	LastEventAt  *time.Time `json:"lastEventAt,omitempty"`
}

type TemplateInput struct {
	Name    string `json:"name"`
	Subject string `json:"subject,omitempty"`
	HTML    string `json:"html"`
}

type TemplateRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type MediaUpload struct {
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType"`
	Data        []byte `json:"-"`
}

type MediaRef struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type BusinessDetails struct {
	Name    string `json:"name,omitempty"`
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Website string `json:"website,omitempty"`
	Address string `json:"address,omitempty"`
	City    string `json:"city,omitempty"`
	Country string `json:"country,omitempty"`
}

type APIKeyInput struct {
	APIKey    string `json:"apiKey"`
	AccountID string `json:"accountId,omitempty"`
}

type ValidationResult struct {
	Valid       bool   `json:"valid"`
	AccountID   string `json:"accountId,omitempty"`
	AccountName string `json:"accountName,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// BackfillJob asks the worker to pull provider analytics for one account.
// An empty CampaignIDs means every campaign the provider lists.
type BackfillJob struct {
	ID          string    `json:"id"`
	AccountKey  string    `json:"accountKey"`
	CampaignIDs []string  `json:"campaignIds,omitempty"`
	RequestedAt time.Time `json:"requestedAt"`
}
