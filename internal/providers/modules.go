package providers

import (
	"context"
	"net/http"

	"esphub/internal/domain"
)

// ContactsModule also owns credential resolution: every adapter that can
// talk to its provider on behalf of an account exposes it.
type ContactsModule interface {
	// ResolveCredentials returns nil, nil for an account with no usable connection.
	ResolveCredentials(ctx context.Context, accountKey string) (*domain.Credentials, error)
	ListContacts(ctx context.Context, creds domain.Credentials, limit int) ([]domain.Contact, error)
}

type CampaignsModule interface {
	FetchCampaigns(ctx context.Context, creds domain.Credentials) ([]domain.Campaign, error)
	FetchAnalytics(ctx context.Context, creds domain.Credentials, campaignID string) (domain.CampaignAnalytics, error)
}

type WorkflowsModule interface {
	FetchWorkflows(ctx context.Context, creds domain.Credentials) ([]domain.Workflow, error)
}

type TemplatesModule interface {
	CreateTemplate(ctx context.Context, creds domain.Credentials, in domain.TemplateInput) (domain.TemplateRef, error)
}

type MediaModule interface {
	UploadMedia(ctx context.Context, creds domain.Credentials, in domain.MediaUpload) (domain.MediaRef, error)
}

type CustomValuesModule interface {
	// SyncCustomValues upserts name/value pairs and returns how many were written.
	SyncCustomValues(ctx context.Context, creds domain.Credentials, values map[string]string) (int, error)
}

type AccountDetailsModule interface {
	SyncBusinessDetails(ctx context.Context, creds domain.Credentials, details domain.BusinessDetails) error
}

type ValidationModule interface {
	Validate(ctx context.Context, in domain.APIKeyInput) (domain.ValidationResult, error)
}

type WebhookModule interface {
	// VerifySignature checks signature against the exact raw body bytes.
	VerifySignature(body []byte, signature string, headers http.Header) bool
	// SignatureHeaderCandidates lists header names to probe, most specific first.
	SignatureHeaderCandidates() []string
}
