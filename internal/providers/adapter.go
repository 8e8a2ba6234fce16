package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"esphub/internal/domain"
)

// Adapter is one provider's implementation of the capability interface. A
// nil module means the provider does not support that capability; the
// advertised capabilities are derived from module presence and cannot drift.
type Adapter struct {
	Provider string
	Auth     domain.AuthMode

	Contacts           ContactsModule
	Campaigns          CampaignsModule
	Workflows          WorkflowsModule
	Templates          TemplatesModule
	Media              MediaModule
	CustomValues       CustomValuesModule
	AccountDetailsSync AccountDetailsModule
	Webhook            WebhookModule
	Validation         ValidationModule
}

func (a *Adapter) Capabilities() domain.ProviderCapabilities {
	return domain.ProviderCapabilities{
		Contacts:           a.Contacts != nil,
		Campaigns:          a.Campaigns != nil,
		Workflows:          a.Workflows != nil,
		Templates:          a.Templates != nil,
		Media:              a.Media != nil,
		CustomValues:       a.CustomValues != nil,
		AccountDetailsSync: a.AccountDetailsSync != nil,
		Webhook:            a.Webhook != nil,
		Validation:         a.Validation != nil,
		Auth:               a.Auth,
	}
}

// Module returns the sub-module behind a capability, or nil.
func (a *Adapter) Module(c domain.Capability) any {
	switch c {
	case domain.CapContacts:
		return a.Contacts
	case domain.CapCampaigns:
		return a.Campaigns
	case domain.CapWorkflows:
		return a.Workflows
	case domain.CapTemplates:
		return a.Templates
	case domain.CapMedia:
		return a.Media
	case domain.CapCustomValues:
		return a.CustomValues
	case domain.CapAccountDetailsSync:
		return a.AccountDetailsSync
	case domain.CapWebhook:
		return a.Webhook
	case domain.CapValidation:
		return a.Validation
	}
	return nil
}

func (a *Adapter) Validate() error {
	if a == nil {
		return errors.New("nil adapter")
	}
	if a.Provider == "" || a.Provider != strings.ToLower(strings.TrimSpace(a.Provider)) {
		return fmt.Errorf("provider id %q must be non-empty lowercase", a.Provider)
	}
	switch a.Auth {
	case domain.AuthOAuth, domain.AuthAPIKey, domain.AuthBoth:
	default:
		return fmt.Errorf("provider %s: unknown auth mode %q", a.Provider, a.Auth)
	}
	return nil
}

// ResolveCredentials resolves through the contacts module. It returns nil, nil
// when the account has no usable connection.
func (a *Adapter) ResolveCredentials(ctx context.Context, accountKey string) (*domain.Credentials, error) {
	if err := Require(a, domain.CapContacts); err != nil {
		return nil, err
	}
	return a.Contacts.ResolveCredentials(ctx, accountKey)
}
