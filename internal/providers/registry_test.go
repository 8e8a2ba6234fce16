package providers

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"esphub/internal/domain"
	"esphub/internal/store/memory"
)

type stubWebhook struct{}

func (stubWebhook) VerifySignature([]byte, string, http.Header) bool { return true }
func (stubWebhook) SignatureHeaderCandidates() []string              { return []string{"x-sig"} }

type stubCampaigns struct{}

func (stubCampaigns) FetchCampaigns(context.Context, domain.Credentials) ([]domain.Campaign, error) {
	return nil, nil
}
func (stubCampaigns) FetchAnalytics(context.Context, domain.Credentials, string) (domain.CampaignAnalytics, error) {
	return domain.CampaignAnalytics{}, nil
}

func TestCapabilityFlagsMatchModules(t *testing.T) {
	adapters := []*Adapter{
		{Provider: "bare", Auth: domain.AuthAPIKey},
		{Provider: "hooks", Auth: domain.AuthOAuth, Webhook: stubWebhook{}},
		{Provider: "mixed", Auth: domain.AuthBoth, Webhook: stubWebhook{}, Campaigns: stubCampaigns{}},
	}
	for _, a := range adapters {
		caps := a.Capabilities()
		for _, c := range domain.AllCapabilities {
			present := a.Module(c) != nil
			if caps.Has(c) != present {
				t.Fatalf("%s/%s: flag=%v module present=%v", a.Provider, c, caps.Has(c), present)
			}
			if HasCapability(a, c) != present {
				t.Fatalf("%s/%s: HasCapability disagrees with module presence", a.Provider, c)
			}
		}
		if caps.Auth != a.Auth {
			t.Fatalf("%s: auth %q want %q", a.Provider, caps.Auth, a.Auth)
		}
	}
}

func TestRequireReturnsStructuredError(t *testing.T) {
	a := &Adapter{Provider: "hooks", Auth: domain.AuthOAuth, Webhook: stubWebhook{}}
	if err := Require(a, domain.CapWebhook); err != nil {
		t.Fatalf("webhook present: %v", err)
	}
	err := Require(a, domain.CapMedia)
	var ce *domain.CapabilityUnsupportedError
	if !errors.As(err, &ce) || ce.Provider != "hooks" || ce.Capability != domain.CapMedia {
		t.Fatalf("got %v", err)
	}
	if !errors.Is(err, domain.ErrCapabilityUnsupported) {
		t.Fatalf("error should match ErrCapabilityUnsupported")
	}
	if !errors.Is(Require(nil, domain.CapContacts), domain.ErrCapabilityUnsupported) {
		t.Fatalf("nil adapter must be unsupported, not panic")
	}
}

func TestRegistryLookup(t *testing.T) {
	ctx := context.Background()
	accounts := memory.New()
	_ = accounts.UpsertAccount(ctx, domain.Account{Key: "acme", Provider: "ghl"})
	_ = accounts.UpsertAccount(ctx, domain.Account{Key: "orphan", Provider: "mailchimp"})

	r := NewRegistry(accounts)
	if err := r.Register(&Adapter{Provider: "ghl", Auth: domain.AuthOAuth}); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(&Adapter{Provider: "ghl", Auth: domain.AuthOAuth}); err == nil {
		t.Fatalf("duplicate registration accepted")
	}
	if err := r.Register(&Adapter{Provider: "Klaviyo", Auth: domain.AuthAPIKey}); err == nil {
		t.Fatalf("uppercase provider id accepted")
	}

	a, err := r.AdapterForAccount(ctx, "acme")
	if err != nil || a.Provider != "ghl" {
		t.Fatalf("acme: %v %v", a, err)
	}
	if _, err := r.Adapter("klaviyo"); !errors.Is(err, domain.ErrAdapterNotRegistered) {
		t.Fatalf("want ErrAdapterNotRegistered, got %v", err)
	}
	if _, err := r.AdapterForAccount(ctx, "orphan"); !errors.Is(err, domain.ErrAdapterNotRegistered) {
		t.Fatalf("orphan: %v", err)
	}
	if _, err := r.AdapterForAccount(ctx, "missing"); !errors.Is(err, domain.ErrAccountNotFound) {
		t.Fatalf("missing: %v", err)
	}
	if got := r.Providers(); len(got) != 1 || got[0] != "ghl" {
		t.Fatalf("providers: %v", got)
	}
}
