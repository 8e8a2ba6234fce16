package integration

import (
	"context"
	"errors"
	"testing"

	"esphub/internal/domain"
	"esphub/internal/providers/ghl"
	"esphub/internal/providers/klaviyo"
	"esphub/internal/store/memory"
	"esphub/internal/vault"
)

func newContext(t *testing.T, opts Options) *Context {
	t.Helper()
	mem := memory.New()
	opts.Connections, opts.Accounts, opts.Stats = mem, mem, mem
	ic, err := New(opts)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(ic.Close)
	return ic
}

func TestNewRequiresVaultSecret(t *testing.T) {
	mem := memory.New()
	_, err := New(Options{Connections: mem, Accounts: mem, Stats: mem})
	if !errors.Is(err, vault.ErrVaultMisconfigured) {
		t.Fatalf("got %v", err)
	}
}

func TestProvidersRegisteredFromOptions(t *testing.T) {
	ic := newContext(t, Options{
		Secrets: []string{"s"},
		GHL:     &ghl.Config{},
		Klaviyo: &klaviyo.Config{WebhookSecret: "whsec"},
	})
	got := ic.Registry.Providers()
	if len(got) != 2 || got[0] != "ghl" || got[1] != "klaviyo" {
		t.Fatalf("providers: %v", got)
	}

	if _, _, err := ic.Webhooks.Resolve("klaviyo", klaviyo.WebhookFamily); err != nil {
		t.Fatalf("klaviyo route: %v", err)
	}
	// HighLevel without a public key keeps its route but cannot verify.
	_, _, err := ic.Webhooks.Resolve("ghl", ghl.WebhookFamily)
	if !errors.Is(err, domain.ErrCapabilityUnsupported) {
		t.Fatalf("ghl route: %v", err)
	}
}

func TestInstancesAreIndependent(t *testing.T) {
	a := newContext(t, Options{Secrets: []string{"a"}, Klaviyo: &klaviyo.Config{}})
	b := newContext(t, Options{Secrets: []string{"b"}})

	if len(b.Registry.Providers()) != 0 {
		t.Fatalf("registry state leaked between contexts")
	}
	ctx := context.Background()
	if err := a.Connections.UpsertAPIKeyConnection(ctx, domain.APIKeyConnection{
		AccountKey: "acme", Provider: "klaviyo", APIKey: "pk", AccountID: "K",
	}); err != nil {
		t.Fatal(err)
	}
	if got, _ := b.Connections.GetAPIKeyConnection(ctx, "acme", "klaviyo"); got != nil {
		t.Fatalf("connection leaked between contexts")
	}
}
