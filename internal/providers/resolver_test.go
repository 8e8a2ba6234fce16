package providers

import (
	"context"
	"errors"
	"testing"
	"time"

	"esphub/internal/connections"
	"esphub/internal/domain"
	"esphub/internal/store/memory"
	"esphub/internal/vault"
)

func newConnections(t *testing.T) *connections.Store {
	t.Helper()
	v, err := vault.New([]string{"test-secret"})
	if err != nil {
		t.Fatal(err)
	}
	return connections.New(memory.New(), v)
}

type fakeRefresher struct {
	calls int
	err   error
}

func (f *fakeRefresher) RefreshToken(_ context.Context, c domain.OAuthConnection) (domain.OAuthConnection, error) {
	f.calls++
	if f.err != nil {
		return domain.OAuthConnection{}, f.err
	}
	exp := time.Now().Add(time.Hour)
	c.AccessToken = "refreshed"
	c.ExpiresAt = &exp
	return c, nil
}

func TestOAuthWinsOverAPIKey(t *testing.T) {
	ctx := context.Background()
	conns := newConnections(t)
	_ = conns.UpsertOAuthConnection(ctx, domain.OAuthConnection{AccountKey: "acme", Provider: "ghl", AccessToken: "oauth-token", LocationID: "L"})
	_ = conns.UpsertAPIKeyConnection(ctx, domain.APIKeyConnection{AccountKey: "acme", Provider: "ghl", APIKey: "api-key", AccountID: "A"})

	r := &CredentialResolver{Provider: "ghl", Connections: conns}
	creds, err := r.ResolveCredentials(ctx, "acme")
	if err != nil {
		t.Fatal(err)
	}
	if creds == nil || creds.Source != domain.AuthOAuth || creds.AccessToken != "oauth-token" || creds.ScopedID() != "L" {
		t.Fatalf("got %+v", creds)
	}
}

func TestFallsBackToAPIKey(t *testing.T) {
	ctx := context.Background()
	conns := newConnections(t)
	past := time.Now().Add(-time.Hour)
	_ = conns.UpsertOAuthConnection(ctx, domain.OAuthConnection{AccountKey: "acme", Provider: "ghl", AccessToken: "stale", LocationID: "L", ExpiresAt: &past})
	_ = conns.UpsertOAuthConnection(ctx, domain.OAuthConnection{AccountKey: "scoped", Provider: "ghl", AccessToken: "t", LocationID: "L2", Scopes: []string{"contacts.readonly"}})
	_ = conns.UpsertAPIKeyConnection(ctx, domain.APIKeyConnection{AccountKey: "acme", Provider: "ghl", APIKey: "api-key", AccountID: "A"})

	r := &CredentialResolver{Provider: "ghl", Connections: conns, RequiredScopes: []string{"emails.readonly"}}
	creds, err := r.ResolveCredentials(ctx, "acme")
	if err != nil || creds == nil || creds.Source != domain.AuthAPIKey || creds.ScopedID() != "A" {
		t.Fatalf("expired oauth without refresher should fall back: %+v %v", creds, err)
	}

	creds, err = r.ResolveCredentials(ctx, "scoped")
	if err != nil || creds != nil {
		t.Fatalf("missing scopes and no api key should resolve to nil: %+v %v", creds, err)
	}
}

func TestExpiredTokenIsRefreshedAndPersisted(t *testing.T) {
	ctx := context.Background()
	conns := newConnections(t)
	past := time.Now().Add(-time.Minute)
	_ = conns.UpsertOAuthConnection(ctx, domain.OAuthConnection{
		AccountKey: "acme", Provider: "ghl", AccessToken: "old", RefreshToken: "rt", LocationID: "L", ExpiresAt: &past,
	})

	ref := &fakeRefresher{}
	r := &CredentialResolver{Provider: "ghl", Connections: conns, Refresher: ref}
	creds, err := r.ResolveCredentials(ctx, "acme")
	if err != nil || creds == nil || creds.AccessToken != "refreshed" {
		t.Fatalf("got %+v %v", creds, err)
	}
	stored, _ := conns.GetOAuthConnection(ctx, "acme", "ghl")
	if stored.AccessToken != "refreshed" {
		t.Fatalf("refreshed token not persisted: %+v", stored)
	}

	ref.err = errors.New("revoked")
	_ = conns.UpsertOAuthConnection(ctx, domain.OAuthConnection{
		AccountKey: "acme", Provider: "ghl", AccessToken: "old", RefreshToken: "rt", LocationID: "L", ExpiresAt: &past,
	})
	creds, err = r.ResolveCredentials(ctx, "acme")
	if err != nil || creds != nil {
		t.Fatalf("failed refresh should resolve to nil: %+v %v", creds, err)
	}
}

func TestUnconnectedAccountIsNilNil(t *testing.T) {
	r := &CredentialResolver{Provider: "klaviyo", Connections: newConnections(t)}
	creds, err := r.ResolveCredentials(context.Background(), "nobody")
	if creds != nil || err != nil {
		t.Fatalf("got %+v %v", creds, err)
	}
}
