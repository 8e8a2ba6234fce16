package providers

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"esphub/internal/domain"
	"esphub/internal/vault"
)

// ConnectionSource is the slice of the connection store credential
// resolution needs.
type ConnectionSource interface {
	GetOAuthConnection(ctx context.Context, accountKey, provider string) (*domain.OAuthConnection, error)
	GetAPIKeyConnection(ctx context.Context, accountKey, provider string) (*domain.APIKeyConnection, error)
	UpsertOAuthConnection(ctx context.Context, c domain.OAuthConnection) error
}

// TokenRefresher exchanges a refresh token for a new access token.
type TokenRefresher interface {
	RefreshToken(ctx context.Context, conn domain.OAuthConnection) (domain.OAuthConnection, error)
}

// CredentialResolver implements the shared resolution order: a usable OAuth
// connection wins, then an API key, otherwise nil.
type CredentialResolver struct {
	Provider       string
	Connections    ConnectionSource
	RequiredScopes []string
	Refresher      TokenRefresher
	ExpirySkew     time.Duration
	Now            func() time.Time
}

func (r *CredentialResolver) ResolveCredentials(ctx context.Context, accountKey string) (*domain.Credentials, error) {
	oc, err := r.Connections.GetOAuthConnection(ctx, accountKey, r.Provider)
	if err != nil && !errors.Is(err, vault.ErrDecryptionFailed) {
		return nil, err
	}
	if err != nil {
		slog.Warn("oauth credentials unreadable", "provider", r.Provider, "account_key", accountKey, "err", err)
	}
	if oc != nil {
		if creds := r.fromOAuth(ctx, *oc); creds != nil {
			return creds, nil
		}
	}

	kc, err := r.Connections.GetAPIKeyConnection(ctx, accountKey, r.Provider)
	if errors.Is(err, vault.ErrDecryptionFailed) {
		slog.Warn("api key unreadable", "provider", r.Provider, "account_key", accountKey, "err", err)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if kc == nil {
		return nil, nil
	}
	return &domain.Credentials{
		Provider:    r.Provider,
		AccountKey:  accountKey,
		AccessToken: kc.APIKey,
		AccountID:   kc.AccountID,
		Source:      domain.AuthAPIKey,
	}, nil
}

// fromOAuth returns nil when the connection lacks scopes or is expired and
// cannot be refreshed.
func (r *CredentialResolver) fromOAuth(ctx context.Context, oc domain.OAuthConnection) *domain.Credentials {
	if !oc.HasScopes(r.RequiredScopes) {
		slog.Info("oauth connection missing scopes", "provider", r.Provider, "account_key", oc.AccountKey)
		return nil
	}
	now := time.Now()
	if r.Now != nil {
		now = r.Now()
	}
	if oc.Expired(now, r.ExpirySkew) {
		if r.Refresher == nil || oc.RefreshToken == "" {
			return nil
		}
		fresh, err := r.Refresher.RefreshToken(ctx, oc)
		if err != nil {
			slog.Warn("oauth refresh failed", "provider", r.Provider, "account_key", oc.AccountKey, "err", err)
			return nil
		}
		if err := r.Connections.UpsertOAuthConnection(ctx, fresh); err != nil {
			slog.Warn("oauth refresh not persisted", "provider", r.Provider, "account_key", oc.AccountKey, "err", err)
		}
		oc = fresh
	}
	return &domain.Credentials{
		Provider:    r.Provider,
		AccountKey:  oc.AccountKey,
		AccessToken: oc.AccessToken,
		LocationID:  oc.LocationID,
		Scopes:      oc.Scopes,
		ExpiresAt:   oc.ExpiresAt,
		Source:      domain.AuthOAuth,
	}
}
