// Package connections persists provider credentials. Secret fields are sealed
// by the vault on write and opened on read, so callers only see plaintext
// domain values and the repository only sees ciphertext.
package connections

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"esphub/internal/domain"
	"esphub/internal/store"
	"esphub/internal/util"
	"esphub/internal/vault"
)

type Store struct {
	repo  store.ConnectionRepository
	vault *vault.Vault
}

// New wires a repository to a vault. Both are required.
func New(repo store.ConnectionRepository, v *vault.Vault) *Store {
	return &Store{repo: repo, vault: v}
}

// GetOAuthConnection returns nil, nil when no connection exists.
func (s *Store) GetOAuthConnection(ctx context.Context, accountKey, provider string) (*domain.OAuthConnection, error) {
	rec, err := s.repo.GetOAuthConnection(ctx, accountKey, provider)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	access, err := s.vault.Decrypt(rec.AccessTokenEnc)
	if err != nil {
		return nil, fmt.Errorf("open access token for %s/%s: %w", accountKey, provider, err)
	}
	var refresh string
	if rec.RefreshTokenEnc != "" {
		if refresh, err = s.vault.Decrypt(rec.RefreshTokenEnc); err != nil {
			return nil, fmt.Errorf("open refresh token for %s/%s: %w", accountKey, provider, err)
		}
	}
	return &domain.OAuthConnection{
		AccountKey:   rec.AccountKey,
		Provider:     rec.Provider,
		AccessToken:  access,
		RefreshToken: refresh,
		LocationID:   rec.LocationID,
		LocationName: rec.LocationName,
		Scopes:       rec.Scopes,
		ExpiresAt:    rec.ExpiresAt,
		InstalledAt:  rec.InstalledAt,
		UpdatedAt:    rec.UpdatedAt,
	}, nil
}

func (s *Store) UpsertOAuthConnection(ctx context.Context, c domain.OAuthConnection) error {
	if c.AccountKey == "" || c.Provider == "" || c.AccessToken == "" || c.LocationID == "" {
		return domain.ErrMissingFields
	}
	access, err := s.vault.Encrypt(c.AccessToken)
	if err != nil {
		return fmt.Errorf("seal access token: %w", err)
	}
	var refresh string
	if c.RefreshToken != "" {
		if refresh, err = s.vault.Encrypt(c.RefreshToken); err != nil {
			return fmt.Errorf("seal refresh token: %w", err)
		}
	}
	now := util.NowUTC()
	installed := c.InstalledAt
	if installed.IsZero() {
		installed = now
	}
	return s.repo.UpsertOAuthConnection(ctx, store.OAuthConnectionRecord{
		AccountKey:      c.AccountKey,
		Provider:        c.Provider,
		AccessTokenEnc:  access,
		RefreshTokenEnc: refresh,
		LocationID:      c.LocationID,
		LocationName:    c.LocationName,
		Scopes:          c.Scopes,
		ExpiresAt:       c.ExpiresAt,
		InstalledAt:     installed,
		UpdatedAt:       now,
	})
}

func (s *Store) DeleteOAuthConnection(ctx context.Context, accountKey, provider string) (bool, error) {
	return s.repo.DeleteOAuthConnection(ctx, accountKey, provider)
}

// ListOAuthConnections opens every matching row. Rows that fail to decrypt
// are logged and left out rather than failing the whole listing.
func (s *Store) ListOAuthConnections(ctx context.Context, accountKeys []string) ([]domain.OAuthConnection, error) {
	recs, err := s.repo.ListOAuthConnections(ctx, accountKeys)
	if err != nil {
		return nil, err
	}
	out := make([]domain.OAuthConnection, 0, len(recs))
	for _, rec := range recs {
		access, err := s.vault.Decrypt(rec.AccessTokenEnc)
		if err != nil {
			slog.Warn("oauth connection unreadable", "account_key", rec.AccountKey, "provider", rec.Provider, "err", err)
			continue
		}
		var refresh string
		if rec.RefreshTokenEnc != "" {
			if refresh, err = s.vault.Decrypt(rec.RefreshTokenEnc); err != nil {
				slog.Warn("oauth refresh token unreadable", "account_key", rec.AccountKey, "provider", rec.Provider, "err", err)
				continue
			}
		}
		out = append(out, domain.OAuthConnection{
			AccountKey:   rec.AccountKey,
			Provider:     rec.Provider,
			AccessToken:  access,
			RefreshToken: refresh,
			LocationID:   rec.LocationID,
			LocationName: rec.LocationName,
			Scopes:       rec.Scopes,
			ExpiresAt:    rec.ExpiresAt,
			InstalledAt:  rec.InstalledAt,
			UpdatedAt:    rec.UpdatedAt,
		})
	}
	return out, nil
}

// GetAPIKeyConnection returns nil, nil when no connection exists.
func (s *Store) GetAPIKeyConnection(ctx context.Context, accountKey, provider string) (*domain.APIKeyConnection, error) {
	rec, err := s.repo.GetAPIKeyConnection(ctx, accountKey, provider)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	key, err := s.vault.Decrypt(rec.APIKeyEnc)
	if err != nil {
		return nil, fmt.Errorf("open api key for %s/%s: %w", accountKey, provider, err)
	}
	return &domain.APIKeyConnection{
		AccountKey:  rec.AccountKey,
		Provider:    rec.Provider,
		APIKey:      key,
		AccountID:   rec.AccountID,
		AccountName: rec.AccountName,
		UpdatedAt:   rec.UpdatedAt,
	}, nil
}

func (s *Store) UpsertAPIKeyConnection(ctx context.Context, c domain.APIKeyConnection) error {
	if c.AccountKey == "" || c.Provider == "" || c.APIKey == "" || c.AccountID == "" {
		return domain.ErrMissingFields
	}
	enc, err := s.vault.Encrypt(c.APIKey)
	if err != nil {
		return fmt.Errorf("seal api key: %w", err)
	}
	return s.repo.UpsertAPIKeyConnection(ctx, store.APIKeyConnectionRecord{
		AccountKey:  c.AccountKey,
		Provider:    c.Provider,
		APIKeyEnc:   enc,
		AccountID:   c.AccountID,
		AccountName: c.AccountName,
		UpdatedAt:   util.NowUTC(),
	})
}

func (s *Store) DeleteAPIKeyConnection(ctx context.Context, accountKey, provider string) (bool, error) {
	return s.repo.DeleteAPIKeyConnection(ctx, accountKey, provider)
}

func (s *Store) ListAPIKeyConnections(ctx context.Context, accountKeys []string) ([]domain.APIKeyConnection, error) {
	recs, err := s.repo.ListAPIKeyConnections(ctx, accountKeys)
	if err != nil {
		return nil, err
	}
	out := make([]domain.APIKeyConnection, 0, len(recs))
	for _, rec := range recs {
		key, err := s.vault.Decrypt(rec.APIKeyEnc)
		if err != nil {
			slog.Warn("api key connection unreadable", "account_key", rec.AccountKey, "provider", rec.Provider, "err", err)
			continue
		}
		out = append(out, domain.APIKeyConnection{
			AccountKey:  rec.AccountKey,
			Provider:    rec.Provider,
			APIKey:      key,
			AccountID:   rec.AccountID,
			AccountName: rec.AccountName,
			UpdatedAt:   rec.UpdatedAt,
		})
	}
	return out, nil
}

type RotationReport struct {
	Scanned     int `json:"scanned"`
	Reencrypted int `json:"reencrypted"`
	Unreadable  int `json:"unreadable"`

	// Superseded rows were rewritten by someone else mid-rotation and left
	// alone. A newer write is already sealed with the primary secret.
	Superseded int `json:"superseded"`
}

// RotateSecrets re-seals every stored secret that only a demoted vault secret
// can open. Run it after promoting a new primary secret, before dropping the
// old one from the configuration. Each row is written back only if it still
// holds the ciphertext that was read, so a token refreshed concurrently is
// never replaced by its predecessor.
func (s *Store) RotateSecrets(ctx context.Context) (RotationReport, error) {
	var rep RotationReport

	oauth, err := s.repo.ListOAuthConnections(ctx, nil)
	if err != nil {
		return rep, err
	}
	for _, prev := range oauth {
		rep.Scanned++
		next := prev
		changed := false
		if next.AccessTokenEnc, changed, err = s.rotate(prev.AccessTokenEnc, changed); err != nil {
			rep.Unreadable++
			slog.Warn("rotation skipped unreadable oauth token", "account_key", prev.AccountKey, "provider", prev.Provider)
			continue
		}
		if prev.RefreshTokenEnc != "" {
			if next.RefreshTokenEnc, changed, err = s.rotate(prev.RefreshTokenEnc, changed); err != nil {
				rep.Unreadable++
				slog.Warn("rotation skipped unreadable refresh token", "account_key", prev.AccountKey, "provider", prev.Provider)
				continue
			}
		}
		if !changed {
			continue
		}
		next.UpdatedAt = util.NowUTC()
		ok, err := s.repo.SwapOAuthTokens(ctx, prev, next)
		if err != nil {
			return rep, fmt.Errorf("store rotated oauth connection %s/%s: %w", prev.AccountKey, prev.Provider, err)
		}
		if !ok {
			rep.Superseded++
			slog.Info("rotation skipped oauth connection changed concurrently", "account_key", prev.AccountKey, "provider", prev.Provider)
			continue
		}
		rep.Reencrypted++
	}

	keys, err := s.repo.ListAPIKeyConnections(ctx, nil)
	if err != nil {
		return rep, err
	}
	for _, prev := range keys {
		rep.Scanned++
		next := prev
		var changed bool
		if next.APIKeyEnc, changed, err = s.rotate(prev.APIKeyEnc, false); err != nil {
			rep.Unreadable++
			slog.Warn("rotation skipped unreadable api key", "account_key", prev.AccountKey, "provider", prev.Provider)
			continue
		}
		if !changed {
			continue
		}
		next.UpdatedAt = util.NowUTC()
		ok, err := s.repo.SwapAPIKey(ctx, prev, next)
		if err != nil {
			return rep, fmt.Errorf("store rotated api key %s/%s: %w", prev.AccountKey, prev.Provider, err)
		}
		if !ok {
			rep.Superseded++
			slog.Info("rotation skipped api key changed concurrently", "account_key", prev.AccountKey, "provider", prev.Provider)
			continue
		}
		rep.Reencrypted++
	}
	return rep, nil
}

func (s *Store) rotate(ciphertext string, changed bool) (string, bool, error) {
	if _, err := s.vault.Decrypt(ciphertext); err != nil {
		return ciphertext, changed, err
	}
	if !s.vault.NeedsRotation(ciphertext) {
		return ciphertext, changed, nil
	}
	out, err := s.vault.Reencrypt(ciphertext)
	if err != nil {
		return ciphertext, changed, err
	}
	return out, true, nil
}
