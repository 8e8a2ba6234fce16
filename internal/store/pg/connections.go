package pg

import (
	"context"

	"github.com/jackc/pgx/v5"

	"esphub/internal/store"
)

const oauthColumns = `account_key, provider, access_token_enc, COALESCE(refresh_token_enc,''), location_id,
	COALESCE(location_name,''), scopes, expires_at, installed_at, updated_at`

func scanOAuth(row pgx.Row) (store.OAuthConnectionRecord, error) {
	var rec store.OAuthConnectionRecord
	err := row.Scan(&rec.AccountKey, &rec.Provider, &rec.AccessTokenEnc, &rec.RefreshTokenEnc, &rec.LocationID,
		&rec.LocationName, &rec.Scopes, &rec.ExpiresAt, &rec.InstalledAt, &rec.UpdatedAt)
	return rec, err
}

func (s *Store) GetOAuthConnection(ctx context.Context, accountKey, provider string) (store.OAuthConnectionRecord, error) {
	row := s.DB.QueryRow(ctx, `
		SELECT `+oauthColumns+` FROM oauth_connections WHERE account_key=$1 AND provider=$2
	`, accountKey, provider)
	rec, err := scanOAuth(row)
	if err != nil {
		return store.OAuthConnectionRecord{}, notFound(err)
	}
	return rec, nil
}

func (s *Store) UpsertOAuthConnection(ctx context.Context, in store.OAuthConnectionRecord) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO oauth_connections (account_key, provider, access_token_enc, refresh_token_enc, location_id,
			location_name, scopes, expires_at, installed_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (account_key, provider) DO UPDATE SET
			access_token_enc = EXCLUDED.access_token_enc,
			refresh_token_enc = EXCLUDED.refresh_token_enc,
			location_id = EXCLUDED.location_id,
			location_name = EXCLUDED.location_name,
			scopes = EXCLUDED.scopes,
			expires_at = EXCLUDED.expires_at,
			updated_at = EXCLUDED.updated_at
	`, in.AccountKey, in.Provider, in.AccessTokenEnc, nullIfEmpty(in.RefreshTokenEnc), in.LocationID,
		nullIfEmpty(in.LocationName), in.Scopes, in.ExpiresAt, in.InstalledAt, in.UpdatedAt)
	return err
}

func (s *Store) SwapOAuthTokens(ctx context.Context, prev, next store.OAuthConnectionRecord) (bool, error) {
	ct, err := s.DB.Exec(ctx, `
		UPDATE oauth_connections
		SET access_token_enc=$3, refresh_token_enc=$4, updated_at=$5
		WHERE account_key=$1 AND provider=$2
			AND access_token_enc=$6 AND refresh_token_enc IS NOT DISTINCT FROM $7
	`, prev.AccountKey, prev.Provider, next.AccessTokenEnc, nullIfEmpty(next.RefreshTokenEnc), next.UpdatedAt,
		prev.AccessTokenEnc, nullIfEmpty(prev.RefreshTokenEnc))
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

func (s *Store) DeleteOAuthConnection(ctx context.Context, accountKey, provider string) (bool, error) {
	ct, err := s.DB.Exec(ctx, `DELETE FROM oauth_connections WHERE account_key=$1 AND provider=$2`, accountKey, provider)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

// ListOAuthConnections returns the rows for accountKeys, or every row when
// accountKeys is empty.
func (s *Store) ListOAuthConnections(ctx context.Context, accountKeys []string) ([]store.OAuthConnectionRecord, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT `+oauthColumns+` FROM oauth_connections
		WHERE cardinality($1::text[]) = 0 OR account_key = ANY($1)
		ORDER BY account_key, provider
	`, keysParam(accountKeys))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.OAuthConnectionRecord
	for rows.Next() {
		rec, err := scanOAuth(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

const apiKeyColumns = `account_key, provider, api_key_enc, account_id, COALESCE(account_name,''), updated_at`

func scanAPIKey(row pgx.Row) (store.APIKeyConnectionRecord, error) {
	var rec store.APIKeyConnectionRecord
	err := row.Scan(&rec.AccountKey, &rec.Provider, &rec.APIKeyEnc, &rec.AccountID, &rec.AccountName, &rec.UpdatedAt)
	return rec, err
}

func (s *Store) GetAPIKeyConnection(ctx context.Context, accountKey, provider string) (store.APIKeyConnectionRecord, error) {
	row := s.DB.QueryRow(ctx, `
		SELECT `+apiKeyColumns+` FROM api_key_connections WHERE account_key=$1 AND provider=$2
	`, accountKey, provider)
	rec, err := scanAPIKey(row)
	if err != nil {
		return store.APIKeyConnectionRecord{}, notFound(err)
	}
	return rec, nil
}

func (s *Store) UpsertAPIKeyConnection(ctx context.Context, in store.APIKeyConnectionRecord) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO api_key_connections (account_key, provider, api_key_enc, account_id, account_name, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (account_key, provider) DO UPDATE SET
			api_key_enc = EXCLUDED.api_key_enc,
			account_id = EXCLUDED.account_id,
			account_name = EXCLUDED.account_name,
			updated_at = EXCLUDED.updated_at
	`, in.AccountKey, in.Provider, in.APIKeyEnc, in.AccountID, nullIfEmpty(in.AccountName), in.UpdatedAt)
	return err
}

func (s *Store) SwapAPIKey(ctx context.Context, prev, next store.APIKeyConnectionRecord) (bool, error) {
	ct, err := s.DB.Exec(ctx, `
		UPDATE api_key_connections SET api_key_enc=$3, updated_at=$4
		WHERE account_key=$1 AND provider=$2 AND api_key_enc=$5
	`, prev.AccountKey, prev.Provider, next.APIKeyEnc, next.UpdatedAt, prev.APIKeyEnc)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

func (s *Store) DeleteAPIKeyConnection(ctx context.Context, accountKey, provider string) (bool, error) {
	ct, err := s.DB.Exec(ctx, `DELETE FROM api_key_connections WHERE account_key=$1 AND provider=$2`, accountKey, provider)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

func (s *Store) ListAPIKeyConnections(ctx context.Context, accountKeys []string) ([]store.APIKeyConnectionRecord, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT `+apiKeyColumns+` FROM api_key_connections
		WHERE cardinality($1::text[]) = 0 OR account_key = ANY($1)
		ORDER BY account_key, provider
	`, keysParam(accountKeys))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.APIKeyConnectionRecord
	for rows.Next() {
		rec, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// keysParam keeps an empty filter from being encoded as NULL.
func keysParam(keys []string) []string {
	if keys == nil {
		return []string{}
	}
	return keys
}
