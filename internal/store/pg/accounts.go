package pg

import (
	"context"

	"esphub/internal/domain"
)

func (s *Store) GetAccount(ctx context.Context, accountKey string) (domain.Account, error) {
	var acc domain.Account
	err := s.DB.QueryRow(ctx, `
		SELECT account_key, provider, COALESCE(name,'') FROM accounts WHERE account_key=$1
	`, accountKey).Scan(&acc.Key, &acc.Provider, &acc.Name)
	if err != nil {
		return domain.Account{}, notFound(err)
	}
	return acc, nil
}

func (s *Store) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	rows, err := s.DB.Query(ctx, `SELECT account_key, provider, COALESCE(name,'') FROM accounts ORDER BY account_key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Account
	for rows.Next() {
		var acc domain.Account
		if err := rows.Scan(&acc.Key, &acc.Provider, &acc.Name); err != nil {
			return nil, err
		}
		out = append(out, acc)
	}
	return out, rows.Err()
}

func (s *Store) UpsertAccount(ctx context.Context, acc domain.Account) error {
	if acc.Key == "" || acc.Provider == "" {
		return domain.ErrMissingFields
	}
	_, err := s.DB.Exec(ctx, `
		INSERT INTO accounts (account_key, provider, name, created_at, updated_at)
		VALUES ($1,$2,$3,now(),now())
		ON CONFLICT (account_key) DO UPDATE SET provider=EXCLUDED.provider, name=EXCLUDED.name, updated_at=now()
	`, acc.Key, acc.Provider, nullIfEmpty(acc.Name))
	return err
}
