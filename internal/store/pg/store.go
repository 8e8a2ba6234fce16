package pg

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"esphub/internal/store"
)

// Store implements every store repository on Postgres. All writes are
// single-row upserts, so no cross-row transactions are needed.
type Store struct {
	DB *pgxpool.Pool
}

var (
	_ store.ConnectionRepository = (*Store)(nil)
	_ store.AccountRepository    = (*Store)(nil)
	_ store.StatsRepository      = (*Store)(nil)
)

func New(db *pgxpool.Pool) *Store { return &Store{DB: db} }

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
