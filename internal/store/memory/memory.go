// Package memory is an in-process store used by tests and local runs without
// Postgres. It has the same upsert semantics as the pg store.
package memory

import (
	"context"
	"sort"
	"sync"

	"esphub/internal/domain"
	"esphub/internal/store"
)

type connKey struct{ accountKey, provider string }

type statKey struct{ provider, accountID, campaignID string }

type Store struct {
	mu       sync.Mutex
	oauth    map[connKey]store.OAuthConnectionRecord
	apiKeys  map[connKey]store.APIKeyConnectionRecord
	accounts map[string]domain.Account
	stats    map[statKey]domain.CampaignStats
}

var (
	_ store.ConnectionRepository = (*Store)(nil)
	_ store.AccountRepository    = (*Store)(nil)
	_ store.StatsRepository      = (*Store)(nil)
)

func New() *Store {
	return &Store{
		oauth:    map[connKey]store.OAuthConnectionRecord{},
		apiKeys:  map[connKey]store.APIKeyConnectionRecord{},
		accounts: map[string]domain.Account{},
		stats:    map[statKey]domain.CampaignStats{},
	}
}

func (s *Store) GetOAuthConnection(_ context.Context, accountKey, provider string) (store.OAuthConnectionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.oauth[connKey{accountKey, provider}]
	if !ok {
		return store.OAuthConnectionRecord{}, store.ErrNotFound
	}
	rec.Scopes = append([]string(nil), rec.Scopes...)
	return rec, nil
}

func (s *Store) UpsertOAuthConnection(_ context.Context, rec store.OAuthConnectionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := connKey{rec.AccountKey, rec.Provider}
	if prev, ok := s.oauth[k]; ok {
		rec.InstalledAt = prev.InstalledAt
	}
	rec.Scopes = append([]string(nil), rec.Scopes...)
	s.oauth[k] = rec
	return nil
}

func (s *Store) SwapOAuthTokens(_ context.Context, prev, next store.OAuthConnectionRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := connKey{prev.AccountKey, prev.Provider}
	cur, ok := s.oauth[k]
	if !ok || cur.AccessTokenEnc != prev.AccessTokenEnc || cur.RefreshTokenEnc != prev.RefreshTokenEnc {
		return false, nil
	}
	cur.AccessTokenEnc = next.AccessTokenEnc
	cur.RefreshTokenEnc = next.RefreshTokenEnc
	cur.UpdatedAt = next.UpdatedAt
	s.oauth[k] = cur
	return true, nil
}

func (s *Store) DeleteOAuthConnection(_ context.Context, accountKey, provider string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := connKey{accountKey, provider}
	_, ok := s.oauth[k]
	delete(s.oauth, k)
	return ok, nil
}

func (s *Store) ListOAuthConnections(_ context.Context, accountKeys []string) ([]store.OAuthConnectionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := keySet(accountKeys)
	var out []store.OAuthConnectionRecord
	for k, rec := range s.oauth {
		if want == nil || want[k.accountKey] {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AccountKey != out[j].AccountKey {
			return out[i].AccountKey < out[j].AccountKey
		}
		return out[i].Provider < out[j].Provider
	})
	return out, nil
}

func (s *Store) GetAPIKeyConnection(_ context.Context, accountKey, provider string) (store.APIKeyConnectionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.apiKeys[connKey{accountKey, provider}]
	if !ok {
		return store.APIKeyConnectionRecord{}, store.ErrNotFound
	}
	return rec, nil
}

func (s *Store) UpsertAPIKeyConnection(_ context.Context, rec store.APIKeyConnectionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apiKeys[connKey{rec.AccountKey, rec.Provider}] = rec
	return nil
}

func (s *Store) SwapAPIKey(_ context.Context, prev, next store.APIKeyConnectionRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := connKey{prev.AccountKey, prev.Provider}
	cur, ok := s.apiKeys[k]
	if !ok || cur.APIKeyEnc != prev.APIKeyEnc {
		return false, nil
	}
	cur.APIKeyEnc = next.APIKeyEnc
	cur.UpdatedAt = next.UpdatedAt
	s.apiKeys[k] = cur
	return true, nil
}

func (s *Store) DeleteAPIKeyConnection(_ context.Context, accountKey, provider string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := connKey{accountKey, provider}
	_, ok := s.apiKeys[k]
	delete(s.apiKeys, k)
	return ok, nil
}

func (s *Store) ListAPIKeyConnections(_ context.Context, accountKeys []string) ([]store.APIKeyConnectionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := keySet(accountKeys)
	var out []store.APIKeyConnectionRecord
	for k, rec := range s.apiKeys {
		if want == nil || want[k.accountKey] {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AccountKey != out[j].AccountKey {
			return out[i].AccountKey < out[j].AccountKey
		}
		return out[i].Provider < out[j].Provider
	})
	return out, nil
}

func (s *Store) GetAccount(_ context.Context, accountKey string) (domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[accountKey]
	if !ok {
		return domain.Account{}, store.ErrNotFound
	}
	return acc, nil
}

func (s *Store) ListAccounts(_ context.Context) ([]domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Account, 0, len(s.accounts))
	for _, acc := range s.accounts {
		out = append(out, acc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *Store) UpsertAccount(_ context.Context, acc domain.Account) error {
	if acc.Key == "" || acc.Provider == "" {
		return domain.ErrMissingFields
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[acc.Key] = acc
	return nil
}

func (s *Store) IncrementCampaignStat(_ context.Context, in store.StatIncrement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := statKey{in.Provider, in.AccountID, in.CampaignID}
	st, ok := s.stats[k]
	if !ok {
		st = domain.CampaignStats{Provider: in.Provider, AccountID: in.AccountID, CampaignID: in.CampaignID}
	}
	st.Add(in.Column, in.OccurredAt)
	s.stats[k] = st
	return nil
}

func (s *Store) MergeCampaignStats(_ context.Context, in domain.CampaignStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := statKey{in.Provider, in.AccountID, in.CampaignID}
	st, ok := s.stats[k]
	if !ok {
		st = domain.CampaignStats{Provider: in.Provider, AccountID: in.AccountID, CampaignID: in.CampaignID}
	}
	st.Merge(in)
	s.stats[k] = st
	return nil
}

func (s *Store) GetCampaignStats(_ context.Context, provider, accountID string, campaignIDs []string) (map[string]domain.CampaignStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := keySet(campaignIDs)
	out := make(map[string]domain.CampaignStats)
	for k, st := range s.stats {
		if k.provider != provider || k.accountID != accountID {
			continue
		}
		if want != nil && !want[k.campaignID] {
			continue
		}
		out[k.campaignID] = copyStats(st)
	}
	return out, nil
}

func (s *Store) WipeCampaignStats(_ context.Context, provider, accountID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k := range s.stats {
		if k.provider == provider && k.accountID == accountID {
			delete(s.stats, k)
			n++
		}
	}
	return n, nil
}

func keySet(keys []string) map[string]bool {
	if len(keys) == 0 {
		return nil
	}
	m := make(map[string]bool, len(keys))
	for _, k := range keys {
		m[k] = true
	}
	return m
}

// copyStats detaches the timestamp pointers from the stored value.
func copyStats(st domain.CampaignStats) domain.CampaignStats {
	if st.FirstDeliveredAt != nil {
		t := *st.FirstDeliveredAt
		st.FirstDeliveredAt = &t
	}
	if st.LastEventAt != nil {
		t := *st.LastEventAt
		st.LastEventAt = &t
	}
	return st
}
