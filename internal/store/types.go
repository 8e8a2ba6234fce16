package store

import (
	"context"
	"errors"
	"time"

	"esphub/internal/domain"
)

var ErrNotFound = errors.New("not found")

// OAuthConnectionRecord is the durable form of an OAuth connection. Token
// fields hold vault ciphertext.
type OAuthConnectionRecord struct {
	AccountKey      string
	Provider        string
	AccessTokenEnc  string
	RefreshTokenEnc string
	LocationID      string
	LocationName    string
	Scopes          []string
	ExpiresAt       *time.Time
	InstalledAt     time.Time
	UpdatedAt       time.Time
}

// APIKeyConnectionRecord is the durable form of an API-key connection.
type APIKeyConnectionRecord struct {
	AccountKey  string
	Provider    string
	APIKeyEnc   string
	AccountID   string
	AccountName string
	UpdatedAt   time.Time
}

// StatIncrement is one canonical event applied to a campaign aggregate.
type StatIncrement struct {
	Provider   string
	AccountID  string
	CampaignID string
	Column     domain.StatColumn
	OccurredAt time.Time
}

type ConnectionRepository interface {
	GetOAuthConnection(ctx context.Context, accountKey, provider string) (OAuthConnectionRecord, error)
	UpsertOAuthConnection(ctx context.Context, rec OAuthConnectionRecord) error
	DeleteOAuthConnection(ctx context.Context, accountKey, provider string) (bool, error)
	ListOAuthConnections(ctx context.Context, accountKeys []string) ([]OAuthConnectionRecord, error)
	// SwapOAuthTokens replaces the sealed tokens of prev's row with next's, but
	// only while the stored tokens still equal prev's. ok is false when the row
	// was changed or removed in between.
	SwapOAuthTokens(ctx context.Context, prev, next OAuthConnectionRecord) (ok bool, err error)

	GetAPIKeyConnection(ctx context.Context, accountKey, provider string) (APIKeyConnectionRecord, error)
	UpsertAPIKeyConnection(ctx context.Context, rec APIKeyConnectionRecord) error
	DeleteAPIKeyConnection(ctx context.Context, accountKey, provider string) (bool, error)
	ListAPIKeyConnections(ctx context.Context, accountKeys []string) ([]APIKeyConnectionRecord, error)
	// SwapAPIKey is SwapOAuthTokens for the sealed API key.
	SwapAPIKey(ctx context.Context, prev, next APIKeyConnectionRecord) (ok bool, err error)
}

type AccountRepository interface {
	GetAccount(ctx context.Context, accountKey string) (domain.Account, error)
	ListAccounts(ctx context.Context) ([]domain.Account, error)
	UpsertAccount(ctx context.Context, acc domain.Account) error
}

type StatsRepository interface {
	// IncrementCampaignStat atomically bumps one counter, creating the row on first event.
	IncrementCampaignStat(ctx context.Context, in StatIncrement) error
	// MergeCampaignStats folds a backfilled snapshot in without lowering any counter.
	MergeCampaignStats(ctx context.Context, in domain.CampaignStats) error
	GetCampaignStats(ctx context.Context, provider, accountID string, campaignIDs []string) (map[string]domain.CampaignStats, error)
	WipeCampaignStats(ctx context.Context, provider, accountID string) (int64, error)
}
