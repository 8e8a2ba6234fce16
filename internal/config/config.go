package config

import (
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Base struct {
	Port        string `envconfig:"PORT" default:"8080"`
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
}

// Storage is shared by every binary that touches credentials or stats.
type Storage struct {
	DBDSN             string        `envconfig:"DB_DSN" required:"true"`
	DBMaxConns        int32         `envconfig:"DB_POOL_MAX_CONNS" default:"10"`
	DBMinConns        int32         `envconfig:"DB_POOL_MIN_CONNS" default:"1"`
	DBMaxConnLifetime time.Duration `envconfig:"DB_POOL_MAX_CONN_LIFETIME" default:"30m"`
	DBMaxConnIdleTime time.Duration `envconfig:"DB_POOL_MAX_CONN_IDLE_TIME" default:"5m"`

	// Empty means in-process ttlcache; only valid for a single replica.
	RedisURL         string        `envconfig:"REDIS_URL"`
	CampaignCacheTTL time.Duration `envconfig:"CAMPAIGN_CACHE_TTL" default:"5m"`
	WebhookDedupTTL  time.Duration `envconfig:"WEBHOOK_DEDUP_TTL" default:"24h"`

	TokenSecret          string `envconfig:"ESP_TOKEN_SECRET" required:"true"`
	TokenSecretsPrevious string `envconfig:"ESP_TOKEN_SECRET_PREVIOUS"`
}

// VaultSecrets returns the primary secret followed by previous ones, newest first.
func (s Storage) VaultSecrets() []string {
	out := []string{s.TokenSecret}
	for _, p := range strings.Split(s.TokenSecretsPrevious, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

type Providers struct {
	GHLBaseURL          string   `envconfig:"GHL_BASE_URL"`
	GHLClientID         string   `envconfig:"GHL_CLIENT_ID"`
	GHLClientSecret     string   `envconfig:"GHL_CLIENT_SECRET"`
	GHLWebhookPublicKey string   `envconfig:"GHL_WEBHOOK_PUBLIC_KEY"`
	GHLRequiredScopes   []string `envconfig:"GHL_REQUIRED_SCOPES"`
	GHLRPS              float64  `envconfig:"GHL_RPS" default:"10"`
	GHLBurst            int      `envconfig:"GHL_BURST" default:"20"`

	KlaviyoBaseURL       string  `envconfig:"KLAVIYO_BASE_URL"`
	KlaviyoWebhookSecret string  `envconfig:"KLAVIYO_WEBHOOK_SECRET"`
	KlaviyoRPS           float64 `envconfig:"KLAVIYO_RPS" default:"10"`
	KlaviyoBurst         int     `envconfig:"KLAVIYO_BURST" default:"20"`

	ProviderHTTPTimeout time.Duration `envconfig:"PROVIDER_HTTP_TIMEOUT" default:"10s"`
}

type Fanout struct {
	Concurrency         int           `envconfig:"FANOUT_CONCURRENCY" default:"5"`
	BackfillConcurrency int           `envconfig:"BACKFILL_CONCURRENCY" default:"3"`
	CallTimeout         time.Duration `envconfig:"PROVIDER_CALL_TIMEOUT" default:"15s"`
}

type Queue struct {
	AWSRegion          string `envconfig:"AWS_REGION" default:"us-east-1"`
	BackfillQueueURL   string `envconfig:"BACKFILL_QUEUE_URL"`
	LocalstackEndpoint string `envconfig:"LOCALSTACK_ENDPOINT"`
}

type APIConfig struct {
	Base
	Storage
	Providers
	Fanout
	Queue

	MaxBodyBytes int64 `envconfig:"API_MAX_BODY_BYTES" default:"10485760"`
}

type WebhookConfig struct {
	Base
	Storage
	Providers

	MaxBodyBytes int64 `envconfig:"WEBHOOK_MAX_BODY_BYTES" default:"1048576"`
}

type WorkerConfig struct {
	Base
	Storage
	Providers
	Fanout
	Queue

	SQSWaitTime       int32 `envconfig:"SQS_WAIT_TIME" default:"20"`
	SQSMaxMsgs        int32 `envconfig:"SQS_MAX_MSGS" default:"10"`
	SQSVizTimeout     int32 `envconfig:"SQS_VISIBILITY_TIMEOUT" default:"300"`
	WorkerConcurrency int   `envconfig:"WORKER_CONCURRENCY" default:"4"`
}

type MockESPConfig struct {
	Base

	WebhookURL      string        `envconfig:"MOCK_WEBHOOK_URL" default:"http://localhost:8081/webhooks/esp/ghl/email-stats"`
	LocationID      string        `envconfig:"MOCK_LOCATION_ID" default:"loc_mock"`
	PrivateKeyPEM   string        `envconfig:"MOCK_PRIVATE_KEY"`
	DuplicateRate   float64       `envconfig:"MOCK_DUPLICATE_RATE" default:"0.2"`
	FailureRate     float64       `envconfig:"MOCK_FAILURE_RATE" default:"0.05"`
	MaxAttempts     int           `envconfig:"MOCK_MAX_ATTEMPTS" default:"5"`
	EventSpacing    time.Duration `envconfig:"MOCK_EVENT_SPACING" default:"200ms"`
	CampaignCount   int           `envconfig:"MOCK_CAMPAIGN_COUNT" default:"3"`
	RecipientsPerOp int           `envconfig:"MOCK_RECIPIENTS" default:"10"`
}

func LoadAPI() APIConfig {
	var cfg APIConfig
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	return cfg
}

func LoadWebhook() WebhookConfig {
	var cfg WebhookConfig
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	return cfg
}

func LoadWorker() WorkerConfig {
	var cfg WorkerConfig
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	return cfg
}

func LoadMockESP() MockESPConfig {
	var cfg MockESPConfig
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	return cfg
}
