// Package integration assembles the ESP integration layer. Every binary builds
// one Context at startup and passes it down; nothing in the layer keeps
// package-level state.
package integration

import (
	"fmt"
	"time"

	"esphub/internal/cache"
	"esphub/internal/connections"
	"esphub/internal/providers"
	"esphub/internal/providers/ghl"
	"esphub/internal/providers/klaviyo"
	"esphub/internal/service"
	"esphub/internal/store"
	"esphub/internal/vault"
	"esphub/internal/webhook"
)

type Options struct {
	// Secrets are the vault secrets, primary first.
	Secrets []string

	Connections store.ConnectionRepository
	Accounts    store.AccountRepository
	Stats       store.StatsRepository

	// Cache and Ledger default to in-process ttlcache instances.
	Cache            cache.CampaignCache
	Ledger           cache.Ledger
	CampaignCacheTTL time.Duration
	DedupTTL         time.Duration

	// A nil provider config leaves that provider unregistered.
	GHL     *ghl.Config
	Klaviyo *klaviyo.Config

	Concurrency         int
	BackfillConcurrency int
	CallTimeout         time.Duration
}

type Context struct {
	Vault       *vault.Vault
	Connections *connections.Store
	Accounts    store.AccountRepository
	Stats       store.StatsRepository
	Registry    *providers.Registry
	Cache       cache.CampaignCache
	Ledger      cache.Ledger
	Webhooks    *webhook.Pipeline
	Service     *service.Service

	closers []func()
}

func New(opts Options) (*Context, error) {
	if opts.Connections == nil || opts.Accounts == nil || opts.Stats == nil {
		return nil, fmt.Errorf("integration: repositories are required")
	}
	v, err := vault.New(opts.Secrets)
	if err != nil {
		return nil, err
	}

	ic := &Context{
		Vault:       v,
		Connections: connections.New(opts.Connections, v),
		Accounts:    opts.Accounts,
		Stats:       opts.Stats,
		Registry:    providers.NewRegistry(opts.Accounts),
		Cache:       opts.Cache,
		Ledger:      opts.Ledger,
	}
	if opts.CampaignCacheTTL <= 0 {
		opts.CampaignCacheTTL = 5 * time.Minute
	}
	if opts.DedupTTL <= 0 {
		opts.DedupTTL = 24 * time.Hour
	}
	if ic.Cache == nil {
		c := cache.NewMemoryCampaignCache(opts.CampaignCacheTTL)
		ic.Cache = c
		ic.closers = append(ic.closers, c.Close)
	}
	if ic.Ledger == nil {
		l := cache.NewMemoryLedger(opts.DedupTTL)
		ic.Ledger = l
		ic.closers = append(ic.closers, l.Close)
	}

	ic.Webhooks = webhook.New(ic.Registry, ic.Stats, ic.Ledger, ic.Cache)

	if opts.GHL != nil {
		a, err := ghl.New(*opts.GHL, ic.Connections)
		if err != nil {
			ic.Close()
			return nil, err
		}
		if err := ic.Registry.Register(a); err != nil {
			ic.Close()
			return nil, err
		}
		ic.Webhooks.Handle(ghl.Provider, ghl.WebhookFamily, ghl.ExtractEmailStats)
	}
	if opts.Klaviyo != nil {
		if err := ic.Registry.Register(klaviyo.New(*opts.Klaviyo, ic.Connections)); err != nil {
			ic.Close()
			return nil, err
		}
		ic.Webhooks.Handle(klaviyo.Provider, klaviyo.WebhookFamily, klaviyo.ExtractEvents)
	}

	ic.Service = &service.Service{
		Registry:            ic.Registry,
		Accounts:            ic.Accounts,
		Stats:               ic.Stats,
		Cache:               ic.Cache,
		Concurrency:         opts.Concurrency,
		BackfillConcurrency: opts.BackfillConcurrency,
		CallTimeout:         opts.CallTimeout,
	}
	return ic, nil
}

// Close stops the in-process caches it created.
func (ic *Context) Close() {
	for _, c := range ic.closers {
		c()
	}
	ic.closers = nil
}
