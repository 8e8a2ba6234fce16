package providers

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"esphub/internal/domain"
	"esphub/internal/store"
)

// AccountLookup resolves an account key to its metadata.
type AccountLookup interface {
	GetAccount(ctx context.Context, accountKey string) (domain.Account, error)
}

// Registry maps provider ids to adapters. Adapters are registered once at
// startup and live for the life of the process.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]*Adapter
	accounts AccountLookup
}

func NewRegistry(accounts AccountLookup) *Registry {
	return &Registry{adapters: map[string]*Adapter{}, accounts: accounts}
}

func (r *Registry) Register(a *Adapter) error {
	if err := a.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.adapters[a.Provider]; dup {
		return fmt.Errorf("provider %s already registered", a.Provider)
	}
	r.adapters[a.Provider] = a
	return nil
}

func (r *Registry) Adapter(provider string) (*Adapter, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrAdapterNotRegistered, provider)
	}
	return a, nil
}

// AccountProvider returns the provider configured for an account.
func (r *Registry) AccountProvider(ctx context.Context, accountKey string) (string, error) {
	if r.accounts == nil {
		return "", domain.ErrAccountNotFound
	}
	acc, err := r.accounts.GetAccount(ctx, accountKey)
	if errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("%w: %q", domain.ErrAccountNotFound, accountKey)
	}
	if err != nil {
		return "", err
	}
	return strings.ToLower(acc.Provider), nil
}

func (r *Registry) AdapterForAccount(ctx context.Context, accountKey string) (*Adapter, error) {
	provider, err := r.AccountProvider(ctx, accountKey)
	if err != nil {
		return nil, err
	}
	return r.Adapter(provider)
}

func (r *Registry) Capabilities(provider string) (domain.ProviderCapabilities, error) {
	a, err := r.Adapter(provider)
	if err != nil {
		return domain.ProviderCapabilities{}, err
	}
	return a.Capabilities(), nil
}

// Providers lists registered provider ids in sorted order.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.adapters))
	for p := range r.adapters {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
