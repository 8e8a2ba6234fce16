package fanout

import (
	"sort"
	"sync"
)

type Meta struct {
	TotalFetched         int `json:"totalFetched"`
	AccountsFetched      int `json:"accountsFetched"`
	SkippedNoAdapter     int `json:"skippedNoAdapter"`
	SkippedNoCredentials int `json:"skippedNoCredentials"`
	ErrorCount           int `json:"errorCount"`
}

// Report is the response shape of every cross-account aggregate.
type Report[T any] struct {
	Results    []T               `json:"results"`
	PerAccount map[string][]T    `json:"perAccount"`
	Errors     map[string]string `json:"errors"`
	Meta       Meta              `json:"meta"`
}

// Collector gathers per-account outcomes from concurrent tasks.
type Collector[T any] struct {
	mu         sync.Mutex
	perAccount map[string][]T
	order      []string
	errors     map[string]string
	noAdapter  int
	noCreds    int
}

func NewCollector[T any]() *Collector[T] {
	return &Collector[T]{perAccount: map[string][]T{}, errors: map[string]string{}}
}

func (c *Collector[T]) Add(accountKey string, items []T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.perAccount[accountKey]; !ok {
		c.order = append(c.order, accountKey)
	}
	c.perAccount[accountKey] = append(c.perAccount[accountKey], items...)
}

func (c *Collector[T]) Fail(accountKey string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors[accountKey] = err.Error()
}

func (c *Collector[T]) SkipNoAdapter() {
	c.mu.Lock()
	c.noAdapter++
	c.mu.Unlock()
}

func (c *Collector[T]) SkipNoCredentials() {
	c.mu.Lock()
	c.noCreds++
	c.mu.Unlock()
}

// Report orders results by account key so the output is stable across runs.
func (c *Collector[T]) Report() Report[T] {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := append([]string(nil), c.order...)
	sort.Strings(keys)

	rep := Report[T]{
		Results:    []T{},
		PerAccount: make(map[string][]T, len(keys)),
		Errors:     make(map[string]string, len(c.errors)),
	}
	for _, k := range keys {
		items := c.perAccount[k]
		rep.PerAccount[k] = append([]T{}, items...)
		rep.Results = append(rep.Results, items...)
	}
	for k, v := range c.errors {
		rep.Errors[k] = v
	}
	rep.Meta = Meta{
		TotalFetched:         len(rep.Results),
		AccountsFetched:      len(keys),
		SkippedNoAdapter:     c.noAdapter,
		SkippedNoCredentials: c.noCreds,
		ErrorCount:           len(c.errors),
	}
	return rep
}
