package testing

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/flipwatch/engine/internal/clients/notify"
	"github.com/flipwatch/engine/internal/domain"
)

// FakeCache is an in-memory stand-in for the Redis cache store. It honors
// the same two read disciplines: volatile entries vanish at their TTL, while
// envelope entries go stale at their freshness deadline but remain readable.
// The clock is injectable so tests can age entries deterministically.
type FakeCache struct {
	mu      sync.RWMutex
	now     func() time.Time
	entries map[string]fakeEntry
}

type fakeEntry struct {
	data       []byte
	expiresAt  time.Time // hard TTL; zero means no expiry
	freshUntil time.Time // envelope freshness; zero for volatile entries
	isEnvelope bool
}

// NewFakeCache creates an empty fake cache using the real clock.
func NewFakeCache() *FakeCache {
	return &FakeCache{
		now:     time.Now,
		entries: make(map[string]fakeEntry),
	}
}

// SetClock replaces the clock used for TTL and freshness checks.
func (f *FakeCache) SetClock(now func() time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = now
}

func (f *FakeCache) alive(e fakeEntry) bool {
	return e.expiresAt.IsZero() || f.now().Before(e.expiresAt)
}

// Set stores a value as JSON with a hard TTL.
func (f *FakeCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[key] = fakeEntry{data: data, expiresAt: f.now().Add(ttl)}
	return nil
}

// Get reads a JSON value into dest. Returns false when absent or expired.
func (f *FakeCache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	f.mu.RLock()
	entry, ok := f.entries[key]
	f.mu.RUnlock()

	if !ok || !f.alive(entry) {
		return false, nil
	}
	if err := json.Unmarshal(entry.data, dest); err != nil {
		return false, err
	}
	return true, nil
}

// SetBytes stores a raw payload with a hard TTL.
func (f *FakeCache) SetBytes(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	buf := make([]byte, len(data))
	copy(buf, data)
	f.entries[key] = fakeEntry{data: buf, expiresAt: f.now().Add(ttl)}
	return nil
}

// GetBytes reads a raw payload. Returns false when absent or expired.
func (f *FakeCache) GetBytes(ctx context.Context, key string) ([]byte, bool, error) {
	f.mu.RLock()
	entry, ok := f.entries[key]
	f.mu.RUnlock()

	if !ok || !f.alive(entry) {
		return nil, false, nil
	}
	return entry.data, true, nil
}

// StoreFresh stores a value inside a freshness envelope.
func (f *FakeCache) StoreFresh(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[key] = fakeEntry{
		data:       data,
		freshUntil: f.now().Add(ttl),
		isEnvelope: true,
	}
	return nil
}

// GetIfFresh reads an envelope entry only while fresh.
func (f *FakeCache) GetIfFresh(ctx context.Context, key string, dest interface{}) (bool, error) {
	f.mu.RLock()
	entry, ok := f.entries[key]
	f.mu.RUnlock()

	if !ok || !entry.isEnvelope || !f.now().Before(entry.freshUntil) {
		return false, nil
	}
	if err := json.Unmarshal(entry.data, dest); err != nil {
		return false, err
	}
	return true, nil
}

// GetStale reads an envelope entry regardless of freshness.
func (f *FakeCache) GetStale(ctx context.Context, key string, dest interface{}) (bool, error) {
	f.mu.RLock()
	entry, ok := f.entries[key]
	f.mu.RUnlock()

	if !ok || !entry.isEnvelope {
		return false, nil
	}
	if err := json.Unmarshal(entry.data, dest); err != nil {
		return false, err
	}
	return true, nil
}

// Delete removes keys.
func (f *FakeCache) Delete(ctx context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, key := range keys {
		delete(f.entries, key)
	}
	return nil
}

// Exists reports whether a key is present and alive.
func (f *FakeCache) Exists(ctx context.Context, key string) (bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	entry, ok := f.entries[key]
	return ok && f.alive(entry), nil
}

// ScanKeys returns keys matching a glob-style pattern. Only trailing-star
// patterns are supported, which is all the engine uses.
func (f *FakeCache) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	prefix := strings.TrimSuffix(pattern, "*")

	f.mu.RLock()
	defer f.mu.RUnlock()

	var keys []string
	for key, entry := range f.entries {
		if strings.HasPrefix(key, prefix) && f.alive(entry) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// Len returns the number of live entries.
func (f *FakeCache) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()

	count := 0
	for _, entry := range f.entries {
		if f.alive(entry) {
			count++
		}
	}
	return count
}

// FakeBudget is a configurable request-budget gate.
type FakeBudget struct {
	mu        sync.Mutex
	allowed   bool
	calls     int
	limit     int
	remaining int
}

// NewFakeBudget creates a budget gate that always allows by default, with a
// full window of 60 slots.
func NewFakeBudget() *FakeBudget {
	return &FakeBudget{allowed: true, limit: 60, remaining: 60}
}

// SetAllowed controls whether subsequent calls pass the gate.
func (b *FakeBudget) SetAllowed(allowed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allowed = allowed
}

// SetRemaining sets the unused-slot count reported by Remaining.
func (b *FakeBudget) SetRemaining(remaining int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.remaining = remaining
}

// Allow consumes one slot.
func (b *FakeBudget) Allow(ctx context.Context, key string) (bool, int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	return b.allowed, b.calls, nil
}

// Remaining reports the configured unused-slot count.
func (b *FakeBudget) Remaining(ctx context.Context, key string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.remaining, nil
}

// Limit returns the configured per-window budget.
func (b *FakeBudget) Limit() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.limit
}

// Calls returns how many slots were consumed.
func (b *FakeBudget) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

// FakePriceProvider is a mock of the marketdata provider used by analysis,
// alert evaluation and the sync scheduler.
type FakePriceProvider struct {
	mu        sync.RWMutex
	series    map[string]*domain.PriceSeries
	prices    map[string]domain.Money
	products  map[string]domain.TrackedProduct
	requests  []string
	refreshes []string
	err       error
}

// NewFakePriceProvider creates an empty provider.
func NewFakePriceProvider() *FakePriceProvider {
	return &FakePriceProvider{
		series:   make(map[string]*domain.PriceSeries),
		prices:   make(map[string]domain.Money),
		products: make(map[string]domain.TrackedProduct),
	}
}

// SetSeries registers the series returned for a product ref.
func (p *FakePriceProvider) SetSeries(ref string, series *domain.PriceSeries) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.series[ref] = series
}

// SetPrice registers the current price for a product ref and channel.
func (p *FakePriceProvider) SetPrice(ref string, channel domain.Channel, price domain.Money) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[fmt.Sprintf("%s:%s", ref, channel)] = price
}

// SetError makes all calls fail with err.
func (p *FakePriceProvider) SetError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// GetSeries returns the registered series.
func (p *FakePriceProvider) GetSeries(ctx context.Context, ref string, days int) (*domain.PriceSeries, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, ref)
	if p.err != nil {
		return nil, p.err
	}
	series, ok := p.series[ref]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return series, nil
}

// RefreshSeries returns the registered series, recording the forced refresh.
func (p *FakePriceProvider) RefreshSeries(ctx context.Context, ref string, days int) (*domain.PriceSeries, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshes = append(p.refreshes, ref)
	if p.err != nil {
		return nil, p.err
	}
	series, ok := p.series[ref]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return series, nil
}

// SeriesRequests returns the refs passed to GetSeries, in call order.
func (p *FakePriceProvider) SeriesRequests() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, len(p.requests))
	copy(out, p.requests)
	return out
}

// Refreshes returns the refs passed to RefreshSeries, in call order.
func (p *FakePriceProvider) Refreshes() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, len(p.refreshes))
	copy(out, p.refreshes)
	return out
}

// GetCurrentPrice returns the registered price.
func (p *FakePriceProvider) GetCurrentPrice(ctx context.Context, ref string, channel domain.Channel) (domain.Money, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.err != nil {
		return 0, p.err
	}
	price, ok := p.prices[fmt.Sprintf("%s:%s", ref, channel)]
	if !ok {
		return 0, domain.ErrNotFound
	}
	return price, nil
}

// SetProduct registers the catalog metadata returned for a product ref.
func (p *FakePriceProvider) SetProduct(product domain.TrackedProduct) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.products[product.Ref] = product
}

// GetProduct returns the registered catalog metadata.
func (p *FakePriceProvider) GetProduct(ctx context.Context, ref string) (*domain.TrackedProduct, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.err != nil {
		return nil, p.err
	}
	product, ok := p.products[ref]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &product, nil
}

// FakeDispatcher records notifications instead of delivering them.
type FakeDispatcher struct {
	mu   sync.Mutex
	sent []notify.Notification
	err  error
}

// NewFakeDispatcher creates an empty dispatcher.
func NewFakeDispatcher() *FakeDispatcher {
	return &FakeDispatcher{}
}

// SetError makes subsequent sends fail with err.
func (d *FakeDispatcher) SetError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

// Send records the notification.
func (d *FakeDispatcher) Send(ctx context.Context, n notify.Notification) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.sent = append(d.sent, n)
	return nil
}

// Sent returns a copy of the recorded notifications.
func (d *FakeDispatcher) Sent() []notify.Notification {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]notify.Notification, len(d.sent))
	copy(out, d.sent)
	return out
}
