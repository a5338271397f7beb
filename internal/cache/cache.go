// Package cache implements the Cache Manager (spec §4.2): a namespaced
// key→value store with TTL/size/memory eviction and single-flight
// memoisation. It generalizes the teacher's single-namespace LRU
// (kernel/core/mesh/cache.go's ChunkCache: a container/list LRU with
// hit/miss/eviction counters) into many independently configured
// namespaces, and adds the single-flight guarantee with
// golang.org/x/sync/singleflight rather than hand-rolling a waiter list.
package cache

import (
	"container/list"
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lattice-games/c4aicore/internal/events"
	"github.com/lattice-games/c4aicore/internal/obslog"
	"golang.org/x/sync/singleflight"
)

// NamespaceConfig overrides the manager defaults for one namespace.
type NamespaceConfig struct {
	TTL              time.Duration
	MaxEntries       int
	MemoryLimitBytes int64
}

// Config configures a Manager (spec §6.4).
type Config struct {
	DefaultTTL            time.Duration
	MaxEntries            int
	MemoryLimitBytes      int64
	PerNamespaceOverrides map[string]NamespaceConfig
}

// SetOptions customizes one Set call.
type SetOptions struct {
	TTL   time.Duration // zero means namespace default
	Bytes int64         // zero defaults to 1
}

// Stats is the per-namespace snapshot returned by Manager.Stats.
type Stats struct {
	Hits      uint64
	Misses    uint64
	HitRate   float64
	Entries   int
	Bytes     int64
	Evictions uint64
}

type entry struct {
	key       string
	value     any
	createdAt time.Time
	expiresAt time.Time // zero means no expiry
	bytes     int64
	hits      uint64
}

type namespace struct {
	mu        sync.Mutex
	cfg       NamespaceConfig
	elems     map[string]*list.Element
	lru       *list.List // front = most recently used
	bytes     int64
	hits      uint64
	misses    uint64
	evictions uint64
}

func newNamespace(cfg NamespaceConfig) *namespace {
	return &namespace{cfg: cfg, elems: make(map[string]*list.Element), lru: list.New()}
}

// Manager is the Cache Manager.
type Manager struct {
	mu         sync.RWMutex
	namespaces map[string]*namespace
	defaults   NamespaceConfig
	overrides  map[string]NamespaceConfig

	sf     singleflight.Group
	bus    *events.Bus
	logger *obslog.Logger
}

// New builds a Manager from Config.
func New(cfg Config, bus *events.Bus, logger *obslog.Logger) *Manager {
	return &Manager{
		namespaces: make(map[string]*namespace),
		defaults: NamespaceConfig{
			TTL:              cfg.DefaultTTL,
			MaxEntries:       cfg.MaxEntries,
			MemoryLimitBytes: cfg.MemoryLimitBytes,
		},
		overrides: cfg.PerNamespaceOverrides,
		bus:       bus,
		logger:    logger,
	}
}

func (m *Manager) namespaceFor(name string) *namespace {
	m.mu.RLock()
	ns, ok := m.namespaces[name]
	m.mu.RUnlock()
	if ok {
		return ns
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if ns, ok = m.namespaces[name]; ok {
		return ns
	}
	cfg := m.defaults
	if o, ok := m.overrides[name]; ok {
		if o.TTL != 0 {
			cfg.TTL = o.TTL
		}
		if o.MaxEntries != 0 {
			cfg.MaxEntries = o.MaxEntries
		}
		if o.MemoryLimitBytes != 0 {
			cfg.MemoryLimitBytes = o.MemoryLimitBytes
		}
	}
	ns = newNamespace(cfg)
	m.namespaces[name] = ns
	return ns
}

// Get returns the value for (namespace, key), or (nil, false) on miss or
// expiry. A hit moves the entry to the front of the LRU order.
func (m *Manager) Get(namespace, key string) (any, bool) {
	ns := m.namespaceFor(namespace)
	ns.mu.Lock()
	defer ns.mu.Unlock()

	el, ok := ns.elems[key]
	if !ok {
		ns.misses++
		m.bus.EmitKV(events.CacheMiss, "namespace", namespace, "key", key)
		return nil, false
	}
	e := el.Value.(*entry)
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		ns.removeLocked(el)
		ns.misses++
		m.bus.EmitKV(events.CacheMiss, "namespace", namespace, "key", key, "reason", "expired")
		return nil, false
	}
	e.hits++
	ns.lru.MoveToFront(el)
	ns.hits++
	m.bus.EmitKV(events.CacheHit, "namespace", namespace, "key", key)
	return e.value, true
}

// Set inserts or overwrites (namespace, key), then evicts down to the
// namespace's configured limits: expired entries first, then least-recently
// used by count limit, then lowest-value (hits/age) by memory limit.
func (m *Manager) Set(namespace, key string, value any, opts SetOptions) {
	ns := m.namespaceFor(namespace)
	now := time.Now()

	var expiresAt time.Time
	ttl := opts.TTL
	if ttl == 0 {
		ttl = ns.cfg.TTL
	}
	if ttl > 0 {
		expiresAt = now.Add(ttl)
	}
	b := opts.Bytes
	if b <= 0 {
		b = 1
	}

	ns.mu.Lock()
	if el, ok := ns.elems[key]; ok {
		old := el.Value.(*entry)
		ns.bytes -= old.bytes
		el.Value = &entry{key: key, value: value, createdAt: now, expiresAt: expiresAt, bytes: b}
		ns.lru.MoveToFront(el)
		ns.bytes += b
	} else {
		e := &entry{key: key, value: value, createdAt: now, expiresAt: expiresAt, bytes: b}
		el := ns.lru.PushFront(e)
		ns.elems[key] = el
		ns.bytes += b
	}
	evicted := ns.evictLocked(now)
	ns.mu.Unlock()

	for _, k := range evicted {
		m.bus.EmitKV(events.CacheEvicted, "namespace", namespace, "key", k)
	}
}

// evictLocked applies the eviction policy in order: expired, then LRU by
// count limit, then lowest-value (hits/age) by memory limit. Caller holds
// ns.mu.
func (ns *namespace) evictLocked(now time.Time) []string {
	var evicted []string

	for el := ns.lru.Back(); el != nil; {
		e := el.Value.(*entry)
		prev := el.Prev()
		if !e.expiresAt.IsZero() && now.After(e.expiresAt) {
			ns.removeLocked(el)
			ns.evictions++
			evicted = append(evicted, e.key)
		}
		el = prev
	}

	if ns.cfg.MaxEntries > 0 {
		for ns.lru.Len() > ns.cfg.MaxEntries {
			el := ns.lru.Back()
			if el == nil {
				break
			}
			e := el.Value.(*entry)
			ns.removeLocked(el)
			ns.evictions++
			evicted = append(evicted, e.key)
		}
	}

	if ns.cfg.MemoryLimitBytes > 0 {
		for ns.bytes > ns.cfg.MemoryLimitBytes && ns.lru.Len() > 0 {
			worst := ns.lowestValueLocked(now)
			if worst == nil {
				break
			}
			e := worst.Value.(*entry)
			ns.removeLocked(worst)
			ns.evictions++
			evicted = append(evicted, e.key)
		}
	}

	return evicted
}

func (ns *namespace) lowestValueLocked(now time.Time) *list.Element {
	var worst *list.Element
	var worstScore float64
	for el := ns.lru.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry)
		age := now.Sub(e.createdAt).Seconds()
		if age <= 0 {
			age = 0.001
		}
		score := float64(e.hits) / age
		if worst == nil || score < worstScore {
			worst = el
			worstScore = score
		}
	}
	return worst
}

func (ns *namespace) removeLocked(el *list.Element) {
	e := el.Value.(*entry)
	ns.lru.Remove(el)
	delete(ns.elems, e.key)
	ns.bytes -= e.bytes
}

// BatchGet returns an atomic read snapshot of the given keys within one
// namespace; missing keys are absent from the result map.
func (m *Manager) BatchGet(namespace string, keys []string) map[string]any {
	ns := m.namespaceFor(namespace)
	ns.mu.Lock()
	defer ns.mu.Unlock()

	now := time.Now()
	out := make(map[string]any, len(keys))
	for _, key := range keys {
		el, ok := ns.elems[key]
		if !ok {
			ns.misses++
			continue
		}
		e := el.Value.(*entry)
		if !e.expiresAt.IsZero() && now.After(e.expiresAt) {
			ns.removeLocked(el)
			ns.misses++
			continue
		}
		e.hits++
		ns.lru.MoveToFront(el)
		ns.hits++
		out[key] = e.value
	}
	return out
}

// Invalidate removes every entry in namespace whose key contains pattern
// (empty pattern clears the whole namespace).
func (m *Manager) Invalidate(namespace, pattern string) {
	ns := m.namespaceFor(namespace)
	ns.mu.Lock()
	defer ns.mu.Unlock()

	var toRemove []*list.Element
	for el := ns.lru.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry)
		if pattern == "" || strings.Contains(e.key, pattern) {
			toRemove = append(toRemove, el)
		}
	}
	for _, el := range toRemove {
		ns.removeLocked(el)
	}
}

// PreloadItem is one entry to fill via Preload.
type PreloadItem struct {
	Key     string
	Compute func() (any, error)
}

// Preload fills entries that are not already present, via each item's
// Compute function. A compute failure for one item does not block the rest.
func (m *Manager) Preload(namespace string, items []PreloadItem, opts SetOptions) {
	for _, item := range items {
		if _, ok := m.Get(namespace, item.Key); ok {
			continue
		}
		value, err := item.Compute()
		if err != nil {
			m.logger.Warn("preload compute failed", obslog.F("namespace", namespace), obslog.F("key", item.Key), obslog.F("err", err))
			continue
		}
		m.Set(namespace, item.Key, value, opts)
	}
}

// Stats returns the namespace's current hit/miss/eviction counters.
func (m *Manager) Stats(namespace string) Stats {
	ns := m.namespaceFor(namespace)
	ns.mu.Lock()
	defer ns.mu.Unlock()

	total := ns.hits + ns.misses
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(ns.hits) / float64(total)
	}
	return Stats{
		Hits:      ns.hits,
		Misses:    ns.misses,
		HitRate:   hitRate,
		Entries:   ns.lru.Len(),
		Bytes:     ns.bytes,
		Evictions: ns.evictions,
	}
}

// Memoise performs a single-flight memoised Get-or-compute for
// (namespace, key): concurrent callers for the same key share one
// invocation of fn; losers observe the winner's result (success or
// failure) without re-invoking fn. A successful result is cached under
// opts; a failing one is never cached.
func Memoise[T any](m *Manager, namespace, key string, opts SetOptions, fn func(ctx context.Context) (T, error)) (T, error) {
	v, _, err := MemoiseShared(m, namespace, key, opts, fn)
	return v, err
}

// MemoiseShared is Memoise plus a cached flag: true when this call was
// served from the cache — either the top-level Get, the re-check inside the
// single-flight critical section, or by joining an in-flight call some other
// caller originated — false only for the one caller whose goroutine actually
// invoked fn. singleflight.Group.Do's own "shared" return is true for every
// caller (winner included) whenever at least one other caller merged in, so
// it cannot by itself tell the computing caller apart from joiners; a
// per-call winner flag set only inside the branch that calls fn does (spec
// §8 scenario 6: of 10 concurrent identical requests, exactly the one that
// computes reports cached=false, the other 9 report cached=true).
func MemoiseShared[T any](m *Manager, namespace, key string, opts SetOptions, fn func(ctx context.Context) (T, error)) (T, bool, error) {
	var zero T
	if v, ok := m.Get(namespace, key); ok {
		if tv, ok := v.(T); ok {
			return tv, true, nil
		}
	}

	var won int32
	sfKey := namespace + "\x00" + key
	v, err, _ := m.sf.Do(sfKey, func() (any, error) {
		// Re-check inside the single-flight critical section: another
		// winner may have populated the cache while we waited to be
		// scheduled.
		if v, ok := m.Get(namespace, key); ok {
			if tv, ok := v.(T); ok {
				return tv, nil
			}
		}
		atomic.StoreInt32(&won, 1)
		result, err := fn(context.Background())
		if err != nil {
			return zero, err
		}
		m.Set(namespace, key, result, opts)
		return result, nil
	})
	if err != nil {
		return zero, false, err
	}
	return v.(T), atomic.LoadInt32(&won) == 0, nil
}
