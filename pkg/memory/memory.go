package memory

import (
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hivemesh/hivemind/pkg/log"
	"github.com/hivemesh/hivemind/pkg/security"
	"github.com/hivemesh/hivemind/pkg/storage"
	"github.com/hivemesh/hivemind/pkg/types"
	"github.com/rs/zerolog"
)

// DefaultCacheSize bounds the in-process LRU cache
const DefaultCacheSize = 1000

// Built-in namespaces created on startup
const (
	NamespaceDefault     = "default"
	NamespaceTaskResults = "task-results"
	NamespaceAgentState  = "agent-state"
	NamespaceLearning    = "learning-data"
	NamespacePerformance = "performance-metrics"
	NamespaceDecisions   = "decisions"
)

// Memory is the namespaced collective knowledge layer. Writes go through
// to the Store; reads are fronted by a bounded LRU cache.
type Memory struct {
	store  storage.Store
	cache  *lru.Cache[string, *types.MemoryEntry]
	cipher *security.Cipher
	logger zerolog.Logger

	hits   int64
	misses int64
}

// SortBy orders search results
type SortBy string

const (
	SortByAccess  SortBy = "access"
	SortByRecent  SortBy = "recent"
	SortByCreated SortBy = "created"
)

// SearchOptions filters a memory search. Pattern is an unanchored
// case-insensitive substring match over key and value.
type SearchOptions struct {
	Namespace      string
	Pattern        string
	KeyPrefix      string
	MinAccessCount int64
	Limit          int
	SortBy         SortBy
}

// Stats summarizes memory contents and cache behavior
type Stats struct {
	TotalEntries int            `json:"total_entries"`
	Namespaces   map[string]int `json:"namespaces"`
	CacheSize    int            `json:"cache_size"`
	CacheHits    int64          `json:"cache_hits"`
	CacheMisses  int64          `json:"cache_misses"`
}

// New creates a Memory over the given store with a bounded LRU cache
func New(store storage.Store, cacheSize int) (*Memory, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[string, *types.MemoryEntry](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}

	m := &Memory{
		store:  store,
		cache:  cache,
		logger: log.WithComponent("memory"),
	}

	if err := m.ensureBuiltins(); err != nil {
		return nil, err
	}
	return m, nil
}

// ensureBuiltins declares the built-in namespaces. Policies are fixed at
// creation time and never rewritten for existing namespaces.
func (m *Memory) ensureBuiltins() error {
	builtins := []types.Namespace{
		{Name: NamespaceDefault, Policy: types.RetentionPersistent},
		{Name: NamespaceTaskResults, Policy: types.RetentionTimeBased, TTL: int64(30 * 24 * time.Hour / time.Second)},
		{Name: NamespaceAgentState, Policy: types.RetentionSizeBased, MaxEntries: 10000},
		{Name: NamespaceLearning, Policy: types.RetentionPersistent},
		{Name: NamespacePerformance, Policy: types.RetentionTimeBased, TTL: int64(7 * 24 * time.Hour / time.Second)},
		{Name: NamespaceDecisions, Policy: types.RetentionPersistent},
	}
	for i := range builtins {
		if _, err := m.store.GetNamespace(builtins[i].Name); err == nil {
			continue
		}
		builtins[i].CreatedAt = time.Now()
		if err := m.store.CreateNamespace(&builtins[i]); err != nil {
			return fmt.Errorf("failed to create namespace %s: %w", builtins[i].Name, err)
		}
	}
	return nil
}

// EnableEncryption turns on at-rest sealing of stored values. Entries
// written before the cipher was set stay plaintext; their flag says so.
func (m *Memory) EnableEncryption(c *security.Cipher) {
	m.cipher = c
}

// CreateNamespace declares a new namespace with a fixed retention policy
func (m *Memory) CreateNamespace(ns *types.Namespace) error {
	if ns.Name == "" {
		return fmt.Errorf("namespace name required: %w", types.ErrInvalidRequest)
	}
	if _, err := m.store.GetNamespace(ns.Name); err == nil {
		return nil // policies are immutable; re-declaration is a no-op
	}
	if ns.Policy == "" {
		ns.Policy = types.RetentionPersistent
	}
	ns.CreatedAt = time.Now()
	return m.store.CreateNamespace(ns)
}

// namespace resolves a namespace descriptor. Only "default" is
// auto-created; any other undeclared namespace is an error.
func (m *Memory) namespace(name string) (*types.Namespace, error) {
	ns, err := m.store.GetNamespace(name)
	if err == nil {
		return ns, nil
	}
	if name == NamespaceDefault {
		def := &types.Namespace{Name: NamespaceDefault, Policy: types.RetentionPersistent, CreatedAt: time.Now()}
		if cerr := m.store.CreateNamespace(def); cerr != nil {
			return nil, cerr
		}
		return def, nil
	}
	return nil, fmt.Errorf("namespace %q: %w", name, types.ErrUnknownEntity)
}

// Store upserts a value under (namespace, key). A zero ttl means the
// entry is persistent. Writes go through to the store and update the cache.
func (m *Memory) Store(namespace, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return fmt.Errorf("key required: %w", types.ErrInvalidRequest)
	}
	ns, err := m.namespace(namespace)
	if err != nil {
		return err
	}

	// Size-based namespaces refuse writes of new keys at capacity. The
	// caller may evict and retry.
	if ns.Policy == types.RetentionSizeBased && ns.MaxEntries > 0 {
		if _, gerr := m.store.GetMemory(namespace, key); gerr != nil {
			count, cerr := m.store.CountMemory(namespace)
			if cerr != nil {
				return cerr
			}
			if count >= ns.MaxEntries {
				return fmt.Errorf("namespace %q at %d entries: %w", namespace, count, types.ErrCapacityExceeded)
			}
		}
	}

	encrypted := false
	if m.cipher != nil {
		sealed, serr := m.cipher.Seal(value)
		if serr != nil {
			return fmt.Errorf("failed to seal value: %w", serr)
		}
		value = sealed
		encrypted = true
	}

	now := time.Now()
	entry := &types.MemoryEntry{
		Namespace:    namespace,
		Key:          key,
		Value:        value,
		TTL:          int64(ttl / time.Second),
		Encrypted:    encrypted,
		CreatedAt:    now,
		LastAccessAt: now,
	}
	if entry.TTL > 0 {
		entry.ExpiresAt = now.Add(time.Duration(entry.TTL) * time.Second)
	}

	if err := m.store.PutMemory(entry); err != nil {
		return err
	}
	m.cache.Add(cacheKey(namespace, key), entry)
	return nil
}

// Retrieve returns the value under (namespace, key), or nil with no error
// on a miss. Expired entries are deleted lazily and reported as misses.
func (m *Memory) Retrieve(namespace, key string) ([]byte, error) {
	ck := cacheKey(namespace, key)
	now := time.Now()

	entry, ok := m.cache.Get(ck)
	if !ok {
		atomic.AddInt64(&m.misses, 1)
		stored, err := m.store.GetMemory(namespace, key)
		if err != nil {
			return nil, nil // miss is not an error
		}
		entry = stored
	} else {
		atomic.AddInt64(&m.hits, 1)
	}

	if entry.Expired(now) {
		m.cache.Remove(ck)
		if err := m.store.DeleteMemory(namespace, key); err != nil {
			m.logger.Warn().Err(err).Str("key", key).Msg("lazy expiry delete failed")
		}
		return nil, nil
	}

	entry.AccessCount++
	entry.LastAccessAt = now
	if err := m.store.PutMemory(entry); err != nil {
		m.logger.Warn().Err(err).Str("key", key).Msg("access metadata write failed")
	}
	m.cache.Add(ck, entry)

	value := entry.Value
	if entry.Compressed {
		plain, err := decompress(value)
		if err != nil {
			return nil, fmt.Errorf("corrupt compressed entry %s/%s: %w", namespace, key, types.ErrInternalInvariant)
		}
		value = plain
	}
	if entry.Encrypted {
		if m.cipher == nil {
			return nil, fmt.Errorf("entry %s/%s is encrypted but encryption is disabled: %w",
				namespace, key, types.ErrInvalidRequest)
		}
		plain, err := m.cipher.Open(value)
		if err != nil {
			return nil, fmt.Errorf("entry %s/%s: %w", namespace, key, err)
		}
		value = plain
	}
	return value, nil
}

// Delete removes an entry from cache and store
func (m *Memory) Delete(namespace, key string) error {
	m.cache.Remove(cacheKey(namespace, key))
	return m.store.DeleteMemory(namespace, key)
}

// List returns up to limit entries in a namespace
func (m *Memory) List(namespace string, limit int) ([]*types.MemoryEntry, error) {
	if _, err := m.namespace(namespace); err != nil {
		return nil, err
	}
	return m.store.ListMemory(namespace, limit)
}

// Search filters entries per the options. Pattern matches key and value
// as an unanchored case-insensitive substring.
func (m *Memory) Search(opts SearchOptions) ([]*types.MemoryEntry, error) {
	var entries []*types.MemoryEntry
	var err error
	if opts.Namespace != "" {
		if _, nerr := m.namespace(opts.Namespace); nerr != nil {
			return nil, nerr
		}
		entries, err = m.store.ListMemory(opts.Namespace, 0)
	} else {
		entries, err = m.store.ListAllMemory()
	}
	if err != nil {
		return nil, err
	}

	pattern := strings.ToLower(opts.Pattern)
	now := time.Now()
	matched := entries[:0]
	for _, e := range entries {
		if e.Expired(now) {
			continue
		}
		if opts.KeyPrefix != "" && !strings.HasPrefix(e.Key, opts.KeyPrefix) {
			continue
		}
		if e.AccessCount < opts.MinAccessCount {
			continue
		}
		if pattern != "" && !strings.Contains(strings.ToLower(e.Key), pattern) {
			// Sealed or packed values can't be substring-matched
			if e.Encrypted || e.Compressed ||
				!strings.Contains(strings.ToLower(string(e.Value)), pattern) {
				continue
			}
		}
		matched = append(matched, e)
	}

	switch opts.SortBy {
	case SortByAccess:
		sort.Slice(matched, func(i, j int) bool { return matched[i].AccessCount > matched[j].AccessCount })
	case SortByRecent:
		sort.Slice(matched, func(i, j int) bool { return matched[i].LastAccessAt.After(matched[j].LastAccessAt) })
	default:
		sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	}

	if opts.Limit > 0 && len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}
	return matched, nil
}

// EvictOldest removes the n least recently accessed entries from a
// namespace. Callers use it to make room after ErrCapacityExceeded.
func (m *Memory) EvictOldest(namespace string, n int) (int, error) {
	entries, err := m.store.ListMemory(namespace, 0)
	if err != nil {
		return 0, err
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].LastAccessAt.Before(entries[j].LastAccessAt)
	})
	evicted := 0
	for _, e := range entries {
		if evicted >= n {
			break
		}
		if err := m.Delete(namespace, e.Key); err != nil {
			return evicted, err
		}
		evicted++
	}
	return evicted, nil
}

// Stats returns entry counts and cache behavior
func (m *Memory) Stats() (*Stats, error) {
	storeStats, err := m.store.Stats()
	if err != nil {
		return nil, err
	}
	return &Stats{
		TotalEntries: storeStats.Entries,
		Namespaces:   storeStats.Namespaces,
		CacheSize:    m.cache.Len(),
		CacheHits:    atomic.LoadInt64(&m.hits),
		CacheMisses:  atomic.LoadInt64(&m.misses),
	}, nil
}

func cacheKey(namespace, key string) string {
	return namespace + "/" + key
}
