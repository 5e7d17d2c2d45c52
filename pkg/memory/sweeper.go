package memory

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"sort"
	"time"

	"github.com/hivemesh/hivemind/pkg/types"
)

// Sweep intervals. Expired entries are also deleted lazily on retrieval;
// the sweeps bound how long dead data can linger.
const (
	ExpirySweepInterval      = 60 * time.Second
	RetentionSweepInterval   = time.Hour
	CompressionSweepInterval = time.Hour
)

// Compression thresholds: cold, large, old entries get compressed.
const (
	compressMinAge    = 7 * 24 * time.Hour
	compressMinSize   = 10000
	compressMaxAccess = 5
)

// Run drives the background sweeps until the context is cancelled
func (m *Memory) Run(ctx context.Context) {
	expiry := time.NewTicker(ExpirySweepInterval)
	retention := time.NewTicker(RetentionSweepInterval)
	compression := time.NewTicker(CompressionSweepInterval)
	defer expiry.Stop()
	defer retention.Stop()
	defer compression.Stop()

	for {
		select {
		case <-expiry.C:
			if n, err := m.SweepExpired(); err != nil {
				m.logger.Error().Err(err).Msg("expiry sweep failed")
			} else if n > 0 {
				m.logger.Debug().Int("removed", n).Msg("expired entries swept")
			}
		case <-retention.C:
			if err := m.EnforceRetention(); err != nil {
				m.logger.Error().Err(err).Msg("retention sweep failed")
			}
		case <-compression.C:
			if n, err := m.Compress(""); err != nil {
				m.logger.Error().Err(err).Msg("compression sweep failed")
			} else if n > 0 {
				m.logger.Debug().Int("compressed", n).Msg("cold entries compressed")
			}
		case <-ctx.Done():
			return
		}
	}
}

// SweepExpired removes every entry past its TTL
func (m *Memory) SweepExpired() (int, error) {
	entries, err := m.store.ListAllMemory()
	if err != nil {
		return 0, err
	}
	now := time.Now()
	removed := 0
	for _, e := range entries {
		if !e.Expired(now) {
			continue
		}
		if err := m.Delete(e.Namespace, e.Key); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// EnforceRetention applies each namespace's retention policy
func (m *Memory) EnforceRetention() error {
	namespaces, err := m.store.ListNamespaces()
	if err != nil {
		return err
	}
	now := time.Now()

	for _, ns := range namespaces {
		switch ns.Policy {
		case types.RetentionTimeBased:
			if ns.TTL <= 0 {
				continue
			}
			cutoff := now.Add(-time.Duration(ns.TTL) * time.Second)
			entries, err := m.store.ListMemory(ns.Name, 0)
			if err != nil {
				return err
			}
			for _, e := range entries {
				if e.CreatedAt.Before(cutoff) {
					if err := m.Delete(ns.Name, e.Key); err != nil {
						return err
					}
				}
			}
		case types.RetentionSizeBased:
			if ns.MaxEntries <= 0 {
				continue
			}
			count, err := m.store.CountMemory(ns.Name)
			if err != nil {
				return err
			}
			if count > ns.MaxEntries {
				if _, err := m.EvictOldest(ns.Name, count-ns.MaxEntries); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// Compress replaces the value of cold entries (older than seven days,
// larger than 10 kB, accessed fewer than five times) with a gzip
// representation. The tag round-trips: Retrieve decompresses
// transparently. An empty namespace compresses every namespace.
func (m *Memory) Compress(namespace string) (int, error) {
	var entries []*types.MemoryEntry
	var err error
	if namespace != "" {
		entries, err = m.store.ListMemory(namespace, 0)
	} else {
		entries, err = m.store.ListAllMemory()
	}
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-compressMinAge)
	compressed := 0
	for _, e := range entries {
		// Sealed values don't compress; leave them alone
		if e.Compressed || e.Encrypted ||
			e.CreatedAt.After(cutoff) ||
			len(e.Value) <= compressMinSize ||
			e.AccessCount >= compressMaxAccess {
			continue
		}

		packed, err := compress(e.Value)
		if err != nil {
			return compressed, err
		}
		e.OriginalLength = len(e.Value)
		e.Value = packed
		e.Compressed = true
		if err := m.store.PutMemory(e); err != nil {
			return compressed, err
		}
		m.cache.Remove(cacheKey(e.Namespace, e.Key))
		compressed++
	}
	return compressed, nil
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}

// HotKeys returns the top n entries by access count across all namespaces
func (m *Memory) HotKeys(n int) ([]*types.MemoryEntry, error) {
	entries, err := m.store.ListAllMemory()
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].AccessCount > entries[j].AccessCount })
	if n > 0 && len(entries) > n {
		entries = entries[:n]
	}
	return entries, nil
}
