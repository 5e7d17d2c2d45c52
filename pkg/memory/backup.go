package memory

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/hivemesh/hivemind/pkg/types"
)

// backupDocument is the serialized form written by Backup and consumed by
// Restore. Values are raw (possibly compressed) entry bytes; the
// compression tag travels with each entry so round-trips are exact.
type backupDocument struct {
	Version    int                  `json:"version"`
	CreatedAt  time.Time            `json:"created_at"`
	Namespaces []*types.Namespace   `json:"namespaces"`
	Entries    []*types.MemoryEntry `json:"entries"`
}

const backupVersion = 1

// Backup serializes every namespace descriptor and entry to the sink
func (m *Memory) Backup(w io.Writer) error {
	namespaces, err := m.store.ListNamespaces()
	if err != nil {
		return fmt.Errorf("failed to list namespaces: %w", err)
	}
	entries, err := m.store.ListAllMemory()
	if err != nil {
		return fmt.Errorf("failed to list entries: %w", err)
	}

	doc := backupDocument{
		Version:    backupVersion,
		CreatedAt:  time.Now(),
		Namespaces: namespaces,
		Entries:    entries,
	}
	return json.NewEncoder(w).Encode(&doc)
}

// Restore loads a backup, recreating namespaces first so retention
// policies land before their entries. Existing entries with the same
// (namespace, key) are overwritten.
func (m *Memory) Restore(r io.Reader) error {
	var doc backupDocument
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return fmt.Errorf("failed to decode backup: %w", types.ErrInvalidRequest)
	}
	if doc.Version > backupVersion {
		return fmt.Errorf("backup version %d newer than supported %d: %w",
			doc.Version, backupVersion, types.ErrSchemaIncompatible)
	}

	for _, ns := range doc.Namespaces {
		if _, err := m.store.GetNamespace(ns.Name); err == nil {
			continue
		}
		if err := m.store.CreateNamespace(ns); err != nil {
			return fmt.Errorf("failed to restore namespace %s: %w", ns.Name, err)
		}
	}

	for _, e := range doc.Entries {
		if err := m.store.PutMemory(e); err != nil {
			return fmt.Errorf("failed to restore entry %s/%s: %w", e.Namespace, e.Key, err)
		}
		m.cache.Remove(cacheKey(e.Namespace, e.Key))
	}
	return nil
}
