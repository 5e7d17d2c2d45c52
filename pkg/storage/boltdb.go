package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/hivemesh/hivemind/pkg/types"
	bolt "go.etcd.io/bbolt"
)

// schemaVersion is the schema this build writes. Older databases are
// migrated forward on open; newer ones fail with ErrSchemaIncompatible.
const schemaVersion = 2

var (
	// Bucket names
	bucketSwarms     = []byte("swarms")
	bucketAgents     = []byte("agents")
	bucketTasks      = []byte("tasks")
	bucketMemory     = []byte("memory") // nested: one sub-bucket per namespace
	bucketNamespaces = []byte("namespaces")
	bucketDecisions  = []byte("decisions")
	bucketMeta       = []byte("meta")

	keySchemaVersion = []byte("schema_version")
)

// BoltStore implements Store using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens or creates the hive database under dataDir. Opening
// is idempotent: buckets and schema version are created when absent.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "hivemind.db")

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", types.ErrStoreUnavailable)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketSwarms,
			bucketAgents,
			bucketTasks,
			bucketMemory,
			bucketNamespaces,
			bucketDecisions,
			bucketMeta,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}

		return checkSchema(tx)
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// checkSchema verifies the stored schema version, applying forward
// migrations for older versions. Downgrade is not supported.
func checkSchema(tx *bolt.Tx) error {
	meta := tx.Bucket(bucketMeta)

	raw := meta.Get(keySchemaVersion)
	if raw == nil {
		return putSchemaVersion(meta, schemaVersion)
	}

	have := int(binary.BigEndian.Uint32(raw))
	switch {
	case have == schemaVersion:
		return nil
	case have > schemaVersion:
		return fmt.Errorf("database schema v%d, supported v%d: %w",
			have, schemaVersion, types.ErrSchemaIncompatible)
	}

	for v := have; v < schemaVersion; v++ {
		if err := migrate(tx, v); err != nil {
			return fmt.Errorf("migration v%d->v%d failed: %w", v, v+1, err)
		}
	}
	return putSchemaVersion(meta, schemaVersion)
}

func putSchemaVersion(meta *bolt.Bucket, v int) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(v))
	return meta.Put(keySchemaVersion, buf[:])
}

// migrate applies the forward migration from version v to v+1
func migrate(tx *bolt.Tx, v int) error {
	switch v {
	case 1:
		// v1 stored memory entries without namespace descriptors. Create a
		// persistent descriptor for every namespace found in the data.
		mem := tx.Bucket(bucketMemory)
		nss := tx.Bucket(bucketNamespaces)
		return mem.ForEachBucket(func(name []byte) error {
			if nss.Get(name) != nil {
				return nil
			}
			ns := types.Namespace{
				Name:      string(name),
				Policy:    types.RetentionPersistent,
				CreatedAt: time.Now(),
			}
			data, err := json.Marshal(&ns)
			if err != nil {
				return err
			}
			return nss.Put(name, data)
		})
	default:
		return fmt.Errorf("no migration defined from v%d", v)
	}
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Swarm operations

func (s *BoltStore) CreateSwarm(swarm *types.Swarm) error {
	return s.put(bucketSwarms, swarm.ID, swarm)
}

func (s *BoltStore) GetSwarm(id string) (*types.Swarm, error) {
	var swarm types.Swarm
	if err := s.get(bucketSwarms, id, &swarm, "swarm"); err != nil {
		return nil, err
	}
	return &swarm, nil
}

func (s *BoltStore) ListSwarms() ([]*types.Swarm, error) {
	var swarms []*types.Swarm
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSwarms).ForEach(func(k, v []byte) error {
			var swarm types.Swarm
			if err := json.Unmarshal(v, &swarm); err != nil {
				return err
			}
			swarms = append(swarms, &swarm)
			return nil
		})
	})
	return swarms, err
}

func (s *BoltStore) UpdateSwarm(swarm *types.Swarm) error {
	return s.CreateSwarm(swarm) // upsert
}

func (s *BoltStore) DeleteSwarm(id string) error {
	return s.delete(bucketSwarms, id)
}

// Agent operations

func (s *BoltStore) CreateAgent(agent *types.Agent) error {
	return s.put(bucketAgents, agent.ID, agent)
}

func (s *BoltStore) GetAgent(id string) (*types.Agent, error) {
	var agent types.Agent
	if err := s.get(bucketAgents, id, &agent, "agent"); err != nil {
		return nil, err
	}
	return &agent, nil
}

func (s *BoltStore) ListAgents(swarmID string) ([]*types.Agent, error) {
	var agents []*types.Agent
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAgents).ForEach(func(k, v []byte) error {
			var agent types.Agent
			if err := json.Unmarshal(v, &agent); err != nil {
				return err
			}
			if swarmID == "" || agent.SwarmID == swarmID {
				agents = append(agents, &agent)
			}
			return nil
		})
	})
	return agents, err
}

func (s *BoltStore) UpdateAgent(agent *types.Agent) error {
	return s.CreateAgent(agent)
}

func (s *BoltStore) DeleteAgent(id string) error {
	return s.delete(bucketAgents, id)
}

// Task operations

func (s *BoltStore) CreateTask(task *types.Task) error {
	return s.put(bucketTasks, task.ID, task)
}

func (s *BoltStore) GetTask(id string) (*types.Task, error) {
	var task types.Task
	if err := s.get(bucketTasks, id, &task, "task"); err != nil {
		return nil, err
	}
	return &task, nil
}

func (s *BoltStore) ListTasks(swarmID string) ([]*types.Task, error) {
	var tasks []*types.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTasks).ForEach(func(k, v []byte) error {
			var task types.Task
			if err := json.Unmarshal(v, &task); err != nil {
				return err
			}
			if swarmID == "" || task.SwarmID == swarmID {
				tasks = append(tasks, &task)
			}
			return nil
		})
	})
	return tasks, err
}

func (s *BoltStore) UpdateTask(task *types.Task) error {
	return s.CreateTask(task)
}

func (s *BoltStore) DeleteTask(id string) error {
	return s.delete(bucketTasks, id)
}

// AssignTask writes task and agent in a single transaction
func (s *BoltStore) AssignTask(task *types.Task, agent *types.Agent) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		taskData, err := json.Marshal(task)
		if err != nil {
			return err
		}
		agentData, err := json.Marshal(agent)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketTasks).Put([]byte(task.ID), taskData); err != nil {
			return err
		}
		return tx.Bucket(bucketAgents).Put([]byte(agent.ID), agentData)
	})
}

// Memory operations. Entries live in one sub-bucket per namespace.

func (s *BoltStore) PutMemory(entry *types.MemoryEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(bucketMemory).CreateBucketIfNotExists([]byte(entry.Namespace))
		if err != nil {
			return err
		}
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return b.Put([]byte(entry.Key), data)
	})
}

func (s *BoltStore) GetMemory(namespace, key string) (*types.MemoryEntry, error) {
	var entry types.MemoryEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMemory).Bucket([]byte(namespace))
		if b == nil {
			return fmt.Errorf("memory entry %s/%s: %w", namespace, key, types.ErrUnknownEntity)
		}
		data := b.Get([]byte(key))
		if data == nil {
			return fmt.Errorf("memory entry %s/%s: %w", namespace, key, types.ErrUnknownEntity)
		}
		return json.Unmarshal(data, &entry)
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *BoltStore) ListMemory(namespace string, limit int) ([]*types.MemoryEntry, error) {
	var entries []*types.MemoryEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMemory).Bucket([]byte(namespace))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if limit > 0 && len(entries) >= limit {
				break
			}
			var entry types.MemoryEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			entries = append(entries, &entry)
		}
		return nil
	})
	return entries, err
}

func (s *BoltStore) ListAllMemory() ([]*types.MemoryEntry, error) {
	var entries []*types.MemoryEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		mem := tx.Bucket(bucketMemory)
		return mem.ForEachBucket(func(name []byte) error {
			return mem.Bucket(name).ForEach(func(k, v []byte) error {
				var entry types.MemoryEntry
				if err := json.Unmarshal(v, &entry); err != nil {
					return err
				}
				entries = append(entries, &entry)
				return nil
			})
		})
	})
	return entries, err
}

func (s *BoltStore) DeleteMemory(namespace, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMemory).Bucket([]byte(namespace))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(key))
	})
}

func (s *BoltStore) CountMemory(namespace string) (int, error) {
	count := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMemory).Bucket([]byte(namespace))
		if b == nil {
			return nil
		}
		count = b.Stats().KeyN
		return nil
	})
	return count, err
}

// Namespace operations

func (s *BoltStore) CreateNamespace(ns *types.Namespace) error {
	return s.put(bucketNamespaces, ns.Name, ns)
}

func (s *BoltStore) GetNamespace(name string) (*types.Namespace, error) {
	var ns types.Namespace
	if err := s.get(bucketNamespaces, name, &ns, "namespace"); err != nil {
		return nil, err
	}
	return &ns, nil
}

func (s *BoltStore) ListNamespaces() ([]*types.Namespace, error) {
	var nss []*types.Namespace
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNamespaces).ForEach(func(k, v []byte) error {
			var ns types.Namespace
			if err := json.Unmarshal(v, &ns); err != nil {
				return err
			}
			nss = append(nss, &ns)
			return nil
		})
	})
	return nss, err
}

// Decision operations

func (s *BoltStore) CreateDecision(decision *types.Decision) error {
	return s.put(bucketDecisions, decision.ID, decision)
}

func (s *BoltStore) ListDecisions(swarmID string) ([]*types.Decision, error) {
	var decisions []*types.Decision
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDecisions).ForEach(func(k, v []byte) error {
			var d types.Decision
			if err := json.Unmarshal(v, &d); err != nil {
				return err
			}
			if swarmID == "" || d.SwarmID == swarmID {
				decisions = append(decisions, &d)
			}
			return nil
		})
	})
	return decisions, err
}

// Stats returns counts, a size estimate and per-namespace rollups
func (s *BoltStore) Stats() (*Stats, error) {
	stats := &Stats{Namespaces: make(map[string]int), Durable: true}
	err := s.db.View(func(tx *bolt.Tx) error {
		stats.Swarms = tx.Bucket(bucketSwarms).Stats().KeyN
		stats.Agents = tx.Bucket(bucketAgents).Stats().KeyN
		stats.Tasks = tx.Bucket(bucketTasks).Stats().KeyN
		stats.Decisions = tx.Bucket(bucketDecisions).Stats().KeyN
		stats.SizeBytes = tx.Size()

		mem := tx.Bucket(bucketMemory)
		return mem.ForEachBucket(func(name []byte) error {
			n := mem.Bucket(name).Stats().KeyN
			stats.Namespaces[string(name)] = n
			stats.Entries += n
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// put JSON-encodes v under key in bucket
func (s *BoltStore) put(bucket []byte, key string, v interface{}) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return tx.Bucket(bucket).Put([]byte(key), data)
	})
}

// get decodes the value under key in bucket into v
func (s *BoltStore) get(bucket []byte, key string, v interface{}, kind string) error {
	return s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucket).Get([]byte(key))
		if data == nil {
			return fmt.Errorf("%s not found: %s: %w", kind, key, types.ErrUnknownEntity)
		}
		return json.Unmarshal(data, v)
	})
}

func (s *BoltStore) delete(bucket []byte, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Delete([]byte(key))
	})
}
