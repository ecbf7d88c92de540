package rbac

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"sync"
)

// Store persists per-actor access records. Implementations must serialize
// writes per actor while allowing reads of unrelated actors to proceed
// concurrently.
type Store interface {
	Put(ctx context.Context, record AccessControl) error
	Get(ctx context.Context, actorID string) (AccessControl, error)
	List(ctx context.Context) ([]AccessControl, error)
	Delete(ctx context.Context, actorID string) error
}

const shardCount = 32

// MemoryStore is the in-process Store. Records are sharded by actor id so
// a write to one actor never blocks reads of another.
type MemoryStore struct {
	shards [shardCount]memoryShard
}

type memoryShard struct {
	mu      sync.RWMutex
	records map[string]AccessControl
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{}
	for i := range s.shards {
		s.shards[i].records = make(map[string]AccessControl)
	}
	return s
}

func (s *MemoryStore) shard(actorID string) *memoryShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(actorID))
	return &s.shards[h.Sum32()%shardCount]
}

// Put inserts or replaces the record for its actor.
func (s *MemoryStore) Put(ctx context.Context, record AccessControl) error {
	if strings.TrimSpace(record.ActorID) == "" {
		return fmt.Errorf("%w: actor_id is required", ErrInvalidInput)
	}
	sh := s.shard(record.ActorID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.records[record.ActorID] = copyAccessControl(record)
	return nil
}

// Get returns a copy of the actor's record.
func (s *MemoryStore) Get(ctx context.Context, actorID string) (AccessControl, error) {
	sh := s.shard(actorID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	record, ok := sh.records[actorID]
	if !ok {
		return AccessControl{}, fmt.Errorf("%w: actor %s", ErrNotFound, actorID)
	}
	return copyAccessControl(record), nil
}

// List returns all records sorted by actor id.
func (s *MemoryStore) List(ctx context.Context) ([]AccessControl, error) {
	var out []AccessControl
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		for _, record := range sh.records {
			out = append(out, copyAccessControl(record))
		}
		sh.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ActorID < out[j].ActorID })
	return out, nil
}

// Delete removes the actor's record.
func (s *MemoryStore) Delete(ctx context.Context, actorID string) error {
	sh := s.shard(actorID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, ok := sh.records[actorID]; !ok {
		return fmt.Errorf("%w: actor %s", ErrNotFound, actorID)
	}
	delete(sh.records, actorID)
	return nil
}

func copyAccessControl(record AccessControl) AccessControl {
	record.Permissions = append(record.Permissions[:0:0], record.Permissions...)
	record.Restrictions = append(record.Restrictions[:0:0], record.Restrictions...)
	return record
}
