// Package cache holds the Redis-backed (and in-process) accelerators of the
// gateway: the per-owner file index and the revoked session list. Neither is
// a source of truth; losing either only costs a rescan or a re-login.
package cache

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "filevault"

// RedisOwnerIndex keeps one set of storage keys per owner plus a ready flag
// that is only set once the set has been filled from a full scan.
type RedisOwnerIndex struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisOwnerIndex(client redis.UniversalClient, prefix string) *RedisOwnerIndex {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &RedisOwnerIndex{client: client, prefix: prefix}
}

func (r *RedisOwnerIndex) setKey(owner uuid.UUID) string {
	return fmt.Sprintf("%s:owner:%s:keys", r.prefix, owner)
}

func (r *RedisOwnerIndex) readyKey(owner uuid.UUID) string {
	return fmt.Sprintf("%s:owner:%s:ready", r.prefix, owner)
}

// Keys returns the indexed keys of owner and whether the index is ready to be
// trusted instead of a scan.
func (r *RedisOwnerIndex) Keys(ctx context.Context, owner uuid.UUID) ([]string, bool, error) {
	var members *redis.StringSliceCmd
	var ready *redis.IntCmd

	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		members = pipe.SMembers(ctx, r.setKey(owner))
		ready = pipe.Exists(ctx, r.readyKey(owner))
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("read owner index: %w", err)
	}

	keys := members.Val()
	sort.Strings(keys)
	return keys, ready.Val() == 1, nil
}

func (r *RedisOwnerIndex) Add(ctx context.Context, owner uuid.UUID, key string) error {
	if err := r.client.SAdd(ctx, r.setKey(owner), key).Err(); err != nil {
		return fmt.Errorf("add to owner index: %w", err)
	}
	return nil
}

func (r *RedisOwnerIndex) Remove(ctx context.Context, owner uuid.UUID, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	members := make([]interface{}, len(keys))
	for i, k := range keys {
		members[i] = k
	}
	if err := r.client.SRem(ctx, r.setKey(owner), members...).Err(); err != nil {
		return fmt.Errorf("remove from owner index: %w", err)
	}
	return nil
}

// Fill merges keys found by a scan into the owner's set and marks the index
// ready. Keys are merged rather than replaced so an upload racing the scan is
// not dropped; stale members are pruned by readers.
func (r *RedisOwnerIndex) Fill(ctx context.Context, owner uuid.UUID, keys []string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(keys) > 0 {
			members := make([]interface{}, len(keys))
			for i, k := range keys {
				members[i] = k
			}
			pipe.SAdd(ctx, r.setKey(owner), members...)
		}
		pipe.Set(ctx, r.readyKey(owner), "1", 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("fill owner index: %w", err)
	}
	return nil
}

// Invalidate clears the ready flag so the next listing falls back to a scan.
func (r *RedisOwnerIndex) Invalidate(ctx context.Context, owner uuid.UUID) error {
	if err := r.client.Del(ctx, r.readyKey(owner)).Err(); err != nil {
		return fmt.Errorf("invalidate owner index: %w", err)
	}
	return nil
}

// MemoryOwnerIndex is the single-process variant of RedisOwnerIndex.
type MemoryOwnerIndex struct {
	mu    sync.Mutex
	keys  map[uuid.UUID]map[string]struct{}
	ready map[uuid.UUID]bool
}

func NewMemoryOwnerIndex() *MemoryOwnerIndex {
	return &MemoryOwnerIndex{
		keys:  make(map[uuid.UUID]map[string]struct{}),
		ready: make(map[uuid.UUID]bool),
	}
}

func (m *MemoryOwnerIndex) Keys(ctx context.Context, owner uuid.UUID) ([]string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.keys[owner]))
	for k := range m.keys[owner] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, m.ready[owner], nil
}

func (m *MemoryOwnerIndex) Add(ctx context.Context, owner uuid.UUID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.set(owner)[key] = struct{}{}
	return nil
}

func (m *MemoryOwnerIndex) Remove(ctx context.Context, owner uuid.UUID, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.keys[owner], k)
	}
	return nil
}

func (m *MemoryOwnerIndex) Fill(ctx context.Context, owner uuid.UUID, keys []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.set(owner)
	for _, k := range keys {
		set[k] = struct{}{}
	}
	m.ready[owner] = true
	return nil
}

func (m *MemoryOwnerIndex) Invalidate(ctx context.Context, owner uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.ready, owner)
	return nil
}

func (m *MemoryOwnerIndex) set(owner uuid.UUID) map[string]struct{} {
	set, ok := m.keys[owner]
	if !ok {
		set = make(map[string]struct{})
		m.keys[owner] = set
	}
	return set
}
