package storage

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore keeps objects in process memory. It is used for development
// and tests; it honours the same conditional-write contract as the remote
// backends.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]*Object
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects: make(map[string]*Object),
		now:     time.Now,
	}
}

func (m *MemoryStore) Put(ctx context.Context, key string, data []byte, metadata map[string]string, opts PutOptions) (ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return ObjectInfo{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current, exists := m.objects[key]
	if opts.IfNoneMatch && exists {
		return ObjectInfo{}, fmt.Errorf("put %s: %w", key, ErrPreconditionFailed)
	}
	if opts.IfMatch != "" && (!exists || current.ETag != opts.IfMatch) {
		return ObjectInfo{}, fmt.Errorf("put %s: %w", key, ErrPreconditionFailed)
	}

	sum := md5.Sum(data)
	body := make([]byte, len(data))
	copy(body, data)

	obj := &Object{
		ObjectInfo: ObjectInfo{
			Key:          key,
			Size:         int64(len(data)),
			ETag:         hex.EncodeToString(sum[:]),
			LastModified: m.now().UTC(),
			Metadata:     decodeMetadata(encodeMetadata(metadata)),
		},
		Data: body,
	}
	m.objects[key] = obj

	return obj.ObjectInfo, nil
}

func (m *MemoryStore) Get(ctx context.Context, key string) (*Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", key, ErrNotFound)
	}

	body := make([]byte, len(obj.Data))
	copy(body, obj.Data)
	return &Object{ObjectInfo: cloneInfo(obj.ObjectInfo), Data: body}, nil
}

func (m *MemoryStore) Head(ctx context.Context, key string) (ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return ObjectInfo{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.objects[key]
	if !ok {
		return ObjectInfo{}, fmt.Errorf("head %s: %w", key, ErrNotFound)
	}
	return cloneInfo(obj.ObjectInfo), nil
}

// Delete is idempotent, like S3's DeleteObject.
func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.objects, key)
	return nil
}

func (m *MemoryStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	objects := make([]ObjectInfo, 0, len(m.objects))
	for key, obj := range m.objects {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		objects = append(objects, ObjectInfo{
			Key:          key,
			Size:         obj.Size,
			ETag:         obj.ETag,
			LastModified: obj.LastModified,
		})
	}

	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, nil
}

func cloneInfo(info ObjectInfo) ObjectInfo {
	meta := make(map[string]string, len(info.Metadata))
	for k, v := range info.Metadata {
		meta[k] = v
	}
	info.Metadata = meta
	return info
}
