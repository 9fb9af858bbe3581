package objectstore

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps blobs in process. Used when no object storage is
// configured for one-off cycles, and in tests.
type MemoryStore struct {
	mu      sync.RWMutex
	bucket  string
	objects map[string]memoryObject
}

type memoryObject struct {
	data []byte
	info ObjectInfo
}

func NewMemoryStore(bucket string) *MemoryStore {
	if bucket == "" {
		bucket = "memory"
	}
	return &MemoryStore{bucket: bucket, objects: make(map[string]memoryObject)}
}

func (s *MemoryStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ref := FormatRef(s.bucket, key)
	buf := append([]byte(nil), data...)
	s.mu.Lock()
	s.objects[ref] = memoryObject{
		data: buf,
		info: ObjectInfo{Key: key, Size: int64(len(buf)), ContentType: contentType, LastModified: time.Now().UTC()},
	}
	s.mu.Unlock()
	return ref, nil
}

func (s *MemoryStore) Get(ctx context.Context, ref string) ([]byte, ObjectInfo, error) {
	if _, _, err := ParseRef(ref); err != nil {
		return nil, ObjectInfo{}, err
	}
	s.mu.RLock()
	obj, ok := s.objects[ref]
	s.mu.RUnlock()
	if !ok {
		return nil, ObjectInfo{}, ErrObjectNotFound
	}
	return append([]byte(nil), obj.data...), obj.info, nil
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
