package repository

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"

	"gavel/internal/common/storage"
)

// memoryStorage is an in-memory ObjectStorage for tests.
type memoryStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemoryStorage() *memoryStorage {
	return &memoryStorage{objects: make(map[string][]byte)}
}

func (s *memoryStorage) GetObject(ctx context.Context, bucket, objectKey string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	body, ok := s.objects[bucket+"/"+objectKey]
	if !ok {
		return nil, io.ErrUnexpectedEOF
	}
	return io.NopCloser(bytes.NewReader(body)), nil
}

func (s *memoryStorage) PutObject(ctx context.Context, bucket, objectKey string, reader io.Reader, size int64, contentType string) error {
	body, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[bucket+"/"+objectKey] = body
	return nil
}

func (s *memoryStorage) StatObject(ctx context.Context, bucket, objectKey string) (storage.ObjectStat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	body, ok := s.objects[bucket+"/"+objectKey]
	if !ok {
		return storage.ObjectStat{}, io.ErrUnexpectedEOF
	}
	return storage.ObjectStat{Size: int64(len(body))}, nil
}

func (s *memoryStorage) RemoveObject(ctx context.Context, bucket, objectKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, bucket+"/"+objectKey)
	return nil
}

func TestSourceArchiveRoundTrip(t *testing.T) {
	t.Parallel()
	store := newMemoryStorage()
	archive := NewSourceArchive(store, "submissions")
	ctx := context.Background()

	source := "print(int(input()) * 2)\n"
	key, hash, err := archive.Put(ctx, source)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if len(hash) != 64 {
		t.Fatalf("hash length = %d, want sha256 hex", len(hash))
	}
	if !strings.HasPrefix(key, "sources/"+hash[:2]+"/") || !strings.HasSuffix(key, ".zst") {
		t.Fatalf("object key = %q", key)
	}

	got, err := archive.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != source {
		t.Fatalf("round trip = %q, want %q", got, source)
	}
}

func TestSourceArchiveDeduplicatesByContent(t *testing.T) {
	t.Parallel()
	store := newMemoryStorage()
	archive := NewSourceArchive(store, "submissions")
	ctx := context.Background()

	key1, hash1, err := archive.Put(ctx, "same source")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	key2, hash2, err := archive.Put(ctx, "same source")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if key1 != key2 || hash1 != hash2 {
		t.Fatalf("identical sources mapped to different objects: %q vs %q", key1, key2)
	}
	if len(store.objects) != 1 {
		t.Fatalf("objects stored = %d, want 1", len(store.objects))
	}

	key3, _, err := archive.Put(ctx, "different source")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if key3 == key1 {
		t.Fatal("different sources share an object key")
	}
}

func TestSourceArchiveStoresCompressed(t *testing.T) {
	t.Parallel()
	store := newMemoryStorage()
	archive := NewSourceArchive(store, "submissions")
	ctx := context.Background()

	source := strings.Repeat("for i in range(100):\n    print(i)\n", 200)
	key, _, err := archive.Put(ctx, source)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	stored := store.objects["submissions/"+key]
	if len(stored) == 0 || len(stored) >= len(source) {
		t.Fatalf("stored %d bytes for %d byte source, expected compression", len(stored), len(source))
	}
}
