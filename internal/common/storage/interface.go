package storage

import (
	"context"
	"io"
)

// ObjectStorage defines the minimal object storage operations required by the
// source archive. It is intentionally small so MinIO/AWS-S3 implementations
// can be swapped without touching business logic.
type ObjectStorage interface {
	// GetObject opens a reader for an object.
	// Caller must close the returned reader.
	GetObject(ctx context.Context, bucket, objectKey string) (io.ReadCloser, error)

	// PutObject stores an object with the given size and content type.
	PutObject(ctx context.Context, bucket, objectKey string, reader io.Reader, size int64, contentType string) error

	// StatObject returns size and ETag for an object.
	StatObject(ctx context.Context, bucket, objectKey string) (ObjectStat, error)

	// RemoveObject deletes an object.
	RemoveObject(ctx context.Context, bucket, objectKey string) error
}

// ObjectStat describes a stored object.
type ObjectStat struct {
	Size int64
	ETag string
}
