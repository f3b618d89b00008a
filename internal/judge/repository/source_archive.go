package repository

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"

	"github.com/klauspost/compress/zstd"

	"gavel/internal/common/storage"
	appErr "gavel/pkg/errors"
)

// SourceArchive stores zstd-compressed submission sources in object storage,
// keyed by content hash so identical sources share one object.
type SourceArchive struct {
	store  storage.ObjectStorage
	bucket string
}

// NewSourceArchive creates a source archive over the given bucket.
func NewSourceArchive(store storage.ObjectStorage, bucket string) *SourceArchive {
	return &SourceArchive{store: store, bucket: bucket}
}

// Put compresses and stores source, returning (objectKey, sha256hex).
// Storing the same source twice overwrites the same object and is harmless.
func (a *SourceArchive) Put(ctx context.Context, source string) (string, string, error) {
	sum := sha256.Sum256([]byte(source))
	hash := hex.EncodeToString(sum[:])
	key := sourceObjectKey(hash)

	var buf bytes.Buffer
	encoder, err := zstd.NewWriter(&buf)
	if err != nil {
		return "", "", appErr.Wrap(err, appErr.InternalServerError)
	}
	if _, err := encoder.Write([]byte(source)); err != nil {
		encoder.Close()
		return "", "", appErr.Wrap(err, appErr.InternalServerError)
	}
	if err := encoder.Close(); err != nil {
		return "", "", appErr.Wrap(err, appErr.InternalServerError)
	}

	err = a.store.PutObject(ctx, a.bucket, key, &buf, int64(buf.Len()), "application/zstd")
	if err != nil {
		return "", "", err
	}
	return key, hash, nil
}

// Get retrieves and decompresses an archived source.
func (a *SourceArchive) Get(ctx context.Context, objectKey string) (string, error) {
	reader, err := a.store.GetObject(ctx, a.bucket, objectKey)
	if err != nil {
		return "", err
	}
	defer reader.Close()

	decoder, err := zstd.NewReader(reader)
	if err != nil {
		return "", appErr.Wrap(err, appErr.InternalServerError)
	}
	defer decoder.Close()

	source, err := io.ReadAll(decoder)
	if err != nil {
		return "", appErr.Wrap(err, appErr.InternalServerError)
	}
	return string(source), nil
}

func sourceObjectKey(hash string) string {
	// Two-level prefix keeps bucket listings manageable.
	return "sources/" + hash[:2] + "/" + hash + ".zst"
}
