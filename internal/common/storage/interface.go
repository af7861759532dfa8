package storage

import (
	"context"
	"io"
)

// ObjectStorage defines the minimal object storage operations required by the
// judging pipeline. It is intentionally small so MinIO/AWS-S3 implementations
// can be swapped without touching business logic.
type ObjectStorage interface {
	// GetObject opens a streaming reader for an object.
	// Caller must close the returned reader.
	GetObject(ctx context.Context, bucket, objectKey string) (io.ReadCloser, error)

	// PutObject stores an object.
	PutObject(ctx context.Context, bucket, objectKey string, reader io.Reader, sizeBytes int64, contentType string) error

	// StatObject returns size metadata for an object.
	StatObject(ctx context.Context, bucket, objectKey string) (ObjectStat, error)
}

// ObjectStat contains object metadata used for validation.
type ObjectStat struct {
	SizeBytes   int64
	ETag        string
	ContentType string
}
