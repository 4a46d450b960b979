// Package storage defines the interface and implementations for Shamstore's
// object data storage layer. Backends hold raw bytes only; all metadata
// lives in the metadata store.
package storage

import (
	"context"
	"io"
)

// Backend defines the interface for reading and writing raw object data.
// Implementations provide the underlying storage mechanism (local
// filesystem, in-memory, embedded SQLite, or an upstream S3 bucket). All
// methods must be safe for concurrent use, and a reader returned by
// GetObject must keep serving the bytes as of open time even if the same
// key is overwritten or deleted mid-read.
type Backend interface {
	// PutObject writes the data from the reader to the storage backend at the
	// specified bucket and key. It returns the number of bytes written and the
	// computed ETag (the quoted MD5 hex digest), or an error.
	PutObject(ctx context.Context, bucket, key string, reader io.Reader, size int64) (bytesWritten int64, etag string, err error)

	// GetObject retrieves the object data from the storage backend. The caller
	// is responsible for closing the returned ReadCloser. Returns the data
	// stream and the object size in bytes.
	GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, int64, error)

	// DeleteObject removes the object data from the storage backend.
	// Idempotent: deleting a missing object is not an error.
	DeleteObject(ctx context.Context, bucket, key string) error

	// CopyObject copies an object from the source bucket/key to the destination
	// bucket/key within the storage backend. Returns the new ETag.
	CopyObject(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) (string, error)

	// PutPart writes a single part of a multipart upload. It returns the
	// part's ETag and the number of bytes written, so chunked uploads
	// with no declared length still get accurate part sizes.
	PutPart(ctx context.Context, bucket, key, uploadID string, partNumber int, reader io.Reader, size int64) (etag string, written int64, err error)

	// AssembleParts concatenates the specified parts into a single object.
	// The parts are identified by upload ID and part numbers. Returns the
	// composite ETag for the assembled object.
	AssembleParts(ctx context.Context, bucket, key, uploadID string, partNumbers []int) (string, error)

	// DeleteParts removes all parts associated with the given multipart upload.
	DeleteParts(ctx context.Context, bucket, key, uploadID string) error

	// CreateBucket creates the backing storage for a new bucket.
	CreateBucket(ctx context.Context, bucket string) error

	// DeleteBucket removes the backing storage for a bucket.
	DeleteBucket(ctx context.Context, bucket string) error

	// HealthCheck verifies that the storage backend is operational.
	HealthCheck(ctx context.Context) error
}
