package storage

import (
	"bytes"
	"context"
	"crypto/md5"
	"fmt"
	"io"
	"sync"
)

// memObject holds the raw data and precomputed ETag for an in-memory object.
type memObject struct {
	Data []byte
	ETag string
}

// MemoryBackend implements the Backend interface using in-memory maps. It
// backs the ephemeral server mode and the test suite. Readers receive a
// bytes.Reader over the slice captured at open time, so an overwrite or
// delete during a streaming read never disturbs the reader.
type MemoryBackend struct {
	mu      sync.RWMutex
	objects map[string]memObject // key: "bucket\x00key"
	parts   map[string]memObject // key: "uploadID\x00partNumber"
}

// NewMemoryBackend creates an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		objects: make(map[string]memObject),
		parts:   make(map[string]memObject),
	}
}

// objectKey builds the map key for an object. The NUL separator keeps
// bucket/key pairs unambiguous for keys containing "/".
func objectKey(bucket, key string) string {
	return bucket + "\x00" + key
}

// partMapKey builds the map key for a multipart part.
func partMapKey(uploadID string, partNumber int) string {
	return fmt.Sprintf("%s\x00%05d", uploadID, partNumber)
}

func (b *MemoryBackend) PutObject(ctx context.Context, bucket, key string, reader io.Reader, size int64) (int64, string, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return 0, "", fmt.Errorf("reading object data: %w", err)
	}

	etag := fmt.Sprintf(`"%x"`, md5.Sum(data))

	b.mu.Lock()
	b.objects[objectKey(bucket, key)] = memObject{Data: data, ETag: etag}
	b.mu.Unlock()

	return int64(len(data)), etag, nil
}

func (b *MemoryBackend) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, int64, error) {
	b.mu.RLock()
	obj, exists := b.objects[objectKey(bucket, key)]
	b.mu.RUnlock()

	if !exists {
		return nil, 0, fmt.Errorf("object not found: %s/%s", bucket, key)
	}

	return io.NopCloser(bytes.NewReader(obj.Data)), int64(len(obj.Data)), nil
}

func (b *MemoryBackend) DeleteObject(ctx context.Context, bucket, key string) error {
	b.mu.Lock()
	delete(b.objects, objectKey(bucket, key))
	b.mu.Unlock()
	return nil
}

func (b *MemoryBackend) CopyObject(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	src, exists := b.objects[objectKey(srcBucket, srcKey)]
	if !exists {
		return "", fmt.Errorf("source object not found: %s/%s", srcBucket, srcKey)
	}

	data := make([]byte, len(src.Data))
	copy(data, src.Data)
	b.objects[objectKey(dstBucket, dstKey)] = memObject{Data: data, ETag: src.ETag}
	return src.ETag, nil
}

func (b *MemoryBackend) PutPart(ctx context.Context, bucket, key, uploadID string, partNumber int, reader io.Reader, size int64) (string, int64, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", 0, fmt.Errorf("reading part data: %w", err)
	}

	etag := fmt.Sprintf(`"%x"`, md5.Sum(data))

	b.mu.Lock()
	b.parts[partMapKey(uploadID, partNumber)] = memObject{Data: data, ETag: etag}
	b.mu.Unlock()

	return etag, int64(len(data)), nil
}

func (b *MemoryBackend) AssembleParts(ctx context.Context, bucket, key, uploadID string, partNumbers []int) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var assembled bytes.Buffer
	compositeMD5 := md5.New()

	for _, pn := range partNumbers {
		part, exists := b.parts[partMapKey(uploadID, pn)]
		if !exists {
			return "", fmt.Errorf("part %d of upload %q not found", pn, uploadID)
		}
		assembled.Write(part.Data)
		partSum := md5.Sum(part.Data)
		compositeMD5.Write(partSum[:])
	}

	etag := fmt.Sprintf(`"%x-%d"`, compositeMD5.Sum(nil), len(partNumbers))
	b.objects[objectKey(bucket, key)] = memObject{Data: assembled.Bytes(), ETag: etag}

	for _, pn := range partNumbers {
		delete(b.parts, partMapKey(uploadID, pn))
	}

	return etag, nil
}

func (b *MemoryBackend) DeleteParts(ctx context.Context, bucket, key, uploadID string) error {
	prefix := uploadID + "\x00"

	b.mu.Lock()
	for k := range b.parts {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(b.parts, k)
		}
	}
	b.mu.Unlock()
	return nil
}

func (b *MemoryBackend) CreateBucket(ctx context.Context, bucket string) error {
	return nil
}

func (b *MemoryBackend) DeleteBucket(ctx context.Context, bucket string) error {
	prefix := bucket + "\x00"

	b.mu.Lock()
	for k := range b.objects {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(b.objects, k)
		}
	}
	b.mu.Unlock()
	return nil
}

func (b *MemoryBackend) HealthCheck(ctx context.Context) error {
	return nil
}

// Ensure MemoryBackend implements Backend at compile time.
var _ Backend = (*MemoryBackend)(nil)
