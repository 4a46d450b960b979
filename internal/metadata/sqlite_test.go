package metadata

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "meta.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteObjectRoundTrip(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	newTestBucket(t, s, "bucket1", time.Now().UTC())

	obj := &ObjectRecord{
		Bucket:                  "bucket1",
		Key:                     "dir/file.txt",
		Size:                    6,
		ETag:                    `"952d2c56d0485958336747bcdd98590d"`,
		ContentType:             "text/plain",
		WebsiteRedirectLocation: "https://example.com/moved",
		UserMetadata:            map[string]string{"author": "tester"},
		Tags:                    []Tag{{Key: "env", Value: "dev"}},
		LastModified:            time.Now().UTC(),
	}
	if err := s.PutObject(ctx, obj); err != nil {
		t.Fatalf("PutObject failed: %v", err)
	}

	got, err := s.GetObject(ctx, "bucket1", "dir/file.txt")
	if err != nil {
		t.Fatalf("GetObject failed: %v", err)
	}
	if got == nil {
		t.Fatal("GetObject returned nil")
	}
	if got.ETag != obj.ETag || got.ContentType != "text/plain" || got.Size != 6 {
		t.Errorf("record mismatch: %+v", got)
	}
	if got.WebsiteRedirectLocation != "https://example.com/moved" {
		t.Errorf("WebsiteRedirectLocation = %q", got.WebsiteRedirectLocation)
	}
	if got.UserMetadata["author"] != "tester" {
		t.Errorf("UserMetadata = %v", got.UserMetadata)
	}
	if len(got.Tags) != 1 || got.Tags[0].Key != "env" {
		t.Errorf("Tags = %v", got.Tags)
	}
}

func TestSQLiteMissingObjectIsNil(t *testing.T) {
	s := newTestSQLiteStore(t)
	newTestBucket(t, s, "bucket1", time.Now().UTC())

	got, err := s.GetObject(context.Background(), "bucket1", "nope")
	if err != nil {
		t.Fatalf("GetObject failed: %v", err)
	}
	if got != nil {
		t.Errorf("GetObject = %+v, want nil", got)
	}
}

func TestSQLiteBucketConfigCascade(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	newTestBucket(t, s, "bucket1", time.Now().UTC())

	blob := []byte("<WebsiteConfiguration><IndexDocument><Suffix>index.html</Suffix></IndexDocument></WebsiteConfiguration>")
	if err := s.PutBucketConfig(ctx, "bucket1", ConfigWebsite, blob); err != nil {
		t.Fatalf("PutBucketConfig failed: %v", err)
	}

	got, err := s.GetBucketConfig(ctx, "bucket1", ConfigWebsite)
	if err != nil {
		t.Fatalf("GetBucketConfig failed: %v", err)
	}
	if string(got) != string(blob) {
		t.Errorf("config = %q, want %q", got, blob)
	}

	if err := s.DeleteBucket(ctx, "bucket1"); err != nil {
		t.Fatalf("DeleteBucket failed: %v", err)
	}

	// Config rows cascade with the bucket.
	if got, _ := s.GetBucketConfig(ctx, "bucket1", ConfigWebsite); got != nil {
		t.Errorf("config survived bucket deletion: %q", got)
	}
}

func TestSQLiteListObjectsDelimiter(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	newTestBucket(t, s, "bucket1", time.Now().UTC())

	for _, key := range []string{"akey1", "akey2", "akey3", "key/key1", "key1", "key2", "key3"} {
		putTestObject(t, s, "bucket1", key)
	}

	result, err := s.ListObjects(ctx, "bucket1", ListObjectsOptions{Delimiter: "/", MaxKeys: 1000})
	if err != nil {
		t.Fatalf("ListObjects failed: %v", err)
	}

	if len(result.Objects) != 6 {
		t.Errorf("got %d objects, want 6", len(result.Objects))
	}
	if len(result.CommonPrefixes) != 1 || result.CommonPrefixes[0] != "key/" {
		t.Errorf("CommonPrefixes = %v, want [key/]", result.CommonPrefixes)
	}
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "meta.db")

	s1, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	newTestBucket(t, s1, "durable", time.Now().UTC())
	putTestObject(t, s1, "durable", "kept")
	s1.Close()

	s2, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s2.Close()

	obj, err := s2.GetObject(context.Background(), "durable", "kept")
	if err != nil {
		t.Fatalf("GetObject after reopen failed: %v", err)
	}
	if obj == nil {
		t.Fatal("object lost across reopen")
	}
}

func TestSQLiteReapExpiredUploads(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	newTestBucket(t, s, "bucket1", time.Now().UTC())

	old := &MultipartUploadRecord{
		Bucket:      "bucket1",
		Key:         "stale",
		InitiatedAt: time.Now().UTC().Add(-48 * time.Hour),
	}
	oldID, err := s.CreateMultipartUpload(ctx, old)
	if err != nil {
		t.Fatalf("CreateMultipartUpload failed: %v", err)
	}

	fresh := &MultipartUploadRecord{
		Bucket:      "bucket1",
		Key:         "fresh",
		InitiatedAt: time.Now().UTC(),
	}
	freshID, err := s.CreateMultipartUpload(ctx, fresh)
	if err != nil {
		t.Fatalf("CreateMultipartUpload failed: %v", err)
	}

	expired, err := s.ReapExpiredUploads(24 * 3600)
	if err != nil {
		t.Fatalf("ReapExpiredUploads failed: %v", err)
	}
	if len(expired) != 1 || expired[0].UploadID != oldID {
		t.Errorf("expired = %v, want just %q", expired, oldID)
	}

	if upload, _ := s.GetMultipartUpload(ctx, "bucket1", "fresh", freshID); upload == nil {
		t.Error("fresh upload was reaped")
	}
}
