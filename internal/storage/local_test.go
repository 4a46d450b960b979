package storage

import (
	"bytes"
	"context"
	"crypto/md5"
	"fmt"
	"io"
	"strings"
	"testing"
)

func newTestLocalBackend(t *testing.T) *LocalBackend {
	t.Helper()
	b, err := NewLocalBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalBackend failed: %v", err)
	}
	return b
}

func TestLocalPutGetRoundTrip(t *testing.T) {
	b := newTestLocalBackend(t)
	ctx := context.Background()

	body := "Hello!"
	n, etag, err := b.PutObject(ctx, "bucket1", "text", strings.NewReader(body), int64(len(body)))
	if err != nil {
		t.Fatalf("PutObject failed: %v", err)
	}
	if n != int64(len(body)) {
		t.Errorf("bytesWritten = %d, want %d", n, len(body))
	}
	if etag != `"952d2c56d0485958336747bcdd98590d"` {
		t.Errorf("ETag = %s, want quoted md5 of %q", etag, body)
	}

	reader, size, err := b.GetObject(ctx, "bucket1", "text")
	if err != nil {
		t.Fatalf("GetObject failed: %v", err)
	}
	defer reader.Close()

	if size != int64(len(body)) {
		t.Errorf("size = %d, want %d", size, len(body))
	}
	data, _ := io.ReadAll(reader)
	if string(data) != body {
		t.Errorf("body = %q, want %q", data, body)
	}
}

func TestLocalTrailingSlashKeys(t *testing.T) {
	b := newTestLocalBackend(t)
	ctx := context.Background()

	if _, _, err := b.PutObject(ctx, "bucket1", "text", strings.NewReader("A"), 1); err != nil {
		t.Fatalf("PutObject(text) failed: %v", err)
	}
	if _, _, err := b.PutObject(ctx, "bucket1", "text/", strings.NewReader("B"), 1); err != nil {
		t.Fatalf("PutObject(text/) failed: %v", err)
	}
	// A key nested "under" a plain key must also coexist.
	if _, _, err := b.PutObject(ctx, "bucket1", "text/sub", strings.NewReader("C"), 1); err != nil {
		t.Fatalf("PutObject(text/sub) failed: %v", err)
	}

	for key, want := range map[string]string{"text": "A", "text/": "B", "text/sub": "C"} {
		reader, _, err := b.GetObject(ctx, "bucket1", key)
		if err != nil {
			t.Fatalf("GetObject(%q) failed: %v", key, err)
		}
		data, _ := io.ReadAll(reader)
		reader.Close()
		if string(data) != want {
			t.Errorf("GetObject(%q) = %q, want %q", key, data, want)
		}
	}
}

func TestLocalReaderSurvivesOverwrite(t *testing.T) {
	b := newTestLocalBackend(t)
	ctx := context.Background()

	first := strings.Repeat("1", 1024)
	if _, _, err := b.PutObject(ctx, "bucket1", "key", strings.NewReader(first), int64(len(first))); err != nil {
		t.Fatalf("PutObject failed: %v", err)
	}

	reader, _, err := b.GetObject(ctx, "bucket1", "key")
	if err != nil {
		t.Fatalf("GetObject failed: %v", err)
	}
	defer reader.Close()

	second := strings.Repeat("2", 1024)
	if _, _, err := b.PutObject(ctx, "bucket1", "key", strings.NewReader(second), int64(len(second))); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}

	// The open reader still sees the bytes as of open time.
	data, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("reading after overwrite failed: %v", err)
	}
	if string(data) != first {
		t.Error("reader observed the overwrite mid-stream")
	}
}

func TestLocalDeleteIdempotent(t *testing.T) {
	b := newTestLocalBackend(t)
	ctx := context.Background()

	if err := b.DeleteObject(ctx, "bucket1", "missing"); err != nil {
		t.Errorf("DeleteObject on missing key failed: %v", err)
	}
}

func TestLocalDeleteBucketAfterSlashKeys(t *testing.T) {
	b := newTestLocalBackend(t)
	ctx := context.Background()

	b.CreateBucket(ctx, "bucket1")
	if _, _, err := b.PutObject(ctx, "bucket1", "a/b/c/d", strings.NewReader("x"), 1); err != nil {
		t.Fatalf("PutObject failed: %v", err)
	}
	if err := b.DeleteObject(ctx, "bucket1", "a/b/c/d"); err != nil {
		t.Fatalf("DeleteObject failed: %v", err)
	}
	// No ghost directories keep the bucket alive.
	if err := b.DeleteBucket(ctx, "bucket1"); err != nil {
		t.Errorf("DeleteBucket failed: %v", err)
	}
}

func TestLocalAssemblePartsCompositeETag(t *testing.T) {
	b := newTestLocalBackend(t)
	ctx := context.Background()

	partData := [][]byte{
		bytes.Repeat([]byte("a"), 100),
		bytes.Repeat([]byte("b"), 200),
		bytes.Repeat([]byte("c"), 50),
	}

	composite := md5.New()
	for i, data := range partData {
		etag, n, err := b.PutPart(ctx, "bucket1", "assembled", "upload-1", i+1, bytes.NewReader(data), int64(len(data)))
		if err != nil {
			t.Fatalf("PutPart(%d) failed: %v", i+1, err)
		}
		if n != int64(len(data)) {
			t.Errorf("part %d size = %d, want %d", i+1, n, len(data))
		}
		sum := md5.Sum(data)
		composite.Write(sum[:])
		wantETag := fmt.Sprintf(`"%x"`, sum)
		if etag != wantETag {
			t.Errorf("part %d ETag = %s, want %s", i+1, etag, wantETag)
		}
	}

	etag, err := b.AssembleParts(ctx, "bucket1", "assembled", "upload-1", []int{1, 2, 3})
	if err != nil {
		t.Fatalf("AssembleParts failed: %v", err)
	}

	wantETag := fmt.Sprintf(`"%x-3"`, composite.Sum(nil))
	if etag != wantETag {
		t.Errorf("composite ETag = %s, want %s", etag, wantETag)
	}

	reader, size, err := b.GetObject(ctx, "bucket1", "assembled")
	if err != nil {
		t.Fatalf("GetObject failed: %v", err)
	}
	defer reader.Close()
	if size != 350 {
		t.Errorf("assembled size = %d, want 350", size)
	}
}

func TestMemoryBackendMatchesLocalSemantics(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()

	body := "Hello!"
	_, etag, err := b.PutObject(ctx, "bucket1", "text", strings.NewReader(body), int64(len(body)))
	if err != nil {
		t.Fatalf("PutObject failed: %v", err)
	}
	if etag != `"952d2c56d0485958336747bcdd98590d"` {
		t.Errorf("ETag = %s", etag)
	}

	reader, _, err := b.GetObject(ctx, "bucket1", "text")
	if err != nil {
		t.Fatalf("GetObject failed: %v", err)
	}

	// Overwrite while the reader is open; the snapshot must hold.
	b.PutObject(ctx, "bucket1", "text", strings.NewReader("other"), 5)
	data, _ := io.ReadAll(reader)
	reader.Close()
	if string(data) != body {
		t.Error("memory reader observed overwrite mid-stream")
	}
}

func TestSQLiteBackendRoundTrip(t *testing.T) {
	b, err := NewSQLiteBackend(t.TempDir() + "/objects.db")
	if err != nil {
		t.Fatalf("NewSQLiteBackend failed: %v", err)
	}
	defer b.Close()

	ctx := context.Background()
	body := "sqlite blob"
	if _, _, err := b.PutObject(ctx, "bucket1", "key", strings.NewReader(body), int64(len(body))); err != nil {
		t.Fatalf("PutObject failed: %v", err)
	}

	reader, size, err := b.GetObject(ctx, "bucket1", "key")
	if err != nil {
		t.Fatalf("GetObject failed: %v", err)
	}
	defer reader.Close()
	if size != int64(len(body)) {
		t.Errorf("size = %d, want %d", size, len(body))
	}
	data, _ := io.ReadAll(reader)
	if string(data) != body {
		t.Errorf("body = %q, want %q", data, body)
	}
}
