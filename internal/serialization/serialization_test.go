package serialization

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shamstore/shamstore/internal/metadata"
)

// seedDB creates a metadata database with one bucket, one object, and one
// config blob, and returns its path.
func seedDB(t *testing.T) string {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "meta.db")
	store, err := metadata.NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.CreateBucket(ctx, &metadata.BucketRecord{
		Name:      "exported",
		Region:    "us-east-1",
		OwnerID:   "S3RVER",
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("CreateBucket failed: %v", err)
	}
	if err := store.PutObject(ctx, &metadata.ObjectRecord{
		Bucket:       "exported",
		Key:          "file.txt",
		Size:         3,
		ETag:         `"abc"`,
		Tags:         []metadata.Tag{{Key: "env", Value: "dev"}},
		LastModified: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("PutObject failed: %v", err)
	}
	if err := store.PutBucketConfig(ctx, "exported", metadata.ConfigCORS,
		[]byte("<CORSConfiguration/>")); err != nil {
		t.Fatalf("PutBucketConfig failed: %v", err)
	}

	return dbPath
}

func TestExportImportRoundTrip(t *testing.T) {
	src := seedDB(t)

	exported, err := ExportMetadata(src, nil)
	if err != nil {
		t.Fatalf("ExportMetadata failed: %v", err)
	}
	if !strings.Contains(exported, `"shamstore_export"`) {
		t.Error("export missing envelope")
	}
	if !strings.Contains(exported, `"file.txt"`) {
		t.Error("export missing object row")
	}

	// Import into a fresh database created with the same schema.
	dstPath := filepath.Join(t.TempDir(), "meta.db")
	dst, err := metadata.NewSQLiteStore(dstPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	dst.Close()

	result, err := ImportMetadata(dstPath, exported, nil)
	if err != nil {
		t.Fatalf("ImportMetadata failed: %v", err)
	}
	if result.Counts["buckets"] != 1 || result.Counts["objects"] != 1 || result.Counts["bucket_configs"] != 1 {
		t.Errorf("Counts = %v", result.Counts)
	}

	// The imported database serves the records through the normal store.
	check, err := metadata.NewSQLiteStore(dstPath)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer check.Close()

	obj, err := check.GetObject(context.Background(), "exported", "file.txt")
	if err != nil {
		t.Fatalf("GetObject failed: %v", err)
	}
	if obj == nil || obj.ETag != `"abc"` {
		t.Errorf("imported object = %+v", obj)
	}
	if len(obj.Tags) != 1 || obj.Tags[0].Key != "env" {
		t.Errorf("imported tags = %v", obj.Tags)
	}
}

func TestImportRejectsUnknownVersion(t *testing.T) {
	dstPath := filepath.Join(t.TempDir(), "meta.db")
	dst, err := metadata.NewSQLiteStore(dstPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	dst.Close()

	bad := `{"shamstore_export":{"version":99},"buckets":[]}`
	if _, err := ImportMetadata(dstPath, bad, nil); err == nil {
		t.Error("ImportMetadata accepted an unsupported version")
	}
}
