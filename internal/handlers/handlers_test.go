package handlers

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shamstore/shamstore/internal/events"
	"github.com/shamstore/shamstore/internal/metadata"
	"github.com/shamstore/shamstore/internal/storage"
)

// fixture wires the handlers against in-memory stores, the way the server
// composes them.
type fixture struct {
	meta   metadata.Store
	store  storage.Backend
	bus    *events.Bus
	bucket *BucketHandler
	object *ObjectHandler
	multi  *MultipartHandler
	cfg    *ConfigHandler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	meta := metadata.NewMemoryStore()
	store := storage.NewMemoryBackend()
	bus := events.NewBus()
	t.Cleanup(bus.Close)

	return &fixture{
		meta:   meta,
		store:  store,
		bus:    bus,
		bucket: NewBucketHandler(meta, store, "S3RVER", "S3RVER", "us-east-1"),
		object: NewObjectHandler(meta, store, bus, "S3RVER", "S3RVER"),
		multi:  NewMultipartHandler(meta, store, bus, "S3RVER", "S3RVER"),
		cfg:    NewConfigHandler(meta, store),
	}
}

// createBucket provisions a bucket directly through the metadata store.
func (f *fixture) createBucket(t *testing.T, name string) {
	t.Helper()
	err := f.meta.CreateBucket(context.Background(), &metadata.BucketRecord{
		Name:      name,
		Region:    "us-east-1",
		OwnerID:   "S3RVER",
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("CreateBucket(%q) failed: %v", name, err)
	}
}

// putObject stores an object through the PUT handler and asserts success.
func (f *fixture) putObject(t *testing.T, bucket, key, body string) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest("PUT", "http://localhost/"+bucket+"/"+key, strings.NewReader(body))
	w := httptest.NewRecorder()
	f.object.PutObject(w, r, bucket, key)
	if w.Code != 200 {
		t.Fatalf("PutObject(%q) status = %d; body %s", key, w.Code, w.Body.String())
	}
	return w
}
