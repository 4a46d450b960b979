package handlers

import (
	"encoding/xml"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shamstore/shamstore/internal/xmlutil"
)

func TestValidateBucketName(t *testing.T) {
	tests := []struct {
		name    string
		wantErr bool
	}{
		// Valid names
		{"my-bucket", false},
		{"my.bucket", false},
		{"mybucket123", false},
		{"a-b", false},
		{"aaa", false},
		{"bucket-with-many-hyphens-and-dots.and.more", false},

		// Invalid names
		{"ab", true},                    // too short
		{"UPPERCASE", true},             // uppercase
		{"my_bucket", true},             // underscore
		{"-start-with-hyphen", true},    // starts with hyphen
		{"end-with-hyphen-", true},      // ends with hyphen
		{"192.168.0.1", true},           // IP address
		{"my..bucket", true},            // consecutive periods
		{"label.-bad", true},            // label starts with hyphen
		{"", true},                      // empty
		{strings.Repeat("a", 64), true}, // too long (64 chars)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := validateBucketName(tt.name)
			if tt.wantErr && result == "" {
				t.Errorf("validateBucketName(%q) = valid, want error", tt.name)
			}
			if !tt.wantErr && result != "" {
				t.Errorf("validateBucketName(%q) = %q, want valid", tt.name, result)
			}
		})
	}
}

func TestCreateBucket(t *testing.T) {
	f := newFixture(t)

	r := httptest.NewRequest("PUT", "http://localhost/my-test-bucket", nil)
	w := httptest.NewRecorder()
	f.bucket.CreateBucket(w, r, "my-test-bucket")

	if w.Code != http.StatusOK {
		t.Fatalf("CreateBucket status = %d; body %s", w.Code, w.Body.String())
	}
	if location := w.Header().Get("Location"); location != "/my-test-bucket" {
		t.Errorf("Location = %q, want /my-test-bucket", location)
	}
}

func TestCreateBucketInvalidName(t *testing.T) {
	f := newFixture(t)

	for _, name := range []string{"UPPERCASE", "ab", "my_bucket", "192.168.0.1", "a..b"} {
		r := httptest.NewRequest("PUT", "http://localhost/"+name, nil)
		w := httptest.NewRecorder()
		f.bucket.CreateBucket(w, r, name)

		if w.Code != http.StatusBadRequest {
			t.Errorf("CreateBucket(%q) = %d, want 400", name, w.Code)
		}
		if !strings.Contains(w.Body.String(), "InvalidBucketName") {
			t.Errorf("CreateBucket(%q) body = %s", name, w.Body.String())
		}
	}
}

func TestCreateBucketIdempotent(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 2; i++ {
		r := httptest.NewRequest("PUT", "http://localhost/my-test-bucket", nil)
		w := httptest.NewRecorder()
		f.bucket.CreateBucket(w, r, "my-test-bucket")
		if w.Code != http.StatusOK {
			t.Fatalf("CreateBucket attempt %d = %d", i+1, w.Code)
		}
	}
}

func TestDeleteBucketNotEmptyThenEmpty(t *testing.T) {
	f := newFixture(t)
	f.createBucket(t, "bucket1")
	f.putObject(t, "bucket1", "nested/deeply/key", "x")

	r := httptest.NewRequest("DELETE", "http://localhost/bucket1", nil)
	w := httptest.NewRecorder()
	f.bucket.DeleteBucket(w, r, "bucket1")

	if w.Code != http.StatusConflict {
		t.Fatalf("DeleteBucket on non-empty = %d, want 409", w.Code)
	}
	if !strings.Contains(w.Body.String(), "BucketNotEmpty") {
		t.Errorf("body = %s", w.Body.String())
	}

	del := httptest.NewRequest("DELETE", "http://localhost/bucket1/nested/deeply/key", nil)
	delRec := httptest.NewRecorder()
	f.object.DeleteObject(delRec, del, "bucket1", "nested/deeply/key")
	if delRec.Code != http.StatusNoContent {
		t.Fatalf("DeleteObject = %d", delRec.Code)
	}

	// No ghost directory keeps the bucket non-empty.
	r2 := httptest.NewRequest("DELETE", "http://localhost/bucket1", nil)
	w2 := httptest.NewRecorder()
	f.bucket.DeleteBucket(w2, r2, "bucket1")
	if w2.Code != http.StatusNoContent {
		t.Errorf("DeleteBucket after emptying = %d, want 204", w2.Code)
	}
}

func TestDeleteBucketMissing(t *testing.T) {
	f := newFixture(t)

	r := httptest.NewRequest("DELETE", "http://localhost/ghost-bucket", nil)
	w := httptest.NewRecorder()
	f.bucket.DeleteBucket(w, r, "ghost-bucket")

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestListBuckets(t *testing.T) {
	f := newFixture(t)
	f.createBucket(t, "first-bucket")
	f.createBucket(t, "second-bucket")

	r := httptest.NewRequest("GET", "http://localhost/", nil)
	w := httptest.NewRecorder()
	f.bucket.ListBuckets(w, r)

	var result xmlutil.ListAllMyBucketsResult
	if err := xml.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if len(result.Buckets) != 2 {
		t.Errorf("got %d buckets, want 2", len(result.Buckets))
	}
	if result.Owner.ID != "S3RVER" {
		t.Errorf("Owner.ID = %q", result.Owner.ID)
	}
}

func TestGetBucketLocationUSEast1Quirk(t *testing.T) {
	f := newFixture(t)
	f.createBucket(t, "bucket1")

	r := httptest.NewRequest("GET", "http://localhost/bucket1?location", nil)
	w := httptest.NewRecorder()
	f.bucket.GetBucketLocation(w, r, "bucket1")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	// us-east-1 renders an empty LocationConstraint.
	if strings.Contains(w.Body.String(), "us-east-1") {
		t.Errorf("body = %s, want empty constraint", w.Body.String())
	}
}

func TestHeadBucket(t *testing.T) {
	f := newFixture(t)
	f.createBucket(t, "bucket1")

	r := httptest.NewRequest("HEAD", "http://localhost/bucket1", nil)
	w := httptest.NewRecorder()
	f.bucket.HeadBucket(w, r, "bucket1")
	if w.Code != http.StatusOK {
		t.Errorf("HeadBucket = %d", w.Code)
	}
	if got := w.Header().Get("x-amz-bucket-region"); got != "us-east-1" {
		t.Errorf("x-amz-bucket-region = %q", got)
	}

	r2 := httptest.NewRequest("HEAD", "http://localhost/ghost", nil)
	w2 := httptest.NewRecorder()
	f.bucket.HeadBucket(w2, r2, "ghost")
	if w2.Code != http.StatusNotFound {
		t.Errorf("HeadBucket(ghost) = %d, want 404", w2.Code)
	}
}

func TestBucketConfigLifecycle(t *testing.T) {
	f := newFixture(t)
	f.createBucket(t, "bucket1")

	// GET of an unset CORS config fails with its NoSuch error.
	r := httptest.NewRequest("GET", "http://localhost/bucket1?cors", nil)
	w := httptest.NewRecorder()
	f.cfg.GetConfig(w, r, "bucket1", "cors")
	if w.Code != http.StatusNotFound {
		t.Fatalf("GET unset cors = %d, want 404", w.Code)
	}
	if !strings.Contains(w.Body.String(), "NoSuchCORSConfiguration") {
		t.Errorf("body = %s", w.Body.String())
	}

	corsXML := `<CORSConfiguration><CORSRule><AllowedOrigin>*</AllowedOrigin><AllowedMethod>GET</AllowedMethod></CORSRule></CORSConfiguration>`
	put := httptest.NewRequest("PUT", "http://localhost/bucket1?cors", strings.NewReader(corsXML))
	putRec := httptest.NewRecorder()
	f.cfg.PutConfig(putRec, put, "bucket1", "cors")
	if putRec.Code != http.StatusOK {
		t.Fatalf("PUT cors = %d; body %s", putRec.Code, putRec.Body.String())
	}

	// The stored blob comes back verbatim.
	get := httptest.NewRequest("GET", "http://localhost/bucket1?cors", nil)
	getRec := httptest.NewRecorder()
	f.cfg.GetConfig(getRec, get, "bucket1", "cors")
	if getRec.Code != http.StatusOK {
		t.Fatalf("GET cors = %d", getRec.Code)
	}
	if getRec.Body.String() != corsXML {
		t.Errorf("GET cors body = %q, want verbatim blob", getRec.Body.String())
	}

	del := httptest.NewRequest("DELETE", "http://localhost/bucket1?cors", nil)
	delRec := httptest.NewRecorder()
	f.cfg.DeleteConfig(delRec, del, "bucket1", "cors")
	if delRec.Code != http.StatusNoContent {
		t.Errorf("DELETE cors = %d, want 204", delRec.Code)
	}
}

func TestPutConfigRejectsInvalidCORS(t *testing.T) {
	f := newFixture(t)
	f.createBucket(t, "bucket1")

	bad := `<CORSConfiguration><CORSRule><AllowedOrigin>*</AllowedOrigin><AllowedMethod>PATCH</AllowedMethod></CORSRule></CORSConfiguration>`
	r := httptest.NewRequest("PUT", "http://localhost/bucket1?cors", strings.NewReader(bad))
	w := httptest.NewRecorder()
	f.cfg.PutConfig(w, r, "bucket1", "cors")

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestPutConfigRejectsInvalidWebsite(t *testing.T) {
	f := newFixture(t)
	f.createBucket(t, "bucket1")

	bad := `<WebsiteConfiguration></WebsiteConfiguration>`
	r := httptest.NewRequest("PUT", "http://localhost/bucket1?website", strings.NewReader(bad))
	w := httptest.NewRecorder()
	f.cfg.PutConfig(w, r, "bucket1", "website")

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if !strings.Contains(w.Body.String(), "MalformedXML") {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestPolicyStoredVerbatim(t *testing.T) {
	f := newFixture(t)
	f.createBucket(t, "bucket1")

	policy := `{"Version":"2012-10-17","Statement":[]}`
	r := httptest.NewRequest("PUT", "http://localhost/bucket1?policy", strings.NewReader(policy))
	w := httptest.NewRecorder()
	f.cfg.PutConfig(w, r, "bucket1", "policy")
	if w.Code != http.StatusOK {
		t.Fatalf("PUT policy = %d", w.Code)
	}

	get := httptest.NewRequest("GET", "http://localhost/bucket1?policy", nil)
	rec := httptest.NewRecorder()
	f.cfg.GetConfig(rec, get, "bucket1", "policy")
	if rec.Body.String() != policy {
		t.Errorf("policy = %q, want verbatim", rec.Body.String())
	}

	// Unset policy has its own error code.
	f.createBucket(t, "bucket2")
	get2 := httptest.NewRequest("GET", "http://localhost/bucket2?policy", nil)
	rec2 := httptest.NewRecorder()
	f.cfg.GetConfig(rec2, get2, "bucket2", "policy")
	if !strings.Contains(rec2.Body.String(), "NoSuchBucketPolicy") {
		t.Errorf("body = %s", rec2.Body.String())
	}
}

func TestSniffConfigKind(t *testing.T) {
	tests := []struct {
		blob string
		want string
	}{
		{`<CORSConfiguration/>`, "cors"},
		{`<WebsiteConfiguration/>`, "website"},
		{`<LifecycleConfiguration/>`, "lifecycle"},
		{`<Tagging/>`, "tagging"},
		{`<Unknown/>`, ""},
		{`not xml`, ""},
	}
	for _, tt := range tests {
		if got := SniffConfigKind([]byte(tt.blob)); got != tt.want {
			t.Errorf("SniffConfigKind(%q) = %q, want %q", tt.blob, got, tt.want)
		}
	}
}
