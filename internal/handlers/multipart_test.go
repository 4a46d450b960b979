package handlers

import (
	"bytes"
	"crypto/md5"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shamstore/shamstore/internal/xmlutil"
)

// initiateUpload starts a multipart upload and returns the upload ID.
func initiateUpload(t *testing.T, f *fixture, bucket, key string) string {
	t.Helper()

	r := httptest.NewRequest("POST", "http://localhost/"+bucket+"/"+key+"?uploads", nil)
	w := httptest.NewRecorder()
	f.multi.CreateMultipartUpload(w, r, bucket, key)
	if w.Code != http.StatusOK {
		t.Fatalf("CreateMultipartUpload = %d; body %s", w.Code, w.Body.String())
	}

	var result xmlutil.InitiateMultipartUploadResult
	if err := xml.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if result.UploadID == "" {
		t.Fatal("empty UploadId")
	}
	return result.UploadID
}

// uploadPart uploads one part and returns its ETag.
func uploadPart(t *testing.T, f *fixture, bucket, key, uploadID string, partNumber int, data []byte) string {
	t.Helper()

	url := fmt.Sprintf("http://localhost/%s/%s?partNumber=%d&uploadId=%s", bucket, key, partNumber, uploadID)
	r := httptest.NewRequest("PUT", url, bytes.NewReader(data))
	w := httptest.NewRecorder()
	f.multi.UploadPart(w, r, bucket, key)
	if w.Code != http.StatusOK {
		t.Fatalf("UploadPart(%d) = %d; body %s", partNumber, w.Code, w.Body.String())
	}
	return w.Header().Get("ETag")
}

func TestMultipartUploadRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.createBucket(t, "bucket1")

	uploadID := initiateUpload(t, f, "bucket1", "big")

	// 2 x 5 MiB zero parts plus a short tail, uploaded out of order.
	partA := bytes.Repeat([]byte{0}, 5*1024*1024)
	partB := bytes.Repeat([]byte{0}, 5*1024*1024)
	tail := []byte("tail")

	etag3 := uploadPart(t, f, "bucket1", "big", uploadID, 3, tail)
	etag1 := uploadPart(t, f, "bucket1", "big", uploadID, 1, partA)
	etag2 := uploadPart(t, f, "bucket1", "big", uploadID, 2, partB)

	completeXML := fmt.Sprintf(`<CompleteMultipartUpload>
		<Part><PartNumber>1</PartNumber><ETag>%s</ETag></Part>
		<Part><PartNumber>2</PartNumber><ETag>%s</ETag></Part>
		<Part><PartNumber>3</PartNumber><ETag>%s</ETag></Part>
	</CompleteMultipartUpload>`, etag1, etag2, etag3)

	r := httptest.NewRequest("POST", "http://localhost/bucket1/big?uploadId="+uploadID, strings.NewReader(completeXML))
	w := httptest.NewRecorder()
	f.multi.CompleteMultipartUpload(w, r, "bucket1", "big")
	if w.Code != http.StatusOK {
		t.Fatalf("CompleteMultipartUpload = %d; body %s", w.Code, w.Body.String())
	}

	// Final ETag is md5(concat(part MD5s))-N.
	composite := md5.New()
	for _, data := range [][]byte{partA, partB, tail} {
		sum := md5.Sum(data)
		composite.Write(sum[:])
	}
	wantETag := fmt.Sprintf(`"%x-3"`, composite.Sum(nil))

	var result xmlutil.CompleteMultipartUploadResult
	if err := xml.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if result.ETag != wantETag {
		t.Errorf("ETag = %s, want %s", result.ETag, wantETag)
	}

	// The assembled object serves the concatenation.
	get := httptest.NewRequest("GET", "http://localhost/bucket1/big", nil)
	rec := httptest.NewRecorder()
	f.object.GetObject(rec, get, "bucket1", "big")
	wantSize := len(partA) + len(partB) + len(tail)
	if rec.Body.Len() != wantSize {
		t.Errorf("assembled size = %d, want %d", rec.Body.Len(), wantSize)
	}
}

func TestCompleteRejectsOutOfOrderParts(t *testing.T) {
	f := newFixture(t)
	f.createBucket(t, "bucket1")
	uploadID := initiateUpload(t, f, "bucket1", "key")

	uploadPart(t, f, "bucket1", "key", uploadID, 1, []byte("a"))
	uploadPart(t, f, "bucket1", "key", uploadID, 2, []byte("b"))

	completeXML := `<CompleteMultipartUpload>
		<Part><PartNumber>2</PartNumber><ETag>"x"</ETag></Part>
		<Part><PartNumber>1</PartNumber><ETag>"y"</ETag></Part>
	</CompleteMultipartUpload>`

	r := httptest.NewRequest("POST", "http://localhost/bucket1/key?uploadId="+uploadID, strings.NewReader(completeXML))
	w := httptest.NewRecorder()
	f.multi.CompleteMultipartUpload(w, r, "bucket1", "key")

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if !strings.Contains(w.Body.String(), "InvalidPartOrder") {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestCompleteRejectsUnknownPart(t *testing.T) {
	f := newFixture(t)
	f.createBucket(t, "bucket1")
	uploadID := initiateUpload(t, f, "bucket1", "key")

	uploadPart(t, f, "bucket1", "key", uploadID, 1, []byte("a"))

	completeXML := `<CompleteMultipartUpload>
		<Part><PartNumber>1</PartNumber><ETag>"0cc175b9c0f1b6a831c399e269772661"</ETag></Part>
		<Part><PartNumber>9</PartNumber><ETag>"missing"</ETag></Part>
	</CompleteMultipartUpload>`

	r := httptest.NewRequest("POST", "http://localhost/bucket1/key?uploadId="+uploadID, strings.NewReader(completeXML))
	w := httptest.NewRecorder()
	f.multi.CompleteMultipartUpload(w, r, "bucket1", "key")

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if !strings.Contains(w.Body.String(), "InvalidPart") {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestCompleteRejectsETagMismatch(t *testing.T) {
	f := newFixture(t)
	f.createBucket(t, "bucket1")
	uploadID := initiateUpload(t, f, "bucket1", "key")

	uploadPart(t, f, "bucket1", "key", uploadID, 1, []byte("a"))

	completeXML := `<CompleteMultipartUpload>
		<Part><PartNumber>1</PartNumber><ETag>"ffffffffffffffffffffffffffffffff"</ETag></Part>
	</CompleteMultipartUpload>`

	r := httptest.NewRequest("POST", "http://localhost/bucket1/key?uploadId="+uploadID, strings.NewReader(completeXML))
	w := httptest.NewRecorder()
	f.multi.CompleteMultipartUpload(w, r, "bucket1", "key")

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestUploadPartInvalidPartNumber(t *testing.T) {
	f := newFixture(t)
	f.createBucket(t, "bucket1")
	uploadID := initiateUpload(t, f, "bucket1", "key")

	for _, pn := range []string{"0", "10001", "abc"} {
		url := "http://localhost/bucket1/key?partNumber=" + pn + "&uploadId=" + uploadID
		r := httptest.NewRequest("PUT", url, strings.NewReader("x"))
		w := httptest.NewRecorder()
		f.multi.UploadPart(w, r, "bucket1", "key")

		if w.Code != http.StatusBadRequest {
			t.Errorf("partNumber=%s status = %d, want 400", pn, w.Code)
		}
	}
}

func TestAbortMultipartUpload(t *testing.T) {
	f := newFixture(t)
	f.createBucket(t, "bucket1")
	uploadID := initiateUpload(t, f, "bucket1", "key")
	uploadPart(t, f, "bucket1", "key", uploadID, 1, []byte("a"))

	r := httptest.NewRequest("DELETE", "http://localhost/bucket1/key?uploadId="+uploadID, nil)
	w := httptest.NewRecorder()
	f.multi.AbortMultipartUpload(w, r, "bucket1", "key")

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", w.Code)
	}

	// Completing the aborted upload fails with NoSuchUpload.
	completeXML := `<CompleteMultipartUpload><Part><PartNumber>1</PartNumber><ETag>"x"</ETag></Part></CompleteMultipartUpload>`
	r2 := httptest.NewRequest("POST", "http://localhost/bucket1/key?uploadId="+uploadID, strings.NewReader(completeXML))
	w2 := httptest.NewRecorder()
	f.multi.CompleteMultipartUpload(w2, r2, "bucket1", "key")
	if w2.Code != http.StatusNotFound {
		t.Errorf("complete after abort = %d, want 404", w2.Code)
	}
}

func TestStagedMetadataAppliedOnComplete(t *testing.T) {
	f := newFixture(t)
	f.createBucket(t, "bucket1")

	r := httptest.NewRequest("POST", "http://localhost/bucket1/staged?uploads", nil)
	r.Header.Set("Content-Type", "application/zip")
	r.Header.Set("X-Amz-Meta-Stage", "initiate")
	w := httptest.NewRecorder()
	f.multi.CreateMultipartUpload(w, r, "bucket1", "staged")

	var initResult xmlutil.InitiateMultipartUploadResult
	if err := xml.Unmarshal(w.Body.Bytes(), &initResult); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	uploadID := initResult.UploadID

	etag := uploadPart(t, f, "bucket1", "staged", uploadID, 1, []byte("zipzip"))

	completeXML := fmt.Sprintf(`<CompleteMultipartUpload><Part><PartNumber>1</PartNumber><ETag>%s</ETag></Part></CompleteMultipartUpload>`, etag)
	r2 := httptest.NewRequest("POST", "http://localhost/bucket1/staged?uploadId="+uploadID, strings.NewReader(completeXML))
	w2 := httptest.NewRecorder()
	f.multi.CompleteMultipartUpload(w2, r2, "bucket1", "staged")
	if w2.Code != http.StatusOK {
		t.Fatalf("complete = %d; body %s", w2.Code, w2.Body.String())
	}

	head := httptest.NewRequest("HEAD", "http://localhost/bucket1/staged", nil)
	rec := httptest.NewRecorder()
	f.object.HeadObject(rec, head, "bucket1", "staged")

	if ct := rec.Header().Get("Content-Type"); ct != "application/zip" {
		t.Errorf("Content-Type = %q, want staged value", ct)
	}
	if got := rec.Header().Get("x-amz-meta-stage"); got != "initiate" {
		t.Errorf("x-amz-meta-stage = %q, want staged value", got)
	}
}

func TestListPartsPagination(t *testing.T) {
	f := newFixture(t)
	f.createBucket(t, "bucket1")
	uploadID := initiateUpload(t, f, "bucket1", "key")

	for pn := 1; pn <= 5; pn++ {
		uploadPart(t, f, "bucket1", "key", uploadID, pn, []byte{byte(pn)})
	}

	r := httptest.NewRequest("GET", "http://localhost/bucket1/key?uploadId="+uploadID+"&max-parts=2", nil)
	w := httptest.NewRecorder()
	f.multi.ListParts(w, r, "bucket1", "key")

	var result xmlutil.ListPartsResult
	if err := xml.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if len(result.Parts) != 2 || !result.IsTruncated {
		t.Fatalf("got %d parts, truncated=%v", len(result.Parts), result.IsTruncated)
	}
	if result.NextPartNumberMarker != 2 {
		t.Errorf("NextPartNumberMarker = %d, want 2", result.NextPartNumberMarker)
	}

	r2 := httptest.NewRequest("GET", "http://localhost/bucket1/key?uploadId="+uploadID+"&part-number-marker=2", nil)
	w2 := httptest.NewRecorder()
	f.multi.ListParts(w2, r2, "bucket1", "key")

	var rest xmlutil.ListPartsResult
	if err := xml.Unmarshal(w2.Body.Bytes(), &rest); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if len(rest.Parts) != 3 || rest.IsTruncated {
		t.Errorf("got %d parts, truncated=%v", len(rest.Parts), rest.IsTruncated)
	}
}

func TestListMultipartUploads(t *testing.T) {
	f := newFixture(t)
	f.createBucket(t, "bucket1")

	initiateUpload(t, f, "bucket1", "alpha")
	initiateUpload(t, f, "bucket1", "beta")

	r := httptest.NewRequest("GET", "http://localhost/bucket1?uploads", nil)
	w := httptest.NewRecorder()
	f.multi.ListMultipartUploads(w, r, "bucket1")

	var result xmlutil.ListMultipartUploadsResult
	if err := xml.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if len(result.Uploads) != 2 {
		t.Fatalf("got %d uploads, want 2", len(result.Uploads))
	}
	if result.Uploads[0].Key != "alpha" || result.Uploads[1].Key != "beta" {
		t.Errorf("uploads not in key order: %v", result.Uploads)
	}
}
