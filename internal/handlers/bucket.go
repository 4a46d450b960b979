package handlers

import (
	"encoding/xml"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	s3err "github.com/shamstore/shamstore/internal/errors"
	"github.com/shamstore/shamstore/internal/metadata"
	"github.com/shamstore/shamstore/internal/storage"
	"github.com/shamstore/shamstore/internal/xmlutil"
)

// BucketHandler contains handlers for S3 bucket-level operations. The
// dispatcher passes the resolved bucket name explicitly so virtual-hosted
// and path-style requests are served identically.
type BucketHandler struct {
	meta         metadata.Store
	store        storage.Backend
	ownerID      string
	ownerDisplay string
	region       string
}

// NewBucketHandler creates a new BucketHandler with the given dependencies.
func NewBucketHandler(meta metadata.Store, store storage.Backend, ownerID, ownerDisplay, region string) *BucketHandler {
	return &BucketHandler{
		meta:         meta,
		store:        store,
		ownerID:      ownerID,
		ownerDisplay: ownerDisplay,
		region:       region,
	}
}

// ListBuckets handles GET / and returns all buckets in creation order under
// the fixed owner.
func (h *BucketHandler) ListBuckets(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	buckets, err := h.meta.ListBuckets(ctx)
	if err != nil {
		slog.Error("ListBuckets error", "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}

	var xmlBuckets []xmlutil.Bucket
	for _, b := range buckets {
		xmlBuckets = append(xmlBuckets, xmlutil.Bucket{
			Name:         b.Name,
			CreationDate: xmlutil.FormatTimeS3(b.CreatedAt),
		})
	}

	result := &xmlutil.ListAllMyBucketsResult{
		Owner: xmlutil.Owner{
			ID:          h.ownerID,
			DisplayName: h.ownerDisplay,
		},
		Buckets: xmlBuckets,
	}

	xmlutil.RenderListBuckets(w, result)
}

// CreateBucket handles PUT /{bucket} and creates a new bucket with the
// specified name.
func (h *BucketHandler) CreateBucket(w http.ResponseWriter, r *http.Request, bucketName string) {
	ctx := r.Context()

	if errMsg := validateBucketName(bucketName); errMsg != "" {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInvalidBucketName.WithMessage(errMsg))
		return
	}

	cannedACL := r.Header.Get("x-amz-acl")
	acp := parseCannedACL(cannedACL, h.ownerID, h.ownerDisplay)
	aclJSON := aclToJSON(acp)

	// Determine region from request body (CreateBucketConfiguration) or config.
	region := h.region
	if r.ContentLength > 0 {
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1 MB max
		if err == nil && len(body) > 0 {
			region = parseCreateBucketRegion(body, h.region)
		}
	}

	existing, err := h.meta.GetBucket(ctx, bucketName)
	if err != nil {
		slog.Error("CreateBucket GetBucket error", "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}

	if existing != nil {
		// Single-owner server: re-creating an owned bucket succeeds with
		// 200 in us-east-1 and 409 BucketAlreadyOwnedByYou elsewhere.
		if region != "us-east-1" {
			xmlutil.WriteErrorResponse(w, r, s3err.ErrBucketAlreadyOwnedByYou)
			return
		}
		w.Header().Set("Location", "/"+bucketName)
		w.WriteHeader(http.StatusOK)
		return
	}

	record := &metadata.BucketRecord{
		Name:         bucketName,
		Region:       region,
		OwnerID:      h.ownerID,
		OwnerDisplay: h.ownerDisplay,
		ACL:          aclJSON,
		CreatedAt:    time.Now().UTC(),
	}

	if err := h.meta.CreateBucket(ctx, record); err != nil {
		// Race: bucket was created between our check and insert.
		if strings.Contains(err.Error(), "already exists") {
			w.Header().Set("Location", "/"+bucketName)
			w.WriteHeader(http.StatusOK)
			return
		}
		slog.Error("CreateBucket metadata error", "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}

	if err := h.store.CreateBucket(ctx, bucketName); err != nil {
		slog.Error("CreateBucket storage error", "error", err)
		// Metadata is created; the directory appears on first object write.
	}

	w.Header().Set("Location", "/"+bucketName)
	w.WriteHeader(http.StatusOK)
}

// DeleteBucket handles DELETE /{bucket} and removes the specified bucket.
// The bucket must be empty before it can be deleted.
func (h *BucketHandler) DeleteBucket(w http.ResponseWriter, r *http.Request, bucketName string) {
	ctx := r.Context()

	if err := h.meta.DeleteBucket(ctx, bucketName); err != nil {
		if strings.Contains(err.Error(), "not found") {
			xmlutil.WriteErrorResponse(w, r, s3err.ErrNoSuchBucket)
			return
		}
		if strings.Contains(err.Error(), "not empty") {
			xmlutil.WriteErrorResponse(w, r, s3err.ErrBucketNotEmpty)
			return
		}
		slog.Error("DeleteBucket error", "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}

	if err := h.store.DeleteBucket(ctx, bucketName); err != nil {
		slog.Error("DeleteBucket storage cleanup error", "error", err)
	}

	w.WriteHeader(http.StatusNoContent)
}

// HeadBucket handles HEAD /{bucket} and checks whether the specified bucket
// exists and is accessible.
func (h *BucketHandler) HeadBucket(w http.ResponseWriter, r *http.Request, bucketName string) {
	ctx := r.Context()

	bucket, err := h.meta.GetBucket(ctx, bucketName)
	if err != nil {
		slog.Error("HeadBucket error", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	if bucket == nil {
		// HEAD requests: no body, status code only.
		w.WriteHeader(http.StatusNotFound)
		return
	}

	w.Header().Set("x-amz-bucket-region", bucket.Region)
	w.WriteHeader(http.StatusOK)
}

// GetBucketLocation handles GET /{bucket}?location and returns the region
// constraint for the specified bucket.
func (h *BucketHandler) GetBucketLocation(w http.ResponseWriter, r *http.Request, bucketName string) {
	ctx := r.Context()

	bucket, err := h.meta.GetBucket(ctx, bucketName)
	if err != nil {
		slog.Error("GetBucketLocation error", "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}

	if bucket == nil {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrNoSuchBucket)
		return
	}

	// us-east-1 quirk: return empty LocationConstraint (effectively null).
	location := bucket.Region
	if location == "us-east-1" {
		location = ""
	}

	xmlutil.RenderLocationConstraint(w, location)
}

// GetBucketAcl handles GET /{bucket}?acl and returns the access control list
// for the specified bucket.
func (h *BucketHandler) GetBucketAcl(w http.ResponseWriter, r *http.Request, bucketName string) {
	ctx := r.Context()

	bucket, err := h.meta.GetBucket(ctx, bucketName)
	if err != nil {
		slog.Error("GetBucketAcl error", "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}

	if bucket == nil {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrNoSuchBucket)
		return
	}

	// A stored ?acl PUT wins over the creation-time ACL.
	var acp *xmlutil.AccessControlPolicy
	if blob, blobErr := h.meta.GetBucketConfig(ctx, bucketName, metadata.ConfigACL); blobErr == nil && blob != nil {
		acp = aclFromJSON(blob)
	}
	if acp == nil {
		acp = aclFromJSON(bucket.ACL)
	}
	if acp == nil {
		acp = parseCannedACL("private", bucket.OwnerID, bucket.OwnerDisplay)
	}

	acp.Owner = xmlutil.Owner{
		ID:          bucket.OwnerID,
		DisplayName: bucket.OwnerDisplay,
	}

	xmlutil.RenderAccessControlPolicy(w, acp)
}

// PutBucketAcl handles PUT /{bucket}?acl and stores the access control list
// for the specified bucket. The ACL is echoed back on GET but not enforced.
func (h *BucketHandler) PutBucketAcl(w http.ResponseWriter, r *http.Request, bucketName string) {
	ctx := r.Context()

	bucket, err := h.meta.GetBucket(ctx, bucketName)
	if err != nil {
		slog.Error("PutBucketAcl error", "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}

	if bucket == nil {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrNoSuchBucket)
		return
	}

	var acp *xmlutil.AccessControlPolicy

	cannedACL := r.Header.Get("x-amz-acl")
	if cannedACL != "" {
		acp = parseCannedACL(cannedACL, bucket.OwnerID, bucket.OwnerDisplay)
	} else if r.ContentLength > 0 {
		body, readErr := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1 MB max
		if readErr != nil {
			xmlutil.WriteErrorResponse(w, r, s3err.ErrMalformedXML)
			return
		}
		acp = &xmlutil.AccessControlPolicy{}
		if xmlErr := xml.Unmarshal(body, acp); xmlErr != nil {
			xmlutil.WriteErrorResponse(w, r, s3err.ErrMalformedXML)
			return
		}
	} else {
		acp = parseCannedACL("private", bucket.OwnerID, bucket.OwnerDisplay)
	}

	aclJSON := aclToJSON(acp)
	if err := h.meta.PutBucketConfig(ctx, bucketName, metadata.ConfigACL, aclJSON); err != nil {
		slog.Error("PutBucketAcl update error", "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// parseCreateBucketRegion parses a CreateBucketConfiguration XML body to
// extract the LocationConstraint value. Returns the default region if
// parsing fails or no LocationConstraint is specified.
func parseCreateBucketRegion(body []byte, defaultRegion string) string {
	type createBucketConfig struct {
		XMLName            xml.Name `xml:"CreateBucketConfiguration"`
		LocationConstraint string   `xml:"LocationConstraint"`
	}
	var config createBucketConfig
	if err := xml.Unmarshal(body, &config); err != nil {
		return defaultRegion
	}
	if config.LocationConstraint == "" {
		return defaultRegion
	}
	return config.LocationConstraint
}
