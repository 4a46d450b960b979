package handlers

import (
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	s3err "github.com/shamstore/shamstore/internal/errors"
	"github.com/shamstore/shamstore/internal/events"
	"github.com/shamstore/shamstore/internal/metadata"
	"github.com/shamstore/shamstore/internal/storage"
	"github.com/shamstore/shamstore/internal/xmlutil"
)

// ObjectHandler contains handlers for S3 object-level operations.
type ObjectHandler struct {
	meta         metadata.Store
	store        storage.Backend
	bus          *events.Bus
	ownerID      string
	ownerDisplay string
}

// NewObjectHandler creates a new ObjectHandler with the given dependencies.
func NewObjectHandler(meta metadata.Store, store storage.Backend, bus *events.Bus, ownerID, ownerDisplay string) *ObjectHandler {
	return &ObjectHandler{
		meta:         meta,
		store:        store,
		bus:          bus,
		ownerID:      ownerID,
		ownerDisplay: ownerDisplay,
	}
}

// ensureBucket fetches the bucket record, writing NoSuchBucket or
// InternalError when it cannot be served. Returns nil when handled.
func (h *ObjectHandler) ensureBucket(w http.ResponseWriter, r *http.Request, bucketName string) *metadata.BucketRecord {
	bucket, err := h.meta.GetBucket(r.Context(), bucketName)
	if err != nil {
		slog.Error("GetBucket error", "bucket", bucketName, "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return nil
	}
	if bucket == nil {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrNoSuchBucket)
		return nil
	}
	return bucket
}

// parseTaggingHeader decodes an x-amz-tagging header (URL-encoded
// key=value pairs) into an ordered tag set.
func parseTaggingHeader(header string) []metadata.Tag {
	if header == "" {
		return nil
	}
	var tags []metadata.Tag
	for _, pair := range strings.Split(header, "&") {
		kv := strings.SplitN(pair, "=", 2)
		key, err := url.QueryUnescape(kv[0])
		if err != nil || key == "" {
			continue
		}
		value := ""
		if len(kv) == 2 {
			value, _ = url.QueryUnescape(kv[1])
		}
		tags = append(tags, metadata.Tag{Key: key, Value: value})
	}
	return tags
}

// PutObject handles PUT /{bucket}/{key} and stores an object in the
// specified bucket. The body is streamed to storage while the MD5 is
// computed; a Content-MD5 mismatch or short body removes the blob again
// before any metadata is committed.
func (h *ObjectHandler) PutObject(w http.ResponseWriter, r *http.Request, bucketName, key string) {
	ctx := r.Context()

	if key == "" {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInvalidArgument)
		return
	}

	// Validate key length (max 1024 bytes per S3 spec).
	if len(key) > 1024 {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrKeyTooLongError)
		return
	}

	if h.ensureBucket(w, r, bucketName) == nil {
		return
	}

	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "binary/octet-stream"
	}

	userMeta := extractUserMetadata(r)
	tags := parseTaggingHeader(r.Header.Get("x-amz-tagging"))

	body, declaredLength := requestBody(r)

	bytesWritten, etag, err := h.store.PutObject(ctx, bucketName, key, body, declaredLength)
	if err != nil {
		slog.Error("PutObject storage error", "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}

	if declaredLength >= 0 && bytesWritten != declaredLength {
		h.store.DeleteObject(ctx, bucketName, key)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrIncompleteBody)
		return
	}

	if md5Err := verifyContentMD5(r.Header.Get("Content-MD5"), etag); md5Err != nil {
		h.store.DeleteObject(ctx, bucketName, key)
		xmlutil.WriteErrorResponse(w, r, md5Err)
		return
	}

	now := time.Now().UTC()
	objRecord := &metadata.ObjectRecord{
		Bucket:                  bucketName,
		Key:                     key,
		Size:                    bytesWritten,
		ETag:                    etag,
		ContentType:             contentType,
		ContentEncoding:         r.Header.Get("Content-Encoding"),
		ContentLanguage:         r.Header.Get("Content-Language"),
		ContentDisposition:      r.Header.Get("Content-Disposition"),
		CacheControl:            r.Header.Get("Cache-Control"),
		Expires:                 r.Header.Get("Expires"),
		StorageClass:            "STANDARD",
		WebsiteRedirectLocation: r.Header.Get("x-amz-website-redirect-location"),
		ACL:                     defaultPrivateACL(h.ownerID, h.ownerDisplay),
		UserMetadata:            userMeta,
		Tags:                    tags,
		LastModified:            now,
	}

	if err := h.meta.PutObject(ctx, objRecord); err != nil {
		slog.Error("PutObject metadata error", "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}

	w.Header().Set("ETag", etag)
	w.WriteHeader(http.StatusOK)

	h.bus.Publish(events.Record{
		EventName: events.ObjectCreatedPut,
		Bucket:    bucketName,
		Key:       key,
		Size:      bytesWritten,
		ETag:      etag,
	})
}

// GetObject handles GET /{bucket}/{key}, including range requests,
// conditional requests, and signed response-header overrides.
func (h *ObjectHandler) GetObject(w http.ResponseWriter, r *http.Request, bucketName, key string) {
	ctx := r.Context()

	if h.ensureBucket(w, r, bucketName) == nil {
		return
	}

	if overrideErr := checkResponseOverrides(r); overrideErr != nil {
		xmlutil.WriteErrorResponse(w, r, overrideErr)
		return
	}

	objMeta, err := h.meta.GetObject(ctx, bucketName, key)
	if err != nil {
		slog.Error("GetObject metadata error", "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}
	if objMeta == nil {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrNoSuchKey)
		return
	}

	// Evaluate conditional request headers before opening data.
	if statusCode, skip := checkConditionalHeaders(r, objMeta.ETag, objMeta.LastModified); skip {
		w.Header().Set("ETag", objMeta.ETag)
		w.Header().Set("Last-Modified", xmlutil.FormatTimeHTTP(objMeta.LastModified))
		if statusCode == http.StatusNotModified {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		xmlutil.WriteErrorResponse(w, r, s3err.ErrPreconditionFailed)
		return
	}

	reader, _, err := h.store.GetObject(ctx, bucketName, key)
	if err != nil {
		slog.Error("GetObject storage error", "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}
	defer reader.Close()

	rangeHeader := r.Header.Get("Range")
	if rangeHeader != "" {
		start, end, rangeErr := parseRange(rangeHeader, objMeta.Size)
		if rangeErr != nil {
			w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", objMeta.Size))
			xmlutil.WriteErrorResponse(w, r, s3err.ErrInvalidRange)
			return
		}

		if seeker, ok := reader.(io.ReadSeeker); ok {
			if _, seekErr := seeker.Seek(start, io.SeekStart); seekErr != nil {
				slog.Error("GetObject seek error", "error", seekErr)
				xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
				return
			}
		} else {
			if _, discardErr := io.CopyN(io.Discard, reader, start); discardErr != nil {
				slog.Error("GetObject discard error", "error", discardErr)
				xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
				return
			}
		}

		rangeLen := end - start + 1

		setObjectResponseHeaders(w, objMeta)
		applyResponseOverrides(w, r)
		w.Header().Set("Content-Length", strconv.FormatInt(rangeLen, 10))
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, objMeta.Size))
		w.WriteHeader(http.StatusPartialContent)

		io.CopyN(w, reader, rangeLen)
		return
	}

	setObjectResponseHeaders(w, objMeta)
	applyResponseOverrides(w, r)
	w.WriteHeader(http.StatusOK)

	io.Copy(w, reader)
}

// HeadObject handles HEAD /{bucket}/{key} and returns the object metadata
// without the object body.
func (h *ObjectHandler) HeadObject(w http.ResponseWriter, r *http.Request, bucketName, key string) {
	ctx := r.Context()

	bucket, err := h.meta.GetBucket(ctx, bucketName)
	if err != nil {
		slog.Error("HeadObject GetBucket error", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if bucket == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	objMeta, err := h.meta.GetObject(ctx, bucketName, key)
	if err != nil {
		slog.Error("HeadObject metadata error", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if objMeta == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	if statusCode, skip := checkConditionalHeaders(r, objMeta.ETag, objMeta.LastModified); skip {
		w.Header().Set("ETag", objMeta.ETag)
		w.Header().Set("Last-Modified", xmlutil.FormatTimeHTTP(objMeta.LastModified))
		w.WriteHeader(statusCode)
		return
	}

	setObjectResponseHeaders(w, objMeta)
	w.WriteHeader(http.StatusOK)
}

// DeleteObject handles DELETE /{bucket}/{key} and removes the specified
// object. Idempotent: deleting a non-existent object returns 204.
func (h *ObjectHandler) DeleteObject(w http.ResponseWriter, r *http.Request, bucketName, key string) {
	ctx := r.Context()

	if h.ensureBucket(w, r, bucketName) == nil {
		return
	}

	if err := h.meta.DeleteObject(ctx, bucketName, key); err != nil {
		slog.Error("DeleteObject metadata error", "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}

	if err := h.store.DeleteObject(ctx, bucketName, key); err != nil {
		slog.Error("DeleteObject storage error", "error", err)
		// Metadata is already gone; an orphan blob is harmless.
	}

	w.WriteHeader(http.StatusNoContent)

	h.bus.Publish(events.Record{
		EventName: events.ObjectRemovedDelete,
		Bucket:    bucketName,
		Key:       key,
	})
}

// DeleteObjects handles POST /{bucket}?delete and performs a multi-object
// delete. Every requested key is reported as deleted, whether or not it
// existed; an empty Objects list is MalformedXML.
func (h *ObjectHandler) DeleteObjects(w http.ResponseWriter, r *http.Request, bucketName string) {
	ctx := r.Context()

	if h.ensureBucket(w, r, bucketName) == nil {
		return
	}

	deleteReq, err := parseDeleteRequest(r.Body)
	if err != nil {
		slog.Error("DeleteObjects XML parse error", "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrMalformedXML)
		return
	}

	if len(deleteReq.Objects) == 0 {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrMalformedXML)
		return
	}

	result := &xmlutil.DeleteResult{}
	var removed []string

	for _, obj := range deleteReq.Objects {
		if err := h.meta.DeleteObject(ctx, bucketName, obj.Key); err != nil {
			slog.Error("DeleteObjects metadata error", "key", obj.Key, "error", err)
			result.Errors = append(result.Errors, xmlutil.DeleteError{
				Key:     obj.Key,
				Code:    "InternalError",
				Message: "We encountered an internal error. Please try again.",
			})
			continue
		}

		if err := h.store.DeleteObject(ctx, bucketName, obj.Key); err != nil {
			slog.Error("DeleteObjects storage error", "key", obj.Key, "error", err)
		}

		removed = append(removed, obj.Key)

		// In quiet mode, successful deletes are not reported.
		if !deleteReq.Quiet {
			result.Deleted = append(result.Deleted, xmlutil.DeletedItem{Key: obj.Key})
		}
	}

	xmlutil.RenderDeleteResult(w, result)

	for _, key := range removed {
		h.bus.Publish(events.Record{
			EventName: events.ObjectRemovedDelete,
			Bucket:    bucketName,
			Key:       key,
		})
	}
}

// CopyObject handles PUT /{bucket}/{key} with an X-Amz-Copy-Source header.
// x-amz-metadata-directive COPY (default) carries source metadata over;
// REPLACE substitutes metadata from the request. A self-copy without
// REPLACE is rejected.
func (h *ObjectHandler) CopyObject(w http.ResponseWriter, r *http.Request, dstBucket, dstKey string) {
	ctx := r.Context()

	if dstKey == "" {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInvalidArgument)
		return
	}

	copySource := r.Header.Get("X-Amz-Copy-Source")
	srcBucket, srcKey, ok := parseCopySource(copySource)
	if !ok {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInvalidArgument)
		return
	}

	if h.ensureBucket(w, r, dstBucket) == nil {
		return
	}

	srcBucketRec, err := h.meta.GetBucket(ctx, srcBucket)
	if err != nil {
		slog.Error("CopyObject GetBucket (src) error", "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}
	if srcBucketRec == nil {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrNoSuchBucket)
		return
	}

	srcObj, err := h.meta.GetObject(ctx, srcBucket, srcKey)
	if err != nil {
		slog.Error("CopyObject GetObject (src) error", "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}
	if srcObj == nil {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrNoSuchKey)
		return
	}

	directive := strings.ToUpper(r.Header.Get("x-amz-metadata-directive"))
	if directive == "" {
		directive = "COPY"
	}

	// A copy onto itself must change something.
	if srcBucket == dstBucket && srcKey == dstKey && directive != "REPLACE" {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInvalidRequest.WithMessage(
			"This copy request is illegal because it is trying to copy an object to itself without changing the object's metadata, storage class, website redirect location or encryption attributes."))
		return
	}

	if condErr := checkCopySourceConditionals(r, srcObj.ETag, srcObj.LastModified); condErr != nil {
		xmlutil.WriteErrorResponse(w, r, condErr)
		return
	}

	newETag, err := h.store.CopyObject(ctx, srcBucket, srcKey, dstBucket, dstKey)
	if err != nil {
		slog.Error("CopyObject storage error", "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}

	now := time.Now().UTC()
	var dstObj *metadata.ObjectRecord

	if directive == "REPLACE" {
		contentType := r.Header.Get("Content-Type")
		if contentType == "" {
			contentType = "application/octet-stream"
		}

		dstObj = &metadata.ObjectRecord{
			Bucket:                  dstBucket,
			Key:                     dstKey,
			Size:                    srcObj.Size,
			ETag:                    newETag,
			ContentType:             contentType,
			ContentEncoding:         r.Header.Get("Content-Encoding"),
			ContentLanguage:         r.Header.Get("Content-Language"),
			ContentDisposition:      r.Header.Get("Content-Disposition"),
			CacheControl:            r.Header.Get("Cache-Control"),
			Expires:                 r.Header.Get("Expires"),
			StorageClass:            "STANDARD",
			WebsiteRedirectLocation: r.Header.Get("x-amz-website-redirect-location"),
			ACL:                     defaultPrivateACL(h.ownerID, h.ownerDisplay),
			UserMetadata:            extractUserMetadata(r),
			Tags:                    srcObj.Tags,
			LastModified:            now,
		}
	} else {
		dstObj = &metadata.ObjectRecord{
			Bucket:                  dstBucket,
			Key:                     dstKey,
			Size:                    srcObj.Size,
			ETag:                    newETag,
			ContentType:             srcObj.ContentType,
			ContentEncoding:         srcObj.ContentEncoding,
			ContentLanguage:         srcObj.ContentLanguage,
			ContentDisposition:      srcObj.ContentDisposition,
			CacheControl:            srcObj.CacheControl,
			Expires:                 srcObj.Expires,
			StorageClass:            srcObj.StorageClass,
			WebsiteRedirectLocation: srcObj.WebsiteRedirectLocation,
			ACL:                     srcObj.ACL,
			UserMetadata:            srcObj.UserMetadata,
			Tags:                    srcObj.Tags,
			LastModified:            now,
		}
	}

	if err := h.meta.PutObject(ctx, dstObj); err != nil {
		slog.Error("CopyObject metadata error", "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}

	result := &xmlutil.CopyObjectResult{
		LastModified: xmlutil.FormatTimeS3(now),
		ETag:         newETag,
	}
	xmlutil.RenderCopyObject(w, result)

	h.bus.Publish(events.Record{
		EventName: events.ObjectCreatedCopy,
		Bucket:    dstBucket,
		Key:       dstKey,
		Size:      srcObj.Size,
		ETag:      newETag,
	})
}

// parseMaxKeys validates the max-keys query parameter. A missing value
// defaults to 1000; a non-integer or negative value is an error.
func parseMaxKeys(q url.Values) (int, *s3err.S3Error) {
	mk := q.Get("max-keys")
	if mk == "" {
		return 1000, nil
	}
	parsed, err := strconv.Atoi(mk)
	if err != nil || parsed < 0 {
		return 0, s3err.ErrInvalidArgument.WithMessage("Argument max-keys must be an integer between 0 and 2147483647")
	}
	return parsed, nil
}

// ListObjects handles GET /{bucket} and returns a listing of objects in the
// bucket using the V1 API format. NextMarker is surfaced only when a
// delimiter was supplied.
func (h *ObjectHandler) ListObjects(w http.ResponseWriter, r *http.Request, bucketName string) {
	ctx := r.Context()
	q := r.URL.Query()

	if h.ensureBucket(w, r, bucketName) == nil {
		return
	}

	prefix := q.Get("prefix")
	delimiter := q.Get("delimiter")
	marker := q.Get("marker")
	encodingType := q.Get("encoding-type")

	maxKeys, mkErr := parseMaxKeys(q)
	if mkErr != nil {
		xmlutil.WriteErrorResponse(w, r, mkErr)
		return
	}

	opts := metadata.ListObjectsOptions{
		Prefix:    prefix,
		Delimiter: delimiter,
		Marker:    marker,
		MaxKeys:   maxKeys,
	}

	listResult, err := h.meta.ListObjects(ctx, bucketName, opts)
	if err != nil {
		slog.Error("ListObjects error", "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}

	result := &xmlutil.ListBucketResult{
		Name:         bucketName,
		Prefix:       prefix,
		Marker:       marker,
		MaxKeys:      maxKeys,
		EncodingType: encodingType,
		IsTruncated:  listResult.IsTruncated,
	}

	if delimiter != "" {
		result.Delimiter = delimiter
		// V1 surfaces the continuation position only in delimited listings.
		if listResult.IsTruncated {
			result.NextMarker = listResult.NextMarker
		}
	}

	for _, obj := range listResult.Objects {
		result.Contents = append(result.Contents, xmlutil.Object{
			Key:          xmlutil.EncodeKeyURL(obj.Key, encodingType),
			LastModified: xmlutil.FormatTimeS3(obj.LastModified),
			ETag:         obj.ETag,
			Size:         obj.Size,
			StorageClass: obj.StorageClass,
			Owner: &xmlutil.Owner{
				ID:          h.ownerID,
				DisplayName: h.ownerDisplay,
			},
		})
	}

	for _, cp := range listResult.CommonPrefixes {
		result.CommonPrefixes = append(result.CommonPrefixes, xmlutil.CommonPrefix{
			Prefix: xmlutil.EncodeKeyURL(cp, encodingType),
		})
	}

	xmlutil.RenderListObjects(w, result)
}

// ListObjectsV2 handles GET /{bucket}?list-type=2 and returns a listing of
// objects in the bucket using the V2 API format.
func (h *ObjectHandler) ListObjectsV2(w http.ResponseWriter, r *http.Request, bucketName string) {
	ctx := r.Context()
	q := r.URL.Query()

	if h.ensureBucket(w, r, bucketName) == nil {
		return
	}

	prefix := q.Get("prefix")
	delimiter := q.Get("delimiter")
	startAfter := q.Get("start-after")
	continuationToken := q.Get("continuation-token")
	encodingType := q.Get("encoding-type")

	maxKeys, mkErr := parseMaxKeys(q)
	if mkErr != nil {
		xmlutil.WriteErrorResponse(w, r, mkErr)
		return
	}

	opts := metadata.ListObjectsOptions{
		Prefix:            prefix,
		Delimiter:         delimiter,
		StartAfter:        startAfter,
		ContinuationToken: continuationToken,
		MaxKeys:           maxKeys,
	}

	listResult, err := h.meta.ListObjects(ctx, bucketName, opts)
	if err != nil {
		slog.Error("ListObjectsV2 error", "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}

	result := &xmlutil.ListBucketV2Result{
		Name:    bucketName,
		Prefix:  prefix,
		MaxKeys: maxKeys,
		// KeyCount counts both contents and common prefixes.
		KeyCount:          len(listResult.Objects) + len(listResult.CommonPrefixes),
		IsTruncated:       listResult.IsTruncated,
		EncodingType:      encodingType,
		StartAfter:        startAfter,
		ContinuationToken: continuationToken,
	}

	if delimiter != "" {
		result.Delimiter = delimiter
	}

	if listResult.IsTruncated && listResult.NextContinuationToken != "" {
		result.NextContinuationToken = listResult.NextContinuationToken
	}

	for _, obj := range listResult.Objects {
		result.Contents = append(result.Contents, xmlutil.Object{
			Key:          xmlutil.EncodeKeyURL(obj.Key, encodingType),
			LastModified: xmlutil.FormatTimeS3(obj.LastModified),
			ETag:         obj.ETag,
			Size:         obj.Size,
			StorageClass: obj.StorageClass,
		})
	}

	for _, cp := range listResult.CommonPrefixes {
		result.CommonPrefixes = append(result.CommonPrefixes, xmlutil.CommonPrefix{
			Prefix: xmlutil.EncodeKeyURL(cp, encodingType),
		})
	}

	xmlutil.RenderListObjectsV2(w, result)
}

// GetObjectAcl handles GET /{bucket}/{key}?acl.
func (h *ObjectHandler) GetObjectAcl(w http.ResponseWriter, r *http.Request, bucketName, key string) {
	ctx := r.Context()

	if h.ensureBucket(w, r, bucketName) == nil {
		return
	}

	objMeta, err := h.meta.GetObject(ctx, bucketName, key)
	if err != nil {
		slog.Error("GetObjectAcl error", "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}
	if objMeta == nil {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrNoSuchKey)
		return
	}

	acp := aclFromJSON(objMeta.ACL)
	if acp == nil {
		acp = parseCannedACL("private", h.ownerID, h.ownerDisplay)
	}

	acp.Owner = xmlutil.Owner{
		ID:          h.ownerID,
		DisplayName: h.ownerDisplay,
	}

	xmlutil.RenderAccessControlPolicy(w, acp)
}

// PutObjectAcl handles PUT /{bucket}/{key}?acl. The ACL is stored and
// echoed back but not enforced.
func (h *ObjectHandler) PutObjectAcl(w http.ResponseWriter, r *http.Request, bucketName, key string) {
	ctx := r.Context()

	if h.ensureBucket(w, r, bucketName) == nil {
		return
	}

	objMeta, err := h.meta.GetObject(ctx, bucketName, key)
	if err != nil {
		slog.Error("PutObjectAcl GetObject error", "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}
	if objMeta == nil {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrNoSuchKey)
		return
	}

	var acp *xmlutil.AccessControlPolicy

	cannedACL := r.Header.Get("x-amz-acl")
	if cannedACL != "" {
		acp = parseCannedACL(cannedACL, h.ownerID, h.ownerDisplay)
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
		acp = parseCannedACL("private", h.ownerID, h.ownerDisplay)
	}

	if err := h.meta.UpdateObjectAcl(ctx, bucketName, key, aclToJSON(acp)); err != nil {
		slog.Error("PutObjectAcl update error", "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// GetObjectTagging handles GET /{bucket}/{key}?tagging. A tag-less object
// returns an empty TagSet.
func (h *ObjectHandler) GetObjectTagging(w http.ResponseWriter, r *http.Request, bucketName, key string) {
	ctx := r.Context()

	if h.ensureBucket(w, r, bucketName) == nil {
		return
	}

	objMeta, err := h.meta.GetObject(ctx, bucketName, key)
	if err != nil {
		slog.Error("GetObjectTagging error", "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}
	if objMeta == nil {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrNoSuchKey)
		return
	}

	tagging := &xmlutil.Tagging{}
	for _, tag := range objMeta.Tags {
		tagging.TagSet.Tags = append(tagging.TagSet.Tags, xmlutil.Tag{Key: tag.Key, Value: tag.Value})
	}
	xmlutil.RenderTagging(w, tagging)
}

// PutObjectTagging handles PUT /{bucket}/{key}?tagging, replacing the tag
// set. The object's content and ETag are unchanged.
func (h *ObjectHandler) PutObjectTagging(w http.ResponseWriter, r *http.Request, bucketName, key string) {
	ctx := r.Context()

	if h.ensureBucket(w, r, bucketName) == nil {
		return
	}

	objMeta, err := h.meta.GetObject(ctx, bucketName, key)
	if err != nil {
		slog.Error("PutObjectTagging GetObject error", "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}
	if objMeta == nil {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrNoSuchKey)
		return
	}

	var tagging xmlutil.Tagging
	if err := xml.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&tagging); err != nil {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrMalformedXML)
		return
	}

	tags := make([]metadata.Tag, 0, len(tagging.TagSet.Tags))
	for _, tag := range tagging.TagSet.Tags {
		if tag.Key == "" {
			xmlutil.WriteErrorResponse(w, r, s3err.ErrMalformedXML)
			return
		}
		tags = append(tags, metadata.Tag{Key: tag.Key, Value: tag.Value})
	}

	if err := h.meta.UpdateObjectTags(ctx, bucketName, key, tags); err != nil {
		slog.Error("PutObjectTagging update error", "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// DeleteObjectTagging handles DELETE /{bucket}/{key}?tagging.
func (h *ObjectHandler) DeleteObjectTagging(w http.ResponseWriter, r *http.Request, bucketName, key string) {
	ctx := r.Context()

	if h.ensureBucket(w, r, bucketName) == nil {
		return
	}

	objMeta, err := h.meta.GetObject(ctx, bucketName, key)
	if err != nil {
		slog.Error("DeleteObjectTagging GetObject error", "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}
	if objMeta == nil {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrNoSuchKey)
		return
	}

	if err := h.meta.UpdateObjectTags(ctx, bucketName, key, nil); err != nil {
		slog.Error("DeleteObjectTagging update error", "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
