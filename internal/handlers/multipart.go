package handlers

import (
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

// MultipartHandler contains handlers for S3 multipart upload operations.
type MultipartHandler struct {
	meta         metadata.Store
	store        storage.Backend
	bus          *events.Bus
	ownerID      string
	ownerDisplay string
}

// NewMultipartHandler creates a new MultipartHandler with the given dependencies.
func NewMultipartHandler(meta metadata.Store, store storage.Backend, bus *events.Bus, ownerID, ownerDisplay string) *MultipartHandler {
	return &MultipartHandler{
		meta:         meta,
		store:        store,
		bus:          bus,
		ownerID:      ownerID,
		ownerDisplay: ownerDisplay,
	}
}

// CreateMultipartUpload handles POST /{bucket}/{key}?uploads and initiates
// a new multipart upload, returning an upload ID. Content attributes and
// user metadata are staged now and applied to the final object.
func (h *MultipartHandler) CreateMultipartUpload(w http.ResponseWriter, r *http.Request, bucketName, key string) {
	ctx := r.Context()

	if key == "" {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInvalidArgument)
		return
	}

	bucket, err := h.meta.GetBucket(ctx, bucketName)
	if err != nil {
		slog.Error("CreateMultipartUpload GetBucket error", "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}
	if bucket == nil {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrNoSuchBucket)
		return
	}

	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "binary/octet-stream"
	}

	userMeta := extractUserMetadata(r)

	now := time.Now().UTC()

	upload := &metadata.MultipartUploadRecord{
		Bucket:                  bucketName,
		Key:                     key,
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
		OwnerID:                 h.ownerID,
		OwnerDisplay:            h.ownerDisplay,
		InitiatedAt:             now,
	}

	uploadID, err := h.meta.CreateMultipartUpload(ctx, upload)
	if err != nil {
		slog.Error("CreateMultipartUpload metadata error", "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}

	result := &xmlutil.InitiateMultipartUploadResult{
		Bucket:   bucketName,
		Key:      key,
		UploadID: uploadID,
	}
	xmlutil.RenderInitiateMultipartUpload(w, result)
}

// UploadPart handles PUT /{bucket}/{key}?partNumber=N&uploadId=ID and
// uploads a single part. Parts may arrive in any order and may be
// re-uploaded; the latest write wins.
func (h *MultipartHandler) UploadPart(w http.ResponseWriter, r *http.Request, bucketName, key string) {
	ctx := r.Context()
	q := r.URL.Query()

	// UploadPartCopy when X-Amz-Copy-Source is present.
	if r.Header.Get("X-Amz-Copy-Source") != "" {
		h.uploadPartCopy(w, r, bucketName, key, q)
		return
	}

	uploadID := q.Get("uploadId")
	if uploadID == "" {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInvalidArgument)
		return
	}

	partNumber, err := strconv.Atoi(q.Get("partNumber"))
	if err != nil || partNumber < 1 || partNumber > 10000 {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInvalidArgument.WithMessage(
			"Part number must be an integer between 1 and 10000, inclusive"))
		return
	}

	upload, err := h.meta.GetMultipartUpload(ctx, bucketName, key, uploadID)
	if err != nil {
		slog.Error("UploadPart GetMultipartUpload error", "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}
	if upload == nil {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrNoSuchUpload)
		return
	}

	body, declaredLength := requestBody(r)

	etag, partSize, err := h.store.PutPart(ctx, bucketName, key, uploadID, partNumber, body, declaredLength)
	if err != nil {
		slog.Error("UploadPart storage error", "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}

	if md5Err := verifyContentMD5(r.Header.Get("Content-MD5"), etag); md5Err != nil {
		xmlutil.WriteErrorResponse(w, r, md5Err)
		return
	}

	now := time.Now().UTC()

	partRecord := &metadata.PartRecord{
		UploadID:     uploadID,
		PartNumber:   partNumber,
		Size:         partSize,
		ETag:         etag,
		LastModified: now,
	}

	if err := h.meta.PutPart(ctx, partRecord); err != nil {
		slog.Error("UploadPart metadata error", "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}

	w.Header().Set("ETag", etag)
	w.WriteHeader(http.StatusOK)
}

// uploadPartCopy handles PUT /{bucket}/{key}?partNumber=N&uploadId=ID with
// X-Amz-Copy-Source, copying data from an existing object into a part.
func (h *MultipartHandler) uploadPartCopy(w http.ResponseWriter, r *http.Request, bucketName, key string, q url.Values) {
	ctx := r.Context()

	uploadID := q.Get("uploadId")
	if uploadID == "" {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInvalidArgument)
		return
	}

	partNumber, err := strconv.Atoi(q.Get("partNumber"))
	if err != nil || partNumber < 1 || partNumber > 10000 {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInvalidArgument)
		return
	}

	copySource := r.Header.Get("X-Amz-Copy-Source")
	srcBucket, srcKey, ok := parseCopySource(copySource)
	if !ok {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInvalidArgument)
		return
	}

	upload, err := h.meta.GetMultipartUpload(ctx, bucketName, key, uploadID)
	if err != nil {
		slog.Error("UploadPartCopy GetMultipartUpload error", "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}
	if upload == nil {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrNoSuchUpload)
		return
	}

	srcBucketRec, err := h.meta.GetBucket(ctx, srcBucket)
	if err != nil {
		slog.Error("UploadPartCopy GetBucket (src) error", "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}
	if srcBucketRec == nil {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrNoSuchBucket)
		return
	}

	srcObj, err := h.meta.GetObject(ctx, srcBucket, srcKey)
	if err != nil {
		slog.Error("UploadPartCopy GetObject (src) error", "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}
	if srcObj == nil {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrNoSuchKey)
		return
	}

	reader, _, err := h.store.GetObject(ctx, srcBucket, srcKey)
	if err != nil {
		slog.Error("UploadPartCopy storage error", "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}
	defer reader.Close()

	var partReader io.Reader = reader
	if copyRange := r.Header.Get("X-Amz-Copy-Source-Range"); copyRange != "" {
		start, end, rangeErr := parseRange(copyRange, srcObj.Size)
		if rangeErr != nil {
			xmlutil.WriteErrorResponse(w, r, s3err.ErrInvalidRange)
			return
		}

		if seeker, seekOK := reader.(io.ReadSeeker); seekOK {
			if _, seekErr := seeker.Seek(start, io.SeekStart); seekErr != nil {
				slog.Error("UploadPartCopy seek error", "error", seekErr)
				xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
				return
			}
		} else {
			if _, discardErr := io.CopyN(io.Discard, reader, start); discardErr != nil {
				slog.Error("UploadPartCopy discard error", "error", discardErr)
				xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
				return
			}
		}

		partReader = io.LimitReader(reader, end-start+1)
	}

	etag, partSize, err := h.store.PutPart(ctx, bucketName, key, uploadID, partNumber, partReader, -1)
	if err != nil {
		slog.Error("UploadPartCopy PutPart error", "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}

	now := time.Now().UTC()

	partRecord := &metadata.PartRecord{
		UploadID:     uploadID,
		PartNumber:   partNumber,
		Size:         partSize,
		ETag:         etag,
		LastModified: now,
	}

	if err := h.meta.PutPart(ctx, partRecord); err != nil {
		slog.Error("UploadPartCopy metadata error", "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}

	result := &xmlutil.CopyPartResult{
		ETag:         etag,
		LastModified: xmlutil.FormatTimeS3(now),
	}
	xmlutil.RenderCopyPartResult(w, result)
}

// CompleteMultipartUpload handles POST /{bucket}/{key}?uploadId=ID and
// assembles previously uploaded parts, in ascending part-number order, into
// the final object. Every listed part must exist with a matching ETag.
func (h *MultipartHandler) CompleteMultipartUpload(w http.ResponseWriter, r *http.Request, bucketName, key string) {
	ctx := r.Context()
	uploadID := r.URL.Query().Get("uploadId")

	if uploadID == "" {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInvalidArgument)
		return
	}

	upload, err := h.meta.GetMultipartUpload(ctx, bucketName, key, uploadID)
	if err != nil {
		slog.Error("CompleteMultipartUpload GetMultipartUpload error", "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}
	if upload == nil {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrNoSuchUpload)
		return
	}

	parts, err := parseCompleteMultipartXML(r.Body)
	if err != nil {
		slog.Error("CompleteMultipartUpload XML parse error", "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrMalformedXML)
		return
	}

	if len(parts) == 0 {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrMalformedXML)
		return
	}

	// Part list must be strictly ascending by PartNumber.
	for i := 1; i < len(parts); i++ {
		if parts[i].PartNumber <= parts[i-1].PartNumber {
			xmlutil.WriteErrorResponse(w, r, s3err.ErrInvalidPartOrder)
			return
		}
	}

	partNumbers := make([]int, len(parts))
	for i, p := range parts {
		partNumbers[i] = p.PartNumber
	}

	storedParts, err := h.meta.GetPartsForCompletion(ctx, uploadID, partNumbers)
	if err != nil {
		slog.Error("CompleteMultipartUpload GetPartsForCompletion error", "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}

	storedMap := make(map[int]metadata.PartRecord, len(storedParts))
	for _, sp := range storedParts {
		storedMap[sp.PartNumber] = sp
	}

	// Every requested part must exist with a matching ETag, and all parts
	// except the last must meet the minimum part size.
	const minPartSize = 5 * 1024 * 1024 // 5 MiB
	for i, p := range parts {
		stored, ok := storedMap[p.PartNumber]
		if !ok {
			xmlutil.WriteErrorResponse(w, r, s3err.ErrInvalidPart)
			return
		}

		requestedETag := strings.Trim(p.ETag, `"`)
		storedETag := strings.Trim(stored.ETag, `"`)
		if requestedETag != storedETag {
			xmlutil.WriteErrorResponse(w, r, s3err.ErrInvalidPart)
			return
		}
	}
	for i, p := range parts {
		if i < len(parts)-1 && storedMap[p.PartNumber].Size < minPartSize {
			xmlutil.WriteErrorResponse(w, r, s3err.ErrEntityTooSmall)
			return
		}
	}

	compositeETag, err := h.store.AssembleParts(ctx, bucketName, key, uploadID, partNumbers)
	if err != nil {
		slog.Error("CompleteMultipartUpload AssembleParts error", "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}

	var totalSize int64
	for _, p := range parts {
		totalSize += storedMap[p.PartNumber].Size
	}

	now := time.Now().UTC()

	obj := &metadata.ObjectRecord{
		Bucket:                  bucketName,
		Key:                     key,
		Size:                    totalSize,
		ETag:                    compositeETag,
		ContentType:             upload.ContentType,
		ContentEncoding:         upload.ContentEncoding,
		ContentLanguage:         upload.ContentLanguage,
		ContentDisposition:      upload.ContentDisposition,
		CacheControl:            upload.CacheControl,
		Expires:                 upload.Expires,
		StorageClass:            upload.StorageClass,
		WebsiteRedirectLocation: upload.WebsiteRedirectLocation,
		ACL:                     upload.ACL,
		UserMetadata:            upload.UserMetadata,
		LastModified:            now,
	}

	if err := h.meta.CompleteMultipartUpload(ctx, bucketName, key, uploadID, obj); err != nil {
		slog.Error("CompleteMultipartUpload metadata error", "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}

	location := fmt.Sprintf("/%s/%s", bucketName, key)

	result := &xmlutil.CompleteMultipartUploadResult{
		Location: location,
		Bucket:   bucketName,
		Key:      key,
		ETag:     compositeETag,
	}
	xmlutil.RenderCompleteMultipartUpload(w, result)

	h.bus.Publish(events.Record{
		EventName: events.ObjectCreatedCompleteMultipartUpload,
		Bucket:    bucketName,
		Key:       key,
		Size:      totalSize,
		ETag:      compositeETag,
	})
}

// AbortMultipartUpload handles DELETE /{bucket}/{key}?uploadId=ID and
// discards staged parts.
func (h *MultipartHandler) AbortMultipartUpload(w http.ResponseWriter, r *http.Request, bucketName, key string) {
	ctx := r.Context()
	uploadID := r.URL.Query().Get("uploadId")

	if uploadID == "" {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInvalidArgument)
		return
	}

	upload, err := h.meta.GetMultipartUpload(ctx, bucketName, key, uploadID)
	if err != nil {
		slog.Error("AbortMultipartUpload GetMultipartUpload error", "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}
	if upload == nil {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrNoSuchUpload)
		return
	}

	if err := h.store.DeleteParts(ctx, bucketName, key, uploadID); err != nil {
		slog.Error("AbortMultipartUpload storage error", "error", err)
		// Metadata deletion is authoritative.
	}

	if err := h.meta.AbortMultipartUpload(ctx, bucketName, key, uploadID); err != nil {
		if strings.Contains(err.Error(), "not found") {
			xmlutil.WriteErrorResponse(w, r, s3err.ErrNoSuchUpload)
			return
		}
		slog.Error("AbortMultipartUpload metadata error", "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListMultipartUploads handles GET /{bucket}?uploads.
func (h *MultipartHandler) ListMultipartUploads(w http.ResponseWriter, r *http.Request, bucketName string) {
	ctx := r.Context()
	q := r.URL.Query()

	bucket, err := h.meta.GetBucket(ctx, bucketName)
	if err != nil {
		slog.Error("ListMultipartUploads GetBucket error", "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}
	if bucket == nil {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrNoSuchBucket)
		return
	}

	prefix := q.Get("prefix")
	delimiter := q.Get("delimiter")
	keyMarker := q.Get("key-marker")
	uploadIDMarker := q.Get("upload-id-marker")

	maxUploads := 1000
	if mu := q.Get("max-uploads"); mu != "" {
		if parsed, parseErr := strconv.Atoi(mu); parseErr == nil && parsed >= 0 {
			maxUploads = parsed
		}
	}

	opts := metadata.ListUploadsOptions{
		KeyMarker:      keyMarker,
		UploadIDMarker: uploadIDMarker,
		Prefix:         prefix,
		Delimiter:      delimiter,
		MaxUploads:     maxUploads,
	}

	listResult, err := h.meta.ListMultipartUploads(ctx, bucketName, opts)
	if err != nil {
		slog.Error("ListMultipartUploads error", "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}

	result := &xmlutil.ListMultipartUploadsResult{
		Bucket:             bucketName,
		KeyMarker:          keyMarker,
		UploadIDMarker:     uploadIDMarker,
		MaxUploads:         maxUploads,
		IsTruncated:        listResult.IsTruncated,
		NextKeyMarker:      listResult.NextKeyMarker,
		NextUploadIDMarker: listResult.NextUploadIDMarker,
	}

	for _, u := range listResult.Uploads {
		result.Uploads = append(result.Uploads, xmlutil.Upload{
			Key:      u.Key,
			UploadID: u.UploadID,
			Initiator: xmlutil.Owner{
				ID:          u.OwnerID,
				DisplayName: u.OwnerDisplay,
			},
			Owner: xmlutil.Owner{
				ID:          u.OwnerID,
				DisplayName: u.OwnerDisplay,
			},
			Initiated: xmlutil.FormatTimeS3(u.InitiatedAt),
		})
	}

	for _, cp := range listResult.CommonPrefixes {
		result.CommonPrefixes = append(result.CommonPrefixes, xmlutil.CommonPrefix{
			Prefix: cp,
		})
	}

	xmlutil.RenderListMultipartUploads(w, result)
}

// ListParts handles GET /{bucket}/{key}?uploadId=ID.
func (h *MultipartHandler) ListParts(w http.ResponseWriter, r *http.Request, bucketName, key string) {
	ctx := r.Context()
	q := r.URL.Query()

	uploadID := q.Get("uploadId")
	if uploadID == "" {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInvalidArgument)
		return
	}

	upload, err := h.meta.GetMultipartUpload(ctx, bucketName, key, uploadID)
	if err != nil {
		slog.Error("ListParts GetMultipartUpload error", "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}
	if upload == nil {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrNoSuchUpload)
		return
	}

	partNumberMarker := 0
	if pm := q.Get("part-number-marker"); pm != "" {
		if parsed, parseErr := strconv.Atoi(pm); parseErr == nil {
			partNumberMarker = parsed
		}
	}

	maxParts := 1000
	if mp := q.Get("max-parts"); mp != "" {
		if parsed, parseErr := strconv.Atoi(mp); parseErr == nil && parsed >= 0 {
			maxParts = parsed
		}
	}

	opts := metadata.ListPartsOptions{
		PartNumberMarker: partNumberMarker,
		MaxParts:         maxParts,
	}

	listResult, err := h.meta.ListParts(ctx, uploadID, opts)
	if err != nil {
		slog.Error("ListParts error", "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}

	result := &xmlutil.ListPartsResult{
		Bucket:               bucketName,
		Key:                  key,
		UploadID:             uploadID,
		PartNumberMarker:     partNumberMarker,
		NextPartNumberMarker: listResult.NextPartNumberMarker,
		MaxParts:             maxParts,
		IsTruncated:          listResult.IsTruncated,
	}

	for _, p := range listResult.Parts {
		result.Parts = append(result.Parts, xmlutil.Part{
			PartNumber:   p.PartNumber,
			LastModified: xmlutil.FormatTimeS3(p.LastModified),
			ETag:         p.ETag,
			Size:         p.Size,
		})
	}

	xmlutil.RenderListParts(w, result)
}
