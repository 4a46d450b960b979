package handlers

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	s3err "github.com/shamstore/shamstore/internal/errors"
	"github.com/shamstore/shamstore/internal/events"
	"github.com/shamstore/shamstore/internal/metadata"
	"github.com/shamstore/shamstore/internal/xmlutil"
)

// postMemoryLimit is the in-memory buffer for multipart/form-data parsing;
// larger file parts spill to disk.
const postMemoryLimit = 32 << 20

// PostObject handles POST /{bucket} with multipart/form-data, the
// browser-based form upload. The key field supports ${filename}
// substitution from the uploaded file's name, and success_action_status
// selects the response status (201 by default, with an XML body).
func (h *ObjectHandler) PostObject(w http.ResponseWriter, r *http.Request, bucketName string) {
	ctx := r.Context()

	if h.ensureBucket(w, r, bucketName) == nil {
		return
	}

	if err := r.ParseMultipartForm(postMemoryLimit); err != nil {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrMalformedXML.WithMessage("The body of your POST request is not well-formed multipart/form-data."))
		return
	}
	defer r.MultipartForm.RemoveAll()

	formValue := func(name string) string {
		if vals := r.MultipartForm.Value[name]; len(vals) > 0 {
			return vals[0]
		}
		return ""
	}

	key := formValue("key")
	if key == "" {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInvalidArgument.WithMessage(
			"Bucket POST must contain a field named 'key'. If it is specified, please check the order of the fields."))
		return
	}

	fileHeaders := r.MultipartForm.File["file"]
	if len(fileHeaders) == 0 {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInvalidArgument.WithMessage(
			"POST requires exactly one file upload per request."))
		return
	}
	fileHeader := fileHeaders[0]

	key = strings.ReplaceAll(key, "${filename}", fileHeader.Filename)
	if len(key) > 1024 {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrKeyTooLongError)
		return
	}

	contentType := fileHeader.Header.Get("Content-Type")
	if ct := formValue("Content-Type"); ct != "" {
		contentType = ct
	}
	if contentType == "" {
		contentType = "binary/octet-stream"
	}

	// Collect x-amz-meta-* form fields as user metadata.
	var userMeta map[string]string
	for name, vals := range r.MultipartForm.Value {
		lower := strings.ToLower(name)
		if strings.HasPrefix(lower, "x-amz-meta-") && len(vals) > 0 {
			if userMeta == nil {
				userMeta = make(map[string]string)
			}
			userMeta[lower[len("x-amz-meta-"):]] = vals[0]
		}
	}

	file, err := fileHeader.Open()
	if err != nil {
		slog.Error("PostObject file open error", "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}
	defer file.Close()

	bytesWritten, etag, err := h.store.PutObject(ctx, bucketName, key, file, fileHeader.Size)
	if err != nil {
		slog.Error("PostObject storage error", "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}

	now := time.Now().UTC()
	objRecord := &metadata.ObjectRecord{
		Bucket:                  bucketName,
		Key:                     key,
		Size:                    bytesWritten,
		ETag:                    etag,
		ContentType:             contentType,
		StorageClass:            "STANDARD",
		WebsiteRedirectLocation: formValue("x-amz-website-redirect-location"),
		ACL:                     defaultPrivateACL(h.ownerID, h.ownerDisplay),
		UserMetadata:            userMeta,
		Tags:                    parseTaggingHeader(formValue("x-amz-tagging")),
		LastModified:            now,
	}

	if err := h.meta.PutObject(ctx, objRecord); err != nil {
		slog.Error("PostObject metadata error", "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}

	w.Header().Set("ETag", etag)

	location := fmt.Sprintf("/%s/%s", bucketName, key)
	w.Header().Set("Location", location)

	switch formValue("success_action_status") {
	case "200":
		w.WriteHeader(http.StatusOK)
	case "204":
		w.WriteHeader(http.StatusNoContent)
	default:
		xmlutil.RenderPostResponse(w, http.StatusCreated, &xmlutil.PostResponse{
			Location: location,
			Bucket:   bucketName,
			Key:      key,
			ETag:     etag,
		})
	}

	h.bus.Publish(events.Record{
		EventName: events.ObjectCreatedPost,
		Bucket:    bucketName,
		Key:       key,
		Size:      bytesWritten,
		ETag:      etag,
	})
}
