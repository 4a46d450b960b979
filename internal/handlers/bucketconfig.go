package handlers

import (
	"encoding/xml"
	"io"
	"log/slog"
	"net/http"

	"github.com/shamstore/shamstore/internal/cors"
	s3err "github.com/shamstore/shamstore/internal/errors"
	"github.com/shamstore/shamstore/internal/metadata"
	"github.com/shamstore/shamstore/internal/storage"
	"github.com/shamstore/shamstore/internal/website"
	"github.com/shamstore/shamstore/internal/xmlutil"
)

// configBodyLimit caps bucket configuration documents at 1 MB.
const configBodyLimit = 1 << 20

// ConfigHandler serves the bucket configuration sub-resources: ?cors,
// ?website, ?policy, ?lifecycle, and ?tagging. Configurations are stored
// as raw XML blobs and returned verbatim; CORS and website documents are
// validated on PUT.
type ConfigHandler struct {
	meta  metadata.Store
	store storage.Backend
}

// NewConfigHandler creates a ConfigHandler over the given stores.
func NewConfigHandler(meta metadata.Store, store storage.Backend) *ConfigHandler {
	return &ConfigHandler{meta: meta, store: store}
}

// ensureBucket fetches the bucket record, writing NoSuchBucket or
// InternalError when it cannot be served. Returns nil when handled.
func (h *ConfigHandler) ensureBucket(w http.ResponseWriter, r *http.Request, bucketName string) *metadata.BucketRecord {
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

// GetConfig handles GET /{bucket}?{kind}, returning the stored blob
// verbatim or the kind's NoSuch… error.
func (h *ConfigHandler) GetConfig(w http.ResponseWriter, r *http.Request, bucketName, kind string) {
	if h.ensureBucket(w, r, bucketName) == nil {
		return
	}

	blob, err := h.meta.GetBucketConfig(r.Context(), bucketName, kind)
	if err != nil {
		slog.Error("GetBucketConfig error", "kind", kind, "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}
	if blob == nil {
		xmlutil.WriteErrorResponse(w, r, s3err.ConfigError(kind))
		return
	}

	if kind == metadata.ConfigPolicy {
		// Bucket policies are JSON documents, stored and returned verbatim.
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(blob)
		return
	}

	xmlutil.RenderRaw(w, http.StatusOK, blob)
}

// PutConfig handles PUT /{bucket}?{kind}. CORS and website documents are
// validated before storage; policy and lifecycle blobs are stored opaquely.
func (h *ConfigHandler) PutConfig(w http.ResponseWriter, r *http.Request, bucketName, kind string) {
	if h.ensureBucket(w, r, bucketName) == nil {
		return
	}

	blob, err := io.ReadAll(io.LimitReader(r.Body, configBodyLimit))
	if err != nil {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}
	if len(blob) == 0 {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrMissingRequestBodyError)
		return
	}

	if validationErr := ValidateConfig(kind, blob); validationErr != nil {
		xmlutil.WriteErrorResponse(w, r, validationErr)
		return
	}

	if err := h.meta.PutBucketConfig(r.Context(), bucketName, kind, blob); err != nil {
		slog.Error("PutBucketConfig error", "kind", kind, "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// DeleteConfig handles DELETE /{bucket}?{kind}. Removing an unset
// configuration still succeeds with 204.
func (h *ConfigHandler) DeleteConfig(w http.ResponseWriter, r *http.Request, bucketName, kind string) {
	if h.ensureBucket(w, r, bucketName) == nil {
		return
	}

	if err := h.meta.DeleteBucketConfig(r.Context(), bucketName, kind); err != nil {
		slog.Error("DeleteBucketConfig error", "kind", kind, "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ValidateConfig checks a configuration blob before it is stored. It is
// exported so startup preconfiguration validates with the same rules the
// PUT path uses.
func ValidateConfig(kind string, blob []byte) *s3err.S3Error {
	switch kind {
	case metadata.ConfigCORS:
		_, err := cors.Parse(blob)
		return err
	case metadata.ConfigWebsite:
		_, err := website.Parse(blob)
		return err
	case metadata.ConfigTagging:
		var tagging xmlutil.Tagging
		if xmlErr := xml.Unmarshal(blob, &tagging); xmlErr != nil {
			return s3err.ErrMalformedXML
		}
		for _, tag := range tagging.TagSet.Tags {
			if tag.Key == "" {
				return s3err.ErrMalformedXML
			}
		}
		return nil
	default:
		// Policy and lifecycle blobs are stored opaquely.
		return nil
	}
}

// SniffConfigKind identifies the configuration kind of a raw XML document
// by its root element. Startup preconfiguration uses it to route the
// configs of configure_buckets entries.
func SniffConfigKind(blob []byte) string {
	var probe struct {
		XMLName xml.Name
	}
	if err := xml.Unmarshal(blob, &probe); err != nil {
		return ""
	}
	switch probe.XMLName.Local {
	case "CORSConfiguration":
		return metadata.ConfigCORS
	case "WebsiteConfiguration":
		return metadata.ConfigWebsite
	case "LifecycleConfiguration":
		return metadata.ConfigLifecycle
	case "Tagging":
		return metadata.ConfigTagging
	default:
		return ""
	}
}
