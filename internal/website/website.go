// Package website implements the static-website hosting engine: parsing and
// validating the bucket website configuration, resolving index and error
// documents, and applying conditional routing rules. Requests arriving via
// the website endpoint receive HTML error pages; SDK requests to the same
// bucket keep their XML envelopes.
package website

import (
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	s3err "github.com/shamstore/shamstore/internal/errors"
	"github.com/shamstore/shamstore/internal/metadata"
	"github.com/shamstore/shamstore/internal/storage"
	"github.com/shamstore/shamstore/internal/xmlutil"
)

// Condition is the optional condition of a routing rule.
type Condition struct {
	KeyPrefixEquals             string
	HTTPErrorCodeReturnedEquals int
}

// Redirect describes where a routing rule sends the request.
type Redirect struct {
	Protocol             string
	HostName             string
	ReplaceKeyPrefixWith string
	ReplaceKeyWith       string
	HTTPRedirectCode     int
}

// RoutingRule is one conditional redirect of a website configuration.
type RoutingRule struct {
	Condition *Condition
	Redirect  Redirect
}

// Config is a validated website configuration.
type Config struct {
	IndexSuffix  string
	ErrorKey     string
	RedirectAll  *Redirect
	RoutingRules []RoutingRule
}

// Parse decodes and validates a website configuration XML document.
func Parse(blob []byte) (*Config, *s3err.S3Error) {
	var doc xmlutil.WebsiteConfiguration
	if err := xml.Unmarshal(blob, &doc); err != nil {
		return nil, s3err.ErrMalformedXML
	}

	cfg := &Config{}

	if doc.RedirectAllRequestsTo != nil {
		if doc.RedirectAllRequestsTo.HostName == "" {
			return nil, s3err.ErrMalformedXML
		}
		if p := doc.RedirectAllRequestsTo.Protocol; p != "" && p != "http" && p != "https" {
			return nil, s3err.ErrInvalidRequest.WithMessage("Invalid protocol, protocol can be http or https. If not defined the protocol will be selected automatically.")
		}
		cfg.RedirectAll = &Redirect{
			HostName: doc.RedirectAllRequestsTo.HostName,
			Protocol: doc.RedirectAllRequestsTo.Protocol,
		}
		return cfg, nil
	}

	if doc.IndexDocument == nil || doc.IndexDocument.Suffix == "" {
		return nil, s3err.ErrMalformedXML
	}
	if strings.Contains(doc.IndexDocument.Suffix, "/") {
		return nil, s3err.ErrInvalidRequest.WithMessage("The IndexDocument Suffix is not well formed")
	}
	cfg.IndexSuffix = doc.IndexDocument.Suffix

	if doc.ErrorDocument != nil {
		if doc.ErrorDocument.Key == "" {
			return nil, s3err.ErrMalformedXML
		}
		cfg.ErrorKey = doc.ErrorDocument.Key
	}

	for _, raw := range doc.RoutingRules {
		var rule RoutingRule

		if raw.Condition != nil {
			if raw.Condition.KeyPrefixEquals == "" && raw.Condition.HTTPErrorCodeReturnedEquals == "" {
				return nil, s3err.ErrInvalidRequest.WithMessage("Condition must have at least one child element")
			}
			cond := &Condition{KeyPrefixEquals: raw.Condition.KeyPrefixEquals}
			if raw.Condition.HTTPErrorCodeReturnedEquals != "" {
				code, err := strconv.Atoi(raw.Condition.HTTPErrorCodeReturnedEquals)
				if err != nil || code < 400 || code > 599 {
					return nil, s3err.ErrInvalidRequest.WithMessage("The provided HTTP error code is not valid. It should be a value between 400 and 599.")
				}
				cond.HTTPErrorCodeReturnedEquals = code
			}
			rule.Condition = cond
		}

		if raw.Redirect.ReplaceKeyWith != "" && raw.Redirect.ReplaceKeyPrefixWith != "" {
			return nil, s3err.ErrInvalidRequest.WithMessage("You can only define ReplaceKeyPrefix or ReplaceKey but not both.")
		}
		if p := raw.Redirect.Protocol; p != "" && p != "http" && p != "https" {
			return nil, s3err.ErrInvalidRequest.WithMessage("Invalid protocol, protocol can be http or https. If not defined the protocol will be selected automatically.")
		}
		rule.Redirect = Redirect{
			Protocol:             raw.Redirect.Protocol,
			HostName:             raw.Redirect.HostName,
			ReplaceKeyPrefixWith: raw.Redirect.ReplaceKeyPrefixWith,
			ReplaceKeyWith:       raw.Redirect.ReplaceKeyWith,
		}
		if raw.Redirect.HTTPRedirectCode != "" {
			code, err := strconv.Atoi(raw.Redirect.HTTPRedirectCode)
			if err != nil || code < 300 || code > 399 {
				return nil, s3err.ErrInvalidRequest.WithMessage("The provided HTTP redirect code is not valid. It should be a value between 300 and 399.")
			}
			rule.Redirect.HTTPRedirectCode = code
		}

		cfg.RoutingRules = append(cfg.RoutingRules, rule)
	}

	return cfg, nil
}

// MatchRule finds the first routing rule whose condition matches the given
// key and would-be error status (0 when no error has occurred yet).
func (c *Config) MatchRule(key string, errCode int) *RoutingRule {
	for i := range c.RoutingRules {
		rule := &c.RoutingRules[i]
		cond := rule.Condition
		if cond == nil {
			return rule
		}
		if cond.KeyPrefixEquals != "" && !strings.HasPrefix(key, cond.KeyPrefixEquals) {
			continue
		}
		if cond.HTTPErrorCodeReturnedEquals != 0 && cond.HTTPErrorCodeReturnedEquals != errCode {
			continue
		}
		return rule
	}
	return nil
}

// RedirectLocation builds the Location for a matched rule: protocol and
// host default to the request's, and the key is transformed per the rule.
// pathPrefix carries the "bucket/" segment for path-style requests served
// on the request's own host; virtual-hosted requests pass "".
func (r *RoutingRule) RedirectLocation(reqProto, reqHost, pathPrefix, key string) string {
	proto := r.Redirect.Protocol
	if proto == "" {
		proto = reqProto
	}
	host := r.Redirect.HostName
	if host == "" {
		host = reqHost
	} else {
		// A foreign host gets the bare transformed key.
		pathPrefix = ""
	}

	transformed := key
	if r.Redirect.ReplaceKeyWith != "" {
		transformed = r.Redirect.ReplaceKeyWith
	} else if r.Redirect.ReplaceKeyPrefixWith != "" || r.Condition != nil && r.Condition.KeyPrefixEquals != "" {
		prefix := ""
		if r.Condition != nil {
			prefix = r.Condition.KeyPrefixEquals
		}
		transformed = r.Redirect.ReplaceKeyPrefixWith + strings.TrimPrefix(key, prefix)
	}

	return fmt.Sprintf("%s://%s/%s%s", proto, host, pathPrefix, transformed)
}

// StatusCode returns the redirect status of a matched rule, defaulting to 301.
func (r *RoutingRule) StatusCode() int {
	if r.Redirect.HTTPRedirectCode != 0 {
		return r.Redirect.HTTPRedirectCode
	}
	return http.StatusMovedPermanently
}

// Handler serves bucket content through the website endpoint.
type Handler struct {
	meta  metadata.Store
	store storage.Backend
}

// NewHandler creates a website Handler over the given stores.
func NewHandler(meta metadata.Store, store storage.Backend) *Handler {
	return &Handler{meta: meta, store: store}
}

// requestProto reports the scheme the client used.
func requestProto(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		return proto
	}
	return "http"
}

// Serve handles a GET or HEAD against the website endpoint for the given
// bucket and key. vhost controls whether redirect locations include the
// bucket path segment.
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request, bucket, key string, vhost bool) {
	ctx := r.Context()

	bucketRec, err := h.meta.GetBucket(ctx, bucket)
	if err != nil {
		slog.Error("website GetBucket error", "error", err)
		renderHTMLError(w, http.StatusInternalServerError, "InternalError", "We encountered an internal error. Please try again.", "")
		return
	}
	if bucketRec == nil {
		renderHTMLError(w, http.StatusNotFound, "NoSuchBucket", "The specified bucket does not exist", bucket)
		return
	}

	blob, err := h.meta.GetBucketConfig(ctx, bucket, metadata.ConfigWebsite)
	if err != nil {
		slog.Error("website GetBucketConfig error", "error", err)
		renderHTMLError(w, http.StatusInternalServerError, "InternalError", "We encountered an internal error. Please try again.", "")
		return
	}
	if blob == nil {
		renderHTMLError(w, http.StatusNotFound, "NoSuchWebsiteConfiguration", "The specified bucket does not have a website configuration", bucket)
		return
	}

	cfg, parseErr := Parse(blob)
	if parseErr != nil {
		slog.Error("website config invalid", "bucket", bucket, "error", parseErr)
		renderHTMLError(w, http.StatusInternalServerError, "InternalError", "We encountered an internal error. Please try again.", "")
		return
	}

	if cfg.RedirectAll != nil {
		proto := cfg.RedirectAll.Protocol
		if proto == "" {
			proto = requestProto(r)
		}
		w.Header().Set("Location", fmt.Sprintf("%s://%s/%s", proto, cfg.RedirectAll.HostName, key))
		w.WriteHeader(http.StatusMovedPermanently)
		return
	}

	// Resolve the target key: a trailing slash (or the bucket root) serves
	// the index document of that prefix.
	target := key
	if target == "" || strings.HasSuffix(target, "/") {
		target += cfg.IndexSuffix
	}

	obj, err := h.meta.GetObject(ctx, bucket, target)
	if err != nil {
		slog.Error("website GetObject error", "error", err)
		renderHTMLError(w, http.StatusInternalServerError, "InternalError", "We encountered an internal error. Please try again.", "")
		return
	}

	if obj == nil && target == key {
		// Directory-like prefix: redirect "prefix" to "prefix/" when the
		// index document exists underneath it.
		idx, idxErr := h.meta.GetObject(ctx, bucket, key+"/"+cfg.IndexSuffix)
		if idxErr == nil && idx != nil {
			location := "/" + key + "/"
			if !vhost {
				location = "/" + bucket + location
			}
			w.Header().Set("Location", location)
			w.WriteHeader(http.StatusFound)
			return
		}
	}

	if obj != nil {
		if obj.WebsiteRedirectLocation != "" {
			w.Header().Set("Location", obj.WebsiteRedirectLocation)
			w.WriteHeader(http.StatusMovedPermanently)
			return
		}
		h.streamObject(w, r, bucket, target, obj, http.StatusOK, "")
		return
	}

	// The request is about to fail with 404; give routing rules a chance
	// to shape the response first.
	if rule := cfg.MatchRule(key, http.StatusNotFound); rule != nil {
		pathPrefix := ""
		if !vhost {
			pathPrefix = bucket + "/"
		}
		location := rule.RedirectLocation(requestProto(r), r.Host, pathPrefix, key)
		w.Header().Set("Location", location)
		w.WriteHeader(rule.StatusCode())
		return
	}

	// Error document, if configured and present.
	if cfg.ErrorKey != "" {
		errObj, errObjErr := h.meta.GetObject(ctx, bucket, cfg.ErrorKey)
		if errObjErr == nil && errObj != nil {
			if errObj.WebsiteRedirectLocation != "" {
				w.Header().Set("Location", errObj.WebsiteRedirectLocation)
				w.WriteHeader(http.StatusMovedPermanently)
				return
			}
			h.streamObject(w, r, bucket, cfg.ErrorKey, errObj, http.StatusNotFound, "text/html; charset=utf-8")
			return
		}
	}

	renderHTMLError(w, http.StatusNotFound, "NoSuchKey", "The specified key does not exist.", target)
}

// streamObject writes an object body with the given status. contentType
// overrides the stored content type when non-empty.
func (h *Handler) streamObject(w http.ResponseWriter, r *http.Request, bucket, key string, obj *metadata.ObjectRecord, status int, contentType string) {
	reader, _, err := h.store.GetObject(r.Context(), bucket, key)
	if err != nil {
		slog.Error("website storage error", "error", err)
		renderHTMLError(w, http.StatusInternalServerError, "InternalError", "We encountered an internal error. Please try again.", "")
		return
	}
	defer reader.Close()

	ct := obj.ContentType
	if contentType != "" {
		ct = contentType
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("ETag", obj.ETag)
	w.Header().Set("Last-Modified", xmlutil.FormatTimeHTTP(obj.LastModified))
	w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	w.WriteHeader(status)

	if r.Method != http.MethodHead {
		io.Copy(w, reader)
	}
}

// renderHTMLError writes the S3 website-style HTML error page.
func renderHTMLError(w http.ResponseWriter, status int, code, message, key string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)

	var sb strings.Builder
	sb.WriteString("<html>\n<head><title>")
	sb.WriteString(http.StatusText(status))
	sb.WriteString("</title></head>\n<body>\n")
	sb.WriteString(fmt.Sprintf("<h1>%d %s</h1>\n<ul>\n", status, http.StatusText(status)))
	sb.WriteString("<li>Code: " + code + "</li>\n")
	sb.WriteString("<li>Message: " + message + "</li>\n")
	if key != "" {
		sb.WriteString("<li>Key: " + key + "</li>\n")
	}
	sb.WriteString("</ul>\n<hr/>\n</body>\n</html>\n")
	io.WriteString(w, sb.String())
}
