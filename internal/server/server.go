// Package server implements the Shamstore HTTP server and S3-compatible
// route multiplexer.
package server

import (
	"context"
	"mime"
	"net"
	"net/http"
	"strings"

	"github.com/shamstore/shamstore/internal/auth"
	"github.com/shamstore/shamstore/internal/config"
	"github.com/shamstore/shamstore/internal/cors"
	s3err "github.com/shamstore/shamstore/internal/errors"
	"github.com/shamstore/shamstore/internal/events"
	"github.com/shamstore/shamstore/internal/handlers"
	"github.com/shamstore/shamstore/internal/metadata"
	"github.com/shamstore/shamstore/internal/metrics"
	"github.com/shamstore/shamstore/internal/storage"
	"github.com/shamstore/shamstore/internal/website"
	"github.com/shamstore/shamstore/internal/xmlutil"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server is the Shamstore HTTP server. It routes incoming requests to the
// appropriate S3-compatible handler based on the resolved addressing,
// request method, and sub-resource query parameters.
type Server struct {
	cfg        *config.Config
	router     chi.Router
	api        huma.API
	meta       metadata.Store
	store      storage.Backend
	bus        *events.Bus
	verifier   *auth.Verifier
	bucket     *handlers.BucketHandler
	object     *handlers.ObjectHandler
	multi      *handlers.MultipartHandler
	bucketCfg  *handlers.ConfigHandler
	site       *website.Handler
	httpServer *http.Server
	listener   net.Listener
	stopEvents func()
}

// HealthBody is the JSON body returned by the health check endpoint.
type HealthBody struct {
	Status string `json:"status" example:"ok" doc:"Health status"`
}

// HealthOutput is the Huma output struct for the health check endpoint.
type HealthOutput struct {
	Body HealthBody
}

// New creates a new Server over the given stores and event bus and wires up
// all S3-compatible routes on the Chi router with the Huma API surface.
func New(cfg *config.Config, meta metadata.Store, store storage.Backend, bus *events.Bus) (*Server, error) {
	router := chi.NewMux()

	humaConfig := huma.DefaultConfig("Shamstore S3 API", "1.0.0")
	humaConfig.DocsPath = "/docs"
	humaConfig.OpenAPIPath = "/openapi"
	api := humachi.New(router, humaConfig)

	s := &Server{
		cfg:    cfg,
		router: router,
		api:    api,
		meta:   meta,
		store:  store,
		bus:    bus,
	}

	ownerID := cfg.Auth.AccessKey
	ownerDisplay := cfg.Auth.AccessKey
	region := cfg.Server.Region

	s.verifier = auth.NewVerifier(cfg.Auth.AccessKey, cfg.Auth.SecretKey, region, cfg.Auth.AllowMismatchedSignatures)

	s.bucket = handlers.NewBucketHandler(meta, store, ownerID, ownerDisplay, region)
	s.object = handlers.NewObjectHandler(meta, store, bus, ownerID, ownerDisplay)
	s.multi = handlers.NewMultipartHandler(meta, store, bus, ownerID, ownerDisplay)
	s.bucketCfg = handlers.NewConfigHandler(meta, store)
	s.site = website.NewHandler(meta, store)

	// Count published notifications so /metrics reflects bus activity.
	ch, cancel := bus.Subscribe()
	s.stopEvents = cancel
	go func() {
		for rec := range ch {
			metrics.EventsPublishedTotal.WithLabelValues(rec.EventName).Inc()
		}
	}()

	s.registerRoutes()
	return s, nil
}

// Handler returns the fully wrapped HTTP handler. The middleware chain is
// metrics -> commonHeaders -> transferEncodingCheck -> routing -> auth ->
// metadataHeader -> router.
func (s *Server) Handler() http.Handler {
	var handler http.Handler = s.router
	// Rewrite x-amz-meta-* headers to lowercase (must be innermost wrapper).
	handler = metadataHeaderMiddleware(handler)
	handler = auth.Middleware(s.verifier, s.vhostBucket)(handler)
	handler = s.routingMiddleware(handler)
	handler = transferEncodingCheck(handler)
	handler = commonHeaders(handler)
	handler = metricsMiddleware(handler)

	if base := s.cfg.Server.BasePath; base != "" && base != "/" {
		handler = http.StripPrefix(strings.TrimSuffix(base, "/"), handler)
	}
	return handler
}

// ListenAndServe starts the HTTP server on the given address. A port of 0
// binds an ephemeral port; Addr reports the bound address.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.httpServer = &http.Server{Handler: s.Handler()}
	return s.httpServer.Serve(ln)
}

// Addr returns the bound listen address, or "" before ListenAndServe.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown gracefully shuts down the HTTP server, waiting for in-flight
// requests to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.stopEvents != nil {
		s.stopEvents()
	}
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// registerRoutes configures all routes on the Chi router.
// Huma routes (/health, /docs, /openapi.json) and /metrics are registered
// first; the S3 catch-all /* matches everything else.
func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns the health status of the Shamstore server.",
		Tags:        []string{"System"},
	}, func(ctx context.Context, input *struct{}) (*HealthOutput, error) {
		return &HealthOutput{Body: HealthBody{Status: "ok"}}, nil
	})

	s.router.Head("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
	})

	s.router.Handle("/metrics", promhttp.Handler())

	// S3 catch-all: all remaining requests go through the dispatch function.
	// Chi matches the more specific routes above first.
	s.router.HandleFunc("/*", s.dispatch)
	s.router.HandleFunc("/", s.dispatch)
}

// corsConfig loads and parses the bucket's CORS configuration, or nil.
func (s *Server) corsConfig(r *http.Request, bucket string) *cors.Config {
	if bucket == "" {
		return nil
	}
	blob, err := s.meta.GetBucketConfig(r.Context(), bucket, metadata.ConfigCORS)
	if err != nil || blob == nil {
		return nil
	}
	cfg, parseErr := cors.Parse(blob)
	if parseErr != nil {
		return nil
	}
	return cfg
}

// dispatch is the main request dispatcher. It reads the addressing resolved
// by the routing middleware and routes by HTTP method and query parameters.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressingFromContext(r.Context())
	if !ok {
		addr = s.ResolveAddressing(r)
	}
	bucket, key := addr.Bucket, addr.Key
	q := r.URL.Query()

	// Preflight requests are answered by the CORS engine alone.
	if r.Method == http.MethodOptions {
		s.corsConfig(r, bucket).Preflight(w, r)
		return
	}

	// Simple cross-origin requests get response augmentation before the
	// operation handler writes anything.
	if origin := r.Header.Get("Origin"); origin != "" && bucket != "" {
		if cfg := s.corsConfig(r, bucket); cfg != nil {
			cfg.Apply(w, r, r.Header.Get("Range") != "")
		}
	}

	// Website-endpoint requests are shaped by the website engine, with
	// HTML error pages instead of XML envelopes.
	if addr.Website {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			xmlutil.WriteErrorResponse(w, r, s3err.ErrMethodNotAllowed)
			return
		}
		if bucket == "" {
			xmlutil.WriteErrorResponse(w, r, s3err.ErrInvalidRequest)
			return
		}
		s.site.Serve(w, r, bucket, key, addr.Style != PathStyle)
		return
	}

	// Service-level operations (no bucket).
	if bucket == "" {
		switch r.Method {
		case http.MethodGet:
			s.bucket.ListBuckets(w, r)
		default:
			xmlutil.WriteErrorResponse(w, r, s3err.ErrNotImplemented)
		}
		return
	}

	// Object-level operations (bucket + key).
	if key != "" {
		switch r.Method {
		case http.MethodPut:
			switch {
			case q.Has("partNumber") && q.Has("uploadId"):
				s.multi.UploadPart(w, r, bucket, key)
			case r.Header.Get("X-Amz-Copy-Source") != "":
				s.object.CopyObject(w, r, bucket, key)
			case q.Has("acl"):
				s.object.PutObjectAcl(w, r, bucket, key)
			case q.Has("tagging"):
				s.object.PutObjectTagging(w, r, bucket, key)
			default:
				s.object.PutObject(w, r, bucket, key)
			}
		case http.MethodGet:
			switch {
			case q.Has("acl"):
				s.object.GetObjectAcl(w, r, bucket, key)
			case q.Has("tagging"):
				s.object.GetObjectTagging(w, r, bucket, key)
			case q.Has("uploadId"):
				s.multi.ListParts(w, r, bucket, key)
			default:
				s.object.GetObject(w, r, bucket, key)
			}
		case http.MethodHead:
			s.object.HeadObject(w, r, bucket, key)
		case http.MethodDelete:
			switch {
			case q.Has("uploadId"):
				s.multi.AbortMultipartUpload(w, r, bucket, key)
			case q.Has("tagging"):
				s.object.DeleteObjectTagging(w, r, bucket, key)
			default:
				s.object.DeleteObject(w, r, bucket, key)
			}
		case http.MethodPost:
			switch {
			case q.Has("uploadId"):
				s.multi.CompleteMultipartUpload(w, r, bucket, key)
			case q.Has("uploads"):
				s.multi.CreateMultipartUpload(w, r, bucket, key)
			default:
				xmlutil.WriteErrorResponse(w, r, s3err.ErrNotImplemented)
			}
		default:
			xmlutil.WriteErrorResponse(w, r, s3err.ErrNotImplemented)
		}
		return
	}

	// Bucket-level operations.
	switch r.Method {
	case http.MethodPut:
		switch {
		case q.Has("acl"):
			s.bucket.PutBucketAcl(w, r, bucket)
		case q.Has("cors"):
			s.bucketCfg.PutConfig(w, r, bucket, metadata.ConfigCORS)
		case q.Has("website"):
			s.bucketCfg.PutConfig(w, r, bucket, metadata.ConfigWebsite)
		case q.Has("policy"):
			s.bucketCfg.PutConfig(w, r, bucket, metadata.ConfigPolicy)
		case q.Has("lifecycle"):
			s.bucketCfg.PutConfig(w, r, bucket, metadata.ConfigLifecycle)
		case q.Has("tagging"):
			s.bucketCfg.PutConfig(w, r, bucket, metadata.ConfigTagging)
		default:
			s.bucket.CreateBucket(w, r, bucket)
		}
	case http.MethodGet:
		switch {
		case q.Has("location"):
			s.bucket.GetBucketLocation(w, r, bucket)
		case q.Has("acl"):
			s.bucket.GetBucketAcl(w, r, bucket)
		case q.Has("cors"):
			s.bucketCfg.GetConfig(w, r, bucket, metadata.ConfigCORS)
		case q.Has("website"):
			s.bucketCfg.GetConfig(w, r, bucket, metadata.ConfigWebsite)
		case q.Has("policy"):
			s.bucketCfg.GetConfig(w, r, bucket, metadata.ConfigPolicy)
		case q.Has("lifecycle"):
			s.bucketCfg.GetConfig(w, r, bucket, metadata.ConfigLifecycle)
		case q.Has("tagging"):
			s.bucketCfg.GetConfig(w, r, bucket, metadata.ConfigTagging)
		case q.Has("uploads"):
			s.multi.ListMultipartUploads(w, r, bucket)
		case q.Get("list-type") == "2":
			s.object.ListObjectsV2(w, r, bucket)
		default:
			s.object.ListObjects(w, r, bucket)
		}
	case http.MethodHead:
		s.bucket.HeadBucket(w, r, bucket)
	case http.MethodDelete:
		switch {
		case q.Has("cors"):
			s.bucketCfg.DeleteConfig(w, r, bucket, metadata.ConfigCORS)
		case q.Has("website"):
			s.bucketCfg.DeleteConfig(w, r, bucket, metadata.ConfigWebsite)
		case q.Has("policy"):
			s.bucketCfg.DeleteConfig(w, r, bucket, metadata.ConfigPolicy)
		case q.Has("lifecycle"):
			s.bucketCfg.DeleteConfig(w, r, bucket, metadata.ConfigLifecycle)
		case q.Has("tagging"):
			s.bucketCfg.DeleteConfig(w, r, bucket, metadata.ConfigTagging)
		default:
			s.bucket.DeleteBucket(w, r, bucket)
		}
	case http.MethodPost:
		switch {
		case q.Has("delete"):
			s.object.DeleteObjects(w, r, bucket)
		case isMultipartForm(r):
			s.object.PostObject(w, r, bucket)
		default:
			xmlutil.WriteErrorResponse(w, r, s3err.ErrNotImplemented)
		}
	default:
		xmlutil.WriteErrorResponse(w, r, s3err.ErrNotImplemented)
	}
}

// isMultipartForm reports whether the request body is multipart/form-data.
func isMultipartForm(r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(ct)
	return err == nil && mediaType == "multipart/form-data"
}
