package server

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/shamstore/shamstore/internal/handlers"
)

// Style identifies how a request encoded its bucket.
type Style int

const (
	// PathStyle carries the bucket as the first path segment.
	PathStyle Style = iota
	// VhostStyle carries the bucket as a subdomain of the service endpoint.
	VhostStyle
	// CNAMEStyle uses a Host header that is literally an existing bucket name.
	CNAMEStyle
)

// Addressing is the result of resolving a request's bucket, key, and style.
type Addressing struct {
	// Bucket is the resolved bucket name ("" for service-level requests).
	Bucket string
	// Key is the resolved object key ("" for bucket-level requests).
	Key string
	// Style is how the bucket was encoded.
	Style Style
	// Website reports whether the request arrived via the website endpoint.
	Website bool
}

// splitPath extracts bucket and key from a path-style URL path.
// Returns ("", "") for root "/", ("bucket", "") for "/{bucket}",
// and ("bucket", "key/path") for "/{bucket}/{key...}".
func splitPath(path string) (bucket, key string) {
	path = strings.TrimPrefix(path, "/")
	if path == "" {
		return "", ""
	}
	idx := strings.IndexByte(path, '/')
	if idx < 0 {
		return path, ""
	}
	return path[:idx], path[idx+1:]
}

// hostWithoutPort strips any :port suffix from a Host header value.
func hostWithoutPort(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

// isAddressHost reports whether the host is an IP literal or localhost,
// which can never carry a bucket name.
func isAddressHost(host string) bool {
	if host == "localhost" || host == "" {
		return true
	}
	return net.ParseIP(host) != nil
}

// ResolveAddressing maps a request to (bucket, key, style) under the
// addressing conventions the server supports, in order: website endpoint,
// virtual-hosted subdomain, bucket-as-Host (CNAME), then path-style.
func (s *Server) ResolveAddressing(r *http.Request) Addressing {
	host := hostWithoutPort(r.Host)
	endpoint := s.cfg.Server.ServiceEndpoint

	// Website endpoint: <bucket>.s3-website-<region>.amazonaws.com or any
	// host whose first label is followed by an s3-website label.
	if idx := strings.Index(host, ".s3-website"); idx > 0 {
		return Addressing{
			Bucket:  host[:idx],
			Key:     strings.TrimPrefix(r.URL.Path, "/"),
			Style:   VhostStyle,
			Website: true,
		}
	}
	if strings.HasPrefix(host, "s3-website") {
		bucket, key := splitPath(r.URL.Path)
		return Addressing{Bucket: bucket, Key: key, Style: PathStyle, Website: true}
	}

	// Virtual-hosted style: <bucket>.<serviceEndpoint>.
	if s.cfg.Server.VhostBuckets && host != endpoint && strings.HasSuffix(host, "."+endpoint) {
		bucket := strings.TrimSuffix(host, "."+endpoint)
		return Addressing{
			Bucket: bucket,
			Key:    strings.TrimPrefix(r.URL.Path, "/"),
			Style:  VhostStyle,
		}
	}

	// CNAME style: the Host is literally a bucket name that exists.
	if host != endpoint && !isAddressHost(host) && handlers.ValidBucketName(host) {
		if existing, err := s.meta.GetBucket(r.Context(), host); err == nil && existing != nil {
			return Addressing{
				Bucket: host,
				Key:    strings.TrimPrefix(r.URL.Path, "/"),
				Style:  CNAMEStyle,
			}
		}
	}

	bucket, key := splitPath(r.URL.Path)
	return Addressing{Bucket: bucket, Key: key, Style: PathStyle}
}

// vhostBucket reports the bucket restored into SigV2 canonical resources:
// the bucket name for host-addressed requests, "" for path-style.
func (s *Server) vhostBucket(r *http.Request) string {
	addr := s.ResolveAddressing(r)
	if addr.Style == PathStyle {
		return ""
	}
	return addr.Bucket
}

// addressingKey is the context key the routing middleware stores the
// resolved Addressing under.
type addressingKey struct{}

// withAddressing stores the resolved addressing on the request context so
// the dispatcher and auth layer resolve it once.
func withAddressing(ctx context.Context, addr Addressing) context.Context {
	return context.WithValue(ctx, addressingKey{}, addr)
}

// addressingFromContext retrieves the addressing stored by the routing
// middleware. The second return is false when resolution has not run.
func addressingFromContext(ctx context.Context) (Addressing, bool) {
	addr, ok := ctx.Value(addressingKey{}).(Addressing)
	return addr, ok
}

// routingMiddleware resolves the request's addressing before authentication
// so both the signature verifier and the dispatcher agree on it.
func (s *Server) routingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		addr := s.ResolveAddressing(r)
		next.ServeHTTP(w, r.WithContext(withAddressing(r.Context(), addr)))
	})
}
