// Package cors implements the bucket CORS configuration engine: parsing and
// validating the XML configuration, matching request origins against rule
// globs, augmenting simple responses, and answering preflights.
package cors

import (
	"encoding/xml"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	s3err "github.com/shamstore/shamstore/internal/errors"
	"github.com/shamstore/shamstore/internal/xmlutil"
)

// allowedMethods is the whitelist of HTTP methods a CORS rule may name.
var allowedMethods = map[string]bool{
	"GET":    true,
	"PUT":    true,
	"POST":   true,
	"DELETE": true,
	"HEAD":   true,
}

// Rule is one validated CORS rule.
type Rule struct {
	AllowedMethods []string
	AllowedOrigins []string
	AllowedHeaders []string
	ExposeHeaders  []string
	MaxAgeSeconds  *int
}

// Config is a validated, ordered CORS configuration.
type Config struct {
	Rules []Rule
}

// Parse decodes and validates a CORS configuration XML document.
// Shape violations return ErrMalformedXML; semantic violations (unsupported
// method, multi-wildcard globs) return a descriptive S3Error so startup
// preconfiguration can fail loudly.
func Parse(blob []byte) (*Config, *s3err.S3Error) {
	var doc xmlutil.CORSConfiguration
	if err := xml.Unmarshal(blob, &doc); err != nil {
		return nil, s3err.ErrMalformedXML
	}
	if len(doc.Rules) == 0 {
		return nil, s3err.ErrMalformedXML
	}

	cfg := &Config{}
	for _, raw := range doc.Rules {
		if len(raw.AllowedMethods) == 0 || len(raw.AllowedOrigins) == 0 {
			return nil, s3err.ErrMalformedXML
		}
		for _, m := range raw.AllowedMethods {
			if !allowedMethods[m] {
				return nil, s3err.ErrInvalidRequest.WithMessage("Found unsupported HTTP method in CORS config. Unsupported method is " + m)
			}
		}
		for _, o := range raw.AllowedOrigins {
			if strings.Count(o, "*") > 1 {
				return nil, s3err.ErrInvalidRequest.WithMessage(fmt.Sprintf("AllowedOrigin %q can not have more than one wildcard.", o))
			}
		}
		for _, h := range raw.AllowedHeaders {
			if strings.Count(h, "*") > 1 {
				return nil, s3err.ErrInvalidRequest.WithMessage(fmt.Sprintf("AllowedHeader %q can not have more than one wildcard.", h))
			}
		}
		cfg.Rules = append(cfg.Rules, Rule(raw))
	}
	return cfg, nil
}

// globMatch matches value against a pattern containing at most one "*",
// which matches any substring.
func globMatch(pattern, value string) bool {
	idx := strings.IndexByte(pattern, '*')
	if idx < 0 {
		return pattern == value
	}
	prefix, suffix := pattern[:idx], pattern[idx+1:]
	return len(value) >= len(prefix)+len(suffix) &&
		strings.HasPrefix(value, prefix) &&
		strings.HasSuffix(value, suffix)
}

// parseRequestHeaders splits an Access-Control-Request-Headers value into
// lowercased header names.
func parseRequestHeaders(value string) []string {
	var headers []string
	for _, part := range strings.Split(value, ",") {
		header := strings.ToLower(strings.TrimSpace(part))
		if header != "" {
			headers = append(headers, header)
		}
	}
	return headers
}

// headersAllowed reports whether every requested header matches some
// AllowedHeader glob of the rule.
func headersAllowed(requested []string, rule Rule) bool {
	for _, header := range requested {
		allowed := false
		for _, pattern := range rule.AllowedHeaders {
			if globMatch(strings.ToLower(pattern), header) {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}
	return true
}

// Match finds the first rule allowing the given origin, method, and
// requested headers. Returns nil when no rule matches.
func (c *Config) Match(origin, method string, requestHeaders []string) *Rule {
	for i := range c.Rules {
		rule := &c.Rules[i]

		originMatch := false
		for _, pattern := range rule.AllowedOrigins {
			if globMatch(pattern, origin) {
				originMatch = true
				break
			}
		}
		if !originMatch {
			continue
		}

		methodMatch := false
		for _, m := range rule.AllowedMethods {
			if m == method {
				methodMatch = true
				break
			}
		}
		if !methodMatch {
			continue
		}

		if !headersAllowed(requestHeaders, *rule) {
			continue
		}
		return rule
	}
	return nil
}

// isWildcardOnly reports whether the rule's origin list contains the bare "*".
func isWildcardOnly(rule *Rule) bool {
	for _, o := range rule.AllowedOrigins {
		if o == "*" {
			return true
		}
	}
	return false
}

// Apply augments a simple (non-preflight) cross-origin response. When no
// rule matches, no CORS headers are emitted and the request proceeds.
// partial reports whether the response is a 206, which additionally exposes
// the range headers.
func (c *Config) Apply(w http.ResponseWriter, r *http.Request, partial bool) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}

	rule := c.Match(origin, r.Method, nil)
	if rule == nil {
		return
	}

	if isWildcardOnly(rule) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	} else {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Credentials", "true")
	}

	expose := append([]string(nil), rule.ExposeHeaders...)
	if partial {
		expose = append(expose, "Accept-Ranges", "Content-Range")
	}
	if len(expose) > 0 {
		w.Header().Set("Access-Control-Expose-Headers", strings.Join(expose, ", "))
	}
}

// Preflight answers an OPTIONS preflight request. A missing configuration is
// represented by a nil receiver; it denies everything.
func (c *Config) Preflight(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	method := r.Header.Get("Access-Control-Request-Method")

	if origin == "" || method == "" {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInvalidRequest.WithMessage(
			"Insufficient information. Origin and Access-Control-Request-Method headers are required."))
		return
	}

	requested := parseRequestHeaders(r.Header.Get("Access-Control-Request-Headers"))

	var rule *Rule
	if c != nil {
		rule = c.Match(origin, method, requested)
	}
	if rule == nil {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrAccessDenied.WithMessage(
			"CORSResponse: This CORS request is not allowed. This is usually because the evalution of Origin, request method / Access-Control-Request-Method or Access-Control-Request-Headers are not whitelisted by the resource's CORS spec."))
		return
	}

	if isWildcardOnly(rule) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	} else {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Credentials", "true")
	}
	w.Header().Set("Access-Control-Allow-Methods", strings.Join(rule.AllowedMethods, ", "))
	if len(requested) > 0 {
		w.Header().Set("Access-Control-Allow-Headers", strings.Join(requested, ", "))
	}
	if rule.MaxAgeSeconds != nil {
		w.Header().Set("Access-Control-Max-Age", strconv.Itoa(*rule.MaxAgeSeconds))
	}
	w.Header().Set("Vary", "Origin, Access-Control-Request-Headers, Access-Control-Request-Method")
	w.WriteHeader(http.StatusOK)
}
