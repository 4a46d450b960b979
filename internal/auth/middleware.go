package auth

import (
	"context"
	"net/http"
	"strings"

	s3err "github.com/shamstore/shamstore/internal/errors"
	"github.com/shamstore/shamstore/internal/xmlutil"
)

// contextKey is an unexported type used for context keys to avoid collisions.
type contextKey int

const (
	// signedKey marks a request whose signature verified successfully.
	signedKey contextKey = iota
)

// IsSigned reports whether the request carried a signature that verified.
// Anonymous requests are served, but signed-URL-only features (response
// header overrides) check this flag.
func IsSigned(ctx context.Context) bool {
	v, _ := ctx.Value(signedKey).(bool)
	return v
}

// withSigned marks the context as carrying a verified signature.
func withSigned(ctx context.Context) context.Context {
	return context.WithValue(ctx, signedKey, true)
}

// Method identifies how a request is authenticated.
type Method int

const (
	// MethodNone is an anonymous request.
	MethodNone Method = iota
	// MethodHeaderV4 is a SigV4 Authorization header.
	MethodHeaderV4
	// MethodHeaderV2 is a SigV2 Authorization header.
	MethodHeaderV2
	// MethodQueryV4 is a SigV4 presigned URL.
	MethodQueryV4
	// MethodQueryV2 is a SigV2 presigned URL.
	MethodQueryV2
	// MethodAmbiguous mixes an Authorization header with query-string
	// signature parameters, which S3 rejects.
	MethodAmbiguous
)

// DetectMethod classifies the request's authentication signals.
func DetectMethod(r *http.Request) Method {
	authHeader := r.Header.Get("Authorization")
	hasV4Header := strings.HasPrefix(authHeader, algorithm)
	hasV2Header := strings.HasPrefix(authHeader, "AWS ")

	q := r.URL.Query()
	hasV4Query := q.Has("X-Amz-Algorithm") || q.Has("X-Amz-Signature")
	hasV2Query := HasV2QuerySignature(q)

	hasHeader := hasV4Header || hasV2Header
	hasQuery := hasV4Query || hasV2Query

	switch {
	case hasHeader && hasQuery:
		return MethodAmbiguous
	case hasV4Header:
		return MethodHeaderV4
	case hasV2Header:
		return MethodHeaderV2
	case hasV4Query:
		return MethodQueryV4
	case hasV2Query:
		return MethodQueryV2
	default:
		return MethodNone
	}
}

// VhostBucketFunc reports the bucket carried by the request's Host header,
// or "" for path-style requests. The router supplies it so SigV2 can build
// the canonical resource the client signed.
type VhostBucketFunc func(r *http.Request) string

// Middleware returns HTTP middleware that validates any signature the
// request carries. Anonymous requests pass through unsigned; requests
// presenting both header and query signatures fail with InvalidArgument.
func Middleware(verifier *Verifier, vhostBucket VhostBucketFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var err error

			switch DetectMethod(r) {
			case MethodNone:
				next.ServeHTTP(w, r)
				return

			case MethodAmbiguous:
				xmlutil.WriteErrorResponse(w, r, s3err.ErrInvalidArgument.WithMessage(
					"Only one auth mechanism allowed; only the X-Amz-Algorithm query parameter, Signature query string parameter or the Authorization header should be specified"))
				return

			case MethodHeaderV4:
				err = verifier.VerifyV4Request(r)

			case MethodHeaderV2:
				err = verifier.VerifyV2Request(r, vhostBucket(r))

			case MethodQueryV4:
				err = verifier.VerifyV4Presigned(r)

			case MethodQueryV2:
				err = verifier.VerifyV2Presigned(r, vhostBucket(r))
			}

			if err != nil {
				writeAuthError(w, r, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(withSigned(r.Context())))
		})
	}
}

// writeAuthError maps an AuthError to the appropriate S3 error XML response.
func writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	authErr, ok := err.(*AuthError)
	if !ok {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
		return
	}

	switch authErr.Code {
	case "InvalidAccessKeyId":
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInvalidAccessKeyId)
	case "SignatureDoesNotMatch":
		xmlutil.WriteErrorResponse(w, r, s3err.ErrSignatureDoesNotMatch)
	case "RequestTimeTooSkewed":
		xmlutil.WriteErrorResponse(w, r, s3err.ErrRequestTimeTooSkewed)
	case "AuthorizationHeaderMalformed":
		xmlutil.WriteErrorResponse(w, r, s3err.ErrAuthorizationHeaderMalformed.WithMessage(authErr.Message))
	case "AuthorizationQueryParametersError":
		xmlutil.WriteErrorResponse(w, r, s3err.ErrAuthorizationQueryParametersError.WithMessage(authErr.Message))
	case "InvalidArgument":
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInvalidArgument.WithMessage(authErr.Message))
	case "AccessDenied":
		xmlutil.WriteErrorResponse(w, r, s3err.ErrAccessDenied)
	default:
		xmlutil.WriteErrorResponse(w, r, s3err.ErrAccessDenied)
	}
}
