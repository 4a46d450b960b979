package auth

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// v2SubResources is the fixed whitelist of sub-resources and response
// overrides that participate in the SigV2 canonicalized resource, in the
// sorted order the scheme requires.
var v2SubResources = []string{
	"acl",
	"cors",
	"delete",
	"lifecycle",
	"location",
	"logging",
	"notification",
	"partNumber",
	"policy",
	"requestPayment",
	"response-cache-control",
	"response-content-disposition",
	"response-content-encoding",
	"response-content-language",
	"response-content-type",
	"response-expires",
	"tagging",
	"torrent",
	"uploadId",
	"uploads",
	"versionId",
	"versioning",
	"versions",
	"website",
}

// VerifyV2Request validates an AWS Signature Version 2 Authorization header
// of the form "AWS <access>:<signature>".
func (v *Verifier) VerifyV2Request(r *http.Request, vhostBucket string) error {
	authHeader := r.Header.Get("Authorization")

	rest := strings.TrimPrefix(authHeader, "AWS ")
	idx := strings.IndexByte(rest, ':')
	if idx < 0 {
		return &AuthError{Code: "InvalidArgument", Message: "Invalid Authorization header format"}
	}
	accessKey := rest[:idx]
	signature := rest[idx+1:]

	if accessKey != v.AccessKeyID {
		return &AuthError{Code: "InvalidAccessKeyId", Message: "The AWS Access Key Id you provided does not exist in our records"}
	}

	// Request time comes from x-amz-date (preferred) or Date.
	dateValue := r.Header.Get("X-Amz-Date")
	usedAmzDate := dateValue != ""
	if dateValue == "" {
		dateValue = r.Header.Get("Date")
	}
	if dateValue != "" {
		requestTime, err := parseV2Time(dateValue)
		if err != nil {
			return &AuthError{Code: "AccessDenied", Message: "Invalid date format"}
		}
		if skewErr := checkSkew(requestTime); skewErr != nil {
			return skewErr
		}
	}

	// When x-amz-date is signed, the Date slot of the string-to-sign is empty.
	dateSlot := r.Header.Get("Date")
	if usedAmzDate {
		dateSlot = ""
	}

	stringToSign := buildV2StringToSign(r, vhostBucket, dateSlot)
	expected := signV2(v.SecretKey, stringToSign)

	if subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) != 1 {
		if v.AllowMismatched {
			return nil
		}
		return &AuthError{Code: "SignatureDoesNotMatch", Message: "The request signature we calculated does not match the signature you provided. Check your key and signing method."}
	}

	return nil
}

// VerifyV2Presigned validates a SigV2 presigned URL carrying AWSAccessKeyId,
// Signature, and Expires query parameters. Expires is absolute epoch seconds.
func (v *Verifier) VerifyV2Presigned(r *http.Request, vhostBucket string) error {
	q := r.URL.Query()

	accessKey := q.Get("AWSAccessKeyId")
	signature := q.Get("Signature")
	expiresStr := q.Get("Expires")

	if accessKey == "" || signature == "" || expiresStr == "" {
		return &AuthError{Code: "AccessDenied", Message: "Query-string authentication requires the AWSAccessKeyId, Signature and Expires parameters"}
	}

	if accessKey != v.AccessKeyID {
		return &AuthError{Code: "InvalidAccessKeyId", Message: "The AWS Access Key Id you provided does not exist in our records"}
	}

	expires, err := strconv.ParseInt(expiresStr, 10, 64)
	if err != nil {
		return &AuthError{Code: "AccessDenied", Message: fmt.Sprintf("Invalid Expires value: %s", expiresStr)}
	}
	if time.Now().UTC().Unix() > expires {
		return &AuthError{Code: "AccessDenied", Message: "Request has expired"}
	}

	// For presigned URLs the Expires value takes the Date slot.
	stringToSign := buildV2StringToSign(r, vhostBucket, expiresStr)
	expected := signV2(v.SecretKey, stringToSign)

	if subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) != 1 {
		if v.AllowMismatched {
			return nil
		}
		return &AuthError{Code: "SignatureDoesNotMatch", Message: "The request signature we calculated does not match the signature you provided. Check your key and signing method."}
	}

	return nil
}

// buildV2StringToSign assembles the canonical SigV2 string to sign:
// verb, Content-MD5, Content-Type, Date, canonicalized amz headers,
// canonicalized resource.
func buildV2StringToSign(r *http.Request, vhostBucket, dateSlot string) string {
	var sb strings.Builder

	sb.WriteString(r.Method)
	sb.WriteByte('\n')
	sb.WriteString(r.Header.Get("Content-MD5"))
	sb.WriteByte('\n')
	sb.WriteString(r.Header.Get("Content-Type"))
	sb.WriteByte('\n')
	sb.WriteString(dateSlot)
	sb.WriteByte('\n')
	sb.WriteString(canonicalizedAmzHeaders(r))
	sb.WriteString(canonicalizedResource(r, vhostBucket))

	return sb.String()
}

// canonicalizedAmzHeaders returns the x-amz-* headers in canonical form:
// lowercased names, sorted, values joined with commas, one "name:value\n"
// line each.
func canonicalizedAmzHeaders(r *http.Request) string {
	headers := make(map[string][]string)
	var names []string
	for name, values := range r.Header {
		lower := strings.ToLower(name)
		if !strings.HasPrefix(lower, "x-amz-") {
			continue
		}
		if _, seen := headers[lower]; !seen {
			names = append(names, lower)
		}
		headers[lower] = append(headers[lower], values...)
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, name := range names {
		var trimmed []string
		for _, v := range headers[name] {
			trimmed = append(trimmed, strings.TrimSpace(v))
		}
		sb.WriteString(name)
		sb.WriteByte(':')
		sb.WriteString(strings.Join(trimmed, ","))
		sb.WriteByte('\n')
	}
	return sb.String()
}

// canonicalizedResource returns the SigV2 canonical resource: the
// virtual-host bucket (if any) prepended to the path, plus whitelisted
// sub-resource query parameters in sorted order. vhostBucket is empty for
// path-style requests; for virtual-hosted requests it names the bucket the
// Host header carries, which the scheme restores into the resource.
func canonicalizedResource(r *http.Request, vhostBucket string) string {
	var sb strings.Builder

	if vhostBucket != "" {
		sb.WriteString("/")
		sb.WriteString(vhostBucket)
	}
	path := r.URL.Path
	if path == "" {
		path = "/"
	}
	sb.WriteString(path)

	q := r.URL.Query()
	var params []string
	for _, sub := range v2SubResources {
		if !q.Has(sub) {
			continue
		}
		if val := q.Get(sub); val != "" {
			params = append(params, sub+"="+val)
		} else {
			params = append(params, sub)
		}
	}
	if len(params) > 0 {
		sb.WriteString("?")
		sb.WriteString(strings.Join(params, "&"))
	}

	return sb.String()
}

// signV2 computes the base64-encoded HMAC-SHA1 signature of the string to sign.
func signV2(secretKey, stringToSign string) string {
	h := hmac.New(sha1.New, []byte(secretKey))
	h.Write([]byte(stringToSign))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// parseV2Time parses the date formats SigV2 clients send.
func parseV2Time(value string) (time.Time, error) {
	for _, layout := range []string{time.RFC1123, time.RFC1123Z, amzDateFormat, time.RFC850, time.ANSIC} {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date format: %s", value)
}

// HasV2QuerySignature reports whether the URL carries SigV2 presigned
// parameters.
func HasV2QuerySignature(q url.Values) bool {
	return q.Has("Signature") && q.Has("AWSAccessKeyId")
}
