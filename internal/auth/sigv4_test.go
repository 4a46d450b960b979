package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"
	"time"
)

const (
	testAccessKey = "S3RVER"
	testSecretKey = "S3RVER"
	testRegion    = "us-east-1"
)

func newTestVerifier() *Verifier {
	return NewVerifier(testAccessKey, testSecretKey, testRegion, false)
}

// signV4TestRequest signs a request the way an SDK client would: host and
// x-amz-date as signed headers, UNSIGNED-PAYLOAD.
func signV4TestRequest(r *http.Request, accessKey, secretKey string, when time.Time) {
	amzDate := when.UTC().Format(amzDateFormat)
	dateStr := amzDate[:8]

	r.Header.Set("X-Amz-Date", amzDate)
	r.Header.Set("X-Amz-Content-Sha256", unsignedPayload)

	signedHeaders := "host;x-amz-content-sha256;x-amz-date"

	var canonQuery []string
	for key, vals := range r.URL.Query() {
		for _, val := range vals {
			canonQuery = append(canonQuery, URIEncode(key, true)+"="+URIEncode(val, true))
		}
	}
	sort.Strings(canonQuery)

	canonicalRequest := strings.Join([]string{
		r.Method,
		canonicalURI(r.URL.Path),
		strings.Join(canonQuery, "&"),
		"host:" + r.Host + "\n" +
			"x-amz-content-sha256:" + unsignedPayload + "\n" +
			"x-amz-date:" + amzDate + "\n",
		signedHeaders,
		unsignedPayload,
	}, "\n")

	scope := fmt.Sprintf("%s/%s/s3/%s", dateStr, testRegion, scopeTerminator)
	crHash := sha256.Sum256([]byte(canonicalRequest))
	stringToSign := algorithm + "\n" + amzDate + "\n" + scope + "\n" + hex.EncodeToString(crHash[:])

	mac := func(key []byte, data string) []byte {
		h := hmac.New(sha256.New, key)
		h.Write([]byte(data))
		return h.Sum(nil)
	}
	kDate := mac([]byte("AWS4"+secretKey), dateStr)
	kRegion := mac(kDate, testRegion)
	kService := mac(kRegion, "s3")
	kSigning := mac(kService, scopeTerminator)
	signature := hex.EncodeToString(mac(kSigning, stringToSign))

	r.Header.Set("Authorization", fmt.Sprintf(
		"%s Credential=%s/%s/%s/s3/%s, SignedHeaders=%s, Signature=%s",
		algorithm, accessKey, dateStr, testRegion, scopeTerminator, signedHeaders, signature))
}

func TestVerifyV4RequestValid(t *testing.T) {
	v := newTestVerifier()

	r := httptest.NewRequest("GET", "http://localhost:9000/bucket1/key", nil)
	signV4TestRequest(r, testAccessKey, testSecretKey, time.Now())

	if err := v.VerifyV4Request(r); err != nil {
		t.Errorf("VerifyV4Request failed: %v", err)
	}
}

func TestVerifyV4RequestBadSecret(t *testing.T) {
	v := newTestVerifier()

	r := httptest.NewRequest("GET", "http://localhost:9000/bucket1/key", nil)
	signV4TestRequest(r, testAccessKey, "wrong-secret", time.Now())

	err := v.VerifyV4Request(r)
	if err == nil {
		t.Fatal("VerifyV4Request succeeded with wrong secret")
	}
	if authErr := err.(*AuthError); authErr.Code != "SignatureDoesNotMatch" {
		t.Errorf("Code = %s, want SignatureDoesNotMatch", authErr.Code)
	}
}

func TestVerifyV4RequestAllowMismatched(t *testing.T) {
	v := NewVerifier(testAccessKey, testSecretKey, testRegion, true)

	r := httptest.NewRequest("GET", "http://localhost:9000/bucket1/key", nil)
	signV4TestRequest(r, testAccessKey, "wrong-secret", time.Now())

	if err := v.VerifyV4Request(r); err != nil {
		t.Errorf("VerifyV4Request with AllowMismatched failed: %v", err)
	}
}

func TestVerifyV4RequestUnknownAccessKey(t *testing.T) {
	v := newTestVerifier()

	r := httptest.NewRequest("GET", "http://localhost:9000/bucket1/key", nil)
	signV4TestRequest(r, "SOMEBODY-ELSE", testSecretKey, time.Now())

	err := v.VerifyV4Request(r)
	if err == nil {
		t.Fatal("VerifyV4Request succeeded with unknown access key")
	}
	if authErr := err.(*AuthError); authErr.Code != "InvalidAccessKeyId" {
		t.Errorf("Code = %s, want InvalidAccessKeyId", authErr.Code)
	}
}

func TestVerifyV4RequestSkewed(t *testing.T) {
	v := newTestVerifier()

	r := httptest.NewRequest("GET", "http://localhost:9000/bucket1/key", nil)
	signV4TestRequest(r, testAccessKey, testSecretKey, time.Now().Add(-30*time.Minute))

	err := v.VerifyV4Request(r)
	if err == nil {
		t.Fatal("VerifyV4Request accepted a 30-minute-old request")
	}
	if authErr := err.(*AuthError); authErr.Code != "RequestTimeTooSkewed" {
		t.Errorf("Code = %s, want RequestTimeTooSkewed", authErr.Code)
	}
}

func TestParseAuthorizationHeaderMissingComponents(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"no signature or signed headers", "AWS4-HMAC-SHA256 Credential=S3RVER/20060301/us-east-1/s3/aws4_request"},
		{"no signature", "AWS4-HMAC-SHA256 Credential=S3RVER/20060301/us-east-1/s3/aws4_request, SignedHeaders=host"},
		{"no credential", "AWS4-HMAC-SHA256 SignedHeaders=host, Signature=abc"},
		{"short credential scope", "AWS4-HMAC-SHA256 Credential=S3RVER/20060301, SignedHeaders=host, Signature=abc"},
		{"bad scope terminator", "AWS4-HMAC-SHA256 Credential=S3RVER/20060301/us-east-1/s3/nope, SignedHeaders=host, Signature=abc"},
	}

	v := newTestVerifier()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "http://localhost:9000/bucket1/key", nil)
			r.Header.Set("Authorization", tt.header)

			err := v.VerifyV4Request(r)
			if err == nil {
				t.Fatal("VerifyV4Request succeeded with malformed header")
			}
			if authErr := err.(*AuthError); authErr.Code != "AuthorizationHeaderMalformed" {
				t.Errorf("Code = %s, want AuthorizationHeaderMalformed", authErr.Code)
			}
		})
	}
}

func TestVerifyV4PresignedMissingParams(t *testing.T) {
	v := newTestVerifier()

	r := httptest.NewRequest("GET", "http://localhost:9000/bucket1/key?X-Amz-Algorithm=AWS4-HMAC-SHA256&X-Amz-Signature=abc", nil)

	err := v.VerifyV4Presigned(r)
	if err == nil {
		t.Fatal("VerifyV4Presigned succeeded with missing parameters")
	}
	if authErr := err.(*AuthError); authErr.Code != "AuthorizationQueryParametersError" {
		t.Errorf("Code = %s, want AuthorizationQueryParametersError", authErr.Code)
	}
}

func TestVerifyV4PresignedExpired(t *testing.T) {
	v := newTestVerifier()

	past := time.Now().UTC().Add(-2 * time.Hour).Format(amzDateFormat)
	q := url.Values{}
	q.Set("X-Amz-Algorithm", algorithm)
	q.Set("X-Amz-Credential", fmt.Sprintf("%s/%s/us-east-1/s3/%s", testAccessKey, past[:8], scopeTerminator))
	q.Set("X-Amz-Date", past)
	q.Set("X-Amz-Expires", "60")
	q.Set("X-Amz-SignedHeaders", "host")
	q.Set("X-Amz-Signature", "deadbeef")

	r := httptest.NewRequest("GET", "http://localhost:9000/bucket1/key?"+q.Encode(), nil)

	err := v.VerifyV4Presigned(r)
	if err == nil {
		t.Fatal("VerifyV4Presigned accepted an expired URL")
	}
	if authErr := err.(*AuthError); authErr.Code != "AccessDenied" {
		t.Errorf("Code = %s, want AccessDenied", authErr.Code)
	}
}

func TestDetectMethod(t *testing.T) {
	tests := []struct {
		name   string
		auth   string
		query  string
		want   Method
	}{
		{"anonymous", "", "", MethodNone},
		{"v4 header", "AWS4-HMAC-SHA256 Credential=a/b/c/d/aws4_request, SignedHeaders=host, Signature=x", "", MethodHeaderV4},
		{"v2 header", "AWS S3RVER:c2ln", "", MethodHeaderV2},
		{"v4 query", "", "X-Amz-Algorithm=AWS4-HMAC-SHA256", MethodQueryV4},
		{"v2 query", "", "AWSAccessKeyId=S3RVER&Signature=c2ln&Expires=1", MethodQueryV2},
		{"mixed", "AWS4-HMAC-SHA256 Credential=a, Signature=x", "X-Amz-Signature=y", MethodAmbiguous},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := "http://localhost:9000/bucket1/key"
			if tt.query != "" {
				target += "?" + tt.query
			}
			r := httptest.NewRequest("GET", target, nil)
			if tt.auth != "" {
				r.Header.Set("Authorization", tt.auth)
			}
			if got := DetectMethod(r); got != tt.want {
				t.Errorf("DetectMethod = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestURIEncode(t *testing.T) {
	tests := []struct {
		in          string
		encodeSlash bool
		want        string
	}{
		{"simple-key_1.txt~", true, "simple-key_1.txt~"},
		{"a/b", false, "a/b"},
		{"a/b", true, "a%2Fb"},
		{"a b", true, "a%20b"},
		{"100%", true, "100%25"},
	}
	for _, tt := range tests {
		if got := URIEncode(tt.in, tt.encodeSlash); got != tt.want {
			t.Errorf("URIEncode(%q, %v) = %q, want %q", tt.in, tt.encodeSlash, got, tt.want)
		}
	}
}
