package cors

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

const simpleConfig = `<CORSConfiguration>
  <CORSRule>
    <AllowedOrigin>https://example.com</AllowedOrigin>
    <AllowedMethod>GET</AllowedMethod>
    <AllowedMethod>PUT</AllowedMethod>
    <AllowedHeader>*</AllowedHeader>
    <ExposeHeader>ETag</ExposeHeader>
    <MaxAgeSeconds>3000</MaxAgeSeconds>
  </CORSRule>
  <CORSRule>
    <AllowedOrigin>*</AllowedOrigin>
    <AllowedMethod>GET</AllowedMethod>
  </CORSRule>
</CORSConfiguration>`

func mustParse(t *testing.T, blob string) *Config {
	t.Helper()
	cfg, err := Parse([]byte(blob))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	return cfg
}

func TestParseValid(t *testing.T) {
	cfg := mustParse(t, simpleConfig)
	if len(cfg.Rules) != 2 {
		t.Fatalf("got %d rules, want 2", len(cfg.Rules))
	}
	if cfg.Rules[0].MaxAgeSeconds == nil || *cfg.Rules[0].MaxAgeSeconds != 3000 {
		t.Error("MaxAgeSeconds not parsed")
	}
}

func TestParseRejectsUnsupportedMethod(t *testing.T) {
	blob := `<CORSConfiguration><CORSRule>
		<AllowedOrigin>*</AllowedOrigin>
		<AllowedMethod>PATCH</AllowedMethod>
	</CORSRule></CORSConfiguration>`

	_, err := Parse([]byte(blob))
	if err == nil {
		t.Fatal("Parse accepted PATCH")
	}
	if err.Code != "InvalidRequest" {
		t.Errorf("Code = %s, want InvalidRequest", err.Code)
	}
}

func TestParseRejectsDoubleWildcard(t *testing.T) {
	blob := `<CORSConfiguration><CORSRule>
		<AllowedOrigin>http://*.example.*</AllowedOrigin>
		<AllowedMethod>GET</AllowedMethod>
	</CORSRule></CORSConfiguration>`

	if _, err := Parse([]byte(blob)); err == nil {
		t.Fatal("Parse accepted origin with two wildcards")
	}
}

func TestParseRejectsMissingRequiredFields(t *testing.T) {
	blob := `<CORSConfiguration><CORSRule>
		<AllowedMethod>GET</AllowedMethod>
	</CORSRule></CORSConfiguration>`

	_, err := Parse([]byte(blob))
	if err == nil {
		t.Fatal("Parse accepted rule without AllowedOrigin")
	}
	if err.Code != "MalformedXML" {
		t.Errorf("Code = %s, want MalformedXML", err.Code)
	}
}

func TestGlobMatch(t *testing.T) {
	tests := []struct {
		pattern string
		value   string
		want    bool
	}{
		{"*", "http://anything.test", true},
		{"https://example.com", "https://example.com", true},
		{"https://example.com", "http://example.com", false},
		{"http://*.example.com", "http://sub.example.com", true},
		{"http://*.example.com", "http://example.com", false},
		{"http://sub.*", "http://sub.example.com", true},
	}
	for _, tt := range tests {
		if got := globMatch(tt.pattern, tt.value); got != tt.want {
			t.Errorf("globMatch(%q, %q) = %v, want %v", tt.pattern, tt.value, got, tt.want)
		}
	}
}

func TestMatchFirstRuleWins(t *testing.T) {
	cfg := mustParse(t, simpleConfig)

	rule := cfg.Match("https://example.com", "GET", nil)
	if rule == nil {
		t.Fatal("no rule matched")
	}
	if len(rule.ExposeHeaders) != 1 || rule.ExposeHeaders[0] != "ETag" {
		t.Error("matched the wrong rule; first match should win")
	}

	// Other origins only satisfy the wildcard rule.
	rule = cfg.Match("https://other.org", "GET", nil)
	if rule == nil {
		t.Fatal("wildcard rule did not match")
	}
	if len(rule.ExposeHeaders) != 0 {
		t.Error("matched the wrong rule for a foreign origin")
	}

	// PUT is only allowed for example.com.
	if rule := cfg.Match("https://other.org", "PUT", nil); rule != nil {
		t.Error("PUT matched for a wildcard GET-only rule")
	}
}

func TestApplySimpleRequest(t *testing.T) {
	cfg := mustParse(t, simpleConfig)

	r := httptest.NewRequest("GET", "http://localhost/bucket1/key", nil)
	r.Header.Set("Origin", "https://example.com")
	w := httptest.NewRecorder()

	cfg.Apply(w, r, false)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://example.com" {
		t.Errorf("Allow-Origin = %q, want echoed origin", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Errorf("Allow-Credentials = %q, want true", got)
	}
	if got := w.Header().Get("Access-Control-Expose-Headers"); got != "ETag" {
		t.Errorf("Expose-Headers = %q, want ETag", got)
	}
}

func TestApplyWildcardOrigin(t *testing.T) {
	cfg := mustParse(t, simpleConfig)

	r := httptest.NewRequest("GET", "http://localhost/bucket1/key", nil)
	r.Header.Set("Origin", "https://anywhere.net")
	w := httptest.NewRecorder()

	cfg.Apply(w, r, false)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin = %q, want *", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Credentials"); got != "" {
		t.Errorf("Allow-Credentials = %q, want unset for wildcard", got)
	}
}

func TestApplyNoMatchEmitsNothing(t *testing.T) {
	cfg := mustParse(t, `<CORSConfiguration><CORSRule>
		<AllowedOrigin>https://only.example.com</AllowedOrigin>
		<AllowedMethod>GET</AllowedMethod>
	</CORSRule></CORSConfiguration>`)

	r := httptest.NewRequest("GET", "http://localhost/bucket1/key", nil)
	r.Header.Set("Origin", "https://denied.example.org")
	w := httptest.NewRecorder()

	cfg.Apply(w, r, false)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Allow-Origin = %q, want no header", got)
	}
}

func TestApplyPartialExposesRangeHeaders(t *testing.T) {
	cfg := mustParse(t, simpleConfig)

	r := httptest.NewRequest("GET", "http://localhost/bucket1/key", nil)
	r.Header.Set("Origin", "https://example.com")
	w := httptest.NewRecorder()

	cfg.Apply(w, r, true)

	expose := w.Header().Get("Access-Control-Expose-Headers")
	if expose != "ETag, Accept-Ranges, Content-Range" {
		t.Errorf("Expose-Headers = %q", expose)
	}
}

func TestPreflightMatch(t *testing.T) {
	cfg := mustParse(t, simpleConfig)

	r := httptest.NewRequest("OPTIONS", "http://localhost/bucket1/key", nil)
	r.Header.Set("Origin", "https://example.com")
	r.Header.Set("Access-Control-Request-Method", "PUT")
	r.Header.Set("Access-Control-Request-Headers", "Content-Type, X-Custom")
	w := httptest.NewRecorder()

	cfg.Preflight(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("Access-Control-Allow-Methods"); got != "GET, PUT" {
		t.Errorf("Allow-Methods = %q, want rule's method list", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Headers"); got != "content-type, x-custom" {
		t.Errorf("Allow-Headers = %q, want lowercased echo", got)
	}
	if got := w.Header().Get("Access-Control-Max-Age"); got != "3000" {
		t.Errorf("Max-Age = %q, want 3000", got)
	}
}

func TestPreflightNoMatch(t *testing.T) {
	cfg := mustParse(t, `<CORSConfiguration><CORSRule>
		<AllowedOrigin>https://only.example.com</AllowedOrigin>
		<AllowedMethod>GET</AllowedMethod>
	</CORSRule></CORSConfiguration>`)

	r := httptest.NewRequest("OPTIONS", "http://localhost/bucket1/key", nil)
	r.Header.Set("Origin", "https://denied.example.org")
	r.Header.Set("Access-Control-Request-Method", "GET")
	w := httptest.NewRecorder()

	cfg.Preflight(w, r)

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", w.Code)
	}
}

func TestPreflightNilConfig(t *testing.T) {
	var cfg *Config

	r := httptest.NewRequest("OPTIONS", "http://localhost/bucket1/key", nil)
	r.Header.Set("Origin", "https://example.com")
	r.Header.Set("Access-Control-Request-Method", "GET")
	w := httptest.NewRecorder()

	cfg.Preflight(w, r)

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403 without a CORS config", w.Code)
	}
}

func TestPreflightMissingHeaders(t *testing.T) {
	cfg := mustParse(t, simpleConfig)

	r := httptest.NewRequest("OPTIONS", "http://localhost/bucket1/key", nil)
	w := httptest.NewRecorder()

	cfg.Preflight(w, r)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 without Origin/Request-Method", w.Code)
	}
}

func TestPreflightRequestedHeaderDenied(t *testing.T) {
	cfg := mustParse(t, `<CORSConfiguration><CORSRule>
		<AllowedOrigin>*</AllowedOrigin>
		<AllowedMethod>GET</AllowedMethod>
		<AllowedHeader>x-allowed-*</AllowedHeader>
	</CORSRule></CORSConfiguration>`)

	r := httptest.NewRequest("OPTIONS", "http://localhost/bucket1/key", nil)
	r.Header.Set("Origin", "https://example.com")
	r.Header.Set("Access-Control-Request-Method", "GET")
	r.Header.Set("Access-Control-Request-Headers", "x-forbidden-header")
	w := httptest.NewRecorder()

	cfg.Preflight(w, r)

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403 for non-whitelisted header", w.Code)
	}
}
