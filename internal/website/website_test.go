package website

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shamstore/shamstore/internal/metadata"
	"github.com/shamstore/shamstore/internal/storage"
)

const routingConfig = `<WebsiteConfiguration>
  <IndexDocument><Suffix>index.html</Suffix></IndexDocument>
  <ErrorDocument><Key>error.html</Key></ErrorDocument>
  <RoutingRules>
    <RoutingRule>
      <Condition><KeyPrefixEquals>test</KeyPrefixEquals></Condition>
      <Redirect><ReplaceKeyPrefixWith>replacement</ReplaceKeyPrefixWith></Redirect>
    </RoutingRule>
  </RoutingRules>
</WebsiteConfiguration>`

type fixture struct {
	meta  metadata.Store
	store storage.Backend
	h     *Handler
}

func newFixture(t *testing.T, configXML string) *fixture {
	t.Helper()

	meta := metadata.NewMemoryStore()
	store := storage.NewMemoryBackend()

	ctx := context.Background()
	err := meta.CreateBucket(ctx, &metadata.BucketRecord{
		Name:      "site",
		Region:    "us-east-1",
		OwnerID:   "shamstore",
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("CreateBucket failed: %v", err)
	}

	if configXML != "" {
		if err := meta.PutBucketConfig(ctx, "site", metadata.ConfigWebsite, []byte(configXML)); err != nil {
			t.Fatalf("PutBucketConfig failed: %v", err)
		}
	}

	return &fixture{meta: meta, store: store, h: NewHandler(meta, store)}
}

func (f *fixture) putObject(t *testing.T, key, body, redirect string) {
	t.Helper()
	ctx := context.Background()

	n, etag, err := f.store.PutObject(ctx, "site", key, strings.NewReader(body), int64(len(body)))
	if err != nil {
		t.Fatalf("store.PutObject(%q) failed: %v", key, err)
	}
	err = f.meta.PutObject(ctx, &metadata.ObjectRecord{
		Bucket:                  "site",
		Key:                     key,
		Size:                    n,
		ETag:                    etag,
		ContentType:             "text/html",
		WebsiteRedirectLocation: redirect,
		LastModified:            time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("meta.PutObject(%q) failed: %v", key, err)
	}
}

func TestParseRequiresIndexDocument(t *testing.T) {
	_, err := Parse([]byte(`<WebsiteConfiguration></WebsiteConfiguration>`))
	if err == nil {
		t.Fatal("Parse accepted config without IndexDocument")
	}
	if err.Code != "MalformedXML" {
		t.Errorf("Code = %s, want MalformedXML", err.Code)
	}
}

func TestParseRejectsBothKeyReplacements(t *testing.T) {
	blob := `<WebsiteConfiguration>
		<IndexDocument><Suffix>index.html</Suffix></IndexDocument>
		<RoutingRules><RoutingRule>
			<Redirect>
				<ReplaceKeyWith>a</ReplaceKeyWith>
				<ReplaceKeyPrefixWith>b</ReplaceKeyPrefixWith>
			</Redirect>
		</RoutingRule></RoutingRules>
	</WebsiteConfiguration>`

	if _, err := Parse([]byte(blob)); err == nil {
		t.Fatal("Parse accepted ReplaceKeyWith together with ReplaceKeyPrefixWith")
	}
}

func TestParseRejectsEmptyCondition(t *testing.T) {
	blob := `<WebsiteConfiguration>
		<IndexDocument><Suffix>index.html</Suffix></IndexDocument>
		<RoutingRules><RoutingRule>
			<Condition></Condition>
			<Redirect><HostName>example.com</HostName></Redirect>
		</RoutingRule></RoutingRules>
	</WebsiteConfiguration>`

	if _, err := Parse([]byte(blob)); err == nil {
		t.Fatal("Parse accepted empty Condition")
	}
}

func TestParseRejectsBadErrorCode(t *testing.T) {
	blob := `<WebsiteConfiguration>
		<IndexDocument><Suffix>index.html</Suffix></IndexDocument>
		<RoutingRules><RoutingRule>
			<Condition><HttpErrorCodeReturnedEquals>200</HttpErrorCodeReturnedEquals></Condition>
			<Redirect><HostName>example.com</HostName></Redirect>
		</RoutingRule></RoutingRules>
	</WebsiteConfiguration>`

	if _, err := Parse([]byte(blob)); err == nil {
		t.Fatal("Parse accepted HttpErrorCodeReturnedEquals outside 400-599")
	}
}

func TestServeNoWebsiteConfiguration(t *testing.T) {
	f := newFixture(t, "")

	r := httptest.NewRequest("GET", "http://localhost/site/index.html", nil)
	w := httptest.NewRecorder()

	f.h.Serve(w, r, "site", "index.html", false)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q, want text/html", ct)
	}
	if !strings.Contains(w.Body.String(), "NoSuchWebsiteConfiguration") {
		t.Errorf("body missing NoSuchWebsiteConfiguration: %s", w.Body.String())
	}
}

func TestServeIndexDocument(t *testing.T) {
	f := newFixture(t, routingConfig)
	f.putObject(t, "index.html", "<h1>home</h1>", "")

	r := httptest.NewRequest("GET", "http://localhost/site/", nil)
	w := httptest.NewRecorder()

	f.h.Serve(w, r, "site", "", false)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if w.Body.String() != "<h1>home</h1>" {
		t.Errorf("body = %q", w.Body.String())
	}
}

func TestServeDirectoryRedirect(t *testing.T) {
	f := newFixture(t, routingConfig)
	f.putObject(t, "docs/index.html", "docs home", "")

	r := httptest.NewRequest("GET", "http://localhost/site/docs", nil)
	w := httptest.NewRecorder()

	f.h.Serve(w, r, "site", "docs", false)

	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", w.Code)
	}
	if got := w.Header().Get("Location"); got != "/site/docs/" {
		t.Errorf("Location = %q, want /site/docs/", got)
	}
}

func TestServeDirectoryRedirectVhostOmitsBucket(t *testing.T) {
	f := newFixture(t, routingConfig)
	f.putObject(t, "docs/index.html", "docs home", "")

	r := httptest.NewRequest("GET", "http://site.s3-website-us-east-1.amazonaws.com/docs", nil)
	w := httptest.NewRecorder()

	f.h.Serve(w, r, "site", "docs", true)

	if got := w.Header().Get("Location"); got != "/docs/" {
		t.Errorf("Location = %q, want /docs/", got)
	}
}

func TestServeWebsiteRedirectLocation(t *testing.T) {
	f := newFixture(t, routingConfig)
	f.putObject(t, "moved.html", "gone", "https://elsewhere.example.com/new")

	r := httptest.NewRequest("GET", "http://localhost/site/moved.html", nil)
	w := httptest.NewRecorder()

	f.h.Serve(w, r, "site", "moved.html", false)

	if w.Code != http.StatusMovedPermanently {
		t.Fatalf("status = %d, want 301", w.Code)
	}
	if got := w.Header().Get("Location"); got != "https://elsewhere.example.com/new" {
		t.Errorf("Location = %q", got)
	}
}

func TestServeRoutingRulePrefixReplacement(t *testing.T) {
	f := newFixture(t, routingConfig)

	r := httptest.NewRequest("GET", "http://localhost:4569/site/test/key", nil)
	w := httptest.NewRecorder()

	f.h.Serve(w, r, "site", "test/key", false)

	if w.Code != http.StatusMovedPermanently {
		t.Fatalf("status = %d, want 301", w.Code)
	}
	want := "http://localhost:4569/site/replacement/key"
	if got := w.Header().Get("Location"); got != want {
		t.Errorf("Location = %q, want %q", got, want)
	}
}

func TestServeErrorDocument(t *testing.T) {
	f := newFixture(t, routingConfig)
	f.putObject(t, "error.html", "<h1>custom 404</h1>", "")

	r := httptest.NewRequest("GET", "http://localhost/site/absent", nil)
	w := httptest.NewRecorder()

	f.h.Serve(w, r, "site", "absent", false)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/html; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	body, _ := io.ReadAll(w.Body)
	if string(body) != "<h1>custom 404</h1>" {
		t.Errorf("body = %q", body)
	}
}

func TestServeDefault404(t *testing.T) {
	// Config without an error document and a key matching no routing rule.
	cfg := `<WebsiteConfiguration>
		<IndexDocument><Suffix>index.html</Suffix></IndexDocument>
	</WebsiteConfiguration>`
	f := newFixture(t, cfg)

	r := httptest.NewRequest("GET", "http://localhost/site/absent", nil)
	w := httptest.NewRecorder()

	f.h.Serve(w, r, "site", "absent", false)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if !strings.Contains(w.Body.String(), "NoSuchKey") {
		t.Errorf("body missing NoSuchKey code: %s", w.Body.String())
	}
}

func TestServeRedirectAllRequests(t *testing.T) {
	cfg := `<WebsiteConfiguration>
		<RedirectAllRequestsTo><HostName>www.example.com</HostName><Protocol>https</Protocol></RedirectAllRequestsTo>
	</WebsiteConfiguration>`
	f := newFixture(t, cfg)

	r := httptest.NewRequest("GET", "http://localhost/site/anything", nil)
	w := httptest.NewRecorder()

	f.h.Serve(w, r, "site", "anything", false)

	if w.Code != http.StatusMovedPermanently {
		t.Fatalf("status = %d, want 301", w.Code)
	}
	if got := w.Header().Get("Location"); got != "https://www.example.com/anything" {
		t.Errorf("Location = %q", got)
	}
}

func TestMatchRuleConditions(t *testing.T) {
	cfg, parseErr := Parse([]byte(`<WebsiteConfiguration>
		<IndexDocument><Suffix>index.html</Suffix></IndexDocument>
		<RoutingRules>
			<RoutingRule>
				<Condition>
					<KeyPrefixEquals>docs/</KeyPrefixEquals>
					<HttpErrorCodeReturnedEquals>404</HttpErrorCodeReturnedEquals>
				</Condition>
				<Redirect><ReplaceKeyPrefixWith>documents/</ReplaceKeyPrefixWith></Redirect>
			</RoutingRule>
		</RoutingRules>
	</WebsiteConfiguration>`))
	if parseErr != nil {
		t.Fatalf("Parse failed: %v", parseErr)
	}

	// Both condition legs must hold.
	if rule := cfg.MatchRule("docs/guide", 404); rule == nil {
		t.Error("rule did not match when both conditions held")
	}
	if rule := cfg.MatchRule("docs/guide", 403); rule != nil {
		t.Error("rule matched with wrong error code")
	}
	if rule := cfg.MatchRule("other/guide", 404); rule != nil {
		t.Error("rule matched with wrong prefix")
	}
}
