package routes

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/filefortress/filefortress/internal/config"
	"github.com/filefortress/filefortress/internal/logging"
)

type seen struct {
	method    string
	uri       string
	body      string
	requestID string
}

func newUpstream(t *testing.T) (*httptest.Server, *atomic.Value, *int32) {
	t.Helper()
	var last atomic.Value
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		atomic.AddInt32(&hits, 1)
		last.Store(seen{method: r.Method, uri: r.URL.RequestURI(), body: string(body), requestID: r.Header.Get("X-Request-ID")})
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &last, &hits
}

func newApp(t *testing.T, target string, cache *redis.Client) *fiber.App {
	t.Helper()
	app := fiber.New()
	cfg := config.Config{ProxyTarget: target, RequestTimeout: 2 * time.Second, IdempotencyTTL: time.Minute}
	if err := Setup(app, Deps{Cfg: cfg, Cache: cache, Logger: logging.Discard()}); err != nil {
		t.Fatalf("setup: %v", err)
	}
	return app
}

func do(t *testing.T, app *fiber.App, req *http.Request) (*http.Response, string) {
	t.Helper()
	resp, err := app.Test(req, 5000)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, string(body)
}

func TestProxyForwardsWithPrefix(t *testing.T) {
	up, last, _ := newUpstream(t)
	app := newApp(t, up.URL, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/register/?next=1", strings.NewReader(`{"email":"a@b.co"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, body := do(t, app, req)

	if resp.StatusCode != http.StatusCreated || body != `{"ok":true}` {
		t.Fatalf("unexpected response %d %s", resp.StatusCode, body)
	}
	got, _ := last.Load().(seen)
	if got.method != http.MethodPost || got.uri != "/api/auth/register/?next=1" {
		t.Fatalf("upstream saw %+v", got)
	}
	if got.body != `{"email":"a@b.co"}` {
		t.Fatalf("body not forwarded: %q", got.body)
	}
	if got.requestID == "" || resp.Header.Get("X-Request-ID") != got.requestID {
		t.Fatalf("request id not propagated: upstream %q client %q", got.requestID, resp.Header.Get("X-Request-ID"))
	}
}

func TestProxyUpstreamDown(t *testing.T) {
	up := httptest.NewServer(http.NotFoundHandler())
	target := up.URL
	up.Close()

	app := newApp(t, target, nil)
	resp, body := do(t, app, httptest.NewRequest(http.MethodGet, "/api/auth/me/", nil))

	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
	if body != ProxyFailureMessage {
		t.Fatalf("unexpected body %q", body)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("unexpected content type %q", ct)
	}
}

func TestSetupRejectsBadTarget(t *testing.T) {
	for _, target := range []string{"", "127.0.0.1:8000", "ftp://host"} {
		err := Setup(fiber.New(), Deps{Cfg: config.Config{ProxyTarget: target}, Logger: logging.Discard()})
		if err == nil {
			t.Fatalf("expected error for %q", target)
		}
	}
}

func TestHealthz(t *testing.T) {
	up, _, _ := newUpstream(t)
	resp, body := do(t, newApp(t, up.URL, nil), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}
	var payload struct {
		Status map[string]string `json:"status"`
	}
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Status["upstream"] != "ok" || payload.Status["redis"] != "disabled" {
		t.Fatalf("unexpected status %v", payload.Status)
	}

	down := httptest.NewServer(http.NotFoundHandler())
	target := down.URL
	down.Close()
	resp, _ = do(t, newApp(t, target, nil), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
}

func TestLoginRateLimit(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer cache.Close()

	up, _, hits := newUpstream(t)
	app := newApp(t, up.URL, cache)

	var last int
	for i := 0; i < loginAttemptsPerMinute+1; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login/", strings.NewReader(`{"email":"Ada@Example.com","password":"x"}`))
		req.Header.Set("Content-Type", "application/json")
		resp, _ := do(t, app, req)
		last = resp.StatusCode
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after %d attempts, got %d", loginAttemptsPerMinute, last)
	}
	if n := atomic.LoadInt32(hits); n != loginAttemptsPerMinute {
		t.Fatalf("upstream saw %d attempts", n)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login/", strings.NewReader(`{"email":"grace@example.com","password":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	if resp, _ := do(t, app, req); resp.StatusCode != http.StatusCreated {
		t.Fatalf("other account throttled: %d", resp.StatusCode)
	}
}
