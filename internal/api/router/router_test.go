package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/reading-list/internal/api/middleware"
	"github.com/Adithya-Monish-Kumar-K/reading-list/internal/article/articletest"
	"github.com/Adithya-Monish-Kumar-K/reading-list/internal/article/handler"
	"github.com/Adithya-Monish-Kumar-K/reading-list/internal/article/submitter"
	"github.com/Adithya-Monish-Kumar-K/reading-list/internal/article/task"
	"github.com/Adithya-Monish-Kumar-K/reading-list/internal/auth/apikey"
	"github.com/Adithya-Monish-Kumar-K/reading-list/internal/auth/ratelimit"
	"github.com/Adithya-Monish-Kumar-K/reading-list/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/reading-list/pkg/metrics"
	pkgmw "github.com/Adithya-Monish-Kumar-K/reading-list/pkg/middleware"
)

type keys map[string]string

func (k keys) Validate(ctx context.Context, raw string) (*apikey.KeyInfo, error) {
	if owner, ok := k[raw]; ok {
		return &apikey.KeyInfo{OwnerID: owner, RateLimit: 100}, nil
	}
	return nil, apikey.ErrInvalidKey
}

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	store := articletest.NewMemStore()
	sub := submitter.New(store, task.NewEncoder(task.Options{}), &articletest.Queue{})
	checker := health.NewChecker()
	checker.Register("store", func(ctx context.Context) health.ComponentHealth {
		return health.ComponentHealth{Status: health.StatusUp}
	})

	srv := httptest.NewServer(New(Deps{
		Articles:       handler.New(sub),
		Health:         checker,
		Metrics:        metrics.New(nil),
		Validator:      keys{"k1": "u1", "k2": "u2"},
		Limiter:        ratelimit.New(time.Minute),
		DefaultLimit:   100,
		CORS:           middleware.DefaultCORSConfig(),
		RequestTimeout: 5 * time.Second,
	}))
	t.Cleanup(srv.Close)
	return srv
}

func request(t *testing.T, method, url, key, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if key != "" {
		req.Header.Set("x-auth-token", key)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestSubmitListDeleteFlow(t *testing.T) {
	srv := newServer(t)

	resp := request(t, http.MethodPost, srv.URL+"/api/articles", "k1", `{"url":"https://example.com/a"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("submit status = %d", resp.StatusCode)
	}
	if resp.Header.Get(pkgmw.RequestIDHeader) == "" {
		t.Error("responses should carry a request id")
	}
	var created map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	id, _ := created["_id"].(string)

	resp = request(t, http.MethodGet, srv.URL+"/api/articles", "k2", "")
	var other []map[string]any
	json.NewDecoder(resp.Body).Decode(&other)
	if len(other) != 0 {
		t.Errorf("u2 must not see u1's articles, got %v", other)
	}

	resp = request(t, http.MethodGet, srv.URL+"/api/articles", "k1", "")
	var mine []map[string]any
	json.NewDecoder(resp.Body).Decode(&mine)
	if len(mine) != 1 || mine[0]["_id"] != id {
		t.Fatalf("unexpected list %v", mine)
	}

	resp = request(t, http.MethodDelete, srv.URL+"/api/articles/"+id, "k1", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("delete status = %d", resp.StatusCode)
	}
	resp = request(t, http.MethodDelete, srv.URL+"/api/articles/"+id, "k1", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", resp.StatusCode)
	}
}

func TestUnauthenticatedRequestsRejected(t *testing.T) {
	srv := newServer(t)
	resp := request(t, http.MethodGet, srv.URL+"/api/articles", "", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
	resp = request(t, http.MethodGet, srv.URL+"/api/articles", "bogus", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestPublicEndpoints(t *testing.T) {
	srv := newServer(t)
	for _, path := range []string{"/health", "/health/live", "/health/ready", "/metrics"} {
		resp := request(t, http.MethodGet, srv.URL+path, "", "")
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s: status = %d", path, resp.StatusCode)
		}
	}
}
