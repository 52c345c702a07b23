package httpapi

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"batchgen/internal/batch"
	"batchgen/internal/credentials"
	"batchgen/internal/http/handlers"
	"batchgen/internal/settings"
)

type nopProvider struct{}

func (nopProvider) Submit(ctx context.Context, in batch.Input, secret string) (string, error) {
	return "req", nil
}

func (nopProvider) Query(ctx context.Context, requestID, secret string) (batch.ProviderStatus, error) {
	return batch.ProviderStatus{State: batch.ProviderRunning}, nil
}

func (nopProvider) Fetch(ctx context.Context, url string) (io.ReadCloser, string, error) {
	return io.NopCloser(strings.NewReader("")), "", nil
}

type nopStore struct{}

func (nopStore) WriteStream(ctx context.Context, key string, r io.Reader) (string, error) {
	return key, nil
}

func (nopStore) Path(key string) string { return key }

type nopPicker struct{}

func (nopPicker) Pick() (credentials.Entry, error) { return credentials.Entry{Secret: "sk"}, nil }

func newRouter(t *testing.T) http.Handler {
	t.Helper()
	engine, err := batch.NewEngine(batch.Options{
		Provider:    nopProvider{},
		Fetcher:     nopProvider{},
		Credentials: nopPicker{},
		Store:       nopStore{},
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	t.Cleanup(engine.Close)
	app := handlers.NewApp(context.Background(), engine, settings.Defaults{}, nil)
	return NewRouter(app, zerolog.Nop(), Options{AllowedOrigins: []string{"https://ops.example.com"}, MutationsPerMinute: 3})
}

func TestRouterServesControlRoutes(t *testing.T) {
	router := newRouter(t)

	cases := []struct {
		method string
		path   string
		body   string
		want   int
	}{
		{http.MethodGet, "/v1/healthz", "", http.StatusOK},
		{http.MethodGet, "/v1/stats", "", http.StatusOK},
		{http.MethodGet, "/v1/openapi.json", "", http.StatusOK},
		{http.MethodGet, "/v1/docs", "", http.StatusOK},
		{http.MethodGet, "/v1/jobs", "", http.StatusOK},
		{http.MethodPost, "/v1/jobs/import", "prompt\nA fox\n", http.StatusCreated},
		{http.MethodGet, "/v1/jobs/export", "", http.StatusOK},
		{http.MethodGet, "/v1/jobs/artifacts", "", http.StatusNotFound},
		{http.MethodGet, "/v1/run", "", http.StatusMethodNotAllowed},
		{http.MethodGet, "/v1/unknown", "", http.StatusNotFound},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, tc.path, strings.NewReader(tc.body))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Fatalf("%s %s: expected %d, got %d", tc.method, tc.path, tc.want, rec.Code)
		}
	}
}

func TestRouterHealthWithLocaleHeader(t *testing.T) {
	router := newRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/healthz", nil)
	req.Header.Set("Accept-Language", "id-ID")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestRouterLimitsMutations(t *testing.T) {
	router := newRouter(t)
	codes := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		req := httptest.NewRequest(http.MethodPost, "/v1/jobs/import", strings.NewReader("prompt\nfox\n"))
		req.RemoteAddr = "198.51.100.7:4000"
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	if codes[2] != http.StatusCreated || codes[3] != http.StatusTooManyRequests {
		t.Fatalf("unexpected codes %v", codes)
	}
}

func TestRouterAnswersPreflight(t *testing.T) {
	router := newRouter(t)
	req := httptest.NewRequest(http.MethodOptions, "/v1/run", nil)
	req.Header.Set("Origin", "https://ops.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
}
