package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDetectLocale(t *testing.T) {
	tests := []struct {
		name     string
		target   string
		setup    func(r *http.Request)
		fallback string
		want     string
	}{
		{
			name:   "query parameter wins",
			target: "/?locale=zh-CN",
			setup: func(r *http.Request) {
				r.Header.Set("X-Locale", "id")
			},
			want: "zh",
		},
		{
			name: "x-locale overrides accept-language",
			setup: func(r *http.Request) {
				r.Header.Set("X-Locale", "ID")
				r.Header.Set("Accept-Language", "zh-CN")
			},
			want: "id",
		},
		{
			name: "accept-language used",
			setup: func(r *http.Request) {
				r.Header.Set("Accept-Language", "id-ID,en;q=0.8")
			},
			want: "id",
		},
		{
			name:     "configured fallback",
			fallback: "zh",
			want:     "zh",
		},
		{
			name: "default to en",
			want: "en",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			target := tc.target
			if target == "" {
				target = "/"
			}
			req := httptest.NewRequest(http.MethodGet, target, nil)
			if tc.setup != nil {
				tc.setup(req)
			}
			if got := detectLocale(req, tc.fallback); got != tc.want {
				t.Fatalf("detectLocale() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestI18NStoresLocale(t *testing.T) {
	var got string
	handler := I18N("en")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = LocaleFromContext(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Language", "zh-Hans")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if got != "zh" {
		t.Fatalf("expected zh in context, got %q", got)
	}
}

func TestLocaleFromContext(t *testing.T) {
	if got := LocaleFromContext(context.Background()); got != "en" {
		t.Fatalf("expected default en, got %q", got)
	}
	ctx := context.WithValue(context.Background(), LocaleKey, "id")
	if got := LocaleFromContext(ctx); got != "id" {
		t.Fatalf("expected id, got %q", got)
	}
}
