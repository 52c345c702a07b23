package middleware

import (
	"context"
	"net/http"
	"strings"

	"batchgen/internal/statuslabel"
)

type localeContextKey struct{}

var LocaleKey = localeContextKey{}

// I18N resolves the caller's locale from the locale query parameter, the
// X-Locale header or Accept-Language, in that order.
func I18N(defaultLocale string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			locale := detectLocale(r, defaultLocale)
			ctx := context.WithValue(r.Context(), LocaleKey, locale)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func detectLocale(r *http.Request, fallback string) string {
	if v := strings.TrimSpace(r.URL.Query().Get("locale")); v != "" {
		return statuslabel.Locale(v)
	}
	if v := strings.TrimSpace(r.Header.Get("X-Locale")); v != "" {
		return statuslabel.Locale(v)
	}
	if v := strings.TrimSpace(r.Header.Get("Accept-Language")); v != "" {
		return statuslabel.Locale(v)
	}
	return statuslabel.Locale(fallback)
}

func LocaleFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(LocaleKey).(string); ok {
		return v
	}
	return "en"
}
