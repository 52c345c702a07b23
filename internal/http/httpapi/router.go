package httpapi

import (
	stdhttp "net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"batchgen/internal/http/handlers"
	appmw "batchgen/internal/middleware"
)

// Options tunes the router. Zero values disable CORS and the limiter.
type Options struct {
	AllowedOrigins []string
	// MutationsPerMinute caps imports and runs per client IP.
	MutationsPerMinute int
	DefaultLocale      string
}

func NewRouter(app *handlers.App, logger zerolog.Logger, opts Options) stdhttp.Handler {
	if opts.DefaultLocale == "" {
		opts.DefaultLocale = "en"
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(appmw.Logger(logger), appmw.CORS(opts.AllowedOrigins), appmw.I18N(opts.DefaultLocale))

	limited := appmw.RateLimit(opts.MutationsPerMinute, time.Minute)

	// Health & docs
	r.Get("/v1/healthz", app.Health)
	r.Get("/v1/stats", app.Stats)
	r.Get("/v1/openapi.json", app.OpenAPIJSON)
	r.Get("/v1/docs", app.OpenAPIDocs)

	r.Route("/v1/jobs", func(r chi.Router) {
		r.Get("/", app.ListJobs)
		r.With(limited).Post("/import", app.ImportJobs)
		r.Get("/export", app.ExportJobs)
		r.Get("/artifacts", app.ArchiveArtifacts)
	})
	r.With(limited).Post("/v1/run", app.Run)

	return r
}
