package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"batchgen/internal/batch"
	"batchgen/internal/settings"
)

// App carries the dependencies of the control API.
type App struct {
	Engine   *batch.Engine
	Defaults settings.Defaults
	Logger   zerolog.Logger
	// OpenArtifact reads a saved artifact; os.Open when nil.
	OpenArtifact func(path string) (io.ReadCloser, error)

	// runCtx bounds background passes started by POST /v1/run; it is the
	// server lifetime, not the request.
	runCtx  context.Context
	running atomic.Bool
	runs    sync.WaitGroup
}

func NewApp(ctx context.Context, engine *batch.Engine, defaults settings.Defaults, logger *zerolog.Logger) *App {
	app := &App{Engine: engine, Defaults: defaults, Logger: zerolog.Nop(), runCtx: ctx}
	if logger != nil {
		app.Logger = *logger
	}
	return app
}

// Wait blocks until a background run started over HTTP has returned.
func (a *App) Wait() {
	a.runs.Wait()
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, kind, message string) {
	a.json(w, code, errorBody{Error: kind, Message: message})
}
