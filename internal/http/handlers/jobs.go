package handlers

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"batchgen/internal/batch"
	"batchgen/internal/bulk"
	"batchgen/internal/middleware"
	"batchgen/internal/statuslabel"
)

const maxImportBytes = 8 << 20

type jobView struct {
	ID           string    `json:"id"`
	Status       string    `json:"status"`
	StatusLabel  string    `json:"status_label"`
	Progress     float64   `json:"progress"`
	Attempts     int       `json:"attempts"`
	MaxAttempts  int       `json:"max_attempts"`
	Credential   string    `json:"credential,omitempty"`
	Prompt       string    `json:"prompt"`
	ResultURL    string    `json:"result_url,omitempty"`
	LocalPath    string    `json:"local_path,omitempty"`
	FileName     string    `json:"file_name,omitempty"`
	ErrorCode    string    `json:"error_code,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type importResponse struct {
	Imported int      `json:"imported"`
	Skipped  int      `json:"skipped"`
	JobIDs   []string `json:"job_ids"`
}

// ListJobs returns every job, optionally filtered by ?status=, with labels in
// the request locale.
func (a *App) ListJobs(w http.ResponseWriter, r *http.Request) {
	var records []batch.Record
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		status, ok := statuslabel.Parse(raw)
		if !ok {
			a.error(w, http.StatusBadRequest, "bad_request", "unknown status")
			return
		}
		records = a.Engine.Ledger().ListByStatus(status)
	} else {
		records = a.Engine.Snapshot()
	}

	locale := middleware.LocaleFromContext(r.Context())
	views := make([]jobView, 0, len(records))
	for _, rec := range records {
		views = append(views, jobView{
			ID:           rec.ID,
			Status:       string(rec.Status),
			StatusLabel:  statuslabel.Label(rec.Status, locale),
			Progress:     rec.Progress,
			Attempts:     rec.Attempts,
			MaxAttempts:  rec.MaxAttempts,
			Credential:   rec.Credential,
			Prompt:       rec.Input.Prompt,
			ResultURL:    rec.ResultURL,
			LocalPath:    rec.LocalPath,
			FileName:     rec.FileName,
			ErrorCode:    string(rec.ErrorCode),
			ErrorMessage: rec.ErrorMessage,
			CreatedAt:    rec.CreatedAt,
			UpdatedAt:    rec.UpdatedAt,
		})
	}
	a.json(w, http.StatusOK, map[string]any{"locale": locale, "jobs": views})
}

// ImportJobs enqueues the rows of a CSV sheet posted as the request body.
func (a *App) ImportJobs(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxImportBytes+1))
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "failed to read body")
		return
	}
	if len(body) > maxImportBytes {
		a.error(w, http.StatusRequestEntityTooLarge, "too_large", "sheet exceeds 8MB")
		return
	}
	rows, err := bulk.ReadCSV(bytes.NewReader(body))
	if err != nil {
		var rowErr *bulk.RowError
		if errors.As(err, &rowErr) {
			a.error(w, http.StatusUnprocessableEntity, "invalid_row", err.Error())
			return
		}
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if len(rows) == 0 {
		a.error(w, http.StatusBadRequest, "bad_request", "sheet has no rows")
		return
	}
	for i := range rows {
		a.Defaults.Apply(&rows[i].Input)
	}

	records := a.Engine.ImportBatch(rows)
	stored := a.Engine.Enqueue(records...)
	resp := importResponse{JobIDs: make([]string, 0, len(stored))}
	for i, rec := range stored {
		resp.JobIDs = append(resp.JobIDs, rec.ID)
		if i < len(records) && rec.ID != records[i].ID {
			resp.Skipped++
			continue
		}
		resp.Imported++
	}
	a.Logger.Info().Int("imported", resp.Imported).Int("skipped", resp.Skipped).Msg("http: sheet imported")
	a.json(w, http.StatusCreated, resp)
}

// Run starts a pass in the background. Only one pass runs at a time.
func (a *App) Run(w http.ResponseWriter, r *http.Request) {
	if !a.running.CompareAndSwap(false, true) {
		a.error(w, http.StatusConflict, "conflict", "a run is already in progress")
		return
	}
	a.runs.Add(1)
	go func() {
		defer a.runs.Done()
		defer a.running.Store(false)
		if err := a.Engine.Run(a.runCtx); err != nil {
			a.Logger.Warn().Err(err).Msg("http: run aborted")
		}
	}()
	a.json(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// ExportJobs streams the ledger as CSV. Statuses are labelled only when a
// locale was requested explicitly.
func (a *App) ExportJobs(w http.ResponseWriter, r *http.Request) {
	var label bulk.LabelFunc
	if r.URL.Query().Get("locale") != "" {
		label = statuslabel.For(middleware.LocaleFromContext(r.Context()))
	}
	var buf bytes.Buffer
	if err := bulk.WriteCSV(&buf, a.Engine.ExportBatch(), label); err != nil {
		a.Logger.Error().Err(err).Msg("http: export failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to export jobs")
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="jobs.csv"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
