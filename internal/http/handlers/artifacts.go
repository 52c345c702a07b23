package handlers

import (
	"io"
	"net/http"
	"os"
	"path/filepath"

	"batchgen/internal/batch"
	"batchgen/pkg/zip"
)

// ArchiveArtifacts streams every materialized artifact as one zip file.
func (a *App) ArchiveArtifacts(w http.ResponseWriter, r *http.Request) {
	var entries []zip.Entry
	for _, rec := range a.Engine.Ledger().ListByStatus(batch.StatusSucceeded) {
		if rec.LocalPath == "" {
			continue
		}
		name := rec.FileName
		if name == "" {
			name = filepath.Base(rec.LocalPath)
		}
		local := rec.LocalPath
		entries = append(entries, zip.Entry{
			Name: name,
			Open: func() (io.ReadCloser, error) { return a.openArtifact(local) },
		})
	}
	if len(entries) == 0 {
		a.error(w, http.StatusNotFound, "not_found", "no artifacts have been saved yet")
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="artifacts.zip"`)
	skipped, err := zip.WriteArchive(w, entries)
	if err != nil {
		a.Logger.Error().Err(err).Msg("http: archive aborted")
		return
	}
	if len(skipped) > 0 {
		a.Logger.Warn().Strs("files", skipped).Msg("http: artifacts missing from archive")
	}
}

func (a *App) openArtifact(path string) (io.ReadCloser, error) {
	if a.OpenArtifact != nil {
		return a.OpenArtifact(path)
	}
	return os.Open(path)
}
