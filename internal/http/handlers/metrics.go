package handlers

import (
	"net/http"

	"batchgen/internal/batch"
	"batchgen/internal/middleware"
	"batchgen/internal/statuslabel"
)

var reportedStatuses = []batch.Status{
	batch.StatusPending,
	batch.StatusSubmitted,
	batch.StatusRunning,
	batch.StatusSucceeded,
	batch.StatusFailed,
	batch.StatusTimeout,
	batch.StatusCanceled,
}

type statusCount struct {
	Status string `json:"status"`
	Label  string `json:"label"`
	Count  int    `json:"count"`
}

// Stats reports how many jobs sit in each status and which error codes the
// failed ones carry.
func (a *App) Stats(w http.ResponseWriter, r *http.Request) {
	locale := middleware.LocaleFromContext(r.Context())
	records := a.Engine.Snapshot()

	byStatus := make(map[batch.Status]int, len(reportedStatuses))
	errorCodes := map[string]int{}
	for _, rec := range records {
		byStatus[rec.Status]++
		if rec.ErrorCode != "" && rec.Status.Terminal() && rec.Status != batch.StatusSucceeded {
			errorCodes[string(rec.ErrorCode)]++
		}
	}

	counts := make([]statusCount, 0, len(reportedStatuses))
	for _, s := range reportedStatuses {
		counts = append(counts, statusCount{Status: string(s), Label: statuslabel.Label(s, locale), Count: byStatus[s]})
	}
	a.json(w, http.StatusOK, map[string]any{
		"total":       len(records),
		"running":     a.running.Load(),
		"statuses":    counts,
		"error_codes": errorCodes,
	})
}
