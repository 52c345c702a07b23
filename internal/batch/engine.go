package batch

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Options wires an Engine. Provider, Credentials, Fetcher and Store are
// required; zero tuning values fall back to the infra.LoadConfig defaults.
type Options struct {
	Provider    Provider
	Fetcher     Fetcher
	Credentials CredentialPicker
	Store       ArtifactStore
	Listener    Listener

	Concurrency  int
	MaxAttempts  int
	BatchDelay   time.Duration
	Backoff      Backoff
	PollInterval time.Duration
	PollTimeout  time.Duration

	Sleep   Sleeper
	Clock   func() time.Time
	NewID   func() string
	OnDelay func(jobID string, code ErrorCode, d time.Duration)
	Logger  *zerolog.Logger
}

// Engine is the façade over ledger, submitter, poller and materializer.
type Engine struct {
	ledger       *Ledger
	submitter    *Submitter
	poller       *Poller
	materializer *Materializer

	maxAttempts int
	newID       func() string
	logger      zerolog.Logger

	enqueueMu sync.Mutex
	runMu     sync.Mutex
}

// NewEngine validates opts and assembles the pipeline.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Provider == nil {
		return nil, ErrProviderRequired
	}
	if opts.Credentials == nil {
		return nil, ErrCredentialsMissing
	}
	if opts.Fetcher == nil || opts.Store == nil {
		return nil, errMissingStore
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 3
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}

	ledger := NewLedger(LedgerOptions{Listener: opts.Listener, Logger: &logger, Clock: opts.Clock})
	e := &Engine{
		ledger: ledger,
		submitter: NewSubmitter(ledger, opts.Provider, opts.Credentials, SubmitterOptions{
			Concurrency: opts.Concurrency,
			BatchDelay:  opts.BatchDelay,
			Backoff:     opts.Backoff,
			Sleep:       opts.Sleep,
			OnDelay:     opts.OnDelay,
			Logger:      &logger,
		}),
		poller: NewPoller(ledger, opts.Provider, opts.Credentials, PollerOptions{
			Interval: opts.PollInterval,
			Timeout:  opts.PollTimeout,
			Sleep:    opts.Sleep,
			Clock:    opts.Clock,
			Logger:   &logger,
		}),
		materializer: NewMaterializer(ledger, opts.Fetcher, opts.Store, MaterializerOptions{
			Concurrency: opts.Concurrency,
			Clock:       opts.Clock,
			Logger:      &logger,
		}),
		maxAttempts: opts.MaxAttempts,
		newID:       opts.NewID,
		logger:      logger,
	}
	return e, nil
}

// Ledger exposes the underlying ledger for collaborators such as the
// persistence layer.
func (e *Engine) Ledger() *Ledger {
	return e.ledger
}

// ImportBatch turns bulk rows into fresh pending records. Rows keep their id
// when they carry one. Nothing is inserted; pass the result to Enqueue.
func (e *Engine) ImportBatch(rows []Row) []Record {
	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		id := strings.TrimSpace(row.ID)
		if id == "" {
			id = e.newID()
		}
		records = append(records, Record{
			ID:          id,
			Status:      StatusPending,
			Input:       row.Input.clone(),
			MaxAttempts: e.maxAttempts,
			Fingerprint: Fingerprint(row.Input),
		})
	}
	return records
}

// Enqueue inserts records, skipping any whose fingerprint already belongs to
// a succeeded job. The returned slice holds, per input record, either the
// inserted record or the prior succeeded one.
func (e *Engine) Enqueue(records ...Record) []Record {
	e.enqueueMu.Lock()
	defer e.enqueueMu.Unlock()

	out := make([]Record, 0, len(records))
	for _, rec := range records {
		if rec.Fingerprint == "" {
			rec.Fingerprint = Fingerprint(rec.Input)
		}
		if prior, ok := e.findSucceeded(rec.Fingerprint); ok {
			e.logger.Info().Str("job_id", rec.ID).Str("prior_id", prior.ID).Msg("batch: duplicate of succeeded job skipped")
			out = append(out, prior)
			continue
		}
		if rec.MaxAttempts <= 0 {
			rec.MaxAttempts = e.maxAttempts
		}
		if e.ledger.Enqueue(rec) == 0 {
			continue
		}
		stored, _ := e.ledger.Get(rec.ID)
		out = append(out, stored)
	}
	return out
}

func (e *Engine) findSucceeded(fp string) (Record, bool) {
	for _, rec := range e.ledger.List() {
		if rec.Fingerprint == fp && rec.Status == StatusSucceeded {
			return rec, true
		}
	}
	return Record{}, false
}

// Restore reloads persisted records at startup without notifying the listener.
// A job caught between its submitted mark and the provider's answer has no
// request id to poll; it comes back as a retryable submit failure.
func (e *Engine) Restore(records []Record) int {
	records = append([]Record(nil), records...)
	for i, rec := range records {
		if (rec.Status == StatusSubmitted || rec.Status == StatusRunning) && rec.RequestID == "" {
			rec.Status = StatusFailed
			rec.ErrorCode = CodeSubmitError
			rec.ErrorMessage = "submission interrupted before the provider answered"
			records[i] = rec
			e.logger.Warn().Str("job_id", rec.ID).Int("attempt", rec.Attempts).Msg("batch: restored interrupted submission")
		}
	}
	return e.ledger.Restore(records...)
}

// Run drives one submit -> poll -> materialize pass. Passes are serialised;
// only context cancellation is reported as an error, per-job failures live
// on the records.
func (e *Engine) Run(ctx context.Context) error {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	started := time.Now()
	e.logger.Info().Int("jobs", len(e.ledger.List())).Msg("batch: run started")
	if err := e.submitter.SubmitPending(ctx); err != nil {
		return err
	}
	if err := e.poller.PollUntilComplete(ctx); err != nil {
		return err
	}
	if err := e.materializer.MaterializeAll(ctx); err != nil {
		return err
	}
	e.logger.Info().
		Int("succeeded", e.ledger.CountByStatus(StatusSucceeded)).
		Int("failed", e.ledger.CountByStatus(StatusFailed)).
		Int("timeout", e.ledger.CountByStatus(StatusTimeout)).
		Dur("elapsed", time.Since(started)).
		Msg("batch: run finished")
	return nil
}

// ExportBatch renders the ledger back into bulk rows.
func (e *Engine) ExportBatch() []Row {
	records := e.ledger.List()
	rows := make([]Row, len(records))
	for i, rec := range records {
		rows[i] = Row{
			ID:           rec.ID,
			Input:        rec.Input,
			Status:       rec.Status,
			LocalPath:    rec.LocalPath,
			FileName:     rec.FileName,
			ErrorCode:    rec.ErrorCode,
			ErrorMessage: rec.ErrorMessage,
		}
	}
	return rows
}

// Snapshot returns a copy of every record for reporting.
func (e *Engine) Snapshot() []Record {
	return e.ledger.List()
}

// Close flushes pending listener notifications.
func (e *Engine) Close() {
	e.ledger.Close()
}
