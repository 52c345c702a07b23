package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// SubmitterOptions configures a Submitter.
type SubmitterOptions struct {
	Concurrency int
	BatchDelay  time.Duration
	Backoff     Backoff
	Sleep       Sleeper
	// OnDelay, when set, observes every retry delay before it is slept.
	OnDelay func(jobID string, code ErrorCode, d time.Duration)
	Logger  *zerolog.Logger
}

// Submitter drains pending and retryable failed jobs into the provider.
type Submitter struct {
	ledger      *Ledger
	provider    Provider
	credentials CredentialPicker
	concurrency int
	batchDelay  time.Duration
	backoff     Backoff
	sleep       Sleeper
	onDelay     func(string, ErrorCode, time.Duration)
	logger      zerolog.Logger
}

// NewSubmitter wires a submitter onto ledger.
func NewSubmitter(ledger *Ledger, provider Provider, creds CredentialPicker, opts SubmitterOptions) *Submitter {
	s := &Submitter{
		ledger:      ledger,
		provider:    provider,
		credentials: creds,
		concurrency: opts.Concurrency,
		batchDelay:  opts.BatchDelay,
		backoff:     opts.Backoff.normalized(),
		sleep:       opts.Sleep,
		onDelay:     opts.OnDelay,
		logger:      zerolog.Nop(),
	}
	if s.concurrency <= 0 {
		s.concurrency = 1
	}
	if s.sleep == nil {
		s.sleep = sleepContext
	}
	if opts.Logger != nil {
		s.logger = *opts.Logger
	}
	return s
}

// Eligible reports whether the submitter would pick rec up.
func Eligible(rec Record) bool {
	switch rec.Status {
	case StatusPending:
		return rec.AttemptsLeft()
	case StatusFailed:
		return rec.ErrorCode.Retryable() && rec.AttemptsLeft()
	default:
		return false
	}
}

// SubmitPending processes every eligible job in ledger order, in batches of
// Concurrency jobs with BatchDelay between batches. Per-job failures are
// recorded on the ledger and logged; only context cancellation is returned.
func (s *Submitter) SubmitPending(ctx context.Context) error {
	var ids []string
	for _, rec := range s.ledger.ListByStatus(StatusPending, StatusFailed) {
		if Eligible(rec) {
			ids = append(ids, rec.ID)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	s.logger.Info().Int("jobs", len(ids)).Int("concurrency", s.concurrency).Msg("batch: submitting pending jobs")

	for start := 0; start < len(ids); start += s.concurrency {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := start + s.concurrency
		if end > len(ids) {
			end = len(ids)
		}

		var g errgroup.Group
		g.SetLimit(s.concurrency)
		for _, id := range ids[start:end] {
			g.Go(func() error {
				if err := s.submitOne(ctx, id); err != nil {
					s.logger.Warn().Err(err).Str("job_id", id).Msg("batch: submission gave up")
				}
				return nil
			})
		}
		_ = g.Wait()

		if end < len(ids) {
			if err := s.sleep(ctx, s.batchDelay); err != nil {
				return err
			}
		}
	}
	return ctx.Err()
}

// submitOne runs the retry loop for a single job.
func (s *Submitter) submitOne(ctx context.Context, id string) error {
	for {
		rec, err := s.ledger.Update(id, func(r *Record) error {
			if !r.AttemptsLeft() {
				return ErrAttemptsExhausted
			}
			r.Attempts++
			r.Status = StatusSubmitted
			return nil
		})
		if err != nil {
			return err
		}
		log := s.logger.With().Str("job_id", id).Int("attempt", rec.Attempts).Int("max_attempts", rec.MaxAttempts).Logger()

		cred, err := s.credentials.Pick()
		if err != nil {
			s.fail(id, CodeSubmitError, err)
			return fmt.Errorf("pick credential: %w", err)
		}

		requestID, err := s.provider.Submit(ctx, rec.Input, cred.Secret)
		if err == nil {
			_, _ = s.ledger.Update(id, func(r *Record) error {
				r.RequestID = requestID
				r.Credential = cred.Name
				r.Status = StatusRunning
				r.Progress = 0
				r.ErrorCode = ""
				r.ErrorMessage = ""
				return nil
			})
			log.Info().Str("request_id", requestID).Str("credential", cred.Name).Msg("batch: job submitted")
			return nil
		}

		code := CodeSubmitError
		delay := s.backoff.Delay(rec.Attempts - 1)
		if IsRateLimited(err) {
			code = CodeRateLimit
			delay = s.backoff.RateLimitDelay(retryAfter(err))
		}
		s.fail(id, code, err)
		log.Warn().Err(err).Str("code", string(code)).Str("credential", cred.Name).Msg("batch: submission failed")

		if rec.Attempts >= rec.MaxAttempts {
			return fmt.Errorf("job %s: %w: %w", id, ErrAttemptsExhausted, err)
		}
		if s.onDelay != nil {
			s.onDelay(id, code, delay)
		}
		if err := s.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func (s *Submitter) fail(id string, code ErrorCode, cause error) {
	_, _ = s.ledger.Update(id, func(r *Record) error {
		r.Status = StatusFailed
		r.ErrorCode = code
		r.ErrorMessage = cause.Error()
		return nil
	})
}
