package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"batchgen/internal/credentials"
)

// PollerOptions configures a Poller.
type PollerOptions struct {
	Interval time.Duration
	Timeout  time.Duration
	Sleep    Sleeper
	Clock    func() time.Time
	Logger   *zerolog.Logger
}

// Poller advances in-flight jobs to a terminal state by querying the provider.
type Poller struct {
	ledger      *Ledger
	provider    Provider
	credentials CredentialPicker
	interval    time.Duration
	timeout     time.Duration
	sleep       Sleeper
	now         func() time.Time
	logger      zerolog.Logger
}

// NewPoller wires a poller onto ledger.
func NewPoller(ledger *Ledger, provider Provider, creds CredentialPicker, opts PollerOptions) *Poller {
	p := &Poller{
		ledger:      ledger,
		provider:    provider,
		credentials: creds,
		interval:    opts.Interval,
		timeout:     opts.Timeout,
		sleep:       opts.Sleep,
		now:         opts.Clock,
		logger:      zerolog.Nop(),
	}
	if p.interval <= 0 {
		p.interval = 5 * time.Second
	}
	if p.timeout <= 0 {
		p.timeout = 10 * time.Minute
	}
	if p.sleep == nil {
		p.sleep = sleepContext
	}
	if p.now == nil {
		p.now = time.Now
	}
	if opts.Logger != nil {
		p.logger = *opts.Logger
	}
	return p
}

// PollUntilComplete sweeps every submitted or running job until none is
// running or Timeout has elapsed, in which case the stragglers are marked
// timeout. Per-job query errors are logged and retried on the next sweep.
func (p *Poller) PollUntilComplete(ctx context.Context) error {
	start := p.now()
	for sweep := 1; ; sweep++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		var g errgroup.Group
		for _, rec := range p.inFlight() {
			g.Go(func() error {
				p.pollOne(ctx, rec)
				return nil
			})
		}
		_ = g.Wait()

		if err := ctx.Err(); err != nil {
			return err
		}
		running := len(p.inFlight())
		p.logger.Debug().Int("sweep", sweep).Int("running", running).Msg("batch: poll sweep done")
		if running == 0 {
			return nil
		}
		if elapsed := p.now().Sub(start); elapsed >= p.timeout {
			p.expire(elapsed)
			return nil
		}
		if err := p.sleep(ctx, p.interval); err != nil {
			return err
		}
	}
}

func (p *Poller) pollOne(ctx context.Context, rec Record) {
	log := p.logger.With().Str("job_id", rec.ID).Str("request_id", rec.RequestID).Logger()
	cred, err := p.credentialFor(rec)
	if err != nil {
		log.Warn().Err(err).Msg("batch: no credential for poll")
		return
	}
	status, err := p.provider.Query(ctx, rec.RequestID, cred.Secret)
	if err != nil {
		log.Warn().Err(err).Str("credential", cred.Name).Msg("batch: poll failed")
		return
	}

	var patch Patch
	switch status.State {
	case ProviderQueued, ProviderRunning:
		patch = func(r *Record) error {
			r.Status = StatusRunning
			if status.Progress != nil {
				r.Progress = *status.Progress
			}
			return nil
		}
	case ProviderFailed:
		msg := status.ErrorMessage
		if status.ErrorCode != "" {
			msg = fmt.Sprintf("%s: %s", status.ErrorCode, status.ErrorMessage)
		}
		if msg == "" {
			msg = "provider reported failure"
		}
		patch = func(r *Record) error {
			r.Status = StatusFailed
			r.ErrorCode = CodeProviderError
			r.ErrorMessage = msg
			return nil
		}
	case ProviderSucceeded:
		if status.ResultURL == "" {
			patch = func(r *Record) error {
				r.Status = StatusFailed
				r.ErrorCode = CodeProviderError
				r.ErrorMessage = "provider reported success without a result"
				return nil
			}
			break
		}
		patch = func(r *Record) error {
			r.Status = StatusSucceeded
			r.ResultURL = status.ResultURL
			r.Progress = 1
			r.ErrorCode = ""
			r.ErrorMessage = ""
			return nil
		}
	default:
		log.Warn().Str("state", string(status.State)).Msg("batch: unknown provider state")
		return
	}

	updated, err := p.ledger.Update(rec.ID, func(r *Record) error {
		if r.Status.Terminal() || r.RequestID != rec.RequestID {
			return errStale
		}
		return patch(r)
	})
	switch {
	case err == errStale:
		return
	case err != nil:
		log.Warn().Err(err).Msg("batch: poll update rejected")
	case updated.Status.Terminal():
		log.Info().Str("status", string(updated.Status)).Str("code", string(updated.ErrorCode)).Msg("batch: job finished")
	}
}

// credentialFor returns the entry that submitted rec, falling back to the
// next pooled entry when it is unknown or no longer pooled.
func (p *Poller) credentialFor(rec Record) (credentials.Entry, error) {
	if lookup, ok := p.credentials.(CredentialLookup); ok && rec.Credential != "" {
		if cred, found := lookup.Lookup(rec.Credential); found {
			return cred, nil
		}
		p.logger.Warn().Str("job_id", rec.ID).Str("credential", rec.Credential).Msg("batch: submitting credential gone, polling with next entry")
	}
	return p.credentials.Pick()
}

// inFlight lists jobs the provider has accepted but not finished.
func (p *Poller) inFlight() []Record {
	active := p.ledger.ListByStatus(StatusSubmitted, StatusRunning)
	out := active[:0]
	for _, rec := range active {
		if rec.RequestID != "" {
			out = append(out, rec)
		}
	}
	return out
}

// expire forces every job still in flight to timeout.
func (p *Poller) expire(elapsed time.Duration) {
	msg := fmt.Sprintf("polling deadline of %s exceeded", p.timeout)
	for _, rec := range p.inFlight() {
		_, err := p.ledger.Update(rec.ID, func(r *Record) error {
			if r.Status != StatusRunning && r.Status != StatusSubmitted {
				return errStale
			}
			r.Status = StatusTimeout
			r.ErrorCode = CodeTimeout
			r.ErrorMessage = msg
			return nil
		})
		if err == nil {
			p.logger.Warn().Str("job_id", rec.ID).Dur("elapsed", elapsed).Msg("batch: job timed out")
		}
	}
}
