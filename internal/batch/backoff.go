package batch

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// Backoff computes retry delays.
//
// Ordinary failures wait min(Base*Multiplier^attempt, Max), reduced by up to
// Jitter (a fraction in [0,1)) so concurrent retries spread out. Jitter only
// ever shortens a delay. Rate-limited failures wait the fixed Cooldown, or
// the provider's Retry-After when that is longer.
type Backoff struct {
	Base       time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64
	Cooldown   time.Duration

	rand func() float64
}

// DefaultBackoff mirrors the defaults of infra.LoadConfig.
func DefaultBackoff() Backoff {
	return Backoff{
		Base:       time.Second,
		Max:        30 * time.Second,
		Multiplier: 2,
		Jitter:     0.2,
		Cooldown:   time.Minute,
	}
}

func (b Backoff) normalized() Backoff {
	def := DefaultBackoff()
	if b.Base <= 0 {
		b.Base = def.Base
	}
	if b.Max <= 0 {
		b.Max = def.Max
	}
	if b.Max < b.Base {
		b.Max = b.Base
	}
	if b.Multiplier < 1 {
		b.Multiplier = def.Multiplier
	}
	if b.Jitter < 0 || b.Jitter >= 1 {
		b.Jitter = 0
	}
	if b.Cooldown <= b.Max {
		b.Cooldown = 2 * b.Max
	}
	if b.rand == nil {
		b.rand = rand.Float64
	}
	return b
}

// Raw returns the jitter-free delay before retry number retry (0 for the
// first retry).
func (b Backoff) Raw(retry int) time.Duration {
	if retry < 0 {
		retry = 0
	}
	d := float64(b.Base) * math.Pow(b.Multiplier, float64(retry))
	if d > float64(b.Max) || math.IsInf(d, 0) || math.IsNaN(d) {
		return b.Max
	}
	return time.Duration(d)
}

// Delay returns the wait before retry number retry after an ordinary failure.
func (b Backoff) Delay(retry int) time.Duration {
	raw := b.Raw(retry)
	if b.Jitter <= 0 || b.rand == nil {
		return raw
	}
	return raw - time.Duration(float64(raw)*b.Jitter*b.rand())
}

// RateLimitDelay returns the wait after a rate-limited failure. It is never
// shorter than Cooldown and, because Cooldown exceeds Max, always longer
// than Delay for the same retry.
func (b Backoff) RateLimitDelay(suggested time.Duration) time.Duration {
	if suggested > b.Cooldown {
		return suggested
	}
	return b.Cooldown
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
