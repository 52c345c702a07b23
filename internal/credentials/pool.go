package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// ErrNoCredentials is wrapped by ConfigurationError.
var ErrNoCredentials = errors.New("credentials: no usable credentials")

var (
	// ErrNotInitialized is returned by Peek and Pick before Init succeeded.
	ErrNotInitialized = errors.New("credentials: pool not initialized")
	// ErrAlreadyInitialized is returned by every Init after the first.
	ErrAlreadyInitialized = errors.New("credentials: pool already initialized")
)

// ConfigurationError reports that no source yielded a usable credential.
// Nothing can be submitted without one, so it is fatal for the engine.
type ConfigurationError struct {
	Checked []string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("credentials: no usable credentials found (checked: %s)", strings.Join(e.Checked, ", "))
}

func (e *ConfigurationError) Unwrap() error {
	return ErrNoCredentials
}

// Entry is one API credential.
type Entry struct {
	Name     string
	Secret   string
	Platform string
	Source   string
	LastUsed time.Time
}

// String never prints the secret.
func (e Entry) String() string {
	return fmt.Sprintf("%s/%s (%s)", e.Platform, e.Name, MaskSecret(e.Secret))
}

// MaskSecret keeps the last four characters of s.
func MaskSecret(s string) string {
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", len(s)-4) + s[len(s)-4:]
}

// Source yields credential candidates.
type Source interface {
	Name() string
	Candidates(ctx context.Context) ([]Entry, error)
}

// PlatformFilter decides whether a candidate may join the pool.
type PlatformFilter func(Entry) bool

// PlatformIs accepts candidates tagged with platform, case-insensitively.
func PlatformIs(platform string) PlatformFilter {
	platform = strings.TrimSpace(platform)
	return func(e Entry) bool {
		return strings.EqualFold(strings.TrimSpace(e.Platform), platform)
	}
}

// UsageRecorder persists last-used timestamps.
type UsageRecorder interface {
	RecordUse(ctx context.Context, e Entry, at time.Time) error
}

// PoolOptions configures a Pool.
type PoolOptions struct {
	Sources  []Source
	Filter   PlatformFilter
	Recorder UsageRecorder
	Clock    func() time.Time
	Logger   *zerolog.Logger
}

// Pool hands out credentials round-robin. Its composition is fixed by Init.
type Pool struct {
	sources  []Source
	filter   PlatformFilter
	recorder UsageRecorder
	now      func() time.Time
	logger   zerolog.Logger

	initDone atomic.Bool
	ready    atomic.Bool
	entries  []Entry
	counter  atomic.Uint64

	mu       sync.Mutex
	lastUsed []time.Time
	pending  sync.WaitGroup
}

// NewPool builds an uninitialized pool.
func NewPool(opts PoolOptions) *Pool {
	p := &Pool{
		sources:  opts.Sources,
		filter:   opts.Filter,
		recorder: opts.Recorder,
		now:      opts.Clock,
		logger:   zerolog.Nop(),
	}
	if p.now == nil {
		p.now = time.Now
	}
	if opts.Logger != nil {
		p.logger = *opts.Logger
	}
	return p
}

// Init loads candidates from every source in order, drops blanks, entries
// rejected by the platform filter and duplicate secrets. A failing source is
// logged and skipped. The pool is fixed afterwards; calling Init again
// returns ErrAlreadyInitialized.
func (p *Pool) Init(ctx context.Context) error {
	if !p.initDone.CompareAndSwap(false, true) {
		return ErrAlreadyInitialized
	}
	return p.load(ctx)
}

func (p *Pool) load(ctx context.Context) error {
	seen := make(map[string]struct{})
	checked := make([]string, 0, len(p.sources))
	var entries []Entry
	for _, src := range p.sources {
		checked = append(checked, src.Name())
		candidates, err := src.Candidates(ctx)
		if err != nil {
			p.logger.Warn().Err(err).Str("source", src.Name()).Msg("credentials: source failed")
			continue
		}
		kept := 0
		for _, c := range candidates {
			c.Secret = strings.TrimSpace(c.Secret)
			if c.Secret == "" {
				continue
			}
			if p.filter != nil && !p.filter(c) {
				continue
			}
			if _, dup := seen[c.Secret]; dup {
				continue
			}
			seen[c.Secret] = struct{}{}
			if c.Source == "" {
				c.Source = src.Name()
			}
			if c.Name == "" {
				c.Name = fmt.Sprintf("%s-%d", src.Name(), kept+1)
			}
			entries = append(entries, c)
			kept++
		}
		p.logger.Debug().Str("source", src.Name()).Int("candidates", len(candidates)).Int("kept", kept).Msg("credentials: source loaded")
	}
	if len(entries) == 0 {
		return &ConfigurationError{Checked: checked}
	}
	p.entries = entries
	p.lastUsed = make([]time.Time, len(entries))
	for i, e := range entries {
		p.lastUsed[i] = e.LastUsed
	}
	p.ready.Store(true)
	p.logger.Info().Int("credentials", len(entries)).Msg("credentials: pool ready")
	return nil
}

// Size returns the number of pooled credentials.
func (p *Pool) Size() int {
	if !p.ready.Load() {
		return 0
	}
	return len(p.entries)
}

// Peek returns the entry the next Pick will hand out without advancing.
func (p *Pool) Peek() (Entry, error) {
	if !p.ready.Load() {
		return Entry{}, ErrNotInitialized
	}
	idx := int(p.counter.Load() % uint64(len(p.entries)))
	return p.entry(idx), nil
}

// Pick returns the current entry and advances the round-robin index. The
// last-used timestamp is recorded asynchronously. Safe for concurrent use.
func (p *Pool) Pick() (Entry, error) {
	if !p.ready.Load() {
		return Entry{}, ErrNotInitialized
	}
	idx := int((p.counter.Add(1) - 1) % uint64(len(p.entries)))
	entry := p.entry(idx)
	at := p.now()

	p.pending.Add(1)
	go func() {
		defer p.pending.Done()
		p.mu.Lock()
		if at.After(p.lastUsed[idx]) {
			p.lastUsed[idx] = at
		}
		p.mu.Unlock()
		if p.recorder == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := p.recorder.RecordUse(ctx, entry, at); err != nil {
			p.logger.Warn().Err(err).Str("credential", entry.Name).Msg("credentials: record last used failed")
		}
	}()
	return entry, nil
}

// Lookup returns the first pooled entry called name. It does not advance the
// round-robin index.
func (p *Pool) Lookup(name string) (Entry, bool) {
	if !p.ready.Load() || name == "" {
		return Entry{}, false
	}
	for i := range p.entries {
		if p.entries[i].Name == name {
			return p.entry(i), true
		}
	}
	return Entry{}, false
}

// Entries returns a copy of the pool in round-robin order.
func (p *Pool) Entries() []Entry {
	if !p.ready.Load() {
		return nil
	}
	out := make([]Entry, len(p.entries))
	for i := range p.entries {
		out[i] = p.entry(i)
	}
	return out
}

// Wait blocks until every asynchronous last-used update finished.
func (p *Pool) Wait() {
	p.pending.Wait()
}

func (p *Pool) entry(idx int) Entry {
	e := p.entries[idx]
	p.mu.Lock()
	e.LastUsed = p.lastUsed[idx]
	p.mu.Unlock()
	return e
}
