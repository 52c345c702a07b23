package batch

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"batchgen/internal/credentials"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Sleep advances the clock instead of blocking.
func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.Advance(d)
	return nil
}

type stubPicker struct {
	err error
}

func (p stubPicker) Pick() (credentials.Entry, error) {
	if p.err != nil {
		return credentials.Entry{}, p.err
	}
	return credentials.Entry{Name: "test", Secret: "sk-test", Platform: "dashscope"}, nil
}

type stubProvider struct {
	submit func(call int, in Input) (string, error)
	query  func(requestID string) (ProviderStatus, error)

	submitCalls atomic.Int32
	queryCalls  atomic.Int32
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	hold        time.Duration
}

func (p *stubProvider) Submit(ctx context.Context, in Input, secret string) (string, error) {
	call := int(p.submitCalls.Add(1))
	cur := p.inFlight.Add(1)
	defer p.inFlight.Add(-1)
	for {
		prev := p.maxInFlight.Load()
		if cur <= prev || p.maxInFlight.CompareAndSwap(prev, cur) {
			break
		}
	}
	if p.hold > 0 {
		time.Sleep(p.hold)
	}
	if p.submit == nil {
		return "req-" + in.Prompt, nil
	}
	return p.submit(call, in)
}

func (p *stubProvider) Query(ctx context.Context, requestID, secret string) (ProviderStatus, error) {
	p.queryCalls.Add(1)
	if p.query == nil {
		return ProviderStatus{State: ProviderSucceeded, ResultURL: "https://cdn.example.com/out/" + strings.TrimPrefix(requestID, "req-") + ".png"}, nil
	}
	return p.query(requestID)
}

type stubFetcher struct {
	err   error
	calls atomic.Int32
}

func (f *stubFetcher) Fetch(ctx context.Context, url string) (io.ReadCloser, string, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, "", f.err
	}
	return io.NopCloser(bytes.NewReader([]byte("image:" + url))), "image/png", nil
}

type memStore struct {
	mu    sync.Mutex
	files map[string][]byte
	err   error
}

func newMemStore() *memStore {
	return &memStore{files: map[string][]byte{}}
}

func (s *memStore) WriteStream(ctx context.Context, key string, r io.Reader) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.files[key] = data
	s.mu.Unlock()
	return key, nil
}

func (s *memStore) Path(key string) string {
	return "/mem/" + key
}

type delayLog struct {
	mu     sync.Mutex
	codes  []ErrorCode
	delays []time.Duration
}

func (d *delayLog) observe(jobID string, code ErrorCode, delay time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.codes = append(d.codes, code)
	d.delays = append(d.delays, delay)
}

var errBoom = errors.New("upstream exploded")

type engineFixture struct {
	engine   *Engine
	provider *stubProvider
	fetcher  *stubFetcher
	store    *memStore
	clock    *fakeClock
	delays   *delayLog
}

func newEngineFixture(provider *stubProvider, mutate func(*Options)) (*engineFixture, error) {
	f := &engineFixture{
		provider: provider,
		fetcher:  &stubFetcher{},
		store:    newMemStore(),
		clock:    newFakeClock(),
		delays:   &delayLog{},
	}
	ids := 0
	opts := Options{
		Provider:    provider,
		Fetcher:     f.fetcher,
		Credentials: stubPicker{},
		Store:       f.store,
		Concurrency: 2,
		MaxAttempts: 3,
		BatchDelay:  time.Second,
		Backoff: Backoff{
			Base:       time.Second,
			Max:        30 * time.Second,
			Multiplier: 2,
			Cooldown:   time.Minute,
		},
		PollInterval: 5 * time.Second,
		PollTimeout:  time.Minute,
		Sleep:        f.clock.Sleep,
		Clock:        f.clock.Now,
		NewID: func() string {
			ids++
			return "job-" + string(rune('a'+ids-1))
		},
		OnDelay: f.delays.observe,
	}
	if mutate != nil {
		mutate(&opts)
	}
	engine, err := NewEngine(opts)
	if err != nil {
		return nil, err
	}
	f.engine = engine
	return f, nil
}
