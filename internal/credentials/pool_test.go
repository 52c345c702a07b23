package credentials

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type failingSource struct{}

func (failingSource) Name() string { return "broken" }

func (failingSource) Candidates(ctx context.Context) ([]Entry, error) {
	return nil, errors.New("boom")
}

type recordingRecorder struct {
	mu    sync.Mutex
	names []string
}

func (r *recordingRecorder) RecordUse(ctx context.Context, e Entry, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = append(r.names, e.Name)
	return nil
}

func newTestPool(t *testing.T, opts PoolOptions) *Pool {
	t.Helper()
	pool := NewPool(opts)
	if err := pool.Init(context.Background()); err != nil {
		t.Fatalf("Init error: %v", err)
	}
	return pool
}

func TestPoolRoundRobin(t *testing.T) {
	pool := newTestPool(t, PoolOptions{Sources: []Source{SettingsSource{Entries: []Entry{
		{Name: "a", Secret: "sk-a"},
		{Name: "b", Secret: "sk-b"},
		{Name: "c", Secret: "sk-c"},
	}}}})

	var got []string
	for i := 0; i < 7; i++ {
		e, err := pool.Pick()
		if err != nil {
			t.Fatalf("Pick error: %v", err)
		}
		got = append(got, e.Name)
	}
	want := []string{"a", "b", "c", "a", "b", "c", "a"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("pick %d: expected %s, got %s (all %v)", i, want[i], got[i], got)
		}
	}
	pool.Wait()
}

func TestPoolConcurrentPicksAreFair(t *testing.T) {
	pool := newTestPool(t, PoolOptions{Sources: []Source{SettingsSource{Entries: []Entry{
		{Name: "a", Secret: "sk-a"},
		{Name: "b", Secret: "sk-b"},
	}}}})

	var mu sync.Mutex
	counts := map[string]int{}
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e, err := pool.Pick()
			if err != nil {
				t.Errorf("Pick error: %v", err)
				return
			}
			mu.Lock()
			counts[e.Name]++
			mu.Unlock()
		}()
	}
	wg.Wait()
	pool.Wait()
	if counts["a"] != 50 || counts["b"] != 50 {
		t.Fatalf("expected 50/50 split, got %v", counts)
	}
}

func TestPoolPeekDoesNotAdvance(t *testing.T) {
	pool := newTestPool(t, PoolOptions{Sources: []Source{SettingsSource{Entries: []Entry{
		{Name: "a", Secret: "sk-a"},
		{Name: "b", Secret: "sk-b"},
	}}}})
	for i := 0; i < 3; i++ {
		e, err := pool.Peek()
		if err != nil || e.Name != "a" {
			t.Fatalf("Peek = %v, %v; expected a", e.Name, err)
		}
	}
	if e, _ := pool.Pick(); e.Name != "a" {
		t.Fatalf("expected Pick to return a, got %s", e.Name)
	}
	if e, _ := pool.Peek(); e.Name != "b" {
		t.Fatalf("expected Peek to return b after Pick, got %s", e.Name)
	}
	pool.Wait()
}

func TestPoolLookupDoesNotAdvance(t *testing.T) {
	pool := NewPool(PoolOptions{Sources: []Source{SettingsSource{Entries: []Entry{
		{Name: "a", Secret: "sk-a"},
		{Name: "b", Secret: "sk-b"},
	}}}})
	if _, ok := pool.Lookup("b"); ok {
		t.Fatal("expected Lookup to fail before Init")
	}
	if err := pool.Init(context.Background()); err != nil {
		t.Fatalf("Init error: %v", err)
	}
	if e, ok := pool.Lookup("b"); !ok || e.Secret != "sk-b" {
		t.Fatalf("Lookup(b) = %v, %v", e, ok)
	}
	if _, ok := pool.Lookup("missing"); ok {
		t.Fatal("expected unknown name to miss")
	}
	if e, _ := pool.Peek(); e.Name != "a" {
		t.Fatalf("Lookup must not advance the index, Peek returned %s", e.Name)
	}
}

func TestPoolNoCredentials(t *testing.T) {
	pool := NewPool(PoolOptions{Sources: []Source{
		EnvSource{Lookup: func(string) (string, bool) { return "", false }},
		SettingsSource{Label: "settings", Entries: []Entry{{Name: "blank", Secret: "  "}}},
		failingSource{},
	}})
	err := pool.Init(context.Background())
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
	if !errors.Is(err, ErrNoCredentials) {
		t.Fatalf("expected ErrNoCredentials in chain, got %v", err)
	}
	if len(cfgErr.Checked) != 3 {
		t.Fatalf("expected 3 checked sources, got %v", cfgErr.Checked)
	}
	if _, err := pool.Pick(); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
	if err := pool.Init(context.Background()); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("expected ErrAlreadyInitialized, got %v", err)
	}
}

func TestPoolFiltersAndDeduplicates(t *testing.T) {
	env := map[string]string{"BATCHGEN_API_KEYS": "sk-1, sk-2 ,,sk-1"}
	pool := newTestPool(t, PoolOptions{
		Sources: []Source{
			EnvSource{Platform: "dashscope", Lookup: func(k string) (string, bool) {
				v, ok := env[k]
				return v, ok
			}},
			SettingsSource{Label: "settings", Entries: []Entry{
				{Name: "dup", Secret: "sk-2", Platform: "dashscope"},
				{Name: "other", Secret: "sk-3", Platform: "openai"},
				{Name: "kept", Secret: "sk-4", Platform: "DashScope"},
			}},
		},
		Filter: PlatformIs("dashscope"),
	})
	entries := pool.Entries()
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d: %v", len(entries), entries)
	}
	secrets := []string{entries[0].Secret, entries[1].Secret, entries[2].Secret}
	want := []string{"sk-1", "sk-2", "sk-4"}
	for i := range want {
		if secrets[i] != want[i] {
			t.Fatalf("expected secrets %v, got %v", want, secrets)
		}
	}
	if entries[2].Source != "settings" {
		t.Fatalf("expected source settings, got %s", entries[2].Source)
	}
}

func TestPoolRecordsUsage(t *testing.T) {
	rec := &recordingRecorder{}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	pool := newTestPool(t, PoolOptions{
		Sources:  []Source{SettingsSource{Entries: []Entry{{Name: "a", Secret: "sk-a"}}}},
		Recorder: rec,
		Clock:    func() time.Time { return now },
	})
	if _, err := pool.Pick(); err != nil {
		t.Fatalf("Pick error: %v", err)
	}
	pool.Wait()
	if len(rec.names) != 1 || rec.names[0] != "a" {
		t.Fatalf("expected one recorded use of a, got %v", rec.names)
	}
	if got := pool.Entries()[0].LastUsed; !got.Equal(now) {
		t.Fatalf("expected LastUsed %v, got %v", now, got)
	}
}

func TestEntryStringMasksSecret(t *testing.T) {
	e := Entry{Name: "main", Platform: "dashscope", Secret: "sk-abcdef1234"}
	if got := e.String(); got != "dashscope/main (*********1234)" {
		t.Fatalf("unexpected String(): %q", got)
	}
	if MaskSecret("abc") != "***" {
		t.Fatalf("short secrets must be fully masked")
	}
}
