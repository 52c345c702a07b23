package batch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Listener receives a copy of every record after the ledger committed a
// mutation. The persistence layer implements it; its errors are logged and
// never roll the write back.
type Listener interface {
	JobUpdated(ctx context.Context, rec Record) error
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(ctx context.Context, rec Record) error

func (f ListenerFunc) JobUpdated(ctx context.Context, rec Record) error {
	return f(ctx, rec)
}

// Patch mutates a record inside the ledger's critical section. Returning an
// error aborts the update and leaves the record untouched.
type Patch func(r *Record) error

// LedgerOptions configures a Ledger.
type LedgerOptions struct {
	Listener      Listener
	Logger        *zerolog.Logger
	Clock         func() time.Time
	NotifyTimeout time.Duration
}

// Ledger is the in-memory, addressable collection of job records. It is the
// only shared mutable state of the engine.
type Ledger struct {
	mu      sync.RWMutex
	records map[string]*ledgerEntry
	seq     uint64

	now      func() time.Time
	logger   zerolog.Logger
	notifier *notifier
}

type ledgerEntry struct {
	rec Record
	seq uint64
}

// NewLedger builds an empty ledger. When a listener is configured a single
// goroutine delivers notifications in commit order; Close stops it.
func NewLedger(opts LedgerOptions) *Ledger {
	l := &Ledger{
		records: make(map[string]*ledgerEntry),
		now:     opts.Clock,
		logger:  zerolog.Nop(),
	}
	if l.now == nil {
		l.now = time.Now
	}
	if opts.Logger != nil {
		l.logger = *opts.Logger
	}
	if opts.Listener != nil {
		timeout := opts.NotifyTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		l.notifier = newNotifier(opts.Listener, timeout, l.logger)
	}
	return l
}

// Enqueue inserts or overwrites records by id. Records with an empty id are
// skipped. Missing timestamps are stamped with the ledger clock.
func (l *Ledger) Enqueue(records ...Record) int {
	inserted := l.put(records, true)
	return inserted
}

// Restore loads previously persisted records without notifying the listener.
func (l *Ledger) Restore(records ...Record) int {
	return l.put(records, false)
}

func (l *Ledger) put(records []Record, notify bool) int {
	committed := 0
	l.mu.Lock()
	now := l.now()
	for _, rec := range records {
		if rec.ID == "" {
			l.logger.Warn().Err(ErrEmptyID).Msg("batch: ledger skipped record")
			continue
		}
		rec = rec.clone()
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = now
		}
		if rec.UpdatedAt.IsZero() || notify {
			rec.UpdatedAt = now
		}
		if rec.Status == "" {
			rec.Status = StatusPending
		}
		if rec.Fingerprint == "" {
			rec.Fingerprint = Fingerprint(rec.Input)
		}
		if existing, ok := l.records[rec.ID]; ok {
			existing.rec = rec
		} else {
			l.seq++
			l.records[rec.ID] = &ledgerEntry{rec: rec, seq: l.seq}
		}
		committed++
		if notify {
			l.notify(rec.clone())
		}
	}
	l.mu.Unlock()
	return committed
}

// Get returns a copy of the record with the given id.
func (l *Ledger) Get(id string) (Record, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	entry, ok := l.records[id]
	if !ok {
		return Record{}, false
	}
	return entry.rec.clone(), true
}

// List returns every record ordered by creation time, ties broken by
// insertion order.
func (l *Ledger) List() []Record {
	return l.filter(nil)
}

// ListByStatus returns the records currently in one of statuses, in List order.
func (l *Ledger) ListByStatus(statuses ...Status) []Record {
	want := make(map[Status]struct{}, len(statuses))
	for _, s := range statuses {
		want[s] = struct{}{}
	}
	return l.filter(func(r Record) bool {
		_, ok := want[r.Status]
		return ok
	})
}

// CountByStatus reports how many records are in status s.
func (l *Ledger) CountByStatus(s Status) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for _, entry := range l.records {
		if entry.rec.Status == s {
			n++
		}
	}
	return n
}

func (l *Ledger) filter(keep func(Record) bool) []Record {
	l.mu.RLock()
	entries := make([]*ledgerEntry, 0, len(l.records))
	for _, entry := range l.records {
		if keep == nil || keep(entry.rec) {
			entries = append(entries, entry)
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.rec.CreatedAt.Equal(b.rec.CreatedAt) {
			return a.rec.CreatedAt.Before(b.rec.CreatedAt)
		}
		return a.seq < b.seq
	})
	out := make([]Record, len(entries))
	for i, entry := range entries {
		out[i] = entry.rec.clone()
	}
	l.mu.RUnlock()
	return out
}

// FindByFingerprint returns the first record, in List order, carrying fp.
func (l *Ledger) FindByFingerprint(fp string) (Record, bool) {
	for _, rec := range l.List() {
		if rec.Fingerprint == fp {
			return rec, true
		}
	}
	return Record{}, false
}

// Update applies patch to the record with the given id in a single critical
// section, stamps UpdatedAt and notifies the listener. Unknown ids are a
// no-op reported as ErrUnknownJob. Patches that would move a job backwards
// through the state machine are rejected with ErrInvalidTransition.
func (l *Ledger) Update(id string, patch Patch) (Record, error) {
	l.mu.Lock()
	entry, ok := l.records[id]
	if !ok {
		l.mu.Unlock()
		return Record{}, ErrUnknownJob
	}
	next := entry.rec.clone()
	if err := patch(&next); err != nil {
		l.mu.Unlock()
		return entry.rec.clone(), err
	}
	if err := checkTransition(entry.rec.Status, next.Status); err != nil {
		l.mu.Unlock()
		l.logger.Warn().Err(err).Str("job_id", id).Msg("batch: ledger rejected update")
		return entry.rec.clone(), err
	}
	next.ID = entry.rec.ID
	next.CreatedAt = entry.rec.CreatedAt
	next.Fingerprint = entry.rec.Fingerprint
	if next.MaxAttempts > 0 && next.Attempts > next.MaxAttempts {
		next.Attempts = next.MaxAttempts
	}
	next.Progress = clampProgress(next.Progress)
	next.UpdatedAt = l.now()
	entry.rec = next
	out := next.clone()
	l.notify(out.clone())
	l.mu.Unlock()
	return out, nil
}

// Flush blocks until every pending listener notification was delivered.
func (l *Ledger) Flush() {
	if l.notifier != nil {
		l.notifier.flush()
	}
}

// Close drains pending notifications and stops the delivery goroutine.
func (l *Ledger) Close() {
	if l.notifier != nil {
		l.notifier.close()
	}
}

// notify must be called with l.mu held so the queue follows commit order.
func (l *Ledger) notify(rec Record) {
	if l.notifier != nil {
		l.notifier.push(rec)
	}
}

// checkTransition enforces the forward-only state machine. Two backward
// moves are legal: a retry bounce failed -> submitted, and the materializer
// downgrading succeeded -> failed when the artifact cannot be fetched.
func checkTransition(from, to Status) error {
	switch {
	case from == to:
		return nil
	case from == StatusFailed && to == StatusSubmitted:
		return nil
	case from == StatusSucceeded && to == StatusFailed:
		return nil
	case from.Terminal():
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	case to.rank() < from.rank():
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	default:
		return nil
	}
}

func clampProgress(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 1:
		return 1
	default:
		return p
	}
}

// notifier delivers listener callbacks from one goroutine, preserving the
// order in which mutations were committed.
type notifier struct {
	listener Listener
	timeout  time.Duration
	logger   zerolog.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Record
	busy   bool
	closed bool
	done   chan struct{}
}

func newNotifier(listener Listener, timeout time.Duration, logger zerolog.Logger) *notifier {
	n := &notifier{listener: listener, timeout: timeout, logger: logger, done: make(chan struct{})}
	n.cond = sync.NewCond(&n.mu)
	go n.loop()
	return n
}

func (n *notifier) push(rec Record) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		n.logger.Warn().Str("job_id", rec.ID).Msg("batch: notification dropped after close")
		return
	}
	n.queue = append(n.queue, rec)
	n.cond.Broadcast()
}

func (n *notifier) loop() {
	defer close(n.done)
	for {
		n.mu.Lock()
		for len(n.queue) == 0 && !n.closed {
			n.cond.Wait()
		}
		if len(n.queue) == 0 && n.closed {
			n.mu.Unlock()
			return
		}
		rec := n.queue[0]
		n.queue[0] = Record{}
		n.queue = n.queue[1:]
		n.busy = true
		n.mu.Unlock()

		n.deliver(rec)

		n.mu.Lock()
		n.busy = false
		n.cond.Broadcast()
		n.mu.Unlock()
	}
}

func (n *notifier) deliver(rec Record) {
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error().Interface("panic", r).Str("job_id", rec.ID).Msg("batch: listener panicked")
		}
	}()
	if err := n.listener.JobUpdated(ctx, rec); err != nil && !errors.Is(err, context.Canceled) {
		n.logger.Error().Err(err).Str("job_id", rec.ID).Str("status", string(rec.Status)).Msg("batch: listener failed")
	}
}

func (n *notifier) flush() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for len(n.queue) > 0 || n.busy {
		n.cond.Wait()
	}
}

func (n *notifier) close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		<-n.done
		return
	}
	n.closed = true
	n.cond.Broadcast()
	n.mu.Unlock()
	<-n.done
}
