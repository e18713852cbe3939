// Package syncer coordinates snapshot refresh and queue replay.
//
// The Orchestrator is single-flight: at most one sync pass runs at a time.
// Connectivity and startup triggers that arrive while a pass is in flight
// are dropped; explicit SyncNow callers wait for the in-flight pass and
// share its outcome.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/roach88/tablesync/internal/queue"
	"github.com/roach88/tablesync/internal/replay"
	"github.com/roach88/tablesync/internal/snapshot"
	"github.com/roach88/tablesync/internal/store"
)

// LastSyncKey is the medium key holding the last successful sync time.
const LastSyncKey = "sync/lastSyncTimestamp"

// Refresher refreshes the local snapshot.
type Refresher interface {
	RefreshAll(ctx context.Context) snapshot.Report
}

// Replayer runs one replay pass.
type Replayer interface {
	Pass(ctx context.Context) (*replay.Result, error)
}

// Connectivity is the view of the connectivity monitor the orchestrator needs.
type Connectivity interface {
	IsOnline() bool
	OnChange(fn func(online bool)) (cancel func())
}

// Counter reports pending queue sizes.
type Counter interface {
	Len(ctx context.Context) (queue.Counts, error)
}

// Outcome is the result of one sync pass.
type Outcome struct {
	// Refresh is nil when the pass ran offline.
	Refresh *snapshot.Report

	// Replay is nil when the queue could not be read.
	Replay *replay.Result

	// Joined is true for a SyncNow caller that waited on a pass started
	// by someone else.
	Joined bool

	err error
}

// Succeeded reports whether the replay read the queue and every entry
// was applied and truncated.
func (o *Outcome) Succeeded() bool {
	return o.err == nil && o.Replay != nil && o.Replay.AllSucceeded() && o.Replay.TruncateErr == nil
}

// flight is one in-progress pass.
type flight struct {
	done    chan struct{}
	outcome *Outcome
}

// Orchestrator drives sync passes.
//
// Thread-safety: all methods are safe for concurrent use.
type Orchestrator struct {
	refresher Refresher
	replayer  Replayer
	conn      Connectivity
	counter   Counter
	medium    store.Medium
	clock     queue.Clock
	logger    *slog.Logger

	mu       sync.Mutex
	inflight *flight
	lastSync int64
	lastPass *PassSummary
	triggers int
	passes   int
	wg       sync.WaitGroup

	watchers watchers
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithCounter enables pending counts in State.
func WithCounter(c Counter) Option {
	return func(o *Orchestrator) { o.counter = c }
}

// WithMedium persists LastSync under LastSyncKey.
func WithMedium(m store.Medium) Option {
	return func(o *Orchestrator) { o.medium = m }
}

// WithClock sets the clock LastSync is read from.
func WithClock(c queue.Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// New creates an orchestrator. It does not subscribe to connectivity
// changes until Start is called.
func New(refresher Refresher, replayer Replayer, conn Connectivity, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		refresher: refresher,
		replayer:  replayer,
		conn:      conn,
		clock:     queue.NewMonotonicClock(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Restore loads the persisted LastSync, if any.
func (o *Orchestrator) Restore(ctx context.Context) error {
	if o.medium == nil {
		return nil
	}
	text, ok, err := o.medium.Get(ctx, LastSyncKey)
	if err != nil {
		return fmt.Errorf("load last sync: %w", err)
	}
	if !ok {
		return nil
	}
	ms, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		o.logger.Warn("ignoring malformed last sync timestamp", "value", text)
		return nil
	}
	o.mu.Lock()
	o.lastSync = ms
	o.mu.Unlock()
	return nil
}

// Start triggers a pass if currently online and then on every
// offline-to-online transition, until ctx is done. It returns immediately.
func (o *Orchestrator) Start(ctx context.Context) {
	cancel := o.conn.OnChange(func(online bool) {
		o.notify()
		if online {
			o.trigger(ctx, "online")
		}
	})
	go func() {
		<-ctx.Done()
		cancel()
	}()
	if o.conn.IsOnline() {
		o.trigger(ctx, "startup")
	}
}

// Wait blocks until every pass started by a trigger or by SyncNow has
// finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// SyncNow runs a pass, or waits for the one already in flight. The
// returned error is ctx's error while waiting or a queue read failure;
// per-entry and per-collection failures are reported in the Outcome.
//
// ctx bounds only the wait. The pass itself runs detached from every
// caller, so one caller giving up does not fail it for the others; each
// remote call inside it is still bounded by the replay entry timeout.
func (o *Orchestrator) SyncNow(ctx context.Context) (*Outcome, error) {
	f, started := o.acquire()
	if started {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			o.run(context.WithoutCancel(ctx), f)
		}()
	}

	select {
	case <-f.done:
		if started {
			return f.outcome, f.outcome.err
		}
		joined := *f.outcome
		joined.Joined = true
		return &joined, joined.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// trigger starts a background pass unless one is in flight.
func (o *Orchestrator) trigger(ctx context.Context, reason string) {
	o.mu.Lock()
	o.triggers++
	o.mu.Unlock()

	f, started := o.acquire()
	if !started {
		o.logger.Debug("sync trigger dropped: pass in flight", "reason", reason)
		return
	}
	o.logger.Info("sync triggered", "reason", reason)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.run(ctx, f)
	}()
}

// acquire returns the in-flight pass, or installs a new one and reports
// that the caller must run it.
func (o *Orchestrator) acquire() (*flight, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inflight != nil {
		return o.inflight, false
	}
	o.inflight = &flight{done: make(chan struct{})}
	o.passes++
	return o.inflight, true
}

// run executes one pass and always releases the guard.
func (o *Orchestrator) run(ctx context.Context, f *flight) {
	out := &Outcome{}
	defer func() {
		if r := recover(); r != nil {
			out.err = fmt.Errorf("sync pass panicked: %v", r)
			o.logger.Error("sync pass panicked", "panic", r)
		}
		o.finish(ctx, f, out)
	}()
	o.notify()

	if o.conn.IsOnline() {
		report := o.refresher.RefreshAll(ctx)
		out.Refresh = &report
		if err := report.Err(); err != nil {
			o.logger.Warn("snapshot refresh incomplete", "failed", report.Failed(), "error", err)
		}
	} else {
		o.logger.Info("offline: skipping snapshot refresh")
	}

	res, err := o.replayer.Pass(ctx)
	if err != nil {
		out.err = err
		o.logger.Error("replay pass failed", "error", err)
		return
	}
	out.Replay = res
}

func (o *Orchestrator) finish(ctx context.Context, f *flight, out *Outcome) {
	var persist int64
	o.mu.Lock()
	if out.Succeeded() {
		o.lastSync = o.clock.NowMillis()
		persist = o.lastSync
	}
	if out.Replay != nil {
		o.lastPass = Summarize(out.Replay)
	}
	f.outcome = out
	o.inflight = nil
	o.mu.Unlock()
	defer close(f.done)

	if persist != 0 && o.medium != nil {
		if err := o.medium.Set(context.WithoutCancel(ctx), LastSyncKey, strconv.FormatInt(persist, 10)); err != nil {
			o.logger.Warn("persist last sync failed", "error", err)
		}
	}
	o.notify()
}

// Stats counts triggers received and passes started.
type Stats struct {
	Triggers int
	Passes   int
}

// Stats returns trigger and pass counters.
func (o *Orchestrator) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return Stats{Triggers: o.triggers, Passes: o.passes}
}

// PassSummary is the headline of the most recent replay pass.
type PassSummary struct {
	PassID  string `json:"passId"`
	Entries int    `json:"entries"`
	Failed  int    `json:"failed"`
	Removed int    `json:"removed"`
}

// Summarize condenses a replay result.
func Summarize(r *replay.Result) *PassSummary {
	return &PassSummary{
		PassID:  r.PassID,
		Entries: len(r.Records),
		Failed:  r.Failed(),
		Removed: r.Removed,
	}
}

// State is the observable sync state.
type State struct {
	Online   bool         `json:"online"`
	Syncing  bool         `json:"syncing"`
	LastSync *int64       `json:"lastSyncTimestamp"`
	Pending  queue.Counts `json:"pending"`
	LastPass *PassSummary `json:"lastPass,omitempty"`
}

// LastSyncTime returns LastSync as a time, or the zero time if never synced.
func (s State) LastSyncTime() time.Time {
	if s.LastSync == nil {
		return time.Time{}
	}
	return time.UnixMilli(*s.LastSync).UTC()
}

// State returns the current observable state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	st := State{
		Syncing:  o.inflight != nil,
		LastPass: o.lastPass,
	}
	if o.lastSync != 0 {
		ts := o.lastSync
		st.LastSync = &ts
	}
	o.mu.Unlock()

	st.Online = o.conn.IsOnline()
	if o.counter != nil {
		counts, err := o.counter.Len(context.Background())
		if err != nil {
			o.logger.Debug("pending count unavailable", "error", err)
		}
		st.Pending = counts
	}
	return st
}

// Subscribe registers fn to receive the state after every change.
func (o *Orchestrator) Subscribe(fn func(State)) (cancel func()) {
	return o.watchers.add(fn)
}

func (o *Orchestrator) notify() {
	fns := o.watchers.snapshot()
	if len(fns) == 0 {
		return
	}
	st := o.State()
	for _, fn := range fns {
		fn(st)
	}
}

type watchers struct {
	mu   sync.Mutex
	next int
	fns  map[int]func(State)
}

func (w *watchers) add(fn func(State)) func() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fns == nil {
		w.fns = make(map[int]func(State))
	}
	id := w.next
	w.next++
	w.fns[id] = fn
	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		delete(w.fns, id)
	}
}

func (w *watchers) snapshot() []func(State) {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]func(State), 0, len(w.fns))
	for i := 0; i < w.next; i++ {
		if fn, ok := w.fns[i]; ok {
			out = append(out, fn)
		}
	}
	return out
}
