package connectivity

import (
	"log/slog"
	"sync"
)

// Monitor exposes the current reachability state and fires listeners once
// per transition. Repeated signals of the same state are ignored; there is
// no debouncing.
//
// Thread-safety: safe for concurrent use. Listeners run synchronously on
// the goroutine that delivered the signal, in registration order, and
// transitions are delivered one at a time.
type Monitor struct {
	signal Signal
	logger *slog.Logger

	deliver sync.Mutex // serializes transitions and their delivery
	mu      sync.Mutex
	online  bool
	subs    listeners
	stop    func()
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) MonitorOption {
	return func(m *Monitor) { m.logger = l }
}

// NewMonitor subscribes to signal and then seeds the state from it, so a
// transition that lands while subscribing is not lost. Call Close to
// unsubscribe.
func NewMonitor(signal Signal, opts ...MonitorOption) *Monitor {
	m := &Monitor{signal: signal, logger: slog.Default()}
	for _, opt := range opts {
		opt(m)
	}
	m.stop = signal.Subscribe(m.observe)

	m.deliver.Lock()
	m.mu.Lock()
	m.online = signal.CurrentState()
	m.mu.Unlock()
	m.deliver.Unlock()
	return m
}

// IsOnline returns the last observed state.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// OnChange registers fn for every subsequent transition.
func (m *Monitor) OnChange(fn func(online bool)) (cancel func()) {
	return m.subs.add(fn)
}

// Close detaches the monitor from its signal.
func (m *Monitor) Close() {
	m.stop()
}

func (m *Monitor) observe(online bool) {
	m.deliver.Lock()
	defer m.deliver.Unlock()

	m.mu.Lock()
	changed := online != m.online
	m.online = online
	m.mu.Unlock()
	if !changed {
		return
	}
	m.logger.Info("connectivity changed", "online", online)
	m.subs.emit(online)
}
