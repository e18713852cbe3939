// Package connectivity tracks network reachability and reports transitions.
//
// The platform indicator is injected as a Signal so tests and the
// --offline mode can drive it by hand. Nothing here probes the remote
// store, so an "online" signal may be a false positive.
package connectivity

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"
)

// Signal is a boolean reachability indicator with transition events.
type Signal interface {
	CurrentState() bool
	Subscribe(fn func(online bool)) (unsubscribe func())
}

// listeners is a registry of callbacks keyed by a monotonically
// increasing handle.
type listeners struct {
	mu   sync.Mutex
	next int
	fns  map[int]func(bool)
}

func (l *listeners) add(fn func(bool)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fns == nil {
		l.fns = make(map[int]func(bool))
	}
	id := l.next
	l.next++
	l.fns[id] = fn
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			delete(l.fns, id)
		})
	}
}

// snapshot returns the callbacks in registration order.
func (l *listeners) snapshot() []func(bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]func(bool), 0, len(l.fns))
	for i := 0; i < l.next; i++ {
		if fn, ok := l.fns[i]; ok {
			out = append(out, fn)
		}
	}
	return out
}

func (l *listeners) emit(online bool) {
	for _, fn := range l.snapshot() {
		fn(online)
	}
}

// ManualSignal is a Signal set by hand. Every Set is forwarded to
// subscribers, including repeats of the current state.
//
// Thread-safety: safe for concurrent use.
type ManualSignal struct {
	mu     sync.Mutex
	online bool
	subs   listeners
}

// NewManualSignal creates a signal with the given initial state.
func NewManualSignal(online bool) *ManualSignal {
	return &ManualSignal{online: online}
}

// CurrentState implements Signal.
func (s *ManualSignal) CurrentState() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// Subscribe implements Signal.
func (s *ManualSignal) Subscribe(fn func(bool)) func() {
	return s.subs.add(fn)
}

// Set records the state and notifies subscribers synchronously.
func (s *ManualSignal) Set(online bool) {
	s.mu.Lock()
	s.online = online
	s.mu.Unlock()
	s.subs.emit(online)
}

// Probe reports whether the host currently looks connected.
type Probe func() bool

// DefaultPollInterval is how often PollingSignal runs its probe.
const DefaultPollInterval = 5 * time.Second

// InterfaceProbe reports true when any non-loopback interface is up and
// has at least one address.
func InterfaceProbe() bool {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err == nil && len(addrs) > 0 {
			return true
		}
	}
	return false
}

// PollingSignal runs a Probe on an interval and notifies subscribers when
// the result changes.
//
// Thread-safety: safe for concurrent use; Run must be called at most once.
type PollingSignal struct {
	probe    Probe
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	online bool
	subs   listeners
}

// PollingOption configures a PollingSignal.
type PollingOption func(*PollingSignal)

// WithProbe replaces InterfaceProbe.
func WithProbe(p Probe) PollingOption {
	return func(s *PollingSignal) { s.probe = p }
}

// WithInterval sets the poll interval. Non-positive values keep the default.
func WithInterval(d time.Duration) PollingOption {
	return func(s *PollingSignal) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithPollingLogger sets the logger.
func WithPollingLogger(l *slog.Logger) PollingOption {
	return func(s *PollingSignal) { s.logger = l }
}

// NewPollingSignal creates a signal seeded with one probe reading.
func NewPollingSignal(opts ...PollingOption) *PollingSignal {
	s := &PollingSignal{
		probe:    InterfaceProbe,
		interval: DefaultPollInterval,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.online = s.probe()
	return s
}

// CurrentState implements Signal.
func (s *PollingSignal) CurrentState() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// Subscribe implements Signal.
func (s *PollingSignal) Subscribe(fn func(bool)) func() {
	return s.subs.add(fn)
}

// Run polls until ctx is done.
func (s *PollingSignal) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.poll()
		}
	}
}

func (s *PollingSignal) poll() {
	online := s.probe()
	s.mu.Lock()
	changed := online != s.online
	s.online = online
	s.mu.Unlock()
	if changed {
		s.logger.Debug("connectivity probe changed", "online", online)
		s.subs.emit(online)
	}
}
