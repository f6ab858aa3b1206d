// Package autolock locks the vault after the application has been out of
// focus for a configured time.
package autolock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/illarion/vaultguard/internal/focus"
	"github.com/illarion/vaultguard/internal/logging"
)

// ErrObserverUnavailable is returned by Arm when focus events cannot be
// observed. The monitor stays idle; callers treat it as a warning.
var ErrObserverUnavailable = errors.New("auto-lock unavailable")

type State int

const (
	Idle State = iota
	Armed
	CountingDown
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Armed:
		return "armed"
	case CountingDown:
		return "counting-down"
	default:
		return "unknown"
	}
}

type Option func(*Monitor)

func WithClock(c clockwork.Clock) Option {
	return func(m *Monitor) { m.clock = c }
}

func WithLogger(l logging.Logger) Option {
	return func(m *Monitor) { m.log = logging.OrNop(l) }
}

// WithAuthCheck makes Arm a no-op, and a due lock a plain disarm, while
// check reports false.
func WithAuthCheck(check func() bool) Option {
	return func(m *Monitor) { m.authenticated = check }
}

// Monitor owns at most one pending lock timer.
type Monitor struct {
	observer      focus.Observer
	clock         clockwork.Clock
	log           logging.Logger
	authenticated func() bool

	mu       sync.Mutex
	state    State
	timeout  time.Duration
	onLock   func()
	cancel   context.CancelFunc
	timer    clockwork.Timer
	deadline time.Time
	// gen changes on every arm and disarm; timerSeq on every timer start.
	gen      uint64
	timerSeq uint64
}

func New(observer focus.Observer, opts ...Option) *Monitor {
	m := &Monitor{
		observer:      observer,
		clock:         clockwork.NewRealClock(),
		log:           logging.Nop{},
		authenticated: func() bool { return true },
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.With("component", "autolock")
	return m
}

// Arm starts watching focus. Once focus has been lost for timeoutMinutes
// without being regained, onLock runs once and the monitor goes idle.
// Arming again replaces the previous arming. A timeout of zero or less
// disables auto-lock.
func (m *Monitor) Arm(ctx context.Context, timeoutMinutes int, onLock func()) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.disarmLocked()

	if timeoutMinutes <= 0 {
		m.log.Debug(ctx, "auto-lock disabled by settings")
		return nil
	}
	if !m.authenticated() {
		return nil
	}

	subCtx, cancel := context.WithCancel(ctx)
	events, err := m.observer.Subscribe(subCtx)
	if err != nil {
		cancel()
		return fmt.Errorf("%w: %w", ErrObserverUnavailable, err)
	}

	m.state = Armed
	m.timeout = time.Duration(timeoutMinutes) * time.Minute
	m.onLock = onLock
	m.cancel = cancel

	go m.watch(subCtx, m.gen, events)

	m.log.Debug(ctx, "auto-lock armed", "timeout", m.timeout)
	return nil
}

// Disarm cancels any pending timer and releases the focus subscription.
func (m *Monitor) Disarm() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disarmLocked()
}

func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Deadline returns when the pending lock will fire.
func (m *Monitor) Deadline() (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != CountingDown {
		return time.Time{}, false
	}
	return m.deadline, true
}

func (m *Monitor) watch(ctx context.Context, gen uint64, events <-chan focus.Event) {
	for {
		select {
		case <-ctx.Done():
			m.release(gen)
			return
		case e, ok := <-events:
			if !ok {
				m.log.Warn(ctx, "focus events stopped, auto-lock disarmed")
				m.release(gen)
				return
			}
			m.handle(ctx, gen, e)
		}
	}
}

func (m *Monitor) handle(ctx context.Context, gen uint64, e focus.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen {
		return
	}

	switch e {
	case focus.FocusGained:
		m.stopTimerLocked()
		m.state = Armed
	case focus.FocusLost:
		m.stopTimerLocked()
		m.timerSeq++
		seq := m.timerSeq
		m.deadline = m.clock.Now().Add(m.timeout)
		m.timer = m.clock.AfterFunc(m.timeout, func() { m.fire(ctx, gen, seq) })
		m.state = CountingDown
	}
}

func (m *Monitor) fire(ctx context.Context, gen, seq uint64) {
	m.mu.Lock()
	if gen != m.gen || seq != m.timerSeq || m.state != CountingDown {
		m.mu.Unlock()
		return
	}
	onLock := m.onLock
	m.disarmLocked()
	m.mu.Unlock()

	if !m.authenticated() {
		return
	}

	m.log.Info(ctx, "auto-lock timeout reached")
	if onLock != nil {
		onLock()
	}
}

func (m *Monitor) release(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen == m.gen {
		m.disarmLocked()
	}
}

func (m *Monitor) disarmLocked() {
	m.gen++
	m.stopTimerLocked()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.onLock = nil
	m.state = Idle
}

func (m *Monitor) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.deadline = time.Time{}
}
