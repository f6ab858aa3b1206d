// Package clipboard copies secrets to the system clipboard and wipes them
// after a delay.
package clipboard

import (
	"context"
	"sync"
	"time"

	"github.com/atotto/clipboard"
	"github.com/jonboulle/clockwork"

	"github.com/illarion/vaultguard/internal/logging"
	"github.com/illarion/vaultguard/internal/vault"
)

// Writer replaces the clipboard contents.
type Writer interface {
	WriteAll(text string) error
}

// System is the OS clipboard.
type System struct{}

func (System) WriteAll(text string) error {
	return clipboard.WriteAll(text)
}

// Available reports whether a system clipboard utility was found.
func Available() bool {
	return !clipboard.Unsupported
}

type Option func(*Guard)

func WithClock(c clockwork.Clock) Option {
	return func(g *Guard) { g.clock = c }
}

func WithLogger(l logging.Logger) Option {
	return func(g *Guard) { g.log = logging.OrNop(l) }
}

// Guard writes values to the clipboard and schedules a single clear.
//
// The clear writes an empty string regardless of what the clipboard holds
// at that point, so anything the user copied in between is wiped as well.
type Guard struct {
	w     Writer
	clock clockwork.Clock
	log   logging.Logger

	mu        sync.Mutex
	timer     clockwork.Timer
	expiresAt time.Time
	seq       uint64
	// cleared is closed once the pending clear ran or was cancelled.
	cleared chan struct{}
}

func New(w Writer, opts ...Option) *Guard {
	g := &Guard{
		w:     w,
		clock: clockwork.NewRealClock(),
		log:   logging.Nop{},
	}
	for _, opt := range opts {
		opt(g)
	}
	g.log = g.log.With("component", "clipboard")
	return g
}

// CopyWithExpiry writes value and schedules a clear after ttl, replacing any
// clear already pending. A ttl of zero or less leaves the value in place.
// It reports whether the write succeeded; on failure the previous schedule
// is kept.
func (g *Guard) CopyWithExpiry(ctx context.Context, value string, ttl time.Duration) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.w.WriteAll(value); err != nil {
		g.log.Warn(ctx, "clipboard write failed", "err", err)
		return false
	}

	g.cancelLocked()
	if ttl <= 0 {
		return true
	}

	g.seq++
	seq := g.seq
	g.expiresAt = g.clock.Now().Add(ttl)
	g.cleared = make(chan struct{})
	g.timer = g.clock.AfterFunc(ttl, func() { g.expire(ctx, seq) })
	return true
}

// Cleared returns a channel that is closed when the pending clear has run
// or was cancelled. With nothing pending the channel is already closed.
func (g *Guard) Cleared() <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cleared == nil {
		done := make(chan struct{})
		close(done)
		return done
	}
	return g.cleared
}

// ClearNow cancels any pending clear and empties the clipboard immediately.
func (g *Guard) ClearNow(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.cancelLocked()
	if err := g.w.WriteAll(""); err != nil {
		return vault.NewError(vault.ErrClipboardWriteFailed, "", err)
	}
	return nil
}

// Pending returns when the scheduled clear will run.
func (g *Guard) Pending() (time.Time, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.timer == nil {
		return time.Time{}, false
	}
	return g.expiresAt, true
}

// Close runs a pending clear right away. Nothing is scheduled afterwards.
func (g *Guard) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.timer == nil {
		return
	}
	g.cancelLocked()
	if err := g.w.WriteAll(""); err != nil {
		g.log.Warn(context.Background(), "failed to clear clipboard on close", "err", vault.NewError(vault.ErrClipboardWriteFailed, "", err))
	}
}

func (g *Guard) expire(ctx context.Context, seq uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if seq != g.seq || g.timer == nil {
		return
	}
	g.timer = nil
	g.expiresAt = time.Time{}

	if err := g.w.WriteAll(""); err != nil {
		g.log.Warn(ctx, "failed to clear clipboard", "err", vault.NewError(vault.ErrClipboardWriteFailed, "", err))
	}
	g.signalLocked()
}

func (g *Guard) cancelLocked() {
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	g.expiresAt = time.Time{}
	g.seq++
	g.signalLocked()
}

func (g *Guard) signalLocked() {
	if g.cleared != nil {
		close(g.cleared)
		g.cleared = nil
	}
}
