// Package focus reports when the application gains or loses the user's
// attention.
package focus

import (
	"context"
	"errors"
	"sync"
)

type Event int

const (
	FocusGained Event = iota + 1
	FocusLost
)

func (e Event) String() string {
	switch e {
	case FocusGained:
		return "focus-gained"
	case FocusLost:
		return "focus-lost"
	default:
		return "unknown"
	}
}

var (
	ErrUnavailable = errors.New("focus events unavailable")
	ErrClosed      = errors.New("focus observer closed")
)

// Observer delivers focus events until ctx is cancelled, then closes the
// channel.
type Observer interface {
	Subscribe(ctx context.Context) (<-chan Event, error)
}

const subscriberBuffer = 8

// Broadcaster fans published events out to every live subscriber. A slow
// subscriber loses its oldest pending event rather than blocking Publish.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[chan Event]struct{}
	closed bool
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[chan Event]struct{})}
}

func (b *Broadcaster) Subscribe(ctx context.Context) (<-chan Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}

	ch := make(chan Event, subscriberBuffer)
	b.subs[ch] = struct{}{}

	go func() {
		<-ctx.Done()
		b.remove(ch)
	}()

	return ch, nil
}

func (b *Broadcaster) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- e:
			default:
			}
		}
	}
}

// Subscribers returns the number of live subscriptions.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close ends every subscription. Later Subscribe calls fail with ErrClosed.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}
	b.closed = true
}

func (b *Broadcaster) remove(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
}
