package focus

import (
	"context"
	"fmt"
	"io"
	"sync"

	"golang.org/x/term"
)

const esc = 0x1b

// xterm focus reporting
const (
	enableFocusReporting  = "\x1b[?1004h"
	disableFocusReporting = "\x1b[?1004l"
)

// TerminalObserver turns xterm focus reports into events. It sits between
// the terminal and the line editor as an io.Reader, removing CSI I and CSI O
// from the input stream and publishing them instead.
type TerminalObserver struct {
	in  io.Reader
	out io.Writer
	fd  int
	bus *Broadcaster

	mu      sync.Mutex
	enabled bool

	// read side, used by a single reader goroutine
	buf     []byte
	partial []byte
	ready   []byte
	err     error
}

// NewTerminalObserver wraps in, the terminal input on file descriptor fd.
// Control sequences are written to out.
func NewTerminalObserver(in io.Reader, out io.Writer, fd int) *TerminalObserver {
	return &TerminalObserver{
		in:  in,
		out: out,
		fd:  fd,
		bus: NewBroadcaster(),
		buf: make([]byte, 256),
	}
}

// Enable asks the terminal to start sending focus reports.
func (o *TerminalObserver) Enable() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.enabled {
		return nil
	}
	if !term.IsTerminal(o.fd) {
		return fmt.Errorf("%w: input is not a terminal", ErrUnavailable)
	}
	if _, err := io.WriteString(o.out, enableFocusReporting); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	o.enabled = true
	return nil
}

// Subscribe fails with ErrUnavailable until Enable has succeeded.
func (o *TerminalObserver) Subscribe(ctx context.Context) (<-chan Event, error) {
	o.mu.Lock()
	enabled := o.enabled
	o.mu.Unlock()

	if !enabled {
		return nil, fmt.Errorf("%w: focus reporting not enabled", ErrUnavailable)
	}
	return o.bus.Subscribe(ctx)
}

// Close turns focus reporting off and ends all subscriptions.
func (o *TerminalObserver) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.bus.Close()
	if !o.enabled {
		return nil
	}
	o.enabled = false
	_, err := io.WriteString(o.out, disableFocusReporting)
	return err
}

func (o *TerminalObserver) Read(p []byte) (int, error) {
	for len(o.ready) == 0 {
		if o.err != nil {
			return 0, o.err
		}
		n, err := o.in.Read(o.buf)
		o.ready = o.filter(nil, o.buf[:n])
		if err != nil {
			o.ready = append(o.ready, o.partial...)
			o.partial = nil
			o.err = err
		}
	}

	n := copy(p, o.ready)
	o.ready = o.ready[n:]
	return n, nil
}

// filter appends src to dst without focus reports. An escape sequence split
// across reads is held in o.partial until its final byte arrives.
func (o *TerminalObserver) filter(dst, src []byte) []byte {
	for _, b := range src {
		switch {
		case len(o.partial) == 2:
			o.partial = o.partial[:0]
			switch b {
			case 'I':
				o.bus.Publish(FocusGained)
			case 'O':
				o.bus.Publish(FocusLost)
			default:
				dst = append(dst, esc, '[', b)
			}
			continue
		case len(o.partial) == 1 && b == '[':
			o.partial = append(o.partial, b)
			continue
		case len(o.partial) == 1:
			dst = append(dst, esc)
			o.partial = o.partial[:0]
		}

		if b == esc {
			o.partial = append(o.partial, b)
			continue
		}
		dst = append(dst, b)
	}
	return dst
}
