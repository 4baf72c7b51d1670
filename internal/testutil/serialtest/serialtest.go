package serialtest

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"time"
)

var ErrClosed = errors.New("serialtest: closed")

// End is one side of an in-memory full-duplex serial link. Read behaves
// like a serial port with a read timeout: it returns (0, nil) when nothing
// arrives within the timeout.
type End struct {
	mu      sync.Mutex
	buf     bytes.Buffer
	notify  chan struct{}
	closed  bool
	timeout time.Duration
	peer    *End

	written bytes.Buffer
}

// Pipe returns two connected ends.
func Pipe(timeout time.Duration) (*End, *End) {
	a := &End{notify: make(chan struct{}, 1), timeout: timeout}
	b := &End{notify: make(chan struct{}, 1), timeout: timeout}
	a.peer = b
	b.peer = a
	return a, b
}

func (e *End) Read(p []byte) (int, error) {
	timer := time.NewTimer(e.timeout)
	defer timer.Stop()
	for {
		e.mu.Lock()
		if e.buf.Len() > 0 {
			n, _ := e.buf.Read(p)
			e.mu.Unlock()
			return n, nil
		}
		if e.closed {
			e.mu.Unlock()
			return 0, io.EOF
		}
		e.mu.Unlock()

		select {
		case <-e.notify:
		case <-timer.C:
			return 0, nil
		}
	}
}

func (e *End) Write(p []byte) (int, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return 0, ErrClosed
	}
	e.written.Write(p)
	e.mu.Unlock()

	peer := e.peer
	peer.mu.Lock()
	if peer.closed {
		peer.mu.Unlock()
		return 0, ErrClosed
	}
	peer.buf.Write(p)
	peer.mu.Unlock()
	signal(peer.notify)
	return len(p), nil
}

// Close closes both ends. Buffered bytes stay readable before io.EOF.
func (e *End) Close() error {
	for _, end := range []*End{e, e.peer} {
		end.mu.Lock()
		end.closed = true
		end.mu.Unlock()
		signal(end.notify)
	}
	return nil
}

// Written returns a copy of everything written from this end.
func (e *End) Written() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]byte(nil), e.written.Bytes()...)
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
