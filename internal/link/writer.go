package link

import (
	"io"
	"sync"

	"github.com/rs/zerolog"
)

type writeReq struct {
	data  []byte
	reply chan error
}

// Writer owns the write side of the link. Every Write is one queued
// message handled by a single goroutine, so concurrent callers never
// interleave bytes inside a message.
type Writer struct {
	w    io.Writer
	log  zerolog.Logger
	reqs chan writeReq

	closeOnce sync.Once
	quit      chan struct{}
	done      chan struct{}
}

func NewWriter(w io.Writer, log zerolog.Logger) *Writer {
	lw := &Writer{
		w:    w,
		log:  log,
		reqs: make(chan writeReq),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go lw.run()
	return lw
}

func (lw *Writer) run() {
	defer close(lw.done)
	for {
		select {
		case <-lw.quit:
			return
		case req := <-lw.reqs:
			_, err := writeAll(lw.w, req.data)
			if err != nil {
				lw.log.Warn().Err(err).Int("bytes", len(req.data)).Msg("link write failed")
			}
			req.reply <- err
		}
	}
}

// Write queues p as one message and waits until it is on the wire.
func (lw *Writer) Write(p []byte) (int, error) {
	data := make([]byte, len(p))
	copy(data, p)
	req := writeReq{data: data, reply: make(chan error, 1)}
	select {
	case <-lw.quit:
		return 0, ErrClosed
	case lw.reqs <- req:
	}
	if err := <-req.reply; err != nil {
		return 0, err
	}
	return len(p), nil
}

// WriteLine writes s followed by a newline as a single message.
func (lw *Writer) WriteLine(s string) error {
	_, err := lw.Write([]byte(s + "\n"))
	return err
}

// Close stops the writer goroutine. It does not close the underlying port.
func (lw *Writer) Close() error {
	lw.closeOnce.Do(func() {
		close(lw.quit)
	})
	<-lw.done
	return nil
}

func writeAll(w io.Writer, p []byte) (int, error) {
	total := 0
	for total < len(p) {
		n, err := w.Write(p[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, io.ErrShortWrite
		}
	}
	return total, nil
}
