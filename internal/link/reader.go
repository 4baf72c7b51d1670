package link

import (
	"bytes"
	"context"
	"errors"
	"io"
	"time"
)

const readChunk = 512

// Reader layers line and length reads over a Port whose Read returns
// (0, nil) when its timeout elapses. Bytes read past a line boundary stay
// buffered for the next call.
type Reader struct {
	r   io.Reader
	buf []byte
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// ReadLine returns the next newline-terminated line without the line ending.
func (lr *Reader) ReadLine(ctx context.Context) (string, error) {
	for {
		if i := bytes.IndexByte(lr.buf, '\n'); i >= 0 {
			line := lr.buf[:i]
			lr.buf = lr.buf[i+1:]
			return string(bytes.TrimRight(line, "\r")), nil
		}
		if _, err := lr.fill(ctx); err != nil {
			return "", err
		}
	}
}

// ReadN returns exactly n bytes.
func (lr *Reader) ReadN(ctx context.Context, n int) ([]byte, error) {
	for len(lr.buf) < n {
		if _, err := lr.fill(ctx); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
	}
	out := make([]byte, n)
	copy(out, lr.buf[:n])
	lr.buf = lr.buf[n:]
	return out, nil
}

// ReadIdle returns everything that arrives until one read cycle delivers
// nothing. It waits at most firstByte for the first byte.
func (lr *Reader) ReadIdle(ctx context.Context, firstByte time.Duration) ([]byte, error) {
	deadline := time.Now().Add(firstByte)
	for len(lr.buf) == 0 {
		if time.Now().After(deadline) {
			return nil, nil
		}
		if _, err := lr.fill(ctx); err != nil {
			return nil, err
		}
	}
	for {
		n, err := lr.fill(ctx)
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		if n == 0 || err != nil {
			break
		}
	}
	out := lr.buf
	lr.buf = nil
	return out, nil
}

// ReadChunk returns buffered bytes if any, otherwise the result of one
// read cycle. An empty chunk with a nil error means the read timed out.
func (lr *Reader) ReadChunk(ctx context.Context) ([]byte, error) {
	if len(lr.buf) == 0 {
		if _, err := lr.fill(ctx); err != nil && len(lr.buf) == 0 {
			return nil, err
		}
	}
	out := lr.buf
	lr.buf = nil
	return out, nil
}

// Unread pushes p back in front of any buffered bytes.
func (lr *Reader) Unread(p []byte) {
	if len(p) == 0 {
		return
	}
	merged := make([]byte, 0, len(p)+len(lr.buf))
	merged = append(merged, p...)
	lr.buf = append(merged, lr.buf...)
}

// Buffered drains bytes already read but not yet consumed.
func (lr *Reader) Buffered() []byte {
	out := lr.buf
	lr.buf = nil
	return out
}

func (lr *Reader) fill(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var chunk [readChunk]byte
	n, err := lr.r.Read(chunk[:])
	if n > 0 {
		lr.buf = append(lr.buf, chunk[:n]...)
	}
	return n, err
}
