package link

import (
	"context"
	"io"
	"time"
)

// Conn is the view of the link handed to a command handler. Handlers that
// hold the port may read; released handlers share the writer only.
type Conn struct {
	reader *Reader
	writer *Writer
	held   bool
}

// Held returns a Conn that owns reads through r until the handler returns.
func Held(r *Reader, w *Writer) *Conn {
	return &Conn{reader: r, writer: w, held: true}
}

// WriteOnly returns a Conn that can only write.
func WriteOnly(w *Writer) *Conn {
	return &Conn{writer: w}
}

func (c *Conn) Holds() bool {
	return c.held
}

func (c *Conn) Write(p []byte) (int, error) {
	return c.writer.Write(p)
}

func (c *Conn) WriteLine(s string) error {
	return c.writer.WriteLine(s)
}

func (c *Conn) ReadLine(ctx context.Context) (string, error) {
	if !c.held {
		return "", ErrReadNotHeld
	}
	return c.reader.ReadLine(ctx)
}

func (c *Conn) ReadN(ctx context.Context, n int) ([]byte, error) {
	if !c.held {
		return nil, ErrReadNotHeld
	}
	return c.reader.ReadN(ctx, n)
}

func (c *Conn) ReadIdle(ctx context.Context, firstByte time.Duration) ([]byte, error) {
	if !c.held {
		return nil, ErrReadNotHeld
	}
	return c.reader.ReadIdle(ctx, firstByte)
}

func (c *Conn) Buffered() []byte {
	if !c.held {
		return nil
	}
	return c.reader.Buffered()
}

var _ io.Writer = (*Conn)(nil)
