package link

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/satlink/internal/config"
	"github.com/danmuck/satlink/internal/testutil/serialtest"
	"github.com/danmuck/satlink/internal/testutil/testlog"
	"go.bug.st/serial"
)

func TestModeFromSettings(t *testing.T) {
	cfg := config.Default().Link
	cfg.Parity = "e"
	cfg.StopBits = 1.5
	cfg.ByteSize = 7
	mode, err := Mode(cfg)
	if err != nil {
		t.Fatalf("mode: %v", err)
	}
	if mode.Parity != serial.EvenParity || mode.StopBits != serial.OnePointFiveStopBits || mode.DataBits != 7 {
		t.Fatalf("unexpected mode: %+v", mode)
	}

	cfg.Parity = "Q"
	if _, err := Mode(cfg); !errors.Is(err, ErrBadSettings) {
		t.Fatalf("expected ErrBadSettings, got %v", err)
	}
}

func TestWriterSerializesConcurrentMessages(t *testing.T) {
	log := testlog.Start(t)
	a, b := serialtest.Pipe(20 * time.Millisecond)
	defer a.Close()

	w := NewWriter(a, log)
	defer w.Close()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			msg := strings.Repeat(fmt.Sprintf("%x", i%16), 64)
			if err := w.WriteLine(msg); err != nil {
				t.Errorf("write: %v", err)
			}
		}(i)
	}
	wg.Wait()

	r := NewReader(b)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for i := 0; i < 16; i++ {
		line, err := r.ReadLine(ctx)
		if err != nil {
			t.Fatalf("read line %d: %v", i, err)
		}
		if len(line) != 64 || strings.Count(line, line[:1]) != 64 {
			t.Fatalf("interleaved message: %q", line)
		}
	}
}

func TestWriterClosed(t *testing.T) {
	log := testlog.Start(t)
	a, _ := serialtest.Pipe(10 * time.Millisecond)
	w := NewWriter(a, log)
	w.Close()
	if _, err := w.Write([]byte("x")); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestReaderLinesAndLeftover(t *testing.T) {
	testlog.Start(t)
	a, b := serialtest.Pipe(10 * time.Millisecond)
	defer a.Close()
	if _, err := a.Write([]byte("sendjson 42 3\r\nabc")); err != nil {
		t.Fatalf("write: %v", err)
	}

	r := NewReader(b)
	ctx := context.Background()
	line, err := r.ReadLine(ctx)
	if err != nil || line != "sendjson 42 3" {
		t.Fatalf("unexpected line %q err=%v", line, err)
	}
	payload, err := r.ReadN(ctx, 3)
	if err != nil || string(payload) != "abc" {
		t.Fatalf("unexpected payload %q err=%v", payload, err)
	}
}

func TestReaderIdleStopsOnQuietCycle(t *testing.T) {
	testlog.Start(t)
	a, b := serialtest.Pipe(15 * time.Millisecond)
	defer a.Close()

	r := NewReader(b)
	if got, err := r.ReadIdle(context.Background(), 30*time.Millisecond); err != nil || got != nil {
		t.Fatalf("expected nothing on idle link, got %q err=%v", got, err)
	}

	a.Write([]byte("hello "))
	a.Write([]byte("world"))
	got, err := r.ReadIdle(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("read idle: %v", err)
	}
	if string(got) != "hello world" {
		t.Fatalf("unexpected idle read: %q", got)
	}
}

func TestReaderUnreadAndChunk(t *testing.T) {
	testlog.Start(t)
	a, b := serialtest.Pipe(10 * time.Millisecond)
	defer a.Close()
	a.Write([]byte("tail"))

	r := NewReader(b)
	r.Unread([]byte("head-"))
	chunk, err := r.ReadChunk(context.Background())
	if err != nil || string(chunk) != "head-" {
		t.Fatalf("unexpected first chunk %q err=%v", chunk, err)
	}
	chunk, err = r.ReadChunk(context.Background())
	if err != nil || string(chunk) != "tail" {
		t.Fatalf("unexpected second chunk %q err=%v", chunk, err)
	}
	chunk, err = r.ReadChunk(context.Background())
	if err != nil || len(chunk) != 0 {
		t.Fatalf("expected timeout chunk, got %q err=%v", chunk, err)
	}
}

func TestConnReleasedCannotRead(t *testing.T) {
	log := testlog.Start(t)
	a, b := serialtest.Pipe(10 * time.Millisecond)
	defer a.Close()
	w := NewWriter(a, log)
	defer w.Close()

	c := WriteOnly(w)
	if _, err := c.ReadLine(context.Background()); !errors.Is(err, ErrReadNotHeld) {
		t.Fatalf("expected ErrReadNotHeld, got %v", err)
	}
	if err := c.WriteLine("ok"); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, _ := NewReader(b).ReadLine(context.Background())
	if got != "ok" {
		t.Fatalf("unexpected line: %q", got)
	}
	if !bytes.Equal(a.Written(), []byte("ok\n")) {
		t.Fatalf("unexpected written bytes: %q", a.Written())
	}
}
