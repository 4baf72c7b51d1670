package listener

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/danmuck/satlink/internal/command"
	"github.com/danmuck/satlink/internal/link"
	"github.com/danmuck/satlink/internal/protocol/frame"
	"github.com/danmuck/satlink/internal/testutil/serialtest"
	"github.com/danmuck/satlink/internal/testutil/testlog"
)

type harness struct {
	ground *link.Reader
	send   func(string)
	stop   func()
	errCh  chan error
	l      *Listener
}

func start(t *testing.T, reg *command.Registry) *harness {
	t.Helper()
	log := testlog.Start(t)
	device, ground := serialtest.Pipe(10 * time.Millisecond)

	writer := link.NewWriter(device, log)
	pool := command.NewPool(2, 8, log)
	reg.Seal()
	l := New(link.NewReader(device), writer, command.NewDispatcher(reg, log), pool, Options{
		StartupMarker: "started",
		Limits:        frame.DefaultLimits(),
	}, log)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- l.Run(ctx) }()

	h := &harness{
		ground: link.NewReader(ground),
		send: func(s string) {
			if _, err := ground.Write([]byte(s)); err != nil {
				t.Errorf("ground write: %v", err)
			}
		},
		errCh: errCh,
		l:     l,
	}
	h.stop = func() {
		cancel()
		select {
		case err := <-errCh:
			if err != nil {
				t.Errorf("run: %v", err)
			}
		case <-time.After(time.Second):
			t.Errorf("listener did not stop")
		}
		pool.Close()
		writer.Close()
		device.Close()
	}
	return h
}

func (h *harness) line(t *testing.T) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s, err := h.ground.ReadLine(ctx)
	if err != nil {
		t.Fatalf("ground read: %v", err)
	}
	return s
}

func echoDescriptor() command.Descriptor {
	return command.Descriptor{
		ID:       1,
		Name:     "echo",
		ArgTypes: []frame.Tag{frame.TagString, frame.TagInt, frame.TagString},
		Policy:   command.Release,
		Handler: command.HandlerFunc(func(_ context.Context, call command.Call) (command.Result, error) {
			n, _ := call.Int(1)
			s, _ := call.Str(0)
			return command.Result{Status: "ok"}, call.Link.WriteLine(fmt.Sprintf("echo %s %d", s, n))
		}),
	}
}

func TestRunWritesMarkerAndDispatchesReleased(t *testing.T) {
	reg := command.NewRegistry()
	if err := reg.Register(echoDescriptor()); err != nil {
		t.Fatalf("register: %v", err)
	}
	h := start(t, reg)
	defer h.stop()

	if got := h.line(t); got != "started" {
		t.Fatalf("expected startup marker, got %q", got)
	}

	h.send("noise++1+FoxWind:str+1234:int+10.10.10.1:str++")
	if got := h.line(t); got != "echo FoxWind 1234" {
		t.Fatalf("unexpected reply %q", got)
	}
}

func TestRunSurvivesBadFrames(t *testing.T) {
	reg := command.NewRegistry()
	if err := reg.Register(echoDescriptor()); err != nil {
		t.Fatalf("register: %v", err)
	}
	h := start(t, reg)
	defer h.stop()
	h.line(t)

	h.send("++1+a:str+notanumber:int+b:str++")
	h.send("++x+bad:str++++42++++1+a:float++")
	h.send("++1+ok:str+7:int+z:str++")
	if got := h.line(t); got != "echo ok 7" {
		t.Fatalf("unexpected reply %q", got)
	}
	stats := h.l.Stats()
	if stats.Rejected != 4 || stats.Released != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestHeldHandlerOwnsReadsAfterFrame(t *testing.T) {
	reg := command.NewRegistry()
	err := reg.Register(command.Descriptor{
		ID:       2,
		Name:     "device",
		ArgTypes: []frame.Tag{frame.TagString},
		Policy:   command.Hold,
		Handler: command.HandlerFunc(func(ctx context.Context, call command.Call) (command.Result, error) {
			first, err := call.Link.ReadLine(ctx)
			if err != nil {
				return command.Result{}, err
			}
			second, err := call.Link.ReadLine(ctx)
			if err != nil {
				return command.Result{}, err
			}
			return command.Result{Status: "ok"}, call.Link.WriteLine("got " + first + "," + second)
		}),
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	h := start(t, reg)
	defer h.stop()
	h.line(t)

	h.send("++2+cam0:str++hello\n")
	time.Sleep(30 * time.Millisecond)
	h.send("world\n")
	if got := h.line(t); got != "got hello,world" {
		t.Fatalf("unexpected reply %q", got)
	}
	if stats := h.l.Stats(); stats.Held != 1 || stats.Failed != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestRunReturnsOnLinkEOF(t *testing.T) {
	log := testlog.Start(t)
	device, ground := serialtest.Pipe(10 * time.Millisecond)
	writer := link.NewWriter(device, log)
	defer writer.Close()
	pool := command.NewPool(1, 1, log)
	defer pool.Close()

	reg := command.NewRegistry()
	reg.Seal()
	l := New(link.NewReader(device), writer, command.NewDispatcher(reg, log), pool, Options{}, log)

	errCh := make(chan error, 1)
	go func() { errCh <- l.Run(context.Background()) }()
	ground.Close()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, link.ErrClosed) {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("listener did not stop on EOF")
	}
}
