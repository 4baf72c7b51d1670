package transfer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/satlink/internal/link"
	"github.com/danmuck/satlink/internal/protocol/handshake"
	"github.com/danmuck/satlink/internal/testutil/serialtest"
	"github.com/danmuck/satlink/internal/testutil/testlog"
)

func testOptions() Options {
	return Options{
		Beacon:           "ready",
		BeaconInterval:   20 * time.Millisecond,
		MaxAttempts:      3,
		HandshakeTimeout: 2 * time.Second,
		DeclareLength:    true,
	}
}

func pair(t *testing.T) (*link.Conn, *link.Conn) {
	t.Helper()
	log := testlog.Start(t)
	a, b := serialtest.Pipe(10 * time.Millisecond)
	wa := link.NewWriter(a, log)
	wb := link.NewWriter(b, log)
	t.Cleanup(func() {
		wa.Close()
		wb.Close()
		a.Close()
	})
	return link.Held(link.NewReader(a), wa), link.Held(link.NewReader(b), wb)
}

func TestSessionTransitions(t *testing.T) {
	testlog.Start(t)
	s := NewSession()
	if s.State() != AwaitingHandshake || s.ID == "" {
		t.Fatalf("unexpected initial session: %+v", s)
	}
	if _, err := s.Write([]byte("x")); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if err := s.Handshake("sendjson nope"); !errors.Is(err, ErrBadHandshake) {
		t.Fatalf("expected ErrBadHandshake, got %v", err)
	}

	if err := s.Handshake("sendjson 3735928559 1"); err != nil {
		t.Fatalf("handshake: %v", err)
	}
	if s.State() != Receiving || s.Expected() != 0xDEADBEEF || s.Length() != 1 {
		t.Fatalf("unexpected session after handshake: state=%s crc=%d len=%d", s.State(), s.Expected(), s.Length())
	}
	if err := s.Handshake("sendjson 1"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition on second handshake, got %v", err)
	}
	s.Write([]byte("x"))

	_, err := s.Complete()
	var ierr *IntegrityError
	if !errors.As(err, &ierr) || !errors.Is(err, ErrIntegrityMismatch) {
		t.Fatalf("expected integrity error, got %v", err)
	}
	if ierr.Expected != 0xDEADBEEF || ierr.Actual != 2363233923 {
		t.Fatalf("unexpected checksums: %+v", ierr)
	}
	if s.State() != AwaitingHandshake {
		t.Fatalf("expected retry edge back to awaiting, got %s", s.State())
	}

	if err := s.Handshake("sendjson 2363233923"); err != nil {
		t.Fatalf("second handshake: %v", err)
	}
	s.Write([]byte("x"))
	data, err := s.Complete()
	if err != nil || string(data) != "x" || s.State() != Done || s.Attempts() != 2 {
		t.Fatalf("unexpected completion: %q %v %s", data, err, s.State())
	}
	if err := s.Fail(); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected Fail after Done to be rejected, got %v", err)
	}
}

func TestReceiverRepliesRepeatOnBadCRC(t *testing.T) {
	log := testlog.Start(t)
	device, ground := pair(t)
	opts := testOptions()
	opts.MaxAttempts = 1

	type out struct {
		data []byte
		err  error
	}
	done := make(chan out, 1)
	go func() {
		data, _, err := NewReceiver(device, opts, log).Receive(context.Background())
		done <- out{data, err}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if line, err := ground.ReadLine(ctx); err != nil || line != "ready" {
		t.Fatalf("expected beacon, got %q %v", line, err)
	}
	ground.WriteLine("sendjson 3735928559 1")
	expectToken(t, ctx, ground, handshake.TokenOK)
	ground.Write([]byte("x"))
	expectToken(t, ctx, ground, handshake.TokenRetry)

	res := <-done
	if !errors.Is(res.err, ErrAttemptsExhausted) || !errors.Is(res.err, ErrIntegrityMismatch) {
		t.Fatalf("expected exhausted integrity failure, got %v", res.err)
	}
	if res.data != nil {
		t.Fatalf("corrupt payload was returned")
	}
}

func TestReceiverRepeatsShortPayload(t *testing.T) {
	log := testlog.Start(t)
	device, ground := pair(t)
	opts := testOptions()
	opts.MaxAttempts = 2
	opts.HandshakeTimeout = 300 * time.Millisecond

	type out struct {
		data []byte
		rep  Report
		err  error
	}
	done := make(chan out, 1)
	go func() {
		data, rep, err := NewReceiver(device, opts, log).Receive(context.Background())
		done <- out{data, rep, err}
	}()

	payload := []byte("hello world")
	offer := fmt.Sprintf("sendjson %d %d", crc32.ChecksumIEEE(payload), len(payload))
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	expectToken(t, ctx, ground, "ready")
	ground.WriteLine(offer)
	expectToken(t, ctx, ground, handshake.TokenOK)
	ground.Write(payload[:8])
	expectToken(t, ctx, ground, handshake.TokenRetry)

	ground.WriteLine(offer)
	expectToken(t, ctx, ground, handshake.TokenOK)
	ground.Write(payload)
	expectToken(t, ctx, ground, handshake.TokenDone)

	res := <-done
	if res.err != nil || !bytes.Equal(res.data, payload) {
		t.Fatalf("unexpected result: %q %v", res.data, res.err)
	}
	if res.rep.Attempts != 2 {
		t.Fatalf("expected the short attempt to count, got %d", res.rep.Attempts)
	}
}

func TestSenderReceiverRoundTrip(t *testing.T) {
	for _, declare := range []bool{true, false} {
		name := "length"
		if !declare {
			name = "idle"
		}
		t.Run(name, func(t *testing.T) {
			log := testlog.Start(t)
			device, ground := pair(t)
			opts := testOptions()
			opts.DeclareLength = declare
			payload := bytes.Repeat([]byte(`{"tree":"x"}`), 200)

			type out struct {
				data []byte
				rep  Report
				err  error
			}
			done := make(chan out, 1)
			go func() {
				data, rep, err := NewReceiver(device, opts, log).Receive(context.Background())
				done <- out{data, rep, err}
			}()

			rep, err := NewSender(ground, opts, log).Send(context.Background(), payload)
			if err != nil {
				t.Fatalf("send: %v", err)
			}
			if rep.Attempts != 1 || rep.Bytes != len(payload) || rep.CRC != handshake.Checksum(payload) {
				t.Fatalf("unexpected sender report: %+v", rep)
			}
			res := <-done
			if res.err != nil {
				t.Fatalf("receive: %v", res.err)
			}
			if !bytes.Equal(res.data, payload) || res.rep.Attempts != 1 {
				t.Fatalf("unexpected receive: %d bytes, %+v", len(res.data), res.rep)
			}
		})
	}
}

func TestSenderRetriesOnRepeat(t *testing.T) {
	log := testlog.Start(t)
	device, ground := pair(t)
	payload := []byte("hello satellite")

	errCh := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		device.WriteLine("ready")
		for _, verdict := range []string{handshake.TokenRetry, handshake.TokenDone} {
			line, err := device.ReadLine(ctx)
			if err != nil {
				errCh <- err
				return
			}
			offer, err := handshake.ParseOffer(line)
			if err != nil {
				errCh <- err
				return
			}
			device.WriteLine(handshake.TokenOK)
			if _, err := device.ReadN(ctx, offer.Length); err != nil {
				errCh <- err
				return
			}
			device.WriteLine(verdict)
		}
		errCh <- nil
	}()

	rep, err := NewSender(ground, testOptions(), log).Send(context.Background(), payload)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if rep.Attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", rep.Attempts)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("fake receiver: %v", err)
	}
}

func TestSenderGivesUpAfterMaxAttempts(t *testing.T) {
	log := testlog.Start(t)
	device, ground := pair(t)
	opts := testOptions()
	opts.MaxAttempts = 2

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		device.WriteLine("ready")
		for {
			line, err := device.ReadLine(ctx)
			if err != nil {
				return
			}
			offer, err := handshake.ParseOffer(line)
			if err != nil {
				return
			}
			device.WriteLine(handshake.TokenOK)
			device.ReadN(ctx, offer.Length)
			device.WriteLine(handshake.TokenRetry)
		}
	}()

	rep, err := NewSender(ground, opts, log).Send(context.Background(), []byte("abc"))
	if !errors.Is(err, ErrAttemptsExhausted) || rep.Attempts != 2 {
		t.Fatalf("expected exhaustion after 2 attempts, got %d %v", rep.Attempts, err)
	}
}

func TestReceiverTimesOutWithoutOffer(t *testing.T) {
	log := testlog.Start(t)
	device, ground := pair(t)
	opts := testOptions()
	opts.HandshakeTimeout = 80 * time.Millisecond

	_, _, err := NewReceiver(device, opts, log).Receive(context.Background())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	beacons := 0
	for {
		line, err := ground.ReadLine(ctx)
		if err != nil || line != "ready" {
			break
		}
		beacons++
		if beacons >= 2 {
			break
		}
	}
	if beacons < 2 {
		t.Fatalf("expected repeated beacons, got %d", beacons)
	}
}

func expectToken(t *testing.T, ctx context.Context, c *link.Conn, want string) {
	t.Helper()
	for {
		line, err := c.ReadLine(ctx)
		if err != nil {
			t.Fatalf("waiting for %q: %v", want, err)
		}
		line = strings.TrimSpace(line)
		if line == want {
			return
		}
		if line != "ready" {
			t.Fatalf("expected %q, got %q", want, line)
		}
	}
}
