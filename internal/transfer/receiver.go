package transfer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/satlink/internal/observability"
	"github.com/danmuck/satlink/internal/protocol/handshake"
	"github.com/rs/zerolog"
)

// Receiver drives the receiving end: beacon, offer, payload, verdict.
type Receiver struct {
	link Link
	opts Options
	log  zerolog.Logger
}

func NewReceiver(l Link, opts Options, log zerolog.Logger) *Receiver {
	return &Receiver{link: l, opts: opts.withDefaults(), log: log}
}

// Receive runs one transfer to completion. It replies repeat on every
// checksum mismatch and gives up with ErrAttemptsExhausted after
// MaxAttempts offers.
func (r *Receiver) Receive(ctx context.Context) ([]byte, Report, error) {
	sess := NewSession()
	log := r.log.With().Str("session", sess.ID).Logger()

	for {
		line, err := r.awaitOffer(ctx, log)
		if err != nil {
			sess.Fail()
			return nil, Report{SessionID: sess.ID, Attempts: sess.Attempts()}, err
		}
		if err := sess.Handshake(line); err != nil {
			log.Warn().Err(err).Str("line", line).Msg("offer rejected")
			continue
		}
		if err := r.link.WriteLine(handshake.TokenOK); err != nil {
			sess.Fail()
			return nil, Report{SessionID: sess.ID, Attempts: sess.Attempts()}, err
		}

		payload, err := r.readPayload(ctx, sess)
		if err != nil {
			sess.Fail()
			observability.RecordTransfer("receiver", "error", 0)
			return nil, Report{SessionID: sess.ID, Attempts: sess.Attempts()}, err
		}
		if _, err := sess.Write(payload); err != nil {
			return nil, Report{SessionID: sess.ID, Attempts: sess.Attempts()}, err
		}

		data, err := sess.Complete()
		if err == nil {
			if err := r.link.WriteLine(handshake.TokenDone); err != nil {
				return nil, Report{SessionID: sess.ID, Attempts: sess.Attempts()}, err
			}
			observability.RecordTransfer("receiver", "done", len(data))
			log.Info().Int("bytes", len(data)).Int("attempt", sess.Attempts()).Msg("transfer verified")
			return data, Report{
				SessionID: sess.ID,
				Attempts:  sess.Attempts(),
				Bytes:     len(data),
				CRC:       sess.Expected(),
			}, nil
		}

		var ierr *IntegrityError
		if !errors.As(err, &ierr) {
			return nil, Report{SessionID: sess.ID, Attempts: sess.Attempts()}, err
		}
		observability.RecordTransfer("receiver", "repeat", 0)
		log.Warn().Err(err).Int("attempt", sess.Attempts()).Msg("transfer corrupt")
		if err := r.link.WriteLine(handshake.TokenRetry); err != nil {
			return nil, Report{SessionID: sess.ID, Attempts: sess.Attempts()}, err
		}
		if sess.Attempts() >= r.opts.MaxAttempts {
			sess.Fail()
			observability.RecordTransfer("receiver", "exhausted", 0)
			return nil, Report{SessionID: sess.ID, Attempts: sess.Attempts()},
				fmt.Errorf("%w after %d attempts: %w", ErrAttemptsExhausted, sess.Attempts(), err)
		}
	}
}

// awaitOffer beacons every BeaconInterval until an offer line arrives or
// HandshakeTimeout passes without one.
func (r *Receiver) awaitOffer(ctx context.Context, log zerolog.Logger) (string, error) {
	deadline := time.Now().Add(r.opts.HandshakeTimeout)
	for {
		if r.opts.Beacon != "" {
			if err := r.link.WriteLine(r.opts.Beacon); err != nil {
				return "", err
			}
		}
		line, ok, err := readLineWithin(ctx, r.link, r.opts.BeaconInterval)
		if err != nil {
			return "", err
		}
		if ok {
			line = strings.TrimSpace(line)
			if handshake.IsOffer(line) {
				return line, nil
			}
			if line != "" {
				log.Debug().Str("line", line).Msg("ignoring line while awaiting offer")
			}
			continue
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("transfer: no offer within %s: %w", r.opts.HandshakeTimeout, context.DeadlineExceeded)
		}
	}
}

func (r *Receiver) readPayload(ctx context.Context, sess *Session) ([]byte, error) {
	pctx, cancel := context.WithTimeout(ctx, r.opts.HandshakeTimeout)
	defer cancel()
	if !sess.Offer().HasLength() {
		return r.link.ReadIdle(pctx, r.opts.HandshakeTimeout)
	}
	payload, err := r.link.ReadN(pctx, sess.Length())
	if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		// Short payload: verify what arrived so the mismatch earns a repeat.
		short := r.link.Buffered()
		r.log.Warn().Int("want", sess.Length()).Int("got", len(short)).Msg("payload short")
		return short, nil
	}
	return payload, err
}
