package transfer

import (
	"context"
	"fmt"
	"strings"

	"github.com/danmuck/satlink/internal/observability"
	"github.com/danmuck/satlink/internal/protocol/handshake"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Sender pushes one payload to a Receiver.
type Sender struct {
	link Link
	opts Options
	log  zerolog.Logger
}

func NewSender(l Link, opts Options, log zerolog.Logger) *Sender {
	return &Sender{link: l, opts: opts.withDefaults(), log: log}
}

// Send waits for the receiver's beacon, then offers and streams payload
// until the receiver answers done. Each repeat starts a new attempt.
func (s *Sender) Send(ctx context.Context, payload []byte) (Report, error) {
	offer := handshake.NewOffer(payload, s.opts.DeclareLength)
	report := Report{SessionID: uuid.NewString(), CRC: offer.CRC}
	log := s.log.With().Str("session", report.SessionID).Uint32("crc", offer.CRC).Logger()

	if err := s.awaitBeacon(ctx); err != nil {
		return report, err
	}

	for report.Attempts < s.opts.MaxAttempts {
		report.Attempts++
		if err := s.link.WriteLine(offer.Line()); err != nil {
			return report, err
		}
		if _, err := s.awaitToken(ctx, handshake.TokenOK); err != nil {
			return report, err
		}
		if _, err := s.link.Write(payload); err != nil {
			return report, err
		}

		verdict, err := s.awaitToken(ctx, handshake.TokenDone, handshake.TokenRetry)
		if err != nil {
			return report, err
		}
		if verdict == handshake.TokenDone {
			report.Bytes = len(payload)
			observability.RecordTransfer("sender", "done", len(payload))
			log.Info().Int("bytes", len(payload)).Int("attempt", report.Attempts).Msg("transfer accepted")
			return report, nil
		}
		observability.RecordTransfer("sender", "repeat", 0)
		log.Warn().Int("attempt", report.Attempts).Msg("receiver asked for repeat")
	}
	observability.RecordTransfer("sender", "exhausted", 0)
	return report, fmt.Errorf("%w after %d attempts", ErrAttemptsExhausted, report.Attempts)
}

func (s *Sender) awaitBeacon(ctx context.Context) error {
	hctx, cancel := context.WithTimeout(ctx, s.opts.HandshakeTimeout)
	defer cancel()
	for {
		line, err := s.link.ReadLine(hctx)
		if err != nil {
			return fmt.Errorf("transfer: waiting for beacon: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if s.opts.Beacon == "" || line == s.opts.Beacon {
			return nil
		}
		s.log.Debug().Str("line", line).Msg("ignoring line while awaiting beacon")
	}
}

// awaitToken skips beacons and other chatter until one of want arrives.
func (s *Sender) awaitToken(ctx context.Context, want ...string) (string, error) {
	hctx, cancel := context.WithTimeout(ctx, s.opts.HandshakeTimeout)
	defer cancel()
	for {
		line, err := s.link.ReadLine(hctx)
		if err != nil {
			return "", fmt.Errorf("transfer: waiting for %s: %w", strings.Join(want, "|"), err)
		}
		line = strings.TrimSpace(line)
		for _, w := range want {
			if line == w {
				return line, nil
			}
		}
	}
}
