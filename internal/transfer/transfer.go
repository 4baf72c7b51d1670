// Package transfer moves a single file across the link with a CRC-32
// handshake and retries on integrity failure.
//
// Receiver and sender exchange newline-terminated lines:
//
//	receiver: <beacon>                  repeated until an offer arrives
//	sender:   sendjson <crc32> [<len>]
//	receiver: ok
//	sender:   <payload bytes>
//	receiver: done | repeat
//
// When the offer carries a length the receiver reads exactly that many
// bytes. Without one it reads until the link goes idle for a read cycle.
package transfer

import (
	"context"
	"io"
	"time"

	"github.com/danmuck/satlink/internal/config"
)

// Link is the part of a held connection a transfer needs.
type Link interface {
	io.Writer
	WriteLine(s string) error
	ReadLine(ctx context.Context) (string, error)
	ReadN(ctx context.Context, n int) ([]byte, error)
	ReadIdle(ctx context.Context, firstByte time.Duration) ([]byte, error)
	Buffered() []byte
}

// Options tunes both ends of a transfer.
type Options struct {
	Beacon           string
	BeaconInterval   time.Duration
	MaxAttempts      int
	HandshakeTimeout time.Duration
	DeclareLength    bool
}

func OptionsFrom(cfg config.TransferConfig) Options {
	return Options{
		Beacon:           cfg.Beacon,
		BeaconInterval:   cfg.BeaconInterval,
		MaxAttempts:      cfg.MaxAttempts,
		HandshakeTimeout: cfg.HandshakeTimeout,
		DeclareLength:    cfg.DeclareLength,
	}
}

func (o Options) withDefaults() Options {
	if o.BeaconInterval <= 0 {
		o.BeaconInterval = time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 30 * time.Second
	}
	return o
}

// Report summarizes a finished transfer.
type Report struct {
	SessionID string
	Attempts  int
	Bytes     int
	CRC       uint32
}

// readLineWithin waits up to d for one line. It returns ok=false when d
// elapsed with the parent context still live.
func readLineWithin(ctx context.Context, l Link, d time.Duration) (string, bool, error) {
	lctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	line, err := l.ReadLine(lctx)
	if err != nil {
		if ctx.Err() == nil && lctx.Err() != nil {
			return "", false, nil
		}
		return "", false, err
	}
	return line, true, nil
}
