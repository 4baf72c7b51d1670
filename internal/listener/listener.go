// Package listener runs the single read loop on the device side of the
// link: it decodes command frames and dispatches them by port policy.
package listener

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/danmuck/satlink/internal/command"
	"github.com/danmuck/satlink/internal/link"
	"github.com/danmuck/satlink/internal/observability"
	"github.com/danmuck/satlink/internal/protocol/frame"
	"github.com/rs/zerolog"
)

// Options configures a Listener.
type Options struct {
	StartupMarker string
	Limits        frame.Limits
}

// Stats counts what the loop has seen since Run started.
type Stats struct {
	Frames   uint64
	Rejected uint64
	Held     uint64
	Released uint64
	Failed   uint64
	Started  bool
}

type Listener struct {
	reader     *link.Reader
	writer     *link.Writer
	decoder    *frame.Decoder
	dispatcher *command.Dispatcher
	pool       *command.Pool
	opts       Options
	log        zerolog.Logger

	started  atomic.Bool
	frames   atomic.Uint64
	rejected atomic.Uint64
	held     atomic.Uint64
	released atomic.Uint64
	failed   atomic.Uint64
}

func New(
	reader *link.Reader,
	writer *link.Writer,
	dispatcher *command.Dispatcher,
	pool *command.Pool,
	opts Options,
	log zerolog.Logger,
) *Listener {
	return &Listener{
		reader:     reader,
		writer:     writer,
		decoder:    frame.NewDecoder(opts.Limits),
		dispatcher: dispatcher,
		pool:       pool,
		opts:       opts,
		log:        log,
	}
}

// Run writes the startup marker and reads until ctx is cancelled or the
// link reaches EOF. Frame, dispatch and handler failures are logged and
// the loop keeps going.
func (l *Listener) Run(ctx context.Context) error {
	if l.opts.StartupMarker != "" {
		if err := l.writer.WriteLine(l.opts.StartupMarker); err != nil {
			return fmt.Errorf("listener: write startup marker: %w", err)
		}
	}
	l.started.Store(true)
	l.log.Info().Str("marker", l.opts.StartupMarker).Msg("listener started")

	for {
		if ctx.Err() != nil {
			return nil
		}
		chunk, err := l.reader.ReadChunk(ctx)
		if err != nil {
			switch {
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				return nil
			case errors.Is(err, io.EOF):
				l.log.Info().Msg("link closed")
				return nil
			default:
				return fmt.Errorf("listener: read: %w", err)
			}
		}
		if len(chunk) == 0 {
			continue
		}

		l.decoder.Write(chunk)
		for {
			res, ok := l.decoder.Next()
			if !ok {
				break
			}
			l.handle(ctx, res)
		}
	}
}

func (l *Listener) handle(ctx context.Context, res frame.Result) {
	if res.Err != nil {
		l.rejected.Add(1)
		observability.RecordFrame(false)
		l.log.Warn().Err(res.Err).Msg("frame dropped")
		return
	}
	l.frames.Add(1)
	observability.RecordFrame(true)

	call, desc, err := l.dispatcher.Prepare(res.Frame)
	if err != nil {
		l.rejected.Add(1)
		l.log.Warn().Err(err).Int("command", res.Frame.ID).Msg("dispatch rejected")
		return
	}

	switch desc.Policy {
	case command.Hold:
		l.held.Add(1)
		l.reader.Unread(l.decoder.Handoff())
		call.Link = link.Held(l.reader, l.writer)
		result, err := l.dispatcher.Invoke(ctx, desc, call)
		l.report(call, result, err)
	case command.Release:
		l.released.Add(1)
		call.Link = link.WriteOnly(l.writer)
		_, err := l.pool.Submit(ctx, call.TaskID, func(ctx context.Context) (command.Result, error) {
			result, err := l.dispatcher.Invoke(ctx, desc, call)
			l.report(call, result, err)
			return result, err
		})
		if err != nil {
			l.failed.Add(1)
			call.Log.Warn().Err(err).Msg("release submit failed")
		}
	}
}

func (l *Listener) report(call command.Call, result command.Result, err error) {
	if err != nil {
		l.failed.Add(1)
		var herr *command.HandlerError
		external := errors.As(err, &herr) && herr.External
		call.Log.Error().Err(err).Bool("external", external).Msg("command failed")
		return
	}
	call.Log.Info().Str("status", result.Status).Msg("command finished")
}

func (l *Listener) Stats() Stats {
	return Stats{
		Frames:   l.frames.Load(),
		Rejected: l.rejected.Load(),
		Held:     l.held.Load(),
		Released: l.released.Load(),
		Failed:   l.failed.Load(),
		Started:  l.started.Load(),
	}
}
