// Package foldersync pushes the regular files of one directory over the
// link: a JSON manifest of MD5 digests first, then each body in manifest
// order with a fixed pause before each one.
package foldersync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/danmuck/satlink/internal/config"
	"github.com/danmuck/satlink/internal/observability"
	"github.com/rs/zerolog"
)

type Options struct {
	FileTransferDelay time.Duration
}

func OptionsFrom(cfg config.FolderSyncConfig) Options {
	return Options{FileTransferDelay: cfg.FileTransferDelay}
}

// Report summarizes one folder sync.
type Report struct {
	Manifest Manifest
	Files    int
	Bytes    int64
}

type Sender struct {
	w    io.Writer
	opts Options
	log  zerolog.Logger
}

func NewSender(w io.Writer, opts Options, log zerolog.Logger) *Sender {
	return &Sender{w: w, opts: opts, log: log}
}

// SendFolder writes the manifest for dir and then each file body.
func (s *Sender) SendFolder(ctx context.Context, dir string) (Report, error) {
	m, err := BuildManifest(dir)
	if err != nil {
		return Report{}, err
	}
	rep := Report{Manifest: m}

	data, err := json.Marshal(m)
	if err != nil {
		return rep, fmt.Errorf("foldersync: encode manifest: %w", err)
	}
	if _, err := s.w.Write(data); err != nil {
		return rep, fmt.Errorf("foldersync: write manifest: %w", err)
	}
	rep.Bytes += int64(len(data))
	s.log.Info().Str("dir", dir).Int("files", len(m.Order)).Msg("manifest sent")

	for _, name := range m.Order {
		if err := s.pause(ctx); err != nil {
			return rep, err
		}
		body, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return rep, fmt.Errorf("foldersync: read %s: %w", name, err)
		}
		if _, err := s.w.Write(body); err != nil {
			return rep, fmt.Errorf("foldersync: write %s: %w", name, err)
		}
		rep.Files++
		rep.Bytes += int64(len(body))
		s.log.Debug().Str("file", name).Int("bytes", len(body)).Msg("file sent")
	}

	observability.RecordFolderSync(rep.Files, rep.Bytes)
	s.log.Info().Str("dir", dir).Int("files", rep.Files).Int64("bytes", rep.Bytes).Msg("folder sent")
	return rep, nil
}

func (s *Sender) pause(ctx context.Context) error {
	if s.opts.FileTransferDelay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(s.opts.FileTransferDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
