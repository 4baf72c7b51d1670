package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"syscall"

	"github.com/danmuck/satlink/internal/config"
	"github.com/danmuck/satlink/internal/foldersync"
	"github.com/danmuck/satlink/internal/link"
	"github.com/danmuck/satlink/internal/logging"
	"github.com/danmuck/satlink/internal/protocol/frame"
	"github.com/danmuck/satlink/internal/transfer"
	"go.bug.st/serial"
)

// linkFlags are shared by every subcommand that opens the port.
type linkFlags struct {
	config  string
	port    int
	device  string
	verbose bool
}

func (lf *linkFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&lf.config, "config", "", "path to TOML config (defaults when empty)")
	fs.IntVar(&lf.port, "port", -1, "serial port number (ttyS<n> or COM<n>)")
	fs.StringVar(&lf.device, "device", "", "serial device path")
	fs.BoolVar(&lf.verbose, "verbose", false, "log at debug level")
}

func (lf *linkFlags) settings() (config.Settings, error) {
	cfg := config.Default()
	if lf.config != "" {
		loaded, err := config.Load(lf.config)
		if err != nil {
			return config.Settings{}, err
		}
		cfg = loaded
	}
	if lf.port >= 0 {
		cfg.Link.Device = config.DevicePath(runtime.GOOS, lf.port)
	}
	if d := strings.TrimSpace(lf.device); d != "" {
		cfg.Link.Device = d
	}
	logging.ApplyLevel(cfg.LogLevel, lf.verbose)
	return cfg, nil
}

type session struct {
	port   serial.Port
	writer *link.Writer
	conn   *link.Conn
}

func openSession(cfg config.Settings) (*session, error) {
	port, err := link.Open(cfg.Link)
	if err != nil {
		return nil, err
	}
	writer := link.NewWriter(port, logging.New("link"))
	return &session{
		port:   port,
		writer: writer,
		conn:   link.Held(link.NewReader(port), writer),
	}, nil
}

func (s *session) Close() {
	s.writer.Close()
	s.port.Close()
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runRecv(args []string) error {
	fs := flag.NewFlagSet("recv", flag.ContinueOnError)
	var lf linkFlags
	lf.register(fs)
	out := fs.String("out", "received_tree.json", "where to write the received file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := lf.settings()
	if err != nil {
		return err
	}
	s, err := openSession(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, stop := signalContext()
	defer stop()

	log := logging.New("recv")
	data, rep, err := transfer.NewReceiver(s.conn, transfer.OptionsFrom(cfg.Transfer), log).Receive(ctx)
	if err != nil {
		return err
	}
	if err := os.WriteFile(*out, data, 0o644); err != nil {
		return err
	}
	log.Info().Str("out", *out).Int("bytes", rep.Bytes).Int("attempts", rep.Attempts).Msg("file received")
	return nil
}

func runSend(args []string) error {
	fs := flag.NewFlagSet("send", flag.ContinueOnError)
	var lf linkFlags
	lf.register(fs)
	in := fs.String("in", "", "file to send")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" {
		return errors.New("-in is required")
	}
	payload, err := os.ReadFile(*in)
	if err != nil {
		return err
	}
	cfg, err := lf.settings()
	if err != nil {
		return err
	}
	s, err := openSession(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, stop := signalContext()
	defer stop()

	log := logging.New("send")
	rep, err := transfer.NewSender(s.conn, transfer.OptionsFrom(cfg.Transfer), log).Send(ctx, payload)
	if err != nil {
		return err
	}
	log.Info().Str("in", *in).Int("bytes", rep.Bytes).Int("attempts", rep.Attempts).Msg("file sent")
	return nil
}

func runFolder(args []string) error {
	fs := flag.NewFlagSet("folder", flag.ContinueOnError)
	var lf linkFlags
	lf.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("expected exactly one directory argument")
	}
	cfg, err := lf.settings()
	if err != nil {
		return err
	}
	s, err := openSession(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, stop := signalContext()
	defer stop()

	_, err = foldersync.NewSender(s.writer, foldersync.OptionsFrom(cfg.FolderSync), logging.New("folder")).
		SendFolder(ctx, fs.Arg(0))
	return err
}

func runManifest(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("manifest", flag.ContinueOnError)
	prev := fs.String("prev", "", "previous manifest JSON to diff against")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("expected exactly one directory argument")
	}
	m, err := foldersync.BuildManifest(fs.Arg(0))
	if err != nil {
		return err
	}
	if *prev == "" {
		data, err := json.Marshal(m)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(stdout, string(data))
		return err
	}

	raw, err := os.ReadFile(*prev)
	if err != nil {
		return err
	}
	old, err := foldersync.ParseManifest(raw)
	if err != nil {
		return err
	}
	d := m.Diff(old)
	for _, name := range d.Added {
		fmt.Fprintf(stdout, "+ %s\n", name)
	}
	for _, name := range d.Changed {
		fmt.Fprintf(stdout, "~ %s\n", name)
	}
	for _, name := range d.Removed {
		fmt.Fprintf(stdout, "- %s\n", name)
	}
	return nil
}

func runFrame(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("frame", flag.ContinueOnError)
	var lf linkFlags
	lf.register(fs)
	id := fs.Int("id", -1, "command id")
	write := fs.Bool("write", false, "write the frame to the serial port instead of stdout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	wire, err := composeFrame(*id, fs.Args())
	if err != nil {
		return err
	}
	if !*write {
		_, err := fmt.Fprintln(stdout, string(wire))
		return err
	}

	cfg, err := lf.settings()
	if err != nil {
		return err
	}
	s, err := openSession(cfg)
	if err != nil {
		return err
	}
	defer s.Close()
	_, err = s.writer.Write(wire)
	return err
}

// composeFrame builds wire bytes from `value:type` arguments.
func composeFrame(id int, values []string) ([]byte, error) {
	if id < 0 {
		return nil, errors.New("-id is required")
	}
	parts := make([]string, 0, len(values)+1)
	parts = append(parts, strconv.Itoa(id))
	parts = append(parts, values...)
	f, err := frame.Parse(strings.Join(parts, string(frame.FieldSep)))
	if err != nil {
		return nil, err
	}
	if len(f.Args) != len(values) {
		return nil, fmt.Errorf("%w: values may not contain %q", frame.ErrUnencodable, frame.FieldSep)
	}
	for i, v := range f.Args {
		if _, err := v.Convert(); err != nil {
			return nil, fmt.Errorf("arg %d: %w", i, err)
		}
	}
	return frame.Encode(f)
}
