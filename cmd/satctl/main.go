package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/satlink/internal/command"
	"github.com/danmuck/satlink/internal/config"
	"github.com/danmuck/satlink/internal/handlers"
	"github.com/danmuck/satlink/internal/link"
	"github.com/danmuck/satlink/internal/listener"
	"github.com/danmuck/satlink/internal/logging"
	"github.com/danmuck/satlink/internal/observability"
	"github.com/danmuck/satlink/internal/protocol/frame"
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "path to satctl TOML config")
	port := flag.Int("port", -1, "serial port number (ttyS<n> or COM<n>), overrides link.device")
	device := flag.String("device", "", "serial device path, overrides link.device")
	verbose := flag.Bool("verbose", false, "log at debug level")
	metrics := flag.String("metrics", "", "listen address for /health and /metrics")
	listPorts := flag.Bool("list-ports", false, "print visible serial ports and exit")
	flag.Parse()

	logging.ConfigureRuntime()
	log := logging.New("satctl")

	if *listPorts {
		ports, err := link.Ports()
		if err != nil {
			log.Fatal().Err(err).Msg("list serial ports")
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}

	explicit := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "config" {
			explicit = true
		}
	})
	cfg, err := loadSettings(*configPath, explicit)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if err := applyOverrides(&cfg, flagOverrides{port: *port, device: *device, metrics: *metrics}); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}
	logging.ApplyLevel(cfg.LogLevel, *verbose)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "satctl: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Settings) error {
	log := logging.New("satctl")

	runner, err := handlers.NewRunner(cfg.Runner)
	if err != nil {
		return err
	}
	reg := command.NewRegistry()
	if err := handlers.NewSet(cfg, runner).Build(reg, cfg.Commands); err != nil {
		return err
	}
	for _, d := range reg.List() {
		log.Debug().Int("id", d.ID).Str("name", d.Name).Str("policy", d.Policy.String()).Int("arity", d.Arity()).Msg("command registered")
	}

	port, err := link.Open(cfg.Link)
	if err != nil {
		return err
	}
	defer port.Close()
	log.Info().Str("device", cfg.Link.Device).Int("baud", cfg.Link.BaudRate).Msg("link open")

	writer := link.NewWriter(port, logging.New("link"))
	defer writer.Close()
	pool := command.NewPool(cfg.Listener.ReleaseWorkers, cfg.Listener.ReleaseQueue, logging.New("pool"))
	defer pool.Close()

	l := listener.New(
		link.NewReader(port),
		writer,
		command.NewDispatcher(reg, logging.New("dispatch")),
		pool,
		listener.Options{
			StartupMarker: cfg.Link.StartupMarker,
			Limits:        frame.Limits{MaxFrameBytes: cfg.Listener.MaxFrameBytes},
		},
		logging.New("listener"),
	)

	if cfg.Metrics.Addr != "" {
		httpLog := logging.New("http")
		router := observability.NewRouter("satctl", httpLog, func() observability.Status {
			return observability.Status{
				Device:   cfg.Link.Device,
				Commands: reg.Len(),
				Started:  l.Stats().Started,
			}
		})
		go func() {
			if err := observability.Serve(ctx, cfg.Metrics.Addr, router, httpLog); err != nil {
				httpLog.Error().Err(err).Msg("metrics server stopped")
			}
		}()
	}

	return l.Run(ctx)
}
