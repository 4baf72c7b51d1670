package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type fileConfig struct {
	LogLevel   string        `toml:"log_level"`
	Link       fileLink      `toml:"link"`
	Listener   fileListener  `toml:"listener"`
	Transfer   fileTransfer  `toml:"transfer"`
	FolderSync fileFolder    `toml:"folder_sync"`
	Runner     fileRunner    `toml:"runner"`
	Handlers   fileHandlers  `toml:"handlers"`
	Metrics    fileMetrics   `toml:"metrics"`
	Commands   []fileCommand `toml:"commands"`
}

type fileLink struct {
	Device        string  `toml:"device"`
	BaudRate      int     `toml:"baud_rate"`
	Parity        string  `toml:"parity"`
	StopBits      float64 `toml:"stop_bits"`
	ByteSize      int     `toml:"byte_size"`
	ReadTimeout   string  `toml:"read_timeout"`
	StartupMarker string  `toml:"startup_marker"`
}

type fileListener struct {
	ReleaseWorkers int `toml:"release_workers"`
	ReleaseQueue   int `toml:"release_queue"`
	MaxFrameBytes  int `toml:"max_frame_bytes"`
}

type fileTransfer struct {
	Beacon           string `toml:"beacon"`
	BeaconInterval   string `toml:"beacon_interval"`
	MaxAttempts      int    `toml:"max_attempts"`
	HandshakeTimeout string `toml:"handshake_timeout"`
	DeclareLength    bool   `toml:"declare_length"`
}

type fileFolder struct {
	FileTransferDelay string `toml:"file_transfer_delay"`
}

type fileRunner struct {
	Kind                        string `toml:"kind"`
	Host                        string `toml:"host"`
	Port                        string `toml:"port"`
	User                        string `toml:"user"`
	KeyPath                     string `toml:"key_path"`
	KnownHostsPath              string `toml:"known_hosts_path"`
	InsecureSkipHostKeyChecking bool   `toml:"insecure_skip_host_key_checking"`
	Timeout                     string `toml:"timeout"`
}

type fileHandlers struct {
	Python            string `toml:"python"`
	CaptureScript     string `toml:"capture_script"`
	PointillismScript string `toml:"pointillism_script"`
	ConvertedIndex    string `toml:"converted_index"`
}

type fileMetrics struct {
	Addr string `toml:"addr"`
}

type fileCommand struct {
	ID      int      `toml:"id"`
	Handler string   `toml:"handler"`
	Args    []string `toml:"args"`
	Policy  string   `toml:"policy"`
}

// Load reads a TOML settings file, applies every defined key over
// Default(), and validates the result.
func Load(path string) (Settings, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Settings{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Settings{}, fmt.Errorf("config parse failed (%s): unknown key %q", path, undecoded[0].String())
	}

	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if err := applyLink(meta, raw.Link, &cfg.Link); err != nil {
		return Settings{}, err
	}
	applyListener(meta, raw.Listener, &cfg.Listener)
	if err := applyTransfer(meta, raw.Transfer, &cfg.Transfer); err != nil {
		return Settings{}, err
	}
	if meta.IsDefined("folder_sync", "file_transfer_delay") {
		d, err := parseDuration("folder_sync.file_transfer_delay", raw.FolderSync.FileTransferDelay)
		if err != nil {
			return Settings{}, err
		}
		cfg.FolderSync.FileTransferDelay = d
	}
	if err := applyRunner(meta, raw.Runner, &cfg.Runner); err != nil {
		return Settings{}, err
	}
	applyHandlers(meta, raw.Handlers, &cfg.Handlers)
	if meta.IsDefined("metrics", "addr") {
		cfg.Metrics.Addr = strings.TrimSpace(raw.Metrics.Addr)
	}
	if meta.IsDefined("commands") {
		cfg.Commands = make([]CommandConfig, 0, len(raw.Commands))
		for _, c := range raw.Commands {
			cfg.Commands = append(cfg.Commands, CommandConfig{
				ID:      c.ID,
				Handler: strings.TrimSpace(c.Handler),
				Args:    normalizeList(c.Args),
				Policy:  strings.ToLower(strings.TrimSpace(c.Policy)),
			})
		}
	}

	if err := Validate(cfg); err != nil {
		return Settings{}, err
	}
	return cfg, nil
}

func applyLink(meta toml.MetaData, raw fileLink, out *LinkConfig) error {
	if meta.IsDefined("link", "device") {
		out.Device = strings.TrimSpace(raw.Device)
	}
	if meta.IsDefined("link", "baud_rate") {
		out.BaudRate = raw.BaudRate
	}
	if meta.IsDefined("link", "parity") {
		out.Parity = strings.ToUpper(strings.TrimSpace(raw.Parity))
	}
	if meta.IsDefined("link", "stop_bits") {
		out.StopBits = raw.StopBits
	}
	if meta.IsDefined("link", "byte_size") {
		out.ByteSize = raw.ByteSize
	}
	if meta.IsDefined("link", "read_timeout") {
		d, err := parseDuration("link.read_timeout", raw.ReadTimeout)
		if err != nil {
			return err
		}
		out.ReadTimeout = d
	}
	if meta.IsDefined("link", "startup_marker") {
		out.StartupMarker = raw.StartupMarker
	}
	return nil
}

func applyListener(meta toml.MetaData, raw fileListener, out *ListenerConfig) {
	if meta.IsDefined("listener", "release_workers") {
		out.ReleaseWorkers = raw.ReleaseWorkers
	}
	if meta.IsDefined("listener", "release_queue") {
		out.ReleaseQueue = raw.ReleaseQueue
	}
	if meta.IsDefined("listener", "max_frame_bytes") {
		out.MaxFrameBytes = raw.MaxFrameBytes
	}
}

func applyTransfer(meta toml.MetaData, raw fileTransfer, out *TransferConfig) error {
	if meta.IsDefined("transfer", "beacon") {
		out.Beacon = strings.TrimSpace(raw.Beacon)
	}
	if meta.IsDefined("transfer", "beacon_interval") {
		d, err := parseDuration("transfer.beacon_interval", raw.BeaconInterval)
		if err != nil {
			return err
		}
		out.BeaconInterval = d
	}
	if meta.IsDefined("transfer", "max_attempts") {
		out.MaxAttempts = raw.MaxAttempts
	}
	if meta.IsDefined("transfer", "handshake_timeout") {
		d, err := parseDuration("transfer.handshake_timeout", raw.HandshakeTimeout)
		if err != nil {
			return err
		}
		out.HandshakeTimeout = d
	}
	if meta.IsDefined("transfer", "declare_length") {
		out.DeclareLength = raw.DeclareLength
	}
	return nil
}

func applyRunner(meta toml.MetaData, raw fileRunner, out *RunnerConfig) error {
	if meta.IsDefined("runner", "kind") {
		out.Kind = strings.ToLower(strings.TrimSpace(raw.Kind))
	}
	if meta.IsDefined("runner", "host") {
		out.Host = strings.TrimSpace(raw.Host)
	}
	if meta.IsDefined("runner", "port") {
		out.Port = strings.TrimSpace(raw.Port)
	}
	if meta.IsDefined("runner", "user") {
		out.User = strings.TrimSpace(raw.User)
	}
	if meta.IsDefined("runner", "key_path") {
		out.KeyPath = strings.TrimSpace(raw.KeyPath)
	}
	if meta.IsDefined("runner", "known_hosts_path") {
		out.KnownHostsPath = strings.TrimSpace(raw.KnownHostsPath)
	}
	if meta.IsDefined("runner", "insecure_skip_host_key_checking") {
		out.InsecureSkipHostKeyChecking = raw.InsecureSkipHostKeyChecking
	}
	if meta.IsDefined("runner", "timeout") {
		d, err := parseDuration("runner.timeout", raw.Timeout)
		if err != nil {
			return err
		}
		out.Timeout = d
	}
	return nil
}

func applyHandlers(meta toml.MetaData, raw fileHandlers, out *HandlersConfig) {
	if meta.IsDefined("handlers", "python") {
		out.Python = strings.TrimSpace(raw.Python)
	}
	if meta.IsDefined("handlers", "capture_script") {
		out.CaptureScript = strings.TrimSpace(raw.CaptureScript)
	}
	if meta.IsDefined("handlers", "pointillism_script") {
		out.PointillismScript = strings.TrimSpace(raw.PointillismScript)
	}
	if meta.IsDefined("handlers", "converted_index") {
		out.ConvertedIndex = strings.TrimSpace(raw.ConvertedIndex)
	}
}

func parseDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
