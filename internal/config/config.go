package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrInvalidConfig = errors.New("config: invalid settings")

// LinkConfig describes the serial device and its line settings.
type LinkConfig struct {
	Device        string
	BaudRate      int
	Parity        string
	StopBits      float64
	ByteSize      int
	ReadTimeout   time.Duration
	StartupMarker string
}

// ListenerConfig bounds the command read loop.
type ListenerConfig struct {
	ReleaseWorkers int
	ReleaseQueue   int
	MaxFrameBytes  int
}

// TransferConfig configures the reliable single-file handoff.
type TransferConfig struct {
	Beacon           string
	BeaconInterval   time.Duration
	MaxAttempts      int
	HandshakeTimeout time.Duration
	DeclareLength    bool
}

// FolderSyncConfig configures the manifest-first folder sender.
type FolderSyncConfig struct {
	FileTransferDelay time.Duration
}

// RunnerConfig selects where external processes run.
type RunnerConfig struct {
	Kind                        string
	Host                        string
	Port                        string
	User                        string
	KeyPath                     string
	KnownHostsPath              string
	InsecureSkipHostKeyChecking bool
	Timeout                     time.Duration
}

// HandlersConfig points the built-in handlers at their collaborators.
type HandlersConfig struct {
	Python            string
	CaptureScript     string
	PointillismScript string
	ConvertedIndex    string
}

// MetricsConfig enables the optional HTTP surface.
type MetricsConfig struct {
	Addr string
}

// CommandConfig binds one frame id to a built-in handler.
type CommandConfig struct {
	ID      int
	Handler string
	Args    []string
	Policy  string
}

// Settings is the full resolved configuration for satlink binaries.
type Settings struct {
	LogLevel   string
	Link       LinkConfig
	Listener   ListenerConfig
	Transfer   TransferConfig
	FolderSync FolderSyncConfig
	Runner     RunnerConfig
	Handlers   HandlersConfig
	Metrics    MetricsConfig
	Commands   []CommandConfig
}

// Default returns the settings used when a file leaves a key unset.
func Default() Settings {
	return Settings{
		LogLevel: "info",
		Link: LinkConfig{
			Device:        "/dev/ttyS2",
			BaudRate:      115200,
			Parity:        "N",
			StopBits:      1,
			ByteSize:      8,
			ReadTimeout:   200 * time.Millisecond,
			StartupMarker: "started",
		},
		Listener: ListenerConfig{
			ReleaseWorkers: 4,
			ReleaseQueue:   64,
			MaxFrameBytes:  4096,
		},
		Transfer: TransferConfig{
			Beacon:           "ready",
			BeaconInterval:   time.Second,
			MaxAttempts:      5,
			HandshakeTimeout: 30 * time.Second,
			DeclareLength:    true,
		},
		FolderSync: FolderSyncConfig{
			FileTransferDelay: 500 * time.Millisecond,
		},
		Runner: RunnerConfig{
			Kind:    "local",
			Timeout: 10 * time.Second,
		},
		Handlers: HandlersConfig{
			Python:            "python3",
			CaptureScript:     "/home/sky/satcont_main/camera/capture/capture.py",
			PointillismScript: "/home/sky/satcont_main/camera/capture/pointillism.py",
			ConvertedIndex:    "/home/sky/capture/pointed/ptconv.json",
		},
		Commands: DefaultCommands(),
	}
}

// DefaultCommands is the command table shipped with the controller.
func DefaultCommands() []CommandConfig {
	return []CommandConfig{
		{ID: 1, Handler: "echo", Args: []string{"str", "int", "str"}, Policy: "release"},
		{ID: 2, Handler: "device", Args: []string{"str"}, Policy: "hold"},
		{ID: 3, Handler: "capture", Args: []string{"str", "str", "str", "str", "str", "str"}, Policy: "hold"},
		{ID: 4, Handler: "pointillism", Args: []string{"str", "str"}, Policy: "hold"},
		{ID: 5, Handler: "sendfile", Args: []string{"str"}, Policy: "hold"},
		{ID: 6, Handler: "sendfolder", Args: []string{"str"}, Policy: "hold"},
	}
}

// Validate enforces the ranges the link and protocols depend on.
func Validate(s Settings) error {
	if strings.TrimSpace(s.Link.Device) == "" {
		return invalid("link device is required")
	}
	if s.Link.BaudRate <= 0 {
		return invalid("link baud_rate must be positive")
	}
	switch strings.ToUpper(strings.TrimSpace(s.Link.Parity)) {
	case "N", "E", "O", "M", "S":
	default:
		return invalid(fmt.Sprintf("link parity %q not one of N,E,O,M,S", s.Link.Parity))
	}
	switch s.Link.StopBits {
	case 1, 1.5, 2:
	default:
		return invalid(fmt.Sprintf("link stop_bits %v not one of 1,1.5,2", s.Link.StopBits))
	}
	if s.Link.ByteSize < 5 || s.Link.ByteSize > 8 {
		return invalid(fmt.Sprintf("link byte_size %d outside 5..8", s.Link.ByteSize))
	}
	if s.Link.ReadTimeout <= 0 {
		return invalid("link read_timeout must be positive")
	}
	if s.Listener.ReleaseWorkers <= 0 {
		return invalid("listener release_workers must be positive")
	}
	if s.Listener.MaxFrameBytes < 8 {
		return invalid("listener max_frame_bytes too small")
	}
	if s.Transfer.MaxAttempts <= 0 {
		return invalid("transfer max_attempts must be positive")
	}
	if s.Transfer.BeaconInterval <= 0 {
		return invalid("transfer beacon_interval must be positive")
	}
	if strings.TrimSpace(s.Transfer.Beacon) == "" {
		return invalid("transfer beacon is required")
	}
	if s.FolderSync.FileTransferDelay < 0 {
		return invalid("folder_sync file_transfer_delay must not be negative")
	}
	switch strings.ToLower(strings.TrimSpace(s.Runner.Kind)) {
	case "local", "":
	case "ssh":
		if strings.TrimSpace(s.Runner.Host) == "" || strings.TrimSpace(s.Runner.User) == "" {
			return invalid("ssh runner requires host and user")
		}
	default:
		return invalid(fmt.Sprintf("runner kind %q not one of local,ssh", s.Runner.Kind))
	}
	seen := make(map[int]struct{}, len(s.Commands))
	for i, cmd := range s.Commands {
		if err := ValidateCommand(cmd); err != nil {
			return fmt.Errorf("command[%d] invalid: %w", i, err)
		}
		if _, dup := seen[cmd.ID]; dup {
			return fmt.Errorf("command[%d] invalid: %w", i, invalid(fmt.Sprintf("duplicate id %d", cmd.ID)))
		}
		seen[cmd.ID] = struct{}{}
	}
	return nil
}

// ValidateCommand checks one command table entry.
func ValidateCommand(cmd CommandConfig) error {
	if cmd.ID < 0 {
		return invalid("id must not be negative")
	}
	if strings.TrimSpace(cmd.Handler) == "" {
		return invalid("handler is required")
	}
	switch strings.ToLower(strings.TrimSpace(cmd.Policy)) {
	case "hold", "release":
	default:
		return invalid(fmt.Sprintf("policy %q not one of hold,release", cmd.Policy))
	}
	for _, tag := range cmd.Args {
		switch strings.TrimSpace(tag) {
		case "str", "int", "bool":
		default:
			return invalid(fmt.Sprintf("arg type %q not one of str,int,bool", tag))
		}
	}
	return nil
}

func invalid(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, reason)
}
