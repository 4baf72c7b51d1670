package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/pelletier/go-toml/v2"
)

const templateHeader = `# satlink settings
#
# Durations use Go syntax ("200ms", "1s"). Parity is one of N,E,O,M,S.
# Command frames on the link look like ++<id>+<value>:<type>...++
# with type one of str,int,bool.

`

// Template renders the default settings as a TOML document.
func Template() (string, error) {
	body, err := toml.Marshal(toFile(Default()))
	if err != nil {
		return "", fmt.Errorf("config template render failed: %w", err)
	}
	return templateHeader + string(body), nil
}

// WriteTemplate writes the default settings to path.
func WriteTemplate(path string, overwrite bool) error {
	template, err := Template()
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

func toFile(s Settings) fileConfig {
	commands := make([]fileCommand, 0, len(s.Commands))
	for _, c := range s.Commands {
		commands = append(commands, fileCommand{ID: c.ID, Handler: c.Handler, Args: c.Args, Policy: c.Policy})
	}
	return fileConfig{
		LogLevel: s.LogLevel,
		Link: fileLink{
			Device:        s.Link.Device,
			BaudRate:      s.Link.BaudRate,
			Parity:        s.Link.Parity,
			StopBits:      s.Link.StopBits,
			ByteSize:      s.Link.ByteSize,
			ReadTimeout:   s.Link.ReadTimeout.String(),
			StartupMarker: s.Link.StartupMarker,
		},
		Listener: fileListener{
			ReleaseWorkers: s.Listener.ReleaseWorkers,
			ReleaseQueue:   s.Listener.ReleaseQueue,
			MaxFrameBytes:  s.Listener.MaxFrameBytes,
		},
		Transfer: fileTransfer{
			Beacon:           s.Transfer.Beacon,
			BeaconInterval:   s.Transfer.BeaconInterval.String(),
			MaxAttempts:      s.Transfer.MaxAttempts,
			HandshakeTimeout: s.Transfer.HandshakeTimeout.String(),
			DeclareLength:    s.Transfer.DeclareLength,
		},
		FolderSync: fileFolder{FileTransferDelay: s.FolderSync.FileTransferDelay.String()},
		Runner: fileRunner{
			Kind:    s.Runner.Kind,
			Timeout: s.Runner.Timeout.String(),
		},
		Handlers: fileHandlers{
			Python:            s.Handlers.Python,
			CaptureScript:     s.Handlers.CaptureScript,
			PointillismScript: s.Handlers.PointillismScript,
			ConvertedIndex:    s.Handlers.ConvertedIndex,
		},
		Metrics:  fileMetrics{Addr: s.Metrics.Addr},
		Commands: commands,
	}
}

// DevicePath maps a numeric port (ttyS<n>, COM<n>) to a device path.
func DevicePath(goos string, n int) string {
	if goos == "windows" {
		return "COM" + strconv.Itoa(n)
	}
	return "/dev/ttyS" + strconv.Itoa(n)
}
