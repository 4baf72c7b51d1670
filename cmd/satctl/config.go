package main

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/danmuck/satlink/internal/config"
	"github.com/danmuck/satlink/internal/logging"
)

const defaultConfigPath = "cmd/satctl/config.toml"

type flagOverrides struct {
	port    int
	device  string
	metrics string
}

// loadSettings reads path when it exists. A missing file at the default
// path falls back to built-in defaults; a missing explicit path is an error.
func loadSettings(path string, explicit bool) (config.Settings, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return config.Default(), nil
		}
		return config.Settings{}, fmt.Errorf("load satctl config: %w", err)
	}
	return config.Load(path)
}

func applyOverrides(cfg *config.Settings, o flagOverrides) error {
	if o.port >= 0 {
		cfg.Link.Device = config.DevicePath(runtime.GOOS, o.port)
	}
	if d := strings.TrimSpace(o.device); d != "" {
		cfg.Link.Device = d
	}
	if a := strings.TrimSpace(o.metrics); a != "" {
		cfg.Metrics.Addr = a
	}
	if _, ok := logging.ParseLevel(cfg.LogLevel); !ok && cfg.LogLevel != "" {
		return fmt.Errorf("%w: log_level %q", config.ErrInvalidConfig, cfg.LogLevel)
	}
	return config.Validate(*cfg)
}
