package link

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/danmuck/satlink/internal/config"
	"go.bug.st/serial"
)

var (
	ErrClosed      = errors.New("link: closed")
	ErrReadNotHeld = errors.New("link: read side not held by caller")
	ErrBadSettings = errors.New("link: bad line settings")
)

// Port is the raw byte pipe. A serial.Port satisfies it, as do the
// in-memory pipes used in tests. Read returning (0, nil) means the read
// timeout elapsed with nothing available.
type Port interface {
	io.ReadWriteCloser
}

// Mode converts line settings into a serial mode.
func Mode(cfg config.LinkConfig) (*serial.Mode, error) {
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: cfg.ByteSize,
	}
	switch strings.ToUpper(strings.TrimSpace(cfg.Parity)) {
	case "", "N":
		mode.Parity = serial.NoParity
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	case "M":
		mode.Parity = serial.MarkParity
	case "S":
		mode.Parity = serial.SpaceParity
	default:
		return nil, fmt.Errorf("%w: parity %q", ErrBadSettings, cfg.Parity)
	}
	switch cfg.StopBits {
	case 0, 1:
		mode.StopBits = serial.OneStopBit
	case 1.5:
		mode.StopBits = serial.OnePointFiveStopBits
	case 2:
		mode.StopBits = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("%w: stop bits %v", ErrBadSettings, cfg.StopBits)
	}
	return mode, nil
}

// Open opens the serial device and applies the read timeout.
func Open(cfg config.LinkConfig) (serial.Port, error) {
	mode, err := Mode(cfg)
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(cfg.Device, mode)
	if err != nil {
		return nil, fmt.Errorf("link: open %s: %w", cfg.Device, err)
	}
	if cfg.ReadTimeout > 0 {
		if err := port.SetReadTimeout(cfg.ReadTimeout); err != nil {
			port.Close()
			return nil, fmt.Errorf("link: set read timeout on %s: %w", cfg.Device, err)
		}
	}
	return port, nil
}

// Ports lists the serial devices visible to the host.
func Ports() ([]string, error) {
	return serial.GetPortsList()
}
