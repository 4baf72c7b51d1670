package handshake

import (
	"errors"
	"fmt"
	"hash/crc32"
	"strconv"
	"strings"
)

// Line tokens exchanged around a file transfer.
const (
	VerbSend   = "sendjson"
	TokenOK    = "ok"
	TokenDone  = "done"
	TokenRetry = "repeat"
)

// NoLength marks a handshake that did not declare the payload length.
const NoLength = -1

var ErrBadHandshake = errors.New("handshake: malformed line")

// Offer is the sender's handshake: the CRC-32 of the payload and, when
// declared, its exact length.
type Offer struct {
	CRC    uint32
	Length int
}

// NewOffer builds the offer for payload.
func NewOffer(payload []byte, declareLength bool) Offer {
	o := Offer{CRC: Checksum(payload), Length: NoLength}
	if declareLength {
		o.Length = len(payload)
	}
	return o
}

// Line renders the offer without its line terminator.
func (o Offer) Line() string {
	if o.Length == NoLength {
		return fmt.Sprintf("%s %d", VerbSend, o.CRC)
	}
	return fmt.Sprintf("%s %d %d", VerbSend, o.CRC, o.Length)
}

// HasLength reports whether the payload length was declared.
func (o Offer) HasLength() bool {
	return o.Length != NoLength
}

// IsOffer reports whether line starts with the handshake verb.
func IsOffer(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), VerbSend)
}

// ParseOffer parses `sendjson <crc32> [<length>]`.
func ParseOffer(line string) (Offer, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 || len(fields) > 3 || fields[0] != VerbSend {
		return Offer{}, fmt.Errorf("%w: %q", ErrBadHandshake, line)
	}
	crc, err := strconv.ParseUint(fields[1], 10, 32)
	if err != nil {
		return Offer{}, fmt.Errorf("%w: crc %q: %v", ErrBadHandshake, fields[1], err)
	}
	o := Offer{CRC: uint32(crc), Length: NoLength}
	if len(fields) == 3 {
		n, err := strconv.Atoi(fields[2])
		if err != nil || n < 0 {
			return Offer{}, fmt.Errorf("%w: length %q", ErrBadHandshake, fields[2])
		}
		o.Length = n
	}
	return o, nil
}

// Checksum is the IEEE CRC-32 used on the wire.
func Checksum(payload []byte) uint32 {
	return crc32.ChecksumIEEE(payload)
}
