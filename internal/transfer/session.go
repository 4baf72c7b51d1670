package transfer

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/danmuck/satlink/internal/protocol/handshake"
	"github.com/google/uuid"
)

var (
	ErrIntegrityMismatch = errors.New("transfer: crc mismatch")
	ErrInvalidTransition = errors.New("transfer: invalid state transition")
	ErrAttemptsExhausted = errors.New("transfer: attempts exhausted")
	ErrBadHandshake      = handshake.ErrBadHandshake
)

// IntegrityError reports a payload whose checksum did not match the offer.
type IntegrityError struct {
	Expected uint32
	Actual   uint32
	Bytes    int
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("transfer: crc mismatch: expected %d, got %d over %d bytes", e.Expected, e.Actual, e.Bytes)
}

func (e *IntegrityError) Unwrap() error {
	return ErrIntegrityMismatch
}

type State int

const (
	AwaitingHandshake State = iota
	Receiving
	Verifying
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case AwaitingHandshake:
		return "awaiting_handshake"
	case Receiving:
		return "receiving"
	case Verifying:
		return "verifying"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Session is the receiving side of one file transfer. It only moves
// forward, except that a checksum mismatch during verification returns it
// to AwaitingHandshake for another attempt.
type Session struct {
	ID       string
	state    State
	offer    handshake.Offer
	attempts int
	buf      bytes.Buffer
}

func NewSession() *Session {
	return &Session{ID: uuid.NewString(), state: AwaitingHandshake, offer: handshake.Offer{Length: handshake.NoLength}}
}

func (s *Session) State() State {
	return s.state
}

// Expected is the CRC-32 from the current offer.
func (s *Session) Expected() uint32 {
	return s.offer.CRC
}

// Length is the declared payload length, or handshake.NoLength.
func (s *Session) Length() int {
	return s.offer.Length
}

func (s *Session) Offer() handshake.Offer {
	return s.offer
}

// Attempts counts accepted handshakes.
func (s *Session) Attempts() int {
	return s.attempts
}

// Handshake accepts a sender offer line and starts receiving.
func (s *Session) Handshake(line string) error {
	if s.state != AwaitingHandshake {
		return s.transitionErr("handshake")
	}
	offer, err := handshake.ParseOffer(line)
	if err != nil {
		return err
	}
	s.offer = offer
	s.attempts++
	s.buf.Reset()
	s.state = Receiving
	return nil
}

// Write appends payload bytes.
func (s *Session) Write(p []byte) (int, error) {
	if s.state != Receiving {
		return 0, s.transitionErr("write")
	}
	return s.buf.Write(p)
}

// Complete verifies the accumulated payload. On a match the session is
// Done and the payload is returned. On a mismatch the session is back in
// AwaitingHandshake and the error wraps ErrIntegrityMismatch.
func (s *Session) Complete() ([]byte, error) {
	if s.state != Receiving {
		return nil, s.transitionErr("complete")
	}
	s.state = Verifying
	payload := s.buf.Bytes()
	actual := handshake.Checksum(payload)
	if actual != s.offer.CRC {
		s.state = AwaitingHandshake
		return nil, &IntegrityError{Expected: s.offer.CRC, Actual: actual, Bytes: len(payload)}
	}
	s.state = Done
	out := make([]byte, len(payload))
	copy(out, payload)
	s.buf.Reset()
	return out, nil
}

// Fail abandons the session.
func (s *Session) Fail() error {
	if s.state == Done || s.state == Failed {
		return s.transitionErr("fail")
	}
	s.state = Failed
	s.buf.Reset()
	return nil
}

func (s *Session) transitionErr(op string) error {
	return fmt.Errorf("%w: %s in state %s", ErrInvalidTransition, op, s.state)
}
