package frame

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	Delimiter = "++"
	FieldSep  = '+'
	TypeSep   = ':'
)

var (
	ErrFrameDecode   = errors.New("frame: decode failed")
	ErrFrameTooLarge = errors.New("frame: open frame exceeds limit")
	ErrUnencodable   = errors.New("frame: value cannot be encoded")
)

var delim = []byte(Delimiter)

// Frame is one decoded command frame.
type Frame struct {
	ID   int
	Args []Value
}

func NewFrame(id int, args ...Value) Frame {
	return Frame{ID: id, Args: args}
}

// DecodeError reports one frame that completed on the wire but could not be parsed.
type DecodeError struct {
	Raw    string
	Reason string
	Cause  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("frame: decode failed: %s (raw=%q)", e.Reason, e.Raw)
}

func (e *DecodeError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrFrameDecode}
	}
	return []error{ErrFrameDecode, e.Cause}
}

// Limits constrains decoder memory use.
type Limits struct {
	MaxFrameBytes int
}

func DefaultLimits() Limits {
	return Limits{MaxFrameBytes: 4096}
}

// Result is one decoder outcome, in the order its closing delimiter was seen.
type Result struct {
	Frame Frame
	Err   error
}

// Decoder turns an incrementally fed byte stream into frames. Bytes outside
// a ++...++ pair are skipped once the next opening delimiter shows up. It is
// not safe for concurrent use.
//
// A delimiter pair with nothing between them never closes a frame; the
// second delimiter becomes the opener. After a frame is dropped as too large
// or closes without a numeric id, the decoder resyncs: its closing delimiter
// is treated as a possible opener, and interiors that still lack an id are
// discarded silently until a frame with one closes.
type Decoder struct {
	limits Limits
	buf    []byte
	open   bool
	resync bool
}

func NewDecoder(limits Limits) *Decoder {
	if limits.MaxFrameBytes <= 0 {
		limits = DefaultLimits()
	}
	return &Decoder{limits: limits}
}

// Feed appends chunk and returns every frame it completed.
func (d *Decoder) Feed(chunk []byte) []Result {
	d.Write(chunk)
	var out []Result
	for {
		r, ok := d.Next()
		if !ok {
			return out
		}
		out = append(out, r)
	}
}

// Write appends chunk without decoding.
func (d *Decoder) Write(chunk []byte) {
	d.buf = append(d.buf, chunk...)
}

// Next returns the next completed frame or decode failure, if any.
func (d *Decoder) Next() (Result, bool) {
	for {
		if !d.open {
			i := bytes.Index(d.buf, delim)
			if i < 0 {
				if len(d.buf) > d.limits.MaxFrameBytes {
					d.keepPartialDelimiter()
				}
				return Result{}, false
			}
			d.buf = d.buf[i+len(delim):]
			d.open = true
		}

		j := bytes.Index(d.buf, delim)
		if j < 0 {
			if len(d.buf) <= d.limits.MaxFrameBytes {
				return Result{}, false
			}
			raw := truncate(string(d.buf))
			d.open = false
			d.keepPartialDelimiter()
			if d.resync {
				continue
			}
			d.resync = true
			return Result{Err: &DecodeError{
				Raw:    raw,
				Reason: fmt.Sprintf("no closing delimiter within %d bytes", d.limits.MaxFrameBytes),
				Cause:  ErrFrameTooLarge,
			}}, true
		}
		if j == 0 {
			d.buf = d.buf[len(delim):]
			continue
		}

		interior := string(d.buf[:j])
		d.buf = d.buf[j+len(delim):]

		f, err := Parse(interior)
		if err == nil {
			d.open = false
			d.resync = false
			return Result{Frame: f}, true
		}
		if !hasID(interior) {
			wasResyncing := d.resync
			d.resync = true
			if wasResyncing {
				continue
			}
			return Result{Err: err}, true
		}
		d.open = false
		d.resync = false
		return Result{Err: err}, true
	}
}

// Handoff returns the bytes buffered after the last closed frame and
// clears them, so a handler that takes over the link sees them first.
// It returns nil while a frame is open or when the bytes hold another
// delimiter, since those still belong to the frame stream.
func (d *Decoder) Handoff() []byte {
	if d.open || len(d.buf) == 0 || bytes.Contains(d.buf, delim) {
		return nil
	}
	// A trailing separator may be the first half of the next opener.
	n := len(d.buf)
	if d.buf[n-1] == FieldSep {
		n--
	}
	if n == 0 {
		return nil
	}
	out := append([]byte(nil), d.buf[:n]...)
	d.buf = append(d.buf[:0], d.buf[n:]...)
	return out
}

// Open reports whether an opening delimiter is waiting for its close.
func (d *Decoder) Open() bool {
	return d.open
}

// Reset discards all buffered state.
func (d *Decoder) Reset() {
	d.buf = nil
	d.open = false
	d.resync = false
}

func (d *Decoder) keepPartialDelimiter() {
	if n := len(d.buf); n > 0 && d.buf[n-1] == FieldSep {
		d.buf = append(d.buf[:0], FieldSep)
		return
	}
	d.buf = d.buf[:0]
}

func hasID(interior string) bool {
	id, _, _ := strings.Cut(interior, string(FieldSep))
	_, err := strconv.Atoi(id)
	return err == nil
}

// Parse decodes the interior of one frame: `<id>+<value>:<type>...`.
func Parse(interior string) (Frame, error) {
	if interior == "" {
		return Frame{}, &DecodeError{Raw: interior, Reason: "empty frame"}
	}
	fields := strings.Split(interior, string(FieldSep))
	id, err := strconv.Atoi(fields[0])
	if err != nil {
		return Frame{}, &DecodeError{Raw: interior, Reason: fmt.Sprintf("command id %q is not a base-10 int", fields[0])}
	}

	args := make([]Value, 0, len(fields)-1)
	for i, field := range fields[1:] {
		sep := strings.LastIndexByte(field, TypeSep)
		if sep < 0 {
			return Frame{}, &DecodeError{Raw: interior, Reason: fmt.Sprintf("arg %d %q missing :type", i, field)}
		}
		tag, ok := ParseTag(field[sep+1:])
		if !ok {
			return Frame{}, &DecodeError{Raw: interior, Reason: fmt.Sprintf("arg %d has unknown type %q", i, field[sep+1:])}
		}
		args = append(args, Value{Tag: tag, Raw: field[:sep]})
	}
	return Frame{ID: id, Args: args}, nil
}

// Encode renders f in wire form. Values containing the field separator
// cannot be expressed because the grammar has no escaping.
func Encode(f Frame) ([]byte, error) {
	var b bytes.Buffer
	b.WriteString(Delimiter)
	b.WriteString(strconv.Itoa(f.ID))
	for i, v := range f.Args {
		if strings.IndexByte(v.Raw, FieldSep) >= 0 {
			return nil, fmt.Errorf("%w: arg %d contains %q", ErrUnencodable, i, FieldSep)
		}
		if _, ok := ParseTag(string(v.Tag)); !ok {
			return nil, fmt.Errorf("%w: arg %d has unknown type %q", ErrUnencodable, i, v.Tag)
		}
		b.WriteByte(FieldSep)
		b.WriteString(v.String())
	}
	b.WriteString(Delimiter)
	return b.Bytes(), nil
}

func truncate(s string) string {
	const max = 64
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
