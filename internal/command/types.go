package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/danmuck/satlink/internal/link"
	"github.com/danmuck/satlink/internal/protocol/frame"
	"github.com/rs/zerolog"
)

// Policy decides whether the listener keeps reading while a handler runs.
type Policy int

const (
	// Hold runs the handler inside the read loop; the handler owns the link.
	Hold Policy = iota
	// Release runs the handler on the worker pool while the loop keeps reading.
	Release
)

func (p Policy) String() string {
	switch p {
	case Hold:
		return "hold"
	case Release:
		return "release"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ParsePolicy accepts "hold" or "release".
func ParsePolicy(raw string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "hold":
		return Hold, nil
	case "release":
		return Release, nil
	default:
		return 0, fmt.Errorf("%w: unknown policy %q", ErrInvalidDescriptor, raw)
	}
}

// ParseTags converts config arg type names into frame tags.
func ParseTags(raw []string) ([]frame.Tag, error) {
	tags := make([]frame.Tag, 0, len(raw))
	for _, r := range raw {
		tag, ok := frame.ParseTag(strings.TrimSpace(r))
		if !ok {
			return nil, fmt.Errorf("%w: unknown arg type %q", ErrInvalidDescriptor, r)
		}
		tags = append(tags, tag)
	}
	return tags, nil
}

// Descriptor is the registered shape and execution policy of one command.
type Descriptor struct {
	ID       int
	Name     string
	ArgTypes []frame.Tag
	Policy   Policy
	Handler  Handler
}

// Arity is the number of arguments a frame must carry.
func (d Descriptor) Arity() int {
	return len(d.ArgTypes)
}

// Result is what a handler reports back on success.
type Result struct {
	Status string
	Output string
}

// Handler is one command capability.
type Handler interface {
	Execute(ctx context.Context, call Call) (Result, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, call Call) (Result, error)

func (f HandlerFunc) Execute(ctx context.Context, call Call) (Result, error) {
	return f(ctx, call)
}

// Call carries converted arguments and the link view for one invocation.
type Call struct {
	ID     int
	Name   string
	Policy Policy
	TaskID string
	Args   []any
	Link   *link.Conn
	Log    zerolog.Logger
}

// Str returns argument i as a string.
func (c Call) Str(i int) (string, error) {
	v, err := c.arg(i)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: arg %d is %T, not string", ErrArgumentMismatch, i, v)
	}
	return s, nil
}

// Int returns argument i as an int64.
func (c Call) Int(i int) (int64, error) {
	v, err := c.arg(i)
	if err != nil {
		return 0, err
	}
	n, ok := v.(int64)
	if !ok {
		return 0, fmt.Errorf("%w: arg %d is %T, not int", ErrArgumentMismatch, i, v)
	}
	return n, nil
}

// Bool returns argument i as a bool.
func (c Call) Bool(i int) (bool, error) {
	v, err := c.arg(i)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%w: arg %d is %T, not bool", ErrArgumentMismatch, i, v)
	}
	return b, nil
}

// Strings returns every argument rendered as a string.
func (c Call) Strings() []string {
	out := make([]string, 0, len(c.Args))
	for _, v := range c.Args {
		out = append(out, fmt.Sprint(v))
	}
	return out
}

func (c Call) arg(i int) (any, error) {
	if i < 0 || i >= len(c.Args) {
		return nil, fmt.Errorf("%w: arg %d out of range (arity %d)", ErrArgumentMismatch, i, len(c.Args))
	}
	return c.Args[i], nil
}
