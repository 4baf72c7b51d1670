package frame

import (
	"errors"
	"fmt"
	"strconv"
)

var ErrConvert = errors.New("frame: value conversion failed")

// Tag names the declared type of one argument.
type Tag string

const (
	TagString Tag = "str"
	TagInt    Tag = "int"
	TagBool   Tag = "bool"
)

// ParseTag accepts the three wire type names.
func ParseTag(raw string) (Tag, bool) {
	switch Tag(raw) {
	case TagString, TagInt, TagBool:
		return Tag(raw), true
	default:
		return "", false
	}
}

// Value is one `value:type` argument exactly as it appeared on the wire.
// Conversion happens at dispatch.
type Value struct {
	Tag Tag
	Raw string
}

func String(v string) Value {
	return Value{Tag: TagString, Raw: v}
}

func Int(v int64) Value {
	return Value{Tag: TagInt, Raw: strconv.FormatInt(v, 10)}
}

func Bool(v bool) Value {
	if v {
		return Value{Tag: TagBool, Raw: "True"}
	}
	return Value{Tag: TagBool, Raw: "False"}
}

// Convert returns the Go value for the declared tag: string, int64 or bool.
func (v Value) Convert() (any, error) {
	switch v.Tag {
	case TagString:
		return v.Raw, nil
	case TagInt:
		n, err := strconv.ParseInt(v.Raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a base-10 int", ErrConvert, v.Raw)
		}
		return n, nil
	case TagBool:
		switch v.Raw {
		case "True", "true", "1":
			return true, nil
		case "False", "false", "0":
			return false, nil
		}
		return nil, fmt.Errorf("%w: %q is not a bool", ErrConvert, v.Raw)
	default:
		return nil, fmt.Errorf("%w: unknown tag %q", ErrConvert, v.Tag)
	}
}

func (v Value) String() string {
	return v.Raw + ":" + string(v.Tag)
}
