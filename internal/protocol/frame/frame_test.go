package frame

import (
	"errors"
	"reflect"
	"testing"
)

func feedAll(d *Decoder, chunks ...string) []Result {
	var out []Result
	for _, c := range chunks {
		out = append(out, d.Feed([]byte(c))...)
	}
	return out
}

func TestDecodeCommandFrame(t *testing.T) {
	d := NewDecoder(DefaultLimits())
	res := d.Feed([]byte("++1+FoxWind:str+1234:int+example:str++"))
	if len(res) != 1 || res[0].Err != nil {
		t.Fatalf("unexpected results: %+v", res)
	}
	want := Frame{ID: 1, Args: []Value{
		{Tag: TagString, Raw: "FoxWind"},
		{Tag: TagInt, Raw: "1234"},
		{Tag: TagString, Raw: "example"},
	}}
	if !reflect.DeepEqual(res[0].Frame, want) {
		t.Fatalf("frame mismatch: got=%+v want=%+v", res[0].Frame, want)
	}
}

func TestDecodeIdempotentOverChunking(t *testing.T) {
	wire := "noise++1+FoxWind:str+1234:int+example:str++junk++2+/dev/ttyS1:str+True:bool++"
	whole := feedAll(NewDecoder(DefaultLimits()), wire)
	if len(whole) != 2 {
		t.Fatalf("expected two frames, got %+v", whole)
	}

	for size := 1; size <= len(wire); size++ {
		var chunks []string
		for i := 0; i < len(wire); i += size {
			end := i + size
			if end > len(wire) {
				end = len(wire)
			}
			chunks = append(chunks, wire[i:end])
		}
		got := feedAll(NewDecoder(DefaultLimits()), chunks...)
		if !reflect.DeepEqual(got, whole) {
			t.Fatalf("chunk size %d: got=%+v want=%+v", size, got, whole)
		}
	}
}

func TestDecodePartialFrameIsBuffered(t *testing.T) {
	d := NewDecoder(DefaultLimits())
	if res := d.Feed([]byte("++2+ttyS")); len(res) != 0 {
		t.Fatalf("expected no frames for partial input, got %+v", res)
	}
	if !d.Open() {
		t.Fatalf("expected decoder to hold an open frame")
	}
	res := d.Feed([]byte("1:str++"))
	if len(res) != 1 || res[0].Frame.ID != 2 || res[0].Frame.Args[0].Raw != "ttyS1" {
		t.Fatalf("unexpected results: %+v", res)
	}
}

func TestDecodeMultipleFramesInOneChunkInOrder(t *testing.T) {
	d := NewDecoder(DefaultLimits())
	res := d.Feed([]byte("++3++++1+a:str+2:int+b:str++++2+x:str++"))
	if len(res) != 3 {
		t.Fatalf("expected three results, got %+v", res)
	}
	ids := []int{res[0].Frame.ID, res[1].Frame.ID, res[2].Frame.ID}
	if !reflect.DeepEqual(ids, []int{3, 1, 2}) {
		t.Fatalf("unexpected order: %v", ids)
	}
}

func TestDecodeErrorsDoNotStopStream(t *testing.T) {
	d := NewDecoder(DefaultLimits())
	res := d.Feed([]byte("++x+a:str++++++++1+a:float++++5+b++++7+ok:str++"))
	if len(res) != 4 {
		t.Fatalf("expected four results, got %+v", res)
	}
	for i := 0; i < 3; i++ {
		if !errors.Is(res[i].Err, ErrFrameDecode) {
			t.Fatalf("result %d: expected ErrFrameDecode, got %v", i, res[i].Err)
		}
		var de *DecodeError
		if !errors.As(res[i].Err, &de) {
			t.Fatalf("result %d: expected *DecodeError", i)
		}
	}
	if res[3].Err != nil || res[3].Frame.ID != 7 {
		t.Fatalf("expected recovery frame, got %+v", res[3])
	}
}

func TestDecodeAdjacentDelimitersReopen(t *testing.T) {
	d := NewDecoder(DefaultLimits())
	res := d.Feed([]byte("++++1+a:str++"))
	if len(res) != 1 || res[0].Err != nil || res[0].Frame.ID != 1 {
		t.Fatalf("expected ++++ to act as a single opener, got %+v", res)
	}
}

func TestDecodeStrayDelimiterResyncs(t *testing.T) {
	d := NewDecoder(DefaultLimits())
	res := d.Feed([]byte("line noise ++ here\n++2+a:str++++3+b:str++++4+c:str++"))
	if len(res) != 4 || !errors.Is(res[0].Err, ErrFrameDecode) {
		t.Fatalf("expected one decode error then three frames, got %+v", res)
	}
	for i, want := range []int{2, 3, 4} {
		if r := res[i+1]; r.Err != nil || r.Frame.ID != want {
			t.Fatalf("result %d: expected frame %d, got %+v", i+1, want, r)
		}
	}

	// Noise between frames after a resync is dropped without extra errors.
	res = d.Feed([]byte("++bad++\r\n++5+d:str++"))
	if len(res) != 2 || res[0].Err == nil || res[1].Err != nil || res[1].Frame.ID != 5 {
		t.Fatalf("unexpected results: %+v", res)
	}
}

func TestDecodeColonInsideValue(t *testing.T) {
	f, err := Parse(`4+C:\capture\a.jpg:str+/tmp/out:str`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if f.Args[0].Raw != `C:\capture\a.jpg` || f.Args[1].Raw != "/tmp/out" {
		t.Fatalf("unexpected args: %+v", f.Args)
	}
}

func TestDecodeOversizedFrameResyncs(t *testing.T) {
	d := NewDecoder(Limits{MaxFrameBytes: 16})
	res := d.Feed([]byte("++1+" + "aaaaaaaaaaaaaaaaaaaaaaaa"))
	if len(res) != 1 || !errors.Is(res[0].Err, ErrFrameTooLarge) || !errors.Is(res[0].Err, ErrFrameDecode) {
		t.Fatalf("expected ErrFrameTooLarge, got %+v", res)
	}
	res = d.Feed([]byte(" tail\n++9+ok:str++"))
	if len(res) != 1 || res[0].Err != nil || res[0].Frame.ID != 9 {
		t.Fatalf("expected resync on next frame, got %+v", res)
	}

	// The dropped frame's own closer must not swallow the frames behind it.
	d = NewDecoder(Limits{MaxFrameBytes: 16})
	res = feedAll(d, "++1+aaaaaaaaaaaaaaaaaaaaaaaa", "aaaa:str++", "++2+a:str++", "++3+b:str++", "++4+c:str++")
	if len(res) != 4 || !errors.Is(res[0].Err, ErrFrameTooLarge) {
		t.Fatalf("expected one oversize error then three frames, got %+v", res)
	}
	for i, want := range []int{2, 3, 4} {
		if r := res[i+1]; r.Err != nil || r.Frame.ID != want {
			t.Fatalf("result %d: expected frame %d, got %+v", i+1, want, r)
		}
	}
}

func TestHandoffTrailingBytes(t *testing.T) {
	d := NewDecoder(DefaultLimits())
	res := d.Feed([]byte("++5+/tmp/ptconv.json:str++sendjson 1234 3\nabc"))
	if len(res) != 1 || res[0].Frame.ID != 5 {
		t.Fatalf("unexpected results: %+v", res)
	}
	if got := string(d.Handoff()); got != "sendjson 1234 3\nabc" {
		t.Fatalf("unexpected handoff: %q", got)
	}
	if d.Handoff() != nil {
		t.Fatalf("expected handoff to clear the buffer")
	}

	d.Feed([]byte("++6+x:str++payload+"))
	if got := string(d.Handoff()); got != "payload" {
		t.Fatalf("expected trailing separator kept back, got %q", got)
	}
	res = d.Feed([]byte("+7+y:str++"))
	if len(res) != 1 || res[0].Err != nil || res[0].Frame.ID != 7 {
		t.Fatalf("expected split opener to survive handoff, got %+v", res)
	}

	d.Feed([]byte("++3+"))
	if d.Handoff() != nil {
		t.Fatalf("expected nil handoff while frame open")
	}
	d.Reset()

	d.Write([]byte("x++1+a:str++"))
	if d.Handoff() != nil {
		t.Fatalf("expected nil handoff while a frame is still buffered")
	}
	if r, ok := d.Next(); !ok || r.Frame.ID != 1 {
		t.Fatalf("expected buffered frame, got %+v ok=%v", r, ok)
	}
}

func TestValueConvert(t *testing.T) {
	cases := []struct {
		in   Value
		want any
		ok   bool
	}{
		{String("FoxWind"), "FoxWind", true},
		{Value{Tag: TagInt, Raw: "1234"}, int64(1234), true},
		{Value{Tag: TagInt, Raw: "-7"}, int64(-7), true},
		{Value{Tag: TagInt, Raw: "notanumber"}, nil, false},
		{Value{Tag: TagInt, Raw: "0x10"}, nil, false},
		{Value{Tag: TagBool, Raw: "True"}, true, true},
		{Value{Tag: TagBool, Raw: "false"}, false, true},
		{Value{Tag: TagBool, Raw: "1"}, true, true},
		{Value{Tag: TagBool, Raw: "yes"}, nil, false},
	}
	for _, tc := range cases {
		got, err := tc.in.Convert()
		if tc.ok {
			if err != nil || got != tc.want {
				t.Fatalf("Convert(%v)=%v,%v want %v", tc.in, got, err, tc.want)
			}
			continue
		}
		if !errors.Is(err, ErrConvert) {
			t.Fatalf("Convert(%v): expected ErrConvert, got %v", tc.in, err)
		}
	}
}

func TestEncodeDecode(t *testing.T) {
	f := NewFrame(3, String("/home/sky/capture"), Int(640), Bool(true))
	wire, err := Encode(f)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(wire) != "++3+/home/sky/capture:str+640:int+True:bool++" {
		t.Fatalf("unexpected wire: %q", wire)
	}
	res := NewDecoder(DefaultLimits()).Feed(wire)
	if len(res) != 1 || !reflect.DeepEqual(res[0].Frame, f) {
		t.Fatalf("unexpected decode: %+v", res)
	}

	if _, err := Encode(NewFrame(1, String("a+b"))); !errors.Is(err, ErrUnencodable) {
		t.Fatalf("expected ErrUnencodable, got %v", err)
	}
}
