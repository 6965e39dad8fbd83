package protocol

import (
	"bytes"
	"errors"
	"testing"

	"github.com/danmuck/universe/internal/testutil/testlog"
	"github.com/vmihailenco/msgpack/v5"
)

type position struct {
	North float64 `msgpack:"north"`
	East  float64 `msgpack:"east"`
}

func TestEnvelopeRoundTrip(t *testing.T) {
	testlog.Start(t)
	args, err := PackArgs(int64(5), int64(2), position{North: 4, East: -2})
	if err != nil {
		t.Fatalf("pack args: %v", err)
	}
	in := Envelope{Channel: "universe", Name: "nodeParent", Args: args}

	data, err := Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	out, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Channel != in.Channel || out.Name != in.Name {
		t.Fatalf("header mismatch: got=%+v want=%+v", out, in)
	}
	if len(out.Args) != len(in.Args) {
		t.Fatalf("arg count mismatch: got=%d want=%d", len(out.Args), len(in.Args))
	}
	for i := range in.Args {
		if !bytes.Equal(out.Args[i], in.Args[i]) {
			t.Fatalf("arg[%d] mismatch", i)
		}
	}

	var pos position
	if err := UnpackArg(out.Args, 2, &pos); err != nil {
		t.Fatalf("unpack position: %v", err)
	}
	if pos.North != 4 || pos.East != -2 {
		t.Fatalf("unexpected position: %+v", pos)
	}
}

func TestEnvelopeWithoutArgs(t *testing.T) {
	testlog.Start(t)
	data, err := Marshal(Envelope{Channel: "universe", Name: "ping"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	out, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Args == nil || len(out.Args) != 0 {
		t.Fatalf("expected empty args, got %#v", out.Args)
	}
}

func TestEnvelopeValidation(t *testing.T) {
	testlog.Start(t)
	if _, err := Marshal(Envelope{Name: "ping"}); !errors.Is(err, ErrMissingChannel) {
		t.Fatalf("expected ErrMissingChannel, got %v", err)
	}
	if _, err := Marshal(Envelope{Channel: "universe"}); !errors.Is(err, ErrMissingName) {
		t.Fatalf("expected ErrMissingName, got %v", err)
	}
	if _, err := Unmarshal(nil); !errors.Is(err, ErrEmptyEnvelope) {
		t.Fatalf("expected ErrEmptyEnvelope, got %v", err)
	}
	if _, err := Unmarshal([]byte{0xc1}); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestNilArgument(t *testing.T) {
	testlog.Start(t)
	args, err := PackArgs(int64(3), nil)
	if err != nil {
		t.Fatalf("pack args: %v", err)
	}
	if IsNil(args[0]) || !IsNil(args[1]) {
		t.Fatalf("unexpected nil detection")
	}
	if err := ExpectArgs(args, 3, 3); !errors.Is(err, ErrArgCount) {
		t.Fatalf("expected ErrArgCount, got %v", err)
	}
	var v int64
	if err := UnpackArg([]msgpack.RawMessage{}, 0, &v); !errors.Is(err, ErrArgCount) {
		t.Fatalf("expected ErrArgCount, got %v", err)
	}
}

func TestEnvelopeRoundTripKeepsNilArguments(t *testing.T) {
	testlog.Start(t)
	args, err := PackArgs(int64(7), nil, nil)
	if err != nil {
		t.Fatalf("pack args: %v", err)
	}
	data, err := Marshal(Envelope{Channel: "universe", Name: "nodeParent", Args: args})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	out, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(out.Args) != 3 {
		t.Fatalf("arg count mismatch: got=%d want=3", len(out.Args))
	}
	for i := range args {
		if !bytes.Equal(out.Args[i], args[i]) {
			t.Fatalf("arg[%d] mismatch: got=%x want=%x", i, out.Args[i], args[i])
		}
	}
	if IsNil(out.Args[0]) || !IsNil(out.Args[1]) || !IsNil(out.Args[2]) {
		t.Fatalf("nil detection lost after round trip: %x", out.Args)
	}
	var id int64
	if err := UnpackArg(out.Args, 0, &id); err != nil || id != 7 {
		t.Fatalf("unpack id: id=%d err=%v", id, err)
	}
}

func TestIsNilTreatsEmptyRawAsNil(t *testing.T) {
	testlog.Start(t)
	if !IsNil(msgpack.RawMessage{}) || !IsNil(nil) {
		t.Fatalf("empty raw value should read as nil")
	}
}
