package universe

import (
	"errors"
	"reflect"
	"testing"

	"github.com/danmuck/universe/internal/protocol"
	"github.com/danmuck/universe/internal/testutil/testlog"
)

func TestCodecRoundTripThroughEnvelope(t *testing.T) {
	testlog.Start(t)
	pos := Position{North: 4, East: -2}
	facts := []Fact{
		Ping{},
		Pong{},
		Initialize{},
		InitializeSuccess{Capabilities: Capabilities{DB: true}},
		InitializeFailure{Reason: "storage: locked"},
		Disconnect{},
		NodeParent{NodeID: 5, ParentID: 2, Position: &pos},
		NodeParent{NodeID: 5, ParentID: 0},
		NodeParent{NodeID: 7, ParentID: None},
		NodeChildAdded{NodeID: 2, ChildID: 5},
		NodeChildRemoved{NodeID: 3, ChildID: 5},
		NodePosition{NodeID: 5, Position: pos},
	}
	codec := Codec{}
	for _, f := range facts {
		args, err := codec.Encode(f)
		if err != nil {
			t.Fatalf("encode %s: %v", f.EventName(), err)
		}
		data, err := protocol.Marshal(protocol.Envelope{Channel: Channel, Name: f.EventName(), Args: args})
		if err != nil {
			t.Fatalf("marshal %s: %v", f.EventName(), err)
		}
		env, err := protocol.Unmarshal(data)
		if err != nil {
			t.Fatalf("unmarshal %s: %v", f.EventName(), err)
		}
		got, err := codec.Decode(env.Name, env.Args)
		if err != nil {
			t.Fatalf("decode %s: %v", f.EventName(), err)
		}
		if !reflect.DeepEqual(got, f) {
			t.Fatalf("round trip mismatch:\n got=%#v\nwant=%#v", got, f)
		}
	}
}

func TestCodecNodeParentWireShape(t *testing.T) {
	testlog.Start(t)
	args, err := Codec{}.Encode(NodeParent{NodeID: 7, ParentID: None})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(args) != 2 || !protocol.IsNil(args[1]) {
		t.Fatalf("destroyed parent must encode as nil without position: %v", args)
	}
}

func TestCodecRejectsMalformedArgs(t *testing.T) {
	testlog.Start(t)
	codec := Codec{}
	if _, err := codec.Decode("teleport", nil); err == nil {
		t.Fatalf("expected unknown fact error")
	}
	args, _ := protocol.PackArgs(int64(1))
	if _, err := codec.Decode(NameNodePosition, args); !errors.Is(err, protocol.ErrArgCount) {
		t.Fatalf("expected ErrArgCount, got %v", err)
	}
	if _, err := codec.Decode(NamePing, args); !errors.Is(err, protocol.ErrArgCount) {
		t.Fatalf("expected ErrArgCount for ping with args, got %v", err)
	}
	bad, _ := protocol.PackArgs("five", nil)
	if _, err := codec.Decode(NameNodeParent, bad); !errors.Is(err, protocol.ErrArgDecode) {
		t.Fatalf("expected ErrArgDecode, got %v", err)
	}
}
