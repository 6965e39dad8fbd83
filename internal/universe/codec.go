package universe

import (
	"fmt"

	"github.com/danmuck/universe/internal/bridge"
	"github.com/danmuck/universe/internal/protocol"
	"github.com/vmihailenco/msgpack/v5"
)

var _ bridge.Codec[Fact] = Codec{}

// Codec maps facts to positional wire arguments.
type Codec struct{}

func (Codec) Encode(f Fact) ([]msgpack.RawMessage, error) {
	switch v := f.(type) {
	case Ping, Pong, Initialize, Disconnect:
		return protocol.PackArgs()
	case InitializeSuccess:
		return protocol.PackArgs(v.Capabilities)
	case InitializeFailure:
		return protocol.PackArgs(v.Reason)
	case NodeParent:
		var parent any
		if v.ParentID != None {
			parent = int64(v.ParentID)
		}
		if v.Position != nil {
			return protocol.PackArgs(int64(v.NodeID), parent, *v.Position)
		}
		return protocol.PackArgs(int64(v.NodeID), parent)
	case NodeChildAdded:
		return protocol.PackArgs(int64(v.NodeID), int64(v.ChildID))
	case NodeChildRemoved:
		return protocol.PackArgs(int64(v.NodeID), int64(v.ChildID))
	case NodePosition:
		return protocol.PackArgs(int64(v.NodeID), v.Position)
	default:
		return nil, fmt.Errorf("universe: unknown fact %T", f)
	}
}

func (Codec) Decode(name string, args []msgpack.RawMessage) (Fact, error) {
	switch name {
	case NamePing:
		return Ping{}, protocol.ExpectArgs(args, 0, 0)
	case NamePong:
		return Pong{}, protocol.ExpectArgs(args, 0, 0)
	case NameInitialize:
		return Initialize{}, protocol.ExpectArgs(args, 0, 0)
	case NameDisconnect:
		return Disconnect{}, protocol.ExpectArgs(args, 0, 0)
	case NameInitializeSuccess:
		var caps Capabilities
		if err := protocol.ExpectArgs(args, 1, 1); err != nil {
			return nil, err
		}
		if err := protocol.UnpackArg(args, 0, &caps); err != nil {
			return nil, err
		}
		return InitializeSuccess{Capabilities: caps}, nil
	case NameInitializeFailure:
		var reason string
		if err := protocol.ExpectArgs(args, 1, 1); err != nil {
			return nil, err
		}
		if err := protocol.UnpackArg(args, 0, &reason); err != nil {
			return nil, err
		}
		return InitializeFailure{Reason: reason}, nil
	case NameNodeParent:
		return decodeNodeParent(args)
	case NameNodeChildAdded:
		node, child, err := decodePair(args)
		return NodeChildAdded{NodeID: node, ChildID: child}, err
	case NameNodeChildRemoved:
		node, child, err := decodePair(args)
		return NodeChildRemoved{NodeID: node, ChildID: child}, err
	case NameNodePosition:
		var id int64
		var pos Position
		if err := protocol.ExpectArgs(args, 2, 2); err != nil {
			return nil, err
		}
		if err := protocol.UnpackArg(args, 0, &id); err != nil {
			return nil, err
		}
		if err := protocol.UnpackArg(args, 1, &pos); err != nil {
			return nil, err
		}
		return NodePosition{NodeID: NodeID(id), Position: pos}, nil
	default:
		return nil, fmt.Errorf("universe: unknown fact name %q", name)
	}
}

func decodeNodeParent(args []msgpack.RawMessage) (Fact, error) {
	if err := protocol.ExpectArgs(args, 2, 3); err != nil {
		return nil, err
	}
	var id int64
	if err := protocol.UnpackArg(args, 0, &id); err != nil {
		return nil, err
	}
	out := NodeParent{NodeID: NodeID(id), ParentID: None}
	if !protocol.IsNil(args[1]) {
		var parent int64
		if err := protocol.UnpackArg(args, 1, &parent); err != nil {
			return nil, err
		}
		out.ParentID = NodeID(parent)
	}
	if len(args) == 3 && !protocol.IsNil(args[2]) {
		var pos Position
		if err := protocol.UnpackArg(args, 2, &pos); err != nil {
			return nil, err
		}
		out.Position = &pos
	}
	return out, nil
}

func decodePair(args []msgpack.RawMessage) (NodeID, NodeID, error) {
	if err := protocol.ExpectArgs(args, 2, 2); err != nil {
		return 0, 0, err
	}
	var a, b int64
	if err := protocol.UnpackArg(args, 0, &a); err != nil {
		return 0, 0, err
	}
	if err := protocol.UnpackArg(args, 1, &b); err != nil {
		return 0, 0, err
	}
	return NodeID(a), NodeID(b), nil
}
