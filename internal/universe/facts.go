package universe

import "github.com/danmuck/universe/internal/events"

// Channel is the default channel name shared by both sides.
const Channel = "universe"

const (
	NamePing              = "ping"
	NamePong              = "pong"
	NameInitialize        = "initialize"
	NameInitializeSuccess = "initializeSuccess"
	NameInitializeFailure = "initializeFailure"
	NameDisconnect        = "disconnect"
	NameNodeParent        = "nodeParent"
	NameNodeChildAdded    = "nodeChildAdded"
	NameNodeChildRemoved  = "nodeChildRemoved"
	NameNodePosition      = "nodePosition"
)

// Fact is the closed catalog of events on a universe channel.
type Fact interface {
	events.Event
	fact()
}

// Capabilities describes resources the authoritative side provisioned.
type Capabilities struct {
	DB bool `msgpack:"db" json:"db"`
}

type Ping struct{}

type Pong struct{}

type Initialize struct{}

type InitializeSuccess struct {
	Capabilities Capabilities
}

type InitializeFailure struct {
	Reason string
}

type Disconnect struct{}

// NodeParent records a node attached to ParentID, or destroyed when ParentID
// is None. Position is set when the reparent carried one.
type NodeParent struct {
	NodeID   NodeID
	ParentID NodeID
	Position *Position
}

type NodeChildAdded struct {
	NodeID  NodeID
	ChildID NodeID
}

type NodeChildRemoved struct {
	NodeID  NodeID
	ChildID NodeID
}

type NodePosition struct {
	NodeID   NodeID
	Position Position
}

func (Ping) EventName() string              { return NamePing }
func (Pong) EventName() string              { return NamePong }
func (Initialize) EventName() string        { return NameInitialize }
func (InitializeSuccess) EventName() string { return NameInitializeSuccess }
func (InitializeFailure) EventName() string { return NameInitializeFailure }
func (Disconnect) EventName() string        { return NameDisconnect }
func (NodeParent) EventName() string        { return NameNodeParent }
func (NodeChildAdded) EventName() string    { return NameNodeChildAdded }
func (NodeChildRemoved) EventName() string  { return NameNodeChildRemoved }
func (NodePosition) EventName() string      { return NameNodePosition }

func (Ping) fact()              {}
func (Pong) fact()              {}
func (Initialize) fact()        {}
func (InitializeSuccess) fact() {}
func (InitializeFailure) fact() {}
func (Disconnect) fact()        {}
func (NodeParent) fact()        {}
func (NodeChildAdded) fact()    {}
func (NodeChildRemoved) fact()  {}
func (NodePosition) fact()      {}

// Source is anything facts can be subscribed on.
type Source interface {
	On(name string, fn events.Listener[Fact], opts ...events.Option) func()
}

// On subscribes fn to facts of type T.
func On[T Fact](src Source, fn func(T) error, opts ...events.Option) func() {
	var zero T
	return src.On(zero.EventName(), func(f Fact) error {
		v, ok := f.(T)
		if !ok {
			return nil
		}
		return fn(v)
	}, opts...)
}
