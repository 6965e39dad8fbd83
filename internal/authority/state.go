package authority

import (
	"errors"

	"github.com/danmuck/universe/internal/bridge"
)

var (
	ErrLivenessTimeout  = errors.New("authority: peer stopped answering pings")
	ErrInitializeFailed = errors.New("authority: peer failed to initialize")
	ErrAlreadyConnected = errors.New("authority: already connected")
	ErrClosed           = errors.New("authority: controller closed")
)

type State int

const (
	Disconnected State = iota
	Connecting
	Initializing
	Ready
	// Closed is the terminal state after teardown.
	Closed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Initializing:
		return "initializing"
	case Ready:
		return "ready"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn is the Initiator's link to its peer. Close terminates the peer.
type Conn interface {
	bridge.Target
	Close() error
}
