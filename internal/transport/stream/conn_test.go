package stream

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/danmuck/universe/internal/protocol"
	"github.com/danmuck/universe/internal/testutil/testlog"
	"github.com/danmuck/universe/internal/transport"
)

func TestConnRoundTripOverNetPipe(t *testing.T) {
	testlog.Start(t)
	left, right := net.Pipe()
	a := New(left)
	b := New(right)
	defer a.Close()
	defer b.Close()

	got := make(chan protocol.Envelope, 4)
	b.Listen(func(env protocol.Envelope) { got <- env })

	args, _ := protocol.PackArgs(int64(5), nil)
	for _, name := range []string{"ping", "nodeParent"} {
		if err := a.Post(protocol.Envelope{Channel: "universe", Name: name, Args: args}); err != nil {
			t.Fatalf("post %s: %v", name, err)
		}
	}
	for _, want := range []string{"ping", "nodeParent"} {
		select {
		case env := <-got:
			if env.Name != want || env.Channel != "universe" || len(env.Args) != 2 {
				t.Fatalf("unexpected envelope: %+v", env)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func TestConnCloseEndsPeer(t *testing.T) {
	testlog.Start(t)
	left, right := net.Pipe()
	a := New(left)
	b := New(right)

	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	select {
	case <-b.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("peer did not observe close")
	}
	if err := a.Post(protocol.Envelope{Channel: "universe", Name: "ping"}); !errors.Is(err, transport.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
