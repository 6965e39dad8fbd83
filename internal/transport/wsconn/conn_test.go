package wsconn

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/universe/internal/protocol"
	"github.com/danmuck/universe/internal/testutil/testlog"
)

func TestWebsocketEnvelopeExchange(t *testing.T) {
	testlog.Start(t)
	serverSide := make(chan *Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := Upgrade(w, r)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		serverSide <- c
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	var server *Conn
	select {
	case server = <-serverSide:
	case <-ctx.Done():
		t.Fatalf("server never accepted")
	}
	defer server.Close()

	got := make(chan protocol.Envelope, 1)
	server.Listen(func(env protocol.Envelope) { got <- env })
	if err := client.Post(protocol.Envelope{Channel: "universe", Name: "ping"}); err != nil {
		t.Fatalf("post: %v", err)
	}
	select {
	case env := <-got:
		if env.Name != "ping" || env.Channel != "universe" {
			t.Fatalf("unexpected envelope: %+v", env)
		}
	case <-ctx.Done():
		t.Fatalf("timed out waiting for envelope")
	}

	if err := client.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	select {
	case <-server.Done():
	case <-ctx.Done():
		t.Fatalf("server did not observe close")
	}
}
