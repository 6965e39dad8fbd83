// Package host runs the initiating side: it starts or dials a worker, keeps
// the link alive and mirrors the worker's graph.
package host

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"golang.org/x/sync/errgroup"

	"github.com/danmuck/universe/internal/auth"
	"github.com/danmuck/universe/internal/authority"
	"github.com/danmuck/universe/internal/config"
	"github.com/danmuck/universe/internal/eventloop"
	logs "github.com/danmuck/universe/internal/logging"
	"github.com/danmuck/universe/internal/transport/stream"
	"github.com/danmuck/universe/internal/transport/wsconn"
	"github.com/danmuck/universe/internal/universe"
)

// Dialer opens the link to a worker. wait, when non-nil, blocks until the
// worker process exits.
type Dialer func(ctx context.Context) (conn authority.Conn, wait func() error, err error)

type Service struct {
	cfg  config.HostConfig
	dial Dialer

	// Facts receives every fact the mirror sees, on the event loop.
	Facts func(universe.Fact)
}

func NewService(cfg config.HostConfig) *Service {
	s := &Service{cfg: cfg}
	if cfg.WorkerURL != "" {
		s.dial = DialWebsocket(cfg.WorkerURL, cfg.WorkerToken)
	} else {
		s.dial = SpawnWorker(cfg.WorkerCommand)
	}
	return s
}

// WithDialer replaces how the worker is reached.
func (s *Service) WithDialer(d Dialer) *Service {
	s.dial = d
	return s
}

// Run connects, handshakes and mirrors until ctx ends or the link fails.
// A liveness or initialize failure is returned as the error.
func (s *Service) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	conn, wait, err := s.dial(runCtx)
	if err != nil {
		return fmt.Errorf("connect worker: %w", err)
	}

	loop := eventloop.New()
	initiator, err := authority.NewInitiator(conn, loop, s.cfg.Authority)
	if err != nil {
		_ = conn.Close()
		return err
	}
	initiator.OnAny(func(f universe.Fact) error {
		logs.Debugf("host.Service.Run id=%s fact=%s", initiator.ID(), f.EventName())
		if s.Facts != nil {
			s.Facts(f)
		}
		return nil
	})
	universe.On(initiator, func(f universe.InitializeSuccess) error {
		logs.Infof("host.Service.Run id=%s worker ready db=%v", initiator.ID(), f.Capabilities.DB)
		return nil
	})

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return loop.Run(gctx)
	})
	g.Go(func() error {
		defer cancel()
		var connectErr error
		if err := loop.Do(gctx, func() { connectErr = initiator.Connect() }); err != nil {
			return err
		}
		if connectErr != nil {
			return connectErr
		}
		err := initiator.Run(gctx)
		if failure := initiator.Err(); failure != nil {
			return failure
		}
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	if wait != nil {
		g.Go(func() error {
			if err := wait(); err != nil && gctx.Err() == nil {
				logs.Warnf("host.Service.Run worker exited err=%v", err)
			}
			return nil
		})
	}
	return g.Wait()
}

// SpawnWorker starts argv as a child process and talks to it over its
// stdin and stdout. The worker logs to stderr, which is passed through.
func SpawnWorker(argv []string) Dialer {
	return func(ctx context.Context) (authority.Conn, func() error, error) {
		if len(argv) == 0 {
			return nil, nil, config.ErrMissingWorkerCommand
		}
		cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
		cmd.Stderr = os.Stderr
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, nil, err
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, nil, err
		}
		if err := cmd.Start(); err != nil {
			return nil, nil, fmt.Errorf("start %s: %w", argv[0], err)
		}
		logs.Infof("host.SpawnWorker pid=%d argv=%q", cmd.Process.Pid, argv)
		return stream.New(stream.Join(stdout, stdin)), cmd.Wait, nil
	}
}

// DialWebsocket connects to a worker's /ws endpoint, presenting token when
// one is set.
func DialWebsocket(url, token string) Dialer {
	return func(ctx context.Context) (authority.Conn, func() error, error) {
		conn, err := wsconn.Dial(ctx, url, auth.Header(token))
		if err != nil {
			return nil, nil, err
		}
		logs.Infof("host.DialWebsocket url=%s", url)
		return conn, nil, nil
	}
}
