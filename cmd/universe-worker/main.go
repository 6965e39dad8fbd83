package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/danmuck/universe/internal/admin"
	"github.com/danmuck/universe/internal/auth"
	"github.com/danmuck/universe/internal/config"
	logs "github.com/danmuck/universe/internal/logging"
	"github.com/danmuck/universe/internal/transport/stream"
	"github.com/danmuck/universe/internal/worker"
)

func main() {
	configPath := flag.String("config", "", "worker config path (TOML)")
	listen := flag.Bool("listen", false, "serve the admin and websocket endpoint instead of stdio")
	flag.Parse()

	// stdout carries frames in stdio mode, so logs go to stderr.
	logs.ConfigureWorker()

	cfg, err := config.LoadWorkerConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "universe-worker: %v\n", err)
		os.Exit(1)
	}
	if *listen {
		cfg.Listen = true
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "universe-worker: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.WorkerConfig) error {
	w, err := worker.New(cfg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return w.Run(gctx)
	})
	if cfg.Listen {
		srv := admin.New(cfg.Name, cfg.ListenAddr, cfg.CorsOrigins, w)
		srv.Auth = auth.ForToken(cfg.AuthToken)
		g.Go(func() error {
			return srv.Serve(gctx)
		})
	} else {
		g.Go(func() error {
			// The host closing stdin ends the worker.
			defer cancel()
			return w.Serve(gctx, stream.New(stream.Join(os.Stdin, os.Stdout)))
		})
	}
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
