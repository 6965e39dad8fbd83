package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/universe/internal/config"
	"github.com/danmuck/universe/internal/host"
	logs "github.com/danmuck/universe/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "host config path (TOML)")
	workerURL := flag.String("ws", "", "dial a websocket worker instead of spawning one")
	flag.Parse()

	logs.ConfigureRuntime()

	cfg, err := config.LoadHostConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "universe: %v\n", err)
		os.Exit(1)
	}
	if *workerURL != "" {
		cfg.WorkerURL = *workerURL
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := host.NewService(cfg).Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "universe: %v\n", err)
		os.Exit(1)
	}
}
