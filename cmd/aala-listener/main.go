package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"aala/internal/catalog"
	"aala/internal/config"
	"aala/internal/listener"
	"aala/internal/logging"
	"aala/internal/storage"
)

func main() {
	cfg, err := config.Load()
	must(err)

	log := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: os.Stderr, ServiceName: "aala-listener"})

	db, err := storage.Open(cfg.DBPath)
	must(err)
	defer db.Close()

	t, err := catalog.LoadTables(cfg)
	must(err)
	svc, err := listener.NewService(db, cfg, t, log)
	must(err)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	must(svc.Run(ctx))
}

func must(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
