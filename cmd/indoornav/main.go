package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"indoornav/internal/config"
	"indoornav/internal/web"
)

func main() {
	var configPath, summarizePath string
	flag.StringVar(&configPath, "config", "./configs/indoornav.yaml", "Path to YAML config")
	flag.StringVar(&summarizePath, "summarize", "", "Print a summary of a recorded sample log and exit")
	flag.Parse()

	if summarizePath != "" {
		if err := summarizeLog(os.Stdout, summarizePath); err != nil {
			log.Fatalf("summarize failed: %v", err)
		}
		return
	}

	logs := web.NewLogBuffer(0)
	log.SetOutput(io.MultiWriter(os.Stderr, logs))

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Printf("indoornav starting (source=%s)", cfg.Source.Kind)
	if err := run(ctx, cfg, logs); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("indoornav: %v", err)
	}
	log.Printf("indoornav stopping")
}
