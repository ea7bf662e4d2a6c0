package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"perpflow/internal/analyzer"
	"perpflow/internal/catalog"
	"perpflow/internal/config"
	"perpflow/internal/hub"
	"perpflow/internal/server"
	"perpflow/internal/watch"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (defaults apply when empty)")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	log.Info().Str("listen", cfg.Listen).Msg("starting perpflow")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 1. Contract discovery
	cat := catalog.New(cfg.Catalog, cfg.Venues)
	go cat.Run(ctx)

	// 2. Broadcast hub
	h := hub.New()

	// 3. Order-flow analyzer, shared by all watchers
	an := analyzer.New(cfg.Alerts)

	// 4. Watcher registry
	reg := watch.NewRegistry(ctx, cfg.Venues, cat, h, an)
	defer reg.Stop()

	// 5. HTTP/WS edge
	srv := server.New(cfg.Listen, cat, reg, h, an)
	if err := srv.Run(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("http server")
	}

	log.Info().Msg("shut down")
}
