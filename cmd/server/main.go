// Package main provides the entry point for the sessionbridge gateway.
// The server exposes an OpenAI-compatible chat completions API in front of a
// session-oriented upstream chat service, so that tools built for standard AI
// APIs can drive it without knowing about chats, parent pointers or the
// upstream's textual tool protocol.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sessionbridge/sessionbridge/internal/api"
	"github.com/sessionbridge/sessionbridge/internal/api/handlers"
	"github.com/sessionbridge/sessionbridge/internal/api/middleware"
	"github.com/sessionbridge/sessionbridge/internal/archive"
	"github.com/sessionbridge/sessionbridge/internal/config"
	"github.com/sessionbridge/sessionbridge/internal/credentials"
	"github.com/sessionbridge/sessionbridge/internal/logging"
	"github.com/sessionbridge/sessionbridge/internal/session"
	"github.com/sessionbridge/sessionbridge/internal/upstream"
	log "github.com/sirupsen/logrus"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "path to the configuration file")
	flag.Parse()

	if wd, err := os.Getwd(); err == nil {
		// .env is optional; absence is not an error.
		_ = godotenv.Load(filepath.Join(wd, ".env"))
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logging.Configure(cfg.Debug, cfg.LogDir)
	log.WithFields(log.Fields{
		"version": Version,
		"commit":  Commit,
		"built":   BuildDate,
	}).Info("starting sessionbridge")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	creds, err := credentials.NewFileProvider(cfg.Upstream.CredentialFile)
	if err != nil {
		log.Fatalf("failed to load credentials: %v", err)
	}
	go func() {
		if err := creds.Watch(ctx); err != nil {
			log.WithError(err).Warn("credential file watcher stopped")
		}
	}()

	store := session.NewStore(cfg.SessionIdleTimeout(), cfg.SessionSweepInterval())
	store.SetSizeObserver(middleware.SetActiveSessions)
	store.StartSweeper()
	defer store.Close()

	client := upstream.NewClient(cfg.Upstream.BaseURL, creds, cfg.UpstreamTimeout())

	var arc *archive.Store
	if cfg.Archive.Enabled {
		arc, err = archive.Open(cfg.Archive.Path)
		if err != nil {
			log.Fatalf("failed to open archive: %v", err)
		}
		defer func() {
			if err := arc.Close(); err != nil {
				log.WithError(err).Warn("archive close failed")
			}
		}()
	}

	chat := handlers.NewChatHandler(cfg, store, client, arc)
	srv := api.NewServer(cfg, chat)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run()
	}()

	select {
	case err = <-errCh:
		if err != nil {
			log.Fatalf("server failed: %v", err)
		}
	case <-ctx.Done():
		log.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err = srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("graceful shutdown failed")
		}
	}
}
