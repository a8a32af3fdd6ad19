// Command settingsync-server serves the user-data store that settingsync
// clients sync machines and other resources through.
//
//	settingsync-server              run the API (configured by SYNC_* env vars)
//	settingsync-server admin ...    manage accounts and API keys
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/marcus/settingsync/internal/api"
	"github.com/marcus/settingsync/internal/serverdb"
)

func main() {
	var err error
	if len(os.Args) > 1 && os.Args[1] == "admin" {
		err = runAdmin(os.Args[2:], os.Stdout)
	} else {
		err = serve(api.LoadConfig())
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// serve runs the API until SIGINT or SIGTERM, then drains in-flight requests.
func serve(cfg api.Config) error {
	slog.SetDefault(slog.New(newHandler(cfg, os.Stderr)))

	store, err := serverdb.Open(cfg.ServerDBPath)
	if err != nil {
		return fmt.Errorf("open server db: %w", err)
	}
	defer store.Close()

	srv, err := api.NewServer(cfg, store)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(); err != nil {
		return err
	}
	slog.Info("server started", "addr", cfg.ListenAddr, "db", cfg.ServerDBPath, "schema", serverdb.SchemaVersion)

	<-ctx.Done()
	slog.Info("shutting down", "timeout", cfg.ShutdownTimeout.String())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "err", err)
	}
	return nil
}

// newHandler builds the server log handler. Unknown levels log at info.
func newHandler(cfg api.Config, w io.Writer) slog.Handler {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.LogFormat, "text") {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}
