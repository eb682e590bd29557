// Package main runs the Backline sync daemon: it owns the local SQLite
// store, pushes queued mutations to the cloud, subscribes to the band
// change log and serves the local UI over HTTP/WebSocket on localhost.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/backline-app/backline/internal/config"
	"github.com/backline-app/backline/internal/events"
	"github.com/backline-app/backline/internal/logging"
	"github.com/backline-app/backline/internal/models"
	"github.com/backline-app/backline/internal/store"
	backsync "github.com/backline-app/backline/internal/sync"
	"github.com/backline-app/backline/internal/sync/queue"
	"github.com/backline-app/backline/internal/sync/transport"
)

func main() {
	var (
		configPath = pflag.StringP("config", "c", "", "path to YAML config file")
		dataDir    = pflag.String("data-dir", "", "override data directory")
		listenAddr = pflag.String("listen", "", "override local listen address")
		logLevel   = pflag.String("log-level", "INFO", "DEBUG, INFO, WARN or ERROR")
	)
	pflag.Parse()

	logging.Init(os.Stdout, logging.LogLevel(*logLevel))

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Error("Failed to load config", err, map[string]interface{}{"path": *configPath})
		os.Exit(1)
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}

	if err := run(cfg); err != nil {
		logging.Error("Daemon exited with error", err, nil)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	db, err := store.Open(cfg.DataDir)
	if err != nil {
		return err
	}
	defer db.Close()

	st := store.NewStore(db.DB)

	validator, err := transport.NewValidator()
	if err != nil {
		return err
	}
	feed, err := transport.NewPostgresFeed(cfg.ChangeFeedDSN)
	if err != nil {
		return err
	}
	pusher := transport.NewHTTPPusher(cfg.CloudURL, cfg.CloudToken, nil)

	bus := events.NewBus()

	scopes := make([]models.UUID, 0, len(cfg.Scopes))
	for _, s := range cfg.Scopes {
		scopes = append(scopes, models.UUID(s))
	}

	engine := backsync.New(backsync.Options{
		Store:     st,
		Bus:       bus,
		Feed:      feed,
		Pusher:    pusher,
		Validator: validator,
		ActorID:   models.UUID(cfg.ActorID),
		Scopes:    scopes,
		Queue: queue.Config{
			MaxRetries:    cfg.Sync.MaxRetries,
			FlushInterval: cfg.Sync.FlushInterval.Std(),
			PushTimeout:   cfg.Sync.PushTimeout.Std(),
		},
		ToastDebounce: cfg.Sync.ToastDebounce.Std(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := engine.Start(ctx); err != nil {
		return err
	}
	defer engine.Close()

	// Assume connectivity at boot; the feed status callbacks and push
	// failures correct this quickly if the network is down.
	engine.SetOnline(ctx, true)

	hub := NewWSHub()
	hub.AttachBus(bus)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", handleHealth)
	mux.HandleFunc("/api/sync/status", handleSyncStatus(engine))
	mux.HandleFunc("/api/sync/flush", handleSyncFlush(ctx, engine))
	mux.HandleFunc("/api/sync/deadletters", handleDeadLetters(engine))
	mux.HandleFunc("/ws", HandleWebSocket(hub))

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // websocket connections stay open
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("Backline daemon listening", map[string]interface{}{
			"addr": cfg.ListenAddr, "data_dir": cfg.DataDir,
		})
		errCh <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logging.Info("Shutting down", map[string]interface{}{"signal": sig.String()})
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok","service":"backlined"}`))
}

func handleSyncStatus(engine *backsync.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		status := engine.Status()
		diag := engine.Diagnostics()
		writeJSON(w, map[string]interface{}{
			"last_sync_time": status.LastSyncTime,
			"pending_count":  status.PendingCount,
			"is_online":      status.IsOnline,
			"in_progress":    status.InProgress,
			"connected":      status.Connected,
			"channels":       diag.Scopes,
			"applied":        diag.Applied,
			"skipped_stale":  diag.SkippedStale,
			"malformed":      diag.MalformedEntries,
		})
	}
}

func handleSyncFlush(ctx context.Context, engine *backsync.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		emptied := engine.Flush(ctx)
		writeJSON(w, map[string]interface{}{"emptied": emptied})
	}
}

func handleDeadLetters(engine *backsync.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		letters, err := engine.DeadLetters()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]interface{}{"dead_letters": letters})
	}
}

func writeJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.Warn("Failed to encode response", map[string]interface{}{"error": err.Error()})
	}
}
