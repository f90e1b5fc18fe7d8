package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"

	"chat-relay/infrastructure/httpapi"
	"chat-relay/internal"
	"chat-relay/repositories"
	"chat-relay/runtime"
	"chat-relay/runtime/workers"
	"chat-relay/sink"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run initializes all components, manages the server lifecycle, and centralizes error reporting.
// This pattern is preferred over calling os.Exit or panic directly because:
// 1. It ensures all 'defer' statements (like database cleanup) are executed before the program exits.
// 2. It improves testability by decoupling the initialization logic from the main entry point.
// 3. It provides a structured way to handle graceful shutdowns for the HTTP server and background workers.
func run() error {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := internal.LoggerFromString(config.LogLevel)

	// 2. Database (BadgerDB)
	db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).
		WithLoggingLevel(badger.WARNING))
	if err != nil {
		return fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		log.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	// 3. Core: manager, snapshot reload, dispatcher
	manager := runtime.NewQueueManager(log)
	snapshots := repositories.NewSnapshotRepository(db, log)

	restored, err := manager.Load(context.Background(), snapshots)
	if err != nil {
		// Reload failure is never fatal: clients whose queues did not
		// survive get a clean "no such queue" error and re-register.
		log.Error("Queue snapshot reload failed, starting empty", "error", err)
	} else {
		log.Info("Queue snapshots restored", "count", restored)
	}

	notifications := sink.NewChannelNotificationSink(log, config.NotificationBufferSize)
	dispatcher := runtime.NewDispatcher(log, manager, notifications, config.ServerVersion)

	// 4. Context & Signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 5. Background workers
	sup := workers.NewSupervisor(log)
	sup.Add(
		workers.NewReaper(log, manager, config.GCInterval),
		workers.NewSnapshotter(log, manager, snapshots, config.SnapshotInterval),
		workers.NewHeartbeat(log, dispatcher, config.HeartbeatInterval),
		workers.NewNotificationDrain(log, notifications),
	)
	supDone := make(chan struct{})
	go func() {
		sup.Run(ctx)
		close(supDone)
	}()

	// 6. HTTP server
	api := httpapi.NewServer(log, manager, dispatcher)
	address := fmt.Sprintf("%s:%d", config.Host, config.Port)
	server := &http.Server{Addr: address, Handler: api.Routes()}

	errChan := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", "address", address, "at", time.Now().UTC())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// 7. Wait for Stop or Error
	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
	case err := <-errChan:
		return err
	}

	// 8. Final Cleanup: stop accepting requests, stop workers, then one
	// last snapshot so queues survive the restart.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP shutdown incomplete", "error", err)
	}
	sup.Stop()
	<-supDone

	if err := manager.Dump(shutdownCtx, snapshots); err != nil {
		log.Error("Final queue snapshot failed", "error", err)
	} else {
		log.Info("Final queue snapshot dumped", "queues", manager.Len())
	}
	log.Info("Program stopped cleanly")
	return nil
}
