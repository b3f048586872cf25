// serve.go implements the relay serve subcommand: config resolution,
// storage/bus/KV bootstrap, and the HTTP server lifecycle.
package relaycli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/contenox/relay/apiframework"
	"github.com/contenox/relay/historystore"
	libbus "github.com/contenox/relay/libbus"
	libdb "github.com/contenox/relay/libdbexec"
	"github.com/contenox/relay/libkvstore"
	libroutine "github.com/contenox/relay/libroutine"
	"github.com/contenox/relay/serverapi"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const localTenantID = "00000000-0000-0000-0000-000000000001"

func initDatabase(ctx context.Context, config *serverapi.Config) (libdb.DBManager, error) {
	var dbInstance libdb.DBManager
	err := libroutine.NewRoutine(10, time.Minute).ExecuteWithRetry(ctx, time.Second, 3, func(ctx context.Context) error {
		var err error
		if config.DatabaseURL != "" {
			dbInstance, err = libdb.NewPostgresDBManager(ctx, config.DatabaseURL, historystore.Schema)
			return err
		}
		path := config.SQLitePath
		if path == "" {
			path = defaultSQLitePath
		}
		dbInstance, err = libdb.NewSQLiteDBManager(ctx, path, historystore.SchemaSQLite)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	return dbInstance, nil
}

func initPubSub(ctx context.Context, config *serverapi.Config) (libbus.Messenger, error) {
	if config.NATSURL == "" {
		slog.Info("no nats_url configured, using the in-process event bus")
		return libbus.NewInMem(), nil
	}
	return libbus.NewPubSub(ctx, &libbus.Config{
		NATSURL:      config.NATSURL,
		NATSUser:     config.NATSUser,
		NATSPassword: config.NATSPassword,
	})
}

func initKVManager(config *serverapi.Config) (libkvstore.KVManager, error) {
	if config.KVAddr == "" {
		return nil, nil
	}
	return libkvstore.NewManager(libkvstore.Config{
		KVAddr:     config.KVAddr,
		KVPassword: config.KVPassword,
	}, 5*time.Second)
}

func setupLogger(level string) {
	lvl := slog.LevelInfo
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})))
}

func runServe(cmd *cobra.Command, _ []string) error {
	if err := godotenv.Load(); err != nil {
		slog.Warn("no .env file found, using environment variables")
	}

	config, err := resolveConfig(cmd)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		return errStartupFailed
	}

	flags := cmd.Flags()
	if flags.Changed("addr") {
		config.Addr, _ = flags.GetString("addr")
	}
	if flags.Changed("port") {
		config.Port, _ = flags.GetString("port")
	}
	if flags.Changed("rooms") {
		config.Rooms, _ = flags.GetString("rooms")
	}
	if flags.Changed("nats") {
		config.NATSURL, _ = flags.GetString("nats")
	}
	if flags.Changed("kv") {
		config.KVAddr, _ = flags.GetString("kv")
	}
	if config.Port == "" {
		config.Port = defaultPort
	}

	setupLogger(config.LogLevel)
	nodeInstanceID := uuid.NewString()[0:8]

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Warn("received interrupt, shutting down")
		cancel()
	}()

	cleanups := []func() error{}
	defer func() {
		for _, cleanup := range cleanups {
			if err := cleanup(); err != nil {
				slog.Error("cleanup failed", "node", nodeInstanceID, "error", err)
			}
		}
	}()

	dbInstance, err := initDatabase(ctx, config)
	if err != nil {
		slog.Error("initializing database failed", "node", nodeInstanceID, "error", err)
		return errStartupFailed
	}
	cleanups = append(cleanups, dbInstance.Close)

	ps, err := initPubSub(ctx, config)
	if err != nil {
		slog.Error("initializing pubsub failed", "node", nodeInstanceID, "error", err)
		return errStartupFailed
	}
	cleanups = append(cleanups, ps.Close)

	kvManager, err := initKVManager(config)
	if err != nil {
		slog.Error("initializing KV store failed", "node", nodeInstanceID, "error", err)
		return errStartupFailed
	}
	if kvManager != nil {
		cleanups = append(cleanups, kvManager.Close)
	}

	internalMux := http.NewServeMux()
	cleanup, err := serverapi.New(ctx, internalMux, nodeInstanceID, localTenantID, config, dbInstance, ps, kvManager)
	cleanups = append(cleanups, cleanup)
	if err != nil {
		slog.Error("initializing API handler failed", "node", nodeInstanceID, "error", err)
		return errStartupFailed
	}

	var apiHandler http.Handler = internalMux
	apiHandler = apiframework.RequestIDMiddleware(apiHandler)
	apiHandler = apiframework.TracingMiddleware(apiHandler)

	mux := http.NewServeMux()
	mux.Handle("/", apiHandler)
	server := &http.Server{
		Addr:    config.Addr + ":" + config.Port,
		Handler: mux,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server starting", "node", nodeInstanceID, "port", config.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancelShutdown()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("server failed", "node", nodeInstanceID, "error", err)
		return errStartupFailed
	}
	slog.Info("server stopped", "node", nodeInstanceID)
	return nil
}
