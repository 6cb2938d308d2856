package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"github.com/JonMunkholm/csvschema/internal/config"
	"github.com/JonMunkholm/csvschema/internal/core"
	"github.com/JonMunkholm/csvschema/internal/database"
	"github.com/JonMunkholm/csvschema/internal/logging"
	"github.com/JonMunkholm/csvschema/internal/web"
)

func main() {
	envFile := flag.String("env-file", ".env", "dotenv file to load (overwrites existing env vars)")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error (or set LOG_LEVEL)")
	storage := flag.String("storage", "", "storage backend: memory or postgres (or set STORAGE_BACKEND)")
	port := flag.Int("port", 0, "port to listen on (or set SERVER_PORT)")
	flag.Parse()

	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(*envFile); err != nil {
		slog.Info("no .env file found, using environment variables", "file", *envFile)
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)", "file", *envFile)
	}

	// Flags win over the environment.
	setEnvIf("LOG_LEVEL", *logLevel)
	setEnvIf("STORAGE_BACKEND", *storage)
	if *port > 0 {
		setEnvIf("SERVER_PORT", strconv.Itoa(*port))
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	closeLogs := logging.Setup(cfg.Logging)
	defer closeLogs()

	slog.Info("configuration loaded", "config", cfg)

	ctx := context.Background()
	opts := core.Options{
		MaxConcurrentImports: cfg.Import.MaxConcurrent,
		MaxImportWait:        cfg.Import.MaxWaitTime,
		ImportTimeout:        cfg.Import.Timeout,
		Workers:              cfg.Import.Workers,
	}
	var serverOpts []web.Option

	var pool *pgxpool.Pool
	if cfg.Storage.Backend == config.BackendPostgres {
		pool, err = database.Open(ctx, cfg.Database)
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		slog.Info("connected to database", "database", pool.Config().ConnConfig.Database)

		if cfg.Database.RunMigrations {
			if err := database.Migrate(ctx, slog.Default(), pool); err != nil {
				slog.Error("failed to run migrations", "error", err)
				os.Exit(1)
			}
		}

		store := database.NewStore(pool)
		opts.Catalog = database.NewCatalog(pool)
		opts.Store = store
		opts.History = database.NewHistory(pool)
		serverOpts = append(serverOpts, web.WithPinger(store))
	}

	service := core.NewService(opts)

	tables, err := service.ListTables(ctx)
	if err != nil {
		slog.Error("failed to load table catalog", "error", err)
		os.Exit(1)
	}
	slog.Info("tables registered", "count", len(tables))

	server := web.NewServer(service, cfg, serverOpts...)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			closeLogs()
			os.Exit(1)
		}
		return
	case sig := <-sigCh:
		slog.Info("shutting down...", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Wait for active imports to complete (with timeout)
	if status := service.LimiterStatus(); status.Active > 0 {
		slog.Info("waiting for imports to complete", "active", status.Active)
		if err := service.WaitForImports(shutdownCtx); err != nil {
			slog.Warn("imports did not complete in time", "error", err)
		} else {
			slog.Info("all imports completed")
		}
	}

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	slog.Info("server stopped")
}

func setEnvIf(key, value string) {
	if value != "" {
		_ = os.Setenv(key, value)
	}
}
