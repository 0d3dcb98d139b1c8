package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rpattn/datalab/internal/api"
	"github.com/rpattn/datalab/internal/assembler"
	"github.com/rpattn/datalab/internal/config"
	"github.com/rpattn/datalab/internal/datalab"
	"github.com/rpattn/datalab/internal/db"
	"github.com/rpattn/datalab/internal/formula"
	"github.com/rpattn/datalab/internal/middleware"
	"github.com/rpattn/datalab/internal/pipelinefile"
	"github.com/rpattn/datalab/internal/query"
	"github.com/rpattn/datalab/internal/repository"

	"github.com/rs/cors"
)

func main() {
	configPath := flag.String("config", ".", "directory containing config.yaml")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "datalab server: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	// Create context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(configPath, nil)
	if err != nil {
		return err
	}
	logger := config.NewLogger(cfg.Log, os.Stderr)
	slog.SetDefault(logger)

	repos, closeRepos, err := openRepositories(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeRepos()

	evaluator := formula.NewEvaluator(
		formula.WithMaxSteps(cfg.Formula.MaxSteps),
		formula.WithTimeout(cfg.Formula.Timeout),
	)
	service := datalab.NewService(
		repository.NewProvider(repos),
		evaluator,
		query.NewEngine(query.WithLogger(logger)),
		datalab.WithLogger(logger),
		datalab.WithAssemblerOptions(
			assembler.WithLogger(logger),
			assembler.WithWorkers(cfg.Assembly.Workers),
			assembler.WithFormulaFailurePolicy(assembler.FailurePolicy(cfg.Assembly.FailurePolicy)),
		),
	)

	// Setup CORS
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
	})

	router := api.NewHandler(service, logger).Routes(
		middleware.LoggingMiddleware(logger),
		middleware.DataLoaderMiddleware(repos),
	)

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      corsHandler.Handler(router),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting datalab server", "address", cfg.Server.Address, "storage", cfg.Server.Storage)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
	case <-quit:
	}
	logger.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server exited")
	return nil
}

// openRepositories selects postgres or an in-memory workspace according to
// cfg.Server.Storage. The returned func releases what was opened.
func openRepositories(ctx context.Context, cfg config.Config, logger *slog.Logger) (repository.Repositories, func(), error) {
	switch cfg.Server.Storage {
	case "memory":
		if cfg.Server.Workspace == "" {
			logger.Warn("memory storage without a workspace file; serving an empty workspace")
			return repository.NewMemoryRepositories(), func() {}, nil
		}
		repos, err := pipelinefile.Open(ctx, cfg.Server.Workspace)
		if err != nil {
			return repository.Repositories{}, nil, err
		}
		logger.Info("workspace loaded", "path", cfg.Server.Workspace)
		return repos, func() {}, nil
	case "postgres", "":
		conn, err := db.NewConnection(ctx, cfg.Database)
		if err != nil {
			return repository.Repositories{}, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := db.RunMigrations(cfg.Database, logger); err != nil {
			conn.Close()
			return repository.Repositories{}, nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		repos := repository.NewPostgresRepositories(conn.Pool)
		if cfg.Server.Workspace != "" {
			ws, err := pipelinefile.LoadFile(cfg.Server.Workspace)
			if err == nil {
				err = ws.Apply(ctx, repos)
			}
			if err != nil {
				conn.Close()
				return repository.Repositories{}, nil, fmt.Errorf("failed to import workspace: %w", err)
			}
			logger.Info("workspace imported", "path", cfg.Server.Workspace)
		}
		return repos, conn.Close, nil
	default:
		return repository.Repositories{}, nil, fmt.Errorf("unknown storage %q", cfg.Server.Storage)
	}
}
