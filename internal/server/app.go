// Package server wires the registry together: configuration, logging,
// metadata backend, blob storage and the HTTP endpoint, plus graceful
// shutdown on OS signals.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/sethvargo/go-retry"

	"github.com/eruvanos/warehouse14/internal/logging"
	sc "github.com/eruvanos/warehouse14/internal/server/config"
	"github.com/eruvanos/warehouse14/internal/server/repository"
	"github.com/eruvanos/warehouse14/internal/server/simpleapi"
	"github.com/eruvanos/warehouse14/internal/server/storage"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	config *sc.Config
	logger logging.Logger
	server *http.Server
}

func NewApp(ctx context.Context, c *sc.Config) (*App, error) {
	logger := logging.NewJSON(os.Stdout)

	backend, err := buildBackend(ctx, c, logger)
	if err != nil {
		return nil, fmt.Errorf("backend init error: %w", err)
	}

	store, err := buildStorage(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("storage init error: %w", err)
	}

	api := simpleapi.New(backend, store, logger, c.AllowProjectCreation)

	return &App{
		config: c,
		logger: logger,
		server: &http.Server{Addr: c.Addr, Handler: api.Router()},
	}, nil
}

func buildBackend(ctx context.Context, c *sc.Config, logger logging.Logger) (repository.Backend, error) {
	switch c.Backend {
	case sc.BackendMemory:
		logger.Warn(ctx, "using in-memory backend, data is lost on restart")
		return repository.NewMemoryBackend(), nil

	case sc.BackendDynamoDB:
		cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(c.DynamoRegion))
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		client := dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
			if c.DynamoEndpoint != "" {
				o.BaseEndpoint = aws.String(c.DynamoEndpoint)
			}
		})
		if err := repository.EnsureTable(ctx, client, c.DynamoTable); err != nil {
			return nil, err
		}
		return repository.NewDynamoDBBackend(client, c.DynamoTable), nil

	case sc.BackendPostgres:
		db, err := sql.Open("pgx", c.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		if err := waitForDB(ctx, db); err != nil {
			return nil, err
		}
		if err := repository.RunMigrations(ctx, db); err != nil {
			return nil, err
		}
		return repository.NewPostgresBackend(db), nil
	}

	return nil, fmt.Errorf("unknown backend %q", c.Backend)
}

// waitForDB pings the database until it answers. The database container
// usually starts alongside the server and needs a moment to accept
// connections.
func waitForDB(ctx context.Context, db *sql.DB) error {
	backoff := retry.WithMaxDuration(30*time.Second, retry.NewFibonacci(500*time.Millisecond))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
}

func buildStorage(ctx context.Context, c *sc.Config) (storage.PackageStorage, error) {
	switch c.Storage {
	case sc.StorageLocal:
		return storage.NewFileStorage(c.LocalRoot, c.AllowOverwrite)

	case sc.StorageS3:
		return storage.NewS3Storage(ctx, storage.S3Options{
			Region:         c.S3Region,
			User:           c.S3RootUser,
			Password:       c.S3RootPassword,
			BaseEndpoint:   c.S3BaseEndpoint,
			Bucket:         c.S3Bucket,
			AllowOverwrite: c.AllowOverwrite,
		})
	}

	return nil, fmt.Errorf("unknown storage %q", c.Storage)
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.initSignalHandler(cancelFunc)

	app.logger.Info(ctx, "starting server", "addr", app.config.Addr)

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Error(ctx, "server failed", "error", err)
		}
	case <-ctx.Done():
		app.logger.Info(ctx, "shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := app.server.Shutdown(shutdownCtx); err != nil {
			app.logger.Error(ctx, "shutdown failed", "error", err)
		}
	}
}
