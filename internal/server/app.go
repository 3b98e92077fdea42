// Package server wires the vault services: configuration, logging, the
// PostgreSQL connection with its migrations, and graceful shutdown.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/dmitrijs2005/secretvault/internal/dbx"
	"github.com/dmitrijs2005/secretvault/internal/logging"
	"github.com/dmitrijs2005/secretvault/internal/server/config"
	"github.com/dmitrijs2005/secretvault/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/secretvault/internal/server/services"
)

// Test seams.
var (
	openDB     = func(dsn string) (*sql.DB, error) { return sql.Open("pgx", dsn) }
	newManager = repomanager.NewPostgresRepositoryManager

	signalNotify = signal.Notify
	signalStop   = signal.Stop
)

type App struct {
	config   *config.Config
	logger   logging.Logger
	db       *sql.DB
	Services *services.Services
}

// NewApp validates c, connects to the database, applies migrations and
// builds the services. Logs go to logOut as JSON.
func NewApp(ctx context.Context, c *config.Config, logOut io.Writer) (*App, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	logger := logging.NewJSONLogger(logOut, c.LogLevel)

	db, err := openDB(c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	m := newManager()
	if err := m.RunMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("db migrations error: %w", err)
	}

	svc, err := services.New(dbx.NewSQLConn(db, nil), m, c, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &App{config: c, logger: logger, db: db, Services: svc}, nil
}

func (app *App) Logger() logging.Logger {
	return app.logger
}

// initSignalHandler cancels on SIGINT, SIGTERM or SIGQUIT. The handler is
// removed once ctx is done.
func (app *App) initSignalHandler(ctx context.Context, cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signalNotify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		defer signalStop(sigs)
		select {
		case <-sigs:
			cancelFunc()
		case <-ctx.Done():
		}
	}()
}

// Run calls fn with a context that is cancelled on SIGINT, SIGTERM or
// SIGQUIT, then closes the database.
func (app *App) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")
	app.initSignalHandler(ctx, cancelFunc)

	runErr := fn(ctx)
	if runErr != nil {
		app.logger.Error(ctx, "app stopped with error", "error", runErr)
	}
	if err := app.Close(); err != nil && runErr == nil {
		return err
	}
	return runErr
}

func (app *App) Close() error {
	if app.db == nil {
		return nil
	}
	return app.db.Close()
}
