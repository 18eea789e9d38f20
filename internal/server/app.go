// Package server wires the metta components together: the document store,
// the optional Redis cache, the services and the HTTP and gRPC endpoints.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/metta/internal/dbx"
	"github.com/dmitrijs2005/metta/internal/logging"
	"github.com/dmitrijs2005/metta/internal/redisx"
	"github.com/dmitrijs2005/metta/internal/server/config"
	"github.com/dmitrijs2005/metta/internal/server/httpapi"
	"github.com/dmitrijs2005/metta/internal/server/metrics"
	"github.com/dmitrijs2005/metta/internal/server/pubsub"
	"github.com/dmitrijs2005/metta/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/metta/internal/server/repositories/resettokens"
	"github.com/dmitrijs2005/metta/internal/server/services"
	"github.com/redis/go-redis/v9"

	gs "github.com/dmitrijs2005/metta/internal/server/grpc"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	config       *config.Config
	logger       logging.Logger
	db           *sql.DB
	redis        *redis.Client
	metrics      *metrics.Metrics
	userService  *services.UserService
	entryService *services.EntryService
	exportSvc    *services.ExportService
}

// NewApp opens the store, applies migrations and builds the services.
// Redis is optional; without it password resets report "not configured"
// and identity events are dropped.
func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.NewJSON(os.Stdout, c.LogLevel)

	db, err := dbx.Open(ctx, c.DatabaseDriver, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	rm, err := repomanager.NewSQLRepositoryManager(c.DatabaseDriver, logger)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db init error: %w", err)
	}
	if err := rm.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}

	app := &App{config: c, logger: logger, db: db, metrics: metrics.New(nil)}

	opts := []services.UserServiceOption{services.WithLogger(logger)}
	if c.RedisURL != "" {
		rdb, err := redisx.Open(ctx, c.RedisURL)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("redis init error: %w", err)
		}
		app.redis = rdb
		opts = append(opts,
			services.WithResetTokens(resettokens.NewRedisRepository(rdb)),
			services.WithPublisher(pubsub.NewRedisPublisher(rdb)),
		)
	} else {
		logger.Warn(ctx, "redis not configured; password reset disabled")
	}

	app.userService = services.NewUserService(db, rm, c, opts...)
	app.entryService = services.NewEntryService(db, rm, logger)
	app.exportSvc = services.NewExportService(db, rm, c, logger)

	return app, nil
}

// Handler returns the HTTP API.
func (app *App) Handler() http.Handler {
	return httpapi.NewRouter(httpapi.Deps{
		Users:   app.userService,
		Entries: app.entryService,
		Exports: app.exportSvc,
		Metrics: app.metrics,
		Log:     app.logger.With("module", "http_server"),
	})
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	srv := &http.Server{
		Addr:              app.config.EndpointAddrHTTP,
		Handler:           app.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		app.logger.Info(ctx, "Stopping HTTP server...")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	app.logger.Info(ctx, "Starting HTTP server", "address", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := gs.NewGRPCServer(app.config.EndpointAddrGRPC, app.logger, app.db,
		gs.WithMetrics(app.metrics),
		gs.WithIdentifier(app.userService),
	)

	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

// Run serves until SIGINT, SIGTERM or SIGQUIT, or until one of the servers
// fails, then releases the store and Redis.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	var wg sync.WaitGroup

	wg.Add(3)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.startGRPCServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.metrics.PollDBStats(ctx, app.db, 15*time.Second)
	}()

	wg.Wait()
	app.Close()
	app.logger.Info(context.Background(), "App stopped")
}

func (app *App) Close() {
	if app.redis != nil {
		_ = app.redis.Close()
	}
	_ = app.db.Close()
}
