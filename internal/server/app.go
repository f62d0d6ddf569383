// Package server wires the session service together: it opens the database,
// applies migrations, selects the session backend and runs the gRPC API, the
// ops HTTP endpoints and, for the PostgreSQL backend, the expiry sweeper.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dmitrijs2005/authsession/internal/logging"
	"github.com/dmitrijs2005/authsession/internal/server/config"
	"github.com/dmitrijs2005/authsession/internal/server/metrics"
	"github.com/dmitrijs2005/authsession/internal/server/ops"
	"github.com/dmitrijs2005/authsession/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/authsession/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/authsession/internal/server/services"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	gs "github.com/dmitrijs2005/authsession/internal/server/grpc"
)

type App struct {
	config        *config.Config
	logger        logging.Logger
	db            *sql.DB
	redis         *redis.Client
	registry      *prometheus.Registry
	userService   *services.UserService
	exportService *services.ExportService
	purgeService  *services.PurgeService
}

// openDB is a seam for tests.
var openDB = func(dsn string) (*sql.DB, error) {
	return sql.Open("pgx", dsn)
}

func NewApp(ctx context.Context, c *config.Config, logger logging.Logger) (*App, error) {
	db, err := openDB(c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}

	app, err := newApp(ctx, c, logger, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return app, nil
}

func newApp(ctx context.Context, c *config.Config, logger logging.Logger, db *sql.DB) (*App, error) {
	opts, err := c.SessionOptions()
	if err != nil {
		return nil, err
	}

	rm := repomanager.NewPostgresRepositoryManager(opts...)
	if err := rm.RunMigrations(ctx, db); err != nil {
		return nil, fmt.Errorf("migrations error: %w", err)
	}

	app := &App{config: c, logger: logger, db: db, registry: prometheus.NewRegistry()}

	sessions, err := app.sessionStore(rm, opts)
	if err != nil {
		return nil, err
	}

	col := metrics.NewCollectors()
	if err := col.Register(app.registry); err != nil {
		return nil, fmt.Errorf("metrics init error: %w", err)
	}
	app.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	instrumented := metrics.NewInstrumentedRepository(sessions, col)
	app.userService = services.NewUserService(db, rm, instrumented, c, logger)
	app.exportService = services.NewExportService(instrumented, c, logger)

	return app, nil
}

// sessionStore picks the session backend named in the config. The PostgreSQL
// backend has no native expiry, so it also gets a purge service.
func (app *App) sessionStore(rm *repomanager.PostgresRepositoryManager, opts []refreshtokens.Option) (refreshtokens.Repository, error) {
	switch app.config.SessionBackend {
	case config.BackendRedis:
		app.redis = redis.NewClient(&redis.Options{
			Addr:     app.config.RedisAddr,
			Password: app.config.RedisPassword,
			DB:       app.config.RedisDB,
		})
		return refreshtokens.NewRedisRepository(app.redis, app.config.RedisKeyPrefix, opts...), nil
	case config.BackendPostgres:
		repo := rm.RefreshTokens(app.db)
		app.purgeService = services.NewPurgeService(repo, app.config.PurgeInterval, app.logger)
		return repo, nil
	default:
		return nil, fmt.Errorf("unknown session backend %q", app.config.SessionBackend)
	}
}

func (app *App) checks() map[string]ops.Check {
	checks := map[string]ops.Check{
		"postgres": app.db.PingContext,
	}
	if app.redis != nil {
		checks["redis"] = func(ctx context.Context) error {
			return app.redis.Ping(ctx).Err()
		}
	}
	return checks
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := gs.NewGRPCServer(app.config.EndpointAddrGRPC, app.logger, app.userService, app.exportService, app.config.SecretKey)
	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) startOpsServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := ops.NewServer(app.config.EndpointAddrHTTP, app.registry, app.checks(), app.logger)
	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

// Run serves until ctx is cancelled or a signal arrives, then releases the
// database and Redis connections.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...", "session_backend", app.config.SessionBackend)

	app.initSignalHandler(cancelFunc)

	if err := app.exportService.InitBucket(ctx); err != nil {
		app.logger.Warn(ctx, "export bucket init failed", "error", err)
	}

	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		app.startGRPCServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.startOpsServer(ctx, cancelFunc)
	}()

	if app.purgeService != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			app.purgeService.Run(ctx)
		}()
	}

	wg.Wait()
	app.close(ctx)
}

func (app *App) close(ctx context.Context) {
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			app.logger.Warn(ctx, "redis close", "error", err)
		}
	}
	if err := app.db.Close(); err != nil {
		app.logger.Warn(ctx, "db close", "error", err)
	}
	app.logger.Info(ctx, "App stopped")
}
