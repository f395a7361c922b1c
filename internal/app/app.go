// Package app wires the configured components into one runnable unit.
package app

import (
	"context"
	"errors"
	"time"

	"github.com/xuecangming/drivefetch/internal/api"
	"github.com/xuecangming/drivefetch/internal/api/handlers"
	"github.com/xuecangming/drivefetch/internal/common/types"
	"github.com/xuecangming/drivefetch/internal/common/utils"
	"github.com/xuecangming/drivefetch/internal/core/logger"
	"github.com/xuecangming/drivefetch/internal/core/retry"
	"github.com/xuecangming/drivefetch/internal/core/scheduler"
	"github.com/xuecangming/drivefetch/internal/core/session"
	"github.com/xuecangming/drivefetch/internal/infrastructure/database"
	"github.com/xuecangming/drivefetch/internal/infrastructure/remote"
	"github.com/xuecangming/drivefetch/internal/infrastructure/storage"
	"github.com/xuecangming/drivefetch/internal/repository"
	"github.com/xuecangming/drivefetch/internal/service/move"
	"github.com/xuecangming/drivefetch/internal/service/results"
	"github.com/xuecangming/drivefetch/internal/service/transfer"
	"github.com/xuecangming/drivefetch/internal/service/traversal"
)

const statusShutdownTimeout = 5 * time.Second

// App holds every long-lived component of one run
type App struct {
	Config    *types.Config
	Logger    logger.Logger
	Scheduler *scheduler.Scheduler
	Sessions  *session.Pool
	Auth      *remote.CookieFileAuthenticator
	Client    *remote.Client
	Storage   *storage.LocalStorage
	Engine    *transfer.Engine
	Traversal *traversal.Service
	Mover     *move.Service
	Recorder  *results.Recorder

	resultDB *database.DB
	dbs      map[string]*database.DB
}

// New validates config and builds the application. Close releases the stores.
func New(config *types.Config, log logger.Logger) (_ *App, err error) {
	if err := utils.ValidateConfig(config); err != nil {
		return nil, err
	}
	log = logger.OrGlobal(log)

	a := &App{
		Config: config,
		Logger: log,
		dbs:    make(map[string]*database.DB),
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if limit := config.Session.MaxConnections; limit > 0 {
		if w := config.Workers.List + config.Workers.Download; w > limit {
			log.Warn("List and download workers exceed the connection limit, workers will wait for sessions",
				logger.Int("workers", w),
				logger.Int("max_connections", limit))
		}
	}

	jobStores, err := a.openJobStores()
	if err != nil {
		return nil, err
	}
	resultStore, err := a.openResultStore()
	if err != nil {
		return nil, err
	}

	workers := make(map[types.Category]int, len(types.Categories))
	for _, c := range types.Categories {
		workers[c] = config.Workers.ForCategory(c)
	}
	a.Scheduler, err = scheduler.New(scheduler.Config{
		Workers:    workers,
		MaxRetries: config.Jobs.MaxRetries,
		MaxWait:    time.Duration(config.Jobs.MaxWait) * time.Second,
		Retry:      retry.FromTypes(config.Transfer.Retry, config.Jobs.MaxRetries),
	}, jobStores, log)
	if err != nil {
		return nil, err
	}

	a.Client = remote.NewClient(config.Remote, log)
	metadata := remote.NewClientWithRetry(a.Client,
		retry.FromTypes(config.Transfer.Retry, config.Transfer.MaxRetries), log)
	a.Auth = remote.NewCookieFileAuthenticator(config.Auth.CookieFile)
	a.Sessions = session.NewPool(session.Config{
		MaxConnections: config.Session.MaxConnections,
		CSRFCookie:     config.Auth.CSRFCookie,
	}, a.Auth, a.Client, log)

	a.Storage, err = storage.NewLocalStorage(config.Traversal.Destination)
	if err != nil {
		return nil, err
	}

	a.Recorder = results.NewRecorder(resultStore, log)
	a.Recorder.Listen(a.Scheduler)

	a.Engine = transfer.NewEngine(transfer.ConfigFrom(config.Transfer), a.Sessions, a.Client, a.Storage, log)
	a.Traversal = traversal.NewService(traversal.Config{MaxAttempts: config.Transfer.MaxAttempts},
		a.Sessions, metadata, a.Scheduler, a.Recorder, a.Storage, log)
	a.Traversal.Register(a.Scheduler, a.Engine)

	a.Mover = move.NewService(a.Storage, log)
	a.Mover.Register(a.Scheduler)

	return a, nil
}

// Run starts the scheduler, lets enqueue add the first jobs and waits until
// every job, including the ones added while running, reached a terminal
// status. Cancelling ctx stops running work; queued jobs stay in the job
// store for the next run.
func (a *App) Run(ctx context.Context, enqueue func(ctx context.Context) error) error {
	var status *api.Server
	if addr := a.Config.Status.Addr; addr != "" {
		status = api.NewServer(api.Dependencies{
			DB:        a.pinger(),
			Sessions:  a.Sessions,
			Scheduler: a.Scheduler,
			Results:   a.Recorder,
		}, a.Logger)
		if _, err := status.Start(addr); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), statusShutdownTimeout)
			defer cancel()
			if err := status.Shutdown(shutdownCtx); err != nil {
				a.Logger.Warn("Status server shutdown failed", logger.Error(err))
			}
		}()
	}

	if err := a.Scheduler.Start(ctx); err != nil {
		return err
	}

	err := enqueue(ctx)
	if err == nil {
		err = a.Scheduler.Wait(ctx)
	}
	a.Scheduler.Shutdown(true)
	if errors.Is(err, context.Canceled) {
		a.Logger.Info("Interrupted, pending jobs are kept for the next run")
	}
	return err
}

// ListOptions select what to list
type ListOptions struct {
	Path     string
	MaxDepth int
	// Sync walks the tree in the calling goroutine instead of through list jobs
	Sync bool
}

// List records the remote tree below opts.Path
func (a *App) List(ctx context.Context, opts ListOptions) error {
	req := traversal.ListRequest{Path: opts.Path, MaxDepth: opts.MaxDepth}
	if opts.Sync {
		req.Mode = traversal.ModeSync
		result, err := a.Traversal.List(ctx, req)
		if err != nil {
			return err
		}
		a.Recorder.RecordSuccess(scheduler.JobEvent{
			Job:    &types.Job{ID: "list:" + opts.Path, Category: types.CategoryList, Func: traversal.FuncListFolder},
			Result: result,
		})
		a.Logger.Info("Listing finished", logger.Int("items", len(result.Items)))
		return nil
	}
	return a.Run(ctx, func(ctx context.Context) error {
		_, err := a.Scheduler.AddJob(ctx, types.CategoryList, traversal.FuncListFolder, req, "list:"+opts.Path)
		return err
	})
}

// DownloadOptions select what to download and where
type DownloadOptions struct {
	Path        string
	MaxDepth    int
	Destination string
	MoveTo      string
}

// Download mirrors the remote tree below opts.Path into opts.Destination
func (a *App) Download(ctx context.Context, opts DownloadOptions) error {
	req := traversal.DownloadRequest{
		Path:        opts.Path,
		MaxDepth:    opts.MaxDepth,
		Destination: opts.Destination,
		MoveTo:      opts.MoveTo,
	}
	return a.Run(ctx, func(ctx context.Context) error {
		_, err := a.Scheduler.AddJob(ctx, types.CategoryList, traversal.FuncDownloadFolder, req, "download_folder:"+opts.Path)
		return err
	})
}

// Logout ends the remote session and deletes the stored cookies
func (a *App) Logout(ctx context.Context) error {
	return a.Sessions.Logout(ctx)
}

// Close releases the job and result stores
func (a *App) Close() error {
	var errs []error
	for _, db := range a.dbs {
		errs = append(errs, db.Close())
	}
	a.dbs = map[string]*database.DB{}
	return errors.Join(errs...)
}

func (a *App) openJobStores() (map[types.Category]scheduler.JobStore, error) {
	stores := make(map[types.Category]scheduler.JobStore, len(types.Categories))
	if a.Config.Jobs.Driver == "memory" {
		for _, c := range types.Categories {
			stores[c] = repository.NewMemoryJobStore(c)
		}
		return stores, nil
	}

	db, err := a.open(a.Config.Jobs.StoreConfig)
	if err != nil {
		return nil, err
	}
	for _, c := range types.Categories {
		stores[c] = repository.NewJobRepository(db, c)
	}
	return stores, nil
}

func (a *App) openResultStore() (results.Store, error) {
	if a.Config.Results.Driver == "memory" {
		return repository.NewMemoryResultStore(), nil
	}
	db, err := a.open(a.Config.Results)
	if err != nil {
		return nil, err
	}
	a.resultDB = db
	return repository.NewResultRepository(db), nil
}

// open connects to a store once per driver and DSN and migrates it
func (a *App) open(config types.StoreConfig) (*database.DB, error) {
	key := config.Driver + "|" + config.DSN
	if db, ok := a.dbs[key]; ok {
		return db, nil
	}
	db, err := database.Open(config, a.Config.Database)
	if err != nil {
		return nil, err
	}
	if err := database.RunMigrations(db, types.Categories); err != nil {
		db.Close()
		return nil, err
	}
	a.dbs[key] = db
	a.Logger.Debug("Store opened",
		logger.String("driver", config.Driver),
		logger.String("dsn", config.DSN))
	return db, nil
}

func (a *App) pinger() handlers.Pinger {
	if a.resultDB == nil {
		return nil
	}
	return a.resultDB
}
