// Package scheduler persists jobs per category and dispatches due jobs to a
// bounded executor for each category.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/xuecangming/drivefetch/internal/common/errors"
	"github.com/xuecangming/drivefetch/internal/common/types"
	"github.com/xuecangming/drivefetch/internal/core/executor"
	"github.com/xuecangming/drivefetch/internal/core/logger"
	"github.com/xuecangming/drivefetch/internal/core/retry"
)

// WorkFunc executes one job. ctx is cancelled when the scheduler shuts down.
type WorkFunc func(ctx context.Context, job *types.Job) (any, error)

// Registrar binds work references to functions
type Registrar interface {
	Register(name string, fn WorkFunc)
}

// JobStore is the durable record of pending and in-flight jobs of one category
type JobStore interface {
	Upsert(ctx context.Context, job *types.Job) error
	Remove(ctx context.Context, id string) error
	// DueJobs returns queued jobs whose NextRunAt is not after now, oldest first
	DueJobs(ctx context.Context, now time.Time) ([]*types.Job, error)
	// NextRunTime returns the earliest NextRunAt among queued jobs
	NextRunTime(ctx context.Context) (time.Time, bool, error)
	// Recover puts running jobs back to queued and returns every pending job
	Recover(ctx context.Context) ([]*types.Job, error)
}

// JobEvent is delivered to success and failure listeners
type JobEvent struct {
	Job    *types.Job
	Result any
	Err    error
}

// Listener receives job events
type Listener func(event JobEvent)

// State is the scheduler lifecycle state
type State int

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	default:
		return "stopped"
	}
}

// ErrStopped is returned by AddJob after Shutdown
var ErrStopped = errors.New("scheduler is stopped")

// Config holds scheduler configuration
type Config struct {
	Workers map[types.Category]int
	// MaxRetries bounds requeues of jobs failing with a retryable error
	MaxRetries int
	// MaxWait caps how long the main loop sleeps between store polls
	MaxWait time.Duration
	// Retry computes the delay before a failed job runs again
	Retry *retry.Config
}

// Scheduler dispatches persisted jobs to per-category executors
type Scheduler struct {
	config    Config
	log       logger.Logger
	stores    map[types.Category]JobStore
	executors map[types.Category]*executor.Executor

	regMu    sync.RWMutex
	registry map[string]WorkFunc

	listenMu  sync.RWMutex
	onSuccess []Listener
	onFailure []Listener

	wake chan struct{}

	mu          sync.Mutex
	state       State
	outstanding map[string]types.Category
	running     map[string]bool
	idle        chan struct{}
	idleClosed  bool
	jobCtx      context.Context
	cancelJobs  context.CancelFunc
	stopCh      chan struct{}
	loopDone    chan struct{}
}

// New creates a scheduler with one executor per category that has a store
func New(config Config, stores map[types.Category]JobStore, log logger.Logger) (*Scheduler, error) {
	if len(stores) == 0 {
		return nil, apperrors.ConfigError("jobs", "no job stores configured")
	}
	if config.MaxWait <= 0 {
		config.MaxWait = 5 * time.Second
	}
	if config.Retry == nil {
		config.Retry = retry.DefaultConfig()
	}

	log = logger.OrGlobal(log).With(logger.String("component", "scheduler"))
	s := &Scheduler{
		config:      config,
		log:         log,
		stores:      stores,
		executors:   make(map[types.Category]*executor.Executor, len(stores)),
		registry:    make(map[string]WorkFunc),
		wake:        make(chan struct{}, 1),
		outstanding: make(map[string]types.Category),
		running:     make(map[string]bool),
		stopCh:      make(chan struct{}),
		loopDone:    make(chan struct{}),
	}
	for category := range stores {
		workers := config.Workers[category]
		if workers < 1 {
			return nil, apperrors.ConfigError("workers."+string(category), "must be at least 1")
		}
		s.executors[category] = executor.New(string(category), workers, log)
	}
	s.idle = make(chan struct{})
	close(s.idle)
	s.idleClosed = true
	s.jobCtx, s.cancelJobs = context.WithCancel(context.Background())
	return s, nil
}

// Register binds a work reference to a function
func (s *Scheduler) Register(name string, fn WorkFunc) {
	s.regMu.Lock()
	defer s.regMu.Unlock()
	s.registry[name] = fn
}

func (s *Scheduler) lookup(name string) (WorkFunc, bool) {
	s.regMu.RLock()
	defer s.regMu.RUnlock()
	fn, ok := s.registry[name]
	return fn, ok
}

// OnSuccess adds a listener for jobs that completed successfully
func (s *Scheduler) OnSuccess(fn Listener) {
	s.listenMu.Lock()
	defer s.listenMu.Unlock()
	s.onSuccess = append(s.onSuccess, fn)
}

// OnFailure adds a listener for jobs that failed terminally
func (s *Scheduler) OnFailure(fn Listener) {
	s.listenMu.Lock()
	defer s.listenMu.Unlock()
	s.onFailure = append(s.onFailure, fn)
}

// State returns the lifecycle state
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// AddJob persists a job and wakes the main loop. An empty jobID gets a generated one.
// Re-adding the id of a job that is currently running is a no-op.
func (s *Scheduler) AddJob(ctx context.Context, category types.Category, funcName string, args any, jobID string) (string, error) {
	store, ok := s.stores[category]
	if !ok {
		return "", apperrors.NotFoundError("job category", string(category))
	}
	if _, ok := s.lookup(funcName); !ok {
		return "", apperrors.NotFoundError("work function", funcName)
	}
	if jobID == "" {
		jobID = uuid.New().String()
	}

	var raw json.RawMessage
	if args != nil {
		data, err := json.Marshal(args)
		if err != nil {
			return "", fmt.Errorf("failed to encode job arguments: %w", err)
		}
		raw = data
	}

	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return "", ErrStopped
	}
	if s.running[jobID] {
		s.mu.Unlock()
		s.log.Debug("Job already running", logger.String("job", jobID))
		return jobID, nil
	}
	s.mu.Unlock()

	now := time.Now().UTC()
	job := &types.Job{
		ID:        jobID,
		Category:  category,
		Func:      funcName,
		Args:      raw,
		Status:    types.JobStatusQueued,
		NextRunAt: now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := store.Upsert(ctx, job); err != nil {
		return "", fmt.Errorf("failed to persist job: %w", err)
	}

	s.mu.Lock()
	s.trackLocked(jobID, category)
	s.mu.Unlock()

	s.signal()
	return jobID, nil
}

// Start recovers interrupted jobs and launches the main loop
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return fmt.Errorf("scheduler cannot start from state %s", s.state)
	}
	s.mu.Unlock()

	recovered := 0
	for category, store := range s.stores {
		jobs, err := store.Recover(ctx)
		if err != nil {
			return fmt.Errorf("failed to recover %s jobs: %w", category, err)
		}
		s.mu.Lock()
		for _, job := range jobs {
			s.trackLocked(job.ID, category)
		}
		s.mu.Unlock()
		recovered += len(jobs)
	}
	if recovered > 0 {
		s.log.Info("Recovered pending jobs", logger.Int("count", recovered))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle {
		return fmt.Errorf("scheduler cannot start from state %s", s.state)
	}
	s.state = StateRunning
	context.AfterFunc(ctx, s.cancelJobs)
	go s.loop(ctx)
	s.signal()
	return nil
}

// Wait blocks until every added job reached a terminal status
func (s *Scheduler) Wait(ctx context.Context) error {
	s.mu.Lock()
	idle := s.idle
	s.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops the main loop, cancels running work and shuts down every executor.
// With wait set it blocks until running work has returned.
func (s *Scheduler) Shutdown(wait bool) {
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return
	}
	started := s.state == StateRunning
	s.state = StateStopped
	s.mu.Unlock()

	close(s.stopCh)
	s.cancelJobs()
	if started {
		<-s.loopDone
	}
	for category, ex := range s.executors {
		if dropped := ex.Shutdown(wait); dropped > 0 {
			s.log.Info("Queued jobs left for the next run",
				logger.String("category", string(category)),
				logger.Int("count", dropped))
		}
	}

	s.mu.Lock()
	s.outstanding = make(map[string]types.Category)
	s.checkIdleLocked()
	s.mu.Unlock()
	s.log.Info("Scheduler stopped")
}

// Stats returns executor statistics per category
func (s *Scheduler) Stats() []types.JobStats {
	s.mu.Lock()
	pending := make(map[types.Category]int)
	for _, c := range s.outstanding {
		pending[c]++
	}
	s.mu.Unlock()

	stats := make([]types.JobStats, 0, len(s.executors))
	for _, category := range types.Categories {
		ex, ok := s.executors[category]
		if !ok {
			continue
		}
		st := ex.Stats()
		stats = append(stats, types.JobStats{
			Category:  category,
			Workers:   st.Workers,
			Running:   st.Running,
			Queued:    st.Queued,
			Spawned:   st.Spawned,
			Completed: st.Completed,
			Pending:   pending[category],
		})
	}
	return stats
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.loopDone)

	for {
		next := s.dispatch(ctx)

		wait := s.config.MaxWait
		if !next.IsZero() {
			if d := time.Until(next); d < wait {
				wait = d
			}
		}
		if wait < 0 {
			wait = 0
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-s.stopCh:
			timer.Stop()
			return
		case <-s.wake:
		case <-timer.C:
		}
		timer.Stop()
	}
}

// dispatch submits every due job and returns the earliest future run time
func (s *Scheduler) dispatch(ctx context.Context) time.Time {
	var next time.Time
	now := time.Now().UTC()

	for _, category := range types.Categories {
		store, ok := s.stores[category]
		if !ok {
			continue
		}
		jobs, err := store.DueJobs(ctx, now)
		if err != nil {
			if ctx.Err() == nil {
				s.log.Error("Failed to load due jobs", logger.String("category", string(category)), logger.Error(err))
			}
			continue
		}
		for _, job := range jobs {
			if !s.submit(ctx, store, job) {
				break
			}
		}

		t, ok, err := store.NextRunTime(ctx)
		if err != nil {
			continue
		}
		if ok && (next.IsZero() || t.Before(next)) {
			next = t
		}
	}
	return next
}

func (s *Scheduler) submit(ctx context.Context, store JobStore, job *types.Job) bool {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return false
	}
	if s.running[job.ID] {
		s.mu.Unlock()
		return true
	}
	s.running[job.ID] = true
	s.trackLocked(job.ID, job.Category)
	s.mu.Unlock()

	job.Status = types.JobStatusRunning
	job.UpdatedAt = time.Now().UTC()
	if err := store.Upsert(ctx, job); err != nil {
		s.log.Error("Failed to mark job running", logger.String("job", job.ID), logger.Error(err))
		s.mu.Lock()
		delete(s.running, job.ID)
		s.mu.Unlock()
		return true
	}

	ex := s.executors[job.Category]
	err := ex.Submit(
		func() (any, error) { return s.execute(job) },
		func(result any) { s.succeeded(store, job, result) },
		func(err error) { s.failed(store, job, err) },
	)
	if err != nil {
		// executor is shutting down; the store still says running, which Recover undoes
		s.mu.Lock()
		delete(s.running, job.ID)
		s.mu.Unlock()
		return false
	}
	return true
}

func (s *Scheduler) execute(job *types.Job) (any, error) {
	fn, ok := s.lookup(job.Func)
	if !ok {
		return nil, apperrors.NotFoundError("work function", job.Func)
	}
	s.log.Debug("Running job",
		logger.String("job", job.ID),
		logger.String("category", string(job.Category)),
		logger.String("func", job.Func))
	return fn(s.jobCtx, job)
}

func (s *Scheduler) succeeded(store JobStore, job *types.Job, result any) {
	storeCtx := context.Background()
	if err := store.Remove(storeCtx, job.ID); err != nil {
		s.log.Error("Failed to remove finished job", logger.String("job", job.ID), logger.Error(err))
	}
	job.Status = types.JobStatusSucceeded
	job.UpdatedAt = time.Now().UTC()

	s.notify(s.successListeners(), JobEvent{Job: job, Result: result})
	s.finish(job.ID)
}

func (s *Scheduler) failed(store JobStore, job *types.Job, err error) {
	storeCtx := context.Background()

	if s.jobCtx.Err() != nil {
		job.Status = types.JobStatusQueued
		job.UpdatedAt = time.Now().UTC()
		if upErr := store.Upsert(storeCtx, job); upErr != nil {
			s.log.Error("Failed to requeue interrupted job", logger.String("job", job.ID), logger.Error(upErr))
		}
		s.log.Info("Job interrupted; it resumes on the next run", logger.String("job", job.ID))
		s.finish(job.ID)
		return
	}

	if apperrors.IsRetryable(err) && job.Retries < s.config.MaxRetries {
		delay := s.config.Retry.Delay(job.Retries)
		job.Retries++
		job.Status = types.JobStatusQueued
		job.UpdatedAt = time.Now().UTC()
		job.NextRunAt = job.UpdatedAt.Add(delay)
		upErr := store.Upsert(storeCtx, job)
		if upErr == nil {
			s.log.Warn("Job failed; retrying",
				logger.String("job", job.ID),
				logger.Int("retries", job.Retries),
				logger.Duration("delay", delay),
				logger.Error(err))
			s.mu.Lock()
			delete(s.running, job.ID)
			s.mu.Unlock()
			s.signal()
			return
		}
		s.log.Error("Failed to requeue job", logger.String("job", job.ID), logger.Error(upErr))
	}

	if rmErr := store.Remove(storeCtx, job.ID); rmErr != nil {
		s.log.Error("Failed to remove failed job", logger.String("job", job.ID), logger.Error(rmErr))
	}
	job.Status = types.JobStatusFailed
	job.UpdatedAt = time.Now().UTC()
	s.log.Error("Job failed",
		logger.String("job", job.ID),
		logger.String("func", job.Func),
		logger.Error(err))

	s.notify(s.failureListeners(), JobEvent{Job: job, Err: err})
	s.finish(job.ID)
}

func (s *Scheduler) successListeners() []Listener {
	s.listenMu.RLock()
	defer s.listenMu.RUnlock()
	return append([]Listener(nil), s.onSuccess...)
}

func (s *Scheduler) failureListeners() []Listener {
	s.listenMu.RLock()
	defer s.listenMu.RUnlock()
	return append([]Listener(nil), s.onFailure...)
}

func (s *Scheduler) notify(listeners []Listener, event JobEvent) {
	for _, fn := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("Job listener panicked", logger.String("job", event.Job.ID), logger.Any("panic", r))
				}
			}()
			fn(event)
		}()
	}
}

func (s *Scheduler) finish(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, id)
	delete(s.outstanding, id)
	s.checkIdleLocked()
}

func (s *Scheduler) trackLocked(id string, category types.Category) {
	s.outstanding[id] = category
	if s.idleClosed {
		s.idle = make(chan struct{})
		s.idleClosed = false
	}
}

func (s *Scheduler) checkIdleLocked() {
	if !s.idleClosed && len(s.outstanding) == 0 {
		close(s.idle)
		s.idleClosed = true
	}
}
