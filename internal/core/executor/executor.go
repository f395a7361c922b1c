// Package executor runs work with a fixed concurrency bound. Work that cannot
// start immediately waits in a FIFO drained by a single monitor goroutine.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	apperrors "github.com/xuecangming/drivefetch/internal/common/errors"
	"github.com/xuecangming/drivefetch/internal/core/logger"
)

// ErrShutdown is returned by Submit after Shutdown
var ErrShutdown = errors.New("executor is shut down")

// Work is a unit of work run by the executor
type Work func() (any, error)

// SuccessFunc receives the result of successful work
type SuccessFunc func(result any)

// FailureFunc receives the error of failed work
type FailureFunc func(err error)

type item struct {
	work      Work
	onSuccess SuccessFunc
	onFailure FailureFunc
}

// Stats is a snapshot of executor counters
type Stats struct {
	Workers   int
	Running   int
	Queued    int
	Spawned   int64
	Completed int64
}

// Executor runs at most Workers items concurrently
type Executor struct {
	name    string
	workers int
	slots   chan struct{}
	log     logger.Logger

	mu         sync.Mutex
	queue      []*item
	monitoring bool
	running    int
	spawned    int64
	completed  int64
	closed     bool
	idle       chan struct{}
	idleClosed bool
	done       chan struct{}
	wg         sync.WaitGroup
}

// New creates an executor with the given concurrency bound
func New(name string, workers int, log logger.Logger) *Executor {
	if workers < 1 {
		workers = 1
	}
	idle := make(chan struct{})
	close(idle)
	return &Executor{
		name:       name,
		workers:    workers,
		slots:      make(chan struct{}, workers),
		log:        logger.OrGlobal(log).With(logger.String("executor", name)),
		idle:       idle,
		idleClosed: true,
		done:       make(chan struct{}),
	}
}

// Name returns the executor name
func (e *Executor) Name() string {
	return e.name
}

// Submit schedules work. It never blocks: when every slot is taken, or earlier
// work is still queued, the item joins the FIFO.
func (e *Executor) Submit(work Work, onSuccess SuccessFunc, onFailure FailureFunc) error {
	it := &item{work: work, onSuccess: onSuccess, onFailure: onFailure}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrShutdown
	}
	e.spawned++
	e.markBusyLocked()

	if len(e.queue) == 0 {
		select {
		case e.slots <- struct{}{}:
			e.startLocked(it)
			e.mu.Unlock()
			return nil
		default:
		}
	}

	e.queue = append(e.queue, it)
	if !e.monitoring {
		e.monitoring = true
		go e.monitor()
	}
	e.mu.Unlock()
	return nil
}

// monitor moves queued items into free slots in FIFO order and exits once the queue is empty
func (e *Executor) monitor() {
	for {
		e.mu.Lock()
		if len(e.queue) == 0 || e.closed {
			e.monitoring = false
			e.mu.Unlock()
			return
		}
		e.mu.Unlock()

		select {
		case e.slots <- struct{}{}:
		case <-e.done:
			e.mu.Lock()
			e.monitoring = false
			e.mu.Unlock()
			return
		}

		e.mu.Lock()
		if len(e.queue) == 0 {
			<-e.slots
			e.monitoring = false
			e.mu.Unlock()
			return
		}
		it := e.queue[0]
		e.queue[0] = nil
		e.queue = e.queue[1:]
		e.startLocked(it)
		e.mu.Unlock()
	}
}

// startLocked runs an item that already holds a slot
func (e *Executor) startLocked(it *item) {
	e.running++
	e.wg.Add(1)
	go e.run(it)
}

func (e *Executor) run(it *item) {
	defer e.wg.Done()

	result, err := e.invoke(it.work)

	<-e.slots
	e.mu.Lock()
	e.running--
	e.mu.Unlock()

	if err != nil {
		if it.onFailure != nil {
			it.onFailure(err)
		}
	} else if it.onSuccess != nil {
		it.onSuccess(result)
	}

	e.mu.Lock()
	e.completed++
	e.checkIdleLocked()
	e.mu.Unlock()
}

func (e *Executor) invoke(work Work) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("Work panicked", logger.Any("panic", r))
			err = apperrors.InternalError(fmt.Sprintf("work panicked: %v", r))
		}
	}()
	return work()
}

func (e *Executor) markBusyLocked() {
	if e.idleClosed {
		e.idle = make(chan struct{})
		e.idleClosed = false
	}
}

func (e *Executor) checkIdleLocked() {
	if !e.idleClosed && e.spawned == e.completed && len(e.queue) == 0 {
		close(e.idle)
		e.idleClosed = true
	}
}

// Wait blocks until every spawned item has completed and the queue is empty
func (e *Executor) Wait(ctx context.Context) error {
	e.mu.Lock()
	idle := e.idle
	e.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown rejects new work and drops queued items. With wait set it blocks
// until running work has finished. It returns the number of dropped items.
func (e *Executor) Shutdown(wait bool) int {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		if wait {
			e.wg.Wait()
		}
		return 0
	}
	e.closed = true
	dropped := len(e.queue)
	e.queue = nil
	e.spawned -= int64(dropped)
	close(e.done)
	e.checkIdleLocked()
	e.mu.Unlock()

	if dropped > 0 {
		e.log.Warn("Dropped queued work on shutdown", logger.Int("dropped", dropped))
	}
	if wait {
		e.wg.Wait()
	}
	return dropped
}

// Stats returns a snapshot of the executor counters
func (e *Executor) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{
		Workers:   e.workers,
		Running:   e.running,
		Queued:    len(e.queue),
		Spawned:   e.spawned,
		Completed: e.completed,
	}
}
