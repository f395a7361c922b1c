// Package progress logs periodic throughput and ETA for a running transfer.
package progress

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/xuecangming/drivefetch/internal/common/utils"
	"github.com/xuecangming/drivefetch/internal/core/logger"
)

// Options configures the progress reporter.
type Options struct {
	// Name identifies the transfer in log output.
	Name string

	// Total is the expected size in bytes.
	Total int64

	// Initial is the number of bytes already present before streaming started.
	Initial int64

	// Interval is how often progress is logged.
	// Default: 20s
	Interval time.Duration

	Logger logger.Logger
}

// Snapshot is the computed state of a transfer at one instant.
type Snapshot struct {
	Copied  int64
	Total   int64
	Percent float64
	Speed   float64 // bytes per second since start
	ETA     time.Duration
	Elapsed time.Duration
}

// Reporter logs progress from its own goroutine without blocking the copy loop.
type Reporter struct {
	opts Options
	log  logger.Logger

	copied    atomic.Int64
	startTime time.Time

	mu      sync.Mutex
	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
	stopped bool
}

// NewReporter creates a new progress reporter.
func NewReporter(opts Options) *Reporter {
	if opts.Interval <= 0 {
		opts.Interval = 20 * time.Second
	}
	r := &Reporter{
		opts:   opts,
		log:    logger.OrGlobal(opts.Logger),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	r.copied.Store(opts.Initial)
	return r
}

// Start begins logging progress.
func (r *Reporter) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started || r.stopped {
		return
	}
	r.started = true
	r.startTime = time.Now()
	go r.updateLoop()
}

// Add records n more bytes written.
func (r *Reporter) Add(n int64) {
	r.copied.Add(n)
}

// Stop stops the reporter and waits for its goroutine to exit.
func (r *Reporter) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		<-r.doneCh
		return
	}
	r.stopped = true
	started := r.started
	r.mu.Unlock()

	close(r.stopCh)
	if !started {
		close(r.doneCh)
	}
	<-r.doneCh
}

// Snapshot computes the current progress.
func (r *Reporter) Snapshot() Snapshot {
	return Compute(r.copied.Load()-r.opts.Initial, r.copied.Load(), r.opts.Total, time.Since(r.startTime))
}

func (r *Reporter) updateLoop() {
	defer close(r.doneCh)
	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			s := r.Snapshot()
			r.log.Info("Download progress",
				logger.String("name", r.opts.Name),
				logger.String("copied", utils.FormatSize(s.Copied)),
				logger.String("total", utils.FormatSize(s.Total)),
				logger.Float64("percent", s.Percent),
				logger.String("speed", utils.FormatSpeed(s.Speed)),
				logger.String("eta", utils.FormatDuration(s.ETA)),
			)
		}
	}
}

// Compute derives throughput and remaining time. sinceStart is the number of
// bytes transferred in this run, copied the total bytes on disk.
func Compute(sinceStart, copied, total int64, elapsed time.Duration) Snapshot {
	s := Snapshot{Copied: copied, Total: total, Elapsed: elapsed}
	if total > 0 {
		s.Percent = float64(copied) / float64(total) * 100
	}
	if secs := elapsed.Seconds(); secs > 0 && sinceStart > 0 {
		s.Speed = float64(sinceStart) / secs
	}
	if s.Speed > 0 && total > copied {
		s.ETA = time.Duration(float64(total-copied) / s.Speed * float64(time.Second))
	}
	return s
}
