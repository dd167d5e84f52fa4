package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Job is one bounded unit of background work. The context carries the
// run deadline; jobs must stop claiming new work as it nears.
type Job func(ctx context.Context) error

// Runner invokes a Job on a fixed interval, standing in for an external
// scheduler. Each run takes the cross-replica mutex first and carries
// an explicit deadline so partial progress stays safe and resumable.
type Runner struct {
	name       string
	interval   time.Duration
	runTimeout time.Duration
	mutex      *Mutex
	job        Job
	logger     *zap.Logger

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewRunner constructs a runner.
func NewRunner(name string, interval, runTimeout time.Duration, mutex *Mutex, job Job, logger *zap.Logger) *Runner {
	return &Runner{
		name:       name,
		interval:   interval,
		runTimeout: runTimeout,
		mutex:      mutex,
		job:        job,
		logger:     logger,
		stopChan:   make(chan struct{}),
	}
}

// Start launches the loop. The first run happens immediately.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.mu.Unlock()

	r.wg.Add(1)
	go r.run(ctx)
	r.logger.Info("worker started",
		zap.String("worker", r.name),
		zap.Duration("interval", r.interval))
}

// Stop halts the loop and waits for an in-flight run to finish.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	close(r.stopChan)
	r.wg.Wait()
	r.logger.Info("worker stopped", zap.String("worker", r.name))
}

func (r *Runner) run(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopChan:
			return
		case <-ticker.C:
			r.runOnce(ctx)
		}
	}
}

func (r *Runner) runOnce(ctx context.Context) {
	// lock TTL outlives the run deadline so a crashed holder expires
	locked, err := r.mutex.TryLock(ctx, r.runTimeout+10*time.Second)
	if err != nil {
		r.logger.Warn("worker lock unavailable, skipping run",
			zap.String("worker", r.name), zap.Error(err))
		return
	}
	if !locked {
		return
	}
	defer func() {
		if err := r.mutex.Unlock(context.WithoutCancel(ctx)); err != nil {
			r.logger.Warn("worker unlock failed",
				zap.String("worker", r.name), zap.Error(err))
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, r.runTimeout)
	defer cancel()
	if err := r.job(runCtx); err != nil {
		r.logger.Error("worker run failed",
			zap.String("worker", r.name), zap.Error(err))
	}
}
