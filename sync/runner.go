package sync

import (
	"context"
	"fmt"
	"sync"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// Runner executes SyncAll on a fixed interval. Stop drains the current
// pass before returning so deploys can shut down cleanly.
type Runner struct {
	engine   *Engine
	interval time.Duration
	logger   glog.Logger

	mu      sync.Mutex
	stop    chan struct{}
	stopped chan struct{}
}

func NewRunner(engine *Engine, interval time.Duration, logger glog.Logger) (*Runner, error) {
	if engine == nil {
		return nil, fmt.Errorf("sync: engine is required")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("sync: interval must be positive")
	}
	return &Runner{
		engine:   engine,
		interval: interval,
		logger:   glog.Ensure(logger),
	}, nil
}

// Start launches the periodic loop. Calling Start on a running runner is a
// no-op.
func (r *Runner) Start(ctx context.Context) {
	if r == nil {
		return
	}
	r.mu.Lock()
	if r.stop != nil {
		r.mu.Unlock()
		return
	}
	r.stop = make(chan struct{})
	r.stopped = make(chan struct{})
	stop, stopped := r.stop, r.stopped
	r.mu.Unlock()

	go r.loop(ctx, stop, stopped)
}

func (r *Runner) loop(ctx context.Context, stop <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if err := r.engine.SyncAll(ctx); err != nil {
				r.logger.Warn("periodic sync pass finished with errors", "error", err)
			}
		}
	}
}

// Stop signals the loop and waits for the in-flight pass to finish.
func (r *Runner) Stop() {
	if r == nil {
		return
	}
	r.mu.Lock()
	stop, stopped := r.stop, r.stopped
	r.stop = nil
	r.stopped = nil
	r.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-stopped
}
