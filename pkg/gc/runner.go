package gc

import (
	"context"
	"sync"
	"time"

	"github.com/chroma-core/spannsegment/pkg/log"
	"github.com/chroma-core/spannsegment/pkg/spann"
	"github.com/rs/zerolog"
)

// Runner drives a Writer's GarbageCollect on a fixed interval, mirroring
// the teacher's reconciler: a background goroutine selecting between a
// ticker and a stop channel, logging (not failing) a cycle's error so
// the loop keeps running.
type Runner struct {
	writer   *spann.Writer
	interval time.Duration
	logger   zerolog.Logger
	mu       sync.RWMutex
	stopCh   chan struct{}
}

// NewRunner constructs a Runner for writer, firing every interval.
func NewRunner(writer *spann.Writer, interval time.Duration) *Runner {
	return &Runner{
		writer:   writer,
		interval: interval,
		logger:   log.WithComponent("spann-gc"),
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic GC loop in a background goroutine.
func (r *Runner) Start(ctx context.Context) {
	go r.run(ctx)
}

// Stop ends the periodic GC loop. It is safe to call at most once.
func (r *Runner) Stop() {
	close(r.stopCh)
}

func (r *Runner) run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info().Dur("interval", r.interval).Msg("garbage collector started")

	for {
		select {
		case <-ticker.C:
			if err := r.cycle(ctx); err != nil {
				r.logger.Error().Err(err).Msg("garbage collection cycle failed")
			}
		case <-ctx.Done():
			r.logger.Info().Msg("garbage collector stopped: context canceled")
			return
		case <-r.stopCh:
			r.logger.Info().Msg("garbage collector stopped")
			return
		}
	}
}

// cycle runs a single GarbageCollect pass, serialized against any other
// concurrent caller of Runner.RunOnce. Writer.GarbageCollect records its
// own duration and cycle-count metrics; the runner only logs failures.
func (r *Runner) cycle(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.writer.GarbageCollect(ctx)
}

// RunOnce triggers a single GC cycle synchronously, outside the ticker
// schedule.
func (r *Runner) RunOnce(ctx context.Context) error {
	return r.cycle(ctx)
}
