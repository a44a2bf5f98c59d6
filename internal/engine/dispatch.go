package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"podforge/internal/config"
	"podforge/internal/jobstore"
	"podforge/internal/logging"
)

// Dispatcher drives the engine in the background, polling for jobs with
// dispatchable chunks and reclaiming work orphaned by crashes.
type Dispatcher struct {
	engine *Engine
	store  *jobstore.Store
	logger *slog.Logger

	pollInterval       time.Duration
	errorRetryInterval time.Duration
	staleCutoffAge     time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewDispatcher constructs a dispatcher over the given engine.
func NewDispatcher(cfg *config.Config, engine *Engine, store *jobstore.Store, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Dispatcher{
		engine:             engine,
		store:              store,
		logger:             logging.WithComponent(logger, "dispatcher"),
		pollInterval:       time.Duration(cfg.Engine.PollInterval) * time.Second,
		errorRetryInterval: time.Duration(cfg.Engine.ErrorRetryInterval) * time.Second,
		staleCutoffAge:     time.Duration(cfg.Engine.StaleChunkMinutes) * time.Minute,
	}
}

// Start begins background processing.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return errors.New("dispatcher already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.running = true
	d.wg.Add(1)
	d.mu.Unlock()

	go d.run(runCtx)
	return nil
}

// Stop terminates background processing and waits for completion.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	cancel := d.cancel
	d.running = false
	d.cancel = nil
	d.mu.Unlock()

	cancel()
	d.wg.Wait()
}

func (d *Dispatcher) run(ctx context.Context) {
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		d.reclaimStale(ctx)

		worked, err := d.dispatchOnce(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			d.logger.Error("dispatch pass failed",
				logging.Error(err),
				logging.String(logging.FieldEventType, "dispatch_failed"),
				logging.String(logging.FieldErrorHint, "check job database and blob store access"),
			)
			d.waitOrShutdown(ctx, d.errorRetryInterval)
			continue
		}
		if !worked {
			d.waitOrShutdown(ctx, d.pollInterval)
		}
	}
}

// dispatchOnce scans active jobs and performs at most one action. It reports
// whether it did anything so the caller knows when to idle.
func (d *Dispatcher) dispatchOnce(ctx context.Context) (bool, error) {
	jobs, err := d.store.ListJobs(ctx, jobstore.StatusPending, jobstore.StatusProcessing)
	if err != nil {
		return false, err
	}

	for _, job := range jobs {
		action, err := d.engine.NextAction(ctx, job.ID, -1)
		if err != nil {
			return false, err
		}
		switch action.Kind {
		case ActionProcessChunk:
			logger := d.logger.With(logging.String(logging.FieldRequestID, uuid.NewString()))
			if action.Delay > 0 {
				if err := d.engine.sleep(ctx, action.Delay); err != nil {
					return false, err
				}
			}
			logger.Debug("dispatching chunk",
				logging.String(logging.FieldJobID, action.JobID),
				logging.Int(logging.FieldChunkIndex, action.ChunkIndex),
				logging.Duration("dispatch_delay", action.Delay),
			)
			if _, err := d.engine.ProcessChunk(ctx, action.JobID, action.ChunkIndex); err != nil {
				return false, err
			}
			return true, nil
		case ActionReconcile:
			if _, err := d.engine.Reconcile(ctx, action.JobID); err != nil {
				return false, err
			}
			return true, nil
		case ActionWait, ActionNone:
			continue
		}
	}
	return false, nil
}

func (d *Dispatcher) reclaimStale(ctx context.Context) {
	cutoff := time.Now().Add(-d.staleCutoffAge)
	reclaimed, err := d.store.ReclaimStaleProcessing(ctx, cutoff)
	if err != nil {
		d.logger.Warn("reclaim stale processing failed, stuck chunks may remain",
			logging.Error(err),
			logging.String(logging.FieldEventType, "reclaim_failed"),
			logging.String(logging.FieldErrorHint, "check job database access"),
		)
		return
	}
	if reclaimed > 0 {
		d.logger.Info("reclaimed stale chunks",
			logging.Int64("reclaimed", reclaimed),
			logging.String(logging.FieldEventType, "chunks_reclaimed"),
		)
	}
}

func (d *Dispatcher) waitOrShutdown(ctx context.Context, delay time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(delay):
	}
}
