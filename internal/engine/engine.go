package engine

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"podforge/internal/blob"
	"podforge/internal/config"
	"podforge/internal/jobstore"
	"podforge/internal/logging"
	"podforge/internal/synth"
)

// Engine coordinates chunk processing for podcast jobs.
type Engine struct {
	cfg    *config.Config
	store  *jobstore.Store
	blobs  blob.Store
	synth  *synth.Synthesizer
	logger *slog.Logger

	sleep  func(context.Context, time.Duration) error
	jitter func(min, max time.Duration) time.Duration

	mu    sync.Mutex
	locks map[chunkKey]*chunkLock
}

type chunkKey struct {
	jobID string
	index int
}

type chunkLock struct {
	busy bool
}

// Option configures optional Engine behavior.
type Option func(*Engine)

// WithSleeper replaces the retry pacing sleeper, used by tests.
func WithSleeper(sleep func(context.Context, time.Duration) error) Option {
	return func(e *Engine) {
		if sleep != nil {
			e.sleep = sleep
		}
	}
}

// WithJitter replaces the randomized delay source, used by tests.
func WithJitter(jitter func(min, max time.Duration) time.Duration) Option {
	return func(e *Engine) {
		if jitter != nil {
			e.jitter = jitter
		}
	}
}

// New constructs an engine over the given store, blob store, and synthesizer.
func New(cfg *config.Config, store *jobstore.Store, blobs blob.Store, synthesizer *synth.Synthesizer, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = logging.NewNop()
	}
	engine := &Engine{
		cfg:    cfg,
		store:  store,
		blobs:  blobs,
		synth:  synthesizer,
		logger: logging.WithComponent(logger, "engine"),
		sleep: func(ctx context.Context, d time.Duration) error {
			if d <= 0 {
				return nil
			}
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
				return nil
			}
		},
		jitter: func(min, max time.Duration) time.Duration {
			if max <= min {
				return min
			}
			return min + time.Duration(rand.Int63n(int64(max-min)))
		},
		locks: make(map[chunkKey]*chunkLock),
	}
	for _, opt := range opts {
		opt(engine)
	}
	return engine
}

// tryLockChunk claims the in-process lock for one chunk. It returns false
// when another goroutine is already working on the same chunk, which callers
// treat as a no-op rather than an error.
func (e *Engine) tryLockChunk(jobID string, index int) bool {
	key := chunkKey{jobID: jobID, index: index}
	e.mu.Lock()
	defer e.mu.Unlock()
	lock := e.locks[key]
	if lock == nil {
		lock = &chunkLock{}
		e.locks[key] = lock
	}
	if lock.busy {
		return false
	}
	lock.busy = true
	return true
}

func (e *Engine) unlockChunk(jobID string, index int) {
	key := chunkKey{jobID: jobID, index: index}
	e.mu.Lock()
	defer e.mu.Unlock()
	if lock := e.locks[key]; lock != nil {
		lock.busy = false
	}
	delete(e.locks, key)
}

func (e *Engine) dispatchDelay() time.Duration {
	min := time.Duration(e.cfg.Engine.DispatchDelayMinMS) * time.Millisecond
	max := time.Duration(e.cfg.Engine.DispatchDelayMaxMS) * time.Millisecond
	return e.jitter(min, max)
}
