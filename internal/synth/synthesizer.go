package synth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"podforge/internal/logging"
	"podforge/internal/ratelimit"
	"podforge/internal/script"
	"podforge/internal/services"
)

const (
	// maxCallChars is the secondary ceiling for a single provider call.
	// Sanitized text above it is split and synthesized as sub-calls.
	maxCallChars = 2000

	// longCallChars marks texts that consume two limiter tokens.
	longCallChars = 1000

	defaultMaxAttempts = 3
	defaultBaseDelay   = time.Second
	defaultMaxDelay    = 10 * time.Second

	rateLimitCooldownMin = 5 * time.Second
	rateLimitCooldownMax = 15 * time.Second
)

// Provider performs one raw text-to-speech call.
type Provider interface {
	Synthesize(ctx context.Context, text, voice string) ([]byte, error)
}

// SegmentError reports that a segment exhausted all synthesis retries.
type SegmentError struct {
	SegmentIndex int
	Attempts     int
	Err          error
}

func (e *SegmentError) Error() string {
	return fmt.Sprintf("segment %d: synthesis failed after %d attempts: %v", e.SegmentIndex, e.Attempts, e.Err)
}

func (e *SegmentError) Unwrap() error { return e.Err }

// Synthesizer drives segments through the provider with retries.
type Synthesizer struct {
	provider Provider
	limiter  *ratelimit.Limiter
	logger   *slog.Logger

	callTimeout time.Duration
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration

	sleep  func(context.Context, time.Duration) error
	jitter func(time.Duration) time.Duration
}

// Option customizes the synthesizer.
type Option func(*Synthesizer)

// WithCallTimeout overrides the per-call timeout (default 60s).
func WithCallTimeout(timeout time.Duration) Option {
	return func(s *Synthesizer) {
		if timeout > 0 {
			s.callTimeout = timeout
		}
	}
}

// WithMaxAttempts overrides the retry count per call unit.
func WithMaxAttempts(attempts int) Option {
	return func(s *Synthesizer) {
		if attempts > 0 {
			s.maxAttempts = attempts
		}
	}
}

// WithBackoff overrides the retry backoff delays.
func WithBackoff(base, max time.Duration) Option {
	return func(s *Synthesizer) {
		s.baseDelay = base
		s.maxDelay = max
	}
}

// WithSleeper overrides how retry sleeps are performed (useful for tests).
func WithSleeper(sleep func(context.Context, time.Duration) error) Option {
	return func(s *Synthesizer) {
		if sleep != nil {
			s.sleep = sleep
		}
	}
}

// New constructs a synthesizer bound to a provider and the process-wide
// rate limiter.
func New(provider Provider, limiter *ratelimit.Limiter, logger *slog.Logger, opts ...Option) *Synthesizer {
	s := &Synthesizer{
		provider:    provider,
		limiter:     limiter,
		logger:      logging.WithComponent(logger, "synth"),
		callTimeout: 60 * time.Second,
		maxAttempts: defaultMaxAttempts,
		baseDelay:   defaultBaseDelay,
		maxDelay:    defaultMaxDelay,
		sleep:       sleepContext,
		jitter: func(d time.Duration) time.Duration {
			if d <= 0 {
				return 0
			}
			return time.Duration(rand.Int63n(int64(d)))
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SynthesizeSegment sanitizes the segment text, splits it when it exceeds
// the per-call ceiling, synthesizes each part in order, and concatenates
// the resulting audio. Exhausted retries surface as a SegmentError
// carrying the original cause.
func (s *Synthesizer) SynthesizeSegment(ctx context.Context, segment script.Segment) ([]byte, error) {
	text := script.Sanitize(segment.Text)
	if text == "" {
		return nil, services.Wrap(services.ErrValidation, "synth", "synthesize", "segment text empty after sanitization", nil)
	}

	var audio []byte
	for partIndex, part := range script.SplitForSynthesis(text, maxCallChars) {
		buf, err := s.synthesizeWithRetry(ctx, part, segment.Voice, segment.Index, partIndex)
		if err != nil {
			return nil, &SegmentError{SegmentIndex: segment.Index, Attempts: s.maxAttempts, Err: err}
		}
		audio = append(audio, buf...)
	}
	return audio, nil
}

func (s *Synthesizer) synthesizeWithRetry(ctx context.Context, text, voice string, segmentIndex, partIndex int) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if s.limiter != nil {
			if err := s.limiter.Acquire(ctx, tokenCost(text)); err != nil {
				return nil, err
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
		audio, err := s.provider.Synthesize(callCtx, text, voice)
		cancel()
		if err == nil {
			return audio, nil
		}
		lastErr = err

		if !services.IsRetryable(err) {
			return nil, err
		}

		s.logger.Warn("synthesis attempt failed",
			logging.Error(err),
			logging.Int(logging.FieldSegmentIndex, segmentIndex),
			logging.Int("part_index", partIndex),
			logging.Int(logging.FieldAttempt, attempt),
			logging.String(logging.FieldEventType, "synthesis_retry"),
		)

		if attempt == s.maxAttempts {
			break
		}
		if err := s.sleep(ctx, s.retryDelay(err, attempt)); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

// retryDelay computes the backoff before the next attempt. Rate-limit
// errors force a longer cooldown and drain the limiter so concurrent
// callers slow down too.
func (s *Synthesizer) retryDelay(err error, attempt int) time.Duration {
	if errors.Is(err, services.ErrRateLimited) {
		if s.limiter != nil {
			s.limiter.Drain()
		}
		return rateLimitCooldownMin + s.jitter(rateLimitCooldownMax-rateLimitCooldownMin)
	}

	delay := s.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= s.maxDelay {
			delay = s.maxDelay
			break
		}
	}
	return delay + s.jitter(delay/2)
}

// tokenCost charges long texts two limiter tokens, short ones a single.
func tokenCost(text string) int {
	if len(text) > longCallChars {
		return 2
	}
	return 1
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
