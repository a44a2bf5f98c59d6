package synth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"podforge/internal/ratelimit"
	"podforge/internal/script"
	"podforge/internal/services"
)

type fakeProvider struct {
	calls    []string
	failures int
	err      error
}

func (p *fakeProvider) Synthesize(_ context.Context, text, voice string) ([]byte, error) {
	p.calls = append(p.calls, text)
	if len(p.calls) <= p.failures {
		if p.err != nil {
			return nil, p.err
		}
		return nil, services.Wrap(services.ErrTransient, "synth", "synthesize", "boom", nil)
	}
	return []byte("audio:" + voice + ":" + text[:min(8, len(text))] + ";"), nil
}

func noSleep(context.Context, time.Duration) error { return nil }

func newTestSynthesizer(p Provider, limiter *ratelimit.Limiter) *Synthesizer {
	s := New(p, limiter, nil, WithSleeper(noSleep))
	s.jitter = func(time.Duration) time.Duration { return 0 }
	return s
}

func TestSynthesizeSegmentSucceedsOnThirdAttempt(t *testing.T) {
	provider := &fakeProvider{failures: 2}
	s := newTestSynthesizer(provider, ratelimit.New(1000))

	audio, err := s.SynthesizeSegment(context.Background(), script.Segment{
		Index: 0,
		Text:  "Hello world.",
		Voice: "alloy",
	})
	if err != nil {
		t.Fatalf("SynthesizeSegment: %v", err)
	}
	if len(provider.calls) != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", len(provider.calls))
	}
	if count := strings.Count(string(audio), "audio:"); count != 1 {
		t.Fatalf("expected a single audio buffer, found %d", count)
	}
}

func TestSynthesizeSegmentExhaustedRetries(t *testing.T) {
	provider := &fakeProvider{failures: 100}
	s := newTestSynthesizer(provider, ratelimit.New(1000))

	_, err := s.SynthesizeSegment(context.Background(), script.Segment{Index: 4, Text: "Some text."})
	if err == nil {
		t.Fatal("expected failure after exhausted retries")
	}
	var segErr *SegmentError
	if !errors.As(err, &segErr) {
		t.Fatalf("expected SegmentError, got %T: %v", err, err)
	}
	if segErr.SegmentIndex != 4 {
		t.Fatalf("SegmentIndex = %d, want 4", segErr.SegmentIndex)
	}
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected original cause preserved, got %v", err)
	}
	if len(provider.calls) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(provider.calls))
	}
}

func TestSynthesizeSegmentNonRetryableError(t *testing.T) {
	provider := &fakeProvider{
		failures: 100,
		err:      services.Wrap(services.ErrValidation, "synth", "synthesize", "rejected input", nil),
	}
	s := newTestSynthesizer(provider, ratelimit.New(1000))

	_, err := s.SynthesizeSegment(context.Background(), script.Segment{Text: "Bad input."})
	if err == nil {
		t.Fatal("expected error")
	}
	if len(provider.calls) != 1 {
		t.Fatalf("validation errors must not be retried, got %d attempts", len(provider.calls))
	}
}

func TestSynthesizeSegmentSplitsLongText(t *testing.T) {
	provider := &fakeProvider{}
	s := newTestSynthesizer(provider, ratelimit.New(1000))

	long := strings.TrimSpace(strings.Repeat("A sentence that fills space nicely. ", 150))
	audio, err := s.SynthesizeSegment(context.Background(), script.Segment{Text: long, Voice: "onyx"})
	if err != nil {
		t.Fatalf("SynthesizeSegment: %v", err)
	}
	if len(provider.calls) < 2 {
		t.Fatalf("expected sub-calls for overlong text, got %d", len(provider.calls))
	}
	for i, call := range provider.calls {
		if len(call) > 2000 {
			t.Fatalf("call %d exceeds per-call ceiling: %d", i, len(call))
		}
	}
	if count := strings.Count(string(audio), "audio:"); count != len(provider.calls) {
		t.Fatalf("expected %d buffers concatenated in order, found %d", len(provider.calls), count)
	}
}

func TestSynthesizeSegmentEmptyAfterSanitization(t *testing.T) {
	provider := &fakeProvider{}
	s := newTestSynthesizer(provider, ratelimit.New(1000))

	_, err := s.SynthesizeSegment(context.Background(), script.Segment{Text: "​\x00"})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(provider.calls) != 0 {
		t.Fatal("provider should not be called for empty text")
	}
}

func TestRateLimitErrorDrainsLimiter(t *testing.T) {
	limiter := ratelimit.New(1000)
	provider := &fakeProvider{
		failures: 1,
		err:      services.Wrap(services.ErrRateLimited, "synth", "synthesize", "429", nil),
	}
	s := newTestSynthesizer(provider, limiter)

	if _, err := s.SynthesizeSegment(context.Background(), script.Segment{Text: "Some text."}); err != nil {
		t.Fatalf("SynthesizeSegment: %v", err)
	}
	if limiter.Status().LastDrain.IsZero() {
		t.Fatal("rate-limit error should drain the limiter")
	}
}

func TestRetryDelayGrowsAndCaps(t *testing.T) {
	s := newTestSynthesizer(&fakeProvider{}, nil)
	transient := services.ErrTransient

	d1 := s.retryDelay(transient, 1)
	d2 := s.retryDelay(transient, 2)
	d5 := s.retryDelay(transient, 5)
	if d2 <= d1 {
		t.Fatalf("delay should grow: %v then %v", d1, d2)
	}
	if d5 > defaultMaxDelay {
		t.Fatalf("delay %v exceeds cap %v", d5, defaultMaxDelay)
	}
}
