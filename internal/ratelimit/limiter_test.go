package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestTryAcquireConsumesTokens(t *testing.T) {
	limiter := New(10)
	for i := 0; i < 10; i++ {
		if !limiter.TryAcquire(1) {
			t.Fatalf("acquire %d should succeed on a full bucket", i)
		}
	}
	if limiter.TryAcquire(1) {
		t.Fatal("bucket should be empty after consuming the full budget")
	}
}

func TestTryAcquireHonorsCost(t *testing.T) {
	limiter := New(3)
	if !limiter.TryAcquire(2) {
		t.Fatal("cost-2 acquire should succeed with 3 tokens")
	}
	if limiter.TryAcquire(2) {
		t.Fatal("second cost-2 acquire should fail with 1 token left")
	}
	if !limiter.TryAcquire(1) {
		t.Fatal("cost-1 acquire should drain the final token")
	}
}

func TestAcquireClampsCostToCapacity(t *testing.T) {
	limiter := New(1)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := limiter.Acquire(ctx, 2); err != nil {
		t.Fatalf("cost above capacity should be clamped, got %v", err)
	}
	if limiter.TryAcquire(1) {
		t.Fatal("bucket should be empty after the clamped acquire")
	}
}

func TestRefillRestoresTokens(t *testing.T) {
	current := time.Now()
	limiter := New(60) // one token per second
	limiter.now = func() time.Time { return current }

	for i := 0; i < 60; i++ {
		if !limiter.TryAcquire(1) {
			t.Fatalf("initial acquire %d failed", i)
		}
	}
	if limiter.TryAcquire(1) {
		t.Fatal("bucket should be empty")
	}

	current = current.Add(2 * time.Second)
	if !limiter.TryAcquire(1) {
		t.Fatal("expected a token after simulated refill window")
	}
}

func TestDrainEmptiesBucket(t *testing.T) {
	limiter := New(100)
	limiter.Drain()
	if limiter.TryAcquire(1) {
		t.Fatal("acquire should fail immediately after Drain")
	}
	if limiter.Status().LastDrain.IsZero() {
		t.Fatal("Status should record drain time")
	}
}

func TestAcquireRespectsContext(t *testing.T) {
	limiter := New(60)
	limiter.Drain()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := limiter.Acquire(ctx, 2)
	if err == nil {
		t.Fatal("expected context deadline error while bucket is drained")
	}
}

func TestAcquireSucceedsWhenTokensAvailable(t *testing.T) {
	limiter := New(60)
	ctx := context.Background()
	if err := limiter.Acquire(ctx, 1); err != nil {
		t.Fatalf("Acquire on full bucket: %v", err)
	}
	status := limiter.Status()
	if status.TotalConsumed != 1 {
		t.Fatalf("TotalConsumed = %d, want 1", status.TotalConsumed)
	}
}
