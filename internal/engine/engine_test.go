package engine_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"podforge/internal/blob"
	"podforge/internal/config"
	"podforge/internal/engine"
	"podforge/internal/jobstore"
	"podforge/internal/logging"
	"podforge/internal/ratelimit"
	"podforge/internal/services"
	"podforge/internal/synth"
	"podforge/internal/testsupport"
)

// fakeProvider returns canned audio and fails requests whose text contains
// a configured trigger.
type fakeProvider struct {
	mu       sync.Mutex
	calls    int
	failOn   string
	failWith error
}

func (p *fakeProvider) Synthesize(_ context.Context, text, voice string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.failOn != "" && strings.Contains(text, p.failOn) {
		return nil, p.failWith
	}
	return []byte("audio:" + voice + ":" + text + ";"), nil
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func noSleep(context.Context, time.Duration) error { return nil }

type testRig struct {
	cfg      *config.Config
	store    *jobstore.Store
	blobs    blob.Store
	engine   *engine.Engine
	provider *fakeProvider
}

func newTestRig(t *testing.T, provider *fakeProvider) *testRig {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	blobs, err := blob.NewFSStore(cfg.Paths.AudioDir)
	if err != nil {
		t.Fatalf("blob.NewFSStore: %v", err)
	}
	synthesizer := synth.New(provider, ratelimit.New(cfg.Synthesis.RequestsPerMinute), logging.NewNop(),
		synth.WithSleeper(noSleep),
	)
	eng := engine.New(cfg, store, blobs, synthesizer, logging.NewNop(),
		engine.WithSleeper(noSleep),
		engine.WithJitter(func(min, _ time.Duration) time.Duration { return min }),
	)
	return &testRig{cfg: cfg, store: store, blobs: blobs, engine: eng, provider: provider}
}

// newProcessingJob seeds a job with explicit chunk texts, already moved to
// processing as StartJob would leave it.
func (r *testRig) newProcessingJob(t *testing.T, texts ...string) *jobstore.Job {
	t.Helper()

	job := testsupport.NewJob(t, r.store, "test job", texts...)
	if err := r.store.SetJobStatus(context.Background(), job.ID, jobstore.StatusProcessing, ""); err != nil {
		t.Fatalf("SetJobStatus: %v", err)
	}
	return job
}

func TestStartJobSplitsScript(t *testing.T) {
	rig := newTestRig(t, &fakeProvider{})
	rig.cfg.Chunking.HardLimitChars = 80
	rig.cfg.Chunking.TargetChars = 60

	script := strings.Repeat("SPEAKER_A: This line has some words in it.\n", 10)
	job, err := rig.engine.StartJob(context.Background(), "Split Test", script, 5)
	if err != nil {
		t.Fatalf("StartJob failed: %v", err)
	}
	if job.TotalChunks < 2 {
		t.Fatalf("expected script to split into multiple chunks, got %d", job.TotalChunks)
	}
	if job.Status != jobstore.StatusProcessing {
		t.Fatalf("expected processing job, got %s", job.Status)
	}

	chunks, err := rig.store.ListChunks(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("ListChunks failed: %v", err)
	}
	if len(chunks) != job.TotalChunks {
		t.Fatalf("chunk rows %d do not match total %d", len(chunks), job.TotalChunks)
	}
}

func TestStartJobRejectsEmptyScript(t *testing.T) {
	rig := newTestRig(t, &fakeProvider{})

	if _, err := rig.engine.StartJob(context.Background(), "Empty", "   \n", 0); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestProcessChunkCompletesJob(t *testing.T) {
	rig := newTestRig(t, &fakeProvider{})
	ctx := context.Background()
	job := rig.newProcessingJob(t, "SPEAKER_A: Hello there.\nSPEAKER_B: Hi yourself.")

	action, err := rig.engine.ProcessChunk(ctx, job.ID, 0)
	if err != nil {
		t.Fatalf("ProcessChunk failed: %v", err)
	}
	if action.Kind != engine.ActionNone {
		t.Fatalf("expected no further action, got %s", action.Kind)
	}

	fetched, err := rig.store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if fetched.Status != jobstore.StatusCompleted || fetched.CompletedChunks != 1 {
		t.Fatalf("job not completed: %#v", fetched)
	}
	if fetched.AudioKey == "" {
		t.Fatal("expected assembled episode key on job")
	}

	episode, err := rig.blobs.Get(ctx, fetched.AudioKey)
	if err != nil {
		t.Fatalf("episode missing from blob store: %v", err)
	}
	if len(episode) == 0 {
		t.Fatal("episode is empty")
	}

	chunkAudio, err := rig.blobs.Get(ctx, fmt.Sprintf("jobs/%s/chunk_000.mp3", job.ID))
	if err != nil {
		t.Fatalf("chunk audio missing: %v", err)
	}
	// Both speakers appear in order, each with their own voice.
	text := string(chunkAudio)
	aPos := strings.Index(text, rig.cfg.Synthesis.VoiceA)
	bPos := strings.Index(text, rig.cfg.Synthesis.VoiceB)
	if aPos < 0 || bPos < 0 || aPos > bPos {
		t.Fatalf("unexpected voice layout in audio: %q", text)
	}
}

func TestProcessChunkIdempotent(t *testing.T) {
	provider := &fakeProvider{}
	rig := newTestRig(t, provider)
	ctx := context.Background()
	job := rig.newProcessingJob(t, "SPEAKER_A: Only chunk.")

	if _, err := rig.engine.ProcessChunk(ctx, job.ID, 0); err != nil {
		t.Fatalf("first ProcessChunk failed: %v", err)
	}
	callsAfterFirst := provider.callCount()

	if _, err := rig.engine.ProcessChunk(ctx, job.ID, 0); err != nil {
		t.Fatalf("second ProcessChunk failed: %v", err)
	}
	if provider.callCount() != callsAfterFirst {
		t.Fatal("replay should not synthesize again")
	}

	fetched, err := rig.store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if fetched.CompletedChunks != 1 {
		t.Fatalf("counter moved on replay: %d", fetched.CompletedChunks)
	}
}

func TestProcessChunkWithDriftedCounterReconciles(t *testing.T) {
	rig := newTestRig(t, &fakeProvider{})
	ctx := context.Background()
	job := rig.newProcessingJob(t, "SPEAKER_A: First part.", "SPEAKER_B: Second part.")

	if _, err := rig.engine.ProcessChunk(ctx, job.ID, 0); err != nil {
		t.Fatalf("ProcessChunk(0) failed: %v", err)
	}
	// Force the counter to total while chunk 1 is still pending.
	if err := rig.store.ForceJobCounters(ctx, job.ID, job.TotalChunks, jobstore.StatusProcessing, ""); err != nil {
		t.Fatalf("ForceJobCounters: %v", err)
	}

	action, err := rig.engine.ProcessChunk(ctx, job.ID, 1)
	if err != nil {
		t.Fatalf("ProcessChunk(1) failed: %v", err)
	}
	if action.Kind != engine.ActionReconcile {
		t.Fatalf("expected reconcile action, got %s", action.Kind)
	}

	fetched, err := rig.store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if fetched.CompletedChunks > fetched.TotalChunks {
		t.Fatalf("completed_chunks %d exceeds total_chunks %d", fetched.CompletedChunks, fetched.TotalChunks)
	}

	report, err := rig.engine.Reconcile(ctx, job.ID)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if report.StatusAfter != jobstore.StatusCompleted || report.CompletedAfter != job.TotalChunks {
		t.Fatalf("reconciliation did not settle the job: %#v", report)
	}
}

func TestFailedChunkDoesNotBlockOthers(t *testing.T) {
	provider := &fakeProvider{
		failOn:   "unpronounceable",
		failWith: services.Wrap(services.ErrValidation, "synth", "synthesize", "rejected input", nil),
	}
	rig := newTestRig(t, provider)
	ctx := context.Background()
	job := rig.newProcessingJob(t,
		"SPEAKER_A: First chunk is fine.",
		"SPEAKER_A: This chunk is unpronounceable.",
		"SPEAKER_A: Third chunk is fine too.",
	)

	for index := 0; index < 3; index++ {
		if _, err := rig.engine.ProcessChunk(ctx, job.ID, index); err != nil {
			t.Fatalf("ProcessChunk(%d) failed: %v", index, err)
		}
	}

	action, err := rig.engine.NextAction(ctx, job.ID, -1)
	if err != nil {
		t.Fatalf("NextAction failed: %v", err)
	}
	if action.Kind != engine.ActionReconcile {
		t.Fatalf("expected reconcile once all chunks are terminal, got %s", action.Kind)
	}

	report, err := rig.engine.Reconcile(ctx, job.ID)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if report.StatusAfter != jobstore.StatusError {
		t.Fatalf("expected error status, got %s", report.StatusAfter)
	}
	if report.Message != "1 of 3 chunks failed" {
		t.Fatalf("unexpected failure summary: %q", report.Message)
	}

	fetched, err := rig.store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if fetched.CompletedChunks != 2 || fetched.Status != jobstore.StatusError {
		t.Fatalf("unexpected job after failure: %#v", fetched)
	}
}

func TestRetryableChunkFailureReturnsToPending(t *testing.T) {
	provider := &fakeProvider{
		failOn:   "flaky",
		failWith: services.Wrap(services.ErrTransient, "synth", "synthesize", "upstream hiccup", nil),
	}
	rig := newTestRig(t, provider)
	ctx := context.Background()
	job := rig.newProcessingJob(t, "SPEAKER_A: flaky text.")

	action, err := rig.engine.ProcessChunk(ctx, job.ID, 0)
	if err != nil {
		t.Fatalf("ProcessChunk failed: %v", err)
	}

	chunk, err := rig.store.GetChunk(ctx, job.ID, 0)
	if err != nil {
		t.Fatalf("GetChunk failed: %v", err)
	}
	if chunk.Status != jobstore.StatusPending {
		t.Fatalf("expected pending for retryable failure, got %s", chunk.Status)
	}
	if action.Kind != engine.ActionProcessChunk || action.ChunkIndex != 0 {
		t.Fatalf("expected redispatch of chunk 0, got %#v", action)
	}

	// Exhaust the chunk retry limit.
	for chunk.Status == jobstore.StatusPending {
		if _, err := rig.engine.ProcessChunk(ctx, job.ID, 0); err != nil {
			t.Fatalf("ProcessChunk failed: %v", err)
		}
		chunk, err = rig.store.GetChunk(ctx, job.ID, 0)
		if err != nil {
			t.Fatalf("GetChunk failed: %v", err)
		}
	}
	if chunk.Status != jobstore.StatusError {
		t.Fatalf("expected error after retries exhausted, got %s", chunk.Status)
	}
	if chunk.Attempts != rig.cfg.Engine.ChunkRetryLimit {
		t.Fatalf("expected %d attempts, got %d", rig.cfg.Engine.ChunkRetryLimit, chunk.Attempts)
	}
}

func TestDegradedChunkStillCompletes(t *testing.T) {
	provider := &fakeProvider{
		failOn:   "broken",
		failWith: services.Wrap(services.ErrValidation, "synth", "synthesize", "rejected input", nil),
	}
	rig := newTestRig(t, provider)
	ctx := context.Background()
	job := rig.newProcessingJob(t, "SPEAKER_A: Good segment.\nSPEAKER_B: broken segment.")

	if _, err := rig.engine.ProcessChunk(ctx, job.ID, 0); err != nil {
		t.Fatalf("ProcessChunk failed: %v", err)
	}

	chunk, err := rig.store.GetChunk(ctx, job.ID, 0)
	if err != nil {
		t.Fatalf("GetChunk failed: %v", err)
	}
	if chunk.Status != jobstore.StatusCompleted {
		t.Fatalf("expected degraded chunk to complete, got %s", chunk.Status)
	}

	audio, err := rig.blobs.Get(ctx, chunk.AudioKey)
	if err != nil {
		t.Fatalf("chunk audio missing: %v", err)
	}
	if strings.Contains(string(audio), "broken") {
		t.Fatal("failed segment leaked into audio")
	}
	if !strings.Contains(string(audio), "Good segment") {
		t.Fatal("surviving segment missing from audio")
	}
}

func TestNextActionPrefersSuccessorChunk(t *testing.T) {
	rig := newTestRig(t, &fakeProvider{})
	ctx := context.Background()
	job := rig.newProcessingJob(t, "SPEAKER_A: a.", "SPEAKER_A: b.", "SPEAKER_A: c.")

	if _, err := rig.engine.ProcessChunk(ctx, job.ID, 1); err != nil {
		t.Fatalf("ProcessChunk failed: %v", err)
	}

	action, err := rig.engine.NextAction(ctx, job.ID, 1)
	if err != nil {
		t.Fatalf("NextAction failed: %v", err)
	}
	if action.Kind != engine.ActionProcessChunk || action.ChunkIndex != 2 {
		t.Fatalf("expected chunk 2 next after chunk 1, got %#v", action)
	}

	// Without a predecessor hint the lowest pending chunk wins.
	action, err = rig.engine.NextAction(ctx, job.ID, -1)
	if err != nil {
		t.Fatalf("NextAction failed: %v", err)
	}
	if action.Kind != engine.ActionProcessChunk || action.ChunkIndex != 0 {
		t.Fatalf("expected chunk 0, got %#v", action)
	}
}

func TestReconcileRepairsCounterDrift(t *testing.T) {
	rig := newTestRig(t, &fakeProvider{})
	ctx := context.Background()
	job := rig.newProcessingJob(t, "SPEAKER_A: a.", "SPEAKER_A: b.")

	if _, err := rig.engine.ProcessChunk(ctx, job.ID, 0); err != nil {
		t.Fatalf("ProcessChunk failed: %v", err)
	}

	// Inject drift: the job row forgets the completion.
	if err := rig.store.ForceJobCounters(ctx, job.ID, 0, jobstore.StatusProcessing, ""); err != nil {
		t.Fatalf("ForceJobCounters failed: %v", err)
	}

	action, err := rig.engine.NextAction(ctx, job.ID, -1)
	if err != nil {
		t.Fatalf("NextAction failed: %v", err)
	}
	if action.Kind != engine.ActionReconcile {
		t.Fatalf("expected reconcile for drifted job, got %s", action.Kind)
	}

	report, err := rig.engine.Reconcile(ctx, job.ID)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if !report.Changed || report.CompletedAfter != 1 {
		t.Fatalf("expected repair to 1 completed chunk, got %#v", report)
	}

	fetched, err := rig.store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if fetched.CompletedChunks != 1 || fetched.Status != jobstore.StatusProcessing {
		t.Fatalf("unexpected job after repair: %#v", fetched)
	}
}

func TestDispatcherCompletesJob(t *testing.T) {
	rig := newTestRig(t, &fakeProvider{})
	rig.cfg.Engine.PollInterval = 1
	rig.cfg.Engine.DispatchDelayMinMS = 0
	rig.cfg.Engine.DispatchDelayMaxMS = 0

	ctx := context.Background()
	job := rig.newProcessingJob(t, "SPEAKER_A: first.", "SPEAKER_B: second.")

	dispatcher := engine.NewDispatcher(rig.cfg, rig.engine, rig.store, logging.NewNop())
	if err := dispatcher.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer dispatcher.Stop()

	deadline := time.Now().Add(10 * time.Second)
	for {
		fetched, err := rig.store.GetJob(ctx, job.ID)
		if err != nil {
			t.Fatalf("GetJob failed: %v", err)
		}
		if fetched.Status == jobstore.StatusCompleted {
			if fetched.CompletedChunks != 2 {
				t.Fatalf("completed with wrong counter: %#v", fetched)
			}
			if fetched.AudioKey == "" {
				t.Fatal("completed job missing episode key")
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("job did not complete in time: %#v", fetched)
		}
		time.Sleep(20 * time.Millisecond)
	}
}
