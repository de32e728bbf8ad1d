package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"
)

// stubRunner 按预置结果执行，并记录调用顺序
type stubRunner struct {
	mu       sync.Mutex
	results  map[string]Outcome
	errors   map[string]error
	order    []string
	maxInRun int
	running  int
}

func (r *stubRunner) Run(ctx context.Context, job Job) (Outcome, error) {
	sunoID := job.SunoID
	r.mu.Lock()
	r.running++
	if r.running > r.maxInRun {
		r.maxInRun = r.running
	}
	r.order = append(r.order, sunoID)
	r.mu.Unlock()

	time.Sleep(10 * time.Millisecond)

	r.mu.Lock()
	r.running--
	outcome := r.results[sunoID]
	err := r.errors[sunoID]
	r.mu.Unlock()
	return outcome, err
}

func jobsFor(ids ...string) []Job {
	jobs := make([]Job, 0, len(ids))
	for _, id := range ids {
		jobs = append(jobs, Job{SunoID: id})
	}
	return jobs
}

func TestRunBatchReport(t *testing.T) {
	runner := &stubRunner{
		results: map[string]Outcome{
			"a": OutcomeDone,
			"b": OutcomeSkipped,
			"c": OutcomeDone,
		},
		errors: map[string]error{"c": context.DeadlineExceeded},
	}
	c := NewCoordinator(runner)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)
	defer c.Stop()

	report := c.RunBatch(ctx, jobsFor("a", "b", "c"))
	if report.Succeeded != 1 || report.Skipped != 1 || report.Failed != 1 {
		t.Fatalf("report = %+v, want 1/1/1", report)
	}
}

func TestRunBatchDeduplicates(t *testing.T) {
	runner := &stubRunner{results: map[string]Outcome{"a": OutcomeDone}}
	c := NewCoordinator(runner)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)
	defer c.Stop()

	report := c.RunBatch(ctx, jobsFor("a", "a", "a"))
	if report.Succeeded != 1 {
		t.Errorf("succeeded = %d, want 1", report.Succeeded)
	}
	if report.Skipped != 2 {
		t.Errorf("skipped = %d, want 2 duplicates", report.Skipped)
	}
	if len(runner.order) != 1 {
		t.Errorf("runner called %d times, want 1", len(runner.order))
	}
}

func TestDownloadsRunSequentially(t *testing.T) {
	runner := &stubRunner{results: map[string]Outcome{}}
	c := NewCoordinator(runner)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)
	defer c.Stop()

	ids := []string{"a", "b", "c", "d", "e"}
	c.RunBatch(ctx, jobsFor(ids...))
	if runner.maxInRun != 1 {
		t.Errorf("max concurrent runs = %d, downloads must be sequential", runner.maxInRun)
	}
	if len(runner.order) != len(ids) {
		t.Errorf("ran %d jobs, want %d", len(runner.order), len(ids))
	}
}

func TestEnqueueDeduplicates(t *testing.T) {
	runner := &stubRunner{results: map[string]Outcome{}}
	c := NewCoordinator(runner)
	// 不启动 worker，任务停在队列里，便于观察在途状态

	if !c.Enqueue(Job{SunoID: "a"}) {
		t.Fatal("first enqueue should succeed")
	}
	if c.Enqueue(Job{SunoID: "a"}) {
		t.Fatal("duplicate enqueue should be rejected")
	}
	if !c.InFlight("a") {
		t.Error("a should be in flight after enqueue")
	}
	if c.InFlight("b") {
		t.Error("b was never enqueued")
	}
}
