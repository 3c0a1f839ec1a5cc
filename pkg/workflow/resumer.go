package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/opsflow/pkg/models"
)

const (
	DefaultBatchSize   = 100
	DefaultConcurrency = 8
)

// Resumer resumes WAITING runs whose resume time has passed. Several resumers
// may poll the same store: the claim inside Resume lets exactly one of them
// advance each run.
type Resumer struct {
	orchestrator *Orchestrator
	batchSize    int
	concurrency  int
	logger       *slog.Logger
}

func NewResumer(logger *slog.Logger, orchestrator *Orchestrator, batchSize, concurrency int) *Resumer {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	return &Resumer{
		orchestrator: orchestrator,
		batchSize:    batchSize,
		concurrency:  concurrency,
		logger:       logger.With("module", "resumer"),
	}
}

// Tick resumes every due run once and returns how many were advanced.
func (r *Resumer) Tick(ctx context.Context) (int, error) {
	now := r.orchestrator.clock.Now()

	due, err := r.orchestrator.runs.ListDue(ctx, now, r.batchSize)
	if err != nil {
		return 0, err
	}

	ids := make([]string, 0, len(due))
	seen := make(map[string]bool, len(due))

	for _, run := range due {
		seen[run.ID] = true
		ids = append(ids, run.ID)
	}

	if r.orchestrator.delays != nil {
		indexed, err := r.orchestrator.delays.PopDue(ctx, now)
		if err != nil {
			r.logger.WarnContext(ctx, "Failed to read delay index", "error", err)
		}

		for _, id := range indexed {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}

	resumed := 0

	var mu sync.Mutex

	forEach(ctx, ids, r.concurrency, func(ctx context.Context, runID string) {
		ok, err := r.orchestrator.Resume(ctx, runID)
		if err != nil {
			r.logger.ErrorContext(ctx, "Failed to resume run", "run_id", runID, "error", err)
		}

		if ok {
			mu.Lock()
			resumed++
			mu.Unlock()
		}
	})

	if resumed > 0 {
		r.logger.InfoContext(ctx, "Resumed waiting runs", "count", resumed)
	}

	return resumed, nil
}

// Recovery re-claims RUNNING and PENDING runs whose heartbeat is older than
// staleAfter, the signature of a worker that died mid-run.
type Recovery struct {
	orchestrator *Orchestrator
	staleAfter   time.Duration
	batchSize    int
	concurrency  int
	logger       *slog.Logger
}

func NewRecovery(logger *slog.Logger, orchestrator *Orchestrator, staleAfter time.Duration, batchSize, concurrency int) *Recovery {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	return &Recovery{
		orchestrator: orchestrator,
		staleAfter:   staleAfter,
		batchSize:    batchSize,
		concurrency:  concurrency,
		logger:       logger.With("module", "recovery"),
	}
}

// Sweep recovers stale runs once and returns how many were re-claimed.
func (r *Recovery) Sweep(ctx context.Context) (int, error) {
	before := r.orchestrator.clock.Now().Add(-r.staleAfter)

	stale, err := r.orchestrator.runs.ListStale(ctx, before, r.batchSize)
	if err != nil {
		return 0, err
	}

	recovered := 0

	var mu sync.Mutex

	forEach(ctx, stale, r.concurrency, func(ctx context.Context, run *models.WorkflowRun) {
		ok, err := r.orchestrator.Recover(ctx, run)
		if err != nil {
			r.logger.ErrorContext(ctx, "Failed to recover run", "run_id", run.ID, "error", err)
		}

		if ok {
			mu.Lock()
			recovered++
			mu.Unlock()
		}
	})

	if recovered > 0 {
		r.logger.WarnContext(ctx, "Recovered stale runs", "count", recovered)
	}

	return recovered, nil
}

// forEach calls fn for every item with at most limit calls in flight. Items
// not yet started when ctx is cancelled are skipped.
func forEach[T any](ctx context.Context, items []T, limit int, fn func(context.Context, T)) {
	var wg sync.WaitGroup

	slots := make(chan struct{}, limit)

	for _, item := range items {
		select {
		case <-ctx.Done():
			wg.Wait()

			return
		case slots <- struct{}{}:
		}

		wg.Add(1)

		go func() {
			defer func() {
				<-slots
				wg.Done()
			}()

			fn(ctx, item)
		}()
	}

	wg.Wait()
}
