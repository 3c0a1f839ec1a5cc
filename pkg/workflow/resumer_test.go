package workflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dukex/opsflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResumer_TickResumesDueRuns(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	short := h.save(t, definition("short", "investor.created", delayStep("wait", 1, "flag"), setVariable("flag", "done", true, "")))
	long := h.save(t, definition("long", "investor.created", delayStep("wait", 60, "flag"), setVariable("flag", "done", true, "")))

	shortRun, err := h.orchestrator.Start(ctx, short, nil)
	require.NoError(t, err)

	longRun, err := h.orchestrator.Start(ctx, long, nil)
	require.NoError(t, err)

	resumer := NewResumer(h.logger, h.orchestrator, 10, 2)

	resumed, err := resumer.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, resumed)

	h.clock.Add(2 * time.Minute)

	resumed, err = resumer.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, resumed)

	assert.Equal(t, models.RunStatusCompleted, h.run(t, shortRun.ID).Status)
	assert.Equal(t, models.RunStatusWaiting, h.run(t, longRun.ID).Status)

	_, ok := h.delays.scheduled(longRun.ID)
	assert.True(t, ok)

	h.clock.Add(time.Hour)

	resumed, err = resumer.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, resumed)
	assert.Equal(t, models.RunStatusCompleted, h.run(t, longRun.ID).Status)
}

func TestResumer_TickToleratesUnknownIndexedRuns(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.delays.Schedule(ctx, "missing-run", t0))

	resumer := NewResumer(h.logger, h.orchestrator, 0, 0)

	resumed, err := resumer.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, resumed)

	_, ok := h.delays.scheduled("missing-run")
	assert.False(t, ok)
}

func TestForEach_BoundsConcurrency(t *testing.T) {
	items := []int{1, 2, 3, 4, 5, 6, 7, 8}

	var (
		mu      sync.Mutex
		current int
		peak    int
		seen    []int
	)

	forEach(context.Background(), items, 3, func(_ context.Context, item int) {
		mu.Lock()
		current++
		peak = max(peak, current)
		seen = append(seen, item)
		mu.Unlock()

		time.Sleep(10 * time.Millisecond)

		mu.Lock()
		current--
		mu.Unlock()
	})

	assert.ElementsMatch(t, items, seen)
	assert.LessOrEqual(t, peak, 3)
	assert.Positive(t, peak)
}
