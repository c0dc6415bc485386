package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowkit/internal/store"
	"github.com/rendis/flowkit/pkg/schema"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls []string
	ran   chan string
	block chan struct{} // when set, Execute blocks until closed
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{ran: make(chan string, 16)}
}

func (r *fakeRunner) Execute(ctx context.Context, workflowID string, input map[string]any) (*schema.WorkflowExecution, error) {
	r.mu.Lock()
	r.calls = append(r.calls, workflowID)
	block := r.block
	r.mu.Unlock()

	r.ran <- workflowID
	if block != nil {
		<-block
	}
	return &schema.WorkflowExecution{
		ID:         "exec-" + workflowID,
		WorkflowID: workflowID,
		Status:     schema.ExecutionStatusCompleted,
	}, nil
}

func (r *fakeRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func cronWorkflow(id, expr string, enabled bool) *schema.Workflow {
	return &schema.Workflow{
		ID: id,
		Steps: []schema.WorkflowStep{{
			ID:   "s1",
			Type: schema.StepTypeTool,
			Tool: &schema.ToolConfig{Name: "echo"},
		}},
		Triggers: []schema.Trigger{{Type: "cron", Cron: expr, Enabled: enabled}},
	}
}

func TestNextRunParsesStandardCron(t *testing.T) {
	s := New(store.NewMemoryStore(), newFakeRunner(), discardLogger())

	from := time.Date(2026, 3, 10, 8, 30, 0, 0, time.UTC)
	next, err := s.NextRun("0 9 * * *", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC), next)

	next, err = s.NextRun("*/15 * * * *", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 10, 8, 45, 0, 0, time.UTC), next)
}

func TestNextRunRejectsBadExpression(t *testing.T) {
	s := New(store.NewMemoryStore(), newFakeRunner(), discardLogger())

	_, err := s.NextRun("not a cron", time.Now())
	assert.Error(t, err)
}

func TestTickRunsDueTrigger(t *testing.T) {
	mem := store.NewMemoryStore()
	runner := newFakeRunner()
	s := New(mem, runner, discardLogger())

	ctx := context.Background()
	require.NoError(t, mem.Save(ctx, cronWorkflow("wf-due", "* * * * *", true)))

	// Pre-seed the trigger as already due.
	s.nextRuns["wf-due#0"] = time.Now().UTC().Add(-time.Minute)

	s.tick(ctx)

	select {
	case id := <-runner.ran:
		assert.Equal(t, "wf-due", id)
	case <-time.After(time.Second):
		t.Fatal("due trigger did not run")
	}

	// The next due time moved into the future, so a second tick is a no-op.
	s.tick(ctx)
	assert.Eventually(t, func() bool { return runner.callCount() == 1 }, 200*time.Millisecond, 10*time.Millisecond)
}

func TestTickSeedsScheduleOnFirstSight(t *testing.T) {
	mem := store.NewMemoryStore()
	runner := newFakeRunner()
	s := New(mem, runner, discardLogger())

	ctx := context.Background()
	require.NoError(t, mem.Save(ctx, cronWorkflow("wf-later", "0 9 * * *", true)))

	s.tick(ctx)

	s.nextMu.Lock()
	due, ok := s.nextRuns["wf-later#0"]
	s.nextMu.Unlock()
	require.True(t, ok)
	assert.True(t, due.After(time.Now().UTC()))
	assert.Zero(t, runner.callCount())
}

func TestTickSkipsDisabledTriggers(t *testing.T) {
	mem := store.NewMemoryStore()
	runner := newFakeRunner()
	s := New(mem, runner, discardLogger())

	ctx := context.Background()
	require.NoError(t, mem.Save(ctx, cronWorkflow("wf-off", "* * * * *", false)))
	s.nextRuns["wf-off#0"] = time.Now().UTC().Add(-time.Minute)

	s.tick(ctx)
	assert.Zero(t, runner.callCount())
}

func TestTickSkipsInvalidCron(t *testing.T) {
	mem := store.NewMemoryStore()
	runner := newFakeRunner()
	s := New(mem, runner, discardLogger())

	ctx := context.Background()
	require.NoError(t, mem.Save(ctx, cronWorkflow("wf-bad", "@@@", true)))

	s.tick(ctx)
	assert.Zero(t, runner.callCount())
}

func TestInflightDedupSkipsOverlappingRuns(t *testing.T) {
	mem := store.NewMemoryStore()
	runner := newFakeRunner()
	runner.block = make(chan struct{})
	s := New(mem, runner, discardLogger())

	ctx := context.Background()
	require.NoError(t, mem.Save(ctx, cronWorkflow("wf-slow", "* * * * *", true)))

	s.nextRuns["wf-slow#0"] = time.Now().UTC().Add(-time.Minute)
	s.tick(ctx)
	<-runner.ran // first run started and is blocked

	// Due again while the first run is still in flight.
	s.nextRuns["wf-slow#0"] = time.Now().UTC().Add(-time.Minute)
	s.tick(ctx)
	assert.Equal(t, 1, runner.callCount())

	close(runner.block)
	assert.Eventually(t, func() bool { return s.tryAcquire("wf-slow") }, time.Second, 10*time.Millisecond)
}

func TestTryAcquireRelease(t *testing.T) {
	s := New(store.NewMemoryStore(), newFakeRunner(), discardLogger())

	assert.True(t, s.tryAcquire("wf"))
	assert.False(t, s.tryAcquire("wf"))
	s.release("wf")
	assert.True(t, s.tryAcquire("wf"))
}

func TestStartStop(t *testing.T) {
	s := New(store.NewMemoryStore(), newFakeRunner(), discardLogger())

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()), "double start should fail")
	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop(), "stop is idempotent")
}
