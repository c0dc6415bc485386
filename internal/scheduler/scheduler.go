// Package scheduler starts workflow executions from cron triggers. It polls
// the workflow repository on a fixed tick, computes due times from each
// trigger's cron expression, and deduplicates so a slow execution never
// overlaps itself.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/flowkit/internal/store"
	"github.com/rendis/flowkit/pkg/schema"
)

// WorkflowRunner is the interface the scheduler uses to start executions.
// Satisfied by the engine (avoids an import cycle).
type WorkflowRunner interface {
	Execute(ctx context.Context, workflowID string, input map[string]any) (*schema.WorkflowExecution, error)
}

// Scheduler polls workflow definitions for due cron triggers and runs them.
type Scheduler struct {
	workflows store.WorkflowRepository
	runner    WorkflowRunner
	parser    cron.Parser
	logger    *slog.Logger
	interval  time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	// nextRuns maps workflow ID + trigger index to the next due time.
	// Kept in memory; after a restart the first tick re-derives schedules.
	nextMu   sync.Mutex
	nextRuns map[string]time.Time

	inflightMu sync.Mutex
	inflight   map[string]struct{} // workflow IDs currently executing (dedup)
}

// New creates a Scheduler with a 60s polling interval.
func New(workflows store.WorkflowRepository, runner WorkflowRunner, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		workflows: workflows,
		runner:    runner,
		parser:    cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		logger:    logger,
		interval:  60 * time.Second,
		nextRuns:  make(map[string]time.Time),
		inflight:  make(map[string]struct{}),
	}
}

// Start launches the background scheduling loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started")
	return nil
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Seed schedules immediately so the first due time is computed from now,
	// not from the first tick.
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick scans all workflows for enabled cron triggers and runs those due.
func (s *Scheduler) tick(ctx context.Context) {
	workflows, err := s.workflows.List(ctx)
	if err != nil {
		s.logger.Error("failed to list workflows", slog.String("error", err.Error()))
		return
	}

	now := time.Now().UTC()
	for _, wf := range workflows {
		for i, trigger := range wf.Triggers {
			if trigger.Type != "cron" || !trigger.Enabled {
				continue
			}
			key := fmt.Sprintf("%s#%d", wf.ID, i)

			due, err := s.dueAt(key, trigger.Cron, now)
			if err != nil {
				s.logger.Error("invalid cron expression",
					slog.String("workflow_id", wf.ID),
					slog.String("cron", trigger.Cron),
					slog.String("error", err.Error()))
				continue
			}
			if due.After(now) {
				continue
			}

			s.setNextRun(key, trigger.Cron, now)
			if !s.tryAcquire(wf.ID) {
				continue // previous triggered run still in flight
			}
			go s.runWorkflow(ctx, wf.ID)
		}
	}
}

// dueAt returns the recorded next-run time for a trigger, computing and
// recording it from the cron expression on first sight.
func (s *Scheduler) dueAt(key, cronExpr string, now time.Time) (time.Time, error) {
	s.nextMu.Lock()
	defer s.nextMu.Unlock()

	if due, ok := s.nextRuns[key]; ok {
		return due, nil
	}
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, err
	}
	due := schedule.Next(now)
	s.nextRuns[key] = due
	return due, nil
}

func (s *Scheduler) setNextRun(key, cronExpr string, from time.Time) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return
	}
	s.nextMu.Lock()
	s.nextRuns[key] = schedule.Next(from)
	s.nextMu.Unlock()
}

func (s *Scheduler) runWorkflow(ctx context.Context, workflowID string) {
	defer s.release(workflowID)

	s.logger.Info("running triggered workflow", slog.String("workflow_id", workflowID))
	exec, err := s.runner.Execute(ctx, workflowID, nil)
	if err != nil {
		s.logger.Error("triggered execution failed to start",
			slog.String("workflow_id", workflowID),
			slog.String("error", err.Error()))
		return
	}
	if exec.Status == schema.ExecutionStatusFailed {
		s.logger.Warn("triggered execution failed",
			slog.String("workflow_id", workflowID),
			slog.String("execution_id", exec.ID),
			slog.String("error", exec.Error.Error()))
	}
}

// NextRun computes the next run time for a cron expression.
func (s *Scheduler) NextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// tryAcquire marks a workflow in-flight if it is not already running.
func (s *Scheduler) tryAcquire(workflowID string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[workflowID]; ok {
		return false
	}
	s.inflight[workflowID] = struct{}{}
	return true
}

func (s *Scheduler) release(workflowID string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, workflowID)
}
