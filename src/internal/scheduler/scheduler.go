package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"prometeo/src/internal/notify"
	"prometeo/src/internal/schedule"
	"prometeo/src/internal/tasks"
)

// TaskStore is the slice of a tenant store the scheduler writes through.
type TaskStore interface {
	DueTasks(ctx context.Context, now time.Time) ([]*tasks.Task, error)
	GetTask(ctx context.Context, id string) (*tasks.Task, error)
	ClaimTask(ctx context.Context, id string, observed, provisional time.Time) (bool, error)
	RecordRun(ctx context.Context, id string, ranAt time.Time, result, errMsg string, nextRun time.Time) error
	RecordCheck(ctx context.Context, id string, checkedAt, nextRun time.Time) error
}

// Resolver maps a tenant id to its isolated store.
type Resolver func(tenantID string) (TaskStore, error)

type Executor interface {
	Run(ctx context.Context, t *tasks.Task) tasks.Result
}

type Dispatcher interface {
	Dispatch(ctx context.Context, t *tasks.Task, result tasks.Result) notify.DeliveryReport
}

// Summary reports what one tick did across all processed tenants.
type Summary struct {
	Tenants          int           `json:"tenants"`
	TenantErrors     int           `json:"tenant_errors"`
	Examined         int           `json:"examined"`
	Claimed          int           `json:"claimed"`
	Executed         int           `json:"executed"`
	Succeeded        int           `json:"succeeded"`
	Failed           int           `json:"failed"`
	Skipped          int           `json:"skipped"`
	Deliveries       int           `json:"deliveries"`
	DeliveryFailures int           `json:"delivery_failures"`
	Elapsed          time.Duration `json:"elapsed"`
}

// Scheduler drives the claim -> execute -> dispatch -> record cycle for due
// tasks. Tasks are independent units of work; they run concurrently under a
// bounded pool, and one task's failure never touches its siblings.
type Scheduler struct {
	resolve    Resolver
	tenants    func() []string
	executor   Executor
	dispatcher Dispatcher
	workers    int64
}

func New(resolve Resolver, tenants func() []string, ex Executor, d Dispatcher, workers int) *Scheduler {
	if workers <= 0 {
		workers = 4
	}
	return &Scheduler{
		resolve:    resolve,
		tenants:    tenants,
		executor:   ex,
		dispatcher: d,
		workers:    int64(workers),
	}
}

// Tick evaluates all due tasks, optionally scoped to one tenant. A tenant
// that cannot be resolved is logged and skipped; it never aborts the others.
func (s *Scheduler) Tick(ctx context.Context, tenantID string) (Summary, error) {
	start := time.Now()
	now := start.UTC()

	tenantIDs := s.tenants()
	if tenantID != "" {
		tenantIDs = []string{tenantID}
	}

	var (
		mu      sync.Mutex
		summary Summary
		wg      sync.WaitGroup
	)
	sem := semaphore.NewWeighted(s.workers)

	for _, tenant := range tenantIDs {
		st, err := s.resolve(tenant)
		if err != nil {
			slog.Error("tenant store unavailable, skipping tenant", "tenant_id", tenant, "error", err)
			mu.Lock()
			summary.TenantErrors++
			mu.Unlock()
			if tenantID != "" {
				wg.Wait()
				summary.Elapsed = time.Since(start)
				return summary, err
			}
			continue
		}

		due, err := st.DueTasks(ctx, now)
		if err != nil {
			slog.Error("failed to list due tasks", "tenant_id", tenant, "error", err)
			mu.Lock()
			summary.TenantErrors++
			mu.Unlock()
			if tenantID != "" {
				wg.Wait()
				summary.Elapsed = time.Since(start)
				return summary, err
			}
			continue
		}
		mu.Lock()
		summary.Tenants++
		summary.Examined += len(due)
		mu.Unlock()

		for _, t := range due {
			if err := sem.Acquire(ctx, 1); err != nil {
				wg.Wait()
				summary.Elapsed = time.Since(start)
				return summary, err
			}
			wg.Add(1)
			go func(st TaskStore, t *tasks.Task) {
				defer wg.Done()
				defer sem.Release(1)
				outcome := s.processTask(ctx, st, t, now)
				mu.Lock()
				summary.merge(outcome)
				mu.Unlock()
			}(st, t)
		}
	}
	wg.Wait()

	summary.Elapsed = time.Since(start)
	slog.Info("tick complete",
		"tenants", summary.Tenants, "examined", summary.Examined,
		"claimed", summary.Claimed, "executed", summary.Executed,
		"succeeded", summary.Succeeded, "failed", summary.Failed, "skipped", summary.Skipped,
		"deliveries", summary.Deliveries, "delivery_failures", summary.DeliveryFailures,
		"elapsed", summary.Elapsed)
	return summary, nil
}

type taskOutcome struct {
	claimed          bool
	executed         bool
	succeeded        bool
	failed           bool
	skipped          bool
	deliveries       int
	deliveryFailures int
}

func (s *Summary) merge(o taskOutcome) {
	if o.claimed {
		s.Claimed++
	}
	if o.executed {
		s.Executed++
	}
	if o.succeeded {
		s.Succeeded++
	}
	if o.failed {
		s.Failed++
	}
	if o.skipped {
		s.Skipped++
	}
	s.Deliveries += o.deliveries
	s.DeliveryFailures += o.deliveryFailures
}

// processTask runs the per-task state machine: claim the due task by CAS on
// next_run, execute, dispatch, record. next_run only moves past the due
// instant through the claim, so an interrupted run is retried on cadence
// instead of silently lost, and a double-fired tick executes at most once.
func (s *Scheduler) processTask(ctx context.Context, st TaskStore, t *tasks.Task, now time.Time) taskOutcome {
	var out taskOutcome

	provisional, err := schedule.NextTrigger(t.EffectiveSchedule(), now)
	if err != nil {
		// Unparseable after an edit; leave the task due and keep complaining
		// rather than guessing a cadence.
		slog.Error("task schedule no longer parses, run skipped",
			"task_id", t.ID, "tenant_id", t.TenantID, "schedule", t.EffectiveSchedule(), "error", err)
		return out
	}

	claimed, err := st.ClaimTask(ctx, t.ID, t.NextRun, provisional)
	if err != nil {
		slog.Error("claim failed", "task_id", t.ID, "tenant_id", t.TenantID, "error", err)
		return out
	}
	if !claimed {
		slog.Debug("task already claimed by concurrent firing", "task_id", t.ID, "tenant_id", t.TenantID)
		return out
	}
	out.claimed = true

	result := s.executor.Run(ctx, t)
	if result.Skipped {
		out.skipped = true
		if err := st.RecordCheck(ctx, t.ID, now, provisional); err != nil {
			slog.Error("failed to record condition check", "task_id", t.ID, "tenant_id", t.TenantID, "error", err)
		}
		return out
	}

	out.executed = true
	if result.Success {
		out.succeeded = true
	} else {
		out.failed = true
		slog.Error("task execution failed", "task_id", t.ID, "tenant_id", t.TenantID, "error", result.Err)
	}

	report := s.dispatcher.Dispatch(ctx, t, result)
	out.deliveries = report.Delivered
	out.deliveryFailures = report.Failed

	if err := st.RecordRun(ctx, t.ID, now, result.Status(), result.Err, provisional); err != nil {
		slog.Error("failed to record run", "task_id", t.ID, "tenant_id", t.TenantID, "error", err)
	}
	return out
}

// RunNow executes a task immediately, outside the tick cycle. It bypasses
// the due-check and the active flag (an explicit operator action), still
// runs conditional gating, and still updates bookkeeping.
func (s *Scheduler) RunNow(ctx context.Context, tenantID, taskID string) (tasks.Result, error) {
	st, err := s.resolve(tenantID)
	if err != nil {
		return tasks.Result{}, err
	}
	t, err := st.GetTask(ctx, taskID)
	if err != nil {
		return tasks.Result{}, err
	}

	now := time.Now().UTC()
	next := t.NextRun
	if computed, err := schedule.NextTrigger(t.EffectiveSchedule(), now); err == nil {
		next = computed
	} else {
		slog.Warn("manual run with unparseable schedule, next_run unchanged",
			"task_id", t.ID, "tenant_id", tenantID, "error", err)
	}

	result := s.executor.Run(ctx, t)
	if result.Skipped {
		if err := st.RecordCheck(ctx, t.ID, now, next); err != nil {
			return result, fmt.Errorf("record check: %w", err)
		}
		return result, nil
	}

	s.dispatcher.Dispatch(ctx, t, result)
	if err := st.RecordRun(ctx, t.ID, now, result.Status(), result.Err, next); err != nil {
		return result, fmt.Errorf("record run: %w", err)
	}
	return result, nil
}
