package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"prometeo/src/internal/notify"
	"prometeo/src/internal/store"
	"prometeo/src/internal/tasks"
)

type memStore struct {
	mu     sync.Mutex
	tasks  map[string]*tasks.Task
	dueErr error
	runs   int
	checks int
}

func newMemStore(ts ...*tasks.Task) *memStore {
	m := &memStore{tasks: make(map[string]*tasks.Task)}
	for _, t := range ts {
		copied := *t
		m.tasks[t.ID] = &copied
	}
	return m
}

func (m *memStore) DueTasks(ctx context.Context, now time.Time) ([]*tasks.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dueErr != nil {
		return nil, m.dueErr
	}
	var due []*tasks.Task
	for _, t := range m.tasks {
		if t.Active && !t.NextRun.After(now) {
			copied := *t
			due = append(due, &copied)
		}
	}
	return due, nil
}

func (m *memStore) GetTask(ctx context.Context, id string) (*tasks.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrTaskNotFound, id)
	}
	copied := *t
	return &copied, nil
}

func (m *memStore) ClaimTask(ctx context.Context, id string, observed, provisional time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok || !t.Active || !t.NextRun.Equal(observed) {
		return false, nil
	}
	t.NextRun = provisional
	return true, nil
}

func (m *memStore) RecordRun(ctx context.Context, id string, ranAt time.Time, result, errMsg string, nextRun time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tasks[id]
	ra := ranAt
	t.LastRun = &ra
	t.LastResult = result
	t.LastError = errMsg
	t.NextRun = nextRun
	m.runs++
	return nil
}

func (m *memStore) RecordCheck(ctx context.Context, id string, checkedAt, nextRun time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tasks[id]
	ca := checkedAt
	t.LastChecked = &ca
	t.NextRun = nextRun
	m.checks++
	return nil
}

func (m *memStore) task(id string) tasks.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.tasks[id]
}

func (m *memStore) rearm(id string, next time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[id].NextRun = next
}

type scriptedExecutor struct {
	mu      sync.Mutex
	results []tasks.Result
	calls   int
}

func (s *scriptedExecutor) Run(ctx context.Context, t *tasks.Task) tasks.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	var r tasks.Result
	if s.calls < len(s.results) {
		r = s.results[s.calls]
	} else if len(s.results) > 0 {
		r = s.results[len(s.results)-1]
	}
	s.calls++
	return r
}

type countingDispatcher struct {
	mu         sync.Mutex
	dispatches int
	recipients []string
}

func (d *countingDispatcher) Dispatch(ctx context.Context, t *tasks.Task, result tasks.Result) notify.DeliveryReport {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dispatches++
	d.recipients = append(d.recipients, t.Recipients...)
	return notify.DeliveryReport{Delivered: len(t.Recipients)}
}

func newScheduler(st TaskStore, ex Executor, d Dispatcher) *Scheduler {
	resolve := func(tenantID string) (TaskStore, error) {
		if tenantID != "acme" {
			return nil, fmt.Errorf("%w: %s", store.ErrTenantNotFound, tenantID)
		}
		return st, nil
	}
	return New(resolve, func() []string { return []string{"acme"} }, ex, d, 4)
}

func dailyTask() *tasks.Task {
	return &tasks.Task{
		ID:               "t1",
		TenantID:         "acme",
		Type:             tasks.TypeScheduled,
		Schedule:         "0 9 * * *",
		Prompt:           "ventas de ayer",
		NextRun:          time.Now().UTC().Add(-time.Minute),
		Active:           true,
		NotificationType: []string{"inapp"},
		Recipients:       []string{"a", "b"},
	}
}

func TestTickExecutesDueTask(t *testing.T) {
	st := newMemStore(dailyTask())
	ex := &scriptedExecutor{results: []tasks.Result{{Success: true, Message: "42 units"}}}
	d := &countingDispatcher{}
	s := newScheduler(st, ex, d)

	before := time.Now().UTC()
	summary, err := s.Tick(context.Background(), "")
	if err != nil {
		t.Fatalf("tick failed: %v", err)
	}
	if summary.Claimed != 1 || summary.Executed != 1 || summary.Succeeded != 1 {
		t.Errorf("unexpected summary: %+v", summary)
	}
	if ex.calls != 1 {
		t.Errorf("expected 1 execution, got %d", ex.calls)
	}
	if d.dispatches != 1 || len(d.recipients) != 2 {
		t.Errorf("expected 1 dispatch to 2 recipients, got %d/%v", d.dispatches, d.recipients)
	}

	after := st.task("t1")
	if after.LastResult != tasks.ResultSuccess {
		t.Errorf("expected last_result success, got %q", after.LastResult)
	}
	if after.LastRun == nil {
		t.Fatal("expected last_run to be set")
	}
	// next_run is recomputed from the tick instant: the next 09:00 UTC.
	if !after.NextRun.After(before) {
		t.Errorf("next_run %v must be in the future", after.NextRun)
	}
	if after.NextRun.Hour() != 9 || after.NextRun.Minute() != 0 {
		t.Errorf("next_run %v does not match the task schedule", after.NextRun)
	}
}

func TestTickSkipsInactive(t *testing.T) {
	task := dailyTask()
	task.Active = false
	st := newMemStore(task)
	ex := &scriptedExecutor{results: []tasks.Result{{Success: true}}}
	s := newScheduler(st, ex, &countingDispatcher{})

	summary, err := s.Tick(context.Background(), "")
	if err != nil {
		t.Fatalf("tick failed: %v", err)
	}
	if summary.Examined != 0 || ex.calls != 0 {
		t.Errorf("inactive task must not be examined or run: %+v", summary)
	}
}

func TestTickNotDue(t *testing.T) {
	task := dailyTask()
	task.NextRun = time.Now().UTC().Add(24 * time.Hour)
	st := newMemStore(task)
	ex := &scriptedExecutor{results: []tasks.Result{{Success: true}}}
	s := newScheduler(st, ex, &countingDispatcher{})

	if _, err := s.Tick(context.Background(), ""); err != nil {
		t.Fatalf("tick failed: %v", err)
	}
	if ex.calls != 0 {
		t.Error("future task must not run")
	}
}

// Simulated double firing: both ticks may list the task as due, but only one
// can win the compare-and-set on next_run.
func TestConcurrentTickClaimsOnce(t *testing.T) {
	st := newMemStore(dailyTask())
	ex := &scriptedExecutor{results: []tasks.Result{{Success: true}}}
	d := &countingDispatcher{}
	s := newScheduler(st, ex, d)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Tick(context.Background(), ""); err != nil {
				t.Errorf("tick failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if ex.calls != 1 {
		t.Errorf("expected exactly one execution across concurrent ticks, got %d", ex.calls)
	}
	if d.dispatches != 1 {
		t.Errorf("expected exactly one dispatch, got %d", d.dispatches)
	}
}

func TestConditionalSkipAdvancesWithoutResult(t *testing.T) {
	task := dailyTask()
	task.Type = tasks.TypeConditional
	task.Schedule = ""
	task.Condition = "stock below threshold"
	task.CheckInterval = "*/15 * * * *"
	task.LastResult = tasks.ResultSuccess // from an earlier firing
	st := newMemStore(task)

	ex := &scriptedExecutor{results: []tasks.Result{{Skipped: true}}}
	d := &countingDispatcher{}
	s := newScheduler(st, ex, d)

	summary, err := s.Tick(context.Background(), "")
	if err != nil {
		t.Fatalf("tick failed: %v", err)
	}
	if summary.Skipped != 1 || summary.Executed != 0 {
		t.Errorf("unexpected summary: %+v", summary)
	}
	if d.dispatches != 0 {
		t.Error("skipped task must not notify")
	}

	after := st.task("t1")
	if after.LastResult != tasks.ResultSuccess {
		t.Errorf("skip must not overwrite last_result, got %q", after.LastResult)
	}
	if after.LastRun != nil {
		t.Error("skip must not stamp last_run")
	}
	if after.LastChecked == nil {
		t.Error("skip must stamp last_checked")
	}
	if !after.NextRun.After(task.NextRun) {
		t.Errorf("skip must advance next_run, got %v", after.NextRun)
	}
}

// Condition polls false twice, then true: only the third poll fires.
func TestConditionalFiresOnThirdPoll(t *testing.T) {
	task := dailyTask()
	task.Type = tasks.TypeConditional
	task.Schedule = ""
	task.Condition = "stock below threshold"
	task.CheckInterval = "* * * * *"
	st := newMemStore(task)

	ex := &scriptedExecutor{results: []tasks.Result{
		{Skipped: true},
		{Skipped: true},
		{Success: true, Message: "reorder 10 units"},
	}}
	d := &countingDispatcher{}
	s := newScheduler(st, ex, d)

	for i := 0; i < 3; i++ {
		st.rearm("t1", time.Now().UTC().Add(-time.Second))
		if _, err := s.Tick(context.Background(), ""); err != nil {
			t.Fatalf("tick %d failed: %v", i, err)
		}
	}

	if d.dispatches != 1 {
		t.Errorf("expected exactly one notification, got %d", d.dispatches)
	}
	after := st.task("t1")
	if after.LastResult != tasks.ResultSuccess {
		t.Errorf("expected last_result success after third poll, got %q", after.LastResult)
	}
	if st.checks != 2 {
		t.Errorf("expected 2 recorded checks, got %d", st.checks)
	}
	if st.runs != 1 {
		t.Errorf("expected 1 recorded run, got %d", st.runs)
	}
}

func TestTickRecordsAgentFailure(t *testing.T) {
	st := newMemStore(dailyTask())
	ex := &scriptedExecutor{results: []tasks.Result{{Success: false, Err: "model unavailable"}}}
	d := &countingDispatcher{}
	s := newScheduler(st, ex, d)

	summary, err := s.Tick(context.Background(), "")
	if err != nil {
		t.Fatalf("tick failed: %v", err)
	}
	if summary.Failed != 1 {
		t.Errorf("unexpected summary: %+v", summary)
	}

	after := st.task("t1")
	if after.LastResult != tasks.ResultError {
		t.Errorf("expected last_result error, got %q", after.LastResult)
	}
	if after.LastError != "model unavailable" {
		t.Errorf("expected last_error recorded, got %q", after.LastError)
	}
	// The task stays active and retries on its next due instant.
	if !after.Active {
		t.Error("failing task must stay active")
	}
	if d.dispatches != 1 {
		t.Error("failure result should still be dispatched")
	}
}

func TestTickScopedDueListFailure(t *testing.T) {
	st := newMemStore(dailyTask())
	st.dueErr = errors.New("database is locked")
	s := newScheduler(st, &scriptedExecutor{}, &countingDispatcher{})

	// Scoped to one tenant, a failed due-task listing must surface.
	if _, err := s.Tick(context.Background(), "acme"); err == nil {
		t.Error("expected error for scoped tick when due listing fails")
	}

	// Unscoped, the tenant is skipped and counted but siblings keep going.
	summary, err := s.Tick(context.Background(), "")
	if err != nil {
		t.Fatalf("unscoped tick failed: %v", err)
	}
	if summary.TenantErrors != 1 {
		t.Errorf("expected 1 tenant error, got %d", summary.TenantErrors)
	}
}

func TestTickUnknownTenant(t *testing.T) {
	st := newMemStore(dailyTask())
	s := newScheduler(st, &scriptedExecutor{}, &countingDispatcher{})

	if _, err := s.Tick(context.Background(), "ghost"); err == nil {
		t.Error("expected error for unknown tenant scope")
	}
}

func TestRunNowBypassesActiveFlag(t *testing.T) {
	task := dailyTask()
	task.Active = false
	task.NextRun = time.Now().UTC().Add(24 * time.Hour) // not due either
	st := newMemStore(task)
	ex := &scriptedExecutor{results: []tasks.Result{{Success: true, Message: "manual"}}}
	d := &countingDispatcher{}
	s := newScheduler(st, ex, d)

	result, err := s.RunNow(context.Background(), "acme", "t1")
	if err != nil {
		t.Fatalf("run now failed: %v", err)
	}
	if !result.Success {
		t.Errorf("expected success, got %+v", result)
	}
	if d.dispatches != 1 {
		t.Errorf("expected 1 dispatch, got %d", d.dispatches)
	}

	after := st.task("t1")
	if after.LastResult != tasks.ResultSuccess {
		t.Errorf("manual run must update bookkeeping, got %q", after.LastResult)
	}
	if after.Active {
		t.Error("manual run must not re-activate the task")
	}
}

func TestRunNowUnknownTask(t *testing.T) {
	st := newMemStore()
	s := newScheduler(st, &scriptedExecutor{}, &countingDispatcher{})

	if _, err := s.RunNow(context.Background(), "acme", "missing"); err == nil {
		t.Error("expected error for unknown task")
	}
}
