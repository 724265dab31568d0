package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"prometeo/src/internal/agent"
	"prometeo/src/internal/condition"
	"prometeo/src/internal/config"
	"prometeo/src/internal/executor"
	"prometeo/src/internal/notify"
	"prometeo/src/internal/schedule"
	"prometeo/src/internal/scheduler"
	"prometeo/src/internal/store"
	"prometeo/src/internal/tasks"
)

// Gateway wires the engine together and is the surface the API layer calls.
type Gateway struct {
	Config    *config.Config
	Registry  *store.Registry
	Agent     *agent.Runner
	Whatsapp  *notify.Whatsapp
	scheduler *scheduler.Scheduler
}

func New(cfg *config.Config, registry *store.Registry, hub notify.Broadcaster) *Gateway {
	gw := &Gateway{
		Config:   cfg,
		Registry: registry,
	}

	gw.Agent = agent.NewRunner(cfg)
	evaluator := condition.NewEvaluator(gw.Agent)
	ex := executor.New(gw.Agent, evaluator)

	transports := []notify.Transport{
		notify.NewInApp(registry),
		notify.NewPush(hub),
	}
	if cfg.Channels.Whatsapp.Enabled {
		wa, err := notify.NewWhatsapp(cfg.StorageDir)
		if err != nil {
			slog.Warn("failed to initialize whatsapp transport", "error", err)
		} else {
			gw.Whatsapp = wa
			transports = append(transports, wa)
			slog.Info("whatsapp transport initialized")
		}
	}
	dispatcher := notify.NewDispatcher(cfg.Scheduler.SendTimeout, transports...)

	gw.scheduler = scheduler.New(
		func(tenantID string) (scheduler.TaskStore, error) {
			return registry.Resolve(tenantID)
		},
		registry.Tenants,
		ex,
		dispatcher,
		cfg.Scheduler.Workers,
	)
	return gw
}

// CreateTask validates the spec, seeds next_run from the effective schedule
// and persists the task in the tenant's store.
func (gw *Gateway) CreateTask(ctx context.Context, tenantID string, spec *tasks.Spec) (*tasks.Task, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	t := tasks.NewTask(tenantID, spec)
	next, err := schedule.NextTrigger(t.EffectiveSchedule(), time.Now().UTC())
	if err != nil {
		return nil, err
	}
	t.NextRun = next

	st, err := gw.Registry.Resolve(tenantID)
	if err != nil {
		return nil, err
	}
	if err := st.SaveTask(ctx, t); err != nil {
		return nil, fmt.Errorf("save task: %w", err)
	}
	slog.Info("task created", "task_id", t.ID, "tenant_id", tenantID, "type", t.Type, "next_run", t.NextRun)
	return t, nil
}

// Update carries the owner-mutable fields. Pointers distinguish "leave as is"
// from "set to empty". Task type is fixed at creation.
type Update struct {
	AgentID          *string         `json:"agent_id,omitempty"`
	Prompt           *string         `json:"prompt,omitempty"`
	Schedule         *string         `json:"schedule,omitempty"`
	Condition        *string         `json:"condition,omitempty"`
	CheckInterval    *string         `json:"check_interval,omitempty"`
	Priority         *tasks.Priority `json:"priority,omitempty"`
	NotificationType []string        `json:"notification_type,omitempty"`
	Recipients       []string        `json:"recipients,omitempty"`
	Active           *bool           `json:"is_active,omitempty"`
}

func (gw *Gateway) UpdateTask(ctx context.Context, tenantID, taskID string, upd *Update) (*tasks.Task, error) {
	st, err := gw.Registry.Resolve(tenantID)
	if err != nil {
		return nil, err
	}
	t, err := st.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	if upd.Schedule != nil && t.Type != tasks.TypeScheduled {
		return nil, &tasks.ValidationError{Field: "schedule", Message: "only valid for scheduled tasks"}
	}
	if upd.Condition != nil && t.Type != tasks.TypeConditional {
		return nil, &tasks.ValidationError{Field: "condition", Message: "only valid for conditional tasks"}
	}

	oldEffective := t.EffectiveSchedule()
	if upd.AgentID != nil {
		t.AgentID = *upd.AgentID
	}
	if upd.Prompt != nil {
		if *upd.Prompt == "" {
			return nil, &tasks.ValidationError{Field: "prompt", Message: "must not be empty"}
		}
		t.Prompt = *upd.Prompt
	}
	if upd.Schedule != nil {
		if *upd.Schedule == "" {
			return nil, &tasks.ValidationError{Field: "schedule", Message: "required for scheduled tasks"}
		}
		t.Schedule = *upd.Schedule
	}
	if upd.Condition != nil {
		if *upd.Condition == "" {
			return nil, &tasks.ValidationError{Field: "condition", Message: "required for conditional tasks"}
		}
		t.Condition = *upd.Condition
	}
	if upd.CheckInterval != nil {
		t.CheckInterval = *upd.CheckInterval
	}
	if upd.Priority != nil {
		t.Priority = *upd.Priority
	}
	if upd.NotificationType != nil {
		t.NotificationType = upd.NotificationType
	}
	if upd.Recipients != nil {
		if len(upd.Recipients) == 0 {
			return nil, &tasks.ValidationError{Field: "recipients", Message: "must not be empty"}
		}
		t.Recipients = upd.Recipients
	}
	if upd.Active != nil {
		t.Active = *upd.Active
	}

	// Re-validate the full shape after applying the patch.
	spec := &tasks.Spec{
		AgentID:          t.AgentID,
		Prompt:           t.Prompt,
		Type:             t.Type,
		Schedule:         t.Schedule,
		Condition:        t.Condition,
		CheckInterval:    t.CheckInterval,
		Priority:         t.Priority,
		NotificationType: t.NotificationType,
		Recipients:       t.Recipients,
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	if t.EffectiveSchedule() != oldEffective {
		next, err := schedule.NextTrigger(t.EffectiveSchedule(), time.Now().UTC())
		if err != nil {
			return nil, err
		}
		t.NextRun = next
	}

	t.Updated = time.Now().UTC()
	if err := st.SaveTask(ctx, t); err != nil {
		return nil, fmt.Errorf("save task: %w", err)
	}
	return t, nil
}

func (gw *Gateway) GetTask(ctx context.Context, tenantID, taskID string) (*tasks.Task, error) {
	st, err := gw.Registry.Resolve(tenantID)
	if err != nil {
		return nil, err
	}
	return st.GetTask(ctx, taskID)
}

func (gw *Gateway) ListTasks(ctx context.Context, tenantID string) ([]*tasks.Task, error) {
	st, err := gw.Registry.Resolve(tenantID)
	if err != nil {
		return nil, err
	}
	return st.ListTasks(ctx)
}

func (gw *Gateway) DeleteTask(ctx context.Context, tenantID, taskID string) error {
	st, err := gw.Registry.Resolve(tenantID)
	if err != nil {
		return err
	}
	return st.DeleteTask(ctx, taskID)
}

func (gw *Gateway) ListNotifications(ctx context.Context, tenantID, recipient string, limit int) ([]*store.Notification, error) {
	st, err := gw.Registry.Resolve(tenantID)
	if err != nil {
		return nil, err
	}
	return st.ListNotifications(ctx, recipient, limit)
}

func (gw *Gateway) RunTaskNow(ctx context.Context, tenantID, taskID string) (tasks.Result, error) {
	return gw.scheduler.RunNow(ctx, tenantID, taskID)
}

func (gw *Gateway) Tick(ctx context.Context, tenantID string) (scheduler.Summary, error) {
	return gw.scheduler.Tick(ctx, tenantID)
}
