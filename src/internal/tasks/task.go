package tasks

import (
	"time"
)

type Type string

const (
	TypeScheduled   Type = "scheduled"
	TypeConditional Type = "conditional"
)

type Priority string

const (
	PriorityInfo   Priority = "info"
	PriorityUrgent Priority = "urgent"
)

const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// DefaultCheckInterval is how often a conditional task polls its condition
// when no check_interval is set.
const DefaultCheckInterval = "*/15 * * * *"

type Task struct {
	ID               string     `json:"id"`
	TenantID         string     `json:"tenant_id"`
	AgentID          string     `json:"agent_id"`
	Prompt           string     `json:"prompt"`
	Type             Type       `json:"task_type"`
	Schedule         string     `json:"schedule,omitempty"`
	Condition        string     `json:"condition,omitempty"`
	CheckInterval    string     `json:"check_interval,omitempty"`
	Priority         Priority   `json:"priority,omitempty"`
	NextRun          time.Time  `json:"next_run"`
	LastRun          *time.Time `json:"last_run,omitempty"`
	LastResult       string     `json:"last_result,omitempty"`
	LastError        string     `json:"last_error,omitempty"`
	LastChecked      *time.Time `json:"last_checked,omitempty"`
	Active           bool       `json:"is_active"`
	NotificationType []string   `json:"notification_type"`
	Recipients       []string   `json:"recipients"`
	Created          time.Time  `json:"created"`
	Updated          time.Time  `json:"updated"`
}

// EffectiveSchedule is the cron expression that drives next_run: the task's
// own schedule for scheduled tasks, the poll cadence for conditional ones.
func (t *Task) EffectiveSchedule() string {
	if t.Type == TypeConditional {
		if t.CheckInterval != "" {
			return t.CheckInterval
		}
		return DefaultCheckInterval
	}
	return t.Schedule
}

// Result is the outcome of one execution attempt. Skipped marks a conditional
// task whose condition was not met; it is neither success nor error and must
// not overwrite last_result.
type Result struct {
	Success bool   `json:"success"`
	Skipped bool   `json:"skipped,omitempty"`
	Message string `json:"message,omitempty"`
	Err     string `json:"error,omitempty"`
}

func (r Result) Status() string {
	if r.Skipped {
		return "skipped"
	}
	if r.Success {
		return ResultSuccess
	}
	return ResultError
}
