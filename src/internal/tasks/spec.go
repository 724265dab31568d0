package tasks

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ValidationError reports a bad task configuration. The task is not persisted.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid task: %s: %s", e.Field, e.Message)
}

// Spec is the creation payload for a task. Bookkeeping fields (next_run,
// last_run, last_result) are owned by the engine and cannot be supplied.
type Spec struct {
	AgentID          string   `json:"agent_id"`
	Prompt           string   `json:"prompt"`
	Type             Type     `json:"task_type"`
	Schedule         string   `json:"schedule,omitempty"`
	Condition        string   `json:"condition,omitempty"`
	CheckInterval    string   `json:"check_interval,omitempty"`
	Priority         Priority `json:"priority,omitempty"`
	NotificationType []string `json:"notification_type"`
	Recipients       []string `json:"recipients"`
}

var knownTransports = map[string]bool{
	"inapp":    true,
	"push":     true,
	"whatsapp": true,
}

// Validate checks everything except cron parseability, which needs the
// schedule evaluator and is enforced by the gateway before persisting.
func (s *Spec) Validate() error {
	if s.Prompt == "" {
		return &ValidationError{Field: "prompt", Message: "must not be empty"}
	}
	switch s.Type {
	case TypeScheduled:
		if s.Schedule == "" {
			return &ValidationError{Field: "schedule", Message: "required for scheduled tasks"}
		}
		if s.Condition != "" {
			return &ValidationError{Field: "condition", Message: "only valid for conditional tasks"}
		}
	case TypeConditional:
		if s.Condition == "" {
			return &ValidationError{Field: "condition", Message: "required for conditional tasks"}
		}
		if s.Schedule != "" {
			return &ValidationError{Field: "schedule", Message: "only valid for scheduled tasks"}
		}
	default:
		return &ValidationError{Field: "task_type", Message: fmt.Sprintf("must be %q or %q", TypeScheduled, TypeConditional)}
	}
	if len(s.Recipients) == 0 {
		return &ValidationError{Field: "recipients", Message: "must not be empty"}
	}
	if len(s.NotificationType) == 0 {
		return &ValidationError{Field: "notification_type", Message: "must not be empty"}
	}
	for _, nt := range s.NotificationType {
		if !knownTransports[nt] {
			return &ValidationError{Field: "notification_type", Message: fmt.Sprintf("unknown transport %q", nt)}
		}
	}
	if s.Priority != "" && s.Priority != PriorityInfo && s.Priority != PriorityUrgent {
		return &ValidationError{Field: "priority", Message: fmt.Sprintf("must be %q or %q", PriorityInfo, PriorityUrgent)}
	}
	return nil
}

// NewTask materializes a validated spec for a tenant. next_run is seeded by
// the caller once the effective schedule has been parsed.
func NewTask(tenantID string, s *Spec) *Task {
	now := time.Now().UTC()
	priority := s.Priority
	if priority == "" {
		priority = PriorityInfo
	}
	return &Task{
		ID:               uuid.New().String(),
		TenantID:         tenantID,
		AgentID:          s.AgentID,
		Prompt:           s.Prompt,
		Type:             s.Type,
		Schedule:         s.Schedule,
		Condition:        s.Condition,
		CheckInterval:    s.CheckInterval,
		Priority:         priority,
		Active:           true,
		NotificationType: s.NotificationType,
		Recipients:       s.Recipients,
		Created:          now,
		Updated:          now,
	}
}
