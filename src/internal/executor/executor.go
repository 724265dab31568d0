package executor

import (
	"context"
	"log/slog"

	"prometeo/src/internal/tasks"
)

// Agent is the slice of the agent runner the executor needs.
type Agent interface {
	Run(ctx context.Context, agentID, prompt string) (string, error)
}

// ConditionEvaluator gates conditional tasks.
type ConditionEvaluator interface {
	IsMet(ctx context.Context, agentID, conditionText, tenantID string) (bool, error)
}

// Executor turns one task into a Result. It never touches the store; writes
// are the scheduler's job, which keeps execution idempotent and testable.
type Executor struct {
	agent     Agent
	condition ConditionEvaluator
}

func New(agent Agent, condition ConditionEvaluator) *Executor {
	return &Executor{agent: agent, condition: condition}
}

// Run executes the task's prompt through the agent. Conditional tasks check
// their condition first; an unmet condition yields a skipped result so the
// poll advances without pretending a run happened.
func (e *Executor) Run(ctx context.Context, t *tasks.Task) tasks.Result {
	if t.Type == tasks.TypeConditional {
		met, err := e.condition.IsMet(ctx, t.AgentID, t.Condition, t.TenantID)
		if err != nil {
			slog.Warn("condition evaluation failed, task not fired",
				"task_id", t.ID, "tenant_id", t.TenantID, "error", err)
		}
		if !met {
			return tasks.Result{Skipped: true}
		}
	}

	resp, err := e.agent.Run(ctx, t.AgentID, t.Prompt)
	if err != nil {
		return tasks.Result{Success: false, Err: err.Error()}
	}
	return tasks.Result{Success: true, Message: resp}
}
