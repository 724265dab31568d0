package condition

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"
)

// Agent is the slice of the agent runner the evaluator needs.
type Agent interface {
	Run(ctx context.Context, agentID, prompt string) (string, error)
}

// Evaluator asks the agent whether a natural-language condition currently
// holds against the tenant's data. The agent's answer is untrusted input:
// anything that is not an unambiguous yes reads as "not met", so a task can
// never fire spuriously because of an evaluation fault.
type Evaluator struct {
	agent Agent
}

func NewEvaluator(agent Agent) *Evaluator {
	return &Evaluator{agent: agent}
}

const verdictPrompt = `Evaluate whether the following condition is currently true for tenant %q.
Check the live data you have access to. Answer with exactly one word: YES or NO.

Condition: %s`

// IsMet evaluates the condition. On any error the verdict is false and the
// error is returned for logging; repeated failures are a silent-skip risk,
// so callers must surface them.
func (e *Evaluator) IsMet(ctx context.Context, agentID, conditionText, tenantID string) (bool, error) {
	resp, err := e.agent.Run(ctx, agentID, fmt.Sprintf(verdictPrompt, tenantID, conditionText))
	if err != nil {
		return false, fmt.Errorf("evaluate condition: %w", err)
	}

	verdict, ok := parseVerdict(resp)
	if !ok {
		slog.Warn("ambiguous condition verdict treated as not met", "tenant_id", tenantID, "response_len", len(resp))
		return false, fmt.Errorf("ambiguous verdict %q", truncate(resp, 80))
	}
	return verdict, nil
}

// parseVerdict extracts the first YES/NO token from the agent's reply.
func parseVerdict(resp string) (bool, bool) {
	for _, field := range strings.Fields(resp) {
		token := strings.ToUpper(strings.Trim(field, ".,!:;\"'`*"))
		switch token {
		case "YES":
			return true, true
		case "NO":
			return false, true
		}
	}
	return false, false
}

// truncate cuts s to at most n bytes on a rune boundary.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
