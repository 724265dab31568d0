package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"prometeo/src/internal/config"
)

// Error wraps a failed agent execution. Recorded as last_result = error on
// the owning task; the task stays active and retries on its next due instant.
type Error struct {
	AgentID string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("agent %s: %v", e.AgentID, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Runner executes prompts against the configured agent profiles. It is the
// engine's only window into the AI collaborator; whatever tools the agent
// calls internally are opaque here.
type Runner struct {
	cfg     *config.Config
	timeout time.Duration

	mu      sync.Mutex
	clients map[string]*openai.Client
}

func NewRunner(cfg *config.Config) *Runner {
	timeout := cfg.Scheduler.AgentTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Runner{
		cfg:     cfg,
		timeout: timeout,
		clients: make(map[string]*openai.Client),
	}
}

func (r *Runner) profile(agentID string) (string, config.AgentConfig, error) {
	if agentID == "" {
		agentID = r.cfg.Agents.Default
	}
	if p, ok := r.cfg.Agents.Profiles[agentID]; ok {
		return agentID, p, nil
	}
	// Unknown agent ids fall back to the default profile.
	if p, ok := r.cfg.Agents.Profiles[r.cfg.Agents.Default]; ok {
		return r.cfg.Agents.Default, p, nil
	}
	return agentID, config.AgentConfig{}, fmt.Errorf("no agent profile for %q and no default configured", agentID)
}

func (r *Runner) client(provider string) (*openai.Client, string, error) {
	prov, ok := r.cfg.Models.Providers[provider]
	if !ok {
		return nil, "", fmt.Errorf("provider %q not configured", provider)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[provider]; ok {
		return c, prov.BaseURL, nil
	}

	clientCfg := openai.DefaultConfig(prov.APIKey)
	if prov.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(prov.BaseURL, "/")
	}
	c := openai.NewClientWithConfig(clientCfg)
	r.clients[provider] = c
	return c, prov.BaseURL, nil
}

// Run sends the prompt to the agent and returns the generated text. The call
// is bounded by the configured agent timeout; a timeout is an agent error
// like any other.
func (r *Runner) Run(ctx context.Context, agentID, prompt string) (string, error) {
	id, prof, err := r.profile(agentID)
	if err != nil {
		return "", &Error{AgentID: agentID, Err: err}
	}

	parts := strings.SplitN(prof.Model, "/", 2)
	if len(parts) != 2 {
		return "", &Error{AgentID: id, Err: fmt.Errorf("invalid model format %q, expected provider/model", prof.Model)}
	}
	provider, model := parts[0], parts[1]

	client, _, err := r.client(provider)
	if err != nil {
		return "", &Error{AgentID: id, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if prof.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: prof.SystemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})

	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
	})
	if err != nil {
		return "", &Error{AgentID: id, Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", &Error{AgentID: id, Err: fmt.Errorf("no choices returned from %s", provider)}
	}
	return resp.Choices[0].Message.Content, nil
}
