package notify

import (
	"context"
	"fmt"
)

// Broadcaster pushes a payload to every live connection a recipient holds.
// The API layer's websocket hub implements it.
type Broadcaster interface {
	Broadcast(recipient string, payload any) (int, error)
}

// Push delivers over the websocket hub. A recipient with no open connection
// is a delivery failure for that recipient only.
type Push struct {
	hub Broadcaster
}

func NewPush(hub Broadcaster) *Push {
	return &Push{hub: hub}
}

func (p *Push) Name() string {
	return "push"
}

func (p *Push) Send(ctx context.Context, recipient string, msg Message) error {
	n, err := p.hub.Broadcast(recipient, msg)
	if err != nil {
		return fmt.Errorf("push to %s: %w", recipient, err)
	}
	if n == 0 {
		return fmt.Errorf("push to %s: no active connections", recipient)
	}
	return nil
}
