package notify

import (
	"context"
	"fmt"

	"prometeo/src/internal/store"
)

// InApp writes a notification row into the recipient's tenant store. The
// tenant's UI reads the rows back through the notifications feed.
type InApp struct {
	registry *store.Registry
}

func NewInApp(registry *store.Registry) *InApp {
	return &InApp{registry: registry}
}

func (i *InApp) Name() string {
	return "inapp"
}

func (i *InApp) Send(ctx context.Context, recipient string, msg Message) error {
	st, err := i.registry.Resolve(msg.TenantID)
	if err != nil {
		return fmt.Errorf("inapp notification: %w", err)
	}
	return st.InsertNotification(ctx, &store.Notification{
		TaskID:    msg.TaskID,
		Recipient: recipient,
		Priority:  string(msg.Priority),
		Message:   msg.Text,
	})
}
