package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"prometeo/src/internal/tasks"
)

// Message is the payload handed to a transport for one recipient.
type Message struct {
	TaskID   string         `json:"task_id"`
	TenantID string         `json:"tenant_id"`
	Priority tasks.Priority `json:"priority"`
	Text     string         `json:"text"`
}

// Transport delivers a message to one recipient over one channel.
type Transport interface {
	Name() string
	Send(ctx context.Context, recipient string, msg Message) error
}

// Delivery is the outcome of one transport/recipient pair.
type Delivery struct {
	Transport string `json:"transport"`
	Recipient string `json:"recipient"`
	Err       string `json:"error,omitempty"`
}

type DeliveryReport struct {
	Deliveries []Delivery `json:"deliveries"`
	Delivered  int        `json:"delivered"`
	Failed     int        `json:"failed"`
}

// Dispatcher fans a task result out to every recipient on every configured
// transport. One bad recipient never blocks the rest, and delivery failures
// never flip the task run to error: task success reflects whether the work
// was produced, not whether every notification landed.
type Dispatcher struct {
	transports  map[string]Transport
	sendTimeout time.Duration
}

func NewDispatcher(sendTimeout time.Duration, transports ...Transport) *Dispatcher {
	if sendTimeout <= 0 {
		sendTimeout = 30 * time.Second
	}
	m := make(map[string]Transport, len(transports))
	for _, t := range transports {
		m[t.Name()] = t
	}
	return &Dispatcher{transports: m, sendTimeout: sendTimeout}
}

func (d *Dispatcher) Dispatch(ctx context.Context, t *tasks.Task, result tasks.Result) DeliveryReport {
	msg := Message{
		TaskID:   t.ID,
		TenantID: t.TenantID,
		Priority: t.Priority,
		Text:     result.Message,
	}
	if !result.Success {
		msg.Text = fmt.Sprintf("task failed: %s", result.Err)
	}

	var report DeliveryReport
	for _, name := range t.NotificationType {
		transport, ok := d.transports[name]
		for _, recipient := range t.Recipients {
			delivery := Delivery{Transport: name, Recipient: recipient}
			if !ok {
				delivery.Err = fmt.Sprintf("unknown transport %q", name)
			} else if err := d.send(ctx, transport, recipient, msg); err != nil {
				delivery.Err = err.Error()
			}

			if delivery.Err != "" {
				report.Failed++
				slog.Warn("notification delivery failed",
					"task_id", t.ID, "tenant_id", t.TenantID,
					"transport", name, "recipient", recipient, "error", delivery.Err)
			} else {
				report.Delivered++
			}
			report.Deliveries = append(report.Deliveries, delivery)
		}
	}
	return report
}

func (d *Dispatcher) send(ctx context.Context, transport Transport, recipient string, msg Message) error {
	ctx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()
	return transport.Send(ctx, recipient, msg)
}
