package notify

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/binary/proto"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"google.golang.org/protobuf/proto"

	"prometeo/src/internal/tasks"
)

// Whatsapp delivers task results as WhatsApp messages. Recipients are JIDs.
// Outbound only; inbound chat is not this service's surface.
type Whatsapp struct {
	mu     sync.Mutex
	client *whatsmeow.Client
}

func NewWhatsapp(storageDir string) (*Whatsapp, error) {
	whatsappDir := filepath.Join(storageDir, "whatsapp")
	if err := os.MkdirAll(whatsappDir, 0755); err != nil {
		return nil, fmt.Errorf("create whatsapp dir: %w", err)
	}
	dsn := "file:" + filepath.Join(whatsappDir, "whatsapp.db") + "?_foreign_keys=on"

	ctx := context.Background()
	container, err := sqlstore.New(ctx, "sqlite3", dsn, nil)
	if err != nil {
		return nil, fmt.Errorf("connect whatsapp store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("get device store: %w", err)
	}

	client := whatsmeow.NewClient(deviceStore, nil)
	client.EnableAutoReconnect = true

	if client.Store.ID != nil {
		go func() {
			if err := client.Connect(); err != nil {
				slog.Error("whatsapp connect failed", "error", err)
			}
		}()
	} else {
		slog.Info("whatsapp not logged in, call Enroll to get QR")
	}

	return &Whatsapp{client: client}, nil
}

func (w *Whatsapp) Name() string {
	return "whatsapp"
}

func (w *Whatsapp) Status() map[string]any {
	w.mu.Lock()
	defer w.mu.Unlock()
	return map[string]any{
		"connected": w.client.IsConnected(),
		"logged_in": w.client.Store.ID != nil,
	}
}

// Enroll logs the device out and prints a fresh pairing QR to stdout.
func (w *Whatsapp) Enroll(ctx context.Context) error {
	w.mu.Lock()
	client := w.client
	w.mu.Unlock()
	if err := client.Logout(ctx); err != nil {
		return fmt.Errorf("whatsapp logout: %w", err)
	}
	go func() {
		qrChan, _ := client.GetQRChannel(ctx)
		for evt := range qrChan {
			if evt.Event == "code-ok" {
				slog.Info("whatsapp login successful")
				break
			}
			slog.Info("whatsapp QR code", "code", evt.Code)
			qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, os.Stdout)
		}
	}()
	return client.Connect()
}

func (w *Whatsapp) Send(ctx context.Context, recipient string, msg Message) error {
	w.mu.Lock()
	client := w.client
	w.mu.Unlock()

	if client.Store.ID == nil {
		return fmt.Errorf("whatsapp not logged in")
	}
	jid, err := types.ParseJID(recipient)
	if err != nil {
		return fmt.Errorf("invalid JID %s: %w", recipient, err)
	}

	text := msg.Text
	if msg.Priority == tasks.PriorityUrgent {
		text = "[URGENT] " + text
	}
	_, err = client.SendMessage(ctx, jid, &waProto.Message{
		Conversation: proto.String(text),
	})
	return err
}
