// Package whatsapp is the WhatsApp transport, linked to a phone as a
// companion device. The device session lives in its own SQLite file.
package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/skip2/go-qrcode"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	_ "modernc.org/sqlite" // SQLite driver for the device store

	"github.com/gringolingo/gringolingo/common/retry"
	"github.com/gringolingo/gringolingo/common/trace"
	"github.com/gringolingo/gringolingo/internal/gringo/channel"
	"github.com/gringolingo/gringolingo/internal/gringo/observability"
)

// ErrNotPairing is returned by QRCodePNG when no pairing code is pending.
var ErrNotPairing = errors.New("whatsapp: no pairing in progress")

// Config configures the WhatsApp transport.
type Config struct {
	// DBPath is the SQLite file holding the device keys and session.
	DBPath string
	// LogLevel is the whatsmeow log level routed into slog.
	LogLevel string
}

type sender interface {
	SendMessage(ctx context.Context, to types.JID, message *waE2E.Message, extra ...whatsmeow.SendRequestExtra) (whatsmeow.SendResponse, error)
}

// Client is a running WhatsApp transport.
type Client struct {
	client    *whatsmeow.Client
	container *sqlstore.Container
	send      sender
	handler   channel.Handler

	mu     sync.RWMutex
	qrCode string
}

// New opens the device store and prepares a client.
func New(ctx context.Context, cfg Config, handler channel.Handler) (*Client, error) {
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("whatsapp: device database path is required")
	}
	dsn := "file:" + cfg.DBPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	container, err := sqlstore.New(ctx, "sqlite", dsn, newLogger("Database", cfg.LogLevel))
	if err != nil {
		return nil, fmt.Errorf("whatsapp: open device store: %w", err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		container.Close()
		return nil, fmt.Errorf("whatsapp: load device: %w", err)
	}

	client := whatsmeow.NewClient(device, newLogger("Client", cfg.LogLevel))
	c := &Client{
		client:    client,
		container: container,
		send:      client,
		handler:   handler,
	}
	client.AddEventHandler(c.handleEvent)
	return c, nil
}

// Start connects. An unpaired device prints a pairing QR code to stdout and
// exposes it through QRCodePNG until a phone scans it.
func (c *Client) Start(ctx context.Context) error {
	if c.client.Store.ID != nil {
		if err := c.client.Connect(); err != nil {
			return fmt.Errorf("whatsapp: connect: %w", err)
		}
		slog.Info("WhatsApp transport started", "phone", c.client.Store.ID.User)
		return nil
	}

	qrChan, err := c.client.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("whatsapp: get QR channel: %w", err)
	}
	if err := c.client.Connect(); err != nil {
		return fmt.Errorf("whatsapp: connect: %w", err)
	}

	go func() {
		for evt := range qrChan {
			switch evt.Event {
			case "code":
				c.setQRCode(evt.Code)
				if art, err := qrcode.New(evt.Code, qrcode.Medium); err == nil {
					fmt.Fprintln(os.Stdout, art.ToSmallString(false))
				}
				slog.Info("WhatsApp pairing: scan the QR code with the phone (also served at /whatsapp/qr.png)")
			default:
				c.setQRCode("")
				slog.Info("WhatsApp pairing event", "event", evt.Event)
			}
		}
	}()
	return nil
}

// Stop disconnects and closes the device store.
func (c *Client) Stop() {
	c.client.Disconnect()
	if err := c.container.Close(); err != nil {
		slog.Warn("whatsapp: close device store", "err", err)
	}
}

// QRCodePNG renders the pending pairing code as a PNG image.
func (c *Client) QRCodePNG(size int) ([]byte, error) {
	c.mu.RLock()
	code := c.qrCode
	c.mu.RUnlock()
	if code == "" {
		return nil, ErrNotPairing
	}
	return qrcode.Encode(code, qrcode.Medium, size)
}

func (c *Client) setQRCode(code string) {
	c.mu.Lock()
	c.qrCode = code
	c.mu.Unlock()
}

func (c *Client) handleEvent(evt any) {
	switch v := evt.(type) {
	case *events.Message:
		c.handleMessage(context.Background(), v)
	case *events.PairSuccess:
		c.setQRCode("")
		slog.Info("WhatsApp paired", "phone", v.ID.User)
	case *events.Connected:
		slog.Info("WhatsApp connected")
	case *events.LoggedOut:
		slog.Warn("WhatsApp session logged out; delete the device database and pair again", "reason", v.Reason)
	}
}

func (c *Client) handleMessage(ctx context.Context, evt *events.Message) {
	msg, ok := toMessage(evt)
	if !ok {
		return
	}

	ctx = trace.Ensure(ctx)
	logger := observability.WithTrace(ctx)

	resp, err := c.handler.HandleMessage(ctx, msg)
	if err != nil {
		logger.Warn("whatsapp: handler failed", "chat", msg.ChatID, "err", err)
	}
	if resp.Text == "" {
		return
	}

	text := resp.Text
	err = retry.Do(ctx, retry.DefaultConfig, func() error {
		_, err := c.send.SendMessage(ctx, evt.Info.Chat, &waE2E.Message{Conversation: &text})
		return err
	})
	if err != nil {
		logger.Error("whatsapp: failed to send reply", "chat", msg.ChatID, "err", err)
	}
}

// toMessage accepts text from one-to-one chats.
func toMessage(evt *events.Message) (channel.Message, bool) {
	info := evt.Info
	if info.IsFromMe || info.IsGroup || info.Chat.Server == types.BroadcastServer {
		return channel.Message{}, false
	}
	text := evt.Message.GetConversation()
	if text == "" {
		text = evt.Message.GetExtendedTextMessage().GetText()
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return channel.Message{}, false
	}
	return channel.Message{
		Platform:  channel.PlatformWhatsApp,
		EventID:   string(info.ID),
		UserKey:   channel.UserKey(channel.PlatformWhatsApp, info.Sender.User),
		ChatID:    info.Chat.String(),
		Text:      text,
		Timestamp: info.Timestamp,
	}, true
}
