// Package telegram is the Telegram transport. It long-polls the Bot API and
// answers private chats.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/gringolingo/gringolingo/common/retry"
	"github.com/gringolingo/gringolingo/common/trace"
	"github.com/gringolingo/gringolingo/internal/gringo/channel"
	"github.com/gringolingo/gringolingo/internal/gringo/observability"
)

// maxMessageLength is the Bot API limit for one text message.
const maxMessageLength = 4096

// Config configures the Telegram transport.
type Config struct {
	Token string
	// ResetCommand is what /start is translated to, so a user's first
	// contact starts a fresh conversation.
	ResetCommand string
	// PollTimeout is the long-poll timeout in seconds.
	PollTimeout int
}

// sender is the part of *tgbotapi.BotAPI used to reply.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Bot is a running Telegram transport.
type Bot struct {
	api     *tgbotapi.BotAPI
	send    sender
	handler channel.Handler
	cfg     Config
	cancel  context.CancelFunc
	done    chan struct{}
}

// New authenticates with the Bot API.
func New(cfg Config, handler channel.Handler) (*Bot, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram: bot token is required")
	}
	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram: invalid token: %w", observability.RedactErr(err, cfg.Token))
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 60
	}
	return &Bot{api: api, send: api, handler: handler, cfg: cfg, done: make(chan struct{})}, nil
}

// Start begins long polling in the background.
func (b *Bot) Start(ctx context.Context) error {
	ctx, b.cancel = context.WithCancel(ctx)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.cfg.PollTimeout
	updates := b.api.GetUpdatesChan(u)

	slog.Info("Telegram transport started", "bot", b.api.Self.UserName)

	go func() {
		defer close(b.done)
		for {
			select {
			case <-ctx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				b.handleUpdate(ctx, update)
			}
		}
	}()
	return nil
}

// Stop ends polling and waits for the update loop to exit.
func (b *Bot) Stop() {
	if b.cancel == nil {
		return
	}
	b.api.StopReceivingUpdates()
	b.cancel()
	<-b.done
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg, ok := b.toMessage(update)
	if !ok {
		return
	}

	ctx = trace.Ensure(ctx)
	logger := observability.WithTrace(ctx)

	resp, err := b.handler.HandleMessage(ctx, msg)
	if err != nil {
		logger.Warn("telegram: handler failed", "chat", msg.ChatID, "err", err)
	}
	if resp.Text == "" {
		return
	}

	chatID := update.Message.Chat.ID
	for _, part := range splitMessage(resp.Text, maxMessageLength) {
		reply := tgbotapi.NewMessage(chatID, part)
		err := retry.Do(ctx, retry.DefaultConfig, func() error {
			_, err := b.send.Send(reply)
			return err
		})
		if err != nil {
			logger.Error("telegram: failed to send reply", "chat", msg.ChatID, "err", err)
			return
		}
	}
}

// toMessage accepts text messages from private chats.
func (b *Bot) toMessage(update tgbotapi.Update) (channel.Message, bool) {
	m := update.Message
	if m == nil || m.Chat == nil || m.From == nil || !m.Chat.IsPrivate() {
		return channel.Message{}, false
	}
	text := strings.TrimSpace(m.Text)
	if text == "" {
		return channel.Message{}, false
	}
	if m.IsCommand() && m.Command() == "start" && b.cfg.ResetCommand != "" {
		text = b.cfg.ResetCommand
	}

	userID := strconv.FormatInt(m.From.ID, 10)
	return channel.Message{
		Platform:  channel.PlatformTelegram,
		EventID:   strconv.FormatInt(m.Chat.ID, 10) + ":" + strconv.Itoa(m.MessageID),
		UserKey:   channel.UserKey(channel.PlatformTelegram, userID),
		ChatID:    strconv.FormatInt(m.Chat.ID, 10),
		Text:      text,
		Timestamp: time.Unix(int64(m.Date), 0),
	}, true
}

// splitMessage cuts text into chunks of at most limit runes, preferring
// line breaks.
func splitMessage(text string, limit int) []string {
	runes := []rune(text)
	var parts []string
	for len(runes) > limit {
		cut := limit
		for i := limit; i > limit/2; i-- {
			if runes[i-1] == '\n' {
				cut = i
				break
			}
		}
		parts = append(parts, strings.TrimRight(string(runes[:cut]), "\n"))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		parts = append(parts, string(runes))
	}
	return parts
}
