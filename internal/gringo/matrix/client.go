// Package matrix is the Matrix transport: every direct message to the bot's
// account becomes a channel.Message and the reply is sent back to the room.
package matrix

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/gringolingo/gringolingo/common/retry"
	"github.com/gringolingo/gringolingo/common/trace"
	"github.com/gringolingo/gringolingo/internal/gringo/channel"
	"github.com/gringolingo/gringolingo/internal/gringo/observability"
)

// Config holds Matrix client configuration.
type Config struct {
	Homeserver  string
	UserID      string
	AccessToken string
	// DB persists the /sync position across restarts. When nil an in-memory
	// store is used and only events newer than startup are handled.
	DB *sql.DB
}

// Client wraps the mautrix client.
type Client struct {
	client  *mautrix.Client
	userID  id.UserID
	handler channel.Handler
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a Matrix client. It does not connect until Start.
func New(cfg Config, handler channel.Handler) (*Client, error) {
	if cfg.Homeserver == "" || cfg.UserID == "" || cfg.AccessToken == "" {
		return nil, fmt.Errorf("matrix: homeserver, user id and access token are required")
	}
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Matrix client: %w", err)
	}

	if cfg.DB != nil {
		client.Store = newDBSyncStore(cfg.DB)
		slog.Info("Matrix sync store: using persistent SQLite store")
	} else {
		slog.Warn("Matrix sync store: no DB configured, using in-memory store")
	}

	return &Client{
		client:  client,
		userID:  id.UserID(cfg.UserID),
		handler: handler,
		done:    make(chan struct{}),
	}, nil
}

// Start registers event handlers and syncs in the background, reconnecting
// with exponential back-off until Stop is called.
func (c *Client) Start(ctx context.Context) error {
	syncer, ok := c.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("matrix: unexpected syncer type %T", c.client.Syncer)
	}
	ctx, c.cancel = context.WithCancel(ctx)
	// Skip the backlog delivered by the very first sync.
	syncer.OnSync(c.client.DontProcessOldEvents)
	syncer.OnEventType(event.StateMember, c.handleMembership)
	syncer.OnEventType(event.EventMessage, c.handleMessage)

	go func() {
		defer close(c.done)
		const (
			backoffMin = 2 * time.Second
			backoffMax = 5 * time.Minute
		)
		backoff := backoffMin
		for {
			err := c.client.SyncWithContext(ctx)
			if err == nil || ctx.Err() != nil {
				return
			}
			slog.Error("Matrix sync stopped; reconnecting", "err", err, "backoff", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, backoffMax)
		}
	}()

	slog.Info("Matrix transport started", "user_id", c.userID)
	return nil
}

// Stop ends the sync loop and waits for it to exit.
func (c *Client) Stop() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	c.client.StopSync()
	<-c.done
}

// SendText sends a plain text message, retrying transient failures.
func (c *Client) SendText(ctx context.Context, roomID, text string) error {
	err := retry.Do(ctx, retry.DefaultConfig, func() error {
		_, err := c.client.SendText(ctx, id.RoomID(roomID), text)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// handleMembership joins rooms the bot is invited to.
func (c *Client) handleMembership(ctx context.Context, evt *event.Event) {
	if evt.GetStateKey() != c.userID.String() {
		return
	}
	member := evt.Content.AsMember()
	if member == nil || member.Membership != event.MembershipInvite {
		return
	}
	if _, err := c.client.JoinRoomByID(ctx, evt.RoomID); err != nil {
		if errors.Is(err, mautrix.MForbidden) {
			slog.Warn("matrix: cannot join room", "room", evt.RoomID, "err", err)
			return
		}
		slog.Error("matrix: failed to join room", "room", evt.RoomID, "err", err)
		return
	}
	slog.Info("matrix: joined room", "room", evt.RoomID, "inviter", evt.Sender)
}

// handleMessage turns a text message into a channel.Message and sends the
// handler's reply to the same room.
func (c *Client) handleMessage(ctx context.Context, evt *event.Event) {
	msg, ok := c.toMessage(evt)
	if !ok {
		return
	}

	ctx = trace.Ensure(ctx)
	logger := observability.WithTrace(ctx)

	resp, err := c.handler.HandleMessage(ctx, msg)
	if err != nil {
		logger.Warn("matrix: handler failed", "room", msg.ChatID, "err", err)
	}
	if resp.Text == "" {
		return
	}
	if err := c.SendText(ctx, msg.ChatID, resp.Text); err != nil {
		logger.Error("matrix: failed to send reply", "room", msg.ChatID, "err", err)
	}
}

func (c *Client) toMessage(evt *event.Event) (channel.Message, bool) {
	if evt.Sender == c.userID {
		return channel.Message{}, false
	}
	content := evt.Content.AsMessage()
	if content == nil || content.MsgType != event.MsgText || content.Body == "" {
		return channel.Message{}, false
	}
	return channel.Message{
		Platform:  channel.PlatformMatrix,
		EventID:   evt.ID.String(),
		UserKey:   channel.UserKey(channel.PlatformMatrix, evt.Sender.String()),
		ChatID:    evt.RoomID.String(),
		Text:      content.Body,
		Timestamp: time.UnixMilli(evt.Timestamp),
	}, true
}
