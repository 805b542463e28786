// Package matrix is the chat gateway: it receives worker messages from
// Matrix rooms, hands them to the dispatcher and posts the reply in-thread.
//
// Each configured room belongs to exactly one tenant. The worker identity is
// the sender's Matrix user ID; bridged WhatsApp or Signal users keep a stable
// MXID per phone number.
package matrix

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/bdobrica/uklid/common/trace"
	"github.com/bdobrica/uklid/internal/uklid/dispatch"
	"github.com/bdobrica/uklid/internal/uklid/observability"
)

// Config holds the gateway settings.
type Config struct {
	Homeserver  string
	UserID      string
	AccessToken string
	// RoomTenants maps room IDs to tenant IDs. Messages from other rooms are
	// ignored.
	RoomTenants map[string]string
	// DB persists the sync token. When nil an in-memory store is used and
	// history replays on restart.
	DB     *sql.DB
	Logger *slog.Logger
}

// Handler produces the reply for one worker message.
type Handler interface {
	HandleMessage(ctx context.Context, msg dispatch.Message) (string, error)
}

// Client wraps the mautrix client.
type Client struct {
	client  *mautrix.Client
	config  Config
	handler Handler
	logger  *slog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New creates a Client. It does not contact the homeserver.
func New(cfg Config, handler Handler) (*Client, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if len(cfg.RoomTenants) == 0 {
		return nil, errors.New("matrix: no rooms configured")
	}
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("matrix: create client: %w", err)
	}

	if cfg.DB != nil {
		client.Store = NewDBSyncStore(cfg.DB)
	} else {
		cfg.Logger.Warn("matrix: no DB configured, using in-memory sync store (history will replay on restart)")
	}

	return &Client{
		client:  client,
		config:  cfg,
		handler: handler,
		logger:  cfg.Logger,
		stopCh:  make(chan struct{}),
	}, nil
}

// Start joins the configured rooms and syncs in the background until Stop.
func (c *Client) Start(ctx context.Context) error {
	syncer, ok := c.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return errors.New("matrix: unexpected syncer type")
	}
	syncer.OnEventType(event.EventMessage, c.handleEvent)

	rooms := make([]string, 0, len(c.config.RoomTenants))
	for room := range c.config.RoomTenants {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	for _, room := range rooms {
		if err := c.joinRoom(ctx, id.RoomID(room)); err != nil {
			return fmt.Errorf("matrix: join %s: %w", room, err)
		}
	}

	go c.syncLoop()
	return nil
}

// syncLoop restarts the sync with exponential back-off after transient
// homeserver errors.
func (c *Client) syncLoop() {
	const (
		backoffMin = 2 * time.Second
		backoffMax = 5 * time.Minute
	)
	backoff := backoffMin
	for {
		started := time.Now()
		err := c.client.Sync()
		if err == nil {
			return
		}
		select {
		case <-c.stopCh:
			return
		default:
		}
		if time.Since(started) > backoffMax {
			backoff = backoffMin
		}
		c.logger.Error("matrix: sync stopped; reconnecting", "err", err, "backoff", backoff)
		select {
		case <-c.stopCh:
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, backoffMax)
	}
}

// Stop ends the sync loop. Safe to call multiple times.
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		c.client.StopSync()
	})
}

func (c *Client) handleEvent(ctx context.Context, evt *event.Event) {
	msg, ok := c.messageFromEvent(evt)
	if !ok {
		return
	}
	ctx = trace.WithTraceID(ctx, trace.GenerateID())

	reply, err := c.handler.HandleMessage(ctx, msg)
	if err != nil {
		observability.WithTrace(ctx, c.logger).Error("matrix: message not handled",
			"room", evt.RoomID, "event_id", evt.ID, observability.Worker(msg.WorkerID), "err", err)
		return
	}
	if reply == "" {
		return
	}
	if err := c.reply(ctx, evt.RoomID, evt.ID, reply); err != nil {
		observability.WithTrace(ctx, c.logger).Warn("matrix: reply failed",
			"room", evt.RoomID, "event_id", evt.ID, "err", err)
	}
}

// messageFromEvent maps a room event to a worker message. Own messages,
// non-text messages and rooms without a tenant are skipped.
func (c *Client) messageFromEvent(evt *event.Event) (dispatch.Message, bool) {
	if evt.Sender == id.UserID(c.config.UserID) {
		return dispatch.Message{}, false
	}
	tenant, ok := c.config.RoomTenants[evt.RoomID.String()]
	if !ok {
		return dispatch.Message{}, false
	}
	content := evt.Content.AsMessage()
	if content == nil || content.MsgType != event.MsgText || content.Body == "" {
		return dispatch.Message{}, false
	}
	return dispatch.Message{
		TenantID: tenant,
		WorkerID: evt.Sender.String(),
		Text:     content.Body,
	}, true
}

func (c *Client) reply(ctx context.Context, roomID id.RoomID, eventID id.EventID, text string) error {
	content := event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    text,
		RelatesTo: &event.RelatesTo{
			InReplyTo: &event.InReplyTo{EventID: eventID},
		},
	}
	_, err := c.client.SendMessageEvent(ctx, roomID, event.EventMessage, &content)
	return err
}

func (c *Client) joinRoom(ctx context.Context, roomID id.RoomID) error {
	_, err := c.client.JoinRoomByID(ctx, roomID)
	if err != nil {
		// Homeservers answer M_FORBIDDEN when the bot is already a member.
		if errors.Is(err, mautrix.MForbidden) {
			c.logger.Warn("matrix: already a member or access denied, continuing", "room", roomID)
			return nil
		}
		return err
	}
	return nil
}
