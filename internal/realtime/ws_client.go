package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/example/court-matching/internal/logging"
	"github.com/example/court-matching/internal/observability"
)

var (
	ErrQueueFull = errors.New("send queue full")
	ErrClosed    = errors.New("connection closed")
)

const (
	writeWait      = 10 * time.Second
	maxFrameBytes  = 64 << 10
	defaultBuffer  = 64
	defaultPingInt = 30 * time.Second
)

type ClientOptions struct {
	SendBuffer   int
	PingInterval time.Duration
	Logger       *slog.Logger
}

// WSClient is one websocket session. Outbound events are queued and written
// by a single writer goroutine; a full queue drops the event.
type WSClient struct {
	id     string
	userID string
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once

	ping   time.Duration
	logger *slog.Logger
}

func NewWSClient(conn *websocket.Conn, userID string, opts ClientOptions) *WSClient {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultBuffer
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPingInt
	}
	return &WSClient{
		id:     uuid.NewString(),
		userID: userID,
		conn:   conn,
		send:   make(chan []byte, opts.SendBuffer),
		done:   make(chan struct{}),
		ping:   opts.PingInterval,
		logger: logging.OrDiscard(opts.Logger),
	}
}

func (c *WSClient) ID() string     { return c.id }
func (c *WSClient) UserID() string { return c.userID }

func (c *WSClient) Send(event string, data json.RawMessage) error {
	b, err := json.Marshal(Frame{Event: event, Data: data})
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.send <- b:
		return nil
	default:
		observability.RealtimeDropped.WithLabelValues("queue_full").Inc()
		return ErrQueueFull
	}
}

// Serve registers the client, pumps frames until the peer goes away or ctx
// ends, then unregisters it.
func (c *WSClient) Serve(ctx context.Context, d *Dispatcher, r *Router) {
	d.Register(c, c.userID)
	defer d.Unregister(c.id)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go c.writeLoop(ctx)

	c.conn.SetReadLimit(maxFrameBytes)
	pongWait := c.ping * 2
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("ws read ended", "conn", c.id, "user_id", c.userID, "error", err)
			}
			break
		}
		r.Dispatch(ctx, c, c.userID, raw)
	}
	c.Close()
}

func (c *WSClient) writeLoop(ctx context.Context) {
	ticker := time.NewTicker(c.ping)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.Close()
			return
		case <-c.done:
			return
		case b := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				c.logger.Warn("ws send error", "conn", c.id, "error", err)
				c.Close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.Close()
				return
			}
		}
	}
}

func (c *WSClient) Close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}
