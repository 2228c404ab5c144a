package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/example/court-matching/internal/apperr"
	"github.com/example/court-matching/internal/logging"
)

// Frame is the wire shape of every websocket message in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Caller identifies the connection an inbound frame arrived on.
type Caller struct {
	ConnID string
	UserID string
}

type HandlerFunc func(ctx context.Context, c Caller, data json.RawMessage) error

// ErrorEvent is sent back to the caller when a handler fails.
const ErrorEvent = "error"

type errorPayload struct {
	Event   string `json:"event"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Router maps inbound event names to handlers.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	logger   *slog.Logger
}

func NewRouter(logger *slog.Logger) *Router {
	return &Router{handlers: make(map[string]HandlerFunc), logger: logging.OrDiscard(logger)}
}

func (r *Router) Handle(event string, h HandlerFunc) {
	r.mu.Lock()
	r.handlers[event] = h
	r.mu.Unlock()
}

// Dispatch decodes raw and runs its handler. Failures are reported to conn
// only.
func (r *Router) Dispatch(ctx context.Context, conn Conn, userID string, raw []byte) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil || f.Event == "" {
		r.reply(conn, "", "bad_frame", "frame must be {event, data}")
		return
	}
	r.mu.RLock()
	h, ok := r.handlers[f.Event]
	r.mu.RUnlock()
	if !ok {
		r.reply(conn, f.Event, "unknown_event", "no handler for "+f.Event)
		return
	}
	if err := h(ctx, Caller{ConnID: conn.ID(), UserID: userID}, f.Data); err != nil {
		if apperr.KindOf(err) == apperr.KindUnknown || apperr.KindOf(err) == apperr.KindDependency {
			r.logger.Error("socket handler failed", "event", f.Event, "user_id", userID, "error", err)
		}
		r.reply(conn, f.Event, apperr.CodeOf(err), err.Error())
	}
}

func (r *Router) reply(conn Conn, event, code, msg string) {
	data, _ := json.Marshal(errorPayload{Event: event, Error: code, Message: msg})
	if err := conn.Send(ErrorEvent, data); err != nil {
		r.logger.Debug("socket error reply dropped", "conn", conn.ID(), "error", err)
	}
}
