// Package realtime keeps the registry of live connections and fans events out
// to users and rooms.
//
// Emits never reach connections directly: they go through a Bus so that an
// instance only delivers to the connections it hosts, and instances learn
// about each other's events through the bus.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"

	"github.com/example/court-matching/internal/logging"
	"github.com/example/court-matching/internal/observability"
)

const userRoomPrefix = "user:"

// joinControl asks every instance hosting a user to join that user's
// connections to a room. It is never forwarded to clients.
const joinControl = "_rt.join"

// UserRoom is the personal room every connection of userID joins on register.
func UserRoom(userID string) string { return userRoomPrefix + userID }

// Conn is a live client connection. Send must not block.
type Conn interface {
	ID() string
	Send(event string, data json.RawMessage) error
}

type connEntry struct {
	conn   Conn
	userID string
	rooms  map[string]struct{}
}

type Dispatcher struct {
	mu    sync.RWMutex
	conns map[string]*connEntry
	users map[string]map[string]struct{}
	rooms map[string]map[string]struct{}

	bus    Bus
	logger *slog.Logger
}

// NewDispatcher attaches the dispatcher to bus; a nil bus means a LocalBus.
func NewDispatcher(bus Bus, logger *slog.Logger) *Dispatcher {
	if bus == nil {
		bus = NewLocalBus()
	}
	d := &Dispatcher{
		conns:  make(map[string]*connEntry),
		users:  make(map[string]map[string]struct{}),
		rooms:  make(map[string]map[string]struct{}),
		bus:    bus,
		logger: logging.OrDiscard(logger),
	}
	bus.Attach(d.deliver)
	return d
}

// Register records conn for userID and joins it to the user's personal room.
func (d *Dispatcher) Register(conn Conn, userID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := conn.ID()
	if _, ok := d.conns[id]; ok {
		return
	}
	d.conns[id] = &connEntry{conn: conn, userID: userID, rooms: make(map[string]struct{})}
	set, ok := d.users[userID]
	if !ok {
		set = make(map[string]struct{})
		d.users[userID] = set
	}
	set[id] = struct{}{}
	d.joinLocked(id, UserRoom(userID))
	observability.RealtimeConnections.Inc()
}

// Unregister drops every mapping held for connID. Other connections of the
// same user keep their rooms.
func (d *Dispatcher) Unregister(connID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.conns[connID]
	if !ok {
		return
	}
	for room := range e.rooms {
		d.leaveLocked(connID, room)
	}
	if set := d.users[e.userID]; set != nil {
		delete(set, connID)
		if len(set) == 0 {
			delete(d.users, e.userID)
		}
	}
	delete(d.conns, connID)
	observability.RealtimeConnections.Dec()
}

// Join adds connID to room. It reports false for an unknown connection.
func (d *Dispatcher) Join(connID, room string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.conns[connID]; !ok {
		return false
	}
	d.joinLocked(connID, room)
	return true
}

func (d *Dispatcher) Leave(connID, room string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.conns[connID]; ok {
		d.leaveLocked(connID, room)
	}
}

// JoinUser joins every live connection of userID to room, on every instance
// hosting one.
func (d *Dispatcher) JoinUser(ctx context.Context, userID, room string) {
	data, _ := json.Marshal(room)
	d.publish(ctx, Envelope{Event: joinControl, Room: UserRoom(userID), Data: data})
}

// InRoom reports whether connID has joined room on this instance.
func (d *Dispatcher) InRoom(connID, room string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.conns[connID]
	if !ok {
		return false
	}
	_, in := e.rooms[room]
	return in
}

// Online reports whether userID has a connection on this instance.
func (d *Dispatcher) Online(userID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.users[userID]) > 0
}

func (d *Dispatcher) Connections() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.conns)
}

// EmitToUser is best effort: a user with no connection anywhere drops it.
func (d *Dispatcher) EmitToUser(ctx context.Context, userID, event string, payload any) {
	d.emit(ctx, UserRoom(userID), "", event, payload)
}

func (d *Dispatcher) EmitToRoom(ctx context.Context, room, event string, payload any) {
	d.emit(ctx, room, "", event, payload)
}

// EmitToRoomExcept skips the connection exceptConnID.
func (d *Dispatcher) EmitToRoomExcept(ctx context.Context, room, exceptConnID, event string, payload any) {
	d.emit(ctx, room, exceptConnID, event, payload)
}

func (d *Dispatcher) emit(ctx context.Context, room, except, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		d.logger.Warn("realtime payload encode failed", "event", event, "room", room, "error", err)
		observability.RealtimeDropped.WithLabelValues("encode").Inc()
		return
	}
	d.publish(ctx, Envelope{Event: event, Room: room, Data: data, Except: except})
}

func (d *Dispatcher) publish(ctx context.Context, env Envelope) {
	if err := d.bus.Publish(ctx, env); err != nil {
		d.logger.Warn("realtime publish failed", "event", env.Event, "room", env.Room, "error", err)
		observability.RealtimeDropped.WithLabelValues("publish").Inc()
	}
}

// deliver hands an envelope from the bus to local connections.
func (d *Dispatcher) deliver(env Envelope) {
	if env.Event == joinControl {
		d.applyJoin(env)
		return
	}
	d.mu.RLock()
	targets := make([]Conn, 0, len(d.rooms[env.Room]))
	for id := range d.rooms[env.Room] {
		if id == env.Except {
			continue
		}
		targets = append(targets, d.conns[id].conn)
	}
	d.mu.RUnlock()

	if len(targets) == 0 {
		return
	}
	for _, c := range targets {
		if err := c.Send(env.Event, env.Data); err != nil {
			d.logger.Warn("realtime send failed", "event", env.Event, "conn", c.ID(), "error", err)
			observability.RealtimeDropped.WithLabelValues("send").Inc()
			continue
		}
		observability.RealtimeEvents.WithLabelValues(env.Event).Inc()
	}
}

func (d *Dispatcher) applyJoin(env Envelope) {
	var room string
	if err := json.Unmarshal(env.Data, &room); err != nil || room == "" {
		return
	}
	userID := strings.TrimPrefix(env.Room, userRoomPrefix)
	d.mu.Lock()
	defer d.mu.Unlock()
	for id := range d.users[userID] {
		d.joinLocked(id, room)
	}
}

func (d *Dispatcher) joinLocked(connID, room string) {
	e := d.conns[connID]
	if _, ok := e.rooms[room]; ok {
		return
	}
	members, ok := d.rooms[room]
	if !ok {
		members = make(map[string]struct{})
		d.rooms[room] = members
		if err := d.bus.Subscribe(room); err != nil {
			d.logger.Warn("realtime subscribe failed", "room", room, "error", err)
		}
	}
	members[connID] = struct{}{}
	e.rooms[room] = struct{}{}
}

func (d *Dispatcher) leaveLocked(connID, room string) {
	delete(d.conns[connID].rooms, room)
	members := d.rooms[room]
	if members == nil {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(d.rooms, room)
		if err := d.bus.Unsubscribe(room); err != nil {
			d.logger.Warn("realtime unsubscribe failed", "room", room, "error", err)
		}
	}
}
