package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/court-matching/internal/realtime/realtimetest"
)

// countingBus is a LocalBus that records subscription edges.
type countingBus struct {
	*LocalBus
	mu    sync.Mutex
	subs  map[string]int
	unsub map[string]int
}

func newCountingBus() *countingBus {
	return &countingBus{LocalBus: NewLocalBus(), subs: map[string]int{}, unsub: map[string]int{}}
}

func (b *countingBus) Subscribe(room string) error {
	b.mu.Lock()
	b.subs[room]++
	b.mu.Unlock()
	return nil
}

func (b *countingBus) Unsubscribe(room string) error {
	b.mu.Lock()
	b.unsub[room]++
	b.mu.Unlock()
	return nil
}

func TestRegisterJoinsPersonalRoom(t *testing.T) {
	ctx := context.Background()
	d := NewDispatcher(nil, nil)
	c := realtimetest.NewRecorder("c1")
	d.Register(c, "alice")

	assert.True(t, d.InRoom("c1", UserRoom("alice")))
	assert.True(t, d.Online("alice"))

	d.EmitToUser(ctx, "alice", "match:created", map[string]string{"matchId": "m1"})
	var got map[string]string
	require.True(t, c.Decode("match:created", &got))
	assert.Equal(t, "m1", got["matchId"])
}

func TestEmitToOfflineUserIsSilent(t *testing.T) {
	d := NewDispatcher(nil, nil)
	assert.NotPanics(t, func() {
		d.EmitToUser(context.Background(), "nobody", "match:created", nil)
	})
}

func TestUnregisterKeepsOtherConnections(t *testing.T) {
	ctx := context.Background()
	bus := newCountingBus()
	d := NewDispatcher(bus, nil)
	phone := realtimetest.NewRecorder("phone")
	laptop := realtimetest.NewRecorder("laptop")
	d.Register(phone, "alice")
	d.Register(laptop, "alice")
	require.True(t, d.Join("phone", "room-1"))
	require.True(t, d.Join("laptop", "room-1"))

	d.Unregister("phone")
	assert.False(t, d.InRoom("phone", "room-1"))
	assert.True(t, d.InRoom("laptop", "room-1"))
	assert.Equal(t, 1, d.Connections())

	d.EmitToRoom(ctx, "room-1", "new_message", "x")
	assert.Equal(t, 0, phone.Count("new_message"))
	assert.Equal(t, 1, laptop.Count("new_message"))

	// room subscriptions follow the first and last local member
	assert.Equal(t, 1, bus.subs["room-1"])
	assert.Equal(t, 0, bus.unsub["room-1"])
	d.Unregister("laptop")
	assert.Equal(t, 1, bus.unsub["room-1"])
	assert.Equal(t, 1, bus.unsub[UserRoom("alice")])
	assert.False(t, d.Online("alice"))
}

func TestJoinUnknownConnection(t *testing.T) {
	d := NewDispatcher(nil, nil)
	assert.False(t, d.Join("ghost", "room-1"))
}

func TestJoinUserJoinsEveryConnection(t *testing.T) {
	ctx := context.Background()
	d := NewDispatcher(nil, nil)
	a1, a2, b := realtimetest.NewRecorder("a1"), realtimetest.NewRecorder("a2"), realtimetest.NewRecorder("b")
	d.Register(a1, "alice")
	d.Register(a2, "alice")
	d.Register(b, "bob")

	d.JoinUser(ctx, "alice", "room-9")
	assert.True(t, d.InRoom("a1", "room-9"))
	assert.True(t, d.InRoom("a2", "room-9"))
	assert.False(t, d.InRoom("b", "room-9"))

	// the control event never reaches clients
	assert.Equal(t, 0, a1.Count(joinControl))
}

func TestEmitToRoomExceptSkipsOrigin(t *testing.T) {
	ctx := context.Background()
	d := NewDispatcher(nil, nil)
	a, b := realtimetest.NewRecorder("a"), realtimetest.NewRecorder("b")
	d.Register(a, "alice")
	d.Register(b, "bob")
	d.Join("a", "r")
	d.Join("b", "r")

	d.EmitToRoomExcept(ctx, "r", "a", "typing", map[string]bool{"isTyping": true})
	assert.Equal(t, 0, a.Count("typing"))
	assert.Equal(t, 1, b.Count("typing"))
}

func TestSendFailureDoesNotStopFanOut(t *testing.T) {
	ctx := context.Background()
	d := NewDispatcher(nil, nil)
	broken, ok := realtimetest.NewRecorder("broken"), realtimetest.NewRecorder("ok")
	broken.Err = errors.New("pipe closed")
	d.Register(broken, "alice")
	d.Register(ok, "bob")
	d.Join("broken", "r")
	d.Join("ok", "r")

	d.EmitToRoom(ctx, "r", "new_message", json.RawMessage(`{"id":"1"}`))
	assert.Equal(t, 1, ok.Count("new_message"))
}

func TestConcurrentRegistryAccess(t *testing.T) {
	ctx := context.Background()
	d := NewDispatcher(nil, nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := string(rune('A' + i))
			c := realtimetest.NewRecorder(id)
			d.Register(c, "u")
			d.Join(id, "shared")
			d.EmitToRoom(ctx, "shared", "ping", i)
			d.Unregister(id)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 0, d.Connections())
	assert.False(t, d.Online("u"))
}
