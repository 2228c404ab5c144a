package match

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/court-matching/internal/apperr"
	"github.com/example/court-matching/internal/chat"
	"github.com/example/court-matching/internal/collab"
	"github.com/example/court-matching/internal/models"
	"github.com/example/court-matching/internal/realtime"
	"github.com/example/court-matching/internal/realtime/realtimetest"
	"github.com/example/court-matching/internal/storage"
)

type fixture struct {
	store    *storage.MemoryStore
	rt       *realtime.Dispatcher
	notifier *collab.MemoryNotifier
	mgr      *Manager
	alice    *realtimetest.Recorder
	bob      *realtimetest.Recorder
}

func newFixture() *fixture {
	f := &fixture{
		store:    storage.NewMemoryStore(),
		rt:       realtime.NewDispatcher(nil, nil),
		notifier: &collab.MemoryNotifier{},
		alice:    realtimetest.NewRecorder("a"),
		bob:      realtimetest.NewRecorder("b"),
	}
	rooms := chat.NewService(f.store, f.rt, nil, nil, nil)
	f.mgr = NewManager(f.store, rooms, f.rt, f.notifier, nil)
	f.rt.Register(f.alice, "alice")
	f.rt.Register(f.bob, "bob")
	return f
}

func (f *fixture) create(t *testing.T) *models.Match {
	t.Helper()
	mt, created, err := f.mgr.CreateFromReciprocity(context.Background(), "alice", "bob", "tennis")
	require.NoError(t, err)
	require.True(t, created)
	return mt
}

func TestCreateSetsUpRoomAndAnnounces(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	mt := f.create(t)

	assert.NotEmpty(t, mt.ChatRoomID)
	assert.Equal(t, models.MatchActive, mt.Status)
	assert.True(t, f.rt.InRoom("a", mt.ChatRoomID))
	assert.True(t, f.rt.InRoom("b", mt.ChatRoomID))

	var p Payload
	require.True(t, f.alice.Decode(EventCreated, &p))
	assert.Equal(t, mt.ID, p.Match.ID)
	assert.Equal(t, 1, f.bob.Count(EventCreated))
	assert.Len(t, f.notifier.Sent("alice"), 1)
	assert.Len(t, f.notifier.Sent("bob"), 1)

	msgs, err := f.store.ListMessages(ctx, mt.ChatRoomID, 0, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.MessageSystem, msgs[0].Type)
	assert.Equal(t, "match_created", msgs[0].Body.(models.SystemBody).Code)
}

func TestConcurrentCreateYieldsOneMatch(t *testing.T) {
	f := newFixture()
	var wg sync.WaitGroup
	results := make([]*models.Match, 10)
	created := make([]bool, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := "alice", "bob"
			if i%2 == 1 {
				a, b = b, a
			}
			mt, c, err := f.mgr.CreateFromReciprocity(context.Background(), a, b, "tennis")
			assert.NoError(t, err)
			results[i], created[i] = mt, c
		}(i)
	}
	wg.Wait()

	wins := 0
	for i, mt := range results {
		assert.Equal(t, results[0].ID, mt.ID)
		if created[i] {
			wins++
		}
	}
	assert.Equal(t, 1, wins)
	all, _ := f.store.ListMatches(context.Background(), "alice", "")
	assert.Len(t, all, 1)
	assert.Equal(t, 1, f.alice.Count(EventCreated))
}

func TestParticipantOnlyOperations(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	mt := f.create(t)

	_, err := f.mgr.Get(ctx, "mallory", mt.ID)
	assert.ErrorIs(t, err, apperr.Forbidden)
	_, err = f.mgr.Cancel(ctx, "mallory", mt.ID)
	assert.ErrorIs(t, err, apperr.Forbidden)
	_, err = f.mgr.Unmatch(ctx, "mallory", mt.ID)
	assert.ErrorIs(t, err, apperr.Forbidden)
	_, err = f.mgr.Get(ctx, "alice", "missing")
	assert.ErrorIs(t, err, apperr.NotFound)
}

func TestScheduleAndCancel(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	mt := f.create(t)

	_, err := f.mgr.Schedule(ctx, "alice", mt.ID, ScheduleInput{Date: "2026-13-01", StartTime: "10:00", EndTime: "11:00"})
	assert.ErrorIs(t, err, apperr.Validation)
	_, err = f.mgr.Schedule(ctx, "alice", mt.ID, ScheduleInput{Date: "2026-06-01", StartTime: "11:00", EndTime: "10:00"})
	assert.ErrorIs(t, err, apperr.Validation)

	got, err := f.mgr.Schedule(ctx, "alice", mt.ID, ScheduleInput{Date: "2026-06-01", StartTime: "10:00", EndTime: "11:30", FieldID: "f1"})
	require.NoError(t, err)
	assert.Equal(t, models.MatchScheduled, got.Status)
	assert.Equal(t, "f1", got.Schedule.FieldID)
	assert.Equal(t, 1, f.bob.Count(EventScheduled))
	assert.Equal(t, 0, f.alice.Count(EventScheduled))

	// already scheduled
	_, err = f.mgr.Schedule(ctx, "bob", mt.ID, ScheduleInput{Date: "2026-06-02", StartTime: "10:00", EndTime: "11:00"})
	assert.ErrorIs(t, err, apperr.InvalidState)

	got, err = f.mgr.Cancel(ctx, "bob", mt.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MatchCancelled, got.Status)
	assert.Equal(t, 1, f.alice.Count(EventCancelled))

	_, err = f.mgr.Cancel(ctx, "bob", mt.ID)
	assert.ErrorIs(t, err, apperr.InvalidState)

	// a cancelled match can be rescheduled
	_, err = f.mgr.Schedule(ctx, "bob", mt.ID, ScheduleInput{Date: "2026-06-03", StartTime: "09:00", EndTime: "10:00"})
	assert.NoError(t, err)
}

func TestUnmatchIsAsymmetric(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	mt := f.create(t)

	_, err := f.mgr.Unmatch(ctx, "alice", mt.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, f.bob.Count(EventUnmatched))

	_, err = f.mgr.Unmatch(ctx, "alice", mt.ID)
	assert.ErrorIs(t, err, apperr.Conflict)

	mine, _ := f.mgr.List(ctx, "alice", "")
	assert.Empty(t, mine)
	theirs, _ := f.mgr.List(ctx, "bob", "")
	require.Len(t, theirs, 1)

	_, err = f.mgr.Schedule(ctx, "bob", mt.ID, ScheduleInput{Date: "2026-06-01", StartTime: "10:00", EndTime: "11:00"})
	assert.ErrorIs(t, err, apperr.InvalidState)

	// the pair cannot be matched again, in any sport
	_, _, err = f.mgr.CreateFromReciprocity(ctx, "bob", "alice", "padel")
	assert.ErrorIs(t, err, ErrPairUnmatched)

	_, err = f.mgr.Unmatch(ctx, "bob", mt.ID)
	require.NoError(t, err)
	theirs, _ = f.mgr.List(ctx, "bob", "")
	assert.Empty(t, theirs)
}

func TestConfirmSchedulesForBoth(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	mt := f.create(t)
	got, err := f.mgr.Confirm(ctx, mt.ID, models.Schedule{Date: "2026-06-01", StartTime: "10:00", EndTime: "11:00", BookingID: "bk1"})
	require.NoError(t, err)
	assert.Equal(t, models.MatchScheduled, got.Status)
	assert.Equal(t, "bk1", got.Schedule.BookingID)
	assert.Equal(t, 1, f.alice.Count(EventConfirmed))
	assert.Equal(t, 1, f.bob.Count(EventConfirmed))
}

func TestListRejectsUnknownStatus(t *testing.T) {
	f := newFixture()
	_, err := f.mgr.List(context.Background(), "alice", "paused")
	assert.ErrorIs(t, err, apperr.Validation)
}
