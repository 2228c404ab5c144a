package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/court-matching/internal/models"
)

func TestInsertSwipeUniquePerActorTargetSport(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	first := &models.Swipe{ID: "s1", ActorID: "a", TargetID: "b", Sport: "tennis", Action: models.ActionLike}
	require.NoError(t, s.InsertSwipe(ctx, first))

	err := s.InsertSwipe(ctx, &models.Swipe{ID: "s2", ActorID: "a", TargetID: "b", Sport: "tennis", Action: models.ActionPass})
	assert.ErrorIs(t, err, ErrDuplicate)

	got, err := s.GetSwipe(ctx, "a", "b", "tennis")
	require.NoError(t, err)
	assert.Equal(t, models.ActionLike, got.Action)

	// another sport is a different key
	require.NoError(t, s.InsertSwipe(ctx, &models.Swipe{ID: "s3", ActorID: "a", TargetID: "b", Sport: "padel", Action: models.ActionPass}))
}

func TestInsertMatchUndirectedPairUnderRace(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	var wg sync.WaitGroup
	errs := make([]error, 20)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m := &models.Match{ID: string(rune('A' + i)), Sport: "football", Status: models.MatchActive}
			if i%2 == 0 {
				m.User1ID, m.User2ID = "u1", "u2"
			} else {
				m.User1ID, m.User2ID = "u2", "u1"
			}
			errs[i] = s.InsertMatch(ctx, m)
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
		} else {
			assert.ErrorIs(t, err, ErrDuplicate)
		}
	}
	assert.Equal(t, 1, ok)

	m, err := s.FindMatch(ctx, "u2", "u1", "football")
	require.NoError(t, err)
	assert.True(t, m.HasParticipant("u1"))
}

func TestUnmatchedCounterpartsAcrossSports(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.InsertMatch(ctx, &models.Match{ID: "m1", User1ID: "a", User2ID: "b", Sport: "tennis"}))
	require.NoError(t, s.InsertMatch(ctx, &models.Match{ID: "m2", User1ID: "c", User2ID: "a", Sport: "tennis"}))

	_, err := s.UpdateMatch(ctx, "m1", func(m *models.Match) error {
		m.IsUnmatchedByUser2 = true
		return nil
	})
	require.NoError(t, err)

	got, err := s.UnmatchedCounterparts(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, got)

	unmatched, err := s.PairUnmatched(ctx, "b", "a")
	require.NoError(t, err)
	assert.True(t, unmatched)

	unmatched, err = s.PairUnmatched(ctx, "a", "c")
	require.NoError(t, err)
	assert.False(t, unmatched)
}

func TestUpdateMatchErrorLeavesRecord(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.InsertMatch(ctx, &models.Match{ID: "m1", User1ID: "a", User2ID: "b", Sport: "tennis", Status: models.MatchActive}))

	boom := errors.New("boom")
	_, err := s.UpdateMatch(ctx, "m1", func(m *models.Match) error {
		m.Status = models.MatchCancelled
		return boom
	})
	assert.ErrorIs(t, err, boom)

	m, _ := s.GetMatch(ctx, "m1")
	assert.Equal(t, models.MatchActive, m.Status)
}

func TestAppendMessageMonotonicAndSummary(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	room := &models.Room{ID: "r1", Kind: models.RoomMatch, Match: &models.MatchRoom{MatchID: "m1", User1ID: "a", User2ID: "b"}}
	require.NoError(t, s.CreateRoom(ctx, room))

	now := time.Now().UTC()
	m1 := &models.Message{ID: "1", RoomID: "r1", SenderID: "a", Type: models.MessageText, Body: models.TextBody{Text: "hi"}, CreatedAt: now}
	_, err := s.AppendMessage(ctx, m1)
	require.NoError(t, err)

	// a clock step backwards must not reorder the log
	m2 := &models.Message{ID: "2", RoomID: "r1", SenderID: "b", Type: models.MessageText, Body: models.TextBody{Text: "yo"}, CreatedAt: now.Add(-time.Minute)}
	r, err := s.AppendMessage(ctx, m2)
	require.NoError(t, err)

	assert.Equal(t, int64(2), m2.Seq)
	assert.False(t, m2.CreatedAt.Before(m1.CreatedAt))
	assert.Equal(t, "b", r.LastMessageBy)
	assert.True(t, r.HasUnread)
	assert.Equal(t, m2.CreatedAt, r.LastMessageAt)

	msgs, err := s.ListMessages(ctx, "r1", 1, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "2", msgs[0].ID)
}

func TestMarkReadOnlyClearsForReceiver(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.CreateRoom(ctx, &models.Room{ID: "r1", Kind: models.RoomMatch, Match: &models.MatchRoom{User1ID: "a", User2ID: "b"}}))
	_, _ = s.AppendMessage(ctx, &models.Message{ID: "1", RoomID: "r1", SenderID: "a", Type: models.MessageText, Body: models.TextBody{Text: "x"}})

	n, r, err := s.MarkRead(ctx, "r1", "a")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.True(t, r.HasUnread, "sender reading must not clear the receiver's unread flag")

	n, r, err = s.MarkRead(ctx, "r1", "b")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, r.HasUnread)

	n, _, _ = s.MarkRead(ctx, "r1", "b")
	assert.Equal(t, 0, n)

	msgs, _ := s.ListMessages(ctx, "r1", 0, 0)
	assert.True(t, msgs[0].IsRead)
}

func TestProposalOpenUniquenessAndTransition(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	p := &models.Proposal{BookingID: "b1", MatchID: "m1", Status: models.ProposalPending}
	require.NoError(t, s.InsertProposal(ctx, p))

	err := s.InsertProposal(ctx, &models.Proposal{BookingID: "b2", MatchID: "m1", Status: models.ProposalPending})
	assert.ErrorIs(t, err, ErrDuplicate)

	got, err := s.TransitionProposal(ctx, "b1", []models.ProposalStatus{models.ProposalPending}, func(p *models.Proposal) error {
		p.Status = models.ProposalRejected
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, models.ProposalRejected, got.Status)

	cur, err := s.TransitionProposal(ctx, "b1", []models.ProposalStatus{models.ProposalPending}, func(p *models.Proposal) error {
		t.Fatal("mutation must not run on stale state")
		return nil
	})
	assert.ErrorIs(t, err, ErrStale)
	assert.Equal(t, models.ProposalRejected, cur.Status)

	// a closed proposal frees the match for a new one
	require.NoError(t, s.InsertProposal(ctx, &models.Proposal{BookingID: "b2", MatchID: "m1", Status: models.ProposalPending}))
}
