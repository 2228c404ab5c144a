// Package match owns the Match state machine: creation on reciprocity,
// scheduling, cancellation, per-side unmatch and confirmation on payment.
package match

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/court-matching/internal/apperr"
	"github.com/example/court-matching/internal/collab"
	"github.com/example/court-matching/internal/logging"
	"github.com/example/court-matching/internal/models"
	"github.com/example/court-matching/internal/observability"
	"github.com/example/court-matching/internal/storage"
)

// Realtime events sent to personal rooms.
const (
	EventCreated   = "match:created"
	EventScheduled = "match:scheduled"
	EventCancelled = "match:cancelled"
	EventUnmatched = "match:unmatched"
	EventConfirmed = "match:confirmed"
	EventSuperLike = "match:super_like"
)

var ErrPairUnmatched = apperr.New(apperr.KindInvalidState, "pair_unmatched", "these users can no longer be matched")

type Rooms interface {
	CreateMatchRoom(ctx context.Context, m *models.Match) (*models.Room, error)
	SystemMessage(ctx context.Context, roomID string, body models.SystemBody) (*models.Message, error)
}

type Emitter interface {
	EmitToUser(ctx context.Context, userID, event string, payload any)
	JoinUser(ctx context.Context, userID, room string)
}

type Manager struct {
	store    storage.MatchStore
	rooms    Rooms
	rt       Emitter
	notifier collab.Notifier
	logger   *slog.Logger
	now      func() time.Time
}

func NewManager(store storage.MatchStore, rooms Rooms, rt Emitter, notifier collab.Notifier, logger *slog.Logger) *Manager {
	return &Manager{
		store:    store,
		rooms:    rooms,
		rt:       rt,
		notifier: notifier,
		logger:   logging.OrDiscard(logger),
		now:      time.Now,
	}
}

// Payload is what match events carry.
type Payload struct {
	Match *models.Match `json:"match"`
	By    string        `json:"by,omitempty"`
}

type ScheduleInput struct {
	Date      string `json:"date"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
	FieldID   string `json:"fieldId,omitempty"`
	CourtID   string `json:"courtId,omitempty"`
}

// CreateFromReciprocity returns the match of the pair for sport, creating it
// when absent. created is false when a concurrent caller won the insert.
func (m *Manager) CreateFromReciprocity(ctx context.Context, userA, userB, sport string) (*models.Match, bool, error) {
	gone, err := m.store.PairUnmatched(ctx, userA, userB)
	if err != nil {
		return nil, false, err
	}
	if gone {
		return nil, false, ErrPairUnmatched
	}

	now := m.now().UTC()
	mt := &models.Match{
		ID:                uuid.NewString(),
		User1ID:           userA,
		User2ID:           userB,
		Sport:             sport,
		Status:            models.MatchActive,
		ChatRoomID:        uuid.NewString(),
		MatchedAt:         now,
		LastInteractionAt: now,
	}
	err = m.store.InsertMatch(ctx, mt)
	if errors.Is(err, storage.ErrDuplicate) {
		existing, ferr := m.store.FindMatch(ctx, userA, userB, sport)
		if ferr != nil {
			return nil, false, ferr
		}
		observability.MatchRaces.Inc()
		// the winner may not have created the room yet
		if _, rerr := m.rooms.CreateMatchRoom(ctx, existing); rerr != nil {
			return nil, false, rerr
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	observability.MatchesTotal.Inc()

	if _, err := m.rooms.CreateMatchRoom(ctx, mt); err != nil {
		return nil, false, err
	}
	m.announce(ctx, mt)
	return mt, true, nil
}

// announce runs the best-effort side effects of a new match.
func (m *Manager) announce(ctx context.Context, mt *models.Match) {
	for _, uid := range []string{mt.User1ID, mt.User2ID} {
		m.rt.JoinUser(ctx, uid, mt.ChatRoomID)
		m.rt.EmitToUser(ctx, uid, EventCreated, Payload{Match: mt})
		m.notify(ctx, collab.Notification{
			UserID:   uid,
			Title:    "It's a match!",
			Message:  "You have a new " + mt.Sport + " partner. Say hi and plan a game.",
			Type:     "match_created",
			Metadata: map[string]string{"matchId": mt.ID, "chatRoomId": mt.ChatRoomID},
		})
	}
	m.system(ctx, mt.ChatRoomID, models.SystemBody{
		Code: "match_created",
		Text: "It's a match! You both want to play " + mt.Sport + ".",
		Data: map[string]any{"matchId": mt.ID},
	})
}

// List returns the user's matches, hiding those the user has unmatched.
func (m *Manager) List(ctx context.Context, userID string, status models.MatchStatus) ([]*models.Match, error) {
	if status != "" && !status.Valid() {
		return nil, apperr.Newf(apperr.KindValidation, "invalid_status", "unknown match status %q", status)
	}
	all, err := m.store.ListMatches(ctx, userID, status)
	if err != nil {
		return nil, err
	}
	out := make([]*models.Match, 0, len(all))
	for _, mt := range all {
		if !mt.UnmatchedBy(userID) {
			out = append(out, mt)
		}
	}
	return out, nil
}

func (m *Manager) Get(ctx context.Context, userID, matchID string) (*models.Match, error) {
	mt, err := m.store.GetMatch(ctx, matchID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, notFound()
	}
	if err != nil {
		return nil, err
	}
	if !mt.HasParticipant(userID) {
		return nil, apperr.ErrNotParticipant
	}
	return mt, nil
}

func (m *Manager) Schedule(ctx context.Context, userID, matchID string, in ScheduleInput) (*models.Match, error) {
	sch := models.Schedule{Date: in.Date, StartTime: in.StartTime, EndTime: in.EndTime, FieldID: in.FieldID, CourtID: in.CourtID}
	if !sch.Valid() {
		return nil, apperr.New(apperr.KindValidation, "invalid_schedule", "date must be YYYY-MM-DD and times HH:MM with start before end")
	}
	mt, err := m.transition(ctx, userID, matchID, func(mt *models.Match) error {
		if mt.Status != models.MatchActive && mt.Status != models.MatchCancelled {
			return invalidTransition(mt.Status, models.MatchScheduled)
		}
		mt.Schedule = &sch
		mt.Status = models.MatchScheduled
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.tellOther(ctx, mt, userID, EventScheduled, "Game scheduled", "Your partner scheduled a game for "+sch.Date+" at "+sch.StartTime+".")
	return mt, nil
}

func (m *Manager) Cancel(ctx context.Context, userID, matchID string) (*models.Match, error) {
	mt, err := m.transition(ctx, userID, matchID, func(mt *models.Match) error {
		if mt.Status != models.MatchScheduled && mt.Status != models.MatchActive {
			return invalidTransition(mt.Status, models.MatchCancelled)
		}
		mt.Status = models.MatchCancelled
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.tellOther(ctx, mt, userID, EventCancelled, "Game cancelled", "Your partner cancelled the planned game.")
	return mt, nil
}

// Unmatch sets the caller's flag. The match is kept so the pair stays
// excluded; the other side still sees it until they unmatch too.
func (m *Manager) Unmatch(ctx context.Context, userID, matchID string) (*models.Match, error) {
	mt, err := m.update(ctx, userID, matchID, func(mt *models.Match) error {
		if mt.UnmatchedBy(userID) {
			return apperr.New(apperr.KindConflict, "already_unmatched", "you already left this match")
		}
		if userID == mt.User1ID {
			mt.IsUnmatchedByUser1 = true
		} else {
			mt.IsUnmatchedByUser2 = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	observability.MatchTransition.WithLabelValues("unmatched").Inc()
	m.rt.EmitToUser(ctx, mt.Counterpart(userID), EventUnmatched, Payload{Match: mt, By: userID})
	return mt, nil
}

// Confirm schedules the match with the booking the pair has fully paid for.
func (m *Manager) Confirm(ctx context.Context, matchID string, sch models.Schedule) (*models.Match, error) {
	mt, err := m.store.UpdateMatch(ctx, matchID, func(mt *models.Match) error {
		mt.Schedule = &sch
		mt.Status = models.MatchScheduled
		mt.LastInteractionAt = m.now().UTC()
		return nil
	})
	if errors.Is(err, storage.ErrNotFound) {
		return nil, notFound()
	}
	if err != nil {
		return nil, err
	}
	observability.MatchTransition.WithLabelValues("confirmed").Inc()
	for _, uid := range []string{mt.User1ID, mt.User2ID} {
		m.rt.EmitToUser(ctx, uid, EventConfirmed, Payload{Match: mt})
	}
	return mt, nil
}

// NotifySuperLike tells target that actor super liked them.
func (m *Manager) NotifySuperLike(ctx context.Context, actorID, targetID, sport string) {
	m.rt.EmitToUser(ctx, targetID, EventSuperLike, map[string]string{"from": actorID, "sport": sport})
	m.notify(ctx, collab.Notification{
		UserID:   targetID,
		Title:    "Someone super liked you",
		Message:  "A " + sport + " player really wants to play with you.",
		Type:     "super_like",
		Metadata: map[string]string{"from": actorID, "sport": sport},
	})
}

// transition applies fn to a live match the user participates in.
func (m *Manager) transition(ctx context.Context, userID, matchID string, fn func(*models.Match) error) (*models.Match, error) {
	mt, err := m.update(ctx, userID, matchID, func(mt *models.Match) error {
		if mt.Unmatched() {
			return apperr.New(apperr.KindInvalidState, "match_unmatched", "match has ended")
		}
		return fn(mt)
	})
	if err != nil {
		return nil, err
	}
	observability.MatchTransition.WithLabelValues(string(mt.Status)).Inc()
	return mt, nil
}

func (m *Manager) update(ctx context.Context, userID, matchID string, fn func(*models.Match) error) (*models.Match, error) {
	mt, err := m.store.UpdateMatch(ctx, matchID, func(mt *models.Match) error {
		if !mt.HasParticipant(userID) {
			return apperr.ErrNotParticipant
		}
		if err := fn(mt); err != nil {
			return err
		}
		mt.LastInteractionAt = m.now().UTC()
		return nil
	})
	if errors.Is(err, storage.ErrNotFound) {
		return nil, notFound()
	}
	return mt, err
}

func (m *Manager) tellOther(ctx context.Context, mt *models.Match, userID, event, title, msg string) {
	other := mt.Counterpart(userID)
	m.rt.EmitToUser(ctx, other, event, Payload{Match: mt, By: userID})
	m.notify(ctx, collab.Notification{
		UserID: other, Title: title, Message: msg, Type: event,
		Metadata: map[string]string{"matchId": mt.ID},
	})
}

func (m *Manager) notify(ctx context.Context, n collab.Notification) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.Notify(ctx, n); err != nil {
		m.logger.Warn("notification failed", "user_id", n.UserID, "type", n.Type, "error", err)
	}
}

func (m *Manager) system(ctx context.Context, roomID string, body models.SystemBody) {
	if _, err := m.rooms.SystemMessage(ctx, roomID, body); err != nil {
		m.logger.Warn("system message failed", "room_id", roomID, "code", body.Code, "error", err)
	}
}

func notFound() error { return apperr.New(apperr.KindNotFound, "match_not_found", "match not found") }

func invalidTransition(from, to models.MatchStatus) error {
	return apperr.Newf(apperr.KindInvalidState, "invalid_transition", "cannot move a %s match to %s", from, to)
}
