// Package swipe records like, pass and super like actions and turns mutual
// likes into matches.
package swipe

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/court-matching/internal/apperr"
	"github.com/example/court-matching/internal/logging"
	"github.com/example/court-matching/internal/match"
	"github.com/example/court-matching/internal/models"
	"github.com/example/court-matching/internal/observability"
	"github.com/example/court-matching/internal/quota"
	"github.com/example/court-matching/internal/storage"
)

type Store interface {
	storage.SwipeStore
	GetProfile(ctx context.Context, userID string) (*models.MatchProfile, error)
	TouchProfile(ctx context.Context, userID string) error
}

type Matcher interface {
	CreateFromReciprocity(ctx context.Context, userA, userB, sport string) (*models.Match, bool, error)
	NotifySuperLike(ctx context.Context, actorID, targetID, sport string)
}

type Result struct {
	Swipe   *models.Swipe `json:"swipe"`
	Matched bool          `json:"matched"`
	Match   *models.Match `json:"match,omitempty"`
}

type Ledger struct {
	store   Store
	quota   quota.Quota
	matcher Matcher
	logger  *slog.Logger
	now     func() time.Time
}

func NewLedger(store Store, q quota.Quota, matcher Matcher, logger *slog.Logger) *Ledger {
	return &Ledger{store: store, quota: q, matcher: matcher, logger: logging.OrDiscard(logger), now: time.Now}
}

// Record stores one swipe. A like or super like answering the target's own
// like or super like for the sport yields the pair's match.
func (l *Ledger) Record(ctx context.Context, actorID, targetID, sport string, action models.SwipeAction) (*Result, error) {
	sport = models.NormalizeSport(sport)
	switch {
	case !action.Valid():
		return nil, apperr.Newf(apperr.KindValidation, "invalid_action", "unknown swipe action %q", action)
	case sport == "":
		return nil, apperr.New(apperr.KindValidation, "invalid_sport", "sport is required")
	case targetID == "":
		return nil, apperr.New(apperr.KindValidation, "invalid_target", "targetId is required")
	case actorID == targetID:
		l.reject("self")
		return nil, apperr.ErrSelfSwipe
	}

	if _, err := l.store.GetProfile(ctx, targetID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperr.New(apperr.KindNotFound, "target_not_found", "target has no matching profile")
		}
		return nil, err
	}

	// spares the super like quota on an obvious repeat; the insert below is
	// still what enforces uniqueness
	if _, err := l.store.GetSwipe(ctx, actorID, targetID, sport); err == nil {
		l.reject("duplicate")
		return nil, apperr.ErrDuplicateSwipe
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	if action == models.ActionSuperLike {
		if _, err := l.quota.Consume(ctx, actorID); err != nil {
			if errors.Is(err, quota.ErrExhausted) {
				l.reject("quota")
				return nil, apperr.ErrQuotaExceeded
			}
			return nil, apperr.Wrap(apperr.KindDependency, "quota", err, "super like quota unavailable")
		}
	}

	s := &models.Swipe{
		ID:        uuid.NewString(),
		ActorID:   actorID,
		TargetID:  targetID,
		Sport:     sport,
		Action:    action,
		CreatedAt: l.now().UTC(),
	}
	if err := l.store.InsertSwipe(ctx, s); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			l.reject("duplicate")
			return nil, apperr.ErrDuplicateSwipe
		}
		return nil, err
	}
	observability.SwipesTotal.WithLabelValues(string(action)).Inc()
	if err := l.store.TouchProfile(ctx, actorID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		l.logger.Warn("profile touch failed", "user_id", actorID, "error", err)
	}

	res := &Result{Swipe: s}
	if !action.Positive() {
		return res, nil
	}

	mt, err := l.reciprocate(ctx, s)
	if err != nil {
		return nil, err
	}
	if mt != nil {
		res.Matched, res.Match = true, mt
		return res, nil
	}
	if action == models.ActionSuperLike {
		l.matcher.NotifySuperLike(ctx, actorID, targetID, sport)
	}
	return res, nil
}

func (l *Ledger) reciprocate(ctx context.Context, s *models.Swipe) (*models.Match, error) {
	back, err := l.store.GetSwipe(ctx, s.TargetID, s.ActorID, s.Sport)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !back.Action.Positive() {
		return nil, nil
	}
	// the earlier swiper is user1
	mt, _, err := l.matcher.CreateFromReciprocity(ctx, s.TargetID, s.ActorID, s.Sport)
	if errors.Is(err, match.ErrPairUnmatched) {
		return nil, nil
	}
	if err != nil {
		l.logger.Error("match creation failed", "actor_id", s.ActorID, "target_id", s.TargetID, "sport", s.Sport, "error", err)
		return nil, err
	}
	return mt, nil
}

// History lists the actor's swipes newest first; sport "" means every sport.
func (l *Ledger) History(ctx context.Context, actorID, sport string) ([]*models.Swipe, error) {
	return l.store.ListSwipes(ctx, actorID, models.NormalizeSport(sport))
}

// SuperLikesLeft reports the actor's remaining super likes for today.
func (l *Ledger) SuperLikesLeft(ctx context.Context, actorID string) (int, error) {
	n, err := l.quota.Remaining(ctx, actorID)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindDependency, "quota", err, "super like quota unavailable")
	}
	return n, nil
}

func (l *Ledger) reject(reason string) {
	observability.SwipesRejected.WithLabelValues(reason).Inc()
}
