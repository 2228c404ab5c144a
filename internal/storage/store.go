package storage

import (
	"context"
	"errors"

	"github.com/example/court-matching/internal/models"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrDuplicate reports a violated natural-key uniqueness constraint.
	ErrDuplicate = errors.New("duplicate key")
	// ErrStale reports a status-guarded transition whose pre-state no longer holds.
	ErrStale = errors.New("stale state")
)

type ProfileStore interface {
	UpsertProfile(ctx context.Context, p *models.MatchProfile) error
	GetProfile(ctx context.Context, userID string) (*models.MatchProfile, error)
	GetProfiles(ctx context.Context, userIDs []string) (map[string]*models.MatchProfile, error)
	TouchProfile(ctx context.Context, userID string) error
}

type SwipeStore interface {
	// InsertSwipe returns ErrDuplicate when (actor, target, sport) exists.
	InsertSwipe(ctx context.Context, s *models.Swipe) error
	GetSwipe(ctx context.Context, actorID, targetID, sport string) (*models.Swipe, error)
	// SwipedTargets lists targets the actor swiped for any of the sports.
	SwipedTargets(ctx context.Context, actorID string, sports []string) ([]string, error)
	// ListSwipes lists the actor's swipes newest first; sport "" means all.
	ListSwipes(ctx context.Context, actorID, sport string) ([]*models.Swipe, error)
}

type MatchStore interface {
	// InsertMatch returns ErrDuplicate when the undirected pair already has a
	// match for the sport.
	InsertMatch(ctx context.Context, m *models.Match) error
	GetMatch(ctx context.Context, id string) (*models.Match, error)
	FindMatch(ctx context.Context, userA, userB, sport string) (*models.Match, error)
	// ListMatches lists matches the user participates in; status "" means all.
	ListMatches(ctx context.Context, userID string, status models.MatchStatus) ([]*models.Match, error)
	// UpdateMatch applies fn to the stored match atomically.
	UpdateMatch(ctx context.Context, id string, fn func(*models.Match) error) (*models.Match, error)
	// UnmatchedCounterparts lists every user paired with userID in a match
	// where either side has unmatched, across all sports.
	UnmatchedCounterparts(ctx context.Context, userID string) ([]string, error)
	PairUnmatched(ctx context.Context, userA, userB string) (bool, error)
}

type ChatStore interface {
	CreateRoom(ctx context.Context, r *models.Room) error
	GetRoom(ctx context.Context, id string) (*models.Room, error)
	// AppendMessage assigns Seq and a non-decreasing CreatedAt, stores the
	// message and updates the room summary.
	AppendMessage(ctx context.Context, m *models.Message) (*models.Room, error)
	ListMessages(ctx context.Context, roomID string, afterSeq int64, limit int) ([]*models.Message, error)
	// MarkRead flips isRead on messages not sent by userID and clears the
	// room's unread flag if userID is the receiving side.
	MarkRead(ctx context.Context, roomID, userID string) (int, *models.Room, error)
}

type ProposalStore interface {
	// InsertProposal returns ErrDuplicate when the match already has an open
	// proposal or the booking id is taken.
	InsertProposal(ctx context.Context, p *models.Proposal) error
	GetProposal(ctx context.Context, bookingID string) (*models.Proposal, error)
	ListProposals(ctx context.Context, matchID string) ([]*models.Proposal, error)
	// TransitionProposal applies fn only if the current status is one of from,
	// otherwise it returns ErrStale and the current record.
	TransitionProposal(ctx context.Context, bookingID string, from []models.ProposalStatus, fn func(*models.Proposal) error) (*models.Proposal, error)
}

// Store is the full persistence surface of the matching subsystem.
type Store interface {
	ProfileStore
	SwipeStore
	MatchStore
	ChatStore
	ProposalStore
}

func statusIn(s models.ProposalStatus, set []models.ProposalStatus) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
