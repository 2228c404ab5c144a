package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/court-matching/internal/models"
)

// MemoryStore keeps every collection in process. Natural keys are indexed in
// maps guarded by one mutex, so uniqueness holds under concurrent inserts the
// same way a database constraint would.
type MemoryStore struct {
	mu sync.RWMutex

	profiles map[string]*models.MatchProfile

	swipes     []*models.Swipe
	swipeByKey map[swipeKey]*models.Swipe

	matches    map[string]*models.Match
	matchByKey map[matchKey]string

	rooms    map[string]*models.Room
	messages map[string][]*models.Message

	proposals    map[string]*models.Proposal
	openProposal map[string]string // match id -> booking id
}

type swipeKey struct{ actor, target, sport string }

type matchKey struct{ lo, hi, sport string }

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		profiles:     make(map[string]*models.MatchProfile),
		swipeByKey:   make(map[swipeKey]*models.Swipe),
		matches:      make(map[string]*models.Match),
		matchByKey:   make(map[matchKey]string),
		rooms:        make(map[string]*models.Room),
		messages:     make(map[string][]*models.Message),
		proposals:    make(map[string]*models.Proposal),
		openProposal: make(map[string]string),
	}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) UpsertProfile(_ context.Context, p *models.MatchProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := cloneProfile(p)
	if prev, ok := m.profiles[p.UserID]; ok {
		cp.CreatedAt = prev.CreatedAt
		p.CreatedAt = prev.CreatedAt
	}
	m.profiles[p.UserID] = cp
	return nil
}

func (m *MemoryStore) GetProfile(_ context.Context, userID string) (*models.MatchProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneProfile(p), nil
}

func (m *MemoryStore) GetProfiles(_ context.Context, userIDs []string) (map[string]*models.MatchProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]*models.MatchProfile, len(userIDs))
	for _, id := range userIDs {
		if p, ok := m.profiles[id]; ok {
			out[id] = cloneProfile(p)
		}
	}
	return out, nil
}

func (m *MemoryStore) TouchProfile(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	if !ok {
		return ErrNotFound
	}
	p.LastActiveAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) InsertSwipe(_ context.Context, s *models.Swipe) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := swipeKey{s.ActorID, s.TargetID, s.Sport}
	if _, ok := m.swipeByKey[k]; ok {
		return ErrDuplicate
	}
	cp := *s
	m.swipeByKey[k] = &cp
	m.swipes = append(m.swipes, &cp)
	return nil
}

func (m *MemoryStore) GetSwipe(_ context.Context, actorID, targetID, sport string) (*models.Swipe, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.swipeByKey[swipeKey{actorID, targetID, sport}]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) SwipedTargets(_ context.Context, actorID string, sports []string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	want := make(map[string]bool, len(sports))
	for _, s := range sports {
		want[s] = true
	}
	seen := make(map[string]bool)
	var out []string
	for _, s := range m.swipes {
		if s.ActorID != actorID || !want[s.Sport] || seen[s.TargetID] {
			continue
		}
		seen[s.TargetID] = true
		out = append(out, s.TargetID)
	}
	return out, nil
}

func (m *MemoryStore) ListSwipes(_ context.Context, actorID, sport string) ([]*models.Swipe, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Swipe
	for i := len(m.swipes) - 1; i >= 0; i-- {
		s := m.swipes[i]
		if s.ActorID != actorID || (sport != "" && s.Sport != sport) {
			continue
		}
		cp := *s
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryStore) InsertMatch(_ context.Context, mt *models.Match) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	lo, hi := models.PairKey(mt.User1ID, mt.User2ID)
	k := matchKey{lo, hi, mt.Sport}
	if _, ok := m.matchByKey[k]; ok {
		return ErrDuplicate
	}
	m.matchByKey[k] = mt.ID
	m.matches[mt.ID] = cloneMatch(mt)
	return nil
}

func (m *MemoryStore) GetMatch(_ context.Context, id string) (*models.Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mt, ok := m.matches[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneMatch(mt), nil
}

func (m *MemoryStore) FindMatch(_ context.Context, userA, userB, sport string) (*models.Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	lo, hi := models.PairKey(userA, userB)
	id, ok := m.matchByKey[matchKey{lo, hi, sport}]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneMatch(m.matches[id]), nil
}

func (m *MemoryStore) ListMatches(_ context.Context, userID string, status models.MatchStatus) ([]*models.Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Match
	for _, mt := range m.matches {
		if !mt.HasParticipant(userID) || (status != "" && mt.Status != status) {
			continue
		}
		out = append(out, cloneMatch(mt))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastInteractionAt.After(out[j].LastInteractionAt) })
	return out, nil
}

func (m *MemoryStore) UpdateMatch(_ context.Context, id string, fn func(*models.Match) error) (*models.Match, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mt, ok := m.matches[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := cloneMatch(mt)
	if err := fn(cp); err != nil {
		return nil, err
	}
	m.matches[id] = cp
	return cloneMatch(cp), nil
}

func (m *MemoryStore) UnmatchedCounterparts(_ context.Context, userID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]bool)
	var out []string
	for _, mt := range m.matches {
		if !mt.HasParticipant(userID) || !mt.Unmatched() {
			continue
		}
		other := mt.Counterpart(userID)
		if !seen[other] {
			seen[other] = true
			out = append(out, other)
		}
	}
	return out, nil
}

func (m *MemoryStore) PairUnmatched(_ context.Context, userA, userB string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, mt := range m.matches {
		if mt.HasParticipant(userA) && mt.Counterpart(userA) == userB && mt.Unmatched() {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) CreateRoom(_ context.Context, r *models.Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rooms[r.ID]; ok {
		return ErrDuplicate
	}
	m.rooms[r.ID] = cloneRoom(r)
	return nil
}

func (m *MemoryStore) GetRoom(_ context.Context, id string) (*models.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRoom(r), nil
}

func (m *MemoryStore) AppendMessage(_ context.Context, msg *models.Message) (*models.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[msg.RoomID]
	if !ok {
		return nil, ErrNotFound
	}
	msg.Seq = r.LastSeq + 1
	msg.CreatedAt = monotonic(msg.CreatedAt, r.LastMessageAt)
	msg.IsRead = false

	cp := *msg
	m.messages[r.ID] = append(m.messages[r.ID], &cp)

	r.LastSeq = msg.Seq
	r.LastMessageAt = msg.CreatedAt
	r.LastMessageBy = msg.SenderID
	r.HasUnread = true
	return cloneRoom(r), nil
}

func (m *MemoryStore) ListMessages(_ context.Context, roomID string, afterSeq int64, limit int) ([]*models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.rooms[roomID]; !ok {
		return nil, ErrNotFound
	}
	msgs := m.messages[roomID]
	// seq is dense and 1-based, so afterSeq is also the slice offset
	start := int(afterSeq)
	if start < 0 {
		start = 0
	}
	if start > len(msgs) {
		start = len(msgs)
	}
	end := len(msgs)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	out := make([]*models.Message, 0, end-start)
	for _, msg := range msgs[start:end] {
		cp := *msg
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryStore) MarkRead(_ context.Context, roomID, userID string) (int, *models.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return 0, nil, ErrNotFound
	}
	n := 0
	for _, msg := range m.messages[roomID] {
		if msg.SenderID != userID && !msg.IsRead {
			msg.IsRead = true
			n++
		}
	}
	if r.HasUnread && r.LastMessageBy != userID {
		r.HasUnread = false
	}
	return n, cloneRoom(r), nil
}

func (m *MemoryStore) InsertProposal(_ context.Context, p *models.Proposal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.proposals[p.BookingID]; ok {
		return ErrDuplicate
	}
	if p.Status.Open() {
		if _, ok := m.openProposal[p.MatchID]; ok {
			return ErrDuplicate
		}
		m.openProposal[p.MatchID] = p.BookingID
	}
	cp := *p
	m.proposals[p.BookingID] = &cp
	return nil
}

func (m *MemoryStore) GetProposal(_ context.Context, bookingID string) (*models.Proposal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.proposals[bookingID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) ListProposals(_ context.Context, matchID string) ([]*models.Proposal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Proposal
	for _, p := range m.proposals {
		if p.MatchID == matchID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) TransitionProposal(_ context.Context, bookingID string, from []models.ProposalStatus, fn func(*models.Proposal) error) (*models.Proposal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.proposals[bookingID]
	if !ok {
		return nil, ErrNotFound
	}
	if !statusIn(p.Status, from) {
		cp := *p
		return &cp, ErrStale
	}
	cp := *p
	if err := fn(&cp); err != nil {
		return nil, err
	}
	cp.UpdatedAt = time.Now().UTC()
	if p.Status.Open() && !cp.Status.Open() {
		delete(m.openProposal, cp.MatchID)
	} else if !p.Status.Open() && cp.Status.Open() {
		m.openProposal[cp.MatchID] = cp.BookingID
	}
	m.proposals[bookingID] = &cp
	out := cp
	return &out, nil
}

// monotonic keeps message timestamps non-decreasing within a room.
func monotonic(ts, last time.Time) time.Time {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	if ts.Before(last) {
		return last
	}
	return ts
}

func cloneProfile(p *models.MatchProfile) *models.MatchProfile {
	cp := *p
	cp.Sports = append([]string(nil), p.Sports...)
	cp.Availability = append([]models.AvailabilityWindow(nil), p.Availability...)
	return &cp
}

func cloneMatch(mt *models.Match) *models.Match {
	cp := *mt
	if mt.Schedule != nil {
		s := *mt.Schedule
		cp.Schedule = &s
	}
	return &cp
}

func cloneRoom(r *models.Room) *models.Room {
	cp := *r
	if r.Match != nil {
		mr := *r.Match
		cp.Match = &mr
	}
	if r.Business != nil {
		br := *r.Business
		cp.Business = &br
	}
	return &cp
}
