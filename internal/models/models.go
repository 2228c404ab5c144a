package models

import (
	"strings"
	"time"
)

type Coord struct {
	Lat float64 `json:"lat" db:"lat"`
	Lon float64 `json:"lon" db:"lon"`
}

// SkillLevel is ordinal; comparisons between levels are meaningful.
type SkillLevel int

const (
	SkillBeginner SkillLevel = iota + 1
	SkillIntermediate
	SkillAdvanced
	SkillProfessional
)

var skillNames = map[SkillLevel]string{
	SkillBeginner:     "beginner",
	SkillIntermediate: "intermediate",
	SkillAdvanced:     "advanced",
	SkillProfessional: "professional",
}

func (s SkillLevel) String() string {
	if n, ok := skillNames[s]; ok {
		return n
	}
	return "unknown"
}

func (s SkillLevel) Valid() bool { _, ok := skillNames[s]; return ok }

func ParseSkillLevel(v string) (SkillLevel, bool) {
	v = strings.ToLower(strings.TrimSpace(v))
	for lvl, name := range skillNames {
		if name == v {
			return lvl, true
		}
	}
	return 0, false
}

func (s SkillLevel) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *SkillLevel) UnmarshalText(b []byte) error {
	lvl, ok := ParseSkillLevel(string(b))
	if !ok {
		*s = 0
		return nil
	}
	*s = lvl
	return nil
}

type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
	GenderAny    Gender = "any"
)

func (g Gender) Valid() bool { return g == GenderMale || g == GenderFemale }

func (g Gender) ValidPreference() bool { return g == GenderAny || g.Valid() }

// Accepts reports whether a preference admits the given gender.
func (g Gender) Accepts(other Gender) bool { return g == GenderAny || g == "" || g == other }

type AgeRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

func (r AgeRange) Contains(age int) bool {
	if r.Min > 0 && age < r.Min {
		return false
	}
	if r.Max > 0 && age > r.Max {
		return false
	}
	return true
}

type AvailabilityWindow struct {
	Weekday int    `json:"weekday"` // 0 = Sunday
	Start   string `json:"start"`   // HH:MM
	End     string `json:"end"`     // HH:MM
}

type MatchProfile struct {
	UserID           string               `json:"userId"`
	Sports           []string             `json:"sports"`
	SkillLevel       SkillLevel           `json:"skillLevel"`
	Location         Coord                `json:"location"`
	SearchRadiusKm   float64              `json:"searchRadiusKm"`
	Gender           Gender               `json:"gender"`
	GenderPreference Gender               `json:"genderPreference"`
	Age              int                  `json:"age"`
	AgeRange         AgeRange             `json:"ageRange"`
	Availability     []AvailabilityWindow `json:"availability"`
	Active           bool                 `json:"active"`
	LastActiveAt     time.Time            `json:"lastActiveAt"`
	CreatedAt        time.Time            `json:"createdAt"`
	UpdatedAt        time.Time            `json:"updatedAt"`
}

// NormalizeSport is the canonical form sports are stored and compared in.
func NormalizeSport(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func (p *MatchProfile) PlaysSport(sport string) bool {
	for _, s := range p.Sports {
		if s == sport {
			return true
		}
	}
	return false
}

type SwipeAction string

const (
	ActionLike      SwipeAction = "like"
	ActionPass      SwipeAction = "pass"
	ActionSuperLike SwipeAction = "super_like"
)

func (a SwipeAction) Valid() bool {
	return a == ActionLike || a == ActionPass || a == ActionSuperLike
}

// Positive is true for actions that count towards reciprocity.
func (a SwipeAction) Positive() bool { return a == ActionLike || a == ActionSuperLike }

type Swipe struct {
	ID        string      `json:"id" db:"id"`
	ActorID   string      `json:"actorId" db:"actor_id"`
	TargetID  string      `json:"targetId" db:"target_id"`
	Sport     string      `json:"sport" db:"sport"`
	Action    SwipeAction `json:"action" db:"action"`
	CreatedAt time.Time   `json:"createdAt" db:"created_at"`
}

type MatchStatus string

const (
	MatchActive    MatchStatus = "active"
	MatchScheduled MatchStatus = "scheduled"
	MatchCancelled MatchStatus = "cancelled"
)

func (s MatchStatus) Valid() bool {
	return s == MatchActive || s == MatchScheduled || s == MatchCancelled
}

type Schedule struct {
	Date      string `json:"date"`      // YYYY-MM-DD
	StartTime string `json:"startTime"` // HH:MM
	EndTime   string `json:"endTime"`   // HH:MM
	FieldID   string `json:"fieldId,omitempty"`
	CourtID   string `json:"courtId,omitempty"`
	BookingID string `json:"bookingId,omitempty"`
}

const (
	DateLayout  = "2006-01-02"
	ClockLayout = "15:04"
)

// ClockRange reports whether start and end are HH:MM times with start < end.
func ClockRange(start, end string) bool {
	s, err := time.Parse(ClockLayout, start)
	if err != nil {
		return false
	}
	e, err := time.Parse(ClockLayout, end)
	if err != nil {
		return false
	}
	return s.Before(e)
}

// Valid checks the date and time fields only.
func (s Schedule) Valid() bool {
	if _, err := time.Parse(DateLayout, s.Date); err != nil {
		return false
	}
	return ClockRange(s.StartTime, s.EndTime)
}

type Match struct {
	ID                 string      `json:"id"`
	User1ID            string      `json:"user1Id"`
	User2ID            string      `json:"user2Id"`
	Sport              string      `json:"sport"`
	Status             MatchStatus `json:"status"`
	ChatRoomID         string      `json:"chatRoomId"`
	Schedule           *Schedule   `json:"schedule,omitempty"`
	IsUnmatchedByUser1 bool        `json:"isUnmatchedByUser1"`
	IsUnmatchedByUser2 bool        `json:"isUnmatchedByUser2"`
	MatchedAt          time.Time   `json:"matchedAt"`
	LastInteractionAt  time.Time   `json:"lastInteractionAt"`
}

// HasParticipant is the symmetric membership check used for every
// participant-only action.
func (m *Match) HasParticipant(userID string) bool {
	return userID != "" && (m.User1ID == userID || m.User2ID == userID)
}

// Counterpart returns the other participant, or "" if userID is not one.
func (m *Match) Counterpart(userID string) string {
	switch userID {
	case m.User1ID:
		return m.User2ID
	case m.User2ID:
		return m.User1ID
	}
	return ""
}

// Unmatched is true once either side has left the pair.
func (m *Match) Unmatched() bool { return m.IsUnmatchedByUser1 || m.IsUnmatchedByUser2 }

func (m *Match) UnmatchedBy(userID string) bool {
	switch userID {
	case m.User1ID:
		return m.IsUnmatchedByUser1
	case m.User2ID:
		return m.IsUnmatchedByUser2
	}
	return false
}

// PairKey is the undirected natural key of a pair, independent of order.
func PairKey(a, b string) (lo, hi string) {
	if a < b {
		return a, b
	}
	return b, a
}
