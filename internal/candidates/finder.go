// Package candidates builds the nearest-first page of profiles a user can
// swipe on.
package candidates

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/example/court-matching/internal/apperr"
	"github.com/example/court-matching/internal/geo"
	"github.com/example/court-matching/internal/logging"
	"github.com/example/court-matching/internal/models"
	"github.com/example/court-matching/internal/observability"
	"github.com/example/court-matching/internal/storage"
)

type Store interface {
	GetProfile(ctx context.Context, userID string) (*models.MatchProfile, error)
	GetProfiles(ctx context.Context, userIDs []string) (map[string]*models.MatchProfile, error)
	SwipedTargets(ctx context.Context, actorID string, sports []string) ([]string, error)
	UnmatchedCounterparts(ctx context.Context, userID string) ([]string, error)
}

// Filters override the caller's stored preferences for one search. Zero
// values mean "use the profile".
type Filters struct {
	Sport         string
	MaxDistanceKm float64
	SkillLevel    models.SkillLevel
	Gender        models.Gender
	Limit         int
}

type Candidate struct {
	Profile    *models.MatchProfile `json:"profile"`
	DistanceKm float64              `json:"distanceKm"`
}

type Options struct {
	SkillWindow  int
	MaxRadiusKm  float64
	DefaultLimit int
	MaxLimit     int
	// ScanLimit bounds how many geo hits are examined per search.
	ScanLimit int
}

type Finder struct {
	store  Store
	geo    geo.Geo
	opts   Options
	logger *slog.Logger
}

func NewFinder(store Store, g geo.Geo, opts Options, logger *slog.Logger) *Finder {
	if opts.SkillWindow < 0 {
		opts.SkillWindow = 0
	}
	if opts.MaxLimit <= 0 {
		opts.MaxLimit = 50
	}
	if opts.DefaultLimit <= 0 || opts.DefaultLimit > opts.MaxLimit {
		opts.DefaultLimit = 20
	}
	if opts.ScanLimit < opts.MaxLimit {
		opts.ScanLimit = 500
	}
	if opts.MaxRadiusKm <= 0 {
		opts.MaxRadiusKm = 100
	}
	return &Finder{store: store, geo: g, opts: opts, logger: logging.OrDiscard(logger)}
}

func (f *Finder) Find(ctx context.Context, userID string, flt Filters) ([]Candidate, error) {
	defer func(start time.Time) {
		observability.CandidateLatency.Observe(time.Since(start).Seconds())
	}(time.Now())

	me, err := f.store.GetProfile(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.New(apperr.KindNotFound, "profile_not_found", "create a matching profile first")
	}
	if err != nil {
		return nil, err
	}
	if !me.Active {
		return nil, apperr.New(apperr.KindInvalidState, "profile_inactive", "matching profile is inactive")
	}

	sports := me.Sports
	if flt.Sport != "" {
		sports = []string{models.NormalizeSport(flt.Sport)}
	}
	if flt.Gender != "" && !flt.Gender.ValidPreference() {
		return nil, apperr.New(apperr.KindValidation, "invalid_filter", "gender must be male, female or any")
	}
	if flt.SkillLevel != 0 && !flt.SkillLevel.Valid() {
		return nil, apperr.New(apperr.KindValidation, "invalid_filter", "unknown skill level")
	}

	limit := flt.Limit
	if limit <= 0 {
		limit = f.opts.DefaultLimit
	}
	if limit > f.opts.MaxLimit {
		limit = f.opts.MaxLimit
	}
	radius := me.SearchRadiusKm
	if flt.MaxDistanceKm > 0 {
		radius = flt.MaxDistanceKm
	}
	if radius > f.opts.MaxRadiusKm {
		radius = f.opts.MaxRadiusKm
	}

	excluded, err := f.exclusions(ctx, userID, sports)
	if err != nil {
		return nil, err
	}

	hits, err := f.geo.Nearby(ctx, me.Location, radius, f.opts.ScanLimit)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDependency, "geo_index", err, "candidate search failed")
	}
	ids := make([]string, 0, len(hits))
	for _, h := range hits {
		if _, skip := excluded[h.UserID]; !skip {
			ids = append(ids, h.UserID)
		}
	}
	if len(ids) == 0 {
		return []Candidate{}, nil
	}
	profiles, err := f.store.GetProfiles(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]Candidate, 0, limit)
	for _, h := range hits {
		if len(out) == limit {
			break
		}
		p, ok := profiles[h.UserID]
		if !ok {
			continue
		}
		if _, skip := excluded[h.UserID]; skip {
			continue
		}
		if !f.accepts(me, p, sports, flt) {
			continue
		}
		out = append(out, Candidate{Profile: p, DistanceKm: h.DistanceKm()})
	}
	return out, nil
}

// exclusions is self, everyone swiped for the sports, and every counterpart
// of an unmatched pair in any sport.
func (f *Finder) exclusions(ctx context.Context, userID string, sports []string) (map[string]struct{}, error) {
	swiped, err := f.store.SwipedTargets(ctx, userID, sports)
	if err != nil {
		return nil, err
	}
	gone, err := f.store.UnmatchedCounterparts(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]struct{}, len(swiped)+len(gone)+1)
	out[userID] = struct{}{}
	for _, id := range swiped {
		out[id] = struct{}{}
	}
	for _, id := range gone {
		out[id] = struct{}{}
	}
	return out, nil
}

func (f *Finder) accepts(me, c *models.MatchProfile, sports []string, flt Filters) bool {
	if !c.Active {
		return false
	}
	plays := false
	for _, s := range sports {
		if c.PlaysSport(s) {
			plays = true
			break
		}
	}
	if !plays {
		return false
	}

	if flt.Gender != "" {
		if !flt.Gender.Accepts(c.Gender) {
			return false
		}
	} else if !me.GenderPreference.Accepts(c.Gender) || !c.GenderPreference.Accepts(me.Gender) {
		return false
	}

	center := me.SkillLevel
	if flt.SkillLevel != 0 {
		center = flt.SkillLevel
	}
	diff := int(c.SkillLevel) - int(center)
	if diff < 0 {
		diff = -diff
	}
	if diff > f.opts.SkillWindow {
		return false
	}
	return me.AgeRange.Contains(c.Age)
}
