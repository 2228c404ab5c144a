// Package profile owns each user's matching preferences and keeps the geo
// index in step with them.
package profile

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/example/court-matching/internal/apperr"
	"github.com/example/court-matching/internal/geo"
	"github.com/example/court-matching/internal/logging"
	"github.com/example/court-matching/internal/models"
	"github.com/example/court-matching/internal/storage"
)

const minAge = 13

// Input is the client-supplied profile. Active defaults to true.
type Input struct {
	Sports           []string                    `json:"sports"`
	SkillLevel       models.SkillLevel           `json:"skillLevel"`
	Location         *models.Coord               `json:"location"`
	SearchRadiusKm   float64                     `json:"searchRadiusKm"`
	Gender           models.Gender               `json:"gender"`
	GenderPreference models.Gender               `json:"genderPreference"`
	Age              int                         `json:"age"`
	AgeRange         models.AgeRange             `json:"ageRange"`
	Availability     []models.AvailabilityWindow `json:"availability"`
	Active           *bool                       `json:"active"`
}

type Options struct {
	DefaultRadiusKm float64
	MaxRadiusKm     float64
}

type Service struct {
	store  storage.ProfileStore
	geo    geo.Geo
	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

func NewService(store storage.ProfileStore, g geo.Geo, opts Options, logger *slog.Logger) *Service {
	if opts.MaxRadiusKm <= 0 {
		opts.MaxRadiusKm = 100
	}
	if opts.DefaultRadiusKm <= 0 || opts.DefaultRadiusKm > opts.MaxRadiusKm {
		opts.DefaultRadiusKm = opts.MaxRadiusKm
	}
	return &Service{store: store, geo: g, opts: opts, logger: logging.OrDiscard(logger), now: time.Now}
}

// Upsert validates and stores the caller's profile, then indexes its
// location when active and drops it from the index otherwise.
func (s *Service) Upsert(ctx context.Context, userID string, in Input) (*models.MatchProfile, error) {
	if userID == "" {
		return nil, apperr.New(apperr.KindValidation, "profile_incomplete", "user id is required")
	}
	if err := s.validate(&in); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	p := &models.MatchProfile{
		UserID:           userID,
		Sports:           normalizeSports(in.Sports),
		SkillLevel:       in.SkillLevel,
		Location:         *in.Location,
		SearchRadiusKm:   in.SearchRadiusKm,
		Gender:           in.Gender,
		GenderPreference: in.GenderPreference,
		Age:              in.Age,
		AgeRange:         in.AgeRange,
		Availability:     in.Availability,
		Active:           in.Active == nil || *in.Active,
		LastActiveAt:     now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.store.UpsertProfile(ctx, p); err != nil {
		return nil, err
	}

	var err error
	if p.Active {
		err = s.geo.Upsert(ctx, userID, p.Location)
	} else {
		err = s.geo.Remove(ctx, userID)
	}
	if err != nil {
		s.logger.Error("geo index update failed", "user_id", userID, "error", err)
		return nil, apperr.Wrap(apperr.KindDependency, "geo_index", err, "profile saved but location index update failed")
	}
	return p, nil
}

func (s *Service) Get(ctx context.Context, userID string) (*models.MatchProfile, error) {
	p, err := s.store.GetProfile(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.New(apperr.KindNotFound, "profile_not_found", "no matching profile")
	}
	return p, err
}

// Touch refreshes lastActiveAt; a missing profile is ignored.
func (s *Service) Touch(ctx context.Context, userID string) error {
	err := s.store.TouchProfile(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	return err
}

func (s *Service) validate(in *Input) error {
	switch {
	case len(normalizeSports(in.Sports)) == 0:
		return incomplete("at least one sport is required")
	case in.SkillLevel == 0:
		return incomplete("skillLevel is required")
	case in.Location == nil:
		return incomplete("location is required")
	case in.Gender == "":
		return incomplete("gender is required")
	case in.Age == 0:
		return incomplete("age is required")
	}

	if !in.SkillLevel.Valid() {
		return invalid("unknown skill level")
	}
	if in.Location.Lat < -90 || in.Location.Lat > 90 || in.Location.Lon < -180 || in.Location.Lon > 180 {
		return invalid("location out of range")
	}
	if in.SearchRadiusKm == 0 {
		in.SearchRadiusKm = s.opts.DefaultRadiusKm
	}
	if in.SearchRadiusKm < 0 || in.SearchRadiusKm > s.opts.MaxRadiusKm {
		return apperr.Newf(apperr.KindValidation, "profile_invalid", "searchRadiusKm must be in (0, %g]", s.opts.MaxRadiusKm)
	}
	if !in.Gender.Valid() {
		return invalid("gender must be male or female")
	}
	if in.GenderPreference == "" {
		in.GenderPreference = models.GenderAny
	}
	if !in.GenderPreference.ValidPreference() {
		return invalid("genderPreference must be male, female or any")
	}
	if in.Age < minAge {
		return apperr.Newf(apperr.KindValidation, "profile_invalid", "age must be at least %d", minAge)
	}
	if in.AgeRange.Min < 0 || in.AgeRange.Max < 0 || (in.AgeRange.Max > 0 && in.AgeRange.Min > in.AgeRange.Max) {
		return invalid("ageRange.min must not exceed ageRange.max")
	}
	for _, w := range in.Availability {
		if w.Weekday < 0 || w.Weekday > 6 || !models.ClockRange(w.Start, w.End) {
			return invalid("availability windows need weekday 0-6 and HH:MM start before end")
		}
	}
	return nil
}

func incomplete(msg string) error { return apperr.New(apperr.KindValidation, "profile_incomplete", msg) }
func invalid(msg string) error    { return apperr.New(apperr.KindValidation, "profile_invalid", msg) }

func normalizeSports(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = models.NormalizeSport(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
