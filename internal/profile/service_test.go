package profile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/court-matching/internal/apperr"
	"github.com/example/court-matching/internal/geo"
	"github.com/example/court-matching/internal/models"
	"github.com/example/court-matching/internal/storage"
)

func validInput() Input {
	return Input{
		Sports:     []string{" Football ", "football", "tennis"},
		SkillLevel: models.SkillIntermediate,
		Location:   &models.Coord{Lat: 52.52, Lon: 13.40},
		Gender:     models.GenderFemale,
		Age:        29,
		AgeRange:   models.AgeRange{Min: 20, Max: 40},
	}
}

func newService() (*Service, *storage.MemoryStore, *geo.Index) {
	st := storage.NewMemoryStore()
	idx := geo.NewIndex()
	return NewService(st, idx, Options{DefaultRadiusKm: 10, MaxRadiusKm: 100}, nil), st, idx
}

func TestUpsertNormalisesAndIndexes(t *testing.T) {
	ctx := context.Background()
	svc, _, idx := newService()

	p, err := svc.Upsert(ctx, "alice", validInput())
	require.NoError(t, err)
	assert.Equal(t, []string{"football", "tennis"}, p.Sports)
	assert.Equal(t, 10.0, p.SearchRadiusKm)
	assert.Equal(t, models.GenderAny, p.GenderPreference)
	assert.True(t, p.Active)
	assert.False(t, p.LastActiveAt.IsZero())

	hits, _ := idx.Nearby(ctx, models.Coord{Lat: 52.52, Lon: 13.40}, 1, 10)
	require.Len(t, hits, 1)
	assert.Equal(t, "alice", hits[0].UserID)

	got, err := svc.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.SkillIntermediate, got.SkillLevel)
}

func TestDeactivateRemovesFromIndex(t *testing.T) {
	ctx := context.Background()
	svc, _, idx := newService()
	_, err := svc.Upsert(ctx, "alice", validInput())
	require.NoError(t, err)

	in := validInput()
	off := false
	in.Active = &off
	_, err = svc.Upsert(ctx, "alice", in)
	require.NoError(t, err)

	hits, _ := idx.Nearby(ctx, models.Coord{Lat: 52.52, Lon: 13.40}, 1, 10)
	assert.Empty(t, hits)
}

func TestUpsertValidation(t *testing.T) {
	svc, _, _ := newService()
	cases := map[string]struct {
		mutate func(*Input)
		code   string
	}{
		"no sports":       {func(in *Input) { in.Sports = []string{" "} }, "profile_incomplete"},
		"no location":     {func(in *Input) { in.Location = nil }, "profile_incomplete"},
		"no skill":        {func(in *Input) { in.SkillLevel = 0 }, "profile_incomplete"},
		"bad skill":       {func(in *Input) { in.SkillLevel = 9 }, "profile_invalid"},
		"bad latitude":    {func(in *Input) { in.Location = &models.Coord{Lat: 91} }, "profile_invalid"},
		"radius too big":  {func(in *Input) { in.SearchRadiusKm = 500 }, "profile_invalid"},
		"bad gender":      {func(in *Input) { in.Gender = "robot" }, "profile_invalid"},
		"bad preference":  {func(in *Input) { in.GenderPreference = "robot" }, "profile_invalid"},
		"too young":       {func(in *Input) { in.Age = 12 }, "profile_invalid"},
		"inverted ages":   {func(in *Input) { in.AgeRange = models.AgeRange{Min: 40, Max: 20} }, "profile_invalid"},
		"bad window":      {func(in *Input) { in.Availability = []models.AvailabilityWindow{{Weekday: 1, Start: "18:00", End: "17:00"}} }, "profile_invalid"},
		"bad weekday":     {func(in *Input) { in.Availability = []models.AvailabilityWindow{{Weekday: 7, Start: "08:00", End: "09:00"}} }, "profile_invalid"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			in := validInput()
			tc.mutate(&in)
			_, err := svc.Upsert(context.Background(), "alice", in)
			require.Error(t, err)
			assert.ErrorIs(t, err, apperr.Validation)
			assert.Equal(t, tc.code, apperr.CodeOf(err))
		})
	}
}

func TestGetMissingProfile(t *testing.T) {
	svc, _, _ := newService()
	_, err := svc.Get(context.Background(), "ghost")
	assert.ErrorIs(t, err, apperr.NotFound)
	assert.NoError(t, svc.Touch(context.Background(), "ghost"))
}
