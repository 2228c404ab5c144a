package candidates

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

type fixture struct {
	store  *storage.MemoryStore
	idx    *geo.Index
	finder *Finder
}

func newFixture() *fixture {
	st := storage.NewMemoryStore()
	idx := geo.NewIndex()
	return &fixture{
		store:  st,
		idx:    idx,
		finder: NewFinder(st, idx, Options{SkillWindow: 1, MaxRadiusKm: 100, DefaultLimit: 20, MaxLimit: 50, ScanLimit: 500}, nil),
	}
}

// add stores a profile offset north of the origin by km.
func (f *fixture) add(t *testing.T, id string, km float64, mutate func(*models.MatchProfile)) {
	t.Helper()
	p := &models.MatchProfile{
		UserID:           id,
		Sports:           []string{"football"},
		SkillLevel:       models.SkillIntermediate,
		Location:         models.Coord{Lat: 48.0 + km/111.195, Lon: 11.0},
		SearchRadiusKm:   10,
		Gender:           models.GenderMale,
		GenderPreference: models.GenderAny,
		Age:              30,
		Active:           true,
	}
	if mutate != nil {
		mutate(p)
	}
	require.NoError(t, f.store.UpsertProfile(context.Background(), p))
	require.NoError(t, f.idx.Upsert(context.Background(), id, p.Location))
}

func ids(cs []Candidate) []string {
	out := make([]string, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.Profile.UserID)
	}
	return out
}

func TestFindNearestFirstWithinRadius(t *testing.T) {
	f := newFixture()
	f.add(t, "me", 0, nil)
	f.add(t, "far", 8, nil)
	f.add(t, "near", 2, nil)
	f.add(t, "outside", 30, nil)

	got, err := f.finder.Find(context.Background(), "me", Filters{})
	require.NoError(t, err)
	assert.Equal(t, []string{"near", "far"}, ids(got))
	assert.InDelta(t, 2.0, got[0].DistanceKm, 0.05)

	got, err = f.finder.Find(context.Background(), "me", Filters{MaxDistanceKm: 50})
	require.NoError(t, err)
	assert.Equal(t, []string{"near", "far", "outside"}, ids(got))

	got, err = f.finder.Find(context.Background(), "me", Filters{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"near"}, ids(got))
}

func TestFindExcludesSwipedAndUnmatched(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.add(t, "me", 0, func(p *models.MatchProfile) { p.Sports = []string{"football", "tennis"} })
	f.add(t, "swiped", 1, func(p *models.MatchProfile) { p.Sports = []string{"football", "tennis"} })
	f.add(t, "ex", 2, func(p *models.MatchProfile) { p.Sports = []string{"football", "tennis"} })
	f.add(t, "fresh", 3, func(p *models.MatchProfile) { p.Sports = []string{"football", "tennis"} })

	require.NoError(t, f.store.InsertSwipe(ctx, &models.Swipe{ID: "s1", ActorID: "me", TargetID: "swiped", Sport: "football", Action: models.ActionPass}))
	require.NoError(t, f.store.InsertMatch(ctx, &models.Match{ID: "m1", User1ID: "ex", User2ID: "me", Sport: "tennis", Status: models.MatchActive}))
	_, err := f.store.UpdateMatch(ctx, "m1", func(m *models.Match) error { m.IsUnmatchedByUser1 = true; return nil })
	require.NoError(t, err)

	got, err := f.finder.Find(ctx, "me", Filters{Sport: "football"})
	require.NoError(t, err)
	assert.Equal(t, []string{"fresh"}, ids(got))

	// the football swipe does not hide the target for tennis; the unmatch does
	got, err = f.finder.Find(ctx, "me", Filters{Sport: "Tennis"})
	require.NoError(t, err)
	assert.Equal(t, []string{"swiped", "fresh"}, ids(got))
}

func TestFindAttributeFilters(t *testing.T) {
	f := newFixture()
	f.add(t, "me", 0, func(p *models.MatchProfile) {
		p.Gender = models.GenderFemale
		p.GenderPreference = models.GenderFemale
		p.AgeRange = models.AgeRange{Min: 25, Max: 35}
	})
	f.add(t, "man", 1, nil)
	f.add(t, "picky", 1.5, func(p *models.MatchProfile) { p.Gender = models.GenderFemale; p.GenderPreference = models.GenderMale })
	f.add(t, "pro", 2, func(p *models.MatchProfile) { p.Gender = models.GenderFemale; p.SkillLevel = models.SkillProfessional })
	f.add(t, "old", 2.5, func(p *models.MatchProfile) { p.Gender = models.GenderFemale; p.Age = 50 })
	f.add(t, "inactive", 3, func(p *models.MatchProfile) { p.Gender = models.GenderFemale; p.Active = false })
	f.add(t, "tennis", 3.5, func(p *models.MatchProfile) { p.Gender = models.GenderFemale; p.Sports = []string{"tennis"} })
	f.add(t, "ok", 4, func(p *models.MatchProfile) { p.Gender = models.GenderFemale; p.SkillLevel = models.SkillAdvanced })

	got, err := f.finder.Find(context.Background(), "me", Filters{})
	require.NoError(t, err)
	assert.Equal(t, []string{"ok"}, ids(got))

	// a gender override replaces the symmetric check
	got, err = f.finder.Find(context.Background(), "me", Filters{Gender: models.GenderMale})
	require.NoError(t, err)
	assert.Equal(t, []string{"man"}, ids(got))

	got, err = f.finder.Find(context.Background(), "me", Filters{SkillLevel: models.SkillProfessional})
	require.NoError(t, err)
	assert.Equal(t, []string{"pro", "ok"}, ids(got))
}

func TestFindCallerErrors(t *testing.T) {
	f := newFixture()
	_, err := f.finder.Find(context.Background(), "ghost", Filters{})
	assert.ErrorIs(t, err, apperr.NotFound)

	f.add(t, "sleepy", 0, func(p *models.MatchProfile) { p.Active = false })
	_, err = f.finder.Find(context.Background(), "sleepy", Filters{})
	assert.ErrorIs(t, err, apperr.InvalidState)
}
