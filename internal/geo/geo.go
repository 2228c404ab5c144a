package geo

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/example/court-matching/internal/models"
)

// Hit is one profile found by a radius search.
type Hit struct {
	UserID         string
	DistanceMeters float64
}

func (h Hit) DistanceKm() float64 { return h.DistanceMeters / 1000 }

// Geo is the location index used by the candidate finder and profile store.
type Geo interface {
	Upsert(ctx context.Context, userID string, loc models.Coord) error
	Remove(ctx context.Context, userID string) error
	// Nearby returns at most limit hits within radiusKm, nearest first.
	Nearby(ctx context.Context, center models.Coord, radiusKm float64, limit int) ([]Hit, error)
}

type Index struct {
	mu     sync.RWMutex
	points map[string]models.Coord
}

func NewIndex() *Index {
	return &Index{points: make(map[string]models.Coord)}
}

func (g *Index) Upsert(_ context.Context, userID string, loc models.Coord) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.points[userID] = loc
	return nil
}

func (g *Index) Remove(_ context.Context, userID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.points, userID)
	return nil
}

// naive scan; the Redis index is used when configured
func (g *Index) Nearby(_ context.Context, center models.Coord, radiusKm float64, limit int) ([]Hit, error) {
	radiusM := radiusKm * 1000
	g.mu.RLock()
	hits := make([]Hit, 0, len(g.points))
	for id, p := range g.points {
		d := Haversine(center.Lat, center.Lon, p.Lat, p.Lon)
		if d <= radiusM {
			hits = append(hits, Hit{UserID: id, DistanceMeters: d})
		}
	}
	g.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].DistanceMeters == hits[j].DistanceMeters {
			return hits[i].UserID < hits[j].UserID
		}
		return hits[i].DistanceMeters < hits[j].DistanceMeters
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// Haversine distance in meters
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
