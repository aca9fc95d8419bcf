package geo

import (
	"math"
	"sync"
	"time"

	"github.com/example/driver-hail/internal/models"
)

// Index is the minimal interface required by the locations pipeline and
// the nearby-drivers read path.
type Index interface {
	Nearby(lat, lng float64, limit int) []models.LocationUpdate
	Upsert(u models.LocationUpdate)
}

// MemoryIndex is a naive in-process location index; in prod use the
// Redis-backed variant.
type MemoryIndex struct {
	mu      sync.RWMutex
	updated map[string]time.Time
	locs    map[string]models.LocationUpdate
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{updated: make(map[string]time.Time), locs: make(map[string]models.LocationUpdate)}
}

func (g *MemoryIndex) Upsert(u models.LocationUpdate) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.locs[u.DriverID] = u
	g.updated[u.DriverID] = time.Now()
}

func (g *MemoryIndex) Nearby(lat, lng float64, limit int) []models.LocationUpdate {
	g.mu.RLock()
	defer g.mu.RUnlock()
	type pair struct {
		u    models.LocationUpdate
		dist float64
	}
	arr := make([]pair, 0, len(g.locs))
	for _, u := range g.locs {
		if !u.Online {
			continue
		}
		arr = append(arr, pair{u, DistanceKm(models.Coordinates{Lat: lat, Lng: lng}, u.Loc)})
	}
	n := limit
	if n > len(arr) {
		n = len(arr)
	}
	// partial selection sort for top-N
	for i := 0; i < n; i++ {
		minIdx := i
		for j := i + 1; j < len(arr); j++ {
			if arr[j].dist < arr[minIdx].dist {
				minIdx = j
			}
		}
		arr[i], arr[minIdx] = arr[minIdx], arr[i]
	}
	out := make([]models.LocationUpdate, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, arr[i].u)
	}
	return out
}

// earthRadiusKm is the mean spherical radius.
const earthRadiusKm = 6371.0

// DistanceKm returns the great-circle distance between two coordinates in
// kilometres using the haversine formula. Symmetric, zero iff a == b.
func DistanceKm(a, b models.Coordinates) float64 {
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(a.Lat*math.Pi/180)*math.Cos(b.Lat*math.Pi/180)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusKm * c
}
