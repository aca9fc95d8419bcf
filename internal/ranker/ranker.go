// Package ranker builds the ordered candidate queue for a booking
// request: the customer's selected driver pinned first, the rest of the
// pool nearest-first.
package ranker

import (
	"sort"

	"github.com/example/driver-hail/internal/geo"
	"github.com/example/driver-hail/internal/models"
)

// BuildQueue returns the candidate driver ids for one booking. Pool
// members that are not AVAILABLE are dropped; the remainder is sorted
// ascending by distance to origin with ties broken by driver id, and the
// selected driver is moved to the front regardless of its rank. The queue
// is never mutated in place afterwards — escalation derives the next
// state by dropping the head.
func BuildQueue(selectedDriverID string, origin models.Coordinates, pool []models.DriverRecord) []string {
	type ranked struct {
		id   string
		dist float64
	}
	rest := make([]ranked, 0, len(pool))
	for _, d := range pool {
		if d.Status != models.DriverAvailable || d.ID == selectedDriverID {
			continue
		}
		rest = append(rest, ranked{id: d.ID, dist: geo.DistanceKm(origin, d.Location)})
	}
	sort.Slice(rest, func(i, j int) bool {
		if rest[i].dist != rest[j].dist {
			return rest[i].dist < rest[j].dist
		}
		return rest[i].id < rest[j].id
	})

	queue := make([]string, 0, len(rest)+1)
	queue = append(queue, selectedDriverID)
	for _, r := range rest {
		queue = append(queue, r.id)
	}
	return queue
}
