package ranker

import (
	"reflect"
	"testing"

	"github.com/example/driver-hail/internal/models"
)

// offsetKm shifts a coordinate north by roughly the given distance.
func offsetKm(base models.Coordinates, km float64) models.Coordinates {
	return models.Coordinates{Lat: base.Lat + km/111.195, Lng: base.Lng}
}

func available(id string, loc models.Coordinates) models.DriverRecord {
	return models.DriverRecord{ID: id, Location: loc, Status: models.DriverAvailable, Approval: models.ApprovalApproved}
}

func TestBuildQueuePinsSelectedAndSortsByDistance(t *testing.T) {
	origin := models.Coordinates{Lat: 12.9716, Lng: 77.5946}
	pool := []models.DriverRecord{
		available("D1", origin),               // 0 km, selected
		available("D2", offsetKm(origin, 1.2)), // 1.2 km
		available("D3", offsetKm(origin, 0.3)), // 0.3 km
	}
	got := BuildQueue("D1", origin, pool)
	want := []string{"D1", "D3", "D2"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("queue = %v, want %v", got, want)
	}
}

func TestBuildQueueSelectedPinnedEvenIfFarthest(t *testing.T) {
	origin := models.Coordinates{Lat: 0, Lng: 0}
	pool := []models.DriverRecord{
		available("near", offsetKm(origin, 0.1)),
		available("far", offsetKm(origin, 50)),
	}
	got := BuildQueue("far", origin, pool)
	want := []string{"far", "near"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("queue = %v, want %v", got, want)
	}
}

func TestBuildQueueDropsUnavailable(t *testing.T) {
	origin := models.Coordinates{Lat: 0, Lng: 0}
	busy := available("busy", offsetKm(origin, 0.1))
	busy.Status = models.DriverBusy
	pool := []models.DriverRecord{
		available("sel", origin),
		busy,
		available("ok", offsetKm(origin, 1)),
	}
	got := BuildQueue("sel", origin, pool)
	want := []string{"sel", "ok"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("queue = %v, want %v", got, want)
	}
}

func TestBuildQueueSingleCandidate(t *testing.T) {
	origin := models.Coordinates{Lat: 0, Lng: 0}
	got := BuildQueue("only", origin, []models.DriverRecord{available("only", origin)})
	if len(got) != 1 || got[0] != "only" {
		t.Fatalf("queue = %v, want [only]", got)
	}
}

func TestBuildQueueTieBreaksByID(t *testing.T) {
	origin := models.Coordinates{Lat: 0, Lng: 0}
	loc := offsetKm(origin, 0.5)
	pool := []models.DriverRecord{
		available("sel", origin),
		available("b", loc),
		available("a", loc),
	}
	got := BuildQueue("sel", origin, pool)
	want := []string{"sel", "a", "b"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("queue = %v, want %v", got, want)
	}
}
