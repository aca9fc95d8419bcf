package geo

import (
	"math"
	"testing"

	"github.com/example/driver-hail/internal/models"
)

func TestDistanceKmZero(t *testing.T) {
	p := models.Coordinates{Lat: 12.9716, Lng: 77.5946}
	if d := DistanceKm(p, p); d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

func TestDistanceKmSymmetric(t *testing.T) {
	a := models.Coordinates{Lat: 12.9716, Lng: 77.5946}
	b := models.Coordinates{Lat: 13.0827, Lng: 80.2707}
	if DistanceKm(a, b) != DistanceKm(b, a) {
		t.Fatalf("distance not symmetric: %f vs %f", DistanceKm(a, b), DistanceKm(b, a))
	}
}

func TestDistanceKmOneDegreeLatitude(t *testing.T) {
	// one degree of latitude on a 6371 km sphere is ~111.19 km
	a := models.Coordinates{Lat: 0, Lng: 0}
	b := models.Coordinates{Lat: 1, Lng: 0}
	d := DistanceKm(a, b)
	if math.Abs(d-111.195) > 0.01 {
		t.Fatalf("expected ~111.195 km, got %f", d)
	}
}

func TestMemoryIndexNearbyOrdersByDistance(t *testing.T) {
	idx := NewMemoryIndex()
	idx.Upsert(models.LocationUpdate{DriverID: "far", Loc: models.Coordinates{Lat: 1, Lng: 0}, Online: true})
	idx.Upsert(models.LocationUpdate{DriverID: "near", Loc: models.Coordinates{Lat: 0.001, Lng: 0}, Online: true})
	idx.Upsert(models.LocationUpdate{DriverID: "offline", Loc: models.Coordinates{Lat: 0, Lng: 0}, Online: false})

	got := idx.Nearby(0, 0, 10)
	if len(got) != 2 {
		t.Fatalf("expected 2 online drivers, got %d", len(got))
	}
	if got[0].DriverID != "near" || got[1].DriverID != "far" {
		t.Fatalf("wrong order: %s, %s", got[0].DriverID, got[1].DriverID)
	}
}
