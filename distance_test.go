package nrcexport

import (
	"math"
	"testing"
)

func TestAccumulateIdenticalPointsAddZero(t *testing.T) {
	points := []TrackPoint{
		{Latitude: 40, Longitude: -73},
		{Latitude: 40, Longitude: -73},
		{Latitude: 40.001, Longitude: -73.001},
		{Latitude: 40.001, Longitude: -73.001},
	}
	for _, model := range []DistanceModel{Ellipsoid, Sphere} {
		got := Accumulate(points, model)
		if len(got) != len(points) {
			t.Fatalf("%s: length %d, want %d", model, len(got), len(points))
		}
		if got[0] != 0 || got[1] != 0 {
			t.Fatalf("%s: identical leading points should stay at 0, got %v", model, got[:2])
		}
		if got[3] != got[2] {
			t.Fatalf("%s: identical trailing points added %v", model, got[3]-got[2])
		}
		if got[2] <= 0 {
			t.Fatalf("%s: expected positive distance, got %v", model, got[2])
		}
	}
}

func TestAccumulateKnownDistances(t *testing.T) {
	points := []TrackPoint{
		{Latitude: 0, Longitude: 0},
		{Latitude: 1, Longitude: 0},
	}
	ellipsoid := Accumulate(points, Ellipsoid)
	if math.Abs(ellipsoid[1]-110574.389) > 1 {
		t.Fatalf("ellipsoid meridian degree = %.3f", ellipsoid[1])
	}
	sphere := Accumulate(points, Sphere)
	want := MeanEarthRadiusMeters * math.Pi / 180
	if math.Abs(sphere[1]-want) > 0.01 {
		t.Fatalf("sphere degree = %.3f, want %.3f", sphere[1], want)
	}
}

func TestAccumulateNonDecreasing(t *testing.T) {
	act := parallelActivity(50)
	track, err := Normalize(act, SourceParallel)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	got := Accumulate(track.Points(), Ellipsoid)
	if got[0] != 0 {
		t.Fatalf("first distance = %v", got[0])
	}
	for i := 1; i < len(got); i++ {
		if got[i] < got[i-1] {
			t.Fatalf("distance decreased at %d: %v < %v", i, got[i], got[i-1])
		}
	}
}

func TestAccumulateEdgeLengths(t *testing.T) {
	if got := Accumulate(nil, Ellipsoid); len(got) != 0 {
		t.Fatalf("empty input gave %v", got)
	}
	got := Accumulate([]TrackPoint{{Latitude: 10, Longitude: 10}}, Sphere)
	if len(got) != 1 || got[0] != 0 {
		t.Fatalf("single point gave %v", got)
	}
}

func TestAccumulateTrackCarriesAcrossSegments(t *testing.T) {
	track := &Track{
		Segments: []Segment{
			{Name: "segment-1", Points: []TrackPoint{
				{Latitude: 40, Longitude: -73},
				{Latitude: 40.001, Longitude: -73},
			}},
			{Name: "segment-2", Points: []TrackPoint{
				{Latitude: 45, Longitude: -80},
				{Latitude: 45.001, Longitude: -80},
			}},
		},
	}
	AccumulateTrack(track, Ellipsoid)
	d := track.CumulativeDistanceMeters
	if len(d) != 4 {
		t.Fatalf("expected 4 distances, got %d", len(d))
	}
	if d[0] != 0 {
		t.Fatalf("first distance = %v", d[0])
	}
	if d[2] != d[1] {
		t.Fatalf("segment boundary added distance: %v -> %v", d[1], d[2])
	}
	if d[3] <= d[2] || d[3]-d[2] > 200 {
		t.Fatalf("unexpected second segment step: %v", d[3]-d[2])
	}
	if track.TotalDistanceMeters() != d[3] {
		t.Fatalf("total distance = %v", track.TotalDistanceMeters())
	}
}

func TestParseDistanceModel(t *testing.T) {
	if m, err := ParseDistanceModel("sphere"); err != nil || m != Sphere {
		t.Fatalf("sphere = %v, %v", m, err)
	}
	if m, err := ParseDistanceModel(""); err != nil || m != Ellipsoid {
		t.Fatalf("default = %v, %v", m, err)
	}
	if _, err := ParseDistanceModel("flat"); err == nil {
		t.Fatal("expected error for flat model")
	}
}
