package nrcexport

import (
	"fmt"
	"strings"

	"github.com/golang/geo/s2"
	"github.com/tidwall/geodesic"
)

// DistanceModel selects the earth model for point-to-point distances.
type DistanceModel int

const (
	// Ellipsoid uses the WGS84 inverse geodesic.
	Ellipsoid DistanceModel = iota
	// Sphere uses great-circle distance on a sphere of mean earth radius.
	Sphere
)

// MeanEarthRadiusMeters is the IUGG mean radius used by Sphere.
const MeanEarthRadiusMeters = 6371008.8

func (m DistanceModel) String() string {
	if m == Sphere {
		return "sphere"
	}
	return "ellipsoid"
}

// ParseDistanceModel parses ellipsoid|sphere.
func ParseDistanceModel(s string) (DistanceModel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "ellipsoid", "wgs84", "geodesic":
		return Ellipsoid, nil
	case "sphere", "great-circle", "haversine":
		return Sphere, nil
	default:
		return Ellipsoid, fmt.Errorf("unsupported distance model %q (expected ellipsoid|sphere)", s)
	}
}

// Between returns the distance in meters between two points.
func (m DistanceModel) Between(a, b TrackPoint) float64 {
	if a.Latitude == b.Latitude && a.Longitude == b.Longitude {
		return 0
	}
	var d float64
	switch m {
	case Sphere:
		p := s2.LatLngFromDegrees(a.Latitude, a.Longitude)
		q := s2.LatLngFromDegrees(b.Latitude, b.Longitude)
		d = p.Distance(q).Radians() * MeanEarthRadiusMeters
	default:
		geodesic.WGS84.Inverse(a.Latitude, a.Longitude, b.Latitude, b.Longitude, &d, nil, nil)
	}
	if !isFinite(d) || d < 0 {
		return 0
	}
	return d
}

// Accumulate returns cumulative distances aligned with points. The first
// element is 0 and the sequence never decreases.
func Accumulate(points []TrackPoint, model DistanceModel) []float64 {
	out := make([]float64, len(points))
	for i := 1; i < len(points); i++ {
		out[i] = out[i-1] + model.Between(points[i-1], points[i])
	}
	return out
}

// AccumulateTrack fills t.CumulativeDistanceMeters. Distance restarts its
// step at each segment boundary while the running total carries over.
func AccumulateTrack(t *Track, model DistanceModel) {
	out := make([]float64, 0, t.PointCount())
	total := 0.0
	for _, seg := range t.Segments {
		for i, p := range seg.Points {
			if i > 0 {
				total += model.Between(seg.Points[i-1], p)
			}
			out = append(out, total)
		}
	}
	t.CumulativeDistanceMeters = out
}
