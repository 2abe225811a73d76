package nrcexport

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/twpayne/go-polyline"
)

// SourceMode selects how coordinates are sourced from an activity payload.
type SourceMode int

const (
	// SourceAuto resolves to parallel arrays when latitude and longitude
	// series exist, else to encoded polylines.
	SourceAuto SourceMode = iota
	// SourceParallel reads index-aligned latitude/longitude/elevation series.
	SourceParallel
	// SourcePolyline decodes polyline runs and takes timestamps from the
	// distance series by position.
	SourcePolyline
)

func (m SourceMode) String() string {
	switch m {
	case SourceParallel:
		return "parallel"
	case SourcePolyline:
		return "polyline"
	default:
		return "auto"
	}
}

// ParseSourceMode parses auto|parallel|polyline.
func ParseSourceMode(s string) (SourceMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return SourceAuto, nil
	case "parallel", "arrays":
		return SourceParallel, nil
	case "polyline", "polylines":
		return SourcePolyline, nil
	default:
		return SourceAuto, fmt.Errorf("unsupported source mode %q (expected auto|parallel|polyline)", s)
	}
}

// ResolveSourceMode turns SourceAuto into a concrete mode for act.
func ResolveSourceMode(act *Activity, mode SourceMode) (SourceMode, error) {
	if mode != SourceAuto {
		return mode, nil
	}
	_, hasLat := act.Series(MetricLatitude)
	_, hasLon := act.Series(MetricLongitude)
	switch {
	case hasLat && hasLon:
		return SourceParallel, nil
	case len(act.Polylines) > 0:
		return SourcePolyline, nil
	case !hasLat:
		return SourceAuto, fmt.Errorf("%w: %s", ErrMissingRequiredMetric, MetricLatitude)
	default:
		return SourceAuto, fmt.Errorf("%w: %s", ErrMissingRequiredMetric, MetricLongitude)
	}
}

// Normalize builds a Track from an activity payload. It performs no I/O and
// does not modify act. Cumulative distances are left empty; see AccumulateTrack.
func Normalize(act *Activity, mode SourceMode) (*Track, error) {
	if act == nil {
		return nil, fmt.Errorf("activity is nil")
	}
	resolved, err := ResolveSourceMode(act, mode)
	if err != nil {
		return nil, err
	}

	var segments []Segment
	switch resolved {
	case SourceParallel:
		segments, err = parallelSegments(act)
	case SourcePolyline:
		segments, err = polylineSegments(act)
	default:
		err = fmt.Errorf("unsupported source mode %s", resolved)
	}
	if err != nil {
		return nil, err
	}

	for i := range segments {
		pts := segments[i].Points
		sort.SliceStable(pts, func(a, b int) bool {
			return pts[a].TimestampMs < pts[b].TimestampMs
		})
	}

	track := &Track{
		ActivityID:       act.ID,
		Name:             act.Name(),
		Source:           resolved,
		StartTimestampMs: act.StartEpochMs,
		EndTimestampMs:   act.EndEpochMs,
		Segments:         segments,
	}
	track.Note, track.HasNote = act.Note()
	if ascent, ok := act.SummaryValue(SummaryAscent); ok && isFinite(ascent) {
		track.TotalAscentMeters = safePositive(ascent)
	} else {
		track.TotalAscentMeters = elevationGain(track)
	}
	return track, nil
}

// BuildTrack normalizes act and fills cumulative distances.
func BuildTrack(act *Activity, mode SourceMode, model DistanceModel) (*Track, error) {
	track, err := Normalize(act, mode)
	if err != nil {
		return nil, err
	}
	AccumulateTrack(track, model)
	return track, nil
}

func parallelSegments(act *Activity) ([]Segment, error) {
	lat, ok := act.Series(MetricLatitude)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequiredMetric, MetricLatitude)
	}
	lon, ok := act.Series(MetricLongitude)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequiredMetric, MetricLongitude)
	}
	if len(lat) != len(lon) {
		return nil, fmt.Errorf("%w: %d latitude samples vs %d longitude samples", ErrMisalignedSeries, len(lat), len(lon))
	}
	ele, _ := act.Series(MetricElevation)

	points := make([]TrackPoint, 0, len(lat))
	for i := range lat {
		p := TrackPoint{
			TimestampMs: lat[i].StartEpochMs,
			Latitude:    lat[i].Value,
			Longitude:   lon[i].Value,
			Elevation:   elevationAt(ele, i),
		}
		if err := checkCoordinate(p, i); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return []Segment{{Name: "segment-1", Points: points}}, nil
}

func polylineSegments(act *Activity) ([]Segment, error) {
	if len(act.Polylines) == 0 {
		return nil, fmt.Errorf("%w: polylines", ErrMissingRequiredMetric)
	}
	dist, ok := act.Series(MetricDistance)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequiredMetric, MetricDistance)
	}
	ele, _ := act.Series(MetricElevation)

	segments := make([]Segment, 0, len(act.Polylines))
	index := 0
	for run, pl := range act.Polylines {
		coords, _, err := polyline.DecodeCoords([]byte(pl.Polyline))
		if err != nil {
			return nil, fmt.Errorf("%w: run %d: %v", ErrEncoding, run+1, err)
		}
		points := make([]TrackPoint, 0, len(coords))
		for _, c := range coords {
			if index >= len(dist) {
				return nil, fmt.Errorf("%w: %s series has %d samples, polyline run %d needs more", ErrMisalignedSeries, MetricDistance, len(dist), run+1)
			}
			p := TrackPoint{
				TimestampMs: dist[index].StartEpochMs,
				Latitude:    c[0],
				Longitude:   c[1],
				Elevation:   elevationAt(ele, index),
			}
			if err := checkCoordinate(p, index); err != nil {
				return nil, err
			}
			points = append(points, p)
			index++
		}
		segments = append(segments, Segment{
			Name:   fmt.Sprintf("segment-%d", run+1),
			Points: points,
		})
	}
	return segments, nil
}

// elevationAt carries the last known elevation forward when the series is
// shorter than the coordinate series.
func elevationAt(ele []Sample, i int) *float64 {
	if len(ele) == 0 {
		return nil
	}
	v := ele[min(i, len(ele)-1)].Value
	if !isFinite(v) {
		return nil
	}
	return &v
}

func checkCoordinate(p TrackPoint, i int) error {
	if !isFinite(p.Latitude) || p.Latitude < -90 || p.Latitude > 90 {
		return fmt.Errorf("%w: point %d latitude %v", ErrInvalidCoordinate, i, p.Latitude)
	}
	if !isFinite(p.Longitude) || p.Longitude < -180 || p.Longitude > 180 {
		return fmt.Errorf("%w: point %d longitude %v", ErrInvalidCoordinate, i, p.Longitude)
	}
	return nil
}

func elevationGain(t *Track) float64 {
	gain := 0.0
	for _, seg := range t.Segments {
		var prev *float64
		for _, p := range seg.Points {
			if p.Elevation == nil {
				continue
			}
			if prev != nil && *p.Elevation > *prev {
				gain += *p.Elevation - *prev
			}
			prev = p.Elevation
		}
	}
	return gain
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func safePositive(v float64) float64 {
	if !isFinite(v) || v <= 0 {
		return 0
	}
	return v
}
