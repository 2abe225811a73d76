package nrcexport

import "time"

// TrackPoint is one normalized geo sample.
type TrackPoint struct {
	TimestampMs int64
	Latitude    float64
	Longitude   float64
	Elevation   *float64
}

// Time returns the point timestamp as UTC time.
func (p TrackPoint) Time() time.Time {
	return time.UnixMilli(p.TimestampMs).UTC()
}

// Segment is an independent point sequence within a track.
type Segment struct {
	Name   string
	Points []TrackPoint
}

// Track is the format-independent model both serializers consume.
type Track struct {
	ActivityID       string
	Name             string
	Note             string
	HasNote          bool
	Source           SourceMode
	StartTimestampMs int64
	EndTimestampMs   int64
	Segments         []Segment

	// CumulativeDistanceMeters is aligned with Points().
	CumulativeDistanceMeters []float64
	TotalAscentMeters        float64
}

// StartTime returns the activity start as UTC time.
func (t *Track) StartTime() time.Time {
	return time.UnixMilli(t.StartTimestampMs).UTC()
}

// EndTime returns the activity end as UTC time.
func (t *Track) EndTime() time.Time {
	return time.UnixMilli(t.EndTimestampMs).UTC()
}

// Points returns every point in segment order.
func (t *Track) Points() []TrackPoint {
	out := make([]TrackPoint, 0, t.PointCount())
	for _, seg := range t.Segments {
		out = append(out, seg.Points...)
	}
	return out
}

// PointCount returns the number of points across all segments.
func (t *Track) PointCount() int {
	n := 0
	for _, seg := range t.Segments {
		n += len(seg.Points)
	}
	return n
}

// TotalDistanceMeters returns the last cumulative distance, or 0.
func (t *Track) TotalDistanceMeters() float64 {
	if len(t.CumulativeDistanceMeters) == 0 {
		return 0
	}
	return t.CumulativeDistanceMeters[len(t.CumulativeDistanceMeters)-1]
}
