// Package fitexport renders normalized tracks as FIT activity files.
package fitexport

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/muktihari/fit/encoder"
	"github.com/muktihari/fit/profile/mesgdef"
	"github.com/muktihari/fit/profile/typedef"
	"github.com/muktihari/fit/proto"
	nrcexport "github.com/williamtriinh/nrc-to-strava"
)

// Degrees to semicircles (2^31 / 180).
const degreesToSemicircles = 2147483648.0 / 180.0

// Build returns the activity message sequence for track: file id, session,
// one lap per split marker, timer start, one record per point, timer stop.
// It fails before producing any message when a required summary is missing.
func Build(track *nrcexport.Track, act *nrcexport.Activity) ([]proto.Message, error) {
	if track == nil || act == nil {
		return nil, fmt.Errorf("track and activity are required")
	}
	ascent, ok := act.SummaryValue(nrcexport.SummaryAscent)
	if !ok {
		return nil, fmt.Errorf("%w: %s", nrcexport.ErrMissingRequiredSummaryMetric, nrcexport.SummaryAscent)
	}
	distanceKm, ok := act.SummaryValue(nrcexport.SummaryDistance)
	if !ok {
		return nil, fmt.Errorf("%w: %s", nrcexport.ErrMissingRequiredSummaryMetric, nrcexport.SummaryDistance)
	}

	points := track.Points()
	if len(track.CumulativeDistanceMeters) != len(points) {
		return nil, fmt.Errorf("track has %d points but %d cumulative distances", len(points), len(track.CumulativeDistanceMeters))
	}

	start := track.StartTime()
	end := track.EndTime()
	splits := act.Splits()
	messages := make([]proto.Message, 0, 4+len(splits)+len(points))

	fileID := mesgdef.NewFileId(nil)
	fileID.Type = typedef.FileActivity
	fileID.Manufacturer = typedef.ManufacturerDevelopment
	fileID.Product = 0
	fileID.TimeCreated = start
	messages = append(messages, fileID.ToMesg(nil))

	elapsed := durationMs(act.ActiveDurationMs)
	session := mesgdef.NewSession(nil)
	session.Timestamp = end
	session.StartTime = start
	session.Event = typedef.EventSession
	session.EventType = typedef.EventTypeStop
	session.Trigger = typedef.SessionTriggerActivityEnd
	session.Sport = typedef.SportRunning
	session.SubSport = typedef.SubSportGeneric
	session.TotalAscent = ascentMeters(ascent)
	session.TotalDistance = scaledDistance(distanceKm * 1000)
	session.TotalElapsedTime = elapsed
	session.TotalTimerTime = elapsed
	messages = append(messages, session.ToMesg(nil))

	for _, m := range splits {
		ts := time.UnixMilli(m.Timestamp).UTC()
		lap := mesgdef.NewLap(nil)
		lap.Timestamp = ts
		lap.StartTime = ts
		lap.Event = typedef.EventLap
		lap.EventType = typedef.EventTypeStop
		messages = append(messages, lap.ToMesg(nil))
	}

	messages = append(messages, timerEvent(start, typedef.EventTypeStart))

	for i, p := range points {
		rec := mesgdef.NewRecord(nil)
		rec.Timestamp = p.Time()
		rec.PositionLat = semicircles(p.Latitude)
		rec.PositionLong = semicircles(p.Longitude)
		rec.Distance = scaledDistance(track.CumulativeDistanceMeters[i])
		if p.Elevation != nil {
			if alt, ok := scaledAltitude(*p.Elevation); ok {
				rec.EnhancedAltitude = alt
			}
		}
		messages = append(messages, rec.ToMesg(nil))
	}

	messages = append(messages, timerEvent(end, typedef.EventTypeStopAll))
	return messages, nil
}

// Marshal encodes the activity message sequence to FIT bytes. Nothing is
// returned when Build or encoding fails.
func Marshal(track *nrcexport.Track, act *nrcexport.Activity) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, track, act); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Write encodes the activity message sequence to w.
func Write(w io.Writer, track *nrcexport.Track, act *nrcexport.Activity) error {
	messages, err := Build(track, act)
	if err != nil {
		return err
	}
	enc := encoder.New(w)
	if err := enc.Encode(&proto.FIT{Messages: messages}); err != nil {
		return fmt.Errorf("encode FIT: %w", err)
	}
	return nil
}

func timerEvent(ts time.Time, eventType typedef.EventType) proto.Message {
	ev := mesgdef.NewEvent(nil)
	ev.Timestamp = ts
	ev.Event = typedef.EventTimer
	ev.EventType = eventType
	return ev.ToMesg(nil)
}

func semicircles(deg float64) int32 {
	v := math.Round(deg * degreesToSemicircles)
	if v >= math.MaxInt32 {
		return math.MaxInt32
	}
	if v <= math.MinInt32+1 {
		return math.MinInt32 + 1
	}
	return int32(v)
}

// scaledDistance converts meters to the protocol's centimeter units.
func scaledDistance(m float64) uint32 {
	if math.IsNaN(m) || m <= 0 {
		return 0
	}
	v := math.Round(m * 100)
	if v >= math.MaxUint32 {
		return math.MaxUint32 - 1
	}
	return uint32(v)
}

// scaledAltitude applies scale 5 and offset 500 m.
func scaledAltitude(m float64) (uint32, bool) {
	v := math.Round((m + 500) * 5)
	if math.IsNaN(v) || v < 0 || v >= math.MaxUint32 {
		return 0, false
	}
	return uint32(v), true
}

func ascentMeters(v float64) uint16 {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	r := math.Round(v)
	if r >= math.MaxUint16 {
		return math.MaxUint16 - 1
	}
	return uint16(r)
}

func durationMs(ms int64) uint32 {
	if ms <= 0 {
		return 0
	}
	if ms >= math.MaxUint32 {
		return math.MaxUint32 - 1
	}
	return uint32(ms)
}
