package nrcexport

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"time"

	"github.com/tormoder/fit"
)

const metersPerKilometer = 1000.0

// Analysis contains metrics read back from an exported FIT activity.
type Analysis struct {
	FilePath             string         `json:"file_path,omitempty"`
	Sport                string         `json:"sport"`
	Manufacturer         string         `json:"manufacturer"`
	StartTime            time.Time      `json:"start_time"`
	EndTime              time.Time      `json:"end_time"`
	ElapsedSeconds       float64        `json:"elapsed_seconds"`
	TimerSeconds         float64        `json:"timer_seconds"`
	DistanceMeters       float64        `json:"distance_meters"`
	RecordDistanceMeters float64        `json:"record_distance_meters"`
	ElevationGainM       float64        `json:"elevation_gain_m"`
	RecordGainM          float64        `json:"record_gain_m"`
	RecordLossM          float64        `json:"record_loss_m"`
	MinAltitudeM         float64        `json:"min_altitude_m"`
	MaxAltitudeM         float64        `json:"max_altitude_m"`
	AvgSpeedMps          float64        `json:"avg_speed_mps"`
	AvgPaceSecPerKm      float64        `json:"avg_pace_sec_per_km"`
	RecordCount          int            `json:"record_count"`
	PositionCount        int            `json:"position_count"`
	LapCount             int            `json:"lap_count"`
	TimerStarts          int            `json:"timer_starts"`
	TimerStops           int            `json:"timer_stops"`
	Splits               []SplitSummary `json:"splits,omitempty"`
	Notes                string         `json:"notes"`
}

// SplitSummary describes one lap marker relative to the record stream.
type SplitSummary struct {
	Index           int       `json:"index"`
	Timestamp       time.Time `json:"timestamp"`
	OffsetSeconds   float64   `json:"offset_seconds"`
	DurationSeconds float64   `json:"duration_seconds"`
	DistanceMeters  float64   `json:"distance_meters"`
	PaceSecPerKm    float64   `json:"pace_sec_per_km"`
}

type recordSeries struct {
	start time.Time
	end   time.Time

	times     []time.Time
	distances []float64

	positions    int
	lastDistance float64

	gain, loss   float64
	minAlt       float64
	maxAlt       float64
	haveAltitude bool
}

// AnalyzeFile decodes and analyzes an activity FIT file.
func AnalyzeFile(path string) (*Analysis, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open FIT file: %w", err)
	}
	defer f.Close()

	a, err := analyze(f)
	if err != nil {
		return nil, err
	}
	a.FilePath = path
	return a, nil
}

// AnalyzeBytes analyzes an in-memory FIT activity.
func AnalyzeBytes(data []byte) (*Analysis, error) {
	return analyze(bytes.NewReader(data))
}

func analyze(r io.Reader) (*Analysis, error) {
	decoded, err := fit.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode FIT file: %w", err)
	}

	activity, err := decoded.Activity()
	if err != nil {
		return nil, fmt.Errorf("activity FIT expected: %w", err)
	}
	if len(activity.Sessions) == 0 {
		return nil, fmt.Errorf("activity file has no session message")
	}

	series := buildRecordSeries(activity.Records)
	session := activity.Sessions[0]

	analysis := &Analysis{
		Sport:         fmt.Sprint(session.Sport),
		Manufacturer:  fmt.Sprint(decoded.FileId.Manufacturer),
		RecordCount:   len(activity.Records),
		PositionCount: series.positions,
		LapCount:      len(activity.Laps),
	}

	analysis.StartTime = validTimeOrZero(session.StartTime)
	analysis.EndTime = validTimeOrZero(session.Timestamp)
	if analysis.StartTime.IsZero() {
		analysis.StartTime = series.start
	}
	if analysis.EndTime.IsZero() {
		analysis.EndTime = series.end
	}

	analysis.ElapsedSeconds = safePositive(session.GetTotalElapsedTimeScaled())
	if analysis.ElapsedSeconds == 0 && analysis.EndTime.After(analysis.StartTime) {
		analysis.ElapsedSeconds = analysis.EndTime.Sub(analysis.StartTime).Seconds()
	}
	analysis.TimerSeconds = safePositive(session.GetTotalTimerTimeScaled())
	if analysis.TimerSeconds == 0 {
		analysis.TimerSeconds = analysis.ElapsedSeconds
	}

	analysis.RecordDistanceMeters = series.lastDistance
	analysis.DistanceMeters = safePositive(session.GetTotalDistanceScaled())
	if analysis.DistanceMeters == 0 {
		analysis.DistanceMeters = series.lastDistance
	}
	analysis.ElevationGainM = float64(validUint16(session.TotalAscent))
	analysis.RecordGainM = series.gain
	analysis.RecordLossM = series.loss
	if series.haveAltitude {
		analysis.MinAltitudeM = series.minAlt
		analysis.MaxAltitudeM = series.maxAlt
	}

	if analysis.TimerSeconds > 0 {
		analysis.AvgSpeedMps = analysis.DistanceMeters / analysis.TimerSeconds
	}
	analysis.AvgPaceSecPerKm = paceSecPerKm(analysis.TimerSeconds, analysis.DistanceMeters)

	for _, ev := range activity.Events {
		if ev == nil || ev.Event != fit.EventTimer {
			continue
		}
		switch ev.EventType {
		case fit.EventTypeStart:
			analysis.TimerStarts++
		case fit.EventTypeStop, fit.EventTypeStopAll:
			analysis.TimerStops++
		}
	}

	analysis.Splits = summarizeSplits(activity.Laps, series, analysis.StartTime)
	analysis.Notes = BuildExportNotes(analysis)
	return analysis, nil
}

func buildRecordSeries(records []*fit.RecordMsg) recordSeries {
	rs := recordSeries{}
	if len(records) == 0 {
		return rs
	}

	rows := make([]*fit.RecordMsg, 0, len(records))
	for _, rec := range records {
		if rec != nil {
			rows = append(rows, rec)
		}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Timestamp.Before(rows[j].Timestamp)
	})

	var (
		haveStart bool
		lastAlt   float64
		haveLast  bool
	)
	for _, rec := range rows {
		ts := validTimeOrZero(rec.Timestamp)
		if !ts.IsZero() {
			if !haveStart {
				rs.start = ts
				haveStart = true
			}
			rs.end = ts
		}

		if !rec.PositionLat.Invalid() && !rec.PositionLong.Invalid() {
			rs.positions++
		}

		distance := safePositive(rec.GetDistanceScaled())
		if distance > rs.lastDistance {
			rs.lastDistance = distance
		}
		if !ts.IsZero() {
			rs.times = append(rs.times, ts)
			rs.distances = append(rs.distances, rs.lastDistance)
		}

		alt, ok := extractAltitude(rec)
		if !ok {
			continue
		}
		if !rs.haveAltitude {
			rs.minAlt, rs.maxAlt = alt, alt
			rs.haveAltitude = true
		}
		rs.minAlt = math.Min(rs.minAlt, alt)
		rs.maxAlt = math.Max(rs.maxAlt, alt)
		if haveLast {
			if d := alt - lastAlt; d > 0 {
				rs.gain += d
			} else {
				rs.loss -= d
			}
		}
		lastAlt = alt
		haveLast = true
	}
	return rs
}

// distanceAt returns the cumulative record distance at or before ts.
func (rs recordSeries) distanceAt(ts time.Time) float64 {
	i := sort.Search(len(rs.times), func(i int) bool {
		return rs.times[i].After(ts)
	})
	if i == 0 {
		return 0
	}
	return rs.distances[i-1]
}

func summarizeSplits(laps []*fit.LapMsg, rs recordSeries, start time.Time) []SplitSummary {
	if len(laps) == 0 {
		return nil
	}
	out := make([]SplitSummary, 0, len(laps))
	prevTS := start
	prevDist := 0.0
	for _, lap := range laps {
		if lap == nil {
			continue
		}
		ts := validTimeOrZero(lap.Timestamp)
		if ts.IsZero() {
			ts = validTimeOrZero(lap.StartTime)
		}
		if ts.IsZero() {
			continue
		}
		dist := rs.distanceAt(ts)
		split := SplitSummary{
			Index:          len(out) + 1,
			Timestamp:      ts,
			DistanceMeters: dist,
		}
		if !start.IsZero() && ts.After(start) {
			split.OffsetSeconds = ts.Sub(start).Seconds()
		}
		if !prevTS.IsZero() && ts.After(prevTS) {
			split.DurationSeconds = ts.Sub(prevTS).Seconds()
		}
		split.PaceSecPerKm = paceSecPerKm(split.DurationSeconds, dist-prevDist)
		out = append(out, split)
		prevTS = ts
		prevDist = dist
	}
	return out
}

func extractAltitude(rec *fit.RecordMsg) (float64, bool) {
	if rec.EnhancedAltitude != math.MaxUint32 {
		return float64(rec.EnhancedAltitude)/5.0 - 500.0, true
	}
	if rec.Altitude != math.MaxUint16 {
		return float64(rec.Altitude)/5.0 - 500.0, true
	}
	return 0, false
}

func paceSecPerKm(seconds, meters float64) float64 {
	if seconds <= 0 || meters <= 0 {
		return 0
	}
	return seconds / (meters / metersPerKilometer)
}

func validTimeOrZero(t time.Time) time.Time {
	if t.IsZero() || fit.IsBaseTime(t) {
		return time.Time{}
	}
	return t
}

func validUint16(v uint16) uint16 {
	if v == math.MaxUint16 {
		return 0
	}
	return v
}
