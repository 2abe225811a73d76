package nrcexport

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Tag keys and metric names used by the provider payload.
const (
	TagName      = "com.nike.name"
	TagNote      = "com.nike.note"
	tagNoteShort = "note"

	DefaultActivityName = "No name"

	MetricLatitude  = "latitude"
	MetricLongitude = "longitude"
	MetricElevation = "elevation"
	MetricDistance  = "distance"

	SummaryDistance = "distance"
	SummaryAscent   = "ascent"
	SummaryPace     = "pace"

	splitMomentPrefix = "split"
)

// Activity is the parsed activity detail returned by the provider.
// Optional parts of the payload stay optional here; lookups report presence.
type Activity struct {
	ID               string            `json:"id"`
	Type             string            `json:"type,omitempty"`
	Tags             map[string]string `json:"tags,omitempty"`
	StartEpochMs     int64             `json:"start_epoch_ms"`
	EndEpochMs       int64             `json:"end_epoch_ms"`
	ActiveDurationMs int64             `json:"active_duration_ms"`
	Summaries        []Summary         `json:"summaries,omitempty"`
	Metrics          []MetricSeries    `json:"metrics,omitempty"`
	Polylines        []Polyline        `json:"polylines,omitempty"`
	Moments          []Moment          `json:"moments,omitempty"`
}

// Summary is one named aggregate metric, e.g. distance in km or ascent in m.
type Summary struct {
	Metric  string  `json:"metric"`
	Summary string  `json:"summary,omitempty"`
	Value   float64 `json:"value"`
}

// MetricSeries is a named series of timestamped samples.
type MetricSeries struct {
	Type   string   `json:"type"`
	Unit   string   `json:"unit,omitempty"`
	Values []Sample `json:"values"`
}

// Sample is one value of a metric series.
type Sample struct {
	Value        float64 `json:"value"`
	StartEpochMs int64   `json:"start_epoch_ms"`
	EndEpochMs   int64   `json:"end_epoch_ms,omitempty"`
}

// Polyline is one Google-encoded coordinate run.
type Polyline struct {
	Polyline string `json:"polyline"`
}

// Moment is a point-in-time marker such as a kilometre split.
type Moment struct {
	Key       string `json:"key"`
	Value     string `json:"value,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// ParseActivity decodes an activity detail payload and validates the fields the
// export engine relies on.
func ParseActivity(data []byte) (*Activity, error) {
	var raw struct {
		Activity
		Moments []struct {
			Key       string          `json:"key"`
			Value     json.RawMessage `json:"value,omitempty"`
			Timestamp int64           `json:"timestamp"`
		} `json:"moments,omitempty"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode activity payload: %w", err)
	}
	act := raw.Activity
	act.Moments = make([]Moment, 0, len(raw.Moments))
	for _, m := range raw.Moments {
		act.Moments = append(act.Moments, Moment{
			Key:       m.Key,
			Value:     momentValue(m.Value),
			Timestamp: m.Timestamp,
		})
	}
	if err := act.Validate(); err != nil {
		return nil, err
	}
	return &act, nil
}

// Validate rejects payloads that cannot describe an activity at all.
func (a *Activity) Validate() error {
	if a == nil {
		return fmt.Errorf("activity is nil")
	}
	if strings.TrimSpace(a.ID) == "" {
		return fmt.Errorf("activity id is required")
	}
	if a.StartEpochMs <= 0 {
		return fmt.Errorf("activity %s: start_epoch_ms is required", a.ID)
	}
	if a.EndEpochMs < a.StartEpochMs {
		return fmt.Errorf("activity %s: end_epoch_ms %d before start_epoch_ms %d", a.ID, a.EndEpochMs, a.StartEpochMs)
	}
	if a.ActiveDurationMs < 0 {
		return fmt.Errorf("activity %s: negative active_duration_ms", a.ID)
	}
	return nil
}

// Tag returns a tag value and whether it was present and non-empty.
func (a *Activity) Tag(key string) (string, bool) {
	v, ok := a.Tags[key]
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}

// Name returns the display name or DefaultActivityName.
func (a *Activity) Name() string {
	if v, ok := a.Tag(TagName); ok {
		return v
	}
	return DefaultActivityName
}

// Note returns the free-text note, if any.
func (a *Activity) Note() (string, bool) {
	if v, ok := a.Tag(TagNote); ok {
		return v, true
	}
	return a.Tag(tagNoteShort)
}

// SummaryValue returns the first summary with the given metric name.
func (a *Activity) SummaryValue(metric string) (float64, bool) {
	for _, s := range a.Summaries {
		if s.Metric == metric {
			return s.Value, true
		}
	}
	return 0, false
}

// Series returns the first metric series of the given type.
func (a *Activity) Series(metricType string) ([]Sample, bool) {
	for _, m := range a.Metrics {
		if m.Type == metricType {
			return m.Values, true
		}
	}
	return nil, false
}

// Splits returns split markers (split_km, split_mi, ...) in payload order.
func (a *Activity) Splits() []Moment {
	out := make([]Moment, 0)
	for _, m := range a.Moments {
		if strings.HasPrefix(m.Key, splitMomentPrefix) {
			out = append(out, m)
		}
	}
	return out
}

// StartTime is the activity start as UTC time.
func (a *Activity) StartTime() time.Time {
	return time.UnixMilli(a.StartEpochMs).UTC()
}

// EndTime is the activity end as UTC time.
func (a *Activity) EndTime() time.Time {
	return time.UnixMilli(a.EndEpochMs).UTC()
}

// ActiveDuration is the moving time reported by the provider.
func (a *Activity) ActiveDuration() time.Duration {
	return time.Duration(a.ActiveDurationMs) * time.Millisecond
}

func momentValue(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}
