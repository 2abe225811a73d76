package nrcexport

import (
	"fmt"
	"math"
	"strings"
)

// BuildExportNotes renders a readable summary of an exported activity.
func BuildExportNotes(a *Analysis) string {
	if a == nil {
		return ""
	}

	var b strings.Builder

	fmt.Fprintf(&b, "Session: %s (%s)\n", a.Sport, a.Manufacturer)
	if !a.StartTime.IsZero() {
		fmt.Fprintf(&b, "Start: %s UTC\n", a.StartTime.UTC().Format("2006-01-02 15:04:05"))
	}
	fmt.Fprintf(
		&b,
		"Duration %s | Distance %.2f km | Ascent +%.0f m\n",
		formatDuration(a.TimerSeconds),
		a.DistanceMeters/metersPerKilometer,
		a.ElevationGainM,
	)
	fmt.Fprintf(
		&b,
		"Pace %s /km | Speed %.1f km/h\n",
		FormatPace(a.AvgPaceSecPerKm),
		a.AvgSpeedMps*3.6,
	)
	fmt.Fprintf(
		&b,
		"Records %d (%d with position) | Laps %d | Timer events %d start / %d stop\n",
		a.RecordCount,
		a.PositionCount,
		a.LapCount,
		a.TimerStarts,
		a.TimerStops,
	)
	if a.MaxAltitudeM != 0 || a.MinAltitudeM != 0 {
		fmt.Fprintf(
			&b,
			"Altitude %.0f-%.0f m | Track gain +%.0f / loss -%.0f m\n",
			a.MinAltitudeM,
			a.MaxAltitudeM,
			a.RecordGainM,
			a.RecordLossM,
		)
	}
	if drift := a.DistanceMeters - a.RecordDistanceMeters; a.RecordDistanceMeters > 0 && math.Abs(drift) >= 1 {
		fmt.Fprintf(&b, "Track distance %.2f km (%+.0f m vs session total)\n", a.RecordDistanceMeters/metersPerKilometer, -drift)
	}

	if len(a.Splits) > 0 {
		b.WriteString("\nSplits\n")
		for _, s := range a.Splits {
			fmt.Fprintf(
				&b,
				"- #%d at %s: %.2f km, %s, pace %s /km\n",
				s.Index,
				formatDuration(s.OffsetSeconds),
				s.DistanceMeters/metersPerKilometer,
				formatDuration(s.DurationSeconds),
				FormatPace(s.PaceSecPerKm),
			)
		}
	}

	return strings.TrimSpace(b.String())
}

func formatDuration(seconds float64) string {
	if seconds <= 0 {
		return "0s"
	}
	s := int(math.Round(seconds))
	h := s / 3600
	m := (s % 3600) / 60
	sec := s % 60
	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, sec)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%02ds", m, sec)
	}
	return fmt.Sprintf("%ds", sec)
}

// FormatPace renders seconds per kilometre as m:ss, or "-" when unknown.
func FormatPace(secPerKm float64) string {
	if secPerKm <= 0 || !isFinite(secPerKm) {
		return "-"
	}
	s := int(math.Round(secPerKm))
	return fmt.Sprintf("%d:%02d", s/60, s%60)
}
