package pipeline

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"math"
	"strconv"

	nrcexport "github.com/williamtriinh/nrc-to-strava"
	"github.com/williamtriinh/nrc-to-strava/gpx"
	parquetbuffer "github.com/xitongsys/parquet-go-source/buffer"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

// SampleRow is one track point with its cumulative distance.
type SampleRow struct {
	TimestampMs int64
	TimeUTC     string
	Segment     string
	Latitude    float64
	Longitude   float64
	ElevationM  *float64
	DistanceM   float64
}

var sampleColumns = []string{
	"timestamp_ms", "time_utc", "segment", "latitude", "longitude", "elevation_m", "distance_m",
}

// BuildSampleRows flattens a track in point order.
func BuildSampleRows(t *nrcexport.Track) []SampleRow {
	rows := make([]SampleRow, 0, t.PointCount())
	i := 0
	for _, seg := range t.Segments {
		for _, p := range seg.Points {
			row := SampleRow{
				TimestampMs: p.TimestampMs,
				TimeUTC:     p.Time().Format(gpx.TimeLayout),
				Segment:     seg.Name,
				Latitude:    p.Latitude,
				Longitude:   p.Longitude,
				ElevationM:  p.Elevation,
			}
			if i < len(t.CumulativeDistanceMeters) {
				row.DistanceM = t.CumulativeDistanceMeters[i]
			}
			rows = append(rows, row)
			i++
		}
	}
	return rows
}

func marshalSamples(format SamplesFormat, rows []SampleRow) ([]byte, error) {
	switch format {
	case SamplesCSV:
		return marshalSamplesCSV(rows)
	case SamplesParquet:
		return marshalSamplesParquet(rows)
	}
	return nil, fmt.Errorf("unsupported samples format %q", format)
}

func marshalSamplesCSV(rows []SampleRow) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(sampleColumns); err != nil {
		return nil, err
	}
	for _, r := range rows {
		record := []string{
			strconv.FormatInt(r.TimestampMs, 10),
			r.TimeUTC,
			r.Segment,
			formatFloat(r.Latitude),
			formatFloat(r.Longitude),
			formatFloatPtr(r.ElevationM),
			formatFloat(r.DistanceM),
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type sampleParquetRow struct {
	TimestampMs int64   `parquet:"name=timestamp_ms, type=INT64"`
	TimeUTC     string  `parquet:"name=time_utc, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Segment     string  `parquet:"name=segment, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Latitude    float64 `parquet:"name=latitude, type=DOUBLE"`
	Longitude   float64 `parquet:"name=longitude, type=DOUBLE"`
	ElevationM  float64 `parquet:"name=elevation_m, type=DOUBLE"`
	DistanceM   float64 `parquet:"name=distance_m, type=DOUBLE"`
}

// Unknown elevations are written as NaN.
func marshalSamplesParquet(rows []SampleRow) ([]byte, error) {
	fw := parquetbuffer.NewBufferFile()
	pw, err := writer.NewParquetWriter(fw, new(sampleParquetRow), 4)
	if err != nil {
		return nil, err
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	for _, r := range rows {
		row := sampleParquetRow{
			TimestampMs: r.TimestampMs,
			TimeUTC:     r.TimeUTC,
			Segment:     r.Segment,
			Latitude:    r.Latitude,
			Longitude:   r.Longitude,
			ElevationM:  valueOrNaN(r.ElevationM),
			DistanceM:   r.DistanceM,
		}
		if err := pw.Write(row); err != nil {
			_ = pw.WriteStop()
			return nil, err
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, err
	}
	if err := fw.Close(); err != nil {
		return nil, err
	}
	return append([]byte(nil), fw.Bytes()...), nil
}

func valueOrNaN(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatFloatPtr(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}
