// Package gpx renders normalized tracks as GPX 1.1 documents.
package gpx

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"

	nrcexport "github.com/williamtriinh/nrc-to-strava"
)

const (
	Namespace      = "http://www.topografix.com/GPX/1/1"
	SchemaInstance = "http://www.w3.org/2001/XMLSchema-instance"
	SchemaLocation = Namespace + " http://www.topografix.com/GPX/1/1/gpx.xsd"
	Version        = "1.1"

	DefaultCreator = "https://github.com/williamtriinh/nrc-to-strava"

	// TimeLayout is UTC with second granularity and a literal Z suffix.
	TimeLayout = "2006-01-02T15:04:05Z"
)

// Options controls optional track metadata. The zero value writes both the
// activity comment and the note description.
type Options struct {
	Creator         string
	OmitComment     bool
	OmitDescription bool
}

type document struct {
	XMLName        xml.Name `xml:"gpx"`
	Version        string   `xml:"version,attr"`
	Creator        string   `xml:"creator,attr"`
	Xmlns          string   `xml:"xmlns,attr"`
	XmlnsXsi       string   `xml:"xmlns:xsi,attr"`
	SchemaLocation string   `xml:"xsi:schemaLocation,attr"`
	Metadata       metadata `xml:"metadata"`
	Track          track    `xml:"trk"`
}

type metadata struct {
	Time string `xml:"time"`
}

type track struct {
	Name        string    `xml:"name"`
	Comment     string    `xml:"cmt,omitempty"`
	Description string    `xml:"desc,omitempty"`
	Segments    []segment `xml:"trkseg"`
}

type segment struct {
	Points []point `xml:"trkpt"`
}

type point struct {
	Lat       string  `xml:"lat,attr"`
	Lon       string  `xml:"lon,attr"`
	Elevation *string `xml:"ele,omitempty"`
	Time      string  `xml:"time"`
}

// Marshal renders t as an indented GPX document with an XML declaration and a
// trailing newline. The output is byte-stable for a given track.
func Marshal(t *nrcexport.Track, opts Options) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, t, opts); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Write streams the GPX rendering of t to w.
func Write(w io.Writer, t *nrcexport.Track, opts Options) error {
	if t == nil {
		return fmt.Errorf("track is nil")
	}
	doc := build(t, opts)

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return fmt.Errorf("write xml header: %w", err)
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode gpx: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("flush gpx: %w", err)
	}
	if _, err := io.WriteString(w, "\n"); err != nil {
		return fmt.Errorf("write gpx: %w", err)
	}
	return nil
}

func build(t *nrcexport.Track, opts Options) document {
	creator := opts.Creator
	if creator == "" {
		creator = DefaultCreator
	}
	name := t.Name
	if name == "" {
		name = nrcexport.DefaultActivityName
	}

	doc := document{
		Version:        Version,
		Creator:        creator,
		Xmlns:          Namespace,
		XmlnsXsi:       SchemaInstance,
		SchemaLocation: SchemaLocation,
		Metadata:       metadata{Time: t.StartTime().Format(TimeLayout)},
		Track:          track{Name: name},
	}
	if !opts.OmitComment && t.ActivityID != "" {
		doc.Track.Comment = "Nike activity ID: " + t.ActivityID
	}
	if !opts.OmitDescription && t.HasNote {
		doc.Track.Description = t.Note
	}

	doc.Track.Segments = make([]segment, 0, len(t.Segments))
	for _, seg := range t.Segments {
		out := segment{Points: make([]point, 0, len(seg.Points))}
		for _, p := range seg.Points {
			pt := point{
				Lat:  formatFloat(p.Latitude),
				Lon:  formatFloat(p.Longitude),
				Time: p.Time().Format(TimeLayout),
			}
			if p.Elevation != nil {
				ele := formatFloat(*p.Elevation)
				pt.Elevation = &ele
			}
			out.Points = append(out.Points, pt)
		}
		doc.Track.Segments = append(doc.Track.Segments, out)
	}
	return doc
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
