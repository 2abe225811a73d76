package pipeline

import (
	"fmt"
	"strings"
	"time"

	nrcexport "github.com/williamtriinh/nrc-to-strava"
	"github.com/williamtriinh/nrc-to-strava/gpx"
)

const (
	ManifestFormatVersion = "nrc_export_manifest_v1"
	ManifestFileName      = "manifest.json"
)

// FailurePolicy decides what a pass does after an activity fails.
type FailurePolicy string

const (
	// AbortOnFirst stops the pass at the first failure and leaves the
	// selection untouched.
	AbortOnFirst FailurePolicy = "abort"
	// ContinueOnError exports every activity and reports all failures.
	ContinueOnError FailurePolicy = "continue"
)

// FileNaming decides how exported files are named.
type FileNaming string

const (
	// NamingTimestamp names files <start_epoch_ms>.<ext>. Two activities with
	// the same start time overwrite each other.
	NamingTimestamp FileNaming = "timestamp"
	// NamingTimestampID names files <start_epoch_ms>_<activity id>.<ext>.
	NamingTimestampID FileNaming = "timestamp_id"
)

// SamplesFormat selects the optional per-point sidecar.
type SamplesFormat string

const (
	SamplesNone    SamplesFormat = "none"
	SamplesCSV     SamplesFormat = "csv"
	SamplesParquet SamplesFormat = "parquet"
)

// Options configures an export pass.
type Options struct {
	ExportDir     string
	Workers       int
	FailurePolicy FailurePolicy
	FileNaming    FileNaming
	FetchTimeout  time.Duration
	SourceMode    nrcexport.SourceMode
	DistanceModel nrcexport.DistanceModel
	SamplesFormat SamplesFormat
	GPX           gpx.Options
	VerifyFIT     bool
	WriteManifest bool
}

// withDefaults fills zero values and rejects unknown enum strings.
func (o Options) withDefaults() (Options, error) {
	if o.Workers <= 0 {
		o.Workers = 1
	}
	if o.FailurePolicy == "" {
		o.FailurePolicy = AbortOnFirst
	}
	if o.FileNaming == "" {
		o.FileNaming = NamingTimestamp
	}
	if o.SamplesFormat == "" {
		o.SamplesFormat = SamplesNone
	}
	if _, err := ParseFailurePolicy(string(o.FailurePolicy)); err != nil {
		return o, err
	}
	if _, err := ParseFileNaming(string(o.FileNaming)); err != nil {
		return o, err
	}
	if _, err := ParseSamplesFormat(string(o.SamplesFormat)); err != nil {
		return o, err
	}
	return o, nil
}

// ParseFailurePolicy accepts "abort" or "continue".
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch p := FailurePolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case AbortOnFirst, ContinueOnError:
		return p, nil
	}
	return "", fmt.Errorf("invalid failure policy %q: expected abort|continue", s)
}

// ParseFileNaming accepts "timestamp" or "timestamp_id".
func ParseFileNaming(s string) (FileNaming, error) {
	switch n := FileNaming(strings.ToLower(strings.TrimSpace(s))); n {
	case NamingTimestamp, NamingTimestampID:
		return n, nil
	}
	return "", fmt.Errorf("invalid file naming %q: expected timestamp|timestamp_id", s)
}

// ParseSamplesFormat accepts "none", "csv" or "parquet". Empty means none.
func ParseSamplesFormat(s string) (SamplesFormat, error) {
	f := SamplesFormat(strings.ToLower(strings.TrimSpace(s)))
	switch f {
	case "":
		return SamplesNone, nil
	case SamplesNone, SamplesCSV, SamplesParquet:
		return f, nil
	}
	return "", fmt.Errorf("invalid samples format %q: expected none|csv|parquet", s)
}

// ExportError attributes a failure to the activity that caused it.
type ExportError struct {
	ActivityID string
	Err        error
}

func (e *ExportError) Error() string {
	return fmt.Sprintf("export activity %s: %v", e.ActivityID, e.Err)
}

func (e *ExportError) Unwrap() error { return e.Err }

// Exported describes the files written for one activity.
type Exported struct {
	ActivityID     string  `json:"activity_id"`
	BaseName       string  `json:"base_name"`
	GPXPath        string  `json:"gpx_path"`
	FITPath        string  `json:"fit_path"`
	SamplesPath    string  `json:"samples_path,omitempty"`
	Points         int     `json:"points"`
	Segments       int     `json:"segments"`
	DistanceMeters float64 `json:"distance_m"`
}

// Result summarizes a pass. Exported and Failures follow the requested order.
type Result struct {
	PassID       string         `json:"pass_id"`
	Requested    []string       `json:"requested"`
	Exported     []Exported     `json:"exported"`
	Failures     []*ExportError `json:"-"`
	ManifestPath string         `json:"manifest_path,omitempty"`
}

// Manifest is written next to the exported files after each pass.
type Manifest struct {
	FormatVersion string            `json:"format_version"`
	PassID        string            `json:"pass_id"`
	GeneratedAt   string            `json:"generated_at"`
	ExportDir     string            `json:"export_dir"`
	Files         []ManifestFile    `json:"files"`
	Failures      []ManifestFailure `json:"failures,omitempty"`
}

type ManifestFile struct {
	ActivityID string `json:"activity_id"`
	Name       string `json:"name"`
	Kind       string `json:"kind"`
	Bytes      int64  `json:"bytes"`
	SHA256     string `json:"sha256"`
}

type ManifestFailure struct {
	ActivityID string `json:"activity_id"`
	Error      string `json:"error"`
}
