package nrcexport

import "errors"

// Error kinds surfaced by the export engine. Callers match them with errors.Is;
// the wrapping message names the offending metric or run.
var (
	ErrMissingRequiredMetric        = errors.New("missing required metric")
	ErrMisalignedSeries             = errors.New("misaligned metric series")
	ErrMissingRequiredSummaryMetric = errors.New("missing required summary metric")
	ErrUpstreamFetch                = errors.New("upstream fetch failed")
	ErrEncoding                     = errors.New("malformed polyline encoding")
	ErrInvalidCoordinate            = errors.New("coordinate out of range")
)
