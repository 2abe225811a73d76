// Package pipeline coordinates export passes: fetching selected activities,
// building GPX and FIT artifacts and writing them into the export directory.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	nrcexport "github.com/williamtriinh/nrc-to-strava"
	"github.com/williamtriinh/nrc-to-strava/fitexport"
	"github.com/williamtriinh/nrc-to-strava/fitinspect"
	"github.com/williamtriinh/nrc-to-strava/gpx"
	"golang.org/x/sync/errgroup"
)

// ErrVerification reports an encoded FIT file that failed the round-trip check.
var ErrVerification = errors.New("fit verification failed")

// Fetcher retrieves the full activity payload for an id.
type Fetcher interface {
	FetchActivity(ctx context.Context, id string) (*nrcexport.Activity, error)
}

// Artifacts holds the encoded outputs for one activity. Nothing is written
// until every artifact has been built.
type Artifacts struct {
	BaseName string
	Track    *nrcexport.Track
	GPX      []byte
	FIT      []byte
	Samples  []byte
	Analysis *nrcexport.Analysis
}

// BuildArtifacts normalizes act and encodes it. It performs no I/O.
func BuildArtifacts(act *nrcexport.Activity, opts Options) (*Artifacts, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	track, err := nrcexport.BuildTrack(act, opts.SourceMode, opts.DistanceModel)
	if err != nil {
		return nil, err
	}
	gpxData, err := gpx.Marshal(track, opts.GPX)
	if err != nil {
		return nil, err
	}
	fitData, err := fitexport.Marshal(track, act)
	if err != nil {
		return nil, err
	}
	art := &Artifacts{
		BaseName: BaseName(opts.FileNaming, act.ID, act.StartEpochMs),
		Track:    track,
		GPX:      gpxData,
		FIT:      fitData,
	}
	if opts.VerifyFIT {
		analysis, err := VerifyFIT(fitData, track)
		if err != nil {
			return nil, err
		}
		art.Analysis = analysis
	}
	if opts.SamplesFormat != SamplesNone {
		samples, err := marshalSamples(opts.SamplesFormat, BuildSampleRows(track))
		if err != nil {
			return nil, fmt.Errorf("encode samples: %w", err)
		}
		art.Samples = samples
	}
	return art, nil
}

// VerifyFIT re-reads an encoded activity and checks message order and that
// one record was written per track point.
func VerifyFIT(data []byte, track *nrcexport.Track) (*nrcexport.Analysis, error) {
	bundle, err := fitinspect.ParseBytes(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerification, err)
	}
	if err := bundle.CheckActivityOrder(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerification, err)
	}
	want := track.PointCount()
	if got := bundle.Count(fitinspect.MesgRecord); got != want {
		return nil, fmt.Errorf("%w: %d record messages for %d points", ErrVerification, got, want)
	}
	analysis, err := nrcexport.AnalyzeBytes(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerification, err)
	}
	if analysis.RecordCount != want {
		return nil, fmt.Errorf("%w: decoded %d records for %d points", ErrVerification, analysis.RecordCount, want)
	}
	return analysis, nil
}

// Coordinator runs export passes against one export directory. Passes and
// deletes are serialized.
type Coordinator struct {
	fetcher   Fetcher
	selection *Selection
	opts      Options
	logger    *slog.Logger

	passMu sync.Mutex
	locks  fileLocks
}

// NewCoordinator validates opts. A nil selection gets an empty one and a
// nil logger uses slog.Default().
func NewCoordinator(fetcher Fetcher, selection *Selection, opts Options, logger *slog.Logger) (*Coordinator, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if opts.ExportDir == "" {
		return nil, fmt.Errorf("export dir is required")
	}
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	if selection == nil {
		selection = NewSelection()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{fetcher: fetcher, selection: selection, opts: opts, logger: logger}, nil
}

func (c *Coordinator) Selection() *Selection { return c.selection }

func (c *Coordinator) Options() Options { return c.opts }

// ExportSelected exports a snapshot of the selection taken at pass start.
// A pass without failures clears the selection. Under ContinueOnError the
// exported ids are unselected and failed ones stay selected; under
// AbortOnFirst a failed pass leaves the selection as it was.
func (c *Coordinator) ExportSelected(ctx context.Context) (*Result, error) {
	ids := c.selection.Snapshot()
	res, err := c.Export(ctx, ids)
	if res == nil {
		return nil, err
	}
	switch {
	case err == nil && len(res.Failures) == 0:
		c.selection.Clear()
	case c.opts.FailurePolicy == ContinueOnError:
		for _, e := range res.Exported {
			c.selection.Unselect(e.ActivityID)
		}
	}
	return res, err
}

// Export runs one pass over ids. Under AbortOnFirst the first failure
// cancels the rest of the pass and is returned as *ExportError; under
// ContinueOnError failures are collected in Result.Failures and the
// returned error is nil unless the pass itself could not run.
func (c *Coordinator) Export(ctx context.Context, ids []string) (*Result, error) {
	c.passMu.Lock()
	defer c.passMu.Unlock()

	if err := os.MkdirAll(c.opts.ExportDir, 0o755); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}
	res := &Result{
		PassID:    uuid.NewString(),
		Requested: append([]string(nil), ids...),
	}
	logger := c.logger.With("pass_id", res.PassID)
	logger.Info("export pass started", "activities", len(ids), "workers", c.opts.Workers, "policy", c.opts.FailurePolicy)

	abort := c.opts.FailurePolicy == AbortOnFirst
	exported := make([]*Exported, len(ids))
	files := make([][]ManifestFile, len(ids))
	failures := make([]*ExportError, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Workers)
	for i, id := range ids {
		i, id := i, id
		if abort && gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if abort && gctx.Err() != nil {
				return nil
			}
			taskCtx := gctx
			if !abort {
				taskCtx = ctx
			}
			out, written, err := c.exportOne(taskCtx, id)
			if err != nil {
				if abort && gctx.Err() != nil && errors.Is(err, context.Canceled) {
					return nil
				}
				failures[i] = &ExportError{ActivityID: id, Err: err}
				logger.Error("export failed", "activity_id", id, "err", err)
				if abort {
					return failures[i]
				}
				return nil
			}
			exported[i] = out
			files[i] = written
			logger.Info("activity exported", "activity_id", id, "file", out.BaseName, "points", out.Points, "distance_m", out.DistanceMeters)
			return nil
		})
	}
	passErr := g.Wait()
	if passErr == nil {
		passErr = ctx.Err()
	}

	manifest := Manifest{
		FormatVersion: ManifestFormatVersion,
		PassID:        res.PassID,
		GeneratedAt:   time.Now().UTC().Format(time.RFC3339),
		ExportDir:     c.opts.ExportDir,
	}
	for i := range ids {
		if exported[i] != nil {
			res.Exported = append(res.Exported, *exported[i])
			manifest.Files = append(manifest.Files, files[i]...)
		}
		if failures[i] != nil {
			res.Failures = append(res.Failures, failures[i])
			manifest.Failures = append(manifest.Failures, ManifestFailure{ActivityID: failures[i].ActivityID, Error: failures[i].Err.Error()})
		}
	}
	if c.opts.WriteManifest {
		path, err := writeJSONAtomic(c.opts.ExportDir, ManifestFileName, manifest)
		if err != nil {
			return res, errors.Join(passErr, fmt.Errorf("write manifest: %w", err))
		}
		res.ManifestPath = path
	}
	logger.Info("export pass finished", "exported", len(res.Exported), "failed", len(res.Failures))
	return res, passErr
}

func (c *Coordinator) exportOne(ctx context.Context, id string) (*Exported, []ManifestFile, error) {
	act, err := c.fetch(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	art, err := BuildArtifacts(act, c.opts)
	if err != nil {
		return nil, nil, err
	}

	unlock := c.locks.lock(art.BaseName)
	defer unlock()

	out := &Exported{
		ActivityID:     id,
		BaseName:       art.BaseName,
		Points:         art.Track.PointCount(),
		Segments:       len(art.Track.Segments),
		DistanceMeters: art.Track.TotalDistanceMeters(),
	}
	var written []ManifestFile
	write := func(ext, kind string, data []byte) (string, error) {
		name := art.BaseName + ext
		path, err := writeFileAtomic(c.opts.ExportDir, name, data)
		if err != nil {
			return "", err
		}
		written = append(written, manifestFile(id, name, kind, data))
		return path, nil
	}
	if out.GPXPath, err = write(".gpx", "gpx", art.GPX); err != nil {
		return nil, nil, err
	}
	if out.FITPath, err = write(".fit", "fit", art.FIT); err != nil {
		return nil, nil, err
	}
	if art.Samples != nil {
		if out.SamplesPath, err = write("."+string(c.opts.SamplesFormat), "samples", art.Samples); err != nil {
			return nil, nil, err
		}
	}
	return out, written, nil
}

func (c *Coordinator) fetch(ctx context.Context, id string) (*nrcexport.Activity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.opts.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.FetchTimeout)
		defer cancel()
	}
	act, err := c.fetcher.FetchActivity(ctx, id)
	if err != nil {
		if errors.Is(err, nrcexport.ErrUpstreamFetch) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", nrcexport.ErrUpstreamFetch, err)
	}
	if act == nil {
		return nil, fmt.Errorf("%w: empty payload for %s", nrcexport.ErrUpstreamFetch, id)
	}
	return act, nil
}

// DeleteExports removes every regular file in the export directory and
// returns how many were deleted.
func (c *Coordinator) DeleteExports() (int, error) {
	c.passMu.Lock()
	defer c.passMu.Unlock()
	n, err := deleteRegularFiles(c.opts.ExportDir)
	if err != nil {
		return n, err
	}
	c.logger.Info("exports deleted", "dir", c.opts.ExportDir, "files", n)
	return n, nil
}
