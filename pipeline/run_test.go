package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	nrcexport "github.com/williamtriinh/nrc-to-strava"
	parquetbuffer "github.com/xitongsys/parquet-go-source/buffer"
	"github.com/xitongsys/parquet-go/reader"
)

const runStart = int64(1700000000000)

func runActivity(id string, start int64, points int) *nrcexport.Activity {
	act := &nrcexport.Activity{
		ID:               id,
		Tags:             map[string]string{nrcexport.TagName: "Run " + id},
		StartEpochMs:     start,
		EndEpochMs:       start + int64(points)*10000,
		ActiveDurationMs: int64(points) * 10000,
		Summaries: []nrcexport.Summary{
			{Metric: nrcexport.SummaryDistance, Value: 0.5},
			{Metric: nrcexport.SummaryAscent, Value: 3},
		},
	}
	lat := nrcexport.MetricSeries{Type: nrcexport.MetricLatitude}
	lon := nrcexport.MetricSeries{Type: nrcexport.MetricLongitude}
	ele := nrcexport.MetricSeries{Type: nrcexport.MetricElevation}
	for i := 0; i < points; i++ {
		ts := start + int64(i)*10000
		lat.Values = append(lat.Values, nrcexport.Sample{Value: 48.85 + float64(i)*0.0002, StartEpochMs: ts})
		lon.Values = append(lon.Values, nrcexport.Sample{Value: 2.35, StartEpochMs: ts})
		if i < 2 {
			ele.Values = append(ele.Values, nrcexport.Sample{Value: 35 + float64(i), StartEpochMs: ts})
		}
	}
	act.Metrics = []nrcexport.MetricSeries{lat, lon, ele}
	return act
}

type fakeFetcher struct {
	mu         sync.Mutex
	activities map[string]*nrcexport.Activity
	errs       map[string]error
	calls      []string
	onFetch    func(id string)
	block      bool
}

func (f *fakeFetcher) FetchActivity(ctx context.Context, id string) (*nrcexport.Activity, error) {
	f.mu.Lock()
	f.calls = append(f.calls, id)
	hook := f.onFetch
	f.mu.Unlock()
	if hook != nil {
		hook(id)
	}
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err, ok := f.errs[id]; ok {
		return nil, err
	}
	act, ok := f.activities[id]
	if !ok {
		return nil, fmt.Errorf("activity %s not found", id)
	}
	return act, nil
}

func (f *fakeFetcher) fetched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func newCoordinator(t *testing.T, f Fetcher, sel *Selection, opts Options) *Coordinator {
	t.Helper()
	if opts.ExportDir == "" {
		opts.ExportDir = filepath.Join(t.TempDir(), "exports")
	}
	c, err := NewCoordinator(f, sel, opts, nil)
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	return c
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestExportSelectedWritesArtifacts(t *testing.T) {
	f := &fakeFetcher{activities: map[string]*nrcexport.Activity{
		"r1": runActivity("r1", runStart, 4),
		"r2": runActivity("r2", runStart+3600000, 3),
	}}
	sel := NewSelection("r2", "r1")
	c := newCoordinator(t, f, sel, Options{
		FileNaming:    NamingTimestampID,
		SamplesFormat: SamplesCSV,
		VerifyFIT:     true,
		WriteManifest: true,
	})

	res, err := c.ExportSelected(context.Background())
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(res.Exported) != 2 || len(res.Failures) != 0 {
		t.Fatalf("exported %d, failures %d", len(res.Exported), len(res.Failures))
	}
	if sel.Len() != 0 {
		t.Fatalf("selection should be cleared, still has %v", sel.Snapshot())
	}
	if diff := cmp.Diff([]string{"r1", "r2"}, f.fetched()); diff != "" {
		t.Fatalf("fetch order mismatch (-want +got):\n%s", diff)
	}

	dir := c.Options().ExportDir
	want := []string{
		"1700000000000_r1.csv", "1700000000000_r1.fit", "1700000000000_r1.gpx",
		"1700003600000_r2.csv", "1700003600000_r2.fit", "1700003600000_r2.gpx",
		ManifestFileName,
	}
	if diff := cmp.Diff(want, listDir(t, dir)); diff != "" {
		t.Fatalf("export dir mismatch (-want +got):\n%s", diff)
	}

	gpxData, err := os.ReadFile(res.Exported[0].GPXPath)
	if err != nil {
		t.Fatalf("read gpx: %v", err)
	}
	if got := strings.Count(string(gpxData), "<trkpt "); got != 4 {
		t.Fatalf("trkpt count = %d", got)
	}
	if !strings.Contains(string(gpxData), "<name>Run r1</name>") {
		t.Fatalf("gpx missing activity name:\n%s", gpxData)
	}

	csvFile, err := os.Open(res.Exported[0].SamplesPath)
	if err != nil {
		t.Fatalf("open samples: %v", err)
	}
	defer csvFile.Close()
	rows, err := csv.NewReader(csvFile).ReadAll()
	if err != nil {
		t.Fatalf("read samples: %v", err)
	}
	if diff := cmp.Diff(sampleColumns, rows[0]); diff != "" {
		t.Fatalf("samples header mismatch (-want +got):\n%s", diff)
	}
	if len(rows) != 5 {
		t.Fatalf("samples rows = %d, want 4 plus header", len(rows)-1)
	}
	if rows[1][3] != "48.85" || rows[1][6] != "0" {
		t.Fatalf("unexpected first sample row %v", rows[1])
	}
	if rows[4][5] != "36" {
		t.Fatalf("elevation should carry forward, got %q", rows[4][5])
	}

	data, err := os.ReadFile(res.ManifestPath)
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		t.Fatalf("decode manifest: %v", err)
	}
	if manifest.PassID != res.PassID || manifest.FormatVersion != ManifestFormatVersion {
		t.Fatalf("manifest header = %+v", manifest)
	}
	if len(manifest.Files) != 6 {
		t.Fatalf("manifest files = %d", len(manifest.Files))
	}
	for _, mf := range manifest.Files {
		body, err := os.ReadFile(filepath.Join(dir, mf.Name))
		if err != nil {
			t.Fatalf("read %s: %v", mf.Name, err)
		}
		sum := sha256.Sum256(body)
		if hex.EncodeToString(sum[:]) != mf.SHA256 || int64(len(body)) != mf.Bytes {
			t.Fatalf("manifest entry %s does not match file", mf.Name)
		}
	}
}

func TestExportAbortOnFirstFailure(t *testing.T) {
	broken := runActivity("b", runStart+1000, 3)
	broken.Summaries = []nrcexport.Summary{{Metric: nrcexport.SummaryDistance, Value: 1}}
	f := &fakeFetcher{activities: map[string]*nrcexport.Activity{
		"a": runActivity("a", runStart, 3),
		"b": broken,
		"c": runActivity("c", runStart+2000, 3),
	}}
	sel := NewSelection("a", "b", "c")
	c := newCoordinator(t, f, sel, Options{})

	res, err := c.ExportSelected(context.Background())
	var exportErr *ExportError
	if !errors.As(err, &exportErr) || exportErr.ActivityID != "b" {
		t.Fatalf("expected ExportError for b, got %v", err)
	}
	if !errors.Is(err, nrcexport.ErrMissingRequiredSummaryMetric) {
		t.Fatalf("expected missing summary kind, got %v", err)
	}
	if len(res.Exported) != 1 || res.Exported[0].ActivityID != "a" {
		t.Fatalf("exported = %+v", res.Exported)
	}
	if diff := cmp.Diff([]string{"a", "b"}, f.fetched()); diff != "" {
		t.Fatalf("fetches after failure (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"1700000000000.fit", "1700000000000.gpx"}, listDir(t, c.Options().ExportDir)); diff != "" {
		t.Fatalf("export dir mismatch (-want +got):\n%s", diff)
	}
	if sel.Len() != 3 {
		t.Fatalf("aborted pass should keep selection, got %v", sel.Snapshot())
	}
}

func TestExportContinueOnError(t *testing.T) {
	f := &fakeFetcher{
		activities: map[string]*nrcexport.Activity{
			"a": runActivity("a", runStart, 3),
			"c": runActivity("c", runStart+2000, 3),
		},
		errs: map[string]error{"b": errors.New("status 500")},
	}
	sel := NewSelection("a", "b", "c")
	c := newCoordinator(t, f, sel, Options{FailurePolicy: ContinueOnError, WriteManifest: true})

	res, err := c.ExportSelected(context.Background())
	if err != nil {
		t.Fatalf("continue policy should not return an error: %v", err)
	}
	if len(res.Exported) != 2 || len(res.Failures) != 1 {
		t.Fatalf("exported %d, failures %d", len(res.Exported), len(res.Failures))
	}
	if res.Failures[0].ActivityID != "b" || !errors.Is(res.Failures[0], nrcexport.ErrUpstreamFetch) {
		t.Fatalf("unexpected failure %v", res.Failures[0])
	}
	if diff := cmp.Diff([]string{"b"}, sel.Snapshot()); diff != "" {
		t.Fatalf("selection after pass (-want +got):\n%s", diff)
	}

	data, err := os.ReadFile(res.ManifestPath)
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		t.Fatalf("decode manifest: %v", err)
	}
	if len(manifest.Failures) != 1 || manifest.Failures[0].ActivityID != "b" {
		t.Fatalf("manifest failures = %+v", manifest.Failures)
	}
}

func TestExportSnapshotIgnoresSelectionChangesDuringPass(t *testing.T) {
	sel := NewSelection("a")
	f := &fakeFetcher{activities: map[string]*nrcexport.Activity{
		"a":    runActivity("a", runStart, 2),
		"late": runActivity("late", runStart+5000, 2),
	}}
	f.onFetch = func(id string) { sel.Select("late") }
	c := newCoordinator(t, f, sel, Options{})

	res, err := c.ExportSelected(context.Background())
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if diff := cmp.Diff([]string{"a"}, res.Requested); diff != "" {
		t.Fatalf("requested mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"a"}, f.fetched()); diff != "" {
		t.Fatalf("fetched mismatch (-want +got):\n%s", diff)
	}
}

func TestExportWorkersExportEverything(t *testing.T) {
	activities := map[string]*nrcexport.Activity{}
	var ids []string
	for i := 0; i < 8; i++ {
		id := fmt.Sprintf("w%d", i)
		ids = append(ids, id)
		activities[id] = runActivity(id, runStart+int64(i)*60000, 5)
	}
	f := &fakeFetcher{activities: activities}
	c := newCoordinator(t, f, nil, Options{Workers: 4, VerifyFIT: true})

	res, err := c.Export(context.Background(), ids)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(res.Exported) != len(ids) {
		t.Fatalf("exported %d of %d", len(res.Exported), len(ids))
	}
	for i, e := range res.Exported {
		if e.ActivityID != ids[i] {
			t.Fatalf("result %d is %s, want %s", i, e.ActivityID, ids[i])
		}
	}
	if got := len(listDir(t, c.Options().ExportDir)); got != 2*len(ids) {
		t.Fatalf("files = %d", got)
	}
}

func TestExportSharedTimestampOverwrites(t *testing.T) {
	f := &fakeFetcher{activities: map[string]*nrcexport.Activity{
		"x": runActivity("x", runStart, 2),
		"y": runActivity("y", runStart, 3),
	}}
	c := newCoordinator(t, f, nil, Options{Workers: 2})
	if _, err := c.Export(context.Background(), []string{"x", "y"}); err != nil {
		t.Fatalf("export: %v", err)
	}
	if diff := cmp.Diff([]string{"1700000000000.fit", "1700000000000.gpx"}, listDir(t, c.Options().ExportDir)); diff != "" {
		t.Fatalf("export dir mismatch (-want +got):\n%s", diff)
	}
}

func TestExportFetchTimeout(t *testing.T) {
	f := &fakeFetcher{block: true}
	c := newCoordinator(t, f, nil, Options{FetchTimeout: 20 * time.Millisecond})

	_, err := c.Export(context.Background(), []string{"slow"})
	if !errors.Is(err, context.DeadlineExceeded) || !errors.Is(err, nrcexport.ErrUpstreamFetch) {
		t.Fatalf("expected timed out upstream fetch, got %v", err)
	}
}

func TestDeleteExports(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "exports")
	c := newCoordinator(t, &fakeFetcher{}, nil, Options{ExportDir: dir})

	n, err := c.DeleteExports()
	if err != nil || n != 0 {
		t.Fatalf("delete on missing dir: n=%d err=%v", n, err)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("export dir should be created: %v", err)
	}
	for _, name := range []string{"1.gpx", "1.fit", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "keep"), 0o755); err != nil {
		t.Fatal(err)
	}
	n, err = c.DeleteExports()
	if err != nil || n != 3 {
		t.Fatalf("delete: n=%d err=%v", n, err)
	}
	if diff := cmp.Diff([]string{"keep"}, listDir(t, dir)); diff != "" {
		t.Fatalf("remaining entries (-want +got):\n%s", diff)
	}
}

func TestBuildArtifactsParquetSamples(t *testing.T) {
	art, err := BuildArtifacts(runActivity("p", runStart, 6), Options{SamplesFormat: SamplesParquet})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if art.BaseName != "1700000000000" {
		t.Fatalf("base name = %q", art.BaseName)
	}
	pf := parquetbuffer.NewBufferFileFromBytes(art.Samples)
	pr, err := reader.NewParquetReader(pf, new(sampleParquetRow), 1)
	if err != nil {
		t.Fatalf("open parquet: %v", err)
	}
	defer pr.ReadStop()
	if got := pr.GetNumRows(); got != 6 {
		t.Fatalf("parquet rows = %d", got)
	}
}

func TestBuildArtifactsRejectsUnknownOptions(t *testing.T) {
	if _, err := BuildArtifacts(runActivity("p", runStart, 2), Options{SamplesFormat: "xlsx"}); err == nil {
		t.Fatal("expected error for unknown samples format")
	}
	if _, err := NewCoordinator(&fakeFetcher{}, nil, Options{ExportDir: t.TempDir(), FileNaming: "random"}, nil); err == nil {
		t.Fatal("expected error for unknown file naming")
	}
}

func TestVerifyFITDetectsPointMismatch(t *testing.T) {
	art, err := BuildArtifacts(runActivity("v", runStart, 4), Options{VerifyFIT: true})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if art.Analysis == nil || art.Analysis.RecordCount != 4 {
		t.Fatalf("analysis = %+v", art.Analysis)
	}
	other, err := nrcexport.BuildTrack(runActivity("v", runStart, 5), nrcexport.SourceAuto, nrcexport.Ellipsoid)
	if err != nil {
		t.Fatalf("build track: %v", err)
	}
	if _, err := VerifyFIT(art.FIT, other); !errors.Is(err, ErrVerification) {
		t.Fatalf("expected verification error, got %v", err)
	}
}

func TestBaseName(t *testing.T) {
	if got := BaseName(NamingTimestamp, "abc", 42); got != "42" {
		t.Fatalf("timestamp naming = %q", got)
	}
	if got := BaseName(NamingTimestampID, "../a b", 42); got != "42____a_b" {
		t.Fatalf("timestamp_id naming = %q", got)
	}
}
