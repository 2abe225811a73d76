package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/williamtriinh/nrc-to-strava/api"
	"github.com/williamtriinh/nrc-to-strava/config"
	"github.com/williamtriinh/nrc-to-strava/nike"
	"github.com/williamtriinh/nrc-to-strava/pipeline"
)

func main() {
	var (
		configPath = flag.String("config", "", "Optional config file (yaml, json or toml)")
		dir        = flag.String("dir", "", "Export directory")
		token      = flag.String("token", "", "Nike bearer token (prefer NRC_BEARER_TOKEN)")
		workers    = flag.Int("workers", 0, "Concurrent activity exports")
		policy     = flag.String("policy", "", "Failure policy: abort|continue")
		naming     = flag.String("naming", "", "File naming: timestamp|timestamp_id")
		samples    = flag.String("samples", "", "Per-point sidecar: none|csv|parquet")
		source     = flag.String("source", "", "Track source: auto|parallel|polyline")
		distance   = flag.String("distance", "", "Distance model: ellipsoid|sphere")
		timeout    = flag.Duration("timeout", 0, "Per-activity fetch timeout")
		verify     = flag.Bool("verify", false, "Re-read every FIT file after encoding")
		manifest   = flag.Bool("manifest", false, "Write manifest.json after each pass")
		logLevel   = flag.String("log-level", "", "Log level: debug|info|warn|error")
		listen     = flag.String("listen", "", "Listen address for -serve")

		deleteAll = flag.Bool("delete", false, "Delete every file in the export directory and exit")
		serve     = flag.Bool("serve", false, "Serve the selection/export HTTP API")
		list      = flag.Bool("list", false, "List one page of activities and exit")
		before    = flag.String("before", nike.FirstPage, "before_id for -list")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] <activity-id>...\n", os.Args[0])
		fmt.Fprintf(flag.CommandLine.Output(), "       %s -list | -delete | -serve [flags]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config failed: %v\n", err)
		os.Exit(1)
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "dir":
			cfg.ExportDir = *dir
		case "token":
			cfg.BearerToken = *token
		case "workers":
			cfg.Workers = *workers
		case "policy":
			cfg.FailurePolicy = *policy
		case "naming":
			cfg.FileNaming = *naming
		case "samples":
			cfg.SamplesFormat = *samples
		case "source":
			cfg.SourceMode = *source
		case "distance":
			cfg.DistanceModel = *distance
		case "timeout":
			cfg.FetchTimeout = *timeout
		case "verify":
			cfg.VerifyFIT = *verify
		case "manifest":
			cfg.WriteManifest = *manifest
		case "log-level":
			cfg.LogLevel = *logLevel
		case "listen":
			cfg.ListenAddr = *listen
		}
	})
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid settings: %v\n", err)
		os.Exit(2)
	}
	logger := cfg.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := nike.NewClient(cfg.NikeConfig(logger))
	if err != nil {
		fmt.Fprintf(os.Stderr, "client failed: %v\n", err)
		os.Exit(1)
	}
	opts, err := cfg.PipelineOptions()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid settings: %v\n", err)
		os.Exit(2)
	}
	coordinator, err := pipeline.NewCoordinator(client, pipeline.NewSelection(flag.Args()...), opts, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "setup failed: %v\n", err)
		os.Exit(1)
	}

	switch {
	case *list:
		err = runList(ctx, client, *before)
	case *deleteAll:
		var n int
		n, err = coordinator.DeleteExports()
		if err == nil {
			fmt.Printf("Deleted %d files from %s\n", n, opts.ExportDir)
		}
	case *serve:
		err = runServer(ctx, cfg.ListenAddr, api.NewRouter(api.NewHandler(coordinator, client, logger)), logger)
	default:
		if flag.NArg() == 0 {
			flag.Usage()
			os.Exit(2)
		}
		err = runExport(ctx, coordinator)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "nrcexport failed: %v\n", err)
		os.Exit(1)
	}
}

func runExport(ctx context.Context, c *pipeline.Coordinator) error {
	res, err := c.ExportSelected(ctx)
	if res != nil {
		for _, e := range res.Exported {
			fmt.Printf("Exported %s -> %s, %s (%d points, %.0f m)\n", e.ActivityID, e.GPXPath, e.FITPath, e.Points, e.DistanceMeters)
		}
		for _, f := range res.Failures {
			fmt.Printf("Failed   %s: %v\n", f.ActivityID, f.Err)
		}
		if res.ManifestPath != "" {
			fmt.Printf("Manifest: %s\n", res.ManifestPath)
		}
		if err == nil && len(res.Failures) > 0 {
			return fmt.Errorf("%d of %d activities failed", len(res.Failures), len(res.Requested))
		}
	}
	return err
}

func runList(ctx context.Context, client *nike.Client, before string) error {
	page, err := client.FetchActivities(ctx, before)
	if err != nil {
		return err
	}
	for _, a := range page.Activities {
		km, _ := a.DistanceKm()
		start := time.UnixMilli(a.StartEpochMs).UTC().Format(time.RFC3339)
		fmt.Printf("%-40s %s %6.2f km  %s\n", a.ID, start, km, a.Name())
	}
	if page.Paging.BeforeID != "" {
		fmt.Printf("Next page: -before %s\n", page.Paging.BeforeID)
	}
	return nil
}

func runServer(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("control api listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Info("shutting down control api")
	return srv.Shutdown(shutdownCtx)
}
