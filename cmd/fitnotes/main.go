package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	nrcexport "github.com/williamtriinh/nrc-to-strava"
)

func main() {
	var (
		jsonOut    = flag.Bool("json", false, "Emit full analysis as JSON")
		showSplits = flag.Bool("splits", false, "Include split-by-split summary in text output")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] <path-to-exported-fit-file>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	analysis, err := nrcexport.AnalyzeFile(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "analysis failed: %v\n", err)
		os.Exit(1)
	}

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(analysis); err != nil {
			fmt.Fprintf(os.Stderr, "json encode failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	fmt.Println(analysis.Notes)
	if *showSplits && len(analysis.Splits) > 0 {
		fmt.Println()
		fmt.Println("Split Summary")
		for _, s := range analysis.Splits {
			fmt.Printf(
				"- Split %02d | %8.1fs | %8.1f m | %6.1fs | %s /km\n",
				s.Index,
				s.OffsetSeconds,
				s.DistanceMeters,
				s.DurationSeconds,
				nrcexport.FormatPace(s.PaceSecPerKm),
			)
		}
	}
}
