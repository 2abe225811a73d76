package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/williamtriinh/nrc-to-strava/fitinspect"
)

func main() {
	var (
		out       = flag.String("out", "", "Write records as JSONL to this path instead of stdout")
		checkOnly = flag.Bool("check", false, "Only verify CRCs and activity message order")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] <path-to-fit-file>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	data, err := os.ReadFile(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "read failed: %v\n", err)
		os.Exit(1)
	}
	bundle, err := fitinspect.ParseBytes(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "parse failed: %v\n", err)
		os.Exit(1)
	}
	for _, w := range bundle.Warnings() {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w)
	}

	if *checkOnly {
		if err := bundle.CheckActivityOrder(); err != nil {
			fmt.Fprintf(os.Stderr, "check failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("OK: %d definitions, %d data messages, %d records\n",
			bundle.DefinitionCount, bundle.DataCount, bundle.Count(fitinspect.MesgRecord))
		return
	}

	w := os.Stdout
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			fmt.Fprintf(os.Stderr, "create output failed: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		w = f
	}
	if err := fitinspect.WriteJSONL(w, bundle.Records); err != nil {
		fmt.Fprintf(os.Stderr, "write failed: %v\n", err)
		os.Exit(1)
	}
	if *out != "" {
		fmt.Printf("Records:   %d (%d definitions, %d data messages)\n", len(bundle.Records), bundle.DefinitionCount, bundle.DataCount)
		fmt.Printf("CRC valid: header=%t file=%t\n", bundle.HeaderCRC.Valid, bundle.FileCRC.Valid)
		fmt.Printf("Output:    %s\n", *out)
	}
}
