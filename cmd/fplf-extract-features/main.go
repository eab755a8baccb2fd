// Command fplf-extract-features turns captured-packet snapshot files
// into the flow feature table an offline classifier trains on.
//
// Usage:
//
//	fplf-extract-features -in 'captures/captured_packets_*.json' -out flows.json
//
// Snapshot files are processed in lexicographic glob-match order,
// which is also timestamp order given the capture package's
// captured_packets_<unixnano>.json naming (spec.md §4.2).
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/ofcontrol/fplf/feature"
)

const (
	exitOK = iota
	exitConfigError
	exitIOError
)

func main() {
	os.Exit(run())
}

func run() int {
	inGlob := flag.String("in", "", "Glob pattern matching capture snapshot files")
	outPath := flag.String("out", "", "Path to write the extracted feature table (JSON)")
	flag.Parse()

	if *inGlob == "" || *outPath == "" {
		fmt.Fprintln(os.Stderr, "fplf-extract-features: -in and -out are required")
		return exitConfigError
	}

	paths, err := filepath.Glob(*inGlob)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fplf-extract-features: bad glob %q: %v\n", *inGlob, err)
		return exitConfigError
	}
	if len(paths) == 0 {
		fmt.Fprintf(os.Stderr, "fplf-extract-features: no files matched %q\n", *inGlob)
		return exitIOError
	}
	sort.Strings(paths)

	rows, err := feature.ExtractFiles(paths)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fplf-extract-features: %v\n", err)
		return exitIOError
	}

	f, err := os.Create(*outPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fplf-extract-features: %v\n", err)
		return exitIOError
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rows); err != nil {
		fmt.Fprintf(os.Stderr, "fplf-extract-features: write %s: %v\n", *outPath, err)
		return exitIOError
	}

	fmt.Fprintf(os.Stdout, "fplf-extract-features: wrote %d flow rows from %d snapshots to %s\n", len(rows), len(paths), *outPath)
	return exitOK
}
