// Command fplf-classify runs the offline classifier & export pipeline
// (spec.md §4.9): it scores a feature table against a trained model,
// applies the well-known-port override, joins the result with a host
// map, and atomically writes the classification table file the
// controller reloads.
//
// Usage:
//
//	fplf-classify -features flows.json -model model.json -hostmap hosts.txt -out classification.csv
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/ofcontrol/fplf/classifier"
	"github.com/ofcontrol/fplf/feature"
	"github.com/ofcontrol/fplf/hostmap"
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
	featuresPath := flag.String("features", "", "Path to the feature table JSON (fplf-extract-features output)")
	modelPath := flag.String("model", "", "Path to the trained model blob")
	hostMapPath := flag.String("hostmap", "", "Path to the host map file")
	outPath := flag.String("out", "", "Path to write the classification CSV")
	flag.Parse()

	if *featuresPath == "" || *modelPath == "" || *hostMapPath == "" || *outPath == "" {
		fmt.Fprintln(os.Stderr, "fplf-classify: -features, -model, -hostmap and -out are all required")
		return exitConfigError
	}

	rows, err := loadRows(*featuresPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fplf-classify: %v\n", err)
		return exitIOError
	}

	model, err := classifier.LoadModel(*modelPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fplf-classify: %v\n", err)
		return exitConfigError
	}

	hosts := hostmap.New(nil)
	if err := hosts.LoadFile(*hostMapPath); err != nil {
		fmt.Fprintf(os.Stderr, "fplf-classify: %v\n", err)
		return exitConfigError
	}

	n, err := classifier.Export(rows, model, hosts, *outPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fplf-classify: %v\n", err)
		return exitIOError
	}

	fmt.Fprintf(os.Stdout, "fplf-classify: wrote %d classification rows to %s\n", n, *outPath)
	return exitOK
}

func loadRows(path string) ([]feature.Row, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read features %s: %w", path, err)
	}
	var rows []feature.Row
	if err := json.Unmarshal(b, &rows); err != nil {
		return nil, fmt.Errorf("decode features %s: %w", path, err)
	}
	return rows, nil
}
