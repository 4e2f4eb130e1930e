// Command benchmark runs the ETISS benchmark harness.
//
// Usage:
//
//	go run ./cmd/benchmark [flags]
//
// Flags:
//
//	--csv             Output results in CSV format (default: human-readable)
//	--json            Output results as JSON
//	--core            Run only the core workloads
//	--backend, -b     JIT backend (default: interp)
//	--parallel, -j    Number of benchmarks run at once
//	--timing, -t      Timing configuration file
//	--no-compressed   Disable the 16-bit encodings
//
// Example:
//
//	# Run all benchmarks with human-readable output
//	go run ./cmd/benchmark
//
//	# Compare backends in a spreadsheet
//	go run ./cmd/benchmark --csv -b cc > cc.csv
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"runtime"

	"github.com/go-logr/logr"
	getopt "github.com/pborman/getopt/v2"

	"github.com/rafzi/etiss/benchmarks"
	"github.com/rafzi/etiss/jit"
	"github.com/rafzi/etiss/plugin/builtin"
	"github.com/rafzi/etiss/timing/latency"
)

func main() {
	csvOutput := getopt.BoolLong("csv", 0, "Output results in CSV format")
	jsonOutput := getopt.BoolLong("json", 0, "Output results as JSON")
	coreOnly := getopt.BoolLong("core", 0, "Run only the core workloads")
	backendName := getopt.StringLong("backend", 'b', "interp", "JIT backend", "name")
	parallel := getopt.IntLong("parallel", 'j', runtime.NumCPU(), "Number of benchmarks run at once", "n")
	timingPath := getopt.StringLong("timing", 't', "", "Timing configuration file", "file")
	noCompressed := getopt.BoolLong("no-compressed", 0, "Disable the 16-bit encodings")
	verbosity := getopt.IntLong("verbose", 'v', 0, "Log verbosity", "level")
	help := getopt.BoolLong("help", 'h', "Help")
	getopt.Parse()

	if *help {
		getopt.Usage()
		os.Exit(0)
	}

	log := logr.FromSlogHandler(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(-*verbosity),
	}))

	// Configure harness
	config := benchmarks.DefaultConfig()
	config.Compressed = !*noCompressed
	config.Parallel = *parallel
	config.Output = os.Stdout
	config.Log = log

	if *timingPath != "" {
		t, err := latency.LoadConfig(*timingPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading timing config: %v\n", err)
			os.Exit(1)
		}
		config.Timing = t
	}

	backends := builtin.Backends(log)
	if _, ok := backends.Provider(*backendName); !ok {
		fmt.Fprintf(os.Stderr, "Unknown backend %q, available: %v\n", *backendName, backends.Names())
		os.Exit(1)
	}
	// Each run gets its own backend. They live until the process exits.
	config.NewBackend = func() (jit.Backend, error) {
		b, _, err := backends.Create(*backendName)
		return b, err
	}

	// Create harness and add benchmarks
	harness := benchmarks.NewHarness(config)
	if *coreOnly {
		harness.AddBenchmarks(benchmarks.GetCoreBenchmarks())
	} else {
		harness.AddBenchmarks(benchmarks.GetMicrobenchmarks())
	}

	if !*csvOutput && !*jsonOutput {
		fmt.Println("ETISS Benchmark Harness")
		fmt.Println("=======================")
		fmt.Printf("Backend:    %s\n", *backendName)
		fmt.Printf("Compressed: %v\n", config.Compressed)
		fmt.Printf("Parallel:   %d\n", config.Parallel)
		fmt.Println("")
	}

	results := harness.RunAll()

	switch {
	case *jsonOutput:
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing results: %v\n", err)
			os.Exit(1)
		}
	case *csvOutput:
		harness.PrintCSV(results)
	default:
		harness.PrintResults(results)
	}

	failed := 0
	for i, r := range results {
		if !r.Passed(harness.Benchmarks()[i]) {
			failed++
		}
	}
	if failed > 0 {
		fmt.Fprintf(os.Stderr, "%d of %d benchmarks failed\n", failed, len(results))
		os.Exit(1)
	}
}
