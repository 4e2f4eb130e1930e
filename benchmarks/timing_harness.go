// Package benchmarks runs mini32 workloads through the full translate,
// compile and execute path and reports what the simulator did.
package benchmarks

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"github.com/rafzi/etiss/arch/mini"
	"github.com/rafzi/etiss/blockcache"
	"github.com/rafzi/etiss/emu"
	"github.com/rafzi/etiss/hooks"
	"github.com/rafzi/etiss/jit"
	"github.com/rafzi/etiss/jit/interp"
	"github.com/rafzi/etiss/mem"
	"github.com/rafzi/etiss/regs"
	"github.com/rafzi/etiss/timing/latency"
)

// BenchmarkResult holds the results of a single benchmark run.
type BenchmarkResult struct {
	// Name identifies the benchmark
	Name string `json:"name"`

	// Description explains what the benchmark measures
	Description string `json:"description"`

	// Outcome is how the run ended ("halted" on success)
	Outcome string `json:"outcome"`

	// Result is the value of the result register at the end of the run
	Result uint64 `json:"result"`

	// SimulatedCycles is the cycle counter of the CPU state
	SimulatedCycles uint64 `json:"simulated_cycles"`

	// InstructionsRetired is the number of completed instructions
	InstructionsRetired uint64 `json:"instructions_retired"`

	// CPI is cycles per instruction
	CPI float64 `json:"cpi"`

	// Blocks is the number of executed blocks
	Blocks uint64 `json:"blocks"`

	// Interrupts is the number of interrupts the CPU took
	Interrupts uint64 `json:"interrupts,omitempty"`

	// Block cache counters
	CacheHits      uint64 `json:"cache_hits"`
	CacheMisses    uint64 `json:"cache_misses"`
	CacheCompiles  uint64 `json:"cache_compiles"`
	CacheEvictions uint64 `json:"cache_evictions,omitempty"`

	// Err describes a failed run
	Err string `json:"error,omitempty"`

	// WallTime is the actual time taken to run the simulation
	WallTime time.Duration `json:"wall_time_ns"`
}

// Passed reports whether the run halted with the expected result.
func (r BenchmarkResult) Passed(b Benchmark) bool {
	return r.Outcome == emu.OutcomeHalted.String() && r.Result == b.ExpectedResult
}

// Benchmark defines a single workload.
type Benchmark struct {
	// Name identifies the benchmark
	Name string

	// Description explains what the benchmark measures
	Description string

	// Setup prepares registers before the run.
	Setup func(r *regs.Struct) error

	// Hooks creates the boundary hooks of one run.
	Hooks func() []hooks.Hook

	// Program is the mini32 machine code, loaded at address 0.
	Program []byte

	// ResultRegister names the register compared with ExpectedResult.
	// Default: r1.
	ResultRegister string

	// ExpectedResult is the expected final value (for validation)
	ExpectedResult uint64
}

// HarnessConfig configures the benchmark harness.
type HarnessConfig struct {
	// NewBackend creates the JIT backend of one run. Default: interp.
	NewBackend func() (jit.Backend, error)

	// Timing is the cycle cost model. Default: latency.DefaultTimingConfig.
	Timing *latency.TimingConfig

	// Cache is the block cache geometry.
	Cache blockcache.Config

	// MaxInstructions bounds the block size. Zero keeps the default.
	MaxInstructions int

	// Compressed enables the 16-bit encodings.
	Compressed bool

	// Parallel is the number of benchmarks run at once. Zero or one runs
	// them in order.
	Parallel int

	// Output is where to write results (default: os.Stdout)
	Output io.Writer

	// Verbose enables detailed output
	Verbose bool

	// Log receives emulator logs.
	Log logr.Logger
}

// DefaultConfig returns a default harness configuration.
func DefaultConfig() HarnessConfig {
	return HarnessConfig{
		Timing:     latency.DefaultTimingConfig(),
		Cache:      blockcache.DefaultConfig(),
		Compressed: true,
		Parallel:   1,
		Output:     os.Stdout,
		Log:        logr.Discard(),
	}
}

// Harness runs benchmarks and reports results.
type Harness struct {
	config     HarnessConfig
	benchmarks []Benchmark
}

// NewHarness creates a new benchmark harness.
func NewHarness(config HarnessConfig) *Harness {
	if config.Output == nil {
		config.Output = os.Stdout
	}
	if config.Timing == nil {
		config.Timing = latency.DefaultTimingConfig()
	}
	if config.NewBackend == nil {
		config.NewBackend = func() (jit.Backend, error) { return interp.New(), nil }
	}
	return &Harness{
		config:     config,
		benchmarks: []Benchmark{},
	}
}

// AddBenchmark adds a benchmark to the harness.
func (h *Harness) AddBenchmark(b Benchmark) {
	h.benchmarks = append(h.benchmarks, b)
}

// AddBenchmarks adds multiple benchmarks to the harness.
func (h *Harness) AddBenchmarks(benchmarks []Benchmark) {
	h.benchmarks = append(h.benchmarks, benchmarks...)
}

// Benchmarks returns the registered benchmarks.
func (h *Harness) Benchmarks() []Benchmark {
	return h.benchmarks
}

// RunAll executes all benchmarks and returns results in registration
// order. Every run owns its memory, state and cache.
func (h *Harness) RunAll() []BenchmarkResult {
	results := make([]BenchmarkResult, len(h.benchmarks))

	var g errgroup.Group
	g.SetLimit(max(1, h.config.Parallel))
	for i, bench := range h.benchmarks {
		g.Go(func() error {
			results[i] = h.runBenchmark(bench)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// runBenchmark executes a single benchmark.
func (h *Harness) runBenchmark(bench Benchmark) BenchmarkResult {
	result := BenchmarkResult{
		Name:        bench.Name,
		Description: bench.Description,
		Outcome:     emu.OutcomeError.String(),
	}

	backend, err := h.config.NewBackend()
	if err != nil {
		result.Err = err.Error()
		return result
	}

	memory := mem.New()
	memory.LoadProgram(0, bench.Program)

	opts := []emu.EmulatorOption{
		emu.WithBackend(backend),
		emu.WithCostTable(latency.NewTableWithConfig(h.config.Timing)),
		emu.WithBlockLimits(h.config.MaxInstructions, 0),
		emu.WithLogger(h.config.Log.WithValues("benchmark", bench.Name)),
	}
	if h.config.Cache.Sets > 0 {
		opts = append(opts, emu.WithCacheConfig(h.config.Cache))
	}
	if bench.Hooks != nil {
		for _, hook := range bench.Hooks() {
			opts = append(opts, emu.WithHook(hook))
		}
	}

	e, err := emu.NewEmulator(mini.New(mini.WithCompressed(h.config.Compressed)), memory, opts...)
	if err != nil {
		result.Err = err.Error()
		return result
	}
	defer e.Close()

	if bench.Setup != nil {
		if err := bench.Setup(e.Registers()); err != nil {
			result.Err = fmt.Sprintf("setup: %v", err)
			return result
		}
	}

	start := time.Now()
	r := e.Run()
	result.WallTime = time.Since(start)

	result.Outcome = r.Outcome.String()
	if r.Err != nil {
		result.Err = r.Err.Error()
	}
	result.SimulatedCycles = r.Cycles
	result.InstructionsRetired = r.Instructions
	if r.Instructions > 0 {
		result.CPI = float64(r.Cycles) / float64(r.Instructions)
	}
	result.Blocks = r.Blocks
	result.Interrupts = r.Interrupts

	stats := e.CacheStats()
	result.CacheHits = stats.Hits
	result.CacheMisses = stats.Misses
	result.CacheCompiles = stats.Compiles
	result.CacheEvictions = stats.Evictions

	name := bench.ResultRegister
	if name == "" {
		name = "r1"
	}
	if v, err := e.Registers().Read(name); err == nil {
		result.Result = v
	}

	return result
}

// PrintResults outputs benchmark results in a human-readable format.
func (h *Harness) PrintResults(results []BenchmarkResult) {
	_, _ = fmt.Fprintln(h.config.Output, "=== ETISS Benchmark Results ===")
	_, _ = fmt.Fprintln(h.config.Output, "")

	for _, r := range results {
		_, _ = fmt.Fprintf(h.config.Output, "Benchmark: %s\n", r.Name)
		_, _ = fmt.Fprintf(h.config.Output, "  Description: %s\n", r.Description)
		_, _ = fmt.Fprintf(h.config.Output, "  Outcome: %s\n", r.Outcome)
		_, _ = fmt.Fprintf(h.config.Output, "  Result:  %d\n", r.Result)
		if r.Err != "" {
			_, _ = fmt.Fprintf(h.config.Output, "  Error:   %s\n", r.Err)
		}
		_, _ = fmt.Fprintln(h.config.Output, "  --- Timing ---")
		_, _ = fmt.Fprintf(h.config.Output, "  Simulated Cycles:     %d\n", r.SimulatedCycles)
		_, _ = fmt.Fprintf(h.config.Output, "  Instructions Retired: %d\n", r.InstructionsRetired)
		_, _ = fmt.Fprintf(h.config.Output, "  CPI:                  %.3f\n", r.CPI)
		_, _ = fmt.Fprintf(h.config.Output, "  Blocks:               %d\n", r.Blocks)
		if r.Interrupts > 0 {
			_, _ = fmt.Fprintf(h.config.Output, "  Interrupts:           %d\n", r.Interrupts)
		}

		_, _ = fmt.Fprintln(h.config.Output, "  --- Block Cache ---")
		_, _ = fmt.Fprintf(h.config.Output, "  Hits:      %d\n", r.CacheHits)
		_, _ = fmt.Fprintf(h.config.Output, "  Misses:    %d\n", r.CacheMisses)
		_, _ = fmt.Fprintf(h.config.Output, "  Compiles:  %d\n", r.CacheCompiles)
		if r.CacheEvictions > 0 {
			_, _ = fmt.Fprintf(h.config.Output, "  Evictions: %d\n", r.CacheEvictions)
		}

		_, _ = fmt.Fprintf(h.config.Output, "  Wall Time: %v\n", r.WallTime)
		_, _ = fmt.Fprintln(h.config.Output, "")
	}
}

// PrintCSV outputs benchmark results in CSV format for easy comparison.
func (h *Harness) PrintCSV(results []BenchmarkResult) {
	_, _ = fmt.Fprintln(h.config.Output,
		"name,outcome,result,cycles,instructions,cpi,blocks,interrupts,cache_hits,cache_misses,cache_compiles,cache_evictions,wall_time_ns")

	for _, r := range results {
		_, _ = fmt.Fprintf(h.config.Output, "%s,%s,%d,%d,%d,%.3f,%d,%d,%d,%d,%d,%d,%d\n",
			r.Name,
			r.Outcome,
			r.Result,
			r.SimulatedCycles,
			r.InstructionsRetired,
			r.CPI,
			r.Blocks,
			r.Interrupts,
			r.CacheHits,
			r.CacheMisses,
			r.CacheCompiles,
			r.CacheEvictions,
			r.WallTime.Nanoseconds(),
		)
	}
}
