package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/pprof"
	"syscall"

	getopt "github.com/pborman/getopt/v2"
	"golang.org/x/sync/errgroup"

	"github.com/rafzi/etiss/arch"
	"github.com/rafzi/etiss/emu"
	"github.com/rafzi/etiss/hooks/timer"
	"github.com/rafzi/etiss/jit"
	"github.com/rafzi/etiss/loader"
	"github.com/rafzi/etiss/mem"
)

type runFlags struct {
	start      *string
	base       *string
	cpus       *int
	cpuProfile *string
	dump       *bool
}

var rf runFlags

func runCommand() *command {
	return &command{
		name:    "run",
		params:  "<program>",
		summary: "run a program until it halts",
		flags: func(s *getopt.Set) {
			rf = runFlags{
				start:      s.StringLong("start", 0, "", "start address, overrides the entry point", "addr"),
				base:       s.StringLong("base", 0, "", "load address of raw images", "addr"),
				cpus:       s.IntLong("cpus", 'n', 1, "number of independent CPUs running the program", "n"),
				cpuProfile: s.StringLong("cpuprofile", 0, "", "write a CPU profile", "file"),
				dump:       s.BoolLong("dump", 'd', "print the registers of each CPU after the run"),
			}
		},
		run: run,
	}
}

// cpu is one simulated CPU with its private memory.
type cpu struct {
	id     int
	emu    *emu.Emulator
	result emu.Result
}

func run(c *common, args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "etiss run: expected exactly one program")
		return exitUsage
	}
	if *rf.cpus < 1 {
		fmt.Fprintln(os.Stderr, "etiss run: --cpus must be at least 1")
		return exitUsage
	}
	if *rf.base != "" {
		v, err := parseAddress(*rf.base)
		if err != nil {
			fmt.Fprintf(os.Stderr, "etiss run: %v\n", err)
			return exitUsage
		}
		c.cfg.LoadAddress = v
	}
	if *rf.start != "" {
		v, err := parseAddress(*rf.start)
		if err != nil {
			fmt.Fprintf(os.Stderr, "etiss run: %v\n", err)
			return exitUsage
		}
		c.cfg.StartAddress = &v
	}

	if *rf.cpuProfile != "" {
		f, err := os.Create(*rf.cpuProfile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "etiss run: failed to create CPU profile: %v\n", err)
			return exitFail
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			fmt.Fprintf(os.Stderr, "etiss run: failed to start CPU profile: %v\n", err)
			return exitFail
		}
		defer pprof.StopCPUProfile()
	}

	prog, err := loader.Open(args[0], c.cfg.LoadAddress)
	if err != nil {
		fmt.Fprintf(os.Stderr, "etiss run: %v\n", err)
		return exitFail
	}
	c.log.V(1).Info("program loaded", "path", args[0], "entry", prog.EntryPoint,
		"segments", len(prog.Segments), "bytes", prog.Size())

	backend, release, err := c.backends.Create(c.cfg.Backend)
	if err != nil {
		fmt.Fprintf(os.Stderr, "etiss run: %v\n", err)
		return exitFail
	}
	defer release()

	cpus := make([]*cpu, *rf.cpus)
	var releases []func()
	defer func() {
		for _, cp := range cpus {
			if cp != nil && cp.emu != nil {
				cp.emu.Close()
			}
		}
		for _, r := range releases {
			r()
		}
	}()

	for i := range cpus {
		a, rel, err := c.archs.Create(c.cfg.Architecture)
		if err != nil {
			fmt.Fprintf(os.Stderr, "etiss run: %v\n", err)
			return exitFail
		}
		releases = append(releases, rel)

		e, err := newEmulator(c, a, backend, prog, i)
		if err != nil {
			fmt.Fprintf(os.Stderr, "etiss run: cpu %d: %v\n", i, err)
			return exitFail
		}
		cpus[i] = &cpu{id: i, emu: e}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	finished := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			for _, cp := range cpus {
				cp.emu.Stop("interrupted")
			}
		case <-finished:
		}
	}()

	var g errgroup.Group
	for _, cp := range cpus {
		g.Go(func() error {
			cp.result = cp.emu.Run()
			return nil
		})
	}
	_ = g.Wait()
	close(finished)

	status := exitOK
	for _, cp := range cpus {
		report(cp)
		if *rf.dump {
			dumpRegisters(os.Stdout, cp.emu)
		}
		if cp.result.Outcome == emu.OutcomeFault || cp.result.Outcome == emu.OutcomeError {
			status = exitFail
		}
	}
	return status
}

func newEmulator(c *common, a arch.Architecture, backend jit.Backend, prog *loader.Program, id int) (*emu.Emulator, error) {
	memory := mem.New(mem.WithByteOrder(a.ByteOrder()))
	prog.LoadInto(memory)

	start := prog.EntryPoint
	if c.cfg.StartAddress != nil {
		start = *c.cfg.StartAddress
	}

	log := c.log.WithValues("cpu", id)
	opts := []emu.EmulatorOption{
		emu.WithBackend(backend),
		emu.WithCostTable(c.cfg.CostTable()),
		emu.WithBlockLimits(c.cfg.Block.MaxInstructions, c.cfg.Block.MaxBytes),
		emu.WithCacheConfig(c.cfg.Cache),
		emu.WithJITOptions(c.cfg.JITOptions()),
		emu.WithStartAddress(arch.PCUnits(a, start)),
		emu.WithLogger(log),
	}
	for _, h := range c.cfg.NewHooks(timer.WithLogger(log.WithName("timer"))) {
		opts = append(opts, emu.WithHook(h))
	}
	return emu.NewEmulator(a, memory, opts...)
}

func report(cp *cpu) {
	r := cp.result
	fmt.Printf("cpu %d: %s", cp.id, r.Outcome)
	switch r.Outcome {
	case emu.OutcomeHalted:
		fmt.Printf(" code=%d", r.Code)
	case emu.OutcomeStopped:
		fmt.Printf(" reason=%q", r.Reason)
	case emu.OutcomeFault, emu.OutcomeError:
		fmt.Printf(" err=%q", r.Err)
	}
	fmt.Println()

	a := cp.emu.Architecture()
	fmt.Printf("  pc:           0x%x\n", arch.ByteAddress(a, r.PC))
	fmt.Printf("  instructions: %d\n", r.Instructions)
	fmt.Printf("  cycles:       %d\n", r.Cycles)
	if r.Instructions > 0 {
		fmt.Printf("  cpi:          %.3f\n", float64(r.Cycles)/float64(r.Instructions))
	}
	fmt.Printf("  blocks:       %d\n", r.Blocks)
	fmt.Printf("  interrupts:   %d\n", r.Interrupts)

	s := cp.emu.CacheStats()
	fmt.Printf("  cache:        %d hits, %d misses, %d compiles, %d evictions\n",
		s.Hits, s.Misses, s.Compiles, s.Evictions)
}
