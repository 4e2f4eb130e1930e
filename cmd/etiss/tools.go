package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	getopt "github.com/pborman/getopt/v2"
	"go.yaml.in/yaml/v3"

	"github.com/rafzi/etiss/arch"
	"github.com/rafzi/etiss/emu"
	"github.com/rafzi/etiss/loader"
	"github.com/rafzi/etiss/mem"
	"github.com/rafzi/etiss/translate"
)

type disasmFlags struct {
	at    *string
	base  *string
	count *int
	mode  *int
}

var df disasmFlags

func disasmCommand() *command {
	return &command{
		name:    "disasm",
		params:  "<program>",
		summary: "disassemble a program",
		flags: func(s *getopt.Set) {
			df = disasmFlags{
				at:    s.StringLong("at", 0, "", "byte address to start at, default the entry point", "addr"),
				base:  s.StringLong("base", 0, "", "load address of raw images", "addr"),
				count: s.IntLong("count", 'n', 32, "number of instructions", "n"),
				mode:  s.IntLong("mode", 'm', 0, "instruction set mode", "mode"),
			}
		},
		run: disasm,
	}
}

func disasm(c *common, args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "etiss disasm: expected exactly one program")
		return exitUsage
	}
	base := c.cfg.LoadAddress
	if *df.base != "" {
		v, err := parseAddress(*df.base)
		if err != nil {
			fmt.Fprintf(os.Stderr, "etiss disasm: %v\n", err)
			return exitUsage
		}
		base = v
	}

	prog, err := loader.Open(args[0], base)
	if err != nil {
		fmt.Fprintf(os.Stderr, "etiss disasm: %v\n", err)
		return exitFail
	}
	start := prog.EntryPoint
	if *df.at != "" {
		if start, err = parseAddress(*df.at); err != nil {
			fmt.Fprintf(os.Stderr, "etiss disasm: %v\n", err)
			return exitUsage
		}
	}

	a, release, err := c.archs.Create(c.cfg.Architecture)
	if err != nil {
		fmt.Fprintf(os.Stderr, "etiss disasm: %v\n", err)
		return exitFail
	}
	defer release()

	memory := mem.New(mem.WithByteOrder(a.ByteOrder()))
	prog.LoadInto(memory)

	engine := translate.New(a, translate.WithLogger(c.log.WithName("translate")))
	lines, err := engine.Disassemble(memory, arch.PCUnits(a, start), uint32(*df.mode), *df.count)
	for _, l := range lines {
		fmt.Println(l)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "etiss disasm: %v\n", err)
		return exitFail
	}
	return exitOK
}

func registersCommand() *command {
	return &command{
		name:    "registers",
		summary: "describe the registers of the architecture",
		run:     registers,
	}
}

func registers(c *common, _ []string) int {
	a, release, err := c.archs.Create(c.cfg.Architecture)
	if err != nil {
		fmt.Fprintf(os.Stderr, "etiss registers: %v\n", err)
		return exitFail
	}
	defer release()

	if _, ok := a.(arch.Reflector); !ok {
		fmt.Fprintf(os.Stderr, "etiss registers: %s does not describe its registers\n", a.Name())
		return exitFail
	}

	// An emulator over empty memory gives the reflection at reset.
	e, err := emu.NewEmulator(a, mem.New(), emu.WithLogger(c.log))
	if err != nil {
		fmt.Fprintf(os.Stderr, "etiss registers: %v\n", err)
		return exitFail
	}
	defer e.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tDISPLAY\tACCESS\tWIDTH\tDEBUG")
	var debug arch.DebugRegisterMap
	if d, ok := a.(arch.Debuggable); ok {
		debug = d.DebugRegisters()
	}
	for _, f := range e.Registers().Fields() {
		index := "-"
		if debug != nil {
			if i, ok := debug.Index(f.Name()); ok {
				index = fmt.Sprint(i)
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", f.Name(), f.Display(), f.Access(), f.Width(), index)
	}
	_ = w.Flush()

	if debug != nil {
		order := "little"
		if debug.BigEndian() {
			order = "big"
		}
		fmt.Printf("\n%d debug registers, %s endian\n", debug.Count(), order)
	}
	return exitOK
}

// dumpRegisters prints every readable register of e.
func dumpRegisters(out io.Writer, e *emu.Emulator) {
	rs := e.Registers()
	if rs == nil {
		return
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, f := range rs.Fields() {
		v, err := f.Read()
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "  %s\t0x%0*x\n", f.Display(), 2*f.Width(), v)
	}
	_ = w.Flush()
}

func listCommand() *command {
	return &command{
		name:    "list",
		summary: "list the available architectures and backends",
		run:     list,
	}
}

func list(c *common, _ []string) int {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KIND\tNAME\tLIBRARY")
	for _, name := range c.archs.Names() {
		lib, _ := c.archs.Provider(name)
		fmt.Fprintf(w, "%s\t%s\t%s\n", c.archs.Kind(), name, lib)
	}
	for _, name := range c.backends.Names() {
		lib, _ := c.backends.Provider(name)
		fmt.Fprintf(w, "%s\t%s\t%s\n", c.backends.Kind(), name, lib)
	}
	_ = w.Flush()
	return exitOK
}

func configCommand() *command {
	return &command{
		name:    "config",
		params:  "[file]",
		summary: "write the effective configuration",
		run:     writeConfig,
	}
}

// writeConfig saves the loaded configuration, with overrides applied, to
// the named file or prints it as YAML.
func writeConfig(c *common, args []string) int {
	switch len(args) {
	case 0:
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		if err := enc.Encode(c.cfg); err != nil {
			fmt.Fprintf(os.Stderr, "etiss config: %v\n", err)
			return exitFail
		}
		_ = enc.Close()
	case 1:
		if err := c.cfg.Save(args[0]); err != nil {
			fmt.Fprintf(os.Stderr, "etiss config: %v\n", err)
			return exitFail
		}
	default:
		fmt.Fprintln(os.Stderr, "etiss config: expected at most one file")
		return exitUsage
	}
	return exitOK
}
