// Command etiss runs programs on a simulated CPU.
//
// Usage:
//
//	etiss run [options] <program>
//	etiss disasm [options] <program>
//	etiss registers [options]
//	etiss list [options]
//	etiss config [options] [file]
//
// Programs are ELF files or raw images placed at the load address.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"github.com/go-logr/logr"
	getopt "github.com/pborman/getopt/v2"

	"github.com/rafzi/etiss/arch"
	"github.com/rafzi/etiss/config"
	"github.com/rafzi/etiss/jit"
	"github.com/rafzi/etiss/plugin"
	"github.com/rafzi/etiss/plugin/builtin"
)

// Exit statuses.
const (
	exitOK    = 0
	exitFail  = 1
	exitUsage = 2
)

type command struct {
	name    string
	params  string
	summary string
	run     func(c *common, args []string) int
	flags   func(s *getopt.Set)
}

var commands []*command

func main() {
	commands = []*command{runCommand(), disasmCommand(), registersCommand(), listCommand(), configCommand()}

	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(exitUsage)
	}
	name := os.Args[1]
	if name == "-h" || name == "--help" || name == "help" {
		usage(os.Stdout)
		os.Exit(exitOK)
	}

	for _, cmd := range commands {
		if cmd.name == name {
			os.Exit(dispatch(cmd, os.Args[2:]))
		}
	}
	fmt.Fprintf(os.Stderr, "etiss: unknown command %q\n\n", name)
	usage(os.Stderr)
	os.Exit(exitUsage)
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "ETISS - retargetable instruction set simulator")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: etiss <command> [options]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	for _, cmd := range commands {
		fmt.Fprintf(w, "  %-10s %s\n", cmd.name, cmd.summary)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Run 'etiss <command> --help' for the options of a command.")
}

func dispatch(cmd *command, args []string) int {
	set := getopt.New()
	set.SetProgram("etiss " + cmd.name)
	set.SetParameters(cmd.params)
	c := newCommon(set)
	if cmd.flags != nil {
		cmd.flags(set)
	}

	if err := set.Getopt(append([]string{"etiss " + cmd.name}, args...), nil); err != nil {
		fmt.Fprintf(os.Stderr, "etiss %s: %v\n", cmd.name, err)
		set.PrintUsage(os.Stderr)
		return exitUsage
	}
	if *c.help {
		set.PrintUsage(os.Stdout)
		return exitOK
	}

	if err := c.setup(); err != nil {
		fmt.Fprintf(os.Stderr, "etiss %s: %v\n", cmd.name, err)
		return exitUsage
	}
	return cmd.run(c, set.Args())
}

// common holds the options every command accepts and what they resolve to.
type common struct {
	help      *bool
	cfgPath   *string
	archName  *string
	backend   *string
	plugins   *[]string
	verbosity *int

	cfg      *config.Config
	log      logr.Logger
	archs    *plugin.Registry[arch.Architecture]
	backends *plugin.Registry[jit.Backend]
}

func newCommon(s *getopt.Set) *common {
	return &common{
		help:      s.BoolLong("help", 'h', "show this help"),
		cfgPath:   s.StringLong("config", 'c', "", "configuration file (.json, .yaml)", "file"),
		archName:  s.StringLong("arch", 'a', "", "architecture, overrides the configuration", "name"),
		backend:   s.StringLong("backend", 'b', "", "JIT backend, overrides the configuration", "name"),
		plugins:   s.ListLong("plugin", 'p', "load a plugin library, may repeat", "path"),
		verbosity: s.IntLong("verbose", 'v', 0, "log verbosity, 0 logs errors and summaries only", "level"),
	}
}

// setup loads the configuration, applies the overrides and fills the
// registries.
func (c *common) setup() error {
	c.log = logr.FromSlogHandler(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(-*c.verbosity),
	}))

	cfg := config.Default()
	if *c.cfgPath != "" {
		var err error
		if cfg, err = config.Load(*c.cfgPath); err != nil {
			return err
		}
	}
	if *c.archName != "" {
		cfg.Architecture = *c.archName
	}
	if *c.backend != "" {
		cfg.Backend = *c.backend
	}
	cfg.Plugins = append(cfg.Plugins, *c.plugins...)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	c.cfg = cfg

	c.archs = builtin.Architectures(c.log.WithName("arch"))
	c.backends = builtin.Backends(c.log.WithName("backend"), cfg.CompilerOptions()...)
	for _, path := range cfg.Plugins {
		if err := plugin.Open(path, c.archs, c.backends); err != nil {
			return err
		}
		c.log.V(1).Info("plugin loaded", "path", path)
	}
	return nil
}

// parseAddress accepts decimal, 0x hex and 0o octal numbers.
func parseAddress(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q", s)
	}
	return v, nil
}
