// Package config holds the simulator settings and reads and writes them
// as JSON or YAML.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/rafzi/etiss/blockcache"
	"github.com/rafzi/etiss/hooks"
	"github.com/rafzi/etiss/hooks/timer"
	"github.com/rafzi/etiss/jit"
	"github.com/rafzi/etiss/jit/cc"
	"github.com/rafzi/etiss/timing/latency"
	"github.com/rafzi/etiss/translate"
)

// Config is the complete simulator configuration.
type Config struct {
	// Architecture is the registered architecture name. Default: mini32.
	Architecture string `json:"architecture" yaml:"architecture"`

	// Backend is the registered JIT backend name. Default: interp.
	Backend string `json:"backend" yaml:"backend"`

	// Plugins lists Go plugins to load before the names are resolved.
	Plugins []string `json:"plugins,omitempty" yaml:"plugins,omitempty"`

	// StartAddress overrides the entry point of the program, as a byte
	// address.
	StartAddress *uint64 `json:"start_address,omitempty" yaml:"start_address,omitempty"`

	// LoadAddress is where raw images are placed. Default: 0.
	LoadAddress uint64 `json:"load_address" yaml:"load_address"`

	Compiler CompilerConfig    `json:"compiler" yaml:"compiler"`
	Block    BlockConfig       `json:"block" yaml:"block"`
	Cache    blockcache.Config `json:"cache" yaml:"cache"`
	Hooks    HooksConfig       `json:"hooks" yaml:"hooks"`

	// Timing is the cycle cost of each instruction tag.
	Timing latency.TimingConfig `json:"timing" yaml:"timing"`
}

// CompilerConfig configures compilation of generated code.
type CompilerConfig struct {
	// Path is the C compiler used by the cc backend. Empty means $CC or cc.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// Flags are appended to the compiler command line.
	Flags []string `json:"flags,omitempty" yaml:"flags,omitempty"`

	// TimeoutSeconds bounds one compiler run. Default: 60.
	TimeoutSeconds int `json:"timeout_seconds" yaml:"timeout_seconds"`

	// WorkDir receives the temporary build directories.
	WorkDir string `json:"work_dir,omitempty" yaml:"work_dir,omitempty"`

	// KeepFiles leaves build directories behind.
	KeepFiles bool `json:"keep_files,omitempty" yaml:"keep_files,omitempty"`

	HeaderPaths  []string `json:"header_paths,omitempty" yaml:"header_paths,omitempty"`
	LibraryPaths []string `json:"library_paths,omitempty" yaml:"library_paths,omitempty"`
	Libraries    []string `json:"libraries,omitempty" yaml:"libraries,omitempty"`

	// Debug compiles with debug information.
	Debug bool `json:"debug,omitempty" yaml:"debug,omitempty"`
}

// BlockConfig bounds translated blocks.
type BlockConfig struct {
	MaxInstructions int `json:"max_instructions" yaml:"max_instructions"`
	MaxBytes        int `json:"max_bytes" yaml:"max_bytes"`
}

// HooksConfig selects the boundary hooks.
type HooksConfig struct {
	// Timer enables the periodic interrupt source.
	Timer *TimerConfig `json:"timer,omitempty" yaml:"timer,omitempty"`

	// Limit stops runaway programs. Zero fields are unlimited.
	Limit LimitConfig `json:"limit" yaml:"limit"`
}

// TimerConfig configures hooks/timer.
type TimerConfig struct {
	Line int `json:"line" yaml:"line"`

	// Field is the register that holds the period. Default: tperiod.
	Field string `json:"field,omitempty" yaml:"field,omitempty"`

	// Period is the initial period in cycles.
	Period uint64 `json:"period" yaml:"period"`
}

// LimitConfig configures hooks.Limit.
type LimitConfig struct {
	Instructions uint64 `json:"instructions,omitempty" yaml:"instructions,omitempty"`
	Cycles       uint64 `json:"cycles,omitempty" yaml:"cycles,omitempty"`
	Blocks       uint64 `json:"blocks,omitempty" yaml:"blocks,omitempty"`
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Architecture: "mini32",
		Backend:      "interp",
		Compiler: CompilerConfig{
			TimeoutSeconds: int(cc.DefaultTimeout / time.Second),
		},
		Block: BlockConfig{
			MaxInstructions: translate.DefaultMaxInstructions,
			MaxBytes:        translate.DefaultMaxBytes,
		},
		Cache:  blockcache.DefaultConfig(),
		Timing: *latency.DefaultTimingConfig(),
	}
}

type format int

const (
	formatJSON format = iota
	formatYAML
)

func formatOf(path string) (format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return formatJSON, nil
	case ".yaml", ".yml":
		return formatYAML, nil
	default:
		return 0, fmt.Errorf("unknown config format %q, want .json, .yaml or .yml", filepath.Ext(path))
	}
}

// Load reads a Config from a JSON or YAML file, chosen by extension.
// Missing settings keep their defaults.
func Load(path string) (*Config, error) {
	f, err := formatOf(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	switch f {
	case formatJSON:
		err = json.Unmarshal(data, config)
	case formatYAML:
		err = yaml.Unmarshal(data, config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return config, nil
}

// Save writes the Config to a JSON or YAML file, chosen by extension.
func (c *Config) Save(path string) error {
	f, err := formatOf(path)
	if err != nil {
		return err
	}

	var data []byte
	switch f {
	case formatJSON:
		data, err = json.MarshalIndent(c, "", "  ")
	case formatYAML:
		data, err = yaml.Marshal(c)
	}
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks the settings that have no sensible fallback.
func (c *Config) Validate() error {
	if c.Architecture == "" {
		return fmt.Errorf("architecture must be set")
	}
	if c.Backend == "" {
		return fmt.Errorf("backend must be set")
	}
	if c.Compiler.TimeoutSeconds < 0 {
		return fmt.Errorf("compiler timeout_seconds must be >= 0")
	}
	if c.Block.MaxInstructions < 0 {
		return fmt.Errorf("block max_instructions must be >= 0")
	}
	if c.Block.MaxBytes < 0 {
		return fmt.Errorf("block max_bytes must be >= 0")
	}
	if err := c.Cache.Validate(); err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	if t := c.Hooks.Timer; t != nil && t.Line < 0 {
		return fmt.Errorf("timer line must be >= 0")
	}
	if err := c.Timing.Validate(); err != nil {
		return fmt.Errorf("timing: %w", err)
	}
	return nil
}

// Clone returns a deep copy of the Config.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Plugins = append([]string(nil), c.Plugins...)
	if c.StartAddress != nil {
		start := *c.StartAddress
		clone.StartAddress = &start
	}
	clone.Compiler.Flags = append([]string(nil), c.Compiler.Flags...)
	clone.Compiler.HeaderPaths = append([]string(nil), c.Compiler.HeaderPaths...)
	clone.Compiler.LibraryPaths = append([]string(nil), c.Compiler.LibraryPaths...)
	clone.Compiler.Libraries = append([]string(nil), c.Compiler.Libraries...)
	if c.Hooks.Timer != nil {
		t := *c.Hooks.Timer
		clone.Hooks.Timer = &t
	}
	clone.Timing = *c.Timing.Clone()
	return &clone
}

// CostTable builds the cycle cost model.
func (c *Config) CostTable() *latency.Table {
	return latency.NewTableWithConfig(c.Timing.Clone())
}

// JITOptions returns the options passed to the backend.
func (c *Config) JITOptions() jit.Options {
	return jit.Options{
		HeaderPaths:  append([]string(nil), c.Compiler.HeaderPaths...),
		LibraryPaths: append([]string(nil), c.Compiler.LibraryPaths...),
		Libraries:    append([]string(nil), c.Compiler.Libraries...),
		Debug:        c.Compiler.Debug,
	}
}

// CompilerOptions returns the options of the cc backend.
func (c *Config) CompilerOptions() []cc.Option {
	var opts []cc.Option
	if c.Compiler.Path != "" {
		opts = append(opts, cc.WithCompiler(c.Compiler.Path))
	}
	if len(c.Compiler.Flags) > 0 {
		opts = append(opts, cc.WithFlags(c.Compiler.Flags...))
	}
	if c.Compiler.TimeoutSeconds > 0 {
		opts = append(opts, cc.WithTimeout(time.Duration(c.Compiler.TimeoutSeconds)*time.Second))
	}
	if c.Compiler.WorkDir != "" {
		opts = append(opts, cc.WithWorkDir(c.Compiler.WorkDir))
	}
	if c.Compiler.KeepFiles {
		opts = append(opts, cc.KeepFiles(true))
	}
	return opts
}

// NewHooks creates fresh hook instances. Every emulator needs its own.
func (c *Config) NewHooks(opts ...timer.Option) []hooks.Hook {
	var hs []hooks.Hook
	if t := c.Hooks.Timer; t != nil {
		topts := []timer.Option{timer.WithPeriod(t.Period)}
		if t.Field != "" {
			topts = append(topts, timer.WithField(t.Field))
		}
		hs = append(hs, timer.New(t.Line, append(topts, opts...)...))
	}
	l := c.Hooks.Limit
	if l.Instructions > 0 || l.Cycles > 0 || l.Blocks > 0 {
		hs = append(hs, &hooks.Limit{
			Instructions: l.Instructions,
			Cycles:       l.Cycles,
			Blocks:       l.Blocks,
		})
	}
	return hs
}
