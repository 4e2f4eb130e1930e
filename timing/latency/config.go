package latency

import (
	"encoding/json"
	"fmt"
	"os"
)

// TimingConfig holds per-tag cycle costs.
type TimingConfig struct {
	// DefaultLatency is charged for instructions without a known tag.
	// Default: 1 cycle.
	DefaultLatency uint64 `json:"default_latency" yaml:"default_latency"`

	// ALULatency covers arithmetic and logic operations. Default: 1 cycle.
	ALULatency uint64 `json:"alu_latency" yaml:"alu_latency"`

	// BranchLatency covers jumps and branches. Default: 2 cycles.
	BranchLatency uint64 `json:"branch_latency" yaml:"branch_latency"`

	// LoadLatency covers loads. Default: 3 cycles.
	LoadLatency uint64 `json:"load_latency" yaml:"load_latency"`

	// StoreLatency covers stores. Default: 1 cycle.
	StoreLatency uint64 `json:"store_latency" yaml:"store_latency"`

	// MultiplyLatency covers integer multiplication. Default: 3 cycles.
	MultiplyLatency uint64 `json:"multiply_latency" yaml:"multiply_latency"`

	// DivideLatency covers integer division. Default: 12 cycles.
	DivideLatency uint64 `json:"divide_latency" yaml:"divide_latency"`

	// SystemLatency covers traps, CSR access and similar. Default: 4 cycles.
	SystemLatency uint64 `json:"system_latency" yaml:"system_latency"`

	// Overrides assigns costs to arbitrary tags, replacing the values above
	// for the same tag.
	Overrides map[string]uint64 `json:"overrides,omitempty" yaml:"overrides,omitempty"`
}

// DefaultTimingConfig returns a TimingConfig with default values.
func DefaultTimingConfig() *TimingConfig {
	return &TimingConfig{
		DefaultLatency:  1,
		ALULatency:      1,
		BranchLatency:   2,
		LoadLatency:     3,
		StoreLatency:    1,
		MultiplyLatency: 3,
		DivideLatency:   12,
		SystemLatency:   4,
	}
}

// LoadConfig loads a TimingConfig from a JSON file.
func LoadConfig(path string) (*TimingConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read timing config file: %w", err)
	}

	config := DefaultTimingConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse timing config: %w", err)
	}

	return config, nil
}

// SaveConfig writes a TimingConfig to a JSON file.
func (c *TimingConfig) SaveConfig(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize timing config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write timing config file: %w", err)
	}

	return nil
}

// Validate checks that all latency values are valid (> 0).
func (c *TimingConfig) Validate() error {
	if c.DefaultLatency == 0 {
		return fmt.Errorf("default_latency must be > 0")
	}
	if c.ALULatency == 0 {
		return fmt.Errorf("alu_latency must be > 0")
	}
	if c.BranchLatency == 0 {
		return fmt.Errorf("branch_latency must be > 0")
	}
	if c.LoadLatency == 0 {
		return fmt.Errorf("load_latency must be > 0")
	}
	if c.StoreLatency == 0 {
		return fmt.Errorf("store_latency must be > 0")
	}
	if c.MultiplyLatency == 0 {
		return fmt.Errorf("multiply_latency must be > 0")
	}
	if c.DivideLatency == 0 {
		return fmt.Errorf("divide_latency must be > 0")
	}
	if c.SystemLatency == 0 {
		return fmt.Errorf("system_latency must be > 0")
	}
	for tag, cost := range c.Overrides {
		if tag == "" {
			return fmt.Errorf("override with empty tag")
		}
		if cost == 0 {
			return fmt.Errorf("override %q must be > 0", tag)
		}
	}
	return nil
}

// Clone returns a deep copy of the TimingConfig.
func (c *TimingConfig) Clone() *TimingConfig {
	clone := *c
	if c.Overrides != nil {
		clone.Overrides = make(map[string]uint64, len(c.Overrides))
		for tag, cost := range c.Overrides {
			clone.Overrides[tag] = cost
		}
	}
	return &clone
}
