// Package latency provides the cycle cost model used when translating
// blocks.
//
// Every instruction definition carries a tag. The table maps tags to the
// number of cycles one execution of such an instruction accounts for.
// Costs are folded into generated code, so changing the table changes the
// generated source; Fingerprint lets caches notice.
package latency

import (
	"hash/fnv"
	"sort"
	"strconv"
)

// Instruction tags understood by the default configuration.
const (
	TagALU      = "alu"
	TagBranch   = "branch"
	TagLoad     = "load"
	TagStore    = "store"
	TagMultiply = "mul"
	TagDivide   = "div"
	TagSystem   = "system"
)

// Table provides instruction latency lookups.
type Table struct {
	config *TimingConfig
	costs  map[string]uint64
}

// NewTable creates a new latency table with default timing values.
func NewTable() *Table {
	return NewTableWithConfig(DefaultTimingConfig())
}

// NewTableWithConfig creates a new latency table with custom timing
// configuration. The configuration is copied.
func NewTableWithConfig(config *TimingConfig) *Table {
	c := config.Clone()
	t := &Table{
		config: c,
		costs: map[string]uint64{
			TagALU:      c.ALULatency,
			TagBranch:   c.BranchLatency,
			TagLoad:     c.LoadLatency,
			TagStore:    c.StoreLatency,
			TagMultiply: c.MultiplyLatency,
			TagDivide:   c.DivideLatency,
			TagSystem:   c.SystemLatency,
		},
	}
	for tag, cost := range c.Overrides {
		t.costs[tag] = cost
	}
	return t
}

// Cost returns the cycles accounted for one instruction with the given tag.
// Unknown and empty tags cost DefaultLatency.
func (t *Table) Cost(tag string) uint64 {
	if cost, ok := t.costs[tag]; ok {
		return cost
	}
	return t.config.DefaultLatency
}

// Tags lists the known tags in lexical order.
func (t *Table) Tags() []string {
	tags := make([]string, 0, len(t.costs))
	for tag := range t.costs {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Fingerprint identifies the cost assignment. Tables with the same costs
// have the same fingerprint.
func (t *Table) Fingerprint() uint64 {
	h := fnv.New64a()
	for _, tag := range t.Tags() {
		_, _ = h.Write([]byte(tag))
		_, _ = h.Write([]byte{'='})
		_, _ = h.Write([]byte(strconv.FormatUint(t.costs[tag], 10)))
		_, _ = h.Write([]byte{';'})
	}
	_, _ = h.Write([]byte(strconv.FormatUint(t.config.DefaultLatency, 10)))
	return h.Sum64()
}

// Config returns the current timing configuration.
func (t *Table) Config() *TimingConfig {
	return t.config
}
