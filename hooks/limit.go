package hooks

import "fmt"

// Limit stops the run once either budget is used up. Zero disables a
// budget.
type Limit struct {
	Instructions uint64
	Cycles       uint64
	Blocks       uint64
}

// Name returns "limit".
func (l *Limit) Name() string { return "limit" }

// AtBoundary requests a stop when a budget is exhausted.
func (l *Limit) AtBoundary(b Boundary, c Control) {
	switch {
	case l.Instructions > 0 && b.Header.Instret() >= l.Instructions:
		c.RequestStop(fmt.Sprintf("instruction limit %d reached", l.Instructions))
	case l.Cycles > 0 && b.Header.Cycles() >= l.Cycles:
		c.RequestStop(fmt.Sprintf("cycle limit %d reached", l.Cycles))
	case l.Blocks > 0 && b.Blocks >= l.Blocks:
		c.RequestStop(fmt.Sprintf("block limit %d reached", l.Blocks))
	}
}
