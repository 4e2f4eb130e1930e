// Package timer is a periodic interrupt source. The period is read from a
// register field, so guests and debuggers reprogram the timer by writing
// that field.
package timer

import (
	"errors"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/rafzi/etiss/hooks"
	"github.com/rafzi/etiss/regs"
)

// DefaultField is the register field that holds the period in cycles.
const DefaultField = "tperiod"

// Timer raises one interrupt line every period cycles. A period of zero
// stops it.
//
// Field writes reconfigure the timer synchronously, so they must come from
// the goroutine that drives the emulator or happen while it is paused.
type Timer struct {
	line      int
	fieldName string
	fixed     uint64
	log       logr.Logger

	field  *regs.Field
	sched  *hooks.Scheduler
	cancel func()

	period uint64
	event  hooks.EventID
	armed  bool
	fired  uint64
}

// Option configures a Timer.
type Option func(*Timer)

// WithField reads the period from the named field.
func WithField(name string) Option {
	return func(t *Timer) {
		t.fieldName = name
	}
}

// WithPeriod sets the initial period. With a matching field it is written
// to the field when the field still reads zero.
func WithPeriod(cycles uint64) Option {
	return func(t *Timer) {
		t.fixed = cycles
	}
}

// WithLogger sets the logger.
func WithLogger(log logr.Logger) Option {
	return func(t *Timer) {
		t.log = log
	}
}

// New creates a timer on line.
func New(line int, opts ...Option) *Timer {
	t := &Timer{
		line:      line,
		fieldName: DefaultField,
		log:       logr.Discard(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Name returns "timer".
func (t *Timer) Name() string { return "timer" }

// Period returns the current period.
func (t *Timer) Period() uint64 { return t.period }

// Fired returns how often the timer raised its line.
func (t *Timer) Fired() uint64 { return t.fired }

// Attach binds the timer to its field and scheduler.
func (t *Timer) Attach(env hooks.Environment) error {
	if env.Scheduler == nil {
		return errors.New("timer: no scheduler")
	}
	if env.Vector == nil {
		return fmt.Errorf("timer: architecture %s has no interrupt vector", env.Arch)
	}
	if t.line < 0 || t.line >= env.Vector.Lines() {
		return fmt.Errorf("timer: line %d outside of %d lines", t.line, env.Vector.Lines())
	}
	t.sched = env.Scheduler

	period := t.fixed
	if env.Registers != nil {
		if f, err := env.Registers.Field(t.fieldName); err == nil {
			t.field = f
			if period, err = f.Read(); err != nil {
				return fmt.Errorf("timer: %w", err)
			}
			if period == 0 && t.fixed > 0 {
				if err := f.Write(t.fixed); err != nil {
					return fmt.Errorf("timer: %w", err)
				}
				period = t.fixed
			}
		}
	}
	if t.field != nil && env.Bus != nil {
		t.cancel = env.Bus.Subscribe(t.fieldName, func(ch hooks.Change) {
			t.reconfigure(ch.New)
		})
	}

	t.reconfigure(period)
	return nil
}

// AtBoundary picks up period changes that bypassed the register layer,
// such as guest code writing the state directly.
func (t *Timer) AtBoundary(_ hooks.Boundary, _ hooks.Control) {
	if t.field == nil {
		return
	}
	v, err := t.field.Read()
	if err != nil || v == t.period {
		return
	}
	t.reconfigure(v)
}

// Detach cancels the pending tick and the field subscription.
func (t *Timer) Detach() {
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	t.field = nil
	t.disarm()
}

func (t *Timer) reconfigure(period uint64) {
	t.disarm()
	t.period = period
	t.log.V(1).Info("timer reconfigured", "line", t.line, "period", period)
	if period > 0 && t.sched != nil {
		t.arm()
	}
}

func (t *Timer) arm() {
	t.event = t.sched.Add(t.period, t.fire)
	t.armed = true
}

func (t *Timer) disarm() {
	if t.armed {
		t.sched.Cancel(t.event)
		t.armed = false
	}
}

func (t *Timer) fire(c hooks.Control) {
	t.armed = false
	t.fired++
	if err := c.RaiseInterrupt(t.line); err != nil {
		t.log.Error(err, "failed to raise timer interrupt", "line", t.line)
	}
	if t.period > 0 {
		t.arm()
	}
}
