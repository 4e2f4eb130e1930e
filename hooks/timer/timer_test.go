package timer_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/rafzi/etiss/hooks"
	"github.com/rafzi/etiss/hooks/timer"
	"github.com/rafzi/etiss/irq"
	"github.com/rafzi/etiss/regs"
	"github.com/rafzi/etiss/state"
)

type control struct {
	vector irq.Vector
}

func (c *control) RequestStop(string) {}

func (c *control) RaiseInterrupt(line int) error { return c.vector.SetPending(line, true) }

func (c *control) ClearInterrupt(line int) error { return c.vector.SetPending(line, false) }

var _ = Describe("Timer", func() {
	var (
		st    *state.State
		rs    *regs.Struct
		vec   *irq.MappedVector
		sched *hooks.Scheduler
		bus   *hooks.Bus
		env   hooks.Environment
		c     *control
	)

	// advance moves the cycle counter and runs the boundary hooks.
	advance := func(t *timer.Timer, cycles uint64) {
		Expect(st.Store(state.OffsetCycles, 8, st.Cycles()+cycles)).To(Succeed())
		b := hooks.Boundary{Header: st}
		sched.AtBoundary(b, c)
		t.AtBoundary(b, c)
	}

	BeforeEach(func() {
		st = state.New("test", 48)
		var err error
		rs, err = regs.New("cpu", st,
			regs.FromRef("tperiod", regs.ReadWrite, st.MustWord(32, 4)),
		)
		Expect(err).NotTo(HaveOccurred())
		vec, err = irq.Map(4, st.MustWord(36, 4), st.MustWord(40, 4))
		Expect(err).NotTo(HaveOccurred())

		sched = hooks.NewScheduler()
		bus = hooks.NewBus()
		rs.Observe(bus)
		env = hooks.Environment{Arch: "test", Registers: rs, Vector: vec, Scheduler: sched, Bus: bus}
		c = &control{vector: vec}

		sched.AtBoundary(hooks.Boundary{Header: st}, c)
	})

	It("should stay idle with a zero period", func() {
		t := timer.New(2)
		Expect(t.Attach(env)).To(Succeed())

		advance(t, 1000)

		Expect(t.Fired()).To(BeZero())
		Expect(sched.Len()).To(BeZero())
	})

	It("should raise its line every period", func() {
		Expect(rs.Write("tperiod", 100)).To(Succeed())
		t := timer.New(2)
		Expect(t.Attach(env)).To(Succeed())

		advance(t, 99)
		Expect(t.Fired()).To(BeZero())

		advance(t, 1)
		Expect(t.Fired()).To(Equal(uint64(1)))
		Expect(vec.Pending(2)).To(BeTrue())

		advance(t, 100)
		Expect(t.Fired()).To(Equal(uint64(2)))
	})

	It("should follow writes through the register layer", func() {
		t := timer.New(1)
		Expect(t.Attach(env)).To(Succeed())

		Expect(rs.Write("tperiod", 50)).To(Succeed())
		Expect(t.Period()).To(Equal(uint64(50)))

		advance(t, 50)
		Expect(t.Fired()).To(Equal(uint64(1)))

		Expect(rs.Write("tperiod", 0)).To(Succeed())
		advance(t, 500)
		Expect(t.Fired()).To(Equal(uint64(1)))
	})

	It("should pick up writes that bypass the register layer", func() {
		t := timer.New(1)
		Expect(t.Attach(env)).To(Succeed())

		Expect(st.Store(32, 4, 20)).To(Succeed())
		advance(t, 0)
		Expect(t.Period()).To(Equal(uint64(20)))

		advance(t, 20)
		Expect(t.Fired()).To(Equal(uint64(1)))
	})

	It("should use the fixed period without a field", func() {
		env.Registers = nil
		t := timer.New(0, timer.WithPeriod(10))
		Expect(t.Attach(env)).To(Succeed())

		advance(t, 30)

		Expect(t.Fired()).To(BeNumerically(">=", 1))
		Expect(vec.Pending(0)).To(BeTrue())
	})

	It("should seed an empty field with the initial period", func() {
		t := timer.New(0, timer.WithPeriod(25))
		Expect(t.Attach(env)).To(Succeed())

		Expect(rs.Read("tperiod")).To(Equal(uint64(25)))
		Expect(t.Period()).To(Equal(uint64(25)))
	})

	It("should prefer a period already in the field", func() {
		Expect(rs.Write("tperiod", 40)).To(Succeed())
		t := timer.New(0, timer.WithPeriod(25))
		Expect(t.Attach(env)).To(Succeed())

		Expect(t.Period()).To(Equal(uint64(40)))
	})

	It("should reject a line outside the vector", func() {
		Expect(timer.New(9).Attach(env)).To(MatchError(ContainSubstring("outside")))
	})

	It("should reject architectures without interrupts", func() {
		env.Vector = nil
		Expect(timer.New(0).Attach(env)).To(HaveOccurred())
	})

	It("should stop on detach", func() {
		Expect(rs.Write("tperiod", 10)).To(Succeed())
		t := timer.New(0)
		Expect(t.Attach(env)).To(Succeed())

		t.Detach()
		Expect(rs.Write("tperiod", 20)).To(Succeed())
		advance(t, 100)

		Expect(sched.Len()).To(BeZero())
	})
})
