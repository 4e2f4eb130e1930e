package builtin_test

import (
	"github.com/go-logr/logr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/rafzi/etiss/arch/mini"
	"github.com/rafzi/etiss/jit/interp"
	"github.com/rafzi/etiss/plugin/builtin"
)

var _ = Describe("Builtin", func() {
	It("should provide both mini32 variants", func() {
		r := builtin.Architectures(logr.Discard())

		Expect(r.Names()).To(ConsistOf("mini32", "mini32-nocompressed"))

		a, release, err := r.Create("mini32-nocompressed")
		Expect(err).NotTo(HaveOccurred())
		defer release()
		Expect(a.Name()).To(Equal(mini.Name))
		Expect(a.(*mini.Arch).Compressed()).To(BeFalse())
	})

	It("should always provide the interpreter", func() {
		r := builtin.Backends(logr.Discard())

		Expect(r.Names()).To(ContainElement(interp.Name))
		b, release, err := r.Create(interp.Name)
		Expect(err).NotTo(HaveOccurred())
		defer release()
		Expect(b.Name()).To(Equal(interp.Name))
		Expect(r.Libraries()).To(Equal([]string{builtin.Library}))
	})
})
