package plugin_test

import (
	"errors"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/rafzi/etiss/arch"
	"github.com/rafzi/etiss/jit"
	"github.com/rafzi/etiss/plugin"
)

type widget struct {
	name      string
	destroyed bool
}

func widgets(version string, names ...string) *plugin.Static[*widget] {
	lib := plugin.NewStatic[*widget](version, func(w *widget) { w.destroyed = true })
	for _, n := range names {
		lib.Add(n, func() (*widget, error) { return &widget{name: n}, nil })
	}
	return lib
}

var _ = Describe("CheckVersion", func() {
	DescribeTable("compatibility with host 1.2.0",
		func(lib string, ok bool) {
			err := plugin.CheckVersion("lib", "1.2.0", lib)
			if ok {
				Expect(err).NotTo(HaveOccurred())
				return
			}
			var ve *plugin.VersionError
			Expect(errors.As(err, &ve)).To(BeTrue())
			Expect(ve.Library).To(Equal("lib"))
			Expect(ve.Version).To(Equal(lib))
		},
		Entry("same version", "1.2.0", true),
		Entry("older minor", "1.0.0", true),
		Entry("older patch level", "1.1.7", true),
		Entry("newer minor", "1.3.0", false),
		Entry("newer patch", "1.2.1", false),
		Entry("older major", "0.9.0", false),
		Entry("newer major", "2.0.0", false),
		Entry("garbage", "one", false),
	)

	It("should reject an invalid host version", func() {
		err := plugin.CheckVersion("lib", "latest", "1.0.0")

		Expect(err).To(MatchError(ContainSubstring("invalid host version")))
	})
})

var _ = Describe("Static", func() {
	It("should list names in insertion order", func() {
		lib := widgets("1.0.0", "b", "a")

		Expect(lib.Count()).To(Equal(2))
		Expect(lib.Name(0)).To(Equal("b"))
		Expect(lib.Name(1)).To(Equal("a"))
		Expect(lib.Name(2)).To(BeEmpty())
		Expect(lib.Name(-1)).To(BeEmpty())
	})

	It("should fail for unknown names", func() {
		_, err := widgets("1.0.0", "a").Create("z")

		Expect(err).To(MatchError(plugin.ErrUnknown))
	})
})

var _ = Describe("Registry", func() {
	var r *plugin.Registry[*widget]

	BeforeEach(func() {
		r = plugin.NewRegistry[*widget]("widget", "1.2.0")
	})

	It("should create components of compatible libraries", func() {
		Expect(r.Add("shapes", widgets("1.1.0", "square", "circle"))).To(Succeed())

		w, release, err := r.Create("circle")

		Expect(err).NotTo(HaveOccurred())
		Expect(w.name).To(Equal("circle"))
		Expect(r.Names()).To(Equal([]string{"circle", "square"}))
		Expect(r.Libraries()).To(Equal([]string{"shapes"}))
		Expect(r.Kind()).To(Equal("widget"))

		release()
		release()
		Expect(w.destroyed).To(BeTrue())
	})

	It("should ignore incompatible libraries", func() {
		err := r.Add("future", widgets("1.9.0", "hexagon"))

		var ve *plugin.VersionError
		Expect(errors.As(err, &ve)).To(BeTrue())
		Expect(r.Names()).To(BeEmpty())
		Expect(r.Libraries()).To(BeEmpty())

		_, _, err = r.Create("hexagon")
		Expect(err).To(MatchError(plugin.ErrUnknown))
	})

	It("should keep the first provider of a name", func() {
		Expect(r.Add("first", widgets("1.0.0", "square"))).To(Succeed())
		Expect(r.Add("second", widgets("1.2.0", "square", "star"))).To(Succeed())

		provider, ok := r.Provider("square")
		Expect(ok).To(BeTrue())
		Expect(provider).To(Equal("first"))
		provider, _ = r.Provider("star")
		Expect(provider).To(Equal("second"))
	})

	It("should refuse a library name twice", func() {
		Expect(r.Add("shapes", widgets("1.0.0", "square"))).To(Succeed())

		Expect(r.Add("shapes", widgets("1.0.0", "circle"))).To(MatchError(ContainSubstring("already registered")))
	})

	It("should wrap constructor failures", func() {
		lib := plugin.NewStatic[*widget]("1.0.0", nil).Add("broken", func() (*widget, error) {
			return nil, errors.New("out of glue")
		})
		Expect(r.Add("bad", lib)).To(Succeed())

		_, _, err := r.Create("broken")

		Expect(err).To(MatchError(ContainSubstring("out of glue")))
		Expect(err).To(MatchError(ContainSubstring("from bad")))
	})
})

var _ = Describe("Open", func() {
	It("should report files that are not plugins", func() {
		archs := plugin.NewRegistry[arch.Architecture]("architecture", arch.InterfaceVersion)
		backends := plugin.NewRegistry[jit.Backend]("backend", jit.InterfaceVersion)

		err := plugin.Open(filepath.Join(GinkgoT().TempDir(), "missing.so"), archs, backends)

		Expect(err).To(MatchError(ContainSubstring("failed to open plugin")))
	})
})
