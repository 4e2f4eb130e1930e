package config_test

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/rafzi/etiss/blockcache"
	"github.com/rafzi/etiss/config"
	"github.com/rafzi/etiss/hooks"
	"github.com/rafzi/etiss/hooks/timer"
	"github.com/rafzi/etiss/timing/latency"
)

var _ = Describe("Config", func() {
	var dir string

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
	})

	Describe("Default", func() {
		It("should be valid", func() {
			c := config.Default()

			Expect(c.Validate()).To(Succeed())
			Expect(c.Architecture).To(Equal("mini32"))
			Expect(c.Backend).To(Equal("interp"))
			Expect(c.Cache).To(Equal(blockcache.DefaultConfig()))
			Expect(c.Compiler.TimeoutSeconds).To(Equal(60))
			Expect(c.Timing).To(Equal(*latency.DefaultTimingConfig()))
		})
	})

	DescribeTable("round trips",
		func(name string) {
			c := config.Default()
			c.Backend = "cc"
			c.Plugins = []string{"/opt/etiss/rv32.so"}
			start := uint64(0x80)
			c.StartAddress = &start
			c.Compiler.Flags = []string{"-O2"}
			c.Block.MaxInstructions = 8
			c.Cache = blockcache.Config{Sets: 16, Associativity: 2}
			c.Hooks.Timer = &config.TimerConfig{Line: 1, Period: 500}
			c.Hooks.Limit.Instructions = 1000
			c.Timing.Overrides = map[string]uint64{"fpu": 7}
			path := filepath.Join(dir, name)

			Expect(c.Save(path)).To(Succeed())
			loaded, err := config.Load(path)

			Expect(err).NotTo(HaveOccurred())
			Expect(loaded).To(BeComparableTo(c))
		},
		Entry("JSON", "etiss.json"),
		Entry("YAML", "etiss.yaml"),
		Entry("YML", "etiss.yml"),
	)

	It("should keep defaults for missing YAML settings", func() {
		path := filepath.Join(dir, "partial.yaml")
		Expect(os.WriteFile(path, []byte("backend: cc\nblock:\n  max_instructions: 4\ntiming:\n  divide_latency: 30\n"), 0644)).To(Succeed())

		c, err := config.Load(path)

		Expect(err).NotTo(HaveOccurred())
		Expect(c.Backend).To(Equal("cc"))
		Expect(c.Architecture).To(Equal("mini32"))
		Expect(c.Block.MaxInstructions).To(Equal(4))
		Expect(c.Block.MaxBytes).To(Equal(config.Default().Block.MaxBytes))
		Expect(c.Timing.DivideLatency).To(Equal(uint64(30)))
		Expect(c.Timing.ALULatency).To(Equal(uint64(1)))
	})

	It("should keep defaults for missing JSON settings", func() {
		path := filepath.Join(dir, "partial.json")
		Expect(os.WriteFile(path, []byte(`{"cache": {"sets": 8, "associativity": 1}}`), 0644)).To(Succeed())

		c, err := config.Load(path)

		Expect(err).NotTo(HaveOccurred())
		Expect(c.Cache).To(Equal(blockcache.Config{Sets: 8, Associativity: 1}))
		Expect(c.Backend).To(Equal("interp"))
	})

	It("should reject unknown extensions", func() {
		_, err := config.Load(filepath.Join(dir, "etiss.toml"))
		Expect(err).To(MatchError(ContainSubstring("unknown config format")))

		Expect(config.Default().Save(filepath.Join(dir, "etiss"))).To(MatchError(ContainSubstring("unknown config format")))
	})

	It("should report missing files and bad syntax", func() {
		_, err := config.Load(filepath.Join(dir, "missing.json"))
		Expect(err).To(MatchError(ContainSubstring("failed to read config file")))

		path := filepath.Join(dir, "bad.json")
		Expect(os.WriteFile(path, []byte("{"), 0644)).To(Succeed())
		_, err = config.Load(path)
		Expect(err).To(MatchError(ContainSubstring("failed to parse config")))
	})

	DescribeTable("validation",
		func(mutate func(*config.Config), msg string) {
			c := config.Default()
			mutate(c)
			Expect(c.Validate()).To(MatchError(ContainSubstring(msg)))
		},
		Entry("architecture", func(c *config.Config) { c.Architecture = "" }, "architecture must be set"),
		Entry("backend", func(c *config.Config) { c.Backend = "" }, "backend must be set"),
		Entry("timeout", func(c *config.Config) { c.Compiler.TimeoutSeconds = -1 }, "timeout_seconds"),
		Entry("instructions", func(c *config.Config) { c.Block.MaxInstructions = -1 }, "max_instructions"),
		Entry("bytes", func(c *config.Config) { c.Block.MaxBytes = -1 }, "max_bytes"),
		Entry("cache", func(c *config.Config) { c.Cache.Sets = 0 }, "cache: sets must be positive"),
		Entry("timer", func(c *config.Config) { c.Hooks.Timer = &config.TimerConfig{Line: -1} }, "timer line"),
		Entry("timing", func(c *config.Config) { c.Timing.LoadLatency = 0 }, "timing: load_latency"),
	)

	It("should clone deeply", func() {
		c := config.Default()
		c.Plugins = []string{"a.so"}
		c.Hooks.Timer = &config.TimerConfig{Line: 2}
		c.Timing.Overrides = map[string]uint64{"x": 1}

		clone := c.Clone()
		clone.Plugins[0] = "b.so"
		clone.Hooks.Timer.Line = 3
		clone.Timing.Overrides["x"] = 2

		Expect(c.Plugins[0]).To(Equal("a.so"))
		Expect(c.Hooks.Timer.Line).To(Equal(2))
		Expect(c.Timing.Overrides["x"]).To(Equal(uint64(1)))
	})

	It("should build the cost table", func() {
		c := config.Default()
		c.Timing.DivideLatency = 40

		Expect(c.CostTable().Cost(latency.TagDivide)).To(Equal(uint64(40)))
	})

	It("should build backend options", func() {
		c := config.Default()
		c.Compiler.HeaderPaths = []string{"/usr/include/etiss"}
		c.Compiler.Debug = true
		c.Compiler.Path = "clang"
		c.Compiler.KeepFiles = true

		opts := c.JITOptions()

		Expect(opts.HeaderPaths).To(Equal([]string{"/usr/include/etiss"}))
		Expect(opts.Debug).To(BeTrue())
		Expect(c.CompilerOptions()).To(HaveLen(3))
		Expect(time.Duration(c.Compiler.TimeoutSeconds) * time.Second).To(Equal(time.Minute))
	})

	Describe("NewHooks", func() {
		It("should build nothing by default", func() {
			Expect(config.Default().NewHooks()).To(BeEmpty())
		})

		It("should build a timer and a limit", func() {
			c := config.Default()
			c.Hooks.Timer = &config.TimerConfig{Line: 1, Period: 100}
			c.Hooks.Limit.Blocks = 10

			hs := c.NewHooks()

			Expect(hs).To(HaveLen(2))
			Expect(hs[0]).To(BeAssignableToTypeOf(&timer.Timer{}))
			Expect(hs[1]).To(Equal(hooks.Hook(&hooks.Limit{Blocks: 10})))

			again := c.NewHooks()
			Expect(again[0]).NotTo(BeIdenticalTo(hs[0]))
		})
	})
})
