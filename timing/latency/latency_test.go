package latency_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/rafzi/etiss/timing/latency"
)

var _ = Describe("Latency", func() {
	var table *latency.Table

	BeforeEach(func() {
		table = latency.NewTable()
	})

	DescribeTable("Default costs",
		func(tag string, want uint64) {
			Expect(table.Cost(tag)).To(Equal(want))
		},
		Entry("alu", latency.TagALU, uint64(1)),
		Entry("branch", latency.TagBranch, uint64(2)),
		Entry("load", latency.TagLoad, uint64(3)),
		Entry("store", latency.TagStore, uint64(1)),
		Entry("multiply", latency.TagMultiply, uint64(3)),
		Entry("divide", latency.TagDivide, uint64(12)),
		Entry("system", latency.TagSystem, uint64(4)),
		Entry("untagged", "", uint64(1)),
		Entry("unknown", "fpu", uint64(1)),
	)

	Describe("Custom Configuration", func() {
		It("should use custom config values and overrides", func() {
			config := latency.DefaultTimingConfig()
			config.LoadLatency = 7
			config.DefaultLatency = 2
			config.Overrides = map[string]uint64{"fpu": 5, latency.TagALU: 9}

			t := latency.NewTableWithConfig(config)

			Expect(t.Cost(latency.TagLoad)).To(Equal(uint64(7)))
			Expect(t.Cost("fpu")).To(Equal(uint64(5)))
			Expect(t.Cost(latency.TagALU)).To(Equal(uint64(9)))
			Expect(t.Cost("other")).To(Equal(uint64(2)))
		})

		It("should not see later changes to the config", func() {
			config := latency.DefaultTimingConfig()
			t := latency.NewTableWithConfig(config)
			config.ALULatency = 50

			Expect(t.Cost(latency.TagALU)).To(Equal(uint64(1)))
		})
	})

	Describe("Fingerprint", func() {
		It("should be equal for equal costs", func() {
			Expect(latency.NewTable().Fingerprint()).To(Equal(table.Fingerprint()))
		})

		It("should change with any cost", func() {
			config := latency.DefaultTimingConfig()
			config.StoreLatency = 2

			Expect(latency.NewTableWithConfig(config).Fingerprint()).NotTo(Equal(table.Fingerprint()))
		})
	})
})

var _ = Describe("TimingConfig", func() {
	Describe("Default Config", func() {
		It("should create valid default config", func() {
			config := latency.DefaultTimingConfig()
			Expect(config.Validate()).To(Succeed())
		})
	})

	Describe("Validation", func() {
		It("should reject zero ALU latency", func() {
			config := latency.DefaultTimingConfig()
			config.ALULatency = 0
			Expect(config.Validate()).To(HaveOccurred())
		})

		It("should reject zero divide latency", func() {
			config := latency.DefaultTimingConfig()
			config.DivideLatency = 0
			Expect(config.Validate()).To(HaveOccurred())
		})

		It("should reject zero overrides", func() {
			config := latency.DefaultTimingConfig()
			config.Overrides = map[string]uint64{"x": 0}
			Expect(config.Validate()).To(HaveOccurred())
		})
	})

	Describe("Clone", func() {
		It("should create independent copy", func() {
			original := latency.DefaultTimingConfig()
			original.Overrides = map[string]uint64{"x": 1}
			clone := original.Clone()

			clone.ALULatency = 100
			clone.Overrides["x"] = 2

			Expect(original.ALULatency).To(Equal(uint64(1)))
			Expect(original.Overrides["x"]).To(Equal(uint64(1)))
			Expect(clone.ALULatency).To(Equal(uint64(100)))
		})
	})

	Describe("File Operations", func() {
		var tempDir string

		BeforeEach(func() {
			var err error
			tempDir, err = os.MkdirTemp("", "latency-test")
			Expect(err).NotTo(HaveOccurred())
		})

		AfterEach(func() {
			_ = os.RemoveAll(tempDir)
		})

		It("should save and load config", func() {
			original := latency.DefaultTimingConfig()
			original.ALULatency = 5
			original.LoadLatency = 10

			path := filepath.Join(tempDir, "timing.json")
			Expect(original.SaveConfig(path)).To(Succeed())

			loaded, err := latency.LoadConfig(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(loaded).To(BeComparableTo(original))
		})

		It("should return error for non-existent file", func() {
			_, err := latency.LoadConfig("/nonexistent/path/timing.json")
			Expect(err).To(HaveOccurred())
		})

		It("should return error for invalid JSON", func() {
			path := filepath.Join(tempDir, "invalid.json")
			err := os.WriteFile(path, []byte("not valid json"), 0644)
			Expect(err).NotTo(HaveOccurred())

			_, err = latency.LoadConfig(path)
			Expect(err).To(HaveOccurred())
		})
	})
})
