package blockcache_test

import (
	"errors"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/rafzi/etiss/arch/mini"
	"github.com/rafzi/etiss/blockcache"
	"github.com/rafzi/etiss/jit"
	"github.com/rafzi/etiss/mem"
	"github.com/rafzi/etiss/translate"
)

var _ = Describe("Config", func() {
	It("should default to 256 sets of 4 ways", func() {
		Expect(blockcache.DefaultConfig()).To(Equal(blockcache.Config{Sets: 256, Associativity: 4}))
		Expect(blockcache.DefaultConfig().Validate()).To(Succeed())
	})

	DescribeTable("rejecting bad geometry",
		func(c blockcache.Config) {
			Expect(c.Validate()).NotTo(Succeed())
			_, err := blockcache.New(translate.New(mini.New()), newCountingBackend(), blockcache.WithConfig(c))
			Expect(err).To(MatchError(ContainSubstring("invalid block cache config")))
		},
		Entry("no sets", blockcache.Config{Sets: 0, Associativity: 4}),
		Entry("no ways", blockcache.Config{Sets: 4, Associativity: 0}),
		Entry("negative", blockcache.Config{Sets: -1, Associativity: -1}),
	)
})

var _ = Describe("Cache", func() {
	var (
		memory  *mem.Memory
		backend *countingBackend
		cache   *blockcache.Cache
	)

	// Four single instruction blocks at PCs 0, 2, 4 and 6.
	program := func() []byte {
		return new(mini.Program).Emit(mini.Halt(), mini.Halt(), mini.Halt(), mini.Halt()).Bytes()
	}

	newCache := func(opts ...blockcache.Option) {
		var err error
		cache, err = blockcache.New(translate.New(mini.New()), backend, opts...)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(cache.Close)
	}

	BeforeEach(func() {
		memory = mem.New()
		memory.LoadProgram(0, program())
		backend = newCountingBackend()
	})

	It("should compile on a miss and hit afterwards", func() {
		newCache()

		first, err := cache.Get(memory, 0, 0)
		Expect(err).NotTo(HaveOccurred())
		first.Unpin()
		second, err := cache.Get(memory, 0, 0)
		Expect(err).NotTo(HaveOccurred())
		second.Unpin()

		Expect(second).To(BeIdenticalTo(first))
		Expect(cache.Stats()).To(Equal(blockcache.Statistics{
			Lookups:  2,
			Hits:     1,
			Misses:   1,
			Compiles: 1,
		}))
		Expect(cache.Len()).To(Equal(1))
		Expect(first.Block.PC).To(BeZero())
	})

	It("should call the miss handler on misses only", func() {
		var misses []uint64
		newCache(blockcache.WithMissHandler(func(pc uint64, _ uint32) { misses = append(misses, pc) }))

		for _, pc := range []uint64{0, 2, 0, 2, 0} {
			e, err := cache.Get(memory, pc, 0)
			Expect(err).NotTo(HaveOccurred())
			e.Unpin()
		}

		Expect(misses).To(Equal([]uint64{0, 2}))
		Expect(cache.Stats().Hits).To(Equal(uint64(3)))
	})

	It("should run the compiled block", func() {
		newCache()
		e, err := cache.Get(memory, 2, 0)
		Expect(err).NotTo(HaveOccurred())
		defer e.Unpin()

		a := mini.New()
		s := a.NewState()
		defer s.Release()
		pc := uint64(2)
		a.Reset(s, &pc)

		Expect(e.Func(s)).To(Equal(mini.CodeHalt))
		Expect(s.Instret()).To(Equal(uint64(1)))
	})

	It("should compile a key once under concurrent lookups", func() {
		newCache()

		var wg sync.WaitGroup
		entries := make([]*blockcache.Entry, 16)
		for i := range entries {
			wg.Add(1)
			go func(i int) {
				defer GinkgoRecover()
				defer wg.Done()
				e, err := cache.Get(memory, 4, 0)
				Expect(err).NotTo(HaveOccurred())
				entries[i] = e
			}(i)
		}
		wg.Wait()

		for _, e := range entries {
			Expect(e).To(BeIdenticalTo(entries[0]))
			e.Unpin()
		}
		Expect(backend.translations.Load()).To(Equal(int64(1)))
		Expect(cache.Stats().Compiles).To(Equal(uint64(1)))
		Expect(cache.Stats().Lookups).To(Equal(uint64(16)))
	})

	It("should keep modes apart", func() {
		newCache()

		a, err := cache.Get(memory, 0, 0)
		Expect(err).NotTo(HaveOccurred())
		a.Unpin()
		b, err := cache.Get(memory, 0, 1)
		Expect(err).NotTo(HaveOccurred())
		b.Unpin()

		Expect(b).NotTo(BeIdenticalTo(a))
		Expect(b.Block.Symbol).NotTo(Equal(a.Block.Symbol))
		Expect(cache.Stats().Compiles).To(Equal(uint64(2)))
	})

	It("should evict the least recently used block and release it", func() {
		newCache(blockcache.WithConfig(blockcache.Config{Sets: 1, Associativity: 2}))

		for _, pc := range []uint64{0, 2, 0, 4} {
			e, err := cache.Get(memory, pc, 0)
			Expect(err).NotTo(HaveOccurred())
			e.Unpin()
		}

		Expect(cache.Len()).To(Equal(2))
		Expect(cache.Stats().Evictions).To(Equal(uint64(1)))
		Expect(backend.releases.Load()).To(Equal(int64(1)))

		// 0 was used last before 4 arrived, so 2 went.
		e, err := cache.Get(memory, 0, 0)
		Expect(err).NotTo(HaveOccurred())
		e.Unpin()
		Expect(cache.Stats().Compiles).To(Equal(uint64(3)))
		e, err = cache.Get(memory, 2, 0)
		Expect(err).NotTo(HaveOccurred())
		e.Unpin()
		Expect(cache.Stats().Compiles).To(Equal(uint64(4)))
	})

	It("should keep evicted blocks alive while pinned", func() {
		newCache(blockcache.WithConfig(blockcache.Config{Sets: 1, Associativity: 1}))

		pinned, err := cache.Get(memory, 0, 0)
		Expect(err).NotTo(HaveOccurred())
		other, err := cache.Get(memory, 2, 0)
		Expect(err).NotTo(HaveOccurred())
		other.Unpin()

		Expect(cache.Stats().Evictions).To(Equal(uint64(1)))
		Expect(backend.releases.Load()).To(BeZero())

		a := mini.New()
		s := a.NewState()
		defer s.Release()
		Expect(pinned.Func(s)).To(Equal(mini.CodeHalt))

		pinned.Unpin()
		Expect(backend.releases.Load()).To(Equal(int64(1)))
		pinned.Unpin()
		Expect(backend.releases.Load()).To(Equal(int64(1)))
	})

	It("should drop invalidated blocks", func() {
		newCache()
		for _, mode := range []uint32{0, 1} {
			e, err := cache.Get(memory, 0, mode)
			Expect(err).NotTo(HaveOccurred())
			e.Unpin()
		}

		cache.Invalidate(0, 0)

		Expect(cache.Len()).To(Equal(1))
		Expect(backend.releases.Load()).To(Equal(int64(1)))
		e, err := cache.Get(memory, 0, 0)
		Expect(err).NotTo(HaveOccurred())
		e.Unpin()
		Expect(cache.Stats().Compiles).To(Equal(uint64(3)))
	})

	It("should count failed compiles and cache nothing", func() {
		newCache()
		backend.fail.Store(true)

		_, err := cache.Get(memory, 0, 0)

		var ce *jit.CompileError
		Expect(errors.As(err, &ce)).To(BeTrue())
		Expect(err).To(MatchError(ContainSubstring("failed to compile block at 0x0")))
		Expect(cache.Stats().Failures).To(Equal(uint64(1)))
		Expect(cache.Len()).To(BeZero())

		backend.fail.Store(false)
		e, err := cache.Get(memory, 0, 0)
		Expect(err).NotTo(HaveOccurred())
		e.Unpin()
	})

	It("should release everything on flush", func() {
		newCache()
		for _, pc := range []uint64{0, 2, 4, 6} {
			e, err := cache.Get(memory, pc, 0)
			Expect(err).NotTo(HaveOccurred())
			e.Unpin()
		}

		cache.Flush()

		Expect(cache.Len()).To(BeZero())
		Expect(backend.releases.Load()).To(Equal(int64(4)))
	})

	It("should reject lookups after close", func() {
		newCache()
		e, err := cache.Get(memory, 0, 0)
		Expect(err).NotTo(HaveOccurred())
		e.Unpin()

		cache.Close()

		_, err = cache.Get(memory, 0, 0)
		Expect(err).To(MatchError(blockcache.ErrClosed))
		Expect(backend.releases.Load()).To(Equal(backend.translations.Load()))
	})

	It("should use a new directory when the translation changes", func() {
		narrow := translate.New(mini.New(mini.WithCompressed(false)))
		wide := translate.New(mini.New())

		Expect(narrow.Version()).NotTo(Equal(wide.Version()))
	})
})
