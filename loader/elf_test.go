package loader_test

import (
	"debug/elf"
	"encoding/binary"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/rafzi/etiss/arch/mini"
	"github.com/rafzi/etiss/loader"
	"github.com/rafzi/etiss/mem"
)

var _ = Describe("ELF Loader", func() {
	var tempDir string

	BeforeEach(func() {
		tempDir = GinkgoT().TempDir()
	})

	code := new(mini.Program).Emit(mini.Addi(1, 0, 42), mini.Halt()).Bytes()

	Describe("Load", func() {
		Context("with a valid ELF64 binary", func() {
			var elfPath string

			BeforeEach(func() {
				elfPath = filepath.Join(tempDir, "test.elf")
				image{machine: elf.EM_RISCV, entry: 0x400080, segments: []segment{
					{flags: 0x5, vaddr: 0x400000, data: code},
				}}.write(elfPath)
			})

			It("should extract the entry point and machine", func() {
				prog, err := loader.Load(elfPath)
				Expect(err).NotTo(HaveOccurred())
				Expect(prog.EntryPoint).To(Equal(uint64(0x400080)))
				Expect(prog.Machine).To(Equal(elf.EM_RISCV))
				Expect(prog.ByteOrder).To(Equal(binary.LittleEndian))
			})

			It("should load segment contents and permissions", func() {
				prog, err := loader.Load(elfPath)
				Expect(err).NotTo(HaveOccurred())
				Expect(prog.Segments).To(HaveLen(1))
				seg := prog.Segments[0]
				Expect(seg.VirtAddr).To(Equal(uint64(0x400000)))
				Expect(seg.Data).To(Equal(code))
				Expect(seg.Flags).To(Equal(loader.SegmentFlagRead | loader.SegmentFlagExecute))
			})

			It("should accept the expected machine", func() {
				_, err := loader.Load(elfPath, loader.WithMachine(elf.EM_RISCV))
				Expect(err).NotTo(HaveOccurred())
			})

			It("should reject another machine when asked to", func() {
				_, err := loader.Load(elfPath, loader.WithMachine(elf.EM_X86_64))
				Expect(err).To(MatchError(ContainSubstring("ELF file is for machine EM_RISCV")))
			})
		})

		Context("with a big-endian ELF32 binary", func() {
			It("should load it", func() {
				elfPath := filepath.Join(tempDir, "be32.elf")
				image{
					class:   elf.ELFCLASS32,
					order:   binary.BigEndian,
					machine: elf.EM_PPC,
					entry:   0x1000,
					segments: []segment{
						{flags: 0x5, vaddr: 0x1000, data: []byte{1, 2, 3, 4}},
					},
				}.write(elfPath)

				prog, err := loader.Load(elfPath)

				Expect(err).NotTo(HaveOccurred())
				Expect(prog.Machine).To(Equal(elf.EM_PPC))
				Expect(prog.ByteOrder).To(Equal(binary.BigEndian))
				Expect(prog.EntryPoint).To(Equal(uint64(0x1000)))
				Expect(prog.Segments[0].Data).To(Equal([]byte{1, 2, 3, 4}))
			})
		})

		Context("with an invalid file", func() {
			It("should return error for non-existent file", func() {
				_, err := loader.Load("/nonexistent/path/to/file.elf")
				Expect(err).To(MatchError(ContainSubstring("failed to open")))
			})

			It("should return error for non-ELF file", func() {
				notElfPath := filepath.Join(tempDir, "not-elf.bin")
				Expect(os.WriteFile(notElfPath, []byte("not an elf file"), 0644)).To(Succeed())

				_, err := loader.Load(notElfPath)
				Expect(err).To(MatchError(ContainSubstring("ELF")))
			})

			It("should return error for empty file", func() {
				emptyPath := filepath.Join(tempDir, "empty.elf")
				Expect(os.WriteFile(emptyPath, []byte{}, 0644)).To(Succeed())

				_, err := loader.Load(emptyPath)
				Expect(err).To(HaveOccurred())
			})
		})
	})

	Describe("Multi-segment ELFs", func() {
		It("should load multiple PT_LOAD segments", func() {
			elfPath := filepath.Join(tempDir, "multi-segment.elf")
			data := []byte{0x01, 0x02, 0x03, 0x04}
			image{machine: elf.EM_NONE, entry: 0x400000, segments: []segment{
				{flags: 0x5, vaddr: 0x400000, data: code},
				{flags: 0x6, vaddr: 0x600000, data: data},
			}}.write(elfPath)

			prog, err := loader.Load(elfPath)
			Expect(err).NotTo(HaveOccurred())
			Expect(prog.Segments).To(HaveLen(2))

			Expect(prog.Segments[0].Data).To(Equal(code))
			Expect(prog.Segments[0].Flags & loader.SegmentFlagExecute).NotTo(BeZero())
			Expect(prog.Segments[1].Data).To(Equal(data))
			Expect(prog.Segments[1].Flags & loader.SegmentFlagWrite).NotTo(BeZero())
			Expect(prog.Size()).To(Equal(uint64(len(code) + len(data))))
		})
	})

	Describe("BSS segments", func() {
		It("should keep the memory size beyond the file data", func() {
			elfPath := filepath.Join(tempDir, "bss.elf")
			initial := []byte{0x01, 0x02, 0x03, 0x04}
			image{entry: 0x400000, segments: []segment{
				{flags: 0x6, vaddr: 0x600000, data: initial, memsz: 1024},
			}}.write(elfPath)

			prog, err := loader.Load(elfPath)
			Expect(err).NotTo(HaveOccurred())

			seg := prog.Segments[0]
			Expect(seg.Data).To(Equal(initial))
			Expect(seg.MemSize).To(Equal(uint64(1024)))
		})

		It("should handle segments with zero file size", func() {
			elfPath := filepath.Join(tempDir, "zero-filesz.elf")
			image{entry: 0x400000, segments: []segment{
				{flags: 0x6, vaddr: 0x700000, memsz: 4096},
			}}.write(elfPath)

			prog, err := loader.Load(elfPath)
			Expect(err).NotTo(HaveOccurred())
			Expect(prog.Segments[0].Data).To(BeEmpty())
			Expect(prog.Segments[0].MemSize).To(Equal(uint64(4096)))
		})
	})

	Describe("ELFs with no loadable segments", func() {
		It("should return an empty segment list", func() {
			elfPath := filepath.Join(tempDir, "no-load.elf")
			image{entry: 0x400000, segments: []segment{
				{typ: uint32(elf.PT_NOTE), flags: 0x4},
			}}.write(elfPath)

			prog, err := loader.Load(elfPath)
			Expect(err).NotTo(HaveOccurred())
			Expect(prog.Segments).To(BeEmpty())
			Expect(prog.EntryPoint).To(Equal(uint64(0x400000)))
		})
	})

	Describe("Raw images", func() {
		It("should place the file at the base address", func() {
			path := filepath.Join(tempDir, "image.bin")
			Expect(os.WriteFile(path, code, 0644)).To(Succeed())

			prog, err := loader.LoadRaw(path, 0x100)

			Expect(err).NotTo(HaveOccurred())
			Expect(prog.EntryPoint).To(Equal(uint64(0x100)))
			Expect(prog.Machine).To(Equal(elf.EM_NONE))
			Expect(prog.Segments).To(HaveLen(1))
			Expect(prog.Segments[0].VirtAddr).To(Equal(uint64(0x100)))
			Expect(prog.Segments[0].Data).To(Equal(code))
		})

		It("should report missing files", func() {
			_, err := loader.LoadRaw(filepath.Join(tempDir, "missing.bin"), 0)
			Expect(err).To(MatchError(ContainSubstring("failed to read image")))
		})
	})

	Describe("Open", func() {
		It("should detect ELF files", func() {
			path := filepath.Join(tempDir, "prog")
			image{entry: 0x20, segments: []segment{{flags: 0x5, vaddr: 0x20, data: code}}}.write(path)

			prog, err := loader.Open(path, 0x1000)

			Expect(err).NotTo(HaveOccurred())
			Expect(prog.EntryPoint).To(Equal(uint64(0x20)))
		})

		It("should fall back to raw images", func() {
			path := filepath.Join(tempDir, "prog")
			Expect(os.WriteFile(path, []byte{1}, 0644)).To(Succeed())

			prog, err := loader.Open(path, 0x1000)

			Expect(err).NotTo(HaveOccurred())
			Expect(prog.EntryPoint).To(Equal(uint64(0x1000)))
			Expect(prog.Segments[0].Data).To(Equal([]byte{1}))
		})
	})

	Describe("LoadInto", func() {
		It("should copy segments and map zeroed BSS", func() {
			prog := &loader.Program{Segments: []loader.Segment{
				{VirtAddr: 0x10, Data: []byte{0xAA, 0xBB}, MemSize: 2},
				{VirtAddr: 0x3000, Data: []byte{0x01}, MemSize: 0x2000},
			}}
			m := mem.New()

			prog.LoadInto(m)

			Expect(m.Read16(0x10)).To(Equal(uint16(0xBBAA)))
			Expect(m.Read8(0x3000)).To(Equal(uint8(1)))
			Expect(m.Mapped(0x4FFF)).To(BeTrue())
			Expect(m.Read8(0x4FFF)).To(BeZero())
			Expect(m.Mapped(0x5000)).To(BeFalse())
		})

		It("should produce a runnable mini32 image", func() {
			path := filepath.Join(tempDir, "mini.elf")
			image{entry: 0x40, segments: []segment{{flags: 0x5, vaddr: 0x40, data: code}}}.write(path)
			prog, err := loader.Load(path)
			Expect(err).NotTo(HaveOccurred())
			m := mem.New()

			prog.LoadInto(m)

			buf := make([]byte, 4)
			n, err := m.Fetch(prog.EntryPoint, buf)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(4))
			Expect(binary.LittleEndian.Uint32(buf)).To(Equal(mini.Addi(1, 0, 42)))
		})
	})
})

type segment struct {
	typ   uint32 // PT_LOAD when zero
	flags uint32
	vaddr uint64
	data  []byte
	memsz uint64 // len(data) when zero
}

// image describes a minimal ELF executable without section headers.
type image struct {
	class    elf.Class // ELFCLASS64 when zero
	order    binary.ByteOrder
	machine  elf.Machine
	entry    uint64
	segments []segment
}

func (im image) write(path string) {
	class := im.class
	if class == elf.ELFCLASSNONE {
		class = elf.ELFCLASS64
	}
	order := im.order
	if order == nil {
		order = binary.LittleEndian
	}
	ehsize, phentsize := 64, 56
	if class == elf.ELFCLASS32 {
		ehsize, phentsize = 52, 32
	}

	header := make([]byte, ehsize)
	copy(header, elf.ELFMAG)
	header[elf.EI_CLASS] = byte(class)
	header[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	if order == binary.BigEndian {
		header[elf.EI_DATA] = byte(elf.ELFDATA2MSB)
	}
	header[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	order.PutUint16(header[16:], uint16(elf.ET_EXEC))
	order.PutUint16(header[18:], uint16(im.machine))
	order.PutUint32(header[20:], uint32(elf.EV_CURRENT))
	if class == elf.ELFCLASS64 {
		order.PutUint64(header[24:], im.entry)
		order.PutUint64(header[32:], uint64(ehsize))
		order.PutUint16(header[52:], uint16(ehsize))
		order.PutUint16(header[54:], uint16(phentsize))
		order.PutUint16(header[56:], uint16(len(im.segments)))
	} else {
		order.PutUint32(header[24:], uint32(im.entry))
		order.PutUint32(header[28:], uint32(ehsize))
		order.PutUint16(header[40:], uint16(ehsize))
		order.PutUint16(header[42:], uint16(phentsize))
		order.PutUint16(header[44:], uint16(len(im.segments)))
	}

	offset := uint64(ehsize + phentsize*len(im.segments))
	var phdrs, payload []byte
	for _, s := range im.segments {
		typ := s.typ
		if typ == 0 {
			typ = uint32(elf.PT_LOAD)
		}
		memsz := s.memsz
		if memsz == 0 {
			memsz = uint64(len(s.data))
		}
		ph := make([]byte, phentsize)
		if class == elf.ELFCLASS64 {
			order.PutUint32(ph[0:], typ)
			order.PutUint32(ph[4:], s.flags)
			order.PutUint64(ph[8:], offset)
			order.PutUint64(ph[16:], s.vaddr)
			order.PutUint64(ph[24:], s.vaddr)
			order.PutUint64(ph[32:], uint64(len(s.data)))
			order.PutUint64(ph[40:], memsz)
			order.PutUint64(ph[48:], 0x1000)
		} else {
			order.PutUint32(ph[0:], typ)
			order.PutUint32(ph[4:], uint32(offset))
			order.PutUint32(ph[8:], uint32(s.vaddr))
			order.PutUint32(ph[12:], uint32(s.vaddr))
			order.PutUint32(ph[16:], uint32(len(s.data)))
			order.PutUint32(ph[20:], uint32(memsz))
			order.PutUint32(ph[24:], s.flags)
			order.PutUint32(ph[28:], 0x1000)
		}
		phdrs = append(phdrs, ph...)
		payload = append(payload, s.data...)
		offset += uint64(len(s.data))
	}

	Expect(os.WriteFile(path, append(append(header, phdrs...), payload...), 0644)).To(Succeed())
}
