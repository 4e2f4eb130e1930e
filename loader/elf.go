// Package loader reads program images: ELF executables of any machine and
// raw binaries.
package loader

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/rafzi/etiss/mem"
)

// SegmentFlags represents memory protection flags for a segment.
type SegmentFlags uint32

const (
	// SegmentFlagExecute indicates the segment is executable.
	SegmentFlagExecute SegmentFlags = 1 << iota
	// SegmentFlagWrite indicates the segment is writable.
	SegmentFlagWrite
	// SegmentFlagRead indicates the segment is readable.
	SegmentFlagRead
)

// Segment represents a loadable segment.
type Segment struct {
	// VirtAddr is the byte address where this segment should be loaded.
	VirtAddr uint64
	// Data contains the segment contents from the file.
	Data []byte
	// MemSize is the size in memory (may be larger than len(Data) for BSS).
	MemSize uint64
	// Flags contains the segment protection flags.
	Flags SegmentFlags
}

// Program is a loaded image ready to be copied into guest memory.
type Program struct {
	// EntryPoint is the byte address where execution should begin.
	EntryPoint uint64
	// Segments contains all loadable segments.
	Segments []Segment
	// Machine is the ELF machine, or elf.EM_NONE for raw images.
	Machine elf.Machine
	// ByteOrder is the data encoding of the file. Raw images report nil.
	ByteOrder binary.ByteOrder
}

// Option configures Load.
type Option func(*options)

type options struct {
	machine *elf.Machine
}

// WithMachine rejects ELF files built for any other machine.
func WithMachine(m elf.Machine) Option {
	return func(o *options) {
		o.machine = &m
	}
}

// Load parses an ELF executable of either class and byte order.
func Load(path string, opts ...Option) (*Program, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ELF file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if o.machine != nil && f.Machine != *o.machine {
		return nil, fmt.Errorf("ELF file is for machine %v, want %v", f.Machine, *o.machine)
	}

	prog := &Program{
		EntryPoint: f.Entry,
		Machine:    f.Machine,
		ByteOrder:  f.ByteOrder,
	}

	for _, phdr := range f.Progs {
		if phdr.Type != elf.PT_LOAD {
			continue
		}
		if phdr.Filesz > phdr.Memsz {
			return nil, fmt.Errorf("segment at 0x%x: file size %d exceeds memory size %d",
				phdr.Vaddr, phdr.Filesz, phdr.Memsz)
		}

		data := make([]byte, phdr.Filesz)
		if phdr.Filesz > 0 {
			n, err := phdr.ReadAt(data, 0)
			if err != nil && err != io.EOF {
				return nil, fmt.Errorf("failed to read segment at 0x%x: %w", phdr.Vaddr, err)
			}
			if uint64(n) != phdr.Filesz {
				return nil, fmt.Errorf("short read for segment at 0x%x: got %d bytes, expected %d",
					phdr.Vaddr, n, phdr.Filesz)
			}
		}

		var flags SegmentFlags
		if phdr.Flags&elf.PF_X != 0 {
			flags |= SegmentFlagExecute
		}
		if phdr.Flags&elf.PF_W != 0 {
			flags |= SegmentFlagWrite
		}
		if phdr.Flags&elf.PF_R != 0 {
			flags |= SegmentFlagRead
		}

		prog.Segments = append(prog.Segments, Segment{
			VirtAddr: phdr.Vaddr,
			Data:     data,
			MemSize:  phdr.Memsz,
			Flags:    flags,
		})
	}

	return prog, nil
}

// LoadRaw reads a flat binary that runs from its first byte, placed at
// base.
func LoadRaw(path string, base uint64) (*Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	return &Program{
		EntryPoint: base,
		Segments: []Segment{{
			VirtAddr: base,
			Data:     data,
			MemSize:  uint64(len(data)),
			Flags:    SegmentFlagRead | SegmentFlagWrite | SegmentFlagExecute,
		}},
	}, nil
}

// Open loads path as ELF when it starts with the ELF magic and as a raw
// image at base otherwise. Options only apply to ELF files.
func Open(path string, base uint64, opts ...Option) (*Program, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	magic := make([]byte, len(elf.ELFMAG))
	n, _ := io.ReadFull(f, magic)
	_ = f.Close()

	if n == len(magic) && bytes.Equal(magic, []byte(elf.ELFMAG)) {
		return Load(path, opts...)
	}
	return LoadRaw(path, base)
}

// Size returns the number of bytes the program occupies in memory.
func (p *Program) Size() uint64 {
	var n uint64
	for _, seg := range p.Segments {
		n += seg.MemSize
	}
	return n
}

// LoadInto copies every segment into m. The part of a segment beyond its
// file data is mapped and reads as zero.
func (p *Program) LoadInto(m *mem.Memory) {
	for _, seg := range p.Segments {
		m.Map(seg.VirtAddr, seg.MemSize)
		m.WriteBytes(seg.VirtAddr, seg.Data)
	}
}
