// Package mem provides sparse guest memory for program images.
package mem

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
)

// PageSize is the allocation granule.
const PageSize = 4096

// ErrUnmapped is returned when fetching from an address nobody wrote to.
var ErrUnmapped = errors.New("address not mapped")

// Memory is a sparse byte-addressable memory. Pages come into existence on
// first write or on Map. Reads of unmapped bytes return zero, fetches fail.
type Memory struct {
	pages map[uint64]*[PageSize]byte
	order binary.ByteOrder
}

// Option configures a Memory.
type Option func(*Memory)

// WithByteOrder sets the order used by the multi-byte accessors.
func WithByteOrder(order binary.ByteOrder) Option {
	return func(m *Memory) {
		m.order = order
	}
}

// New creates an empty little-endian memory.
func New(opts ...Option) *Memory {
	m := &Memory{
		pages: make(map[uint64]*[PageSize]byte),
		order: binary.LittleEndian,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) page(addr uint64, create bool) *[PageSize]byte {
	base := addr &^ (PageSize - 1)
	p := m.pages[base]
	if p == nil && create {
		p = new([PageSize]byte)
		m.pages[base] = p
	}
	return p
}

// Map makes [addr, addr+size) present without changing its contents.
func (m *Memory) Map(addr, size uint64) {
	if size == 0 {
		return
	}
	end := addr + size - 1
	for base := addr &^ (PageSize - 1); ; base += PageSize {
		m.page(base, true)
		if base >= end&^(PageSize-1) {
			break
		}
	}
}

// Mapped reports whether addr lies in a present page.
func (m *Memory) Mapped(addr uint64) bool {
	return m.page(addr, false) != nil
}

// Pages returns the base addresses of all present pages in ascending order.
func (m *Memory) Pages() []uint64 {
	out := make([]uint64, 0, len(m.pages))
	for base := range m.pages {
		out = append(out, base)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Read8 reads one byte.
func (m *Memory) Read8(addr uint64) uint8 {
	if p := m.page(addr, false); p != nil {
		return p[addr&(PageSize-1)]
	}
	return 0
}

// Write8 writes one byte.
func (m *Memory) Write8(addr uint64, v uint8) {
	m.page(addr, true)[addr&(PageSize-1)] = v
}

// ReadBytes copies len(buf) bytes starting at addr.
func (m *Memory) ReadBytes(addr uint64, buf []byte) {
	for i := range buf {
		buf[i] = m.Read8(addr + uint64(i))
	}
}

// WriteBytes copies data to addr.
func (m *Memory) WriteBytes(addr uint64, data []byte) {
	for len(data) > 0 {
		p := m.page(addr, true)
		off := addr & (PageSize - 1)
		n := copy(p[off:], data)
		data = data[n:]
		addr += uint64(n)
	}
}

// Read16 reads a 16-bit value.
func (m *Memory) Read16(addr uint64) uint16 {
	var b [2]byte
	m.ReadBytes(addr, b[:])
	return m.order.Uint16(b[:])
}

// Write16 writes a 16-bit value.
func (m *Memory) Write16(addr uint64, v uint16) {
	var b [2]byte
	m.order.PutUint16(b[:], v)
	m.WriteBytes(addr, b[:])
}

// Read32 reads a 32-bit value.
func (m *Memory) Read32(addr uint64) uint32 {
	var b [4]byte
	m.ReadBytes(addr, b[:])
	return m.order.Uint32(b[:])
}

// Write32 writes a 32-bit value.
func (m *Memory) Write32(addr uint64, v uint32) {
	var b [4]byte
	m.order.PutUint32(b[:], v)
	m.WriteBytes(addr, b[:])
}

// Read64 reads a 64-bit value.
func (m *Memory) Read64(addr uint64) uint64 {
	var b [8]byte
	m.ReadBytes(addr, b[:])
	return m.order.Uint64(b[:])
}

// Write64 writes a 64-bit value.
func (m *Memory) Write64(addr uint64, v uint64) {
	var b [8]byte
	m.order.PutUint64(b[:], v)
	m.WriteBytes(addr, b[:])
}

// LoadProgram copies an image to addr.
func (m *Memory) LoadProgram(addr uint64, program []byte) {
	m.WriteBytes(addr, program)
}

// Fetch fills buf from addr and returns how many bytes were available
// before the first unmapped page. It fails only when addr itself is
// unmapped.
func (m *Memory) Fetch(addr uint64, buf []byte) (int, error) {
	for i := range buf {
		p := m.page(addr+uint64(i), false)
		if p == nil {
			if i == 0 {
				return 0, fmt.Errorf("fetch at 0x%x: %w", addr, ErrUnmapped)
			}
			return i, nil
		}
		buf[i] = p[(addr+uint64(i))&(PageSize-1)]
	}
	return len(buf), nil
}
