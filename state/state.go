// Package state provides the opaque CPU state block that is shared between
// the simulator core, generated code and architecture plugins.
//
// A State is a flat little-endian byte buffer. The first HeaderSize bytes
// form a header that has the same layout for every architecture:
//
//	offset  0  PC       uint64  instruction pointer, in PC units
//	offset  8  Cycles   uint64  cycle counter
//	offset 16  Instret  uint64  retired instruction counter
//	offset 24  Mode     uint32  current decoding mode
//	offset 28  reserved uint32
//
// Generic code reaches the header through the Header interface only.
// Architecture fields live behind the header and are addressed with Word
// handles, so no code depends on Go struct layout.
package state

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Header field offsets.
const (
	OffsetPC      = 0
	OffsetCycles  = 8
	OffsetInstret = 16
	OffsetMode    = 24
	HeaderSize    = 32
)

// ErrReleased is returned when a released state is accessed.
var ErrReleased = errors.New("state has been released")

// Header is the architecture independent view of a CPU state.
type Header interface {
	PC() uint64
	SetPC(pc uint64)
	Cycles() uint64
	Instret() uint64
	Mode() uint32
	SetMode(mode uint32)
}

// State is one CPU state instance.
type State struct {
	arch     string
	buf      []byte
	released bool
}

// New allocates a zeroed state of the given size for the named architecture.
// Sizes smaller than the header are rounded up to HeaderSize.
func New(arch string, size int) *State {
	if size < HeaderSize {
		size = HeaderSize
	}
	return &State{
		arch: arch,
		buf:  make([]byte, size),
	}
}

// Arch returns the name of the architecture that allocated the state.
func (s *State) Arch() string {
	return s.arch
}

// Size returns the size of the state in bytes.
func (s *State) Size() int {
	return len(s.buf)
}

// Bytes returns the backing buffer, or nil once the state is released.
// Generated code receives a pointer to the first byte of this slice.
func (s *State) Bytes() []byte {
	if s.released {
		return nil
	}
	return s.buf
}

// Released reports whether Release has been called.
func (s *State) Released() bool {
	return s.released
}

// Release ends the lifetime of the state. Every later access fails.
func (s *State) Release() {
	s.released = true
	s.buf = nil
}

// Clear zeroes the whole state including the header.
func (s *State) Clear() {
	clear(s.buf)
}

// PC returns the instruction pointer.
func (s *State) PC() uint64 { return s.load64(OffsetPC) }

// SetPC sets the instruction pointer.
func (s *State) SetPC(pc uint64) { s.store64(OffsetPC, pc) }

// Cycles returns the cycle counter.
func (s *State) Cycles() uint64 { return s.load64(OffsetCycles) }

// Instret returns the retired instruction counter.
func (s *State) Instret() uint64 { return s.load64(OffsetInstret) }

// Mode returns the current decoding mode.
func (s *State) Mode() uint32 {
	if s.released {
		return 0
	}
	return binary.LittleEndian.Uint32(s.buf[OffsetMode:])
}

// SetMode sets the current decoding mode.
func (s *State) SetMode(mode uint32) {
	if s.released {
		return
	}
	binary.LittleEndian.PutUint32(s.buf[OffsetMode:], mode)
}

// ResetHeader sets PC and mode and clears both counters.
func (s *State) ResetHeader(pc uint64, mode uint32) {
	s.SetPC(pc)
	s.store64(OffsetCycles, 0)
	s.store64(OffsetInstret, 0)
	s.SetMode(mode)
}

func (s *State) load64(off int) uint64 {
	if s.released {
		return 0
	}
	return binary.LittleEndian.Uint64(s.buf[off:])
}

func (s *State) store64(off int, v uint64) {
	if s.released {
		return
	}
	binary.LittleEndian.PutUint64(s.buf[off:], v)
}

// Load reads a little-endian integer of size 1, 2, 4 or 8 bytes.
func (s *State) Load(off, size int) (uint64, error) {
	if err := s.check(off, size); err != nil {
		return 0, err
	}
	return load(s.buf[off:], size), nil
}

// Store writes a little-endian integer of size 1, 2, 4 or 8 bytes.
// Values wider than size are truncated.
func (s *State) Store(off, size int, v uint64) error {
	if err := s.check(off, size); err != nil {
		return err
	}
	store(s.buf[off:], size, v)
	return nil
}

func (s *State) check(off, size int) error {
	if s.released {
		return ErrReleased
	}
	switch size {
	case 1, 2, 4, 8:
	default:
		return fmt.Errorf("unsupported access size %d", size)
	}
	if off < 0 || off+size > len(s.buf) {
		return fmt.Errorf("access [%d,%d) outside state of %d bytes", off, off+size, len(s.buf))
	}
	return nil
}

func load(b []byte, size int) uint64 {
	switch size {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(b))
	case 4:
		return uint64(binary.LittleEndian.Uint32(b))
	default:
		return binary.LittleEndian.Uint64(b)
	}
}

func store(b []byte, size int, v uint64) {
	switch size {
	case 1:
		b[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(v))
	default:
		binary.LittleEndian.PutUint64(b, v)
	}
}
