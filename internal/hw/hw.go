// Package hw defines the raw hardware access contracts the interrupt
// controller drivers are written against: legacy port I/O, 32-bit
// memory-mapped register windows and model-specific registers.
//
// Production callers back these with real hardware access (ring-0 port
// instructions, a mapped MMIO window, rdmsr/wrmsr). Tests back them
// with the register-accurate controller models in internal/emu.
package hw

// PortIO provides byte-wide access to the legacy x86 I/O port space.
type PortIO interface {
	Inb(port uint16) uint8
	Outb(port uint16, value uint8)
}

// MMIO32 provides 32-bit access to a memory-mapped register window.
// Offsets are relative to the window base.
type MMIO32 interface {
	Read32(offset uint32) uint32
	Write32(offset uint32, value uint32)
}

// MSR provides access to model-specific registers on the calling CPU.
type MSR interface {
	Read(reg uint32) uint64
	Write(reg uint32, value uint64)
}

// Mapper maps a physical MMIO region into the address space and returns
// a register window for it. Mapping is owned by the memory-management
// collaborator; the interrupt layer only consumes the result.
type Mapper interface {
	Map(base uint64, size uint32) (MMIO32, error)
}

// MapperFunc adapts a function to the Mapper interface.
type MapperFunc func(base uint64, size uint32) (MMIO32, error)

// Map implements Mapper.
func (f MapperFunc) Map(base uint64, size uint32) (MMIO32, error) {
	return f(base, size)
}
