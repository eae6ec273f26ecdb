// Package vec defines the kernel-internal interrupt vector space shared
// between the interrupt controller backends and the routing layer.
//
// The space is a fixed enumeration of 256 vectors partitioned into CPU
// fault vectors (0-31), the hardware IRQ window (24 lines starting at
// IRQ0, of which only the first 16 exist on the legacy 8259 pair), the
// spurious vector and the remaining software/IPI vectors.
package vec

// Vector identifies a single interrupt source: a CPU fault, a hardware
// IRQ, the spurious vector or a software/IPI vector.
type Vector uint8

const (
	// Count is the size of the vector space.
	Count = 256

	// Fault0 and Fault31 bound the CPU exception vectors.
	Fault0  Vector = 0
	Fault31 Vector = 31

	// IRQ0 is the base of the hardware IRQ window.
	IRQ0 Vector = 0x20
	// IRQ15 is the last line the legacy 8259 pair can deliver.
	IRQ15 Vector = IRQ0 + 15
	// IRQ23 is the last line the APIC family can deliver.
	IRQ23 Vector = IRQ0 + 23

	// Spurious is delivered by the local APIC when an interrupt
	// vanishes between assertion and acknowledge.
	Spurious Vector = 0xFF
)

// IRQLines is the number of distinct hardware IRQ lines with APIC
// parity. Global system interrupts beyond this wrap back into the IRQ
// window.
const IRQLines = 24

// IsFault reports whether v is a CPU exception vector.
func (v Vector) IsFault() bool {
	return v <= Fault31
}

// IsIRQ reports whether v falls inside the hardware IRQ window.
func (v Vector) IsIRQ() bool {
	return v >= IRQ0 && v <= IRQ23
}

// IRQ returns the hardware IRQ line for a vector inside the IRQ window.
// Only meaningful when IsIRQ reports true.
func (v Vector) IRQ() uint8 {
	return uint8(v - IRQ0)
}

// ForGSI maps a global system interrupt to its vector. Lines beyond the
// IRQ window wrap, matching the symmetric-multiprocessing resolution
// rule used by the router.
func ForGSI(gsi uint32) Vector {
	return IRQ0 + Vector(gsi%IRQLines)
}
