package emu

import (
	"sync"

	"github.com/tinyrange/intc/internal/hw"
)

const (
	ioapicRegSelect uint32 = 0x00
	ioapicRegData   uint32 = 0x10

	ioapicRegID        = 0x00
	ioapicRegVersion   = 0x01
	ioapicRegRedirBase = 0x10

	ioapicVersion = 0x11
)

// Redirection bits the guest side is permitted to change.
const ioapicWriteMask uint64 = 0xFF00_0000_0001_AFFF

// IOAPICSink receives deliveries from the model when an unmasked pin
// fires.
type IOAPICSink interface {
	Assert(vector uint8, dest uint8, level bool)
}

// IOAPICSinkFunc adapts a function to IOAPICSink.
type IOAPICSinkFunc func(vector uint8, dest uint8, level bool)

// Assert implements IOAPICSink.
func (f IOAPICSinkFunc) Assert(vector uint8, dest uint8, level bool) {
	if f != nil {
		f(vector, dest, level)
	}
}

type noopIOAPICSink struct{}

func (noopIOAPICSink) Assert(uint8, uint8, bool) {}

// IOAPIC models a single I/O APIC register window. The select/data
// pair implements hw.MMIO32 with offsets relative to the window base.
type IOAPIC struct {
	mu sync.Mutex

	id      uint8
	index   uint8
	entries []ioapicEntry

	sink IOAPICSink
}

type ioapicEntry struct {
	value     uint64
	lineLevel bool
}

// NewIOAPIC builds a model exposing pins redirection entries, all
// masked.
func NewIOAPIC(pins int) *IOAPIC {
	if pins <= 0 {
		pins = 24
	}
	entries := make([]ioapicEntry, pins)
	for i := range entries {
		entries[i].value = 1 << 16 // masked out of reset
	}
	return &IOAPIC{
		entries: entries,
		sink:    noopIOAPICSink{},
	}
}

// SetSink wires the delivery target.
func (a *IOAPIC) SetSink(sink IOAPICSink) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if sink == nil {
		a.sink = noopIOAPICSink{}
	} else {
		a.sink = sink
	}
}

// Read32 implements hw.MMIO32.
func (a *IOAPIC) Read32(offset uint32) uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch offset {
	case ioapicRegSelect:
		return uint32(a.index)
	case ioapicRegData:
		return a.readRegisterLocked(a.index)
	default:
		return 0
	}
}

// Write32 implements hw.MMIO32.
func (a *IOAPIC) Write32(offset uint32, value uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch offset {
	case ioapicRegSelect:
		a.index = uint8(value)
	case ioapicRegData:
		a.writeRegisterLocked(a.index, value)
	}
}

func (a *IOAPIC) readRegisterLocked(reg uint8) uint32 {
	switch {
	case reg == ioapicRegID:
		return uint32(a.id&0x0F) << 24
	case reg == ioapicRegVersion:
		return uint32(ioapicVersion) | uint32(len(a.entries)-1)<<16
	case reg >= ioapicRegRedirBase && int(reg) < ioapicRegRedirBase+2*len(a.entries):
		pin := int(reg-ioapicRegRedirBase) / 2
		if reg&1 == 1 {
			return uint32(a.entries[pin].value >> 32)
		}
		return uint32(a.entries[pin].value)
	default:
		return 0
	}
}

func (a *IOAPIC) writeRegisterLocked(reg uint8, value uint32) {
	switch {
	case reg == ioapicRegID:
		a.id = uint8(value >> 24)
	case reg >= ioapicRegRedirBase && int(reg) < ioapicRegRedirBase+2*len(a.entries):
		pin := int(reg-ioapicRegRedirBase) / 2
		entry := &a.entries[pin]
		var next uint64
		if reg&1 == 1 {
			next = entry.value&0x0000_0000_FFFF_FFFF | uint64(value)<<32
		} else {
			next = entry.value&0xFFFF_FFFF_0000_0000 | uint64(value)
		}
		entry.value = entry.value&^ioapicWriteMask | next&ioapicWriteMask
		entry.evaluate(a.sink, pin)
	}
}

// SetIRQ changes the level of an input pin.
func (a *IOAPIC) SetIRQ(pin uint32, high bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if pin >= uint32(len(a.entries)) {
		return
	}
	entry := &a.entries[int(pin)]
	was := entry.lineLevel
	entry.lineLevel = high
	if high && !was {
		entry.evaluate(a.sink, int(pin))
	}
}

// HandleEOI clears remote-IRR for every pin targeting the vector and
// re-evaluates still-asserted level-triggered lines.
func (a *IOAPIC) HandleEOI(vector uint8) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for pin := range a.entries {
		entry := &a.entries[pin]
		if entryVector(entry.value) == vector && entryRemoteIRR(entry.value) {
			entry.value &^= 1 << 14
			entry.evaluate(a.sink, pin)
		}
	}
}

// Entry returns the raw redirection entry for a pin, for tests.
func (a *IOAPIC) Entry(pin int) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if pin < 0 || pin >= len(a.entries) {
		return 0
	}
	return a.entries[pin].value
}

var _ hw.MMIO32 = (*IOAPIC)(nil)

func (e *ioapicEntry) evaluate(sink IOAPICSink, pin int) {
	if !e.lineLevel || entryMasked(e.value) {
		return
	}
	level := entryLevel(e.value)
	if level {
		if entryRemoteIRR(e.value) {
			return
		}
		e.value |= 1 << 14
	}
	sink.Assert(entryVector(e.value), entryDest(e.value), level)
	if !level {
		// Edge delivery consumes the assertion.
		e.lineLevel = false
	}
}

func entryVector(v uint64) uint8    { return uint8(v) }
func entryDest(v uint64) uint8      { return uint8(v >> 56) }
func entryMasked(v uint64) bool     { return v>>16&1 == 1 }
func entryRemoteIRR(v uint64) bool  { return v>>14&1 == 1 }
func entryLevel(v uint64) bool      { return v>>15&1 == 1 }
