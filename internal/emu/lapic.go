package emu

import (
	"sync"

	"github.com/tinyrange/intc/internal/hw"
)

// IPI records one inter-processor interrupt sent through a model.
type IPI struct {
	Dest   uint32
	Mode   uint8
	Vector uint8
}

// LAPIC models the xAPIC-mode register window of one local APIC. It
// tracks the programming the driver performs: spurious vector, EOI
// traffic and interrupt command register sends.
type LAPIC struct {
	mu sync.Mutex

	id      uint32
	svr     uint32
	icrHigh uint32

	eois int
	ipis []IPI
}

// NewLAPIC returns a model reporting the given APIC ID.
func NewLAPIC(id uint32) *LAPIC {
	return &LAPIC{id: id}
}

// Read32 implements hw.MMIO32.
func (l *LAPIC) Read32(offset uint32) uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch offset {
	case 0x020:
		return l.id << 24
	case 0x0F0:
		return l.svr
	case 0x300:
		return 0 // delivery never stays busy
	case 0x310:
		return l.icrHigh
	default:
		return 0
	}
}

// Write32 implements hw.MMIO32.
func (l *LAPIC) Write32(offset uint32, value uint32) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch offset {
	case 0x0B0:
		l.eois++
	case 0x0F0:
		l.svr = value
	case 0x300:
		l.ipis = append(l.ipis, IPI{
			Dest:   l.icrHigh >> 24,
			Mode:   uint8(value >> 8 & 0x7),
			Vector: uint8(value),
		})
	case 0x310:
		l.icrHigh = value
	}
}

// Enabled reports whether the software-enable bit is set in the
// spurious vector register.
func (l *LAPIC) Enabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.svr&(1<<8) != 0
}

// SpuriousVector returns the programmed spurious vector.
func (l *LAPIC) SpuriousVector() uint8 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return uint8(l.svr)
}

// EOIs returns the number of end-of-interrupt writes observed.
func (l *LAPIC) EOIs() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.eois
}

// IPIs returns the interrupt command register sends observed so far.
func (l *LAPIC) IPIs() []IPI {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]IPI{}, l.ipis...)
}

var _ hw.MMIO32 = (*LAPIC)(nil)

// X2APIC models the MSR block of an x2APIC-mode local APIC.
type X2APIC struct {
	mu sync.Mutex

	id   uint32
	msrs map[uint32]uint64

	eois int
	ipis []IPI
}

// NewX2APIC returns a model reporting the given 32-bit APIC ID.
func NewX2APIC(id uint32) *X2APIC {
	return &X2APIC{
		id:   id,
		msrs: map[uint32]uint64{0x01B: 1 << 11},
	}
}

// Read implements hw.MSR.
func (x *X2APIC) Read(reg uint32) uint64 {
	x.mu.Lock()
	defer x.mu.Unlock()

	if reg == 0x802 {
		return uint64(x.id)
	}
	return x.msrs[reg]
}

// Write implements hw.MSR.
func (x *X2APIC) Write(reg uint32, value uint64) {
	x.mu.Lock()
	defer x.mu.Unlock()

	switch reg {
	case 0x80B:
		x.eois++
	case 0x830:
		x.ipis = append(x.ipis, IPI{
			Dest:   uint32(value >> 32),
			Mode:   uint8(value >> 8 & 0x7),
			Vector: uint8(value),
		})
	default:
		x.msrs[reg] = value
	}
}

// ExtendedMode reports whether the EXTD bit is set in IA32_APIC_BASE.
func (x *X2APIC) ExtendedMode() bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.msrs[0x01B]&(1<<10) != 0
}

// Enabled reports whether the software-enable bit is set in the
// spurious vector register.
func (x *X2APIC) Enabled() bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.msrs[0x80F]&(1<<8) != 0
}

// EOIs returns the number of end-of-interrupt writes observed.
func (x *X2APIC) EOIs() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.eois
}

// IPIs returns the interrupt command register sends observed so far.
func (x *X2APIC) IPIs() []IPI {
	x.mu.Lock()
	defer x.mu.Unlock()
	return append([]IPI{}, x.ipis...)
}

var _ hw.MSR = (*X2APIC)(nil)
