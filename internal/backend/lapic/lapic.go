// Package lapic drives the xAPIC-mode local APIC through its
// memory-mapped register window.
package lapic

import (
	"fmt"
	"log/slog"

	"github.com/tinyrange/intc/internal/hw"
	"github.com/tinyrange/intc/internal/vec"
)

// Register offsets inside the 4KiB window.
const (
	regID      uint32 = 0x020
	regEOI     uint32 = 0x0B0
	regSVR     uint32 = 0x0F0
	regICRLow  uint32 = 0x300
	regICRHigh uint32 = 0x310
)

const (
	// WindowSize is the size of the register window.
	WindowSize uint32 = 0x1000

	svrEnable uint32 = 1 << 8

	icrLevelAssert   uint32 = 1 << 14
	icrDeliveryBusy  uint32 = 1 << 12
	icrDeliveryShift        = 8
	icrDestShift            = 24
)

// deliveryWaitSpins bounds the busy-wait for ICR delivery. The
// controller clears the status bit within a handful of bus cycles;
// interrupt context cannot wait longer than that.
const deliveryWaitSpins = 1000

// Driver programs a local APIC. One instance serves every CPU: the
// controller lives at the same physical address on each of them, so
// the mapped window always refers to the calling CPU's APIC.
type Driver struct {
	mapper hw.Mapper
	regs   hw.MMIO32
	logger *slog.Logger
}

// New returns a driver that will map the register window through
// mapper during bootstrap init.
func New(mapper hw.Mapper) *Driver {
	return &Driver{
		mapper: mapper,
		logger: slog.Default(),
	}
}

// SetLogger overrides the logger used for bring-up events.
func (d *Driver) SetLogger(logger *slog.Logger) {
	if logger != nil {
		d.logger = logger
	}
}

// MapAndInit maps the controller's register window at the given
// physical base and performs the bootstrap processor init.
func (d *Driver) MapAndInit(base uint64) error {
	regs, err := d.mapper.Map(base, WindowSize)
	if err != nil {
		return fmt.Errorf("lapic: map %#x: %w", base, err)
	}
	d.regs = regs
	d.logger.Debug("lapic window mapped", "base", fmt.Sprintf("%#x", base))
	return d.Init()
}

// Init enables the calling CPU's APIC by programming the spurious
// interrupt vector register.
func (d *Driver) Init() error {
	if d.regs == nil {
		return fmt.Errorf("lapic: register window not mapped")
	}
	d.regs.Write32(regSVR, svrEnable|uint32(vec.Spurious))
	return nil
}

// ID returns the local APIC ID of the calling CPU.
func (d *Driver) ID() uint32 {
	return d.regs.Read32(regID) >> 24
}

// Ack signals end-of-interrupt for the in-service interrupt.
func (d *Driver) Ack() {
	d.regs.Write32(regEOI, 0)
}

// SendIPI writes an inter-processor interrupt into the interrupt
// command register: mode is the delivery mode and vector the payload
// (the trampoline page for STARTUP, zero for INIT). The write to the
// low half triggers the send, so the destination goes first.
func (d *Driver) SendIPI(dest uint32, mode, vector uint8) {
	d.regs.Write32(regICRHigh, dest<<icrDestShift)
	d.regs.Write32(regICRLow, uint32(vector)|uint32(mode)<<icrDeliveryShift|icrLevelAssert)

	for i := 0; i < deliveryWaitSpins; i++ {
		if d.regs.Read32(regICRLow)&icrDeliveryBusy == 0 {
			return
		}
	}
	d.logger.Warn("ipi delivery still pending", "dest", dest, "mode", mode)
}
