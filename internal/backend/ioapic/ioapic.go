// Package ioapic drives one I/O APIC through its select/data register
// window and describes the global system interrupt range it covers for
// the routing layer's registry scan.
package ioapic

import (
	"fmt"

	"github.com/tinyrange/intc/internal/hw"
	"github.com/tinyrange/intc/internal/route"
	"github.com/tinyrange/intc/internal/vec"
)

const (
	regSelect uint32 = 0x00
	regData   uint32 = 0x10

	regID        uint32 = 0x00
	regVersion   uint32 = 0x01
	regRedirBase uint32 = 0x10
)

const (
	redirActiveLow uint64 = 1 << 13
	redirLevel     uint64 = 1 << 15
	redirMasked    uint64 = 1 << 16
	redirDestShift        = 56
)

// Driver programs the redirection table of a single I/O APIC.
type Driver struct {
	regs    hw.MMIO32
	gsiBase uint32
	pins    uint32
}

// New probes the controller's version register for the number of
// redirection entries and returns a driver covering the half-open
// global system interrupt range [gsiBase, gsiBase+pins).
func New(regs hw.MMIO32, gsiBase uint32) (*Driver, error) {
	d := &Driver{
		regs:    regs,
		gsiBase: gsiBase,
	}
	d.pins = (d.read(regVersion)>>16)&0xFF + 1
	if d.pins == 0 || d.pins > 240 {
		return nil, fmt.Errorf("ioapic: implausible redirection entry count %d", d.pins)
	}
	return d, nil
}

func (d *Driver) read(reg uint32) uint32 {
	d.regs.Write32(regSelect, reg)
	return d.regs.Read32(regData)
}

func (d *Driver) write(reg, value uint32) {
	d.regs.Write32(regSelect, reg)
	d.regs.Write32(regData, value)
}

// ID returns the controller's APIC ID.
func (d *Driver) ID() uint8 {
	return uint8(d.read(regID) >> 24)
}

// GSIBase implements route.IOAPIC.
func (d *Driver) GSIBase() uint32 {
	return d.gsiBase
}

// Pins implements route.IOAPIC.
func (d *Driver) Pins() uint32 {
	return d.pins
}

func (d *Driver) pinFor(t route.Tuple) (uint32, error) {
	gsi := uint32(t.IRQ)
	if gsi < d.gsiBase || gsi >= d.gsiBase+d.pins {
		return 0, fmt.Errorf("ioapic: gsi %d outside [%d, %d)", gsi, d.gsiBase, d.gsiBase+d.pins)
	}
	return gsi - d.gsiBase, nil
}

// Program writes an unmasked redirection entry for the tuple's pin,
// carrying the resolved vector and the tuple's polarity, trigger and
// destination attributes.
func (d *Driver) Program(t route.Tuple, v vec.Vector) error {
	pin, err := d.pinFor(t)
	if err != nil {
		return err
	}

	entry := uint64(v)
	if t.ActiveLow {
		entry |= redirActiveLow
	}
	if t.LevelTriggered {
		entry |= redirLevel
	}
	entry |= uint64(t.Dest&0xFF) << redirDestShift

	// High half first so the entry is never live with a stale
	// destination.
	d.write(regRedirBase+2*pin+1, uint32(entry>>32))
	d.write(regRedirBase+2*pin, uint32(entry))
	return nil
}

// MaskPin sets the mask bit on the tuple's redirection entry, leaving
// the rest of the entry untouched.
func (d *Driver) MaskPin(t route.Tuple) error {
	pin, err := d.pinFor(t)
	if err != nil {
		return err
	}
	low := d.read(regRedirBase + 2*pin)
	d.write(regRedirBase+2*pin, low|uint32(redirMasked))
	return nil
}

var _ route.IOAPIC = (*Driver)(nil)
