// Package pic drives the legacy pair of cascaded 8259A controllers.
//
// Init remaps the pair onto the kernel's IRQ window and masks every
// line; the routing layer unmasks lines as handlers attach. The
// secondary controller is reached through line 2 of the primary, so
// unmasking any line above 7 also opens the cascade.
package pic

import (
	"log/slog"

	"github.com/tinyrange/intc/internal/hw"
	"github.com/tinyrange/intc/internal/vec"
)

const (
	primaryCommand   uint16 = 0x20
	primaryData      uint16 = 0x21
	secondaryCommand uint16 = 0xA0
	secondaryData    uint16 = 0xA1

	// ICW1: edge-triggered, cascade, ICW4 present.
	icw1Init uint8 = 0x11
	// ICW4: 8086 mode.
	icw4Mode8086 uint8 = 0x01

	// OCW2 specific EOI, or'd with the in-service line.
	ocw2SpecificEOI uint8 = 0x60

	cascadeLine uint8 = 2
)

// Driver programs the 8259 pair through port I/O.
type Driver struct {
	ports  hw.PortIO
	logger *slog.Logger
}

// New returns an unprogrammed driver over the given port space.
func New(ports hw.PortIO) *Driver {
	return &Driver{
		ports:  ports,
		logger: slog.Default(),
	}
}

// SetLogger overrides the logger used for bring-up events.
func (d *Driver) SetLogger(logger *slog.Logger) {
	if logger != nil {
		d.logger = logger
	}
}

// Init runs the ICW1-ICW4 sequence on both controllers, remapping the
// primary to the base of the IRQ window and the secondary right after
// it, then masks all sixteen lines.
func (d *Driver) Init() error {
	d.ports.Outb(primaryCommand, icw1Init)
	d.ports.Outb(primaryData, uint8(vec.IRQ0))
	d.ports.Outb(primaryData, 1<<cascadeLine)
	d.ports.Outb(primaryData, icw4Mode8086)

	d.ports.Outb(secondaryCommand, icw1Init)
	d.ports.Outb(secondaryData, uint8(vec.IRQ0)+8)
	d.ports.Outb(secondaryData, cascadeLine)
	d.ports.Outb(secondaryData, icw4Mode8086)

	d.ports.Outb(primaryData, 0xFF)
	d.ports.Outb(secondaryData, 0xFF)

	d.logger.Debug("8259 pair remapped", "base", uint8(vec.IRQ0))
	return nil
}

// Ack signals end-of-interrupt for the given line. Lines on the
// secondary controller need an EOI on both chips: the secondary for
// the line itself and the primary for the cascade.
func (d *Driver) Ack(irq uint8) {
	if irq >= 16 {
		return
	}
	if irq >= 8 {
		d.ports.Outb(secondaryCommand, ocw2SpecificEOI|(irq-8))
		d.ports.Outb(primaryCommand, ocw2SpecificEOI|cascadeLine)
		return
	}
	d.ports.Outb(primaryCommand, ocw2SpecificEOI|irq)
}

// Mask disables delivery for the given line.
func (d *Driver) Mask(irq uint8) {
	if irq >= 16 {
		return
	}
	port := primaryData
	bit := irq
	if irq >= 8 {
		port = secondaryData
		bit = irq - 8
	}
	d.ports.Outb(port, d.ports.Inb(port)|1<<bit)
}

// Unmask enables delivery for the given line, opening the cascade when
// the line lives on the secondary controller.
func (d *Driver) Unmask(irq uint8) {
	if irq >= 16 {
		return
	}
	if irq >= 8 {
		d.ports.Outb(secondaryData, d.ports.Inb(secondaryData)&^(1<<(irq-8)))
		d.ports.Outb(primaryData, d.ports.Inb(primaryData)&^(1<<cascadeLine))
		return
	}
	d.ports.Outb(primaryData, d.ports.Inb(primaryData)&^(1<<irq))
}
