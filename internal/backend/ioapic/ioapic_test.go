package ioapic

import (
	"testing"

	"github.com/tinyrange/intc/internal/emu"
	"github.com/tinyrange/intc/internal/route"
	"github.com/tinyrange/intc/internal/vec"
)

func TestNewProbesPinCount(t *testing.T) {
	d, err := New(emu.NewIOAPIC(24), 0)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if d.Pins() != 24 {
		t.Fatalf("pins = %d, want 24", d.Pins())
	}
	if d.GSIBase() != 0 {
		t.Fatalf("gsi base = %d, want 0", d.GSIBase())
	}
}

func TestNewRejectsImplausiblePinCount(t *testing.T) {
	if _, err := New(emu.NewIOAPIC(256), 0); err == nil {
		t.Fatalf("probe accepted 256 redirection entries")
	}
}

func TestProgramWritesRedirectionEntry(t *testing.T) {
	model := emu.NewIOAPIC(24)
	d, err := New(model, 0)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	tup := route.Tuple{IRQ: 9, ActiveLow: true, LevelTriggered: true, Dest: 3}
	if err := d.Program(tup, vec.IRQ0+9); err != nil {
		t.Fatalf("program: %v", err)
	}

	entry := model.Entry(9)
	if got := uint8(entry); got != uint8(vec.IRQ0)+9 {
		t.Fatalf("vector = %#x, want %#x", got, uint8(vec.IRQ0)+9)
	}
	if entry&(1<<13) == 0 {
		t.Fatalf("polarity bit not set for active-low tuple")
	}
	if entry&(1<<15) == 0 {
		t.Fatalf("trigger bit not set for level tuple")
	}
	if entry&(1<<16) != 0 {
		t.Fatalf("entry still masked after program")
	}
	if got := uint8(entry >> 56); got != 3 {
		t.Fatalf("destination = %d, want 3", got)
	}
}

func TestProgramOutsideRangeFails(t *testing.T) {
	model := emu.NewIOAPIC(8)
	d, err := New(model, 16)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	if err := d.Program(route.Tuple{IRQ: 9}, vec.ForGSI(9)); err == nil {
		t.Fatalf("programmed a gsi below the covered range")
	}
	if err := d.Program(route.Tuple{IRQ: 24}, vec.ForGSI(24)); err == nil {
		t.Fatalf("programmed a gsi past the covered range")
	}
	if err := d.Program(route.Tuple{IRQ: 18}, vec.ForGSI(18)); err != nil {
		t.Fatalf("program in-range gsi: %v", err)
	}
	if got := uint8(model.Entry(2)); got != uint8(vec.ForGSI(18)) {
		t.Fatalf("pin 2 vector = %#x, want %#x", got, uint8(vec.ForGSI(18)))
	}
}

func TestMaskPinPreservesEntry(t *testing.T) {
	model := emu.NewIOAPIC(24)
	d, err := New(model, 0)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	tup := route.Tuple{IRQ: 4, Dest: 1}
	if err := d.Program(tup, vec.IRQ0+4); err != nil {
		t.Fatalf("program: %v", err)
	}
	if err := d.MaskPin(tup); err != nil {
		t.Fatalf("mask: %v", err)
	}

	entry := model.Entry(4)
	if entry&(1<<16) == 0 {
		t.Fatalf("mask bit not set")
	}
	if got := uint8(entry); got != uint8(vec.IRQ0)+4 {
		t.Fatalf("vector lost on mask: %#x", got)
	}
}

func TestProgrammedPinDelivers(t *testing.T) {
	model := emu.NewIOAPIC(24)
	var delivered []uint8
	model.SetSink(emu.IOAPICSinkFunc(func(vector, dest uint8, level bool) {
		delivered = append(delivered, vector)
		if dest != 2 {
			t.Errorf("dest = %d, want 2", dest)
		}
	}))

	d, err := New(model, 0)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	tup := route.Tuple{IRQ: 1, Dest: 2}
	if err := d.Program(tup, vec.IRQ0+1); err != nil {
		t.Fatalf("program: %v", err)
	}

	model.SetIRQ(1, true)
	if len(delivered) != 1 || delivered[0] != uint8(vec.IRQ0)+1 {
		t.Fatalf("delivered = %v, want one assertion of %#x", delivered, uint8(vec.IRQ0)+1)
	}

	// The same pin masked again stays quiet.
	if err := d.MaskPin(tup); err != nil {
		t.Fatalf("mask: %v", err)
	}
	model.SetIRQ(1, false)
	model.SetIRQ(1, true)
	if len(delivered) != 1 {
		t.Fatalf("masked pin delivered: %v", delivered)
	}
}
