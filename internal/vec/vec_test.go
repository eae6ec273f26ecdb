package vec

import "testing"

func TestPartitions(t *testing.T) {
	if !Fault0.IsFault() || !Fault31.IsFault() || IRQ0.IsFault() {
		t.Fatalf("fault partition wrong")
	}
	if !IRQ0.IsIRQ() || !IRQ23.IsIRQ() || (IRQ23 + 1).IsIRQ() || Fault31.IsIRQ() {
		t.Fatalf("irq partition wrong")
	}
	if Spurious.IsIRQ() || Spurious.IsFault() {
		t.Fatalf("spurious vector inside a hardware partition")
	}
}

func TestIRQLine(t *testing.T) {
	if got := IRQ0.IRQ(); got != 0 {
		t.Fatalf("IRQ0 line = %d", got)
	}
	if got := IRQ15.IRQ(); got != 15 {
		t.Fatalf("IRQ15 line = %d", got)
	}
	if got := IRQ23.IRQ(); got != 23 {
		t.Fatalf("IRQ23 line = %d", got)
	}
}

func TestForGSIWraps(t *testing.T) {
	if got := ForGSI(5); got != IRQ0+5 {
		t.Fatalf("ForGSI(5) = %#x", uint8(got))
	}
	if got := ForGSI(23); got != IRQ23 {
		t.Fatalf("ForGSI(23) = %#x", uint8(got))
	}
	// Lines past the window wrap back into it.
	if got := ForGSI(24); got != IRQ0 {
		t.Fatalf("ForGSI(24) = %#x", uint8(got))
	}
	if got := ForGSI(50); got != IRQ0+2 {
		t.Fatalf("ForGSI(50) = %#x", uint8(got))
	}
}
