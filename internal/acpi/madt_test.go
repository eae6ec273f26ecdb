package acpi

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// buildMADT assembles a checksummed table from the fixed fields plus
// the given entry bytes.
func buildMADT(t *testing.T, lapicBase uint32, entries ...[]byte) []byte {
	t.Helper()
	var body bytes.Buffer
	for _, e := range entries {
		body.Write(e)
	}

	blob := make([]byte, madtFixedSize+body.Len())
	copy(blob[0:4], "APIC")
	binary.LittleEndian.PutUint32(blob[4:8], uint32(len(blob)))
	blob[8] = 1 // revision
	binary.LittleEndian.PutUint32(blob[36:40], lapicBase)
	copy(blob[madtFixedSize:], body.Bytes())

	var sum uint8
	for _, b := range blob {
		sum += b
	}
	blob[9] = uint8(-sum) // checksum byte sits inside the summed range

	return blob
}

func cpuEntry(procID, apicID uint8, enabled bool) []byte {
	e := []byte{entryLocalAPIC, 8, procID, apicID, 0, 0, 0, 0}
	if enabled {
		e[4] = 1
	}
	return e
}

func ioapicEntry(id uint8, addr, gsiBase uint32) []byte {
	e := []byte{entryIOAPIC, 12, id, 0, 0, 0, 0, 0, 0, 0, 0, 0}
	binary.LittleEndian.PutUint32(e[4:8], addr)
	binary.LittleEndian.PutUint32(e[8:12], gsiBase)
	return e
}

func overrideEntry(busIRQ uint8, gsi uint32, flags uint16) []byte {
	e := []byte{entryInterruptOverride, 10, 0, busIRQ, 0, 0, 0, 0, 0, 0}
	binary.LittleEndian.PutUint32(e[4:8], gsi)
	binary.LittleEndian.PutUint16(e[8:10], flags)
	return e
}

func TestParseTopology(t *testing.T) {
	blob := buildMADT(t, 0xFEE0_0000,
		cpuEntry(0, 0, true),
		cpuEntry(1, 1, true),
		cpuEntry(2, 2, false),
		ioapicEntry(0, 0xFEC0_0000, 0),
		ioapicEntry(1, 0xFEC1_0000, 24),
		overrideEntry(0, 2, 0),
		overrideEntry(9, 9, 0xF), // active low, level triggered
	)

	m, err := ParseMADT(blob)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if m.LAPICBase != 0xFEE0_0000 {
		t.Fatalf("lapic base = %#x", m.LAPICBase)
	}
	if len(m.CPUs) != 3 || !m.CPUs[0].Enabled || m.CPUs[2].Enabled {
		t.Fatalf("cpus = %+v", m.CPUs)
	}
	if len(m.IOAPICs) != 2 {
		t.Fatalf("ioapics = %+v", m.IOAPICs)
	}
	if m.IOAPICs[1].Address != 0xFEC1_0000 || m.IOAPICs[1].GSIBase != 24 {
		t.Fatalf("second ioapic = %+v", m.IOAPICs[1])
	}
	if len(m.Overrides) != 2 {
		t.Fatalf("overrides = %+v", m.Overrides)
	}
	if ovr := m.Overrides[1]; !ovr.ActiveLow || !ovr.LevelTriggered {
		t.Fatalf("override 9 = %+v", ovr)
	}
}

func TestParseLAPICAddressOverride(t *testing.T) {
	ovr := make([]byte, 12)
	ovr[0], ovr[1] = entryLocalAPICOverride, 12
	binary.LittleEndian.PutUint64(ovr[4:12], 0x1_FEE0_0000)

	m, err := ParseMADT(buildMADT(t, 0xFEE0_0000, ovr))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if m.LAPICBase != 0x1_FEE0_0000 {
		t.Fatalf("lapic base = %#x, want the 64-bit override", m.LAPICBase)
	}
}

func TestParseRejectsBadTables(t *testing.T) {
	good := buildMADT(t, 0xFEE0_0000, cpuEntry(0, 0, true))

	t.Run("short", func(t *testing.T) {
		if _, err := ParseMADT(good[:20]); err == nil {
			t.Fatalf("accepted truncated table")
		}
	})

	t.Run("signature", func(t *testing.T) {
		bad := append([]byte{}, good...)
		copy(bad[0:4], "FACP")
		if _, err := ParseMADT(bad); err == nil {
			t.Fatalf("accepted wrong signature")
		}
	})

	t.Run("checksum", func(t *testing.T) {
		bad := append([]byte{}, good...)
		bad[9] ^= 0xFF
		if _, err := ParseMADT(bad); err == nil {
			t.Fatalf("accepted checksum mismatch")
		}
	})

	t.Run("length past blob", func(t *testing.T) {
		bad := append([]byte{}, good...)
		binary.LittleEndian.PutUint32(bad[4:8], uint32(len(bad)+8))
		if _, err := ParseMADT(bad); err == nil {
			t.Fatalf("accepted length past the blob")
		}
	})

	t.Run("entry overruns table", func(t *testing.T) {
		entry := []byte{entryLocalAPIC, 200, 0, 0, 0, 0, 0, 0}
		if _, err := ParseMADT(buildMADT(t, 0, entry)); err == nil {
			t.Fatalf("accepted entry length past the table")
		}
	})
}

func TestUnknownEntriesSkipped(t *testing.T) {
	nmi := []byte{4, 6, 0, 0x05, 0, 1} // local apic nmi, not modelled
	m, err := ParseMADT(buildMADT(t, 0xFEE0_0000, nmi, cpuEntry(0, 0, true)))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(m.CPUs) != 1 {
		t.Fatalf("cpus = %+v, want the entry after the skipped one", m.CPUs)
	}
}

func TestTupleForISA(t *testing.T) {
	m := &MADT{
		Overrides: []Override{{BusIRQ: 9, GSI: 20, ActiveLow: true, LevelTriggered: true}},
	}

	tup := m.TupleForISA(9)
	if tup.IRQ != 20 || !tup.ActiveLow || !tup.LevelTriggered {
		t.Fatalf("tuple for irq 9 = %+v", tup)
	}

	tup = m.TupleForISA(1)
	if tup.IRQ != 1 || tup.ActiveLow || tup.LevelTriggered {
		t.Fatalf("identity tuple = %+v", tup)
	}
}
