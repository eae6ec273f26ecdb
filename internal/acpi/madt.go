// Package acpi parses the ACPI Multiple APIC Description Table, the
// firmware's description of the machine's interrupt topology: local
// APIC address, the CPUs present, the I/O APICs and their global
// system interrupt ranges, and the legacy ISA IRQs whose routing the
// board rewires.
package acpi

import (
	"encoding/binary"
	"fmt"

	"github.com/tinyrange/intc/internal/route"
)

const (
	// sdtHeaderSize is the size of the standard ACPI table header.
	sdtHeaderSize = 36
	// madtFixedSize adds the MADT's own fixed fields: local APIC
	// address and flags.
	madtFixedSize = sdtHeaderSize + 8
)

// MADT entry types.
const (
	entryLocalAPIC         = 0
	entryIOAPIC            = 1
	entryInterruptOverride = 2
	entryLocalAPICOverride = 5
)

// CPU describes one processor local APIC entry.
type CPU struct {
	ProcessorID uint8
	APICID      uint8
	Enabled     bool
}

// IOAPIC describes one I/O APIC entry.
type IOAPIC struct {
	ID      uint8
	Address uint32
	GSIBase uint32
}

// Override describes one interrupt source override: a legacy ISA IRQ
// whose global system interrupt or delivery attributes differ from the
// identity-mapped default.
type Override struct {
	BusIRQ         uint8
	GSI            uint32
	ActiveLow      bool
	LevelTriggered bool
}

// MADT is the parsed interrupt topology.
type MADT struct {
	LAPICBase uint64
	CPUs      []CPU
	IOAPICs   []IOAPIC
	Overrides []Override
}

// ParseMADT validates and walks a raw MADT blob, header included.
func ParseMADT(data []byte) (*MADT, error) {
	if len(data) < madtFixedSize {
		return nil, fmt.Errorf("acpi: madt too short: %d bytes", len(data))
	}
	if string(data[0:4]) != "APIC" {
		return nil, fmt.Errorf("acpi: bad madt signature %q", data[0:4])
	}
	length := binary.LittleEndian.Uint32(data[4:8])
	if int(length) > len(data) || length < madtFixedSize {
		return nil, fmt.Errorf("acpi: madt length %d outside blob of %d bytes", length, len(data))
	}
	data = data[:length]

	var sum uint8
	for _, b := range data {
		sum += b
	}
	if sum != 0 {
		return nil, fmt.Errorf("acpi: madt checksum mismatch")
	}

	m := &MADT{
		LAPICBase: uint64(binary.LittleEndian.Uint32(data[36:40])),
	}

	body := data[madtFixedSize:]
	for len(body) > 0 {
		if len(body) < 2 {
			return nil, fmt.Errorf("acpi: truncated madt entry header")
		}
		typ, size := body[0], int(body[1])
		if size < 2 || size > len(body) {
			return nil, fmt.Errorf("acpi: madt entry type %d has bad length %d", typ, size)
		}
		entry := body[:size]
		body = body[size:]

		switch typ {
		case entryLocalAPIC:
			if size < 8 {
				return nil, fmt.Errorf("acpi: short local apic entry")
			}
			m.CPUs = append(m.CPUs, CPU{
				ProcessorID: entry[2],
				APICID:      entry[3],
				Enabled:     binary.LittleEndian.Uint32(entry[4:8])&1 != 0,
			})
		case entryIOAPIC:
			if size < 12 {
				return nil, fmt.Errorf("acpi: short io apic entry")
			}
			m.IOAPICs = append(m.IOAPICs, IOAPIC{
				ID:      entry[2],
				Address: binary.LittleEndian.Uint32(entry[4:8]),
				GSIBase: binary.LittleEndian.Uint32(entry[8:12]),
			})
		case entryInterruptOverride:
			if size < 10 {
				return nil, fmt.Errorf("acpi: short interrupt override entry")
			}
			flags := binary.LittleEndian.Uint16(entry[8:10])
			m.Overrides = append(m.Overrides, Override{
				BusIRQ:         entry[3],
				GSI:            binary.LittleEndian.Uint32(entry[4:8]),
				ActiveLow:      flags&0x3 == 0x3,
				LevelTriggered: flags>>2&0x3 == 0x3,
			})
		case entryLocalAPICOverride:
			if size < 12 {
				return nil, fmt.Errorf("acpi: short local apic override entry")
			}
			m.LAPICBase = binary.LittleEndian.Uint64(entry[4:12])
		}
	}

	return m, nil
}

// TupleForISA resolves a legacy ISA IRQ to a routing tuple, applying
// any interrupt source override the firmware declared. Without an
// override the line is identity mapped, edge-triggered, active high.
func (m *MADT) TupleForISA(irq uint8) route.Tuple {
	for _, ovr := range m.Overrides {
		if ovr.BusIRQ == irq {
			return route.Tuple{
				IRQ:            uint8(ovr.GSI),
				ActiveLow:      ovr.ActiveLow,
				LevelTriggered: ovr.LevelTriggered,
			}
		}
	}
	return route.Tuple{IRQ: irq}
}
