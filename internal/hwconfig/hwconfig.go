// Package hwconfig loads a YAML machine description for hosts where
// the firmware tables cannot be read directly, covering the same facts
// a parsed MADT would: controller family, local APIC address, I/O
// APICs and legacy IRQ overrides.
package hwconfig

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tinyrange/intc/internal/route"
)

// Machine is the top-level machine description.
type Machine struct {
	// Controller selects the family: "pic", "lapic" or "x2apic".
	Controller string `yaml:"controller"`
	// LAPICBase is the physical register window address, required
	// for the lapic family.
	LAPICBase uint64 `yaml:"lapic_base"`
	// IOAPICs lists the I/O APICs for the APIC families.
	IOAPICs []IOAPIC `yaml:"ioapics"`
	// Overrides rewires legacy ISA IRQs.
	Overrides []Override `yaml:"overrides"`
}

// IOAPIC describes one I/O APIC.
type IOAPIC struct {
	Base    uint64 `yaml:"base"`
	GSIBase uint32 `yaml:"gsi_base"`
}

// Override mirrors an ACPI interrupt source override.
type Override struct {
	IRQ   uint8  `yaml:"irq"`
	GSI   uint32 `yaml:"gsi"`
	Low   bool   `yaml:"active_low"`
	Level bool   `yaml:"level_triggered"`
}

// Load reads and validates a machine description file.
func Load(path string) (*Machine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("hwconfig: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a machine description.
func Parse(data []byte) (*Machine, error) {
	var m Machine
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("hwconfig: parse: %w", err)
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Machine) validate() error {
	switch m.Controller {
	case "pic":
		if len(m.IOAPICs) > 0 {
			return fmt.Errorf("hwconfig: pic machines have no ioapics")
		}
	case "lapic":
		if m.LAPICBase == 0 {
			return fmt.Errorf("hwconfig: lapic machines need lapic_base")
		}
	case "x2apic":
	default:
		return fmt.Errorf("hwconfig: unknown controller %q", m.Controller)
	}
	for _, ovr := range m.Overrides {
		if ovr.IRQ >= 16 {
			return fmt.Errorf("hwconfig: override for non-ISA irq %d", ovr.IRQ)
		}
	}
	return nil
}

// TupleForISA resolves a legacy ISA IRQ to a routing tuple, applying
// any declared override.
func (m *Machine) TupleForISA(irq uint8) route.Tuple {
	for _, ovr := range m.Overrides {
		if ovr.IRQ == irq {
			return route.Tuple{
				IRQ:            uint8(ovr.GSI),
				ActiveLow:      ovr.Low,
				LevelTriggered: ovr.Level,
			}
		}
	}
	return route.Tuple{IRQ: irq}
}
