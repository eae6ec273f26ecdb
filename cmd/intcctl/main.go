// Command intcctl is a bring-up harness for the interrupt subsystem. It
// inspects firmware interrupt topology (a raw MADT dump) or a YAML
// machine description, and on legacy machines can program the real 8259
// pair through /dev/port.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	intc "github.com/tinyrange/intc"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "intcctl: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	madtPath := flag.String("madt", "", "Parse a raw MADT dump (e.g. /sys/firmware/acpi/tables/APIC)")
	machinePath := flag.String("machine", "", "Load a YAML machine description")
	program := flag.Bool("program", false, "Program the 8259 pair through /dev/port (pic machines only)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Inspect interrupt topology or bring up the legacy controllers.\n\n")
		fmt.Fprintf(os.Stderr, "Examples:\n")
		fmt.Fprintf(os.Stderr, "  %s -madt /sys/firmware/acpi/tables/APIC\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -machine machine.yaml\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -machine machine.yaml -program\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *debug {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})))
	}

	switch {
	case *madtPath != "":
		return inspectMADT(*madtPath)
	case *machinePath != "":
		return inspectMachine(*machinePath, *program)
	default:
		flag.Usage()
		return fmt.Errorf("one of -madt or -machine required")
	}
}

func inspectMADT(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	m, err := intc.ParseMADT(data)
	if err != nil {
		return err
	}

	fmt.Printf("local apic base: %#x\n", m.LAPICBase)
	for _, cpu := range m.CPUs {
		state := "enabled"
		if !cpu.Enabled {
			state = "disabled"
		}
		fmt.Printf("cpu %d: apic id %d (%s)\n", cpu.ProcessorID, cpu.APICID, state)
	}
	for _, a := range m.IOAPICs {
		fmt.Printf("ioapic %d: %#x gsi base %d\n", a.ID, a.Address, a.GSIBase)
	}
	for _, ovr := range m.Overrides {
		fmt.Printf("override: irq %d -> gsi %d (active_low=%v level=%v)\n",
			ovr.BusIRQ, ovr.GSI, ovr.ActiveLow, ovr.LevelTriggered)
	}
	return nil
}

func inspectMachine(path string, program bool) error {
	m, err := intc.LoadMachine(path)
	if err != nil {
		return err
	}

	fmt.Printf("controller: %s\n", m.Controller)
	if m.LAPICBase != 0 {
		fmt.Printf("local apic base: %#x\n", m.LAPICBase)
	}
	for _, a := range m.IOAPICs {
		fmt.Printf("ioapic: %#x gsi base %d\n", a.Base, a.GSIBase)
	}
	for _, ovr := range m.Overrides {
		fmt.Printf("override: irq %d -> gsi %d (active_low=%v level=%v)\n",
			ovr.IRQ, ovr.GSI, ovr.Low, ovr.Level)
	}

	if !program {
		return nil
	}
	if m.Controller != "pic" {
		return fmt.Errorf("-program only supports pic machines, not %s", m.Controller)
	}
	return programPIC()
}
