// Package intc implements the interrupt controller abstraction and
// interrupt routing layer of a small multiprocessor-capable x86
// kernel. It unifies the legacy 8259 pair, the local APIC and the
// x2APIC behind one topology-aware interface, maintains a live table
// mapping interrupt vectors to chains of handlers, and dispatches
// hardware interrupts into that table from interrupt context.
//
// Raw hardware access sits behind the contracts in internal/hw, so the
// same code drives real controllers from a privileged harness and the
// register-accurate models used by the tests.
package intc

import (
	"fmt"
	"log/slog"

	"github.com/tinyrange/intc/internal/acpi"
	"github.com/tinyrange/intc/internal/backend/ioapic"
	"github.com/tinyrange/intc/internal/backend/lapic"
	"github.com/tinyrange/intc/internal/backend/pic"
	"github.com/tinyrange/intc/internal/backend/x2apic"
	"github.com/tinyrange/intc/internal/hw"
	"github.com/tinyrange/intc/internal/hwconfig"
	"github.com/tinyrange/intc/internal/ic"
	"github.com/tinyrange/intc/internal/route"
	"github.com/tinyrange/intc/internal/vec"
)

// -----------------------------------------------------------------------------
// Type aliases - these re-export types from the internal packages
// -----------------------------------------------------------------------------

// Vector identifies a single interrupt source.
type Vector = vec.Vector

// Frame carries the resolved vector and saved CPU state through
// dispatch.
type Frame = route.Frame

// Regs is the CPU register state saved on interrupt entry.
type Regs = route.Regs

// Handler services one interrupt delivery.
type Handler = route.Handler

// Tuple is a logical IRQ routing request.
type Tuple = route.Tuple

// Gate masks local interrupt delivery around routing-table mutation.
type Gate = route.Gate

// Mode is the execution topology logical IRQs resolve under.
type Mode = route.Mode

// Kind identifies the active controller family.
type Kind = ic.Kind

// Config selects a controller family at bootstrap.
type Config = ic.Config

// PICConfig selects the legacy 8259 pair.
type PICConfig = ic.PICConfig

// LAPICConfig selects the local APIC at a physical base address.
type LAPICConfig = ic.LAPICConfig

// X2APICConfig selects the extended x2APIC.
type X2APICConfig = ic.X2APICConfig

// Machine is a YAML machine description.
type Machine = hwconfig.Machine

// MachineIOAPIC describes one I/O APIC in a machine description.
type MachineIOAPIC = hwconfig.IOAPIC

// MADT is a parsed ACPI interrupt topology.
type MADT = acpi.MADT

// MADTIOAPIC describes one I/O APIC entry in a parsed MADT.
type MADTIOAPIC = acpi.IOAPIC

// Vector space landmarks.
const (
	IRQ0     = vec.IRQ0
	IRQ15    = vec.IRQ15
	IRQ23    = vec.IRQ23
	Spurious = vec.Spurious
)

// Execution topologies.
const (
	ModeUP  = route.ModeUP
	ModeSMP = route.ModeSMP
)

// Controller families.
const (
	KindNone   = ic.KindNone
	KindPIC    = ic.KindPIC
	KindLAPIC  = ic.KindLAPIC
	KindX2APIC = ic.KindX2APIC
)

// Common sentinel errors.
var (
	ErrTableFull = route.ErrTableFull
	ErrBadIRQ    = route.ErrBadIRQ
	ErrNoIOAPIC  = route.ErrNoIOAPIC
)

// ParseMADT validates and walks a raw MADT blob.
func ParseMADT(data []byte) (*MADT, error) {
	return acpi.ParseMADT(data)
}

// LoadMachine reads and validates a YAML machine description.
func LoadMachine(path string) (*Machine, error) {
	return hwconfig.Load(path)
}

// -----------------------------------------------------------------------------
// System
// -----------------------------------------------------------------------------

// Hardware bundles the raw access a System drives its controllers
// through.
type Hardware struct {
	// Ports is the legacy I/O port space, used by the 8259 driver.
	Ports hw.PortIO
	// MMIO maps physical register windows, used by the local APIC
	// and I/O APIC drivers.
	MMIO hw.Mapper
	// MSR is model-specific register access, used by the x2APIC
	// driver.
	MSR hw.MSR
}

// System ties a topology selector and a routing table together over
// one machine's hardware. Construct with New, then Bootstrap exactly
// once on the bootstrap processor before any other operation.
type System struct {
	hardware Hardware
	logger   *slog.Logger
	gate     route.Gate

	sel    *ic.Selector
	picDrv *pic.Driver
	router *route.Router
}

// New builds an unbootstrapped System over the given hardware access.
func New(hardware Hardware) *System {
	s := &System{
		hardware: hardware,
		logger:   slog.Default(),
		gate:     route.NopGate(),
		picDrv:   pic.New(hardware.Ports),
	}
	s.sel = ic.NewSelector(ic.Backends{
		PIC:    s.picDrv,
		LAPIC:  lapic.New(hardware.MMIO),
		X2APIC: x2apic.New(hardware.MSR),
	})
	return s
}

// SetLogger overrides the logger used across the subsystem. Only
// effective before Bootstrap.
func (s *System) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
		s.sel.SetLogger(logger)
		s.picDrv.SetLogger(logger)
	}
}

// SetGate installs the local-interrupt gate taken before routing-table
// mutation. Only effective before Bootstrap.
func (s *System) SetGate(g Gate) {
	if g != nil {
		s.gate = g
	}
}

// Bootstrap selects the controller family and brings up the routing
// table. The PIC family routes in uniprocessor mode; both APIC
// families route in multiprocessor mode and take an I/O APIC registry,
// one driver per controller, probed at the given physical bases.
func (s *System) Bootstrap(cfg Config, ioapicBases []uint64, gsiBases []uint32) error {
	if len(ioapicBases) != len(gsiBases) {
		return fmt.Errorf("intc: %d ioapic bases but %d gsi bases", len(ioapicBases), len(gsiBases))
	}
	if err := s.sel.BootstrapInit(cfg); err != nil {
		return err
	}

	mode := ModeSMP
	if s.sel.Kind() == KindPIC {
		mode = ModeUP
	}
	r := route.NewRouter(mode, s.sel)
	r.SetLogger(s.logger)
	r.SetGate(s.gate)

	if mode == ModeUP {
		r.SetPIC(s.picDrv)
	} else {
		apics := make([]route.IOAPIC, 0, len(ioapicBases))
		for i, base := range ioapicBases {
			regs, err := s.hardware.MMIO.Map(base, 0x20)
			if err != nil {
				return err
			}
			drv, err := ioapic.New(regs, gsiBases[i])
			if err != nil {
				return err
			}
			apics = append(apics, drv)
		}
		r.SetIOAPICs(apics)
	}

	s.router = r
	return nil
}

// BootstrapMachine bootstraps from a YAML machine description.
func (s *System) BootstrapMachine(m *Machine) error {
	switch m.Controller {
	case "pic":
		return s.Bootstrap(PICConfig{}, nil, nil)
	case "lapic", "x2apic":
		bases := make([]uint64, len(m.IOAPICs))
		gsis := make([]uint32, len(m.IOAPICs))
		for i, a := range m.IOAPICs {
			bases[i] = a.Base
			gsis[i] = a.GSIBase
		}
		if m.Controller == "lapic" {
			return s.Bootstrap(LAPICConfig{Base: m.LAPICBase}, bases, gsis)
		}
		return s.Bootstrap(X2APICConfig{}, bases, gsis)
	default:
		panic("intr: unknown ic type")
	}
}

// BootstrapMADT bootstraps from a parsed ACPI topology, preferring the
// x2APIC when the caller reports support for it.
func (s *System) BootstrapMADT(m *MADT, x2 bool) error {
	bases := make([]uint64, len(m.IOAPICs))
	gsis := make([]uint32, len(m.IOAPICs))
	for i, a := range m.IOAPICs {
		bases[i] = uint64(a.Address)
		gsis[i] = a.GSIBase
	}
	if x2 {
		return s.Bootstrap(X2APICConfig{}, bases, gsis)
	}
	return s.Bootstrap(LAPICConfig{Base: m.LAPICBase}, bases, gsis)
}

// Kind returns the active controller family.
func (s *System) Kind() Kind {
	return s.sel.Kind()
}

// APInit performs per-CPU controller init on an application processor.
func (s *System) APInit() error {
	return s.sel.APInit()
}

// Ack tells the active controller the current interrupt has been
// serviced.
func (s *System) Ack(v Vector) {
	s.sel.Ack(v)
}

// SendIPI sends an INIT inter-processor interrupt to the named CPU.
func (s *System) SendIPI(dest uint32) {
	s.sel.SendIPI(dest)
}

// SendStartupIPI sends a STARTUP IPI carrying the physical page of the
// application processor bootstrap trampoline.
func (s *System) SendStartupIPI(dest uint32, trampolinePage uint8) {
	s.sel.SendStartupIPI(dest, trampolinePage)
}

func (s *System) mustRouter() *route.Router {
	if s.router == nil {
		panic("intr: no interrupt controller initialised")
	}
	return s.router
}

// Dispatch services one hardware interrupt from the trap entry path.
func (s *System) Dispatch(f *Frame) {
	s.mustRouter().Dispatch(f)
}

// RouteVector appends handler to the vector's chain.
func (s *System) RouteVector(v Vector, handler Handler) error {
	return s.mustRouter().RouteVector(v, handler)
}

// UnrouteVector removes the first chain entry equal to handler.
func (s *System) UnrouteVector(v Vector, handler Handler) {
	s.mustRouter().UnrouteVector(v, handler)
}

// RouteIRQ resolves a logical IRQ for the current topology, registers
// the handler and arms the hardware.
func (s *System) RouteIRQ(t Tuple, handler Handler) error {
	return s.mustRouter().RouteIRQ(t, handler)
}

// UnrouteIRQ detaches a handler from a logical IRQ, disarming the
// hardware line when appropriate.
func (s *System) UnrouteIRQ(t Tuple, handler Handler) error {
	return s.mustRouter().UnrouteIRQ(t, handler)
}
