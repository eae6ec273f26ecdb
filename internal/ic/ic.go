// Package ic selects and drives the active interrupt controller family.
//
// Exactly one of the three mutually incompatible delivery mechanisms —
// the legacy 8259 pair, the local APIC or the x2APIC — is chosen during
// bootstrap processor init. Every later acknowledge/IPI/AP-init call
// branches on that choice and forwards to the matching backend. The
// choice is terminal: there is no way to reselect short of restarting.
package ic

import (
	"fmt"
	"log/slog"

	"github.com/tinyrange/intc/internal/vec"
)

// Kind identifies the active controller family.
type Kind int

const (
	KindNone Kind = iota
	KindPIC
	KindLAPIC
	KindX2APIC
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindPIC:
		return "pic"
	case KindLAPIC:
		return "lapic"
	case KindX2APIC:
		return "x2apic"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// IPI delivery modes as encoded in the interrupt command register.
const (
	DeliverInit    uint8 = 0x05
	DeliverStartup uint8 = 0x06
)

// PIC is the contract consumed from the legacy 8259 driver.
type PIC interface {
	Init() error
	Ack(irq uint8)
	Mask(irq uint8)
	Unmask(irq uint8)
}

// LocalAPIC is the contract consumed from the xAPIC driver. MapAndInit
// runs once on the bootstrap processor and maps the controller's MMIO
// window; Init runs on every application processor, which has its own
// controller instance at the same address.
type LocalAPIC interface {
	MapAndInit(base uint64) error
	Init() error
	Ack()
	SendIPI(dest uint32, mode, vector uint8)
}

// X2APIC is the contract consumed from the x2APIC driver. No mapping
// step: the controller is reached through MSRs.
type X2APIC interface {
	Init() error
	Ack()
	SendIPI(dest uint32, mode, vector uint8)
}

// Backends bundles the controller drivers a Selector can forward to.
// Only the backend matching the bootstrapped Config is ever touched.
type Backends struct {
	PIC    PIC
	LAPIC  LocalAPIC
	X2APIC X2APIC
}

// Config selects a controller family at bootstrap. It is a closed set:
// PICConfig, LAPICConfig or X2APICConfig.
type Config interface {
	kind() Kind
}

// PICConfig selects the legacy 8259 pair.
type PICConfig struct{}

// LAPICConfig selects the local APIC. Base is the physical address of
// the controller's register window.
type LAPICConfig struct {
	Base uint64
}

// X2APICConfig selects the extended x2APIC.
type X2APICConfig struct{}

func (PICConfig) kind() Kind    { return KindPIC }
func (LAPICConfig) kind() Kind  { return KindLAPIC }
func (X2APICConfig) kind() Kind { return KindX2APIC }

// Selector is the process-wide topology handle. The zero-valued kind is
// KindNone; BootstrapInit performs the single transition out of it.
type Selector struct {
	kind     Kind
	backends Backends
	logger   *slog.Logger
}

// NewSelector returns an uninitialised Selector over the given drivers.
func NewSelector(backends Backends) *Selector {
	return &Selector{
		backends: backends,
		logger:   slog.Default(),
	}
}

// SetLogger overrides the logger used for bring-up events.
func (s *Selector) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Kind returns the active controller family.
func (s *Selector) Kind() Kind {
	return s.kind
}

// BootstrapInit configures the controller family for the lifetime of
// the process. It must be called exactly once, on the bootstrap
// processor, before any other operation; a second call panics. Backend
// init failures are returned to the caller and leave the Selector
// uninitialised.
func (s *Selector) BootstrapInit(cfg Config) error {
	if s.kind != KindNone {
		panic("intr: interrupt controller already initialised")
	}
	if cfg == nil {
		panic("intr: unknown ic type")
	}

	switch cfg := cfg.(type) {
	case PICConfig:
		if err := s.backends.PIC.Init(); err != nil {
			return fmt.Errorf("ic: pic init: %w", err)
		}
	case LAPICConfig:
		if err := s.backends.LAPIC.MapAndInit(cfg.Base); err != nil {
			return fmt.Errorf("ic: lapic init: %w", err)
		}
	case X2APICConfig:
		if err := s.backends.X2APIC.Init(); err != nil {
			return fmt.Errorf("ic: x2apic init: %w", err)
		}
	default:
		panic("intr: unknown ic type")
	}

	s.kind = cfg.kind()
	s.logger.Debug("interrupt controller selected", "kind", s.kind.String())
	return nil
}

// APInit performs per-CPU controller init on an application processor.
// The legacy PIC belongs to the bootstrap processor alone, so it is a
// no-op there; each APIC-family CPU carries its own controller and gets
// a full init.
func (s *Selector) APInit() error {
	switch s.kind {
	case KindNone:
		panic("intr: no interrupt controller initialised")
	case KindLAPIC:
		if err := s.backends.LAPIC.Init(); err != nil {
			return fmt.Errorf("ic: ap lapic init: %w", err)
		}
	case KindX2APIC:
		if err := s.backends.X2APIC.Init(); err != nil {
			return fmt.Errorf("ic: ap x2apic init: %w", err)
		}
	}
	return nil
}

// Ack tells the active backend the current interrupt has been serviced.
// Vectors outside the backend's maskable IRQ range are ignored:
// acknowledgment means nothing for faults and software vectors.
func (s *Selector) Ack(v vec.Vector) {
	switch s.kind {
	case KindNone:
		panic("intr: no interrupt controller initialised")
	case KindPIC:
		if v >= vec.IRQ0 && v <= vec.IRQ15 {
			s.backends.PIC.Ack(v.IRQ())
		}
	case KindLAPIC:
		if v >= vec.IRQ0 && v <= vec.IRQ23 {
			s.backends.LAPIC.Ack()
		}
	case KindX2APIC:
		if v >= vec.IRQ0 && v <= vec.IRQ23 {
			s.backends.X2APIC.Ack()
		}
	}
}

// SendIPI sends an INIT inter-processor interrupt to the named CPU.
func (s *Selector) SendIPI(dest uint32) {
	switch s.kind {
	case KindNone:
		panic("intr: no interrupt controller initialised")
	case KindPIC:
		panic("intr: 8259 PICs do not support IPIs")
	case KindLAPIC:
		s.backends.LAPIC.SendIPI(dest, DeliverInit, 0)
	case KindX2APIC:
		s.backends.X2APIC.SendIPI(dest, DeliverInit, 0)
	}
}

// SendStartupIPI sends a STARTUP IPI carrying the physical page of the
// application processor bootstrap trampoline.
func (s *Selector) SendStartupIPI(dest uint32, trampolinePage uint8) {
	switch s.kind {
	case KindNone:
		panic("intr: no interrupt controller initialised")
	case KindPIC:
		panic("intr: 8259 PICs do not support IPIs")
	case KindLAPIC:
		s.backends.LAPIC.SendIPI(dest, DeliverStartup, trampolinePage)
	case KindX2APIC:
		s.backends.X2APIC.SendIPI(dest, DeliverStartup, trampolinePage)
	}
}
