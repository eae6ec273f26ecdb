// Package route maintains the live table mapping interrupt vectors to
// chains of kernel handlers and dispatches hardware interrupts into it.
//
// The table is one process-wide resource guarded by a single
// reader-writer lock. Dispatch runs in interrupt context and takes the
// lock for read, so different CPUs can dispatch concurrently. Mutation
// takes it for write, and must mask local interrupt delivery first: an
// interrupt landing on a CPU that holds the write lock would read-lock
// the same table and deadlock against itself. The Gate interface models
// that masking step; both levels are released in reverse order on every
// exit path.
package route

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tinyrange/intc/internal/vec"
)

// Mode is the execution topology the router resolves logical IRQs
// under.
type Mode int

const (
	// ModeUP routes through the legacy 8259 pair: 16 lines, one CPU.
	ModeUP Mode = iota
	// ModeSMP routes through the I/O APICs.
	ModeSMP
)

// Sentinel errors reported by the IRQ-level routing calls.
var (
	// ErrTableFull is returned when the handler arena is exhausted.
	ErrTableFull = errors.New("route: handler table full")
	// ErrBadIRQ is returned in uniprocessor mode for IRQs the 8259
	// pair has no line for.
	ErrBadIRQ = errors.New("route: irq not routable on this topology")
	// ErrNoIOAPIC is returned in multiprocessor mode when no
	// registered I/O APIC covers the IRQ.
	ErrNoIOAPIC = errors.New("route: no I/O APIC owns this irq")
)

// Regs is the CPU register state saved on interrupt entry.
type Regs struct {
	RAX, RBX, RCX, RDX uint64
	RSI, RDI, RBP, RSP uint64
	R8, R9, R10, R11   uint64
	R12, R13, R14, R15 uint64
	RIP, RFlags        uint64
}

// Frame carries the resolved vector and saved CPU state through
// dispatch. Handlers may mutate Regs; the trap exit path restores from
// it.
type Frame struct {
	Vector    vec.Vector
	ErrorCode uint64
	Regs      Regs
}

// Handler services one interrupt delivery. Handler values are compared
// by interface identity when unrouting, so implementations must be
// comparable — register a pointer, not a func-backed value. A handler
// runs under the table's read lock and must not route or unroute
// synchronously for the vector being dispatched.
type Handler interface {
	HandleInterrupt(*Frame)
}

// Acknowledger is the slice of the topology selector dispatch needs.
type Acknowledger interface {
	Ack(v vec.Vector)
}

// PICLines is the slice of the 8259 driver used to arm and disarm
// legacy lines in uniprocessor mode.
type PICLines interface {
	Mask(irq uint8)
	Unmask(irq uint8)
}

// Tuple is a logical IRQ routing request: the line plus the
// controller-specific delivery attributes discovered for it.
type Tuple struct {
	IRQ            uint8
	ActiveLow      bool
	LevelTriggered bool
	// Dest is the APIC ID of the CPU the line should target in
	// multiprocessor mode.
	Dest uint32
}

// IOAPIC describes one registered I/O APIC: the half-open global
// system interrupt range it covers and the operations to program or
// mask a redirection for a tuple.
type IOAPIC interface {
	GSIBase() uint32
	Pins() uint32
	Program(t Tuple, v vec.Vector) error
	MaskPin(t Tuple) error
}

// Gate masks local interrupt delivery on the calling CPU around table
// mutation. Disable and Restore are strictly paired and may nest the
// way the caller's platform allows.
type Gate interface {
	Disable()
	Restore()
}

type nopGate struct{}

func (nopGate) Disable() {}
func (nopGate) Restore() {}

// NopGate returns a Gate for environments where local delivery cannot
// preempt the caller (tests, single-threaded bring-up).
func NopGate() Gate {
	return nopGate{}
}

// DefaultCapacity is the default size of the handler entry arena.
const DefaultCapacity = 256

// Router is the routing table plus its dispatcher.
type Router struct {
	mode   Mode
	ack    Acknowledger
	pic    PICLines
	apics  []IOAPIC
	gate   Gate
	logger *slog.Logger

	mu       sync.RWMutex
	chains   [vec.Count][]Handler
	capacity int
	used     int
}

// NewRouter returns an empty routing table for the given topology.
// The acknowledger must not be nil; dispatch forwards every live
// hardware interrupt to it.
func NewRouter(mode Mode, ack Acknowledger) *Router {
	if ack == nil {
		panic("intr: router needs an acknowledger")
	}
	return &Router{
		mode:     mode,
		ack:      ack,
		gate:     nopGate{},
		logger:   slog.Default(),
		capacity: DefaultCapacity,
	}
}

// SetPIC wires the legacy line driver used by uniprocessor routing.
func (r *Router) SetPIC(lines PICLines) {
	r.pic = lines
}

// SetIOAPICs records the externally owned, ordered I/O APIC registry.
// The router only ever scans it; it is never mutated here.
func (r *Router) SetIOAPICs(apics []IOAPIC) {
	r.apics = apics
}

// SetGate installs the local-interrupt gate taken before the write
// lock.
func (r *Router) SetGate(g Gate) {
	if g == nil {
		g = nopGate{}
	}
	r.gate = g
}

// SetLogger overrides the logger used for routing decisions.
func (r *Router) SetLogger(logger *slog.Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// SetCapacity resizes the handler entry arena. Entries already
// registered stay registered even if the new capacity is smaller.
func (r *Router) SetCapacity(n int) {
	r.lockMut()
	defer r.unlockMut()
	r.capacity = n
}

// lockMut acquires the mutation lock pair in the mandatory order:
// local interrupts off, then the write lock.
func (r *Router) lockMut() {
	r.gate.Disable()
	r.mu.Lock()
}

// unlockMut releases in reverse order.
func (r *Router) unlockMut() {
	r.mu.Unlock()
	r.gate.Restore()
}

// Dispatch services one hardware interrupt. It acknowledges the
// delivery with the active controller where that is meaningful, then
// invokes every registered handler for the vector in insertion order.
// An interrupt with nobody registered is a configuration bug and
// panics.
//
// Dispatch runs in interrupt context: it never blocks beyond the
// table's read lock and local delivery is already masked, so no gate is
// taken.
func (r *Router) Dispatch(f *Frame) {
	v := f.Vector
	if r.mode == ModeSMP {
		if v > vec.Fault31 && v != vec.Spurious {
			r.ack.Ack(v)
		}
	} else {
		if v >= vec.IRQ0 && v <= vec.IRQ15 {
			r.ack.Ack(v)
		}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	chain := r.chains[v]
	if len(chain) == 0 {
		panic(fmt.Sprintf("intr: unhandled interrupt %d", v))
	}
	for _, h := range chain {
		h.HandleInterrupt(f)
	}
}

// RouteVector appends handler to the vector's chain. Duplicate
// registrations are permitted and will all fire, in registration
// order. Fails only when the handler arena is exhausted.
func (r *Router) RouteVector(v vec.Vector, handler Handler) error {
	r.lockMut()
	defer r.unlockMut()
	return r.routeLocked(v, handler)
}

// UnrouteVector removes the first chain entry equal to handler. A
// handler that was never registered is a silent no-op; of several
// identical registrations only one is removed per call.
func (r *Router) UnrouteVector(v vec.Vector, handler Handler) {
	r.lockMut()
	defer r.unlockMut()
	r.unrouteLocked(v, handler)
}

func (r *Router) routeLocked(v vec.Vector, handler Handler) error {
	if r.used >= r.capacity {
		return ErrTableFull
	}
	r.used++
	r.chains[v] = append(r.chains[v], handler)
	return nil
}

func (r *Router) unrouteLocked(v vec.Vector, handler Handler) {
	chain := r.chains[v]
	for i, h := range chain {
		if h == handler {
			r.chains[v] = append(chain[:i], chain[i+1:]...)
			r.used--
			return
		}
	}
}

// ownerLocked scans the registry for the I/O APIC whose covered range
// contains the global system interrupt.
func (r *Router) ownerLocked(gsi uint32) IOAPIC {
	for _, apic := range r.apics {
		base := apic.GSIBase()
		if gsi >= base && gsi < base+apic.Pins() {
			return apic
		}
	}
	return nil
}

// RouteIRQ resolves the logical IRQ to a vector for the current
// topology, registers the handler and arms the hardware.
//
// Uniprocessor: only IRQ 0-15 resolve, to IRQ0+irq; on success the
// line is unmasked in the PIC. Multiprocessor: the vector wraps around
// the IRQ window and the owning I/O APIC is programmed with the
// tuple's attributes after the table mutation; if programming fails
// the registration is rolled back so no partial state survives.
func (r *Router) RouteIRQ(t Tuple, handler Handler) error {
	r.lockMut()
	defer r.unlockMut()

	if r.mode == ModeUP {
		if t.IRQ >= 16 {
			return fmt.Errorf("%w: irq %d in uniprocessor mode", ErrBadIRQ, t.IRQ)
		}
		v := vec.IRQ0 + vec.Vector(t.IRQ)
		if err := r.routeLocked(v, handler); err != nil {
			return err
		}
		r.pic.Unmask(t.IRQ)
		r.logger.Debug("routed legacy irq", "irq", t.IRQ, "vector", uint8(v))
		return nil
	}

	v := vec.ForGSI(uint32(t.IRQ))
	apic := r.ownerLocked(uint32(t.IRQ))
	if apic == nil {
		return fmt.Errorf("%w: irq %d", ErrNoIOAPIC, t.IRQ)
	}
	if err := r.routeLocked(v, handler); err != nil {
		return err
	}
	if err := apic.Program(t, v); err != nil {
		r.unrouteLocked(v, handler)
		return fmt.Errorf("route: program irq %d: %w", t.IRQ, err)
	}
	r.logger.Debug("routed irq", "irq", t.IRQ, "vector", uint8(v), "gsi_base", apic.GSIBase())
	return nil
}

// UnrouteIRQ mirrors RouteIRQ's resolution but unwinds in the opposite
// order. Uniprocessor: the handler is removed first, and the PIC line
// is masked only once the chain is empty, so a line shared by another
// handler stays live. Multiprocessor: the I/O APIC redirection is
// masked before the removal, so the hardware cannot deliver into a
// chain that is about to change; the removal then proceeds even if
// masking failed, and the mask error is reported afterwards.
func (r *Router) UnrouteIRQ(t Tuple, handler Handler) error {
	r.lockMut()
	defer r.unlockMut()

	if r.mode == ModeUP {
		if t.IRQ >= 16 {
			return fmt.Errorf("%w: irq %d in uniprocessor mode", ErrBadIRQ, t.IRQ)
		}
		v := vec.IRQ0 + vec.Vector(t.IRQ)
		r.unrouteLocked(v, handler)
		if len(r.chains[v]) == 0 {
			r.pic.Mask(t.IRQ)
		}
		return nil
	}

	v := vec.ForGSI(uint32(t.IRQ))
	apic := r.ownerLocked(uint32(t.IRQ))
	if apic == nil {
		return fmt.Errorf("%w: irq %d", ErrNoIOAPIC, t.IRQ)
	}
	maskErr := apic.MaskPin(t)
	r.unrouteLocked(v, handler)
	if maskErr != nil {
		return fmt.Errorf("route: mask irq %d: %w", t.IRQ, maskErr)
	}
	return nil
}

// ChainLen reports the number of handlers registered for a vector.
func (r *Router) ChainLen(v vec.Vector) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.chains[v])
}
