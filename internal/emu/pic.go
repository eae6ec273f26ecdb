// Package emu provides register-accurate models of the interrupt
// controllers the drivers program. The models implement the contracts
// in internal/hw, so driver tests and end-to-end scenarios run the
// real programming sequences against observable state instead of
// hand-rolled fakes.
package emu

import (
	"fmt"
	"math/bits"
	"sync"

	"github.com/tinyrange/intc/internal/hw"
)

const (
	primaryCommandPort   uint16 = 0x20
	primaryDataPort      uint16 = 0x21
	secondaryCommandPort uint16 = 0xA0
	secondaryDataPort    uint16 = 0xA1

	cascadeLine  = 2
	lineMask     = 0x7
	spuriousLine = 7
)

// PICStats counts acknowledge traffic through the pair.
type PICStats struct {
	Acknowledges       uint64
	SpuriousInterrupts uint64
}

// DualPIC models the classic pair of cascaded 8259A controllers. Port
// reads and writes implement hw.PortIO; interrupt sources drive
// SetIRQ; the CPU side consumes Acknowledge.
type DualPIC struct {
	mu     sync.Mutex
	output func(level bool)

	pics  [2]*pic8259
	stats PICStats
}

// NewDualPIC returns a pair in the unprogrammed reset state.
func NewDualPIC() *DualPIC {
	return &DualPIC{
		pics: [2]*pic8259{
			newPIC8259(true),
			newPIC8259(false),
		},
	}
}

// SetOutput wires the primary controller's INT output line.
func (p *DualPIC) SetOutput(fn func(level bool)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.output = fn
	p.syncOutputLocked()
}

// Stats returns a copy of the acknowledge counters.
func (p *DualPIC) Stats() PICStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Inb implements hw.PortIO.
func (p *DualPIC) Inb(port uint16) uint8 {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch port {
	case primaryCommandPort:
		return p.pics[0].readCommand()
	case primaryDataPort:
		return p.pics[0].imr
	case secondaryCommandPort:
		return p.pics[1].readCommand()
	case secondaryDataPort:
		return p.pics[1].imr
	default:
		return 0xFF
	}
}

// Outb implements hw.PortIO.
func (p *DualPIC) Outb(port uint16, value uint8) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch port {
	case primaryCommandPort:
		p.pics[0].writeCommand(value)
	case primaryDataPort:
		p.pics[0].writeData(value)
	case secondaryCommandPort:
		p.pics[1].writeCommand(value)
	case secondaryDataPort:
		p.pics[1].writeData(value)
	}
	p.syncOutputLocked()
}

// SetIRQ changes the level of one of the sixteen input lines.
func (p *DualPIC) SetIRQ(line uint8, high bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if line >= 16 {
		return
	}
	if line >= 8 {
		p.pics[1].setIRQ(line-8, high)
	} else {
		p.pics[0].setIRQ(line, high)
	}
	p.syncOutputLocked()
}

// Acknowledge models the CPU's interrupt-acknowledge cycle. It reports
// whether a real interrupt was pending and the vector to deliver;
// spurious acknowledges return false with the spurious vector.
func (p *DualPIC) Acknowledge() (bool, uint8) {
	p.mu.Lock()
	defer p.mu.Unlock()

	requested, vector := p.pics[0].acknowledge()
	if requested && vector&lineMask == cascadeLine {
		secRequested, secVector := p.pics[1].acknowledge()
		if !secRequested {
			p.stats.SpuriousInterrupts++
			p.syncOutputLocked()
			return false, secVector
		}
		vector = secVector
		p.stats.Acknowledges++
	} else if requested {
		p.stats.Acknowledges++
	} else {
		p.stats.SpuriousInterrupts++
	}
	p.syncOutputLocked()
	return requested, vector
}

// InService reports whether the given line is currently in service.
func (p *DualPIC) InService(line uint8) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if line >= 16 {
		return false
	}
	if line >= 8 {
		return p.pics[1].isr&(1<<(line-8)) != 0
	}
	return p.pics[0].isr&(1<<line) != 0
}

// Masked reports whether the given line is masked in the IMR.
func (p *DualPIC) Masked(line uint8) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if line >= 16 {
		return true
	}
	if line >= 8 {
		return p.pics[1].imr&(1<<(line-8)) != 0
	}
	return p.pics[0].imr&(1<<line) != 0
}

func (p *DualPIC) syncOutputLocked() {
	p.pics[0].setIRQ(cascadeLine, p.pics[1].pending())
	if p.output != nil {
		p.output(p.pics[0].pending())
	}
}

func (p *DualPIC) String() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return fmt.Sprintf("DualPIC(primary=%v, secondary=%v)", p.pics[0], p.pics[1])
}

var _ hw.PortIO = (*DualPIC)(nil)

// pic8259 models a single 8259A.
type pic8259 struct {
	primary bool

	initStage  picInitStage
	vectorBase uint8
	imr        uint8
	isr        uint8
	elcr       uint8
	lines      uint8
	lineLow    uint8
	readISR    bool
}

func newPIC8259(primary bool) *pic8259 {
	base := uint8(0)
	if !primary {
		base = 8
	}
	return &pic8259{
		primary:    primary,
		vectorBase: base,
		lineLow:    0xFF,
	}
}

func (p *pic8259) reset() {
	lines := p.lines
	elcr := p.elcr
	*p = *newPIC8259(p.primary)
	p.lines = lines
	p.elcr = elcr
}

// irr derives the request register from line levels: level-triggered
// lines follow the level, edge-triggered lines latch a low-to-high
// transition.
func (p *pic8259) irr() uint8 {
	return p.lines & (p.elcr | p.lineLow)
}

func (p *pic8259) setIRQ(line uint8, high bool) {
	bit := uint8(1) << line
	if high {
		p.lines |= bit
	} else {
		p.lines &^= bit
		p.lineLow |= bit
	}
}

// readyVec returns the unmasked requests of higher priority than
// anything currently in service.
func (p *pic8259) readyVec() uint8 {
	highestISR := p.isr & uint8(-int8(p.isr))
	higherNotISR := highestISR - 1
	return p.irr() &^ p.imr & higherNotISR
}

func (p *pic8259) pending() bool {
	return p.readyVec() != 0
}

func (p *pic8259) acknowledge() (bool, uint8) {
	if ready := p.readyVec(); ready != 0 {
		line := uint8(bits.TrailingZeros8(ready))
		bit := uint8(1) << line
		p.lineLow &^= bit
		p.isr |= bit
		return true, p.vectorBase | line
	}
	return false, p.vectorBase | spuriousLine
}

func (p *pic8259) eoi(line *uint8) {
	if line != nil {
		p.isr &^= 1 << *line
		return
	}
	p.isr &^= p.isr & uint8(-int8(p.isr))
}

func (p *pic8259) readCommand() uint8 {
	if p.readISR {
		return p.isr
	}
	return p.irr()
}

func (p *pic8259) writeCommand(value uint8) {
	const (
		icw1Bit  = 0x10
		ocw3Bit  = 0x08
		eoiBit   = 0x20
		selBit   = 0x40
		ocw3Read = 0x02
		ocw3ISR  = 0x01
	)

	if value&icw1Bit != 0 {
		p.reset()
		p.initStage = picExpectICW2
		return
	}

	if p.initStage != picInitialized && p.initStage != picUnprogrammed {
		// OCWs delivered mid-init are ignored.
		return
	}

	if value&ocw3Bit != 0 {
		if value&ocw3Read != 0 {
			p.readISR = value&ocw3ISR != 0
		}
		return
	}

	switch {
	case value&eoiBit != 0 && value&selBit != 0:
		line := value & lineMask
		p.eoi(&line)
	case value&eoiBit != 0:
		p.eoi(nil)
	}
}

func (p *pic8259) writeData(value uint8) {
	switch p.initStage {
	case picUnprogrammed, picInitialized:
		p.imr = value
	case picExpectICW2:
		if value&lineMask != 0 {
			return
		}
		p.vectorBase = value
		p.initStage = picExpectICW3
	case picExpectICW3:
		if p.primary {
			if value != 1<<cascadeLine {
				return
			}
		} else if value != cascadeLine {
			return
		}
		p.initStage = picExpectICW4
	case picExpectICW4:
		if value != 1 && value != 3 {
			return
		}
		p.initStage = picInitialized
	}
}

func (p *pic8259) String() string {
	return fmt.Sprintf("pic8259(base=%#x imr=%#08b isr=%#08b irr=%#08b)",
		p.vectorBase, p.imr, p.isr, p.irr())
}

type picInitStage int

const (
	picUnprogrammed picInitStage = iota
	picExpectICW2
	picExpectICW3
	picExpectICW4
	picInitialized
)
