package emu

import (
	"encoding/gob"
	"fmt"
)

// Snapshot is an opaque serialisable capture of a model's state.
type Snapshot any

func init() {
	// Register snapshot types so whole-machine captures can be gob
	// encoded alongside other device state.
	gob.Register(&dualPICSnapshot{})
	gob.Register(&ioapicSnapshot{})
}

type pic8259Snapshot struct {
	InitStage  int
	VectorBase uint8
	IMR        uint8
	ISR        uint8
	ELCR       uint8
	Lines      uint8
	LineLow    uint8
	ReadISR    bool
}

type dualPICSnapshot struct {
	Primary   pic8259Snapshot
	Secondary pic8259Snapshot
	Stats     PICStats
}

// CaptureSnapshot returns a restorable copy of the pair's state.
func (p *DualPIC) CaptureSnapshot() (Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return &dualPICSnapshot{
		Primary:   p.pics[0].capture(),
		Secondary: p.pics[1].capture(),
		Stats:     p.stats,
	}, nil
}

// RestoreSnapshot replaces the pair's state with a previous capture.
func (p *DualPIC) RestoreSnapshot(snap Snapshot) error {
	data, ok := snap.(*dualPICSnapshot)
	if !ok {
		return fmt.Errorf("emu: invalid pic snapshot type %T", snap)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pics[0].restore(data.Primary)
	p.pics[1].restore(data.Secondary)
	p.stats = data.Stats
	p.syncOutputLocked()
	return nil
}

func (p *pic8259) capture() pic8259Snapshot {
	return pic8259Snapshot{
		InitStage:  int(p.initStage),
		VectorBase: p.vectorBase,
		IMR:        p.imr,
		ISR:        p.isr,
		ELCR:       p.elcr,
		Lines:      p.lines,
		LineLow:    p.lineLow,
		ReadISR:    p.readISR,
	}
}

func (p *pic8259) restore(snap pic8259Snapshot) {
	p.initStage = picInitStage(snap.InitStage)
	p.vectorBase = snap.VectorBase
	p.imr = snap.IMR
	p.isr = snap.ISR
	p.elcr = snap.ELCR
	p.lines = snap.Lines
	p.lineLow = snap.LineLow
	p.readISR = snap.ReadISR
}

type ioapicEntrySnapshot struct {
	Value     uint64
	LineLevel bool
}

type ioapicSnapshot struct {
	Index   uint8
	ID      uint8
	Entries []ioapicEntrySnapshot
}

// CaptureSnapshot returns a restorable copy of the controller's state.
func (a *IOAPIC) CaptureSnapshot() (Snapshot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	snap := &ioapicSnapshot{
		Index:   a.index,
		ID:      a.id,
		Entries: make([]ioapicEntrySnapshot, len(a.entries)),
	}
	for i, entry := range a.entries {
		snap.Entries[i] = ioapicEntrySnapshot{
			Value:     entry.value,
			LineLevel: entry.lineLevel,
		}
	}
	return snap, nil
}

// RestoreSnapshot replaces the controller's state with a previous
// capture.
func (a *IOAPIC) RestoreSnapshot(snap Snapshot) error {
	data, ok := snap.(*ioapicSnapshot)
	if !ok {
		return fmt.Errorf("emu: invalid ioapic snapshot type %T", snap)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(data.Entries) != len(a.entries) {
		return fmt.Errorf("emu: ioapic snapshot entry count mismatch: got %d, want %d",
			len(data.Entries), len(a.entries))
	}
	a.index = data.Index
	a.id = data.ID
	for i, entry := range data.Entries {
		a.entries[i].value = entry.Value
		a.entries[i].lineLevel = entry.LineLevel
	}
	return nil
}
