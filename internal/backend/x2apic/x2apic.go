// Package x2apic drives the extended local APIC through its MSR
// interface. No mapping step is needed: the register block sits at MSR
// 0x800 and the destination field of the interrupt command register
// widens to a full 32-bit APIC ID.
package x2apic

import (
	"github.com/tinyrange/intc/internal/hw"
	"github.com/tinyrange/intc/internal/vec"
)

const (
	msrAPICBase uint32 = 0x01B
	msrID       uint32 = 0x802
	msrEOI      uint32 = 0x80B
	msrSVR      uint32 = 0x80F
	msrICR      uint32 = 0x830
)

const (
	apicBaseEnable uint64 = 1 << 11
	apicBaseExtd   uint64 = 1 << 10

	svrEnable uint64 = 1 << 8

	icrLevelAssert   uint64 = 1 << 14
	icrDeliveryShift        = 8
	icrDestShift            = 32
)

// Driver programs the x2APIC of the calling CPU.
type Driver struct {
	msr hw.MSR
}

// New returns a driver over the given MSR access.
func New(msr hw.MSR) *Driver {
	return &Driver{msr: msr}
}

// Init switches the calling CPU's APIC into x2APIC mode and enables it
// through the spurious vector register. Runs on the bootstrap
// processor and on every application processor alike.
func (d *Driver) Init() error {
	base := d.msr.Read(msrAPICBase)
	d.msr.Write(msrAPICBase, base|apicBaseEnable|apicBaseExtd)
	d.msr.Write(msrSVR, svrEnable|uint64(vec.Spurious))
	return nil
}

// ID returns the 32-bit APIC ID of the calling CPU.
func (d *Driver) ID() uint32 {
	return uint32(d.msr.Read(msrID))
}

// Ack signals end-of-interrupt for the in-service interrupt.
func (d *Driver) Ack() {
	d.msr.Write(msrEOI, 0)
}

// SendIPI writes an inter-processor interrupt into the interrupt
// command register. Unlike the xAPIC the whole command is one MSR
// write and the hardware reports no delivery status to poll.
func (d *Driver) SendIPI(dest uint32, mode, vector uint8) {
	d.msr.Write(msrICR,
		uint64(dest)<<icrDestShift|
			uint64(mode)<<icrDeliveryShift|
			icrLevelAssert|
			uint64(vector))
}
