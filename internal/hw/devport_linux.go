//go:build linux

package hw

import (
	"fmt"
	"log/slog"

	"golang.org/x/sys/unix"
)

// DevPort implements PortIO on top of /dev/port. It needs CAP_SYS_RAWIO
// and is mainly useful for poking controllers from a privileged
// userspace bring-up harness.
type DevPort struct {
	fd     int
	logger *slog.Logger
}

// OpenDevPort opens /dev/port for read/write access.
func OpenDevPort() (*DevPort, error) {
	fd, err := unix.Open("/dev/port", unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("hw: open /dev/port: %w", err)
	}
	return &DevPort{fd: fd, logger: slog.Default()}, nil
}

// SetLogger overrides the logger used for I/O failures.
func (p *DevPort) SetLogger(logger *slog.Logger) {
	if logger != nil {
		p.logger = logger
	}
}

// Inb implements PortIO. Read failures are logged and return 0xFF, the
// value an unterminated ISA bus floats to.
func (p *DevPort) Inb(port uint16) uint8 {
	var buf [1]byte
	if _, err := unix.Pread(p.fd, buf[:], int64(port)); err != nil {
		p.logger.Warn("port read failed", "port", fmt.Sprintf("0x%04x", port), "err", err)
		return 0xFF
	}
	return buf[0]
}

// Outb implements PortIO.
func (p *DevPort) Outb(port uint16, value uint8) {
	if _, err := unix.Pwrite(p.fd, []byte{value}, int64(port)); err != nil {
		p.logger.Warn("port write failed", "port", fmt.Sprintf("0x%04x", port), "err", err)
	}
}

// Close releases the underlying file descriptor.
func (p *DevPort) Close() error {
	return unix.Close(p.fd)
}

var _ PortIO = (*DevPort)(nil)
