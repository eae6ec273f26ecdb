//go:build linux

package main

import (
	"fmt"
	"log/slog"

	intc "github.com/tinyrange/intc"
	"github.com/tinyrange/intc/internal/hw"
)

// programPIC remaps and masks the real 8259 pair through /dev/port.
// Needs CAP_SYS_RAWIO; everything stays masked afterwards, so this is
// only safe on a machine that is about to hand the lines to a kernel.
func programPIC() error {
	ports, err := hw.OpenDevPort()
	if err != nil {
		return err
	}
	defer ports.Close()

	sys := intc.New(intc.Hardware{Ports: ports})
	if err := sys.Bootstrap(intc.PICConfig{}, nil, nil); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	slog.Info("8259 pair remapped and masked", "base", uint8(intc.IRQ0))
	return nil
}
