//go:build !linux

package main

import "fmt"

func programPIC() error {
	return fmt.Errorf("-program requires linux (/dev/port)")
}
