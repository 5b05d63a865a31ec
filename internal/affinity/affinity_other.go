//go:build !linux

// Package affinity pins the calling OS thread to a logical core.
package affinity

import "runtime"

// Pin is a no-op off linux.
func Pin(coreID int) error {
	return nil
}

// Current reports every core off linux.
func Current() ([]int, error) {
	cores := make([]int, runtime.NumCPU())
	for i := range cores {
		cores[i] = i
	}
	return cores, nil
}
