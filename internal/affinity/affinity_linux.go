//go:build linux

// Package affinity pins the calling OS thread to a logical core.
package affinity

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// maxCPUs is CPU_SETSIZE.
const maxCPUs = 1024

// Pin restricts the calling thread to coreID. The caller must hold the
// thread with runtime.LockOSThread.
func Pin(coreID int) error {
	if coreID < 0 {
		return fmt.Errorf("invalid core id %d", coreID)
	}
	var set unix.CPUSet
	set.Zero()
	set.Set(coreID)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("sched_setaffinity core %d: %w", coreID, err)
	}
	return nil
}

// Current returns the cores the calling thread may run on.
func Current() ([]int, error) {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return nil, fmt.Errorf("sched_getaffinity: %w", err)
	}
	var cores []int
	for i := 0; i < maxCPUs && len(cores) < set.Count(); i++ {
		if set.IsSet(i) {
			cores = append(cores, i)
		}
	}
	return cores, nil
}
