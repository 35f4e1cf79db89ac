package config

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// PinCurrentThreadToCPU pins the calling OS thread to cpu. Best-effort:
// spec.md §5 requires a failure here to be logged, never fatal, so the
// caller decides what to do with the returned error.
func PinCurrentThreadToCPU(cpu int) error {
	runtime.LockOSThread()
	var mask unix.CPUSet
	mask.Set(cpu)
	if err := unix.SchedSetaffinity(0, &mask); err != nil {
		return fmt.Errorf("sched_setaffinity cpu %d: %w", cpu, err)
	}
	return nil
}
