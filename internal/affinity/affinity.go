// Package affinity applies CPU-pinning and scheduling-policy
// attributes using golang.org/x/sys/unix directly, the way a hot-path
// sender thread needs when net/os offers no equivalent call. Each
// function operates on the calling OS thread; callers must call
// runtime.LockOSThread() first so the goroutine keeps exclusive use of
// that thread for its lifetime, the Go analogue of a pthread_attr_t
// passed to pthread_create.
package affinity

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Policy selects one of the scheduling-policy strategies a sender
// thread can run under: the emit loop itself never changes, only how
// the thread is scheduled.
type Policy int

const (
	// Default leaves the thread under the normal scheduler.
	Default Policy = iota
	// RealtimeFIFO1 runs the thread under SCHED_FIFO at priority 1.
	RealtimeFIFO1
	// LowTimerslack sets a 1ns timerslack instead of a realtime policy.
	LowTimerslack
)

// schedFIFO is SCHED_FIFO's value from the Linux scheduling-policy ABI.
// Stable across all Linux architectures; golang.org/x/sys/unix does not
// export it as a named constant.
const schedFIFO = 1

type schedParam struct {
	Priority int32
}

// SetCPU pins the calling thread to the given CPU core.
func SetCPU(core int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(core)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("affinity: SchedSetaffinity(core=%d): %w", core, err)
	}
	return nil
}

// Apply configures the calling thread's scheduling policy per p.
func Apply(p Policy) error {
	switch p {
	case Default:
		return nil
	case RealtimeFIFO1:
		return setRealtimeFIFO(1)
	case LowTimerslack:
		return setTimerslack(1)
	default:
		return fmt.Errorf("affinity: unknown policy %d", p)
	}
}

// setRealtimeFIFO sets the calling thread's scheduling policy to
// SCHED_FIFO at the given priority, the equivalent of
// pthread_attr_setschedpolicy(SCHED_FIFO) + pthread_attr_setschedparam.
// golang.org/x/sys/unix has no wrapper for sched_setscheduler, so this
// issues the raw syscall directly.
func setRealtimeFIFO(priority int32) error {
	param := schedParam{Priority: priority}
	_, _, errno := unix.Syscall(unix.SYS_SCHED_SETSCHEDULER, 0, uintptr(schedFIFO), uintptr(unsafe.Pointer(&param)))
	if errno != 0 {
		return fmt.Errorf("affinity: sched_setscheduler(SCHED_FIFO, prio=%d): %w", priority, errno)
	}
	return nil
}

// setTimerslack sets the calling thread's timer slack, the low-jitter
// alternative to a realtime scheduling policy.
func setTimerslack(ns uintptr) error {
	if err := unix.Prctl(unix.PR_SET_TIMERSLACK, ns, 0, 0, 0); err != nil {
		return fmt.Errorf("affinity: prctl(PR_SET_TIMERSLACK, %d): %w", ns, err)
	}
	return nil
}
