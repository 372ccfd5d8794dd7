//go:build linux

package ring

import (
	"math"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Shared (non-private) futex ops: waiters and wakers live in different
// processes mapping the same file.
const (
	futexWait = 0
	futexWake = 1
)

// waitOn sleeps while *addr == val, for at most d. Spurious returns are
// fine; callers re-check their condition.
func waitOn(addr *uint32, val uint32, d time.Duration) {
	if atomic.LoadUint32(addr) != val {
		return
	}
	ts := unix.NsecToTimespec(d.Nanoseconds())
	_, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		futexWait,
		uintptr(val),
		uintptr(unsafe.Pointer(&ts)),
		0, 0,
	)
	switch errno {
	case 0, unix.EAGAIN, unix.EINTR, unix.ETIMEDOUT:
	default:
		// Futexes unavailable on this mapping; degrade to polling.
		time.Sleep(pollInterval)
	}
}

func wakeAll(addr *uint32) {
	_, _, _ = unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		futexWake,
		uintptr(math.MaxInt32),
		0, 0, 0,
	)
}
