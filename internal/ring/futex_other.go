//go:build !linux

package ring

import (
	"sync/atomic"
	"time"
)

func waitOn(addr *uint32, val uint32, d time.Duration) {
	if atomic.LoadUint32(addr) != val {
		return
	}
	time.Sleep(min(d, pollInterval))
}

func wakeAll(*uint32) {}
