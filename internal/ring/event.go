package ring

import (
	"context"
	"sync/atomic"
	"time"
	"unsafe"
)

const (
	// waitSlice bounds one futex sleep so Wait can notice ctx and Close.
	waitSlice    = 100 * time.Millisecond
	pollInterval = 5 * time.Millisecond
)

// event is a manual-reset, broadcast notification living in shared memory:
// {signaled uint32, epoch uint32}. Set raises signaled and bumps epoch so a
// waiter that started before the Set wakes even if a Reset follows at once.
type event struct {
	m        *mapping
	signaled *uint32
	epoch    *uint32
}

func newEvent(m *mapping) *event {
	return &event{
		m:        m,
		signaled: (*uint32)(unsafe.Pointer(&m.mem[0])),
		epoch:    (*uint32)(unsafe.Pointer(&m.mem[4])),
	}
}

func (e *event) Set() {
	atomic.StoreUint32(e.signaled, 1)
	atomic.AddUint32(e.epoch, 1)
	wakeAll(e.epoch)
}

func (e *event) Reset() { atomic.StoreUint32(e.signaled, 0) }

func (e *event) IsSet() bool { return atomic.LoadUint32(e.signaled) == 1 }

// Wait blocks until the event is set or has been set since Wait began. It
// returns ctx.Err() on cancellation and ErrClosed once stop is closed.
func (e *event) Wait(ctx context.Context, stop <-chan struct{}) error {
	start := atomic.LoadUint32(e.epoch)
	for {
		if atomic.LoadUint32(e.signaled) == 1 || atomic.LoadUint32(e.epoch) != start {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		select {
		case <-stop:
			return ErrClosed
		default:
		}

		d := waitSlice
		if dl, ok := ctx.Deadline(); ok {
			if left := time.Until(dl); left < d {
				d = max(left, time.Millisecond)
			}
		}
		waitOn(e.epoch, start, d)
	}
}
