package ring

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"sync/atomic"
	"unsafe"

	logx "relaychat/pkg/logx"
)

// Message is one entry read back from the ring.
type Message struct {
	Seq  uint64
	Text string
}

type Option func(*options)

type options struct {
	dir string
	log logx.Logger
}

// WithDir places the backing files under dir instead of DefaultDir().
func WithDir(dir string) Option { return func(o *options) { o.dir = dir } }

func WithLogger(log logx.Logger) Option { return func(o *options) { o.log = log } }

// Log is one process's handle to a shared ring.
type Log struct {
	name  string
	names Names
	log   logx.Logger

	mem *mapping
	lk  *fileLock
	ev  *event
	evm *mapping
	seq *uint64

	// use is held shared by every operation touching the mapping and
	// exclusively by Close before it unmaps.
	use       sync.RWMutex
	closed    atomic.Bool
	stop      chan struct{}
	closeOnce sync.Once
}

// Create makes (or takes over) the ring called name and resets it to an
// empty log with sequence 0. Participants already attached see the reset as
// a sequence below their cursor.
func Create(name string, opts ...Option) (*Log, error) {
	l, err := attach(name, true, opts)
	if err != nil {
		return nil, err
	}
	if err := l.lk.lock(); err != nil {
		_ = l.Close()
		return nil, err
	}
	clear(l.mem.mem)
	l.ev.Reset()
	l.lk.unlock()

	l.log.Info("ring created", logx.String("mem", l.names.Mem), logx.Int("slots", Slots), logx.Int("slot_size", SlotSize))
	return l, nil
}

// Open attaches to an existing ring. It fails with ErrNotFound when no host
// has created it and ErrBadSegment when the segment has the wrong size.
func Open(name string, opts ...Option) (*Log, error) {
	l, err := attach(name, false, opts)
	if err != nil {
		return nil, err
	}
	l.log.Info("ring opened", logx.String("mem", l.names.Mem), logx.Uint64("seq", l.Sequence()))
	return l, nil
}

func attach(name string, create bool, opts []Option) (*Log, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	if o.log.IsZero() {
		o.log = logx.Nop()
	}
	if !validName(name) {
		return nil, fmt.Errorf("%w: %q", ErrBadName, name)
	}

	names := NamesFor(o.dir, name)
	l := &Log{
		name:  name,
		names: names,
		log:   o.log.With(logx.String("comp", "ring"), logx.String("ring", name)),
		stop:  make(chan struct{}),
	}

	var err error
	if l.mem, err = mapShared(names.Mem, SegmentSize, create); err != nil {
		return nil, err
	}
	if l.evm, err = mapShared(names.Event, eventSize, create); err != nil {
		_ = l.mem.close()
		return nil, err
	}
	if l.lk, err = openLock(names.Lock); err != nil {
		_ = l.mem.close()
		_ = l.evm.close()
		return nil, err
	}
	l.seq = (*uint64)(unsafe.Pointer(&l.mem.mem[0]))
	l.ev = newEvent(l.evm)
	return l, nil
}

func (l *Log) Name() string { return l.name }
func (l *Log) Names() Names { return l.names }

// Sequence is the number of messages ever appended. It is read without the
// lock and is only a hint to callers racing writers.
func (l *Log) Sequence() uint64 {
	l.use.RLock()
	defer l.use.RUnlock()
	if l.closed.Load() {
		return 0
	}
	return atomic.LoadUint64(l.seq)
}

// Append writes text as the next message, truncated to MaxText bytes, and
// signals readers. It returns the message's sequence number.
func (l *Log) Append(text string) (uint64, error) {
	l.use.RLock()
	defer l.use.RUnlock()
	if l.closed.Load() {
		return 0, ErrClosed
	}

	if err := l.lk.lock(); err != nil {
		return 0, err
	}
	seq := atomic.LoadUint64(l.seq) + 1
	off := slotOffset(seq)
	encodeSlot(l.mem.mem[off:off+SlotSize], text)
	atomic.StoreUint64(l.seq, seq)
	l.lk.unlock()

	l.ev.Set()
	return seq, nil
}

// Scan returns the messages after cursor that are still in the ring and the
// new cursor, without waiting. A reader more than Slots behind silently
// resumes at the oldest surviving message. A cursor past the sequence (the
// ring was re-created) yields nothing and rewinds the cursor.
//
// Scan is the non-blocking form of Drain: a caller that is already caught
// up gets an empty result immediately, where Drain would wait for the next
// Append.
func (l *Log) Scan(cursor uint64) ([]Message, uint64, error) {
	l.use.RLock()
	defer l.use.RUnlock()
	if l.closed.Load() {
		return nil, cursor, ErrClosed
	}

	if err := l.lk.lock(); err != nil {
		return nil, cursor, err
	}
	msgs, next := l.scanLocked(cursor)
	l.lk.unlock()
	return msgs, next, nil
}

// Drain waits until there is something to read after cursor, then reads it
// like Scan and clears the event. The wait is skipped when the event is
// already set or the sequence has moved past cursor. Cancelling ctx returns
// ctx.Err() with the cursor unchanged; Close returns ErrClosed.
func (l *Log) Drain(ctx context.Context, cursor uint64) ([]Message, uint64, error) {
	l.use.RLock()
	defer l.use.RUnlock()
	if l.closed.Load() {
		return nil, cursor, ErrClosed
	}

	if atomic.LoadUint64(l.seq) == cursor && !l.ev.IsSet() {
		if err := l.ev.Wait(ctx, l.stop); err != nil {
			return nil, cursor, err
		}
	}

	if err := l.lk.lock(); err != nil {
		return nil, cursor, err
	}
	msgs, next := l.scanLocked(cursor)
	// Cleared under the lock: a writer's Set cannot slip in between the scan
	// and the reset and be lost.
	l.ev.Reset()
	l.lk.unlock()
	return msgs, next, nil
}

func (l *Log) scanLocked(cursor uint64) ([]Message, uint64) {
	seq := atomic.LoadUint64(l.seq)
	if cursor >= seq {
		return nil, seq
	}
	from := cursor + 1
	if seq >= Slots && seq-Slots+1 > from {
		from = seq - Slots + 1
	}
	msgs := make([]Message, 0, seq-from+1)
	for s := from; s <= seq; s++ {
		off := slotOffset(s)
		msgs = append(msgs, Message{Seq: s, Text: decodeSlot(l.mem.mem[off : off+SlotSize])})
	}
	return msgs, seq
}

// Close unblocks pending Drains, waits for in-flight operations and releases
// the mapping. The backing files stay; see Destroy. Safe to call more than
// once.
func (l *Log) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.closed.Store(true)
		close(l.stop)
		l.use.Lock()
		defer l.use.Unlock()
		err = errors.Join(l.mem.close(), l.evm.close(), l.lk.close())
		l.log.Debug("ring closed")
	})
	return err
}

// Destroy removes a ring's backing files. Handles still open keep working on
// the unlinked objects until closed. Missing files are not an error.
func Destroy(names Names) error {
	var errs []error
	for _, p := range []string{names.Mem, names.Event, names.Lock} {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
