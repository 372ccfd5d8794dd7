package ring

import (
	"context"
	"errors"
)

// Start is where a new Reader's cursor begins.
type Start int

const (
	// FromStart replays whatever is still in the ring.
	FromStart Start = iota
	// FromNow skips everything appended before the Reader was made.
	FromNow
)

// Reader is a monitor loop over a Log with its own cursor. A Reader is not
// safe for concurrent use; run one per goroutine.
type Reader struct {
	log    *Log
	cursor uint64
}

func NewReader(l *Log, start Start) *Reader {
	r := &Reader{log: l}
	if start == FromNow {
		r.cursor = l.Sequence()
	}
	return r
}

func (r *Reader) Cursor() uint64 { return r.cursor }

// Next blocks for the next batch of messages and advances the cursor.
func (r *Reader) Next(ctx context.Context) ([]Message, error) {
	msgs, next, err := r.log.Drain(ctx, r.cursor)
	if err != nil {
		return nil, err
	}
	r.cursor = next
	return msgs, nil
}

// Run delivers every message to fn in sequence order until ctx is done or the
// Log is closed, both of which return nil.
func (r *Reader) Run(ctx context.Context, fn func(Message)) error {
	for {
		msgs, err := r.Next(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrClosed) {
				return nil
			}
			return err
		}
		for _, m := range msgs {
			fn(m)
		}
	}
}
