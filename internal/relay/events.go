package relay

import (
	"sync"

	"relaychat/internal/eventbus"
	"relaychat/internal/transport"
)

// noticeTopic is the bus event type carrying a transport.Notice.
const noticeTopic = "relay.notice"

const noticeBuffer = 256

type subscription struct {
	unsub func()
	wg    sync.WaitGroup
	once  sync.Once
}

// stop unsubscribes and waits for already-buffered notices to be delivered.
func (s *subscription) stop() {
	s.once.Do(func() {
		s.unsub()
		s.wg.Wait()
	})
}

func (e *Engine) emit(n transport.Notice) {
	e.bus.Publish(eventbus.Event{Type: noticeTopic, Data: n})
}

// announce hands a lifecycle notice to the lifecycle handlers directly,
// then publishes it like any other.
func (e *Engine) announce(n transport.Notice) {
	for _, fn := range e.lifecycle {
		fn(n)
	}
	e.emit(n)
}

func (e *Engine) subscribe(fn func(transport.Notice)) func() {
	e.smu.Lock()
	defer e.smu.Unlock()
	if e.subsClosed {
		return func() {}
	}

	ch, unsub := e.bus.Subscribe(e.noticeBuf)
	s := &subscription{unsub: unsub}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for ev := range ch {
			if ev.Type != noticeTopic {
				continue
			}
			if n, ok := ev.Data.(transport.Notice); ok {
				fn(n)
			}
		}
	}()

	e.subs = append(e.subs, s)
	return s.stop
}

// Notices delivers every notice to fn on a dedicated goroutine, in publish
// order. Notices published while fn lags more than the buffer are dropped.
// The returned func cancels the subscription and must not be called from
// inside fn; Close cancels it too. After Close, fn is never called.
func (e *Engine) Notices(fn func(transport.Notice)) (cancel func()) {
	if fn == nil {
		return func() {}
	}
	return e.subscribe(fn)
}

// OnEvent is Notices reduced to (kind, text), the shape the presentation
// layer logs.
func (e *Engine) OnEvent(fn func(kind transport.EventKind, text string)) (cancel func()) {
	if fn == nil {
		return func() {}
	}
	return e.subscribe(func(n transport.Notice) { fn(n.Kind, n.Text) })
}
