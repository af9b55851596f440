package ws

import (
	"messaging-core/contract"
	"messaging-core/domain"
	"messaging-core/errors"
	"sync"
	"time"
)

// Outbox is the bounded queue between the broadcasters and one connection's
// writer. Push never blocks.
//
// When full, the oldest queued typing frame makes room; a typing frame with
// nothing to evict is dropped itself. Message and receipt frames are never
// dropped: they may overflow up to twice the capacity, and an overflow that
// lasts longer than the backpressure timeout, or hits that hard limit,
// fails with ErrSlowConsumer so the caller closes the connection.
type Outbox struct {
	mu            sync.Mutex
	frames        []domain.Frame
	capacity      int
	timeout       time.Duration
	overflowSince time.Time
	clock         contract.Clock
	onDrop        func(domain.EventType)
	ready         chan struct{}
	done          chan struct{}
	closed        bool
}

func NewOutbox(capacity int, timeout time.Duration, clock contract.Clock, onDrop func(domain.EventType)) *Outbox {
	if capacity <= 0 {
		capacity = 1
	}
	if clock == nil {
		clock = time.Now
	}
	if onDrop == nil {
		onDrop = func(domain.EventType) {}
	}
	return &Outbox{
		frames:   make([]domain.Frame, 0, capacity),
		capacity: capacity,
		timeout:  timeout,
		clock:    clock,
		onDrop:   onDrop,
		ready:    make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

func (o *Outbox) Push(frame domain.Frame) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return errors.ErrActorClosed
	}

	if len(o.frames) >= o.capacity {
		if i := o.oldestDroppable(); i >= 0 {
			o.onDrop(o.frames[i].Type)
			o.frames = append(o.frames[:i], o.frames[i+1:]...)
		} else if frame.Type.Droppable() {
			o.onDrop(frame.Type)
			return nil
		} else {
			now := o.clock()
			if o.overflowSince.IsZero() {
				o.overflowSince = now
			}
			if len(o.frames) >= 2*o.capacity || (o.timeout > 0 && now.Sub(o.overflowSince) > o.timeout) {
				return errors.ErrSlowConsumer
			}
		}
	}

	o.frames = append(o.frames, frame)
	select {
	case o.ready <- struct{}{}:
	default:
	}
	return nil
}

// Pop takes the head of the queue without waiting.
func (o *Outbox) Pop() (domain.Frame, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.frames) == 0 {
		return domain.Frame{}, false
	}
	frame := o.frames[0]
	o.frames[0] = domain.Frame{}
	o.frames = o.frames[1:]
	if len(o.frames) < o.capacity {
		o.overflowSince = time.Time{}
	}
	return frame, true
}

// Ready is signalled after a push; a single signal may cover several frames.
func (o *Outbox) Ready() <-chan struct{} { return o.ready }

// Done is closed once the outbox is closed.
func (o *Outbox) Done() <-chan struct{} { return o.done }

func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.frames)
}

// Close is idempotent. Queued frames are discarded.
func (o *Outbox) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	o.frames = nil
	close(o.done)
}

func (o *Outbox) oldestDroppable() int {
	for i, f := range o.frames {
		if f.Type.Droppable() {
			return i
		}
	}
	return -1
}
