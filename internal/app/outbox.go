package app

import (
	"sync"

	"github.com/dkeye/relayhub/internal/core"
)

const controlQueueCap = 64

// Outbox is a consumer's bounded outbound queue. Frames are dropped oldest
// first when full; control messages are kept apart and always popped first,
// so presence notices never get lost behind audio.
type Outbox struct {
	mu      sync.Mutex
	frames  []core.Frame
	head    int
	n       int
	control [][]byte
	closed  bool
	ready   chan struct{}
}

func NewOutbox(size int) *Outbox {
	if size < 1 {
		size = 1
	}
	return &Outbox{
		frames: make([]core.Frame, size),
		ready:  make(chan struct{}, 1),
	}
}

// PushFrame enqueues f and reports whether an older frame was dropped.
// It never blocks.
func (o *Outbox) PushFrame(f core.Frame) (dropped bool) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return false
	}
	size := len(o.frames)
	if o.n == size {
		o.frames[o.head] = nil
		o.head = (o.head + 1) % size
		o.n--
		dropped = true
	}
	o.frames[(o.head+o.n)%size] = f
	o.n++
	o.mu.Unlock()
	o.signal()
	return dropped
}

// PushControl enqueues an encoded control message. Returns false if the
// outbox is closed or the control queue is saturated.
func (o *Outbox) PushControl(b []byte) bool {
	o.mu.Lock()
	if o.closed || len(o.control) >= controlQueueCap {
		o.mu.Unlock()
		return false
	}
	o.control = append(o.control, b)
	o.mu.Unlock()
	o.signal()
	return true
}

// Pop returns the next item. Control messages come before frames.
// Items queued before Close are still returned.
func (o *Outbox) Pop() (data []byte, control bool, ok bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.control) > 0 {
		data = o.control[0]
		o.control[0] = nil
		o.control = o.control[1:]
		return data, true, true
	}
	if o.n == 0 {
		return nil, false, false
	}
	f := o.frames[o.head]
	o.frames[o.head] = nil
	o.head = (o.head + 1) % len(o.frames)
	o.n--
	return f, false, true
}

// Ready is signalled after every push and on Close.
func (o *Outbox) Ready() <-chan struct{} { return o.ready }

func (o *Outbox) Close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.signal()
}

func (o *Outbox) Closed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

// Len is the number of queued frames, control messages excluded.
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.n
}

func (o *Outbox) signal() {
	select {
	case o.ready <- struct{}{}:
	default:
	}
}
