package app

import (
	"time"

	"github.com/dkeye/relayhub/internal/core"
)

// PendingBuffer keeps the latest producer frames while no consumer is
// attached. It is bounded by frame count and total bytes; the oldest frame is
// evicted first. Not safe for concurrent use: the owning bucket lock guards it.
type PendingBuffer struct {
	frames     []core.Frame
	bytes      int
	maxFrames  int
	maxBytes   int
	lastAppend time.Time
}

func NewPendingBuffer(maxFrames, maxBytes int) *PendingBuffer {
	return &PendingBuffer{maxFrames: maxFrames, maxBytes: maxBytes}
}

// Append stores f and returns how many older frames were evicted. A frame
// larger than the byte cap cannot be stored; the stale tail is cleared instead.
// stored is false when f was not kept.
func (p *PendingBuffer) Append(f core.Frame, now time.Time) (stored bool, evicted int) {
	p.lastAppend = now
	if p.maxFrames <= 0 {
		return false, 0
	}
	if p.maxBytes > 0 && len(f) > p.maxBytes {
		evicted = len(p.frames)
		p.Clear()
		return false, evicted
	}
	p.frames = append(p.frames, f)
	p.bytes += len(f)
	for len(p.frames) > p.maxFrames || (p.maxBytes > 0 && p.bytes > p.maxBytes) {
		p.bytes -= len(p.frames[0])
		p.frames[0] = nil
		p.frames = p.frames[1:]
		evicted++
	}
	return true, evicted
}

// DrainTo replays the buffered tail to s, oldest first. The buffer is kept so
// later consumers receive the same tail.
func (p *PendingBuffer) DrainTo(s *Session) int {
	for _, f := range p.frames {
		s.pushFrame(f)
	}
	return len(p.frames)
}

func (p *PendingBuffer) Clear() {
	p.frames = nil
	p.bytes = 0
}

func (p *PendingBuffer) Len() int { return len(p.frames) }

func (p *PendingBuffer) Bytes() int { return p.bytes }

// Stale reports whether nothing was appended within ttl.
func (p *PendingBuffer) Stale(now time.Time, ttl time.Duration) bool {
	return ttl > 0 && now.Sub(p.lastAppend) > ttl
}
