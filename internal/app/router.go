package app

import (
	"github.com/dkeye/relayhub/internal/core"
	"github.com/dkeye/relayhub/internal/domain"
	"github.com/rs/zerolog/log"
)

// Router moves producer frames to the consumers of the same identity and
// direction, or into the pending buffer when nobody is attached.
type Router struct {
	reg          *Registry
	minFrameSize int
	policy       OverflowPolicy
}

func NewRouter(reg *Registry, minFrameSize int, policy OverflowPolicy) *Router {
	if policy == nil {
		policy = DropOldestPolicy{}
	}
	return &Router{reg: reg, minFrameSize: minFrameSize, policy: policy}
}

// Route delivers frame from a producer role and returns how many consumers
// it was queued to. It never blocks on a consumer.
func (rt *Router) Route(id domain.DeviceIdentity, role domain.Role, frame core.Frame) int {
	if !role.IsProducer() || len(frame) == 0 {
		return 0
	}
	dir := role.Direction()
	stats := rt.reg.stats
	stats.framesIn.WithLabelValues(dir.String()).Inc()
	stats.bytesIn.WithLabelValues(dir.String()).Add(float64(len(frame)))

	// One copy on ingress; every consumer shares it read-only.
	f := make(core.Frame, len(frame))
	copy(f, frame)

	var kicked []*Session
	delivered := 0

	b := rt.reg.lockBucket(id)
	consumers := b.consumers[dir]
	if len(consumers) == 0 {
		if len(f) >= rt.minFrameSize {
			rt.reg.appendPendingLocked(b, dir, f)
		} else {
			stats.fragmentsSkipped.Inc()
		}
		b.mu.Unlock()
		return 0
	}
	for _, c := range consumers {
		dropped, streak := c.pushFrame(f)
		delivered++
		if !dropped {
			continue
		}
		stats.queueOverflow.Inc()
		if rt.policy.OnOverflow(c, streak) == KickConsumer {
			kicked = append(kicked, c)
		}
	}
	b.mu.Unlock()
	stats.framesDelivered.Add(float64(delivered))

	for _, c := range kicked {
		log.Warn().
			Str("module", "app.router").
			Str("sid", string(c.ID)).
			Str("identity", id.String()).
			Msg("kicking slow consumer")
		rt.reg.CloseSession(c, core.ReasonSlowConsumer)
		rt.reg.Unregister(c)
	}
	return delivered
}
