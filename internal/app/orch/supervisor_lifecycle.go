package orch

import (
	"context"
	"time"

	"github.com/dkeye/relayhub/internal/app"
	"github.com/dkeye/relayhub/internal/core"
	"github.com/rs/zerolog/log"
)

// Teardown closes sess, removes it from the registry and releases its direct
// transport. Safe to call any number of times; it reports whether this call
// changed anything.
func (o *Supervisor) Teardown(sess *app.Session, reason core.CloseReason) bool {
	closed := o.Registry.CloseSession(sess, reason)
	removed := o.Registry.Unregister(sess)
	if o.Direct != nil {
		o.Direct.Release(sess.ID)
	}
	if removed && reason == core.ReasonIdleTimeout && sess.Role.IsProducer() {
		o.Registry.ClearPending(sess.Identity, sess.Role.Direction())
	}
	return closed || removed
}

// Run sweeps idle sessions and stale state until ctx is done.
func (o *Supervisor) Run(ctx context.Context) error {
	interval := o.SweepInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			o.Sweep(now)
		}
	}
}

// Sweep closes sessions idle longer than IdleTimeout and lets the registry
// drop stale buffers. It returns the number of sessions closed.
func (o *Supervisor) Sweep(now time.Time) int {
	idle := 0
	if o.IdleTimeout > 0 {
		for _, s := range o.Registry.Sessions() {
			if now.Sub(s.LastActivity()) <= o.IdleTimeout {
				continue
			}
			if o.Teardown(s, core.ReasonIdleTimeout) {
				idle++
				log.Info().
					Str("module", "orch").
					Str("sid", string(s.ID)).
					Str("identity", s.Identity.String()).
					Dur("idle", now.Sub(s.LastActivity())).
					Msg("idle session closed")
			}
		}
	}
	o.Registry.Sweep(now)
	return idle
}

// Shutdown closes every session.
func (o *Supervisor) Shutdown() {
	sessions := o.Registry.Sessions()
	for _, s := range sessions {
		o.Teardown(s, core.ReasonShutdown)
	}
	log.Info().Str("module", "orch").Int("sessions", len(sessions)).Msg("supervisor shut down")
}
