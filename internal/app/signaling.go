package app

import (
	"github.com/dkeye/relayhub/internal/core"
	"github.com/rs/zerolog/log"
)

// SignalRelay forwards negotiation messages between counterpart sessions of
// one identity. It keeps no state and never looks inside the payload.
type SignalRelay struct {
	reg *Registry
}

func NewSignalRelay(reg *Registry) *SignalRelay { return &SignalRelay{reg: reg} }

// Forward sends msg from the sender to every counterpart session, or to the
// one named by msg.Target. It returns core.ErrNoPeer when nobody received it.
func (sr *SignalRelay) Forward(from *Session, msg core.Negotiation) (int, error) {
	out := core.Negotiation{
		Kind:        msg.Kind,
		Correlation: msg.Correlation,
		From:        from.Role.String(),
		FromSession: string(from.ID),
		Payload:     msg.Payload,
	}

	sent := 0
	for _, peer := range sr.reg.Lookup(from.Identity, from.Role.Counterpart()) {
		if msg.Target != "" && string(peer.ID) != msg.Target {
			continue
		}
		if peer.Send(out) {
			sent++
		}
	}
	if sent == 0 {
		sr.reg.stats.NoPeer()
		return 0, core.NewError(core.KindNoPeer, nil, "%s on %s", msg.Kind, from.Identity)
	}
	sr.reg.stats.SignalForwarded(string(msg.Kind))
	log.Debug().
		Str("module", "app.signal").
		Str("sid", string(from.ID)).
		Str("type", string(msg.Kind)).
		Int("sent", sent).
		Msg("signal forwarded")
	return sent, nil
}
