package orch

import (
	"context"

	"github.com/dkeye/relayhub/internal/app"
	"github.com/dkeye/relayhub/internal/core"
	"github.com/rs/zerolog/log"
)

// hubQueueLen bounds hub negotiations waiting behind the one in flight.
const hubQueueLen = 8

// negotiate relays m to the counterpart sessions, or queues it for the hub's
// own direct transport when it targets the hub.
func (o *Supervisor) negotiate(ctx context.Context, sess *app.Session, m core.Negotiation) {
	var err error
	if m.Target == core.HubTarget {
		if o.Direct == nil {
			err = core.NewError(core.KindNoPeer, nil, "direct transport disabled")
		} else {
			err = o.enqueueHub(ctx, sess, m)
		}
	} else {
		_, err = o.Signals.Forward(sess, m)
	}
	if err != nil {
		o.negotiationFailed(sess, m, err)
	}
}

func (o *Supervisor) negotiationFailed(sess *app.Session, m core.Negotiation, err error) {
	n := core.ErrorNotice(err)
	n.Correlation = m.Correlation
	sess.Send(n)
	if core.KindOf(err) != core.KindNoPeer {
		log.Warn().Err(err).Str("module", "orch").Str("sid", string(sess.ID)).Str("type", string(m.Kind)).Msg("negotiation failed")
	}
}

// enqueueHub hands m to the session's hub worker, starting it on first use.
// ICE gathering can take seconds, so it never runs on the read path; the
// worker handles one message at a time in arrival order.
func (o *Supervisor) enqueueHub(ctx context.Context, sess *app.Session, m core.Negotiation) error {
	o.hubMu.Lock()
	defer o.hubMu.Unlock()
	if sess.Context().Err() != nil {
		return nil
	}
	if o.hubQueues == nil {
		o.hubQueues = make(map[app.SessionID]chan core.Negotiation)
	}
	q, ok := o.hubQueues[sess.ID]
	if !ok {
		q = make(chan core.Negotiation, hubQueueLen)
		o.hubQueues[sess.ID] = q
		go o.runHub(ctx, sess, q)
	}
	select {
	case q <- m:
		return nil
	default:
		return core.NewError(core.KindRateLimited, nil, "%d hub negotiations pending", hubQueueLen)
	}
}

// runHub serves hub negotiations for sess until the session or ctx ends.
func (o *Supervisor) runHub(parent context.Context, sess *app.Session, q chan core.Negotiation) {
	ctx, cancel := context.WithCancel(parent)
	stop := context.AfterFunc(sess.Context(), cancel)
	defer func() {
		stop()
		cancel()
		o.dropHubQueue(sess.ID, q)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case m := <-q:
			if err := o.Direct.Negotiate(ctx, sess, m); err != nil && ctx.Err() == nil {
				o.negotiationFailed(sess, m, err)
			}
		}
	}
}

func (o *Supervisor) dropHubQueue(sid app.SessionID, q chan core.Negotiation) {
	o.hubMu.Lock()
	defer o.hubMu.Unlock()
	if o.hubQueues[sid] == q {
		delete(o.hubQueues, sid)
	}
}
