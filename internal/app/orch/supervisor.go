package orch

import (
	"context"
	"sync"
	"time"

	"github.com/dkeye/relayhub/internal/app"
	"github.com/dkeye/relayhub/internal/auth"
	"github.com/dkeye/relayhub/internal/core"
	"github.com/dkeye/relayhub/internal/domain"
	"github.com/rs/zerolog/log"
)

const maxFormatLen = 64

// DirectNegotiator terminates negotiations addressed to the hub itself.
type DirectNegotiator interface {
	Negotiate(ctx context.Context, sess *app.Session, msg core.Negotiation) error
	Release(sid app.SessionID)
}

// Supervisor owns the lifecycle of every transport: declaration, frames,
// control messages, idle timeout and teardown.
type Supervisor struct {
	Registry *app.Registry
	Router   *app.Router
	Signals  *app.SignalRelay
	Auth     auth.Authorizer
	Direct   DirectNegotiator

	IdleTimeout   time.Duration
	SweepInterval time.Duration

	hubMu     sync.Mutex
	hubQueues map[app.SessionID]chan core.Negotiation
}

// ConnectParams are the raw connection parameters of a transport.
type ConnectParams struct {
	Identity   string
	Role       string
	Format     string
	Token      string
	ClientID   string
	RemoteAddr string
}

// Declare validates p and registers the transport. Errors are coded: a
// malformed declaration, an unauthorized producer or a full identity.
// Nothing is registered on error.
func (o *Supervisor) Declare(ctx context.Context, p ConnectParams, t core.Transport) (*app.Session, error) {
	id, err := domain.ParseDeviceIdentity(p.Identity)
	if err != nil {
		return nil, o.reject(p, core.NewError(core.KindMalformedDeclaration, err, "identity"))
	}
	role, err := domain.ParseRole(p.Role)
	if err != nil {
		return nil, o.reject(p, core.NewError(core.KindMalformedDeclaration, err, "role"))
	}
	if len(p.Format) > maxFormatLen {
		return nil, o.reject(p, core.NewError(core.KindMalformedDeclaration, nil, "format longer than %d", maxFormatLen))
	}
	if role.IsProducer() && o.Auth != nil && !o.Auth.AuthorizeProducer(ctx, id, p.Token) {
		return nil, o.reject(p, core.NewError(core.KindUnauthorized, nil, "%s on %s", role, id))
	}

	sess, err := o.Registry.Register(app.Declaration{
		Identity: id,
		Role:     role,
		Format:   p.Format,
		ClientID: p.ClientID,
	}, t)
	if err != nil {
		return nil, o.reject(p, err)
	}
	return sess, nil
}

func (o *Supervisor) reject(p ConnectParams, err error) error {
	o.Registry.Stats().Rejected(core.KindOf(err).Code())
	log.Warn().
		Err(err).
		Str("module", "orch").
		Str("identity", p.Identity).
		Str("role", p.Role).
		Str("remote", p.RemoteAddr).
		Msg("declaration rejected")
	return err
}

// OnFrame handles a binary frame. Only active producers route frames;
// anything else just counts as activity.
func (o *Supervisor) OnFrame(sess *app.Session, data []byte) int {
	if sess.State() != app.StateActive {
		return 0
	}
	sess.Touch(time.Now())
	if !sess.Role.IsProducer() {
		return 0
	}
	return o.Router.Route(sess.Identity, sess.Role, data)
}

// OnControl handles a text control message. Bad messages are answered with an
// error notice and never close the connection.
func (o *Supervisor) OnControl(ctx context.Context, sess *app.Session, data []byte) {
	if sess.State() != app.StateActive {
		return
	}
	sess.Touch(time.Now())

	msg, err := core.DecodeInbound(data)
	if err != nil {
		o.Registry.Stats().Rejected(core.KindOf(err).Code())
		log.Debug().Err(err).Str("module", "orch").Str("sid", string(sess.ID)).Msg("bad control message")
		sess.Send(core.ErrorNotice(err))
		return
	}

	switch m := msg.(type) {
	case core.Ping:
		sess.Send(core.Pong{})
	case core.Pong:
	case core.Close:
		log.Info().Str("module", "orch").Str("sid", string(sess.ID)).Str("reason", m.Reason).Msg("client close")
		if sess.Role.IsProducer() {
			o.Registry.ClearPending(sess.Identity, sess.Role.Direction())
		}
		o.Teardown(sess, core.ReasonClientClose)
	case core.Negotiation:
		o.negotiate(ctx, sess, m)
	}
}
