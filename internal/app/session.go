package app

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/dkeye/relayhub/internal/core"
	"github.com/dkeye/relayhub/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type SessionID string

func NewSessionID() SessionID { return SessionID(uuid.NewString()) }

type SessionState int32

const (
	StateConnecting SessionState = iota
	StateDeclared
	StateActive
	StateSuperseded
	StateClosing
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateDeclared:
		return "declared"
	case StateActive:
		return "active"
	case StateSuperseded:
		return "superseded"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// FrameSink is an alternate frame path, e.g. a negotiated data channel.
type FrameSink interface {
	SendFrame(core.Frame) error
}

type sinkHolder struct{ FrameSink }

// Session binds one transport to one (identity, role).
type Session struct {
	ID          SessionID
	Identity    domain.DeviceIdentity
	Role        domain.Role
	Format      string
	ClientID    string
	ConnectedAt time.Time

	transport core.Transport
	outbox    *Outbox
	ctx       context.Context
	cancel    context.CancelFunc

	lastActivity atomic.Int64
	state        atomic.Int32
	closeReason  atomic.Int32
	overflows    atomic.Int32
	direct       atomic.Pointer[sinkHolder]
}

func newSession(d Declaration, t core.Transport, queueSize int, now time.Time) *Session {
	s := &Session{
		ID:          NewSessionID(),
		Identity:    d.Identity,
		Role:        d.Role,
		Format:      d.Format,
		ClientID:    d.ClientID,
		ConnectedAt: now,
		transport:   t,
		outbox:      NewOutbox(queueSize),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.lastActivity.Store(now.UnixNano())
	s.state.Store(int32(StateDeclared))
	return s
}

func (s *Session) State() SessionState { return SessionState(s.state.Load()) }

func (s *Session) Outbox() *Outbox { return s.outbox }

func (s *Session) Transport() core.Transport { return s.transport }

// Context is cancelled when the session starts closing. Work done on behalf
// of the session should stop with it.
func (s *Session) Context() context.Context { return s.ctx }

// Touch records activity. Frames, pings and pongs all count.
func (s *Session) Touch(now time.Time) { s.lastActivity.Store(now.UnixNano()) }

func (s *Session) LastActivity() time.Time { return time.Unix(0, s.lastActivity.Load()) }

// Send queues a control message. Returns false once the session is closing.
func (s *Session) Send(msg core.Message) bool {
	b, err := core.Encode(msg)
	if err != nil {
		log.Error().Err(err).Str("module", "app.session").Str("sid", string(s.ID)).Msg("encode control")
		return false
	}
	return s.outbox.PushControl(b)
}

// pushFrame queues f and tracks consecutive overflows.
func (s *Session) pushFrame(f core.Frame) (dropped bool, streak int) {
	if s.outbox.PushFrame(f) {
		return true, int(s.overflows.Add(1))
	}
	s.overflows.Store(0)
	return false, 0
}

func (s *Session) activate() { s.state.CompareAndSwap(int32(StateDeclared), int32(StateActive)) }

// supersede marks an active producer as displaced and tells its client.
// The transport is closed separately, outside the bucket lock.
func (s *Session) supersede() bool {
	if !s.state.CompareAndSwap(int32(StateActive), int32(StateSuperseded)) {
		return false
	}
	s.Send(core.ErrorNotice(core.NewError(core.KindSuperseded, nil, "identity %s", s.Identity)))
	return true
}

// Close moves the session to Closed and closes its transport. Only the first
// call does anything; it reports whether this call closed the session.
func (s *Session) Close(reason core.CloseReason) bool {
	for {
		cur := SessionState(s.state.Load())
		if cur == StateClosing || cur == StateClosed {
			return false
		}
		if s.state.CompareAndSwap(int32(cur), int32(StateClosing)) {
			break
		}
	}
	s.closeReason.Store(int32(reason))
	s.cancel()
	s.outbox.Close()
	if s.transport != nil {
		s.transport.Close(reason)
	}
	s.state.Store(int32(StateClosed))
	log.Info().
		Str("module", "app.session").
		Str("sid", string(s.ID)).
		Str("identity", s.Identity.String()).
		Str("role", s.Role.String()).
		Str("reason", reason.String()).
		Msg("session closed")
	return true
}

func (s *Session) CloseReason() core.CloseReason { return core.CloseReason(s.closeReason.Load()) }

// SetDirectSink routes frames for this session through sink. nil restores
// the default transport.
func (s *Session) SetDirectSink(sink FrameSink) {
	if sink == nil {
		s.direct.Store(nil)
		return
	}
	s.direct.Store(&sinkHolder{sink})
}

func (s *Session) DirectSink() FrameSink {
	if h := s.direct.Load(); h != nil {
		return h.FrameSink
	}
	return nil
}

// Info is a read-only snapshot of a session.
type Info struct {
	ID           SessionID `json:"id"`
	Role         string    `json:"role"`
	Format       string    `json:"format,omitempty"`
	RemoteAddr   string    `json:"remote_addr,omitempty"`
	State        string    `json:"state"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastActivity time.Time `json:"last_activity"`
	Queued       int       `json:"queued"`
	Direct       bool      `json:"direct"`
}

func (s *Session) Info() Info {
	info := Info{
		ID:           s.ID,
		Role:         s.Role.String(),
		Format:       s.Format,
		State:        s.State().String(),
		ConnectedAt:  s.ConnectedAt,
		LastActivity: s.LastActivity(),
		Queued:       s.outbox.Len(),
		Direct:       s.DirectSink() != nil,
	}
	if s.transport != nil {
		info.RemoteAddr = s.transport.RemoteAddr()
	}
	return info
}
