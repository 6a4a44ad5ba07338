package rtc

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/dkeye/relayhub/internal/app"
	"github.com/dkeye/relayhub/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"
)

var (
	errChannelNotOpen = errors.New("data channel not open")
	errSessionClosed  = errors.New("session closed")
)

// FrameHandler receives frames a producer sent over its data channel.
type FrameHandler func(sess *app.Session, data []byte) int

// DirectManager terminates WebRTC negotiations addressed to the hub. Each
// session has at most one peer connection; a new offer replaces the old one.
type DirectManager struct {
	cfg           webrtc.Configuration
	gatherTimeout time.Duration
	onFrame       FrameHandler
	conns         *xsync.MapOf[app.SessionID, *PeerConnection]
}

func NewDirectManager(cfg webrtc.Configuration, gatherTimeout time.Duration, onFrame FrameHandler) *DirectManager {
	return &DirectManager{
		cfg:           cfg,
		gatherTimeout: gatherTimeout,
		onFrame:       onFrame,
		conns:         xsync.NewMapOf[app.SessionID, *PeerConnection](),
	}
}

func (m *DirectManager) Negotiate(ctx context.Context, sess *app.Session, msg core.Negotiation) error {
	switch msg.Kind {
	case core.MsgOffer:
		return m.handleOffer(ctx, sess, msg)
	case core.MsgICECandidate:
		return m.handleCandidate(sess, msg)
	}
	return core.NewError(core.KindBadMessage, nil, "hub does not accept %s", msg.Kind)
}

// Release closes the peer connection of sid, if any.
func (m *DirectManager) Release(sid app.SessionID) {
	if pc, ok := m.conns.LoadAndDelete(sid); ok {
		pc.Close()
	}
}

func (m *DirectManager) Len() int { return m.conns.Size() }

func (m *DirectManager) send(sess *app.Session, kind core.MessageType, correlation string, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "webrtc").Msg("marshal negotiation")
		return
	}
	sess.Send(core.Negotiation{
		Kind:        kind,
		Correlation: correlation,
		From:        core.HubTarget,
		FromSession: core.HubTarget,
		Payload:     b,
	})
}

func (m *DirectManager) handleOffer(ctx context.Context, sess *app.Session, msg core.Negotiation) error {
	if sess.Context().Err() != nil {
		return errSessionClosed
	}
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(msg.Payload, &offer); err != nil || offer.SDP == "" {
		return core.NewError(core.KindBadMessage, err, "offer payload")
	}
	if offer.Type == webrtc.SDPTypeUnknown {
		offer.Type = webrtc.SDPTypeOffer
	}
	if offer.Type != webrtc.SDPTypeOffer {
		return core.NewError(core.KindBadMessage, nil, "offer payload has type %s", offer.Type)
	}

	pc, err := NewPeerConnection(m.cfg, sess.ID, m.gatherTimeout)
	if err != nil {
		return err
	}
	// Candidates gathered before the answer are already in its SDP.
	var answered atomic.Bool
	pc.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		if answered.Load() {
			m.send(sess, core.MsgICECandidate, msg.Correlation, ci)
		}
	})
	pc.OnDataChannel(func(dc *webrtc.DataChannel) { m.bindDataChannel(sess, dc) })
	pc.OnClosed(func() {
		sess.SetDirectSink(nil)
		m.conns.Compute(sess.ID, func(cur *PeerConnection, loaded bool) (*PeerConnection, bool) {
			return cur, !loaded || cur == pc
		})
	})
	pc.Start()

	answer, err := pc.ApplyOfferAndCreateAnswer(ctx, offer)
	if err != nil {
		pc.Close()
		return err
	}

	if old, loaded := m.conns.LoadAndStore(sess.ID, pc); loaded && old != pc {
		log.Info().Str("module", "webrtc").Str("sid", string(sess.ID)).Msg("replacing existing peer connection")
		old.Close()
	}
	// The session may have been released while gathering; its Release ran
	// before this store and will not come again.
	if sess.Context().Err() != nil {
		m.conns.Compute(sess.ID, func(cur *PeerConnection, loaded bool) (*PeerConnection, bool) {
			return cur, !loaded || cur == pc
		})
		pc.Close()
		return errSessionClosed
	}
	m.send(sess, core.MsgAnswer, msg.Correlation, answer)
	answered.Store(true)
	return nil
}

func (m *DirectManager) handleCandidate(sess *app.Session, msg core.Negotiation) error {
	var ci webrtc.ICECandidateInit
	if err := json.Unmarshal(msg.Payload, &ci); err != nil {
		return core.NewError(core.KindBadMessage, err, "candidate payload")
	}
	pc, ok := m.conns.Load(sess.ID)
	if !ok {
		return core.NewError(core.KindNoPeer, nil, "no hub peer connection for candidate")
	}
	return pc.AddICECandidate(ci)
}

// bindDataChannel sends a consumer's frames over dc once it opens, and routes
// a producer's binary messages like websocket frames.
func (m *DirectManager) bindDataChannel(sess *app.Session, dc *webrtc.DataChannel) {
	if sess.Role.IsProducer() {
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			if msg.IsString || m.onFrame == nil {
				return
			}
			m.onFrame(sess, msg.Data)
		})
		return
	}
	dc.OnOpen(func() {
		sess.SetDirectSink(dataChannelSink{dc})
		log.Info().Str("module", "webrtc").Str("sid", string(sess.ID)).Msg("direct frames enabled")
	})
	dc.OnClose(func() { sess.SetDirectSink(nil) })
}

type dataChannelSink struct {
	dc *webrtc.DataChannel
}

func (s dataChannelSink) SendFrame(f core.Frame) error {
	if s.dc.ReadyState() != webrtc.DataChannelStateOpen {
		return errChannelNotOpen
	}
	return s.dc.Send(f)
}
