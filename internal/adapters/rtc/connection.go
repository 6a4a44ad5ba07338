package rtc

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dkeye/relayhub/internal/app"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var ErrGatherTimeout = errors.New("ice gathering timed out")

// PeerConnection is a hub-terminated WebRTC peer carrying frames over a data
// channel instead of the websocket.
type PeerConnection struct {
	pc            *webrtc.PeerConnection
	sid           app.SessionID
	gatherTimeout time.Duration

	onICE         func(webrtc.ICECandidateInit)
	onDataChannel func(*webrtc.DataChannel)
	onClosed      func()

	closeOnce sync.Once
}

// Configuration builds a pion configuration from STUN/TURN urls.
func Configuration(iceServers []string) webrtc.Configuration {
	cfg := webrtc.Configuration{}
	if len(iceServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: iceServers}}
	}
	return cfg
}

func NewPeerConnection(cfg webrtc.Configuration, sid app.SessionID, gatherTimeout time.Duration) (*PeerConnection, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	return &PeerConnection{pc: pc, sid: sid, gatherTimeout: gatherTimeout}, nil
}

// Start installs pion callbacks. Set the On* handlers before calling it.
func (c *PeerConnection) Start() {
	c.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "webrtc").Str("sid", string(c.sid)).Str("ice_state", s.String()).Msg("ICE state")
	})

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "webrtc").Str("sid", string(c.sid)).Str("peer_connection_state", s.String()).Msg("Peer state")
		if s == webrtc.PeerConnectionStateFailed ||
			s == webrtc.PeerConnectionStateClosed {
			c.Close()
		}
	})

	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand != nil && c.onICE != nil {
			c.onICE(cand.ToJSON())
		}
	})

	c.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		log.Info().
			Str("module", "webrtc").
			Str("sid", string(c.sid)).
			Str("label", dc.Label()).
			Msg("OnDataChannel received")
		if c.onDataChannel != nil {
			c.onDataChannel(dc)
		}
	})
}

// ApplyOfferAndCreateAnswer returns an answer with all gathered candidates.
func (c *PeerConnection) ApplyOfferAndCreateAnswer(ctx context.Context, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	if err := c.pc.SetRemoteDescription(offer); err != nil {
		return nil, err
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}

	gatherComplete := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return nil, err
	}

	timeout := c.gatherTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-gatherComplete:
	case <-timer.C:
		return nil, ErrGatherTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return c.pc.LocalDescription(), nil
}

func (c *PeerConnection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(ci)
}

// Close is idempotent and fires the OnClosed callback once.
func (c *PeerConnection) Close() {
	c.closeOnce.Do(func() {
		if err := c.pc.Close(); err != nil {
			log.Error().Err(err).Str("module", "webrtc").Str("sid", string(c.sid)).Msg("close error")
		} else {
			log.Info().Str("module", "webrtc").Str("sid", string(c.sid)).Msg("closed")
		}
		if c.onClosed != nil {
			c.onClosed()
		}
	})
}

func (c *PeerConnection) OnICECandidate(fn func(webrtc.ICECandidateInit)) { c.onICE = fn }

// OnDataChannel sets the callback for channels opened by the remote peer.
func (c *PeerConnection) OnDataChannel(fn func(*webrtc.DataChannel)) { c.onDataChannel = fn }

// OnClosed sets application-level callback for cleanup
func (c *PeerConnection) OnClosed(fn func()) { c.onClosed = fn }
