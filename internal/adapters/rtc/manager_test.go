package rtc

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/dkeye/relayhub/internal/app"
	"github.com/dkeye/relayhub/internal/core"
	"github.com/dkeye/relayhub/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopTransport struct{}

func (nopTransport) RemoteAddr() string     { return "test" }
func (nopTransport) Close(core.CloseReason) {}

func newSession(t *testing.T, role domain.Role) *app.Session {
	t.Helper()
	id, err := domain.ParseDeviceIdentity("ABC123")
	require.NoError(t, err)
	reg := app.NewRegistry(app.DefaultOptions(), nil)
	sess, err := reg.Register(app.Declaration{Identity: id, Role: role}, nopTransport{})
	require.NoError(t, err)
	return sess
}

// negotiations returns the hub negotiation messages queued for sess.
func negotiations(t *testing.T, sess *app.Session) []map[string]json.RawMessage {
	t.Helper()
	var out []map[string]json.RawMessage
	for {
		data, control, ok := sess.Outbox().Pop()
		if !ok {
			return out
		}
		if !control {
			continue
		}
		var m map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(data, &m))
		if string(m["from"]) == `"hub"` {
			out = append(out, m)
		}
	}
}

func clientOffer(t *testing.T) (*webrtc.PeerConnection, json.RawMessage) {
	t.Helper()
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pc.Close() })

	_, err = pc.CreateDataChannel("frames", nil)
	require.NoError(t, err)
	offer, err := pc.CreateOffer(nil)
	require.NoError(t, err)
	gathered := webrtc.GatheringCompletePromise(pc)
	require.NoError(t, pc.SetLocalDescription(offer))
	select {
	case <-gathered:
	case <-time.After(10 * time.Second):
		t.Fatal("client gathering timed out")
	}

	payload, err := json.Marshal(pc.LocalDescription())
	require.NoError(t, err)
	return pc, payload
}

func TestDirectManager_OfferProducesAnswer(t *testing.T) {
	sess := newSession(t, domain.RoleConsumer)
	client, payload := clientOffer(t)

	m := NewDirectManager(webrtc.Configuration{}, 10*time.Second, nil)
	t.Cleanup(func() { m.Release(sess.ID) })

	err := m.Negotiate(context.Background(), sess, core.Negotiation{
		Kind:        core.MsgOffer,
		Target:      core.HubTarget,
		Correlation: "c1",
		Payload:     payload,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, m.Len())

	var answer *webrtc.SessionDescription
	for _, msg := range negotiations(t, sess) {
		if string(msg["type"]) != `"answer"` {
			continue
		}
		assert.Equal(t, `"c1"`, string(msg["sid"]))
		answer = &webrtc.SessionDescription{}
		require.NoError(t, json.Unmarshal(msg["payload"], answer))
	}
	require.NotNil(t, answer, "no answer queued")
	assert.Equal(t, webrtc.SDPTypeAnswer, answer.Type)
	require.NoError(t, client.SetRemoteDescription(*answer))

	m.Release(sess.ID)
	assert.Equal(t, 0, m.Len())
}

func TestDirectManager_ClosedSessionKeepsNoConnection(t *testing.T) {
	sess := newSession(t, domain.RoleConsumer)
	_, payload := clientOffer(t)
	m := NewDirectManager(webrtc.Configuration{}, 10*time.Second, nil)

	require.True(t, sess.Close(core.ReasonDisconnect))
	m.Release(sess.ID)

	err := m.Negotiate(context.Background(), sess, core.Negotiation{
		Kind:    core.MsgOffer,
		Target:  core.HubTarget,
		Payload: payload,
	})
	require.ErrorIs(t, err, errSessionClosed)
	assert.Equal(t, 0, m.Len())
	assert.Empty(t, negotiations(t, sess))
}

func TestDirectManager_RejectsBadNegotiations(t *testing.T) {
	sess := newSession(t, domain.RoleProducer)
	m := NewDirectManager(webrtc.Configuration{}, time.Second, nil)
	ctx := context.Background()

	err := m.Negotiate(ctx, sess, core.Negotiation{Kind: core.MsgICECandidate, Payload: json.RawMessage(`{"candidate":""}`)})
	assert.ErrorIs(t, err, core.ErrNoPeer)

	err = m.Negotiate(ctx, sess, core.Negotiation{Kind: core.MsgAnswer, Payload: json.RawMessage(`{}`)})
	assert.Equal(t, core.KindBadMessage, core.KindOf(err))

	err = m.Negotiate(ctx, sess, core.Negotiation{Kind: core.MsgOffer, Payload: json.RawMessage(`{"type":"offer"}`)})
	assert.Equal(t, core.KindBadMessage, core.KindOf(err))

	err = m.Negotiate(ctx, sess, core.Negotiation{Kind: core.MsgOffer, Payload: json.RawMessage(`"nope"`)})
	assert.Equal(t, core.KindBadMessage, core.KindOf(err))
	assert.Equal(t, 0, m.Len())

	m.Release(sess.ID)
}

func TestConfiguration(t *testing.T) {
	assert.Empty(t, Configuration(nil).ICEServers)
	cfg := Configuration([]string{"stun:stun.example.org:3478"})
	require.Len(t, cfg.ICEServers, 1)
	assert.Equal(t, []string{"stun:stun.example.org:3478"}, cfg.ICEServers[0].URLs)
}
