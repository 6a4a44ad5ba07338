package app

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/relayhub/internal/core"
	"github.com/dkeye/relayhub/internal/domain"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterReady(t *testing.T) {
	r := NewRegistry(testOptions(), nil)
	p, _ := mustRegister(t, r, "abc123", domain.RoleProducer)

	assert.Equal(t, StateActive, p.State())
	assert.Equal(t, domain.DeviceIdentity("ABC123"), p.Identity)

	_, msgs := drain(t, p)
	require.Len(t, msgs, 1)
	assert.Equal(t, core.MsgReady, msgs[0].Type)
	assert.Equal(t, string(p.ID), msgs[0].Session)
}

func TestRegisterMalformed(t *testing.T) {
	r := NewRegistry(testOptions(), nil)
	_, err := r.Register(Declaration{Identity: "ABC123", Role: domain.RoleUnknown}, &fakeTransport{})
	require.ErrorIs(t, err, core.ErrMalformedDeclaration)
	_, err = r.Register(Declaration{Role: domain.RoleProducer}, &fakeTransport{})
	require.ErrorIs(t, err, core.ErrMalformedDeclaration)
	assert.Empty(t, r.Devices())
}

func TestProducerSupersession(t *testing.T) {
	r := NewRegistry(testOptions(), nil)
	p1, ft1 := mustRegister(t, r, "ABC123", domain.RoleProducer)
	c1, _ := mustRegister(t, r, "ABC123", domain.RoleConsumer)
	drain(t, p1)
	drain(t, c1)

	p2, ft2 := mustRegister(t, r, "ABC123", domain.RoleProducer)

	got := r.Lookup("ABC123", domain.RoleProducer)
	require.Len(t, got, 1)
	assert.Same(t, p2, got[0])

	assert.Equal(t, StateClosed, p1.State())
	assert.Equal(t, core.ReasonSuperseded, p1.CloseReason())
	assert.Equal(t, []core.CloseReason{core.ReasonSuperseded}, ft1.Reasons())
	assert.Empty(t, ft2.Reasons())

	_, msgs := drain(t, p1)
	require.Equal(t, []core.MessageType{core.MsgSuperseded}, typesOf(msgs))
	assert.Equal(t, "superseded", msgs[0].Code)

	_, msgs = drain(t, c1)
	require.Equal(t, []core.MessageType{core.MsgPeerConnected}, typesOf(msgs))
	assert.Equal(t, string(p2.ID), msgs[0].Peer)

	// The displaced session's own teardown must not touch the new producer.
	assert.False(t, r.Unregister(p1))
	_, msgs = drain(t, c1)
	assert.Empty(t, msgs)
	assert.Len(t, r.Lookup("ABC123", domain.RoleProducer), 1)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.stats.supersessions))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.stats.sessions.WithLabelValues("producer")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.stats.closes.WithLabelValues("superseded")))
}

func TestProducerRolesPerDirection(t *testing.T) {
	r := NewRegistry(testOptions(), nil)
	p, ftp := mustRegister(t, r, "ABC123", domain.RoleProducer)
	up, ftu := mustRegister(t, r, "ABC123", domain.RoleUplinkProducer)

	assert.Empty(t, ftp.Reasons())
	assert.Empty(t, ftu.Reasons())
	assert.Equal(t, []*Session{p}, r.Lookup("ABC123", domain.RoleProducer))
	assert.Equal(t, []*Session{up}, r.Lookup("abc123", domain.RoleUplinkProducer))
}

func TestConsumerPresence(t *testing.T) {
	r := NewRegistry(testOptions(), nil)
	p, _ := mustRegister(t, r, "ABC123", domain.RoleProducer)
	drain(t, p)

	c1, _ := mustRegister(t, r, "ABC123", domain.RoleConsumer)
	_, msgs := drain(t, c1)
	require.Equal(t, []core.MessageType{core.MsgReady, core.MsgPeerConnected}, typesOf(msgs))
	assert.Equal(t, string(p.ID), msgs[1].Peer)

	_, msgs = drain(t, p)
	require.Equal(t, []core.MessageType{core.MsgPeerConnected}, typesOf(msgs))
	assert.Equal(t, 1, *msgs[0].Count)

	c2, _ := mustRegister(t, r, "ABC123", domain.RoleConsumer)
	drain(t, c2)
	_, msgs = drain(t, p)
	require.Len(t, msgs, 1)
	assert.Equal(t, 2, *msgs[0].Count)

	assert.Len(t, r.Lookup("ABC123", domain.RoleConsumer), 2)

	require.True(t, r.Unregister(c1))
	_, msgs = drain(t, p)
	assert.Empty(t, msgs, "producer notified before last consumer left")

	require.True(t, r.Unregister(c2))
	_, msgs = drain(t, p)
	require.Equal(t, []core.MessageType{core.MsgPeerDisconnected}, typesOf(msgs))
	assert.Equal(t, 0, *msgs[0].Count)

	// Idempotent close: nothing changes on a second unregister.
	assert.False(t, r.Unregister(c2))
	_, msgs = drain(t, p)
	assert.Empty(t, msgs)
	assert.Empty(t, r.Lookup("ABC123", domain.RoleConsumer))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.stats.sessions.WithLabelValues("consumer")))
}

func TestProducerLeaveNotifiesConsumers(t *testing.T) {
	r := NewRegistry(testOptions(), nil)
	p, _ := mustRegister(t, r, "ABC123", domain.RoleProducer)
	c1, _ := mustRegister(t, r, "ABC123", domain.RoleConsumer)
	c2, _ := mustRegister(t, r, "ABC123", domain.RoleConsumer)
	drain(t, c1)
	drain(t, c2)

	require.True(t, r.Unregister(p))
	for _, c := range []*Session{c1, c2} {
		_, msgs := drain(t, c)
		require.Equal(t, []core.MessageType{core.MsgPeerDisconnected}, typesOf(msgs))
		assert.Equal(t, string(p.ID), msgs[0].Peer)
	}
	assert.False(t, r.Unregister(p))
}

func TestConsumerCapacity(t *testing.T) {
	opts := testOptions()
	opts.MaxConsumers = 2
	r := NewRegistry(opts, nil)
	mustRegister(t, r, "ABC123", domain.RoleConsumer)
	mustRegister(t, r, "ABC123", domain.RoleConsumer)

	_, err := r.Register(Declaration{Identity: "ABC123", Role: domain.RoleConsumer}, &fakeTransport{})
	require.ErrorIs(t, err, core.ErrCapacity)
	assert.Len(t, r.Lookup("ABC123", domain.RoleConsumer), 2)

	// The uplink direction has its own cap.
	mustRegister(t, r, "ABC123", domain.RoleUplinkConsumer)
}

func TestIdentityCaseInsensitive(t *testing.T) {
	r := NewRegistry(testOptions(), nil)
	p, _ := mustRegister(t, r, "Quest-Serial-9", domain.RoleProducer)
	c, _ := mustRegister(t, r, "quest-serial-9", domain.RoleConsumer)

	_, msgs := drain(t, c)
	require.Equal(t, []core.MessageType{core.MsgReady, core.MsgPeerConnected}, typesOf(msgs))
	assert.Equal(t, string(p.ID), msgs[1].Peer)
	assert.Len(t, r.Devices(), 1)
}

func TestSweepDropsStaleAndEmpty(t *testing.T) {
	r := NewRegistry(testOptions(), nil)
	start := time.Now()
	r.now = func() time.Time { return start }

	r.AppendPending("ABC123", domain.Downlink, frame(1, 100))
	c, _ := mustRegister(t, r, "XYZ9", domain.RoleConsumer)
	require.True(t, r.Unregister(c))
	assert.Len(t, r.Devices(), 2)

	// Empty bucket goes right away; the pending buffer waits for its TTL.
	assert.Equal(t, 0, r.Sweep(start.Add(time.Second)))
	assert.Len(t, r.Devices(), 1)
	assert.Equal(t, 1, r.PendingLen("ABC123", domain.Downlink))

	assert.Equal(t, 1, r.Sweep(start.Add(r.opts.Pending.TTL+time.Second)))
	assert.Empty(t, r.Devices())
	assert.Equal(t, 0.0, testutil.ToFloat64(r.stats.buckets))

	// A swept identity can be used again.
	mustRegister(t, r, "ABC123", domain.RoleProducer)
	assert.Len(t, r.Devices(), 1)
}

func TestDeviceSnapshot(t *testing.T) {
	r := NewRegistry(testOptions(), nil)
	p, _ := mustRegister(t, r, "ABC123", domain.RoleProducer)
	mustRegister(t, r, "ABC123", domain.RoleUplinkConsumer)
	r.AppendPending("ABC123", domain.Downlink, frame(1, 100))

	di, ok := r.Device("abc123")
	require.True(t, ok)
	assert.Equal(t, "ABC123", di.Identity)
	require.Len(t, di.Sessions, 2)
	assert.Equal(t, p.ID, di.Sessions[0].ID)
	assert.Equal(t, map[string]int{"downlink": 1}, di.Pending)
	assert.Equal(t, map[string]int{"downlink": 100}, di.PendingBytes)

	_, ok = r.Device("NOPE")
	assert.False(t, ok)
}

func TestConcurrentProducersLeaveOne(t *testing.T) {
	r := NewRegistry(testOptions(), nil)
	const n = 32

	var wg sync.WaitGroup
	sessions := make([]*Session, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := r.Register(Declaration{Identity: "ABC123", Role: domain.RoleProducer}, &fakeTransport{})
			if err == nil {
				sessions[i] = s
			}
		}(i)
	}
	wg.Wait()

	live := r.Lookup("ABC123", domain.RoleProducer)
	require.Len(t, live, 1)
	closed := 0
	for _, s := range sessions {
		require.NotNil(t, s)
		if s.State() == StateClosed {
			closed++
			assert.Equal(t, core.ReasonSuperseded, s.CloseReason())
		}
	}
	assert.Equal(t, n-1, closed)
	assert.Equal(t, StateActive, live[0].State())
}

func TestIndependentIdentities(t *testing.T) {
	r := NewRegistry(testOptions(), nil)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := domain.DeviceIdentity(fmt.Sprintf("DEV%03d", i))
			for j := 0; j < 20; j++ {
				s, err := r.Register(Declaration{Identity: id, Role: domain.RoleConsumer}, &fakeTransport{})
				if err != nil {
					t.Error(err)
					return
				}
				r.Unregister(s)
			}
		}(i)
	}
	wg.Wait()
	assert.Empty(t, r.Sessions())
	r.Sweep(time.Now())
	assert.Empty(t, r.Devices())
}

func TestAppendPendingCountsStoredFrames(t *testing.T) {
	r := NewRegistry(testOptions(), nil)
	r.AppendPending("ABC123", domain.Downlink, frame(1, 100))
	r.AppendPending("ABC123", domain.Downlink, frame(2, 2000))

	assert.Equal(t, 1.0, testutil.ToFloat64(r.stats.framesBuffered))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.stats.pendingEvicted))
	assert.Equal(t, 0, r.PendingLen("ABC123", domain.Downlink))

	opts := testOptions()
	opts.Pending.MaxFrames = 0
	off := NewRegistry(opts, nil)
	off.AppendPending("ABC123", domain.Downlink, frame(1, 100))
	assert.Equal(t, 0.0, testutil.ToFloat64(off.stats.framesBuffered))
}

func TestSessionContextEndsOnClose(t *testing.T) {
	r := NewRegistry(testOptions(), nil)
	s, _ := mustRegister(t, r, "ABC123", domain.RoleConsumer)
	require.NoError(t, s.Context().Err())

	require.True(t, r.CloseSession(s, core.ReasonDisconnect))
	assert.ErrorIs(t, s.Context().Err(), context.Canceled)
}
