package orch

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/relayhub/internal/app"
	"github.com/dkeye/relayhub/internal/auth"
	"github.com/dkeye/relayhub/internal/core"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	mu      sync.Mutex
	reasons []core.CloseReason
}

func (f *fakeTransport) RemoteAddr() string { return "127.0.0.1:1" }

func (f *fakeTransport) Close(reason core.CloseReason) {
	f.mu.Lock()
	f.reasons = append(f.reasons, reason)
	f.mu.Unlock()
}

func (f *fakeTransport) Reasons() []core.CloseReason {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]core.CloseReason(nil), f.reasons...)
}

type fakeDirect struct {
	mu         sync.Mutex
	negotiated []core.Negotiation
	released   []app.SessionID
	cancelled  int
	err        error
	// hold, when set, keeps Negotiate waiting until it is closed or ctx ends.
	hold chan struct{}
}

func (d *fakeDirect) Negotiate(ctx context.Context, _ *app.Session, msg core.Negotiation) error {
	d.mu.Lock()
	d.negotiated = append(d.negotiated, msg)
	hold, err := d.hold, d.err
	d.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			d.mu.Lock()
			d.cancelled++
			d.mu.Unlock()
			return ctx.Err()
		}
	}
	return err
}

func (d *fakeDirect) Release(sid app.SessionID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.released = append(d.released, sid)
}

func (d *fakeDirect) setErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

func (d *fakeDirect) Negotiated() []core.Negotiation {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]core.Negotiation(nil), d.negotiated...)
}

func (d *fakeDirect) Released() []app.SessionID {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]app.SessionID(nil), d.released...)
}

func (d *fakeDirect) Cancelled() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cancelled
}

// hubPending reports whether sid still has a hub negotiation worker.
func (o *Supervisor) hubPending(sid app.SessionID) bool {
	o.hubMu.Lock()
	defer o.hubMu.Unlock()
	_, ok := o.hubQueues[sid]
	return ok
}

// waitControl collects control messages queued for s until one arrives.
func waitControl(t *testing.T, s *app.Session) []wireMsg {
	t.Helper()
	var msgs []wireMsg
	require.Eventually(t, func() bool {
		_, m := drain(t, s)
		msgs = append(msgs, m...)
		return len(msgs) > 0
	}, time.Second, 5*time.Millisecond)
	return msgs
}

type wireMsg struct {
	Type    core.MessageType `json:"type"`
	SID     string           `json:"sid"`
	Code    string           `json:"code"`
	From    string           `json:"from"`
	Peer    string           `json:"peer"`
	Count   *int             `json:"count"`
	Payload json.RawMessage  `json:"payload"`
}

func drain(t *testing.T, s *app.Session) (frames []core.Frame, msgs []wireMsg) {
	t.Helper()
	for {
		data, control, ok := s.Outbox().Pop()
		if !ok {
			return frames, msgs
		}
		if !control {
			frames = append(frames, data)
			continue
		}
		var m wireMsg
		require.NoError(t, json.Unmarshal(data, &m))
		msgs = append(msgs, m)
	}
}

func typesOf(msgs []wireMsg) []core.MessageType {
	out := make([]core.MessageType, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Type)
	}
	return out
}

func newSupervisor(a auth.Authorizer) *Supervisor {
	reg := app.NewRegistry(app.DefaultOptions(), nil)
	return &Supervisor{
		Registry:      reg,
		Router:        app.NewRouter(reg, 16, nil),
		Signals:       app.NewSignalRelay(reg),
		Auth:          a,
		IdleTimeout:   time.Minute,
		SweepInterval: time.Second,
	}
}

func declare(t *testing.T, o *Supervisor, identity, role string) (*app.Session, *fakeTransport) {
	t.Helper()
	ft := &fakeTransport{}
	s, err := o.Declare(context.Background(), ConnectParams{Identity: identity, Role: role, Format: "webm/opus"}, ft)
	require.NoError(t, err)
	return s, ft
}

func audio(tag byte) []byte {
	f := make([]byte, 64)
	for i := range f {
		f[i] = tag
	}
	return f
}

func tags(frames []core.Frame) []byte {
	out := make([]byte, 0, len(frames))
	for _, f := range frames {
		out = append(out, f[0])
	}
	return out
}
