package app

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/dkeye/relayhub/internal/core"
	"github.com/dkeye/relayhub/internal/domain"
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

type wireMsg struct {
	Type        core.MessageType `json:"type"`
	SID         string           `json:"sid"`
	From        string           `json:"from"`
	FromSession string           `json:"from_session"`
	Session     string           `json:"session"`
	Role        string           `json:"role"`
	Peer        string           `json:"peer"`
	Count       *int             `json:"count"`
	Code        string           `json:"code"`
	Payload     json.RawMessage  `json:"payload"`
}

// drain pops everything queued for s.
func drain(t *testing.T, s *Session) (frames []core.Frame, msgs []wireMsg) {
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

func countType(msgs []wireMsg, typ core.MessageType) int {
	n := 0
	for _, m := range msgs {
		if m.Type == typ {
			n++
		}
	}
	return n
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.Pending.MaxBytes = 1 << 10
	return opts
}

func mustRegister(t *testing.T, r *Registry, id string, role domain.Role) (*Session, *fakeTransport) {
	t.Helper()
	ident, err := domain.ParseDeviceIdentity(id)
	require.NoError(t, err)
	ft := &fakeTransport{}
	s, err := r.Register(Declaration{Identity: ident, Role: role, Format: "webm/opus"}, ft)
	require.NoError(t, err)
	return s, ft
}

func frame(tag byte, size int) core.Frame {
	f := make(core.Frame, size)
	for i := range f {
		f[i] = tag
	}
	return f
}
