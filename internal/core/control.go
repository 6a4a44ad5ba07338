package core

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// MessageType is the discriminant of the control union.
type MessageType string

const (
	MsgPing             MessageType = "ping"
	MsgPong             MessageType = "pong"
	MsgClose            MessageType = "close"
	MsgReady            MessageType = "ready"
	MsgPeerConnected    MessageType = "peer-connected"
	MsgPeerDisconnected MessageType = "peer-disconnected"
	MsgOffer            MessageType = "offer"
	MsgAnswer           MessageType = "answer"
	MsgICECandidate     MessageType = "ice-candidate"
	MsgSuperseded       MessageType = "superseded"
	MsgNoPeer           MessageType = "no-peer"
	MsgError            MessageType = "error"
)

// HubTarget addresses a negotiation to the hub itself instead of a peer.
const HubTarget = "hub"

// Message is a control message. The set of implementations is closed.
type Message interface {
	Type() MessageType
	isMessage()
}

type Ping struct{}

type Pong struct{}

// Close is the client's graceful end. Reason is informational.
type Close struct {
	Reason string
}

// Ready is sent once a session is active.
type Ready struct {
	Session  string
	Identity string
	Role     string
	Format   string
}

// PeerConnected and PeerDisconnected are presence notices. Count is the number
// of counterpart sessions left after the change.
type PeerConnected struct {
	Peer  string
	Role  string
	Count int
}

type PeerDisconnected struct {
	Peer  string
	Role  string
	Count int
}

// Negotiation carries offer, answer and ice-candidate messages. Payload is
// forwarded byte for byte and never interpreted by the relay.
type Negotiation struct {
	Kind        MessageType
	Correlation string
	Target      string
	From        string
	FromSession string
	Payload     json.RawMessage
}

// Notice reports superseded, no-peer and error conditions.
type Notice struct {
	Kind        MessageType
	Code        string
	Reason      string
	Correlation string
}

func (Ping) Type() MessageType             { return MsgPing }
func (Pong) Type() MessageType             { return MsgPong }
func (Close) Type() MessageType            { return MsgClose }
func (Ready) Type() MessageType            { return MsgReady }
func (PeerConnected) Type() MessageType    { return MsgPeerConnected }
func (PeerDisconnected) Type() MessageType { return MsgPeerDisconnected }
func (n Negotiation) Type() MessageType    { return n.Kind }
func (n Notice) Type() MessageType         { return n.Kind }

func (Ping) isMessage()             {}
func (Pong) isMessage()             {}
func (Close) isMessage()            {}
func (Ready) isMessage()            {}
func (PeerConnected) isMessage()    {}
func (PeerDisconnected) isMessage() {}
func (Negotiation) isMessage()      {}
func (Notice) isMessage()           {}

// ErrorNotice renders err as an error notice, keeping its wire code.
func ErrorNotice(err error) Notice {
	kind := KindOf(err)
	n := Notice{Kind: MsgError, Code: kind.Code(), Reason: err.Error()}
	switch kind {
	case KindNoPeer:
		n.Kind = MsgNoPeer
	case KindSuperseded:
		n.Kind = MsgSuperseded
	}
	return n
}

// wireMessage is the JSON shape of every control message.
type wireMessage struct {
	Type        MessageType     `json:"type"`
	SID         string          `json:"sid,omitempty"`
	Target      string          `json:"target,omitempty"`
	From        string          `json:"from,omitempty"`
	FromSession string          `json:"from_session,omitempty"`
	Session     string          `json:"session,omitempty"`
	Identity    string          `json:"identity,omitempty"`
	Role        string          `json:"role,omitempty"`
	Format      string          `json:"format,omitempty"`
	Peer        string          `json:"peer,omitempty"`
	Count       *int            `json:"count,omitempty"`
	Code        string          `json:"code,omitempty"`
	Reason      string          `json:"reason,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// DecodeInbound parses a client control message. Only client-originated types
// are accepted; anything else is a KindBadMessage error.
func DecodeInbound(data []byte) (Message, error) {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, NewError(KindBadMessage, err, "invalid json")
	}
	switch w.Type {
	case MsgPing:
		return Ping{}, nil
	case MsgPong:
		return Pong{}, nil
	case MsgClose:
		return Close{Reason: w.Reason}, nil
	case MsgOffer, MsgAnswer, MsgICECandidate:
		if len(w.Payload) == 0 {
			return nil, NewError(KindBadMessage, nil, "%s without payload", w.Type)
		}
		return Negotiation{
			Kind:        w.Type,
			Correlation: w.SID,
			Target:      w.Target,
			Payload:     w.Payload,
		}, nil
	case "":
		return nil, NewError(KindBadMessage, nil, "missing type")
	}
	return nil, NewError(KindBadMessage, nil, "unknown type %q", w.Type)
}

// Encode renders msg for the wire. Payloads keep their JSON text apart from
// insignificant whitespace.
func Encode(msg Message) ([]byte, error) {
	w := wireMessage{Type: msg.Type()}
	switch m := msg.(type) {
	case Ping, Pong:
	case Close:
		w.Reason = m.Reason
	case Ready:
		w.Session, w.Identity, w.Role, w.Format = m.Session, m.Identity, m.Role, m.Format
	case PeerConnected:
		w.Peer, w.Role, w.Count = m.Peer, m.Role, intPtr(m.Count)
	case PeerDisconnected:
		w.Peer, w.Role, w.Count = m.Peer, m.Role, intPtr(m.Count)
	case Negotiation:
		w.SID, w.Target, w.From, w.FromSession, w.Payload = m.Correlation, m.Target, m.From, m.FromSession, m.Payload
	case Notice:
		w.Code, w.Reason, w.SID = m.Code, m.Reason, m.Correlation
	default:
		return nil, fmt.Errorf("encode: unsupported message %T", msg)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(w); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func intPtr(v int) *int { return &v }
