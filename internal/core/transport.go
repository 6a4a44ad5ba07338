package core

// Frame is an opaque binary payload. Once routed it is shared read-only.
type Frame []byte

// CloseReason tells the client why the hub ended its session.
type CloseReason int

const (
	ReasonNone CloseReason = iota
	ReasonDisconnect
	ReasonClientClose
	ReasonIdleTimeout
	ReasonSuperseded
	ReasonMalformed
	ReasonUnauthorized
	ReasonSlowConsumer
	ReasonCapacity
	ReasonShutdown
)

func (r CloseReason) String() string {
	switch r {
	case ReasonDisconnect:
		return "disconnect"
	case ReasonClientClose:
		return "client-close"
	case ReasonIdleTimeout:
		return "idle-timeout"
	case ReasonSuperseded:
		return "superseded"
	case ReasonMalformed:
		return "malformed"
	case ReasonUnauthorized:
		return "unauthorized"
	case ReasonSlowConsumer:
		return "slow-consumer"
	case ReasonCapacity:
		return "capacity"
	case ReasonShutdown:
		return "shutdown"
	default:
		return "none"
	}
}

// Transport is the connection a session is bound to.
// Owned by the adapter; the hub only asks it to close.
type Transport interface {
	RemoteAddr() string
	Close(reason CloseReason)
}
