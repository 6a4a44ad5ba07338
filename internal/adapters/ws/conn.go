package ws

import (
	"sync"
	"time"

	"github.com/dkeye/relayhub/internal/core"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Close codes sent to clients, so they can tell a takeover from a network
// failure.
const (
	CloseMalformed    = 4000
	CloseSuperseded   = 4001
	CloseUnauthorized = 4003
	CloseIdleTimeout  = 4008
	CloseSlowConsumer = 4009
	CloseCapacity     = 4029
)

func closeCode(r core.CloseReason) int {
	switch r {
	case core.ReasonMalformed:
		return CloseMalformed
	case core.ReasonSuperseded:
		return CloseSuperseded
	case core.ReasonUnauthorized:
		return CloseUnauthorized
	case core.ReasonIdleTimeout:
		return CloseIdleTimeout
	case core.ReasonSlowConsumer:
		return CloseSlowConsumer
	case core.ReasonCapacity:
		return CloseCapacity
	case core.ReasonShutdown:
		return websocket.CloseGoingAway
	default:
		return websocket.CloseNormalClosure
	}
}

// wsConn is the core.Transport of a websocket session. Only writePump writes
// data messages; Close just arms a hard shutdown in case the pump is stuck.
type wsConn struct {
	conn         *websocket.Conn
	remote       string
	writeTimeout time.Duration

	closeOnce sync.Once
}

func newWSConn(conn *websocket.Conn, remote string, writeTimeout time.Duration) *wsConn {
	return &wsConn{conn: conn, remote: remote, writeTimeout: writeTimeout}
}

func (c *wsConn) RemoteAddr() string { return c.remote }

func (c *wsConn) Close(reason core.CloseReason) {
	c.closeOnce.Do(func() {
		log.Debug().Str("module", "ws").Str("remote", c.remote).Str("reason", reason.String()).Msg("transport closing")
		time.AfterFunc(2*c.writeTimeout, func() { _ = c.conn.Close() })
	})
}

// writeClose sends the close frame for reason.
func (c *wsConn) writeClose(reason core.CloseReason) {
	msg := websocket.FormatCloseMessage(closeCode(reason), reason.String())
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeTimeout))
}

// reject tells a client why its declaration failed and drops the connection.
func (c *wsConn) reject(err error) {
	defer c.conn.Close()
	if b, encErr := core.Encode(core.ErrorNotice(err)); encErr == nil {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
		if werr := c.conn.WriteMessage(websocket.TextMessage, b); werr != nil {
			log.Debug().Err(werr).Str("module", "ws").Msg("reject write")
			return
		}
	}
	reason := core.KindOf(err).CloseReason()
	if reason == core.ReasonNone {
		reason = core.ReasonMalformed
	}
	c.writeClose(reason)
}
