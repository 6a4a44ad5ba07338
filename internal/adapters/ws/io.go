package ws

import (
	"context"
	"time"

	"github.com/dkeye/relayhub/internal/app"
	"github.com/dkeye/relayhub/internal/core"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *RelayWSController) writePump(c *wsConn, sess *app.Session) {
	ticker := time.NewTicker(ctl.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	ob := sess.Outbox()
	for {
		select {
		case <-ob.Ready():
			closed := ob.Closed()
			for {
				data, control, ok := ob.Pop()
				if !ok {
					break
				}
				if err := ctl.write(c, sess, data, control); err != nil {
					log.Debug().Err(err).Str("module", "ws").Str("sid", string(sess.ID)).Msg("writePump write error")
					return
				}
			}
			if closed {
				c.writeClose(sess.CloseReason())
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ctl.opts.WriteTimeout)); err != nil {
				log.Debug().Err(err).Str("module", "ws").Str("sid", string(sess.ID)).Msg("writePump ping error")
				return
			}
		}
	}
}

// write sends one outbox item. Frames go over the session's direct sink when
// one is open, and fall back to the websocket if it fails.
func (ctl *RelayWSController) write(c *wsConn, sess *app.Session, data []byte, control bool) error {
	mt := websocket.TextMessage
	if !control {
		mt = websocket.BinaryMessage
		if sink := sess.DirectSink(); sink != nil {
			if err := sink.SendFrame(data); err == nil {
				return nil
			}
			sess.SetDirectSink(nil)
			log.Info().Str("module", "ws").Str("sid", string(sess.ID)).Msg("direct sink failed, back to websocket")
		}
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.opts.WriteTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(mt, data)
}

func (ctl *RelayWSController) readPump(ctx context.Context, c *wsConn, sess *app.Session) {
	defer func() {
		ctl.Limiter.Forget(sess.ID)
		ctl.Sup.Teardown(sess, core.ReasonDisconnect)
		log.Info().Str("module", "ws").Str("sid", string(sess.ID)).Msg("readPump closing")
	}()

	c.conn.SetReadLimit(ctl.opts.ReadLimit)
	c.conn.SetPongHandler(func(string) error {
		sess.Touch(time.Now())
		return nil
	})
	c.conn.SetPingHandler(func(appData string) error {
		sess.Touch(time.Now())
		err := c.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(ctl.opts.WriteTimeout))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})

	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Str("module", "ws").Str("sid", string(sess.ID)).Msg("readPump read error")
			}
			return
		}
		switch mt {
		case websocket.BinaryMessage:
			ctl.Sup.OnFrame(sess, data)
		case websocket.TextMessage:
			if !ctl.Limiter.Allow(sess.ID) {
				sess.Send(core.ErrorNotice(core.NewError(core.KindRateLimited, nil, "control messages")))
				continue
			}
			ctl.Sup.OnControl(ctx, sess, data)
		}
	}
}
