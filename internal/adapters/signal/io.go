package signal

import (
	"context"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Beacon/internal/core"
	"github.com/dkeye/Beacon/internal/protocol"
)

const writeWait = 5 * time.Second

// writePump is the only writer of c.conn.
func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		case <-c.ping:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Debug().Err(err).Str("module", "signal").Msg("writePump ping error")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, sess *core.Session, c *WsSignalConn) {
	sid := sess.ID()
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump closing")
		ctl.Orch.OnDisconnect(sess)
		if sess.UserID() == nil {
			ctl.Limiter.Forget(limiterKey(sess))
		}
		cancel()
		c.Close()
	}()

	c.conn.SetPongHandler(func(string) error {
		sess.MarkAlive()
		if ctl.opts.PongWait > 0 {
			return c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
		}
		return nil
	})
	if ctl.opts.PongWait > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
	}

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump ctx done")
			return
		default:
			kind, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("readPump read error")
				}
				return
			}
			if kind == websocket.BinaryMessage {
				ctl.Orch.OnAudio(sess, data, core.PCM16k)
				continue
			}
			ctl.handleSignal(ctx, sess, data)
		}
	}
}

func (ctl *SignalWSController) handleSignal(ctx context.Context, sess *core.Session, data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sess.ID())).Msg("bad message")
		ctl.sendError(sess, err)
		return
	}

	switch m := msg.(type) {
	case protocol.CreateRoom:
		ctl.handleCreateRoom(ctx, sess, m)
	case protocol.JoinRoom:
		ctl.handleJoin(ctx, sess, m)
	case protocol.EndBroadcast:
		ctl.handleEndBroadcast(sess)
	case protocol.Ping:
		ctl.handlePing(sess)
	case protocol.Offer:
		ctl.handleOffer(ctx, sess, m)
	case protocol.Candidate:
		ctl.handleCandidate(sess, m)
	default:
		ctl.sendError(sess, errors.New("unhandled message"))
	}
}

func (ctl *SignalWSController) sendError(sess *core.Session, err error) {
	_ = sess.Send(protocol.ErrorFrom(err))
}
