package signal

import (
	"context"
	"time"

	"github.com/abhinavnt/codefolio-sub001/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Str("sid", string(c.caller)).Msg("writePump ctx done")
			c.Close()
			return
		case data, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Warn().Err(err).Str("module", "signal").Str("sid", string(c.caller)).Msg("ping failed")
				return
			}
		}
	}
}

// readPump owns the connection's lifetime: when it returns the registry is
// told the transport is gone, whatever the cause.
func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(c.caller)).Msg("readPump closing")
		ctl.Registry.OnTransportClose(c)
		c.Close()
		cancel()
	}()

	c.conn.SetReadLimit(ctl.readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(ctl.pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(ctl.pongWait))
	})

	for {
		if ctx.Err() != nil {
			return
		}
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("module", "signal").Str("sid", string(c.caller)).Msg("readPump read error")
			}
			return
		}
		if !ctl.handleSignal(c, data) {
			return
		}
	}
}

// handleSignal reports whether the connection stays open.
func (ctl *SignalWSController) handleSignal(c *WsSignalConn, data []byte) bool {
	msg, err := protocol.Decode(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(c.caller)).Msg("bad frame")
		return true
	}
	ctl.Metrics.MessageReceived(string(msg.Type))

	switch msg.Type {
	case protocol.TypeJoinRoom:
		return ctl.handleJoin(c, msg)
	default:
		log.Warn().Str("module", "signal").Str("type", string(msg.Type)).Msg("server-only message from client")
		return true
	}
}

// handleJoin closes the connection on rejection. The protocol has no error
// reply, and a client left open would believe it had joined.
func (ctl *SignalWSController) handleJoin(c *WsSignalConn, msg protocol.Message) bool {
	if !ctl.Limiter.Allow(c.caller) {
		ctl.Metrics.JoinRejected(RejectRateLimited)
		log.Warn().Str("module", "signal").Str("sid", string(c.caller)).Msg("join rate limited")
		c.reject(websocket.CloseTryAgainLater, RejectRateLimited)
		return false
	}
	err := ctl.Registry.Join(msg.RoomID, msg.PeerID, c)
	if err != nil {
		ctl.Metrics.JoinRejected(RejectInvalid)
		log.Warn().Err(err).
			Str("module", "signal").
			Str("room", string(msg.RoomID)).
			Str("peer", string(msg.PeerID)).
			Msg("join rejected")
		c.reject(websocket.ClosePolicyViolation, RejectInvalid)
		return false
	}
	return true
}
