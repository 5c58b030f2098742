package signal

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/abhinavnt/codefolio-sub001/internal/app"
	"github.com/abhinavnt/codefolio-sub001/internal/config"
	"github.com/abhinavnt/codefolio-sub001/internal/core"
	"github.com/abhinavnt/codefolio-sub001/internal/domain"
	"github.com/abhinavnt/codefolio-sub001/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait         = 10 * time.Second
	defaultPongWait   = 60 * time.Second
	defaultSendBuffer = 32
)

// Join rejection reasons reported to metrics.
const (
	RejectRateLimited = "rate_limited"
	RejectInvalid     = "invalid"
)

type SignalWSController struct {
	Registry *app.Registry
	Limiter  *RoomRateLimiter
	Metrics  metrics.Collector

	readLimit  int64
	pingPeriod time.Duration
	pongWait   time.Duration
	sendBuffer int
}

func NewSignalWSController(reg *app.Registry, cfg *config.Config, m metrics.Collector) *SignalWSController {
	if m == nil {
		m = metrics.Nop{}
	}
	pongWait, pingPeriod := cfg.PongWait, cfg.PingPeriod
	if pongWait <= 0 {
		pongWait = defaultPongWait
	}
	if pingPeriod <= 0 || pingPeriod >= pongWait {
		pingPeriod = pongWait * 9 / 10
	}
	sendBuffer := cfg.SendBuffer
	if sendBuffer <= 0 {
		sendBuffer = defaultSendBuffer
	}
	return &SignalWSController{
		Registry:   reg,
		Limiter:    NewRoomRateLimiter(cfg.JoinLimit.Count, cfg.JoinLimit.Interval),
		Metrics:    m,
		readLimit:  cfg.ReadLimit,
		pingPeriod: pingPeriod,
		pongWait:   pongWait,
		sendBuffer: sendBuffer,
	}
}

// WsSignalConn is the registry's handle on one signaling websocket.
type WsSignalConn struct {
	conn   *websocket.Conn
	send   chan core.Frame
	caller domain.UserID

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

// Close stops the write pump and tears down the socket, which in turn ends
// the read pump. Safe to call more than once.
func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// reject sends a close frame carrying reason. The read pump then ends the
// connection.
func (c *WsSignalConn) reject(code int, reason string) {
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
}

func (c *WsSignalConn) Caller() domain.UserID { return c.caller }

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	caller := domain.UserID(c.GetString("client_token"))
	log.Info().Str("module", "signal").Str("sid", string(caller)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	conn := &WsSignalConn{
		conn:   ws,
		send:   make(chan core.Frame, ctl.sendBuffer),
		caller: caller,
	}

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, conn)
}
