package ws

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/dkeye/relayhub/internal/app/orch"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type Options struct {
	ReadLimit    int64
	PingPeriod   time.Duration
	WriteTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		ReadLimit:    64 << 10,
		PingPeriod:   20 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
}

// RelayWSController accepts relay websockets and pumps them through the
// supervisor.
type RelayWSController struct {
	Sup     *orch.Supervisor
	Limiter *SignalRateLimiter
	opts    Options
}

func NewRelayWSController(sup *orch.Supervisor, limiter *SignalRateLimiter, opts Options) *RelayWSController {
	def := DefaultOptions()
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = def.ReadLimit
	}
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = def.PingPeriod
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = def.WriteTimeout
	}
	return &RelayWSController{Sup: sup, Limiter: limiter, opts: opts}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// bearerToken reads the capability token from the query or the
// Authorization header.
func bearerToken(c *gin.Context) string {
	if tok := c.Query("token"); tok != "" {
		return tok
	}
	h := c.GetHeader("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// HandleRelay upgrades first and declares second, so a rejected client still
// gets a readable error before the close frame.
func (ctl *RelayWSController) HandleRelay(ctx context.Context, c *gin.Context) {
	params := orch.ConnectParams{
		Identity:   c.Query("identity"),
		Role:       c.Query("role"),
		Format:     c.Query("format"),
		Token:      bearerToken(c),
		ClientID:   c.GetString("client_id"),
		RemoteAddr: c.ClientIP(),
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "ws").Msg("ws upgrade")
		return
	}
	conn := newWSConn(ws, params.RemoteAddr, ctl.opts.WriteTimeout)

	sess, err := ctl.Sup.Declare(ctx, params, conn)
	if err != nil {
		conn.reject(err)
		return
	}
	log.Info().
		Str("module", "ws").
		Str("sid", string(sess.ID)).
		Str("identity", sess.Identity.String()).
		Str("role", sess.Role.String()).
		Str("remote", params.RemoteAddr).
		Msg("new relay connection")

	go ctl.writePump(conn, sess)
	go ctl.readPump(ctx, conn, sess)
}
