package http

import (
	"context"
	"path/filepath"
	"time"

	"github.com/dkeye/relayhub/internal/adapters/ws"
	"github.com/dkeye/relayhub/internal/app/orch"
	"github.com/dkeye/relayhub/internal/auth"
	"github.com/dkeye/relayhub/internal/config"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const sessionName = "RelaySessions"

// Deps is everything the HTTP surface talks to.
type Deps struct {
	Sup   *orch.Supervisor
	Relay *ws.RelayWSController
	// Issuer mints producer tokens for new session codes; nil when
	// capability tokens are disabled.
	Issuer   *auth.JWTAuthorizer
	TokenTTL time.Duration
	// CodeLimiter throttles POST /api/codes per client; nil allows all.
	CodeLimiter *ClientLimiter
}

// ClientIDMiddleware gives every browser a stable id kept in the cookie
// session and exposes it as "client_id".
func ClientIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		s := sessions.Default(c)
		id, _ := s.Get("client_id").(string)
		if id == "" {
			id = uuid.NewString()
			s.Set("client_id", id)
			if err := s.Save(); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("save client session")
			}
		}
		c.Set("client_id", id)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, deps Deps) *gin.Engine {
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	secret := cfg.Secret
	if secret == "" {
		secret = uuid.NewString()
		log.Warn().Str("module", "adapters.http").Msg("no secret configured, client cookies will not survive a restart")
	}
	store := cookie.NewStore([]byte(secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true})
	r.Use(sessions.Sessions(sessionName, store))
	r.Use(ClientIDMiddleware())

	h := &handlers{deps: deps}

	r.GET("/healthz", h.health)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Sup.Registry.Stats().Registry(), promhttp.HandlerOpts{})))

	if cfg.StaticPath != "" {
		r.Static("/static", cfg.StaticPath)
		r.GET("/", func(c *gin.Context) {
			c.File(filepath.Join(cfg.StaticPath, "index.html"))
		})
	}

	api := r.Group("/api")
	api.GET("/devices", h.devices)
	api.GET("/devices/:identity", h.device)
	api.POST("/codes", h.newCode)
	api.GET("/ws/relay", func(c *gin.Context) {
		deps.Relay.HandleRelay(ctx, c)
	})

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")
	return r
}
