package http

import (
	"net/http"
	"time"

	"github.com/dkeye/relayhub/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type handlers struct {
	deps Deps
}

type CodeResponse struct {
	Code      string     `json:"code"`
	Token     string     `json:"token,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"sessions": len(h.deps.Sup.Registry.Sessions()),
	})
}

func (h *handlers) devices(c *gin.Context) {
	c.JSON(http.StatusOK, h.deps.Sup.Registry.Devices())
}

func (h *handlers) device(c *gin.Context) {
	id, err := domain.ParseDeviceIdentity(c.Param("identity"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	info, ok := h.deps.Sup.Registry.Device(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown identity"})
		return
	}
	c.JSON(http.StatusOK, info)
}

// newCode mints a session code a headset can be told to join, plus a
// producer token for it when tokens are enabled.
func (h *handlers) newCode(c *gin.Context) {
	if !h.deps.CodeLimiter.Allow(c.ClientIP()) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many codes requested"})
		return
	}
	code, err := domain.NewSessionCode()
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("session code")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cannot generate code"})
		return
	}
	resp := CodeResponse{Code: code.String()}
	if h.deps.Issuer != nil {
		tok, err := h.deps.Issuer.Issue(code, h.deps.TokenTTL)
		if err != nil {
			log.Error().Err(err).Str("module", "adapters.http").Msg("issue token")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "cannot issue token"})
			return
		}
		exp := time.Now().Add(h.deps.TokenTTL).UTC()
		resp.Token, resp.ExpiresAt = tok, &exp
	}
	c.JSON(http.StatusCreated, resp)
}
