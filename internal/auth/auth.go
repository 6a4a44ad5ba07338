// Package auth decides who may produce audio on an identity.
package auth

//go:generate mockgen -source=auth.go -destination=mocks/authorizer_mock.go -package=mocks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/relayhub/internal/domain"
	"github.com/golang-jwt/jwt/v4"
	"github.com/rs/zerolog/log"
)

// AnyIdentity in a capability token allows producing on every identity.
const AnyIdentity = "*"

const issuer = "relayhub"

// Authorizer is consulted once per producer declaration.
type Authorizer interface {
	AuthorizeProducer(ctx context.Context, identity domain.DeviceIdentity, token string) bool
}

// AllowAll accepts every producer. Used when no secret is configured.
type AllowAll struct{}

func (AllowAll) AuthorizeProducer(context.Context, domain.DeviceIdentity, string) bool { return true }

// CapabilityClaims grant the right to produce on Identity.
type CapabilityClaims struct {
	Identity string `json:"identity"`
	jwt.RegisteredClaims
}

// JWTAuthorizer checks HS256 capability tokens.
type JWTAuthorizer struct {
	secret []byte
}

func NewJWTAuthorizer(secret []byte) *JWTAuthorizer {
	return &JWTAuthorizer{secret: secret}
}

// New returns a token checker for secret, or AllowAll when secret is empty.
func New(secret string) Authorizer {
	if secret == "" {
		log.Warn().Str("module", "auth").Msg("no jwt secret configured, producers are not checked")
		return AllowAll{}
	}
	return NewJWTAuthorizer([]byte(secret))
}

// Issue signs a token for identity valid for ttl.
func (a *JWTAuthorizer) Issue(identity domain.DeviceIdentity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := CapabilityClaims{
		Identity: identity.Key(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *JWTAuthorizer) verify(identity domain.DeviceIdentity, raw string) error {
	if raw == "" {
		return errors.New("missing token")
	}
	var claims CapabilityClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return err
	}
	if claims.Identity != AnyIdentity && claims.Identity != identity.Key() {
		return fmt.Errorf("token is for %q", claims.Identity)
	}
	return nil
}

func (a *JWTAuthorizer) AuthorizeProducer(_ context.Context, identity domain.DeviceIdentity, token string) bool {
	if err := a.verify(identity, token); err != nil {
		log.Info().Err(err).Str("module", "auth").Str("identity", identity.String()).Msg("producer rejected")
		return false
	}
	return true
}
