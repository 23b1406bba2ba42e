// Package auth holds the external authentication collaborators: the token
// resolver that turns a JWT into an identity claim and the verifier for
// legacy username/password credentials.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/okian/scoreboard/internal/domain/model"
)

const defaultLeeway = 30 * time.Second

// Claims is the token payload. Subject carries the legacy user id.
type Claims struct {
	PlayerID string `json:"playerId,omitempty"`
	jwt.RegisteredClaims
}

// JWTResolver validates HS256 tokens.
type JWTResolver struct {
	secret []byte
	issuer string
	leeway time.Duration
	now    func() time.Time
}

// Option configures a JWTResolver or Issuer.
type Option func(*options)

type options struct {
	issuer string
	leeway time.Duration
	now    func() time.Time
	ttl    time.Duration
}

// WithIssuer requires (resolver) or sets (issuer) the iss claim.
func WithIssuer(iss string) Option { return func(o *options) { o.issuer = iss } }

// WithLeeway tolerates clock skew when checking exp and nbf.
func WithLeeway(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.leeway = d
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithTTL sets the lifetime of issued tokens.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

func apply(opts []Option) options {
	o := options{leeway: defaultLeeway, now: time.Now, ttl: 24 * time.Hour}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewJWTResolver returns a resolver for tokens signed with secret.
func NewJWTResolver(secret []byte, opts ...Option) *JWTResolver {
	o := apply(opts)
	return &JWTResolver{secret: secret, issuer: o.issuer, leeway: o.leeway, now: o.now}
}

// Resolve validates token and returns the identity it asserts. Every
// failure wraps model.ErrInvalidCredential.
func (r *JWTResolver) Resolve(ctx context.Context, token string) (model.IdentityClaim, error) {
	if err := ctx.Err(); err != nil {
		return model.IdentityClaim{}, err
	}
	if token == "" {
		return model.IdentityClaim{}, fmt.Errorf("%w: empty token", model.ErrInvalidCredential)
	}
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(r.leeway),
		jwt.WithTimeFunc(r.now),
	}
	if r.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(r.issuer))
	}

	var c Claims
	_, err := jwt.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) {
		return r.secret, nil
	}, parserOpts...)
	if err != nil {
		return model.IdentityClaim{}, fmt.Errorf("%w: %s", model.ErrInvalidCredential, describe(err))
	}
	claim := model.IdentityClaim{PlayerID: c.PlayerID, LegacyUserID: c.Subject}
	if claim.PlayerID == "" && claim.LegacyUserID == "" {
		return model.IdentityClaim{}, fmt.Errorf("%w: token carries no identity", model.ErrInvalidCredential)
	}
	return claim, nil
}

func describe(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "token expired"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "bad signature"
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return "wrong issuer"
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "malformed token"
	default:
		return err.Error()
	}
}

// Issuer mints tokens the resolver accepts. The load generator and tests
// use it; production tokens come from the identity provider.
type Issuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer returns an Issuer signing with secret.
func NewIssuer(secret []byte, opts ...Option) *Issuer {
	o := apply(opts)
	return &Issuer{secret: secret, issuer: o.issuer, ttl: o.ttl, now: o.now}
}

// Issue signs a token for claim.
func (i *Issuer) Issue(claim model.IdentityClaim) (string, error) {
	now := i.now()
	c := Claims{
		PlayerID: claim.PlayerID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   claim.LegacyUserID,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}
