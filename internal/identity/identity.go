// Package identity turns a bearer token into an actor. Tokens are issued by
// the portal's auth service; this side only verifies them.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"grievd/internal/domain"
	"grievd/internal/live"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrExpired         = errors.New("token has expired")
)

// Claims carries the subject (actor id) and the resolved role.
type Claims struct {
	Role domain.Role `json:"role"`
	jwt.RegisteredClaims
}

type Verifier struct {
	key    []byte
	issuer string
}

// NewVerifier returns an HS256 verifier. An empty issuer skips the issuer
// check.
func NewVerifier(secret, issuer string) *Verifier {
	return &Verifier{key: []byte(secret), issuer: issuer}
}

func (v *Verifier) Verify(token string) (live.Actor, error) {
	if len(v.key) == 0 {
		return live.Actor{}, fmt.Errorf("%w: verifier has no key", ErrUnauthenticated)
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (any, error) {
		return v.key, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return live.Actor{}, ErrExpired
		}
		return live.Actor{}, fmt.Errorf("%w: invalid token", ErrUnauthenticated)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return live.Actor{}, fmt.Errorf("%w: invalid token claims", ErrUnauthenticated)
	}
	if claims.Subject == "" || !claims.Role.Valid() {
		return live.Actor{}, fmt.Errorf("%w: token needs a subject and a known role", ErrUnauthenticated)
	}
	return live.Actor{ID: claims.Subject, Role: claims.Role}, nil
}

// Issue signs a token for actor. Used by the CLI and tests.
func (v *Verifier) Issue(actor live.Actor, ttl time.Duration) (string, error) {
	now := time.Now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role: actor.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	return tok.SignedString(v.key)
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	scheme, tok, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(tok) == "" {
		return "", false
	}
	return strings.TrimSpace(tok), true
}

type ctxKey struct{}

func WithActor(ctx context.Context, a live.Actor) context.Context {
	return context.WithValue(ctx, ctxKey{}, a)
}

func ActorFrom(ctx context.Context) (live.Actor, bool) {
	a, ok := ctx.Value(ctxKey{}).(live.Actor)
	return a, ok
}
