/*
Package auth turns bearer tokens into schedule actors.

PURPOSE:
  Every mutating call needs an actor (id, role) and the device it came from.
  Tokens are HS256 JWTs: sub is the actor id, role and device_id are
  private claims. In development the X-Actor-ID / X-Actor-Role /
  X-Device-ID headers may stand in for a token.
*/
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/warp/schedule-engine/schedule"
)

var ErrInvalidToken = errors.New("invalid token")

type Claims struct {
	Role     schedule.Role `json:"role"`
	DeviceID string        `json:"device_id,omitempty"`
	jwt.RegisteredClaims
}

type Issuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(secret, issuer string, ttl time.Duration) *Issuer {
	return &Issuer{secret: []byte(secret), issuer: issuer, ttl: ttl, now: time.Now}
}

// WithClock replaces the issuer's clock. Used by tests.
func (i *Issuer) WithClock(now func() time.Time) *Issuer {
	i.now = now
	return i
}

// Issue signs a token for the actor.
func (i *Issuer) Issue(actor schedule.Actor) (string, error) {
	now := i.now()
	claims := Claims{
		Role:     actor.Role,
		DeviceID: actor.DeviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

// Parse validates a token and returns its actor.
func (i *Issuer) Parse(token string) (schedule.Actor, error) {
	t, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return schedule.Actor{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	c, ok := t.Claims.(*Claims)
	if !ok || !t.Valid || c.Subject == "" {
		return schedule.Actor{}, ErrInvalidToken
	}
	if !validRole(c.Role) {
		return schedule.Actor{}, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, c.Role)
	}
	return schedule.Actor{ID: c.Subject, Role: c.Role, DeviceID: c.DeviceID}, nil
}

// System is never granted through a token or header.
func validRole(r schedule.Role) bool {
	switch r {
	case schedule.RoleStaff, schedule.RoleManager, schedule.RoleAdmin:
		return true
	}
	return false
}

// =============================================================================
// CONTEXT + MIDDLEWARE
// =============================================================================

type actorKey struct{}

func WithActor(ctx context.Context, a schedule.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

func ActorFrom(ctx context.Context) (schedule.Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(schedule.Actor)
	return a, ok
}

const (
	HeaderActorID   = "X-Actor-ID"
	HeaderActorRole = "X-Actor-Role"
	HeaderDeviceID  = "X-Device-ID"
)

// Middleware attaches the request's actor to the context. A bearer token
// always wins; headers are only read when allowHeaders is set. Requests
// without credentials pass through without an actor. An invalid token is
// handed to reject.
func Middleware(issuer *Issuer, allowHeaders bool, reject func(http.ResponseWriter, *http.Request, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token, ok := bearer(r); ok {
				if issuer == nil {
					reject(w, r, fmt.Errorf("%w: tokens are not configured", ErrInvalidToken))
					return
				}
				actor, err := issuer.Parse(token)
				if err != nil {
					reject(w, r, err)
					return
				}
				if actor.DeviceID == "" {
					actor.DeviceID = r.Header.Get(HeaderDeviceID)
				}
				next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
				return
			}
			if allowHeaders {
				if id := r.Header.Get(HeaderActorID); id != "" {
					role := schedule.Role(strings.ToLower(r.Header.Get(HeaderActorRole)))
					if role == "" {
						role = schedule.RoleStaff
					}
					if !validRole(role) {
						reject(w, r, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, role))
						return
					}
					actor := schedule.Actor{ID: id, Role: role, DeviceID: r.Header.Get(HeaderDeviceID)}
					next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearer(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:]), true
	}
	return "", false
}
