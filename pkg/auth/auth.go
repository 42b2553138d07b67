// Package auth verifies callers of the HTTP surface.
//
// Two credentials are accepted: static API keys carried in X-API-Key,
// mapped to a role in configuration, and HS256 JWTs issued by this
// process for the ops surface. When neither keys nor a signing secret
// are configured, authentication is disabled and every caller gets the
// admin role; that mode is for local development only.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/atlaspay/concierge/pkg/config"
)

// Roles attached to credentials.
const (
	RoleAdmin   = "admin"
	RoleService = "service"
	RoleTenant  = "tenant"
)

// Identity is the authenticated caller.
type Identity struct {
	Subject string
	Role    string
}

type contextKey string

const identityContextKey contextKey = "identity"

// Authenticator checks API keys and JWTs against the configured material.
type Authenticator struct {
	keys   map[string]string
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewAuthenticator(cfg config.AuthConfig) *Authenticator {
	cfg.SetDefaults()
	return &Authenticator{
		keys:   cfg.ResolvedAPIKeys(),
		secret: []byte(cfg.JWTSecret),
		ttl:    time.Duration(cfg.TokenTTLMinutes) * time.Minute,
		now:    time.Now,
	}
}

// Enabled reports whether any credential material is configured.
func (a *Authenticator) Enabled() bool {
	return len(a.keys) > 0 || len(a.secret) > 0
}

// IssueToken mints an HS256 JWT for the ops surface.
func (a *Authenticator) IssueToken(subject, role string) (string, error) {
	if len(a.secret) == 0 {
		return "", fmt.Errorf("jwt_secret is not configured")
	}

	now := a.now().UTC()
	token, err := jwt.NewBuilder().
		Subject(subject).
		IssuedAt(now).
		Expiration(now.Add(a.ttl)).
		Claim("role", role).
		Build()
	if err != nil {
		return "", fmt.Errorf("failed to build token: %w", err)
	}

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256, a.secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return string(signed), nil
}

// VerifyToken parses and validates an HS256 JWT.
func (a *Authenticator) VerifyToken(tokenString string) (*Identity, error) {
	if len(a.secret) == 0 {
		return nil, fmt.Errorf("jwt_secret is not configured")
	}

	token, err := jwt.Parse(
		[]byte(tokenString),
		jwt.WithKey(jwa.HS256, a.secret),
		jwt.WithValidate(true),
		jwt.WithClock(jwt.ClockFunc(a.now)),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	identity := &Identity{Subject: token.Subject(), Role: RoleService}
	if role, ok := token.Get("role"); ok {
		if s, ok := role.(string); ok && s != "" {
			identity.Role = s
		}
	}
	return identity, nil
}

// Middleware authenticates the request and stores the caller identity in
// the request context. API keys are checked before bearer tokens.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			ctx := withIdentity(r.Context(), &Identity{Subject: "dev", Role: RoleAdmin})
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		if key := r.Header.Get("X-API-Key"); key != "" {
			role, ok := a.keys[key]
			if !ok {
				unauthorized(w, "invalid API key")
				return
			}
			ctx := withIdentity(r.Context(), &Identity{Subject: "api-key", Role: role})
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		header := r.Header.Get("Authorization")
		if header == "" {
			unauthorized(w, "missing credentials")
			return
		}
		tokenString := strings.TrimPrefix(header, "Bearer ")
		if tokenString == header {
			unauthorized(w, "invalid Authorization format, expected: Bearer <token>")
			return
		}

		identity, err := a.VerifyToken(tokenString)
		if err != nil {
			unauthorized(w, "invalid token")
			return
		}

		ctx := withIdentity(r.Context(), identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin gates a handler on the admin role. It assumes Middleware
// already ran.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity := IdentityFrom(r.Context())
		if identity == nil {
			unauthorized(w, "missing credentials")
			return
		}
		if identity.Role != RoleAdmin {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			fmt.Fprintf(w, `{"error":%q}`, "insufficient permissions")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// IdentityFrom returns the authenticated caller, or nil.
func IdentityFrom(ctx context.Context) *Identity {
	if identity, ok := ctx.Value(identityContextKey).(*Identity); ok {
		return identity
	}
	return nil
}

func withIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	fmt.Fprintf(w, `{"error":%q}`, message)
}
