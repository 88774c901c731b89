// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-qrlive.
//
// go-qrlive is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package web

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jeremyhahn/go-qrlive/internal/config"
)

// Identity represents an authenticated caller.
type Identity struct {
	// Subject is the unique identifier of the authenticated entity.
	Subject string

	// Claims contains claims carried by the credential.
	Claims map[string]interface{}

	// Attributes contains additional key-value attributes.
	Attributes map[string]string
}

func (i *Identity) clone() *Identity {
	out := &Identity{Subject: i.Subject}
	if i.Claims != nil {
		out.Claims = make(map[string]interface{}, len(i.Claims))
		for k, v := range i.Claims {
			out.Claims[k] = v
		}
	}
	if i.Attributes != nil {
		out.Attributes = make(map[string]string, len(i.Attributes))
		for k, v := range i.Attributes {
			out.Attributes[k] = v
		}
	}
	return out
}

// Authenticator validates credentials on incoming API requests.
type Authenticator interface {
	// AuthenticateHTTP validates the request and returns the caller identity.
	AuthenticateHTTP(r *http.Request) (*Identity, error)

	// Name returns the authenticator name for logging.
	Name() string
}

type contextKey string

const identityKey contextKey = "web.identity"

// WithIdentity returns a context carrying the authenticated identity.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

// GetIdentity extracts the authenticated identity from the context.
func GetIdentity(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityKey).(*Identity)
	return identity, ok
}

// NewAuthenticator builds an authenticator from configuration. It returns
// nil when authentication is disabled, in which case API routes stay open.
func NewAuthenticator(cfg *config.AuthConfig) (Authenticator, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}

	switch strings.ToLower(cfg.Type) {
	case "", "none", "noop":
		return &NoopAuthenticator{}, nil
	case "apikey":
		if len(cfg.APIKeys) == 0 {
			return nil, fmt.Errorf("apikey authentication requires at least one key")
		}
		return NewAPIKeyAuthenticator(cfg.APIKeys), nil
	case "jwt":
		if cfg.JWT == nil || cfg.JWT.Secret == "" {
			return nil, fmt.Errorf("jwt authentication requires a secret")
		}
		return NewJWTAuthenticator(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.Audience)
	default:
		return nil, fmt.Errorf("unsupported auth type: %s", cfg.Type)
	}
}

// NoopAuthenticator accepts every request. Useful for development and for
// deployments fronted by an authenticating proxy.
type NoopAuthenticator struct{}

// AuthenticateHTTP implements Authenticator.
func (a *NoopAuthenticator) AuthenticateHTTP(r *http.Request) (*Identity, error) {
	return &Identity{Subject: "anonymous"}, nil
}

// Name implements Authenticator.
func (a *NoopAuthenticator) Name() string {
	return "noop"
}

// APIKeyAuthenticator validates requests against a static set of API keys.
type APIKeyAuthenticator struct {
	keys map[string]*Identity
}

// NewAPIKeyAuthenticator creates an authenticator from configured keys.
func NewAPIKeyAuthenticator(keys map[string]config.APIKeyConfig) *APIKeyAuthenticator {
	identities := make(map[string]*Identity, len(keys))
	for key, kc := range keys {
		subject := kc.Subject
		if subject == "" {
			subject = "api-key"
		}
		identity := &Identity{Subject: subject}
		if len(kc.Roles) > 0 {
			identity.Claims = map[string]interface{}{"roles": kc.Roles}
		}
		identities[key] = identity
	}
	return &APIKeyAuthenticator{keys: identities}
}

// AuthenticateHTTP implements Authenticator. The key is read from the
// X-API-Key header, the api_key query parameter, or a bearer token, in
// that order.
func (a *APIKeyAuthenticator) AuthenticateHTTP(r *http.Request) (*Identity, error) {
	key := r.Header.Get("X-API-Key")
	if key == "" {
		key = r.URL.Query().Get("api_key")
	}
	if key == "" {
		if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			key = strings.TrimPrefix(auth, "Bearer ")
		}
	}
	if key == "" {
		return nil, fmt.Errorf("%w: missing API key", ErrUnauthorized)
	}

	identity, ok := a.keys[key]
	if !ok {
		return nil, fmt.Errorf("%w: invalid API key", ErrUnauthorized)
	}
	return identity.clone(), nil
}

// Name implements Authenticator.
func (a *APIKeyAuthenticator) Name() string {
	return "apikey"
}

// JWTAuthenticator validates HS256 bearer tokens.
type JWTAuthenticator struct {
	secret   []byte
	issuer   string
	audience string
}

// NewJWTAuthenticator creates a JWT authenticator. Issuer and audience are
// enforced only when configured.
func NewJWTAuthenticator(secret, issuer, audience string) (*JWTAuthenticator, error) {
	if secret == "" {
		return nil, fmt.Errorf("jwt secret cannot be empty")
	}
	return &JWTAuthenticator{
		secret:   []byte(secret),
		issuer:   issuer,
		audience: audience,
	}, nil
}

// AuthenticateHTTP implements Authenticator.
func (a *JWTAuthenticator) AuthenticateHTTP(r *http.Request) (*Identity, error) {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return nil, fmt.Errorf("%w: missing bearer token", ErrUnauthorized)
	}
	return a.validateToken(strings.TrimPrefix(auth, "Bearer "))
}

func (a *JWTAuthenticator) validateToken(tokenString string) (*Identity, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%w: invalid token claims", ErrUnauthorized)
	}

	if a.issuer != "" {
		issuer, err := claims.GetIssuer()
		if err != nil || issuer != a.issuer {
			return nil, fmt.Errorf("%w: invalid issuer", ErrUnauthorized)
		}
	}

	if a.audience != "" {
		audience, err := claims.GetAudience()
		if err != nil {
			return nil, fmt.Errorf("%w: invalid audience", ErrUnauthorized)
		}
		found := false
		for _, aud := range audience {
			if aud == a.audience {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: invalid audience", ErrUnauthorized)
		}
	}

	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrUnauthorized)
	}

	return &Identity{
		Subject: subject,
		Claims:  claims,
	}, nil
}

// Name implements Authenticator.
func (a *JWTAuthenticator) Name() string {
	return "jwt"
}
