// Package auth is the opaque credential-checking collaborator fed bearer
// tokens by internal/layerrpc and HMAC-signed peer messages by internal/peer.
// Signature verification internals are out of scope (per the purpose
// statement); what's in scope is the wrapper surface that every transport
// calls through, so adapters only ever see ErrUnauthenticated/ErrForbidden,
// never a library-specific error type.
package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the subset of a validated token this repo acts on: the
// principal identifier (used in logs and metrics tags) and whether the
// token carries write access.
type Claims struct {
	Subject   string
	CanWrite  bool
	IsAdmin   bool
	ExpiresAt time.Time
}

// Validator checks an opaque bearer token and returns the claims it
// encodes, or ErrUnauthenticated.
type Validator interface {
	Validate(ctx context.Context, token string) (Claims, error)
}

// KeyFunc resolves the signing key for a token, mirroring jwt.Keyfunc. Key
// management (rotation, JWKS fetch, shared-secret provisioning) is the
// opaque external concern; this package only wires whatever KeyFunc it's
// given into the parse/verify call.
type KeyFunc = jwt.Keyfunc

// JWTValidator validates bearer tokens as JWTs via golang-jwt/jwt/v5. It
// accepts any KeyFunc, so HMAC shared-secret and asymmetric (RSA/EC/Ed25519)
// deployments use the same code path.
type JWTValidator struct {
	keyFunc        KeyFunc
	requireWriteOn bool // if true, absence of the write claim is ErrForbidden on write-gated calls
}

// NewJWTValidator builds a JWTValidator that resolves signing keys via fn.
func NewJWTValidator(fn KeyFunc) *JWTValidator {
	return &JWTValidator{keyFunc: fn}
}

type fabrikClaims struct {
	jwt.RegisteredClaims
	Write bool `json:"write,omitempty"`
	Admin bool `json:"admin,omitempty"`
}

func (v *JWTValidator) Validate(ctx context.Context, token string) (Claims, error) {
	if token == "" {
		return Claims{}, ErrUnauthenticated
	}

	claims := &fabrikClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, v.keyFunc)
	if err != nil || !parsed.Valid {
		return Claims{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	out := Claims{Subject: claims.Subject, CanWrite: claims.Write, IsAdmin: claims.Admin}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}

// RequireWrite returns ErrForbidden if claims does not authorize writes.
func RequireWrite(claims Claims) error {
	if !claims.CanWrite {
		return ErrForbidden
	}
	return nil
}

// RequireAdmin returns ErrForbidden if claims does not carry the admin
// claim, gating the cache-admin endpoints (disabled by default regardless).
func RequireAdmin(claims Claims) error {
	if !claims.IsAdmin {
		return ErrForbidden
	}
	return nil
}

// StaticValidator always returns the same claims, regardless of the token
// presented. Useful for single-tenant or development deployments where
// internal/config disables authentication entirely.
type StaticValidator struct {
	Claims Claims
}

func (v StaticValidator) Validate(ctx context.Context, token string) (Claims, error) {
	return v.Claims, nil
}
