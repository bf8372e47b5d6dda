// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements bearer-token authentication. The middleware extracts
// the Authorization header, verifies the token through an injected verifier,
// resolves the token subject to a local user id, and stores that id in the
// Gin context under "userID" for downstream handlers and middleware
// (rate limiting, idempotency) to consume.
//
// Design goals:
//   - Decouple token verification and user persistence via narrow function
//     types, mirroring IdempotencyLookup.
//   - Return a uniform 401 body regardless of the failure reason so clients
//     cannot probe which verification step rejected them.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/foodio/go-meal-backend/internal/auth"
)

// ctxKeyUserID is the context key under which the authenticated user's local
// id is stored. Downstream code reads it via c.Get("userID").(int64).
const ctxKeyUserID = "userID"

// TokenVerifier resolves a raw bearer token to verified claims. It is
// satisfied by *auth.Verifier.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (auth.Claims, error)
}

// UserResolver maps verified claims to a local user id, creating the user
// record on first sight of a subject. Implementations typically wrap
// repo.GetOrCreateUserBySubject.
type UserResolver func(ctx context.Context, claims auth.Claims) (int64, error)

// Authenticate returns a Gin middleware that enforces bearer authentication
// on every request it wraps.
//
// Behavior:
//   - Missing or non-Bearer Authorization header: 401.
//   - Token rejected by the verifier: 401 (reason logged at debug level).
//   - Resolver failure (storage error): 500, since the token itself was valid.
//   - Success: userID set in the context, request proceeds.
func Authenticate(verifier TokenVerifier, resolve UserResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			unauthorized(c)
			return
		}

		claims, err := verifier.Verify(c.Request.Context(), token)
		if err != nil {
			log.Debug().Err(err).Msg("bearer token rejected")
			unauthorized(c)
			return
		}

		uid, err := resolve(c.Request.Context(), claims)
		if err != nil {
			log.Error().Err(err).Str("subject", claims.Subject).Msg("user resolution failed")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"code":    "internal_error",
				"message": "could not resolve user",
			})
			return
		}

		c.Set(ctxKeyUserID, uid)
		c.Next()
	}
}

// bearerToken extracts the token from an "Authorization: Bearer <token>"
// header value. The scheme comparison is case-insensitive per RFC 7235.
func bearerToken(header string) (string, bool) {
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}

func unauthorized(c *gin.Context) {
	c.Header("WWW-Authenticate", `Bearer realm="api"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"code":    "unauthorized",
		"message": "missing or invalid bearer token",
	})
}
