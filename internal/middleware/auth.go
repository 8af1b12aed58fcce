package middleware

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	appctx "github.com/taskmgr818/billpay/internal/context"
	"github.com/taskmgr818/billpay/internal/session"
	"golang.org/x/crypto/bcrypt"
)

const (
	msgTokenRequired = "Token de autenticación es requerido."
	msgTokenInvalid  = "Token inválido o expirado."
)

// SessionAuth returns a Gin middleware that validates the bearer token
// from the Authorization header (format: "Bearer <token>") and injects
// the Session into the context.
func SessionAuth(sessions *session.Service, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := extractBearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msgTokenRequired})
			return
		}

		sess, err := sessions.Validate(c.Request.Context(), raw)
		if err != nil {
			if !errors.Is(err, session.ErrUnauthenticated) {
				log.Error().Err(err).Msg("session lookup failed")
			}
			// A store failure fails closed the same way as a bad token.
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msgTokenInvalid})
			return
		}

		c.Set(appctx.CtxKeySession, sess)
		c.Next()
	}
}

const bearerPrefix = "Bearer "

// extractBearerToken gets the token from "Authorization: Bearer <token>".
// ok is false when the header does not start with the exact prefix. The
// token ends at the next space and may be empty.
func extractBearerToken(c *gin.Context) (token string, ok bool) {
	h := c.GetHeader("Authorization")
	if !strings.HasPrefix(h, bearerPrefix) {
		return "", false
	}
	token, _, _ = strings.Cut(strings.TrimPrefix(h, bearerPrefix), " ")
	return token, true
}

// AdminTokenAuth returns a Gin middleware that validates the admin token
// from the Authorization header. tokenHash, a bcrypt hash, is checked when
// set; otherwise the token is compared with plainToken.
func AdminTokenAuth(plainToken, tokenHash string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if plainToken == "" && tokenHash == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error": "admin authentication not configured",
			})
			return
		}

		token, ok := extractBearerToken(c)
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing or malformed Authorization header (expected: Bearer <admin-token>)",
			})
			return
		}

		if !adminTokenMatches(token, plainToken, tokenHash) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid admin token",
			})
			return
		}

		c.Next()
	}
}

func adminTokenMatches(token, plain, hash string) bool {
	if hash != "" {
		return bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(plain)) == 1
}
