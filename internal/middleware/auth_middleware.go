package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/spacebook/booking-flow/internal/models"
	"github.com/spacebook/booking-flow/internal/utils"
	"github.com/spacebook/booking-flow/pkg/jwt"
)

// UserContextKey is the key used to store the caller's session in Gin context
const UserContextKey = "session"

// AuthMiddleware validates the bearer token and stores a models.Session for the handlers.
// The raw token is kept on the session so it can be forwarded to the reservation backend.
func AuthMiddleware(jwtService *jwt.Service, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		entry := logger.WithFields(logrus.Fields{
			"path": c.Request.URL.Path,
			"ip":   c.ClientIP(),
		})

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			entry.Warn("Auth failed: missing authorization header")
			unauthorized(c, "unauthorized", "Authorization header is required", "MISSING_AUTH_HEADER")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" || strings.TrimSpace(parts[1]) == "" {
			entry.Warn("Auth failed: invalid authorization header format")
			unauthorized(c, "unauthorized", "Invalid authorization header format. Expected: Bearer <token>", "INVALID_AUTH_FORMAT")
			return
		}
		tokenString := strings.TrimSpace(parts[1])

		claims, err := jwtService.ValidateAccessToken(tokenString)
		if err != nil {
			if errors.Is(err, jwt.ErrTokenExpired) {
				entry.WithError(err).Info("Auth failed: token expired")
				unauthorized(c, "token_expired", "Access token has expired. Please sign in again.", "TOKEN_EXPIRED")
			} else {
				entry.WithError(err).Warn("Auth failed: invalid token")
				unauthorized(c, "invalid_token", "Invalid access token", "INVALID_TOKEN")
			}
			return
		}

		session := models.Session{
			UserID: claims.UserID,
			Email:  claims.Email,
			Roles:  claims.Roles,
			Token:  tokenString,
			IP:     utils.ClientIP(c),
			Device: utils.ParseUserAgent(c.Request.UserAgent()),
		}
		c.Set(UserContextKey, session)
		c.Set("user_id", session.UserID)

		c.Next()
	}
}

func unauthorized(c *gin.Context, errCode, message, code string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error":   errCode,
		"message": message,
		"code":    code,
	})
}

// GetUserContext retrieves the session from Gin context
func GetUserContext(c *gin.Context) (models.Session, bool) {
	value, exists := c.Get(UserContextKey)
	if !exists {
		return models.Session{}, false
	}

	session, ok := value.(models.Session)
	if !ok {
		return models.Session{}, false
	}

	return session, true
}

// MustGetUserContext retrieves the session or panics (use only after AuthMiddleware)
func MustGetUserContext(c *gin.Context) models.Session {
	session, exists := GetUserContext(c)
	if !exists {
		panic("session not found - ensure AuthMiddleware is applied")
	}
	return session
}
