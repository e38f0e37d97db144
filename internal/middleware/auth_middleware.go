package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/ikkim/account-backend/internal/app/model"
	"github.com/ikkim/account-backend/internal/app/service"
	apperrors "github.com/ikkim/account-backend/internal/errors"
	"github.com/ikkim/account-backend/pkg/util"
)

// Context keys for user information
const (
	UserIDKey = "user_id"
	UserKey   = "user"
)

// UserResolver loads the current state of a user named by a session.
type UserResolver interface {
	Resolve(ctx context.Context, id uint) (*model.User, error)
}

type AuthMiddleware struct {
	issuer *util.SessionIssuer
	users  UserResolver
}

func NewAuthMiddleware(issuer *util.SessionIssuer, users UserResolver) *AuthMiddleware {
	return &AuthMiddleware{
		issuer: issuer,
		users:  users,
	}
}

// Authenticate requires a valid bearer token for an existing user.
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		log := GetLoggerFromContext(c)

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			log.Warn("Missing authorization header", map[string]interface{}{
				"path": c.Request.URL.Path,
			})
			apperrors.Unauthorized(c, "Authentication required")
			c.Abort()
			return
		}

		parts := strings.Fields(authHeader)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			log.Warn("Invalid authorization header format", map[string]interface{}{
				"path": c.Request.URL.Path,
			})
			apperrors.RespondWithError(c, http.StatusUnauthorized, apperrors.AuthTokenInvalid, "Authorization header must be 'Bearer <token>'")
			c.Abort()
			return
		}

		claims, err := m.issuer.Validate(parts[1])
		if err != nil {
			log.Warn("Token validation failed", map[string]interface{}{
				"path":  c.Request.URL.Path,
				"error": err.Error(),
			})

			if errors.Is(err, util.ErrExpiredToken) {
				apperrors.RespondWithError(c, http.StatusUnauthorized, apperrors.AuthTokenExpired, "Session has expired")
			} else {
				apperrors.RespondWithError(c, http.StatusUnauthorized, apperrors.AuthTokenInvalid, "Invalid session token")
			}
			c.Abort()
			return
		}

		// claims are a snapshot; trust only what the store says now
		user, err := m.users.Resolve(c.Request.Context(), claims.User.ID)
		if err != nil {
			if errors.Is(err, service.ErrNotFound) {
				log.Warn("Token refers to a user that no longer exists", map[string]interface{}{
					"user_id": claims.User.ID,
				})
				apperrors.RespondWithError(c, http.StatusUnauthorized, apperrors.AuthTokenInvalid, "Invalid session token")
			} else {
				log.Error("Failed to resolve session user", err, map[string]interface{}{
					"user_id": claims.User.ID,
				})
				apperrors.InternalError(c, "")
			}
			c.Abort()
			return
		}

		c.Set(UserIDKey, user.ID)
		c.Set(UserKey, user)

		log.Debug("User authenticated successfully", map[string]interface{}{
			"user_id": user.ID,
		})

		c.Next()
	}
}

// GetUserID extracts user ID from context
func GetUserID(c *gin.Context) (uint, bool) {
	userID, exists := c.Get(UserIDKey)
	if !exists {
		return 0, false
	}
	id, ok := userID.(uint)
	return id, ok
}

// GetCurrentUser extracts the authenticated user from context
func GetCurrentUser(c *gin.Context) (*model.User, bool) {
	user, exists := c.Get(UserKey)
	if !exists {
		return nil, false
	}
	u, ok := user.(*model.User)
	return u, ok
}
