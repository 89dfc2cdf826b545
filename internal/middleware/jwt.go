package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lab-booking-api/internal/models"
	appErrors "github.com/noah-isme/lab-booking-api/pkg/errors"
	"github.com/noah-isme/lab-booking-api/pkg/logger"
	"github.com/noah-isme/lab-booking-api/pkg/response"
)

// ContextUserKey is the gin context key storing the verified identity.
const ContextUserKey = "currentUser"

// TokenQueryParam carries the access token on websocket upgrades, where
// browsers cannot set an Authorization header.
const TokenQueryParam = "access_token"

// TokenValidator verifies an access token and returns the caller identity.
type TokenValidator interface {
	ValidateToken(token string) (*models.Identity, error)
}

// JWT protects routes by requiring a valid access token.
func JWT(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := bearerToken(c)
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		identity, err := validator.ValidateToken(token)
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		setIdentity(c, identity)
		c.Next()
	}
}

// QueryJWT accepts the token from the Authorization header or the access_token query parameter.
func QueryJWT(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimSpace(c.Query(TokenQueryParam))
		if token == "" {
			var err error
			if token, err = bearerToken(c); err != nil {
				response.Error(c, err)
				c.Abort()
				return
			}
		}

		identity, err := validator.ValidateToken(token)
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		setIdentity(c, identity)
		c.Next()
	}
}

// Identity returns the identity attached by JWT, if any.
func Identity(c *gin.Context) (*models.Identity, bool) {
	value, exists := c.Get(ContextUserKey)
	if !exists {
		return nil, false
	}
	identity, ok := value.(*models.Identity)
	return identity, ok && identity != nil
}

func bearerToken(c *gin.Context) (string, error) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return "", appErrors.ErrUnauthorized
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", appErrors.Clone(appErrors.ErrUnauthorized, "invalid authorization header")
	}
	return strings.TrimSpace(parts[1]), nil
}

func setIdentity(c *gin.Context, identity *models.Identity) {
	c.Set(ContextUserKey, identity)
	c.Set(logger.ActorKey, identity.UserID)
}
