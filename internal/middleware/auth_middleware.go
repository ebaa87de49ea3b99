package middleware

import (
	"context"
	"net/http"
	"strings"

	"spacechat/internal/auth"
	"spacechat/internal/transport/httpdto"
	"spacechat/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type userIDKey struct{}

func AuthMiddleware(verifier *auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := verifier.Verify(extractBearer(c))
		if err != nil {
			c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
			c.Abort()
			return
		}

		ctx := context.WithValue(c.Request.Context(), userIDKey{}, userID)
		ctx = context.WithValue(ctx, logger.UserIdKey, userID.String())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// UserID returns the authenticated user id placed by AuthMiddleware.
func UserID(c *gin.Context) (uuid.UUID, bool) {
	id, ok := c.Request.Context().Value(userIDKey{}).(uuid.UUID)
	return id, ok
}

func extractBearer(c *gin.Context) string {
	value := c.GetHeader("Authorization")
	parts := strings.SplitN(value, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
