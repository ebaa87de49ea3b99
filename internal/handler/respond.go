package handler

import (
	"errors"
	"net/http"

	"spacechat/internal/transport/httpdto"
	chat_errors "spacechat/pkg/errors"

	"github.com/gin-gonic/gin"
)

// respondError maps the sentinel error taxonomy onto HTTP statuses.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "INTERNAL_ERROR"

	switch {
	case errors.Is(err, chat_errors.ErrUnauthorized):
		status, code = http.StatusUnauthorized, "UNAUTHORIZED"
	case errors.Is(err, chat_errors.ErrForbidden):
		status, code = http.StatusForbidden, "FORBIDDEN"
	case errors.Is(err, chat_errors.ErrNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, chat_errors.ErrConflict), errors.Is(err, chat_errors.ErrAlreadyExists):
		status, code = http.StatusConflict, "CONFLICT"
	case errors.Is(err, chat_errors.ErrInvalidInput), errors.Is(err, chat_errors.ErrInvalidStatus):
		status, code = http.StatusBadRequest, "INVALID_REQUEST"
	case errors.Is(err, chat_errors.ErrRateLimited):
		status, code = http.StatusTooManyRequests, "RATE_LIMITED"
	case errors.Is(err, chat_errors.ErrEditWindow):
		status, code = http.StatusUnprocessableEntity, "EDIT_WINDOW_CLOSED"
	}

	c.JSON(status, httpdto.NewErrorResponse(err.Error(), code))
}
