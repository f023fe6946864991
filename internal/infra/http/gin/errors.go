package ginserver

import (
	"errors"
	"log/slog"
	"net/http"

	gin "github.com/gin-gonic/gin"

	"lettz/internal/app/commands"
	"lettz/internal/app/conversation"
	"lettz/internal/app/docstore"
	"lettz/internal/app/listings"
	"lettz/internal/app/middleware"
	"lettz/internal/app/notifications"
	"lettz/internal/app/queries"
	domainconversation "lettz/internal/domain/conversation"
	domainlistings "lettz/internal/domain/listings"
	domainuser "lettz/internal/domain/user"
)

func statusFor(err error) int {
	switch {
	case errors.Is(err, middleware.ErrUnauthenticated),
		errors.Is(err, conversation.ErrNotAuthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, domainlistings.ErrNotOwner),
		errors.Is(err, docstore.ErrNotParticipant),
		errors.Is(err, domainconversation.ErrNotParticipant):
		return http.StatusForbidden
	case isValidationError(err):
		return http.StatusBadRequest
	case errors.Is(err, conversation.ErrSelfContact):
		return http.StatusConflict
	case docstore.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, listings.ErrDeletionFailed),
		errors.Is(err, conversation.ErrContactFailed),
		errors.Is(err, conversation.ErrSendFailed),
		errors.Is(err, notifications.ErrWriteFailed),
		errors.Is(err, docstore.ErrBatch):
		return http.StatusServiceUnavailable
	case errors.Is(err, commands.ErrHandlerNotFound),
		errors.Is(err, queries.ErrHandlerNotFound):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, domainlistings.ErrIDRequired),
		errors.Is(err, domainlistings.ErrOwnerRequired),
		errors.Is(err, domainconversation.ErrEmptyMessage),
		errors.Is(err, domainconversation.ErrIDRequired),
		errors.Is(err, domainuser.ErrUnknownCategory),
		errors.Is(err, domainuser.ErrIDRequired):
		return true
	}
	return false
}

// publicMessage hides backend causes behind the failure the user can act on.
func publicMessage(status int, err error) string {
	switch {
	case errors.Is(err, listings.ErrDeletionFailed):
		return "listing could not be deleted, try again"
	case errors.Is(err, conversation.ErrContactFailed):
		return "message could not be sent, try again"
	case status >= http.StatusInternalServerError:
		return http.StatusText(status)
	}
	return err.Error()
}

func respondError(c *gin.Context, logger *slog.Logger, msg string, err error) {
	status := statusFor(err)
	_ = c.Error(err)
	if logger != nil {
		fields := []any{"status", status, "error", err, "path", c.FullPath()}
		if uid := currentUID(c); uid != "" {
			fields = append(fields, "uid", uid)
		}
		if status >= http.StatusInternalServerError {
			logger.Error(msg, fields...)
		} else {
			logger.Warn(msg, fields...)
		}
	}
	c.JSON(status, gin.H{"error": publicMessage(status, err)})
}
