package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rongwang/medchain-server/internal/ledger"
	"github.com/rongwang/medchain-server/internal/models"
	"github.com/rongwang/medchain-server/internal/repository"
	"github.com/rongwang/medchain-server/internal/service"
)

// errorStatus maps a service error to an HTTP status and error code
func errorStatus(err error) (int, string) {
	var storageErr *repository.StorageError
	switch {
	case errors.Is(err, service.ErrDuplicateEmail):
		return http.StatusConflict, "DUPLICATE_EMAIL"
	case errors.Is(err, service.ErrDuplicateGrant):
		return http.StatusConflict, "DUPLICATE_GRANT"
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusBadRequest, "INVALID_CREDENTIALS"
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest, "INVALID_INPUT"
	case errors.Is(err, service.ErrAuthenticationFailed):
		return http.StatusUnauthorized, "AUTHENTICATION_FAILED"
	case errors.Is(err, service.ErrNotAuthorized):
		return http.StatusForbidden, "NOT_AUTHORIZED"
	case errors.Is(err, service.ErrNoAccess):
		return http.StatusForbidden, "NO_ACCESS"
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, ledger.ErrChainGap):
		return http.StatusInternalServerError, "CHAIN_GAP"
	case errors.Is(err, ledger.ErrConcurrentAppend):
		return http.StatusConflict, "CONCURRENT_APPEND"
	case errors.As(err, &storageErr):
		return http.StatusInternalServerError, "STORAGE_ERROR"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

func (h *Handler) respondError(c *gin.Context, err error) {
	status, code := errorStatus(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		h.log.Error(err, "%s %s failed", c.Request.Method, c.FullPath())
		message = "Internal server error"
	}
	c.JSON(status, models.ErrorResponse{
		Status:  "error",
		Code:    code,
		Message: message,
	})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, models.ErrorResponse{
		Status:  "error",
		Code:    "INVALID_REQUEST",
		Message: err.Error(),
	})
}
