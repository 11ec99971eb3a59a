package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	domainerrors "github.com/helgykoin/hkn_ledger/internal/domain/errors"
	"github.com/helgykoin/hkn_ledger/pkg/logger"
)

// Error codes produced by the adapter itself
const (
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeInvalidRequest     = "INVALID_REQUEST"
	ErrCodeValidationError    = "VALIDATION_ERROR"
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)

const (
	MsgInvalidRequest     = "Invalid request payload"
	MsgInternalError      = "Internal server error"
	MsgServiceUnavailable = "Service temporarily unavailable"
)

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

var statusByCode = map[string]int{
	domainerrors.CodeInvalidAmount:      http.StatusBadRequest,
	ErrCodeValidationError:              http.StatusBadRequest,
	domainerrors.CodeUnknownBooster:     http.StatusBadRequest,
	domainerrors.CodePrivilegeDenied:    http.StatusForbidden,
	domainerrors.CodeWalletNotFound:     http.StatusNotFound,
	domainerrors.CodeNotFound:           http.StatusNotFound,
	domainerrors.CodeAlreadyWithdrawn:   http.StatusConflict,
	domainerrors.CodeDuplicateRequest:   http.StatusConflict,
	domainerrors.CodeInsufficientFunds:  http.StatusUnprocessableEntity,
	domainerrors.CodePoolExhausted:      http.StatusServiceUnavailable,
	domainerrors.CodeStoreError:         http.StatusServiceUnavailable,
	domainerrors.CodeMaxRetriesExceeded: http.StatusServiceUnavailable,
}

// StatusFor maps a service error to its HTTP status and response code.
func StatusFor(err error) (int, string) {
	code := domainerrors.GetErrorCode(err)
	if status, ok := statusByCode[code]; ok {
		return status, code
	}
	if errors.Is(err, domainerrors.ErrInvalidInput) {
		return http.StatusBadRequest, ErrCodeValidationError
	}
	return http.StatusInternalServerError, ErrCodeInternalError
}

// respondError writes err as an ErrorResponse. Server-side failures are
// logged and their message replaced.
func respondError(c *gin.Context, log *logger.Logger, err error) {
	status, code := StatusFor(err)
	resp := ErrorResponse{
		Code:      code,
		Message:   err.Error(),
		Details:   domainerrors.GetErrorDetails(err),
		RequestID: c.GetString("request_id"),
	}

	switch {
	case status == http.StatusInternalServerError:
		log.Error("Request failed", "error", err, "request_id", resp.RequestID)
		resp.Message = MsgInternalError
		resp.Details = nil
	case status == http.StatusServiceUnavailable:
		log.Warn("Storage unavailable", "error", err, "code", code, "request_id", resp.RequestID)
		resp.Message = MsgServiceUnavailable
		resp.Details = nil
	}

	c.JSON(status, resp)
}

// SendBadRequest sends a 400 Bad Request error
func SendBadRequest(c *gin.Context, code, message string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Code:      code,
		Message:   message,
		RequestID: c.GetString("request_id"),
	})
}

// SendSuccess sends a 200 OK response with data
func SendSuccess(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, data)
}
