// Package errors provides error handling and HTTP status code mapping
// for the blob front end.
package errors

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/blobmux/blobmux/internal/multiplex"
)

// ErrorCode represents application-specific error codes.
type ErrorCode string

const (
	ErrorCodeUnknown       ErrorCode = "UNKNOWN"
	ErrorCodeInvalidKey    ErrorCode = "INVALID_KEY"
	ErrorCodeInternalError ErrorCode = "INTERNAL_ERROR"
	ErrorCodeRateLimited   ErrorCode = "RATE_LIMITED"

	ErrorCodeBlobNotFound     ErrorCode = "BLOB_NOT_FOUND"
	ErrorCodeBlobTooLarge     ErrorCode = "BLOB_TOO_LARGE"
	ErrorCodeChecksumMismatch ErrorCode = "CHECKSUM_MISMATCH"
	ErrorCodeQuorumNotReached ErrorCode = "QUORUM_NOT_REACHED"
)

// ErrorResponse represents the standard error response format.
type ErrorResponse struct {
	Status    string    `json:"status"`
	ErrorCode ErrorCode `json:"error_code"`
	Message   string    `json:"message"`
	RequestID string    `json:"request_id,omitempty"`
}

// Handler provides error handling functionality.
type Handler struct {
	logger *zap.Logger
}

// NewHandler creates a new error handler.
func NewHandler(logger *zap.Logger) *Handler {
	return &Handler{
		logger: logger,
	}
}

// HandleError maps an error to an HTTP response.
func (h *Handler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	requestID := r.Header.Get("X-Request-ID")

	var putErr *multiplex.PutQuorumError
	var getErr *multiplex.GetQuorumError
	switch {
	case errors.As(err, &putErr), errors.As(err, &getErr):
		h.WriteErrorResponse(w, http.StatusServiceUnavailable, ErrorCodeQuorumNotReached, err.Error(), requestID)
	default:
		h.WriteErrorResponse(w, http.StatusInternalServerError, ErrorCodeInternalError, err.Error(), requestID)
	}
}

// WriteErrorResponse writes a formatted error response to the HTTP response writer.
func (h *Handler) WriteErrorResponse(w http.ResponseWriter, statusCode int, errorCode ErrorCode, message string, requestID string) {
	h.logger.Warn("HTTP error response",
		zap.Int("status_code", statusCode),
		zap.String("error_code", string(errorCode)),
		zap.String("message", message),
		zap.String("request_id", requestID),
	)

	resp := ErrorResponse{
		Status:    "error",
		ErrorCode: errorCode,
		Message:   message,
		RequestID: requestID,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(resp)
}

// WriteValidationError writes a validation error response.
func (h *Handler) WriteValidationError(w http.ResponseWriter, message string, requestID string) {
	h.WriteErrorResponse(w, http.StatusBadRequest, ErrorCodeInvalidKey, message, requestID)
}

// WriteNotFound writes a blob not found response.
func (h *Handler) WriteNotFound(w http.ResponseWriter, requestID string) {
	h.WriteErrorResponse(w, http.StatusNotFound, ErrorCodeBlobNotFound, "blob not found", requestID)
}
