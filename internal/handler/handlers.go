// Package handler provides HTTP request handlers for the blob service.
package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	apierrors "github.com/blobmux/blobmux/internal/errors"
	"github.com/blobmux/blobmux/internal/metrics"
	"github.com/blobmux/blobmux/internal/model"
	"github.com/blobmux/blobmux/internal/session"
	"github.com/blobmux/blobmux/internal/validation"
)

// BlobService is the multiplex surface the handlers drive.
type BlobService interface {
	Get(ctx context.Context, key string) (*model.BlobValue, error)
	PutWithBehaviour(ctx context.Context, key string, value model.BlobValue, behaviour model.PutBehaviour) (model.OverwriteStatus, error)
	IsPresent(ctx context.Context, key string) (model.Presence, error)
}

// Handlers contains all HTTP handlers and their dependencies.
type Handlers struct {
	blobs        BlobService
	scrubber     BlobService
	validator    *validation.Validator
	errorHandler *apierrors.Handler
	logger       *zap.Logger
	metrics      *metrics.Metrics
	maxBlobSize  int64
}

// NewHandlers creates a new Handlers instance. scrubber may be nil when
// scrubbing reads are disabled.
func NewHandlers(
	blobs BlobService,
	scrubber BlobService,
	validator *validation.Validator,
	errorHandler *apierrors.Handler,
	logger *zap.Logger,
	m *metrics.Metrics,
	maxBlobSize int64,
) *Handlers {
	if maxBlobSize <= 0 {
		maxBlobSize = validation.MaxBlobSize
	}
	return &Handlers{
		blobs:        blobs,
		scrubber:     scrubber,
		validator:    validator,
		errorHandler: errorHandler,
		logger:       logger,
		metrics:      m,
		maxBlobSize:  maxBlobSize,
	}
}

// PutResponse is the body returned by a successful put.
type PutResponse struct {
	Status          string `json:"status"`
	Key             string `json:"key"`
	Size            uint64 `json:"size"`
	OverwriteStatus string `json:"overwrite_status"`
	RequestID       string `json:"request_id,omitempty"`
}

// PutBlob handles PUT /v1/blob/{key} requests.
func (h *Handlers) PutBlob(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")
	key := mux.Vars(r)["key"]
	start := time.Now()

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBlobSize))
	if err != nil {
		h.errorHandler.WriteErrorResponse(w, http.StatusRequestEntityTooLarge,
			apierrors.ErrorCodeBlobTooLarge, "blob exceeds maximum size", requestID)
		return
	}

	if err := h.validator.ValidatePut(key, data); err != nil {
		h.errorHandler.WriteValidationError(w, err.Error(), requestID)
		return
	}

	behaviour := model.PutIfAbsent
	if r.URL.Query().Get("overwrite") == "true" {
		behaviour = model.PutOverwrite
	}

	ctx := session.NewContext(r.Context(), sessionFromRequest(r))
	status, err := h.blobs.PutWithBehaviour(ctx, key, model.NewBlobValue(data), behaviour)
	h.observe("put", start, err)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	if h.metrics != nil {
		h.metrics.PutBytes.WithLabelValues("ok").Observe(float64(len(data)))
	}

	overwriteStatus := "not_checked"
	if status == model.OverwritePrevented {
		overwriteStatus = "prevented"
	}
	h.writeJSONResponse(w, http.StatusCreated, PutResponse{
		Status:          "ok",
		Key:             key,
		Size:            uint64(len(data)),
		OverwriteStatus: overwriteStatus,
		RequestID:       requestID,
	})
}

// GetBlob handles GET /v1/blob/{key} requests.
func (h *Handlers) GetBlob(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")
	key := mux.Vars(r)["key"]
	start := time.Now()

	if err := h.validator.ValidateKey(key); err != nil {
		h.errorHandler.WriteValidationError(w, err.Error(), requestID)
		return
	}

	ctx := session.NewContext(r.Context(), sessionFromRequest(r))
	value, err := h.blobs.Get(ctx, key)
	h.observe("get", start, err)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	if value == nil {
		h.errorHandler.WriteNotFound(w, requestID)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(value.Data)))
	w.Header().Set("X-Blob-Ctime", value.Ctime.UTC().Format(time.RFC3339Nano))
	w.WriteHeader(http.StatusOK)
	w.Write(value.Data)
}

// HeadBlob handles HEAD /v1/blob/{key} requests. The presence verdict
// travels in the X-Blob-Presence header since HEAD has no body.
func (h *Handlers) HeadBlob(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	start := time.Now()

	if err := h.validator.ValidateKey(key); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	ctx := session.NewContext(r.Context(), sessionFromRequest(r))
	presence, err := h.blobs.IsPresent(ctx, key)
	h.observe("is_present", start, err)
	if err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("X-Blob-Presence", presence.String())
	if presence.Present() {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.WriteHeader(http.StatusNotFound)
}

// ScrubResponse is the body returned by a scrub read.
type ScrubResponse struct {
	Status    string `json:"status"`
	Key       string `json:"key"`
	Found     bool   `json:"found"`
	Size      uint64 `json:"size,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// ScrubBlob handles POST /v1/scrub/{key} requests: a full fan-out read
// that repairs or reports stores missing the blob.
func (h *Handlers) ScrubBlob(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")
	key := mux.Vars(r)["key"]
	start := time.Now()

	if h.scrubber == nil {
		h.errorHandler.WriteErrorResponse(w, http.StatusNotImplemented,
			apierrors.ErrorCodeUnknown, "scrubbing is disabled", requestID)
		return
	}

	if err := h.validator.ValidateKey(key); err != nil {
		h.errorHandler.WriteValidationError(w, err.Error(), requestID)
		return
	}

	value, err := h.scrubber.Get(r.Context(), key)
	h.observe("scrub", start, err)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	resp := ScrubResponse{Status: "ok", Key: key, Found: value != nil, RequestID: requestID}
	if value != nil {
		resp.Size = value.Size()
	}
	h.writeJSONResponse(w, http.StatusOK, resp)
}

// sessionFromRequest derives the execution session from query
// parameters.
func sessionFromRequest(r *http.Request) session.Session {
	s := session.Session{
		Class:             session.ClassForeground,
		BackgroundTimeout: session.DefaultBackgroundTimeout,
	}

	switch r.URL.Query().Get("session") {
	case "background":
		s.Class = session.ClassBackground
	case "background_unless_too_slow":
		s.Class = session.ClassBackgroundUnlessTooSlow
	}
	if r.URL.Query().Get("queue_lookup") == "true" {
		s.QueueLookupOnGet = true
		s.QueueLookupOnIsPresent = true
	}
	return s
}

func (h *Handlers) observe(operation string, start time.Time, err error) {
	if h.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
		h.metrics.RequestErrors.WithLabelValues(operation, "store").Inc()
	}
	h.metrics.RequestsTotal.WithLabelValues(operation, outcome).Inc()
	h.metrics.RequestDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func (h *Handlers) writeJSONResponse(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
	}
}
