package multiplex

import (
	"context"

	"go.uber.org/zap"

	"github.com/blobmux/blobmux/internal/model"
)

// PutHandler observes each per-store write. A store only counts toward
// the write quorum once both its put and its handler call return, so a
// handler that persists write records can enforce read-after-write
// guarantees for downstream consumers.
type PutHandler interface {
	OnPut(ctx context.Context, storeID model.StoreID, multiplexID model.MultiplexID, opKey model.OperationKey, key string, blobSize uint64) error
}

// LoggingPutHandler records each confirmed per-store write to the
// service log.
type LoggingPutHandler struct {
	logger *zap.Logger
}

// NewLoggingPutHandler creates a handler that logs confirmed writes.
func NewLoggingPutHandler(logger *zap.Logger) *LoggingPutHandler {
	return &LoggingPutHandler{logger: logger}
}

func (h *LoggingPutHandler) OnPut(_ context.Context, storeID model.StoreID, multiplexID model.MultiplexID, opKey model.OperationKey, key string, blobSize uint64) error {
	h.logger.Info("blob written",
		zap.Stringer("store_id", storeID),
		zap.Stringer("multiplex_id", multiplexID),
		zap.String("operation_key", string(opKey)),
		zap.String("key", key),
		zap.Uint64("blob_size", blobSize),
	)
	return nil
}
