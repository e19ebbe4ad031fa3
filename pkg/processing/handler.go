package processing

import (
	customlog "github.com/open-teleop/rov-controller/pkg/log"
)

// StoreResultHandler writes decoded results into a SnapshotStore
type StoreResultHandler struct {
	logger customlog.Logger
	store  *SnapshotStore
}

// NewStoreResultHandler creates a new store result handler
func NewStoreResultHandler(logger customlog.Logger, store *SnapshotStore) *StoreResultHandler {
	return &StoreResultHandler{
		logger: logger,
		store:  store,
	}
}

// HandleResult handles a processed message result
func (h *StoreResultHandler) HandleResult(result *ProcessResult) {
	if result.Error != nil {
		// Already logged by the pool worker
		return
	}

	if err := h.store.Update(result.Value, result.Timestamp); err != nil {
		h.logger.Debugf("Not storing message for topic '%s' (%s): %v", result.Topic, result.MessageType, err)
		return
	}

	h.logger.Debugf("Stored %s from topic '%s' (timestamp: %d)",
		result.MessageType, result.Topic, result.Timestamp)
}

// CreateHandlerFunc creates a ResultHandler function for the ProcessingPool
func (h *StoreResultHandler) CreateHandlerFunc() ResultHandler {
	return func(processResult *ProcessResult) {
		if processResult == nil {
			h.logger.Errorf("Received nil ProcessResult")
			return
		}
		h.HandleResult(processResult)
	}
}
