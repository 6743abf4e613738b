package api

import (
	"encoding/json"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/dselans/fivehundred/services/publisher"
	"github.com/dselans/fivehundred/validate"
)

const maxLookupBodyBytes = 64 * 1024

// lookupsHandler parses, validates and forwards a lookup request to the
// processor via the event bus.
func (a *API) lookupsHandler(rw http.ResponseWriter, r *http.Request) {
	logger := a.log.With(zap.String("method", "lookupsHandler"))

	if a.deps.PublisherService == nil {
		WriteJSON(rw, ResponseJSON{
			Status:  http.StatusServiceUnavailable,
			Message: "messaging is not configured",
		}, http.StatusServiceUnavailable)

		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxLookupBodyBytes))
	if err != nil {
		WriteJSON(rw, ResponseJSON{
			Status:  http.StatusInternalServerError,
			Message: "failed to read request body: " + err.Error(),
		}, http.StatusInternalServerError)

		return
	}
	defer r.Body.Close()

	req := &publisher.LookupRequest{}

	if err := json.Unmarshal(data, req); err != nil {
		WriteJSON(rw, ResponseJSON{
			Status:  http.StatusBadRequest,
			Message: "failed to parse request into lookup: " + err.Error(),
		}, http.StatusBadRequest)

		return
	}

	if err := validate.LookupRequest(req); err != nil {
		WriteJSON(rw, ResponseJSON{
			Status:  http.StatusBadRequest,
			Message: "invalid request: " + err.Error(),
		}, http.StatusBadRequest)

		return
	}

	if err := a.deps.PublisherService.PublishLookupRequest(r.Context(), req); err != nil {
		logger.Error("failed to publish lookup request", zap.Error(err))

		WriteJSON(rw, ResponseJSON{
			Status:  http.StatusInternalServerError,
			Message: "failed to emit lookup request",
		}, http.StatusInternalServerError)

		return
	}

	WriteJSON(rw, ResponseJSON{
		Status:  http.StatusAccepted,
		Message: "lookup request queued",
	}, http.StatusAccepted)
}
