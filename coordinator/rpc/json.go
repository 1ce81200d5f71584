package rpc

import (
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"
	"github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/db"
	"github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/lifecycle"
	"github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/queue"
	"github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/statemachine"
	"github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/upload"
	"github.com/privacy-scaling-explorations/p0tion-sub001/coordinator/verify"
)

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Error("Could not encode response")
	}
}

func writeStatus(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, &ErrorResponse{Code: code, Message: message})
}

func decodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Wrap(err, "could not decode request body")
	}
	return nil
}

// writeError maps domain errors onto HTTP status codes per the error
// taxonomy: not-found rows are 404, rejected transitions and malformed
// requests are 400, authorization failures are 403, infrastructure failures
// are 5xx.
func writeError(w http.ResponseWriter, err error) {
	var code int
	switch {
	case errors.Is(err, db.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, statemachine.ErrIllegalTransition),
		errors.Is(err, upload.ErrWrongObjectKey),
		errors.Is(err, upload.ErrNoUploadSession),
		errors.Is(err, lifecycle.ErrNotClosed),
		errors.Is(err, lifecycle.ErrMissingFinalContribution),
		errors.Is(err, verify.ErrNoInProgressContribution):
		code = http.StatusBadRequest
	case errors.Is(err, lifecycle.ErrNotCoordinator),
		errors.Is(err, queue.ErrNotCurrentContributor):
		code = http.StatusForbidden
	case errors.Is(err, verify.ErrWorkerUnavailable):
		code = http.StatusServiceUnavailable
	default:
		code = http.StatusInternalServerError
	}
	writeJSON(w, code, &ErrorResponse{Code: code, Message: err.Error()})
}
